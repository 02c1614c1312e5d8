package session

//go:generate go run go.uber.org/mock/mockgen -source=transport.go -destination=../mocks/mock_transport.go -package=mocks

// Transport is the byte-stream side of a connection. A session owns its
// transport exclusively.
type Transport interface {
	Write(p []byte) (int, error)
	Close() error
	RemoteAddr() string
}
