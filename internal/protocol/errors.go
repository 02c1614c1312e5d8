package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateKind = errors.New("protocol: duplicate packet kind")
	ErrUnknownKind   = errors.New("protocol: unknown packet kind")
	ErrInvalidKind   = errors.New("protocol: invalid packet kind")
	ErrNilVerifier   = errors.New("protocol: nil verifier")
	ErrMissingType   = errors.New("protocol: missing type field")
)

// DecodeError reports untrusted input that could not become a Packet.
type DecodeError struct {
	Kind string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("protocol: decode: %v", e.Err)
	}
	return fmt.Sprintf("protocol: decode kind=%s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
