package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/relaychat/internal/events"
	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/protocol/frame"
)

const (
	EventConnectionMade = "Connection.Made"
	EventConnectionLost = "Connection.Lost"
	RecvNamespace       = "Recv"
	SendNamespace       = "Send"
)

var (
	ErrSendAfterClose   = errors.New("session: send after close")
	ErrNameAlreadySet   = errors.New("session: name already set")
	ErrMissingBus       = errors.New("session: bus is required")
	ErrMissingCodec     = errors.New("session: codec is required")
	ErrMissingTransport = errors.New("session: transport is required")
)

// Options carries the shared collaborators of every session.
type Options struct {
	Bus    *events.Bus
	Codec  *protocol.Codec
	Limits frame.Limits
}

// Inbound is the payload of Recv.<Kind> events.
type Inbound struct {
	Session *Session
	Packet  protocol.Packet
}

func (in Inbound) String() string {
	return fmt.Sprintf("kind=%s session=%s", in.Packet.Kind(), in.Session.ID())
}

// Outbound is the payload of Send.<Kind> events.
type Outbound struct {
	Session *Session
	Kind    string
	Record  []byte
}

func (out Outbound) String() string {
	return fmt.Sprintf("kind=%s session=%s bytes=%d", out.Kind, out.Session.ID(), len(out.Record))
}

// Session is one client connection. Safe for concurrent use: reads are
// driven by a single reader while any goroutine may Send.
type Session struct {
	id        string
	transport Transport
	bus       *events.Bus
	codec     *protocol.Codec
	limits    frame.Limits

	readMu sync.Mutex
	acc    *frame.Accumulator

	writeMu sync.Mutex

	nameMu sync.RWMutex
	name   string

	state atomic.Int32
	join  atomic.Int32

	closeOnce sync.Once
	closeErr  error
	lostOnce  sync.Once
}

// New builds a session in the Connecting state with a fresh identifier.
func New(t Transport, opts Options) (*Session, error) {
	if t == nil {
		return nil, ErrMissingTransport
	}
	if opts.Bus == nil {
		return nil, ErrMissingBus
	}
	if opts.Codec == nil {
		return nil, ErrMissingCodec
	}
	limits := opts.Limits.WithDefaults()
	return &Session{
		id:        uuid.NewString(),
		transport: t,
		bus:       opts.Bus,
		codec:     opts.Codec,
		limits:    limits,
		acc:       frame.NewAccumulator(limits),
	}, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) RemoteAddr() string {
	return s.transport.RemoteAddr()
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) JoinState() JoinState {
	return JoinState(s.join.Load())
}

// SetJoinState records an admission transition.
func (s *Session) SetJoinState(js JoinState) {
	s.join.Store(int32(js))
}

// Name returns the display name, empty until admission sets it.
func (s *Session) Name() string {
	s.nameMu.RLock()
	defer s.nameMu.RUnlock()
	return s.name
}

// SetName assigns the display name once.
func (s *Session) SetName(name string) error {
	s.nameMu.Lock()
	defer s.nameMu.Unlock()
	if s.name != "" {
		return fmt.Errorf("%w: id=%s name=%s", ErrNameAlreadySet, s.id, s.name)
	}
	s.name = name
	return nil
}

func (s *Session) String() string {
	if name := s.Name(); name != "" {
		return fmt.Sprintf("session id=%s name=%s", s.id, name)
	}
	return fmt.Sprintf("session id=%s", s.id)
}

// OnConnect opens the session and emits Connection.Made.
func (s *Session) OnConnect() {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return
	}
	s.join.CompareAndSwap(int32(JoinConnecting), int32(JoinAwaitingUsername))
	log.Debug().Str("id", s.id).Str("remote", s.RemoteAddr()).Msg("session.OnConnect")
	s.emit(EventConnectionMade, s)
}

// OnBytes feeds a chunk read from the transport. Every complete frame is
// decoded and emitted as Recv.<Kind>; undecodable frames are dropped. An
// oversized frame closes the transport and its error is returned.
func (s *Session) OnBytes(chunk []byte) error {
	if s.State() == StateClosed {
		return nil
	}
	s.readMu.Lock()
	records, err := s.acc.Feed(chunk)
	s.readMu.Unlock()

	for _, record := range records {
		if s.State() == StateClosed {
			break
		}
		s.dispatch(record)
	}
	if err != nil {
		log.Warn().Err(err).Str("id", s.id).Str("remote", s.RemoteAddr()).Msg("session.OnBytes closing connection")
		_ = s.Close()
		return err
	}
	return nil
}

func (s *Session) dispatch(record []byte) {
	p, err := s.codec.Decode(record)
	if err != nil {
		log.Debug().Err(err).Str("id", s.id).Msg("session.OnBytes dropped frame")
		return
	}
	s.emit(events.Name(RecvNamespace, p.Kind()), Inbound{Session: s, Packet: p})
}

// OnClose marks the session closed and emits Connection.Lost exactly once.
func (s *Session) OnClose() {
	s.state.Store(int32(StateClosed))
	s.lostOnce.Do(func() {
		log.Debug().Str("id", s.id).Str("name", s.Name()).Msg("session.OnClose")
		s.emit(EventConnectionLost, s)
	})
}

// Send encodes payload, writes it as one frame and emits Send.<Kind>.
// Accepted payloads are the ones protocol.Codec.Pack understands.
func (s *Session) Send(payload any) error {
	if s.State() == StateClosed {
		return ErrSendAfterClose
	}
	enc, err := s.codec.Pack(payload)
	if err != nil {
		return err
	}
	return s.SendEncoded(enc)
}

// SendEncoded writes a record a codec has already verified. The zero
// Encoded is refused.
func (s *Session) SendEncoded(enc protocol.Encoded) error {
	if enc.IsZero() {
		return protocol.ErrUnverifiedRecord
	}
	record := enc.Record()
	wire, err := frame.Encode(record, s.limits)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	if s.State() == StateClosed {
		s.writeMu.Unlock()
		return ErrSendAfterClose
	}
	_, err = s.transport.Write(wire)
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("session: write id=%s kind=%s: %w", s.id, enc.Kind(), err)
	}
	s.emit(events.Name(SendNamespace, enc.Kind()), Outbound{Session: s, Kind: enc.Kind(), Record: record})
	return nil
}

// Close stops further sends and closes the transport. The read loop then
// observes the closed transport and calls OnClose. Safe to call repeatedly.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.state.Store(int32(StateClosed))
		s.writeMu.Unlock()
		s.closeErr = s.transport.Close()
	})
	return s.closeErr
}

func (s *Session) emit(name string, payload any) {
	if err := s.bus.Emit(name, payload); err != nil {
		log.Warn().Err(err).Str("id", s.id).Str("event", name).Msg("session.emit handler errors")
	}
}
