package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/danmuck/relaychat/internal/events"
	"github.com/danmuck/relaychat/internal/mocks"
	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/protocol/frame"
	"github.com/danmuck/relaychat/internal/protocol/schema"
	"github.com/danmuck/relaychat/internal/testutil/testlog"
)

type memTransport struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	writes int
	closed int
}

func (m *memTransport) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	return m.buf.Write(p)
}

func (m *memTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *memTransport) RemoteAddr() string { return "mem" }

func (m *memTransport) frames(t *testing.T) [][]byte {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	r := bytes.NewReader(m.buf.Bytes())
	var out [][]byte
	for r.Len() > 0 {
		rec, err := frame.ReadFrame(r, frame.DefaultLimits())
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func newTestSession(t *testing.T, tr Transport, limits frame.Limits) (*Session, *events.Bus, *protocol.Codec) {
	t.Helper()
	bus := events.NewBus()
	codec := protocol.NewCodec()
	s, err := New(tr, Options{Bus: bus, Codec: codec, Limits: limits})
	require.NoError(t, err)
	return s, bus, codec
}

func wire(t *testing.T, codec *protocol.Codec, p protocol.Packet) []byte {
	t.Helper()
	rec, err := codec.EncodePacket(p)
	require.NoError(t, err)
	out, err := frame.Encode(rec, frame.DefaultLimits())
	require.NoError(t, err)
	return out
}

func TestNewRequiresCollaborators(t *testing.T) {
	testlog.Start(t)
	_, err := New(nil, Options{})
	assert.ErrorIs(t, err, ErrMissingTransport)
	_, err = New(&memTransport{}, Options{Codec: protocol.NewCodec()})
	assert.ErrorIs(t, err, ErrMissingBus)
	_, err = New(&memTransport{}, Options{Bus: events.NewBus()})
	assert.ErrorIs(t, err, ErrMissingCodec)
}

func TestSessionIDsAreUnique(t *testing.T) {
	testlog.Start(t)
	seen := make(map[string]bool)
	for range 100 {
		s, _, _ := newTestSession(t, &memTransport{}, frame.Limits{})
		require.False(t, seen[s.ID()])
		seen[s.ID()] = true
	}
}

func TestOnConnectOpensAndEmitsOnce(t *testing.T) {
	testlog.Start(t)
	s, bus, _ := newTestSession(t, &memTransport{}, frame.Limits{})
	require.Equal(t, StateConnecting, s.State())
	require.Equal(t, JoinConnecting, s.JoinState())

	var made []*Session
	bus.Subscribe(EventConnectionMade, func(ev events.Event) error {
		made = append(made, ev.Payload.(*Session))
		return nil
	})
	s.OnConnect()
	s.OnConnect()

	assert.Equal(t, StateOpen, s.State())
	assert.Equal(t, JoinAwaitingUsername, s.JoinState())
	require.Len(t, made, 1)
	assert.Same(t, s, made[0])
}

func TestOnBytesReassemblesSplitFrames(t *testing.T) {
	testlog.Start(t)
	s, bus, codec := newTestSession(t, &memTransport{}, frame.Limits{})
	s.OnConnect()

	var got []Inbound
	bus.Subscribe("Recv.*", func(ev events.Event) error {
		got = append(got, ev.Payload.(Inbound))
		return nil
	})

	stream := append(wire(t, codec, protocol.NewMessage("one")), wire(t, codec, protocol.NewMessage("two"))...)
	for i := range stream {
		require.NoError(t, s.OnBytes(stream[i:i+1]))
	}
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Packet.String(protocol.FieldContent))
	assert.Equal(t, "two", got[1].Packet.String(protocol.FieldContent))
	assert.Same(t, s, got[0].Session)

	got = nil
	require.NoError(t, s.OnBytes(stream))
	assert.Len(t, got, 2)
}

func TestOnBytesDropsUndecodableFrames(t *testing.T) {
	testlog.Start(t)
	tr := &memTransport{}
	s, bus, codec := newTestSession(t, tr, frame.Limits{})
	s.OnConnect()

	var kinds []string
	bus.Subscribe("Recv.*", func(ev events.Event) error {
		kinds = append(kinds, ev.Name)
		return nil
	})

	var stream []byte
	for _, junk := range [][]byte{[]byte("not json"), []byte(`{"type":"Nope"}`), []byte(`{"type":"Message","content":""}`)} {
		f, err := frame.Encode(junk, frame.DefaultLimits())
		require.NoError(t, err)
		stream = append(stream, f...)
	}
	stream = append(stream, 0, 0, 0, 0)
	stream = append(stream, wire(t, codec, protocol.NewKick("later"))...)

	require.NoError(t, s.OnBytes(stream))
	assert.Equal(t, []string{"Recv.Kick"}, kinds)
	assert.Equal(t, StateOpen, s.State())
	assert.Zero(t, tr.closed)
}

func TestOnBytesOversizeClosesTransport(t *testing.T) {
	testlog.Start(t)
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	tr.EXPECT().RemoteAddr().Return("mock").AnyTimes()
	tr.EXPECT().Close().Return(nil).Times(1)

	s, _, _ := newTestSession(t, tr, frame.Limits{MaxFrameBytes: 16})
	s.OnConnect()

	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, 1024)
	err := s.OnBytes(prefix)
	require.ErrorIs(t, err, frame.ErrFrameTooLarge)
	assert.Equal(t, StateClosed, s.State())

	require.NoError(t, s.OnBytes([]byte("ignored")))
}

func TestSendWritesOneFrameAndEmits(t *testing.T) {
	testlog.Start(t)
	tr := &memTransport{}
	s, bus, codec := newTestSession(t, tr, frame.Limits{})
	s.OnConnect()

	var sent []Outbound
	bus.Subscribe("Send.*", func(ev events.Event) error {
		sent = append(sent, ev.Payload.(Outbound))
		return nil
	})

	require.NoError(t, s.Send(protocol.NewMessage("hi")))
	require.NoError(t, s.Send(map[string]any{"content": "map"}))
	require.NoError(t, s.Send("plain"))
	kick, err := codec.EncodePacket(protocol.NewKick("bye"))
	require.NoError(t, err)
	require.NoError(t, s.Send(kick))

	frames := tr.frames(t)
	require.Len(t, frames, 4)
	assert.Equal(t, 4, tr.writes)
	for i, want := range []string{"Message", "Message", "Message", "Kick"} {
		p, err := codec.Decode(frames[i])
		require.NoError(t, err)
		assert.Equal(t, want, p.Kind())
		assert.Equal(t, want, sent[i].Kind)
	}
}

func TestSendRejectsInvalidPayloadWithoutWriting(t *testing.T) {
	testlog.Start(t)
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	tr.EXPECT().RemoteAddr().Return("mock").AnyTimes()

	s, _, _ := newTestSession(t, tr, frame.Limits{})
	s.OnConnect()

	err := s.Send(protocol.NewMessage(""))
	var verr *schema.VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "content", verr.Field)

	err = s.Send([]byte(`{"type":"Kick"}`))
	var derr *protocol.DecodeError
	require.ErrorAs(t, err, &derr)

	assert.ErrorIs(t, s.Send(3.14), protocol.ErrUnsupportedPayload)
}

func TestSendAfterCloseDoesNotWrite(t *testing.T) {
	testlog.Start(t)
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	tr.EXPECT().RemoteAddr().Return("mock").AnyTimes()
	tr.EXPECT().Close().Return(nil).Times(1)

	s, _, _ := newTestSession(t, tr, frame.Limits{})
	s.OnConnect()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Send(protocol.NewMessage("late")), ErrSendAfterClose)
	enc, err := protocol.NewCodec().Pack(protocol.NewMessage("late"))
	require.NoError(t, err)
	assert.ErrorIs(t, s.SendEncoded(enc), ErrSendAfterClose)
}

func TestSendRefusesHandBuiltEncoded(t *testing.T) {
	testlog.Start(t)
	tr := &memTransport{}
	s, _, _ := newTestSession(t, tr, frame.Limits{})
	s.OnConnect()

	assert.ErrorIs(t, s.Send(protocol.Encoded{}), protocol.ErrUnverifiedRecord)
	assert.ErrorIs(t, s.SendEncoded(protocol.Encoded{}), protocol.ErrUnverifiedRecord)
	assert.Error(t, s.Send([]byte(`{"type":"Message","content":""}`)))
	assert.Error(t, s.Send([]byte("garbage")))
	assert.Equal(t, 0, tr.writes)
	assert.Empty(t, tr.frames(t))
}

func TestSendWrapsTransportError(t *testing.T) {
	testlog.Start(t)
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	broken := errors.New("broken pipe")
	tr.EXPECT().RemoteAddr().Return("mock").AnyTimes()
	tr.EXPECT().Write(gomock.Any()).Return(0, broken).Times(1)

	s, bus, _ := newTestSession(t, tr, frame.Limits{})
	var emitted bool
	bus.Subscribe("Send.*", func(events.Event) error { emitted = true; return nil })

	err := s.Send(protocol.NewMessage("x"))
	assert.ErrorIs(t, err, broken)
	assert.False(t, emitted)
}

func TestConcurrentSendsDoNotInterleave(t *testing.T) {
	testlog.Start(t)
	tr := &memTransport{}
	s, _, codec := newTestSession(t, tr, frame.Limits{})
	s.OnConnect()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Send(protocol.NewChatMessage("bot", string(rune('a'+i%26)))))
		}()
	}
	wg.Wait()

	frames := tr.frames(t)
	require.Len(t, frames, 50)
	for _, f := range frames {
		_, err := codec.Decode(f)
		require.NoError(t, err)
	}
}

func TestOnCloseEmitsLostOnce(t *testing.T) {
	testlog.Start(t)
	s, bus, _ := newTestSession(t, &memTransport{}, frame.Limits{})
	s.OnConnect()

	var lost int
	bus.Subscribe(EventConnectionLost, func(events.Event) error { lost++; return nil })
	s.OnClose()
	s.OnClose()

	assert.Equal(t, 1, lost)
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Send("x"), ErrSendAfterClose)
}

func TestSetNameOnce(t *testing.T) {
	testlog.Start(t)
	s, _, _ := newTestSession(t, &memTransport{}, frame.Limits{})
	require.NoError(t, s.SetName("alice"))
	assert.ErrorIs(t, s.SetName("bob"), ErrNameAlreadySet)
	assert.Equal(t, "alice", s.Name())
	assert.Contains(t, s.String(), "name=alice")
}
