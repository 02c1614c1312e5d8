// Package wiretest provides in-memory transports and a framed client for
// exercising the chat wire protocol in tests.
package wiretest

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/protocol/frame"
)

// Recorder is a session transport that keeps every write in memory.
type Recorder struct {
	addr string

	mu     sync.Mutex
	buf    bytes.Buffer
	writes int
	closed bool
	// events records "write" and "close" in call order.
	events []string
}

func NewRecorder(addr string) *Recorder {
	return &Recorder{addr: addr}
}

func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, net.ErrClosed
	}
	r.writes++
	r.events = append(r.events, "write")
	return r.buf.Write(p)
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		r.events = append(r.events, "close")
	}
	return nil
}

func (r *Recorder) RemoteAddr() string {
	return r.addr
}

func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Events returns the ordered write/close log.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Records splits the written stream back into records.
func (r *Recorder) Records() ([][]byte, error) {
	r.mu.Lock()
	raw := append([]byte(nil), r.buf.Bytes()...)
	r.mu.Unlock()

	acc := frame.NewAccumulator(frame.DefaultLimits())
	records, err := acc.Feed(raw)
	if err != nil {
		return nil, err
	}
	if acc.Buffered() != 0 {
		return nil, fmt.Errorf("wiretest: %d trailing bytes", acc.Buffered())
	}
	return records, nil
}

// Packets decodes every written record with codec.
func (r *Recorder) Packets(codec *protocol.Codec) ([]protocol.Packet, error) {
	records, err := r.Records()
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Packet, 0, len(records))
	for _, rec := range records {
		p, err := codec.Decode(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Client speaks the framed protocol over a net.Conn.
type Client struct {
	conn   net.Conn
	codec  *protocol.Codec
	limits frame.Limits
}

func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, codec: protocol.NewCodec(), limits: frame.DefaultLimits()}
}

// Dial connects to addr and closes the client when the test ends.
func Dial(t testing.TB, addr string) *Client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("wiretest dial %s: %v", addr, err)
	}
	c := NewClient(conn)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (c *Client) Send(p protocol.Packet) error {
	record, err := c.codec.EncodePacket(p)
	if err != nil {
		return err
	}
	return c.SendRecord(record)
}

// SendRecord frames record as-is, valid or not.
func (c *Client) SendRecord(record []byte) error {
	return frame.WriteFrame(c.conn, record, c.limits)
}

// SendRaw writes bytes without framing.
func (c *Client) SendRaw(b []byte) error {
	_, err := c.conn.Write(b)
	return err
}

// Recv reads and decodes the next packet.
func (c *Client) Recv(timeout time.Duration) (protocol.Packet, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return protocol.Packet{}, err
	}
	record, err := frame.ReadFrame(c.conn, c.limits)
	if err != nil {
		return protocol.Packet{}, err
	}
	return c.codec.Decode(record)
}

// RecvKind reads packets until one of kind arrives.
func (c *Client) RecvKind(kind string, timeout time.Duration) (protocol.Packet, error) {
	deadline := time.Now().Add(timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return protocol.Packet{}, fmt.Errorf("wiretest: no %s packet within %s", kind, timeout)
		}
		p, err := c.Recv(left)
		if err != nil {
			return protocol.Packet{}, err
		}
		if p.Kind() == kind {
			return p, nil
		}
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}
