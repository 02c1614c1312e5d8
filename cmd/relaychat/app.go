package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/protocol/frame"
)

const quitCommand = "/quit"

// App is a line-oriented chat client: stdin lines go out as Message
// packets and every packet from the server is rendered as one line.
type App struct {
	conn   net.Conn
	reader *bufio.Reader
	codec  *protocol.Codec
	limits frame.Limits

	outMu sync.Mutex
	out   io.Writer
}

func NewApp(conn net.Conn, in io.Reader, out io.Writer) *App {
	return &App{
		conn:   conn,
		reader: bufio.NewReader(in),
		codec:  protocol.NewCodec(),
		limits: frame.DefaultLimits(),
		out:    out,
	}
}

// Run sends name (when set) as the first message, then relays input until
// stdin ends, the user types /quit or the server closes the connection.
func (a *App) Run(name string) error {
	defer a.conn.Close()

	recvDone := make(chan error, 1)
	go func() { recvDone <- a.receiveLoop() }()

	if name = strings.TrimSpace(name); name != "" {
		if err := a.send(name); err != nil {
			return err
		}
	}

	sendDone := make(chan error, 1)
	go func() { sendDone <- a.sendLoop() }()

	select {
	case err := <-recvDone:
		return err
	case err := <-sendDone:
		_ = a.conn.Close()
		<-recvDone
		return err
	}
}

func (a *App) sendLoop() error {
	for {
		line, err := a.reader.ReadString('\n')
		text := strings.TrimRight(line, "\r\n")
		if text == quitCommand {
			return nil
		}
		if strings.TrimSpace(text) != "" {
			if serr := a.send(text); serr != nil {
				return serr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (a *App) send(content string) error {
	record, err := a.codec.EncodePacket(protocol.NewMessage(content))
	if err != nil {
		return err
	}
	return frame.WriteFrame(a.conn, record, a.limits)
}

func (a *App) receiveLoop() error {
	for {
		record, err := frame.ReadFrame(a.conn, a.limits)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		p, err := a.codec.Decode(record)
		if err != nil {
			log.Debug().Err(err).Msg("relaychat.receive dropped packet")
			continue
		}
		a.render(p)
		if p.Kind() == protocol.KindKick {
			return nil
		}
	}
}

func (a *App) render(p protocol.Packet) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	switch p.Kind() {
	case protocol.KindMessage:
		if author := p.String(protocol.FieldAuthor); author != "" {
			fmt.Fprintf(a.out, "[%s] %s\n", author, p.String(protocol.FieldContent))
			return
		}
		fmt.Fprintln(a.out, p.String(protocol.FieldContent))
	case protocol.KindKick:
		fmt.Fprintf(a.out, "*** kicked: %s\n", p.String(protocol.FieldReason))
	default:
		fmt.Fprintf(a.out, "*** %s %v\n", p.Kind(), p.Fields())
	}
}
