package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/relaychat/internal/config"
	"github.com/danmuck/relaychat/internal/events"
	"github.com/danmuck/relaychat/internal/observability"
	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/registry"
	"github.com/danmuck/relaychat/internal/session"
)

const readBufferSize = 4096

// Server is one chat instance: a bus, a codec, a registry and the
// listeners feeding sessions into them.
type Server struct {
	cfg      config.Config
	bus      *events.Bus
	codec    *protocol.Codec
	registry *registry.Registry
	tap      *events.Tap
	metrics  *observability.Metrics

	connsMu  sync.Mutex
	conns    map[io.Closer]struct{}
	closing  bool
	handlers sync.WaitGroup
	active   atomic.Int64
}

// New builds a server from cfg and installs the chat handlers.
func New(cfg config.Config) (*Server, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	bus := events.NewBus()
	codec := protocol.NewCodec()
	reg, err := registry.New(registry.Options{Bus: bus, Codec: codec})
	if err != nil {
		return nil, err
	}
	if err := reg.AddPrecheck("username_rules", registry.UsernameRules(cfg.MaxUsernameLen)); err != nil {
		return nil, err
	}
	banned, err := registry.BannedNames(cfg.BannedNames)
	if err != nil {
		return nil, err
	}
	if err := reg.AddPrecheck("banned_names", banned); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		bus:      bus,
		codec:    codec,
		registry: reg,
		metrics:  observability.NewMetrics(),
		conns:    make(map[io.Closer]struct{}),
	}
	s.installHandlers()
	s.metrics.Attach(bus)
	if cfg.Debug {
		s.tap = events.NewTap(events.DefaultTapTopic)
		if err := s.tap.Attach(bus, events.CatchAll); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Server) Bus() *events.Bus {
	return s.bus
}

func (s *Server) Codec() *protocol.Codec {
	return s.codec
}

func (s *Server) Registry() *registry.Registry {
	return s.registry
}

func (s *Server) Metrics() *observability.Metrics {
	return s.metrics
}

// ActiveConnections counts connections with a running read loop.
func (s *Server) ActiveConnections() int64 {
	return s.active.Load()
}

// Run listens on the configured addresses and blocks until ctx ends or a
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.ListenAddr, err)
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("server.Run listening")

	var wsln net.Listener
	if s.cfg.WSListenAddr != "" {
		wsln, err = net.Listen("tcp", s.cfg.WSListenAddr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("server: listen ws %s: %w", s.cfg.WSListenAddr, err)
		}
		log.Info().Str("addr", wsln.Addr().String()).Msg("server.Run websocket listening")
	}

	var metricsln net.Listener
	if s.cfg.MetricsAddr != "" {
		metricsln, err = net.Listen("tcp", s.cfg.MetricsAddr)
		if err != nil {
			_ = ln.Close()
			if wsln != nil {
				_ = wsln.Close()
			}
			return fmt.Errorf("server: listen metrics %s: %w", s.cfg.MetricsAddr, err)
		}
		log.Info().Str("addr", metricsln.Addr().String()).Msg("server.Run metrics listening")
	}

	if s.tap != nil {
		if err := s.startDebugTap(ctx); err != nil {
			log.Warn().Err(err).Msg("server.Run debug tap disabled")
		}
	}

	errs := make(chan error, 3)
	loops := 1
	go func() { errs <- s.Serve(ctx, ln) }()
	if wsln != nil {
		loops++
		go func() { errs <- s.ServeWS(ctx, wsln) }()
	}
	if metricsln != nil {
		loops++
		go func() { errs <- s.ServeMetrics(ctx, metricsln) }()
	}

	var first error
	for range loops {
		if err := <-errs; err != nil && first == nil {
			first = err
			cancel()
		}
	}
	s.closeAllConns()
	s.handlers.Wait()
	if s.tap != nil {
		_ = s.tap.Close()
	}
	log.Info().Msg("server.Run stopped")
	return first
}

// Serve accepts TCP connections on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if !s.trackConn(conn) {
			_ = conn.Close()
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.handlers.Done()
	defer conn.Close()
	defer s.untrackConn(conn)

	sess, err := s.newSession(&connTransport{conn: conn, writeTimeout: s.cfg.WriteTimeout})
	if err != nil {
		log.Error().Err(err).Msg("server.handleConn session")
		return
	}
	active := s.active.Add(1)
	log.Info().Str("id", sess.ID()).Str("remote", sess.RemoteAddr()).Int64("active", active).Msg("server.handleConn connected")
	defer func() {
		sess.OnClose()
		remaining := s.active.Add(-1)
		log.Info().Str("id", sess.ID()).Str("name", sess.Name()).Int64("active", remaining).Msg("server.handleConn disconnected")
	}()

	sess.OnConnect()
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if ferr := sess.OnBytes(buf[:n]); ferr != nil {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug().Err(err).Str("id", sess.ID()).Msg("server.handleConn read")
			}
			return
		}
	}
}

func (s *Server) newSession(t session.Transport) (*session.Session, error) {
	return session.New(t, session.Options{
		Bus:    s.bus,
		Codec:  s.codec,
		Limits: s.cfg.FrameLimits(),
	})
}

func (s *Server) startDebugTap(ctx context.Context) error {
	envs, err := s.tap.Subscribe(ctx)
	if err != nil {
		return err
	}
	go func() {
		for env := range envs {
			log.Debug().Str("event", env.Name).Str("payload", env.Payload).Msg("server.debug")
		}
	}()
	return nil
}

// trackConn registers c and its handler. It refuses once shutdown began,
// so no handler is added after Run starts waiting.
func (s *Server) trackConn(c io.Closer) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c] = struct{}{}
	s.handlers.Add(1)
	return true
}

func (s *Server) untrackConn(c io.Closer) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, c)
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.closing = true
	for c := range s.conns {
		_ = c.Close()
		delete(s.conns, c)
	}
}
