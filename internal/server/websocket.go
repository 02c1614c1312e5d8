package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/relaychat/internal/protocol/frame"
)

// WSPath is the upgrade endpoint on the WebSocket listener.
const WSPath = "/ws"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  readBufferSize,
	WriteBufferSize: readBufferSize,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeWS serves WebSocket clients on ln until ctx ends. Every binary
// message is fed to the session as a chunk of the framed stream.
func (s *Server) ServeWS(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.HandleFunc(WSPath, s.handleWS)
	hs := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = hs.Close()
	}()
	if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "websocket endpoint only accepts GET", http.StatusMethodNotAllowed)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("server.handleWS upgrade")
		return
	}
	if !s.trackConn(conn) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	defer s.handlers.Done()
	defer s.untrackConn(conn)
	defer conn.Close()

	conn.SetReadLimit(int64(s.cfg.FrameLimits().WithDefaults().MaxFrameBytes) + frame.PrefixLen)
	sess, err := s.newSession(&wsTransport{conn: conn, writeTimeout: s.cfg.WriteTimeout})
	if err != nil {
		log.Error().Err(err).Msg("server.handleWS session")
		return
	}
	active := s.active.Add(1)
	log.Info().Str("id", sess.ID()).Str("remote", sess.RemoteAddr()).Int64("active", active).Msg("server.handleWS connected")
	defer func() {
		sess.OnClose()
		remaining := s.active.Add(-1)
		log.Info().Str("id", sess.ID()).Str("name", sess.Name()).Int64("active", remaining).Msg("server.handleWS disconnected")
	}()

	sess.OnConnect()
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				log.Debug().Err(err).Str("id", sess.ID()).Msg("server.handleWS read")
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		if err := sess.OnBytes(data); err != nil {
			return
		}
	}
}
