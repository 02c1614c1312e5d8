package server

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/relaychat/internal/events"
	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/registry"
	"github.com/danmuck/relaychat/internal/session"
)

// ServerAuthor attributes notices the server broadcasts itself.
const ServerAuthor = "server"

// TooLongNotice is sent back to a member whose message no longer fits a
// frame once it is attributed.
const TooLongNotice = "Message not delivered: too long."

func (s *Server) installHandlers() {
	s.bus.Subscribe(session.EventConnectionMade, s.onConnectionMade)
	s.bus.Subscribe(events.Name(session.RecvNamespace, protocol.KindMessage), s.onMessage)
	s.bus.Subscribe(session.EventConnectionLost, s.onConnectionLost)
	s.bus.Subscribe(registry.EventMembershipChanged, s.onMembershipChanged)
}

func (s *Server) onConnectionMade(ev events.Event) error {
	sess, ok := ev.Payload.(*session.Session)
	if !ok || s.cfg.MOTD == "" {
		return nil
	}
	return sess.Send(protocol.NewChatMessage(ServerAuthor, s.cfg.MOTD))
}

// onMessage treats the first Message of a session as its username and
// broadcasts every later one.
func (s *Server) onMessage(ev events.Event) error {
	in, ok := ev.Payload.(session.Inbound)
	if !ok {
		return nil
	}
	content := in.Packet.String(protocol.FieldContent)
	switch in.Session.JoinState() {
	case session.JoinAwaitingUsername:
		return s.admit(in.Session, content)
	case session.JoinJoined:
		return s.relay(in.Session, content)
	default:
		log.Debug().Str("id", in.Session.ID()).Str("join", in.Session.JoinState().String()).Msg("server.onMessage ignored")
		return nil
	}
}

// relay attributes content to sender and broadcasts it. A record that
// outgrows the frame limit is reported to the sender instead of dropped.
func (s *Server) relay(sender *session.Session, content string) error {
	enc, err := s.codec.Pack(protocol.NewChatMessage(sender.Name(), content))
	if err != nil {
		return err
	}
	if limit := s.cfg.FrameLimits().WithDefaults().MaxFrameBytes; uint64(enc.Len()) > uint64(limit) {
		log.Info().Str("id", sender.ID()).Int("bytes", enc.Len()).Uint32("limit", limit).Msg("server.relay message too long")
		return sender.Send(protocol.NewChatMessage(ServerAuthor, TooLongNotice))
	}
	if err := s.registry.Broadcast(enc); err != nil {
		log.Debug().Err(err).Str("kind", enc.Kind()).Msg("server.relay partial delivery")
	}
	return nil
}

func (s *Server) admit(sess *session.Session, requested string) error {
	name := strings.TrimSpace(requested)
	if err := sess.SetName(name); err != nil {
		return err
	}
	verdict := s.registry.AddUser(sess)
	if !verdict.Accepted {
		log.Info().Str("id", sess.ID()).Str("name", name).Str("reason", verdict.Reason).Msg("server.admit rejected")
	}
	return nil
}

func (s *Server) onConnectionLost(ev events.Event) error {
	sess, ok := ev.Payload.(*session.Session)
	if !ok {
		return nil
	}
	s.registry.RemoveUser(sess)
	return nil
}

func (s *Server) onMembershipChanged(ev events.Event) error {
	change, ok := ev.Payload.(registry.MembershipChange)
	if !ok {
		return nil
	}
	var notice string
	switch change.Kind {
	case registry.ChangeJoined:
		notice = fmt.Sprintf("%s joined the chat.", change.Session.Name())
	case registry.ChangeLeft:
		notice = fmt.Sprintf("%s left the chat.", change.Session.Name())
	case registry.ChangeKicked:
		notice = fmt.Sprintf("%s was kicked: %s", change.Session.Name(), change.Reason)
	default:
		return nil
	}
	s.broadcast(protocol.NewChatMessage(ServerAuthor, notice))
	return nil
}

// broadcast logs per-recipient failures at debug level.
func (s *Server) broadcast(p protocol.Packet) {
	if err := s.registry.Broadcast(p); err != nil {
		log.Debug().Err(err).Str("kind", p.Kind()).Msg("server.broadcast partial delivery")
	}
}
