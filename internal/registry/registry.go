package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/danmuck/relaychat/internal/events"
	"github.com/danmuck/relaychat/internal/protocol"
	"github.com/danmuck/relaychat/internal/session"
)

const (
	EventMembershipChanged = "Registry.MembershipChanged"
	DefaultKickReason      = "No reason specified."
	UsernamePrecheck       = "username"
)

var (
	ErrUnknownRecipient  = errors.New("registry: unknown recipient")
	ErrDuplicatePrecheck = errors.New("registry: precheck already registered")
	ErrNilPrecheck       = errors.New("registry: precheck is nil")
	ErrMissingBus        = errors.New("registry: bus is required")
	ErrMissingCodec      = errors.New("registry: codec is required")
)

// ChangeKind labels a membership transition.
type ChangeKind string

const (
	ChangeJoined ChangeKind = "joined"
	ChangeLeft   ChangeKind = "left"
	ChangeKicked ChangeKind = "kicked"
)

// MembershipChange is the payload of Registry.MembershipChanged.
type MembershipChange struct {
	Kind    ChangeKind
	Session *session.Session
	Reason  string
	Count   int
}

func (c MembershipChange) String() string {
	return fmt.Sprintf("%s id=%s name=%s count=%d", c.Kind, c.Session.ID(), c.Session.Name(), c.Count)
}

type Options struct {
	Bus   *events.Bus
	Codec *protocol.Codec
}

// Registry is the authoritative member list. Safe for concurrent use.
type Registry struct {
	bus   *events.Bus
	codec *protocol.Codec

	// admitMu serializes AddUser so prechecks and the append are atomic
	// with respect to other admissions.
	admitMu sync.Mutex

	mu        sync.RWMutex
	members   []*session.Session
	prechecks []namedPrecheck
}

// New returns a registry with the username uniqueness precheck installed.
func New(opts Options) (*Registry, error) {
	if opts.Bus == nil {
		return nil, ErrMissingBus
	}
	if opts.Codec == nil {
		return nil, ErrMissingCodec
	}
	r := &Registry{bus: opts.Bus, codec: opts.Codec}
	if err := r.AddPrecheck(UsernamePrecheck, UniqueUsername()); err != nil {
		return nil, err
	}
	return r, nil
}

// AddPrecheck appends a named admission check. Names are unique.
func (r *Registry) AddPrecheck(name string, check Precheck) error {
	if check == nil {
		return fmt.Errorf("%w: %s", ErrNilPrecheck, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if lo.ContainsBy(r.prechecks, func(p namedPrecheck) bool { return p.name == name }) {
		return fmt.Errorf("%w: %s", ErrDuplicatePrecheck, name)
	}
	r.prechecks = append(r.prechecks, namedPrecheck{name: name, check: check})
	return nil
}

// Prechecks lists registered precheck names in evaluation order.
func (r *Registry) Prechecks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.prechecks, func(p namedPrecheck, _ int) string { return p.name })
}

// AddUser runs the prechecks against s. A rejected session is marked
// Rejected, sent a Kick with the reason and closed; it is never added.
func (r *Registry) AddUser(s *session.Session) Verdict {
	r.admitMu.Lock()
	r.mu.RLock()
	if _, _, member := r.find(s); member {
		r.mu.RUnlock()
		r.admitMu.Unlock()
		log.Debug().Str("id", s.ID()).Str("name", s.Name()).Msg("registry.AddUser already a member")
		return Accept()
	}
	checks := append([]namedPrecheck(nil), r.prechecks...)
	members := append([]*session.Session(nil), r.members...)
	r.mu.RUnlock()

	verdict := Accept()
	rejectedBy := ""
	for _, p := range checks {
		if v := p.check(s, members); !v.Accepted {
			verdict, rejectedBy = v, p.name
			break
		}
	}

	if !verdict.Accepted {
		r.admitMu.Unlock()
		log.Info().
			Str("id", s.ID()).
			Str("name", s.Name()).
			Str("precheck", rejectedBy).
			Str("reason", verdict.Reason).
			Msg("registry.AddUser rejected")
		s.SetJoinState(session.JoinRejected)
		if err := s.Send(protocol.NewKick(verdict.Reason)); err != nil {
			log.Warn().Err(err).Str("id", s.ID()).Msg("registry.AddUser kick send failed")
		}
		_ = s.Close()
		return verdict
	}

	r.mu.Lock()
	r.members = append(r.members, s)
	count := len(r.members)
	r.mu.Unlock()
	s.SetJoinState(session.JoinJoined)
	r.admitMu.Unlock()

	log.Info().Str("id", s.ID()).Str("name", s.Name()).Int("members", count).Msg("registry.AddUser joined")
	r.notify(MembershipChange{Kind: ChangeJoined, Session: s, Count: count})
	return verdict
}

// RemoveUser drops target, a *session.Session or session id, from
// membership. Unknown targets are ignored.
func (r *Registry) RemoveUser(target any) {
	s, count, ok := r.remove(target)
	if !ok {
		return
	}
	log.Info().Str("id", s.ID()).Str("name", s.Name()).Int("members", count).Msg("registry.RemoveUser")
	r.notify(MembershipChange{Kind: ChangeLeft, Session: s, Count: count})
}

// KickUser removes target, sends it a Kick packet and closes its transport.
// Removal happens before the Kick is written.
func (r *Registry) KickUser(target any, reason string) error {
	if strings.TrimSpace(reason) == "" {
		reason = DefaultKickReason
	}
	s, count, ok := r.remove(target)
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownRecipient, targetID(target))
	}
	log.Info().Str("id", s.ID()).Str("name", s.Name()).Str("reason", reason).Msg("registry.KickUser")
	r.notify(MembershipChange{Kind: ChangeKicked, Session: s, Reason: reason, Count: count})
	sendErr := s.Send(protocol.NewKick(reason))
	closeErr := s.Close()
	return errors.Join(sendErr, closeErr)
}

// Broadcast encodes payload once and sends it to every member in
// registry order. Per-recipient failures are joined; delivery continues.
func (r *Registry) Broadcast(payload any) error {
	enc, err := r.codec.Pack(payload)
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range r.Members() {
		if err := m.SendEncoded(enc); err != nil {
			log.Debug().Err(err).Str("id", m.ID()).Msg("registry.Broadcast recipient failed")
			errs = append(errs, fmt.Errorf("registry: broadcast id=%s: %w", m.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// SendTo delivers payload to one member.
func (r *Registry) SendTo(payload any, target any) error {
	s, ok := r.resolve(target)
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownRecipient, targetID(target))
	}
	return s.Send(payload)
}

// Members returns a snapshot in join order.
func (r *Registry) Members() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*session.Session(nil), r.members...)
}

// Lookup finds a member by session id.
func (r *Registry) Lookup(id string) (*session.Session, bool) {
	return r.resolve(id)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Usernames lists member display names in join order.
func (r *Registry) Usernames() []string {
	return lo.Map(r.Members(), func(s *session.Session, _ int) string { return s.Name() })
}

func (r *Registry) resolve(target any) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, idx, ok := r.find(target)
	if !ok {
		return nil, false
	}
	return r.members[idx], true
}

func (r *Registry) remove(target any) (*session.Session, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, idx, ok := r.find(target)
	if !ok {
		return nil, len(r.members), false
	}
	next := make([]*session.Session, 0, len(r.members)-1)
	next = append(next, r.members[:idx]...)
	next = append(next, r.members[idx+1:]...)
	r.members = next
	return s, len(next), true
}

// find must be called with mu held.
func (r *Registry) find(target any) (*session.Session, int, bool) {
	var match func(*session.Session) bool
	switch t := target.(type) {
	case *session.Session:
		if t == nil {
			return nil, -1, false
		}
		match = func(s *session.Session) bool { return s == t }
	case string:
		match = func(s *session.Session) bool { return s.ID() == t }
	default:
		return nil, -1, false
	}
	s, idx, ok := lo.FindIndexOf(r.members, match)
	return s, idx, ok
}

func (r *Registry) notify(change MembershipChange) {
	if err := r.bus.Emit(EventMembershipChanged, change); err != nil {
		log.Warn().Err(err).Str("kind", string(change.Kind)).Msg("registry.notify handler errors")
	}
}

func targetID(target any) any {
	if s, ok := target.(*session.Session); ok && s != nil {
		return s.ID()
	}
	return target
}
