package events

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

const (
	CatchAll      = "*"
	CatchAllAlias = "all"
)

// Bus is a synchronous pattern-matching event bus. Safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	subs   map[string][]*Subscription
	order  []string
	nextID atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]*Subscription)}
}

// Subscribe registers h under pattern. It panics on a nil handler.
func (b *Bus) Subscribe(pattern string, h Handler) *Subscription {
	return b.add(pattern, h, false)
}

// SubscribeOnce registers h to run on the first matching event only.
// Concurrent emits run it at most once; it is removed after that call returns.
func (b *Bus) SubscribeOnce(pattern string, h Handler) *Subscription {
	return b.add(pattern, h, true)
}

func (b *Bus) add(pattern string, h Handler, once bool) *Subscription {
	if h == nil {
		panic(ErrNilHandler)
	}
	s := newSubscription(b.nextID.Add(1), pattern, h, once)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[pattern]; !ok {
		b.order = append(b.order, pattern)
	}
	b.subs[pattern] = append(b.subs[pattern], s)
	return s
}

// Unsubscribe removes s. Unknown, nil or already removed subscriptions are ignored.
func (b *Bus) Unsubscribe(s *Subscription) {
	if s == nil || !s.active.Swap(false) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[s.pattern]
	idx := slices.Index(list, s)
	if idx < 0 {
		return
	}
	list = slices.Delete(slices.Clone(list), idx, idx+1)
	if len(list) == 0 {
		delete(b.subs, s.pattern)
		b.order = slices.DeleteFunc(b.order, func(p string) bool { return p == s.pattern })
		return
	}
	b.subs[s.pattern] = list
}

// Count returns the number of active subscriptions.
func (b *Bus) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, list := range b.subs {
		n += len(list)
	}
	return n
}

// Emit delivers an event to every matching subscription and returns the
// joined handler failures. A failing or panicking handler does not stop
// the remaining handlers.
func (b *Bus) Emit(name string, payload any) error {
	matched := b.match(name)
	if len(matched) == 0 {
		return nil
	}
	ev := Event{Name: name, Payload: payload}
	var errs []error
	for _, s := range matched {
		if !s.claim() {
			continue
		}
		if err := invoke(s, ev); err != nil {
			log.Warn().Err(err).Str("event", name).Str("pattern", s.pattern).Msg("events.Emit handler failed")
			errs = append(errs, err)
		}
		if s.once {
			b.Unsubscribe(s)
		}
	}
	return errors.Join(errs...)
}

// match copies the matching subscriptions so handlers run without the lock.
func (b *Bus) match(name string) []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Subscription
	out = append(out, b.subs[name]...)
	for _, pattern := range b.order {
		if pattern == name || !Matches(pattern, name) {
			continue
		}
		out = append(out, b.subs[pattern]...)
	}
	return out
}

// Matches reports whether pattern selects the event name.
func Matches(pattern, name string) bool {
	switch {
	case pattern == CatchAll || pattern == CatchAllAlias:
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(name, pattern[:len(pattern)-1])
	default:
		return pattern == name
	}
}

func invoke(s *Subscription, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Event: ev.Name, SubscriptionID: s.id, Pattern: s.pattern, Value: r}
		}
	}()
	if herr := s.handler(ev); herr != nil {
		return &HandlerError{Event: ev.Name, SubscriptionID: s.id, Pattern: s.pattern, Err: herr}
	}
	return nil
}

// Name joins a namespace and a kind into an event name, e.g. Name("Recv", "Message").
func Name(namespace, kind string) string {
	return fmt.Sprintf("%s.%s", namespace, kind)
}
