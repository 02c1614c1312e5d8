package events

import "sync/atomic"

// Event is one emitted occurrence.
type Event struct {
	Name    string
	Payload any
}

// Handler reacts to an event. A returned error is collected by Emit.
type Handler func(Event) error

// Subscription is a handle returned by Subscribe and SubscribeOnce.
type Subscription struct {
	id      uint64
	pattern string
	handler Handler
	once    bool

	active atomic.Bool
	fired  atomic.Bool
}

func newSubscription(id uint64, pattern string, h Handler, once bool) *Subscription {
	s := &Subscription{id: id, pattern: pattern, handler: h, once: once}
	s.active.Store(true)
	return s
}

func (s *Subscription) ID() uint64 {
	return s.id
}

func (s *Subscription) Pattern() string {
	return s.pattern
}

func (s *Subscription) Once() bool {
	return s.once
}

// Active reports whether the subscription still receives events.
func (s *Subscription) Active() bool {
	return s.active.Load()
}

// claim reports whether this invocation may run the handler.
// One-shot subscriptions are claimed at most once across goroutines.
func (s *Subscription) claim() bool {
	if !s.active.Load() {
		return false
	}
	if !s.once {
		return true
	}
	return s.fired.CompareAndSwap(false, true)
}
