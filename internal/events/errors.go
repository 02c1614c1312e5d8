package events

import (
	"errors"
	"fmt"
)

var (
	ErrNilHandler   = errors.New("events: handler cannot be nil")
	ErrHandlerPanic = errors.New("events: handler panicked")
	ErrTapClosed    = errors.New("events: tap closed")
)

// HandlerError ties a handler failure to the event and subscription.
type HandlerError struct {
	Event          string
	SubscriptionID uint64
	Pattern        string
	Err            error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("events: handler sub=%d pattern=%s event=%s: %v", e.SubscriptionID, e.Pattern, e.Event, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// PanicError records a panic recovered from a handler.
type PanicError struct {
	Event          string
	SubscriptionID uint64
	Pattern        string
	Value          any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("events: handler panic sub=%d pattern=%s event=%s: %v", e.SubscriptionID, e.Pattern, e.Event, e.Value)
}

// Is matches ErrHandlerPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanic
}
