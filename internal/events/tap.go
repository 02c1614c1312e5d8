package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

const DefaultTapTopic = "relaychat.events"

// Envelope is the JSON shape a Tap publishes for every mirrored event.
type Envelope struct {
	Name    string    `json:"name"`
	Payload string    `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Tap mirrors bus events onto a watermill gochannel topic so observers can
// consume them off the emitting goroutine. Envelopes reach each subscriber
// in emission order; a publish waits until every subscriber took the
// previous envelope, so a stalled reader slows Emit down.
type Tap struct {
	topic  string
	pubsub *gochannel.GoChannel

	mu     sync.Mutex
	bus    *Bus
	subs   []*Subscription
	closed bool
}

func NewTap(topic string) *Tap {
	if topic == "" {
		topic = DefaultTapTopic
	}
	return &Tap{
		topic: topic,
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            100,
				Persistent:                     false,
				BlockPublishUntilSubscriberAck: true,
			},
			watermill.NopLogger{},
		),
	}
}

func (t *Tap) Topic() string {
	return t.topic
}

// Attach subscribes the tap to pattern on b. A tap follows a single bus.
func (t *Tap) Attach(b *Bus, pattern string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTapClosed
	}
	if t.bus != nil && t.bus != b {
		return fmt.Errorf("events: tap already attached to another bus")
	}
	t.bus = b
	t.subs = append(t.subs, b.Subscribe(pattern, t.publish))
	return nil
}

func (t *Tap) publish(ev Event) error {
	body, err := json.Marshal(Envelope{Name: ev.Name, Payload: describe(ev.Payload), At: time.Now().UTC()})
	if err != nil {
		return err
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil
	}
	return t.pubsub.Publish(t.topic, message.NewMessage(watermill.NewUUID(), body))
}

// Subscribe returns a channel of envelopes published after the call.
// The channel closes when ctx ends or the tap closes.
func (t *Tap) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	msgs, err := t.pubsub.Subscribe(ctx, t.topic)
	if err != nil {
		return nil, fmt.Errorf("events: tap subscribe: %w", err)
	}
	out := make(chan Envelope, 16)
	go func() {
		defer close(out)
		for msg := range msgs {
			var env Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				log.Warn().Err(err).Str("topic", t.topic).Msg("events.Tap undecodable envelope")
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close detaches the tap from its bus and closes the topic.
func (t *Tap) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	bus, subs := t.bus, t.subs
	t.subs = nil
	t.mu.Unlock()

	for _, s := range subs {
		bus.Unsubscribe(s)
	}
	return t.pubsub.Close()
}

func describe(payload any) string {
	switch v := payload.(type) {
	case nil:
		return ""
	case fmt.Stringer:
		return v.String()
	case string:
		return v
	}
	if b, err := json.Marshal(payload); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%T", payload)
}
