// Package bus carries fire-and-forget events from the core to long-lived
// listeners such as the producer dashboard stream.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/nats-io/nats.go"
)

// Topics used by the service.
const (
	TopicProducer = "messmate.producer"
	TopicRatings  = "messmate.ratings"
)

// Broker publishes JSON events to topics and streams them to subscribers.
// A subscription ends when its context is done; the broker closes the
// returned channel and releases the listener.
type Broker interface {
	Publish(ctx context.Context, topic string, event any) error
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
}

// Event is the envelope written to every stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// NATS wraps a core NATS connection. Delivery is at-most-once, which matches
// the stream semantics: a disconnected listener misses events.
type NATS struct {
	conn   *nats.Conn
	buffer int
}

// NewNATS creates a broker connected to the provided NATS endpoint.
func NewNATS(url string, opts ...nats.Option) (*NATS, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NATS{conn: nc, buffer: defaultBuffer}, nil
}

// Close drains the underlying NATS connection.
func (b *NATS) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Publish encodes event as JSON and publishes it to topic.
func (b *NATS) Publish(ctx context.Context, topic string, event any) error {
	if b == nil {
		return errors.New("nil bus")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.conn.Publish(topic, data)
}

type subscription struct {
	sub    *nats.Subscription
	mu     sync.Mutex
	closed bool
}

func (s *subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sub.Unsubscribe()
}

// Subscribe streams messages published to topic until ctx is done.
func (b *NATS) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	if b == nil {
		return nil, errors.New("nil bus")
	}

	in := make(chan *nats.Msg, b.buffer)
	sub, err := b.conn.ChanSubscribe(topic, in)
	if err != nil {
		return nil, err
	}
	s := &subscription{sub: sub}

	out := make(chan []byte, b.buffer)
	go func() {
		defer close(out)
		defer func() { _ = s.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-in:
				select {
				case out <- msg.Data:
				default:
					// slow listener, drop
				}
			}
		}
	}()

	return out, nil
}
