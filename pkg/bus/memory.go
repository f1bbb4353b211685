package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

const defaultBuffer = 64

// Memory is an in-process Broker for single-instance deployments and tests.
type Memory struct {
	mu     sync.RWMutex
	topics map[string]map[*listener]struct{}
	buffer int
	closed bool
}

type listener struct {
	ch chan []byte
}

// NewMemory returns an empty in-process broker.
func NewMemory() *Memory {
	return &Memory{
		topics: make(map[string]map[*listener]struct{}),
		buffer: defaultBuffer,
	}
}

// Publish delivers event to every current listener of topic. Listeners whose
// buffer is full miss the event.
func (m *Memory) Publish(ctx context.Context, topic string, event any) error {
	if m == nil {
		return errors.New("nil bus")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for l := range m.topics[topic] {
		select {
		case l.ch <- data:
		default:
		}
	}
	return nil
}

// Subscribe registers a listener on topic until ctx is done.
func (m *Memory) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	if m == nil {
		return nil, errors.New("nil bus")
	}

	l := &listener{ch: make(chan []byte, m.buffer)}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("bus closed")
	}
	if m.topics[topic] == nil {
		m.topics[topic] = make(map[*listener]struct{})
	}
	m.topics[topic][l] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.remove(topic, l)
	}()

	return l.ch, nil
}

// Listeners reports how many listeners are registered on topic.
func (m *Memory) Listeners(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.topics[topic])
}

// Close drops every listener and closes their channels.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for topic, ls := range m.topics {
		for l := range ls {
			close(l.ch)
		}
		delete(m.topics, topic)
	}
}

func (m *Memory) remove(topic string, l *listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.topics[topic]
	if !ok {
		return
	}
	if _, ok := ls[l]; !ok {
		return
	}
	delete(ls, l)
	close(l.ch)
	if len(ls) == 0 {
		delete(m.topics, topic)
	}
}
