package broker

import (
	"context"
	"slices"
	"sync"
)

const subscriberBuffer = 256

// Memory is a single-instance broker.
type Memory struct {
	mu     sync.Mutex
	subs   map[chan string]struct{}
	order  []string
	counts map[string]int
	closed bool
	done   chan struct{}
}

// NewMemory 创建内存 broker
func NewMemory() *Memory {
	return &Memory{
		subs:   make(map[chan string]struct{}),
		counts: make(map[string]int),
		done:   make(chan struct{}),
	}
}

func (m *Memory) Publish(ctx context.Context, frame string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// A full subscriber drops the frame rather than stalling the room.
	for ch := range m.subs {
		select {
		case ch <- frame:
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context) (<-chan string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	ch := make(chan string, subscriberBuffer)
	m.subs[ch] = struct{}{}

	go m.watch(ctx, ch)
	return ch, nil
}

// watch ends the subscription when ctx is cancelled or the broker closes.
func (m *Memory) watch(ctx context.Context, ch chan string) {
	select {
	case <-ctx.Done():
		m.unsubscribe(ch)
	case <-m.done:
	}
}

func (m *Memory) unsubscribe(ch chan string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

func (m *Memory) Join(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.counts[name]++
	if m.counts[name] == 1 {
		m.order = append(m.order, name)
	}
	return nil
}

func (m *Memory) Leave(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	n, ok := m.counts[name]
	if !ok {
		return nil
	}
	if n > 1 {
		m.counts[name] = n - 1
		return nil
	}
	delete(m.counts, name)
	m.order = slices.DeleteFunc(m.order, func(s string) bool { return s == name })
	return nil
}

func (m *Memory) Roster(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return slices.Clone(m.order), nil
}

// Heartbeat is a no-op: a single instance cannot outlive its own presence.
func (m *Memory) Heartbeat(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	return false, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	for ch := range m.subs {
		delete(m.subs, ch)
		close(ch)
	}
	return nil
}
