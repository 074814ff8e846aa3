// Package relay hands inbound frames from the transport to the one goroutine
// that owns the chat state.
package relay

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("relay closed")

const defaultBuffer = 256

// Local is an in-process, single-consumer frame relay. Frames are delivered
// in publish order; Publish blocks while the buffer is full.
type Local struct {
	frames chan string
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// NewLocal creates a relay with the given buffer size (256 when <= 0).
func NewLocal(buffer int) *Local {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Local{
		frames: make(chan string, buffer),
		done:   make(chan struct{}),
	}
}

// Publish queues one frame for the subscriber.
func (r *Local) Publish(frame string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	select {
	case r.frames <- frame:
		return nil
	case <-r.done:
		return ErrClosed
	}
}

// Frames exposes the delivery channel for callers that run their own event
// loop. The channel is closed by Close.
func (r *Local) Frames() <-chan string {
	return r.frames
}

// Subscribe calls handler for every frame, in order, on the calling
// goroutine. It returns after Close once buffered frames are drained.
func (r *Local) Subscribe(handler func(frame string)) {
	for frame := range r.frames {
		handler(frame)
	}
}

// Close stops the relay. Frames already buffered are still delivered.
func (r *Local) Close() {
	r.once.Do(func() {
		// Wake publishers blocked on a full buffer before taking the write lock.
		close(r.done)
		r.mu.Lock()
		r.closed = true
		close(r.frames)
		r.mu.Unlock()
	})
}
