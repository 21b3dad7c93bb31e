package pipeline

import (
	"sync"

	"threshcam/internal/frame"
)

// Mailbox is a single-slot buffer between a producer and one consumer.
// A new frame replaces an unconsumed one, so a slow consumer always sees
// the most recent frame and the queue never grows.
type Mailbox struct {
	mu        sync.Mutex
	cond      *sync.Cond
	frame     *frame.Frame
	closed    bool
	published uint64
	drops     uint64
}

func NewMailbox() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Publish stores f and wakes the consumer. It returns the frame that was
// displaced, or f itself once the mailbox is closed, so the caller can
// recycle it. It never blocks.
func (m *Mailbox) Publish(f *frame.Frame) *frame.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return f
	}

	dropped := m.frame
	if dropped != nil {
		m.drops++
	}
	m.frame = f
	m.published++
	m.cond.Signal()
	return dropped
}

// Consume blocks until a frame is available. After Close it hands out the
// pending frame, if any, and then returns nil.
func (m *Mailbox) Consume() *frame.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.frame == nil && !m.closed {
		m.cond.Wait()
	}

	f := m.frame
	m.frame = nil
	return f
}

// Close wakes a blocked consumer. It is safe to call more than once.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
}

func (m *Mailbox) Drops() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops
}

func (m *Mailbox) Published() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published
}
