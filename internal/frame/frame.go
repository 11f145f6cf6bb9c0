// Package frame captures the driven browser's visible surface as a stream
// of encoded snapshots.
package frame

import "sync"

// Frame is one immutable snapshot of the browser surface. Data holds the
// encoded JPEG bytes. Seq increases monotonically per producer; a viewer
// never observes sequence numbers out of order, though it may skip some
// under load.
type Frame struct {
	Width  int
	Height int
	Seq    uint64
	Data   []byte
}

// Mailbox holds at most the latest frame. Putting a new frame overwrites
// an unconsumed one: delivery is at-most-latest, never a backlog.
type Mailbox struct {
	mu    sync.Mutex
	frame *Frame
	ready chan struct{}
}

func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{}, 1)}
}

// Put replaces the pending frame and signals a waiting consumer.
func (m *Mailbox) Put(f *Frame) {
	m.mu.Lock()
	m.frame = f
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// Take removes and returns the pending frame, or nil if none is pending.
func (m *Mailbox) Take() *Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.frame
	m.frame = nil
	return f
}

// Ready signals when a frame is pending. After receiving, call Take.
func (m *Mailbox) Ready() <-chan struct{} {
	return m.ready
}
