package capture

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mailbox holds the latest captured frame and wakes every waiting reader when
// a new one is published. New frames replace old ones; nothing queues.
type Mailbox struct {
	mu     sync.Mutex
	frame  Frame
	seq    uint64
	notify chan struct{}
	err    error
}

// NewMailbox returns an open Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{notify: make(chan struct{})}
}

// Publish stores img as the latest frame. It is a no-op after Close.
func (m *Mailbox) Publish(img *image.RGBA, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return
	}
	m.seq++
	m.frame = Frame{Seq: m.seq, Timestamp: ts, Image: img, TraceID: uuid.NewString()}
	close(m.notify)
	m.notify = make(chan struct{})
}

// Next waits up to timeout for a frame published after the call and returns
// it. It returns ErrNoFrame on timeout and the close reason once closed.
func (m *Mailbox) Next(ctx context.Context, timeout time.Duration) (Frame, error) {
	m.mu.Lock()
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return Frame{}, err
	}
	ch := m.notify
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
		return Frame{}, ErrNoFrame
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Frame{}, m.err
	}
	return m.frame, nil
}

// Close wakes all readers; later reads return reason (ErrDeviceClosed if nil).
// Only the first call has an effect.
func (m *Mailbox) Close(reason error) {
	if reason == nil {
		reason = ErrDeviceClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return
	}
	m.err = reason
	close(m.notify)
}

// Published returns how many frames have been published.
func (m *Mailbox) Published() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq
}
