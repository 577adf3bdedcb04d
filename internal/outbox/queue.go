package outbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/scan-kiosk/internal/model"
	"github.com/fairyhunter13/scan-kiosk/internal/obs"
)

// Queue is an unblocking event backlog with a broker goroutine feeding a
// bounded output channel. When the backlog passes the high watermark the
// oldest events are dropped so a dead broker cannot grow memory without bound.
type Queue struct {
	mu           sync.Mutex
	backlog      []model.Event
	notify       chan struct{}
	out          chan model.Event
	highMark     int
	shuttingDown atomic.Bool

	enqueued  atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
}

// NewQueue creates a Queue. highWatermark <= 0 disables dropping.
func NewQueue(outBuffer, highWatermark int) *Queue {
	if outBuffer <= 0 {
		outBuffer = 64
	}
	return &Queue{
		notify:   make(chan struct{}, 1),
		out:      make(chan model.Event, outBuffer),
		highMark: highWatermark,
	}
}

// Start runs the broker until ctx ends.
func (q *Queue) Start(ctx context.Context) {
	go q.broker(ctx)
}

func (q *Queue) broker(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		q.flushOnce()
		select {
		case <-ctx.Done():
			return
		case <-q.notify:
		case <-ticker.C:
		}
	}
}

// flushOnce moves backlog into the output buffer without blocking.
func (q *Queue) flushOnce() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.backlog) > 0 && len(q.out) < cap(q.out) {
		q.out <- q.backlog[0]
		q.backlog[0] = model.Event{}
		q.backlog = q.backlog[1:]
	}
}

// Enqueue appends ev and wakes the broker. It never blocks and returns false
// once intake is closed.
func (q *Queue) Enqueue(ev model.Event) bool {
	return q.EnqueueStamped(ev, nil)
}

// EnqueueStamped is Enqueue with stamp applied to ev under the queue lock, so
// values assigned by stamp follow backlog order.
func (q *Queue) EnqueueStamped(ev model.Event, stamp func(*model.Event)) bool {
	if q.shuttingDown.Load() {
		return false
	}
	q.enqueued.Add(1)
	q.mu.Lock()
	if stamp != nil {
		stamp(&ev)
	}
	q.backlog = append(q.backlog, ev)
	var shed int
	if q.highMark > 0 && len(q.backlog) > q.highMark {
		shed = len(q.backlog) - q.highMark
		q.backlog = append(q.backlog[:0:0], q.backlog[shed:]...)
	}
	q.mu.Unlock()
	if shed > 0 {
		q.dropped.Add(uint64(shed))
		obs.Logger.Warn("outbox_backlog_shed", "dropped", shed, "high_watermark", q.highMark)
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Out exposes the output channel.
func (q *Queue) Out() <-chan model.Event { return q.out }

// BacklogSize returns events not yet handed to the output channel.
func (q *Queue) BacklogSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// Depth returns backlog plus buffered output items.
func (q *Queue) Depth() int {
	q.mu.Lock()
	bl := len(q.backlog)
	q.mu.Unlock()
	return bl + len(q.out)
}

// MarkProcessed counts one event as handled by a worker.
func (q *Queue) MarkProcessed() { q.processed.Add(1) }

// Settled reports whether every accepted event was processed or dropped.
func (q *Queue) Settled() bool {
	return q.Depth() == 0 && q.enqueued.Load() == q.processed.Load()+q.dropped.Load()
}

// CloseIntake rejects further enqueues.
func (q *Queue) CloseIntake() { q.shuttingDown.Store(true) }

// IsShuttingDown reports if intake has been closed.
func (q *Queue) IsShuttingDown() bool { return q.shuttingDown.Load() }
