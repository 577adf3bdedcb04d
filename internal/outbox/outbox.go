// Package outbox sequences kiosk events and publishes them from background
// workers so producers never wait on the network.
package outbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/scan-kiosk/internal/config"
	"github.com/fairyhunter13/scan-kiosk/internal/model"
	"github.com/fairyhunter13/scan-kiosk/internal/obs"
)

// Publisher delivers one event downstream.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// PublishTimeout bounds a single delivery attempt.
var PublishTimeout = 5 * time.Second

// Outbox owns the queue, the sequencer and a fixed pool of workers.
type Outbox struct {
	cfg config.OutboxConfig
	q   *Queue
	pub Publisher
	seq Sequencer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	published atomic.Uint64
	failed    atomic.Uint64
}

// New constructs an Outbox publishing through pub.
func New(cfg config.OutboxConfig, pub Publisher) *Outbox {
	return &Outbox{cfg: cfg, q: NewQueue(cfg.Buffer, cfg.HighWatermark), pub: pub}
}

// Start launches the broker and workers.
func (o *Outbox) Start(parent context.Context) {
	o.ctx, o.cancel = context.WithCancel(parent)
	o.q.Start(o.ctx)
	n := max(o.cfg.Workers, 1)
	for i := 0; i < n; i++ {
		o.wg.Add(1)
		go o.worker(o.ctx)
	}
	obs.Logger.Info("outbox_started", "worker_count", n)
}

// Stop cancels the workers and waits for them to return.
func (o *Outbox) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

func (o *Outbox) worker(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-o.q.Out():
			o.deliver(ctx, ev)
			o.q.MarkProcessed()
		}
	}
}

func (o *Outbox) deliver(ctx context.Context, ev model.Event) {
	pctx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()
	if err := o.pub.Publish(pctx, ev); err != nil {
		o.failed.Add(1)
		obs.Logger.Warn("event_publish_failed", "kind", ev.Kind, "sequence", ev.Sequence, "error", err)
		return
	}
	o.published.Add(1)
}

// Notify stamps ev with the next sequence number and queues it. It never
// blocks; events offered after CloseIntake are dropped.
func (o *Outbox) Notify(ev model.Event) {
	if !o.q.EnqueueStamped(ev, o.stamp) {
		obs.Logger.Debug("event_rejected_shutting_down", "kind", ev.Kind)
	}
}

func (o *Outbox) stamp(ev *model.Event) {
	ev.Sequence = o.seq.Next()
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
}

// CloseIntake rejects future events.
func (o *Outbox) CloseIntake() { o.q.CloseIntake() }

// DrainUntil blocks until every queued event has been handled or ctx ends.
func (o *Outbox) DrainUntil(ctx context.Context) bool {
	for {
		if o.q.Settled() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Metrics is a point-in-time view of the outbox counters.
type Metrics struct {
	Enqueued  uint64 `json:"enqueued"`
	Processed uint64 `json:"processed"`
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Backlog   int    `json:"backlog"`
	Depth     int    `json:"depth"`
	LastSeq   uint64 `json:"last_sequence"`
}

// Metrics returns the current counters.
func (o *Outbox) Metrics() Metrics {
	return Metrics{
		Enqueued:  o.q.enqueued.Load(),
		Processed: o.q.processed.Load(),
		Published: o.published.Load(),
		Failed:    o.failed.Load(),
		Dropped:   o.q.dropped.Load(),
		Backlog:   o.q.BacklogSize(),
		Depth:     o.q.Depth(),
		LastSeq:   o.seq.Last(),
	}
}
