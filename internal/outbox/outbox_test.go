package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/scan-kiosk/internal/config"
	"github.com/fairyhunter13/scan-kiosk/internal/model"
)

type recorder struct {
	mu     sync.Mutex
	events []model.Event
	fail   bool
}

func (r *recorder) Publish(_ context.Context, ev model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("broker down")
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) snapshot() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

func TestOutboxSequencesAndDrains(t *testing.T) {
	rec := &recorder{}
	o := New(config.OutboxConfig{Workers: 1, Buffer: 4}, rec)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Stop()

	for i := 0; i < 50; i++ {
		o.Notify(model.Event{Kind: model.EventScanAccepted, SessionID: "s1"})
	}
	dctx, dcancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer dcancel()
	require.True(t, o.DrainUntil(dctx))

	got := rec.snapshot()
	require.Len(t, got, 50)
	for i, ev := range got {
		assert.Equal(t, uint64(i+1), ev.Sequence, "single worker preserves order")
		assert.False(t, ev.At.IsZero())
	}
	m := o.Metrics()
	assert.Equal(t, uint64(50), m.Enqueued)
	assert.Equal(t, uint64(50), m.Published)
	assert.Equal(t, uint64(50), m.LastSeq)
	assert.Zero(t, m.Depth)
}

func TestOutboxConcurrentNotifyKeepsSequenceOrder(t *testing.T) {
	rec := &recorder{}
	o := New(config.OutboxConfig{Workers: 1, Buffer: 2}, rec)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Stop()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				o.Notify(model.Event{Kind: model.EventScanAccepted})
			}
		}()
	}
	wg.Wait()
	dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dcancel()
	require.True(t, o.DrainUntil(dctx))

	got := rec.snapshot()
	require.Len(t, got, 800)
	for i, ev := range got {
		require.Equal(t, uint64(i+1), ev.Sequence, "delivery %d out of sequence order", i)
	}
}

func TestOutboxCountsFailures(t *testing.T) {
	rec := &recorder{fail: true}
	o := New(config.OutboxConfig{Workers: 2, Buffer: 4}, rec)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Stop()

	for i := 0; i < 10; i++ {
		o.Notify(model.Event{Kind: model.EventCartCleared})
	}
	dctx, dcancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer dcancel()
	require.True(t, o.DrainUntil(dctx), "failed deliveries still settle")
	assert.Equal(t, uint64(10), o.Metrics().Failed)
	assert.Empty(t, rec.snapshot())
}

func TestOutboxRejectsAfterCloseIntake(t *testing.T) {
	rec := &recorder{}
	o := New(config.OutboxConfig{Workers: 1, Buffer: 1}, rec)
	o.CloseIntake()
	o.Notify(model.Event{Kind: model.EventSessionStopped})
	assert.Zero(t, o.Metrics().Enqueued)
	assert.True(t, o.DrainUntil(context.Background()))
}

func TestDrainTimesOutWithoutWorkers(t *testing.T) {
	o := New(config.OutboxConfig{Workers: 1, Buffer: 1}, &recorder{})
	o.Notify(model.Event{Kind: model.EventSessionStarted})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.False(t, o.DrainUntil(ctx))
}
