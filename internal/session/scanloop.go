package session

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/fairyhunter13/scan-kiosk/internal/capture"
	"github.com/fairyhunter13/scan-kiosk/internal/obs"
)

// scanLoop reads, decodes and applies frames until r ends. A device that
// stopped producing frames is reported once and retried on every pass; other
// read failures are logged each time.
func (c *Controller) scanLoop(r *run) {
	defer close(r.done)
	lost := false
	for r.ctx.Err() == nil {
		frame, err := c.readFrame(r.ctx, r)
		switch {
		case err == nil:
			if lost {
				obs.Logger.Info("camera_recovered", "session_id", r.id)
			}
			lost = false
			c.stats.framesRead.Add(1)
			c.scanFrame(r, frame)
		case r.ctx.Err() != nil, errors.Is(err, ErrNotRunning):
			return
		case errors.Is(err, capture.ErrNoFrame):
			c.stats.framesMissed.Add(1)
			obs.Logger.Debug("frame_read_missed", "session_id", r.id)
		case capture.IsTerminal(err):
			c.stats.deviceFailures.Add(1)
			if !lost {
				obs.Logger.Error("camera_lost", "session_id", r.id, "error", err)
			}
			lost = true
		default:
			c.stats.readErrors.Add(1)
			obs.Logger.Warn("frame_read_failed", "session_id", r.id, "error", err)
		}
		if !sleep(r.ctx, c.cfg.Interval) {
			return
		}
	}
}

func (c *Controller) scanFrame(r *run, frame capture.Frame) {
	dets, err := c.decoder.Decode(frame.Image)
	if err != nil {
		obs.Logger.Warn("frame_decode_failed", "session_id", r.id, "trace_id", frame.TraceID, "error", err)
		return
	}
	for _, d := range dets {
		if r.ctx.Err() != nil {
			return
		}
		_, _ = c.handleCode(r, d.Code, "camera")
	}
}

// readFrame reads from the period's device, holding the guard across the
// read when reads are serialized.
func (c *Controller) readFrame(ctx context.Context, r *run) (capture.Frame, error) {
	if c.cfg.SerializeReads {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.run != r {
			return capture.Frame{}, ErrNotRunning
		}
	}
	return r.dev.Read(ctx)
}

// sleep pauses for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
