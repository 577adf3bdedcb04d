package session

import (
	"bytes"
	"context"
	"image/jpeg"
	"iter"
	"sync/atomic"

	"github.com/go-faster/errors"

	"github.com/fairyhunter13/scan-kiosk/internal/capture"
	"github.com/fairyhunter13/scan-kiosk/internal/obs"
)

// Preview returns the annotated JPEG stream of the running session. The
// sequence is single-use and ends when the session stops, ctx ends or the
// camera becomes unusable. Frames missed within the read timeout are skipped.
func (c *Controller) Preview(ctx context.Context) (iter.Seq[[]byte], error) {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return nil, ErrNotRunning
	}

	var used atomic.Bool
	return func(yield func([]byte) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		defer context.AfterFunc(r.ctx, cancel)()

		c.stats.previewClients.Add(1)
		defer c.stats.previewClients.Add(-1)

		var buf bytes.Buffer
		opts := &jpeg.Options{Quality: c.cfg.JPEGQuality}
		for ctx.Err() == nil {
			frame, err := c.readFrame(ctx, r)
			if err != nil {
				if errors.Is(err, capture.ErrNoFrame) {
					continue
				}
				if ctx.Err() == nil {
					obs.Logger.Debug("preview_ended", "session_id", r.id, "error", err)
				}
				return
			}
			img := capture.CloneRGBA(frame.Image)
			if p, ok := c.Latest(); ok {
				c.overlay.Annotate(img, p)
			}
			buf.Reset()
			if err := jpeg.Encode(&buf, img, opts); err != nil {
				obs.Logger.Warn("preview_encode_failed", "trace_id", frame.TraceID, "error", err)
				continue
			}
			c.stats.previewFrames.Add(1)
			if !yield(bytes.Clone(buf.Bytes())) {
				return
			}
		}
	}, nil
}
