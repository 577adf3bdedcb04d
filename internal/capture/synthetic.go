package capture

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg" // fixture decoding
	_ "image/png"  // fixture decoding
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	xdraw "golang.org/x/image/draw"

	"github.com/fairyhunter13/scan-kiosk/internal/obs"
)

// Synthetic is an Opener producing frames without camera hardware. Frames are
// the given images on a white canvas of the configured size, replayed in order
// at the configured rate, or a blank grey frame when there are none. Images
// that fit are drawn unscaled at the origin; larger ones are scaled down to
// fit, keeping their aspect ratio. Like a real camera it allows a single live
// handle at a time.
type Synthetic struct {
	mu     sync.Mutex
	frames []image.Image
	busy   bool
	opens  int
	fail   error
}

// NewSynthetic returns an opener replaying frames.
func NewSynthetic(frames ...image.Image) *Synthetic {
	return &Synthetic{frames: frames}
}

// LoadFixtures builds a Synthetic opener from the PNG and JPEG files in dir,
// replayed in file name order. An empty dir yields blank frames.
func LoadFixtures(dir string) (*Synthetic, error) {
	if dir == "" {
		return NewSynthetic(), nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read fixture dir")
	}
	var names []string
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
	}
	sort.Strings(names)
	frames := make([]image.Image, 0, len(names))
	for _, name := range names {
		img, err := decodeFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		frames = append(frames, img)
	}
	return NewSynthetic(frames...), nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open fixture")
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode fixture %s", filepath.Base(path))
	}
	return img, nil
}

// FailOpens makes later Open calls fail with err until cleared with nil.
func (s *Synthetic) FailOpens(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

// Opens returns how many devices have been acquired.
func (s *Synthetic) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// Busy reports whether a handle is currently held.
func (s *Synthetic) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Open starts a device producing frames at cfg.FPS.
func (s *Synthetic) Open(_ context.Context, cfg Config) (Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, errors.Wrap(ErrDeviceUnavailable, s.fail.Error())
	}
	if s.busy {
		return nil, errors.Wrap(ErrDeviceUnavailable, "device busy")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.Wrapf(ErrDeviceUnavailable, "unsupported resolution %dx%d", cfg.Width, cfg.Height)
	}
	rect := image.Rect(0, 0, cfg.Width, cfg.Height)
	var frames []*image.RGBA
	for _, src := range s.frames {
		dst := image.NewRGBA(rect)
		draw.Draw(dst, rect, image.NewUniform(color.White), image.Point{}, draw.Src)
		fitInto(dst, src)
		frames = append(frames, dst)
	}
	if len(frames) == 0 {
		blank := image.NewRGBA(rect)
		draw.Draw(blank, rect, image.NewUniform(color.Gray{Y: 0x80}), image.Point{}, draw.Src)
		frames = append(frames, blank)
	}
	fps := cfg.FPS
	if fps <= 0 {
		fps = 30
	}
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = time.Second
	}

	s.busy = true
	s.opens++
	d := &syntheticDevice{
		box:     NewMailbox(),
		timeout: timeout,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		release: func() {
			s.mu.Lock()
			s.busy = false
			s.mu.Unlock()
		},
	}
	go d.run(frames, time.Second/time.Duration(fps))
	return d, nil
}

// fitInto draws src at the origin of dst, scaling it down when it is larger.
func fitInto(dst *image.RGBA, src image.Image) {
	sb, db := src.Bounds(), dst.Bounds()
	w, h := sb.Dx(), sb.Dy()
	if w <= db.Dx() && h <= db.Dy() {
		draw.Draw(dst, image.Rect(0, 0, w, h), src, sb.Min, draw.Src)
		return
	}
	if w*db.Dy() > h*db.Dx() {
		w, h = db.Dx(), max(h*db.Dx()/w, 1)
	} else {
		w, h = max(w*db.Dy()/h, 1), db.Dy()
	}
	xdraw.ApproxBiLinear.Scale(dst, image.Rect(0, 0, w, h), src, sb, draw.Src, nil)
}

type syntheticDevice struct {
	box     *Mailbox
	timeout time.Duration
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	release func()
}

func (d *syntheticDevice) run(frames []*image.RGBA, period time.Duration) {
	defer close(d.done)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	i := 0
	for {
		d.box.Publish(frames[i%len(frames)], time.Now())
		i++
		select {
		case <-d.stop:
			return
		case <-ticker.C:
		}
	}
}

func (d *syntheticDevice) Read(ctx context.Context) (Frame, error) {
	return d.box.Next(ctx, d.timeout)
}

func (d *syntheticDevice) Close() error {
	d.once.Do(func() {
		close(d.stop)
		<-d.done
		d.box.Close(ErrDeviceClosed)
		d.release()
		obs.Logger.Debug("synthetic_camera_closed", "frames", d.box.Published())
	})
	return nil
}
