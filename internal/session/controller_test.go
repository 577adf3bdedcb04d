package session

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/scan-kiosk/internal/capture"
	"github.com/fairyhunter13/scan-kiosk/internal/decode"
	"github.com/fairyhunter13/scan-kiosk/internal/model"
	"github.com/fairyhunter13/scan-kiosk/internal/overlay"
)

const (
	soapCode  = "8901030875845"
	waterCode = "8992761111113"
)

var products = map[string]model.Product{
	soapCode:  {Code: soapCode, Name: "Soap", Category: "Toiletries", UnitPrice: 2500},
	waterCode: {Code: waterCode, Name: "Mineral Water", Category: "Beverages", UnitPrice: 3000},
}

type mapResolver map[string]model.Product

func (m mapResolver) Resolve(code string) (model.Product, bool) {
	p, ok := m[code]
	return p, ok
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(offset time.Duration) {
	c.mu.Lock()
	c.t = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC).Add(offset)
	c.mu.Unlock()
}

// scripted is a decoder reporting the same codes for every frame.
type scripted struct{ codes atomic.Value }

func (s *scripted) Set(codes ...string) { s.codes.Store(codes) }

func (s *scripted) Decode(image.Image) ([]decode.Detection, error) {
	codes, _ := s.codes.Load().([]string)
	out := make([]decode.Detection, 0, len(codes))
	for _, c := range codes {
		out = append(out, decode.Detection{Code: c, Format: "EAN_13"})
	}
	return out, nil
}

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Notify(ev model.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() []model.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.EventKind
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type harness struct {
	ctl    *Controller
	cam    *capture.Synthetic
	clock  *clock
	dec    *scripted
	events *recorder
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{cam: capture.NewSynthetic(), clock: newClock(), dec: &scripted{}, events: &recorder{}}
	h.dec.Set()
	cfg := Config{
		CoolDown:    3 * time.Second,
		Interval:    time.Millisecond,
		JPEGQuality: 80,
		Now:         h.clock.Now,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	camCfg := capture.Config{Device: "synthetic0", Width: 160, Height: 120, FPS: 200, ReadTimeout: 100 * time.Millisecond}
	h.ctl = New(cfg, Deps{
		Resolver: mapResolver(products),
		Decoder:  h.dec,
		Camera:   capture.NewSession(h.cam, camCfg),
		Overlay:  overlay.New("Rp"),
		Notifier: h.events,
	})
	t.Cleanup(func() { h.ctl.Stop() })
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	st, err := h.ctl.Start()
	require.NoError(t, err)
	require.Equal(t, StatusScanning, st)
}

func TestSoapScenario(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	line, err := h.ctl.Submit(soapCode)
	require.NoError(t, err)
	assert.Equal(t, int64(1), line.Quantity)
	assert.Equal(t, int64(2500), line.Subtotal)

	h.clock.Set(time.Second)
	_, err = h.ctl.Submit(soapCode)
	assert.True(t, errors.Is(err, ErrSuppressed))

	h.clock.Set(4 * time.Second)
	line, err = h.ctl.Submit(soapCode)
	require.NoError(t, err)
	assert.Equal(t, int64(2), line.Quantity)

	b, err := json.Marshal(h.ctl.Cart())
	require.NoError(t, err)
	assert.JSONEq(t, `{"Soap":{"price":2500,"quantity":2,"category":"Toiletries","total_price":5000}}`, string(b))
}

func TestScanLoopSuppressesRepeatedFrames(t *testing.T) {
	h := newHarness(t)
	h.dec.Set(soapCode)
	h.start(t)

	require.Eventually(t, func() bool { return h.ctl.Stats().Detections >= 5 }, 2*time.Second, 5*time.Millisecond)
	snap := h.ctl.Cart()
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, int64(1), snap.Lines[0].Quantity, "repeated frames inside the cool-down count once")

	h.clock.Set(4 * time.Second)
	require.Eventually(t, func() bool {
		s := h.ctl.Cart()
		return len(s.Lines) == 1 && s.Lines[0].Quantity == 2
	}, 2*time.Second, 5*time.Millisecond)

	before := h.ctl.Stats().Detections
	require.Eventually(t, func() bool { return h.ctl.Stats().Detections >= before+5 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), h.ctl.Cart().Lines[0].Quantity)
	p, ok := h.ctl.Latest()
	require.True(t, ok)
	assert.Equal(t, "Soap", p.Name)
}

func TestAlternatingCodesAreNotSuppressed(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	for _, code := range []string{soapCode, waterCode, soapCode} {
		_, err := h.ctl.Submit(code)
		require.NoError(t, err, code)
	}
	snap := h.ctl.Cart()
	require.Len(t, snap.Lines, 2)
	assert.Equal(t, "Soap", snap.Lines[0].Name)
	assert.Equal(t, int64(2), snap.Lines[0].Quantity)
	assert.Equal(t, int64(1), snap.Lines[1].Quantity)
	assert.Equal(t, int64(8000), snap.Total())
}

func TestUnknownCodeLeavesSuppressorAlone(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	_, err := h.ctl.Submit(soapCode)
	require.NoError(t, err)

	_, err = h.ctl.Submit("0000000000000")
	assert.True(t, errors.Is(err, ErrUnknownCode))

	h.clock.Set(time.Second)
	_, err = h.ctl.Submit(soapCode)
	assert.True(t, errors.Is(err, ErrSuppressed), "unknown code must not clear the remembered one")
	assert.Equal(t, uint64(1), h.ctl.Stats().Unresolved)
}

func TestStartIsIdempotentAndStopReleasesDevice(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	st, err := h.ctl.Start()
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyScanning, st)
	assert.Equal(t, 1, h.cam.Opens())

	assert.Equal(t, StatusStopped, h.ctl.Stop())
	assert.False(t, h.cam.Busy(), "device released when Stop returns")
	assert.False(t, h.ctl.Running())
	assert.Equal(t, StatusStopped, h.ctl.Stop())

	h.start(t)
	assert.Equal(t, 2, h.cam.Opens())
}

func TestStartDeviceUnavailable(t *testing.T) {
	h := newHarness(t)
	h.cam.FailOpens(errors.New("no camera attached"))

	st, err := h.ctl.Start()
	assert.Equal(t, StatusStopped, st)
	assert.True(t, errors.Is(err, capture.ErrDeviceUnavailable))
	assert.False(t, h.ctl.Running())

	h.cam.FailOpens(nil)
	h.start(t)
}

func TestOperationsRequiringRunning(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctl.Preview(context.Background())
	assert.True(t, errors.Is(err, ErrNotRunning))
	_, err = h.ctl.Submit(soapCode)
	assert.True(t, errors.Is(err, ErrNotRunning))
	assert.Empty(t, h.ctl.Cart().Lines, "cart readable while stopped")
}

func TestPreviewStreamsJPEGUntilStop(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	seq, err := h.ctl.Preview(context.Background())
	require.NoError(t, err)

	first := make(chan []byte, 1)
	done := make(chan int)
	go func() {
		n := 0
		for frame := range seq {
			if n == 0 {
				first <- frame
			}
			n++
		}
		done <- n
	}()

	var payload []byte
	select {
	case payload = <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("no preview frame")
	}
	img, err := jpeg.Decode(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 160, 120), img.Bounds())

	h.ctl.Stop()
	select {
	case n := <-done:
		assert.Positive(t, n)
	case <-time.After(2 * time.Second):
		t.Fatal("preview did not end after stop")
	}

	for range seq {
		t.Fatal("preview sequence is single-use")
	}
}

func TestPreviewEndsWithConsumerContext(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx, cancel := context.WithCancel(context.Background())
	seq, err := h.ctl.Preview(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range seq {
			cancel()
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("preview ignored context cancellation")
	}
	assert.True(t, h.ctl.Running(), "consumer leaving does not stop the session")
}

func TestPreviewDrawsLatestProduct(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	grab := func() image.Image {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		seq, err := h.ctl.Preview(ctx)
		require.NoError(t, err)
		for frame := range seq {
			img, err := jpeg.Decode(bytes.NewReader(frame))
			require.NoError(t, err)
			return img
		}
		t.Fatal("no frame")
		return nil
	}

	plain := grab()
	r0, _, _, _ := plain.At(overlay.Origin.X+2, overlay.Origin.Y-5).RGBA()

	_, err := h.ctl.Submit(soapCode)
	require.NoError(t, err)
	annotated := grab()
	r1, _, _, _ := annotated.At(overlay.Origin.X+2, overlay.Origin.Y-5).RGBA()
	assert.Less(t, r1, r0, "caption backing darkens the frame")

	r2, _, _, _ := annotated.At(150, 110).RGBA()
	assert.InDelta(t, float64(r0), float64(r2), 0x0800, "rest of frame unchanged")
}

func TestConcurrentSubmitsKeepCartConsistent(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.CoolDown = 0 })
	h.start(t)

	const workers, perWorker = 8, 50
	stop := make(chan struct{})
	var readerErr atomic.Value
	var readerWG sync.WaitGroup
	readerWG.Add(1)
	go func() {
		defer readerWG.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, l := range h.ctl.Cart().Lines {
				if l.Subtotal != l.UnitPrice*l.Quantity {
					readerErr.Store(l)
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				code := soapCode
				if (w+i)%2 == 0 {
					code = waterCode
				}
				_, err := h.ctl.Submit(code)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()
	close(stop)
	readerWG.Wait()

	assert.Nil(t, readerErr.Load(), "snapshot observed a torn line")
	snap := h.ctl.Cart()
	assert.Equal(t, int64(workers*perWorker), snap.ItemCount())
	for _, l := range snap.Lines {
		assert.Equal(t, l.UnitPrice*l.Quantity, l.Subtotal)
	}
}

func TestClearCartResetsLatestAndSuppressor(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	_, err := h.ctl.Submit(soapCode)
	require.NoError(t, err)

	h.ctl.ClearCart()
	assert.Empty(t, h.ctl.Cart().Lines)
	_, ok := h.ctl.Latest()
	assert.False(t, ok)

	line, err := h.ctl.Submit(soapCode)
	require.NoError(t, err, "next customer may scan the same item immediately")
	assert.Equal(t, int64(1), line.Quantity)
}

func TestResultsFromEndedPeriodAreDiscarded(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.ctl.mu.Lock()
	stale := h.ctl.run
	h.ctl.mu.Unlock()
	h.ctl.Stop()

	_, err := h.ctl.handleCode(stale, soapCode, "camera")
	assert.True(t, errors.Is(err, ErrNotRunning))
	assert.Empty(t, h.ctl.Cart().Lines)
}

func TestSerializedReads(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.SerializeReads = true })
	h.dec.Set(waterCode)
	h.start(t)
	require.Eventually(t, func() bool { return len(h.ctl.Cart().Lines) == 1 }, 2*time.Second, 5*time.Millisecond)

	seq, err := h.ctl.Preview(context.Background())
	require.NoError(t, err)
	for range seq {
		break
	}
	assert.Equal(t, StatusStopped, h.ctl.Stop())
}

func TestEventsAndState(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, StatusStopped, h.ctl.State().Status)

	h.start(t)
	_, err := h.ctl.Submit(soapCode)
	require.NoError(t, err)

	st := h.ctl.State()
	assert.Equal(t, StatusScanning, st.Status)
	assert.NotEmpty(t, st.SessionID)
	assert.True(t, st.DeviceOpen)
	assert.Equal(t, int64(2500), st.Total)
	require.NotNil(t, st.Latest)
	assert.Equal(t, "Soap", st.Latest.Name)
	assert.Equal(t, int64(3000), st.CoolDownMS)
	assert.Equal(t, soapCode, st.LastCode)
	require.NotNil(t, st.LastAt)
	assert.Equal(t, h.clock.Now(), *st.LastAt)

	h.ctl.ClearCart()
	assert.Empty(t, h.ctl.State().LastCode, "clearing forgets the suppression slot")
	h.ctl.Stop()
	assert.False(t, h.ctl.State().DeviceOpen)
	assert.Equal(t, []model.EventKind{
		model.EventSessionStarted,
		model.EventScanAccepted,
		model.EventCartCleared,
		model.EventSessionStopped,
	}, h.events.kinds())
}

// failingDevice returns err from every read.
type failingDevice struct {
	err   error
	reads atomic.Int64
}

func (d *failingDevice) Read(ctx context.Context) (capture.Frame, error) {
	d.reads.Add(1)
	return capture.Frame{}, d.err
}

func (d *failingDevice) Close() error { return nil }

func TestScanLoopSeparatesDeviceFailuresFromReadErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		terminal bool
	}{
		{"device failed", errors.Wrap(capture.ErrDeviceFailed, "v4l2 unplugged"), true},
		{"device closed", capture.ErrDeviceClosed, true},
		{"other", errors.New("short read"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dev := &failingDevice{err: tc.err}
			opener := capture.OpenerFunc(func(context.Context, capture.Config) (capture.Device, error) { return dev, nil })
			ctl := New(Config{CoolDown: time.Second, Interval: time.Millisecond, JPEGQuality: 80}, Deps{
				Resolver: mapResolver(products),
				Decoder:  decode.Func(func(image.Image) ([]decode.Detection, error) { return nil, nil }),
				Camera:   capture.NewSession(opener, capture.Config{Device: "fake0", Width: 32, Height: 32, FPS: 30, ReadTimeout: 10 * time.Millisecond}),
				Overlay:  overlay.New("Rp"),
				Notifier: &recorder{},
			})
			defer ctl.Stop()
			st, err := ctl.Start()
			require.NoError(t, err)
			require.Equal(t, StatusScanning, st)

			require.Eventually(t, func() bool { return dev.reads.Load() >= 5 }, 2*time.Second, time.Millisecond, "loop keeps retrying")
			assert.True(t, ctl.Running())
			stats := ctl.Stats()
			if tc.terminal {
				assert.GreaterOrEqual(t, stats.DeviceFailures, uint64(4))
				assert.Zero(t, stats.ReadErrors)
			} else {
				assert.GreaterOrEqual(t, stats.ReadErrors, uint64(4))
				assert.Zero(t, stats.DeviceFailures)
			}
		})
	}
}
