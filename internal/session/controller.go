// Package session runs the kiosk scan engine: the Stopped/Running state
// machine, the scan loop that feeds the cart, and the annotated preview.
//
// All shared state (capture open/close, cart, latest product, duplicate
// suppression) sits behind one mutex held for single short steps only. Frame
// reads and decoding happen outside it unless reads are configured to be
// serialized.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/fairyhunter13/scan-kiosk/internal/capture"
	"github.com/fairyhunter13/scan-kiosk/internal/cart"
	"github.com/fairyhunter13/scan-kiosk/internal/decode"
	"github.com/fairyhunter13/scan-kiosk/internal/dedup"
	"github.com/fairyhunter13/scan-kiosk/internal/model"
	"github.com/fairyhunter13/scan-kiosk/internal/obs"
	"github.com/fairyhunter13/scan-kiosk/internal/overlay"
)

// Status is the outcome reported by Start and Stop.
type Status string

const (
	StatusScanning        Status = "scanning"
	StatusAlreadyScanning Status = "already_scanning"
	StatusStopped         Status = "stopped"
)

var (
	// ErrNotRunning is returned by operations that need a running session.
	ErrNotRunning = errors.New("scan session not running")
	// ErrSuppressed is returned when a code repeats within the cool-down.
	ErrSuppressed = errors.New("duplicate scan suppressed")
	// ErrUnknownCode is returned when a code does not resolve to a product.
	ErrUnknownCode = errors.New("code not in catalog")
)

// Resolver looks codes up in the catalog.
type Resolver interface {
	Resolve(code string) (model.Product, bool)
}

// Notifier receives session events. Notify must not block.
type Notifier interface {
	Notify(ev model.Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(model.Event) {}

// Config tunes the controller.
type Config struct {
	CoolDown       time.Duration
	Interval       time.Duration
	SerializeReads bool
	JPEGQuality    int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Deps are the controller's collaborators. Notifier may be nil.
type Deps struct {
	Resolver Resolver
	Decoder  decode.Decoder
	Camera   *capture.Session
	Overlay  *overlay.Renderer
	Notifier Notifier
}

// Controller owns the scan session.
type Controller struct {
	cfg      Config
	resolver Resolver
	decoder  decode.Decoder
	camera   *capture.Session
	overlay  *overlay.Renderer
	notifier Notifier

	mu     sync.Mutex
	run    *run
	cart   *cart.Cart
	latest *model.Product
	dedup  *dedup.Suppressor

	stats counters
}

// run is one Running period. Its context ends when the period ends.
type run struct {
	id      string
	started time.Time
	dev     capture.Device
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns a stopped controller with an empty cart.
func New(cfg Config, deps Deps) *Controller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 80
	}
	n := deps.Notifier
	if n == nil {
		n = nopNotifier{}
	}
	return &Controller{
		cfg:      cfg,
		resolver: deps.Resolver,
		decoder:  deps.Decoder,
		camera:   deps.Camera,
		overlay:  deps.Overlay,
		notifier: n,
		cart:     cart.New(),
		dedup:    dedup.New(cfg.CoolDown),
	}
}

// Start opens the camera and launches the scan loop. Calling Start while
// running changes nothing and reports StatusAlreadyScanning. If the camera
// cannot be acquired the controller stays stopped and the error matches
// capture.ErrDeviceUnavailable.
func (c *Controller) Start() (Status, error) {
	c.mu.Lock()
	if c.run != nil {
		c.mu.Unlock()
		return StatusAlreadyScanning, nil
	}
	dev, err := c.camera.Open(context.Background())
	if err != nil {
		c.mu.Unlock()
		return StatusStopped, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:      uuid.NewString(),
		started: c.cfg.Now(),
		dev:     dev,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.run = r
	c.mu.Unlock()

	obs.Logger.Info("session_started", "session_id", r.id)
	c.notifier.Notify(model.Event{Kind: model.EventSessionStarted, SessionID: r.id, At: r.started})
	go c.scanLoop(r)
	return StatusScanning, nil
}

// Stop ends the running period, releases the camera and waits for the scan
// loop to exit. Stopping a stopped controller is a no-op.
func (c *Controller) Stop() Status {
	c.mu.Lock()
	r := c.run
	if r == nil {
		c.mu.Unlock()
		return StatusStopped
	}
	c.run = nil
	r.cancel()
	_ = c.camera.Close()
	c.mu.Unlock()

	<-r.done
	obs.Logger.Info("session_stopped", "session_id", r.id, "duration", c.cfg.Now().Sub(r.started))
	c.notifier.Notify(model.Event{Kind: model.EventSessionStopped, SessionID: r.id, At: c.cfg.Now()})
	return StatusStopped
}

// Running reports whether a scan session is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run != nil
}

// SessionID returns the running period's id, or "" when stopped.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return ""
	}
	return c.run.id
}

// Cart returns an ordered copy of the cart. It is readable in any state.
func (c *Controller) Cart() cart.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cart.Snapshot()
}

// Latest returns the most recently accepted product.
func (c *Controller) Latest() (model.Product, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return model.Product{}, false
	}
	return *c.latest, true
}

// ClearCart empties the cart and forgets the latest product and the
// suppressed code, so the next customer starts fresh.
func (c *Controller) ClearCart() {
	c.mu.Lock()
	c.cart.Clear()
	c.latest = nil
	c.dedup.Reset()
	var id string
	if c.run != nil {
		id = c.run.id
	}
	c.mu.Unlock()

	obs.Logger.Info("cart_cleared", "session_id", id)
	c.notifier.Notify(model.Event{Kind: model.EventCartCleared, SessionID: id, At: c.cfg.Now()})
}

// Submit feeds a manually entered code through the same path as a camera
// detection.
func (c *Controller) Submit(code string) (model.CartLine, error) {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return model.CartLine{}, ErrNotRunning
	}
	return c.handleCode(r, code, "manual")
}

// State is a point-in-time view for status pages.
type State struct {
	Status     Status         `json:"status"`
	SessionID  string         `json:"session_id,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	DeviceOpen bool           `json:"device_open"`
	Lines      int            `json:"lines"`
	Items      int64          `json:"item_count"`
	Total      int64          `json:"total"`
	Latest     *model.Product `json:"latest_product,omitempty"`
	CoolDownMS int64          `json:"cooldown_ms"`
	LastCode   string         `json:"last_accepted_code,omitempty"`
	LastAt     *time.Time     `json:"last_accepted_at,omitempty"`
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.cart.Snapshot()
	s := State{
		Status:     StatusStopped,
		DeviceOpen: c.camera.IsOpen(),
		Lines:      len(snap.Lines),
		Items:      snap.ItemCount(),
		Total:      snap.Total(),
		CoolDownMS: c.dedup.CoolDown().Milliseconds(),
	}
	if code, at, ok := c.dedup.Last(); ok {
		s.LastCode = code
		s.LastAt = &at
	}
	if c.run != nil {
		started := c.run.started
		s.Status = StatusScanning
		s.SessionID = c.run.id
		s.StartedAt = &started
	}
	if c.latest != nil {
		p := *c.latest
		s.Latest = &p
	}
	return s
}

// handleCode runs one detection through suppress, resolve and apply.
func (c *Controller) handleCode(r *run, code, source string) (model.CartLine, error) {
	c.stats.detections.Add(1)
	now := c.cfg.Now()
	if !c.accept(code, now) {
		c.stats.suppressed.Add(1)
		return model.CartLine{}, ErrSuppressed
	}
	p, ok := c.resolver.Resolve(code)
	if !ok {
		c.stats.unresolved.Add(1)
		obs.Logger.Debug("code_unresolved", "code", code, "source", source)
		return model.CartLine{}, errors.Wrapf(ErrUnknownCode, "%q", code)
	}
	line, err := c.apply(r, code, now, p)
	if err != nil {
		if errors.Is(err, ErrSuppressed) {
			c.stats.suppressed.Add(1)
		}
		return model.CartLine{}, err
	}
	c.stats.accepted.Add(1)
	obs.Logger.Info("scan_accepted",
		"session_id", r.id,
		"source", source,
		"code", code,
		"name", p.Name,
		"category", p.Category,
		"price", c.overlay.FormatPrice(p.UnitPrice),
		"quantity", line.Quantity,
		"subtotal", c.overlay.FormatPrice(line.Subtotal),
	)
	prod := p
	c.notifier.Notify(model.Event{Kind: model.EventScanAccepted, SessionID: r.id, At: now, Product: &prod, Line: &line})
	return line, nil
}

func (c *Controller) accept(code string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dedup.Accept(code, now)
}

// apply adds p to the cart, remembers the code and the latest product in one
// guarded step. Results from a period that already ended are discarded, and a
// repeat that slipped in since accept is rejected.
func (c *Controller) apply(r *run, code string, now time.Time, p model.Product) (model.CartLine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != r {
		return model.CartLine{}, ErrNotRunning
	}
	if !c.dedup.Accept(code, now) {
		return model.CartLine{}, ErrSuppressed
	}
	line := c.cart.Apply(p)
	c.dedup.Record(code, now)
	c.latest = &p
	return line, nil
}
