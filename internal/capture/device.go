// Package capture owns camera devices and their open/close lifecycle.
package capture

import (
	"context"
	"image"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrDeviceUnavailable is returned when a device cannot be acquired.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrNoFrame is a transient miss: no fresh frame arrived within the read timeout.
	ErrNoFrame = errors.New("no frame available")
	// ErrDeviceClosed is returned by reads after the device was released.
	ErrDeviceClosed = errors.New("capture device closed")
	// ErrDeviceFailed is returned by reads after the device reported a fatal error.
	ErrDeviceFailed = errors.New("capture device failed")
)

// Frame is one captured image. Frames are shared between readers and must be
// treated as read-only; clone Image before drawing on it.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Image     *image.RGBA
	TraceID   string
}

// Device is an acquired camera handle.
//
// Read must be safe to call from several goroutines and concurrently with
// Close. It returns within the device's read timeout: ErrNoFrame on a transient
// miss, ErrDeviceClosed or ErrDeviceFailed once the device is unusable.
type Device interface {
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// Config describes the requested capture format.
type Config struct {
	Device      string
	Width       int
	Height      int
	FPS         int
	ReadTimeout time.Duration
}

// Opener acquires a device. Failures must match ErrDeviceUnavailable.
type Opener interface {
	Open(ctx context.Context, cfg Config) (Device, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, cfg Config) (Device, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, cfg Config) (Device, error) { return f(ctx, cfg) }

// IsTerminal reports whether err means the device can no longer produce frames.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrDeviceClosed) || errors.Is(err, ErrDeviceFailed)
}

// CloneRGBA returns a deep copy of img.
func CloneRGBA(img *image.RGBA) *image.RGBA {
	out := image.NewRGBA(img.Rect)
	if img.Stride == out.Stride {
		copy(out.Pix, img.Pix)
		return out
	}
	for y := img.Rect.Min.Y; y < img.Rect.Max.Y; y++ {
		src := img.Pix[img.PixOffset(img.Rect.Min.X, y):img.PixOffset(img.Rect.Max.X, y)]
		copy(out.Pix[out.PixOffset(out.Rect.Min.X, y):], src)
	}
	return out
}
