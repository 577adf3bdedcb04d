package capture

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/fairyhunter13/scan-kiosk/internal/obs"
)

// Session tracks whether the camera is held. It is not safe for concurrent
// use; the owner serializes Open and Close.
type Session struct {
	opener Opener
	cfg    Config
	dev    Device
}

// NewSession returns a closed session that acquires devices through opener.
func NewSession(opener Opener, cfg Config) *Session {
	return &Session{opener: opener, cfg: cfg}
}

// Open acquires the device, or returns the held one if already open.
func (s *Session) Open(ctx context.Context) (Device, error) {
	if s.dev != nil {
		return s.dev, nil
	}
	dev, err := s.opener.Open(ctx, s.cfg)
	if err != nil {
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = errors.Wrap(ErrDeviceUnavailable, err.Error())
		}
		obs.Logger.Error("camera_open_failed", "device", s.cfg.Device, "error", err)
		return nil, err
	}
	s.dev = dev
	obs.Logger.Info("camera_opened", "device", s.cfg.Device, "width", s.cfg.Width, "height", s.cfg.Height)
	return dev, nil
}

// IsOpen reports whether a device is held.
func (s *Session) IsOpen() bool { return s.dev != nil }

// Close releases the device. Closing a closed session is a no-op.
func (s *Session) Close() error {
	if s.dev == nil {
		return nil
	}
	dev := s.dev
	s.dev = nil
	if err := dev.Close(); err != nil {
		obs.Logger.Warn("camera_close_failed", "device", s.cfg.Device, "error", err)
		return errors.Wrap(err, "close device")
	}
	obs.Logger.Info("camera_released", "device", s.cfg.Device)
	return nil
}
