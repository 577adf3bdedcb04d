package emitter

import (
	"context"

	"github.com/fairyhunter13/scan-kiosk/internal/model"
	"github.com/fairyhunter13/scan-kiosk/internal/obs"
)

// Log writes events to the structured log. It is used when no broker is set.
type Log struct{}

// Publish logs ev at info level.
func (Log) Publish(_ context.Context, ev model.Event) error {
	attrs := []any{"kind", ev.Kind, "sequence", ev.Sequence, "session_id", ev.SessionID, "at", ev.At}
	if ev.Product != nil {
		attrs = append(attrs, "code", ev.Product.Code, "name", ev.Product.Name)
	}
	if ev.Line != nil {
		attrs = append(attrs, "quantity", ev.Line.Quantity, "subtotal", ev.Line.Subtotal)
	}
	obs.Logger.Info("event", attrs...)
	return nil
}
