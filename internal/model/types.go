// Package model defines domain types used by the service.
package model

import "time"

// Product is an immutable catalog record resolved from a scanned code.
type Product struct {
	Code      string `json:"code" msgpack:"code"`
	Name      string `json:"name" msgpack:"name"`
	Category  string `json:"category" msgpack:"category"`
	UnitPrice int64  `json:"price" msgpack:"price"`
}

// CartLine is the aggregated state of one product in the cart.
type CartLine struct {
	Name      string `json:"name" msgpack:"name"`
	UnitPrice int64  `json:"price" msgpack:"price"`
	Quantity  int64  `json:"quantity" msgpack:"quantity"`
	Category  string `json:"category" msgpack:"category"`
	Subtotal  int64  `json:"total_price" msgpack:"total_price"`
}

// EventKind names an outbound kiosk event.
type EventKind string

const (
	EventSessionStarted EventKind = "session_started"
	EventSessionStopped EventKind = "session_stopped"
	EventScanAccepted   EventKind = "scan_accepted"
	EventCartCleared    EventKind = "cart_cleared"
)

// Event is published to downstream consumers through the outbox.
type Event struct {
	Kind      EventKind `json:"kind" msgpack:"kind"`
	Sequence  uint64    `json:"sequence" msgpack:"sequence"`
	SessionID string    `json:"session_id,omitempty" msgpack:"session_id,omitempty"`
	At        time.Time `json:"at" msgpack:"at"`
	Product   *Product  `json:"product,omitempty" msgpack:"product,omitempty"`
	Line      *CartLine `json:"line,omitempty" msgpack:"line,omitempty"`
}
