// Package cart aggregates scanned products into priced line items.
package cart

import (
	"bytes"
	"encoding/json"

	"github.com/fairyhunter13/scan-kiosk/internal/model"
)

// Cart maps product names to line items, ordered by first insertion.
//
// Cart is not safe for concurrent use. The session controller owns it and
// applies every mutation under its guard, so readers of a Snapshot never see a
// line whose subtotal disagrees with its quantity.
type Cart struct {
	lines map[string]*model.CartLine
	order []string
}

// New returns an empty Cart.
func New() *Cart {
	return &Cart{lines: make(map[string]*model.CartLine)}
}

// Apply adds one unit of p, creating its line on first sight, and returns the
// updated line.
func (c *Cart) Apply(p model.Product) model.CartLine {
	l, ok := c.lines[p.Name]
	if !ok {
		l = &model.CartLine{
			Name:      p.Name,
			UnitPrice: p.UnitPrice,
			Category:  p.Category,
		}
		c.lines[p.Name] = l
		c.order = append(c.order, p.Name)
	}
	l.Quantity++
	l.Subtotal = l.UnitPrice * l.Quantity
	return *l
}

// Get returns the line for a product name.
func (c *Cart) Get(name string) (model.CartLine, bool) {
	l, ok := c.lines[name]
	if !ok {
		return model.CartLine{}, false
	}
	return *l, true
}

// Len returns the number of distinct lines.
func (c *Cart) Len() int { return len(c.order) }

// Clear removes every line.
func (c *Cart) Clear() {
	c.lines = make(map[string]*model.CartLine)
	c.order = nil
}

// Snapshot returns a copy of the cart that is independent of later mutations.
func (c *Cart) Snapshot() Snapshot {
	s := Snapshot{Lines: make([]model.CartLine, 0, len(c.order))}
	for _, name := range c.order {
		s.Lines = append(s.Lines, *c.lines[name])
	}
	return s
}

// Snapshot is an ordered, read-only copy of a Cart.
type Snapshot struct {
	Lines []model.CartLine
}

// Total returns the sum of line subtotals.
func (s Snapshot) Total() int64 {
	var t int64
	for _, l := range s.Lines {
		t += l.Subtotal
	}
	return t
}

// ItemCount returns the number of units across all lines.
func (s Snapshot) ItemCount() int64 {
	var n int64
	for _, l := range s.Lines {
		n += l.Quantity
	}
	return n
}

type lineJSON struct {
	Price      int64  `json:"price"`
	Quantity   int64  `json:"quantity"`
	Category   string `json:"category"`
	TotalPrice int64  `json:"total_price"`
}

// MarshalJSON encodes the snapshot as an object keyed by product name, keeping
// insertion order.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, l := range s.Lines {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(l.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(lineJSON{Price: l.UnitPrice, Quantity: l.Quantity, Category: l.Category, TotalPrice: l.Subtotal})
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
