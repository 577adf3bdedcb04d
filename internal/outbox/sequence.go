package outbox

import "sync/atomic"

// Sequencer numbers events in acceptance order, starting at 1.
type Sequencer struct{ n atomic.Uint64 }

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 { return s.n.Add(1) }

// Last returns the most recently issued number, 0 if none.
func (s *Sequencer) Last() uint64 { return s.n.Load() }
