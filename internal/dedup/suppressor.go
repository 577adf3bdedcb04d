// Package dedup suppresses repeated detections of the same symbol.
package dedup

import "time"

// Suppressor remembers only the most recently recorded code. A detection is a
// repeat when it matches that code within the cool-down window; any different
// code in between clears the repeat condition.
//
// Suppressor is not safe for concurrent use; its owner serializes access.
type Suppressor struct {
	coolDown time.Duration
	lastCode string
	lastAt   time.Time
	seen     bool
}

// New returns a Suppressor with the given cool-down window.
func New(coolDown time.Duration) *Suppressor {
	return &Suppressor{coolDown: coolDown}
}

// Accept reports whether a detection of code at now should be processed.
// It has no side effects.
func (s *Suppressor) Accept(code string, now time.Time) bool {
	if !s.seen || code != s.lastCode {
		return true
	}
	return now.Sub(s.lastAt) >= s.coolDown
}

// Record makes code at now the remembered detection. Call it only once the
// code has resolved to a product.
func (s *Suppressor) Record(code string, now time.Time) {
	s.lastCode = code
	s.lastAt = now
	s.seen = true
}

// Reset forgets the remembered detection.
func (s *Suppressor) Reset() {
	*s = Suppressor{coolDown: s.coolDown}
}

// Last returns the remembered detection, if any.
func (s *Suppressor) Last() (code string, at time.Time, ok bool) {
	return s.lastCode, s.lastAt, s.seen
}

// CoolDown returns the configured window.
func (s *Suppressor) CoolDown() time.Duration { return s.coolDown }
