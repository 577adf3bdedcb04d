package catalog

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrBadPrice is returned when a price cell cannot be read as a whole amount.
var ErrBadPrice = errors.New("unparseable price")

// ParsePrice reads a formatted price such as "Rp 12.500" or "Rp12.500,00" into
// integer currency units. '.' is a thousands separator and ',' the decimal mark
// when one or two digits follow it; a fractional part is rounded half up. Any
// other layout, such as "Rp2,500", is rejected. The prefix match is
// case-insensitive.
func ParsePrice(text, prefix string) (int64, error) {
	s := strings.TrimSpace(text)
	if prefix != "" && len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		s = s[len(prefix):]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '.':
			return -1
		}
		return r
	}, s)
	whole, frac, hasFrac := strings.Cut(s, ",")
	if !digitsOnly(whole) || len(whole) > maxPriceDigits {
		return 0, errors.Wrapf(ErrBadPrice, "%q", text)
	}
	if hasFrac && (len(frac) < 1 || len(frac) > 2 || !digitsOnly(frac)) {
		return 0, errors.Wrapf(ErrBadPrice, "%q: decimal part must have one or two digits", text)
	}
	if hasFrac {
		s = whole + "." + frac
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Wrapf(ErrBadPrice, "%q", text)
	}
	return d.Round(0).IntPart(), nil
}

// maxPriceDigits keeps rounded prices inside int64.
const maxPriceDigits = 18

// maxCodeDigits is the length of the largest uint64.
const maxCodeDigits = 20

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// NormalizeCode turns a decoded or stored code into the numeric lookup key.
// Leading zeros are not significant and integral renderings such as
// "8901030875845.0" or "8.901030875845e12" map to the same key. Codes whose
// exponent puts them outside the uint64 range are rejected before any
// expansion.
func NormalizeCode(code string) (uint64, bool) {
	s := strings.TrimSpace(code)
	if s == "" || len(s) > 64 {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return 0, false
	}
	if exp := d.Exponent(); exp > maxCodeDigits || exp < -int32(len(s)) {
		return 0, false
	}
	if !d.IsInteger() {
		return 0, false
	}
	bi := d.BigInt()
	if !bi.IsUint64() {
		return 0, false
	}
	return bi.Uint64(), true
}
