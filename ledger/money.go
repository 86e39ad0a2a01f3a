package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CENTS - Fixed-point money
// =============================================================================

// Cents is a signed amount in integer cents. All arithmetic in the core is
// plain int64; decimals appear only at the wire-format boundary below.
type Cents int64

// ParseCents converts a wire-format amount into cents.
//
// The accepted shape is strict: an optional leading '-', one or more digits,
// and optionally a '.' followed by one or two fractional digits. Examples:
// "120.00", "-5.5", "0.07". Anything else fails with MalformedAmount:
// scientific notation, thousands separators, and bare '.' are all rejected
// so that no parse path can fall back to floating point.
func ParseCents(value string) (Cents, error) {
	if !wellFormedAmount(value) {
		return 0, &Error{
			Kind:    KindMalformedAmount,
			Message: fmt.Sprintf("malformed amount %q", value),
			Amount:  value,
		}
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, &Error{
			Kind:    KindMalformedAmount,
			Message: fmt.Sprintf("malformed amount %q", value),
			Amount:  value,
		}
	}
	return Cents(d.Shift(2).IntPart()), nil
}

// MustParseCents is a test/fixture helper; it panics on malformed input.
func MustParseCents(value string) Cents {
	c, err := ParseCents(value)
	if err != nil {
		panic(err)
	}
	return c
}

// String renders the amount back into the wire format with exactly two
// fractional digits, e.g. Cents(-550).String() == "-5.50".
func (c Cents) String() string {
	return decimal.New(int64(c), -2).StringFixed(2)
}

// wellFormedAmount validates the decimal ASCII shape without converting.
func wellFormedAmount(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == '-' {
		s = s[1:]
	}
	whole := s
	frac := ""
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			whole, frac = s[:i], s[i+1:]
			break
		}
	}
	if len(whole) == 0 || !allDigits(whole) {
		return false
	}
	if whole != s { // had a dot
		if len(frac) < 1 || len(frac) > 2 || !allDigits(frac) {
			return false
		}
	}
	return true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
