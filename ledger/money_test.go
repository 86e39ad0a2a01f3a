package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearbooks/ledger-engine/ledger"
)

// =============================================================================
// WIRE-FORMAT PARSING
// =============================================================================

func TestParseCents_WellFormedAmounts(t *testing.T) {
	// GIVEN: Amounts in the accepted wire shape
	// WHEN: Parsing
	// THEN: Exact integer cents come back, no rounding involved

	cases := []struct {
		in   string
		want ledger.Cents
	}{
		{"120.00", 12000},
		{"120", 12000},
		{"-5.5", -550},
		{"0.07", 7},
		{"0", 0},
		{"0.00", 0},
		{"-0.01", -1},
		{"99999999.99", 9999999999},
	}
	for _, tc := range cases {
		got, err := ledger.ParseCents(tc.in)
		require.NoError(t, err, "parsing %q", tc.in)
		assert.Equal(t, tc.want, got, "parsing %q", tc.in)
	}
}

func TestParseCents_MalformedAmounts(t *testing.T) {
	// GIVEN: Inputs outside the strict decimal shape
	// WHEN: Parsing
	// THEN: Each fails with MALFORMED_AMOUNT; nothing falls back to floats

	cases := []string{
		"",
		".",
		"1.",
		".5",
		"1.234",   // more than two fractional digits
		"1,000.00",
		"1e3",
		"0x10",
		"--1",
		"+1",
		" 1",
		"1 ",
		"NaN",
	}
	for _, in := range cases {
		_, err := ledger.ParseCents(in)
		require.Error(t, err, "parsing %q", in)
		assert.True(t, ledger.IsKind(err, ledger.KindMalformedAmount), "parsing %q: got %v", in, err)

		var lerr *ledger.Error
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, in, lerr.Amount, "offending input should be carried on the error")
	}
}

func TestCents_String_RoundTrips(t *testing.T) {
	// GIVEN: Signed cent amounts
	// WHEN: Formatting
	// THEN: Always exactly two fractional digits, sign preserved

	cases := []struct {
		in   ledger.Cents
		want string
	}{
		{12000, "120.00"},
		{-550, "-5.50"},
		{7, "0.07"},
		{0, "0.00"},
		{-1, "-0.01"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.in.String())

		back, err := ledger.ParseCents(tc.want)
		require.NoError(t, err)
		assert.Equal(t, tc.in, back, "format then parse must be identity")
	}
}

func TestMustParseCents_PanicsOnMalformed(t *testing.T) {
	assert.Panics(t, func() { ledger.MustParseCents("not-money") })
	assert.Equal(t, ledger.Cents(150), ledger.MustParseCents("1.50"))
}
