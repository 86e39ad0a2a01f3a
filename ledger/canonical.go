package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// CANONICAL LINES - Order-independent comparison and fingerprinting
// =============================================================================

// CanonicalLine is an Entry reduced to the fields that matter for replay
// equivalence. Line ids are physical and differ between retries, so they
// participate only in sort tie-breaking, never in comparison.
type CanonicalLine struct {
	AccountID string
	Side      Side
	Amount    Cents
	Currency  string
}

// Canonicalize sorts the lines by (account, side, amount, line id) and strips
// them to their comparable fields.
func Canonicalize(lines []Entry) []CanonicalLine {
	sorted := make([]Entry, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		if a.Side != b.Side {
			return a.Side < b.Side
		}
		if a.Amount != b.Amount {
			return a.Amount < b.Amount
		}
		return a.LineID < b.LineID
	})

	canonical := make([]CanonicalLine, len(sorted))
	for i, line := range sorted {
		canonical[i] = CanonicalLine{
			AccountID: line.AccountID,
			Side:      line.Side,
			Amount:    line.Amount,
			Currency:  line.Currency,
		}
	}
	return canonical
}

// SameLines reports whether two line sets are byte-for-byte equivalent once
// canonicalized. This is the replay-equivalence test.
func SameLines(a, b []Entry) bool {
	ca, cb := Canonicalize(a), Canonicalize(b)
	if len(ca) != len(cb) {
		return false
	}
	for i := range ca {
		if ca[i] != cb[i] {
			return false
		}
	}
	return true
}

// Totals sums the two sides of a line set in integer cents.
func Totals(lines []Entry) (debits, credits Cents) {
	for _, line := range lines {
		if line.Side == Debit {
			debits += line.Amount
		} else {
			credits += line.Amount
		}
	}
	return debits, credits
}

// Fingerprint returns a stable SHA-256 hex digest of the canonicalized line
// set. Two line sets fingerprint identically iff SameLines holds.
func Fingerprint(lines []Entry) string {
	var b strings.Builder
	for _, line := range Canonicalize(lines) {
		fmt.Fprintf(&b, "%s|%s|%d|%s\n", line.AccountID, line.Side, line.Amount, line.Currency)
	}
	return HashRows(b.String())
}

// HashRows digests an already-canonicalized row serialization. Shared by the
// statement builders so every integrity hash uses the same construction.
func HashRows(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
