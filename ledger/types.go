/*
Package ledger is the double-entry accounting core.

PURPOSE:
  This package contains the money model, the transaction/entry data model,
  the pure bookkeeping invariants, and the posting Engine that orchestrates
  period-lock checks, idempotent replay, validation, and the append-only
  commit against a pluggable Store.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: the atomic unit of posted financial fact
  - Entry: one line of a transaction, touching one account on one side
  - AccountSnapshot: account type + negative-balance allowance
  - Side / AccountType: closed enumerations

DESIGN PRINCIPLES:
  1. Immutability: posted transactions are never edited, only reversed
  2. Precision: all amounts are integer cents (Cents), never floats
  3. Replay: balances and statements are always derived from the log
  4. Tenant isolation: every line must agree with its parent's company

SEE ALSO:
  - money.go: Cents and the wire-format parse/format boundary
  - invariants.go: pure validation over this model
  - engine.go: the posting path
*/
package ledger

import "time"

// =============================================================================
// SIDES AND ACCOUNT TYPES
// =============================================================================

// Side is the bookkeeping side of an entry. A line is exactly one of the two.
type Side string

const (
	Debit  Side = "DEBIT"
	Credit Side = "CREDIT"
)

// AccountType classifies an account for statement bucketing and for the
// negative-balance rule: liability, equity, and revenue accounts may carry a
// credit (negative) balance; asset and expense accounts may not unless
// explicitly flagged.
type AccountType string

const (
	AccountAsset     AccountType = "asset"
	AccountLiability AccountType = "liability"
	AccountEquity    AccountType = "equity"
	AccountRevenue   AccountType = "revenue"
	AccountExpense   AccountType = "expense"
)

// MayGoNegative reports whether the account type permits a negative
// (credit-normal) running balance without an explicit override.
func (t AccountType) MayGoNegative() bool {
	switch t {
	case AccountLiability, AccountEquity, AccountRevenue:
		return true
	default:
		return false
	}
}

// =============================================================================
// TRANSACTION TYPES
// =============================================================================

type TransactionType string

const (
	TxJournal            TransactionType = "journal"
	TxRevenueRecognition TransactionType = "revenue_recognition"
	TxReversal           TransactionType = "reversal"
)

// =============================================================================
// TRANSACTION AND ENTRY
// =============================================================================

// Entry is a single transaction line. Amount is always positive; direction is
// carried by Side. Currency must equal the parent transaction's currency.
type Entry struct {
	LineID        string
	TransactionID string
	CompanyID     string
	AccountID     string
	Side          Side
	Amount        Cents
	Currency      string

	// AllowNegative overrides the account-type rule for the resulting
	// balance of this line's account within this posting.
	AllowNegative bool
}

// Transaction is a company-scoped, append-only journal entry.
//
// TransactionNumber is the caller-visible idempotency key at the domain level:
// reposting the same number with identical lines replays the original result,
// reposting it with different content is rejected. TransactionID is the
// physical key assigned at commit time.
type Transaction struct {
	TransactionID     string
	CompanyID         string
	TransactionNumber string
	Date              Date
	Type              TransactionType
	Reference         string
	Description       string
	Currency          string
	IdempotencyKey    string
	Lines             []Entry

	// Void marks a transaction excluded from replay (set by reversal
	// bookkeeping, never by edit). Read paths skip void transactions.
	Void bool

	CreatedBy string
	CreatedAt time.Time
}

// DeltasByAccount returns the signed (debits minus credits) cents each
// account would move by if this transaction were posted.
func (t Transaction) DeltasByAccount() map[string]Cents {
	deltas := make(map[string]Cents, len(t.Lines))
	for _, line := range t.Lines {
		if line.Side == Debit {
			deltas[line.AccountID] += line.Amount
		} else {
			deltas[line.AccountID] -= line.Amount
		}
	}
	return deltas
}

// AccountIDs returns the distinct accounts touched by the transaction.
func (t Transaction) AccountIDs() []string {
	seen := make(map[string]bool, len(t.Lines))
	var ids []string
	for _, line := range t.Lines {
		if !seen[line.AccountID] {
			seen[line.AccountID] = true
			ids = append(ids, line.AccountID)
		}
	}
	return ids
}

// =============================================================================
// ACCOUNT SNAPSHOT
// =============================================================================

// AccountSnapshot is the per-company account record the engine consults when
// enforcing the negative-balance rule. It is deliberately narrow: the chart
// of accounts itself is owned by the caller.
type AccountSnapshot struct {
	CompanyID     string
	AccountID     string
	Type          AccountType
	AllowNegative bool
}
