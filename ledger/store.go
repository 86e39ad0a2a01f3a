/*
store.go - Persistence contract for the accounting core

PURPOSE:
  The Store is the single source of truth and the single authority for
  concurrent safety: CommitAppendOnly is atomic and all-or-nothing, and the
  read methods only ever see committed history. The engines hold no mutable
  state of their own.

APPEND-ONLY CONTRACT:
  There is no update and no delete. Corrections are new transactions
  (reversals) referencing the originals. Implementations back this with
  unique indexes on (company_id, transaction_number) and idempotency_key so
  a caller that loses a commit race is rejected at the database, not just by
  the engine's advisory pre-checks.

IMPLEMENTATIONS:
  - store/memory: in-memory, for tests and property checks
  - store/sqldb:  database/sql against SQLite or PostgreSQL
*/
package ledger

import "context"

// ValidateFunc is a commit-time validation hook. The Store invokes it inside
// the same atomic unit as the write, passing prior balances for the accounts
// the transaction touches as read under that unit. A post that lost a commit
// race therefore re-validates against the winner's committed balances, not
// the snapshot it saw before committing. A non-nil error aborts the commit.
type ValidateFunc func(prior map[string]Cents) error

// Store is the persistence contract consumed by every engine. Balances are
// signed debits-minus-credits cents derived from committed history.
type Store interface {
	// CommitAppendOnly persists the transaction and its lines as one atomic
	// unit. When validate is non-nil it runs inside that unit, and a
	// validation error aborts the write. Returns
	// ErrDuplicateTransactionNumber or ErrDuplicateIdempotencyKey when an
	// append-only constraint fires.
	CommitAppendOnly(ctx context.Context, tx Transaction, validate ValidateFunc) error

	// ListPostedTransactions returns committed, non-void transactions for
	// the company ordered by date then commit order. A zero from/to leaves
	// that bound open.
	ListPostedTransactions(ctx context.Context, companyID string, from, to Date) ([]Transaction, error)

	// GetAccountSnapshots returns the known snapshots among accountIDs.
	GetAccountSnapshots(ctx context.Context, companyID string, accountIDs []string) ([]AccountSnapshot, error)

	// GetAccountBalancesCents returns current signed balances for the given
	// accounts. Accounts with no activity map to zero.
	GetAccountBalancesCents(ctx context.Context, companyID string, accountIDs []string) (map[string]Cents, error)

	// GetPostedTransactionByNumber returns the committed transaction with
	// the given domain number, or nil when none exists.
	GetPostedTransactionByNumber(ctx context.Context, companyID, number string) (*Transaction, error)
}

// PeriodGate is the slice of the period-lock manager the posting path needs.
// It fails with a PeriodLockViolation when the period covering date is
// hard-locked.
type PeriodGate interface {
	AssertCanPost(ctx context.Context, companyID string, date Date) error
}
