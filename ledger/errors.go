/*
errors.go - Closed error taxonomy for the accounting core

PURPOSE:
  Every failure the core can produce is one of a fixed set of kinds carried
  on a single structured Error type. Callers match on Kind (exhaustively, if
  they like) instead of string-comparing codes, and the contextual fields let
  an audit trail or an operator reconstruct what was rejected and why.

PROPAGATION POLICY:
  Validation and lock errors always abort the operation; nothing in the
  posting or recognition path catches-and-continues. The only designed
  "recovery" is idempotent replay, which is a success path, not error
  suppression. Stores translate their constraint violations into the
  sentinel errors at the bottom of this file.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// KINDS
// =============================================================================

// Kind identifies one entry of the error taxonomy. The set is closed: the
// engines never produce an *Error with a kind outside this list.
type Kind string

const (
	KindMalformedAmount           Kind = "MALFORMED_AMOUNT"
	KindEmptyTransaction          Kind = "EMPTY_TRANSACTION"
	KindNonPositiveAmount         Kind = "NON_POSITIVE_AMOUNT"
	KindTenantMismatch            Kind = "TENANT_MISMATCH"
	KindCurrencyMismatch          Kind = "CURRENCY_MISMATCH"
	KindUnbalancedTransaction     Kind = "UNBALANCED_TRANSACTION"
	KindNegativeBalanceNotAllowed Kind = "NEGATIVE_BALANCE_NOT_ALLOWED"
	KindIdempotencyMismatch       Kind = "IDEMPOTENCY_MISMATCH"
	KindPeriodLockViolation       Kind = "PERIOD_LOCK_VIOLATION"
	KindReplayFingerprintMismatch Kind = "REPLAY_FINGERPRINT_MISMATCH"
	KindScheduleNotFound          Kind = "SCHEDULE_NOT_FOUND"
	KindReconciliationFailure     Kind = "RECONCILIATION_FAILURE"
)

// =============================================================================
// STRUCTURED ERROR
// =============================================================================

// Error is the structured error type for the whole core. Only the fields
// relevant to the Kind are populated.
type Error struct {
	Kind    Kind
	Message string

	CompanyID         string
	TransactionNumber string
	AccountID         string
	ScheduleID        string
	Amount            string // offending wire-format amount, for MalformedAmount
	Currency          string
	Date              Date

	// UnbalancedTransaction context.
	Debits  Cents
	Credits Cents

	// NegativeBalanceNotAllowed context.
	ResultingBalance Cents

	// ReplayFingerprintMismatch context.
	WantHash string
	GotHash  string

	// ReconciliationFailure context.
	Issues []Issue
}

func (e *Error) Error() string {
	if e.Message != "" {
		return "ledger: " + e.Message
	}
	return "ledger: " + string(e.Kind)
}

// Issue is one structural defect found by the reconciliation scan.
type Issue struct {
	Code              IssueCode
	TransactionID     string
	TransactionNumber string
	Detail            string
}

type IssueCode string

const (
	IssuePartialWrite      IssueCode = "PARTIAL_WRITE"
	IssueDuplicateTxNumber IssueCode = "DUPLICATE_TRANSACTION_NUMBER"
	IssueUnbalancedPosted  IssueCode = "UNBALANCED_POSTED"
)

// =============================================================================
// MATCHING HELPERS
// =============================================================================

// KindOf extracts the taxonomy kind from an error chain, or "" if the error
// did not originate in this core.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// =============================================================================
// STORE SENTINELS
// =============================================================================

// Sentinel errors returned by Store implementations when the database-level
// append-only constraints fire. The engine pre-checks make these rare; they
// surface only when a concurrent caller loses a commit race.
var (
	ErrDuplicateTransactionNumber = errors.New("ledger: transaction number already committed")
	ErrDuplicateIdempotencyKey    = errors.New("ledger: duplicate idempotency key")
)

func errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
