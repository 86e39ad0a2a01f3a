/*
engine.go - The posting path

PURPOSE:
  Engine.Post is the only way a transaction reaches the Store. The order is
  fixed: period-lock check, idempotent-replay check, invariant validation
  against live balances, atomic commit, audit emission. Exactly one audit
  event is produced per attempt, including rejected ones.

REPLAY VS MISMATCH:
  A transaction number reused with byte-for-byte equivalent lines is a
  legitimate retry and returns the original result (REPLAY). The same number
  with different content is a bug or an attack and fails with
  IdempotencyMismatch; it is never treated as a retry.

CONCURRENCY:
  The checks before commit are advisory: they fail fast and give the audit
  trail better context. Correctness is enforced inside the Store's atomic
  commit: its unique indexes reject racing duplicates, and the
  negative-balance check is handed to the Store as a commit-time hook so the
  loser of a balance race re-validates against the winner's committed
  balances rather than the snapshot it read earlier.
*/
package ledger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/clearbooks/ledger-engine/audit"
)

type PostStatus string

const (
	StatusPosted PostStatus = "POSTED"
	StatusReplay PostStatus = "REPLAY"
)

// PostResult reports how a post attempt concluded.
type PostResult struct {
	Status            PostStatus
	TransactionID     string
	TransactionNumber string
}

// Engine validates and commits transactions. It holds no mutable state; all
// collaborators are injected.
type Engine struct {
	store Store
	gate  PeriodGate
	sink  audit.Sink
	clock Clock
	ids   IDGenerator
}

func NewEngine(store Store, gate PeriodGate, sink audit.Sink, clock Clock, ids IDGenerator) *Engine {
	return &Engine{store: store, gate: gate, sink: sink, clock: clock, ids: ids}
}

// Post runs the full posting pipeline for a candidate transaction.
func (e *Engine) Post(ctx context.Context, actorID string, tx Transaction) (*PostResult, error) {
	// 1. Period lock. Hard-locked history is immutable; this is not retried.
	if err := e.gate.AssertCanPost(ctx, tx.CompanyID, tx.Date); err != nil {
		e.auditPost(ctx, actorID, tx, "REJECTED", err)
		return nil, err
	}

	// 2. Idempotent replay. Same number + same content = the original
	// result, no second write. Same number + different content = mismatch.
	existing, err := e.store.GetPostedTransactionByNumber(ctx, tx.CompanyID, tx.TransactionNumber)
	if err != nil {
		e.auditPost(ctx, actorID, tx, "REJECTED", err)
		return nil, fmt.Errorf("looking up transaction %s: %w", tx.TransactionNumber, err)
	}
	if existing != nil {
		exD, exC := Totals(existing.Lines)
		prD, prC := Totals(tx.Lines)
		if exD == prD && exC == prC && SameLines(existing.Lines, tx.Lines) {
			e.auditPost(ctx, actorID, *existing, "REPLAY", nil)
			return &PostResult{
				Status:            StatusReplay,
				TransactionID:     existing.TransactionID,
				TransactionNumber: existing.TransactionNumber,
			}, nil
		}
		mismatch := &Error{
			Kind:              KindIdempotencyMismatch,
			Message:           fmt.Sprintf("transaction number %s reused with different content", tx.TransactionNumber),
			CompanyID:         tx.CompanyID,
			TransactionNumber: tx.TransactionNumber,
			Debits:            prD,
			Credits:           prC,
		}
		e.auditPost(ctx, actorID, tx, "REJECTED", mismatch)
		return nil, mismatch
	}

	// Assign physical ids before validation so line/parent agreement holds.
	e.normalize(&tx, actorID)

	// 3. Full invariant validation. The pure checks run here; the balance
	// check is packaged for the commit boundary.
	validate, err := e.validate(ctx, tx)
	if err != nil {
		e.auditPost(ctx, actorID, tx, "REJECTED", err)
		return nil, err
	}

	// 4. Atomic, all-or-nothing commit with commit-time re-validation.
	if err := e.store.CommitAppendOnly(ctx, tx, validate); err != nil {
		e.auditPost(ctx, actorID, tx, "REJECTED", err)
		return nil, fmt.Errorf("committing transaction %s: %w", tx.TransactionNumber, err)
	}

	// 5. Audit the outcome.
	e.auditPost(ctx, actorID, tx, "POSTED", nil)
	return &PostResult{
		Status:            StatusPosted,
		TransactionID:     tx.TransactionID,
		TransactionNumber: tx.TransactionNumber,
	}, nil
}

// PostReversal builds and posts the side-swapped counterpart of a committed
// transaction. The original is never edited; the reversal references it.
func (e *Engine) PostReversal(ctx context.Context, actorID, companyID, originalNumber, reversalNumber, reason string) (*PostResult, error) {
	original, err := e.store.GetPostedTransactionByNumber(ctx, companyID, originalNumber)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, errf(KindIdempotencyMismatch, "no committed transaction %s to reverse", originalNumber)
	}

	reversal := Transaction{
		CompanyID:         companyID,
		TransactionNumber: reversalNumber,
		Date:              original.Date,
		Type:              TxReversal,
		Reference:         original.TransactionNumber,
		Description:       reason,
		Currency:          original.Currency,
		IdempotencyKey:    "reversal:" + original.TransactionNumber,
	}
	for _, line := range original.Lines {
		side := Debit
		if line.Side == Debit {
			side = Credit
		}
		reversal.Lines = append(reversal.Lines, Entry{
			CompanyID: companyID,
			AccountID: line.AccountID,
			Side:      side,
			Amount:    line.Amount,
			Currency:  line.Currency,
			// Reversing a posting may legitimately pull the account
			// back through zero.
			AllowNegative: true,
		})
	}
	return e.Post(ctx, actorID, reversal)
}

// normalize assigns missing physical ids and stamps audit fields.
func (e *Engine) normalize(tx *Transaction, actorID string) {
	if tx.TransactionID == "" {
		tx.TransactionID = e.ids.NewID()
	}
	if tx.CreatedBy == "" {
		tx.CreatedBy = actorID
	}
	tx.CreatedAt = e.clock.Now()
	for i := range tx.Lines {
		if tx.Lines[i].LineID == "" {
			tx.Lines[i].LineID = e.ids.NewID()
		}
		if tx.Lines[i].CompanyID == "" {
			tx.Lines[i].CompanyID = tx.CompanyID
		}
		if tx.Lines[i].TransactionID == "" {
			tx.Lines[i].TransactionID = tx.TransactionID
		}
	}
}

// validate runs the pure invariants immediately and returns the
// negative-balance check as a hook the Store runs inside its commit, against
// balances read under that same atomic unit.
func (e *Engine) validate(ctx context.Context, tx Transaction) (ValidateFunc, error) {
	if err := AssertTenantIsolation(tx); err != nil {
		return nil, err
	}
	if err := AssertCurrencyIsolation(tx); err != nil {
		return nil, err
	}
	if err := AssertBalanced(tx); err != nil {
		return nil, err
	}

	snaps, err := e.store.GetAccountSnapshots(ctx, tx.CompanyID, tx.AccountIDs())
	if err != nil {
		return nil, fmt.Errorf("loading account snapshots: %w", err)
	}
	snapshots := make(map[string]AccountSnapshot, len(snaps))
	for _, s := range snaps {
		snapshots[s.AccountID] = s
	}

	overrides := make(map[string]bool)
	for _, line := range tx.Lines {
		if line.AllowNegative {
			overrides[line.AccountID] = true
		}
	}

	deltas := tx.DeltasByAccount()
	return func(prior map[string]Cents) error {
		return AssertNoForbiddenNegativeBalances(prior, deltas, snapshots, overrides)
	}, nil
}

// auditPost emits the single audit event for a post attempt.
func (e *Engine) auditPost(ctx context.Context, actorID string, tx Transaction, status string, cause error) {
	outcome := audit.OutcomeAllowed
	severity := audit.SeverityLow
	if cause != nil {
		outcome = audit.OutcomeDenied
		severity = audit.SeverityHigh
	}
	meta := map[string]string{
		"status":            status,
		"transactionNumber": tx.TransactionNumber,
		"transactionType":   string(tx.Type),
		"lineCount":         strconv.Itoa(len(tx.Lines)),
		"idempotencyKey":    tx.IdempotencyKey,
	}
	if cause != nil {
		meta["error"] = cause.Error()
		if kind := KindOf(cause); kind != "" {
			meta["errorKind"] = string(kind)
		}
	}
	audit.Emit(ctx, e.sink, audit.Event{
		ID:            e.ids.NewID(),
		At:            e.clock.Now(),
		TenantID:      tx.CompanyID,
		ActorID:       actorID,
		Action:        "ledger.post",
		ResourceType:  "ledger_transaction",
		ResourceID:    tx.TransactionID,
		Outcome:       outcome,
		CorrelationID: tx.TransactionNumber,
		Severity:      severity,
		Metadata:      meta,
	})
}
