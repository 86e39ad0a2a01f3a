package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearbooks/ledger-engine/audit"
	"github.com/clearbooks/ledger-engine/ledger"
	"github.com/clearbooks/ledger-engine/reconcile"
)

// =============================================================================
// TEST SETUP
// =============================================================================
// The scanner exists to find history no healthy store can produce, so these
// tests feed it a fixed transaction list instead of a real store.

type fixedReader struct {
	txs []ledger.Transaction
}

func (r fixedReader) ListPostedTransactions(context.Context, string, ledger.Date, ledger.Date) ([]ledger.Transaction, error) {
	return r.txs, nil
}

func tx(id, number string, lines ...ledger.Entry) ledger.Transaction {
	return ledger.Transaction{
		TransactionID:     id,
		CompanyID:         "acme",
		TransactionNumber: number,
		Date:              ledger.NewDate(2026, time.January, 15),
		Type:              ledger.TxJournal,
		Currency:          "USD",
		Lines:             lines,
	}
}

func entry(account string, side ledger.Side, cents ledger.Cents) ledger.Entry {
	return ledger.Entry{CompanyID: "acme", AccountID: account, Side: side, Amount: cents, Currency: "USD"}
}

func scan(t *testing.T, txs ...ledger.Transaction) (*reconcile.Report, *audit.MemorySink, error) {
	t.Helper()
	sink := audit.NewMemorySink()
	s := reconcile.NewScanner(fixedReader{txs: txs}, sink)
	report, err := s.ReconcilePeriod(context.Background(), "auditor", "acme", ledger.Date{}, ledger.Date{})
	return report, sink, err
}

func healthy(id, number string) ledger.Transaction {
	return tx(id, number,
		entry("cash", ledger.Debit, 1000),
		entry("revenue", ledger.Credit, 1000),
	)
}

// =============================================================================
// SCAN OUTCOMES
// =============================================================================

func TestReconcilePeriod_CleanHistory_NoIssues(t *testing.T) {
	report, sink, err := scan(t, healthy("id-1", "TX-1"), healthy("id-2", "TX-2"))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Empty(t, report.Issues)

	last := sink.Last()
	assert.Equal(t, "ledger.reconcile", last.Action)
	assert.Equal(t, audit.OutcomeAllowed, last.Outcome)
}

func TestReconcilePeriod_ZeroLineTransaction_PartialWrite(t *testing.T) {
	// GIVEN: A committed transaction with no lines
	// WHEN: Scanning
	// THEN: Exactly one PARTIAL_WRITE issue and a ReconciliationFailure

	report, _, err := scan(t, healthy("id-1", "TX-1"), tx("id-2", "TX-2"))

	require.Error(t, err)
	assert.True(t, ledger.IsKind(err, ledger.KindReconciliationFailure))
	require.Len(t, report.Issues, 1)
	assert.Equal(t, ledger.IssuePartialWrite, report.Issues[0].Code)
	assert.Equal(t, "id-2", report.Issues[0].TransactionID)
}

func TestReconcilePeriod_SharedNumberAcrossIDs_Duplicate(t *testing.T) {
	// GIVEN: Two physical transactions carrying the same domain number
	// WHEN: Scanning
	// THEN: DUPLICATE_TRANSACTION_NUMBER on the second occurrence

	report, _, err := scan(t, healthy("id-1", "TX-1"), healthy("id-2", "TX-1"))

	require.Error(t, err)
	require.Len(t, report.Issues, 1)
	issue := report.Issues[0]
	assert.Equal(t, ledger.IssueDuplicateTxNumber, issue.Code)
	assert.Equal(t, "id-2", issue.TransactionID)
	assert.Contains(t, issue.Detail, "id-1")
}

func TestReconcilePeriod_UnbalancedPosted_Detected(t *testing.T) {
	bad := tx("id-1", "TX-1",
		entry("cash", ledger.Debit, 1000),
		entry("revenue", ledger.Credit, 999),
	)
	report, _, err := scan(t, bad)

	require.Error(t, err)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, ledger.IssueUnbalancedPosted, report.Issues[0].Code)
	assert.Contains(t, report.Issues[0].Detail, "10.00")
	assert.Contains(t, report.Issues[0].Detail, "9.99")
}

func TestReconcilePeriod_MultipleDefects_AllReported(t *testing.T) {
	// GIVEN: History with a partial write, a duplicate, and an imbalance
	// WHEN: Scanning
	// THEN: One issue per defect; the scan never stops at the first hit

	unbalanced := tx("id-4", "TX-3",
		entry("cash", ledger.Debit, 500),
		entry("revenue", ledger.Credit, 400),
	)
	report, _, err := scan(t,
		healthy("id-1", "TX-1"),
		tx("id-2", "TX-2"),      // no lines
		healthy("id-3", "TX-1"), // number reuse
		unbalanced,
	)

	require.Error(t, err)
	assert.Equal(t, 4, report.Scanned)
	assert.Len(t, report.Issues, 3)

	var lerr *ledger.Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, report.Issues, lerr.Issues)
}

func TestReconcilePeriod_IssuesAudited_HighSeverity(t *testing.T) {
	_, sink, err := scan(t, tx("id-1", "TX-1"))
	require.Error(t, err)

	last := sink.Last()
	assert.Equal(t, audit.OutcomeDenied, last.Outcome)
	assert.Equal(t, audit.SeverityHigh, last.Severity)
	assert.Equal(t, "1", last.Metadata["issues"])
}
