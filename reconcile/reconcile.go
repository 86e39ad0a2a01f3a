/*
Package reconcile scans posted history for structural corruption.

This engine is diagnostic, not preventive: every issue it can find should be
impossible if the posting path behaved, so a non-empty issue list is
evidence of a partial write, a broken idempotency guarantee, or bypassed
validation reaching storage.
*/
package reconcile

import (
	"context"
	"fmt"

	"github.com/clearbooks/ledger-engine/audit"
	"github.com/clearbooks/ledger-engine/ledger"
)

// Reader is the read-only slice of the store this package needs.
type Reader interface {
	ListPostedTransactions(ctx context.Context, companyID string, from, to ledger.Date) ([]ledger.Transaction, error)
}

// Report is the outcome of one scan. A clean scan has an empty issue list.
type Report struct {
	CompanyID string
	From, To  ledger.Date
	Scanned   int
	Issues    []ledger.Issue
}

// Scanner runs reconciliation scans.
type Scanner struct {
	reader Reader
	sink   audit.Sink
}

func NewScanner(reader Reader, sink audit.Sink) *Scanner {
	return &Scanner{reader: reader, sink: sink}
}

// ReconcilePeriod scans posted transactions in [from, to] (zero bounds are
// open) and returns the report. When any issue is found it also fails with a
// ReconciliationFailure carrying the full issue list.
func (s *Scanner) ReconcilePeriod(ctx context.Context, actorID, companyID string, from, to ledger.Date) (*Report, error) {
	txs, err := s.reader.ListPostedTransactions(ctx, companyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("loading posted transactions: %w", err)
	}

	report := &Report{CompanyID: companyID, From: from, To: to, Scanned: len(txs)}
	byNumber := make(map[string]string, len(txs))

	for _, tx := range txs {
		// (a) A committed transaction with zero lines means the commit was
		// not atomic.
		if len(tx.Lines) == 0 {
			report.Issues = append(report.Issues, ledger.Issue{
				Code:              ledger.IssuePartialWrite,
				TransactionID:     tx.TransactionID,
				TransactionNumber: tx.TransactionNumber,
				Detail:            "transaction committed with zero lines",
			})
		}

		// (b) Two physical transactions sharing one domain number means the
		// idempotency guarantee broke.
		if firstID, seen := byNumber[tx.TransactionNumber]; seen && firstID != tx.TransactionID {
			report.Issues = append(report.Issues, ledger.Issue{
				Code:              ledger.IssueDuplicateTxNumber,
				TransactionID:     tx.TransactionID,
				TransactionNumber: tx.TransactionNumber,
				Detail:            fmt.Sprintf("number also committed as transaction %s", firstID),
			})
		} else if !seen {
			byNumber[tx.TransactionNumber] = tx.TransactionID
		}

		// (c) A posted transaction whose lines do not balance means
		// validation was bypassed.
		if len(tx.Lines) > 0 {
			debits, credits := ledger.Totals(tx.Lines)
			if debits != credits {
				report.Issues = append(report.Issues, ledger.Issue{
					Code:              ledger.IssueUnbalancedPosted,
					TransactionID:     tx.TransactionID,
					TransactionNumber: tx.TransactionNumber,
					Detail:            fmt.Sprintf("debits %s != credits %s", debits, credits),
				})
			}
		}
	}

	s.auditScan(ctx, actorID, report)
	if len(report.Issues) > 0 {
		return report, &ledger.Error{
			Kind:      ledger.KindReconciliationFailure,
			Message:   fmt.Sprintf("%d structural issue(s) in posted history", len(report.Issues)),
			CompanyID: companyID,
			Issues:    report.Issues,
		}
	}
	return report, nil
}

func (s *Scanner) auditScan(ctx context.Context, actorID string, report *Report) {
	outcome, severity := audit.OutcomeAllowed, audit.SeverityLow
	if len(report.Issues) > 0 {
		outcome, severity = audit.OutcomeDenied, audit.SeverityHigh
	}
	audit.Emit(ctx, s.sink, audit.Event{
		TenantID:     report.CompanyID,
		ActorID:      actorID,
		Action:       "ledger.reconcile",
		ResourceType: "ledger_history",
		ResourceID:   report.CompanyID,
		Outcome:      outcome,
		Severity:     severity,
		Metadata: map[string]string{
			"scanned": fmt.Sprintf("%d", report.Scanned),
			"issues":  fmt.Sprintf("%d", len(report.Issues)),
		},
	})
}
