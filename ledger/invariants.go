/*
invariants.go - Pure bookkeeping invariants

PURPOSE:
  The checks here are pure functions over in-memory data: no I/O, no clock,
  identical results for identical inputs. That determinism is what makes
  replayed history provably equivalent to the original run.

CHECK ORDER IN THE ENGINE:
  tenant isolation -> currency isolation -> balance (empty / non-positive /
  unbalanced) -> forbidden negative balances. Each failure is a distinct
  taxonomy kind; see errors.go.
*/
package ledger

import "fmt"

// AssertBalanced verifies the double-entry identity: the transaction has at
// least one line, every amount is strictly positive, and the sum of DEBIT
// cents equals the sum of CREDIT cents exactly.
func AssertBalanced(tx Transaction) error {
	if len(tx.Lines) == 0 {
		return &Error{
			Kind:              KindEmptyTransaction,
			Message:           fmt.Sprintf("transaction %s has no lines", tx.TransactionNumber),
			CompanyID:         tx.CompanyID,
			TransactionNumber: tx.TransactionNumber,
		}
	}
	for _, line := range tx.Lines {
		if line.Amount <= 0 {
			return &Error{
				Kind:              KindNonPositiveAmount,
				Message:           fmt.Sprintf("line on account %s has non-positive amount %s", line.AccountID, line.Amount),
				CompanyID:         tx.CompanyID,
				TransactionNumber: tx.TransactionNumber,
				AccountID:         line.AccountID,
			}
		}
	}
	debits, credits := Totals(tx.Lines)
	if debits != credits {
		return &Error{
			Kind:              KindUnbalancedTransaction,
			Message:           fmt.Sprintf("debits %s != credits %s", debits, credits),
			CompanyID:         tx.CompanyID,
			TransactionNumber: tx.TransactionNumber,
			Debits:            debits,
			Credits:           credits,
		}
	}
	return nil
}

// AssertTenantIsolation verifies every line agrees with its parent's company
// and (when already assigned) transaction id.
func AssertTenantIsolation(tx Transaction) error {
	for _, line := range tx.Lines {
		if line.CompanyID != tx.CompanyID {
			return &Error{
				Kind:              KindTenantMismatch,
				Message:           fmt.Sprintf("line company %q does not match transaction company %q", line.CompanyID, tx.CompanyID),
				CompanyID:         tx.CompanyID,
				TransactionNumber: tx.TransactionNumber,
				AccountID:         line.AccountID,
			}
		}
		if line.TransactionID != "" && tx.TransactionID != "" && line.TransactionID != tx.TransactionID {
			return &Error{
				Kind:              KindTenantMismatch,
				Message:           fmt.Sprintf("line transaction id %q does not match parent %q", line.TransactionID, tx.TransactionID),
				CompanyID:         tx.CompanyID,
				TransactionNumber: tx.TransactionNumber,
				AccountID:         line.AccountID,
			}
		}
	}
	return nil
}

// AssertCurrencyIsolation verifies every line carries the transaction's
// currency. Cross-currency transactions are not representable.
func AssertCurrencyIsolation(tx Transaction) error {
	for _, line := range tx.Lines {
		if line.Currency != tx.Currency {
			return &Error{
				Kind:              KindCurrencyMismatch,
				Message:           fmt.Sprintf("line currency %q does not match transaction currency %q", line.Currency, tx.Currency),
				CompanyID:         tx.CompanyID,
				TransactionNumber: tx.TransactionNumber,
				AccountID:         line.AccountID,
				Currency:          line.Currency,
			}
		}
	}
	return nil
}

// AssertNoForbiddenNegativeBalances applies each delta to its prior balance
// and fails when the result is negative for an account whose type does not
// permit it and which carries no override, neither on the snapshot nor on a
// line of the posting.
//
// Balances are signed debits-minus-credits, so credit-normal accounts
// (liability, equity, revenue) live below zero routinely and are exempt by
// type. An account missing from snapshots is treated as a plain asset.
func AssertNoForbiddenNegativeBalances(prior map[string]Cents, deltas map[string]Cents, snapshots map[string]AccountSnapshot, lineOverrides map[string]bool) error {
	for accountID, delta := range deltas {
		resulting := prior[accountID] + delta
		if resulting >= 0 {
			continue
		}
		snap, ok := snapshots[accountID]
		if ok && (snap.Type.MayGoNegative() || snap.AllowNegative) {
			continue
		}
		if lineOverrides[accountID] {
			continue
		}
		return &Error{
			Kind:             KindNegativeBalanceNotAllowed,
			Message:          fmt.Sprintf("account %s would go negative (%s)", accountID, resulting),
			AccountID:        accountID,
			ResultingBalance: resulting,
		}
	}
	return nil
}
