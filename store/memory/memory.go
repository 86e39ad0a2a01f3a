// Package memory provides the in-memory store used by tests and local runs.
// It implements ledger.Store, period.Store, and revenue.ScheduleStore behind
// a single mutex, which makes every commit trivially atomic.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/clearbooks/ledger-engine/ledger"
	"github.com/clearbooks/ledger-engine/period"
	"github.com/clearbooks/ledger-engine/revenue"
)

type Store struct {
	mu sync.RWMutex

	// transactions per company, kept ordered by date then commit order.
	transactions map[string][]ledger.Transaction
	byNumber     map[string]map[string]int // company -> number -> index
	idempotency  map[string]bool

	accounts map[string]map[string]ledger.AccountSnapshot // company -> account
	actions  map[string][]period.LockAction               // company|period
	plans    map[string]map[string]revenue.Schedule       // company -> schedule
}

func New() *Store {
	return &Store{
		transactions: make(map[string][]ledger.Transaction),
		byNumber:     make(map[string]map[string]int),
		idempotency:  make(map[string]bool),
		accounts:     make(map[string]map[string]ledger.AccountSnapshot),
		actions:      make(map[string][]period.LockAction),
		plans:        make(map[string]map[string]revenue.Schedule),
	}
}

// SeedAccount registers an account snapshot. Test/dev fixture path; the
// chart of accounts is otherwise owned by the caller.
func (m *Store) SeedAccount(snap ledger.AccountSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accounts[snap.CompanyID] == nil {
		m.accounts[snap.CompanyID] = make(map[string]ledger.AccountSnapshot)
	}
	m.accounts[snap.CompanyID][snap.AccountID] = snap
}

// =============================================================================
// ledger.Store
// =============================================================================

// CommitAppendOnly holds the write lock for the duplicate checks, the
// commit-time validation, and the insert, so a racing post re-validates
// against balances that include every earlier winner.
func (m *Store) CommitAppendOnly(_ context.Context, tx ledger.Transaction, validate ledger.ValidateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.byNumber[tx.CompanyID] == nil {
		m.byNumber[tx.CompanyID] = make(map[string]int)
	}
	if _, exists := m.byNumber[tx.CompanyID][tx.TransactionNumber]; exists {
		return ledger.ErrDuplicateTransactionNumber
	}
	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return ledger.ErrDuplicateIdempotencyKey
	}
	if validate != nil {
		if err := validate(m.balancesLocked(tx.CompanyID, tx.AccountIDs())); err != nil {
			return err
		}
	}

	stored := copyTransaction(tx)
	txs := m.transactions[tx.CompanyID]

	// Binary search for the insertion point so replay order is by date,
	// with commit order breaking ties.
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].Date.After(stored.Date)
	})
	txs = append(txs, ledger.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = stored
	m.transactions[tx.CompanyID] = txs

	// Reindex numbers after the shift.
	for j := i; j < len(txs); j++ {
		m.byNumber[tx.CompanyID][txs[j].TransactionNumber] = j
	}
	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
	return nil
}

func (m *Store) ListPostedTransactions(_ context.Context, companyID string, from, to ledger.Date) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Transaction
	for _, tx := range m.transactions[companyID] {
		if tx.Void {
			continue
		}
		if !from.IsZero() && tx.Date.Before(from) {
			continue
		}
		if !to.IsZero() && tx.Date.After(to) {
			continue
		}
		result = append(result, copyTransaction(tx))
	}
	return result, nil
}

func (m *Store) GetAccountSnapshots(_ context.Context, companyID string, accountIDs []string) ([]ledger.AccountSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var snaps []ledger.AccountSnapshot
	for _, id := range accountIDs {
		if snap, ok := m.accounts[companyID][id]; ok {
			snaps = append(snaps, snap)
		}
	}
	return snaps, nil
}

func (m *Store) GetAccountBalancesCents(_ context.Context, companyID string, accountIDs []string) (map[string]ledger.Cents, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balancesLocked(companyID, accountIDs), nil
}

// balancesLocked replays balances for the requested accounts. Callers must
// hold the mutex.
func (m *Store) balancesLocked(companyID string, accountIDs []string) map[string]ledger.Cents {
	wanted := make(map[string]bool, len(accountIDs))
	balances := make(map[string]ledger.Cents, len(accountIDs))
	for _, id := range accountIDs {
		wanted[id] = true
		balances[id] = 0
	}
	for _, tx := range m.transactions[companyID] {
		if tx.Void {
			continue
		}
		for _, line := range tx.Lines {
			if !wanted[line.AccountID] {
				continue
			}
			if line.Side == ledger.Debit {
				balances[line.AccountID] += line.Amount
			} else {
				balances[line.AccountID] -= line.Amount
			}
		}
	}
	return balances
}

func (m *Store) GetPostedTransactionByNumber(_ context.Context, companyID, number string) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.byNumber[companyID][number]
	if !ok {
		return nil, nil
	}
	tx := copyTransaction(m.transactions[companyID][i])
	return &tx, nil
}

// =============================================================================
// period.Store
// =============================================================================

func (m *Store) LatestAction(_ context.Context, companyID, periodID string) (*period.LockAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	actions := m.actions[companyID+"|"+periodID]
	if len(actions) == 0 {
		return nil, nil
	}
	latest := actions[len(actions)-1]
	return &latest, nil
}

func (m *Store) AppendAction(_ context.Context, action period.LockAction, expectFrom period.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := action.CompanyID + "|" + action.PeriodID
	current := period.Open
	if actions := m.actions[key]; len(actions) > 0 {
		current = actions[len(actions)-1].To
	}
	if current != expectFrom {
		return period.ErrConflict
	}
	m.actions[key] = append(m.actions[key], action)
	return nil
}

// =============================================================================
// revenue.ScheduleStore
// =============================================================================

func (m *Store) SaveSchedule(_ context.Context, s revenue.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.plans[s.CompanyID] == nil {
		m.plans[s.CompanyID] = make(map[string]revenue.Schedule)
	}
	m.plans[s.CompanyID][s.ID] = copySchedule(s)
	return nil
}

func (m *Store) GetSchedule(_ context.Context, companyID, scheduleID string) (*revenue.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.plans[companyID][scheduleID]
	if !ok {
		return nil, nil
	}
	out := copySchedule(s)
	return &out, nil
}

// =============================================================================
// COPY HELPERS - Callers must never share slices with the store
// =============================================================================

func copyTransaction(tx ledger.Transaction) ledger.Transaction {
	out := tx
	out.Lines = make([]ledger.Entry, len(tx.Lines))
	copy(out.Lines, tx.Lines)
	return out
}

func copySchedule(s revenue.Schedule) revenue.Schedule {
	out := s
	out.Milestones = make([]revenue.MilestoneAmount, len(s.Milestones))
	copy(out.Milestones, s.Milestones)
	return out
}
