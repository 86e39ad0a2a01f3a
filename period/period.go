/*
Package period implements the per-company period-lock state machine.

Each calendar month is an accounting period. A period's state is resolved
from the latest lock action recorded for it; no record means OPEN. The only
forward path is OPEN -> SOFT_CLOSED -> HARD_LOCKED, SOFT_CLOSED may reopen,
and HARD_LOCKED is terminal: once hard-locked, posted history inside the
period is immutable forever.
*/
package period

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clearbooks/ledger-engine/ledger"
)

// State is the resolved lock state of a period.
type State string

const (
	Open       State = "OPEN"
	SoftClosed State = "SOFT_CLOSED"
	HardLocked State = "HARD_LOCKED"
)

// Period is one calendar-month accounting period for a company.
type Period struct {
	ID        string // "2026-01"
	CompanyID string
	Start     ledger.Date
	End       ledger.Date
}

// For returns the period covering date.
func For(companyID string, date ledger.Date) Period {
	return Period{
		ID:        fmt.Sprintf("%04d-%02d", date.Year(), int(date.Month())),
		CompanyID: companyID,
		Start:     date.StartOfMonth(),
		End:       date.EndOfMonth(),
	}
}

// LockAction is one recorded transition. Actions are append-only; the latest
// action's To is the period's current state.
type LockAction struct {
	ID        string
	CompanyID string
	PeriodID  string
	From      State
	To        State
	Reason    string
	ActorID   string
	At        time.Time
}

// ErrConflict is returned by Store.AppendAction when the period's state
// moved between resolve and append: the caller lost a transition race.
var ErrConflict = errors.New("period: concurrent transition conflict")

// Store persists lock actions. AppendAction must verify-and-append within
// one atomic unit so that two concurrent transitions on the same period
// serialize and only one wins per lifecycle step.
type Store interface {
	// LatestAction returns the most recent action for the period, or nil.
	LatestAction(ctx context.Context, companyID, periodID string) (*LockAction, error)

	// AppendAction appends iff the period's current state still equals
	// expectFrom; otherwise it returns ErrConflict.
	AppendAction(ctx context.Context, action LockAction, expectFrom State) error
}
