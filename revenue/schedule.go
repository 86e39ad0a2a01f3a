/*
Package revenue derives ledger postings from revenue-recognition schedules.

A schedule plans moving totalAmount from a deferred-revenue account into a
revenue account over [start, end], either straight-line (day-prorated) or by
discrete dated milestones. Recognition runs derive deterministic transaction
numbers from (schedule, date, amount), so re-running a window replays the
original postings instead of double-recognizing.
*/
package revenue

import (
	"context"
	"time"

	"github.com/clearbooks/ledger-engine/ledger"
)

type Method string

const (
	StraightLine Method = "STRAIGHT_LINE"
	Milestone    Method = "MILESTONE"
)

// MilestoneAmount is one discrete recognition point of a MILESTONE schedule.
type MilestoneAmount struct {
	Date   ledger.Date
	Amount ledger.Cents
}

// Schedule is a recognition plan. Created once, read many times.
type Schedule struct {
	ID                       string
	CompanyID                string
	Currency                 string
	TotalAmount              ledger.Cents
	RevenueAccountID         string
	DeferredRevenueAccountID string
	Method                   Method
	Start                    ledger.Date
	End                      ledger.Date
	Milestones               []MilestoneAmount
	CreatedAt                time.Time
}

// ScheduleStore persists schedules.
type ScheduleStore interface {
	SaveSchedule(ctx context.Context, s Schedule) error
	GetSchedule(ctx context.Context, companyID, scheduleID string) (*Schedule, error)
}
