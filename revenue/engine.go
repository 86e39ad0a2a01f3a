package revenue

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/clearbooks/ledger-engine/audit"
	"github.com/clearbooks/ledger-engine/ledger"
)

type RecognitionStatus string

const (
	RecognitionPosted  RecognitionStatus = "POSTED"
	RecognitionSkipped RecognitionStatus = "SKIPPED"
)

// RecognitionResult reports a recognition run.
type RecognitionResult struct {
	Status                   RecognitionStatus
	PostedTransactionNumbers []string
}

// Engine computes recognizable amounts and posts them through the ledger.
type Engine struct {
	schedules ScheduleStore
	ledger    *ledger.Engine
	gate      ledger.PeriodGate
	sink      audit.Sink
	clock     ledger.Clock
	ids       ledger.IDGenerator
}

func NewEngine(schedules ScheduleStore, lg *ledger.Engine, gate ledger.PeriodGate, sink audit.Sink, clock ledger.Clock, ids ledger.IDGenerator) *Engine {
	return &Engine{schedules: schedules, ledger: lg, gate: gate, sink: sink, clock: clock, ids: ids}
}

// CreateSchedule validates and stores a schedule, assigning an id when the
// caller left it empty.
func (e *Engine) CreateSchedule(ctx context.Context, actorID string, s Schedule) (*Schedule, error) {
	if err := validateSchedule(s); err != nil {
		e.auditSchedule(ctx, actorID, s, err)
		return nil, err
	}
	if s.ID == "" {
		s.ID = e.ids.NewID()
	}
	s.CreatedAt = e.clock.Now()
	if err := e.schedules.SaveSchedule(ctx, s); err != nil {
		e.auditSchedule(ctx, actorID, s, err)
		return nil, fmt.Errorf("saving schedule %s: %w", s.ID, err)
	}
	e.auditSchedule(ctx, actorID, s, nil)
	return &s, nil
}

func validateSchedule(s Schedule) error {
	if s.TotalAmount <= 0 {
		return &ledger.Error{
			Kind:       ledger.KindNonPositiveAmount,
			Message:    fmt.Sprintf("schedule total %s must be positive", s.TotalAmount),
			CompanyID:  s.CompanyID,
			ScheduleID: s.ID,
		}
	}
	if s.End.Before(s.Start) {
		return &ledger.Error{
			Kind:       ledger.KindScheduleNotFound,
			Message:    fmt.Sprintf("schedule window %s..%s is inverted", s.Start, s.End),
			CompanyID:  s.CompanyID,
			ScheduleID: s.ID,
		}
	}
	if s.Method == Milestone {
		var sum ledger.Cents
		for _, m := range s.Milestones {
			sum += m.Amount
		}
		if sum != s.TotalAmount {
			return &ledger.Error{
				Kind:       ledger.KindUnbalancedTransaction,
				Message:    fmt.Sprintf("milestones sum %s != schedule total %s", sum, s.TotalAmount),
				CompanyID:  s.CompanyID,
				ScheduleID: s.ID,
			}
		}
	}
	return nil
}

// recognition is one derived recognition event.
type recognition struct {
	date   ledger.Date
	amount ledger.Cents
}

// RecognizeWindow recognizes the schedule's revenue for [from, to]:
//
//   - STRAIGHT_LINE: the window is clamped to the schedule; one recognition
//     of floor(totalCents * windowDays / totalDays), dated at the clamped
//     window's end.
//   - MILESTONE: every milestone dated within [from, to], each on its own
//     date at its own amount.
//
// Zero resulting events is a normal outcome (SKIPPED), not an error. Each
// event posts as a balanced two-line transaction through the ledger engine
// with a deterministic number, so retries replay instead of double-posting.
func (e *Engine) RecognizeWindow(ctx context.Context, actorID, companyID, scheduleID string, from, to ledger.Date) (*RecognitionResult, error) {
	s, err := e.schedules.GetSchedule(ctx, companyID, scheduleID)
	if err != nil {
		e.auditRecognize(ctx, actorID, companyID, scheduleID, from, to, "", err)
		return nil, err
	}
	if s == nil {
		err := &ledger.Error{
			Kind:       ledger.KindScheduleNotFound,
			Message:    fmt.Sprintf("schedule %s not found", scheduleID),
			CompanyID:  companyID,
			ScheduleID: scheduleID,
		}
		e.auditRecognize(ctx, actorID, companyID, scheduleID, from, to, "", err)
		return nil, err
	}

	// Courtesy lock pre-check; the ledger engine re-checks authoritatively.
	if err := e.gate.AssertCanPost(ctx, companyID, to); err != nil {
		e.auditRecognize(ctx, actorID, companyID, scheduleID, from, to, "", err)
		return nil, err
	}

	events := recognitions(*s, from, to)
	if len(events) == 0 {
		e.auditRecognize(ctx, actorID, companyID, scheduleID, from, to, string(RecognitionSkipped), nil)
		return &RecognitionResult{Status: RecognitionSkipped}, nil
	}

	var posted []string
	for _, ev := range events {
		tx := e.buildTransaction(*s, ev)
		if _, err := e.ledger.Post(ctx, actorID, tx); err != nil {
			e.auditRecognize(ctx, actorID, companyID, scheduleID, from, to, "", err)
			return nil, err
		}
		posted = append(posted, tx.TransactionNumber)
	}

	e.auditRecognize(ctx, actorID, companyID, scheduleID, from, to, string(RecognitionPosted), nil)
	return &RecognitionResult{Status: RecognitionPosted, PostedTransactionNumbers: posted}, nil
}

// recognitions derives the recognition events for a window. Pure.
func recognitions(s Schedule, from, to ledger.Date) []recognition {
	switch s.Method {
	case Milestone:
		var events []recognition
		for _, m := range sortedMilestones(s.Milestones) {
			if m.Date.AfterOrEqual(from) && m.Date.BeforeOrEqual(to) && m.Amount > 0 {
				events = append(events, recognition{date: m.Date, amount: m.Amount})
			}
		}
		return events
	default: // StraightLine
		start := from.Max(s.Start)
		end := to.Min(s.End)
		if end.Before(start) {
			return nil
		}
		totalDays := ledger.DaysInclusive(s.Start, s.End)
		windowDays := ledger.DaysInclusive(start, end)
		amount := ledger.Cents(int64(s.TotalAmount) * int64(windowDays) / int64(totalDays))
		if amount <= 0 {
			return nil
		}
		return []recognition{{date: end, amount: amount}}
	}
}

func sortedMilestones(ms []MilestoneAmount) []MilestoneAmount {
	out := make([]MilestoneAmount, len(ms))
	copy(out, ms)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Date.Before(out[j-1].Date); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// buildTransaction produces the balanced two-line posting for one
// recognition event: DEBIT deferred revenue, CREDIT revenue. Both legs allow
// a negative resulting balance: deferred revenue is liability-like, and the
// revenue leg may dip negative on reversal.
func (e *Engine) buildTransaction(s Schedule, ev recognition) ledger.Transaction {
	number := fmt.Sprintf("REVREC-%s-%s-%d", s.ID, ev.date, ev.amount)
	key := strings.Join([]string{"revrec", s.ID, ev.date.String(), strconv.FormatInt(int64(ev.amount), 10)}, ":")
	return ledger.Transaction{
		CompanyID:         s.CompanyID,
		TransactionNumber: number,
		Date:              ev.date,
		Type:              ledger.TxRevenueRecognition,
		Reference:         s.ID,
		Description:       fmt.Sprintf("revenue recognition for schedule %s", s.ID),
		Currency:          s.Currency,
		IdempotencyKey:    key,
		Lines: []ledger.Entry{
			{
				CompanyID:     s.CompanyID,
				AccountID:     s.DeferredRevenueAccountID,
				Side:          ledger.Debit,
				Amount:        ev.amount,
				Currency:      s.Currency,
				AllowNegative: true,
			},
			{
				CompanyID:     s.CompanyID,
				AccountID:     s.RevenueAccountID,
				Side:          ledger.Credit,
				Amount:        ev.amount,
				Currency:      s.Currency,
				AllowNegative: true,
			},
		},
	}
}

func (e *Engine) auditSchedule(ctx context.Context, actorID string, s Schedule, cause error) {
	outcome, severity := audit.OutcomeAllowed, audit.SeverityLow
	if cause != nil {
		outcome, severity = audit.OutcomeDenied, audit.SeverityHigh
	}
	meta := map[string]string{
		"method": string(s.Method),
		"total":  s.TotalAmount.String(),
	}
	if cause != nil {
		meta["error"] = cause.Error()
	}
	audit.Emit(ctx, e.sink, audit.Event{
		ID:           e.ids.NewID(),
		At:           e.clock.Now(),
		TenantID:     s.CompanyID,
		ActorID:      actorID,
		Action:       "revenue.schedule.create",
		ResourceType: "revenue_schedule",
		ResourceID:   s.ID,
		Outcome:      outcome,
		Severity:     severity,
		Metadata:     meta,
	})
}

func (e *Engine) auditRecognize(ctx context.Context, actorID, companyID, scheduleID string, from, to ledger.Date, status string, cause error) {
	outcome, severity := audit.OutcomeAllowed, audit.SeverityLow
	if cause != nil {
		outcome, severity = audit.OutcomeDenied, audit.SeverityHigh
	}
	meta := map[string]string{
		"from": from.String(),
		"to":   to.String(),
	}
	if status != "" {
		meta["status"] = status
	}
	if cause != nil {
		meta["error"] = cause.Error()
	}
	audit.Emit(ctx, e.sink, audit.Event{
		ID:            e.ids.NewID(),
		At:            e.clock.Now(),
		TenantID:      companyID,
		ActorID:       actorID,
		Action:        "revenue.recognize",
		ResourceType:  "revenue_schedule",
		ResourceID:    scheduleID,
		Outcome:       outcome,
		CorrelationID: scheduleID,
		Severity:      severity,
		Metadata:      meta,
	})
}
