package period

import (
	"context"
	"fmt"

	"github.com/clearbooks/ledger-engine/audit"
	"github.com/clearbooks/ledger-engine/ledger"
)

// Manager resolves period states and applies transitions. It implements
// ledger.PeriodGate for the posting path.
type Manager struct {
	store Store
	sink  audit.Sink
	clock ledger.Clock
	ids   ledger.IDGenerator
}

func NewManager(store Store, sink audit.Sink, clock ledger.Clock, ids ledger.IDGenerator) *Manager {
	return &Manager{store: store, sink: sink, clock: clock, ids: ids}
}

// StateAt resolves the lock state of the period covering date. Absence of
// any lock record means OPEN.
func (m *Manager) StateAt(ctx context.Context, companyID string, date ledger.Date) (State, error) {
	p := For(companyID, date)
	latest, err := m.store.LatestAction(ctx, companyID, p.ID)
	if err != nil {
		return "", err
	}
	if latest == nil {
		return Open, nil
	}
	return latest.To, nil
}

// AssertCanPost fails with a PeriodLockViolation iff the period covering
// date is hard-locked. SOFT_CLOSED is a warning boundary enforced elsewhere
// and does not block posting.
func (m *Manager) AssertCanPost(ctx context.Context, companyID string, date ledger.Date) error {
	state, err := m.StateAt(ctx, companyID, date)
	if err != nil {
		return err
	}
	if state == HardLocked {
		return &ledger.Error{
			Kind:      ledger.KindPeriodLockViolation,
			Message:   fmt.Sprintf("period %s is hard-locked", For(companyID, date).ID),
			CompanyID: companyID,
			Date:      date,
		}
	}
	return nil
}

// Transition moves the period to next, appending a lock action and emitting
// an audit event. Rules:
//   - a HARD_LOCKED period admits no transition at all, including to
//     HARD_LOCKED again;
//   - OPEN may only soft-close; reopening an already-open period is an
//     error, and hard-locking requires passing through SOFT_CLOSED;
//   - SOFT_CLOSED may reopen or hard-lock.
func (m *Manager) Transition(ctx context.Context, actorID, companyID, periodID string, next State, reason string) error {
	latest, err := m.store.LatestAction(ctx, companyID, periodID)
	if err != nil {
		return err
	}
	current := Open
	if latest != nil {
		current = latest.To
	}

	if err := validTransition(current, next); err != nil {
		m.auditTransition(ctx, actorID, companyID, periodID, current, next, reason, err)
		return err
	}

	action := LockAction{
		ID:        m.ids.NewID(),
		CompanyID: companyID,
		PeriodID:  periodID,
		From:      current,
		To:        next,
		Reason:    reason,
		ActorID:   actorID,
		At:        m.clock.Now(),
	}
	if err := m.store.AppendAction(ctx, action, current); err != nil {
		m.auditTransition(ctx, actorID, companyID, periodID, current, next, reason, err)
		return err
	}

	m.auditTransition(ctx, actorID, companyID, periodID, current, next, reason, nil)
	return nil
}

func validTransition(current, next State) error {
	if current == HardLocked {
		return &ledger.Error{
			Kind:    ledger.KindPeriodLockViolation,
			Message: fmt.Sprintf("period is hard-locked; no transition to %s permitted", next),
		}
	}
	switch {
	case current == Open && next == SoftClosed:
		return nil
	case current == SoftClosed && next == HardLocked:
		return nil
	case current == SoftClosed && next == Open:
		return nil
	}
	return &ledger.Error{
		Kind:    ledger.KindPeriodLockViolation,
		Message: fmt.Sprintf("transition %s -> %s not permitted", current, next),
	}
}

func (m *Manager) auditTransition(ctx context.Context, actorID, companyID, periodID string, from, to State, reason string, cause error) {
	outcome := audit.OutcomeAllowed
	severity := audit.SeverityMedium
	if cause != nil {
		outcome = audit.OutcomeDenied
		severity = audit.SeverityHigh
	}
	meta := map[string]string{
		"from":   string(from),
		"to":     string(to),
		"reason": reason,
	}
	if cause != nil {
		meta["error"] = cause.Error()
	}
	audit.Emit(ctx, m.sink, audit.Event{
		ID:            m.ids.NewID(),
		At:            m.clock.Now(),
		TenantID:      companyID,
		ActorID:       actorID,
		Action:        "period.transition",
		ResourceType:  "accounting_period",
		ResourceID:    periodID,
		Outcome:       outcome,
		CorrelationID: periodID,
		Severity:      severity,
		Metadata:      meta,
	})
}
