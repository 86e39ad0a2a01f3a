/*
Package audit carries the security/audit trail for the accounting core.

Every state-changing or state-denying operation emits exactly one Event per
attempt through an injected Sink, with enough metadata to reconstruct intent
without the full transaction body. Rejections are logged at HIGH severity
before the error propagates, so a caller crash or retry cannot lose the
forensic trail.
*/
package audit

import (
	"context"
	"sync"
	"time"
)

type Outcome string

const (
	OutcomeAllowed Outcome = "ALLOWED"
	OutcomeDenied  Outcome = "DENIED"
)

type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Event is one audit record.
type Event struct {
	ID            string            `json:"id"`
	At            time.Time         `json:"at"`
	TenantID      string            `json:"tenantId"`
	ActorID       string            `json:"actorId"`
	Action        string            `json:"action"`
	ResourceType  string            `json:"resourceType"`
	ResourceID    string            `json:"resourceId"`
	Outcome       Outcome           `json:"outcome"`
	CorrelationID string            `json:"correlationId"`
	Severity      Severity          `json:"severity"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Sink receives audit events. Implementations must tolerate concurrent use.
type Sink interface {
	Log(ctx context.Context, e Event) error
}

// Emit logs best-effort. Telemetry failure must never fail an operation that
// already committed, and must never mask the error being reported.
func Emit(ctx context.Context, sink Sink, e Event) {
	if sink == nil {
		return
	}
	_ = sink.Log(ctx, e)
}

// =============================================================================
// SINKS
// =============================================================================

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Log(context.Context, Event) error { return nil }

// MemorySink records events in order. For tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Log(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// Events returns a copy of everything logged so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByAction filters logged events by action name.
func (s *MemorySink) ByAction(action string) []Event {
	var out []Event
	for _, e := range s.Events() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recent event, or a zero Event when empty.
func (s *MemorySink) Last() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return Event{}
	}
	return s.events[len(s.events)-1]
}
