package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CLOCK AND ID GENERATION - Injected, never ambient
// =============================================================================
// The determinism switch is the choice of implementation passed into engine
// constructors: uuid/wall-clock in production, the deterministic pair in
// tests. Nothing in the core reads process-global state.

type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns At. For tests.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }

// IDGenerator mints physical identifiers (transaction ids, line ids, audit
// event ids).
type IDGenerator interface {
	NewID() string
}

// RandomIDs is the production generator.
type RandomIDs struct{}

func (RandomIDs) NewID() string { return uuid.NewString() }

// DeterministicIDs mints "<prefix>-000001", "<prefix>-000002", ... so that a
// test run produces the same identifiers every time.
type DeterministicIDs struct {
	Prefix string

	mu sync.Mutex
	n  int
}

func (g *DeterministicIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	prefix := g.Prefix
	if prefix == "" {
		prefix = "id"
	}
	return fmt.Sprintf("%s-%06d", prefix, g.n)
}
