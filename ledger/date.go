package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// DATE - Day-granular accounting date
// =============================================================================

// Date is a calendar day in UTC. Transactions, period locks, and schedules
// are all dated at day granularity; intra-day ordering never matters to the
// bookkeeping invariants.
type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates an instant to its UTC calendar day.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

// ParseDate parses the wire format "2006-01-02".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Comparison
func (d Date) Before(other Date) bool        { return d.t.Before(other.t) }
func (d Date) After(other Date) bool         { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool         { return d.t.Equal(other.t) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

// Arithmetic and properties
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) Year() int          { return d.t.Year() }
func (d Date) Month() time.Month  { return d.t.Month() }
func (d Date) Day() int           { return d.t.Day() }
func (d Date) IsZero() bool       { return d.t.IsZero() }
func (d Date) Time() time.Time    { return d.t }
func (d Date) String() string     { return d.t.Format("2006-01-02") }

// Min/Max
func (d Date) Min(other Date) Date {
	if other.Before(d) {
		return other
	}
	return d
}

func (d Date) Max(other Date) Date {
	if other.After(d) {
		return other
	}
	return d
}

// JSON carries the wire format "2006-01-02"; a zero Date serializes as "".
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DaysInclusive returns the inclusive day count of [from, to], e.g. Jan 1 to
// Jan 31 is 31. Returns 0 when to precedes from.
func DaysInclusive(from, to Date) int {
	if to.Before(from) {
		return 0
	}
	return int(to.t.Sub(from.t).Hours()/24) + 1
}

// StartOfMonth and EndOfMonth bound the calendar month containing d.
func (d Date) StartOfMonth() Date {
	return NewDate(d.Year(), d.Month(), 1)
}

func (d Date) EndOfMonth() Date {
	return Date{t: time.Date(d.Year(), d.Month()+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)}
}
