package generic

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// DATE - Calendar day (override and occurrence key)
// =============================================================================

// Date is a calendar day with no time of day and no zone. Overrides and
// materialized occurrences are matched by Date, never by instant.
// All instants are interpreted in UTC.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const DateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return DayOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DayOf returns the UTC calendar day of t.
func DayOf(t time.Time) Date {
	u := t.UTC()
	return Date{Year: u.Year(), Month: u.Month(), Day: u.Day()}
}

// ParseDate accepts "2006-01-02" or a full RFC 3339 timestamp; the latter is
// reduced to its UTC calendar day.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return DayOf(t), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return DayOf(t), nil
	}
	return Date{}, invalid("date", "%q is not an ISO 8601 date", s)
}

// Start returns midnight UTC of the day.
func (d Date) Start() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// Comparison
func (d Date) Before(o Date) bool        { return d.Start().Before(o.Start()) }
func (d Date) After(o Date) bool         { return d.Start().After(o.Start()) }
func (d Date) Equal(o Date) bool         { return d == o }
func (d Date) BeforeOrEqual(o Date) bool { return !d.After(o) }
func (d Date) AfterOrEqual(o Date) bool  { return !d.Before(o) }

// Arithmetic
func (d Date) AddDays(n int) Date { return DayOf(d.Start().AddDate(0, 0, n)) }

// Properties
func (d Date) IsZero() bool           { return d == Date{} }
func (d Date) Weekday() time.Weekday { return d.Start().Weekday() }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) MarshalJSON() ([]byte, error) {
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

// MinDate returns the earlier of a and b.
func MinDate(a, b Date) Date {
	if a.Before(b) {
		return a
	}
	return b
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock returns the current instant. Engine components take a Clock so that
// "past" and "future" can be pinned in tests.
type Clock func() time.Time

func SystemClock() time.Time { return time.Now().UTC() }

// FixedClock returns a clock frozen at t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func (c Clock) now() time.Time {
	if c == nil {
		return SystemClock()
	}
	return c().UTC()
}

// Now returns the current instant in UTC.
func (c Clock) Now() time.Time { return c.now() }

// Today returns the current UTC calendar day.
func (c Clock) Today() Date { return DayOf(c.now()) }
