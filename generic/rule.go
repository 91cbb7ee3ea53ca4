package generic

import (
	"slices"
	"strings"
)

// =============================================================================
// RECURRENCE RULE
// =============================================================================

type Frequency string

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
	Yearly  Frequency = "YEARLY"
)

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// RecurrenceRule is pure data. WeekDays (0=Sunday..6=Saturday) apply only to
// WEEKLY and MonthDays (1..31) only to MONTHLY. An empty selector falls back to
// the template's own weekday or day of month.
type RecurrenceRule struct {
	Frequency Frequency `json:"frequency"`
	WeekDays  []int     `json:"weekDays,omitempty"`
	MonthDays []int     `json:"monthDays,omitempty"`
}

// Validate checks frequency and selector ranges.
func (r RecurrenceRule) Validate() error {
	f := Frequency(strings.ToUpper(string(r.Frequency)))
	if !f.Valid() {
		return invalid("recurrenceConfig.frequency", "unknown frequency %q", r.Frequency)
	}
	for _, wd := range r.WeekDays {
		if wd < 0 || wd > 6 {
			return invalid("recurrenceConfig.weekDays", "%d is outside 0..6", wd)
		}
	}
	for _, md := range r.MonthDays {
		if md < 1 || md > 31 {
			return invalid("recurrenceConfig.monthDays", "%d is outside 1..31", md)
		}
	}
	return nil
}

// Normalized returns the rule with an upper-case frequency and sorted,
// de-duplicated selectors. Selectors that do not apply to the frequency are dropped.
func (r RecurrenceRule) Normalized() RecurrenceRule {
	out := RecurrenceRule{Frequency: Frequency(strings.ToUpper(string(r.Frequency)))}
	switch out.Frequency {
	case Weekly:
		out.WeekDays = uniqueSorted(r.WeekDays)
	case Monthly:
		out.MonthDays = uniqueSorted(r.MonthDays)
	}
	return out
}

func (r RecurrenceRule) Clone() RecurrenceRule {
	return RecurrenceRule{
		Frequency: r.Frequency,
		WeekDays:  slices.Clone(r.WeekDays),
		MonthDays: slices.Clone(r.MonthDays),
	}
}

func uniqueSorted(in []int) []int {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
