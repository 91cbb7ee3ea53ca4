/*
expand.go - OccurrenceExpander

PURPOSE:
  Enumerates the occurrence start instants of an item inside a day window.
  Expansion is a pure function of (item, window): it never reads overrides or
  the store, so it is safe to call concurrently and to call repeatedly.

RULES:
  - Non-recurring item: its own start, if that day is in the window.
  - Recurring item: an RRULE anchored at StartDateTime, bounded above by
    min(RecurrenceEndDate, window end) + 1 day so that the last day is
    included whatever the template's time of day.
  - RecurrenceEndDate before the window start: nothing.
  - Recurrence enabled without a rule: DAILY. Creation rejects such items,
    but rows written before that check still expand.

SEE ALSO:
  - rule.go: RecurrenceRule
  - view.go: Turning an expanded instant into an OccurrenceView
*/
package generic

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// DefaultMaxOccurrences caps a single expansion.
const DefaultMaxOccurrences = 5000

// rruleWeekdays maps 0=Sunday..6=Saturday onto rrule weekdays.
var rruleWeekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

var rruleFrequencies = map[Frequency]rrule.Frequency{
	Daily:   rrule.DAILY,
	Weekly:  rrule.WEEKLY,
	Monthly: rrule.MONTHLY,
	Yearly:  rrule.YEARLY,
}

// Expander enumerates occurrences with a configurable cap.
type Expander struct {
	MaxOccurrences int
}

// Expand uses the default cap.
func Expand(item Item, from, to Date) ([]time.Time, error) {
	return Expander{}.Expand(item, from, to)
}

// Expand returns the ascending, duplicate-free occurrence starts of item whose
// calendar day is within [from, to].
func (e Expander) Expand(item Item, from, to Date) ([]time.Time, error) {
	if err := (Window{Start: from, End: to}).Validate(); err != nil {
		return nil, err
	}
	limit := e.MaxOccurrences
	if limit <= 0 {
		limit = DefaultMaxOccurrences
	}

	if !item.IsRecurring() {
		start := item.StartDateTime.UTC()
		if (Window{Start: from, End: to}).Contains(DayOf(start)) {
			return []time.Time{start}, nil
		}
		return nil, nil
	}

	last := to
	if item.RecurrenceEndDate != nil {
		if item.RecurrenceEndDate.Before(from) {
			return nil, nil
		}
		last = MinDate(*item.RecurrenceEndDate, to)
	}
	if last.Before(DayOf(item.StartDateTime)) {
		return nil, nil
	}

	r, err := buildRRule(item, last.AddDays(1).Start())
	if err != nil {
		return nil, err
	}

	starts := r.Between(from.Start(), last.AddDays(1).Start(), true)
	out := make([]time.Time, 0, len(starts))
	for _, s := range starts {
		if DayOf(s).After(last) {
			break
		}
		out = append(out, s.UTC())
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Occurs reports whether day is one of item's occurrence days and returns the
// occurrence start.
func Occurs(item Item, day Date) (time.Time, bool, error) {
	return Expander{}.Occurs(item, day)
}

func (e Expander) Occurs(item Item, day Date) (time.Time, bool, error) {
	starts, err := e.Expand(item, day, day)
	if err != nil || len(starts) == 0 {
		return time.Time{}, false, err
	}
	return starts[0], true, nil
}

func buildRRule(item Item, until time.Time) (*rrule.RRule, error) {
	rule := RecurrenceRule{Frequency: Daily}
	if item.RecurrenceConfig != nil {
		rule = item.RecurrenceConfig.Normalized()
	}
	freq, ok := rruleFrequencies[rule.Frequency]
	if !ok {
		return nil, invalid("recurrenceConfig.frequency", "unknown frequency %q", rule.Frequency)
	}

	opt := rrule.ROption{
		Freq:    freq,
		Dtstart: item.StartDateTime.UTC(),
		Until:   until,
	}
	switch rule.Frequency {
	case Weekly:
		for _, wd := range rule.WeekDays {
			if wd < 0 || wd > 6 {
				return nil, invalid("recurrenceConfig.weekDays", "%d is outside 0..6", wd)
			}
			opt.Byweekday = append(opt.Byweekday, rruleWeekdays[wd])
		}
	case Monthly:
		opt.Bymonthday = rule.MonthDays
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("%w: build recurrence rule: %v", ErrInvalidArgument, err)
	}
	return r, nil
}

// RRuleString renders the item's rule as an RFC 5545 RRULE value (without
// DTSTART), or "" for one-off items.
func RRuleString(item Item) string {
	if !item.IsRecurring() {
		return ""
	}
	until := time.Time{}
	if item.RecurrenceEndDate != nil {
		until = item.RecurrenceEndDate.AddDays(1).Start()
	}
	r, err := buildRRule(item, until)
	if err != nil {
		return ""
	}
	return r.OrigOptions.RRuleString()
}
