package generic_test

import (
	"testing"
	"time"

	"github.com/warp/recurrence-engine/generic"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func day(y int, m time.Month, d int) generic.Date {
	return generic.NewDate(y, m, d)
}

func at(y int, m time.Month, d, hour int) time.Time {
	return time.Date(y, m, d, hour, 0, 0, 0, time.UTC)
}

// weeklyTemplate starts Monday 2024-01-01 09:00, repeats every Monday, lasts 2 days.
func weeklyTemplate() generic.Item {
	return generic.Item{
		ID:               "tpl-weekly",
		TenantID:         "acme",
		Kind:             "task",
		Title:            "Weekly report",
		Status:           generic.StatusTodo,
		Priority:         generic.PriorityMedium,
		StartDateTime:    at(2024, time.January, 1, 9),
		DueDate:          at(2024, time.January, 3, 9),
		EnableRecurrence: true,
		RecurrenceConfig: &generic.RecurrenceRule{Frequency: generic.Weekly, WeekDays: []int{1}},
	}
}

func days(starts []time.Time) []generic.Date {
	out := make([]generic.Date, len(starts))
	for i, s := range starts {
		out[i] = generic.DayOf(s)
	}
	return out
}

func equalDays(t *testing.T, got []time.Time, want ...generic.Date) {
	t.Helper()
	g := days(got)
	if len(g) != len(want) {
		t.Fatalf("expected %d occurrences %v, got %d %v", len(want), want, len(g), g)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Errorf("occurrence %d: expected %s, got %s", i, want[i], g[i])
		}
	}
}

// =============================================================================
// EXPANSION
// =============================================================================

func TestExpand_Weekly_InclusiveBounds(t *testing.T) {
	// GIVEN: Weekly on Monday from 2024-01-01
	// WHEN: Expanding 2024-01-01..2024-01-22
	// THEN: Both boundary Mondays are included

	got, err := generic.Expand(weeklyTemplate(), day(2024, 1, 1), day(2024, 1, 22))
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	equalDays(t, got, day(2024, 1, 1), day(2024, 1, 8), day(2024, 1, 15), day(2024, 1, 22))
	for _, s := range got {
		if s.Hour() != 9 {
			t.Errorf("occurrence %s should keep the template time of day", s)
		}
	}
}

func TestExpand_IsDeterministic(t *testing.T) {
	tpl := weeklyTemplate()
	a, err := generic.Expand(tpl, day(2024, 1, 1), day(2024, 6, 30))
	if err != nil {
		t.Fatal(err)
	}
	b, err := generic.Expand(tpl, day(2024, 1, 1), day(2024, 6, 30))
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(b) {
		t.Fatalf("two expansions differ in length: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			t.Errorf("occurrence %d differs: %s vs %s", i, a[i], b[i])
		}
		if i > 0 && !a[i].After(a[i-1]) {
			t.Errorf("occurrences not strictly ascending at %d", i)
		}
	}
}

func TestExpand_NonRecurring(t *testing.T) {
	tpl := weeklyTemplate()
	tpl.EnableRecurrence = false

	got, err := generic.Expand(tpl, day(2024, 1, 1), day(2024, 1, 31))
	if err != nil {
		t.Fatal(err)
	}
	equalDays(t, got, day(2024, 1, 1))

	got, err = generic.Expand(tpl, day(2024, 1, 2), day(2024, 1, 31))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("start outside the window should yield nothing, got %v", got)
	}
}

func TestExpand_EndDateBeforeWindow_Empty(t *testing.T) {
	tpl := weeklyTemplate()
	end := day(2024, 1, 10)
	tpl.RecurrenceEndDate = &end

	got, err := generic.Expand(tpl, day(2024, 2, 1), day(2024, 2, 29))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected no occurrences after the end date, got %v", days(got))
	}
}

func TestExpand_EndDateIsInclusive(t *testing.T) {
	// GIVEN: End date on a Monday, template starts at 09:00
	// THEN: That Monday is still included

	tpl := weeklyTemplate()
	end := day(2024, 1, 15)
	tpl.RecurrenceEndDate = &end

	got, err := generic.Expand(tpl, day(2024, 1, 1), day(2024, 3, 1))
	if err != nil {
		t.Fatal(err)
	}
	equalDays(t, got, day(2024, 1, 1), day(2024, 1, 8), day(2024, 1, 15))
}

func TestExpand_NilRule_FallsBackToDaily(t *testing.T) {
	tpl := weeklyTemplate()
	tpl.RecurrenceConfig = nil

	got, err := generic.Expand(tpl, day(2024, 1, 1), day(2024, 1, 3))
	if err != nil {
		t.Fatal(err)
	}
	equalDays(t, got, day(2024, 1, 1), day(2024, 1, 2), day(2024, 1, 3))
}

func TestExpand_MonthlyMonthDays(t *testing.T) {
	tpl := weeklyTemplate()
	tpl.RecurrenceConfig = &generic.RecurrenceRule{Frequency: generic.Monthly, MonthDays: []int{15, 1}}

	got, err := generic.Expand(tpl, day(2024, 1, 1), day(2024, 3, 10))
	if err != nil {
		t.Fatal(err)
	}
	equalDays(t, got, day(2024, 1, 1), day(2024, 1, 15), day(2024, 2, 1), day(2024, 2, 15), day(2024, 3, 1))
}

func TestExpand_WeeklyEmptySelector_UsesStartWeekday(t *testing.T) {
	tpl := weeklyTemplate()
	tpl.RecurrenceConfig = &generic.RecurrenceRule{Frequency: "weekly"}

	got, err := generic.Expand(tpl, day(2024, 1, 1), day(2024, 1, 14))
	if err != nil {
		t.Fatal(err)
	}
	equalDays(t, got, day(2024, 1, 1), day(2024, 1, 8))
}

func TestExpand_WeekDaysSundayIsZero(t *testing.T) {
	tpl := weeklyTemplate()
	tpl.RecurrenceConfig = &generic.RecurrenceRule{Frequency: generic.Weekly, WeekDays: []int{0, 3}}

	got, err := generic.Expand(tpl, day(2024, 1, 1), day(2024, 1, 10))
	if err != nil {
		t.Fatal(err)
	}
	// Wednesday 3rd, Sunday 7th, Wednesday 10th
	equalDays(t, got, day(2024, 1, 3), day(2024, 1, 7), day(2024, 1, 10))
}

func TestExpand_Cap(t *testing.T) {
	tpl := weeklyTemplate()
	tpl.RecurrenceConfig = &generic.RecurrenceRule{Frequency: generic.Daily}

	got, err := generic.Expander{MaxOccurrences: 10}.Expand(tpl, day(2024, 1, 1), day(2024, 12, 31))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 10 {
		t.Errorf("expected the cap of 10, got %d", len(got))
	}
}

func TestExpand_InvalidWindow(t *testing.T) {
	_, err := generic.Expand(weeklyTemplate(), day(2024, 2, 1), day(2024, 1, 1))
	if !generic.IsClientError(err) {
		t.Errorf("expected invalid argument, got %v", err)
	}
}

func TestDueFor_DurationInvariant(t *testing.T) {
	// GIVEN: A template lasting 2 days and 3 hours
	// THEN: Every occurrence keeps exactly that duration, across month ends

	tpl := weeklyTemplate()
	tpl.DueDate = tpl.StartDateTime.Add(51 * time.Hour)

	starts, err := generic.Expand(tpl, day(2024, 1, 1), day(2024, 4, 30))
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range starts {
		if got := tpl.DueFor(s).Sub(s); got != tpl.Duration() {
			t.Errorf("occurrence %s: duration %s, expected %s", s, got, tpl.Duration())
		}
	}
}

func TestRRuleString(t *testing.T) {
	tpl := weeklyTemplate()
	if got := generic.RRuleString(tpl); got != "FREQ=WEEKLY;BYDAY=MO" {
		t.Errorf("unexpected rule %q", got)
	}
	tpl.EnableRecurrence = false
	if got := generic.RRuleString(tpl); got != "" {
		t.Errorf("one-off items have no rule, got %q", got)
	}
}

func TestOccurs(t *testing.T) {
	tpl := weeklyTemplate()
	start, ok, err := generic.Occurs(tpl, day(2024, 1, 8))
	if err != nil || !ok {
		t.Fatalf("2024-01-08 is a Monday occurrence: ok=%v err=%v", ok, err)
	}
	if !start.Equal(at(2024, time.January, 8, 9)) {
		t.Errorf("unexpected start %s", start)
	}
	if _, ok, _ := generic.Occurs(tpl, day(2024, 1, 9)); ok {
		t.Error("2024-01-09 is not an occurrence")
	}
}
