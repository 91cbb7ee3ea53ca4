package generic

// =============================================================================
// WINDOW - Inclusive range of calendar days
// =============================================================================

// Window is the [Start, End] day range an occurrence query covers.
// Both ends are inclusive.
type Window struct {
	Start Date
	End   Date
}

// Contains returns true if the day is within [Start, End].
func (w Window) Contains(d Date) bool {
	return d.AfterOrEqual(w.Start) && d.BeforeOrEqual(w.End)
}

// Validate rejects windows whose end precedes their start.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return invalid("window", "start and end are required")
	}
	if w.End.Before(w.Start) {
		return invalid("window", "end %s is before start %s", w.End, w.Start)
	}
	return nil
}

// Days returns every day in the window.
func (w Window) Days() []Date {
	var days []Date
	for d := w.Start; d.BeforeOrEqual(w.End); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

// Clamp returns the part of the window that is on or before limit.
// ok is false when nothing remains.
func (w Window) Clamp(limit Date) (Window, bool) {
	if w.Start.After(limit) {
		return Window{}, false
	}
	return Window{Start: w.Start, End: MinDate(w.End, limit)}, true
}

func (w Window) String() string {
	return "[" + w.Start.String() + ", " + w.End.String() + "]"
}
