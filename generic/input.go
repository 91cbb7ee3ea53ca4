package generic

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CREATE INPUT
// =============================================================================

// ItemInput describes a new template or one-off item.
type ItemInput struct {
	Kind        Kind
	Title       string
	Description string
	Status      Status   // default TODO
	Priority    Priority // default MEDIUM
	Progress    decimal.Decimal
	Tags        []string

	StartDateTime time.Time
	DueDate       time.Time

	EnableRecurrence  bool
	RecurrenceConfig  *RecurrenceRule
	RecurrenceEndDate *Date

	AssigneeID string
}

func (in ItemInput) item(tenant TenantID) Item {
	it := Item{
		TenantID:          tenant,
		Kind:              in.Kind,
		Title:             strings.TrimSpace(in.Title),
		Description:       in.Description,
		Status:            in.Status,
		Priority:          in.Priority,
		Progress:          in.Progress,
		Tags:              in.Tags,
		StartDateTime:     in.StartDateTime.UTC(),
		EnableRecurrence:  in.EnableRecurrence,
		RecurrenceEndDate: in.RecurrenceEndDate,
	}
	if !in.DueDate.IsZero() {
		it.DueDate = in.DueDate.UTC()
	}
	if it.Status == "" {
		it.Status = StatusTodo
	}
	if it.Priority == "" {
		it.Priority = PriorityMedium
	}
	if in.EnableRecurrence && in.RecurrenceConfig != nil {
		rule := in.RecurrenceConfig.Normalized()
		it.RecurrenceConfig = &rule
	}
	if !in.EnableRecurrence {
		it.RecurrenceEndDate = nil
	}
	return it
}

// =============================================================================
// UPDATE INPUT
// =============================================================================

// ItemUpdate is a sparse edit. Absent fields are left alone.
type ItemUpdate struct {
	Title       Field[string]
	Description Field[string]
	Status      Field[Status]
	Priority    Field[Priority]
	Progress    Field[decimal.Decimal]
	Tags        Field[[]string]

	StartDateTime Field[time.Time]
	DueDate       Field[time.Time]
	AssigneeID    Field[string]

	EnableRecurrence  Field[bool]
	RecurrenceConfig  Field[RecurrenceRule]
	RecurrenceEndDate Field[Date]
}

// IsEmpty reports whether the update names no field.
func (u ItemUpdate) IsEmpty() bool {
	return !u.Title.Present() && !u.Description.Present() && !u.Status.Present() &&
		!u.Priority.Present() && !u.Progress.Present() && !u.Tags.Present() &&
		!u.StartDateTime.Present() && !u.DueDate.Present() && !u.AssigneeID.Present() &&
		!u.touchesRecurrence()
}

func (u ItemUpdate) touchesRecurrence() bool {
	return u.EnableRecurrence.Present() || u.RecurrenceConfig.Present() || u.RecurrenceEndDate.Present()
}

// touchesHistory reports fields that a past occurrence keeps as recorded.
func (u ItemUpdate) touchesHistory() bool {
	return u.Status.Present() || u.Progress.Present() || u.touchesRecurrence()
}

// Patch returns the overrideable part of the update.
func (u ItemUpdate) Patch() Patch {
	return Patch{
		Title:       u.Title,
		Description: u.Description,
		Priority:    u.Priority,
		Progress:    u.Progress,
		Tags:        u.Tags,
	}
}

// apply returns item with the update applied. The assignee is resolved by the
// caller.
func (u ItemUpdate) apply(item Item, assignee *UserRef) Item {
	out := item.Clone()
	out.Title = strings.TrimSpace(u.Title.Or(out.Title))
	out.Description = u.Description.Or(out.Description)
	out.Status = u.Status.Or(out.Status)
	out.Priority = u.Priority.Or(out.Priority)
	out.Progress = u.Progress.Or(out.Progress)
	out.Tags = u.Tags.Or(out.Tags)
	if v, ok := u.StartDateTime.Get(); ok {
		out.StartDateTime = v.UTC()
	}
	if u.DueDate.Present() {
		out.DueDate = u.DueDate.Or(time.Time{}).UTC()
	}
	if u.AssigneeID.Present() {
		out.Assignee = assignee
	}
	out.EnableRecurrence = u.EnableRecurrence.Or(out.EnableRecurrence)
	if v, ok := u.RecurrenceConfig.Get(); ok {
		rule := v.Normalized()
		out.RecurrenceConfig = &rule
	} else if u.RecurrenceConfig.IsNull() {
		out.RecurrenceConfig = nil
	}
	if v, ok := u.RecurrenceEndDate.Get(); ok {
		out.RecurrenceEndDate = &v
	} else if u.RecurrenceEndDate.IsNull() {
		out.RecurrenceEndDate = nil
	}
	return out
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateItem(it Item) error {
	if it.Title == "" {
		return invalid("title", "is required")
	}
	if it.StartDateTime.IsZero() {
		return invalid("startDateTime", "is required")
	}
	if !it.DueDate.IsZero() && it.DueDate.Before(it.StartDateTime) {
		return invalid("dueDate", "is before startDateTime")
	}
	if !it.Status.Valid() {
		return invalid("status", "unknown status %q", it.Status)
	}
	if !it.Priority.Valid() {
		return invalid("priority", "unknown priority %q", it.Priority)
	}
	if err := validateProgress(it.Progress); err != nil {
		return err
	}
	if it.IsActual() && it.EnableRecurrence {
		return invalid("enableRecurrence", "a materialized occurrence cannot recur")
	}
	if !it.EnableRecurrence {
		return nil
	}
	if it.RecurrenceConfig == nil {
		return invalid("recurrenceConfig", "is required when recurrence is enabled")
	}
	if err := it.RecurrenceConfig.Validate(); err != nil {
		return err
	}
	if it.RecurrenceEndDate != nil && it.RecurrenceEndDate.Before(DayOf(it.StartDateTime)) {
		return invalid("recurrenceEndDate", "is before the first occurrence")
	}
	return nil
}

func validateProgress(p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(CompleteProgress) {
		return invalid(KeyProgress, "%s is outside 0..100", p)
	}
	return nil
}
