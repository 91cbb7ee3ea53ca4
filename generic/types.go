/*
Package generic provides the core recurring-item engine.

PURPOSE:
  This package contains domain-agnostic types and algorithms for recurring
  items. Whether the item is a task, a coaching session or any other row that
  repeats on a schedule, the same engine answers three questions:
    1. Which virtual occurrences exist in a date window? (expand.go)
    2. How do per-occurrence edits merge into an occurrence without touching
       the template? (override.go, view.go)
    3. When does a virtual occurrence become a real row? (freezer.go)

KEY CONCEPTS IN THIS FILE (types.go):
  - Item: a template, a one-off item, or a materialized ("actual") occurrence
  - Override: a per-day patch tied to a template
  - OccurrenceView: a fully resolved virtual occurrence
  - Tenant/Item/Override IDs: type-safe identifiers

DESIGN PRINCIPLES:
  1. Templates are never mutated by single-occurrence edits
  2. Override rows are never hard-deleted; a cancelled-and-removed day stays removed
  3. Actual rows are created at most once per (template, day)
  4. Tenant is an explicit parameter on every call, never ambient state

USAGE:
  tpl := generic.Item{
      Title:            "Weekly report",
      StartDateTime:    time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
      DueDate:          time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC),
      EnableRecurrence: true,
      RecurrenceConfig: &generic.RecurrenceRule{Frequency: generic.Weekly, WeekDays: []int{1}},
  }
  starts, err := generic.Expand(tpl, generic.NewDate(2024, 1, 1), generic.NewDate(2024, 1, 31))

SEE ALSO:
  - rule.go: RecurrenceRule definition and validation
  - patch.go: Sparse override patches
  - engine.go: Single-occurrence operations addressed by composite id
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type ItemID string
type OverrideID string

// Kind names the domain an item belongs to (task, session, ...).
type Kind string

// =============================================================================
// STATUS / PRIORITY
// =============================================================================

type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
	StatusCancelled  Status = "CANCELLED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone, StatusCancelled:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// CompleteProgress is the progress value written by Complete.
var CompleteProgress = decimal.NewFromInt(100)

// =============================================================================
// USER REFERENCE
// =============================================================================

// UserRef is a lightweight reference to an assignee.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// =============================================================================
// ITEM - Template, one-off item, or materialized occurrence
// =============================================================================

type Item struct {
	ID          ItemID
	TenantID    TenantID
	Kind        Kind
	Title       string
	Description string
	Status      Status
	Priority    Priority
	Progress    decimal.Decimal
	Tags        []string

	StartDateTime time.Time
	DueDate       time.Time // zero when the item has no due date

	EnableRecurrence  bool
	RecurrenceConfig  *RecurrenceRule
	RecurrenceEndDate *Date

	Assignee *UserRef

	// Set only on materialized occurrences.
	ParentID       ItemID
	OccurrenceDate *Date

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsRecurring reports whether the item expands into more than one occurrence.
func (it Item) IsRecurring() bool { return it.EnableRecurrence && it.ParentID == "" }

// IsActual reports whether the item is a materialized occurrence of a template.
func (it Item) IsActual() bool { return it.ParentID != "" }

// Duration is the template's DueDate - StartDateTime, or zero without a due date.
func (it Item) Duration() time.Duration {
	if it.DueDate.IsZero() || it.StartDateTime.IsZero() {
		return 0
	}
	return it.DueDate.Sub(it.StartDateTime)
}

// DueFor returns the due date of an occurrence starting at start.
// The whole-day part of the template duration is added as calendar days and
// the remainder as clock time, so the duration is identical for every occurrence.
func (it Item) DueFor(start time.Time) time.Time {
	if it.DueDate.IsZero() || it.StartDateTime.IsZero() {
		return time.Time{}
	}
	d := it.Duration()
	days := int(d / (24 * time.Hour))
	rem := d - time.Duration(days)*24*time.Hour
	return start.AddDate(0, 0, days).Add(rem)
}

// OccurrenceStart returns the start instant of the occurrence on day,
// anchored at the template's time of day.
func (it Item) OccurrenceStart(day Date) time.Time {
	s := it.StartDateTime.UTC()
	return time.Date(day.Year, day.Month, day.Day, s.Hour(), s.Minute(), s.Second(), 0, time.UTC)
}

// Clone returns a copy that shares no slices or pointers with it.
func (it Item) Clone() Item {
	out := it
	if it.Tags != nil {
		out.Tags = append([]string(nil), it.Tags...)
	}
	if it.RecurrenceConfig != nil {
		rc := it.RecurrenceConfig.Clone()
		out.RecurrenceConfig = &rc
	}
	if it.RecurrenceEndDate != nil {
		d := *it.RecurrenceEndDate
		out.RecurrenceEndDate = &d
	}
	if it.Assignee != nil {
		a := *it.Assignee
		out.Assignee = &a
	}
	if it.OccurrenceDate != nil {
		d := *it.OccurrenceDate
		out.OccurrenceDate = &d
	}
	return out
}

// =============================================================================
// OVERRIDE - Per-day patch tied to a template
// =============================================================================

// Override is keyed by (TemplateID, Date). Date is a calendar day, not an instant.
// Status is always populated on stored rows; it defaults to the template status
// at creation time.
type Override struct {
	ID            OverrideID
	TenantID      TenantID
	TemplateID    ItemID
	Date          Date
	StartDateTime *time.Time
	Assignee      *UserRef
	Status        Status
	IsDeleted     bool
	Data          Patch

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy of the override.
func (o Override) Clone() Override {
	out := o
	if o.StartDateTime != nil {
		t := *o.StartDateTime
		out.StartDateTime = &t
	}
	if o.Assignee != nil {
		a := *o.Assignee
		out.Assignee = &a
	}
	out.Data = o.Data.Clone()
	return out
}

// =============================================================================
// OCCURRENCE VIEW - Resolved virtual occurrence
// =============================================================================

// OccurrenceView is what callers see for one occurrence. For a virtual
// occurrence Item carries the template ID; for a frozen one it is the actual row.
type OccurrenceView struct {
	Ref                OccurrenceRef
	Item               Item
	IsCalendarEvent    bool
	OriginalTemplateID ItemID
	EventDate          Date
	Override           *Override
}

// ID returns the external identifier of the occurrence.
func (v OccurrenceView) ID() string { return v.Ref.String() }
