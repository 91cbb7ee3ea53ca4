package generic

import (
	"slices"
	"time"
)

// =============================================================================
// VIEW CONSTRUCTION
// =============================================================================

// BuildView resolves one virtual occurrence of template starting at start.
//
// Precedence, highest first:
//  1. ov.Data keys that are present
//  2. ov direct columns (Status, StartDateTime, Assignee) that are set
//  3. the template's own fields
//
// The due date is recomputed from the resolved start with the template's
// duration, then replaced by an explicit ov.Data dueDate.
func BuildView(template Item, start time.Time, ov *Override) OccurrenceView {
	day := DayOf(start)
	item := template.Clone()
	item.StartDateTime = start.UTC()

	view := OccurrenceView{
		Ref:                RefFor(template.ID, day),
		IsCalendarEvent:    true,
		OriginalTemplateID: template.ID,
		EventDate:          day,
	}

	if ov != nil {
		if ov.StartDateTime != nil {
			item.StartDateTime = ov.StartDateTime.UTC()
		}
		if ov.Status != "" {
			item.Status = ov.Status
		}
		if ov.Assignee != nil {
			a := *ov.Assignee
			item.Assignee = &a
		}

		d := ov.Data
		item.Title = d.Title.Or(item.Title)
		item.Description = d.Description.Or(item.Description)
		item.Priority = d.Priority.Or(item.Priority)
		item.Progress = d.Progress.Or(item.Progress)
		if tags, ok := d.Tags.Get(); ok {
			item.Tags = slices.Clone(tags)
		} else if d.Tags.IsNull() {
			item.Tags = nil
		}

		c := ov.Clone()
		view.Override = &c
	}

	item.DueDate = template.DueFor(item.StartDateTime)
	if ov != nil && ov.Data.DueDate.Present() {
		// null clears the due date
		item.DueDate = ov.Data.DueDate.Or(time.Time{}).UTC()
	}

	view.Item = item
	return view
}

// ItemView wraps a stored row (one-off item, template, or actual) as a view.
func ItemView(item Item) OccurrenceView {
	day := DayOf(item.StartDateTime)
	if item.OccurrenceDate != nil {
		day = *item.OccurrenceDate
	}
	return OccurrenceView{
		Ref:                OccurrenceRef{TemplateID: item.ID},
		Item:               item,
		OriginalTemplateID: item.ParentID,
		EventDate:          day,
	}
}

// =============================================================================
// VISIBILITY
// =============================================================================

// Visible applies the status allow-list to an occurrence. It is false when
// the override is deleted, or when the effective status (the override's if
// there is one, else the template's) is not in statuses. An empty allow-list
// accepts every status.
func Visible(template Item, ov *Override, statuses []Status) bool {
	if ov != nil && ov.IsDeleted {
		return false
	}
	if len(statuses) == 0 {
		return true
	}
	status := template.Status
	if ov != nil && ov.Status != "" {
		status = ov.Status
	}
	return slices.Contains(statuses, status)
}

// statusAllowed is Visible for stored rows.
func statusAllowed(s Status, statuses []Status) bool {
	return len(statuses) == 0 || slices.Contains(statuses, s)
}
