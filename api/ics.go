package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/warp/recurrence-engine/generic"
)

// icsTimeLayout is the UTC DATE-TIME form of RFC 5545.
const icsTimeLayout = "20060102T150405Z"

const (
	icsPropertyItemStatus ical.ComponentProperty = "X-ITEM-STATUS"
	icsPropertyTemplateID ical.ComponentProperty = "X-TEMPLATE-ID"
)

// CalendarFeed renders the tenant's occurrences as iCalendar.
//
// By default every visible occurrence in the window is one VEVENT whose UID
// is the occurrence id, so edits to one day show up on that day only. With
// series=true each template is emitted once with its RRULE and an EXDATE
// per deleted day; per-day edits are not represented in that form.
//
// GET /api/tenants/{tenant}/calendar.ics?from=&to=&status=&kind=&series=
func (h *Handler) CalendarFeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := tenantOf(r)
	now := h.Engine.Clock.Now()

	cal := newCalendar(string(tenant))
	if series, _ := strconv.ParseBool(r.URL.Query().Get("series")); series {
		items, err := h.Store.ListItems(ctx, tenant, generic.ItemFilter{
			Kind:           generic.Kind(r.URL.Query().Get("kind")),
			ExcludeActuals: true,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list items", err)
			return
		}
		for _, it := range items {
			var deleted []generic.Date
			if it.IsRecurring() {
				overrides, err := h.Store.ListOverrides(ctx, tenant, it.ID, generic.OverrideFilter{IncludeDeleted: true})
				if err != nil {
					writeError(w, http.StatusInternalServerError, "Failed to list overrides", err)
					return
				}
				for _, ov := range overrides {
					if ov.IsDeleted {
						deleted = append(deleted, ov.Date)
					}
				}
			}
			addSeries(cal, it, deleted, now)
		}
	} else {
		q, err := h.listQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid query", err)
			return
		}
		views, err := h.Engine.List(ctx, tenant, q)
		if err != nil {
			h.writeEngineError(w, "Failed to list occurrences", err)
			return
		}
		for _, v := range views {
			addOccurrence(cal, v, now)
		}
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="`+string(tenant)+`.ics"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(cal.Serialize()))
}

func newCalendar(name string) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//warp//recurrence-engine//EN")
	cal.SetXWRCalName(name)
	return cal
}

// addOccurrence adds one resolved occurrence as a VEVENT.
func addOccurrence(cal *ical.Calendar, v generic.OccurrenceView, now time.Time) {
	event := cal.AddEvent(v.ID())
	fillEvent(event, v.Item, now)
	if v.OriginalTemplateID != "" {
		event.SetProperty(icsPropertyTemplateID, string(v.OriginalTemplateID))
	}
}

// addSeries adds a stored item as a VEVENT; recurring templates carry their
// RRULE and one EXDATE per deleted day.
func addSeries(cal *ical.Calendar, it generic.Item, deleted []generic.Date, now time.Time) {
	event := cal.AddEvent(string(it.ID))
	fillEvent(event, it, now)
	if rule := generic.RRuleString(it); rule != "" {
		event.AddRrule(rule)
	}
	for _, day := range deleted {
		event.AddProperty(ical.ComponentPropertyExdate, it.OccurrenceStart(day).Format(icsTimeLayout))
	}
}

func fillEvent(event *ical.VEvent, it generic.Item, now time.Time) {
	event.SetDtStampTime(now)
	if !it.CreatedAt.IsZero() {
		event.SetCreatedTime(it.CreatedAt)
	}
	if !it.UpdatedAt.IsZero() {
		event.SetModifiedAt(it.UpdatedAt)
	}
	event.SetStartAt(it.StartDateTime)
	if !it.DueDate.IsZero() {
		event.SetEndAt(it.DueDate)
	}
	event.SetSummary(it.Title)
	if it.Description != "" {
		event.SetDescription(it.Description)
	}
	if it.Status == generic.StatusCancelled {
		event.SetStatus(ical.ObjectStatusCancelled)
	} else {
		event.SetStatus(ical.ObjectStatusConfirmed)
	}
	event.SetProperty(icsPropertyItemStatus, string(it.Status))
	event.SetProperty(ical.ComponentPropertyPriority, strconv.Itoa(icsPriority(it.Priority)))
	if len(it.Tags) > 0 {
		event.SetProperty(ical.ComponentPropertyCategories, strings.Join(it.Tags, ","))
	}
	if it.Assignee != nil {
		event.SetProperty(ical.ComponentPropertyAttendee, "urn:user:"+it.Assignee.ID)
	}
}

// icsPriority maps onto the 1 (highest) .. 9 (lowest) scale.
func icsPriority(p generic.Priority) int {
	switch p {
	case generic.PriorityUrgent:
		return 1
	case generic.PriorityHigh:
		return 3
	case generic.PriorityLow:
		return 9
	default:
		return 5
	}
}
