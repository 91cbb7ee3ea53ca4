package sessions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/warp/recurrence-engine/factory"
	"github.com/warp/recurrence-engine/generic"
)

// Service applies session rules on top of an Engine.
type Service struct {
	Engine  *generic.Engine
	Factory *factory.TemplateFactory
}

func NewService(engine *generic.Engine) *Service {
	return &Service{Engine: engine, Factory: factory.NewTemplateFactory()}
}

// =============================================================================
// SCHEDULING
// =============================================================================

// Schedule creates a single session or a series.
func (s *Service) Schedule(ctx context.Context, tenant generic.TenantID, in SessionInput) (generic.Item, error) {
	if strings.TrimSpace(in.Host) == "" {
		return generic.Item{}, &generic.InvalidArgumentError{Field: "host", Reason: "is required"}
	}
	if in.Length <= 0 {
		return generic.Item{}, &generic.InvalidArgumentError{Field: "length", Reason: "must be positive"}
	}
	return s.Engine.Create(ctx, tenant, in.itemInput())
}

// ScheduleFromJSON parses a template definition and schedules it.
func (s *Service) ScheduleFromJSON(ctx context.Context, tenant generic.TenantID, jsonStr string) (generic.Item, error) {
	in, err := s.Factory.ParseTemplate(jsonStr)
	if err != nil {
		return generic.Item{}, err
	}
	if in.Kind != "" && in.Kind != Kind {
		return generic.Item{}, &generic.InvalidArgumentError{Field: "kind", Reason: fmt.Sprintf("%q is not a session", in.Kind)}
	}
	if !in.Progress.IsZero() {
		return generic.Item{}, &generic.InvalidArgumentError{Field: generic.KeyProgress, Reason: "sessions carry no progress"}
	}
	if in.DueDate.IsZero() {
		return generic.Item{}, &generic.InvalidArgumentError{Field: "dueDate", Reason: "sessions need an end"}
	}
	return s.Schedule(ctx, tenant, SessionInput{
		Title:       in.Title,
		Description: in.Description,
		Host:        in.AssigneeID,
		Start:       in.StartDateTime,
		Length:      in.DueDate.Sub(in.StartDateTime),
		Tags:        in.Tags,
		Rule:        ruleOf(in),
		Until:       in.RecurrenceEndDate,
	})
}

func ruleOf(in generic.ItemInput) *generic.RecurrenceRule {
	if !in.EnableRecurrence {
		return nil
	}
	if in.RecurrenceConfig == nil {
		return &generic.RecurrenceRule{}
	}
	return in.RecurrenceConfig
}

// Get returns a session or one session occurrence.
func (s *Service) Get(ctx context.Context, tenant generic.TenantID, rawID string) (generic.OccurrenceView, error) {
	return sessionOnly(rawID)(s.Engine.Get(ctx, tenant, rawID))
}

func sessionOnly(rawID string) func(generic.OccurrenceView, error) (generic.OccurrenceView, error) {
	return func(view generic.OccurrenceView, err error) (generic.OccurrenceView, error) {
		if err != nil {
			return generic.OccurrenceView{}, err
		}
		if view.Item.Kind != Kind {
			return generic.OccurrenceView{}, &generic.NotFoundError{Resource: "session", ID: rawID}
		}
		return view, nil
	}
}

// Upcoming lists the sessions in the window; a non-empty host keeps only
// that host's sessions. Cancelled sessions are left out.
func (s *Service) Upcoming(ctx context.Context, tenant generic.TenantID, window generic.Window, host string) ([]generic.OccurrenceView, error) {
	views, err := s.Engine.List(ctx, tenant, generic.ListQuery{
		Kind:     Kind,
		Window:   window,
		Statuses: []generic.Status{generic.StatusTodo, generic.StatusInProgress, generic.StatusDone},
	})
	if err != nil {
		return nil, err
	}
	if host == "" {
		return views, nil
	}
	out := views[:0]
	for _, v := range views {
		if v.Item.Assignee != nil && v.Item.Assignee.ID == host {
			out = append(out, v)
		}
	}
	return out, nil
}

// =============================================================================
// SINGLE-OCCURRENCE CHANGES
// =============================================================================

// Reschedule moves a session, keeping its length.
func (s *Service) Reschedule(ctx context.Context, tenant generic.TenantID, rawID string, start time.Time) (generic.OccurrenceView, error) {
	view, err := s.Get(ctx, tenant, rawID)
	if err != nil {
		return generic.OccurrenceView{}, err
	}
	if view.Item.Status == generic.StatusCancelled {
		return generic.OccurrenceView{}, &generic.InvalidArgumentError{Field: "status", Reason: "session is cancelled"}
	}
	upd := generic.ItemUpdate{StartDateTime: generic.Set(start.UTC())}
	if length := view.Item.DueDate.Sub(view.Item.StartDateTime); !view.Item.DueDate.IsZero() {
		upd.DueDate = generic.Set(start.Add(length).UTC())
	}
	res, err := s.Engine.Update(ctx, tenant, rawID, upd)
	return res.View, err
}

// Reassign hands a session to another host.
func (s *Service) Reassign(ctx context.Context, tenant generic.TenantID, rawID, host string) (generic.OccurrenceView, error) {
	if strings.TrimSpace(host) == "" {
		return generic.OccurrenceView{}, &generic.InvalidArgumentError{Field: "host", Reason: "is required"}
	}
	if _, err := s.Get(ctx, tenant, rawID); err != nil {
		return generic.OccurrenceView{}, err
	}
	res, err := s.Engine.Update(ctx, tenant, rawID, generic.ItemUpdate{AssigneeID: generic.Set(host)})
	return res.View, err
}

// Cancel calls a session off.
func (s *Service) Cancel(ctx context.Context, tenant generic.TenantID, rawID, reason string) (generic.OccurrenceView, error) {
	if _, err := s.Get(ctx, tenant, rawID); err != nil {
		return generic.OccurrenceView{}, err
	}
	return s.Engine.Cancel(ctx, tenant, rawID, reason)
}

// MarkHeld records that a session took place. An occurrence id freezes the
// day as DONE; a frozen row or a single session is moved to DONE. A
// cancelled session cannot be held.
func (s *Service) MarkHeld(ctx context.Context, tenant generic.TenantID, rawID string) (generic.Item, error) {
	view, err := sessionOnly(rawID)(s.Engine.GetExact(ctx, tenant, rawID))
	if err != nil {
		return generic.Item{}, err
	}
	item := view.Item
	if item.Status == generic.StatusCancelled {
		return generic.Item{}, &generic.InvalidArgumentError{Field: "status", Reason: "session was cancelled"}
	}
	if view.IsCalendarEvent {
		done := generic.StatusDone
		if item, err = s.Engine.EnsureMaterialized(ctx, tenant, rawID, &done); err != nil {
			return generic.Item{}, err
		}
	} else if item.IsRecurring() {
		return generic.Item{}, &generic.InvalidArgumentError{Field: "id", Reason: "mark a single occurrence of a series as held"}
	}

	if item.Status == generic.StatusDone {
		return item, nil
	}
	if item.StartDateTime.After(s.Engine.Clock.Now()) {
		return generic.Item{}, fmt.Errorf("%w: session starts at %s", generic.ErrFutureMaterialization, item.StartDateTime.Format(time.RFC3339))
	}
	res, err := s.Engine.Update(ctx, tenant, string(item.ID), generic.ItemUpdate{Status: generic.Set(generic.StatusDone)})
	if err != nil {
		return generic.Item{}, err
	}
	return res.View.Item, nil
}
