package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/recurrence-engine/factory"
	"github.com/warp/recurrence-engine/generic"
)

// Service applies task rules on top of an Engine.
type Service struct {
	Engine  *generic.Engine
	Factory *factory.TemplateFactory
}

func NewService(engine *generic.Engine) *Service {
	return &Service{Engine: engine, Factory: factory.NewTemplateFactory()}
}

// Create stores a task template or one-off task.
func (s *Service) Create(ctx context.Context, tenant generic.TenantID, in generic.ItemInput) (generic.Item, error) {
	if in.Kind != "" && in.Kind != Kind {
		return generic.Item{}, &generic.InvalidArgumentError{Field: "kind", Reason: fmt.Sprintf("%q is not a task", in.Kind)}
	}
	in.Kind = Kind
	if in.Progress.Equal(generic.CompleteProgress) && in.Status == "" {
		in.Status = generic.StatusDone
	}
	return s.Engine.Create(ctx, tenant, in)
}

// CreateFromJSON parses a template definition and creates it.
func (s *Service) CreateFromJSON(ctx context.Context, tenant generic.TenantID, jsonStr string) (generic.Item, error) {
	in, err := s.Factory.ParseTemplate(jsonStr)
	if err != nil {
		return generic.Item{}, err
	}
	return s.Create(ctx, tenant, in)
}

// Get returns a task or one task occurrence.
func (s *Service) Get(ctx context.Context, tenant generic.TenantID, rawID string) (generic.OccurrenceView, error) {
	return s.ofKind(s.Engine.Get(ctx, tenant, rawID))
}

func (s *Service) ofKind(view generic.OccurrenceView, err error) (generic.OccurrenceView, error) {
	if err != nil {
		return generic.OccurrenceView{}, err
	}
	if view.Item.Kind != Kind {
		return generic.OccurrenceView{}, &generic.NotFoundError{Resource: "task", ID: view.ID()}
	}
	return view, nil
}

// Agenda lists task occurrences in the window.
func (s *Service) Agenda(ctx context.Context, tenant generic.TenantID, window generic.Window, statuses ...generic.Status) ([]generic.OccurrenceView, error) {
	return s.Engine.List(ctx, tenant, generic.ListQuery{Kind: Kind, Window: window, Statuses: statuses})
}

// SetProgress records progress on a task or a future occurrence. 100 completes
// a whole task; any progress moves a TODO task to IN_PROGRESS.
func (s *Service) SetProgress(ctx context.Context, tenant generic.TenantID, rawID string, progress decimal.Decimal) (generic.UpdateResult, error) {
	view, err := s.ofKind(s.Engine.GetExact(ctx, tenant, rawID))
	if err != nil {
		return generic.UpdateResult{}, err
	}
	if progress.IsNegative() || progress.GreaterThan(generic.CompleteProgress) {
		return generic.UpdateResult{}, &generic.InvalidArgumentError{Field: generic.KeyProgress, Reason: fmt.Sprintf("%s is outside 0..100", progress)}
	}
	if view.Item.Status == generic.StatusCancelled {
		return generic.UpdateResult{}, &generic.InvalidArgumentError{Field: "status", Reason: "task is cancelled"}
	}

	if progress.Equal(generic.CompleteProgress) && !view.IsCalendarEvent {
		return s.Engine.Complete(ctx, tenant, rawID)
	}

	upd := generic.ItemUpdate{Progress: generic.Set(progress)}
	switch {
	case progress.Equal(generic.CompleteProgress):
		upd.Status = generic.Set(generic.StatusDone)
	case progress.IsPositive() && view.Item.Status == generic.StatusTodo:
		upd.Status = generic.Set(generic.StatusInProgress)
	}
	return s.Engine.Update(ctx, tenant, rawID, upd)
}

// Overdue returns open task occurrences in the window whose due date is
// before asOf.
func (s *Service) Overdue(ctx context.Context, tenant generic.TenantID, window generic.Window, asOf time.Time) ([]generic.OccurrenceView, error) {
	views, err := s.Agenda(ctx, tenant, window, openStatuses...)
	if err != nil {
		return nil, err
	}
	var out []generic.OccurrenceView
	for _, v := range views {
		if !v.Item.DueDate.IsZero() && v.Item.DueDate.Before(asOf) {
			out = append(out, v)
		}
	}
	return out, nil
}
