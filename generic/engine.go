/*
engine.go - Item and single-occurrence operations

PURPOSE:
  Engine is the entry point callers use. Every operation takes an explicit
  tenant and an external id. A plain id targets a stored row (template,
  one-off item or actual); a composite id "<templateId>@<date>" targets one
  occurrence of a recurring template.

COMPOSITE ID RULES:
  Day on or before today (past):
    - Read:    the actual row if frozen, else the resolved virtual occurrence
    - Update:  status/progress/recurrence edits are rejected (ErrHistoryLocked);
               other fields freeze the occurrence and edit the actual row
    - Cancel:  freeze with a forced CANCELLED status and a cancellation note
  Day after today (future):
    - Update:  written as an override; status only when explicitly given
    - Cancel:  override with CANCELLED and the note appended to the
               override description
  Any day:
    - Delete:  soft-deletes the day (override with IsDeleted); frozen days
               cannot be deleted
    - Complete is rejected; it applies to whole items only

TEMPLATE EDITS:
  Updating a recurring template rewrites its live overrides through the
  Propagator. The per-override results are returned with the update.

SEE ALSO:
  - override.go, view.go, freezer.go, propagation.go
  - api/handlers.go: HTTP surface over Engine
*/
package generic

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store    TxStore
	Users    UserDirectory // nil: assignee ids are accepted as-is
	Activity ActivitySink  // nil: no change log
	Clock    Clock
	Log      zerolog.Logger

	// MaxOccurrences caps one expansion; zero means DefaultMaxOccurrences.
	MaxOccurrences int
}

func (e *Engine) expander() Expander {
	return Expander{MaxOccurrences: e.MaxOccurrences}
}

func (e *Engine) overrides() *Overrides {
	return &Overrides{Store: e.Store, Clock: e.Clock}
}

func (e *Engine) freezer() *Freezer {
	return &Freezer{Store: e.Store, Clock: e.Clock, Expander: e.expander(), Log: e.Log}
}

func (e *Engine) propagator() *Propagator {
	return &Propagator{Store: e.Store, Clock: e.Clock, Log: e.Log}
}

// =============================================================================
// CREATE / GET
// =============================================================================

// Create validates and stores a new template or one-off item.
func (e *Engine) Create(ctx context.Context, tenant TenantID, in ItemInput) (Item, error) {
	item := in.item(tenant)
	if err := validateItem(item); err != nil {
		return Item{}, err
	}
	if in.AssigneeID != "" {
		ref, err := e.resolveUser(ctx, tenant, in.AssigneeID)
		if err != nil {
			return Item{}, err
		}
		item.Assignee = &ref
	}

	now := e.Clock.now()
	item.ID = ItemID(uuid.NewString())
	item.CreatedAt = now
	item.UpdatedAt = now
	if err := e.Store.CreateItem(ctx, item); err != nil {
		return Item{}, err
	}
	e.record(ctx, ActivityCreated, nil, item)
	return item, nil
}

// Get resolves a plain or composite id. A day without its own override
// inherits the status of the nearest earlier override that still carries one.
func (e *Engine) Get(ctx context.Context, tenant TenantID, rawID string) (OccurrenceView, error) {
	return e.get(ctx, tenant, rawID, true)
}

// GetExact is Get without the status carried from earlier days: the view an
// occurrence edit is applied to.
func (e *Engine) GetExact(ctx context.Context, tenant TenantID, rawID string) (OccurrenceView, error) {
	return e.get(ctx, tenant, rawID, false)
}

func (e *Engine) get(ctx context.Context, tenant TenantID, rawID string, sticky bool) (OccurrenceView, error) {
	ref, err := ParseOccurrenceRef(rawID)
	if err != nil {
		return OccurrenceView{}, err
	}
	if !ref.IsOccurrence() {
		item, err := e.Store.GetItem(ctx, tenant, ref.TemplateID)
		if err != nil {
			return OccurrenceView{}, err
		}
		return ItemView(item), nil
	}

	template, start, err := e.occurrence(ctx, tenant, ref)
	if err != nil {
		return OccurrenceView{}, err
	}
	return e.resolve(ctx, tenant, ref, template, start, sticky)
}

// resolve builds the view of one occurrence of an already loaded template.
func (e *Engine) resolve(ctx context.Context, tenant TenantID, ref OccurrenceRef, template Item, start time.Time, sticky bool) (OccurrenceView, error) {
	day := *ref.Date

	actual, err := e.Store.FindActual(ctx, tenant, template.ID, day)
	if err != nil {
		return OccurrenceView{}, err
	}
	if actual != nil {
		return ItemView(*actual), nil
	}

	deleted, err := e.Store.FindOverride(ctx, tenant, template.ID, day, true)
	if err != nil {
		return OccurrenceView{}, err
	}
	if deleted != nil {
		return OccurrenceView{}, &NotFoundError{Resource: "occurrence", ID: ref.String()}
	}

	ov, err := e.overrides().FindForDate(ctx, tenant, template.ID, day)
	if err != nil {
		return OccurrenceView{}, err
	}
	if ov != nil || !sticky {
		return BuildView(template, start, ov), nil
	}

	view := BuildView(template, start, nil)
	status, err := e.overrides().CarriedStatus(ctx, tenant, template.ID, day)
	if err != nil {
		return OccurrenceView{}, err
	}
	if status != "" {
		view.Item.Status = status
	}
	return view, nil
}

// occurrence loads the template of ref and checks that ref's day is one of
// its occurrences.
func (e *Engine) occurrence(ctx context.Context, tenant TenantID, ref OccurrenceRef) (Item, time.Time, error) {
	template, err := e.Store.GetItem(ctx, tenant, ref.TemplateID)
	if err != nil {
		return Item{}, time.Time{}, err
	}
	if !template.IsRecurring() {
		return Item{}, time.Time{}, invalid("id", "%s is not a recurring template", template.ID)
	}
	start, ok, err := e.expander().Occurs(template, *ref.Date)
	if err != nil {
		return Item{}, time.Time{}, err
	}
	if !ok {
		return Item{}, time.Time{}, &NotFoundError{Resource: "occurrence", ID: ref.String()}
	}
	return template, start, nil
}

// =============================================================================
// LIST
// =============================================================================

// ListQuery selects occurrences in a window.
type ListQuery struct {
	Kind       Kind
	TemplateID ItemID // limit to one template and its actuals
	Window     Window
	Statuses   []Status

	// Materialize freezes past occurrences while listing.
	Materialize bool
}

// List returns every visible occurrence in the window ordered by start:
// one-off items and actual rows as stored, recurring templates expanded.
func (e *Engine) List(ctx context.Context, tenant TenantID, q ListQuery) ([]OccurrenceView, error) {
	if err := q.Window.Validate(); err != nil {
		return nil, err
	}

	var items []Item
	if q.TemplateID != "" {
		template, err := e.Store.GetItem(ctx, tenant, q.TemplateID)
		if err != nil {
			return nil, err
		}
		actuals, err := e.Store.ListActuals(ctx, tenant, q.TemplateID)
		if err != nil {
			return nil, err
		}
		items = append([]Item{template}, actuals...)
	} else {
		var err error
		items, err = e.Store.ListItems(ctx, tenant, ItemFilter{Kind: q.Kind})
		if err != nil {
			return nil, err
		}
	}

	frozen := make(map[ItemID]map[Date]bool)
	var out []OccurrenceView
	for _, it := range items {
		if it.IsRecurring() {
			continue
		}
		if it.IsActual() && it.OccurrenceDate != nil {
			if frozen[it.ParentID] == nil {
				frozen[it.ParentID] = make(map[Date]bool)
			}
			frozen[it.ParentID][*it.OccurrenceDate] = true
		}
		view := ItemView(it)
		if q.Window.Contains(view.EventDate) && statusAllowed(it.Status, q.Statuses) {
			out = append(out, view)
		}
	}

	for _, it := range items {
		if !it.IsRecurring() {
			continue
		}
		views, err := e.expandTemplate(ctx, tenant, it, q, frozen[it.ID])
		if err != nil {
			return nil, err
		}
		out = append(out, views...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Item.StartDateTime, out[j].Item.StartDateTime
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].ID() < out[j].ID()
	})
	return out, nil
}

func (e *Engine) expandTemplate(ctx context.Context, tenant TenantID, template Item, q ListQuery, frozen map[Date]bool) ([]OccurrenceView, error) {
	starts, err := e.expander().Expand(template, q.Window.Start, q.Window.End)
	if err != nil {
		return nil, err
	}
	if len(starts) == 0 {
		return nil, nil
	}

	overrides, err := e.Store.ListOverrides(ctx, tenant, template.ID, OverrideFilter{
		From: &q.Window.Start, To: &q.Window.End, IncludeDeleted: true,
	})
	if err != nil {
		return nil, err
	}
	byDay := make(map[Date]*Override, len(overrides))
	for i := range overrides {
		ov := &overrides[i]
		// a deleted row wins over a live one for the same day
		if cur, ok := byDay[ov.Date]; !ok || !cur.IsDeleted {
			byDay[ov.Date] = ov
		}
	}

	today := e.Clock.Today()
	var out []OccurrenceView
	for _, start := range starts {
		day := DayOf(start)
		if frozen[day] {
			continue
		}
		ov := byDay[day]
		if ov != nil && ov.IsDeleted {
			continue
		}

		if q.Materialize && !day.After(today) {
			actual, err := e.freezer().EnsureMaterialized(ctx, tenant, template, day, nil)
			if err == nil {
				if statusAllowed(actual.Status, q.Statuses) {
					out = append(out, ItemView(actual))
				}
				continue
			}
			e.Log.Warn().Err(err).
				Str("tenant", string(tenant)).
				Str("template", string(template.ID)).
				Str("date", day.String()).
				Msg("materialize on read failed; returning virtual occurrence")
		}

		if Visible(template, ov, q.Statuses) {
			out = append(out, BuildView(template, start, ov))
		}
	}
	return out, nil
}

// ListOverrides returns the overrides of a template, oldest day first.
func (e *Engine) ListOverrides(ctx context.Context, tenant TenantID, templateID ItemID, filter OverrideFilter) ([]Override, error) {
	if _, err := e.Store.GetItem(ctx, tenant, templateID); err != nil {
		return nil, err
	}
	return e.Store.ListOverrides(ctx, tenant, templateID, filter)
}

// =============================================================================
// UPDATE
// =============================================================================

// UpdateResult is the updated occurrence plus, for template edits, the
// outcome of rewriting each affected override.
type UpdateResult struct {
	View        OccurrenceView
	Propagation []PropagationResult
}

// Update edits a stored row (plain id) or one occurrence (composite id).
func (e *Engine) Update(ctx context.Context, tenant TenantID, rawID string, upd ItemUpdate) (UpdateResult, error) {
	ref, err := ParseOccurrenceRef(rawID)
	if err != nil {
		return UpdateResult{}, err
	}
	if !ref.IsOccurrence() {
		return e.updateItem(ctx, tenant, ref.TemplateID, upd)
	}

	template, start, err := e.occurrence(ctx, tenant, ref)
	if err != nil {
		return UpdateResult{}, err
	}
	day := *ref.Date
	if upd.IsEmpty() {
		view, err := e.resolve(ctx, tenant, ref, template, start, true)
		return UpdateResult{View: view}, err
	}

	if !day.After(e.Clock.Today()) {
		if upd.touchesHistory() {
			return UpdateResult{}, fmt.Errorf("%w: %s", ErrHistoryLocked, ref)
		}
		actual, err := e.freezer().EnsureMaterialized(ctx, tenant, template, day, nil)
		if err != nil {
			return UpdateResult{}, err
		}
		return e.updateItem(ctx, tenant, actual.ID, upd)
	}

	in, err := e.overrideInput(ctx, tenant, upd)
	if err != nil {
		return UpdateResult{}, err
	}
	ov, err := e.overrides().Upsert(ctx, tenant, template, day, in)
	if err != nil {
		return UpdateResult{}, err
	}
	if ov == nil {
		ov, err = e.overrides().FindForDate(ctx, tenant, template.ID, day)
		if err != nil {
			return UpdateResult{}, err
		}
	}
	return UpdateResult{View: BuildView(template, start, ov)}, nil
}

// overrideInput maps an occurrence edit onto override columns and data.
func (e *Engine) overrideInput(ctx context.Context, tenant TenantID, upd ItemUpdate) (OverrideInput, error) {
	if upd.touchesRecurrence() {
		return OverrideInput{}, invalid("recurrenceConfig", "recurrence is set on the template, not on one occurrence")
	}
	in := OverrideInput{Data: upd.Patch()}
	in.Data.DueDate = upd.DueDate

	if upd.Status.IsNull() {
		return OverrideInput{}, invalid("status", "cannot be null")
	}
	if s, ok := upd.Status.Get(); ok {
		in.Status = &s
	}
	if upd.StartDateTime.IsNull() {
		return OverrideInput{}, invalid("startDateTime", "cannot be null")
	}
	if t, ok := upd.StartDateTime.Get(); ok {
		in.StartDateTime = &t
	}
	if upd.AssigneeID.IsNull() {
		return OverrideInput{}, invalid("assigneeId", "a single occurrence cannot be unassigned")
	}
	if id, ok := upd.AssigneeID.Get(); ok {
		ref, err := e.resolveUser(ctx, tenant, id)
		if err != nil {
			return OverrideInput{}, err
		}
		in.Assignee = &ref
	}
	return in, nil
}

func (e *Engine) updateItem(ctx context.Context, tenant TenantID, id ItemID, upd ItemUpdate) (UpdateResult, error) {
	before, err := e.Store.GetItem(ctx, tenant, id)
	if err != nil {
		return UpdateResult{}, err
	}
	if before.IsActual() && upd.touchesRecurrence() {
		return UpdateResult{}, invalid("enableRecurrence", "a materialized occurrence cannot recur")
	}

	var assignee *UserRef
	if v, ok := upd.AssigneeID.Get(); ok && v != "" {
		ref, err := e.resolveUser(ctx, tenant, v)
		if err != nil {
			return UpdateResult{}, err
		}
		assignee = &ref
	}

	after := upd.apply(before, assignee)
	if err := validateItem(after); err != nil {
		return UpdateResult{}, err
	}
	after.UpdatedAt = e.Clock.now()
	if err := e.Store.UpdateItem(ctx, after); err != nil {
		return UpdateResult{}, err
	}
	e.record(ctx, ActivityUpdated, &before, after)

	res := UpdateResult{View: ItemView(after)}
	if diff := upd.Patch(); after.IsRecurring() && !diff.IsEmpty() {
		res.Propagation, err = e.propagator().OnTemplateUpdated(ctx, tenant, after.ID, diff)
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

// =============================================================================
// CANCEL / COMPLETE / DELETE
// =============================================================================

// Cancel marks a row or one occurrence CANCELLED and appends a timestamped
// note to its description.
func (e *Engine) Cancel(ctx context.Context, tenant TenantID, rawID, reason string) (OccurrenceView, error) {
	ref, err := ParseOccurrenceRef(rawID)
	if err != nil {
		return OccurrenceView{}, err
	}
	note := cancellationNote(e.Clock.now(), reason)

	if !ref.IsOccurrence() {
		return e.cancelItem(ctx, tenant, ref.TemplateID, note)
	}

	template, start, err := e.occurrence(ctx, tenant, ref)
	if err != nil {
		return OccurrenceView{}, err
	}
	day := *ref.Date

	if !day.After(e.Clock.Today()) {
		existing, err := e.Store.FindActual(ctx, tenant, template.ID, day)
		if err != nil {
			return OccurrenceView{}, err
		}
		if existing != nil {
			return e.cancelItem(ctx, tenant, existing.ID, note)
		}
		actual, created, err := e.freezer().freeze(ctx, tenant, template, day, func(it *Item) {
			it.Status = StatusCancelled
			it.Description = appendNote(it.Description, note)
		})
		if err != nil {
			return OccurrenceView{}, err
		}
		if !created && actual.Status != StatusCancelled {
			// lost a race with another freeze; cancel the winner's row
			return e.cancelItem(ctx, tenant, actual.ID, note)
		}
		return ItemView(actual), nil
	}

	ov, err := e.overrides().FindForDate(ctx, tenant, template.ID, day)
	if err != nil {
		return OccurrenceView{}, err
	}
	current := BuildView(template, start, ov)
	if current.Item.Status == StatusCancelled {
		return OccurrenceView{}, invalid("status", "%s is already cancelled", ref)
	}
	cancelled := StatusCancelled
	ov, err = e.overrides().Upsert(ctx, tenant, template, day, OverrideInput{
		Status: &cancelled,
		Data:   Patch{Description: Set(appendNote(current.Item.Description, note))},
	})
	if err != nil {
		return OccurrenceView{}, err
	}
	return BuildView(template, start, ov), nil
}

// cancelItem cancels a stored row. Template overrides are not rewritten:
// the note belongs to the template only.
func (e *Engine) cancelItem(ctx context.Context, tenant TenantID, id ItemID, note string) (OccurrenceView, error) {
	before, err := e.Store.GetItem(ctx, tenant, id)
	if err != nil {
		return OccurrenceView{}, err
	}
	if before.Status == StatusCancelled {
		return OccurrenceView{}, invalid("status", "%s is already cancelled", id)
	}
	after := before.Clone()
	after.Status = StatusCancelled
	after.Description = appendNote(after.Description, note)
	after.UpdatedAt = e.Clock.now()
	if err := e.Store.UpdateItem(ctx, after); err != nil {
		return OccurrenceView{}, err
	}
	e.record(ctx, ActivityUpdated, &before, after)
	return ItemView(after), nil
}

// Complete sets a whole item DONE with progress 100.
func (e *Engine) Complete(ctx context.Context, tenant TenantID, rawID string) (UpdateResult, error) {
	ref, err := ParseOccurrenceRef(rawID)
	if err != nil {
		return UpdateResult{}, err
	}
	if ref.IsOccurrence() {
		return UpdateResult{}, invalid("id", "complete applies to whole items, not to occurrence %s", ref)
	}
	item, err := e.Store.GetItem(ctx, tenant, ref.TemplateID)
	if err != nil {
		return UpdateResult{}, err
	}
	if item.Status == StatusDone {
		return UpdateResult{}, invalid("status", "%s is already done", item.ID)
	}
	return e.updateItem(ctx, tenant, item.ID, ItemUpdate{
		Status:   Set(StatusDone),
		Progress: Set(CompleteProgress),
	})
}

// DeleteOccurrence removes one day from a series for good.
func (e *Engine) DeleteOccurrence(ctx context.Context, tenant TenantID, rawID string) error {
	ref, err := ParseOccurrenceRef(rawID)
	if err != nil {
		return err
	}
	if !ref.IsOccurrence() {
		return invalid("id", "%s is not an occurrence id", ref)
	}
	template, _, err := e.occurrence(ctx, tenant, ref)
	if err != nil {
		return err
	}
	day := *ref.Date
	actual, err := e.Store.FindActual(ctx, tenant, template.ID, day)
	if err != nil {
		return err
	}
	if actual != nil {
		return &ConflictError{TemplateID: template.ID, Date: day, Reason: "occurrence is already materialized as " + string(actual.ID)}
	}
	_, err = e.overrides().Upsert(ctx, tenant, template, day, OverrideInput{Deleted: true})
	return err
}

// =============================================================================
// SWEEPS
// =============================================================================

// HandleDueDatePassed is the trigger entry point: it parses the occurrence id
// and catches the whole template up to today.
func (e *Engine) HandleDueDatePassed(ctx context.Context, tenant TenantID, rawID string) (SweepReport, error) {
	ref, err := ParseOccurrenceRef(rawID)
	if err != nil {
		return SweepReport{TenantID: tenant}, err
	}
	return e.Sweep(ctx, tenant, ref.TemplateID)
}

// Sweep materializes every past occurrence of the template that has no row yet.
func (e *Engine) Sweep(ctx context.Context, tenant TenantID, templateID ItemID) (SweepReport, error) {
	return e.freezer().SweepPastOccurrences(ctx, tenant, templateID)
}

// EnsureMaterialized freezes one occurrence by composite id.
func (e *Engine) EnsureMaterialized(ctx context.Context, tenant TenantID, rawID string, forced *Status) (Item, error) {
	ref, err := ParseOccurrenceRef(rawID)
	if err != nil {
		return Item{}, err
	}
	if !ref.IsOccurrence() {
		return Item{}, invalid("id", "%s is not an occurrence id", ref)
	}
	template, err := e.Store.GetItem(ctx, tenant, ref.TemplateID)
	if err != nil {
		return Item{}, err
	}
	return e.freezer().EnsureMaterialized(ctx, tenant, template, *ref.Date, forced)
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) resolveUser(ctx context.Context, tenant TenantID, id string) (UserRef, error) {
	if e.Users == nil {
		return UserRef{ID: id}, nil
	}
	ref, err := e.Users.ResolveUser(ctx, tenant, id)
	if IsNotFound(err) {
		return UserRef{}, invalid("assigneeId", "unknown user %q", id)
	}
	return ref, err
}

// record emits a change entry. Sink failures are logged and swallowed.
func (e *Engine) record(ctx context.Context, action ActivityAction, before *Item, after Item) {
	if e.Activity == nil {
		return
	}
	changes := ChangedFields(before, after)
	if action == ActivityUpdated && len(changes) == 0 {
		return
	}
	entry := ActivityEntry{
		ID:       uuid.NewString(),
		TenantID: after.TenantID,
		ItemID:   after.ID,
		Action:   action,
		Changes:  changes,
		Summary:  DescribeChanges(action, after.Title, changes),
		At:       e.Clock.now(),
	}
	if err := e.Activity.RecordActivity(ctx, entry); err != nil {
		e.Log.Warn().Err(err).
			Str("tenant", string(after.TenantID)).
			Str("item", string(after.ID)).
			Msg("activity not recorded")
	}
}

func cancellationNote(now time.Time, reason string) string {
	note := "Cancelled at " + now.UTC().Format(time.RFC3339)
	if r := strings.TrimSpace(reason); r != "" {
		note += ": " + r
	}
	return note
}

func appendNote(desc, note string) string {
	if strings.TrimSpace(desc) == "" {
		return note
	}
	return desc + "\n\n" + note
}
