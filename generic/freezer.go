/*
freezer.go - Materialization of past occurrences

PURPOSE:
  Once an occurrence's day has passed it stops being virtual: the Freezer
  writes a standalone "actual" row (ParentID = template, OccurrenceDate = day)
  built from the template and the day's override. From then on the actual row
  is the occurrence; later template edits no longer reach it.

ALGORITHM (EnsureMaterialized, one transaction):
  1. Day after today            -> ErrFutureMaterialization
  2. Deleted override for day   -> Conflict
  3. Actual already exists      -> return it unchanged
  4. Resolve the view (template + live override); a forced status wins
  5. Insert the actual with recurrence disabled
  6. If an override drove it, set the override status to the resolved status

RACES:
  Two sweeps freezing the same day collide on the store's unique
  (tenant, parent, occurrence day) index. The loser re-reads and returns the
  winner's row.

SWEEP:
  SweepPastOccurrences walks every occurrence from the template start through
  today in date order, one at a time. A failing day is logged and reported;
  the remaining days still run. Only a missing template aborts the sweep.

SEE ALSO:
  - view.go: BuildView
  - engine.go: Cancel on a past day freezes with a forced CANCELLED status
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Freezer struct {
	Store    TxStore
	Clock    Clock
	Expander Expander
	Log      zerolog.Logger
}

// EnsureMaterialized returns the actual row of template on day, creating it
// if needed. forced, when non-nil, overrides the resolved status.
func (f *Freezer) EnsureMaterialized(ctx context.Context, tenant TenantID, template Item, day Date, forced *Status) (Item, error) {
	var adjust func(*Item)
	if forced != nil {
		if !forced.Valid() {
			return Item{}, invalid("status", "unknown status %q", *forced)
		}
		status := *forced
		adjust = func(it *Item) { it.Status = status }
	}
	actual, _, err := f.freeze(ctx, tenant, template, day, adjust)
	return actual, err
}

// freeze runs the materialization transaction. adjust may edit the actual row
// before it is inserted. created is false when the row already existed.
func (f *Freezer) freeze(ctx context.Context, tenant TenantID, template Item, day Date, adjust func(*Item)) (actual Item, created bool, err error) {
	if today := f.Clock.Today(); day.After(today) {
		return Item{}, false, fmt.Errorf("%w: %s is after %s", ErrFutureMaterialization, day, today)
	}
	if !template.IsRecurring() {
		return Item{}, false, invalid("id", "%s is not a recurring template", template.ID)
	}
	start, ok, err := f.Expander.Occurs(template, day)
	if err != nil {
		return Item{}, false, err
	}
	if !ok {
		return Item{}, false, &NotFoundError{Resource: "occurrence", ID: RefFor(template.ID, day).String()}
	}

	now := f.Clock.now()
	err = f.Store.WithTx(ctx, func(tx Store) error {
		deleted, err := tx.FindOverride(ctx, tenant, template.ID, day, true)
		if err != nil {
			return err
		}
		if deleted != nil {
			return &ConflictError{TemplateID: template.ID, Date: day, Reason: "occurrence was deleted"}
		}

		ov, err := tx.FindOverride(ctx, tenant, template.ID, day, false)
		if err != nil {
			return err
		}

		existing, err := tx.FindActual(ctx, tenant, template.ID, day)
		if err != nil {
			return err
		}
		if existing != nil {
			actual = *existing
			return nil
		}

		actual = newActual(BuildView(template, start, ov), day, now)
		if adjust != nil {
			adjust(&actual)
		}
		if err := tx.CreateItem(ctx, actual); err != nil {
			return err
		}
		created = true

		if ov != nil && ov.Status != actual.Status {
			consumed := ov.Clone()
			consumed.Status = actual.Status
			consumed.UpdatedAt = now
			return tx.UpdateOverride(ctx, consumed)
		}
		return nil
	})

	var dup *DuplicateRowError
	if errors.As(err, &dup) {
		existing, ferr := f.Store.FindActual(ctx, tenant, template.ID, day)
		if ferr != nil {
			return Item{}, false, ferr
		}
		if existing != nil {
			return *existing, false, nil
		}
	}
	if err != nil {
		return Item{}, false, err
	}

	if created {
		f.Log.Debug().
			Str("tenant", string(tenant)).
			Str("template", string(template.ID)).
			Str("date", day.String()).
			Str("actual", string(actual.ID)).
			Str("status", string(actual.Status)).
			Msg("occurrence materialized")
	}
	return actual, created, nil
}

func newActual(view OccurrenceView, day Date, now time.Time) Item {
	it := view.Item.Clone()
	d := day
	return Item{
		ID:             ItemID(uuid.NewString()),
		TenantID:       it.TenantID,
		Kind:           it.Kind,
		Title:          it.Title,
		Description:    it.Description,
		Status:         it.Status,
		Priority:       it.Priority,
		Progress:       it.Progress,
		Tags:           it.Tags,
		StartDateTime:  it.StartDateTime,
		DueDate:        it.DueDate,
		Assignee:       it.Assignee,
		ParentID:       view.OriginalTemplateID,
		OccurrenceDate: &d,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// =============================================================================
// SWEEP
// =============================================================================

// SweepFailure is one day that could not be materialized.
type SweepFailure struct {
	Date Date
	Err  error
}

// SweepReport summarizes one SweepPastOccurrences run.
type SweepReport struct {
	TenantID       TenantID
	TemplateID     ItemID
	Through        Date
	Materialized   []ItemID
	AlreadyFrozen  int
	SkippedDeleted int
	Failures       []SweepFailure
}

// OK reports whether every day was handled.
func (r SweepReport) OK() bool { return len(r.Failures) == 0 }

// SweepPastOccurrences freezes every occurrence of the template from its start
// through today that has no actual row and was not deleted.
func (f *Freezer) SweepPastOccurrences(ctx context.Context, tenant TenantID, templateID ItemID) (SweepReport, error) {
	report := SweepReport{TenantID: tenant, TemplateID: templateID, Through: f.Clock.Today()}

	template, err := f.Store.GetItem(ctx, tenant, templateID)
	if err != nil {
		return report, err
	}
	if !template.IsRecurring() {
		return report, nil
	}
	from := DayOf(template.StartDateTime)
	if from.After(report.Through) {
		return report, nil
	}

	starts, err := f.Expander.Expand(template, from, report.Through)
	if err != nil {
		return report, err
	}

	actuals, err := f.Store.ListActuals(ctx, tenant, templateID)
	if err != nil {
		return report, err
	}
	frozen := make(map[Date]bool, len(actuals))
	for _, a := range actuals {
		if a.OccurrenceDate != nil {
			frozen[*a.OccurrenceDate] = true
		}
	}

	overrides, err := f.Store.ListOverrides(ctx, tenant, templateID, OverrideFilter{
		From: &from, To: &report.Through, IncludeDeleted: true,
	})
	if err != nil {
		return report, err
	}
	deleted := make(map[Date]bool)
	for _, ov := range overrides {
		if ov.IsDeleted {
			deleted[ov.Date] = true
		}
	}

	log := f.Log.With().Str("tenant", string(tenant)).Str("template", string(templateID)).Logger()
	for _, start := range starts {
		day := DayOf(start)
		switch {
		case frozen[day]:
			report.AlreadyFrozen++
			continue
		case deleted[day]:
			report.SkippedDeleted++
			continue
		}
		actual, err := f.EnsureMaterialized(ctx, tenant, template, day, nil)
		if err != nil {
			log.Warn().Err(err).Str("date", day.String()).Msg("sweep: occurrence not materialized")
			report.Failures = append(report.Failures, SweepFailure{Date: day, Err: err})
			continue
		}
		report.Materialized = append(report.Materialized, actual.ID)
	}

	log.Info().
		Int("materialized", len(report.Materialized)).
		Int("already_frozen", report.AlreadyFrozen).
		Int("skipped_deleted", report.SkippedDeleted).
		Int("failed", len(report.Failures)).
		Msg("sweep finished")
	return report, nil
}
