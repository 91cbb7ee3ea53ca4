/*
guarantees_test.go - Behavioral tests for the recurring-item engine

PURPOSE:
  These tests are executable descriptions of the engine's guarantees. Each
  one pins a property that callers rely on:
  1. Override merge precedence
  2. Idempotent materialization
  3. Cancellation permanence
  4. Propagation scoping
  5. The weekly Monday scenario, end to end

READING THESE TESTS:
  Each test has GIVEN/WHEN/THEN comments explaining the scenario. Time is
  pinned with generic.FixedClock so "past" and "future" are deterministic.
*/
package generic_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/recurrence-engine/generic"
	"github.com/warp/recurrence-engine/generic/store"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

const tenant generic.TenantID = "acme"

func newEngine(today time.Time) (*generic.Engine, *store.Memory) {
	mem := store.NewMemory()
	mem.AddUser(tenant, generic.UserRef{ID: "u-1", Name: "Ada"})
	mem.AddUser(tenant, generic.UserRef{ID: "u-2", Name: "Grace"})
	return &generic.Engine{
		Store:    mem,
		Users:    mem,
		Activity: mem,
		Clock:    generic.FixedClock(today),
		Log:      zerolog.Nop(),
	}, mem
}

// createWeekly stores the Monday template: 2024-01-01 09:00, 2 days long.
func createWeekly(t *testing.T, eng *generic.Engine) generic.Item {
	t.Helper()
	tpl, err := eng.Create(context.Background(), tenant, generic.ItemInput{
		Kind:             "task",
		Title:            "Weekly report",
		StartDateTime:    at(2024, time.January, 1, 9),
		DueDate:          at(2024, time.January, 3, 9),
		EnableRecurrence: true,
		RecurrenceConfig: &generic.RecurrenceRule{Frequency: generic.Weekly, WeekDays: []int{1}},
	})
	require.NoError(t, err)
	return tpl
}

func occ(tpl generic.Item, d generic.Date) string {
	return generic.RefFor(tpl.ID, d).String()
}

func eventDays(views []generic.OccurrenceView) []generic.Date {
	out := make([]generic.Date, len(views))
	for i, v := range views {
		out[i] = v.EventDate
	}
	return out
}

func january() generic.Window {
	return generic.Window{Start: day(2024, 1, 1), End: day(2024, 1, 22)}
}

// =============================================================================
// SCENARIO
// =============================================================================

func TestGuarantee_Scenario_WeeklyMonday(t *testing.T) {
	// GIVEN: Weekly Monday template from 2024-01-01, duration 2 days
	//        An override on 01-08 with status CANCELLED (not deleted)
	// WHEN: Listing with statuses=[TODO], then sweeping on 2024-01-10
	// THEN: 01-08 is filtered out; the sweep freezes 01-01 and 01-08 only

	ctx := context.Background()
	eng, mem := newEngine(at(2024, time.January, 5, 12))
	tpl := createWeekly(t, eng)

	all, err := eng.List(ctx, tenant, generic.ListQuery{Window: january()})
	require.NoError(t, err)
	assert.Equal(t, []generic.Date{day(2024, 1, 1), day(2024, 1, 8), day(2024, 1, 15), day(2024, 1, 22)}, eventDays(all))

	// 01-08 is still in the future on 01-05
	_, err = eng.Update(ctx, tenant, occ(tpl, day(2024, 1, 8)), generic.ItemUpdate{Status: generic.Set(generic.StatusCancelled)})
	require.NoError(t, err)

	todo, err := eng.List(ctx, tenant, generic.ListQuery{Window: january(), Statuses: []generic.Status{generic.StatusTodo}})
	require.NoError(t, err)
	assert.Equal(t, []generic.Date{day(2024, 1, 1), day(2024, 1, 15), day(2024, 1, 22)}, eventDays(todo))

	eng.Clock = generic.FixedClock(at(2024, time.January, 10, 8))
	report, err := eng.Sweep(ctx, tenant, tpl.ID)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Len(t, report.Materialized, 2)

	actuals, err := mem.ListActuals(ctx, tenant, tpl.ID)
	require.NoError(t, err)
	require.Len(t, actuals, 2)
	assert.Equal(t, day(2024, 1, 1), *actuals[0].OccurrenceDate)
	assert.Equal(t, generic.StatusTodo, actuals[0].Status)
	assert.Equal(t, day(2024, 1, 8), *actuals[1].OccurrenceDate)
	assert.Equal(t, generic.StatusCancelled, actuals[1].Status, "frozen with the override's status")
	assert.False(t, actuals[1].EnableRecurrence)
	assert.Nil(t, actuals[1].RecurrenceConfig)
	assert.Equal(t, tpl.ID, actuals[1].ParentID)
	assert.Equal(t, 48*time.Hour, actuals[0].DueDate.Sub(actuals[0].StartDateTime))

	again, err := eng.Sweep(ctx, tenant, tpl.ID)
	require.NoError(t, err)
	assert.Empty(t, again.Materialized, "sweeps are idempotent")
	assert.Equal(t, 2, again.AlreadyFrozen)
}

// =============================================================================
// IDEMPOTENT MATERIALIZATION
// =============================================================================

func TestGuarantee_EnsureMaterialized_Idempotent(t *testing.T) {
	// GIVEN: A past occurrence
	// WHEN: Freezing it twice
	// THEN: Same actual ID, exactly one row

	ctx := context.Background()
	eng, mem := newEngine(at(2024, time.January, 10, 8))
	tpl := createWeekly(t, eng)

	first, err := eng.EnsureMaterialized(ctx, tenant, occ(tpl, day(2024, 1, 8)), nil)
	require.NoError(t, err)
	second, err := eng.EnsureMaterialized(ctx, tenant, occ(tpl, day(2024, 1, 8)), nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	actuals, err := mem.ListActuals(ctx, tenant, tpl.ID)
	require.NoError(t, err)
	assert.Len(t, actuals, 1)
}

func TestGuarantee_EnsureMaterialized_FutureRejected(t *testing.T) {
	ctx := context.Background()
	eng, _ := newEngine(at(2024, time.January, 10, 8))
	tpl := createWeekly(t, eng)

	_, err := eng.EnsureMaterialized(ctx, tenant, occ(tpl, day(2024, 1, 15)), nil)
	require.ErrorIs(t, err, generic.ErrFutureMaterialization)
	assert.True(t, generic.IsClientError(err))
}

func TestGuarantee_EnsureMaterialized_TodayCountsAsPast(t *testing.T) {
	ctx := context.Background()
	eng, _ := newEngine(at(2024, time.January, 8, 0))
	tpl := createWeekly(t, eng)

	actual, err := eng.EnsureMaterialized(ctx, tenant, occ(tpl, day(2024, 1, 8)), nil)
	require.NoError(t, err)
	assert.Equal(t, at(2024, time.January, 8, 9), actual.StartDateTime)
}

func TestGuarantee_EnsureMaterialized_ForcedStatusWins(t *testing.T) {
	// GIVEN: A future edit set 01-08 to IN_PROGRESS
	// WHEN: Freezing with a forced DONE
	// THEN: Actual is DONE and the override is marked consumed with DONE

	ctx := context.Background()
	eng, mem := newEngine(at(2024, time.January, 2, 8))
	tpl := createWeekly(t, eng)
	_, err := eng.Update(ctx, tenant, occ(tpl, day(2024, 1, 8)), generic.ItemUpdate{Status: generic.Set(generic.StatusInProgress)})
	require.NoError(t, err)

	eng.Clock = generic.FixedClock(at(2024, time.January, 9, 8))
	done := generic.StatusDone
	actual, err := eng.EnsureMaterialized(ctx, tenant, occ(tpl, day(2024, 1, 8)), &done)
	require.NoError(t, err)
	assert.Equal(t, generic.StatusDone, actual.Status)

	ov, err := mem.FindOverride(ctx, tenant, tpl.ID, day(2024, 1, 8), false)
	require.NoError(t, err)
	require.NotNil(t, ov)
	assert.Equal(t, generic.StatusDone, ov.Status)
}

func TestGuarantee_EnsureMaterialized_NotAnOccurrence(t *testing.T) {
	ctx := context.Background()
	eng, _ := newEngine(at(2024, time.January, 10, 8))
	tpl := createWeekly(t, eng)

	_, err := eng.EnsureMaterialized(ctx, tenant, occ(tpl, day(2024, 1, 9)), nil)
	assert.True(t, generic.IsNotFound(err), "a Tuesday is not an occurrence: %v", err)
}

// =============================================================================
// CANCELLATION PERMANENCE
// =============================================================================

func TestGuarantee_DeletedOccurrence_NeverReappears(t *testing.T) {
	// GIVEN: 01-15 deleted while still in the future
	// WHEN: Listing, reading, editing, and freezing it later
	// THEN: Never listed, not found, edits and freezes conflict

	ctx := context.Background()
	eng, _ := newEngine(at(2024, time.January, 10, 8))
	tpl := createWeekly(t, eng)
	id := occ(tpl, day(2024, 1, 15))

	require.NoError(t, eng.DeleteOccurrence(ctx, tenant, id))
	require.NoError(t, eng.DeleteOccurrence(ctx, tenant, id), "deleting twice is a no-op")

	views, err := eng.List(ctx, tenant, generic.ListQuery{Window: january()})
	require.NoError(t, err)
	assert.NotContains(t, eventDays(views), day(2024, 1, 15))

	_, err = eng.Get(ctx, tenant, id)
	assert.True(t, generic.IsNotFound(err))

	_, err = eng.Update(ctx, tenant, id, generic.ItemUpdate{Title: generic.Set("resurrect")})
	assert.True(t, generic.IsConflict(err))

	eng.Clock = generic.FixedClock(at(2024, time.January, 20, 8))
	_, err = eng.EnsureMaterialized(ctx, tenant, id, nil)
	assert.True(t, generic.IsConflict(err))

	report, err := eng.Sweep(ctx, tenant, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SkippedDeleted)
	assert.Len(t, report.Materialized, 2, "01-01 and 01-08 only")
}

func TestGuarantee_DeleteOccurrence_FrozenDayConflicts(t *testing.T) {
	ctx := context.Background()
	eng, _ := newEngine(at(2024, time.January, 10, 8))
	tpl := createWeekly(t, eng)
	_, err := eng.EnsureMaterialized(ctx, tenant, occ(tpl, day(2024, 1, 8)), nil)
	require.NoError(t, err)

	err = eng.DeleteOccurrence(ctx, tenant, occ(tpl, day(2024, 1, 8)))
	assert.True(t, generic.IsConflict(err))

	err = eng.DeleteOccurrence(ctx, tenant, string(tpl.ID))
	assert.True(t, generic.IsClientError(err), "plain ids cannot be deleted as occurrences")
}

// =============================================================================
// PROPAGATION SCOPING
// =============================================================================

func TestGuarantee_Propagation_OnlyTrackedFields(t *testing.T) {
	// GIVEN: 01-15 customizes title and status; 01-22 customizes priority
	// WHEN: The template title changes
	// THEN: 01-15 title refreshed, status untouched;
	//       01-22 gains the title and keeps its priority (not in the diff)

	ctx := context.Background()
	eng, mem := newEngine(at(2024, time.January, 10, 8))
	tpl := createWeekly(t, eng)

	_, err := eng.Update(ctx, tenant, occ(tpl, day(2024, 1, 15)), generic.ItemUpdate{
		Title:  generic.Set("Custom title"),
		Status: generic.Set(generic.StatusInProgress),
	})
	require.NoError(t, err)
	_, err = eng.Update(ctx, tenant, occ(tpl, day(2024, 1, 22)), generic.ItemUpdate{
		Priority:   generic.Set(generic.PriorityHigh),
		AssigneeID: generic.Set("u-2"),
	})
	require.NoError(t, err)

	res, err := eng.Update(ctx, tenant, string(tpl.ID), generic.ItemUpdate{Title: generic.Set("Renamed")})
	require.NoError(t, err)
	require.Len(t, res.Propagation, 2)
	for _, r := range res.Propagation {
		assert.NoError(t, r.Err)
	}

	ov15, err := mem.FindOverride(ctx, tenant, tpl.ID, day(2024, 1, 15), false)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", ov15.Data.Title.Or(""))
	assert.Equal(t, generic.StatusInProgress, ov15.Status)

	ov22, err := mem.FindOverride(ctx, tenant, tpl.ID, day(2024, 1, 22), false)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", ov22.Data.Title.Or(""))
	assert.Equal(t, generic.PriorityHigh, ov22.Data.Priority.Or(""))
	assert.Equal(t, "u-2", ov22.Assignee.ID, "assignee is never propagated")
	assert.Equal(t, generic.StatusTodo, ov22.Status)
}

func TestGuarantee_Propagation_KeepsCustomizationsOutsideTheDiff(t *testing.T) {
	// GIVEN: 01-15 cancelled ahead of time (note in description) with 40% progress
	// WHEN: The template is retitled
	// THEN: 01-15 gains the title; note and progress survive

	ctx := context.Background()
	eng, mem := newEngine(at(2024, time.January, 10, 8))
	tpl := createWeekly(t, eng)
	id := occ(tpl, day(2024, 1, 15))
	_, err := eng.Update(ctx, tenant, id, generic.ItemUpdate{Progress: generic.Set(decimal.NewFromInt(40))})
	require.NoError(t, err)
	cancelled, err := eng.Cancel(ctx, tenant, id, "offsite")
	require.NoError(t, err)

	res, err := eng.Update(ctx, tenant, string(tpl.ID), generic.ItemUpdate{Title: generic.Set("Renamed")})
	require.NoError(t, err)
	require.Len(t, res.Propagation, 1)
	assert.Equal(t, []string{"title"}, res.Propagation[0].Applied.Keys())

	ov, err := mem.FindOverride(ctx, tenant, tpl.ID, day(2024, 1, 15), false)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", ov.Data.Title.Or(""))
	assert.Equal(t, cancelled.Item.Description, ov.Data.Description.Or(""))
	assert.True(t, decimal.NewFromInt(40).Equal(ov.Data.Progress.Or(decimal.Zero)))
	assert.Equal(t, generic.StatusCancelled, ov.Status)
}

func TestGuarantee_Propagation_ExplicitNullClearsTrackedField(t *testing.T) {
	// GIVEN: 01-15 customizes the description
	// WHEN: The template description is set to null
	// THEN: 01-15 stops tracking it and inherits the (now empty) template value

	ctx := context.Background()
	eng, mem := newEngine(at(2024, time.January, 10, 8))
	tpl := createWeekly(t, eng)
	_, err := eng.Update(ctx, tenant, occ(tpl, day(2024, 1, 15)), generic.ItemUpdate{
		Description: generic.Set("Bring numbers"),
		Title:       generic.Set("Custom"),
	})
	require.NoError(t, err)

	_, err = eng.Update(ctx, tenant, string(tpl.ID), generic.ItemUpdate{Description: generic.Null[string]()})
	require.NoError(t, err)

	ov, err := mem.FindOverride(ctx, tenant, tpl.ID, day(2024, 1, 15), false)
	require.NoError(t, err)
	assert.False(t, ov.Data.Description.Present())
	assert.Equal(t, "Custom", ov.Data.Title.Or(""))
}

func TestGuarantee_Propagation_SkipsDeletedOverrides(t *testing.T) {
	ctx := context.Background()
	eng, mem := newEngine(at(2024, time.January, 10, 8))
	tpl := createWeekly(t, eng)
	require.NoError(t, eng.DeleteOccurrence(ctx, tenant, occ(tpl, day(2024, 1, 15))))

	res, err := eng.Update(ctx, tenant, string(tpl.ID), generic.ItemUpdate{Title: generic.Set("Renamed")})
	require.NoError(t, err)
	assert.Empty(t, res.Propagation)

	ov, err := mem.FindOverride(ctx, tenant, tpl.ID, day(2024, 1, 15), true)
	require.NoError(t, err)
	assert.False(t, ov.Data.Title.Present())
}

func TestGuarantee_Propagation_StatusOnlyEditLeavesOverrides(t *testing.T) {
	ctx := context.Background()
	eng, mem := newEngine(at(2024, time.January, 10, 8))
	tpl := createWeekly(t, eng)
	_, err := eng.Update(ctx, tenant, occ(tpl, day(2024, 1, 15)), generic.ItemUpdate{Title: generic.Set("Custom")})
	require.NoError(t, err)

	res, err := eng.Update(ctx, tenant, string(tpl.ID), generic.ItemUpdate{Status: generic.Set(generic.StatusInProgress)})
	require.NoError(t, err)
	assert.Empty(t, res.Propagation)

	ov, err := mem.FindOverride(ctx, tenant, tpl.ID, day(2024, 1, 15), false)
	require.NoError(t, err)
	assert.Equal(t, "Custom", ov.Data.Title.Or(""))
}
