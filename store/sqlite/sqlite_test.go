package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/recurrence-engine/generic"
	"github.com/warp/recurrence-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const tenant generic.TenantID = "acme"

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func at(y int, m time.Month, d, hour int) time.Time {
	return time.Date(y, m, d, hour, 0, 0, 0, time.UTC)
}

func template() generic.Item {
	end := generic.NewDate(2024, time.June, 30)
	return generic.Item{
		ID:                "tpl-1",
		TenantID:          tenant,
		Kind:              "task",
		Title:             "Weekly report",
		Description:       "Summarize",
		Status:            generic.StatusTodo,
		Priority:          generic.PriorityHigh,
		Progress:          decimal.RequireFromString("12.5"),
		Tags:              []string{"ops", "weekly"},
		StartDateTime:     at(2024, time.January, 1, 9),
		DueDate:           at(2024, time.January, 3, 9),
		EnableRecurrence:  true,
		RecurrenceConfig:  &generic.RecurrenceRule{Frequency: generic.Weekly, WeekDays: []int{1}},
		RecurrenceEndDate: &end,
		Assignee:          &generic.UserRef{ID: "u-1", Name: "Ada"},
		CreatedAt:         at(2023, time.December, 31, 8),
		UpdatedAt:         at(2023, time.December, 31, 8),
	}
}

// =============================================================================
// ITEMS
// =============================================================================

func TestItem_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tpl := template()

	require.NoError(t, store.CreateItem(ctx, tpl))

	got, err := store.GetItem(ctx, tenant, tpl.ID)
	require.NoError(t, err)

	assert.Equal(t, tpl.Title, got.Title)
	assert.Equal(t, tpl.Priority, got.Priority)
	assert.True(t, tpl.Progress.Equal(got.Progress))
	assert.Equal(t, tpl.Tags, got.Tags)
	assert.True(t, tpl.StartDateTime.Equal(got.StartDateTime))
	assert.True(t, tpl.DueDate.Equal(got.DueDate))
	assert.Equal(t, tpl.RecurrenceConfig, got.RecurrenceConfig)
	assert.Equal(t, *tpl.RecurrenceEndDate, *got.RecurrenceEndDate)
	assert.Equal(t, tpl.Assignee, got.Assignee)
	assert.True(t, got.IsRecurring())
	assert.Nil(t, got.OccurrenceDate)
}

func TestItem_NotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetItem(ctx, tenant, "missing")
	assert.True(t, generic.IsNotFound(err))

	err = store.UpdateItem(ctx, template())
	assert.True(t, generic.IsNotFound(err))
}

func TestItem_TenantIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateItem(ctx, template()))

	_, err := store.GetItem(ctx, "globex", "tpl-1")
	assert.True(t, generic.IsNotFound(err))

	items, err := store.ListItems(ctx, "globex", generic.ItemFilter{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestActual_OnePerDay(t *testing.T) {
	// GIVEN: An actual for tpl-1 on 2024-01-08
	// WHEN: Inserting a second actual for the same day
	// THEN: DuplicateRowError on idx_items_actual_per_day, unwrapping to ErrConflict

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateItem(ctx, template()))

	d := generic.NewDate(2024, time.January, 8)
	actual := func(id generic.ItemID) generic.Item {
		return generic.Item{
			ID: id, TenantID: tenant, Kind: "task", Title: "Weekly report",
			Status: generic.StatusDone, Priority: generic.PriorityHigh,
			StartDateTime: at(2024, time.January, 8, 9),
			ParentID:      "tpl-1", OccurrenceDate: &d,
		}
	}
	require.NoError(t, store.CreateItem(ctx, actual("act-1")))

	err := store.CreateItem(ctx, actual("act-2"))
	var dup *generic.DuplicateRowError
	require.True(t, errors.As(err, &dup), "got %v", err)
	assert.Equal(t, "idx_items_actual_per_day", dup.Index)
	assert.True(t, generic.IsConflict(err))

	// Same id on another day only breaks the primary key
	other := actual("act-1")
	nextWeek := d.AddDays(7)
	other.OccurrenceDate = &nextWeek
	other.StartDateTime = at(2024, time.January, 15, 9)
	err = store.CreateItem(ctx, other)
	require.True(t, errors.As(err, &dup), "got %v", err)
	assert.Equal(t, "items_pkey", dup.Index)

	// Same id on the same day: still a conflict, whichever key SQLite checks first
	err = store.CreateItem(ctx, actual("act-1"))
	assert.True(t, generic.IsConflict(err))

	found, err := store.FindActual(ctx, tenant, "tpl-1", d)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, generic.ItemID("act-1"), found.ID)

	none, err := store.FindActual(ctx, tenant, "tpl-1", d.AddDays(7))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestListItems_Filters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateItem(ctx, template()))
	require.NoError(t, store.CreateItem(ctx, generic.Item{
		ID: "one-off", TenantID: tenant, Kind: "session", Title: "Kickoff",
		Status: generic.StatusTodo, Priority: generic.PriorityLow,
		StartDateTime: at(2023, time.December, 1, 9),
	}))
	d := generic.NewDate(2024, time.January, 1)
	require.NoError(t, store.CreateItem(ctx, generic.Item{
		ID: "act-1", TenantID: tenant, Kind: "task", Title: "Weekly report",
		Status: generic.StatusDone, Priority: generic.PriorityHigh,
		StartDateTime: at(2024, time.January, 1, 9), ParentID: "tpl-1", OccurrenceDate: &d,
	}))

	all, err := store.ListItems(ctx, tenant, generic.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, generic.ItemID("one-off"), all[0].ID, "ordered by start")

	tasks, err := store.ListItems(ctx, tenant, generic.ItemFilter{Kind: "task", ExcludeActuals: true})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, generic.ItemID("tpl-1"), tasks[0].ID)

	recurring, err := store.ListItems(ctx, tenant, generic.ItemFilter{RecurringOnly: true})
	require.NoError(t, err)
	assert.Len(t, recurring, 1)

	actuals, err := store.ListActuals(ctx, tenant, "tpl-1")
	require.NoError(t, err)
	assert.Len(t, actuals, 1)
}

// =============================================================================
// OVERRIDES
// =============================================================================

func override(id generic.OverrideID, d generic.Date) generic.Override {
	return generic.Override{
		ID: id, TenantID: tenant, TemplateID: "tpl-1", Date: d,
		Status: generic.StatusTodo,
		Data:   generic.Patch{Title: generic.Set("Custom"), Description: generic.Null[string]()},
	}
}

func TestOverride_RoundTripKeepsNulls(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	d := generic.NewDate(2024, time.January, 15)
	ov := override("ov-1", d)
	moved := at(2024, time.January, 16, 14)
	ov.StartDateTime = &moved
	ov.Assignee = &generic.UserRef{ID: "u-2", Name: "Grace"}
	require.NoError(t, store.InsertOverride(ctx, ov))

	got, err := store.FindOverride(ctx, tenant, "tpl-1", d, false)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "Custom", got.Data.Title.Or(""))
	assert.True(t, got.Data.Description.IsNull(), "explicit null survives storage")
	assert.False(t, got.Data.Priority.Present())
	assert.True(t, moved.Equal(*got.StartDateTime))
	assert.Equal(t, "Grace", got.Assignee.Name)
	assert.Equal(t, d, got.Date)
}

func TestOverride_OneLivePerDay(t *testing.T) {
	// GIVEN: A live override for 2024-01-15
	// WHEN: Inserting another live one, then soft-deleting the first and inserting
	//       a deleted row for the same day
	// THEN: The live duplicate is rejected; deleted rows do not collide

	store := newTestStore(t)
	ctx := context.Background()
	d := generic.NewDate(2024, time.January, 15)
	require.NoError(t, store.InsertOverride(ctx, override("ov-1", d)))

	err := store.InsertOverride(ctx, override("ov-2", d))
	var dup *generic.DuplicateRowError
	require.True(t, errors.As(err, &dup), "got %v", err)
	assert.Equal(t, "idx_overrides_live_per_day", dup.Index)

	first, err := store.FindOverride(ctx, tenant, "tpl-1", d, false)
	require.NoError(t, err)
	first.IsDeleted = true
	require.NoError(t, store.UpdateOverride(ctx, *first))

	tomb := override("ov-3", d)
	tomb.IsDeleted = true
	require.NoError(t, store.InsertOverride(ctx, tomb))

	live, err := store.FindOverride(ctx, tenant, "tpl-1", d, false)
	require.NoError(t, err)
	assert.Nil(t, live)
}

func TestListOverrides_WindowAndDeleted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for i, day := range []int{1, 8, 15, 22} {
		ov := override(generic.OverrideID("ov-"+string(rune('a'+i))), generic.NewDate(2024, time.January, day))
		ov.IsDeleted = day == 15
		require.NoError(t, store.InsertOverride(ctx, ov))
	}

	from, to := generic.NewDate(2024, time.January, 5), generic.NewDate(2024, time.January, 31)
	live, err := store.ListOverrides(ctx, tenant, "tpl-1", generic.OverrideFilter{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, generic.NewDate(2024, time.January, 8), live[0].Date)
	assert.Equal(t, generic.NewDate(2024, time.January, 22), live[1].Date)

	all, err := store.ListOverrides(ctx, tenant, "tpl-1", generic.OverrideFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	latest, err := store.FindLatestOverrideOnOrBefore(ctx, tenant, "tpl-1", generic.NewDate(2024, time.January, 20))
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, generic.NewDate(2024, time.January, 8), latest.Date, "deleted rows are skipped")
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx generic.Store) error {
		if err := tx.CreateItem(ctx, template()); err != nil {
			return err
		}
		if _, err := tx.GetItem(ctx, tenant, "tpl-1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetItem(ctx, tenant, "tpl-1")
	assert.True(t, generic.IsNotFound(err))
}

func TestWithTx_Commits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.WithTx(ctx, func(tx generic.Store) error {
		if err := tx.CreateItem(ctx, template()); err != nil {
			return err
		}
		return tx.InsertOverride(ctx, override("ov-1", generic.NewDate(2024, time.January, 8)))
	}))

	ovs, err := store.ListOverrides(ctx, tenant, "tpl-1", generic.OverrideFilter{})
	require.NoError(t, err)
	assert.Len(t, ovs, 1)
}

// =============================================================================
// USERS / ACTIVITY / SWEEPS
// =============================================================================

func TestUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveUser(ctx, sqlite.User{TenantID: tenant, ID: "u-1", Name: "Ada"}))
	require.NoError(t, store.SaveUser(ctx, sqlite.User{TenantID: tenant, ID: "u-1", Name: "Ada Lovelace"}))

	ref, err := store.ResolveUser(ctx, tenant, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", ref.Name)

	_, err = store.ResolveUser(ctx, "globex", "u-1")
	assert.True(t, generic.IsNotFound(err))

	users, err := store.ListUsers(ctx, tenant)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestActivity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordActivity(ctx, generic.ActivityEntry{
		ID: "a-1", TenantID: tenant, ItemID: "tpl-1", Action: generic.ActivityUpdated,
		Changes: []generic.FieldChange{{Field: "title", From: "Old", To: "New"}},
		Summary: `updated "New": changed title from "Old" to "New"`,
		At:      at(2024, time.January, 2, 10),
	}))

	entries, err := store.ListActivity(ctx, tenant, "tpl-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, generic.ActivityUpdated, entries[0].Action)
	assert.Equal(t, "New", entries[0].Changes[0].To)
}

func TestSweepRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, n := range []int{3, 0} {
		require.NoError(t, store.SaveSweepRun(ctx, sqlite.SweepRun{
			ID: "run-" + string(rune('a'+i)), TenantID: tenant, TemplateID: "tpl-1",
			Through: generic.NewDate(2024, time.January, 10+i), Materialized: n,
			StartedAt: at(2024, time.January, 10+i, 1), CompletedAt: at(2024, time.January, 10+i, 1),
		}))
	}

	runs, err := store.ListSweepRuns(ctx, tenant, "tpl-1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].ID, "newest first")
	assert.Equal(t, 3, runs[1].Materialized)
}

// =============================================================================
// ENGINE INTEGRATION
// =============================================================================

func TestEngine_MaterializeAgainstSQLite(t *testing.T) {
	// GIVEN: The weekly Monday template stored in SQLite; today is 2024-01-10
	// WHEN: Sweeping it twice
	// THEN: Two actuals (01-01, 01-08) the first time, nothing new the second

	store := newTestStore(t)
	ctx := context.Background()
	eng := &generic.Engine{
		Store:    store,
		Users:    store,
		Activity: store,
		Clock:    generic.FixedClock(at(2024, time.January, 10, 12)),
		Log:      zerolog.Nop(),
	}
	tpl, err := eng.Create(ctx, tenant, generic.ItemInput{
		Kind:             "task",
		Title:            "Weekly report",
		StartDateTime:    at(2024, time.January, 1, 9),
		DueDate:          at(2024, time.January, 3, 9),
		EnableRecurrence: true,
		RecurrenceConfig: &generic.RecurrenceRule{Frequency: generic.Weekly, WeekDays: []int{1}},
	})
	require.NoError(t, err)

	first, err := eng.Sweep(ctx, tenant, tpl.ID)
	require.NoError(t, err)
	assert.Len(t, first.Materialized, 2)

	second, err := eng.Sweep(ctx, tenant, tpl.ID)
	require.NoError(t, err)
	assert.Empty(t, second.Materialized)
	assert.Equal(t, 2, second.AlreadyFrozen)

	_, err = eng.Update(ctx, tenant, generic.RefFor(tpl.ID, generic.NewDate(2024, time.January, 15)).String(),
		generic.ItemUpdate{Title: generic.Set("Custom")})
	require.NoError(t, err)

	views, err := eng.List(ctx, tenant, generic.ListQuery{
		Window: generic.Window{Start: generic.NewDate(2024, time.January, 1), End: generic.NewDate(2024, time.January, 22)},
	})
	require.NoError(t, err)
	require.Len(t, views, 4)
	assert.False(t, views[0].IsCalendarEvent, "01-01 is frozen")
	assert.Equal(t, "Custom", views[2].Item.Title)

	activity, err := store.ListActivity(ctx, tenant, tpl.ID)
	require.NoError(t, err)
	assert.Len(t, activity, 1)
}
