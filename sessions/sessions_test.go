package sessions_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/recurrence-engine/generic"
	"github.com/warp/recurrence-engine/generic/store"
	"github.com/warp/recurrence-engine/sessions"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const tenant generic.TenantID = "acme"

func newService(t *testing.T, now time.Time) (*sessions.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	mem.AddUser(tenant, generic.UserRef{ID: "coach-1", Name: "Ada"})
	mem.AddUser(tenant, generic.UserRef{ID: "coach-2", Name: "Grace"})
	return sessions.NewService(&generic.Engine{
		Store:    mem,
		Users:    mem,
		Activity: mem,
		Clock:    generic.FixedClock(now),
		Log:      zerolog.Nop(),
	}), mem
}

func at(y int, m time.Month, d, hour int) time.Time {
	return time.Date(y, m, d, hour, 0, 0, 0, time.UTC)
}

// tuesdayCoaching schedules a one hour session every Tuesday from 2024-01-02 10:00.
func tuesdayCoaching(t *testing.T, svc *sessions.Service) generic.Item {
	t.Helper()
	tpl, err := svc.Schedule(context.Background(), tenant, sessions.SessionInput{
		Title:  "Coaching",
		Host:   "coach-1",
		Start:  at(2024, time.January, 2, 10),
		Length: time.Hour,
		Rule:   &generic.RecurrenceRule{Frequency: generic.Weekly, WeekDays: []int{2}},
	})
	require.NoError(t, err)
	return tpl
}

func occ(tpl generic.Item, y int, m time.Month, d int) string {
	return generic.RefFor(tpl.ID, generic.NewDate(y, m, d)).String()
}

func january() generic.Window {
	return generic.Window{Start: generic.NewDate(2024, 1, 1), End: generic.NewDate(2024, 1, 31)}
}

// =============================================================================
// SCHEDULING
// =============================================================================

func TestSchedule_RequiresHostAndLength(t *testing.T) {
	svc, _ := newService(t, at(2024, time.January, 10, 12))
	ctx := context.Background()

	_, err := svc.Schedule(ctx, tenant, sessions.SessionInput{Title: "1:1", Start: at(2024, time.January, 2, 10), Length: time.Hour})
	assert.True(t, generic.IsClientError(err), "host is required")

	_, err = svc.Schedule(ctx, tenant, sessions.SessionInput{Title: "1:1", Host: "coach-1", Start: at(2024, time.January, 2, 10)})
	assert.True(t, generic.IsClientError(err), "length is required")

	_, err = svc.Schedule(ctx, tenant, sessions.SessionInput{Title: "1:1", Host: "nobody", Start: at(2024, time.January, 2, 10), Length: time.Hour})
	assert.True(t, generic.IsClientError(err), "host must exist")
}

func TestScheduleFromJSON_Presets(t *testing.T) {
	svc, _ := newService(t, at(2024, time.January, 10, 12))
	ctx := context.Background()

	weekly, err := svc.ScheduleFromJSON(ctx, tenant, sessions.WeeklySessionJSON("Coaching", "coach-1", at(2024, time.January, 2, 10), time.Hour, []int{2, 4}))
	require.NoError(t, err)
	assert.Equal(t, sessions.Kind, weekly.Kind)
	assert.Equal(t, "Ada", weekly.Assignee.Name)

	office, err := svc.ScheduleFromJSON(ctx, tenant, sessions.OfficeHoursJSON("Office hours", "coach-2", at(2024, time.January, 1, 15), 2*time.Hour, at(2024, time.January, 5, 0)))
	require.NoError(t, err)
	require.NotNil(t, office.RecurrenceEndDate)

	views, err := svc.Upcoming(ctx, tenant, january(), "coach-2")
	require.NoError(t, err)
	assert.Len(t, views, 5, "daily from 01-01 through 01-05")
}

func TestScheduleFromJSON_RejectsProgress(t *testing.T) {
	svc, _ := newService(t, at(2024, time.January, 10, 12))

	js := strings.Replace(
		sessions.WeeklySessionJSON("Coaching", "coach-1", at(2024, time.January, 2, 10), time.Hour, []int{2}),
		`"kind"`, `"progress": "10", "kind"`, 1)
	_, err := svc.ScheduleFromJSON(context.Background(), tenant, js)
	assert.True(t, generic.IsClientError(err))
}

// =============================================================================
// SINGLE OCCURRENCES
// =============================================================================

func TestReschedule_FutureOccurrenceKeepsLength(t *testing.T) {
	// GIVEN: Tuesday coaching at 10:00 for an hour; today is 2024-01-10
	// WHEN: Moving the 01-16 session to Wednesday 14:00
	// THEN: Starts 01-17 14:00, ends 15:00, still addressed by its Tuesday key

	svc, _ := newService(t, at(2024, time.January, 10, 12))
	ctx := context.Background()
	tpl := tuesdayCoaching(t, svc)

	view, err := svc.Reschedule(ctx, tenant, occ(tpl, 2024, time.January, 16), at(2024, time.January, 17, 14))
	require.NoError(t, err)

	assert.Equal(t, at(2024, time.January, 17, 14), view.Item.StartDateTime)
	assert.Equal(t, at(2024, time.January, 17, 15), view.Item.DueDate)
	assert.Equal(t, generic.NewDate(2024, 1, 16), view.EventDate)

	others, err := svc.Get(ctx, tenant, occ(tpl, 2024, time.January, 23))
	require.NoError(t, err)
	assert.Equal(t, at(2024, time.January, 23, 10), others.Item.StartDateTime, "other weeks are untouched")
}

func TestReassign_FutureOccurrence(t *testing.T) {
	svc, _ := newService(t, at(2024, time.January, 10, 12))
	ctx := context.Background()
	tpl := tuesdayCoaching(t, svc)

	view, err := svc.Reassign(ctx, tenant, occ(tpl, 2024, time.January, 16), "coach-2")
	require.NoError(t, err)
	assert.Equal(t, "Grace", view.Item.Assignee.Name)

	ada, err := svc.Upcoming(ctx, tenant, january(), "coach-1")
	require.NoError(t, err)
	for _, v := range ada {
		assert.NotEqual(t, generic.NewDate(2024, 1, 16), v.EventDate)
	}
}

func TestCancel_HiddenFromUpcoming(t *testing.T) {
	svc, _ := newService(t, at(2024, time.January, 10, 12))
	ctx := context.Background()
	tpl := tuesdayCoaching(t, svc)

	view, err := svc.Cancel(ctx, tenant, occ(tpl, 2024, time.January, 23), "coach away")
	require.NoError(t, err)
	assert.Equal(t, generic.StatusCancelled, view.Item.Status)
	assert.Contains(t, view.Item.Description, "coach away")

	views, err := svc.Upcoming(ctx, tenant, january(), "")
	require.NoError(t, err)
	assert.Len(t, views, 4, "five Tuesdays minus the cancelled one")

	_, err = svc.Reschedule(ctx, tenant, occ(tpl, 2024, time.January, 23), at(2024, time.January, 24, 10))
	assert.True(t, generic.IsClientError(err))
}

func TestMarkHeld_FreezesAsDone(t *testing.T) {
	// GIVEN: Tuesday coaching; today is 2024-01-10
	// WHEN: Marking the 01-09 session held, twice
	// THEN: One actual row, DONE; a future session cannot be marked

	svc, mem := newService(t, at(2024, time.January, 10, 12))
	ctx := context.Background()
	tpl := tuesdayCoaching(t, svc)

	first, err := svc.MarkHeld(ctx, tenant, occ(tpl, 2024, time.January, 9))
	require.NoError(t, err)
	assert.Equal(t, generic.StatusDone, first.Status)
	assert.Equal(t, tpl.ID, first.ParentID)

	second, err := svc.MarkHeld(ctx, tenant, occ(tpl, 2024, time.January, 9))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	actuals, err := mem.ListActuals(ctx, tenant, tpl.ID)
	require.NoError(t, err)
	assert.Len(t, actuals, 1)

	_, err = svc.MarkHeld(ctx, tenant, occ(tpl, 2024, time.January, 16))
	assert.ErrorIs(t, err, generic.ErrFutureMaterialization)
}

func TestMarkHeld_CancelledSessionIsRefused(t *testing.T) {
	// GIVEN: The 01-09 session cancelled on 01-05
	// WHEN: Marking it held on 01-10, after the day passed
	// THEN: InvalidArgument; nothing is frozen and the override stays CANCELLED

	svc, mem := newService(t, at(2024, time.January, 5, 12))
	ctx := context.Background()
	tpl := tuesdayCoaching(t, svc)
	_, err := svc.Cancel(ctx, tenant, occ(tpl, 2024, time.January, 9), "coach sick")
	require.NoError(t, err)

	svc.Engine.Clock = generic.FixedClock(at(2024, time.January, 10, 12))
	_, err = svc.MarkHeld(ctx, tenant, occ(tpl, 2024, time.January, 9))
	assert.ErrorIs(t, err, generic.ErrInvalidArgument)

	actuals, err := mem.ListActuals(ctx, tenant, tpl.ID)
	require.NoError(t, err)
	assert.Empty(t, actuals)

	ov, err := mem.FindOverride(ctx, tenant, tpl.ID, generic.NewDate(2024, 1, 9), false)
	require.NoError(t, err)
	require.NotNil(t, ov)
	assert.Equal(t, generic.StatusCancelled, ov.Status)
}

func TestMarkHeld_RejectsWholeSeries(t *testing.T) {
	svc, _ := newService(t, at(2024, time.January, 10, 12))
	tpl := tuesdayCoaching(t, svc)

	_, err := svc.MarkHeld(context.Background(), tenant, string(tpl.ID))
	assert.True(t, generic.IsClientError(err))
}
