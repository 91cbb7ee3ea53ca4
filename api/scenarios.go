/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario creates users and recurring templates in
	the "demo" tenant, then edits single occurrences so that overrides,
	frozen history and deleted days are all visible at once.

AVAILABLE SCENARIOS:

	weekly-report:  Monday report due two days later; a past week
	                cancelled, a future week renamed, history swept
	daily-standup:  Daily standup; a future day deleted, progress on
	                tomorrow, template retitled to show propagation
	coaching:       Tuesday/Thursday coaching sessions; one moved,
	                one handed to another coach, one marked held

DATES:

	Scenarios are laid out around the engine's current day so that every
	load has both history and future occurrences.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "weekly-report"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Item endpoints used to inspect the result
  - tasks/factory.go, sessions/factory.go: Preset JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/recurrence-engine/generic"
	"github.com/warp/recurrence-engine/sessions"
	"github.com/warp/recurrence-engine/store/sqlite"
	"github.com/warp/recurrence-engine/tasks"
)

// ScenarioTenant owns every row a scenario creates.
const ScenarioTenant generic.TenantID = "demo"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "weekly-report",
		Name:        "Weekly Report",
		Description: "Monday report with a cancelled past week, a renamed future week and swept history",
		Category:    "tasks",
	},
	{
		ID:          "daily-standup",
		Name:        "Daily Standup",
		Description: "Daily task with a deleted day, future progress and a propagated template edit",
		Category:    "tasks",
	},
	{
		ID:          "coaching",
		Name:        "Coaching Sessions",
		Description: "Twice-weekly sessions: one moved, one reassigned, one held",
		Category:    "sessions",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "weekly-report":
		load = h.loadWeeklyReportScenario
	case "daily-standup":
		load = h.loadDailyStandupScenario
	case "coaching":
		load = h.loadCoachingScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.Log.Info().Str("scenario", req.ScenarioID).Msg("scenario loaded")

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"tenant":   string(ScenarioTenant),
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadWeeklyReportScenario(ctx context.Context) error {
	if err := h.seedUsers(ctx); err != nil {
		return err
	}
	today := h.Engine.Clock.Today()

	// Four Mondays back, so the sweep has history to freeze
	start := mondayOnOrBefore(today).AddDays(-21).Start().Add(9 * time.Hour)
	tpl, err := h.Tasks.CreateFromJSON(ctx, ScenarioTenant, tasks.WeeklyTaskJSON("Weekly report", start, []int{1}, 48*time.Hour))
	if err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	if _, err := h.Engine.Update(ctx, ScenarioTenant, string(tpl.ID), generic.ItemUpdate{AssigneeID: generic.Set("u-alex")}); err != nil {
		return fmt.Errorf("assign template: %w", err)
	}

	lastWeek := generic.RefFor(tpl.ID, mondayOnOrBefore(today).AddDays(-7)).String()
	if _, err := h.Engine.Cancel(ctx, ScenarioTenant, lastWeek, "team offsite"); err != nil {
		return fmt.Errorf("cancel %s: %w", lastWeek, err)
	}

	nextWeek := generic.RefFor(tpl.ID, mondayOnOrBefore(today).AddDays(7)).String()
	if _, err := h.Engine.Update(ctx, ScenarioTenant, nextWeek, generic.ItemUpdate{
		Title:    generic.Set("Weekly report (quarter close)"),
		Priority: generic.Set(generic.PriorityHigh),
	}); err != nil {
		return fmt.Errorf("rename %s: %w", nextWeek, err)
	}

	_, err = h.Trigger.Sweep(ctx, ScenarioTenant, generic.RefFor(tpl.ID, today).String())
	return err
}

func (h *Handler) loadDailyStandupScenario(ctx context.Context) error {
	if err := h.seedUsers(ctx); err != nil {
		return err
	}
	today := h.Engine.Clock.Today()

	start := today.AddDays(-10).Start().Add(9*time.Hour + 30*time.Minute)
	tpl, err := h.Tasks.CreateFromJSON(ctx, ScenarioTenant, tasks.DailyStandupJSON("Standup", start))
	if err != nil {
		return fmt.Errorf("create template: %w", err)
	}

	if err := h.Engine.DeleteOccurrence(ctx, ScenarioTenant, generic.RefFor(tpl.ID, today.AddDays(3)).String()); err != nil {
		return fmt.Errorf("delete occurrence: %w", err)
	}

	tomorrow := generic.RefFor(tpl.ID, today.AddDays(1)).String()
	if _, err := h.Tasks.SetProgress(ctx, ScenarioTenant, tomorrow, decimal.NewFromInt(50)); err != nil {
		return fmt.Errorf("progress %s: %w", tomorrow, err)
	}

	// Template edit after the override exists: tomorrow's override picks it up
	if _, err := h.Engine.Update(ctx, ScenarioTenant, string(tpl.ID), generic.ItemUpdate{
		Title: generic.Set("Standup (async)"),
	}); err != nil {
		return fmt.Errorf("retitle template: %w", err)
	}

	monthly := today.AddDays(-40).Start().Add(14 * time.Hour)
	if _, err := h.Tasks.CreateFromJSON(ctx, ScenarioTenant, tasks.MonthlyReviewJSON("Budget review", monthly, []int{1, 15}, 4*time.Hour)); err != nil {
		return fmt.Errorf("create monthly review: %w", err)
	}
	return nil
}

func (h *Handler) loadCoachingScenario(ctx context.Context) error {
	if err := h.seedUsers(ctx); err != nil {
		return err
	}
	today := h.Engine.Clock.Today()

	start := today.AddDays(-14).Start().Add(10 * time.Hour)
	tpl, err := h.Sessions.ScheduleFromJSON(ctx, ScenarioTenant,
		sessions.WeeklySessionJSON("Coaching", "u-sam", start, time.Hour, []int{2, 4}))
	if err != nil {
		return fmt.Errorf("schedule series: %w", err)
	}

	upcoming, err := h.Sessions.Upcoming(ctx, ScenarioTenant, generic.Window{Start: today.AddDays(1), End: today.AddDays(21)}, "")
	if err != nil {
		return err
	}
	if len(upcoming) >= 2 {
		first := upcoming[0]
		moved := first.Item.StartDateTime.Add(24*time.Hour + 4*time.Hour)
		if _, err := h.Sessions.Reschedule(ctx, ScenarioTenant, first.ID(), moved); err != nil {
			return fmt.Errorf("reschedule %s: %w", first.ID(), err)
		}
		if _, err := h.Sessions.Reassign(ctx, ScenarioTenant, upcoming[1].ID(), "u-alex"); err != nil {
			return fmt.Errorf("reassign %s: %w", upcoming[1].ID(), err)
		}
	}

	past, err := h.Engine.List(ctx, ScenarioTenant, generic.ListQuery{
		TemplateID: tpl.ID,
		Window:     generic.Window{Start: today.AddDays(-14), End: today.AddDays(-1)},
	})
	if err != nil {
		return err
	}
	if len(past) > 0 {
		last := past[len(past)-1]
		if _, err := h.Sessions.MarkHeld(ctx, ScenarioTenant, last.ID()); err != nil {
			return fmt.Errorf("mark held %s: %w", last.ID(), err)
		}
	}

	officeStart := today.Start().Add(16 * time.Hour)
	_, err = h.Sessions.ScheduleFromJSON(ctx, ScenarioTenant,
		sessions.OfficeHoursJSON("Office hours", "u-sam", officeStart, 2*time.Hour, officeStart.AddDate(0, 0, 13)))
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

var scenarioUsers = []sqlite.User{
	{ID: "u-alex", Name: "Alex Rivera", Email: "alex@example.com"},
	{ID: "u-sam", Name: "Sam Okafor", Email: "sam@example.com"},
}

func (h *Handler) seedUsers(ctx context.Context) error {
	for _, u := range scenarioUsers {
		u.TenantID = ScenarioTenant
		if err := h.Store.SaveUser(ctx, u); err != nil {
			return fmt.Errorf("save user %s: %w", u.ID, err)
		}
	}
	return nil
}

func mondayOnOrBefore(d generic.Date) generic.Date {
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDays(-offset)
}
