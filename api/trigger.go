/*
trigger.go - Cron-driven due-date trigger

PURPOSE:
  Freezes past occurrences without waiting for a client to read them. On
  every tick it walks each tenant's recurring templates and fires
  HandleDueDatePassed("<templateId>@<today>") for each one; the engine
  catches the whole template up to today.

DESIGN:
  - Schedule is a cron expression (robfig/cron/v3, 5 fields or a
    descriptor such as "@hourly"), evaluated in UTC
  - One run at a time; a tick that fires during a run is skipped
  - Every template sweep is recorded in sweep_runs, including failures
  - A failing template does not stop the others

CONFIGURATION:
  - Spec: cron expression (default "@hourly")
  - Enabled: whether Start schedules anything (default: true)
  - RunOnStart: sweep once immediately on Start

USAGE:
  trigger := NewDueDateTrigger(store, engine, logger)
  trigger.Spec = "@every 15m"
  if err := trigger.Start(); err != nil { ... }
  defer trigger.Stop()

SEE ALSO:
  - handlers.go: RunSweeps endpoint (manual trigger)
  - generic/freezer.go: SweepPastOccurrences
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/warp/recurrence-engine/generic"
	"github.com/warp/recurrence-engine/store/sqlite"
)

// DefaultTriggerSpec runs the sweep at the top of every hour.
const DefaultTriggerSpec = "@hourly"

// ErrSweepInProgress is returned by RunNow while another run is active.
var ErrSweepInProgress = errors.New("sweep already in progress")

// DueDateTrigger periodically sweeps every recurring template.
type DueDateTrigger struct {
	Store      *sqlite.Store
	Engine     *generic.Engine
	Log        zerolog.Logger
	Spec       string
	Enabled    bool
	RunOnStart bool

	parser cron.Parser
	c      *cron.Cron
	mu     sync.Mutex
	run    sync.Mutex
}

// NewDueDateTrigger creates an enabled trigger with the default schedule.
func NewDueDateTrigger(store *sqlite.Store, engine *generic.Engine, log zerolog.Logger) *DueDateTrigger {
	return &DueDateTrigger{
		Store:   store,
		Engine:  engine,
		Log:     log.With().Str("component", "due-date-trigger").Logger(),
		Spec:    DefaultTriggerSpec,
		Enabled: true,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start schedules the trigger. Calling Start twice is a no-op.
func (t *DueDateTrigger) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.Enabled {
		t.Log.Info().Msg("disabled, not starting")
		return nil
	}
	if t.c != nil {
		return nil
	}

	sched, err := t.parser.Parse(t.Spec)
	if err != nil {
		return fmt.Errorf("invalid trigger schedule %q: %w", t.Spec, err)
	}
	t.c = cron.New(cron.WithParser(t.parser), cron.WithLocation(time.UTC))
	t.c.Schedule(sched, cron.FuncJob(t.tick))
	t.c.Start()

	t.Log.Info().Str("spec", t.Spec).Time("next", sched.Next(time.Now().UTC())).Msg("started")
	if t.RunOnStart {
		go t.tick()
	}
	return nil
}

// Stop unschedules the trigger and waits for a running sweep to finish.
func (t *DueDateTrigger) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.c == nil {
		return
	}
	<-t.c.Stop().Done()
	t.c = nil
	t.Log.Info().Msg("stopped")
}

func (t *DueDateTrigger) tick() {
	if _, err := t.RunNow(context.Background()); err != nil {
		if errors.Is(err, ErrSweepInProgress) {
			t.Log.Debug().Msg("previous run still active, skipping tick")
			return
		}
		t.Log.Error().Err(err).Msg("sweep run failed")
	}
}

// RunNow sweeps every recurring template of every tenant and returns one
// recorded run per template.
func (t *DueDateTrigger) RunNow(ctx context.Context) ([]sqlite.SweepRun, error) {
	if !t.run.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer t.run.Unlock()

	tenants, err := t.Store.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	var runs []sqlite.SweepRun
	for _, tenant := range tenants {
		tenantRuns, err := t.sweepTenant(ctx, tenant)
		runs = append(runs, tenantRuns...)
		if err != nil {
			return runs, err
		}
	}
	return runs, nil
}

// RunTenant sweeps one tenant's templates.
func (t *DueDateTrigger) RunTenant(ctx context.Context, tenant generic.TenantID) ([]sqlite.SweepRun, error) {
	if !t.run.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer t.run.Unlock()
	return t.sweepTenant(ctx, tenant)
}

func (t *DueDateTrigger) sweepTenant(ctx context.Context, tenant generic.TenantID) ([]sqlite.SweepRun, error) {
	templates, err := t.Store.ListItems(ctx, tenant, generic.ItemFilter{RecurringOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list templates of %s: %w", tenant, err)
	}

	today := t.Engine.Clock.Today()
	runs := make([]sqlite.SweepRun, 0, len(templates))
	for _, tpl := range templates {
		if tpl.StartDateTime.After(today.AddDays(1).Start()) {
			continue // nothing due yet
		}
		ref := generic.RefFor(tpl.ID, today).String()
		run, err := t.Sweep(ctx, tenant, ref)
		if err != nil {
			return runs, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// Sweep fires HandleDueDatePassed for one occurrence id and records the run.
// The returned error is non-nil only when the run could not be recorded.
func (t *DueDateTrigger) Sweep(ctx context.Context, tenant generic.TenantID, rawID string) (sqlite.SweepRun, error) {
	started := t.Engine.Clock.Now()
	report, sweepErr := t.Engine.HandleDueDatePassed(ctx, tenant, rawID)

	run := sqlite.SweepRun{
		ID:             uuid.NewString(),
		TenantID:       tenant,
		TemplateID:     report.TemplateID,
		Through:        report.Through,
		Materialized:   len(report.Materialized),
		AlreadyFrozen:  report.AlreadyFrozen,
		SkippedDeleted: report.SkippedDeleted,
		Failures:       len(report.Failures),
		StartedAt:      started,
		CompletedAt:    t.Engine.Clock.Now(),
	}
	if run.TemplateID == "" {
		if ref, err := generic.ParseOccurrenceRef(rawID); err == nil {
			run.TemplateID = ref.TemplateID
		}
	}

	// per-day failures are logged by the freezer
	switch {
	case sweepErr != nil:
		run.Error = sweepErr.Error()
		t.Log.Error().Err(sweepErr).
			Str("tenant", string(tenant)).
			Str("template", string(run.TemplateID)).
			Msg("sweep failed")
	case !report.OK():
		first := report.Failures[0]
		run.Error = fmt.Sprintf("%d occurrence(s) failed, first %s: %v", len(report.Failures), first.Date, first.Err)
	}

	if err := t.Store.SaveSweepRun(ctx, run); err != nil {
		return run, fmt.Errorf("failed to record sweep of %s: %w", run.TemplateID, err)
	}
	return run, nil
}
