/*
Package tasks implements recurring to-do items on top of the generic engine.

DOMAIN RULES:
  - Every row created through this package has Kind "task"
  - Progress runs 0..100; reaching 100 completes the task
  - Any progress on a TODO task moves it to IN_PROGRESS
  - Overdue means a due date in the past and a status other than DONE or
    CANCELLED

PRESETS:
  factory.go carries JSON definitions for common schedules (daily standup,
  weekly report, monthly review). They are parsed with factory.TemplateFactory
  like any other template definition.

USAGE:
  svc := tasks.NewService(engine)
  tpl, err := svc.CreateFromJSON(ctx, "acme", tasks.WeeklyTaskJSON("Weekly report", start, []int{1}, 48*time.Hour))
  res, err := svc.SetProgress(ctx, "acme", string(tpl.ID)+"@2024-02-05", decimal.NewFromInt(50))

SEE ALSO:
  - generic/engine.go: Underlying occurrence operations
  - sessions/: Sessions with a host instead of progress
*/
package tasks

import "github.com/warp/recurrence-engine/generic"

// Kind tags task rows.
const Kind generic.Kind = "task"

// openStatuses are the statuses a task can be overdue in.
var openStatuses = []generic.Status{generic.StatusTodo, generic.StatusInProgress}
