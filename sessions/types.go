/*
Package sessions implements recurring hosted sessions (coaching, 1:1s,
office hours) on top of the generic engine.

DOMAIN RULES:
  - A session has a host, stored as the item's assignee; it is required
  - A session has a positive length; its due date is start + length
  - Sessions carry no progress
  - A single occurrence can be rescheduled, handed to another host,
    cancelled, or marked as held once its day has come

WHY THE SAME ENGINE:
  A session series is a recurring template exactly like a task series.
  Rescheduling one meeting is an override of its start instant; holding a
  meeting freezes the occurrence with a forced DONE status. Nothing about
  expansion or override merging is session specific.

USAGE:
  svc := sessions.NewService(engine)
  tpl, err := svc.Schedule(ctx, "acme", sessions.SessionInput{
      Title: "Coaching", Host: "u-1",
      Start: start, Length: time.Hour,
      Rule:  &generic.RecurrenceRule{Frequency: generic.Weekly, WeekDays: []int{2}},
  })
  view, err := svc.Reschedule(ctx, "acme", string(tpl.ID)+"@2024-02-06", newStart)

SEE ALSO:
  - tasks/: Progress-tracked items
  - generic/freezer.go: Forced-status materialization used by MarkHeld
*/
package sessions

import (
	"time"

	"github.com/warp/recurrence-engine/generic"
)

// Kind tags session rows.
const Kind generic.Kind = "session"

// SessionInput describes a new session or session series.
type SessionInput struct {
	Title       string
	Description string
	Host        string
	Start       time.Time
	Length      time.Duration
	Tags        []string

	// Rule nil means a single session.
	Rule  *generic.RecurrenceRule
	Until *generic.Date
}

func (in SessionInput) itemInput() generic.ItemInput {
	return generic.ItemInput{
		Kind:              Kind,
		Title:             in.Title,
		Description:       in.Description,
		Tags:              in.Tags,
		StartDateTime:     in.Start,
		DueDate:           in.Start.Add(in.Length),
		AssigneeID:        in.Host,
		EnableRecurrence:  in.Rule != nil,
		RecurrenceConfig:  in.Rule,
		RecurrenceEndDate: in.Until,
	}
}
