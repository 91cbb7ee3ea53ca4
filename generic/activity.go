package generic

import (
	"fmt"
	"strings"
	"time"
)

// FieldChange is one tracked field that differs between two versions of an item.
type FieldChange struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// ChangedFields diffs the fields the activity log tracks: title, description,
// status, priority, dueDate and assignee. A nil before reports every tracked
// field that is set on after.
func ChangedFields(before *Item, after Item) []FieldChange {
	var prev Item
	if before != nil {
		prev = *before
	}
	var out []FieldChange
	add := func(field, from, to string) {
		if from != to {
			out = append(out, FieldChange{Field: field, From: from, To: to})
		}
	}
	add("title", prev.Title, after.Title)
	add("description", prev.Description, after.Description)
	add("status", string(prev.Status), string(after.Status))
	add("priority", string(prev.Priority), string(after.Priority))
	add("dueDate", formatInstant(prev.DueDate), formatInstant(after.DueDate))
	add("assignee", assigneeLabel(prev.Assignee), assigneeLabel(after.Assignee))
	return out
}

// DescribeChanges renders changes as one human-readable line.
func DescribeChanges(action ActivityAction, title string, changes []FieldChange) string {
	if action == ActivityCreated {
		return fmt.Sprintf("created %q", title)
	}
	parts := make([]string, 0, len(changes))
	for _, c := range changes {
		switch {
		case c.From == "":
			parts = append(parts, fmt.Sprintf("set %s to %q", c.Field, c.To))
		case c.To == "":
			parts = append(parts, fmt.Sprintf("cleared %s", c.Field))
		default:
			parts = append(parts, fmt.Sprintf("changed %s from %q to %q", c.Field, c.From, c.To))
		}
	}
	return fmt.Sprintf("updated %q: %s", title, strings.Join(parts, "; "))
}

func formatInstant(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func assigneeLabel(u *UserRef) string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}
