package tasks

import (
	"encoding/json"
	"time"
)

// WeeklyTaskJSON returns JSON for a task repeating on the given weekdays
// (0=Sunday..6=Saturday), due duration after each start.
func WeeklyTaskJSON(title string, start time.Time, weekDays []int, duration time.Duration) string {
	return recurringJSON(title, start, duration, map[string]interface{}{
		"frequency": "WEEKLY",
		"weekDays":  weekDays,
	}, "MEDIUM")
}

// DailyStandupJSON returns JSON for a 15 minute daily task.
func DailyStandupJSON(title string, start time.Time) string {
	return recurringJSON(title, start, 15*time.Minute, map[string]interface{}{
		"frequency": "DAILY",
	}, "LOW")
}

// MonthlyReviewJSON returns JSON for a task repeating on the given days of
// the month.
func MonthlyReviewJSON(title string, start time.Time, monthDays []int, duration time.Duration) string {
	return recurringJSON(title, start, duration, map[string]interface{}{
		"frequency": "MONTHLY",
		"monthDays": monthDays,
	}, "HIGH")
}

// OneOffTaskJSON returns JSON for a task that does not repeat.
func OneOffTaskJSON(title string, start, due time.Time) string {
	tj := map[string]interface{}{
		"kind":             string(Kind),
		"title":            title,
		"status":           "TODO",
		"priority":         "MEDIUM",
		"startDateTime":    start.UTC().Format(time.RFC3339),
		"dueDate":          due.UTC().Format(time.RFC3339),
		"enableRecurrence": false,
	}
	b, _ := json.MarshalIndent(tj, "", "  ")
	return string(b)
}

func recurringJSON(title string, start time.Time, duration time.Duration, rule map[string]interface{}, priority string) string {
	tj := map[string]interface{}{
		"kind":             string(Kind),
		"title":            title,
		"status":           "TODO",
		"priority":         priority,
		"startDateTime":    start.UTC().Format(time.RFC3339),
		"enableRecurrence": true,
		"recurrenceConfig": rule,
	}
	if duration > 0 {
		tj["dueDate"] = start.Add(duration).UTC().Format(time.RFC3339)
	}
	b, _ := json.MarshalIndent(tj, "", "  ")
	return string(b)
}
