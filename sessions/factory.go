package sessions

import (
	"encoding/json"
	"time"
)

// WeeklySessionJSON returns JSON for a session series on the given weekdays.
func WeeklySessionJSON(title, hostID string, start time.Time, length time.Duration, weekDays []int) string {
	sj := map[string]interface{}{
		"kind":             string(Kind),
		"title":            title,
		"startDateTime":    start.UTC().Format(time.RFC3339),
		"dueDate":          start.Add(length).UTC().Format(time.RFC3339),
		"assigneeId":       hostID,
		"enableRecurrence": true,
		"recurrenceConfig": map[string]interface{}{
			"frequency": "WEEKLY",
			"weekDays":  weekDays,
		},
	}
	b, _ := json.MarshalIndent(sj, "", "  ")
	return string(b)
}

// OfficeHoursJSON returns JSON for a daily session series that stops after until.
func OfficeHoursJSON(title, hostID string, start time.Time, length time.Duration, until time.Time) string {
	sj := map[string]interface{}{
		"kind":              string(Kind),
		"title":             title,
		"priority":          "LOW",
		"startDateTime":     start.UTC().Format(time.RFC3339),
		"dueDate":           start.Add(length).UTC().Format(time.RFC3339),
		"assigneeId":        hostID,
		"enableRecurrence":  true,
		"recurrenceConfig":  map[string]interface{}{"frequency": "DAILY"},
		"recurrenceEndDate": until.UTC().Format("2006-01-02"),
	}
	b, _ := json.MarshalIndent(sj, "", "  ")
	return string(b)
}
