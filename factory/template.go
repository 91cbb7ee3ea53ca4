/*
Package factory provides JSON to Go item conversion.

PURPOSE:
  Converts JSON item definitions into generic.ItemInput and sparse JSON edits
  into generic.ItemUpdate. Templates can then be kept as configuration (seed
  files, admin UI payloads, scenario fixtures) without code changes.

JSON SCHEMA (template):
  {
    "kind": "task",
    "title": "Weekly report",
    "description": "Summarize the week",
    "status": "TODO",
    "priority": "HIGH",
    "progress": "0",
    "tags": ["ops"],
    "startDateTime": "2024-01-01T09:00:00Z",
    "dueDate": "2024-01-03T09:00:00Z",
    "enableRecurrence": true,
    "recurrenceConfig": {"frequency": "WEEKLY", "weekDays": [1]},
    "recurrenceEndDate": "2024-06-30",
    "assigneeId": "u-1"
  }

JSON SCHEMA (update):
  Any subset of the template keys except "kind". A key set to null clears
  the field; a missing key leaves it alone. Unknown keys are rejected.

USAGE:
  f := factory.NewTemplateFactory()

  in, err := f.ParseTemplate(tasks.WeeklyTaskJSON("Weekly report", start, []int{1}, 48*time.Hour))
  item, err := engine.Create(ctx, tenant, in)

  upd, err := f.ParseUpdate([]byte(`{"title":"Renamed","dueDate":null}`))
  res, err := engine.Update(ctx, tenant, "tpl-1@2024-01-15", upd)

SEE ALSO:
  - generic/input.go: ItemInput and ItemUpdate
  - tasks/factory.go, sessions/factory.go: Preset definitions
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/recurrence-engine/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// TemplateJSON is the JSON representation of a template or one-off item.
type TemplateJSON struct {
	Kind              string                  `json:"kind,omitempty"`
	Title             string                  `json:"title"`
	Description       string                  `json:"description,omitempty"`
	Status            string                  `json:"status,omitempty"`
	Priority          string                  `json:"priority,omitempty"`
	Progress          *decimal.Decimal        `json:"progress,omitempty"`
	Tags              []string                `json:"tags,omitempty"`
	StartDateTime     string                  `json:"startDateTime"`
	DueDate           string                  `json:"dueDate,omitempty"`
	EnableRecurrence  bool                    `json:"enableRecurrence"`
	RecurrenceConfig  *generic.RecurrenceRule `json:"recurrenceConfig,omitempty"`
	RecurrenceEndDate string                  `json:"recurrenceEndDate,omitempty"`
	AssigneeID        string                  `json:"assigneeId,omitempty"`
}

// =============================================================================
// TEMPLATE FACTORY
// =============================================================================

// TemplateFactory converts JSON definitions to engine inputs.
type TemplateFactory struct{}

func NewTemplateFactory() *TemplateFactory {
	return &TemplateFactory{}
}

// ParseTemplate parses a JSON string into an ItemInput.
func (f *TemplateFactory) ParseTemplate(jsonStr string) (generic.ItemInput, error) {
	var tj TemplateJSON
	dec := json.NewDecoder(strings.NewReader(jsonStr))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&tj); err != nil {
		return generic.ItemInput{}, &generic.InvalidArgumentError{Reason: fmt.Sprintf("failed to parse template JSON: %v", err)}
	}
	return f.FromJSON(tj)
}

// FromJSON converts TemplateJSON to an ItemInput. Field-level validation is
// left to the engine; only syntax is checked here.
func (f *TemplateFactory) FromJSON(tj TemplateJSON) (generic.ItemInput, error) {
	in := generic.ItemInput{
		Kind:             generic.Kind(tj.Kind),
		Title:            tj.Title,
		Description:      tj.Description,
		Status:           generic.Status(strings.ToUpper(tj.Status)),
		Priority:         generic.Priority(strings.ToUpper(tj.Priority)),
		Tags:             tj.Tags,
		EnableRecurrence: tj.EnableRecurrence,
		RecurrenceConfig: tj.RecurrenceConfig,
		AssigneeID:       tj.AssigneeID,
	}
	if tj.Progress != nil {
		in.Progress = *tj.Progress
	}

	var err error
	if in.StartDateTime, err = parseInstant("startDateTime", tj.StartDateTime); err != nil {
		return generic.ItemInput{}, err
	}
	if in.DueDate, err = parseInstant("dueDate", tj.DueDate); err != nil {
		return generic.ItemInput{}, err
	}
	if tj.RecurrenceEndDate != "" {
		end, err := generic.ParseDate(tj.RecurrenceEndDate)
		if err != nil {
			return generic.ItemInput{}, err
		}
		in.RecurrenceEndDate = &end
	}
	return in, nil
}

// ToJSON converts a stored item back into its definition.
func (f *TemplateFactory) ToJSON(item generic.Item) TemplateJSON {
	tj := TemplateJSON{
		Kind:             string(item.Kind),
		Title:            item.Title,
		Description:      item.Description,
		Status:           string(item.Status),
		Priority:         string(item.Priority),
		Tags:             item.Tags,
		StartDateTime:    formatInstant(item.StartDateTime),
		DueDate:          formatInstant(item.DueDate),
		EnableRecurrence: item.EnableRecurrence,
		RecurrenceConfig: item.RecurrenceConfig,
	}
	if !item.Progress.IsZero() {
		p := item.Progress
		tj.Progress = &p
	}
	if item.RecurrenceEndDate != nil {
		tj.RecurrenceEndDate = item.RecurrenceEndDate.String()
	}
	if item.Assignee != nil {
		tj.AssigneeID = item.Assignee.ID
	}
	return tj
}

// =============================================================================
// UPDATES
// =============================================================================

// ParseUpdate decodes a sparse JSON edit. Missing keys stay absent, null
// keys become explicit nulls.
func (f *TemplateFactory) ParseUpdate(data []byte) (generic.ItemUpdate, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return generic.ItemUpdate{}, &generic.InvalidArgumentError{Reason: fmt.Sprintf("failed to parse update JSON: %v", err)}
	}

	var u generic.ItemUpdate
	steps := []error{
		take(m, "title", &u.Title),
		take(m, "description", &u.Description),
		take(m, "status", &u.Status),
		take(m, "priority", &u.Priority),
		take(m, "progress", &u.Progress),
		take(m, "tags", &u.Tags),
		take(m, "startDateTime", &u.StartDateTime),
		take(m, "dueDate", &u.DueDate),
		take(m, "assigneeId", &u.AssigneeID),
		take(m, "enableRecurrence", &u.EnableRecurrence),
		take(m, "recurrenceConfig", &u.RecurrenceConfig),
		take(m, "recurrenceEndDate", &u.RecurrenceEndDate),
	}
	for _, err := range steps {
		if err != nil {
			return generic.ItemUpdate{}, err
		}
	}
	for k := range m {
		return generic.ItemUpdate{}, &generic.InvalidArgumentError{Field: k, Reason: "unknown field"}
	}

	if s, ok := u.Status.Get(); ok {
		u.Status = generic.Set(generic.Status(strings.ToUpper(string(s))))
	}
	if p, ok := u.Priority.Get(); ok {
		u.Priority = generic.Set(generic.Priority(strings.ToUpper(string(p))))
	}
	return u, nil
}

func take[T any](m map[string]json.RawMessage, key string, f *generic.Field[T]) error {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	delete(m, key)
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		*f = generic.Null[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return &generic.InvalidArgumentError{Field: key, Reason: err.Error()}
	}
	*f = generic.Set(v)
	return nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseInstant(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, &generic.InvalidArgumentError{Field: field, Reason: fmt.Sprintf("%q is not an RFC 3339 timestamp", s)}
	}
	return t.UTC(), nil
}

func formatInstant(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
