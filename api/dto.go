/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's model from the external contract: occurrence ids are the
  composite "<templateId>@<YYYY-MM-DD>" strings, instants are RFC 3339 and
  calendar days are "YYYY-MM-DD".

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Occurrences:
    OccurrenceDTO, UserRefDTO, UpdateResponse, PropagationDTO

  Overrides:
    OverrideDTO

  Actions:
    CancelRequest, ProgressRequest, RescheduleRequest

  Sweeps:
    SweepReportDTO, SweepRunDTO

  Users / activity:
    UserDTO, CreateUserRequest, ActivityDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done by the engine and the factory, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/template.go: TemplateJSON, the create/update body
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/recurrence-engine/generic"
	"github.com/warp/recurrence-engine/store/sqlite"
)

// =============================================================================
// OCCURRENCES
// =============================================================================

// UserRefDTO is an assignee reference.
type UserRefDTO struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// OccurrenceDTO is one item, template or occurrence as clients see it.
type OccurrenceDTO struct {
	ID                 string                  `json:"id"`
	Kind               string                  `json:"kind,omitempty"`
	Title              string                  `json:"title"`
	Description        string                  `json:"description,omitempty"`
	Status             string                  `json:"status"`
	Priority           string                  `json:"priority"`
	Progress           decimal.Decimal         `json:"progress"`
	Tags               []string                `json:"tags,omitempty"`
	StartDateTime      string                  `json:"startDateTime"`
	DueDate            string                  `json:"dueDate,omitempty"`
	EnableRecurrence   bool                    `json:"enableRecurrence"`
	RecurrenceConfig   *generic.RecurrenceRule `json:"recurrenceConfig,omitempty"`
	RecurrenceEndDate  string                  `json:"recurrenceEndDate,omitempty"`
	RRule              string                  `json:"rrule,omitempty"`
	Assignee           *UserRefDTO             `json:"assignee,omitempty"`
	IsCalendarEvent    bool                    `json:"isCalendarEvent"`
	OriginalTemplateID string                  `json:"originalTemplateId,omitempty"`
	EventDate          string                  `json:"eventDate"`
	ParentID           string                  `json:"parentId,omitempty"`
	OccurrenceDate     string                  `json:"occurrenceDate,omitempty"`
	Override           *OverrideDTO            `json:"override,omitempty"`
	UpdatedAt          string                  `json:"updatedAt,omitempty"`
}

// PropagationDTO is the outcome of rewriting one override after a template edit.
type PropagationDTO struct {
	OverrideID string   `json:"overrideId"`
	Date       string   `json:"date"`
	Fields     []string `json:"fields,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// UpdateResponse wraps the updated view and the overrides propagation touched.
type UpdateResponse struct {
	Item        OccurrenceDTO    `json:"item"`
	Propagation []PropagationDTO `json:"propagation"`
}

// =============================================================================
// OVERRIDES
// =============================================================================

// OverrideDTO is one stored per-day patch.
type OverrideDTO struct {
	ID            string        `json:"id"`
	TemplateID    string        `json:"templateId"`
	Date          string        `json:"date"`
	StartDateTime string        `json:"startDateTime,omitempty"`
	Assignee      *UserRefDTO   `json:"assignee,omitempty"`
	Status        string        `json:"status"`
	IsDeleted     bool          `json:"isDeleted"`
	Data          generic.Patch `json:"overrideData"`
	UpdatedAt     string        `json:"updatedAt,omitempty"`
}

// =============================================================================
// ACTIONS
// =============================================================================

// CancelRequest is the body of POST .../cancel. Reason is optional.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// ProgressRequest is the body of POST .../progress.
type ProgressRequest struct {
	Progress decimal.Decimal `json:"progress"`
}

// RescheduleRequest is the body of POST .../reschedule.
type RescheduleRequest struct {
	StartDateTime string `json:"startDateTime"`
}

// =============================================================================
// SWEEPS
// =============================================================================

// SweepFailureDTO is one day a sweep could not freeze.
type SweepFailureDTO struct {
	Date  string `json:"date"`
	Error string `json:"error"`
}

// SweepReportDTO is the result of one template sweep.
type SweepReportDTO struct {
	TenantID       string            `json:"tenantId"`
	TemplateID     string            `json:"templateId"`
	Through        string            `json:"through"`
	Materialized   []string          `json:"materialized"`
	AlreadyFrozen  int               `json:"alreadyFrozen"`
	SkippedDeleted int               `json:"skippedDeleted"`
	Failures       []SweepFailureDTO `json:"failures,omitempty"`
}

// SweepRunDTO is one row of the sweep log.
type SweepRunDTO struct {
	ID             string `json:"id"`
	TenantID       string `json:"tenantId"`
	TemplateID     string `json:"templateId"`
	Through        string `json:"through,omitempty"`
	Materialized   int    `json:"materialized"`
	AlreadyFrozen  int    `json:"alreadyFrozen"`
	SkippedDeleted int    `json:"skippedDeleted"`
	Failures       int    `json:"failures"`
	Error          string `json:"error,omitempty"`
	StartedAt      string `json:"startedAt"`
	CompletedAt    string `json:"completedAt"`
}

// =============================================================================
// USERS / ACTIVITY
// =============================================================================

// UserDTO represents an assignable user.
type UserDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// CreateUserRequest is the request to create or rename a user.
type CreateUserRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ActivityDTO is one change-log entry.
type ActivityDTO struct {
	ID      string                `json:"id"`
	ItemID  string                `json:"itemId"`
	Action  string                `json:"action"`
	Summary string                `json:"summary"`
	Changes []generic.FieldChange `json:"changes,omitempty"`
	At      string                `json:"at"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toOccurrenceDTO(v generic.OccurrenceView) OccurrenceDTO {
	it := v.Item
	dto := OccurrenceDTO{
		ID:                 v.ID(),
		Kind:               string(it.Kind),
		Title:              it.Title,
		Description:        it.Description,
		Status:             string(it.Status),
		Priority:           string(it.Priority),
		Progress:           it.Progress,
		Tags:               it.Tags,
		StartDateTime:      formatInstant(it.StartDateTime),
		DueDate:            formatInstant(it.DueDate),
		EnableRecurrence:   it.EnableRecurrence,
		RecurrenceConfig:   it.RecurrenceConfig,
		RRule:              generic.RRuleString(it),
		IsCalendarEvent:    v.IsCalendarEvent,
		OriginalTemplateID: string(v.OriginalTemplateID),
		EventDate:          v.EventDate.String(),
		ParentID:           string(it.ParentID),
		UpdatedAt:          formatInstant(it.UpdatedAt),
	}
	if v.IsCalendarEvent {
		// a virtual occurrence is not a series of its own
		dto.EnableRecurrence = false
		dto.RecurrenceConfig = nil
		dto.RRule = ""
	} else if it.RecurrenceEndDate != nil {
		dto.RecurrenceEndDate = it.RecurrenceEndDate.String()
	}
	if it.OccurrenceDate != nil {
		dto.OccurrenceDate = it.OccurrenceDate.String()
	}
	dto.Assignee = toUserRefDTO(it.Assignee)
	if v.Override != nil {
		ov := toOverrideDTO(*v.Override)
		dto.Override = &ov
	}
	return dto
}

func toOccurrenceDTOs(views []generic.OccurrenceView) []OccurrenceDTO {
	dtos := make([]OccurrenceDTO, len(views))
	for i, v := range views {
		dtos[i] = toOccurrenceDTO(v)
	}
	return dtos
}

func toUpdateResponse(res generic.UpdateResult) UpdateResponse {
	resp := UpdateResponse{
		Item:        toOccurrenceDTO(res.View),
		Propagation: make([]PropagationDTO, 0, len(res.Propagation)),
	}
	for _, p := range res.Propagation {
		dto := PropagationDTO{
			OverrideID: string(p.OverrideID),
			Date:       p.Date.String(),
			Fields:     p.Applied.Keys(),
		}
		if p.Err != nil {
			dto.Error = p.Err.Error()
		}
		resp.Propagation = append(resp.Propagation, dto)
	}
	return resp
}

func toUserRefDTO(u *generic.UserRef) *UserRefDTO {
	if u == nil {
		return nil
	}
	return &UserRefDTO{ID: u.ID, Name: u.Name}
}

func toOverrideDTO(ov generic.Override) OverrideDTO {
	dto := OverrideDTO{
		ID:         string(ov.ID),
		TemplateID: string(ov.TemplateID),
		Date:       ov.Date.String(),
		Assignee:   toUserRefDTO(ov.Assignee),
		Status:     string(ov.Status),
		IsDeleted:  ov.IsDeleted,
		Data:       ov.Data.Stored(),
		UpdatedAt:  formatInstant(ov.UpdatedAt),
	}
	if ov.StartDateTime != nil {
		dto.StartDateTime = formatInstant(*ov.StartDateTime)
	}
	return dto
}

func toSweepReportDTO(r generic.SweepReport) SweepReportDTO {
	dto := SweepReportDTO{
		TenantID:       string(r.TenantID),
		TemplateID:     string(r.TemplateID),
		Through:        r.Through.String(),
		Materialized:   make([]string, len(r.Materialized)),
		AlreadyFrozen:  r.AlreadyFrozen,
		SkippedDeleted: r.SkippedDeleted,
	}
	for i, id := range r.Materialized {
		dto.Materialized[i] = string(id)
	}
	for _, f := range r.Failures {
		dto.Failures = append(dto.Failures, SweepFailureDTO{Date: f.Date.String(), Error: f.Err.Error()})
	}
	return dto
}

func toSweepRunDTO(r sqlite.SweepRun) SweepRunDTO {
	dto := SweepRunDTO{
		ID:             r.ID,
		TenantID:       string(r.TenantID),
		TemplateID:     string(r.TemplateID),
		Materialized:   r.Materialized,
		AlreadyFrozen:  r.AlreadyFrozen,
		SkippedDeleted: r.SkippedDeleted,
		Failures:       r.Failures,
		Error:          r.Error,
		StartedAt:      formatInstant(r.StartedAt),
		CompletedAt:    formatInstant(r.CompletedAt),
	}
	if !r.Through.IsZero() {
		dto.Through = r.Through.String()
	}
	return dto
}

func formatInstant(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
