/*
handlers.go - HTTP API handlers for the recurrence engine

PURPOSE:
  Exposes the engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the engine and the domain services.

ENDPOINTS:
  Items (all under /api/tenants/{tenant}):
    GET    /items                      List occurrences in a window
    POST   /items                      Create a template or one-off item
    GET    /items/{id}                 Get an item or "<id>@<date>" occurrence
    PATCH  /items/{id}                 Sparse update (JSON, null clears)
    DELETE /items/{id}                 Delete one occurrence
    POST   /items/{id}/cancel          Cancel, with an optional reason
    POST   /items/{id}/complete        Mark a stored item DONE
    POST   /items/{id}/materialize     Freeze one past occurrence
    POST   /items/{id}/sweep           Freeze every past occurrence
    GET    /items/{id}/overrides       Per-day overrides of a template
    GET    /items/{id}/activity        Change log

  Domain actions:
    POST   /items/{id}/progress        Task progress
    POST   /items/{id}/reschedule      Move a session, keeping its length
    POST   /items/{id}/held            Record that a session took place

  Tenant:
    GET    /users, POST /users         Assignable users
    GET    /sweeps                     Sweep log
    POST   /sweeps                     Sweep the tenant now
    GET    /calendar.ics               iCalendar feed

  Global:
    POST   /api/sweeps/run             Sweep every tenant now
    GET    /api/scenarios              List demo scenarios
    POST   /api/scenarios/load         Load a demo scenario

LIST QUERY PARAMETERS:
  from, to     YYYY-MM-DD, inclusive (default: today .. today+30)
  status       repeated or comma separated allow-list
  kind         task | session
  templateId   one template and its actuals
  materialize  true | false (default: server configuration)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, forbidden history edits
  - 404: Template, occurrence, override or user not found
  - 409: One-row-per-day conflicts, deleted occurrences
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. The tenant is taken from
  the URL as-is.

SEE ALSO:
  - dto.go: Request/response data structures
  - ics.go: Calendar feed
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/recurrence-engine/factory"
	"github.com/warp/recurrence-engine/generic"
	"github.com/warp/recurrence-engine/sessions"
	"github.com/warp/recurrence-engine/store/sqlite"
	"github.com/warp/recurrence-engine/tasks"
)

// defaultWindowDays is the list window when the client gives no "to".
const defaultWindowDays = 30

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlite.Store
	Engine   *generic.Engine
	Factory  *factory.TemplateFactory
	Tasks    *tasks.Service
	Sessions *sessions.Service
	Trigger  *DueDateTrigger
	Log      zerolog.Logger

	// MaterializeOnRead freezes past occurrences while listing.
	MaterializeOnRead bool

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the domain services and the trigger around one engine.
func NewHandler(store *sqlite.Store, engine *generic.Engine, log zerolog.Logger) *Handler {
	return &Handler{
		Store:    store,
		Engine:   engine,
		Factory:  factory.NewTemplateFactory(),
		Tasks:    tasks.NewService(engine),
		Sessions: sessions.NewService(engine),
		Trigger:  NewDueDateTrigger(store, engine, log),
		Log:      log,
	}
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

// ListOccurrences returns every visible occurrence in a window.
// GET /api/tenants/{tenant}/items
func (h *Handler) ListOccurrences(w http.ResponseWriter, r *http.Request) {
	q, err := h.listQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}

	views, err := h.Engine.List(r.Context(), tenantOf(r), q)
	if err != nil {
		h.writeEngineError(w, "Failed to list occurrences", err)
		return
	}
	writeJSON(w, http.StatusOK, toOccurrenceDTOs(views))
}

// CreateItem creates a template or one-off item from a TemplateJSON body.
// The kind selects the domain rules; an empty kind is a task.
// POST /api/tenants/{tenant}/items
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	ctx := r.Context()
	tenant := tenantOf(r)

	in, err := h.Factory.ParseTemplate(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid item definition", err)
		return
	}

	var item generic.Item
	switch in.Kind {
	case sessions.Kind:
		item, err = h.Sessions.ScheduleFromJSON(ctx, tenant, body)
	case tasks.Kind, "":
		item, err = h.Tasks.Create(ctx, tenant, in)
	default:
		err = &generic.InvalidArgumentError{Field: "kind", Reason: "must be task or session"}
	}
	if err != nil {
		h.writeEngineError(w, "Failed to create item", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOccurrenceDTO(generic.ItemView(item)))
}

// GetItem returns a stored item or one occurrence.
// GET /api/tenants/{tenant}/items/{id}
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	view, err := h.Engine.Get(r.Context(), tenantOf(r), idOf(r))
	if err != nil {
		h.writeEngineError(w, "Failed to get item", err)
		return
	}
	writeJSON(w, http.StatusOK, toOccurrenceDTO(view))
}

// UpdateItem applies a sparse JSON edit.
// PATCH /api/tenants/{tenant}/items/{id}
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	upd, err := h.Factory.ParseUpdate([]byte(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid update", err)
		return
	}

	res, err := h.Engine.Update(r.Context(), tenantOf(r), idOf(r), upd)
	if err != nil {
		h.writeEngineError(w, "Failed to update item", err)
		return
	}
	writeJSON(w, http.StatusOK, toUpdateResponse(res))
}

// DeleteOccurrence removes one occurrence of a series.
// DELETE /api/tenants/{tenant}/items/{id}
func (h *Handler) DeleteOccurrence(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteOccurrence(r.Context(), tenantOf(r), idOf(r)); err != nil {
		h.writeEngineError(w, "Failed to delete occurrence", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelItem cancels an item or one occurrence. The body is optional.
// POST /api/tenants/{tenant}/items/{id}/cancel
func (h *Handler) CancelItem(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	view, err := h.Engine.Cancel(r.Context(), tenantOf(r), idOf(r), req.Reason)
	if err != nil {
		h.writeEngineError(w, "Failed to cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, toOccurrenceDTO(view))
}

// CompleteItem marks a stored item DONE.
// POST /api/tenants/{tenant}/items/{id}/complete
func (h *Handler) CompleteItem(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.Complete(r.Context(), tenantOf(r), idOf(r))
	if err != nil {
		h.writeEngineError(w, "Failed to complete item", err)
		return
	}
	writeJSON(w, http.StatusOK, toUpdateResponse(res))
}

// MaterializeOccurrence freezes one past occurrence into a stored row.
// POST /api/tenants/{tenant}/items/{id}/materialize
func (h *Handler) MaterializeOccurrence(w http.ResponseWriter, r *http.Request) {
	item, err := h.Engine.EnsureMaterialized(r.Context(), tenantOf(r), idOf(r), nil)
	if err != nil {
		h.writeEngineError(w, "Failed to materialize occurrence", err)
		return
	}
	writeJSON(w, http.StatusOK, toOccurrenceDTO(generic.ItemView(item)))
}

// SweepTemplate freezes every past occurrence of a template and records the run.
// POST /api/tenants/{tenant}/items/{id}/sweep
func (h *Handler) SweepTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := tenantOf(r)

	ref, err := generic.ParseOccurrenceRef(idOf(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id", err)
		return
	}
	// existence check so that a typo is a 404, not a failed run
	if _, err := h.Engine.Get(ctx, tenant, string(ref.TemplateID)); err != nil {
		h.writeEngineError(w, "Failed to sweep template", err)
		return
	}

	rawID := generic.RefFor(ref.TemplateID, h.Engine.Clock.Today()).String()
	run, err := h.Trigger.Sweep(ctx, tenant, rawID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, toSweepRunDTO(run))
}

// ListOverrides returns the per-day overrides of a template.
// GET /api/tenants/{tenant}/items/{id}/overrides?from=&to=&includeDeleted=
func (h *Handler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var filter generic.OverrideFilter
	for key, dst := range map[string]**generic.Date{"from": &filter.From, "to": &filter.To} {
		if s := query.Get(key); s != "" {
			d, err := generic.ParseDate(s)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid "+key, err)
				return
			}
			*dst = &d
		}
	}
	filter.IncludeDeleted, _ = strconv.ParseBool(query.Get("includeDeleted"))

	ref, err := generic.ParseOccurrenceRef(idOf(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id", err)
		return
	}

	overrides, err := h.Engine.ListOverrides(r.Context(), tenantOf(r), ref.TemplateID, filter)
	if err != nil {
		h.writeEngineError(w, "Failed to list overrides", err)
		return
	}
	dtos := make([]OverrideDTO, len(overrides))
	for i, ov := range overrides {
		dtos[i] = toOverrideDTO(ov)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListActivity returns the change log of a stored item.
// GET /api/tenants/{tenant}/items/{id}/activity
func (h *Handler) ListActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Store.ListActivity(r.Context(), tenantOf(r), generic.ItemID(idOf(r)))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list activity", err)
		return
	}
	dtos := make([]ActivityDTO, len(entries))
	for i, e := range entries {
		dtos[i] = ActivityDTO{
			ID:      e.ID,
			ItemID:  string(e.ItemID),
			Action:  string(e.Action),
			Summary: e.Summary,
			Changes: e.Changes,
			At:      formatInstant(e.At),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// DOMAIN ACTIONS
// =============================================================================

// SetProgress records task progress.
// POST /api/tenants/{tenant}/items/{id}/progress
func (h *Handler) SetProgress(w http.ResponseWriter, r *http.Request) {
	var req ProgressRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Tasks.SetProgress(r.Context(), tenantOf(r), idOf(r), req.Progress)
	if err != nil {
		h.writeEngineError(w, "Failed to set progress", err)
		return
	}
	writeJSON(w, http.StatusOK, toUpdateResponse(res))
}

// RescheduleSession moves a session, keeping its length.
// POST /api/tenants/{tenant}/items/{id}/reschedule
func (h *Handler) RescheduleSession(w http.ResponseWriter, r *http.Request) {
	var req RescheduleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartDateTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid startDateTime (use RFC 3339)", err)
		return
	}

	view, err := h.Sessions.Reschedule(r.Context(), tenantOf(r), idOf(r), start)
	if err != nil {
		h.writeEngineError(w, "Failed to reschedule session", err)
		return
	}
	writeJSON(w, http.StatusOK, toOccurrenceDTO(view))
}

// MarkSessionHeld records that a session took place.
// POST /api/tenants/{tenant}/items/{id}/held
func (h *Handler) MarkSessionHeld(w http.ResponseWriter, r *http.Request) {
	item, err := h.Sessions.MarkHeld(r.Context(), tenantOf(r), idOf(r))
	if err != nil {
		h.writeEngineError(w, "Failed to mark session held", err)
		return
	}
	writeJSON(w, http.StatusOK, toOccurrenceDTO(generic.ItemView(item)))
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns the tenant's users.
// GET /api/tenants/{tenant}/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.ListUsers(r.Context(), tenantOf(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users", err)
		return
	}
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = UserDTO{ID: u.ID, Name: u.Name, Email: u.Email, CreatedAt: formatInstant(u.CreatedAt)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUser creates or renames a user.
// POST /api/tenants/{tenant}/users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	u := sqlite.User{TenantID: tenantOf(r), ID: req.ID, Name: req.Name, Email: req.Email}
	if err := h.Store.SaveUser(r.Context(), u); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save user", err)
		return
	}
	writeJSON(w, http.StatusCreated, UserDTO{ID: u.ID, Name: u.Name, Email: u.Email})
}

// =============================================================================
// SWEEP HANDLERS
// =============================================================================

// ListSweepRuns returns the tenant's recent sweeps, newest first.
// GET /api/tenants/{tenant}/sweeps?templateId=&limit=
func (h *Handler) ListSweepRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	templateID := generic.ItemID(r.URL.Query().Get("templateId"))

	runs, err := h.Store.ListSweepRuns(r.Context(), tenantOf(r), templateID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sweep runs", err)
		return
	}
	writeJSON(w, http.StatusOK, toSweepRunDTOs(runs))
}

// RunTenantSweep sweeps one tenant now.
// POST /api/tenants/{tenant}/sweeps
func (h *Handler) RunTenantSweep(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Trigger.RunTenant(r.Context(), tenantOf(r))
	h.writeSweepRuns(w, runs, err)
}

// RunSweeps sweeps every tenant now.
// POST /api/sweeps/run
func (h *Handler) RunSweeps(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Trigger.RunNow(r.Context())
	h.writeSweepRuns(w, runs, err)
}

func (h *Handler) writeSweepRuns(w http.ResponseWriter, runs []sqlite.SweepRun, err error) {
	switch {
	case errors.Is(err, ErrSweepInProgress):
		writeError(w, http.StatusConflict, "A sweep is already running", err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Sweep failed", err)
	default:
		writeJSON(w, http.StatusOK, toSweepRunDTOs(runs))
	}
}

func toSweepRunDTOs(runs []sqlite.SweepRun) []SweepRunDTO {
	dtos := make([]SweepRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toSweepRunDTO(run)
	}
	return dtos
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) listQuery(r *http.Request) (generic.ListQuery, error) {
	query := r.URL.Query()
	q := generic.ListQuery{
		Kind:        generic.Kind(query.Get("kind")),
		TemplateID:  generic.ItemID(query.Get("templateId")),
		Materialize: h.MaterializeOnRead,
	}

	var err error
	q.Window.Start = h.Engine.Clock.Today()
	if s := query.Get("from"); s != "" {
		if q.Window.Start, err = generic.ParseDate(s); err != nil {
			return q, err
		}
	}
	q.Window.End = q.Window.Start.AddDays(defaultWindowDays)
	if s := query.Get("to"); s != "" {
		if q.Window.End, err = generic.ParseDate(s); err != nil {
			return q, err
		}
	}

	for _, raw := range query["status"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			status := generic.Status(strings.ToUpper(s))
			if !status.Valid() {
				return q, &generic.InvalidArgumentError{Field: "status", Reason: "unknown status " + s}
			}
			q.Statuses = append(q.Statuses, status)
		}
	}

	if s := query.Get("materialize"); s != "" {
		if q.Materialize, err = strconv.ParseBool(s); err != nil {
			return q, &generic.InvalidArgumentError{Field: "materialize", Reason: err.Error()}
		}
	}
	return q, nil
}

func tenantOf(r *http.Request) generic.TenantID {
	return generic.TenantID(chi.URLParam(r, "tenant"))
}

// idOf returns the {id} path segment; clients may escape the "@".
func idOf(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}

func readBody(r *http.Request) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeOptional decodes a JSON body into dst; an empty body is not an error.
func decodeOptional(r *http.Request, dst any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if strings.TrimSpace(body) == "" {
		return nil
	}
	return json.Unmarshal([]byte(body), dst)
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsConflict(err):
		return http.StatusConflict
	case generic.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeEngineError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Log.Error().Err(err).Msg(message)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
