/*
handlers.go - HTTP API handlers for the reminder engine

PURPOSE:
  Exposes the occurrence engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine.

ENDPOINTS:
  Occurrences:
    GET    /api/occurrences?start&end            Merged view for a window
    POST   /api/occurrences                      Create event (or series with rule)
    PATCH  /api/occurrences/{id}?scope=          Scoped edit
    DELETE /api/occurrences/{id}?scope=          Scoped delete
    POST   /api/occurrences/{id}/completion      Toggle completion

  Series:
    GET    /api/series                           List series
    POST   /api/series                           Create series
    GET    /api/series/{id}                      Get series
    GET    /api/series/{id}/next?after=          Next visible occurrence

  Other:
    GET    /api/export.ics?start&end             iCalendar export
    GET    /api/reminders/due?day=               Pending occurrences for a day
    GET    /api/scenarios                        List demo scenarios
    POST   /api/scenarios/load                   Load a demo scenario
    GET    /api/health                           Liveness

OWNER:
  Every endpoint except /api/health requires the X-User-ID header. All
  reads and writes are scoped to that owner.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing X-User-ID
  - 404: Series or occurrence not found (tombstoned days included)
  - 409: Conflict (independent event on a taken day, promotion race)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - scheduler.go: Reminder sweep
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/warp/reminder-engine/calendar"
	"github.com/warp/reminder-engine/engine"
	"github.com/warp/reminder-engine/ical"
)

// defaultExportDays is how far around today an export reaches when the
// window is not given.
const defaultExportDays = 365

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the storage the handlers read directly, besides the engine.
type Store interface {
	ical.Source
	ListOwners(ctx context.Context) ([]engine.OwnerID, error)
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *engine.Engine
	Store  Store
	Log    *log.Logger

	// Today is the reference day for defaults. Replaced in tests.
	Today func() calendar.Day

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. A nil logger discards output.
func NewHandler(e *engine.Engine, store Store, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Handler{
		Engine: e,
		Store:  store,
		Log:    logger,
		Today:  calendar.Today,
	}
}

// =============================================================================
// OCCURRENCE HANDLERS
// =============================================================================

// ListOccurrences returns the merged view for a window.
// GET /api/occurrences?start=yyyy-mm-dd&end=yyyy-mm-dd
func (h *Handler) ListOccurrences(w http.ResponseWriter, r *http.Request) {
	start, err := parseDay("start", r.URL.Query().Get("start"))
	if err != nil {
		writeEngineError(w, "Invalid window", err)
		return
	}
	end, err := parseDay("end", r.URL.Query().Get("end"))
	if err != nil {
		writeEngineError(w, "Invalid window", err)
		return
	}

	list, err := h.Engine.Query(r.Context(), ownerFrom(r.Context()), start, end)
	if err != nil {
		writeEngineError(w, "Failed to query occurrences", err)
		return
	}
	writeJSON(w, http.StatusOK, toOccurrenceDTOs(list))
}

// CreateOccurrence creates an independent event, or a series when a rule
// is given.
// POST /api/occurrences
func (h *Handler) CreateOccurrence(w http.ResponseWriter, r *http.Request) {
	var req CreateOccurrenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Rule != nil {
		h.createSeries(w, r, CreateSeriesRequest{
			Rule:        *req.Rule,
			StartDay:    req.Day,
			EndDay:      req.EndDay,
			Title:       req.Title,
			Description: req.Description,
			Color:       req.Color,
		})
		return
	}

	d, err := parseDay("day", req.Day)
	if err != nil {
		writeEngineError(w, "Invalid day", err)
		return
	}
	o, err := h.Engine.CreateIndependentEvent(r.Context(), ownerFrom(r.Context()), d, engine.Fields{
		Title:       req.Title,
		Description: req.Description,
		Color:       req.Color,
	})
	if err != nil {
		writeEngineError(w, "Failed to create event", err)
		return
	}
	writeJSON(w, http.StatusCreated, OccurrenceDTO{
		ID:          string(o.ID),
		Day:         o.Day.String(),
		Title:       o.Fields.Title,
		Description: o.Fields.Description,
		Color:       o.Fields.Color,
	})
}

// EditOccurrence applies a scoped edit.
// PATCH /api/occurrences/{id}?scope=this|future|all
func (h *Handler) EditOccurrence(w http.ResponseWriter, r *http.Request) {
	id, scope, ok := identityAndScope(w, r)
	if !ok {
		return
	}
	var req EditOccurrenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	ed, err := req.toEdit()
	if err != nil {
		writeEngineError(w, "Invalid edit", err)
		return
	}

	res, err := h.Engine.EditOccurrence(r.Context(), ownerFrom(r.Context()), id, scope, ed)
	if err != nil {
		writeEngineError(w, "Failed to edit occurrence", err)
		return
	}
	writeJSON(w, http.StatusOK, toMutationDTO(res))
}

// DeleteOccurrence applies a scoped delete.
// DELETE /api/occurrences/{id}?scope=this|future|all
func (h *Handler) DeleteOccurrence(w http.ResponseWriter, r *http.Request) {
	id, scope, ok := identityAndScope(w, r)
	if !ok {
		return
	}
	if err := h.Engine.DeleteOccurrence(r.Context(), ownerFrom(r.Context()), id, scope); err != nil {
		writeEngineError(w, "Failed to delete occurrence", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleCompletion sets the completion state of an occurrence.
// POST /api/occurrences/{id}/completion
func (h *Handler) ToggleCompletion(w http.ResponseWriter, r *http.Request) {
	id, err := engine.ParseIdentity(chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, "Invalid occurrence id", err)
		return
	}
	var req ToggleCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	o, err := h.Engine.ToggleCompletion(r.Context(), ownerFrom(r.Context()), id, req.Completed)
	if err != nil {
		writeEngineError(w, "Failed to toggle completion", err)
		return
	}
	writeJSON(w, http.StatusOK, toOccurrenceDTO(o))
}

func identityAndScope(w http.ResponseWriter, r *http.Request) (engine.Identity, engine.Scope, bool) {
	id, err := engine.ParseIdentity(chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, "Invalid occurrence id", err)
		return engine.Identity{}, "", false
	}
	scope, err := engine.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		writeEngineError(w, "Invalid scope", err)
		return engine.Identity{}, "", false
	}
	return id, scope, true
}

// =============================================================================
// SERIES HANDLERS
// =============================================================================

// ListSeries returns all series of the owner.
// GET /api/series
func (h *Handler) ListSeries(w http.ResponseWriter, r *http.Request) {
	list, err := h.Engine.ListSeries(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		writeEngineError(w, "Failed to list series", err)
		return
	}
	dtos := make([]SeriesDTO, len(list))
	for i, s := range list {
		dtos[i] = toSeriesDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSeries creates a recurring definition.
// POST /api/series
func (h *Handler) CreateSeries(w http.ResponseWriter, r *http.Request) {
	var req CreateSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.createSeries(w, r, req)
}

func (h *Handler) createSeries(w http.ResponseWriter, r *http.Request, req CreateSeriesRequest) {
	rule, err := decodeRule(req.Rule)
	if err != nil {
		writeEngineError(w, "Invalid rule", err)
		return
	}
	start, err := parseDay("start_day", req.StartDay)
	if err != nil {
		writeEngineError(w, "Invalid start day", err)
		return
	}
	endOpt, err := parseOptionalDay("end_day", req.EndDay)
	if err != nil {
		writeEngineError(w, "Invalid end day", err)
		return
	}

	s, err := h.Engine.CreateSeries(r.Context(), ownerFrom(r.Context()), rule, start, endOpt.ToPointer(), engine.Fields{
		Title:       req.Title,
		Description: req.Description,
		Color:       req.Color,
	})
	if err != nil {
		writeEngineError(w, "Failed to create series", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSeriesDTO(s))
}

// GetSeries returns a single series.
// GET /api/series/{id}
func (h *Handler) GetSeries(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.GetSeries(r.Context(), ownerFrom(r.Context()), engine.SeriesID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, "Failed to get series", err)
		return
	}
	writeJSON(w, http.StatusOK, toSeriesDTO(s))
}

// NextOccurrence returns the next visible occurrence after a day, or null
// when the series has ended.
// GET /api/series/{id}/next?after=yyyy-mm-dd
func (h *Handler) NextOccurrence(w http.ResponseWriter, r *http.Request) {
	after := h.Today()
	if v := r.URL.Query().Get("after"); v != "" {
		d, err := parseDay("after", v)
		if err != nil {
			writeEngineError(w, "Invalid day", err)
			return
		}
		after = d
	}

	next, err := h.Engine.NextOccurrence(r.Context(), ownerFrom(r.Context()), engine.SeriesID(chi.URLParam(r, "id")), after)
	if err != nil {
		writeEngineError(w, "Failed to compute next occurrence", err)
		return
	}
	o, ok := next.Get()
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, toOccurrenceDTO(o))
}

// =============================================================================
// EXPORT AND REMINDERS
// =============================================================================

// ExportICS renders the owner's reminders as an iCalendar file.
// GET /api/export.ics?start&end
func (h *Handler) ExportICS(w http.ResponseWriter, r *http.Request) {
	today := h.Today()
	win := calendar.Window{Start: today.AddDays(-defaultExportDays), End: today.AddDays(defaultExportDays)}
	if v := r.URL.Query().Get("start"); v != "" {
		d, err := parseDay("start", v)
		if err != nil {
			writeEngineError(w, "Invalid window", err)
			return
		}
		win.Start = d
	}
	if v := r.URL.Query().Get("end"); v != "" {
		d, err := parseDay("end", v)
		if err != nil {
			writeEngineError(w, "Invalid window", err)
			return
		}
		win.End = d
	}

	cal, err := ical.Export(r.Context(), h.Store, ownerFrom(r.Context()), win)
	if err != nil {
		writeEngineError(w, "Failed to export calendar", err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="reminders.ics"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		h.Log.Error("failed to write calendar", "owner", ownerFrom(r.Context()), "err", err)
	}
}

// DueReminders lists the owner's pending occurrences for a day.
// GET /api/reminders/due?day=yyyy-mm-dd
func (h *Handler) DueReminders(w http.ResponseWriter, r *http.Request) {
	d := h.Today()
	if v := r.URL.Query().Get("day"); v != "" {
		parsed, err := parseDay("day", v)
		if err != nil {
			writeEngineError(w, "Invalid day", err)
			return
		}
		d = parsed
	}

	pending, err := Due(r.Context(), h.Engine, ownerFrom(r.Context()), d)
	if err != nil {
		writeEngineError(w, "Failed to compute reminders", err)
		return
	}
	writeJSON(w, http.StatusOK, DueRemindersDTO{Day: d.String(), Pending: toOccurrenceDTOs(pending)})
}

// Health reports liveness.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

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

// writeEngineError maps the engine's error taxonomy to a status code.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case engine.IsValidation(err):
		return http.StatusBadRequest
	case engine.IsNotFound(err):
		return http.StatusNotFound
	case engine.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
