/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with reminders
	for the requesting owner. Days are relative to today so the data always
	shows up in the current week.

AVAILABLE SCENARIOS:

	daily-habit:       Daily series, all days generated
	override:          Daily series with one renamed day
	every-three-days:  Interval series
	ended-series:      Daily series cut short by a future delete
	weekdays:          Mon/Wed/Fri series with completions and a skipped day
	one-off-events:    Independent events

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create series and events through the engine
 3. Apply edits, deletes and completions like a user would

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "override"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler dependencies
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/samber/mo"
	"github.com/warp/reminder-engine/calendar"
	"github.com/warp/reminder-engine/engine"
	"github.com/warp/reminder-engine/recurrence"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenarioLoader func(ctx context.Context, e *engine.Engine, owner engine.OwnerID, today calendar.Day) error

type scenario struct {
	ScenarioDTO
	load scenarioLoader
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "daily-habit",
			Name:        "Daily Habit",
			Description: "A daily series with no stored rows; every day is generated",
		},
		load: loadDailyHabit,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "override",
			Name:        "Single-Day Override",
			Description: "A daily series where only tomorrow was renamed",
		},
		load: loadOverride,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "every-three-days",
			Name:        "Every Three Days",
			Description: "An interval series anchored on today",
		},
		load: loadEveryThreeDays,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "ended-series",
			Name:        "Ended Series",
			Description: "A daily series deleted from day five onwards",
		},
		load: loadEndedSeries,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "weekdays",
			Name:        "Weekday Workouts",
			Description: "Monday, Wednesday and Friday with completions and one skipped day",
		},
		load: loadWeekdays,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "one-off-events",
			Name:        "One-Off Events",
			Description: "Independent events on separate days",
		},
		load: loadOneOffEvents,
	},
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s.ScenarioDTO)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario for
// the requesting owner.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var found *scenario
	for i := range scenarios {
		if scenarios[i].ID == req.ScenarioID {
			found = &scenarios[i]
			break
		}
	}
	if found == nil {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	if err := h.loadScenario(r.Context(), *found, ownerFrom(r.Context())); err != nil {
		writeEngineError(w, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": found.ID,
	})
}

func (h *Handler) loadScenario(ctx context.Context, s scenario, owner engine.OwnerID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset database: %w", err)
	}
	h.currentScenario = ""

	if err := s.load(ctx, h.Engine, owner, h.Today()); err != nil {
		return fmt.Errorf("scenario %s: %w", s.ID, err)
	}
	h.currentScenario = s.ID
	h.Log.Info("scenario loaded", "scenario", s.ID, "owner", owner)
	return nil
}

// =============================================================================
// LOADERS
// =============================================================================

func loadDailyHabit(ctx context.Context, e *engine.Engine, owner engine.OwnerID, today calendar.Day) error {
	_, err := e.CreateSeries(ctx, owner, recurrence.Daily{}, today, nil, engine.Fields{
		Title: "Water plants",
		Color: "#22c55e",
	})
	return err
}

func loadOverride(ctx context.Context, e *engine.Engine, owner engine.OwnerID, today calendar.Day) error {
	s, err := e.CreateSeries(ctx, owner, recurrence.Daily{}, today, nil, engine.Fields{Title: "Water plants"})
	if err != nil {
		return err
	}
	_, err = e.EditOccurrence(ctx, owner, engine.VirtualIdentity(s.ID, today.AddDays(1)), engine.ScopeThis, engine.Edit{
		Title:       mo.Some("Water plants and fertilize"),
		Description: mo.Some("Once a month"),
	})
	return err
}

func loadEveryThreeDays(ctx context.Context, e *engine.Engine, owner engine.OwnerID, today calendar.Day) error {
	_, err := e.CreateSeries(ctx, owner, recurrence.EveryNDays{Interval: 3}, today, nil, engine.Fields{
		Title: "Change towels",
		Color: "#a855f7",
	})
	return err
}

func loadEndedSeries(ctx context.Context, e *engine.Engine, owner engine.OwnerID, today calendar.Day) error {
	s, err := e.CreateSeries(ctx, owner, recurrence.Daily{}, today, nil, engine.Fields{Title: "Antibiotics"})
	if err != nil {
		return err
	}
	return e.DeleteOccurrence(ctx, owner, engine.VirtualIdentity(s.ID, today.AddDays(4)), engine.ScopeFuture)
}

func loadWeekdays(ctx context.Context, e *engine.Engine, owner engine.OwnerID, today calendar.Day) error {
	rule, err := recurrence.NewDaysOfWeek(time.Monday, time.Wednesday, time.Friday)
	if err != nil {
		return err
	}
	start := today.AddDays(-14)
	s, err := e.CreateSeries(ctx, owner, rule, start, nil, engine.Fields{
		Title:       "Gym",
		Description: "Strength training",
		Color:       "#f97316",
	})
	if err != nil {
		return err
	}

	past := recurrence.Expand(rule, start, nil, calendar.Window{Start: start, End: today.AddDays(-1)})
	for i, d := range past {
		id := engine.VirtualIdentity(s.ID, d)
		if i == 1 {
			if err := e.DeleteOccurrence(ctx, owner, id, engine.ScopeThis); err != nil {
				return err
			}
			continue
		}
		if _, err := e.ToggleCompletion(ctx, owner, id, true); err != nil {
			return err
		}
	}
	return nil
}

func loadOneOffEvents(ctx context.Context, e *engine.Engine, owner engine.OwnerID, today calendar.Day) error {
	events := []struct {
		offset int
		fields engine.Fields
	}{
		{1, engine.Fields{Title: "Dentist", Description: "Bring insurance card", Color: "#ef4444"}},
		{3, engine.Fields{Title: "Renew passport"}},
		{6, engine.Fields{Title: "Call grandma", Color: "#eab308"}},
	}
	for _, ev := range events {
		if _, err := e.CreateIndependentEvent(ctx, owner, today.AddDays(ev.offset), ev.fields); err != nil {
			return err
		}
	}
	return nil
}
