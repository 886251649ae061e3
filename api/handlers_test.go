/*
handlers_test.go - HTTP tests for the API handlers

Tests run the full router over a SQLite :memory: store with a fixed today.
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reminder-engine/api"
	"github.com/warp/reminder-engine/calendar"
	"github.com/warp/reminder-engine/engine"
	"github.com/warp/reminder-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const testOwner = "user-1"

var fixedToday = calendar.MustParse("2025-01-01")

type testServer struct {
	t       *testing.T
	handler *api.Handler
	router  http.Handler
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	e, err := engine.New(store, store)
	require.NoError(t, err)
	h := api.NewHandler(e, store, nil)
	h.Today = func() calendar.Day { return fixedToday }
	return &testServer{t: t, handler: h, router: api.NewRouter(h, []string{"http://localhost:5173"})}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	return s.doAs(testOwner, method, path, body)
}

func (s *testServer) doAs(owner, method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(api.OwnerHeader, owner)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createDailySeries(title string) api.SeriesDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/series", map[string]any{
		"rule":      map[string]any{"type": "daily"},
		"start_day": "2025-01-01",
		"title":     title,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.SeriesDTO](s.t, rec)
}

func (s *testServer) list(start, end string) []api.OccurrenceDTO {
	s.t.Helper()
	rec := s.do(http.MethodGet, "/api/occurrences?start="+start+"&end="+end, nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[[]api.OccurrenceDTO](s.t, rec)
}

// =============================================================================
// OWNER AND HEALTH
// =============================================================================

func TestHealth_NeedsNoOwner(t *testing.T) {
	s := newServer(t)
	rec := s.doAs("", http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMissingOwner_Unauthorized(t *testing.T) {
	s := newServer(t)
	rec := s.doAs("", http.MethodGet, "/api/occurrences?start=2025-01-01&end=2025-01-02", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOwners_AreIsolated(t *testing.T) {
	s := newServer(t)
	series := s.createDailySeries("Water plants")

	rec := s.doAs("user-2", http.MethodGet, "/api/occurrences?start=2025-01-01&end=2025-01-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]api.OccurrenceDTO](t, rec))

	rec = s.doAs("user-2", http.MethodGet, "/api/series/"+series.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// OCCURRENCES
// =============================================================================

func TestListOccurrences_VirtualDays(t *testing.T) {
	s := newServer(t)
	series := s.createDailySeries("Water plants")

	got := s.list("2025-01-01", "2025-01-03")

	require.Len(t, got, 3)
	assert.Equal(t, "recurring_"+series.ID+"_2025-01-01", got[0].ID)
	assert.True(t, got[0].Generated)
	assert.True(t, got[0].Recurring)
	assert.Equal(t, "#3b82f6", got[0].Color)
}

func TestListOccurrences_Validation(t *testing.T) {
	s := newServer(t)
	for _, path := range []string{
		"/api/occurrences",
		"/api/occurrences?start=2025-01-01",
		"/api/occurrences?start=2025-13-01&end=2025-01-02",
		"/api/occurrences?start=2025-02-01&end=2025-01-01",
		"/api/occurrences?start=2020-01-01&end=2025-01-01",
	} {
		rec := s.do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.NotEmpty(t, decode[api.ErrorResponse](t, rec).Error)
	}
}

func TestEditThis_CreatesOverride(t *testing.T) {
	s := newServer(t)
	series := s.createDailySeries("Water plants")
	id := "recurring_" + series.ID + "_2025-01-02"

	// WHEN: one generated day is renamed
	rec := s.do(http.MethodPatch, "/api/occurrences/"+id+"?scope=this", map[string]any{"title": "Special"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[api.MutationDTO](t, rec)
	require.NotNil(t, res.Occurrence)
	assert.False(t, res.Occurrence.Generated)
	assert.Nil(t, res.Series)

	// THEN: only that day changed
	got := s.list("2025-01-01", "2025-01-03")
	require.Len(t, got, 3)
	assert.Equal(t, "Water plants", got[0].Title)
	assert.Equal(t, "Special", got[1].Title)
	assert.Equal(t, res.Occurrence.ID, got[1].ID)
	assert.Equal(t, "Water plants", got[2].Title)
}

func TestEditAll_ReturnsSeries(t *testing.T) {
	s := newServer(t)
	series := s.createDailySeries("Water plants")
	id := "recurring_" + series.ID + "_2025-01-02"

	rec := s.do(http.MethodPatch, "/api/occurrences/"+id, map[string]any{
		"title": "Water succulents",
		"rule":  map[string]any{"type": "everyXDays", "interval": 3},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[api.MutationDTO](t, rec)
	require.NotNil(t, res.Series)
	assert.Equal(t, 3, res.Series.Rule.Interval)

	got := s.list("2025-01-01", "2025-01-07")
	days := make([]string, len(got))
	for i, o := range got {
		days[i] = o.Day
	}
	assert.Equal(t, []string{"2025-01-01", "2025-01-04", "2025-01-07"}, days)
}

func TestEdit_Validation(t *testing.T) {
	s := newServer(t)
	series := s.createDailySeries("Water plants")
	id := "recurring_" + series.ID + "_2025-01-02"

	tests := []struct {
		name string
		path string
		body any
		code int
	}{
		{"bad scope", "/api/occurrences/" + id + "?scope=some", map[string]any{"title": "x"}, http.StatusBadRequest},
		{"bad id", "/api/occurrences/recurring_x?scope=this", map[string]any{"title": "x"}, http.StatusBadRequest},
		{"bad rule", "/api/occurrences/" + id + "?scope=all", map[string]any{"rule": map[string]any{"type": "daysOfWeek"}}, http.StatusBadRequest},
		{"bad day", "/api/occurrences/" + id + "?scope=this", map[string]any{"day": "tomorrow"}, http.StatusBadRequest},
		{"unknown series", "/api/occurrences/recurring_nope_2025-01-02?scope=this", map[string]any{"title": "x"}, http.StatusNotFound},
		{"off-rule day", "/api/occurrences/recurring_" + series.ID + "_2024-12-31?scope=this", map[string]any{"title": "x"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPatch, tt.path, tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/api/occurrences/"+id+"?scope=this", strings.NewReader("{"))
	req.Header.Set(api.OwnerHeader, testOwner)
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteFuture_EndsSeries(t *testing.T) {
	s := newServer(t)
	series := s.createDailySeries("Water plants")

	rec := s.do(http.MethodDelete, "/api/occurrences/recurring_"+series.ID+"_2025-01-05?scope=future", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	got := s.list("2025-01-01", "2025-01-10")
	assert.Len(t, got, 4)

	rec = s.do(http.MethodGet, "/api/series/"+series.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dto := decode[api.SeriesDTO](t, rec)
	require.NotNil(t, dto.EndDay)
	assert.Equal(t, "2025-01-04", *dto.EndDay)
}

func TestDeleteThis_HidesDay(t *testing.T) {
	s := newServer(t)
	series := s.createDailySeries("Water plants")
	path := "/api/occurrences/recurring_" + series.ID + "_2025-01-02?scope=this"

	require.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, path, nil).Code)
	require.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, path, nil).Code)

	got := s.list("2025-01-01", "2025-01-03")
	require.Len(t, got, 2)
	assert.Equal(t, "2025-01-01", got[0].Day)
	assert.Equal(t, "2025-01-03", got[1].Day)

	// A deleted day can no longer be completed
	rec := s.do(http.MethodPost, "/api/occurrences/recurring_"+series.ID+"_2025-01-02/completion", map[string]any{"completed": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToggleCompletion(t *testing.T) {
	s := newServer(t)
	series := s.createDailySeries("Water plants")
	path := "/api/occurrences/recurring_" + series.ID + "_2025-01-02/completion"

	rec := s.do(http.MethodPost, path, map[string]any{"completed": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dto := decode[api.OccurrenceDTO](t, rec)
	assert.True(t, dto.Completed)
	assert.NotNil(t, dto.CompletedAt)

	got := s.list("2025-01-02", "2025-01-02")
	require.Len(t, got, 1)
	assert.True(t, got[0].Completed)

	rec = s.do(http.MethodPost, path, map[string]any{"completed": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, s.list("2025-01-02", "2025-01-02")[0].Completed)
}

func TestCreateIndependent_Conflict(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/api/occurrences", map[string]any{"day": "2025-01-05", "title": "Dentist"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[api.OccurrenceDTO](t, rec)
	assert.Equal(t, "2025-01-05", created.Day)

	rec = s.do(http.MethodPost, "/api/occurrences", map[string]any{"day": "2025-01-05", "title": "Haircut"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	got := s.list("2025-01-05", "2025-01-05")
	require.Len(t, got, 1)
	assert.Equal(t, "Dentist", got[0].Title)
	assert.False(t, got[0].Recurring)
}

func TestCreateOccurrence_WithRuleCreatesSeries(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/api/occurrences", map[string]any{
		"day":   "2025-01-06",
		"title": "Gym",
		"rule":  map[string]any{"type": "daysOfWeek", "days": []int{1, 3}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	series := decode[api.SeriesDTO](t, rec)
	assert.Equal(t, "2025-01-06", series.StartDay)

	got := s.list("2025-01-06", "2025-01-12")
	require.Len(t, got, 2)
	assert.Equal(t, "2025-01-06", got[0].Day)
	assert.Equal(t, "2025-01-08", got[1].Day)
}

func TestCreate_Validation(t *testing.T) {
	s := newServer(t)
	for name, body := range map[string]any{
		"missing day":    map[string]any{"title": "x"},
		"empty title":    map[string]any{"day": "2025-01-01", "title": "  "},
		"zero interval":  map[string]any{"day": "2025-01-01", "title": "x", "rule": map[string]any{"type": "everyXDays", "interval": 0}},
		"empty weekdays": map[string]any{"day": "2025-01-01", "title": "x", "rule": map[string]any{"type": "daysOfWeek", "days": []int{}}},
	} {
		rec := s.do(http.MethodPost, "/api/occurrences", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

// =============================================================================
// SERIES, EXPORT AND REMINDERS
// =============================================================================

func TestSeries_ListAndNext(t *testing.T) {
	s := newServer(t)
	series := s.createDailySeries("Water plants")

	rec := s.do(http.MethodGet, "/api/series", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]api.SeriesDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "daily", list[0].RuleText)

	rec = s.do(http.MethodGet, "/api/series/"+series.ID+"/next?after=2025-01-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2025-01-11", decode[api.OccurrenceDTO](t, rec).Day)

	// Defaults to today
	rec = s.do(http.MethodGet, "/api/series/"+series.ID+"/next", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2025-01-02", decode[api.OccurrenceDTO](t, rec).Day)
}

func TestNext_EndedSeriesIsNull(t *testing.T) {
	s := newServer(t)
	series := s.createDailySeries("Water plants")
	require.Equal(t, http.StatusNoContent,
		s.do(http.MethodDelete, "/api/occurrences/recurring_"+series.ID+"_2025-01-03?scope=future", nil).Code)

	rec := s.do(http.MethodGet, "/api/series/"+series.ID+"/next?after=2025-01-05", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
}

func TestExportICS(t *testing.T) {
	s := newServer(t)
	s.createDailySeries("Water plants")

	rec := s.do(http.MethodGet, "/api/export.ics?start=2025-01-01&end=2025-03-31", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	body := rec.Body.String()
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Contains(t, body, "RRULE:FREQ=DAILY")
	assert.Contains(t, body, "SUMMARY:Water plants")
}

// brokenConn accepts headers but fails every body write.
type brokenConn struct {
	*httptest.ResponseRecorder
}

func (brokenConn) Write([]byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}

func (c brokenConn) WriteString(s string) (int, error) {
	return c.Write([]byte(s))
}

func TestExportICS_LogsWriteFailure(t *testing.T) {
	s := newServer(t)
	s.createDailySeries("Water plants")
	var logs bytes.Buffer
	s.handler.Log = log.New(&logs)

	req := httptest.NewRequest(http.MethodGet, "/api/export.ics", nil)
	req.Header.Set(api.OwnerHeader, testOwner)
	w := brokenConn{httptest.NewRecorder()}
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, logs.String(), "failed to write calendar")
	assert.Contains(t, logs.String(), "connection reset by peer")
}

func TestDueReminders_SkipsCompleted(t *testing.T) {
	s := newServer(t)
	first := s.createDailySeries("Water plants")
	s.createDailySeries("Stretch")

	rec := s.do(http.MethodPost, "/api/occurrences/recurring_"+first.ID+"_2025-01-01/completion", map[string]any{"completed": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/reminders/due", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	due := decode[api.DueRemindersDTO](t, rec)
	assert.Equal(t, "2025-01-01", due.Day)
	require.Len(t, due.Pending, 1)
	assert.Equal(t, "Stretch", due.Pending[0].Title)
}
