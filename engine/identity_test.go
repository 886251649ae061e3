package engine_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reminder-engine/engine"
)

func TestParseIdentity(t *testing.T) {
	id, err := engine.ParseIdentity("recurring_3f2a_b_2025-01-02")
	require.NoError(t, err)
	assert.True(t, id.IsVirtual())
	assert.Equal(t, engine.SeriesID("3f2a_b"), id.Series)
	assert.Equal(t, "2025-01-02", id.Day.String())
	assert.Equal(t, "recurring_3f2a_b_2025-01-02", id.String())

	id, err = engine.ParseIdentity("8c1e")
	require.NoError(t, err)
	assert.False(t, id.IsVirtual())
	assert.Equal(t, engine.OccurrenceID("8c1e"), id.Occurrence)

	for _, bad := range []string{"", "recurring_", "recurring_abc", "recurring_abc_2025-13-01", "recurring__2025-01-02"} {
		_, err := engine.ParseIdentity(bad)
		assert.True(t, engine.IsValidation(err), bad)
	}
}

func TestIdentity_JSON(t *testing.T) {
	raw, err := json.Marshal(struct {
		ID engine.Identity `json:"id"`
	}{engine.VirtualIdentity("s1", day("2025-03-04"))})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"recurring_s1_2025-03-04"}`, string(raw))

	var back struct {
		ID engine.Identity `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, engine.VirtualIdentity("s1", day("2025-03-04")), back.ID)
}

func TestParseScope(t *testing.T) {
	for in, want := range map[string]engine.Scope{
		"":       engine.ScopeAll,
		"this":   engine.ScopeThis,
		"Future": engine.ScopeFuture,
		" all ":  engine.ScopeAll,
	} {
		got, err := engine.ParseScope(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := engine.ParseScope("some")
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestErrorCategories(t *testing.T) {
	assert.True(t, engine.IsNotFound(engine.ErrTombstoned))
	assert.True(t, engine.IsNotFound(engine.ErrSeriesNotFound))
	assert.False(t, engine.IsConflict(engine.ErrSeriesNotFound))

	err := &engine.ConflictError{Day: day("2025-01-01"), ExistingID: "x", Err: engine.ErrDuplicateIndependentDay}
	assert.True(t, engine.IsConflict(err))
	assert.False(t, engine.IsRetryable(err))
	assert.Contains(t, err.Error(), "2025-01-01")
	assert.Contains(t, err.Error(), "existing: x")
}
