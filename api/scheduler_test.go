package api_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reminder-engine/api"
	"github.com/warp/reminder-engine/calendar"
	"github.com/warp/reminder-engine/engine"
	"github.com/warp/reminder-engine/engine/store"
	"github.com/warp/reminder-engine/recurrence"
)

func newEngine(t *testing.T, mem *store.Memory) *engine.Engine {
	t.Helper()
	e, err := engine.New(mem, mem)
	require.NoError(t, err)
	return e
}

type failingOwners struct{}

func (failingOwners) ListOwners(context.Context) ([]engine.OwnerID, error) {
	return nil, errors.New("database is locked")
}

func TestSweep_CountsPendingPerOwner(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := newEngine(t, mem)
	today := calendar.MustParse("2025-03-10")

	// GIVEN: two owners with reminders today, one of them already done
	a, err := e.CreateSeries(ctx, "user-a", recurrence.Daily{}, today.AddDays(-3), nil, engine.Fields{Title: "Vitamins"})
	require.NoError(t, err)
	_, err = e.CreateSeries(ctx, "user-b", recurrence.Daily{}, today, nil, engine.Fields{Title: "Journal"})
	require.NoError(t, err)
	_, err = e.CreateIndependentEvent(ctx, "user-b", today, engine.Fields{Title: "Pay rent"})
	require.NoError(t, err)
	_, err = e.ToggleCompletion(ctx, "user-a", engine.VirtualIdentity(a.ID, today), true)
	require.NoError(t, err)

	rs := api.NewReminderScheduler(e, mem, nil, "0 8 * * *")
	rs.Today = func() calendar.Day { return today }

	// WHEN
	res := rs.Sweep(ctx)

	// THEN
	assert.Equal(t, today, res.Day)
	assert.Equal(t, 2, res.Owners)
	assert.Equal(t, 2, res.Pending)
	assert.Zero(t, res.Failed)

	last, ok := rs.LastSweep()
	require.True(t, ok)
	assert.Equal(t, res, last)
}

func TestSweep_OwnerListingFailure(t *testing.T) {
	mem := store.NewMemory()
	rs := api.NewReminderScheduler(newEngine(t, mem), failingOwners{}, nil, "0 8 * * *")

	_, ok := rs.LastSweep()
	assert.False(t, ok)

	res := rs.Sweep(context.Background())
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Owners)
}

func TestScheduler_StartRejectsBadSpec(t *testing.T) {
	mem := store.NewMemory()
	rs := api.NewReminderScheduler(newEngine(t, mem), mem, nil, "whenever")
	assert.Error(t, rs.Start())
	rs.Stop()
}

func TestScheduler_StartStop(t *testing.T) {
	mem := store.NewMemory()
	rs := api.NewReminderScheduler(newEngine(t, mem), mem, nil, "@every 1h")
	require.NoError(t, rs.Start())
	require.NoError(t, rs.Start())
	rs.Stop()
	rs.Stop()
}

func TestDue_ExcludesCompletedAndTombstoned(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := newEngine(t, mem)
	today := calendar.MustParse("2025-03-10")

	s, err := e.CreateSeries(ctx, "user-a", recurrence.Daily{}, today, nil, engine.Fields{Title: "Vitamins"})
	require.NoError(t, err)
	require.NoError(t, e.DeleteOccurrence(ctx, "user-a", engine.VirtualIdentity(s.ID, today), engine.ScopeThis))

	pending, err := api.Due(ctx, e, "user-a", today)
	require.NoError(t, err)
	assert.Empty(t, pending)

	pending, err = api.Due(ctx, e, "user-a", today.AddDays(1))
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
