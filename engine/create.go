package engine

import (
	"context"
	"fmt"

	"github.com/samber/mo"
	"github.com/warp/reminder-engine/calendar"
	"github.com/warp/reminder-engine/recurrence"
)

// =============================================================================
// CREATION
// =============================================================================

// CreateIndependentEvent stores a one-off event. A second independent event
// on the same day for the same owner is a conflict and is not retried.
func (e *Engine) CreateIndependentEvent(ctx context.Context, owner OwnerID, day calendar.Day, f Fields) (Occurrence, error) {
	if err := requireOwner(owner); err != nil {
		return Occurrence{}, err
	}
	if day.IsZero() {
		return Occurrence{}, &ValidationError{Field: "day", Message: "is required"}
	}
	f = f.normalized(e.defaultColor)
	if err := f.validate(); err != nil {
		return Occurrence{}, err
	}

	now := e.now()
	o := Occurrence{
		ID:        OccurrenceID(e.newID()),
		Owner:     owner,
		Day:       day,
		Fields:    f,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.repo.InsertOccurrence(ctx, o); err != nil {
		return Occurrence{}, err
	}
	return o, nil
}

// CreateSeries stores a recurring definition. end is inclusive; nil means
// the series never ends.
func (e *Engine) CreateSeries(ctx context.Context, owner OwnerID, rule recurrence.Rule, start calendar.Day, end *calendar.Day, f Fields) (Series, error) {
	if err := requireOwner(owner); err != nil {
		return Series{}, err
	}
	now := e.now()
	s := Series{
		ID:        SeriesID(e.newID()),
		Owner:     owner,
		Fields:    f.normalized(e.defaultColor),
		Rule:      rule,
		StartDay:  start,
		EndDay:    end,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s = s.Clone()
	if err := s.validate(); err != nil {
		return Series{}, err
	}
	if err := e.repo.CreateSeries(ctx, s); err != nil {
		return Series{}, err
	}
	e.log.Debug("created series", "series", s.ID, "rule", s.Rule, "start", s.StartDay)
	return s, nil
}

// =============================================================================
// SERIES LOOKUP
// =============================================================================

func (e *Engine) ListSeries(ctx context.Context, owner OwnerID) ([]Series, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	return e.repo.ListSeries(ctx, owner)
}

func (e *Engine) GetSeries(ctx context.Context, owner OwnerID, id SeriesID) (Series, error) {
	if err := requireOwner(owner); err != nil {
		return Series{}, err
	}
	return e.repo.GetSeries(ctx, owner, id)
}

// NextOccurrence returns the first visible occurrence of the series strictly
// after `after`. Tombstoned days are skipped. The result is absent when the
// series has ended or no visible day exists within the maximum window.
func (e *Engine) NextOccurrence(ctx context.Context, owner OwnerID, id SeriesID, after calendar.Day) (mo.Option[EffectiveOccurrence], error) {
	none := mo.None[EffectiveOccurrence]()
	if err := requireOwner(owner); err != nil {
		return none, err
	}
	if after.IsZero() {
		return none, &ValidationError{Field: "after", Message: "is required"}
	}
	s, err := e.repo.GetSeries(ctx, owner, id)
	if err != nil {
		return none, err
	}

	cursor := after
	for i, n := 0, e.maxWindowDays; i < n; i++ {
		day, ok := recurrence.Next(s.Rule, s.StartDay, cursor)
		if !ok || !s.Covers(day) {
			return none, nil
		}
		cursor = day

		found, err := e.repo.FindSeriesOccurrence(ctx, owner, s.ID, day)
		if err != nil {
			return none, err
		}
		done, err := e.ledger.IsCompleted(ctx, owner, s.ID, day)
		if err != nil {
			return none, fmt.Errorf("read completion: %w", err)
		}
		row, stored := found.Get()
		switch {
		case !stored:
			return mo.Some(virtualOccurrence(s, day, done)), nil
		case !row.Tombstoned:
			eff := row.effective()
			eff.Completed = done
			return mo.Some(eff), nil
		}
	}
	return none, nil
}
