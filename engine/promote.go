/*
promote.go - Virtual to stored promotion

PURPOSE:
  A generated day has no row. The first mutation of such a day creates
  one, seeded from the series' current content and the ledger's completion
  state. Afterwards mutations apply to the row.

STATE MACHINE (per series day):

    virtual --mutation--> override --delete(this)--> tombstone
       |                                                ^
       +-------------------delete(this)-----------------+

  A tombstone is terminal: it accepts no further mutation.

RACE SAFETY:
  find -> insert. When two callers promote the same day concurrently, the
  repository's (owner, series, day) uniqueness lets one insert win; the
  loser receives ErrDuplicateSeriesDay and repeats the find, which now
  returns the winner's row. Both callers end up with the same row.
*/
package engine

import (
	"context"
	"fmt"

	"github.com/warp/reminder-engine/calendar"
)

// target is a resolved identity: an independent row, or a series day that
// may or may not have a row yet.
type target struct {
	series *Series
	row    *Occurrence
	day    calendar.Day
}

func (t target) independent() bool { return t.series == nil }

// resolve looks up what id addresses for owner. A virtual identity whose day
// the series does not generate is not found.
func resolve(ctx context.Context, repo Repository, owner OwnerID, id Identity) (target, error) {
	if err := requireOwner(owner); err != nil {
		return target{}, err
	}
	if err := id.validate(); err != nil {
		return target{}, err
	}

	if id.IsVirtual() {
		s, err := repo.GetSeries(ctx, owner, id.Series)
		if err != nil {
			return target{}, err
		}
		if !s.Matches(id.Day) {
			return target{}, fmt.Errorf("%s is not a day of series %s: %w", id.Day, s.ID, ErrOccurrenceNotFound)
		}
		found, err := repo.FindSeriesOccurrence(ctx, owner, s.ID, id.Day)
		if err != nil {
			return target{}, err
		}
		t := target{series: &s, day: id.Day}
		if row, ok := found.Get(); ok {
			t.row = &row
		}
		return t, nil
	}

	row, err := repo.GetOccurrence(ctx, owner, id.Occurrence)
	if err != nil {
		return target{}, err
	}
	t := target{row: &row, day: row.Day}
	if row.IsIndependent() {
		return t, nil
	}
	s, err := repo.GetSeries(ctx, owner, row.SeriesID)
	if err != nil {
		return target{}, err
	}
	t.series = &s
	return t, nil
}

// promote finds or creates the row for (s, day).
func (e *Engine) promote(ctx context.Context, repo Repository, ledger CompletionLedger, s Series, day calendar.Day) (Occurrence, error) {
	for attempt := 0; attempt <= e.promotionRetries; attempt++ {
		found, err := repo.FindSeriesOccurrence(ctx, s.Owner, s.ID, day)
		if err != nil {
			return Occurrence{}, err
		}
		if row, ok := found.Get(); ok {
			return row, nil
		}

		done, err := ledger.IsCompleted(ctx, s.Owner, s.ID, day)
		if err != nil {
			return Occurrence{}, fmt.Errorf("read completion: %w", err)
		}
		now := e.now()
		row := Occurrence{
			ID:        OccurrenceID(e.newID()),
			Owner:     s.Owner,
			SeriesID:  s.ID,
			Day:       day,
			Fields:    s.Fields,
			Completed: done,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if done {
			row.CompletedAt = &now
		}

		err = repo.InsertOccurrence(ctx, row)
		if err == nil {
			e.log.Debug("promoted occurrence", "series", s.ID, "day", day, "id", row.ID)
			return row, nil
		}
		if !IsRetryable(err) {
			return Occurrence{}, err
		}
		e.log.Debug("promotion lost race, retrying find", "series", s.ID, "day", day, "attempt", attempt+1)
	}
	return Occurrence{}, &ConflictError{Day: day, Err: ErrPromotionConflict}
}

// materialize returns the row of t, promoting a virtual series day.
// Tombstones are rejected.
func (e *Engine) materialize(ctx context.Context, repo Repository, ledger CompletionLedger, t target) (Occurrence, error) {
	var row Occurrence
	switch {
	case t.row != nil:
		row = *t.row
	case t.series != nil:
		promoted, err := e.promote(ctx, repo, ledger, *t.series, t.day)
		if err != nil {
			return Occurrence{}, err
		}
		row = promoted
	default:
		return Occurrence{}, ErrOccurrenceNotFound
	}
	if row.Tombstoned {
		return Occurrence{}, fmt.Errorf("%s: %w", t.day, ErrTombstoned)
	}
	return row, nil
}
