/*
merge.go - Effective occurrences for a window

PURPOSE:
  Query combines three sources into one ordered list:
  - independent stored rows
  - the days each intersecting series generates
  - stored series rows (overrides and tombstones)

OVERLAY:
  Per series, the generated days and the stored rows are two ascending
  streams walked together by day:

    generated: 01 02 03 04
    stored:       02(override)  04(tombstone)
    result:    01 02'  03

  A stored row always wins its day. A tombstone wins by emitting nothing,
  so a deleted day never falls back to generation. A stored override on a day
  the rule no longer generates is still shown.

COMPLETION:
  Generated days read completion from the CompletionLedger. Stored series
  rows carry a flag kept in sync with the ledger, but the ledger is read for
  them as well so that both agree even after a partial failure.

ORDER:
  Day ascending, then CreatedAt, then id.

SEE ALSO:
  - recurrence/expand.go: generation of the days
*/
package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/warp/reminder-engine/calendar"
	"github.com/warp/reminder-engine/recurrence"
)

// Query returns the effective occurrences of owner in [start, end].
func (e *Engine) Query(ctx context.Context, owner OwnerID, start, end calendar.Day) ([]EffectiveOccurrence, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	w, err := e.window(start, end)
	if err != nil {
		return nil, err
	}

	independent, err := e.repo.FindIndependentOccurrences(ctx, owner, w)
	if err != nil {
		return nil, fmt.Errorf("load independent occurrences: %w", err)
	}
	series, err := e.repo.FindSeries(ctx, owner, w)
	if err != nil {
		return nil, fmt.Errorf("load series: %w", err)
	}

	ids := make([]SeriesID, len(series))
	for i, s := range series {
		ids[i] = s.ID
	}
	var stored []Occurrence
	if len(ids) > 0 {
		stored, err = e.repo.FindSeriesOccurrences(ctx, owner, ids, w)
		if err != nil {
			return nil, fmt.Errorf("load series occurrences: %w", err)
		}
	}
	bySeries := partition(stored)

	result := make([]EffectiveOccurrence, 0, len(independent))
	for _, o := range independent {
		if !o.Tombstoned {
			result = append(result, o.effective())
		}
	}

	for _, s := range series {
		completed, err := e.ledger.CompletedDays(ctx, owner, s.ID, w)
		if err != nil {
			return nil, fmt.Errorf("load completions of series %s: %w", s.ID, err)
		}
		days := recurrence.Expand(s.Rule, s.StartDay, s.EndDay, w)
		result = overlay(result, s, days, bySeries[s.ID], completed)
	}

	sortEffective(result)
	return result, nil
}

// overlay appends the merged stream of one series to out. days and rows must
// both be ascending by day.
func overlay(out []EffectiveOccurrence, s Series, days []calendar.Day, rows []Occurrence, completed calendar.Set) []EffectiveOccurrence {
	emit := func(o Occurrence) {
		if o.Tombstoned {
			return
		}
		eff := o.effective()
		eff.Completed = completed.Has(o.Day)
		if !eff.Completed {
			eff.CompletedAt = nil
		}
		out = append(out, eff)
	}

	i, j := 0, 0
	for i < len(days) || j < len(rows) {
		switch {
		case j == len(rows) || (i < len(days) && days[i].Before(rows[j].Day)):
			out = append(out, virtualOccurrence(s, days[i], completed.Has(days[i])))
			i++
		case i == len(days) || rows[j].Day.Before(days[i]):
			emit(rows[j])
			j++
		default:
			emit(rows[j])
			i++
			j++
		}
	}
	return out
}

// partition groups series rows by series, each group ascending by day.
func partition(rows []Occurrence) map[SeriesID][]Occurrence {
	out := make(map[SeriesID][]Occurrence)
	for _, o := range rows {
		out[o.SeriesID] = append(out[o.SeriesID], o)
	}
	for _, group := range out {
		sort.Slice(group, func(a, b int) bool { return group[a].Day.Before(group[b].Day) })
	}
	return out
}

func sortEffective(list []EffectiveOccurrence) {
	sort.SliceStable(list, func(a, b int) bool {
		x, y := list[a], list[b]
		if c := x.Day.Compare(y.Day); c != 0 {
			return c < 0
		}
		if !x.CreatedAt.Equal(y.CreatedAt) {
			return x.CreatedAt.Before(y.CreatedAt)
		}
		return x.ID.String() < y.ID.String()
	})
}

func (e *Engine) window(start, end calendar.Day) (calendar.Window, error) {
	if start.IsZero() {
		return calendar.Window{}, &ValidationError{Field: "start", Message: "is required"}
	}
	if end.IsZero() {
		return calendar.Window{}, &ValidationError{Field: "end", Message: "is required"}
	}
	w, err := calendar.NewWindow(start, end)
	if err != nil {
		return calendar.Window{}, err
	}
	if w.Len() > e.maxWindowDays {
		return calendar.Window{}, &ValidationError{
			Field:   "end",
			Message: fmt.Sprintf("window spans %d days, at most %d allowed", w.Len(), e.maxWindowDays),
		}
	}
	return w, nil
}
