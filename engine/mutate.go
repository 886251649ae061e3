/*
mutate.go - Scoped edits, deletes and completion toggles

PURPOSE:
  Applies a mutation to the occurrence an Identity addresses. Independent
  events ignore scope and act on their single row. Series occurrences honor
  the scope, with d the addressed day:

    scope   | edit                                   | delete
    --------+----------------------------------------+-------------------------------
    this    | promote/update the row at d            | tombstone at d
    future  | update series, purge rows with day >= d | endDay = d-1, purge rows >= d
    all     | update series, purge all rows          | delete series, rows, ledger

  Purged days regenerate lazily from the new definition on the next query.

FAILURE:
  Not found and validation errors are reported before any write. The
  target is resolved inside the same transaction as the write when the
  repository supports one, so a mutation never applies to a row or series
  read before a concurrent commit. Without transactions the purge runs
  before the series update.

SEE ALSO:
  - promote.go: promotion of virtual days
*/
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/mo"
	"github.com/warp/reminder-engine/calendar"
	"github.com/warp/reminder-engine/recurrence"
)

// =============================================================================
// EDIT - Partial update
// =============================================================================

// Edit lists the fields to change. Absent options are left untouched.
type Edit struct {
	Title       mo.Option[string]
	Description mo.Option[string]
	Color       mo.Option[string]

	// Day moves an independent event. Not allowed on series occurrences.
	Day mo.Option[calendar.Day]

	// Series definition. Only allowed with ScopeFuture and ScopeAll.
	Rule        mo.Option[recurrence.Rule]
	StartDay    mo.Option[calendar.Day]
	EndDay      mo.Option[calendar.Day]
	ClearEndDay bool
}

func (ed Edit) changesDefinition() bool {
	return ed.Rule.IsPresent() || ed.StartDay.IsPresent() || ed.EndDay.IsPresent() || ed.ClearEndDay
}

func (ed Edit) validate() error {
	if title, ok := ed.Title.Get(); ok && strings.TrimSpace(title) == "" {
		return &ValidationError{Field: "title", Message: "must not be empty"}
	}
	if rule, ok := ed.Rule.Get(); ok {
		if err := recurrence.Validate(rule); err != nil {
			return &ValidationError{Field: "rule", Message: err.Error(), Err: err}
		}
	}
	if ed.EndDay.IsPresent() && ed.ClearEndDay {
		return &ValidationError{Field: "endDay", Message: "cannot be set and cleared at once"}
	}
	return nil
}

func (ed Edit) applyFields(f Fields, defaultColor string) Fields {
	if v, ok := ed.Title.Get(); ok {
		f.Title = v
	}
	if v, ok := ed.Description.Get(); ok {
		f.Description = v
	}
	if v, ok := ed.Color.Get(); ok {
		f.Color = v
	}
	return f.normalized(defaultColor)
}

func (ed Edit) applySeries(s Series, defaultColor string) Series {
	s = s.Clone()
	s.Fields = ed.applyFields(s.Fields, defaultColor)
	if v, ok := ed.Rule.Get(); ok {
		s.Rule = v
	}
	if v, ok := ed.StartDay.Get(); ok {
		s.StartDay = v
	}
	if v, ok := ed.EndDay.Get(); ok {
		s.EndDay = &v
	}
	if ed.ClearEndDay {
		s.EndDay = nil
	}
	return s
}

// Result is the outcome of an edit: the edited occurrence for independent
// events and ScopeThis, the updated series otherwise.
type Result struct {
	Occurrence mo.Option[EffectiveOccurrence]
	Series     mo.Option[Series]
}

// =============================================================================
// EDIT
// =============================================================================

// EditOccurrence applies ed to the occurrence id addresses within scope.
func (e *Engine) EditOccurrence(ctx context.Context, owner OwnerID, id Identity, scope Scope, ed Edit) (Result, error) {
	if err := ed.validate(); err != nil {
		return Result{}, err
	}

	var res Result
	err := e.atomically(ctx, func(repo Repository, ledger CompletionLedger) error {
		t, err := resolve(ctx, repo, owner, id)
		if err != nil {
			return err
		}
		if t.independent() {
			res, err = e.editIndependent(ctx, repo, *t.row, ed)
			return err
		}
		if ed.Day.IsPresent() {
			return &ValidationError{Field: "day", Message: "a series occurrence cannot be moved to another day"}
		}

		switch scope {
		case ScopeThis:
			if ed.changesDefinition() {
				return &ValidationError{Field: "scope", Message: "rule and dates can only change with scope future or all"}
			}
			res, err = e.editThis(ctx, repo, ledger, t, ed)
		case ScopeFuture:
			res, err = e.editSeries(ctx, repo, *t.series, mo.Some(t.day), ed)
		case ScopeAll:
			res, err = e.editSeries(ctx, repo, *t.series, mo.None[calendar.Day](), ed)
		default:
			err = &ValidationError{Field: "scope", Message: fmt.Sprintf("unknown scope %q", scope)}
		}
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (e *Engine) editIndependent(ctx context.Context, repo Repository, row Occurrence, ed Edit) (Result, error) {
	if ed.changesDefinition() {
		return Result{}, &ValidationError{Field: "rule", Message: "only applies to series"}
	}
	row.Fields = ed.applyFields(row.Fields, e.defaultColor)
	if day, ok := ed.Day.Get(); ok {
		row.Day = day
	}
	row.UpdatedAt = e.now()
	if err := repo.UpdateOccurrence(ctx, row); err != nil {
		return Result{}, err
	}
	return Result{Occurrence: mo.Some(row.effective())}, nil
}

func (e *Engine) editThis(ctx context.Context, repo Repository, ledger CompletionLedger, t target, ed Edit) (Result, error) {
	row, err := e.materialize(ctx, repo, ledger, t)
	if err != nil {
		return Result{}, err
	}
	row.Fields = ed.applyFields(row.Fields, e.defaultColor)
	row.UpdatedAt = e.now()
	if err := repo.UpdateOccurrence(ctx, row); err != nil {
		return Result{}, err
	}
	return Result{Occurrence: mo.Some(row.effective())}, nil
}

// editSeries updates the series definition and purges its rows from pivot
// on, or all of them when pivot is absent.
func (e *Engine) editSeries(ctx context.Context, repo Repository, s Series, pivot mo.Option[calendar.Day], ed Edit) (Result, error) {
	updated := ed.applySeries(s, e.defaultColor)
	if err := updated.validate(); err != nil {
		return Result{}, err
	}
	updated.UpdatedAt = e.now()

	n, err := repo.DeleteOccurrences(ctx, OccurrenceFilter{Owner: s.Owner, SeriesID: s.ID, FromDay: pivot})
	if err != nil {
		return Result{}, fmt.Errorf("purge stored occurrences: %w", err)
	}
	e.log.Debug("purged series occurrences", "series", s.ID, "from", pivot.OrEmpty(), "count", n)
	if err := repo.UpdateSeries(ctx, updated); err != nil {
		return Result{}, err
	}
	return Result{Series: mo.Some(updated)}, nil
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteOccurrence removes the occurrence id addresses within scope.
// Deleting an already tombstoned day with ScopeThis is a no-op.
func (e *Engine) DeleteOccurrence(ctx context.Context, owner OwnerID, id Identity, scope Scope) error {
	return e.atomically(ctx, func(repo Repository, ledger CompletionLedger) error {
		t, err := resolve(ctx, repo, owner, id)
		if err != nil {
			return err
		}

		if t.independent() {
			n, err := repo.DeleteOccurrences(ctx, OccurrenceFilter{Owner: owner, ID: t.row.ID})
			if err != nil {
				return err
			}
			if n == 0 {
				return ErrOccurrenceNotFound
			}
			return nil
		}

		s := *t.series
		switch scope {
		case ScopeThis:
			return e.tombstone(ctx, repo, ledger, t)
		case ScopeFuture:
			if !t.day.After(s.StartDay) {
				return e.deleteSeries(ctx, repo, ledger, s)
			}
			return e.truncateSeries(ctx, repo, s, t.day)
		case ScopeAll:
			return e.deleteSeries(ctx, repo, ledger, s)
		default:
			return &ValidationError{Field: "scope", Message: fmt.Sprintf("unknown scope %q", scope)}
		}
	})
}

func (e *Engine) tombstone(ctx context.Context, repo Repository, ledger CompletionLedger, t target) error {
	row := t.row
	if row == nil {
		promoted, err := e.promote(ctx, repo, ledger, *t.series, t.day)
		if err != nil {
			return err
		}
		row = &promoted
	}
	if row.Tombstoned {
		return nil
	}
	row.Tombstoned = true
	row.UpdatedAt = e.now()
	e.log.Debug("tombstoned occurrence", "series", t.series.ID, "day", t.day)
	return repo.UpdateOccurrence(ctx, *row)
}

// truncateSeries ends the series the day before pivot.
func (e *Engine) truncateSeries(ctx context.Context, repo Repository, s Series, pivot calendar.Day) error {
	updated := s.Clone()
	end := pivot.AddDays(-1)
	if updated.EndDay == nil || end.Before(*updated.EndDay) {
		updated.EndDay = &end
	}
	updated.UpdatedAt = e.now()

	n, err := repo.DeleteOccurrences(ctx, OccurrenceFilter{Owner: s.Owner, SeriesID: s.ID, FromDay: mo.Some(pivot)})
	if err != nil {
		return fmt.Errorf("purge stored occurrences: %w", err)
	}
	e.log.Debug("truncated series", "series", s.ID, "end", updated.EndDay, "purged", n)
	return repo.UpdateSeries(ctx, updated)
}

func (e *Engine) deleteSeries(ctx context.Context, repo Repository, ledger CompletionLedger, s Series) error {
	n, err := repo.DeleteOccurrences(ctx, OccurrenceFilter{Owner: s.Owner, SeriesID: s.ID})
	if err != nil {
		return fmt.Errorf("purge stored occurrences: %w", err)
	}
	if err := repo.DeleteSeries(ctx, s.Owner, s.ID); err != nil {
		return err
	}
	if err := ledger.PurgeCompletions(ctx, s.Owner, s.ID); err != nil {
		return fmt.Errorf("purge completions: %w", err)
	}
	e.log.Debug("deleted series", "series", s.ID, "purged", n)
	return nil
}

// =============================================================================
// COMPLETION
// =============================================================================

// ToggleCompletion marks the occurrence done or not done. For series days
// the ledger is written first and the promoted row is kept in sync with it.
func (e *Engine) ToggleCompletion(ctx context.Context, owner OwnerID, id Identity, completed bool) (EffectiveOccurrence, error) {
	var row Occurrence
	err := e.atomically(ctx, func(repo Repository, ledger CompletionLedger) error {
		t, err := resolve(ctx, repo, owner, id)
		if err != nil {
			return err
		}
		if t.row != nil && t.row.Tombstoned {
			return fmt.Errorf("%s: %w", t.day, ErrTombstoned)
		}

		if t.independent() {
			row = *t.row
			if row.Completed == completed {
				return nil
			}
			e.setCompleted(&row, completed)
			return repo.UpdateOccurrence(ctx, row)
		}

		if err := ledger.SetCompleted(ctx, owner, t.series.ID, t.day, completed); err != nil {
			return fmt.Errorf("update completion ledger: %w", err)
		}
		if row, err = e.materialize(ctx, repo, ledger, t); err != nil {
			return err
		}
		if row.Completed == completed {
			return nil
		}
		e.setCompleted(&row, completed)
		return repo.UpdateOccurrence(ctx, row)
	})
	if err != nil {
		return EffectiveOccurrence{}, err
	}
	return row.effective(), nil
}

func (e *Engine) setCompleted(row *Occurrence, completed bool) {
	now := e.now()
	row.Completed = completed
	row.CompletedAt = nil
	if completed {
		row.CompletedAt = &now
	}
	row.UpdatedAt = now
}
