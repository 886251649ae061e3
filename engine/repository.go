/*
repository.go - Storage contracts consumed by the engine

PURPOSE:
  The engine never holds state between calls. Everything lives behind two
  interfaces:
  - Repository:        series and stored occurrences
  - CompletionLedger:  per-series set of completed days

UNIQUENESS CONTRACT:
  Implementations MUST enforce, at the storage level:
  - at most one row per (owner, series, day) for series rows
  - at most one row per (owner, day) for independent rows
  and report a violation as a *ConflictError wrapping ErrDuplicateSeriesDay
  or ErrDuplicateIndependentDay. Promotion depends on the first: two
  concurrent inserts for the same series day must leave exactly one row and
  the loser must see ErrDuplicateSeriesDay.

LEDGER CONTRACT:
  SetCompleted is an idempotent upsert or remove. Calling it twice with the
  same arguments leaves the same state as calling it once.

ATOMIC CASCADES:
  A Repository that also implements TxRepository runs each mutation, from
  resolving its target to the last write, in a single transaction. Without
  it the purge is applied first, then the series update.

IMPLEMENTATIONS:
  - engine/store/memory.go: In-memory for testing and development
  - store/sqlite/sqlite.go: SQLite

SEE ALSO:
  - engine.go: how the engine picks the ledger inside a transaction
*/
package engine

import (
	"context"

	"github.com/samber/mo"
	"github.com/warp/reminder-engine/calendar"
)

// =============================================================================
// REPOSITORY
// =============================================================================

// Repository persists series and stored occurrences. Every lookup is scoped
// to an owner; a row belonging to another owner is reported as not found.
type Repository interface {
	// CreateSeries stores a new series.
	CreateSeries(ctx context.Context, s Series) error

	// GetSeries returns ErrSeriesNotFound when absent.
	GetSeries(ctx context.Context, owner OwnerID, id SeriesID) (Series, error)

	// ListSeries returns every series of the owner ordered by creation.
	ListSeries(ctx context.Context, owner OwnerID) ([]Series, error)

	// FindSeries returns the series whose [StartDay, EndDay] intersects w.
	FindSeries(ctx context.Context, owner OwnerID, w calendar.Window) ([]Series, error)

	// UpdateSeries replaces a series by id. Returns ErrSeriesNotFound when absent.
	UpdateSeries(ctx context.Context, s Series) error

	// DeleteSeries removes a series. Returns ErrSeriesNotFound when absent.
	// Stored rows are not touched; callers purge them with DeleteOccurrences.
	DeleteSeries(ctx context.Context, owner OwnerID, id SeriesID) error

	// InsertOccurrence stores a new row, enforcing the uniqueness contract.
	InsertOccurrence(ctx context.Context, o Occurrence) error

	// UpdateOccurrence replaces a row by id. Returns ErrOccurrenceNotFound
	// when absent and a *ConflictError when a day change hits an occupied day.
	UpdateOccurrence(ctx context.Context, o Occurrence) error

	// GetOccurrence returns ErrOccurrenceNotFound when absent.
	GetOccurrence(ctx context.Context, owner OwnerID, id OccurrenceID) (Occurrence, error)

	// FindSeriesOccurrence returns the row for (owner, series, day), if any.
	FindSeriesOccurrence(ctx context.Context, owner OwnerID, series SeriesID, day calendar.Day) (mo.Option[Occurrence], error)

	// FindIndependentOccurrences returns the owner's independent rows in w.
	FindIndependentOccurrences(ctx context.Context, owner OwnerID, w calendar.Window) ([]Occurrence, error)

	// FindSeriesOccurrences returns the rows, overrides and tombstones, of the
	// given series with a day in w.
	FindSeriesOccurrences(ctx context.Context, owner OwnerID, series []SeriesID, w calendar.Window) ([]Occurrence, error)

	// DeleteOccurrences removes the rows matching f and returns how many.
	DeleteOccurrences(ctx context.Context, f OccurrenceFilter) (int, error)

	// ListOwners returns every owner that has a series or a stored row.
	ListOwners(ctx context.Context) ([]OwnerID, error)
}

// TxRepository wraps Repository with transaction support.
type TxRepository interface {
	Repository

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Repository) error) error
}

// OccurrenceFilter selects stored rows of one owner. At least one of ID or
// SeriesID must be set.
type OccurrenceFilter struct {
	Owner    OwnerID
	ID       OccurrenceID
	SeriesID SeriesID
	FromDay  mo.Option[calendar.Day] // inclusive lower bound
}

// Validate rejects filters that would select every row of the owner.
func (f OccurrenceFilter) Validate() error {
	if f.Owner == "" {
		return &ValidationError{Field: "owner", Message: "is required"}
	}
	if f.ID == "" && f.SeriesID == "" {
		return &ValidationError{Field: "filter", Message: "needs an id or a series id"}
	}
	return nil
}

// Match reports whether o is selected by f.
func (f OccurrenceFilter) Match(o Occurrence) bool {
	if o.Owner != f.Owner {
		return false
	}
	if f.ID != "" && o.ID != f.ID {
		return false
	}
	if f.SeriesID != "" && o.SeriesID != f.SeriesID {
		return false
	}
	if from, ok := f.FromDay.Get(); ok && o.Day.Before(from) {
		return false
	}
	return true
}

// =============================================================================
// COMPLETION LEDGER
// =============================================================================

// CompletionLedger records which days of a series are done, independently of
// stored rows. Entries survive deletion and regeneration of overrides.
type CompletionLedger interface {
	// SetCompleted adds or removes day from the series' set. Redundant calls
	// are no-ops and never fail.
	SetCompleted(ctx context.Context, owner OwnerID, series SeriesID, day calendar.Day, completed bool) error

	// IsCompleted reports whether day is in the series' set.
	IsCompleted(ctx context.Context, owner OwnerID, series SeriesID, day calendar.Day) (bool, error)

	// CompletedDays returns the members of the series' set that fall in w.
	CompletedDays(ctx context.Context, owner OwnerID, series SeriesID, w calendar.Window) (calendar.Set, error)

	// PurgeCompletions drops the series' whole set.
	PurgeCompletions(ctx context.Context, owner OwnerID, series SeriesID) error
}
