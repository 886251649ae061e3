/*
Package sqlite provides a SQLite-backed implementation of the engine's
storage interfaces.

PURPOSE:
  Implements engine.TxRepository and engine.CompletionLedger on one
  database, so a scoped cascade (series update + purge of stored rows, or
  series delete + ledger purge) commits or rolls back as a unit.

INTERFACES IMPLEMENTED:
  engine.Repository:       series and stored occurrences
  engine.TxRepository:     WithTx for atomic cascades
  engine.CompletionLedger: per-series completed days

KEY TABLES:
  series:       recurring definitions, rule stored as JSON
  occurrences:  overrides, tombstones and independent events
  completions:  one row per completed (owner, series, day)

INDEXES:
  Uniqueness is enforced here, not in Go:
  - idx_unique_series_day:      one row per (owner, series, day)
  - idx_unique_independent_day: one independent row per (owner, day)
  The completions primary key makes ledger inserts idempotent.

DAYS:
  Days are stored as "yyyy-mm-dd" text, so string comparison is day order
  and range filters are plain BETWEEN clauses.

CONCURRENCY:
  The pool is limited to one connection. Statements and transactions
  serialize on it, which also keeps ":memory:" databases shared.

USAGE:
  store, err := sqlite.New("./data/reminders.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  eng, err := engine.New(store, store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - engine/repository.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/samber/mo"
	"github.com/warp/reminder-engine/calendar"
	"github.com/warp/reminder-engine/engine"
	"github.com/warp/reminder-engine/recurrence"
)

// Store implements the engine storage interfaces using SQLite.
type Store struct {
	*repo
	db *sql.DB
}

// querier is the part of *sql.DB and *sql.Tx the repository needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// repo runs every operation against q, a database or a transaction.
type repo struct {
	q querier
}

var (
	_ engine.TxRepository     = (*Store)(nil)
	_ engine.CompletionLedger = (*Store)(nil)
	_ engine.CompletionLedger = (*repo)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000"
	if dbPath != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{repo: &repo{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Recurring definitions
	CREATE TABLE IF NOT EXISTS series (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		color TEXT NOT NULL,
		rule_json TEXT NOT NULL,
		start_day TEXT NOT NULL,
		end_day TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Window lookups: start_day <= end AND (end_day IS NULL OR end_day >= start)
	CREATE INDEX IF NOT EXISTS idx_series_owner_range
		ON series(owner_id, start_day, end_day);

	-- Stored occurrences. series_id is NULL for independent events.
	CREATE TABLE IF NOT EXISTS occurrences (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		series_id TEXT,
		day TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		color TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		completed_at TEXT,
		tombstoned INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: promotion converges on this index
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_series_day
		ON occurrences(owner_id, series_id, day)
		WHERE series_id IS NOT NULL;

	-- CRITICAL: one independent event per owner and day
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_independent_day
		ON occurrences(owner_id, day)
		WHERE series_id IS NULL;

	-- Completion ledger
	CREATE TABLE IF NOT EXISTS completions (
		owner_id TEXT NOT NULL,
		series_id TEXT NOT NULL,
		day TEXT NOT NULL,
		completed_at TEXT NOT NULL,
		PRIMARY KEY (owner_id, series_id, day)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxRepository interface)
// =============================================================================

// WithTx executes a function within a database transaction. The Repository
// passed to fn also implements engine.CompletionLedger.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Repository) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&repo{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset deletes all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(r engine.Repository) error {
		q := r.(*repo).q
		for _, table := range []string{"completions", "occurrences", "series"} {
			if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to reset %s: %w", table, err)
			}
		}
		return nil
	})
}

// =============================================================================
// SERIES
// =============================================================================

const seriesColumns = `id, owner_id, title, description, color, rule_json, start_day, end_day, created_at, updated_at`

func (r *repo) CreateSeries(ctx context.Context, s engine.Series) error {
	ruleJSON, err := recurrence.Marshal(s.Rule)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO series (`+seriesColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID, s.Owner, s.Fields.Title, s.Fields.Description, s.Fields.Color,
		string(ruleJSON), s.StartDay, nullDay(s.EndDay),
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create series: %w", err)
	}
	return nil
}

func (r *repo) GetSeries(ctx context.Context, owner engine.OwnerID, id engine.SeriesID) (engine.Series, error) {
	list, err := r.querySeries(ctx, `
		SELECT `+seriesColumns+` FROM series WHERE owner_id = ? AND id = ?
	`, owner, id)
	if err != nil {
		return engine.Series{}, err
	}
	if len(list) == 0 {
		return engine.Series{}, engine.ErrSeriesNotFound
	}
	return list[0], nil
}

func (r *repo) ListSeries(ctx context.Context, owner engine.OwnerID) ([]engine.Series, error) {
	return r.querySeries(ctx, `
		SELECT `+seriesColumns+` FROM series
		WHERE owner_id = ?
		ORDER BY created_at ASC, id ASC
	`, owner)
}

func (r *repo) FindSeries(ctx context.Context, owner engine.OwnerID, w calendar.Window) ([]engine.Series, error) {
	return r.querySeries(ctx, `
		SELECT `+seriesColumns+` FROM series
		WHERE owner_id = ?
		  AND start_day <= ?
		  AND (end_day IS NULL OR end_day >= ?)
		ORDER BY created_at ASC, id ASC
	`, owner, w.End, w.Start)
}

func (r *repo) UpdateSeries(ctx context.Context, s engine.Series) error {
	ruleJSON, err := recurrence.Marshal(s.Rule)
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE series
		SET title = ?, description = ?, color = ?, rule_json = ?,
		    start_day = ?, end_day = ?, updated_at = ?
		WHERE owner_id = ? AND id = ?
	`,
		s.Fields.Title, s.Fields.Description, s.Fields.Color, string(ruleJSON),
		s.StartDay, nullDay(s.EndDay), formatTime(s.UpdatedAt),
		s.Owner, s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update series: %w", err)
	}
	return requireAffected(res, engine.ErrSeriesNotFound)
}

func (r *repo) DeleteSeries(ctx context.Context, owner engine.OwnerID, id engine.SeriesID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM series WHERE owner_id = ? AND id = ?`, owner, id)
	if err != nil {
		return fmt.Errorf("failed to delete series: %w", err)
	}
	return requireAffected(res, engine.ErrSeriesNotFound)
}

func (r *repo) querySeries(ctx context.Context, query string, args ...any) ([]engine.Series, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query series: %w", err)
	}
	defer rows.Close()

	var list []engine.Series
	for rows.Next() {
		var (
			s                    engine.Series
			ruleJSON             string
			end                  calendar.Day
			createdAt, updatedAt string
		)
		err := rows.Scan(
			&s.ID, &s.Owner, &s.Fields.Title, &s.Fields.Description, &s.Fields.Color,
			&ruleJSON, &s.StartDay, &end, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan series: %w", err)
		}
		if s.Rule, err = recurrence.Unmarshal([]byte(ruleJSON)); err != nil {
			return nil, fmt.Errorf("series %s has a corrupt rule: %w", s.ID, err)
		}
		if !end.IsZero() {
			s.EndDay = &end
		}
		s.CreatedAt = parseTime(createdAt)
		s.UpdatedAt = parseTime(updatedAt)
		list = append(list, s)
	}
	return list, rows.Err()
}

// =============================================================================
// OCCURRENCES
// =============================================================================

const occurrenceColumns = `id, owner_id, series_id, day, title, description, color,
	completed, completed_at, tombstoned, created_at, updated_at`

func (r *repo) InsertOccurrence(ctx context.Context, o engine.Occurrence) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO occurrences (`+occurrenceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID, o.Owner, nullString(string(o.SeriesID)), o.Day,
		o.Fields.Title, o.Fields.Description, o.Fields.Color,
		o.Completed, nullTime(o.CompletedAt), o.Tombstoned,
		formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	)
	if err != nil {
		return r.mapWriteError(ctx, err, o)
	}
	return nil
}

func (r *repo) UpdateOccurrence(ctx context.Context, o engine.Occurrence) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE occurrences
		SET series_id = ?, day = ?, title = ?, description = ?, color = ?,
		    completed = ?, completed_at = ?, tombstoned = ?, updated_at = ?
		WHERE owner_id = ? AND id = ?
	`,
		nullString(string(o.SeriesID)), o.Day,
		o.Fields.Title, o.Fields.Description, o.Fields.Color,
		o.Completed, nullTime(o.CompletedAt), o.Tombstoned, formatTime(o.UpdatedAt),
		o.Owner, o.ID,
	)
	if err != nil {
		return r.mapWriteError(ctx, err, o)
	}
	return requireAffected(res, engine.ErrOccurrenceNotFound)
}

func (r *repo) GetOccurrence(ctx context.Context, owner engine.OwnerID, id engine.OccurrenceID) (engine.Occurrence, error) {
	list, err := r.queryOccurrences(ctx, `
		SELECT `+occurrenceColumns+` FROM occurrences WHERE owner_id = ? AND id = ?
	`, owner, id)
	if err != nil {
		return engine.Occurrence{}, err
	}
	if len(list) == 0 {
		return engine.Occurrence{}, engine.ErrOccurrenceNotFound
	}
	return list[0], nil
}

func (r *repo) FindSeriesOccurrence(ctx context.Context, owner engine.OwnerID, series engine.SeriesID, day calendar.Day) (mo.Option[engine.Occurrence], error) {
	list, err := r.queryOccurrences(ctx, `
		SELECT `+occurrenceColumns+` FROM occurrences
		WHERE owner_id = ? AND series_id = ? AND day = ?
	`, owner, series, day)
	if err != nil {
		return mo.None[engine.Occurrence](), err
	}
	if len(list) == 0 {
		return mo.None[engine.Occurrence](), nil
	}
	return mo.Some(list[0]), nil
}

func (r *repo) FindIndependentOccurrences(ctx context.Context, owner engine.OwnerID, w calendar.Window) ([]engine.Occurrence, error) {
	return r.queryOccurrences(ctx, `
		SELECT `+occurrenceColumns+` FROM occurrences
		WHERE owner_id = ? AND series_id IS NULL AND day BETWEEN ? AND ?
		ORDER BY day ASC, created_at ASC, id ASC
	`, owner, w.Start, w.End)
}

func (r *repo) FindSeriesOccurrences(ctx context.Context, owner engine.OwnerID, series []engine.SeriesID, w calendar.Window) ([]engine.Occurrence, error) {
	if len(series) == 0 {
		return nil, nil
	}
	args := []any{owner, w.Start, w.End}
	for _, id := range series {
		args = append(args, id)
	}
	return r.queryOccurrences(ctx, `
		SELECT `+occurrenceColumns+` FROM occurrences
		WHERE owner_id = ? AND day BETWEEN ? AND ?
		  AND series_id IN (`+placeholders(len(series))+`)
		ORDER BY day ASC, created_at ASC, id ASC
	`, args...)
}

func (r *repo) DeleteOccurrences(ctx context.Context, f engine.OccurrenceFilter) (int, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	where := []string{"owner_id = ?"}
	args := []any{f.Owner}
	if f.ID != "" {
		where = append(where, "id = ?")
		args = append(args, f.ID)
	}
	if f.SeriesID != "" {
		where = append(where, "series_id = ?")
		args = append(args, f.SeriesID)
	}
	if from, ok := f.FromDay.Get(); ok {
		where = append(where, "day >= ?")
		args = append(args, from)
	}

	res, err := r.q.ExecContext(ctx, "DELETE FROM occurrences WHERE "+strings.Join(where, " AND "), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete occurrences: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *repo) ListOwners(ctx context.Context) ([]engine.OwnerID, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT owner_id FROM series
		UNION
		SELECT owner_id FROM occurrences
		ORDER BY 1
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	defer rows.Close()

	var owners []engine.OwnerID
	for rows.Next() {
		var o engine.OwnerID
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

func (r *repo) queryOccurrences(ctx context.Context, query string, args ...any) ([]engine.Occurrence, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query occurrences: %w", err)
	}
	defer rows.Close()

	var list []engine.Occurrence
	for rows.Next() {
		var (
			o                    engine.Occurrence
			seriesID             sql.NullString
			completedAt          sql.NullString
			createdAt, updatedAt string
		)
		err := rows.Scan(
			&o.ID, &o.Owner, &seriesID, &o.Day,
			&o.Fields.Title, &o.Fields.Description, &o.Fields.Color,
			&o.Completed, &completedAt, &o.Tombstoned, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan occurrence: %w", err)
		}
		o.SeriesID = engine.SeriesID(seriesID.String)
		if completedAt.Valid {
			t := parseTime(completedAt.String)
			o.CompletedAt = &t
		}
		o.CreatedAt = parseTime(createdAt)
		o.UpdatedAt = parseTime(updatedAt)
		list = append(list, o)
	}
	return list, rows.Err()
}

// mapWriteError turns a uniqueness violation on the day indexes into the
// engine's *ConflictError.
func (r *repo) mapWriteError(ctx context.Context, err error, o engine.Occurrence) error {
	if !isUniqueConstraintError(err) || isPrimaryKeyError(err) {
		return fmt.Errorf("failed to write occurrence: %w", err)
	}

	conflict := &engine.ConflictError{Day: o.Day, Err: engine.ErrDuplicateSeriesDay}
	var existing *sql.Row
	if o.IsIndependent() {
		conflict.Err = engine.ErrDuplicateIndependentDay
		existing = r.q.QueryRowContext(ctx,
			`SELECT id FROM occurrences WHERE owner_id = ? AND series_id IS NULL AND day = ?`, o.Owner, o.Day)
	} else {
		existing = r.q.QueryRowContext(ctx,
			`SELECT id FROM occurrences WHERE owner_id = ? AND series_id = ? AND day = ?`, o.Owner, o.SeriesID, o.Day)
	}
	var id engine.OccurrenceID
	if existing.Scan(&id) == nil {
		conflict.ExistingID = id
	}
	return conflict
}

// =============================================================================
// COMPLETION LEDGER (engine.CompletionLedger interface)
// =============================================================================

func (r *repo) SetCompleted(ctx context.Context, owner engine.OwnerID, series engine.SeriesID, day calendar.Day, completed bool) error {
	var err error
	if completed {
		_, err = r.q.ExecContext(ctx, `
			INSERT INTO completions (owner_id, series_id, day, completed_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (owner_id, series_id, day) DO NOTHING
		`, owner, series, day, formatTime(time.Now()))
	} else {
		_, err = r.q.ExecContext(ctx, `
			DELETE FROM completions WHERE owner_id = ? AND series_id = ? AND day = ?
		`, owner, series, day)
	}
	if err != nil {
		return fmt.Errorf("failed to set completion: %w", err)
	}
	return nil
}

func (r *repo) IsCompleted(ctx context.Context, owner engine.OwnerID, series engine.SeriesID, day calendar.Day) (bool, error) {
	var count int
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM completions WHERE owner_id = ? AND series_id = ? AND day = ?
	`, owner, series, day).Scan(&count)
	return count > 0, err
}

func (r *repo) CompletedDays(ctx context.Context, owner engine.OwnerID, series engine.SeriesID, w calendar.Window) (calendar.Set, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT day FROM completions
		WHERE owner_id = ? AND series_id = ? AND day BETWEEN ? AND ?
	`, owner, series, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("failed to query completions: %w", err)
	}
	defer rows.Close()

	set := calendar.NewSet()
	for rows.Next() {
		var d calendar.Day
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		set.Add(d)
	}
	return set, rows.Err()
}

func (r *repo) PurgeCompletions(ctx context.Context, owner engine.OwnerID, series engine.SeriesID) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM completions WHERE owner_id = ? AND series_id = ?`, owner, series)
	if err != nil {
		return fmt.Errorf("failed to purge completions: %w", err)
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDay(d *calendar.Day) any {
	if d == nil {
		return nil
	}
	return *d
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// isPrimaryKeyError reports an id collision, which is not a day conflict.
// SQLite reports TEXT primary keys as UNIQUE violations naming the column.
func isPrimaryKeyError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		strings.HasSuffix(se.Error(), "occurrences.id")
}
