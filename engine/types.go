/*
Package engine merges recurring series with stored occurrences and applies
scoped mutations to them.

PURPOSE:
  A series is a rule plus an anchor day. Its days are never materialized
  ahead of time; a query expands each series over the requested window and
  overlays whatever the repository stores for those days. The engine is
  stateless: all identity and uniqueness lives in the Repository and the
  CompletionLedger.

KEY CONCEPTS IN THIS FILE (types.go):
  - Series:               a recurring reminder definition
  - Occurrence:           a stored row, either independent or tied to a series
  - EffectiveOccurrence:  one entry of the merged, read-only view

STORED ROWS FOR A SERIES:
  A row with a SeriesID is either an override (shown instead of the
  generated day) or a tombstone (the day is hidden, nothing is shown).

SEE ALSO:
  - merge.go:      Query, the overlay of stored rows on generated days
  - mutate.go:     scoped edits and deletes
  - promote.go:    virtual to stored promotion
  - repository.go: storage contracts
*/
package engine

import (
	"strings"
	"time"

	"github.com/warp/reminder-engine/calendar"
	"github.com/warp/reminder-engine/recurrence"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OwnerID string

type SeriesID string

type OccurrenceID string

// =============================================================================
// FIELDS - Content shared by series and occurrences
// =============================================================================

// Fields is the user-visible content of a reminder.
type Fields struct {
	Title       string
	Description string
	Color       string
}

func (f Fields) normalized(defaultColor string) Fields {
	f.Title = strings.TrimSpace(f.Title)
	f.Description = strings.TrimSpace(f.Description)
	f.Color = strings.TrimSpace(f.Color)
	if f.Color == "" {
		f.Color = defaultColor
	}
	return f
}

func (f Fields) validate() error {
	if f.Title == "" {
		return &ValidationError{Field: "title", Message: "must not be empty"}
	}
	return nil
}

// =============================================================================
// SERIES
// =============================================================================

// Series is a recurring reminder. EndDay is inclusive; nil means the series
// never ends.
type Series struct {
	ID       SeriesID
	Owner    OwnerID
	Fields   Fields
	Rule     recurrence.Rule
	StartDay calendar.Day
	EndDay   *calendar.Day

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy that shares no pointers with s.
func (s Series) Clone() Series {
	if s.EndDay != nil {
		end := *s.EndDay
		s.EndDay = &end
	}
	return s
}

// Covers reports whether day falls inside [StartDay, EndDay].
func (s Series) Covers(day calendar.Day) bool {
	if day.Before(s.StartDay) {
		return false
	}
	return s.EndDay == nil || day.BeforeOrEqual(*s.EndDay)
}

// Matches reports whether day is one of the series' generated days.
func (s Series) Matches(day calendar.Day) bool {
	return s.Covers(day) && recurrence.Matches(day, s.Rule, s.StartDay)
}

// Intersects reports whether any part of the series range falls in w.
func (s Series) Intersects(w calendar.Window) bool {
	return w.Intersects(s.StartDay, s.EndDay)
}

func (s Series) validate() error {
	if err := s.Fields.validate(); err != nil {
		return err
	}
	if err := recurrence.Validate(s.Rule); err != nil {
		return &ValidationError{Field: "rule", Message: err.Error(), Err: err}
	}
	if s.StartDay.IsZero() {
		return &ValidationError{Field: "startDay", Message: "is required"}
	}
	if s.EndDay != nil && s.EndDay.Before(s.StartDay) {
		return &ValidationError{Field: "endDay", Message: "must not be before startDay"}
	}
	return nil
}

// =============================================================================
// OCCURRENCE - A stored row
// =============================================================================

// Occurrence is a persisted occurrence. SeriesID is empty for an independent
// event. Tombstoned only applies to series rows.
type Occurrence struct {
	ID       OccurrenceID
	Owner    OwnerID
	SeriesID SeriesID
	Day      calendar.Day
	Fields   Fields

	Completed   bool
	CompletedAt *time.Time
	Tombstoned  bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsIndependent reports whether the row belongs to no series.
func (o Occurrence) IsIndependent() bool { return o.SeriesID == "" }

func (o Occurrence) effective() EffectiveOccurrence {
	return EffectiveOccurrence{
		ID:          StoredIdentity(o.ID),
		Owner:       o.Owner,
		SeriesID:    o.SeriesID,
		Day:         o.Day,
		Fields:      o.Fields,
		Completed:   o.Completed,
		CompletedAt: o.CompletedAt,
		CreatedAt:   o.CreatedAt,
	}
}

// =============================================================================
// EFFECTIVE OCCURRENCE - The merged view
// =============================================================================

// EffectiveOccurrence is one entry of a query result. It is recomputed on
// every query and never persisted. Generated is true when no stored row
// exists for the day.
type EffectiveOccurrence struct {
	ID          Identity
	Owner       OwnerID
	SeriesID    SeriesID
	Day         calendar.Day
	Fields      Fields
	Completed   bool
	CompletedAt *time.Time
	Generated   bool

	// CreatedAt orders same-day entries. Generated entries use the series'.
	CreatedAt time.Time
}

func virtualOccurrence(s Series, day calendar.Day, completed bool) EffectiveOccurrence {
	return EffectiveOccurrence{
		ID:        VirtualIdentity(s.ID, day),
		Owner:     s.Owner,
		SeriesID:  s.ID,
		Day:       day,
		Fields:    s.Fields,
		Completed: completed,
		Generated: true,
		CreatedAt: s.CreatedAt,
	}
}

// =============================================================================
// SCOPE
// =============================================================================

// Scope is how far an edit or delete on a series occurrence reaches.
type Scope string

const (
	ScopeThis   Scope = "this"
	ScopeFuture Scope = "future"
	ScopeAll    Scope = "all"
)

// ParseScope parses a scope name. The empty string means ScopeAll.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeThis:
		return ScopeThis, nil
	case ScopeFuture:
		return ScopeFuture, nil
	case ScopeAll, "":
		return ScopeAll, nil
	default:
		return "", &ValidationError{Field: "scope", Message: "must be one of this, future, all"}
	}
}
