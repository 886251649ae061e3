// Package store provides in-memory Repository and CompletionLedger
// implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/mo"
	"github.com/warp/reminder-engine/calendar"
	"github.com/warp/reminder-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements engine.TxRepository and engine.CompletionLedger.
type Memory struct {
	mu sync.RWMutex
	st state
}

type seriesDayKey struct {
	Owner  engine.OwnerID
	Series engine.SeriesID
	Day    calendar.Day
}

type ownerDayKey struct {
	Owner engine.OwnerID
	Day   calendar.Day
}

type ledgerKey struct {
	Owner  engine.OwnerID
	Series engine.SeriesID
}

// state holds the data. Its methods assume the caller holds the lock.
type state struct {
	series         map[engine.SeriesID]engine.Series
	occurrences    map[engine.OccurrenceID]engine.Occurrence
	seriesDay      map[seriesDayKey]engine.OccurrenceID
	independentDay map[ownerDayKey]engine.OccurrenceID
	completions    map[ledgerKey]calendar.Set
}

func newState() state {
	return state{
		series:         make(map[engine.SeriesID]engine.Series),
		occurrences:    make(map[engine.OccurrenceID]engine.Occurrence),
		seriesDay:      make(map[seriesDayKey]engine.OccurrenceID),
		independentDay: make(map[ownerDayKey]engine.OccurrenceID),
		completions:    make(map[ledgerKey]calendar.Set),
	}
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

var (
	_ engine.TxRepository     = (*Memory)(nil)
	_ engine.CompletionLedger = (*Memory)(nil)
)

// =============================================================================
// SERIES
// =============================================================================

func (s *state) createSeries(sr engine.Series) error {
	if _, ok := s.series[sr.ID]; ok {
		return &engine.ValidationError{Field: "id", Message: "series already exists"}
	}
	s.series[sr.ID] = sr.Clone()
	return nil
}

func (s *state) getSeries(owner engine.OwnerID, id engine.SeriesID) (engine.Series, error) {
	sr, ok := s.series[id]
	if !ok || sr.Owner != owner {
		return engine.Series{}, engine.ErrSeriesNotFound
	}
	return sr.Clone(), nil
}

func (s *state) listSeries(owner engine.OwnerID, keep func(engine.Series) bool) []engine.Series {
	var out []engine.Series
	for _, sr := range s.series {
		if sr.Owner == owner && keep(sr) {
			out = append(out, sr.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) updateSeries(sr engine.Series) error {
	cur, ok := s.series[sr.ID]
	if !ok || cur.Owner != sr.Owner {
		return engine.ErrSeriesNotFound
	}
	s.series[sr.ID] = sr.Clone()
	return nil
}

func (s *state) deleteSeries(owner engine.OwnerID, id engine.SeriesID) error {
	cur, ok := s.series[id]
	if !ok || cur.Owner != owner {
		return engine.ErrSeriesNotFound
	}
	delete(s.series, id)
	return nil
}

// =============================================================================
// OCCURRENCES
// =============================================================================

// claim reserves the uniqueness slot of o, or reports who holds it.
func (s *state) claim(o engine.Occurrence) error {
	if o.IsIndependent() {
		k := ownerDayKey{Owner: o.Owner, Day: o.Day}
		if holder, ok := s.independentDay[k]; ok && holder != o.ID {
			return &engine.ConflictError{Day: o.Day, ExistingID: holder, Err: engine.ErrDuplicateIndependentDay}
		}
		s.independentDay[k] = o.ID
		return nil
	}
	k := seriesDayKey{Owner: o.Owner, Series: o.SeriesID, Day: o.Day}
	if holder, ok := s.seriesDay[k]; ok && holder != o.ID {
		return &engine.ConflictError{Day: o.Day, ExistingID: holder, Err: engine.ErrDuplicateSeriesDay}
	}
	s.seriesDay[k] = o.ID
	return nil
}

func (s *state) release(o engine.Occurrence) {
	if o.IsIndependent() {
		delete(s.independentDay, ownerDayKey{Owner: o.Owner, Day: o.Day})
		return
	}
	delete(s.seriesDay, seriesDayKey{Owner: o.Owner, Series: o.SeriesID, Day: o.Day})
}

func (s *state) insertOccurrence(o engine.Occurrence) error {
	if _, ok := s.occurrences[o.ID]; ok {
		return &engine.ValidationError{Field: "id", Message: "occurrence already exists"}
	}
	if err := s.claim(o); err != nil {
		return err
	}
	s.occurrences[o.ID] = o
	return nil
}

func (s *state) updateOccurrence(o engine.Occurrence) error {
	cur, ok := s.occurrences[o.ID]
	if !ok || cur.Owner != o.Owner {
		return engine.ErrOccurrenceNotFound
	}
	if cur.Day != o.Day || cur.SeriesID != o.SeriesID {
		if err := s.claim(o); err != nil {
			return err
		}
		s.release(cur)
	}
	s.occurrences[o.ID] = o
	return nil
}

func (s *state) getOccurrence(owner engine.OwnerID, id engine.OccurrenceID) (engine.Occurrence, error) {
	o, ok := s.occurrences[id]
	if !ok || o.Owner != owner {
		return engine.Occurrence{}, engine.ErrOccurrenceNotFound
	}
	return o, nil
}

func (s *state) findSeriesOccurrence(owner engine.OwnerID, series engine.SeriesID, day calendar.Day) mo.Option[engine.Occurrence] {
	id, ok := s.seriesDay[seriesDayKey{Owner: owner, Series: series, Day: day}]
	if !ok {
		return mo.None[engine.Occurrence]()
	}
	return mo.Some(s.occurrences[id])
}

func (s *state) findOccurrences(keep func(engine.Occurrence) bool) []engine.Occurrence {
	var out []engine.Occurrence
	for _, o := range s.occurrences {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Day.Compare(out[j].Day); c != 0 {
			return c < 0
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) deleteOccurrences(f engine.OccurrenceFilter) (int, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	n := 0
	for id, o := range s.occurrences {
		if f.Match(o) {
			s.release(o)
			delete(s.occurrences, id)
			n++
		}
	}
	return n, nil
}

func (s *state) listOwners() []engine.OwnerID {
	seen := make(map[engine.OwnerID]bool)
	var out []engine.OwnerID
	add := func(o engine.OwnerID) {
		if !seen[o] {
			seen[o] = true
			out = append(out, o)
		}
	}
	for _, sr := range s.series {
		add(sr.Owner)
	}
	for _, o := range s.occurrences {
		add(o.Owner)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// =============================================================================
// COMPLETION LEDGER
// =============================================================================

func (s *state) setCompleted(owner engine.OwnerID, series engine.SeriesID, day calendar.Day, completed bool) {
	k := ledgerKey{Owner: owner, Series: series}
	set, ok := s.completions[k]
	if completed {
		if !ok {
			set = calendar.NewSet()
			s.completions[k] = set
		}
		set.Add(day)
		return
	}
	if ok {
		set.Remove(day)
	}
}

func (s *state) isCompleted(owner engine.OwnerID, series engine.SeriesID, day calendar.Day) bool {
	return s.completions[ledgerKey{Owner: owner, Series: series}].Has(day)
}

func (s *state) completedDays(owner engine.OwnerID, series engine.SeriesID, w calendar.Window) calendar.Set {
	return s.completions[ledgerKey{Owner: owner, Series: series}].Within(w)
}

func (s *state) purgeCompletions(owner engine.OwnerID, series engine.SeriesID) {
	delete(s.completions, ledgerKey{Owner: owner, Series: series})
}

func (s *state) clone() state {
	c := newState()
	for k, v := range s.series {
		c.series[k] = v.Clone()
	}
	for k, v := range s.occurrences {
		c.occurrences[k] = v
	}
	for k, v := range s.seriesDay {
		c.seriesDay[k] = v
	}
	for k, v := range s.independentDay {
		c.independentDay[k] = v
	}
	for k, v := range s.completions {
		c.completions[k] = v.Clone()
	}
	return c
}

// =============================================================================
// LOCKED ACCESS - engine.Repository and engine.CompletionLedger on Memory
// =============================================================================

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

func (m *Memory) CreateSeries(_ context.Context, sr engine.Series) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createSeries(sr)
}

func (m *Memory) GetSeries(_ context.Context, owner engine.OwnerID, id engine.SeriesID) (engine.Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getSeries(owner, id)
}

func (m *Memory) ListSeries(_ context.Context, owner engine.OwnerID) ([]engine.Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listSeries(owner, func(engine.Series) bool { return true }), nil
}

func (m *Memory) FindSeries(_ context.Context, owner engine.OwnerID, w calendar.Window) ([]engine.Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listSeries(owner, func(sr engine.Series) bool { return sr.Intersects(w) }), nil
}

func (m *Memory) UpdateSeries(_ context.Context, sr engine.Series) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.updateSeries(sr)
}

func (m *Memory) DeleteSeries(_ context.Context, owner engine.OwnerID, id engine.SeriesID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.deleteSeries(owner, id)
}

func (m *Memory) InsertOccurrence(_ context.Context, o engine.Occurrence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.insertOccurrence(o)
}

func (m *Memory) UpdateOccurrence(_ context.Context, o engine.Occurrence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.updateOccurrence(o)
}

func (m *Memory) GetOccurrence(_ context.Context, owner engine.OwnerID, id engine.OccurrenceID) (engine.Occurrence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getOccurrence(owner, id)
}

func (m *Memory) FindSeriesOccurrence(_ context.Context, owner engine.OwnerID, series engine.SeriesID, day calendar.Day) (mo.Option[engine.Occurrence], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.findSeriesOccurrence(owner, series, day), nil
}

func (m *Memory) FindIndependentOccurrences(_ context.Context, owner engine.OwnerID, w calendar.Window) ([]engine.Occurrence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.findOccurrences(independentIn(owner, w)), nil
}

func (m *Memory) FindSeriesOccurrences(_ context.Context, owner engine.OwnerID, series []engine.SeriesID, w calendar.Window) ([]engine.Occurrence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.findOccurrences(seriesIn(owner, series, w)), nil
}

func (m *Memory) DeleteOccurrences(_ context.Context, f engine.OccurrenceFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.deleteOccurrences(f)
}

func (m *Memory) ListOwners(_ context.Context) ([]engine.OwnerID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listOwners(), nil
}

func (m *Memory) SetCompleted(_ context.Context, owner engine.OwnerID, series engine.SeriesID, day calendar.Day, completed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.setCompleted(owner, series, day, completed)
	return nil
}

func (m *Memory) IsCompleted(_ context.Context, owner engine.OwnerID, series engine.SeriesID, day calendar.Day) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.isCompleted(owner, series, day), nil
}

func (m *Memory) CompletedDays(_ context.Context, owner engine.OwnerID, series engine.SeriesID, w calendar.Window) (calendar.Set, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.completedDays(owner, series, w), nil
}

func (m *Memory) PurgeCompletions(_ context.Context, owner engine.OwnerID, series engine.SeriesID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.purgeCompletions(owner, series)
	return nil
}

func independentIn(owner engine.OwnerID, w calendar.Window) func(engine.Occurrence) bool {
	return func(o engine.Occurrence) bool {
		return o.Owner == owner && o.IsIndependent() && w.Contains(o.Day)
	}
}

func seriesIn(owner engine.OwnerID, series []engine.SeriesID, w calendar.Window) func(engine.Occurrence) bool {
	want := make(map[engine.SeriesID]bool, len(series))
	for _, id := range series {
		want[id] = true
	}
	return func(o engine.Occurrence) bool {
		return o.Owner == owner && want[o.SeriesID] && w.Contains(o.Day)
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so transactions serialize.
func (m *Memory) WithTx(_ context.Context, fn func(engine.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&txView{st: &m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// txView accesses the state of a Memory whose lock is already held.
type txView struct {
	st *state
}

func (tv *txView) CreateSeries(_ context.Context, sr engine.Series) error {
	return tv.st.createSeries(sr)
}

func (tv *txView) GetSeries(_ context.Context, owner engine.OwnerID, id engine.SeriesID) (engine.Series, error) {
	return tv.st.getSeries(owner, id)
}

func (tv *txView) ListSeries(_ context.Context, owner engine.OwnerID) ([]engine.Series, error) {
	return tv.st.listSeries(owner, func(engine.Series) bool { return true }), nil
}

func (tv *txView) FindSeries(_ context.Context, owner engine.OwnerID, w calendar.Window) ([]engine.Series, error) {
	return tv.st.listSeries(owner, func(sr engine.Series) bool { return sr.Intersects(w) }), nil
}

func (tv *txView) UpdateSeries(_ context.Context, sr engine.Series) error {
	return tv.st.updateSeries(sr)
}

func (tv *txView) DeleteSeries(_ context.Context, owner engine.OwnerID, id engine.SeriesID) error {
	return tv.st.deleteSeries(owner, id)
}

func (tv *txView) InsertOccurrence(_ context.Context, o engine.Occurrence) error {
	return tv.st.insertOccurrence(o)
}

func (tv *txView) UpdateOccurrence(_ context.Context, o engine.Occurrence) error {
	return tv.st.updateOccurrence(o)
}

func (tv *txView) GetOccurrence(_ context.Context, owner engine.OwnerID, id engine.OccurrenceID) (engine.Occurrence, error) {
	return tv.st.getOccurrence(owner, id)
}

func (tv *txView) FindSeriesOccurrence(_ context.Context, owner engine.OwnerID, series engine.SeriesID, day calendar.Day) (mo.Option[engine.Occurrence], error) {
	return tv.st.findSeriesOccurrence(owner, series, day), nil
}

func (tv *txView) FindIndependentOccurrences(_ context.Context, owner engine.OwnerID, w calendar.Window) ([]engine.Occurrence, error) {
	return tv.st.findOccurrences(independentIn(owner, w)), nil
}

func (tv *txView) FindSeriesOccurrences(_ context.Context, owner engine.OwnerID, series []engine.SeriesID, w calendar.Window) ([]engine.Occurrence, error) {
	return tv.st.findOccurrences(seriesIn(owner, series, w)), nil
}

func (tv *txView) DeleteOccurrences(_ context.Context, f engine.OccurrenceFilter) (int, error) {
	return tv.st.deleteOccurrences(f)
}

func (tv *txView) ListOwners(_ context.Context) ([]engine.OwnerID, error) {
	return tv.st.listOwners(), nil
}

func (tv *txView) SetCompleted(_ context.Context, owner engine.OwnerID, series engine.SeriesID, day calendar.Day, completed bool) error {
	tv.st.setCompleted(owner, series, day, completed)
	return nil
}

func (tv *txView) IsCompleted(_ context.Context, owner engine.OwnerID, series engine.SeriesID, day calendar.Day) (bool, error) {
	return tv.st.isCompleted(owner, series, day), nil
}

func (tv *txView) CompletedDays(_ context.Context, owner engine.OwnerID, series engine.SeriesID, w calendar.Window) (calendar.Set, error) {
	return tv.st.completedDays(owner, series, w), nil
}

func (tv *txView) PurgeCompletions(_ context.Context, owner engine.OwnerID, series engine.SeriesID) error {
	tv.st.purgeCompletions(owner, series)
	return nil
}
