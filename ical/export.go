/*
Package ical renders an owner's reminders as an RFC 5545 calendar.

PURPOSE:
  Series become one recurring all-day VEVENT each (RRULE from the rule,
  EXDATE for tombstoned days). Stored overrides become VEVENTs carrying a
  RECURRENCE-ID, and independent events are plain all-day VEVENTs.

  Completion is not exported; calendar clients have no portable notion of
  a done occurrence.

SEE ALSO:
  - recurrence/rrule.go: RRULE conversion
  - engine/repository.go: data source
*/
package ical

import (
	"context"
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/warp/reminder-engine/calendar"
	"github.com/warp/reminder-engine/engine"
	"github.com/warp/reminder-engine/recurrence"
)

// ProductID identifies the generator in PRODID.
const ProductID = "-//reminder-engine//EN"

const dateLayout = "20060102"

var (
	propRecurrenceID = ics.ComponentProperty("RECURRENCE-ID")
	propColor        = ics.ComponentProperty("COLOR")
)

// Source is the read side of engine.Repository needed for export.
type Source interface {
	ListSeries(ctx context.Context, owner engine.OwnerID) ([]engine.Series, error)
	FindSeriesOccurrences(ctx context.Context, owner engine.OwnerID, series []engine.SeriesID, w calendar.Window) ([]engine.Occurrence, error)
	FindIndependentOccurrences(ctx context.Context, owner engine.OwnerID, w calendar.Window) ([]engine.Occurrence, error)
}

// Export builds the calendar for owner. Stored rows are read within w; the
// series themselves are exported whole.
func Export(ctx context.Context, src Source, owner engine.OwnerID, w calendar.Window) (*ics.Calendar, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	series, err := src.ListSeries(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	ids := make([]engine.SeriesID, len(series))
	for i, s := range series {
		ids[i] = s.ID
	}
	rows, err := src.FindSeriesOccurrences(ctx, owner, ids, w)
	if err != nil {
		return nil, fmt.Errorf("find series occurrences: %w", err)
	}
	independent, err := src.FindIndependentOccurrences(ctx, owner, w)
	if err != nil {
		return nil, fmt.Errorf("find independent occurrences: %w", err)
	}

	bySeries := make(map[engine.SeriesID][]engine.Occurrence, len(series))
	for _, o := range rows {
		bySeries[o.SeriesID] = append(bySeries[o.SeriesID], o)
	}

	cal := ics.NewCalendar()
	cal.SetProductId(ProductID)
	cal.SetMethod(ics.MethodPublish)
	cal.SetXWRCalName(fmt.Sprintf("Reminders for %s", owner))

	for _, s := range series {
		if err := addSeries(cal, s, bySeries[s.ID]); err != nil {
			return nil, err
		}
	}
	for _, o := range independent {
		if o.Tombstoned {
			continue
		}
		ev := cal.AddEvent(occurrenceUID(o.ID))
		setCommon(ev, o.Fields, o.Day, o.CreatedAt, o.UpdatedAt)
	}
	return cal, nil
}

// addSeries writes the master event. DTSTART is the first generated day,
// which for DaysOfWeek may lie after the start day; a series that generates
// nothing is skipped.
func addSeries(cal *ics.Calendar, s engine.Series, rows []engine.Occurrence) error {
	first, ok := recurrence.FirstDay(s.Rule, s.StartDay)
	if !ok {
		return fmt.Errorf("series %s: %w", s.ID, recurrence.ErrInvalidRule)
	}
	if s.EndDay != nil && first.After(*s.EndDay) {
		return nil
	}
	rrule, err := recurrence.RRuleString(s.Rule, first, s.EndDay)
	if err != nil {
		return fmt.Errorf("series %s: %w", s.ID, err)
	}

	master := cal.AddEvent(seriesUID(s.ID))
	setCommon(master, s.Fields, first, s.CreatedAt, s.UpdatedAt)
	master.AddProperty(ics.ComponentPropertyRrule, rrule)

	for _, o := range rows {
		if o.Tombstoned {
			master.AddProperty(ics.ComponentPropertyExdate, formatDate(o.Day), ics.WithValue(string(ics.ValueDataTypeDate)))
			continue
		}
		if o.Fields == s.Fields {
			// promoted only for completion, nothing to override
			continue
		}
		ev := cal.AddEvent(seriesUID(s.ID))
		setCommon(ev, o.Fields, o.Day, o.CreatedAt, o.UpdatedAt)
		ev.SetProperty(propRecurrenceID, formatDate(o.Day), ics.WithValue(string(ics.ValueDataTypeDate)))
	}
	return nil
}

func setCommon(ev *ics.VEvent, f engine.Fields, d calendar.Day, created, updated time.Time) {
	ev.SetSummary(f.Title)
	if f.Description != "" {
		ev.SetDescription(f.Description)
	}
	if f.Color != "" {
		ev.SetProperty(propColor, f.Color)
	}
	ev.SetAllDayStartAt(d.Time())
	ev.SetAllDayEndAt(d.AddDays(1).Time())
	if !created.IsZero() {
		ev.SetCreatedTime(created)
		ev.SetDtStampTime(created)
	}
	if !updated.IsZero() {
		ev.SetModifiedAt(updated)
	}
}

func seriesUID(id engine.SeriesID) string {
	return fmt.Sprintf("series-%s@reminder-engine", id)
}

func occurrenceUID(id engine.OccurrenceID) string {
	return fmt.Sprintf("event-%s@reminder-engine", id)
}

func formatDate(d calendar.Day) string {
	return d.Time().Format(dateLayout)
}
