package recurrence

import (
	"github.com/warp/reminder-engine/calendar"
)

// =============================================================================
// MATCHING
// =============================================================================

// Matches reports whether day belongs to a series with the given rule and anchor.
// Days before the anchor never match.
func Matches(day calendar.Day, rule Rule, anchor calendar.Day) bool {
	if day.Before(anchor) {
		return false
	}
	switch r := rule.(type) {
	case Daily:
		return true
	case EveryNDays:
		return calendar.DaysBetween(anchor, day)%r.Interval == 0
	case DaysOfWeek:
		return r.Has(day.Weekday())
	default:
		return false
	}
}

// =============================================================================
// EXPANSION - Bounded by the window, never by a count
// =============================================================================

// Expand returns the matching days in [max(anchor, w.Start), min(end, w.End)]
// in ascending order. A nil end means the series never ends.
func Expand(rule Rule, anchor calendar.Day, end *calendar.Day, w calendar.Window) []calendar.Day {
	span, ok := w.Clamp(anchor, end)
	if !ok || Validate(rule) != nil {
		return nil
	}

	var days []calendar.Day
	switch r := rule.(type) {
	case Daily:
		days = make([]calendar.Day, 0, span.Len())
		for d := span.Start; d.BeforeOrEqual(span.End); d = d.AddDays(1) {
			days = append(days, d)
		}
	case EveryNDays:
		first := alignForward(anchor, span.Start, r.Interval)
		for d := first; d.BeforeOrEqual(span.End); d = d.AddDays(r.Interval) {
			days = append(days, d)
		}
	case DaysOfWeek:
		for d := span.Start; d.BeforeOrEqual(span.End); d = d.AddDays(1) {
			if r.Has(d.Weekday()) {
				days = append(days, d)
			}
		}
	}
	return days
}

// Next returns the first matching day strictly after `after`. The boolean is
// false only for an invalid rule.
func Next(rule Rule, anchor, after calendar.Day) (calendar.Day, bool) {
	if Validate(rule) != nil {
		return calendar.Day{}, false
	}
	if after.Before(anchor) {
		if Matches(anchor, rule, anchor) {
			return anchor, true
		}
		after = anchor
	}
	from := after.AddDays(1)

	switch r := rule.(type) {
	case Daily:
		return from, true
	case EveryNDays:
		return alignForward(anchor, from, r.Interval), true
	case DaysOfWeek:
		for i := 0; i < 7; i++ {
			d := from.AddDays(i)
			if r.Has(d.Weekday()) {
				return d, true
			}
		}
	}
	return calendar.Day{}, false
}

// alignForward returns the first day >= from that is a whole number of
// intervals after anchor. from must not be before anchor.
func alignForward(anchor, from calendar.Day, interval int) calendar.Day {
	offset := calendar.DaysBetween(anchor, from)
	if rem := offset % interval; rem != 0 {
		return from.AddDays(interval - rem)
	}
	return from
}
