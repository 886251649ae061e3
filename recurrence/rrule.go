package recurrence

import (
	"fmt"

	"github.com/teambition/rrule-go"
	"github.com/warp/reminder-engine/calendar"
)

// =============================================================================
// RFC 5545 CONVERSION
// =============================================================================
//
//   Daily          -> FREQ=DAILY
//   EveryNDays{n}  -> FREQ=DAILY;INTERVAL=n
//   DaysOfWeek{s}  -> FREQ=WEEKLY;BYDAY=<s>
//
// DTSTART is the anchor at UTC midnight; UNTIL is the inclusive end day.

const untilLayout = "20060102"

// indexed by time.Weekday
var rruleWeekdays = [...]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// Options builds the rrule-go options for a series definition.
func Options(rule Rule, anchor calendar.Day, end *calendar.Day) (rrule.ROption, error) {
	if err := Validate(rule); err != nil {
		return rrule.ROption{}, err
	}
	opt := rrule.ROption{
		Dtstart:  anchor.Time(),
		Interval: 1,
		Wkst:     rrule.MO,
	}
	if end != nil {
		opt.Until = end.Time()
	}

	switch r := rule.(type) {
	case Daily:
		opt.Freq = rrule.DAILY
	case EveryNDays:
		opt.Freq = rrule.DAILY
		opt.Interval = r.Interval
	case DaysOfWeek:
		opt.Freq = rrule.WEEKLY
		for _, wd := range r.Days() {
			opt.Byweekday = append(opt.Byweekday, rruleWeekdays[wd])
		}
	default:
		return rrule.ROption{}, fmt.Errorf("%w: unsupported kind %T", ErrInvalidRule, rule)
	}
	return opt, nil
}

// ToRRule builds an rrule-go rule for a series definition.
func ToRRule(rule Rule, anchor calendar.Day, end *calendar.Day) (*rrule.RRule, error) {
	opt, err := Options(rule, anchor, end)
	if err != nil {
		return nil, err
	}
	return rrule.NewRRule(opt)
}

// RRuleString returns the RRULE property value (without DTSTART) for an
// all-day DTSTART. UNTIL is written as a DATE to match it.
func RRuleString(rule Rule, anchor calendar.Day, end *calendar.Day) (string, error) {
	opt, err := Options(rule, anchor, nil)
	if err != nil {
		return "", err
	}
	s := opt.RRuleString()
	if end != nil {
		s += ";UNTIL=" + end.Time().Format(untilLayout)
	}
	return s, nil
}

// FirstDay returns the first day a series with this rule and anchor
// generates. It differs from the anchor only for DaysOfWeek.
func FirstDay(rule Rule, anchor calendar.Day) (calendar.Day, bool) {
	return Next(rule, anchor, anchor.AddDays(-1))
}
