/*
Package recurrence evaluates recurrence rules over calendar days.

PURPOSE:
  A series stores a rule and an anchor day instead of materialized rows.
  This package answers two questions about such a definition:
  - Matches: does a given day belong to the series?
  - Expand: which days of a window belong to the series?

RULES:
  The rule set is closed. Rule is a sealed interface, and Matches, Expand and
  Next switch over the concrete kinds:
  - Daily:        every day on or after the anchor
  - EveryNDays:   anchor, anchor+N, anchor+2N, ...
  - DaysOfWeek:   every day on or after the anchor whose weekday is in the set

VALIDATION:
  Invalid configuration (interval < 1, empty or out-of-range weekday set) is
  rejected when a rule is constructed or decoded. The evaluation functions
  assume a valid rule.

BOUNDEDNESS:
  Expand never walks past the window it is given, so indefinitely repeating
  series cost nothing beyond the days actually requested.

SEE ALSO:
  - expand.go: Matches, Expand, Next
  - codec.go:  JSON form stored in the database and exchanged over HTTP
  - rrule.go:  RFC 5545 conversion for iCalendar export
*/
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRule is the sentinel wrapped by every rule validation failure.
var ErrInvalidRule = errors.New("invalid recurrence rule")

// Kind names a rule variant. The string values are the wire names.
type Kind string

const (
	KindDaily      Kind = "daily"
	KindEveryNDays Kind = "everyXDays"
	KindDaysOfWeek Kind = "daysOfWeek"
)

// =============================================================================
// RULE - Sealed sum type
// =============================================================================

// Rule is implemented only by Daily, EveryNDays and DaysOfWeek.
type Rule interface {
	Kind() Kind
	Validate() error
	String() string
	sealed()
}

// Daily matches every day on or after the anchor.
type Daily struct{}

func (Daily) Kind() Kind      { return KindDaily }
func (Daily) Validate() error { return nil }
func (Daily) String() string  { return "daily" }
func (Daily) sealed()         {}

// EveryNDays matches every Interval-th day counted from the anchor.
type EveryNDays struct {
	Interval int
}

// NewEveryNDays validates the interval.
func NewEveryNDays(interval int) (EveryNDays, error) {
	r := EveryNDays{Interval: interval}
	return r, r.Validate()
}

func (r EveryNDays) Kind() Kind { return KindEveryNDays }

func (r EveryNDays) Validate() error {
	if r.Interval < 1 {
		return fmt.Errorf("%w: interval must be >= 1, got %d", ErrInvalidRule, r.Interval)
	}
	return nil
}

func (r EveryNDays) String() string {
	if r.Interval == 1 {
		return "every day"
	}
	return fmt.Sprintf("every %d days", r.Interval)
}

func (EveryNDays) sealed() {}

// DaysOfWeek matches a fixed set of weekdays. Build it with NewDaysOfWeek;
// the zero value is the empty set and fails validation.
type DaysOfWeek struct {
	mask uint8
}

// NewDaysOfWeek validates that at least one weekday in 0..6 is given.
// Duplicates are ignored.
func NewDaysOfWeek(days ...time.Weekday) (DaysOfWeek, error) {
	var r DaysOfWeek
	for _, wd := range days {
		if wd < time.Sunday || wd > time.Saturday {
			return DaysOfWeek{}, fmt.Errorf("%w: weekday %d out of range 0..6", ErrInvalidRule, int(wd))
		}
		r.mask |= 1 << uint(wd)
	}
	return r, r.Validate()
}

func (r DaysOfWeek) Kind() Kind { return KindDaysOfWeek }

func (r DaysOfWeek) Validate() error {
	if r.mask == 0 {
		return fmt.Errorf("%w: days of week must not be empty", ErrInvalidRule)
	}
	return nil
}

// Has reports whether wd is in the set.
func (r DaysOfWeek) Has(wd time.Weekday) bool {
	return r.mask&(1<<uint(wd)) != 0
}

// Days returns the set in ascending order (Sunday first).
func (r DaysOfWeek) Days() []time.Weekday {
	var out []time.Weekday
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if r.Has(wd) {
			out = append(out, wd)
		}
	}
	return out
}

func (r DaysOfWeek) String() string {
	days := r.Days()
	names := make([]string, len(days))
	for i, wd := range days {
		names[i] = wd.String()[:3]
	}
	return "weekly on " + strings.Join(names, ",")
}

func (DaysOfWeek) sealed() {}

// Validate checks a rule that may be nil.
func Validate(r Rule) error {
	if r == nil {
		return fmt.Errorf("%w: missing rule", ErrInvalidRule)
	}
	return r.Validate()
}
