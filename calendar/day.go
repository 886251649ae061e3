/*
Package calendar provides the timezone-less calendar day used everywhere in the engine.

PURPOSE:
  A reminder occupies a whole calendar day, not an instant. Converting between
  local and storage representations of an instant is what makes a day silently
  shift by one, so the engine never compares, stores or keys anything by a
  time.Time with a time-of-day. Day is the single choke point.

KEY CONCEPTS:
  - Day: a (year, month, day) triple in the proleptic Gregorian calendar
  - Window: an inclusive [Start, End] range of days (window.go)

NORMALIZATION:
  - FromTime reads the calendar components as observed in the time's own
    location, so the day the caller saw is the day that is kept.
  - Parse reads "yyyy-mm-dd" literally with no zone shift. RFC 3339 inputs
    are read in the offset they carry.
  - Time re-anchors to UTC midnight for storage.

  Normalizing a Day is the identity: FromTime(d.Time()) == d.

SEE ALSO:
  - window.go: Window type
  - recurrence/rule.go: rules evaluated over Days
*/
package calendar

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// Layout is the canonical string form of a Day.
const Layout = "2006-01-02"

// =============================================================================
// DAY - Calendar day with no time-of-day or zone
// =============================================================================

// Day is comparable with == and usable as a map key.
// The zero value is not a valid day; see IsZero.
type Day struct {
	year  int
	month time.Month
	day   int
}

// New builds a Day, normalizing out-of-range components the way time.Date does
// (e.g. January 32 becomes February 1).
func New(year int, month time.Month, day int) Day {
	return FromTime(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// FromTime extracts the calendar day of t in t's own location.
func FromTime(t time.Time) Day {
	y, m, d := t.Date()
	return Day{year: y, month: m, day: d}
}

// Today returns the current day in the local zone of the process.
func Today() Day {
	return FromTime(time.Now())
}

// Parse accepts "yyyy-mm-dd" (read literally) or an RFC 3339 timestamp
// (read in the offset it carries).
func Parse(s string) (Day, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(Layout, s); err == nil {
		return FromTime(t), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return FromTime(t), nil
	}
	return Day{}, fmt.Errorf("invalid day %q: expected yyyy-mm-dd", s)
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(s string) Day {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Properties
func (d Day) Year() int             { return d.year }
func (d Day) Month() time.Month     { return d.month }
func (d Day) DayOfMonth() int       { return d.day }
func (d Day) Weekday() time.Weekday { return d.Time().Weekday() }
func (d Day) IsZero() bool          { return d == Day{} }

// Time returns UTC midnight of the day. This is the storage anchor.
func (d Day) Time() time.Time {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, time.UTC)
}

// Comparison
func (d Day) Compare(other Day) int {
	switch {
	case d.year != other.year:
		return cmpInt(d.year, other.year)
	case d.month != other.month:
		return cmpInt(int(d.month), int(other.month))
	default:
		return cmpInt(d.day, other.day)
	}
}

func (d Day) Before(other Day) bool        { return d.Compare(other) < 0 }
func (d Day) After(other Day) bool         { return d.Compare(other) > 0 }
func (d Day) BeforeOrEqual(other Day) bool { return d.Compare(other) <= 0 }
func (d Day) AfterOrEqual(other Day) bool  { return d.Compare(other) >= 0 }

// Arithmetic
func (d Day) AddDays(n int) Day { return FromTime(d.Time().AddDate(0, 0, n)) }

// DaysBetween returns the whole-day count to - from (negative when to is earlier).
// UTC has no DST so the hour division is exact.
func DaysBetween(from, to Day) int {
	return int(to.Time().Sub(from.Time()).Hours() / 24)
}

// Min returns the earlier of two days.
func Min(a, b Day) Day {
	if a.Before(b) {
		return a
	}
	return b
}

// Max returns the later of two days.
func Max(a, b Day) Day {
	if a.After(b) {
		return a
	}
	return b
}

func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.year, int(d.month), d.day)
}

// =============================================================================
// ENCODING - text, JSON and database/sql all use "yyyy-mm-dd"
// =============================================================================

func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Day) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Day{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value implements driver.Valuer.
func (d Day) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

// Scan implements sql.Scanner for TEXT and DATETIME columns.
func (d *Day) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Day{}
		return nil
	case string:
		return d.UnmarshalText([]byte(v))
	case []byte:
		return d.UnmarshalText(v)
	case time.Time:
		*d = FromTime(v)
		return nil
	default:
		return fmt.Errorf("calendar: cannot scan %T into Day", src)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
