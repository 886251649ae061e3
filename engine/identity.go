package engine

import (
	"strings"

	"github.com/warp/reminder-engine/calendar"
)

// =============================================================================
// IDENTITY - How callers address an occurrence
// =============================================================================
//
// A stored occurrence is addressed by its row id. A virtual occurrence has no
// row, so it is addressed by (series, day), rendered as
//
//   recurring_<seriesID>_<yyyy-mm-dd>
//
// The day is the last underscore-separated segment, so series ids may contain
// underscores.

const virtualPrefix = "recurring_"

// Identity addresses one occurrence, stored or virtual.
type Identity struct {
	Occurrence OccurrenceID // set for stored occurrences
	Series     SeriesID     // set for virtual occurrences
	Day        calendar.Day // set for virtual occurrences
}

func StoredIdentity(id OccurrenceID) Identity {
	return Identity{Occurrence: id}
}

func VirtualIdentity(series SeriesID, day calendar.Day) Identity {
	return Identity{Series: series, Day: day}
}

// IsVirtual reports whether the identity addresses a generated day.
func (i Identity) IsVirtual() bool { return i.Occurrence == "" }

func (i Identity) String() string {
	if i.IsVirtual() {
		return virtualPrefix + string(i.Series) + "_" + i.Day.String()
	}
	return string(i.Occurrence)
}

func (i Identity) validate() error {
	if i.IsVirtual() && (i.Series == "" || i.Day.IsZero()) {
		return &ValidationError{Field: "id", Message: "must name a stored occurrence or a series day"}
	}
	return nil
}

// ParseIdentity parses the String form of an Identity.
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Identity{}, &ValidationError{Field: "id", Message: "must not be empty"}
	}
	rest, ok := strings.CutPrefix(s, virtualPrefix)
	if !ok {
		return StoredIdentity(OccurrenceID(s)), nil
	}

	sep := strings.LastIndex(rest, "_")
	if sep <= 0 {
		return Identity{}, &ValidationError{Field: "id", Message: "malformed recurring id " + s}
	}
	day, err := calendar.Parse(rest[sep+1:])
	if err != nil {
		return Identity{}, &ValidationError{Field: "id", Message: "malformed recurring id " + s, Err: err}
	}
	return VirtualIdentity(SeriesID(rest[:sep]), day), nil
}

// MarshalText implements encoding.TextMarshaler.
func (i Identity) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *Identity) UnmarshalText(b []byte) error {
	id, err := ParseIdentity(string(b))
	if err != nil {
		return err
	}
	*i = id
	return nil
}
