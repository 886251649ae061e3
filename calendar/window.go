package calendar

import (
	"errors"
	"fmt"
)

// ErrInvalidWindow is returned when a window ends before it starts.
var ErrInvalidWindow = errors.New("invalid window: end before start")

// =============================================================================
// WINDOW - Inclusive range of days used for queries and expansion
// =============================================================================

// Window is the inclusive range [Start, End].
type Window struct {
	Start Day
	End   Day
}

// NewWindow validates and builds a window.
func NewWindow(start, end Day) (Window, error) {
	w := Window{Start: start, End: end}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// Validate rejects zero bounds and reversed ranges.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("%w: missing bound", ErrInvalidWindow)
	}
	if w.End.Before(w.Start) {
		return fmt.Errorf("%w: %s", ErrInvalidWindow, w)
	}
	return nil
}

// Contains returns true if d is within [Start, End].
func (w Window) Contains(d Day) bool {
	return d.AfterOrEqual(w.Start) && d.BeforeOrEqual(w.End)
}

// Len returns the number of days in the window.
func (w Window) Len() int {
	return DaysBetween(w.Start, w.End) + 1
}

// Intersects reports whether [start, end] overlaps the window.
// A nil end means the range is unbounded.
func (w Window) Intersects(start Day, end *Day) bool {
	if start.After(w.End) {
		return false
	}
	return end == nil || !end.Before(w.Start)
}

// Clamp narrows the window to [start, end]. The boolean is false when the
// result would be empty.
func (w Window) Clamp(start Day, end *Day) (Window, bool) {
	lo := Max(w.Start, start)
	hi := w.End
	if end != nil {
		hi = Min(hi, *end)
	}
	if hi.Before(lo) {
		return Window{}, false
	}
	return Window{Start: lo, End: hi}, true
}

// Days returns all days in the window, ascending.
func (w Window) Days() []Day {
	var days []Day
	for current := w.Start; current.BeforeOrEqual(w.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

func (w Window) String() string {
	return "[" + w.Start.String() + ", " + w.End.String() + "]"
}
