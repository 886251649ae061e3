package calendar

import "sort"

// Set is an unordered set of days.
type Set map[Day]struct{}

func NewSet(days ...Day) Set {
	s := make(Set, len(days))
	for _, d := range days {
		s[d] = struct{}{}
	}
	return s
}

func (s Set) Has(d Day) bool {
	_, ok := s[d]
	return ok
}

// Add inserts d. Adding a present day is a no-op.
func (s Set) Add(d Day) { s[d] = struct{}{} }

// Remove deletes d. Removing an absent day is a no-op.
func (s Set) Remove(d Day) { delete(s, d) }

// Clone returns an independent copy.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for d := range s {
		out[d] = struct{}{}
	}
	return out
}

// Sorted returns the members in ascending order.
func (s Set) Sorted() []Day {
	out := make([]Day, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Within returns the members contained in w.
func (s Set) Within(w Window) Set {
	out := make(Set)
	for d := range s {
		if w.Contains(d) {
			out[d] = struct{}{}
		}
	}
	return out
}
