package recurrence

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// CODEC - Wire/storage form of a rule
// =============================================================================
//
// JSON SCHEMA:
//   {"type": "daily"}
//   {"type": "everyXDays", "interval": 3}
//   {"type": "daysOfWeek", "days": [1, 3, 5]}      // 0 = Sunday
//
// Fields that do not belong to the type are ignored on decode and omitted
// on encode.

// Spec is the tagged-union wire form of a Rule.
type Spec struct {
	Type     Kind  `json:"type"`
	Interval int   `json:"interval,omitempty"`
	Days     []int `json:"days,omitempty"`
}

// Encode converts a rule into its wire form.
func Encode(r Rule) Spec {
	switch v := r.(type) {
	case Daily:
		return Spec{Type: KindDaily}
	case EveryNDays:
		return Spec{Type: KindEveryNDays, Interval: v.Interval}
	case DaysOfWeek:
		days := v.Days()
		out := make([]int, len(days))
		for i, wd := range days {
			out[i] = int(wd)
		}
		return Spec{Type: KindDaysOfWeek, Days: out}
	default:
		return Spec{}
	}
}

// Decode validates a wire form and builds the rule.
func Decode(s Spec) (Rule, error) {
	switch s.Type {
	case KindDaily:
		return Daily{}, nil
	case KindEveryNDays:
		return NewEveryNDays(s.Interval)
	case KindDaysOfWeek:
		if len(s.Days) == 0 {
			return nil, fmt.Errorf("%w: days of week must not be empty", ErrInvalidRule)
		}
		wds := make([]time.Weekday, len(s.Days))
		for i, d := range s.Days {
			wds[i] = time.Weekday(d)
		}
		return NewDaysOfWeek(wds...)
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrInvalidRule)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidRule, s.Type)
	}
}

// Marshal returns the JSON encoding of a rule.
func Marshal(r Rule) ([]byte, error) {
	if err := Validate(r); err != nil {
		return nil, err
	}
	return json.Marshal(Encode(r))
}

// Unmarshal parses and validates the JSON encoding of a rule.
func Unmarshal(data []byte) (Rule, error) {
	var s Spec
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return Decode(s)
}
