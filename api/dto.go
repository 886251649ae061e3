/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DAYS:
  Every day field is a "yyyy-mm-dd" string. Occurrence ids are either a
  stored row id or "recurring_<seriesID>_<yyyy-mm-dd>" for generated days.

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/samber/mo"
	"github.com/warp/reminder-engine/calendar"
	"github.com/warp/reminder-engine/engine"
	"github.com/warp/reminder-engine/recurrence"
)

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// OccurrenceDTO is one entry of the merged view.
type OccurrenceDTO struct {
	ID          string     `json:"id"`
	SeriesID    string     `json:"series_id,omitempty"`
	Day         string     `json:"day"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Color       string     `json:"color"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Recurring   bool       `json:"recurring"`
	Generated   bool       `json:"generated"`
}

// SeriesDTO is a recurring definition.
type SeriesDTO struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Color       string          `json:"color"`
	Rule        recurrence.Spec `json:"rule"`
	RuleText    string          `json:"rule_text"`
	StartDay    string          `json:"start_day"`
	EndDay      *string         `json:"end_day,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

// MutationDTO is returned by edits. Exactly the affected parts are set.
type MutationDTO struct {
	Occurrence *OccurrenceDTO `json:"occurrence,omitempty"`
	Series     *SeriesDTO     `json:"series,omitempty"`
}

// DueRemindersDTO lists today's pending occurrences for one owner.
type DueRemindersDTO struct {
	Day     string          `json:"day"`
	Pending []OccurrenceDTO `json:"pending"`
}

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateOccurrenceRequest creates an independent event. With a Rule it
// creates a series instead, starting on Day.
type CreateOccurrenceRequest struct {
	Day         string           `json:"day"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Color       string           `json:"color"`
	Rule        *recurrence.Spec `json:"rule,omitempty"`
	EndDay      *string          `json:"end_day,omitempty"`
}

// CreateSeriesRequest creates a recurring definition.
type CreateSeriesRequest struct {
	Rule        recurrence.Spec `json:"rule"`
	StartDay    string          `json:"start_day"`
	EndDay      *string         `json:"end_day,omitempty"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Color       string          `json:"color"`
}

// EditOccurrenceRequest is a partial update. Absent fields are untouched.
type EditOccurrenceRequest struct {
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	Color       *string          `json:"color,omitempty"`
	Day         *string          `json:"day,omitempty"`
	Rule        *recurrence.Spec `json:"rule,omitempty"`
	StartDay    *string          `json:"start_day,omitempty"`
	EndDay      *string          `json:"end_day,omitempty"`
	ClearEndDay bool             `json:"clear_end_day,omitempty"`
}

// ToggleCompletionRequest sets the completion state.
type ToggleCompletionRequest struct {
	Completed bool `json:"completed"`
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toOccurrenceDTO(o engine.EffectiveOccurrence) OccurrenceDTO {
	return OccurrenceDTO{
		ID:          o.ID.String(),
		SeriesID:    string(o.SeriesID),
		Day:         o.Day.String(),
		Title:       o.Fields.Title,
		Description: o.Fields.Description,
		Color:       o.Fields.Color,
		Completed:   o.Completed,
		CompletedAt: o.CompletedAt,
		Recurring:   o.SeriesID != "",
		Generated:   o.Generated,
	}
}

func toOccurrenceDTOs(list []engine.EffectiveOccurrence) []OccurrenceDTO {
	out := make([]OccurrenceDTO, len(list))
	for i, o := range list {
		out[i] = toOccurrenceDTO(o)
	}
	return out
}

func toSeriesDTO(s engine.Series) SeriesDTO {
	dto := SeriesDTO{
		ID:          string(s.ID),
		Title:       s.Fields.Title,
		Description: s.Fields.Description,
		Color:       s.Fields.Color,
		Rule:        recurrence.Encode(s.Rule),
		RuleText:    s.Rule.String(),
		StartDay:    s.StartDay.String(),
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   s.UpdatedAt.Format(time.RFC3339),
	}
	if s.EndDay != nil {
		end := s.EndDay.String()
		dto.EndDay = &end
	}
	return dto
}

func toMutationDTO(res engine.Result) MutationDTO {
	var dto MutationDTO
	if o, ok := res.Occurrence.Get(); ok {
		v := toOccurrenceDTO(o)
		dto.Occurrence = &v
	}
	if s, ok := res.Series.Get(); ok {
		v := toSeriesDTO(s)
		dto.Series = &v
	}
	return dto
}

// parseDay parses a required day field.
func parseDay(field, s string) (calendar.Day, error) {
	if s == "" {
		return calendar.Day{}, &engine.ValidationError{Field: field, Message: "is required"}
	}
	d, err := calendar.Parse(s)
	if err != nil {
		return calendar.Day{}, &engine.ValidationError{Field: field, Message: "expected yyyy-mm-dd", Err: err}
	}
	return d, nil
}

// parseOptionalDay parses a day field that may be absent.
func parseOptionalDay(field string, s *string) (mo.Option[calendar.Day], error) {
	if s == nil {
		return mo.None[calendar.Day](), nil
	}
	d, err := parseDay(field, *s)
	if err != nil {
		return mo.None[calendar.Day](), err
	}
	return mo.Some(d), nil
}

func decodeRule(spec recurrence.Spec) (recurrence.Rule, error) {
	rule, err := recurrence.Decode(spec)
	if err != nil {
		return nil, &engine.ValidationError{Field: "rule", Message: err.Error(), Err: err}
	}
	return rule, nil
}

// toEdit converts the request into an engine.Edit.
func (req EditOccurrenceRequest) toEdit() (engine.Edit, error) {
	ed := engine.Edit{
		Title:       mo.PointerToOption(req.Title),
		Description: mo.PointerToOption(req.Description),
		Color:       mo.PointerToOption(req.Color),
		ClearEndDay: req.ClearEndDay,
	}
	var err error
	if ed.Day, err = parseOptionalDay("day", req.Day); err != nil {
		return engine.Edit{}, err
	}
	if ed.StartDay, err = parseOptionalDay("start_day", req.StartDay); err != nil {
		return engine.Edit{}, err
	}
	if ed.EndDay, err = parseOptionalDay("end_day", req.EndDay); err != nil {
		return engine.Edit{}, err
	}
	if req.Rule != nil {
		rule, err := decodeRule(*req.Rule)
		if err != nil {
			return engine.Edit{}, err
		}
		ed.Rule = mo.Some(rule)
	}
	return ed, nil
}
