package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/soaringjerry/Pulse/internal/calendar"
)

// FrequencyKind is the repeat rule of a cadence schedule.
type FrequencyKind string

const (
	FrequencyWeekly     FrequencyKind = "weekly"
	FrequencyBiweekly   FrequencyKind = "biweekly"
	FrequencyMonthly    FrequencyKind = "monthly"
	FrequencyCustomDays FrequencyKind = "custom_days"
)

// Frequency is a repeat rule. Days is only meaningful for custom_days.
type Frequency struct {
	Kind FrequencyKind `json:"kind"`
	Days int           `json:"days,omitempty"`
}

func Weekly() Frequency          { return Frequency{Kind: FrequencyWeekly} }
func Biweekly() Frequency        { return Frequency{Kind: FrequencyBiweekly} }
func Monthly() Frequency         { return Frequency{Kind: FrequencyMonthly} }
func CustomDays(n int) Frequency { return Frequency{Kind: FrequencyCustomDays, Days: n} }

// ParseFrequency reads "weekly", "biweekly", "monthly" or "custom_days:N"
// (also "every:N" and a bare day count).
func ParseFrequency(s string) (Frequency, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case string(FrequencyWeekly):
		return Weekly(), nil
	case string(FrequencyBiweekly):
		return Biweekly(), nil
	case string(FrequencyMonthly):
		return Monthly(), nil
	}
	days := s
	for _, prefix := range []string{string(FrequencyCustomDays) + ":", "every:"} {
		days = strings.TrimPrefix(days, prefix)
	}
	n, err := strconv.Atoi(days)
	if err != nil {
		return Frequency{}, invalid("frequency", "unsupported frequency %q", s)
	}
	f := CustomDays(n)
	if err := f.Validate(); err != nil {
		return Frequency{}, err
	}
	return f, nil
}

func (f Frequency) String() string {
	if f.Kind == FrequencyCustomDays {
		return fmt.Sprintf("%s:%d", f.Kind, f.Days)
	}
	return string(f.Kind)
}

// UnmarshalJSON accepts either the object form or the string form read by
// ParseFrequency.
func (f *Frequency) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := ParseFrequency(s)
		if err != nil {
			return err
		}
		*f = parsed
		return nil
	}
	type plain Frequency
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*f = Frequency(p)
	return nil
}

// Validate rejects unknown kinds and custom intervals below one day.
func (f Frequency) Validate() error {
	switch f.Kind {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return nil
	case FrequencyCustomDays:
		if f.Days < 1 {
			return invalid("frequency.days", "custom interval must be >= 1 day, got %d", f.Days)
		}
		return nil
	default:
		return invalid("frequency.kind", "unknown frequency %q", string(f.Kind))
	}
}

// CadenceSchedule says how often a template is sent to a client.
type CadenceSchedule struct {
	ID                 string        `json:"id"`
	ClientID           string        `json:"client_id"`
	TemplateID         string        `json:"template_id"`
	Frequency          Frequency     `json:"frequency"`
	SendTime           string        `json:"send_time"`
	AnchorDay          int           `json:"anchor_day,omitempty"`
	NextOccurrence     calendar.Date `json:"next_occurrence"`
	LastDispatchedDate calendar.Date `json:"last_dispatched_date"`
	Active             bool          `json:"active"`
	Version            int64         `json:"version"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Validate checks the fields a schedule needs before it is stored.
func (s CadenceSchedule) Validate() error {
	if strings.TrimSpace(s.ClientID) == "" {
		return invalid("client_id", "client id required")
	}
	if strings.TrimSpace(s.TemplateID) == "" {
		return invalid("template_id", "template id required")
	}
	if err := s.Frequency.Validate(); err != nil {
		return err
	}
	if s.SendTime != "" {
		if _, err := time.Parse("15:04", s.SendTime); err != nil {
			return invalid("send_time", "expected HH:MM, got %q", s.SendTime)
		}
	}
	if s.AnchorDay < 0 || s.AnchorDay > 31 {
		return invalid("anchor_day", "must be between 1 and 31, got %d", s.AnchorDay)
	}
	if s.NextOccurrence.IsZero() {
		return invalid("next_occurrence", "date is required")
	}
	return nil
}

// DispatchDecision explains what Dispatch decided for a schedule.
type DispatchDecision string

const (
	DecisionDue               DispatchDecision = "due"
	DecisionNotDue            DispatchDecision = "not_due"
	DecisionInactive          DispatchDecision = "inactive"
	DecisionAlreadyDispatched DispatchDecision = "already_dispatched"
)

// CadenceScheduler computes next occurrences. It holds no state.
type CadenceScheduler struct{}

func NewCadenceScheduler() *CadenceScheduler { return &CadenceScheduler{} }

// step advances d by one period of s's frequency.
func (c *CadenceScheduler) step(s CadenceSchedule, d calendar.Date) calendar.Date {
	switch s.Frequency.Kind {
	case FrequencyWeekly:
		return d.AddDays(7)
	case FrequencyBiweekly:
		return d.AddDays(14)
	case FrequencyMonthly:
		return d.AddMonthsClamped(1, s.AnchorDay)
	default:
		return d.AddDays(s.Frequency.Days)
	}
}

// ComputeNext returns s with NextOccurrence moved to the first occurrence
// strictly after reference.
//
// The walk starts from s.NextOccurrence (or reference when unset) and keeps
// stepping while the candidate is not after reference, so a NextOccurrence
// edited into the past never yields a same-day or past date. Inactive
// schedules come back unchanged. The result depends only on the inputs.
func (c *CadenceScheduler) ComputeNext(s CadenceSchedule, reference calendar.Date) (CadenceSchedule, error) {
	if !s.Active {
		return s, nil
	}
	if err := s.Frequency.Validate(); err != nil {
		return s, err
	}
	if reference.IsZero() {
		return s, invalid("reference", "date is required")
	}
	base := s.NextOccurrence
	if base.IsZero() {
		base = reference
	}
	if s.Frequency.Kind == FrequencyMonthly && s.AnchorDay == 0 {
		s.AnchorDay = base.Day()
	}
	next := c.step(s, base)
	if !next.After(reference) {
		// jump close to the reference first so very stale dates do not walk
		// one period at a time across years
		if s.Frequency.Kind != FrequencyMonthly {
			period := calendar.DaysBetween(base, next)
			gap := calendar.DaysBetween(next, reference)
			next = next.AddDays((gap / period) * period)
		}
		for !next.After(reference) {
			next = c.step(s, next)
		}
	}
	s.NextOccurrence = next
	return s, nil
}

// Dispatch decides whether s should fire today and, when it should, returns
// the schedule as it must be persisted after a successful send:
// LastDispatchedDate is today and NextOccurrence is strictly after today.
//
// A schedule already dispatched today is never due again the same day, so a
// trigger that runs more than once per tick is harmless.
func (c *CadenceScheduler) Dispatch(s CadenceSchedule, today calendar.Date) (DispatchDecision, CadenceSchedule, error) {
	if !s.Active {
		return DecisionInactive, s, nil
	}
	if today.IsZero() {
		return "", s, invalid("today", "date is required")
	}
	if !s.LastDispatchedDate.IsZero() && s.LastDispatchedDate.Equal(today) {
		return DecisionAlreadyDispatched, s, nil
	}
	if !s.NextOccurrence.IsZero() && s.NextOccurrence.After(today) {
		return DecisionNotDue, s, nil
	}
	next, err := c.ComputeNext(s, today)
	if err != nil {
		return "", s, err
	}
	next.LastDispatchedDate = today
	return DecisionDue, next, nil
}
