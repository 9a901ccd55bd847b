package services

import (
	"strings"

	"github.com/soaringjerry/Pulse/internal/calendar"
)

// ContractType names the kind of contract a client signed.
type ContractType string

const (
	ContractMonthly     ContractType = "monthly"
	ContractQuarterly   ContractType = "quarterly"
	ContractSemiannual  ContractType = "semiannual"
	ContractAnnual      ContractType = "annual"
	ContractPartnership ContractType = "partnership"
	ContractVoucher     ContractType = "voucher"
)

// OpenCycle marks a contract type that has no natural cycle length.
const OpenCycle = 0

// DefaultCycleLengths maps each contract type to its cycle length in weeks.
func DefaultCycleLengths() map[ContractType]int {
	return map[ContractType]int{
		ContractMonthly:     4,
		ContractQuarterly:   12,
		ContractSemiannual:  24,
		ContractAnnual:      48,
		ContractPartnership: OpenCycle,
		ContractVoucher:     OpenCycle,
	}
}

// ParseContractType normalises user input ("Quarterly ", "ANNUAL").
func ParseContractType(s string) ContractType {
	return ContractType(strings.ToLower(strings.TrimSpace(s)))
}

// ContractPlan is the part of a client record the cycle clock needs.
type ContractPlan struct {
	ClientID     string        `json:"client_id"`
	StartDate    calendar.Date `json:"start_date"`
	ContractType ContractType  `json:"contract_type"`
}

// CyclePosition locates a day inside a client's contract.
type CyclePosition struct {
	Cycle         int           `json:"cycle"`
	WeekInCycle   int           `json:"week_in_cycle"`
	CycleLength   int           `json:"cycle_length_weeks"`
	ElapsedDays   int           `json:"elapsed_days"`
	CycleStart    calendar.Date `json:"cycle_start"`
	WeekStart     calendar.Date `json:"week_start"`
	LowConfidence bool          `json:"low_confidence"`
}

// CycleClock turns a contract start date into a cycle/week position. It is
// immutable and safe for concurrent use.
type CycleClock struct {
	lengths map[ContractType]int
}

// NewCycleClock builds a clock from a cycle length table. A nil table selects
// DefaultCycleLengths. Negative lengths are rejected.
func NewCycleClock(lengths map[ContractType]int) (*CycleClock, error) {
	if lengths == nil {
		lengths = DefaultCycleLengths()
	}
	cp := make(map[ContractType]int, len(lengths))
	for ct, weeks := range lengths {
		if weeks < 0 {
			return nil, invalid("cycle_lengths."+string(ct), "must be >= 0, got %d", weeks)
		}
		cp[ParseContractType(string(ct))] = weeks
	}
	return &CycleClock{lengths: cp}, nil
}

// CycleLength reports the configured length of ct and whether ct is known.
func (c *CycleClock) CycleLength(ct ContractType) (int, bool) {
	weeks, ok := c.lengths[ParseContractType(string(ct))]
	return weeks, ok
}

// Compute places today inside the contract that started on start.
//
// A start date in the future counts as day zero. Open contracts and plans
// without a start date fall back to cycle 1, week 1 with LowConfidence set;
// that is a degraded answer, not an error.
func (c *CycleClock) Compute(start calendar.Date, ct ContractType, today calendar.Date) (CyclePosition, error) {
	weeks, ok := c.CycleLength(ct)
	if !ok {
		return CyclePosition{}, invalid("contract_type", "unknown contract type %q", string(ct))
	}
	if today.IsZero() {
		return CyclePosition{}, invalid("today", "date is required")
	}
	if weeks == OpenCycle || start.IsZero() {
		return CyclePosition{
			Cycle:         1,
			WeekInCycle:   1,
			CycleLength:   weeks,
			CycleStart:    start,
			WeekStart:     start,
			LowConfidence: true,
		}, nil
	}

	elapsedDays := calendar.DaysBetween(start, today)
	if elapsedDays < 0 {
		elapsedDays = 0
	}
	elapsedWeeks := elapsedDays / 7
	cycleIdx := elapsedWeeks / weeks
	weekIdx := elapsedWeeks % weeks

	cycleStart := start.AddDays(cycleIdx * weeks * 7)
	return CyclePosition{
		Cycle:       cycleIdx + 1,
		WeekInCycle: weekIdx + 1,
		CycleLength: weeks,
		ElapsedDays: elapsedDays,
		CycleStart:  cycleStart,
		WeekStart:   cycleStart.AddDays(weekIdx * 7),
	}, nil
}

// ComputePlan is Compute for a stored plan.
func (c *CycleClock) ComputePlan(plan ContractPlan, today calendar.Date) (CyclePosition, error) {
	return c.Compute(plan.StartDate, plan.ContractType, today)
}
