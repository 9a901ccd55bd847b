package services

import (
	"sort"
	"strings"

	"github.com/soaringjerry/Pulse/internal/calendar"
)

// RiskTier is a coarse label for how overdue a client's last contact is.
type RiskTier string

const (
	RiskUnknown RiskTier = "unknown"
	RiskOK      RiskTier = "ok"
	RiskWatch   RiskTier = "watch"
	RiskAtRisk  RiskTier = "at_risk"
)

// Default tier boundaries in days since last contact: up to 7 is ok, up to
// 10 is watch, beyond that at risk.
const (
	DefaultOKMaxDays    = 7
	DefaultWatchMaxDays = 10
)

// RiskBoundaries are the inclusive upper bounds of the ok and watch tiers.
type RiskBoundaries struct {
	OKMaxDays    int `yaml:"ok_max_days" json:"ok_max_days"`
	WatchMaxDays int `yaml:"watch_max_days" json:"watch_max_days"`
}

func DefaultRiskBoundaries() RiskBoundaries {
	return RiskBoundaries{OKMaxDays: DefaultOKMaxDays, WatchMaxDays: DefaultWatchMaxDays}
}

// Validate requires 0 <= ok < watch.
func (b RiskBoundaries) Validate() error {
	if b.OKMaxDays < 0 {
		return invalid("risk.ok_max_days", "must be >= 0, got %d", b.OKMaxDays)
	}
	if b.WatchMaxDays <= b.OKMaxDays {
		return invalid("risk.watch_max_days", "must be greater than ok_max_days (%d), got %d", b.OKMaxDays, b.WatchMaxDays)
	}
	return nil
}

// ContactEvent records one interaction with a client.
type ContactEvent struct {
	ClientID   string        `json:"client_id"`
	OccurredAt calendar.Date `json:"occurred_at"`
	Channel    string        `json:"channel,omitempty"`
	Note       string        `json:"note,omitempty"`
}

// RiskAssessment is the outcome of classifying one client. DaysSince is nil
// when there is no usable last contact.
type RiskAssessment struct {
	ClientID      string        `json:"client_id,omitempty"`
	Tier          RiskTier      `json:"tier"`
	LastContact   calendar.Date `json:"last_contact"`
	DaysSince     *int          `json:"days_since"`
	LowConfidence bool          `json:"low_confidence"`
}

// RiskMonitor classifies contact recency. It holds only its boundaries and
// is safe for concurrent use.
type RiskMonitor struct {
	bounds RiskBoundaries
}

func NewRiskMonitor(bounds RiskBoundaries) (*RiskMonitor, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	return &RiskMonitor{bounds: bounds}, nil
}

// Classify returns the tier for a client last contacted on lastContact. A
// zero lastContact is unknown. A contact dated after today is a data-entry
// anomaly and is reported as unknown with LowConfidence set.
func (m *RiskMonitor) Classify(lastContact, today calendar.Date) RiskAssessment {
	if lastContact.IsZero() {
		return RiskAssessment{Tier: RiskUnknown}
	}
	days := calendar.DaysBetween(lastContact, today)
	out := RiskAssessment{LastContact: lastContact, DaysSince: &days}
	switch {
	case days < 0:
		out.Tier = RiskUnknown
		out.LowConfidence = true
	case days <= m.bounds.OKMaxDays:
		out.Tier = RiskOK
	case days <= m.bounds.WatchMaxDays:
		out.Tier = RiskWatch
	default:
		out.Tier = RiskAtRisk
	}
	return out
}

// LatestContacts reduces an event log to the most recent contact per client.
// Events without a client id or date are skipped.
func LatestContacts(events []ContactEvent) map[string]calendar.Date {
	latest := make(map[string]calendar.Date)
	for _, ev := range events {
		if ev.ClientID == "" || ev.OccurredAt.IsZero() {
			continue
		}
		if cur, ok := latest[ev.ClientID]; !ok || ev.OccurredAt.After(cur) {
			latest[ev.ClientID] = ev.OccurredAt
		}
	}
	return latest
}

// ClassifyLog classifies every client in clientIDs using the latest event
// found for it in events. Clients without events are unknown. Clients that
// only appear in events are included too. The result is sorted with the most
// urgent first, then by client id.
func (m *RiskMonitor) ClassifyLog(events []ContactEvent, clientIDs []string, today calendar.Date) []RiskAssessment {
	latest := LatestContacts(events)
	ids := make(map[string]struct{}, len(clientIDs)+len(latest))
	for _, id := range clientIDs {
		ids[id] = struct{}{}
	}
	for id := range latest {
		ids[id] = struct{}{}
	}
	out := make([]RiskAssessment, 0, len(ids))
	for id := range ids {
		a := m.Classify(latest[id], today)
		a.ClientID = id
		out = append(out, a)
	}
	SortByUrgency(out)
	return out
}

// SortByUrgency orders assessments at_risk, unknown, watch, ok; within a tier
// by most days since contact, then client id.
func SortByUrgency(list []RiskAssessment) {
	sort.SliceStable(list, func(i, j int) bool {
		si, sj := severity(list[i].Tier), severity(list[j].Tier)
		if si != sj {
			return si > sj
		}
		di, dj := daysOrZero(list[i].DaysSince), daysOrZero(list[j].DaysSince)
		if di != dj {
			return di > dj
		}
		return list[i].ClientID < list[j].ClientID
	})
}

func daysOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// RiskTally counts assessments per tier.
type RiskTally struct {
	OK      int `json:"ok"`
	Watch   int `json:"watch"`
	AtRisk  int `json:"at_risk"`
	Unknown int `json:"unknown"`
}

// Tally counts list by tier.
func Tally(list []RiskAssessment) RiskTally {
	var t RiskTally
	for _, a := range list {
		switch a.Tier {
		case RiskOK:
			t.OK++
		case RiskWatch:
			t.Watch++
		case RiskAtRisk:
			t.AtRisk++
		default:
			t.Unknown++
		}
	}
	return t
}

// ParseRiskTier reads a tier name; ok is false for unrecognised input.
func ParseRiskTier(s string) (RiskTier, bool) {
	t := RiskTier(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	switch t {
	case RiskOK, RiskWatch, RiskAtRisk, RiskUnknown:
		return t, true
	}
	return "", false
}

// AtLeast reports whether t is as urgent as floor or more.
func (t RiskTier) AtLeast(floor RiskTier) bool {
	return severity(t) >= severity(floor)
}

// severity ranks tiers for dashboards; unknown counts as risk.
func severity(t RiskTier) int {
	switch t {
	case RiskOK:
		return 0
	case RiskWatch:
		return 1
	case RiskUnknown:
		return 2
	default:
		return 3
	}
}
