package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/Pulse/internal/calendar"
)

func newMonitor(t *testing.T) *RiskMonitor {
	t.Helper()
	m, err := NewRiskMonitor(DefaultRiskBoundaries())
	require.NoError(t, err)
	return m
}

func TestRiskScenario(t *testing.T) {
	m := newMonitor(t)
	today := calendar.MustParse("2024-05-20")

	unknown := m.Classify(calendar.Date{}, today)
	assert.Equal(t, RiskUnknown, unknown.Tier)
	assert.Nil(t, unknown.DaysSince)
	assert.False(t, unknown.LowConfidence)

	stale := m.Classify(today.AddDays(-14), today)
	assert.Equal(t, RiskAtRisk, stale.Tier)
	require.NotNil(t, stale.DaysSince)
	assert.Equal(t, 14, *stale.DaysSince)
}

func TestRiskBoundaries(t *testing.T) {
	m := newMonitor(t)
	today := calendar.MustParse("2024-03-05")
	cases := map[int]RiskTier{
		0:  RiskOK,
		7:  RiskOK,
		8:  RiskWatch,
		10: RiskWatch,
		11: RiskAtRisk,
		90: RiskAtRisk,
	}
	for days, want := range cases {
		got := m.Classify(today.AddDays(-days), today)
		assert.Equal(t, want, got.Tier, "days=%d", days)
	}
}

func TestRiskFutureContactIsLowConfidence(t *testing.T) {
	today := calendar.MustParse("2024-03-05")
	got := newMonitor(t).Classify(today.AddDays(2), today)
	assert.Equal(t, RiskUnknown, got.Tier)
	assert.True(t, got.LowConfidence)
	require.NotNil(t, got.DaysSince)
	assert.Equal(t, -2, *got.DaysSince)
}

func TestRiskCustomBoundaries(t *testing.T) {
	m, err := NewRiskMonitor(RiskBoundaries{OKMaxDays: 3, WatchMaxDays: 5})
	require.NoError(t, err)
	today := calendar.MustParse("2024-03-05")
	assert.Equal(t, RiskWatch, m.Classify(today.AddDays(-4), today).Tier)
	assert.Equal(t, RiskAtRisk, m.Classify(today.AddDays(-6), today).Tier)

	_, err = NewRiskMonitor(RiskBoundaries{OKMaxDays: 5, WatchMaxDays: 5})
	assert.ErrorAs(t, err, new(*ValidationError))
	_, err = NewRiskMonitor(RiskBoundaries{OKMaxDays: -1, WatchMaxDays: 5})
	assert.ErrorAs(t, err, new(*ValidationError))
}

func TestClassifyLog(t *testing.T) {
	m := newMonitor(t)
	today := calendar.MustParse("2024-04-30")
	events := []ContactEvent{
		{ClientID: "ana", OccurredAt: calendar.MustParse("2024-04-01")},
		{ClientID: "ana", OccurredAt: calendar.MustParse("2024-04-28")},
		{ClientID: "bia", OccurredAt: calendar.MustParse("2024-04-21")},
		{ClientID: "caio", OccurredAt: calendar.MustParse("2024-04-02")},
		{ClientID: "duda", OccurredAt: calendar.MustParse("2024-04-10")},
		{ClientID: "", OccurredAt: calendar.MustParse("2024-04-29")},
	}
	got := m.ClassifyLog(events, []string{"ana", "eva"}, today)

	ids := make([]string, len(got))
	for i, a := range got {
		ids[i] = a.ClientID
	}
	assert.Equal(t, []string{"caio", "duda", "eva", "bia", "ana"}, ids)
	assert.Equal(t, RiskAtRisk, got[0].Tier)
	assert.Equal(t, RiskUnknown, got[2].Tier)
	assert.Equal(t, RiskWatch, got[3].Tier)
	assert.Equal(t, RiskOK, got[4].Tier)
	assert.Equal(t, "2024-04-28", got[4].LastContact.String())

	tally := Tally(got)
	assert.Equal(t, RiskTally{OK: 1, Watch: 1, AtRisk: 2, Unknown: 1}, tally)
}

func TestRiskTierParsing(t *testing.T) {
	tier, ok := ParseRiskTier(" WATCH ")
	require.True(t, ok)
	assert.Equal(t, RiskWatch, tier)
	tier, ok = ParseRiskTier("at-risk")
	require.True(t, ok)
	assert.Equal(t, RiskAtRisk, tier)
	_, ok = ParseRiskTier("panic")
	assert.False(t, ok)

	assert.True(t, RiskAtRisk.AtLeast(RiskWatch))
	assert.True(t, RiskUnknown.AtLeast(RiskWatch))
	assert.False(t, RiskOK.AtLeast(RiskWatch))
	assert.True(t, RiskOK.AtLeast(RiskOK))
}
