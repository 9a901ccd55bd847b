package services

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/Pulse/internal/calendar"
)

func newBoardFixture(t *testing.T) (*ClientBoardService, *fakeStore) {
	t.Helper()
	e := MustEngine()
	store := newFakeStore()
	svc := NewClientBoardService(store, e.Clock, e.Risk, nil)
	svc.now.now = func() time.Time { return time.Date(2024, 1, 15, 22, 0, 0, 0, time.UTC) }
	return svc, store
}

func TestBoardServiceCycle(t *testing.T) {
	svc, _ := newBoardFixture(t)
	ctx := context.Background()

	plan, err := svc.SetPlan(ctx, ContractPlan{ClientID: " ana ", StartDate: calendar.MustParse("2024-01-01"), ContractType: "Quarterly"})
	require.NoError(t, err)
	assert.Equal(t, "ana", plan.ClientID)
	assert.Equal(t, ContractQuarterly, plan.ContractType)

	pos, err := svc.Cycle(ctx, "ana", calendar.Date{})
	require.NoError(t, err)
	assert.Equal(t, 1, pos.Cycle)
	assert.Equal(t, 3, pos.WeekInCycle)

	_, err = svc.SetPlan(ctx, ContractPlan{ClientID: "bia", ContractType: "lifetime"})
	assert.ErrorAs(t, err, new(*ValidationError))

	_, err = svc.Cycle(ctx, "ghost", calendar.Date{})
	se, ok := AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorNotFound, se.Code)
}

func TestBoardServiceRiskAndBoard(t *testing.T) {
	svc, _ := newBoardFixture(t)
	ctx := context.Background()
	start := calendar.MustParse("2023-12-01")
	for _, p := range []ContractPlan{
		{ClientID: "ana", StartDate: start, ContractType: ContractMonthly},
		{ClientID: "bia", StartDate: start, ContractType: ContractPartnership},
		{ClientID: "caio", ContractType: ContractAnnual},
	} {
		_, err := svc.SetPlan(ctx, p)
		require.NoError(t, err)
	}
	require.NoError(t, svc.RecordContact(ctx, ContactEvent{ClientID: "ana", OccurredAt: calendar.MustParse("2024-01-12"), Channel: "whatsapp"}))
	require.NoError(t, svc.RecordContact(ctx, ContactEvent{ClientID: "bia", OccurredAt: calendar.MustParse("2024-01-01")}))
	require.NoError(t, svc.RecordContact(ctx, ContactEvent{ClientID: "bia", OccurredAt: calendar.MustParse("2024-01-06")}))
	assert.Error(t, svc.RecordContact(ctx, ContactEvent{}))

	risk, err := svc.Risk(ctx, "bia", calendar.Date{})
	require.NoError(t, err)
	assert.Equal(t, RiskWatch, risk.Tier)
	assert.Equal(t, 9, *risk.DaysSince)

	board, err := svc.Board(ctx, calendar.Date{})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", board.Today.String())
	assert.Equal(t, []string{"caio", "bia", "ana"}, board.ClientIDs())
	assert.Equal(t, RiskTally{OK: 1, Watch: 1, Unknown: 1}, board.Tally)

	require.NotNil(t, board.Rows[0].Position)
	assert.True(t, board.Rows[0].Position.LowConfidence, "no start date")
	require.NotNil(t, board.Rows[2].Position)
	assert.Equal(t, 2, board.Rows[2].Position.Cycle)

	assert.Equal(t, []string{"caio", "bia"}, (&Board{Rows: board.ByTier(RiskWatch)}).ClientIDs())
}

func TestRecordContactDefaultsToToday(t *testing.T) {
	svc, store := newBoardFixture(t)
	require.NoError(t, svc.RecordContact(context.Background(), ContactEvent{ClientID: "ana"}))
	require.Len(t, store.contacts, 1)
	assert.Equal(t, "2024-01-15", store.contacts[0].OccurredAt.String())
}

func TestBoardLogsPlansWithoutAPosition(t *testing.T) {
	var logs bytes.Buffer
	e := MustEngine()
	store := newFakeStore()
	svc := NewClientBoardService(store, e.Clock, e.Risk, slog.New(slog.NewTextHandler(&logs, nil)))
	ctx := context.Background()

	// A plan written before its contract type was removed from the policy.
	require.NoError(t, store.UpsertPlan(ctx, ContractPlan{ClientID: "dora", StartDate: calendar.MustParse("2024-01-01"), ContractType: "lifetime"}))

	board, err := svc.Board(ctx, calendar.MustParse("2024-01-15"))
	require.NoError(t, err)
	require.Len(t, board.Rows, 1)
	assert.Nil(t, board.Rows[0].Position)
	assert.Equal(t, ContractType("lifetime"), board.Rows[0].ContractType)
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "client=dora")
	assert.Contains(t, logs.String(), "contract_type=lifetime")
}
