package services

import (
	"context"
	"log/slog"
	"strings"

	"github.com/soaringjerry/Pulse/internal/calendar"
)

// ClientStore holds contract plans and the contact log.
type ClientStore interface {
	UpsertPlan(ctx context.Context, p ContractPlan) error
	GetPlan(ctx context.Context, clientID string) (*ContractPlan, error)
	ListPlans(ctx context.Context) ([]ContractPlan, error)
	AddContact(ctx context.Context, ev ContactEvent) error
	ListContacts(ctx context.Context, clientID string) ([]ContactEvent, error)
}

// BoardRow is one client on the dashboard.
type BoardRow struct {
	ClientID     string         `json:"client_id"`
	ContractType ContractType   `json:"contract_type"`
	Position     *CyclePosition `json:"position,omitempty"`
	Risk         RiskAssessment `json:"risk"`
}

// Board is the bulk dashboard view, most urgent clients first.
type Board struct {
	Today calendar.Date `json:"today"`
	Rows  []BoardRow    `json:"rows"`
	Tally RiskTally     `json:"tally"`
}

// ClientBoardService combines the cycle clock and the risk monitor over the
// stored client records.
type ClientBoardService struct {
	store  ClientStore
	cycles *CycleClock
	risk   *RiskMonitor
	now    clock
	logger *slog.Logger
}

func NewClientBoardService(store ClientStore, cycles *CycleClock, risk *RiskMonitor, logger *slog.Logger) *ClientBoardService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientBoardService{store: store, cycles: cycles, risk: risk, now: newClock(), logger: logger}
}

// SetPlan stores the contract plan of a client.
func (s *ClientBoardService) SetPlan(ctx context.Context, p ContractPlan) (*ContractPlan, error) {
	p.ClientID = strings.TrimSpace(p.ClientID)
	if p.ClientID == "" {
		return nil, invalid("client_id", "client id required")
	}
	p.ContractType = ParseContractType(string(p.ContractType))
	if _, ok := s.cycles.CycleLength(p.ContractType); !ok {
		return nil, invalid("contract_type", "unknown contract type %q", string(p.ContractType))
	}
	if err := s.store.UpsertPlan(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Cycle returns the cycle position of a client on today (zero means now).
func (s *ClientBoardService) Cycle(ctx context.Context, clientID string, today calendar.Date) (*CyclePosition, error) {
	plan, err := s.store.GetPlan(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, NewNotFoundError("client plan not found")
	}
	pos, err := s.cycles.ComputePlan(*plan, s.now.orToday(today))
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// RecordContact appends an interaction to the contact log.
func (s *ClientBoardService) RecordContact(ctx context.Context, ev ContactEvent) error {
	if strings.TrimSpace(ev.ClientID) == "" {
		return invalid("client_id", "client id required")
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now.today()
	}
	return s.store.AddContact(ctx, ev)
}

// Risk classifies a single client from its contact log.
func (s *ClientBoardService) Risk(ctx context.Context, clientID string, today calendar.Date) (RiskAssessment, error) {
	events, err := s.store.ListContacts(ctx, clientID)
	if err != nil {
		return RiskAssessment{}, err
	}
	a := s.risk.Classify(LatestContacts(events)[clientID], s.now.orToday(today))
	a.ClientID = clientID
	return a, nil
}

// Board classifies every client with a plan plus any client that only shows
// up in the contact log. Rows without a usable plan carry no position.
func (s *ClientBoardService) Board(ctx context.Context, today calendar.Date) (*Board, error) {
	today = s.now.orToday(today)
	plans, err := s.store.ListPlans(ctx)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListContacts(ctx, "")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(plans))
	byID := make(map[string]ContractPlan, len(plans))
	for _, p := range plans {
		ids = append(ids, p.ClientID)
		byID[p.ClientID] = p
	}
	assessments := s.risk.ClassifyLog(events, ids, today)

	board := &Board{Today: today, Rows: make([]BoardRow, 0, len(assessments)), Tally: Tally(assessments)}
	for _, a := range assessments {
		row := BoardRow{ClientID: a.ClientID, Risk: a}
		if p, ok := byID[a.ClientID]; ok {
			row.ContractType = p.ContractType
			pos, err := s.cycles.ComputePlan(p, today)
			if err != nil {
				s.logger.Warn("board: no cycle position", "client", p.ClientID, "contract_type", string(p.ContractType), "err", err)
			} else {
				row.Position = &pos
			}
		}
		board.Rows = append(board.Rows, row)
	}
	return board, nil
}

// ByTier filters rows to those at least as urgent as floor, keeping order.
func (b *Board) ByTier(floor RiskTier) []BoardRow {
	out := make([]BoardRow, 0, len(b.Rows))
	for _, r := range b.Rows {
		if r.Risk.Tier.AtLeast(floor) {
			out = append(out, r)
		}
	}
	return out
}

// ClientIDs lists the client ids on the board in display order.
func (b *Board) ClientIDs() []string {
	out := make([]string, len(b.Rows))
	for i, r := range b.Rows {
		out[i] = r.ClientID
	}
	return out
}
