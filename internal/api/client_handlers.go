package api

import (
	"net/http"

	"github.com/soaringjerry/Pulse/internal/calendar"
	"github.com/soaringjerry/Pulse/internal/middleware"
	"github.com/soaringjerry/Pulse/internal/services"
	"github.com/soaringjerry/Pulse/internal/utils"
)

// PUT /api/clients/{id}/plan
// { contract_type: string, start_date?: YYYY-MM-DD }
func (rt *Router) handleSetPlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContractType string        `json:"contract_type"`
		StartDate    calendar.Date `json:"start_date"`
	}
	if err := decodeJSON(r, &req); err != nil {
		rt.writeErr(w, r, err)
		return
	}
	plan, err := rt.board.SetPlan(r.Context(), services.ContractPlan{
		ClientID:     r.PathValue("id"),
		ContractType: services.ContractType(req.ContractType),
		StartDate:    req.StartDate,
	})
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	rt.audit(r, "client.plan", plan.ClientID, string(plan.ContractType))
	writeJSON(w, http.StatusOK, plan)
}

type cycleView struct {
	ClientID string `json:"client_id"`
	*services.CyclePosition
	Note string `json:"note,omitempty"`
}

// GET /api/clients/{id}/cycle?today=YYYY-MM-DD
func (rt *Router) handleCycle(w http.ResponseWriter, r *http.Request) {
	today, err := rt.dateParam(r, "today")
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	id := r.PathValue("id")
	pos, err := rt.board.Cycle(r.Context(), id, today)
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	view := cycleView{ClientID: id, CyclePosition: pos}
	if pos.LowConfidence {
		view.Note = utils.T(middleware.LocaleFromContext(r.Context()), "cycle.low_confidence")
	}
	writeJSON(w, http.StatusOK, view)
}

// POST /api/clients/{id}/contacts
// { occurred_at?: YYYY-MM-DD, channel?: string, note?: string }
func (rt *Router) handleAddContact(w http.ResponseWriter, r *http.Request) {
	var ev services.ContactEvent
	if err := decodeJSON(r, &ev); err != nil {
		rt.writeErr(w, r, err)
		return
	}
	ev.ClientID = r.PathValue("id")
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = rt.today()
	}
	if err := rt.board.RecordContact(r.Context(), ev); err != nil {
		rt.writeErr(w, r, err)
		return
	}
	rt.audit(r, "client.contact", ev.ClientID, ev.OccurredAt.String())
	writeJSON(w, http.StatusCreated, ev)
}

// GET /api/clients/{id}/contacts
func (rt *Router) handleListContacts(w http.ResponseWriter, r *http.Request) {
	events, err := rt.store.ListContacts(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": events})
}

type riskView struct {
	services.RiskAssessment
	TierLabel string `json:"tier_label"`
}

func localizeRisk(locale string, a services.RiskAssessment) riskView {
	return riskView{RiskAssessment: a, TierLabel: utils.T(locale, "tier."+string(a.Tier))}
}

// GET /api/clients/{id}/risk?today=YYYY-MM-DD
func (rt *Router) handleRisk(w http.ResponseWriter, r *http.Request) {
	today, err := rt.dateParam(r, "today")
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	a, err := rt.board.Risk(r.Context(), r.PathValue("id"), today)
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, localizeRisk(middleware.LocaleFromContext(r.Context()), a))
}

type boardRowView struct {
	ClientID     string                  `json:"client_id"`
	ContractType services.ContractType   `json:"contract_type,omitempty"`
	Position     *services.CyclePosition `json:"position,omitempty"`
	Risk         riskView                `json:"risk"`
}

// GET /api/board?today=YYYY-MM-DD&min_tier=watch
// Rows are ordered most urgent first.
func (rt *Router) handleBoard(w http.ResponseWriter, r *http.Request) {
	today, err := rt.dateParam(r, "today")
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	var floor services.RiskTier
	if v := r.URL.Query().Get("min_tier"); v != "" {
		t, ok := services.ParseRiskTier(v)
		if !ok {
			rt.writeErr(w, r, &services.ValidationError{Field: "min_tier", Reason: "unknown tier " + v})
			return
		}
		floor = t
	}
	board, err := rt.board.Board(r.Context(), today)
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	locale := middleware.LocaleFromContext(r.Context())
	rows := board.Rows
	if floor != "" {
		rows = board.ByTier(floor)
	}
	out := make([]boardRowView, 0, len(rows))
	for _, row := range rows {
		out = append(out, boardRowView{
			ClientID:     row.ClientID,
			ContractType: row.ContractType,
			Position:     row.Position,
			Risk:         localizeRisk(locale, row.Risk),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"today":  board.Today,
		"locale": locale,
		"tally":  board.Tally,
		"rows":   out,
	})
}
