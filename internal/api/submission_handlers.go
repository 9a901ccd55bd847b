package api

import (
	"net/http"
	"strings"

	"github.com/soaringjerry/Pulse/internal/calendar"
	"github.com/soaringjerry/Pulse/internal/middleware"
	"github.com/soaringjerry/Pulse/internal/services"
	"github.com/soaringjerry/Pulse/internal/utils"
)

type submissionView struct {
	*services.Submission
	StatusLabel    string `json:"status_label"`
	IndicatorLabel string `json:"indicator_label"`
}

func (rt *Router) viewSubmission(r *http.Request, sub *services.Submission) submissionView {
	loc := middleware.LocaleFromContext(r.Context())
	return submissionView{
		Submission:     sub,
		StatusLabel:    utils.T(loc, "status."+string(sub.Status)),
		IndicatorLabel: utils.T(loc, "indicator."+string(sub.OverallIndicator)),
	}
}

// POST /api/submissions
// { template_id, client_id, schedule_id?, deadline?, notes? }
// The access token is only ever returned here.
func (rt *Router) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TemplateID string        `json:"template_id"`
		ClientID   string        `json:"client_id"`
		ScheduleID string        `json:"schedule_id"`
		Deadline   calendar.Date `json:"deadline"`
		Notes      string        `json:"notes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		rt.writeErr(w, r, err)
		return
	}
	sub, token, err := rt.submissions.Create(r.Context(), services.CreateSubmissionRequest{
		TemplateID: req.TemplateID,
		ClientID:   req.ClientID,
		ScheduleID: req.ScheduleID,
		Deadline:   req.Deadline,
		Notes:      req.Notes,
	})
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	rt.audit(r, "submission.create", sub.ID, sub.ClientID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"submission":   rt.viewSubmission(r, sub),
		"access_token": token,
	})
}

// GET /api/submissions/{id}
func (rt *Router) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := rt.submissions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rt.viewSubmission(r, sub))
}

// PUT /api/submissions/{id}/notes
func (rt *Router) handleSubmissionNotes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Notes string `json:"notes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		rt.writeErr(w, r, err)
		return
	}
	sub, err := rt.submissions.UpdateNotes(r.Context(), r.PathValue("id"), req.Notes)
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	rt.audit(r, "submission.notes", sub.ID, "")
	writeJSON(w, http.StatusOK, rt.viewSubmission(r, sub))
}

type answersRequest struct {
	AccessToken string               `json:"access_token,omitempty"`
	Answers     []services.RawAnswer `json:"answers"`
}

// POST /api/submissions/{id}/answers
// Lets a professional enter answers on the client's behalf.
func (rt *Router) handleSubmissionAnswers(w http.ResponseWriter, r *http.Request) {
	var req answersRequest
	if err := decodeJSON(r, &req); err != nil {
		rt.writeErr(w, r, err)
		return
	}
	sub, err := rt.submissions.SubmitAnswers(r.Context(), r.PathValue("id"), req.Answers)
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	rt.audit(r, "submission.answers", sub.ID, string(sub.Status))
	writeJSON(w, http.StatusOK, rt.viewSubmission(r, sub))
}

// POST /api/public/submissions/{id}/answers
// { access_token?, answers: [{question_id, raw}] }; the token may also come
// in the X-Access-Token header. Clients get their progress back, not scores.
func (rt *Router) handlePublicAnswers(w http.ResponseWriter, r *http.Request) {
	var req answersRequest
	if err := decodeJSON(r, &req); err != nil {
		rt.writeErr(w, r, err)
		return
	}
	token := strings.TrimSpace(r.Header.Get("X-Access-Token"))
	if token == "" {
		token = req.AccessToken
	}
	sub, err := rt.submissions.SubmitPublicAnswers(r.Context(), r.PathValue("id"), token, req.Answers)
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	loc := middleware.LocaleFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           sub.ID,
		"status":       sub.Status,
		"status_label": utils.T(loc, "status."+string(sub.Status)),
		"answered":     len(sub.Answers),
	})
}

// POST /api/submissions/{id}/complete
func (rt *Router) handleCompleteSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := rt.submissions.Complete(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	rt.audit(r, "submission.complete", sub.ID, string(sub.OverallIndicator))
	writeJSON(w, http.StatusOK, rt.viewSubmission(r, sub))
}

// POST /api/submissions/{id}/expire
// { deadline?: YYYY-MM-DD, today?: YYYY-MM-DD }; an empty body checks the
// stored deadline against today.
func (rt *Router) handleExpireSubmission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Deadline calendar.Date `json:"deadline"`
		Today    calendar.Date `json:"today"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			rt.writeErr(w, r, err)
			return
		}
	}
	if req.Today.IsZero() {
		req.Today = rt.today()
	}
	sub, changed, err := rt.submissions.Expire(r.Context(), r.PathValue("id"), req.Deadline, req.Today)
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	if changed {
		rt.audit(r, "submission.expire", sub.ID, req.Today.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{"submission": rt.viewSubmission(r, sub), "changed": changed})
}
