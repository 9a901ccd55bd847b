package api

import (
	"net/http"
	"strconv"

	"github.com/soaringjerry/Pulse/internal/services"
)

// POST /api/schedules
// next_occurrence defaults to today in the server time zone.
func (rt *Router) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var in services.CadenceSchedule
	if err := decodeJSON(r, &in); err != nil {
		rt.writeErr(w, r, err)
		return
	}
	if in.NextOccurrence.IsZero() {
		in.NextOccurrence = rt.today()
	}
	sch, err := rt.schedules.Create(r.Context(), in)
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	rt.audit(r, "schedule.create", sch.ID, sch.Frequency.String())
	writeJSON(w, http.StatusCreated, sch)
}

// GET /api/schedules/{id}
func (rt *Router) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sch, err := rt.schedules.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

// POST /api/schedules/{id}/deactivate
func (rt *Router) handleDeactivateSchedule(w http.ResponseWriter, r *http.Request) {
	sch, err := rt.schedules.Deactivate(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	rt.audit(r, "schedule.deactivate", sch.ID, "")
	writeJSON(w, http.StatusOK, sch)
}

// GET /api/schedules/{id}/next?ref=YYYY-MM-DD
// Computes the following occurrence without storing it.
func (rt *Router) handlePreviewSchedule(w http.ResponseWriter, r *http.Request) {
	ref, err := rt.dateParam(r, "ref")
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	next, err := rt.schedules.Preview(r.Context(), r.PathValue("id"), ref)
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schedule_id":     next.ID,
		"reference":       ref,
		"next_occurrence": next.NextOccurrence,
	})
}

// POST /api/cadence/tick?today=YYYY-MM-DD&dry_run=true
func (rt *Router) handleTick(w http.ResponseWriter, r *http.Request) {
	today, err := rt.dateParam(r, "today")
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	dryRun := false
	if v := r.URL.Query().Get("dry_run"); v != "" {
		if dryRun, err = strconv.ParseBool(v); err != nil {
			rt.writeErr(w, r, &services.ValidationError{Field: "dry_run", Reason: "expected a boolean"})
			return
		}
	}
	report, err := rt.dispatch.RunTick(r.Context(), today, dryRun)
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	if !dryRun {
		rt.audit(r, "cadence.tick", today.String(), strconv.Itoa(len(report.Sent))+" sent")
	}
	writeJSON(w, http.StatusOK, report)
}
