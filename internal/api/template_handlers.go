package api

import (
	"net/http"
	"strconv"

	"github.com/soaringjerry/Pulse/internal/services"
)

// POST /api/templates
// Saving an existing id stores a new version; older versions stay readable.
func (rt *Router) handleSaveTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl services.Template
	if err := decodeJSON(r, &tpl); err != nil {
		rt.writeErr(w, r, err)
		return
	}
	saved, err := rt.templates.Save(r.Context(), tpl)
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	rt.audit(r, "template.save", saved.ID, "v"+strconv.Itoa(saved.Version))
	writeJSON(w, http.StatusCreated, saved)
}

// GET /api/templates/{id}?version=N
func (rt *Router) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	version := 0
	if v := r.URL.Query().Get("version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			rt.writeErr(w, r, services.NewInvalidError("version must be a positive integer"))
			return
		}
		version = n
	}
	tpl, err := rt.templates.Get(r.Context(), r.PathValue("id"), version)
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

// GET /api/templates/{id}/analytics
func (rt *Router) handleTemplateAnalytics(w http.ResponseWriter, r *http.Request) {
	sum, err := rt.analytics.Summary(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// GET /api/templates/{id}/export?format=long|wide|score|questions&status=completed
func (rt *Router) handleTemplateExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := rt.export.ExportCSV(r.Context(), services.ExportParams{
		TemplateID: r.PathValue("id"),
		Format:     q.Get("format"),
		Status:     services.SubmissionStatus(q.Get("status")),
	})
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+res.Filename)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}
