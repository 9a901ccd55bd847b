package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/soaringjerry/Pulse/internal/calendar"
	"github.com/soaringjerry/Pulse/internal/middleware"
	"github.com/soaringjerry/Pulse/internal/services"
	"github.com/soaringjerry/Pulse/internal/utils"
)

// maxBodyBytes caps request bodies; answer batches are small.
const maxBodyBytes = 1 << 20

// Deps are the collaborators a Router is built from. Only Store is required.
type Deps struct {
	Store      Store
	Engine     *services.Engine
	Logger     *slog.Logger
	Limiter    *middleware.IPRateLimiter
	Location   *time.Location
	Dispatcher services.Dispatcher
}

type Router struct {
	store   Store
	engine  *services.Engine
	logger  *slog.Logger
	limiter *middleware.IPRateLimiter
	loc     *time.Location
	now     func() time.Time

	templates   *services.TemplateService
	submissions *services.SubmissionService
	schedules   *services.ScheduleService
	dispatch    *services.DispatchService
	board       *services.ClientBoardService
	analytics   *services.AnalyticsService
	export      *services.ExportService
}

func NewRouter(d Deps) *Router {
	if d.Engine == nil {
		d.Engine = services.MustEngine()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Limiter == nil {
		d.Limiter = middleware.NewIPRateLimiter(2, 10)
	}
	if d.Dispatcher == nil {
		d.Dispatcher = services.DispatcherFunc(func(ctx context.Context, n services.Notification) error {
			d.Logger.Info("notification", "schedule", n.ScheduleID, "client", n.ClientID, "submission", n.SubmissionID)
			return nil
		})
	}
	e := d.Engine
	subs := services.NewSubmissionService(d.Store, e.Aggregator, d.Logger)
	subs.SetLocation(d.Location)
	return &Router{
		store:       d.Store,
		engine:      e,
		logger:      d.Logger,
		limiter:     d.Limiter,
		loc:         d.Location,
		now:         time.Now,
		templates:   services.NewTemplateService(d.Store),
		submissions: subs,
		schedules:   services.NewScheduleService(d.Store, d.Store, e.Scheduler),
		dispatch:    services.NewDispatchService(d.Store, e.Scheduler, subs, d.Dispatcher, d.Logger),
		board:       services.NewClientBoardService(d.Store, e.Clock, e.Risk, d.Logger),
		analytics:   services.NewAnalyticsService(d.Store),
		export:      services.NewExportService(d.Store),
	}
}

// Register mounts every route on mux. Professional routes require a bearer
// token; the public answer route is rate limited per IP instead.
func (rt *Router) Register(mux *http.ServeMux) {
	pro := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware.RequireAuth(h))
	}
	mux.HandleFunc("GET /health", rt.handleHealth)

	pro("POST /api/templates", rt.handleSaveTemplate)
	pro("GET /api/templates/{id}", rt.handleGetTemplate)
	pro("GET /api/templates/{id}/analytics", rt.handleTemplateAnalytics)
	pro("GET /api/templates/{id}/export", rt.handleTemplateExport)

	pro("PUT /api/clients/{id}/plan", rt.handleSetPlan)
	pro("GET /api/clients/{id}/cycle", rt.handleCycle)
	pro("POST /api/clients/{id}/contacts", rt.handleAddContact)
	pro("GET /api/clients/{id}/contacts", rt.handleListContacts)
	pro("GET /api/clients/{id}/risk", rt.handleRisk)
	pro("GET /api/board", rt.handleBoard)

	pro("POST /api/submissions", rt.handleCreateSubmission)
	pro("GET /api/submissions/{id}", rt.handleGetSubmission)
	pro("PUT /api/submissions/{id}/notes", rt.handleSubmissionNotes)
	pro("POST /api/submissions/{id}/answers", rt.handleSubmissionAnswers)
	pro("POST /api/submissions/{id}/complete", rt.handleCompleteSubmission)
	pro("POST /api/submissions/{id}/expire", rt.handleExpireSubmission)

	pro("POST /api/schedules", rt.handleCreateSchedule)
	pro("GET /api/schedules/{id}", rt.handleGetSchedule)
	pro("POST /api/schedules/{id}/deactivate", rt.handleDeactivateSchedule)
	pro("GET /api/schedules/{id}/next", rt.handlePreviewSchedule)
	pro("POST /api/cadence/tick", rt.handleTick)
	pro("GET /api/audit", rt.handleAudit)

	mux.Handle("POST /api/public/submissions/{id}/answers",
		middleware.Chain(http.HandlerFunc(rt.handlePublicAnswers), rt.limiter.Middleware, middleware.NoStore))
}

// Handler returns the routes wrapped in the auth and locale middleware.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	rt.Register(mux)
	return middleware.Chain(mux, middleware.WithAuth, middleware.LocaleMiddleware)
}

// GET /health
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	loc := middleware.LocaleFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"status": utils.T(loc, "health.ok"), "today": rt.today()})
}

// GET /api/audit?limit=50
func (rt *Router) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			rt.writeErr(w, r, services.NewInvalidError("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	entries, err := rt.store.ListAudit(r.Context(), limit)
	if err != nil {
		rt.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (rt *Router) today() calendar.Date {
	return calendar.In(rt.now(), rt.loc)
}

// dateParam reads a YYYY-MM-DD query parameter, defaulting to today.
func (rt *Router) dateParam(r *http.Request, name string) (calendar.Date, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return rt.today(), nil
	}
	d, err := calendar.Parse(v)
	if err != nil {
		return calendar.Date{}, &services.ValidationError{Field: name, Reason: err.Error()}
	}
	return d, nil
}

// audit records a write. Failures are logged and otherwise ignored.
func (rt *Router) audit(r *http.Request, action, target, note string) {
	actor := "anonymous"
	if c, ok := middleware.ClaimsFromContext(r.Context()); ok {
		actor = c.UID
	}
	workspace, _ := middleware.WorkspaceIDFromContext(r.Context())
	e := AuditEntry{Time: rt.now().UTC(), Actor: actor, Workspace: workspace, Action: action, Target: target, Note: note}
	if err := rt.store.AddAudit(r.Context(), e); err != nil {
		rt.logger.Warn("audit write failed", "action", action, "target", target, "err", err)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return services.NewInvalidError("request body required")
		}
		return services.NewInvalidError("invalid json: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
