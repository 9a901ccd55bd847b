package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/Pulse/internal/middleware"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	store   *MemoryStore
	token   string
}

func newTestServer(t *testing.T, limiter *middleware.IPRateLimiter) *testServer {
	t.Helper()
	store := NewMemoryStore()
	rt := NewRouter(Deps{Store: store, Limiter: limiter})
	rt.now = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) }
	tok, err := middleware.SignToken("u1", "w1", "coach@example.com", time.Hour)
	require.NoError(t, err)
	return &testServer{t: t, handler: rt.Handler(), store: store, token: tok}
}

func (s *testServer) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if !strings.HasPrefix(path, "/api/public/") {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

var checkin = map[string]any{
	"id":   "checkin",
	"name": "Weekly check-in",
	"questions": []map[string]any{
		{"id": "energy", "type": "likert5", "required": true},
		{"id": "adherence", "type": "select_scored", "required": true, "scoring_map": map[string]int{"none": 0, "partial": 3, "full": 5}},
		{"id": "notes", "type": "free_text"},
	},
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2024-01-15", decode(t, rec)["today"])
}

func TestProfessionalRoutesNeedToken(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/board", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode(t, rec)["error"])
}

func TestClientCycleRiskAndBoard(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPut, "/api/clients/ana/plan", map[string]any{"contract_type": "Quarterly", "start_date": "2024-01-01"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "quarterly", decode(t, rec)["contract_type"])

	rec = s.do(http.MethodPut, "/api/clients/bia/plan", map[string]any{"contract_type": "lifetime"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "contract_type", decode(t, rec)["field"])

	rec = s.do(http.MethodGet, "/api/clients/ana/cycle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pos := decode(t, rec)
	assert.EqualValues(t, 1, pos["cycle"])
	assert.EqualValues(t, 3, pos["week_in_cycle"])

	rec = s.do(http.MethodGet, "/api/clients/ghost/cycle", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(http.MethodGet, "/api/clients/ana/cycle?today=someday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/clients/ana/contacts", map[string]any{"occurred_at": "2024-01-05", "channel": "whatsapp"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(http.MethodPost, "/api/clients/caio/contacts", map[string]any{})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "2024-01-15", decode(t, rec)["occurred_at"])

	rec = s.do(http.MethodGet, "/api/clients/ana/risk", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	risk := decode(t, rec)
	assert.Equal(t, "watch", risk["tier"])
	assert.EqualValues(t, 10, risk["days_since"])

	rec = s.do(http.MethodGet, "/api/board?min_tier=watch", nil, "Accept-Language", "pt-BR,pt;q=0.9")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pt", rec.Header().Get("Content-Language"))
	board := decode(t, rec)
	rows := board["rows"].([]any)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	assert.Equal(t, "ana", row["client_id"])
	assert.Equal(t, "Atenção", row["risk"].(map[string]any)["tier_label"])
	assert.NotNil(t, row["position"])
	assert.EqualValues(t, 1, board["tally"].(map[string]any)["ok"])

	rec = s.do(http.MethodGet, "/api/board?min_tier=panic", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmissionFlow(t *testing.T) {
	s := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/templates", checkin).Code)

	rec := s.do(http.MethodPost, "/api/submissions", map[string]any{"template_id": "checkin", "client_id": "ana"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	token := created["access_token"].(string)
	id := created["submission"].(map[string]any)["id"].(string)
	assert.NotEmpty(t, token)
	assert.Equal(t, "pending", created["submission"].(map[string]any)["status"])

	answers := func(a ...map[string]any) map[string]any { return map[string]any{"answers": a} }

	rec = s.do(http.MethodPost, "/api/public/submissions/"+id+"/answers", answers(map[string]any{"question_id": "energy", "raw": 4}), "X-Access-Token", "nope")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/api/public/submissions/"+id+"/answers", map[string]any{
		"access_token": token,
		"answers":      []map[string]any{{"question_id": "adherence", "raw": "maybe"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_option", decode(t, rec)["error"])

	rec = s.do(http.MethodPost, "/api/submissions/"+id+"/complete", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.ElementsMatch(t, []any{"energy", "adherence"}, decode(t, rec)["missing"])

	rec = s.do(http.MethodPost, "/api/public/submissions/"+id+"/answers", answers(
		map[string]any{"question_id": "energy", "raw": 4},
		map[string]any{"question_id": "adherence", "raw": "partial"},
	), "X-Access-Token", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	public := decode(t, rec)
	assert.Equal(t, "completed", public["status"])
	assert.NotContains(t, public, "total_points")

	rec = s.do(http.MethodGet, "/api/submissions/"+id+"?lang=pt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sub := decode(t, rec)
	assert.EqualValues(t, 7, sub["total_points"])
	assert.Equal(t, "green", sub["overall_indicator"])
	assert.Equal(t, "Concluído", sub["status_label"])

	rec = s.do(http.MethodPut, "/api/submissions/"+id+"/notes", map[string]any{"notes": "call friday"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "call friday", decode(t, rec)["notes"])

	rec = s.do(http.MethodPost, "/api/submissions/"+id+"/answers", answers(map[string]any{"question_id": "energy", "raw": 1}))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "completed submissions are read-only")

	rec = s.do(http.MethodGet, "/api/templates/checkin/analytics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["submissions"])

	rec = s.do(http.MethodGet, "/api/templates/checkin/export?format=score", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "checkin_score_")
	assert.Contains(t, rec.Body.String(), id+",ana,completed,7,10,0.7,green,")

	rec = s.do(http.MethodGet, "/api/submissions/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/audit?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode(t, rec)["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "submission.notes", entries[0].(map[string]any)["action"])
	assert.Equal(t, "u1", entries[0].(map[string]any)["actor"])
	assert.Equal(t, "w1", entries[0].(map[string]any)["workspace"])
}

func TestExpireRoute(t *testing.T) {
	s := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/templates", checkin).Code)
	rec := s.do(http.MethodPost, "/api/submissions", map[string]any{"template_id": "checkin", "client_id": "ana", "deadline": "2024-01-10"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode(t, rec)["submission"].(map[string]any)["id"].(string)

	rec = s.do(http.MethodPost, "/api/submissions/"+id+"/expire", map[string]any{"today": "2024-01-10"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["changed"])

	rec = s.do(http.MethodPost, "/api/submissions/"+id+"/expire", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, true, out["changed"])
	assert.Equal(t, "expired", out["submission"].(map[string]any)["status"])
}

func TestSchedulesAndTick(t *testing.T) {
	s := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/templates", checkin).Code)

	rec := s.do(http.MethodPost, "/api/schedules", map[string]any{
		"id": "weekly-ana", "client_id": "ana", "template_id": "checkin",
		"frequency": "weekly", "send_time": "08:30",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "2024-01-15", decode(t, rec)["next_occurrence"])

	rec = s.do(http.MethodPost, "/api/schedules", map[string]any{"client_id": "ana", "template_id": "checkin", "frequency": "fortnightly"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/schedules/weekly-ana/next?ref=2024-01-15", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2024-01-22", decode(t, rec)["next_occurrence"])

	rec = s.do(http.MethodPost, "/api/cadence/tick?dry_run=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dry := decode(t, rec)
	assert.Equal(t, []any{"weekly-ana"}, dry["due"])
	assert.Empty(t, dry["sent"])

	rec = s.do(http.MethodPost, "/api/cadence/tick", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"weekly-ana"}, decode(t, rec)["sent"])

	rec = s.do(http.MethodPost, "/api/cadence/tick?today=2024-01-15", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode(t, rec)
	assert.Empty(t, again["sent"])
	assert.EqualValues(t, 1, again["already_dispatched"])

	rec = s.do(http.MethodGet, "/api/schedules/weekly-ana", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sch := decode(t, rec)
	assert.Equal(t, "2024-01-22", sch["next_occurrence"])
	assert.Equal(t, "2024-01-15", sch["last_dispatched_date"])

	rec = s.do(http.MethodPost, "/api/schedules/weekly-ana/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["active"])

	open, err := s.store.ListOpenSubmissions(t.Context())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "weekly-ana", open[0].ScheduleID)
	assert.Equal(t, "2024-01-21", open[0].Deadline.String())
}

func TestPublicAnswersAreRateLimited(t *testing.T) {
	s := newTestServer(t, middleware.NewIPRateLimiter(0.001, 1))
	body := map[string]any{"answers": []map[string]any{}}
	first := s.do(http.MethodPost, "/api/public/submissions/x/answers", body)
	assert.Equal(t, http.StatusNotFound, first.Code)
	second := s.do(http.MethodPost, "/api/public/submissions/x/answers", body)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Contains(t, first.Header().Get("Cache-Control"), "no-store")
}
