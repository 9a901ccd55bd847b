package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/Pulse/internal/calendar"
	"github.com/soaringjerry/Pulse/internal/services"
)

func TestWebhookSendsSignedJSON(t *testing.T) {
	var got map[string]any
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		sig = r.Header.Get(SignatureHeader)
		assert.Equal(t, Sign("s3cret", body), sig)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, "s3cret").Send(context.Background(), services.Notification{
		ScheduleID: "sch1", ClientID: "ana", SubmissionID: "sub1", AccessToken: "tok",
		Date: calendar.MustParse("2024-03-04"), Deadline: calendar.MustParse("2024-03-10"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
	assert.Equal(t, "ana", got["client_id"])
	assert.Equal(t, "2024-03-10", got["deadline"])
}

func TestWebhookRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, "")
	err := w.Send(context.Background(), services.Notification{ScheduleID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "queue full")
}
