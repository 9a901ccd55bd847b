package api

import (
	"context"
	"time"

	"github.com/soaringjerry/Pulse/internal/services"
)

// Store is everything the HTTP layer persists. The in-memory store and the
// SQL store in internal/db both implement it.
type Store interface {
	services.SubmissionStore
	services.ScheduleStore
	services.ClientStore
	ListSubmissionsByTemplate(ctx context.Context, templateID string) ([]*services.Submission, error)

	AddAudit(ctx context.Context, e AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]AuditEntry, error)
}

// AuditEntry records a write made by a professional or the cadence tick.
type AuditEntry struct {
	Time      time.Time `json:"time"`
	Actor     string    `json:"actor"`
	Workspace string    `json:"workspace,omitempty"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Note      string    `json:"note,omitempty"`
}

var (
	_ Store                   = (*MemoryStore)(nil)
	_ services.AnalyticsStore = (Store)(nil)
)
