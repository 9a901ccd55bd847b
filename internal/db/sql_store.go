package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/soaringjerry/Pulse/internal/api"
	"github.com/soaringjerry/Pulse/internal/calendar"
	"github.com/soaringjerry/Pulse/internal/services"
)

// Dialect names the database/sql driver the store talks to. Queries use $N
// placeholders, which both SQLite drivers and pgx accept.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "pgx"
)

// SQLStore implements api.Store on SQLite or PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// NewSQLStore wraps db. SQLite connections get the pragmas the store relies
// on; both SQLite drivers are treated alike.
func NewSQLStore(db *sql.DB, dialect Dialect, logger *slog.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if dialect != DialectPostgres {
		dialect = DialectSQLite
		pragmas := []string{
			"PRAGMA foreign_keys = ON",
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA busy_timeout = 5000",
		}
		for _, stmt := range pragmas {
			if _, err := db.Exec(stmt); err != nil {
				return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
			}
		}
	}
	return &SQLStore{db: db, dialect: dialect, logger: logger}, nil
}

func (s *SQLStore) logErr(prefix string, err error) {
	if err != nil {
		s.logger.Warn("sql store: "+prefix, "dialect", string(s.dialect), "err", err)
	}
}

// timeLayout keeps a fixed number of fractional digits so stored timestamps
// sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func (s *SQLStore) parseTime(field, v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	s.logErr("parse "+field, err)
	return t
}

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// templates

func (s *SQLStore) SaveTemplate(ctx context.Context, t *services.Template) error {
	questions, err := encodeJSON(t.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO templates (id, version, name, questions, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id, version) DO NOTHING`,
		t.ID, t.Version, t.Name, questions, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert template %s v%d: %w", t.ID, t.Version, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert template %s v%d: %w", t.ID, t.Version, err)
	}
	if n == 0 {
		return &services.SchedulingConflictError{Entity: "template", ID: t.ID, ExpectedVersion: int64(t.Version - 1)}
	}
	return nil
}

func (s *SQLStore) GetTemplate(ctx context.Context, id string, version int) (*services.Template, error) {
	var row *sql.Row
	if version == 0 {
		row = s.db.QueryRowContext(ctx,
			`SELECT id, version, name, questions FROM templates WHERE id = $1 ORDER BY version DESC LIMIT 1`, id)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT id, version, name, questions FROM templates WHERE id = $1 AND version = $2`, id, version)
	}
	var (
		t         services.Template
		questions string
	)
	if err := row.Scan(&t.ID, &t.Version, &t.Name, &questions); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get template %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(questions), &t.Questions); err != nil {
		return nil, fmt.Errorf("decode questions of %s: %w", id, err)
	}
	return &t, nil
}

// submissions

const submissionColumns = `id, template_id, template_version, client_id, schedule_id, answers, total_points,
	max_points, percentage, overall_indicator, status, deadline, notes, access_token_hash, version,
	created_at, updated_at`

func (s *SQLStore) CreateSubmission(ctx context.Context, sub *services.Submission) error {
	answers, err := encodeJSON(sub.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO submissions (`+submissionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		sub.ID, sub.TemplateID, sub.TemplateVersion, sub.ClientID, sub.ScheduleID, answers, sub.TotalPoints,
		sub.MaxPoints, nullFloat(sub.Percentage), string(sub.OverallIndicator), string(sub.Status), sub.Deadline,
		sub.Notes, string(sub.AccessTokenHash), sub.Version, formatTime(sub.CreatedAt), formatTime(sub.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert submission %s: %w", sub.ID, err)
	}
	return nil
}

func (s *SQLStore) GetSubmission(ctx context.Context, id string) (*services.Submission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
	sub, err := s.scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get submission %s: %w", id, err)
	}
	return sub, nil
}

// UpdateSubmission writes sub only if the stored version still equals
// sub.Version, then bumps it.
func (s *SQLStore) UpdateSubmission(ctx context.Context, sub *services.Submission) error {
	answers, err := encodeJSON(sub.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE submissions SET
		answers = $1, total_points = $2, max_points = $3, percentage = $4, overall_indicator = $5,
		status = $6, deadline = $7, notes = $8, version = version + 1, updated_at = $9
		WHERE id = $10 AND version = $11`,
		answers, sub.TotalPoints, sub.MaxPoints, nullFloat(sub.Percentage), string(sub.OverallIndicator),
		string(sub.Status), sub.Deadline, sub.Notes, formatTime(sub.UpdatedAt), sub.ID, sub.Version)
	if err != nil {
		return fmt.Errorf("update submission %s: %w", sub.ID, err)
	}
	if err := s.checkVersioned(ctx, res, "submissions", "submission", sub.ID, sub.Version); err != nil {
		return err
	}
	sub.Version++
	return nil
}

func (s *SQLStore) ListOpenSubmissions(ctx context.Context) ([]*services.Submission, error) {
	return s.querySubmissions(ctx, `SELECT `+submissionColumns+` FROM submissions
		WHERE status IN ($1, $2) ORDER BY id`, string(services.StatusPending), string(services.StatusPartial))
}

func (s *SQLStore) ListSubmissionsByTemplate(ctx context.Context, templateID string) ([]*services.Submission, error) {
	return s.querySubmissions(ctx, `SELECT `+submissionColumns+` FROM submissions
		WHERE template_id = $1 ORDER BY id`, templateID)
}

func (s *SQLStore) querySubmissions(ctx context.Context, query string, args ...any) ([]*services.Submission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()
	out := []*services.Submission{}
	for rows.Next() {
		sub, err := s.scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQLStore) scanSubmission(row rowScanner) (*services.Submission, error) {
	var (
		sub                  services.Submission
		answers, indicator   string
		status, tokenHash    string
		createdAt, updatedAt string
		pct                  sql.NullFloat64
	)
	err := row.Scan(&sub.ID, &sub.TemplateID, &sub.TemplateVersion, &sub.ClientID, &sub.ScheduleID, &answers,
		&sub.TotalPoints, &sub.MaxPoints, &pct, &indicator, &status, &sub.Deadline, &sub.Notes, &tokenHash,
		&sub.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(answers) != "" {
		if err := json.Unmarshal([]byte(answers), &sub.Answers); err != nil {
			s.logErr("decode answers of "+sub.ID, err)
		}
	}
	if pct.Valid {
		p := pct.Float64
		sub.Percentage = &p
	}
	sub.OverallIndicator = services.Indicator(indicator)
	sub.Status = services.SubmissionStatus(status)
	if tokenHash != "" {
		sub.AccessTokenHash = []byte(tokenHash)
	}
	sub.CreatedAt = s.parseTime("created_at", createdAt)
	sub.UpdatedAt = s.parseTime("updated_at", updatedAt)
	return &sub, nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

// checkVersioned turns a versioned UPDATE that touched no row into either a
// not-found or a conflict error.
func (s *SQLStore) checkVersioned(ctx context.Context, res sql.Result, table, entity, id string, expected int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return services.NewNotFoundError(entity + " not found")
	}
	if err != nil {
		return fmt.Errorf("check %s %s: %w", entity, id, err)
	}
	return &services.SchedulingConflictError{Entity: entity, ID: id, ExpectedVersion: expected}
}

// schedules

const scheduleColumns = `id, client_id, template_id, frequency, send_time, anchor_day, next_occurrence,
	last_dispatched_date, active, version, created_at, updated_at`

func (s *SQLStore) CreateSchedule(ctx context.Context, sch *services.CadenceSchedule) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO schedules (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sch.ID, sch.ClientID, sch.TemplateID, sch.Frequency.String(), sch.SendTime, sch.AnchorDay,
		sch.NextOccurrence, sch.LastDispatchedDate, boolToInt64(sch.Active), sch.Version,
		formatTime(sch.CreatedAt), formatTime(sch.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert schedule %s: %w", sch.ID, err)
	}
	return nil
}

func (s *SQLStore) GetSchedule(ctx context.Context, id string) (*services.CadenceSchedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id)
	sch, err := s.scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %s: %w", id, err)
	}
	return sch, nil
}

func (s *SQLStore) UpdateSchedule(ctx context.Context, sch *services.CadenceSchedule) error {
	res, err := s.db.ExecContext(ctx, `UPDATE schedules SET
		frequency = $1, send_time = $2, anchor_day = $3, next_occurrence = $4, last_dispatched_date = $5,
		active = $6, version = version + 1, updated_at = $7
		WHERE id = $8 AND version = $9`,
		sch.Frequency.String(), sch.SendTime, sch.AnchorDay, sch.NextOccurrence, sch.LastDispatchedDate,
		boolToInt64(sch.Active), formatTime(sch.UpdatedAt), sch.ID, sch.Version)
	if err != nil {
		return fmt.Errorf("update schedule %s: %w", sch.ID, err)
	}
	if err := s.checkVersioned(ctx, res, "schedules", "schedule", sch.ID, sch.Version); err != nil {
		return err
	}
	sch.Version++
	return nil
}

func (s *SQLStore) ListActiveSchedules(ctx context.Context) ([]services.CadenceSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	out := []services.CadenceSchedule{}
	for rows.Next() {
		sch, err := s.scanSchedule(rows)
		if err != nil {
			// one bad row must not stop every other client's cadence
			s.logErr("scan schedule", err)
			continue
		}
		out = append(out, *sch)
	}
	return out, rows.Err()
}

func (s *SQLStore) scanSchedule(row rowScanner) (*services.CadenceSchedule, error) {
	var (
		sch                  services.CadenceSchedule
		freq                 string
		active               int64
		createdAt, updatedAt string
	)
	err := row.Scan(&sch.ID, &sch.ClientID, &sch.TemplateID, &freq, &sch.SendTime, &sch.AnchorDay,
		&sch.NextOccurrence, &sch.LastDispatchedDate, &active, &sch.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	f, err := services.ParseFrequency(freq)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", sch.ID, err)
	}
	sch.Frequency = f
	sch.Active = active != 0
	sch.CreatedAt = s.parseTime("created_at", createdAt)
	sch.UpdatedAt = s.parseTime("updated_at", updatedAt)
	return &sch, nil
}

// clients

func (s *SQLStore) UpsertPlan(ctx context.Context, p services.ContractPlan) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO client_plans (client_id, start_date, contract_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (client_id) DO UPDATE SET start_date = excluded.start_date, contract_type = excluded.contract_type`,
		p.ClientID, p.StartDate, string(p.ContractType))
	if err != nil {
		return fmt.Errorf("upsert plan %s: %w", p.ClientID, err)
	}
	return nil
}

func (s *SQLStore) GetPlan(ctx context.Context, clientID string) (*services.ContractPlan, error) {
	var (
		p  services.ContractPlan
		ct string
	)
	err := s.db.QueryRowContext(ctx, `SELECT client_id, start_date, contract_type FROM client_plans WHERE client_id = $1`,
		clientID).Scan(&p.ClientID, &p.StartDate, &ct)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get plan %s: %w", clientID, err)
	}
	p.ContractType = services.ContractType(ct)
	return &p, nil
}

func (s *SQLStore) ListPlans(ctx context.Context) ([]services.ContractPlan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT client_id, start_date, contract_type FROM client_plans ORDER BY client_id`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()
	out := []services.ContractPlan{}
	for rows.Next() {
		var (
			p  services.ContractPlan
			ct string
		)
		if err := rows.Scan(&p.ClientID, &p.StartDate, &ct); err != nil {
			s.logErr("scan plan", err)
			continue
		}
		p.ContractType = services.ContractType(ct)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) AddContact(ctx context.Context, ev services.ContactEvent) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO contact_events (client_id, occurred_at, channel, note) VALUES ($1, $2, $3, $4)`,
		ev.ClientID, ev.OccurredAt, ev.Channel, ev.Note)
	if err != nil {
		return fmt.Errorf("insert contact for %s: %w", ev.ClientID, err)
	}
	return nil
}

// ListContacts returns the contact log of clientID, or every client when
// clientID is empty. Rows with unreadable dates come back with a zero date
// so the risk monitor can flag them.
func (s *SQLStore) ListContacts(ctx context.Context, clientID string) ([]services.ContactEvent, error) {
	query := `SELECT client_id, occurred_at, channel, note FROM contact_events`
	var args []any
	if clientID != "" {
		query += ` WHERE client_id = $1`
		args = append(args, clientID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()
	out := []services.ContactEvent{}
	for rows.Next() {
		var (
			ev       services.ContactEvent
			occurred sql.NullString
		)
		if err := rows.Scan(&ev.ClientID, &occurred, &ev.Channel, &ev.Note); err != nil {
			s.logErr("scan contact", err)
			continue
		}
		if occurred.Valid {
			d, err := calendar.Parse(occurred.String)
			s.logErr("parse contact date of "+ev.ClientID, err)
			ev.OccurredAt = d
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// audit log

func (s *SQLStore) AddAudit(ctx context.Context, e api.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_log (at, actor, workspace, action, target, note) VALUES ($1, $2, $3, $4, $5, $6)`,
		formatTime(e.Time), e.Actor, e.Workspace, e.Action, e.Target, e.Note)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func (s *SQLStore) ListAudit(ctx context.Context, limit int) ([]api.AuditEntry, error) {
	query := `SELECT at, actor, workspace, action, target, note FROM audit_log ORDER BY at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	out := []api.AuditEntry{}
	for rows.Next() {
		var (
			e  api.AuditEntry
			at string
		)
		if err := rows.Scan(&at, &e.Actor, &e.Workspace, &e.Action, &e.Target, &e.Note); err != nil {
			s.logErr("scan audit", err)
			continue
		}
		e.Time = s.parseTime("audit time", at)
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ api.Store = (*SQLStore)(nil)
