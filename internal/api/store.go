package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/soaringjerry/Pulse/internal/services"
)

// MemoryStore keeps everything in process memory. When created with a path it
// writes a JSON snapshot after every change and reloads it on start.
type MemoryStore struct {
	mu          sync.RWMutex
	templates   map[string][]services.Template
	submissions map[string]*services.Submission
	schedules   map[string]*services.CadenceSchedule
	plans       map[string]services.ContractPlan
	contacts    []services.ContactEvent
	audit       []AuditEntry
	snapshot    string
}

// snapshotData is the on-disk layout of a MemoryStore. Access token hashes
// are kept so public links survive a restart.
type snapshotData struct {
	Templates   map[string][]services.Template `json:"templates"`
	Submissions []snapshotSubmission           `json:"submissions"`
	Schedules   []*services.CadenceSchedule    `json:"schedules"`
	Plans       []services.ContractPlan        `json:"plans"`
	Contacts    []services.ContactEvent        `json:"contacts"`
	Audit       []AuditEntry                   `json:"audit"`
}

type snapshotSubmission struct {
	*services.Submission
	TokenHash []byte `json:"token_hash,omitempty"`
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates:   map[string][]services.Template{},
		submissions: map[string]*services.Submission{},
		schedules:   map[string]*services.CadenceSchedule{},
		plans:       map[string]services.ContractPlan{},
	}
}

// NewMemoryStoreFromPath loads the snapshot at path (if any) and keeps
// writing to it.
func NewMemoryStoreFromPath(path string) (*MemoryStore, error) {
	s := NewMemoryStore()
	s.snapshot = path
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var data snapshotData
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	for id, versions := range data.Templates {
		s.templates[id] = versions
	}
	for _, sub := range data.Submissions {
		if sub.Submission == nil {
			continue
		}
		cp := *sub.Submission
		cp.AccessTokenHash = sub.TokenHash
		s.submissions[cp.ID] = &cp
	}
	for _, sch := range data.Schedules {
		s.schedules[sch.ID] = sch
	}
	for _, p := range data.Plans {
		s.plans[p.ClientID] = p
	}
	s.contacts = data.Contacts
	s.audit = data.Audit
	return s, nil
}

// Snapshot returns a copy of the store contents in snapshot form.
func (s *MemoryStore) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.encodeLocked()
}

func (s *MemoryStore) encodeLocked() ([]byte, error) {
	data := snapshotData{
		Templates: s.templates,
		Contacts:  s.contacts,
		Audit:     s.audit,
	}
	for _, id := range sortedIDs(s.submissions) {
		sub := s.submissions[id]
		data.Submissions = append(data.Submissions, snapshotSubmission{Submission: sub, TokenHash: sub.AccessTokenHash})
	}
	for _, id := range sortedIDs(s.schedules) {
		data.Schedules = append(data.Schedules, s.schedules[id])
	}
	for _, id := range sortedIDs(s.plans) {
		data.Plans = append(data.Plans, s.plans[id])
	}
	return json.MarshalIndent(data, "", "  ")
}

// persistLocked writes the snapshot through a temp file and rename. Callers
// hold the write lock.
func (s *MemoryStore) persistLocked() error {
	if s.snapshot == "" {
		return nil
	}
	b, err := s.encodeLocked()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.snapshot); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.snapshot + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.snapshot)
}

func sortedIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func cloneSubmission(sub *services.Submission) *services.Submission {
	cp := *sub
	cp.Answers = append([]services.SubmissionAnswer(nil), sub.Answers...)
	cp.AccessTokenHash = append([]byte(nil), sub.AccessTokenHash...)
	if sub.Percentage != nil {
		p := *sub.Percentage
		cp.Percentage = &p
	}
	return &cp
}

// templates

// SaveTemplate appends a version; an existing (id, version) is a conflict.
func (s *MemoryStore) SaveTemplate(_ context.Context, t *services.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.templates[t.ID]
	for _, existing := range prev {
		if existing.Version == t.Version {
			return &services.SchedulingConflictError{Entity: "template", ID: t.ID, ExpectedVersion: int64(t.Version - 1)}
		}
	}
	s.templates[t.ID] = append(prev[:len(prev):len(prev)], *t)
	if err := s.persistLocked(); err != nil {
		if len(prev) == 0 {
			delete(s.templates, t.ID)
		} else {
			s.templates[t.ID] = prev
		}
		return err
	}
	return nil
}

func (s *MemoryStore) GetTemplate(_ context.Context, id string, version int) (*services.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.templates[id]
	if len(versions) == 0 {
		return nil, nil
	}
	if version == 0 {
		t := versions[len(versions)-1]
		return &t, nil
	}
	for _, t := range versions {
		if t.Version == version {
			cp := t
			return &cp, nil
		}
	}
	return nil, nil
}

// submissions

func (s *MemoryStore) CreateSubmission(_ context.Context, sub *services.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.submissions[sub.ID]; ok {
		return services.NewConflictError("submission already exists")
	}
	s.submissions[sub.ID] = cloneSubmission(sub)
	if err := s.persistLocked(); err != nil {
		delete(s.submissions, sub.ID)
		return err
	}
	return nil
}

func (s *MemoryStore) GetSubmission(_ context.Context, id string) (*services.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[id]
	if !ok {
		return nil, nil
	}
	return cloneSubmission(sub), nil
}

func (s *MemoryStore) UpdateSubmission(_ context.Context, sub *services.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.submissions[sub.ID]
	if !ok {
		return services.NewNotFoundError("submission not found")
	}
	if cur.Version != sub.Version {
		return &services.SchedulingConflictError{Entity: "submission", ID: sub.ID, ExpectedVersion: sub.Version}
	}
	sub.Version++
	s.submissions[sub.ID] = cloneSubmission(sub)
	if err := s.persistLocked(); err != nil {
		s.submissions[sub.ID] = cur
		sub.Version--
		return err
	}
	return nil
}

func (s *MemoryStore) ListOpenSubmissions(_ context.Context) ([]*services.Submission, error) {
	return s.listSubmissions(func(sub *services.Submission) bool { return sub.Status.Open() }), nil
}

func (s *MemoryStore) ListSubmissionsByTemplate(_ context.Context, templateID string) ([]*services.Submission, error) {
	return s.listSubmissions(func(sub *services.Submission) bool { return sub.TemplateID == templateID }), nil
}

func (s *MemoryStore) listSubmissions(keep func(*services.Submission) bool) []*services.Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.Submission{}
	for _, id := range sortedIDs(s.submissions) {
		if sub := s.submissions[id]; keep(sub) {
			out = append(out, cloneSubmission(sub))
		}
	}
	return out
}

// schedules

func (s *MemoryStore) CreateSchedule(_ context.Context, sch *services.CadenceSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[sch.ID]; ok {
		return services.NewConflictError("schedule already exists")
	}
	cp := *sch
	s.schedules[sch.ID] = &cp
	if err := s.persistLocked(); err != nil {
		delete(s.schedules, sch.ID)
		return err
	}
	return nil
}

func (s *MemoryStore) GetSchedule(_ context.Context, id string) (*services.CadenceSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sch, ok := s.schedules[id]
	if !ok {
		return nil, nil
	}
	cp := *sch
	return &cp, nil
}

func (s *MemoryStore) UpdateSchedule(_ context.Context, sch *services.CadenceSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.schedules[sch.ID]
	if !ok {
		return services.NewNotFoundError("schedule not found")
	}
	if cur.Version != sch.Version {
		return &services.SchedulingConflictError{Entity: "schedule", ID: sch.ID, ExpectedVersion: sch.Version}
	}
	sch.Version++
	cp := *sch
	s.schedules[sch.ID] = &cp
	if err := s.persistLocked(); err != nil {
		s.schedules[sch.ID] = cur
		sch.Version--
		return err
	}
	return nil
}

func (s *MemoryStore) ListActiveSchedules(_ context.Context) ([]services.CadenceSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []services.CadenceSchedule{}
	for _, id := range sortedIDs(s.schedules) {
		if sch := s.schedules[id]; sch.Active {
			out = append(out, *sch)
		}
	}
	return out, nil
}

// clients

func (s *MemoryStore) UpsertPlan(_ context.Context, p services.ContractPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.ClientID] = p
	return s.persistLocked()
}

func (s *MemoryStore) GetPlan(_ context.Context, clientID string) (*services.ContractPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[clientID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *MemoryStore) ListPlans(_ context.Context) ([]services.ContractPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]services.ContractPlan, 0, len(s.plans))
	for _, id := range sortedIDs(s.plans) {
		out = append(out, s.plans[id])
	}
	return out, nil
}

func (s *MemoryStore) AddContact(_ context.Context, ev services.ContactEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = append(s.contacts, ev)
	return s.persistLocked()
}

func (s *MemoryStore) ListContacts(_ context.Context, clientID string) ([]services.ContactEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []services.ContactEvent{}
	for _, ev := range s.contacts {
		if clientID == "" || ev.ClientID == clientID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// audit log

func (s *MemoryStore) AddAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return s.persistLocked()
}

// ListAudit returns the newest limit entries, newest first. limit <= 0 means
// all of them.
func (s *MemoryStore) ListAudit(_ context.Context, limit int) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.audit)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]AuditEntry, 0, n)
	for i := len(s.audit) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.audit[i])
	}
	return out, nil
}

// CopyTo writes the whole store into dst, keeping ids, versions and token
// hashes. It is used to move a snapshot into a SQL database on first start.
func (s *MemoryStore) CopyTo(ctx context.Context, dst Store) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range sortedIDs(s.templates) {
		for _, t := range s.templates[id] {
			t := t
			if err := dst.SaveTemplate(ctx, &t); err != nil {
				return fmt.Errorf("template %s: %w", id, err)
			}
		}
	}
	for _, id := range sortedIDs(s.submissions) {
		if err := dst.CreateSubmission(ctx, cloneSubmission(s.submissions[id])); err != nil {
			return fmt.Errorf("submission %s: %w", id, err)
		}
	}
	for _, id := range sortedIDs(s.schedules) {
		sch := *s.schedules[id]
		if err := dst.CreateSchedule(ctx, &sch); err != nil {
			return fmt.Errorf("schedule %s: %w", id, err)
		}
	}
	for _, id := range sortedIDs(s.plans) {
		if err := dst.UpsertPlan(ctx, s.plans[id]); err != nil {
			return fmt.Errorf("plan %s: %w", id, err)
		}
	}
	for _, ev := range s.contacts {
		if err := dst.AddContact(ctx, ev); err != nil {
			return fmt.Errorf("contact %s: %w", ev.ClientID, err)
		}
	}
	for _, e := range s.audit {
		if err := dst.AddAudit(ctx, e); err != nil {
			return fmt.Errorf("audit: %w", err)
		}
	}
	return nil
}
