package services

import (
	"context"
	"sort"
	"sync"
)

// fakeStore is an in-memory implementation of every store interface the
// workflow services use. conflictsLeft makes the next N optimistic writes
// fail as if another writer got there first.
type fakeStore struct {
	mu            sync.Mutex
	templates     map[string][]Template
	submissions   map[string]Submission
	schedules     map[string]CadenceSchedule
	plans         map[string]ContractPlan
	contacts      []ContactEvent
	conflictsLeft int
	beforeUpdate  func()
	updates       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		templates:   map[string][]Template{},
		submissions: map[string]Submission{},
		schedules:   map[string]CadenceSchedule{},
		plans:       map[string]ContractPlan{},
	}
}

func (f *fakeStore) SaveTemplate(_ context.Context, t *Template) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.templates[t.ID] {
		if existing.Version == t.Version {
			return &SchedulingConflictError{Entity: "template", ID: t.ID, ExpectedVersion: int64(t.Version - 1)}
		}
	}
	f.templates[t.ID] = append(f.templates[t.ID], *t)
	return nil
}

func (f *fakeStore) GetTemplate(_ context.Context, id string, version int) (*Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	versions := f.templates[id]
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

func (f *fakeStore) CreateSubmission(_ context.Context, s *Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions[s.ID] = *s.clone()
	return nil
}

func (f *fakeStore) GetSubmission(_ context.Context, id string) (*Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.submissions[id]
	if !ok {
		return nil, nil
	}
	return s.clone(), nil
}

func (f *fakeStore) UpdateSubmission(_ context.Context, s *Submission) error {
	if f.beforeUpdate != nil {
		f.beforeUpdate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	cur, ok := f.submissions[s.ID]
	if !ok {
		return NewNotFoundError("submission not found")
	}
	if f.conflictsLeft > 0 || cur.Version != s.Version {
		if f.conflictsLeft > 0 {
			f.conflictsLeft--
		}
		return &SchedulingConflictError{Entity: "submission", ID: s.ID, ExpectedVersion: s.Version}
	}
	s.Version++
	f.submissions[s.ID] = *s.clone()
	return nil
}

func (f *fakeStore) ListOpenSubmissions(_ context.Context) ([]*Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Submission
	for _, s := range f.submissions {
		if s.Status.Open() {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) ListSubmissionsByTemplate(_ context.Context, templateID string) ([]*Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Submission
	for _, s := range f.submissions {
		if s.TemplateID == templateID {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) CreateSchedule(_ context.Context, s *CadenceSchedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schedules[s.ID] = *s
	return nil
}

func (f *fakeStore) GetSchedule(_ context.Context, id string) (*CadenceSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeStore) UpdateSchedule(_ context.Context, s *CadenceSchedule) error {
	if f.beforeUpdate != nil {
		f.beforeUpdate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	cur, ok := f.schedules[s.ID]
	if !ok {
		return NewNotFoundError("schedule not found")
	}
	if f.conflictsLeft > 0 || cur.Version != s.Version {
		if f.conflictsLeft > 0 {
			f.conflictsLeft--
		}
		return &SchedulingConflictError{Entity: "schedule", ID: s.ID, ExpectedVersion: s.Version}
	}
	s.Version++
	f.schedules[s.ID] = *s
	return nil
}

func (f *fakeStore) ListActiveSchedules(_ context.Context) ([]CadenceSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []CadenceSchedule
	for _, s := range f.schedules {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertPlan(_ context.Context, p ContractPlan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans[p.ClientID] = p
	return nil
}

func (f *fakeStore) GetPlan(_ context.Context, clientID string) (*ContractPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plans[clientID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeStore) ListPlans(_ context.Context) ([]ContractPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ContractPlan, 0, len(f.plans))
	for _, p := range f.plans {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) AddContact(_ context.Context, ev ContactEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts = append(f.contacts, ev)
	return nil
}

func (f *fakeStore) ListContacts(_ context.Context, clientID string) ([]ContactEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ContactEvent
	for _, ev := range f.contacts {
		if clientID == "" || ev.ClientID == clientID {
			out = append(out, ev)
		}
	}
	return out, nil
}
