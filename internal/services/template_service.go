package services

import (
	"context"
	"strings"
)

// TemplateStore persists versioned templates. GetTemplate with version 0
// returns the latest version; a missing template is (nil, nil). SaveTemplate
// returns a SchedulingConflictError when (id, version) already exists.
type TemplateStore interface {
	SaveTemplate(ctx context.Context, t *Template) error
	GetTemplate(ctx context.Context, id string, version int) (*Template, error)
}

type TemplateService struct {
	store TemplateStore
	idGen func() string
}

func NewTemplateService(store TemplateStore) *TemplateService {
	return &TemplateService{store: store, idGen: func() string { return "tpl" + shortID(9) }}
}

// Save validates t and stores it as a new version. Templates are never edited
// in place: saving an existing id appends the next version so submissions
// keep pointing at the questions they were answered against. A concurrent
// save that takes the same version number makes the store return a conflict,
// and the next version is re-read.
func (s *TemplateService) Save(ctx context.Context, t Template) (*Template, error) {
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		t.ID = s.idGen()
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	var lastErr error
	for attempt := 0; attempt < DefaultMaxAttempts; attempt++ {
		current, err := s.store.GetTemplate(ctx, t.ID, 0)
		if err != nil {
			return nil, err
		}
		t.Version = 1
		if current != nil {
			t.Version = current.Version + 1
		}
		err = s.store.SaveTemplate(ctx, &t)
		if err == nil {
			return &t, nil
		}
		if !IsConflict(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// Get returns a template version (0 for latest).
func (s *TemplateService) Get(ctx context.Context, id string, version int) (*Template, error) {
	t, err := s.store.GetTemplate(ctx, id, version)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, NewNotFoundError("template not found")
	}
	return t, nil
}
