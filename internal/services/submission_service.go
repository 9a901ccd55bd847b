package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/soaringjerry/Pulse/internal/calendar"
)

// SubmissionStore abstracts the persistence the submission workflow needs.
//
// UpdateSubmission is an optimistic write: it must fail with a
// SchedulingConflictError when the stored version differs from s.Version and,
// on success, store and set s.Version+1. Lookups of missing records return
// (nil, nil).
type SubmissionStore interface {
	TemplateStore
	CreateSubmission(ctx context.Context, s *Submission) error
	GetSubmission(ctx context.Context, id string) (*Submission, error)
	UpdateSubmission(ctx context.Context, s *Submission) error
	ListOpenSubmissions(ctx context.Context) ([]*Submission, error)
}

// DefaultMaxAttempts bounds the read-modify-write retries on conflicts.
const DefaultMaxAttempts = 3

// ErrAccessDenied is returned when a public answer carries a bad token.
var ErrAccessDenied = errors.New("invalid submission access token")

// CreateSubmissionRequest opens a new submission for a client.
type CreateSubmissionRequest struct {
	TemplateID string
	ClientID   string
	ScheduleID string
	Deadline   calendar.Date
	Notes      string
}

// SubmissionService runs the answer intake workflow on top of the aggregator.
type SubmissionService struct {
	store       SubmissionStore
	aggregator  *SubmissionAggregator
	clock       clock
	idGenerator func() string
	tokenGen    func() string
	hashCost    int
	maxAttempts int
	logger      *slog.Logger
}

func NewSubmissionService(store SubmissionStore, aggregator *SubmissionAggregator, logger *slog.Logger) *SubmissionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubmissionService{
		store:       store,
		aggregator:  aggregator,
		clock:       newClock(),
		idGenerator: func() string { return "sub" + shortID(12) },
		tokenGen:    func() string { return shortID(32) },
		hashCost:    bcrypt.DefaultCost,
		maxAttempts: DefaultMaxAttempts,
		logger:      logger,
	}
}

// SetLocation sets the time zone that decides which calendar day "today" is
// when checking deadlines.
func (s *SubmissionService) SetLocation(loc *time.Location) {
	if loc != nil {
		s.clock.loc = loc
	}
}

// Create opens a pending submission and returns it together with the one-time
// access token the client uses on the public answer route. Only the bcrypt
// hash of the token is stored.
func (s *SubmissionService) Create(ctx context.Context, req CreateSubmissionRequest) (*Submission, string, error) {
	if strings.TrimSpace(req.ClientID) == "" {
		return nil, "", invalid("client_id", "client id required")
	}
	tpl, err := s.template(ctx, req.TemplateID, 0)
	if err != nil {
		return nil, "", err
	}
	sub, err := s.aggregator.Aggregate(*tpl, nil, tpl.RequiredIDs())
	if err != nil {
		return nil, "", err
	}
	token := s.tokenGen()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), s.hashCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash access token: %w", err)
	}
	now := s.clock.now()
	sub.ID = s.idGenerator()
	sub.ClientID = req.ClientID
	sub.ScheduleID = req.ScheduleID
	sub.Deadline = req.Deadline
	sub.Notes = req.Notes
	sub.AccessTokenHash = hash
	sub.Version = 1
	sub.CreatedAt, sub.UpdatedAt = now, now
	if err := s.store.CreateSubmission(ctx, sub); err != nil {
		return nil, "", err
	}
	return sub, token, nil
}

// Get loads a submission.
func (s *SubmissionService) Get(ctx context.Context, id string) (*Submission, error) {
	sub, err := s.store.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, NewNotFoundError("submission not found")
	}
	return sub, nil
}

// VerifyAccess checks token against the stored hash of submission id.
func (s *SubmissionService) VerifyAccess(ctx context.Context, id, token string) error {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if len(sub.AccessTokenHash) == 0 || token == "" {
		return ErrAccessDenied
	}
	if bcrypt.CompareHashAndPassword(sub.AccessTokenHash, []byte(token)) != nil {
		return ErrAccessDenied
	}
	return nil
}

// SubmitAnswers merges answers into submission id. A submission whose
// deadline has passed is expired first and then rejected as read-only.
func (s *SubmissionService) SubmitAnswers(ctx context.Context, id string, answers []RawAnswer) (*Submission, error) {
	today := s.clock.today()
	return s.mutate(ctx, id, func(cur *Submission, tpl Template) (*Submission, error) {
		if expired, changed := s.aggregator.Expire(cur, calendar.Date{}, today); changed {
			return expired, invalid("status", "submission %s expired on %s", cur.ID, cur.Deadline)
		}
		return s.aggregator.Merge(cur, tpl, answers, tpl.RequiredIDs())
	})
}

// SubmitPublicAnswers is SubmitAnswers behind an access token check.
func (s *SubmissionService) SubmitPublicAnswers(ctx context.Context, id, token string, answers []RawAnswer) (*Submission, error) {
	if err := s.VerifyAccess(ctx, id, token); err != nil {
		return nil, err
	}
	return s.SubmitAnswers(ctx, id, answers)
}

// Complete marks submission id completed.
func (s *SubmissionService) Complete(ctx context.Context, id string) (*Submission, error) {
	return s.mutate(ctx, id, func(cur *Submission, tpl Template) (*Submission, error) {
		return s.aggregator.Complete(cur, tpl.RequiredIDs())
	})
}

// Expire expires submission id when today is past deadline (or past its own
// deadline when deadline is zero). It reports whether the status changed.
func (s *SubmissionService) Expire(ctx context.Context, id string, deadline, today calendar.Date) (*Submission, bool, error) {
	today = s.clock.orToday(today)
	changed := false
	sub, err := s.mutate(ctx, id, func(cur *Submission, _ Template) (*Submission, error) {
		out, ok := s.aggregator.Expire(cur, deadline, today)
		changed = ok
		if !ok {
			return nil, nil
		}
		return out, nil
	})
	return sub, changed, err
}

// UpdateNotes replaces the professional's notes. It competes with answer
// intake for the same record and relies on the version check to not lose
// either write.
func (s *SubmissionService) UpdateNotes(ctx context.Context, id, notes string) (*Submission, error) {
	return s.mutate(ctx, id, func(cur *Submission, _ Template) (*Submission, error) {
		out := cur.clone()
		out.Notes = notes
		return out, nil
	})
}

// ExpireOverdue expires every open submission whose deadline is before today
// and returns how many changed.
func (s *SubmissionService) ExpireOverdue(ctx context.Context, today calendar.Date) (int, error) {
	today = s.clock.orToday(today)
	open, err := s.store.ListOpenSubmissions(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sub := range open {
		if sub.Deadline.IsZero() || !today.After(sub.Deadline) {
			continue
		}
		if _, changed, err := s.Expire(ctx, sub.ID, calendar.Date{}, today); err != nil {
			return n, fmt.Errorf("expire %s: %w", sub.ID, err)
		} else if changed {
			n++
		}
	}
	return n, nil
}

// mutate applies fn to the latest stored copy of submission id and writes the
// result back, re-reading and retrying on version conflicts. fn returning a
// nil submission and nil error leaves the record untouched. fn may return a
// submission together with an error; the submission is then persisted and the
// error returned.
func (s *SubmissionService) mutate(ctx context.Context, id string, fn func(cur *Submission, tpl Template) (*Submission, error)) (*Submission, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		tpl, err := s.template(ctx, cur.TemplateID, cur.TemplateVersion)
		if err != nil {
			return nil, err
		}
		next, fnErr := fn(cur, *tpl)
		if next == nil {
			if fnErr != nil {
				return nil, fnErr
			}
			return cur, nil
		}
		next.UpdatedAt = s.clock.now()
		if err := s.store.UpdateSubmission(ctx, next); err != nil {
			if IsConflict(err) {
				lastErr = err
				s.logger.Debug("submission write conflict", "id", id, "attempt", attempt)
				continue
			}
			return nil, err
		}
		return next, fnErr
	}
	s.logger.Warn("submission write gave up", "id", id, "attempts", s.maxAttempts)
	return nil, lastErr
}

func (s *SubmissionService) template(ctx context.Context, id string, version int) (*Template, error) {
	if strings.TrimSpace(id) == "" {
		return nil, invalid("template_id", "template id required")
	}
	tpl, err := s.store.GetTemplate(ctx, id, version)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, NewNotFoundError("template not found")
	}
	return tpl, nil
}
