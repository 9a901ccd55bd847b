package services

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/soaringjerry/Pulse/internal/calendar"
)

// SubmissionStatus tracks a submission through its life.
type SubmissionStatus string

const (
	StatusPending   SubmissionStatus = "pending"
	StatusPartial   SubmissionStatus = "partial"
	StatusCompleted SubmissionStatus = "completed"
	StatusExpired   SubmissionStatus = "expired"
)

// Open reports whether answers may still be added.
func (s SubmissionStatus) Open() bool {
	return s == StatusPending || s == StatusPartial
}

// SubmissionAnswer is a scored answer. It is always derived from a raw value,
// never entered directly.
type SubmissionAnswer struct {
	QuestionID    string          `json:"question_id"`
	RawValue      json.RawMessage `json:"raw_value"`
	PointsAwarded int             `json:"points_awarded"`
	MaxPoints     int             `json:"max_points"`
	Indicator     Indicator       `json:"indicator"`
}

// Submission is one client's answers to one template.
type Submission struct {
	ID               string             `json:"id"`
	TemplateID       string             `json:"template_id"`
	TemplateVersion  int                `json:"template_version"`
	ClientID         string             `json:"client_id"`
	ScheduleID       string             `json:"schedule_id,omitempty"`
	Answers          []SubmissionAnswer `json:"answers"`
	TotalPoints      int                `json:"total_points"`
	MaxPoints        int                `json:"max_points"`
	Percentage       *float64           `json:"percentage"`
	OverallIndicator Indicator          `json:"overall_indicator"`
	Status           SubmissionStatus   `json:"status"`
	Deadline         calendar.Date      `json:"deadline"`
	Notes            string             `json:"notes,omitempty"`
	AccessTokenHash  []byte             `json:"-"`
	Version          int64              `json:"version"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// RawAnswer is an answer as received from the collection surface.
type RawAnswer struct {
	QuestionID string          `json:"question_id"`
	Raw        json.RawMessage `json:"raw"`
}

func (s *Submission) clone() *Submission {
	cp := *s
	cp.Answers = append([]SubmissionAnswer(nil), s.Answers...)
	if s.Percentage != nil {
		p := *s.Percentage
		cp.Percentage = &p
	}
	return &cp
}

// SubmissionAggregator folds classified answers into submission totals.
type SubmissionAggregator struct {
	classifier *ScoreClassifier
}

func NewSubmissionAggregator(classifier *ScoreClassifier) *SubmissionAggregator {
	return &SubmissionAggregator{classifier: classifier}
}

// Aggregate scores answers against tpl and returns a new, unsaved submission.
//
// Blank answers are treated as absent. When the same question is answered
// twice the later answer wins. Answers to questions outside the template and
// required ids the template does not define are validation errors.
func (a *SubmissionAggregator) Aggregate(tpl Template, answers []RawAnswer, requiredIDs []string) (*Submission, error) {
	maxPoints, err := tpl.MaxPoints()
	if err != nil {
		return nil, err
	}
	for _, id := range requiredIDs {
		if _, ok := tpl.Question(id); !ok {
			return nil, invalid("required", "question %q is not part of template %s", id, tpl.ID)
		}
	}

	latest := make(map[string]json.RawMessage, len(answers))
	for _, ans := range answers {
		if _, ok := tpl.Question(ans.QuestionID); !ok {
			return nil, invalid("answers", "question %q is not part of template %s", ans.QuestionID, tpl.ID)
		}
		if IsUnanswered(ans.Raw) {
			delete(latest, ans.QuestionID)
			continue
		}
		latest[ans.QuestionID] = ans.Raw
	}

	sub := &Submission{
		TemplateID:      tpl.ID,
		TemplateVersion: tpl.Version,
		MaxPoints:       maxPoints,
		Answers:         make([]SubmissionAnswer, 0, len(latest)),
	}
	for _, q := range tpl.Questions {
		raw, ok := latest[q.ID]
		if !ok {
			continue
		}
		score, err := a.classifier.Classify(q, raw)
		if err != nil {
			return nil, err
		}
		sub.Answers = append(sub.Answers, SubmissionAnswer{
			QuestionID:    q.ID,
			RawValue:      append(json.RawMessage(nil), raw...),
			PointsAwarded: score.Points,
			MaxPoints:     score.MaxPoints,
			Indicator:     score.Indicator,
		})
		sub.TotalPoints += score.Points
	}

	if sub.MaxPoints > 0 {
		p := float64(sub.TotalPoints) / float64(sub.MaxPoints)
		sub.Percentage = &p
	}
	sub.OverallIndicator = a.classifier.Thresholds().ClassifyPercentage(sub.Percentage)
	sub.Status = deriveStatus(sub, requiredIDs)
	return sub, nil
}

// Merge folds newly arrived answers into an open submission and recomputes
// every derived field. Identity, deadline, notes and version are carried over
// from existing; the caller bumps the version when it persists the result.
func (a *SubmissionAggregator) Merge(existing *Submission, tpl Template, answers []RawAnswer, requiredIDs []string) (*Submission, error) {
	if existing == nil {
		return nil, invalid("submission", "submission required")
	}
	if !existing.Status.Open() {
		return nil, invalid("status", "submission %s is %s and read-only", existing.ID, existing.Status)
	}
	if existing.TemplateID != tpl.ID || existing.TemplateVersion != tpl.Version {
		return nil, invalid("template", "submission %s belongs to template %s v%d", existing.ID, existing.TemplateID, existing.TemplateVersion)
	}
	combined := make([]RawAnswer, 0, len(existing.Answers)+len(answers))
	for _, prev := range existing.Answers {
		combined = append(combined, RawAnswer{QuestionID: prev.QuestionID, Raw: prev.RawValue})
	}
	combined = append(combined, answers...)

	fresh, err := a.Aggregate(tpl, combined, requiredIDs)
	if err != nil {
		return nil, err
	}
	out := existing.clone()
	out.Answers = fresh.Answers
	out.TotalPoints = fresh.TotalPoints
	out.MaxPoints = fresh.MaxPoints
	out.Percentage = fresh.Percentage
	out.OverallIndicator = fresh.OverallIndicator
	out.Status = fresh.Status
	return out, nil
}

// Complete marks sub completed. Completing an already completed submission is
// a no-op; an expired one cannot be completed. Missing required answers yield
// an IncompleteSubmissionError instead of a silent completion.
func (a *SubmissionAggregator) Complete(sub *Submission, requiredIDs []string) (*Submission, error) {
	if sub == nil {
		return nil, invalid("submission", "submission required")
	}
	switch sub.Status {
	case StatusCompleted:
		return sub.clone(), nil
	case StatusExpired:
		return nil, invalid("status", "submission %s has expired", sub.ID)
	}
	if missing := missingRequired(sub, requiredIDs); len(missing) > 0 {
		return nil, &IncompleteSubmissionError{SubmissionID: sub.ID, Missing: missing}
	}
	out := sub.clone()
	out.Status = StatusCompleted
	return out, nil
}

// Expire moves a pending or partial submission to expired when today is past
// deadline. A zero deadline falls back to sub.Deadline; when both are zero
// nothing happens. The engine never runs timers; callers decide when to ask.
func (a *SubmissionAggregator) Expire(sub *Submission, deadline, today calendar.Date) (*Submission, bool) {
	if deadline.IsZero() {
		deadline = sub.Deadline
	}
	if deadline.IsZero() || !sub.Status.Open() || !today.After(deadline) {
		return sub, false
	}
	out := sub.clone()
	out.Status = StatusExpired
	return out, true
}

func deriveStatus(sub *Submission, requiredIDs []string) SubmissionStatus {
	if len(sub.Answers) == 0 {
		return StatusPending
	}
	if len(missingRequired(sub, requiredIDs)) > 0 {
		return StatusPartial
	}
	return StatusCompleted
}

func missingRequired(sub *Submission, requiredIDs []string) []string {
	answered := make(map[string]struct{}, len(sub.Answers))
	for _, ans := range sub.Answers {
		answered[ans.QuestionID] = struct{}{}
	}
	var missing []string
	for _, id := range requiredIDs {
		if _, ok := answered[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	return missing
}
