package services

import (
	"strings"
)

// QuestionType is the closed set of question kinds a template may use.
type QuestionType string

const (
	QuestionLikert5      QuestionType = "likert5"
	QuestionLikert10     QuestionType = "likert10"
	QuestionSelectScored QuestionType = "select_scored"
	QuestionFreeText     QuestionType = "free_text"
	QuestionNumeric      QuestionType = "numeric"
)

// QuestionDefinition is one question of a template together with its
// scoring rule. Definitions are immutable once a submission references them.
type QuestionDefinition struct {
	ID            string         `json:"id" yaml:"id"`
	Type          QuestionType   `json:"type" yaml:"type"`
	Prompt        string         `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	ScoringMap    map[string]int `json:"scoring_map,omitempty" yaml:"scoring_map,omitempty"`
	Required      bool           `json:"required,omitempty" yaml:"required,omitempty"`
	ReverseScored bool           `json:"reverse_scored,omitempty" yaml:"reverse_scored,omitempty"`
}

// Scored reports whether answers to q contribute points. Unknown types are
// reported as not scored; MaxPoints surfaces the error.
func (q QuestionDefinition) Scored() bool {
	switch q.Type {
	case QuestionLikert5, QuestionLikert10, QuestionSelectScored:
		return true
	default:
		return false
	}
}

// MaxPoints is the most a single answer to q can earn.
func (q QuestionDefinition) MaxPoints() (int, error) {
	switch q.Type {
	case QuestionLikert5:
		return 5, nil
	case QuestionLikert10:
		return 10, nil
	case QuestionSelectScored:
		if len(q.ScoringMap) == 0 {
			return 0, invalid("questions."+q.ID+".scoring_map", "select question needs at least one option")
		}
		best := 0
		for label, pts := range q.ScoringMap {
			if pts < 0 {
				return 0, invalid("questions."+q.ID+".scoring_map", "option %q has negative points", label)
			}
			if pts > best {
				best = pts
			}
		}
		return best, nil
	case QuestionFreeText, QuestionNumeric:
		return 0, nil
	default:
		return 0, &UnknownQuestionTypeError{QuestionID: q.ID, Type: q.Type}
	}
}

// Template is an ordered, versioned set of questions.
type Template struct {
	ID        string               `json:"id"`
	Version   int                  `json:"version"`
	Name      string               `json:"name"`
	Questions []QuestionDefinition `json:"questions"`
}

// Validate checks ids are present and unique and every question has a
// supported type and a usable scoring rule.
func (t Template) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return invalid("id", "template id required")
	}
	if len(t.Questions) == 0 {
		return invalid("questions", "template needs at least one question")
	}
	seen := make(map[string]struct{}, len(t.Questions))
	for i, q := range t.Questions {
		if strings.TrimSpace(q.ID) == "" {
			return invalid("questions", "question %d has no id", i)
		}
		if _, dup := seen[q.ID]; dup {
			return invalid("questions", "duplicate question id %q", q.ID)
		}
		seen[q.ID] = struct{}{}
		if _, err := q.MaxPoints(); err != nil {
			return err
		}
	}
	return nil
}

// Question looks up a question by id.
func (t Template) Question(id string) (QuestionDefinition, bool) {
	for _, q := range t.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return QuestionDefinition{}, false
}

// RequiredIDs lists the ids of questions flagged Required, in template order.
func (t Template) RequiredIDs() []string {
	out := []string{}
	for _, q := range t.Questions {
		if q.Required {
			out = append(out, q.ID)
		}
	}
	return out
}

// MaxPoints sums MaxPoints over the scored questions.
func (t Template) MaxPoints() (int, error) {
	total := 0
	for _, q := range t.Questions {
		pts, err := q.MaxPoints()
		if err != nil {
			return 0, err
		}
		total += pts
	}
	return total, nil
}
