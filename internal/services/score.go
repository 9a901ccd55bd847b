package services

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ReverseScore mirrors a Likert value on a scale of the given number of
// points: 1 becomes points, points becomes 1. raw must already be in range.
func ReverseScore(raw, points int) int {
	if points < 2 {
		return raw
	}
	return (points + 1) - raw
}

// Score is the classification of one answer.
type Score struct {
	QuestionID string    `json:"question_id"`
	Points     int       `json:"points"`
	MaxPoints  int       `json:"max_points"`
	Scored     bool      `json:"scored"`
	Indicator  Indicator `json:"indicator"`
}

// ScoreClassifier scores single answers. The zero value is not usable; build
// one with NewScoreClassifier.
type ScoreClassifier struct {
	thresholds Thresholds
}

func NewScoreClassifier(th Thresholds) (*ScoreClassifier, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	return &ScoreClassifier{thresholds: th}, nil
}

// Thresholds returns the indicator boundaries in use.
func (c *ScoreClassifier) Thresholds() Thresholds { return c.thresholds }

// Classify scores raw as an answer to q.
//
// Likert answers accept a JSON integer or a numeric string. Select answers
// must be a JSON string found in the scoring map. Free text and numeric
// answers score nothing and carry IndicatorNone.
func (c *ScoreClassifier) Classify(q QuestionDefinition, raw json.RawMessage) (Score, error) {
	out := Score{QuestionID: q.ID, Indicator: IndicatorNone}
	switch q.Type {
	case QuestionLikert5, QuestionLikert10:
		points := 5
		if q.Type == QuestionLikert10 {
			points = 10
		}
		n, err := rawInt(q.ID, raw)
		if err != nil {
			return Score{}, err
		}
		if n < 1 || n > points {
			return Score{}, invalid("answers."+q.ID, "value %d outside 1..%d", n, points)
		}
		if q.ReverseScored {
			n = ReverseScore(n, points)
		}
		out.Points, out.MaxPoints = n, points
	case QuestionSelectScored:
		maxPts, err := q.MaxPoints()
		if err != nil {
			return Score{}, err
		}
		label, err := rawString(q.ID, raw)
		if err != nil {
			return Score{}, err
		}
		pts, ok := q.ScoringMap[label]
		if !ok {
			return Score{}, &UnknownOptionError{QuestionID: q.ID, Option: label}
		}
		out.Points, out.MaxPoints = pts, maxPts
	case QuestionFreeText:
		if _, err := rawString(q.ID, raw); err != nil {
			return Score{}, err
		}
		return out, nil
	case QuestionNumeric:
		if _, err := rawFloat(q.ID, raw); err != nil {
			return Score{}, err
		}
		return out, nil
	default:
		return Score{}, &UnknownQuestionTypeError{QuestionID: q.ID, Type: q.Type}
	}

	out.Scored = true
	if out.MaxPoints > 0 {
		out.Indicator = c.thresholds.Classify(float64(out.Points) / float64(out.MaxPoints))
	} else {
		// a select question whose options are all worth zero
		out.Indicator = IndicatorNone
	}
	return out, nil
}

// IsUnanswered reports whether raw carries no answer: absent, null, or a
// blank string.
func IsUnanswered(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return true
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// RawInt and RawLabel build raw answers for callers that hold typed values.
func RawInt(n int) json.RawMessage { return json.RawMessage(strconv.Itoa(n)) }

func RawLabel(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func rawFloat(questionID string, raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v, nil
		}
	}
	return 0, invalid("answers."+questionID, "expected a number, got %s", truncateRaw(raw))
}

func rawInt(questionID string, raw json.RawMessage) (int, error) {
	f, err := rawFloat(questionID, raw)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, invalid("answers."+questionID, "expected an integer, got %v", f)
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, invalid("answers."+questionID, "value %v out of range", f)
	}
	return int(f), nil
}

func rawString(questionID string, raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", invalid("answers."+questionID, "expected a string, got %s", truncateRaw(raw))
	}
	return strings.TrimSpace(s), nil
}

func truncateRaw(raw json.RawMessage) string {
	const limit = 40
	s := string(raw)
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
