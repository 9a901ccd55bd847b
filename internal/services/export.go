package services

import (
	"bytes"
	"encoding/csv"
	"sort"
	"strconv"
	"time"
)

// LongRow is one scored answer in the long export.
type LongRow struct {
	SubmissionID string
	ClientID     string
	QuestionID   string
	RawValue     string
	Points       int
	MaxPoints    int
	Indicator    Indicator
	UpdatedAt    string
}

// ExportLongCSV renders one row per answer.
func ExportLongCSV(rows []LongRow) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"submission_id", "client_id", "question_id", "raw_value", "points", "max_points", "indicator", "updated_at"})
	for _, r := range rows {
		rec := []string{
			r.SubmissionID,
			r.ClientID,
			r.QuestionID,
			r.RawValue,
			strconv.Itoa(r.Points),
			strconv.Itoa(r.MaxPoints),
			string(r.Indicator),
			r.UpdatedAt,
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ExportWideCSV renders one row per submission and one column per question.
// inputs maps submission id to question id to points; questions missing from
// a submission are left blank.
func ExportWideCSV(inputs map[string]map[string]int) ([]byte, error) {
	qset := map[string]struct{}{}
	for _, m := range inputs {
		for qid := range m {
			qset[qid] = struct{}{}
		}
	}
	questions := sortedKeys(qset)
	ids := make([]string, 0, len(inputs))
	for id := range inputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write(append([]string{"submission_id"}, questions...))
	for _, id := range ids {
		row := make([]string, 0, 1+len(questions))
		row = append(row, id)
		for _, qid := range questions {
			if v, ok := inputs[id][qid]; ok {
				row = append(row, strconv.Itoa(v))
			} else {
				row = append(row, "")
			}
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ExportScoreCSV renders the totals of each submission in the order given.
func ExportScoreCSV(subs []*Submission) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"submission_id", "client_id", "status", "total_points", "max_points", "percentage", "indicator", "deadline"})
	for _, s := range subs {
		pct := ""
		if s.Percentage != nil {
			pct = strconv.FormatFloat(*s.Percentage, 'f', -1, 64)
		}
		rec := []string{
			s.ID,
			s.ClientID,
			string(s.Status),
			strconv.Itoa(s.TotalPoints),
			strconv.Itoa(s.MaxPoints),
			pct,
			string(s.OverallIndicator),
			s.Deadline.String(),
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ExportQuestionsCSV renders the question definitions of a template.
func ExportQuestionsCSV(tpl Template) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"question_id", "position", "type", "required", "scored", "max_points"})
	for i, q := range tpl.Questions {
		maxPts := ""
		if q.Scored() {
			if m, err := q.MaxPoints(); err == nil {
				maxPts = strconv.Itoa(m)
			}
		}
		rec := []string{
			q.ID,
			strconv.Itoa(i + 1),
			string(q.Type),
			strconv.FormatBool(q.Required),
			strconv.FormatBool(q.Scored()),
			maxPts,
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
