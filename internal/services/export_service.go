package services

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ExportParams selects what to export. Format is long (default), wide,
// score or questions.
type ExportParams struct {
	TemplateID string
	Format     string
	Status     SubmissionStatus
}

type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders the submissions of a template as CSV.
type ExportService struct {
	store AnalyticsStore
	now   func() time.Time
}

func NewExportService(store AnalyticsStore) *ExportService {
	return &ExportService{store: store, now: utcNow}
}

func (s *ExportService) ExportCSV(ctx context.Context, params ExportParams) (*ExportResult, error) {
	if strings.TrimSpace(params.TemplateID) == "" {
		return nil, NewInvalidError("template_id required")
	}
	format := params.Format
	if format == "" {
		format = "long"
	}
	tpl, err := s.store.GetTemplate(ctx, params.TemplateID, 0)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, NewNotFoundError("template not found")
	}
	all, err := s.store.ListSubmissionsByTemplate(ctx, params.TemplateID)
	if err != nil {
		return nil, err
	}
	subs := all[:0:0]
	for _, sub := range all {
		if params.Status == "" || sub.Status == params.Status {
			subs = append(subs, sub)
		}
	}

	var data []byte
	switch format {
	case "long":
		rows := make([]LongRow, 0, len(subs))
		for _, sub := range subs {
			for _, a := range sub.Answers {
				rows = append(rows, LongRow{
					SubmissionID: sub.ID,
					ClientID:     sub.ClientID,
					QuestionID:   a.QuestionID,
					RawValue:     strings.Trim(string(a.RawValue), `"`),
					Points:       a.PointsAwarded,
					MaxPoints:    a.MaxPoints,
					Indicator:    a.Indicator,
					UpdatedAt:    formatTime(sub.UpdatedAt),
				})
			}
		}
		data, err = ExportLongCSV(rows)
	case "wide":
		scored := map[string]bool{}
		for _, q := range scoredQuestions(*tpl) {
			scored[q.ID] = true
		}
		inputs := make(map[string]map[string]int, len(subs))
		for _, sub := range subs {
			row := map[string]int{}
			for _, a := range sub.Answers {
				if scored[a.QuestionID] {
					row[a.QuestionID] = a.PointsAwarded
				}
			}
			inputs[sub.ID] = row
		}
		data, err = ExportWideCSV(inputs)
	case "score":
		data, err = ExportScoreCSV(subs)
	case "questions":
		data, err = ExportQuestionsCSV(*tpl)
	default:
		return nil, NewInvalidError("unknown format")
	}
	if err != nil {
		return nil, err
	}
	return &ExportResult{
		Filename:    fmt.Sprintf("%s_%s_%s.csv", tpl.ID, format, s.now().Format("20060102")),
		ContentType: "text/csv; charset=utf-8",
		Data:        data,
	}, nil
}
