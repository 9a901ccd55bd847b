package services

import (
	"context"
	"sort"
)

type AnalyticsStore interface {
	GetTemplate(ctx context.Context, id string, version int) (*Template, error)
	ListSubmissionsByTemplate(ctx context.Context, templateID string) ([]*Submission, error)
}

type AnalyticsService struct {
	store AnalyticsStore
}

// QuestionStats counts answers to one scored question. Histogram[i] counts
// answers worth i points.
type QuestionStats struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	MaxPoints int    `json:"max_points"`
	Histogram []int  `json:"histogram"`
	Total     int    `json:"total"`
}

type AnalyticsTimeseries struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// TemplateSummary aggregates every submission made against a template (all
// versions).
type TemplateSummary struct {
	TemplateID     string                `json:"template_id"`
	Version        int                   `json:"version"`
	Submissions    int                   `json:"submissions"`
	ByStatus       map[string]int        `json:"by_status"`
	ByIndicator    map[string]int        `json:"by_indicator"`
	MeanPercentage *float64              `json:"mean_percentage"`
	Questions      []QuestionStats       `json:"questions"`
	Timeseries     []AnalyticsTimeseries `json:"timeseries"`
	Alpha          float64               `json:"alpha"`
	N              int                   `json:"n"`
}

func NewAnalyticsService(store AnalyticsStore) *AnalyticsService {
	return &AnalyticsService{store: store}
}

// Summary reports how a template has been answered. Question statistics and
// the consistency estimate use the latest template version; answers to
// questions that version no longer has are ignored.
func (s *AnalyticsService) Summary(ctx context.Context, templateID string) (*TemplateSummary, error) {
	tpl, err := s.store.GetTemplate(ctx, templateID, 0)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, NewNotFoundError("template not found")
	}
	subs, err := s.store.ListSubmissionsByTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	scored := scoredQuestions(*tpl)
	questions, countsByDay := buildQuestionStats(scored, subs)
	matrix, n := buildAlphaMatrix(scored, subs)
	out := &TemplateSummary{
		TemplateID:  tpl.ID,
		Version:     tpl.Version,
		Submissions: len(subs),
		ByStatus:    map[string]int{},
		ByIndicator: map[string]int{},
		Questions:   questions,
		Timeseries:  buildTimeseries(countsByDay),
		Alpha:       CronbachAlpha(matrix),
		N:           n,
	}
	var sum float64
	withPct := 0
	for _, sub := range subs {
		out.ByStatus[string(sub.Status)]++
		out.ByIndicator[string(sub.OverallIndicator)]++
		if sub.Status == StatusCompleted && sub.Percentage != nil {
			sum += *sub.Percentage
			withPct++
		}
	}
	if withPct > 0 {
		mean := sum / float64(withPct)
		out.MeanPercentage = &mean
	}
	return out, nil
}

func scoredQuestions(tpl Template) []QuestionDefinition {
	out := make([]QuestionDefinition, 0, len(tpl.Questions))
	for _, q := range tpl.Questions {
		if q.Scored() {
			out = append(out, q)
		}
	}
	return out
}

func buildQuestionStats(questions []QuestionDefinition, subs []*Submission) ([]QuestionStats, map[string]int) {
	index := make(map[string]int, len(questions))
	stats := make([]QuestionStats, 0, len(questions))
	for i, q := range questions {
		maxPts, _ := q.MaxPoints()
		stats = append(stats, QuestionStats{
			ID:        q.ID,
			Type:      string(q.Type),
			MaxPoints: maxPts,
			Histogram: make([]int, maxPts+1),
		})
		index[q.ID] = i
	}
	countsByDay := map[string]int{}
	for _, sub := range subs {
		for _, ans := range sub.Answers {
			idx, ok := index[ans.QuestionID]
			if !ok {
				continue
			}
			if v := ans.PointsAwarded; v >= 0 && v < len(stats[idx].Histogram) {
				stats[idx].Histogram[v]++
				stats[idx].Total++
			}
		}
		if !sub.CreatedAt.IsZero() {
			countsByDay[sub.CreatedAt.UTC().Format("2006-01-02")]++
		}
	}
	return stats, countsByDay
}

// buildAlphaMatrix keeps only submissions that answered every scored
// question, with columns in question id order.
func buildAlphaMatrix(questions []QuestionDefinition, subs []*Submission) ([][]float64, int) {
	ids := make([]string, 0, len(questions))
	for _, q := range questions {
		ids = append(ids, q.ID)
	}
	sort.Strings(ids)
	matrix := make([][]float64, 0, len(subs))
	for _, sub := range subs {
		points := make(map[string]float64, len(sub.Answers))
		for _, ans := range sub.Answers {
			points[ans.QuestionID] = float64(ans.PointsAwarded)
		}
		row := make([]float64, 0, len(ids))
		for _, id := range ids {
			v, ok := points[id]
			if !ok {
				break
			}
			row = append(row, v)
		}
		if len(row) == len(ids) {
			matrix = append(matrix, row)
		}
	}
	return matrix, len(matrix)
}

func buildTimeseries(counts map[string]int) []AnalyticsTimeseries {
	days := make([]string, 0, len(counts))
	for d := range counts {
		days = append(days, d)
	}
	sort.Strings(days)
	out := make([]AnalyticsTimeseries, 0, len(days))
	for _, d := range days {
		out = append(out, AnalyticsTimeseries{Date: d, Count: counts[d]})
	}
	return out
}
