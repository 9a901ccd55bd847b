package services

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/Pulse/internal/calendar"
)

func checkinTemplate() Template {
	return Template{
		ID:      "checkin",
		Version: 2,
		Name:    "Weekly check-in",
		Questions: []QuestionDefinition{
			{ID: "energy", Type: QuestionLikert5, Required: true},
			{ID: "adherence", Type: QuestionSelectScored, Required: true, ScoringMap: map[string]int{"none": 0, "partial": 3, "full": 5}},
			{ID: "notes", Type: QuestionFreeText},
			{ID: "weight", Type: QuestionNumeric},
		},
	}
}

func newAggregator(t *testing.T) *SubmissionAggregator {
	return NewSubmissionAggregator(newClassifier(t))
}

func TestAggregateScenario(t *testing.T) {
	tpl := checkinTemplate()
	sub, err := newAggregator(t).Aggregate(tpl, []RawAnswer{
		{QuestionID: "energy", Raw: RawInt(4)},
		{QuestionID: "adherence", Raw: RawLabel("partial")},
		{QuestionID: "notes", Raw: RawLabel("slept badly")},
	}, tpl.RequiredIDs())
	require.NoError(t, err)

	assert.Equal(t, 7, sub.TotalPoints)
	assert.Equal(t, 10, sub.MaxPoints)
	require.NotNil(t, sub.Percentage)
	assert.InDelta(t, 0.7, *sub.Percentage, 1e-9)
	assert.Equal(t, IndicatorGreen, sub.OverallIndicator)
	assert.Equal(t, StatusCompleted, sub.Status)
	assert.Equal(t, "checkin", sub.TemplateID)
	assert.Equal(t, 2, sub.TemplateVersion)

	require.Len(t, sub.Answers, 3)
	assert.Equal(t, "energy", sub.Answers[0].QuestionID)
	assert.Equal(t, IndicatorGreen, sub.Answers[0].Indicator)
	assert.Equal(t, IndicatorYellow, sub.Answers[1].Indicator)
	assert.Equal(t, IndicatorNone, sub.Answers[2].Indicator)
}

func TestAggregateStatus(t *testing.T) {
	tpl := checkinTemplate()
	agg := newAggregator(t)

	sub, err := agg.Aggregate(tpl, nil, tpl.RequiredIDs())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, sub.Status)
	assert.Equal(t, 0, sub.TotalPoints)
	assert.Equal(t, 10, sub.MaxPoints)
	require.NotNil(t, sub.Percentage)
	assert.Equal(t, IndicatorRed, sub.OverallIndicator)

	sub, err = agg.Aggregate(tpl, []RawAnswer{{QuestionID: "energy", Raw: RawInt(5)}}, tpl.RequiredIDs())
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, sub.Status)

	// blank answers do not count
	sub, err = agg.Aggregate(tpl, []RawAnswer{
		{QuestionID: "energy", Raw: RawInt(5)},
		{QuestionID: "adherence", Raw: json.RawMessage(`null`)},
	}, tpl.RequiredIDs())
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, sub.Status)
	assert.Len(t, sub.Answers, 1)
}

func TestAggregateUnscoredTemplate(t *testing.T) {
	tpl := Template{ID: "diary", Questions: []QuestionDefinition{{ID: "entry", Type: QuestionFreeText}}}
	sub, err := newAggregator(t).Aggregate(tpl, []RawAnswer{{QuestionID: "entry", Raw: RawLabel("hi")}}, nil)
	require.NoError(t, err)
	assert.Nil(t, sub.Percentage)
	assert.Equal(t, 0, sub.MaxPoints)
	assert.Equal(t, IndicatorNone, sub.OverallIndicator)
	assert.Equal(t, StatusCompleted, sub.Status)
}

func TestAggregateLaterAnswerWins(t *testing.T) {
	tpl := checkinTemplate()
	sub, err := newAggregator(t).Aggregate(tpl, []RawAnswer{
		{QuestionID: "energy", Raw: RawInt(1)},
		{QuestionID: "energy", Raw: RawInt(5)},
	}, nil)
	require.NoError(t, err)
	require.Len(t, sub.Answers, 1)
	assert.Equal(t, 5, sub.TotalPoints)
}

func TestAggregateErrors(t *testing.T) {
	tpl := checkinTemplate()
	agg := newAggregator(t)

	_, err := agg.Aggregate(tpl, []RawAnswer{{QuestionID: "ghost", Raw: RawInt(1)}}, nil)
	assert.ErrorAs(t, err, new(*ValidationError))

	_, err = agg.Aggregate(tpl, nil, []string{"ghost"})
	assert.ErrorAs(t, err, new(*ValidationError))

	_, err = agg.Aggregate(tpl, []RawAnswer{{QuestionID: "energy", Raw: RawInt(9)}}, nil)
	assert.ErrorAs(t, err, new(*ValidationError))

	_, err = agg.Aggregate(tpl, []RawAnswer{{QuestionID: "adherence", Raw: RawLabel("mostly")}}, nil)
	assert.ErrorAs(t, err, new(*UnknownOptionError))

	bad := Template{ID: "bad", Questions: []QuestionDefinition{{ID: "q", Type: "matrix"}}}
	_, err = agg.Aggregate(bad, nil, nil)
	assert.ErrorAs(t, err, new(*UnknownQuestionTypeError))
}

func TestMergeAccumulatesAnswers(t *testing.T) {
	tpl := checkinTemplate()
	agg := newAggregator(t)
	first, err := agg.Aggregate(tpl, []RawAnswer{{QuestionID: "energy", Raw: RawInt(2)}}, tpl.RequiredIDs())
	require.NoError(t, err)
	first.ID, first.ClientID, first.Version, first.Notes = "s1", "c1", 3, "call on friday"

	merged, err := agg.Merge(first, tpl, []RawAnswer{{QuestionID: "adherence", Raw: RawLabel("full")}}, tpl.RequiredIDs())
	require.NoError(t, err)
	assert.Equal(t, "s1", merged.ID)
	assert.Equal(t, "c1", merged.ClientID)
	assert.Equal(t, int64(3), merged.Version)
	assert.Equal(t, "call on friday", merged.Notes)
	assert.Equal(t, 7, merged.TotalPoints)
	assert.Equal(t, StatusCompleted, merged.Status)
	// the original is left untouched
	assert.Equal(t, StatusPartial, first.Status)

	_, err = agg.Merge(merged, tpl, []RawAnswer{{QuestionID: "notes", Raw: RawLabel("late")}}, tpl.RequiredIDs())
	assert.ErrorAs(t, err, new(*ValidationError))

	other := tpl
	other.Version = 3
	_, err = agg.Merge(first, other, nil, nil)
	assert.ErrorAs(t, err, new(*ValidationError))
}

func TestCompleteRequiresAnswers(t *testing.T) {
	tpl := checkinTemplate()
	agg := newAggregator(t)
	sub, err := agg.Aggregate(tpl, []RawAnswer{{QuestionID: "energy", Raw: RawInt(3)}}, tpl.RequiredIDs())
	require.NoError(t, err)
	sub.ID = "s9"

	_, err = agg.Complete(sub, tpl.RequiredIDs())
	var inc *IncompleteSubmissionError
	require.ErrorAs(t, err, &inc)
	assert.Equal(t, []string{"adherence"}, inc.Missing)
	assert.Equal(t, "s9", inc.SubmissionID)
	assert.Equal(t, StatusPartial, sub.Status)

	done, err := agg.Complete(sub, []string{"energy"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	again, err := agg.Complete(done, tpl.RequiredIDs())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, again.Status)
}

func TestExpireIsCallerDriven(t *testing.T) {
	tpl := checkinTemplate()
	agg := newAggregator(t)
	sub, err := agg.Aggregate(tpl, nil, tpl.RequiredIDs())
	require.NoError(t, err)
	sub.Deadline = calendar.MustParse("2024-03-10")

	same, changed := agg.Expire(sub, calendar.Date{}, calendar.MustParse("2024-03-10"))
	assert.False(t, changed)
	assert.Equal(t, StatusPending, same.Status)

	expired, changed := agg.Expire(sub, calendar.Date{}, calendar.MustParse("2024-03-11"))
	assert.True(t, changed)
	assert.Equal(t, StatusExpired, expired.Status)

	_, err = agg.Complete(expired, nil)
	assert.ErrorAs(t, err, new(*ValidationError))

	_, changed = agg.Expire(&Submission{Status: StatusPending}, calendar.Date{}, calendar.MustParse("2030-01-01"))
	assert.False(t, changed, "no deadline means no expiry")

	done := &Submission{Status: StatusCompleted}
	_, changed = agg.Expire(done, calendar.MustParse("2024-01-01"), calendar.MustParse("2024-02-01"))
	assert.False(t, changed)
}
