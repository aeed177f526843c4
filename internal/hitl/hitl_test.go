package hitl

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/dataloom-cli/internal/analysis"
	"github.com/KaramelBytes/dataloom-cli/internal/rules"
)

func missingRule(col string, affected, total int, numeric bool) *rules.Rule {
	return &rules.Rule{
		ID:            rules.RuleID(rules.MissingValue, col),
		Type:          rules.MissingValue,
		TargetColumns: []string{col},
		Pattern:       rules.PatternMissingValues,
		RequiresHITL:  true,
		Status:        rules.Pending,
		AffectedRows:  affected,
		SampleRows:    total,
		Spec:          &rules.MissingValueSpec{Column: col, Numeric: numeric},
	}
}

func outlierRule(col string, affected, total int) *rules.Rule {
	return &rules.Rule{
		ID:            rules.RuleID(rules.Outlier, col),
		Type:          rules.Outlier,
		TargetColumns: []string{col},
		Pattern:       rules.PatternOutliers,
		RequiresHITL:  true,
		Status:        rules.Pending,
		AffectedRows:  affected,
		SampleRows:    total,
		Spec:          &rules.OutlierSpec{Column: col, Lower: 0, Upper: 100},
	}
}

func keys(q *Question) []string {
	out := make([]string, len(q.Options))
	for i, o := range q.Options {
		out[i] = o.Key
	}
	return out
}

func TestMissingValueRecommendation(t *testing.T) {
	svc := NewService(nil, nil, "", nil)
	an := &analysis.SampleAnalysis{}
	cases := []struct {
		name     string
		rule     *rules.Rule
		want     rules.Action
		wantKeys []string
	}{
		{"few numeric gaps delete", missingRule("age", 1, 100, true), rules.Delete,
			[]string{"delete", "impute_mean", "impute_median", "keep_as_is"}},
		{"many numeric gaps impute mean", missingRule("age", 10, 100, true), rules.ImputeMean,
			[]string{"delete", "impute_mean", "impute_median", "keep_as_is"}},
		{"many categorical gaps impute mode", missingRule("city", 10, 100, false), rules.ImputeMode,
			[]string{"delete", "impute_mode", "impute_custom", "keep_as_is"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := svc.GenerateQuestion(tc.rule, nil, an)
			require.NoError(t, err)
			assert.Equal(t, tc.wantKeys, keys(q))
			assert.Equal(t, tc.want, q.Recommended().Action)
			assert.NotEmpty(t, q.RecommendationReason)
			n := 0
			for _, o := range q.Options {
				if o.Recommended {
					n++
				}
			}
			assert.Equal(t, 1, n, "exactly one option is recommended")
		})
	}

	q, err := svc.GenerateQuestion(missingRule("city", 10, 100, false), nil, an)
	require.NoError(t, err)
	custom, ok := q.Option("impute_custom")
	require.True(t, ok)
	assert.Equal(t, "Unknown", custom.CustomValue)
}

func TestOutlierRecommendation(t *testing.T) {
	svc := NewService(nil, nil, "", nil)
	an := &analysis.SampleAnalysis{}
	q, err := svc.GenerateQuestion(outlierRule("age", 2, 100), nil, an)
	require.NoError(t, err)
	assert.Equal(t, []string{"cap", "delete", "flag", "keep_as_is"}, keys(q))
	assert.Equal(t, rules.Cap, q.Recommended().Action)

	q, err = svc.GenerateQuestion(outlierRule("age", 20, 100), nil, an)
	require.NoError(t, err)
	assert.Equal(t, rules.Flag, q.Recommended().Action)
}

func TestGenerateQuestionErrors(t *testing.T) {
	svc := NewService(nil, nil, "", nil)
	_, err := svc.GenerateQuestion(nil, nil, &analysis.SampleAnalysis{})
	assert.ErrorIs(t, err, ErrNilInput)

	r := missingRule("age", 1, 10, true)
	r.RequiresHITL = false
	_, err = svc.GenerateQuestion(r, nil, &analysis.SampleAnalysis{})
	assert.ErrorIs(t, err, ErrRuleNotHITL)
	_, err = svc.ExecuteSingleRuleWorkflow(context.Background(), r, nil, &analysis.SampleAnalysis{})
	assert.ErrorIs(t, err, ErrRuleNotHITL)
}

func TestExecuteWorkflowLogsDecisions(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	answer := AnswerFunc(func(_ context.Context, q *Question) (*Answer, error) {
		if q.RuleType == rules.Outlier {
			o, _ := q.Option("delete")
			return Choose(q, o, "these are data entry errors"), nil
		}
		return Choose(q, q.Recommended(), ""), nil
	})
	svc := NewService(store, answer, "analyst", nil)

	missing := missingRule("age", 10, 100, true)
	outlier := outlierRule("age", 2, 100)
	auto := &rules.Rule{ID: "whitespace:city", Type: rules.WhitespaceNormalization, Status: rules.Pending}
	decided := missingRule("city", 5, 100, false)
	decided.Reject("already handled")

	res, err := svc.ExecuteWorkflow(ctx, []*rules.Rule{missing, outlier, auto, decided}, nil, &analysis.SampleAnalysis{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Approved)
	assert.Equal(t, 0, res.Rejected)
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Decisions, 2)

	assert.Equal(t, rules.Approved, missing.Status)
	assert.Equal(t, rules.ImputeMean, missing.Action)
	assert.Equal(t, rules.Delete, outlier.Action)
	assert.Equal(t, "these are data entry errors", outlier.UserFeedback)
	assert.Equal(t, rules.Pending, auto.Status)

	logged, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, logged, 2)
	for _, d := range logged {
		assert.Equal(t, res.SessionID, d.SessionID)
		assert.Equal(t, "analyst", d.UserID)
		require.NotNil(t, d.ApprovedRule)
		assert.Equal(t, d.Question.RuleID, d.ApprovedRule.ID)
		assert.NotNil(t, d.ApprovedRule.Spec, "rule variant survives the log round trip")
	}

	byRule, err := svc.DecisionsByRule(ctx, outlier.ID)
	require.NoError(t, err)
	require.Len(t, byRule, 1)
	assert.False(t, byRule[0].Answer.FollowedRecommendation)

	sum, err := svc.DecisionSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Followed)
	assert.Equal(t, 1, sum.Overridden)
	assert.Equal(t, 1, sum.Sessions)
	assert.Equal(t, 1, sum.ByAction[rules.Delete])
	assert.Equal(t, 1, sum.ByAction[rules.ImputeMean])

	all, err := svc.DecisionsByTimeRange(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, all, 2)
	none, err := svc.DecisionsByTimeRange(ctx, time.Now().Add(time.Hour), time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDeferredAndKeepAsIs(t *testing.T) {
	answer := AnswerFunc(func(_ context.Context, q *Question) (*Answer, error) {
		if q.Column == "later" {
			return nil, ErrDeferred
		}
		o, _ := q.Option("keep_as_is")
		return Choose(q, o, "leave it"), nil
	})
	svc := NewService(nil, answer, "", nil)
	later := missingRule("later", 1, 10, true)
	keep := missingRule("keep", 1, 10, true)

	res, err := svc.ExecuteWorkflow(context.Background(), []*rules.Rule{later, keep}, nil, &analysis.SampleAnalysis{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deferred)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, rules.Pending, later.Status)
	assert.Equal(t, rules.Rejected, keep.Status)
	assert.False(t, keep.IsApproved)
}

func TestExecuteWorkflowStopsOnAnswerError(t *testing.T) {
	boom := errors.New("boom")
	svc := NewService(nil, AnswerFunc(func(context.Context, *Question) (*Answer, error) { return nil, boom }), "", nil)
	_, err := svc.ExecuteWorkflow(context.Background(), []*rules.Rule{missingRule("age", 1, 10, true)}, nil, &analysis.SampleAnalysis{})
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewService(nil, nil, "", nil).ExecuteWorkflow(ctx, []*rules.Rule{missingRule("age", 1, 10, true)}, nil, &analysis.SampleAnalysis{})
	assert.ErrorIs(t, err, context.Canceled)
}

type failingStore struct{ err error }

func (f failingStore) Append(context.Context, *DecisionLog) error { return f.err }
func (failingStore) List(context.Context) ([]*DecisionLog, error) { return nil, nil }
func (failingStore) Close() error                                 { return nil }

func TestDecisionNotAppliedWhenLogFails(t *testing.T) {
	full := errors.New("disk full")
	svc := NewService(failingStore{err: full}, AutoAnswerer{}, "analyst", nil)
	r := missingRule("age", 1, 10, true)

	_, err := svc.ExecuteSingleRuleWorkflow(context.Background(), r, nil, &analysis.SampleAnalysis{})
	require.ErrorIs(t, err, full)
	assert.Equal(t, rules.Pending, r.Status)
	assert.False(t, r.IsApproved)
	assert.Empty(t, r.Action)
	assert.False(t, r.Decided())

	_, err = svc.ExecuteWorkflow(context.Background(), []*rules.Rule{r}, nil, &analysis.SampleAnalysis{})
	require.ErrorIs(t, err, full)
	assert.Equal(t, rules.Pending, r.Status)
}

func TestPromptAnswerer(t *testing.T) {
	svc := NewService(nil, nil, "", nil)
	an := &analysis.SampleAnalysis{}

	t.Run("retry then pick by number", func(t *testing.T) {
		q, err := svc.GenerateQuestion(missingRule("age", 10, 100, true), nil, an)
		require.NoError(t, err)
		var out strings.Builder
		ans, err := NewPromptAnswerer(strings.NewReader("9\n3\n"), &out).Answer(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, rules.ImputeMedian, ans.Action)
		assert.False(t, ans.FollowedRecommendation)
		assert.Contains(t, out.String(), `invalid choice "9"`)
		assert.Contains(t, out.String(), "(recommended)")
	})

	t.Run("enter takes recommendation", func(t *testing.T) {
		q, err := svc.GenerateQuestion(missingRule("age", 10, 100, true), nil, an)
		require.NoError(t, err)
		ans, err := NewPromptAnswerer(strings.NewReader("\n"), &strings.Builder{}).Answer(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, rules.ImputeMean, ans.Action)
		assert.True(t, ans.FollowedRecommendation)
	})

	t.Run("custom fill value", func(t *testing.T) {
		q, err := svc.GenerateQuestion(missingRule("city", 10, 100, false), nil, an)
		require.NoError(t, err)
		ans, err := NewPromptAnswerer(strings.NewReader("impute_custom\nMissing\n"), &strings.Builder{}).Answer(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, rules.ImputeCustom, ans.Action)
		assert.Equal(t, "Missing", ans.CustomValue)
	})

	t.Run("skip and eof defer", func(t *testing.T) {
		q, err := svc.GenerateQuestion(missingRule("age", 10, 100, true), nil, an)
		require.NoError(t, err)
		_, err = NewPromptAnswerer(strings.NewReader("s\n"), &strings.Builder{}).Answer(context.Background(), q)
		assert.ErrorIs(t, err, ErrDeferred)
		_, err = NewPromptAnswerer(strings.NewReader(""), &strings.Builder{}).Answer(context.Background(), q)
		assert.ErrorIs(t, err, ErrDeferred)
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		q, err := svc.GenerateQuestion(missingRule("age", 10, 100, true), nil, an)
		require.NoError(t, err)
		_, err = NewPromptAnswerer(strings.NewReader("x\ny\nz\n"), &strings.Builder{}).Answer(context.Background(), q)
		assert.ErrorIs(t, err, ErrInvalidAnswer)
	})
}

func decision(id string, at time.Time) *DecisionLog {
	return &DecisionLog{
		ID:        id,
		SessionID: "s1",
		Question:  &Question{ID: "q-" + id, RuleID: "outlier:age"},
		Answer:    &Answer{Action: rules.Cap, FollowedRecommendation: true},
		LoggedAt:  at,
	}
}

func testStore(t *testing.T, s DecisionStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(ctx, decision("b", base.Add(time.Second))))
	require.NoError(t, s.Append(ctx, decision("a", base)))

	err := s.Append(ctx, decision("a", base))
	assert.ErrorIs(t, err, ErrDuplicateEntry)
	assert.ErrorIs(t, s.Append(ctx, nil), ErrNilInput)

	got, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID, "entries are listed by log time")
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, "outlier:age", got[0].Question.RuleID)
	assert.True(t, got[0].LoggedAt.Equal(base))
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	testStore(t, s)

	_, err = NewFileStore(" ")
	assert.Error(t, err)
}

func TestBadgerStore(t *testing.T) {
	s, err := OpenBadgerStore(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer s.Close()
	testStore(t, s)

	_, err = OpenBadgerStore(BadgerConfig{})
	assert.Error(t, err)
}

func TestBadgerStorePersists(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBadgerStore(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), decision("x", time.Now().UTC())))
	require.NoError(t, s.Close())

	s, err = OpenBadgerStore(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	defer s.Close()
	got, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].ID)
}
