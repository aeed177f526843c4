package hitl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KaramelBytes/dataloom-cli/internal/analysis"
	"github.com/KaramelBytes/dataloom-cli/internal/rules"
	"github.com/KaramelBytes/dataloom-cli/internal/table"
)

// Service turns rules into questions, records the answers and queries the log.
type Service struct {
	store    DecisionStore
	answerer Answerer
	builders map[rules.RuleType]OptionBuilder
	userID   string
	logger   *zap.Logger
	now      func() time.Time
}

// NewService wires a store and an answerer. A nil store keeps decisions in
// the returned results only.
func NewService(store DecisionStore, answerer Answerer, userID string, logger *zap.Logger) *Service {
	if answerer == nil {
		answerer = AutoAnswerer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if userID == "" {
		userID = "anonymous"
	}
	return &Service{
		store:    store,
		answerer: answerer,
		builders: DefaultOptionBuilders(),
		userID:   userID,
		logger:   logger.Named("hitl"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetOptionBuilder overrides the options offered for a rule type.
func (s *Service) SetOptionBuilder(t rules.RuleType, b OptionBuilder) { s.builders[t] = b }

// GenerateQuestion builds the question for a rule that requires review.
func (s *Service) GenerateQuestion(r *rules.Rule, sample *table.Table, an *analysis.SampleAnalysis) (*Question, error) {
	if r == nil || an == nil {
		return nil, ErrNilInput
	}
	if !r.RequiresHITL {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotHITL, r.ID)
	}
	build, ok := s.builders[r.Type]
	if !ok {
		build = genericOptions
	}
	opts, rec, reason := build(r, an)
	q := &Question{
		ID:                   uuid.NewString(),
		RuleID:               r.ID,
		RuleType:             r.Type,
		Column:               r.Column(),
		Prompt:               prompt(r),
		Details:              details(r, sample, an),
		RecommendationReason: reason,
		CreatedAt:            s.now(),
	}
	for _, o := range opts {
		o.Recommended = o.Action == rec
		if o.Recommended {
			q.RecommendedKey = o.Key
		}
		q.Options = append(q.Options, o)
	}
	if q.RecommendedKey == "" && len(q.Options) > 0 {
		q.Options[0].Recommended = true
		q.RecommendedKey = q.Options[0].Key
	}
	return q, nil
}

func prompt(r *rules.Rule) string {
	switch r.Type {
	case rules.MissingValue:
		return fmt.Sprintf("How should missing values in %q be handled?", r.Column())
	case rules.Outlier:
		return fmt.Sprintf("How should outliers in %q be handled?", r.Column())
	case rules.CategoryMapping:
		return fmt.Sprintf("Merge spelling variants of categories in %q?", r.Column())
	case rules.TypeCoercion:
		return fmt.Sprintf("How should unparseable values in %q be handled?", r.Column())
	}
	return fmt.Sprintf("Apply %s to %q?", r.Type, r.Column())
}

func details(r *rules.Rule, sample *table.Table, an *analysis.SampleAnalysis) []string {
	out := []string{r.Description}
	out = append(out, fmt.Sprintf("affected: %d of %d sampled rows (%.1f%%)", r.AffectedRows, r.SampleRows, r.AffectedRate()*100))
	if col, ok := an.Column(r.Column()); ok {
		line := fmt.Sprintf("column: %s, %.1f%% missing", col.Type, col.NullPercent)
		if ns := col.Numeric; ns != nil && ns.Count > 0 {
			line += fmt.Sprintf(", mean %.4g, median %.4g, sd %.4g", ns.Mean, ns.Median, ns.StdDev)
		}
		out = append(out, line)
	}
	if len(r.Examples) > 0 {
		out = append(out, "examples: "+strings.Join(r.Examples, ", "))
	}
	if sample != nil {
		out = append(out, fmt.Sprintf("sample: %d rows at stage %d", sample.Rows(), r.DiscoveredInStage))
	}
	return out
}

// ExecuteWorkflow asks about every pending rule that requires review, all
// under one session. Deferred rules stay pending.
func (s *Service) ExecuteWorkflow(ctx context.Context, rs []*rules.Rule, sample *table.Table, an *analysis.SampleAnalysis) (*SessionResult, error) {
	res := &SessionResult{SessionID: uuid.NewString()}
	for _, r := range rs {
		if r == nil || !r.RequiresHITL || r.Decided() {
			res.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		d, err := s.resolve(ctx, res.SessionID, r, sample, an)
		if errors.Is(err, ErrDeferred) {
			res.Deferred++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		res.Decisions = append(res.Decisions, d)
		if r.Status == rules.Approved {
			res.Approved++
		} else {
			res.Rejected++
		}
	}
	s.logger.Info("hitl session finished",
		zap.String("session", res.SessionID),
		zap.Int("approved", res.Approved),
		zap.Int("rejected", res.Rejected),
		zap.Int("deferred", res.Deferred))
	return res, nil
}

// ExecuteSingleRuleWorkflow resolves one rule in its own session.
func (s *Service) ExecuteSingleRuleWorkflow(ctx context.Context, r *rules.Rule, sample *table.Table, an *analysis.SampleAnalysis) (*DecisionLog, error) {
	if r == nil {
		return nil, ErrNilInput
	}
	if !r.RequiresHITL {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotHITL, r.ID)
	}
	return s.resolve(ctx, uuid.NewString(), r, sample, an)
}

func (s *Service) resolve(ctx context.Context, session string, r *rules.Rule, sample *table.Table, an *analysis.SampleAnalysis) (*DecisionLog, error) {
	q, err := s.GenerateQuestion(r, sample, an)
	if err != nil {
		return nil, err
	}
	ans, err := s.answerer.Answer(ctx, q)
	if err != nil {
		return nil, err
	}
	if ans == nil {
		return nil, ErrInvalidAnswer
	}
	if o, ok := q.Option(ans.SelectedKey); ok {
		if ans.Action == "" {
			ans.Action = o.Action
		}
		if ans.CustomValue == "" {
			ans.CustomValue = o.CustomValue
		}
	} else if ans.Action == "" {
		return nil, fmt.Errorf("%w: unknown option %q", ErrInvalidAnswer, ans.SelectedKey)
	}
	ans.QuestionID = q.ID
	ans.FollowedRecommendation = ans.Action == q.Recommended().Action
	if ans.AnsweredAt.IsZero() {
		ans.AnsweredAt = s.now()
	}
	// The rule only changes once the decision is on record.
	decided := r.Clone()
	if err := decided.Approve(ans.Action, ans.CustomValue, ans.Feedback); err != nil {
		return nil, err
	}
	d := &DecisionLog{
		ID:           uuid.NewString(),
		SessionID:    session,
		Question:     q,
		Answer:       ans,
		ApprovedRule: decided,
		UserID:       s.userID,
		LoggedAt:     s.now(),
	}
	if s.store != nil {
		if err := s.store.Append(ctx, d); err != nil {
			return nil, fmt.Errorf("log decision: %w", err)
		}
	}
	r.Status, r.IsApproved = decided.Status, decided.IsApproved
	r.Action, r.CustomValue, r.UserFeedback = decided.Action, decided.CustomValue, decided.UserFeedback
	s.logger.Debug("decision logged",
		zap.String("rule", r.ID),
		zap.String("action", string(ans.Action)),
		zap.Bool("followed", ans.FollowedRecommendation))
	return d, nil
}

func (s *Service) all(ctx context.Context) ([]*DecisionLog, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.List(ctx)
}

// DecisionsByRule returns every logged decision for ruleID.
func (s *Service) DecisionsByRule(ctx context.Context, ruleID string) ([]*DecisionLog, error) {
	return s.filter(ctx, func(d *DecisionLog) bool { return d.Question != nil && d.Question.RuleID == ruleID })
}

// DecisionsBySession returns the decisions logged under one session.
func (s *Service) DecisionsBySession(ctx context.Context, session string) ([]*DecisionLog, error) {
	return s.filter(ctx, func(d *DecisionLog) bool { return d.SessionID == session })
}

// DecisionsByTimeRange returns decisions logged within [from, to].
func (s *Service) DecisionsByTimeRange(ctx context.Context, from, to time.Time) ([]*DecisionLog, error) {
	return s.filter(ctx, func(d *DecisionLog) bool {
		return !d.LoggedAt.Before(from) && !d.LoggedAt.After(to)
	})
}

func (s *Service) filter(ctx context.Context, keep func(*DecisionLog) bool) ([]*DecisionLog, error) {
	all, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	var out []*DecisionLog
	for _, d := range all {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

// DecisionSummary counts decisions and how often the recommendation was followed.
func (s *Service) DecisionSummary(ctx context.Context) (*Summary, error) {
	all, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	return Summarize(all), nil
}

// Summarize aggregates a list of decisions.
func Summarize(ds []*DecisionLog) *Summary {
	sum := &Summary{ByAction: map[rules.Action]int{}}
	sessions := map[string]struct{}{}
	for _, d := range ds {
		sum.Total++
		sessions[d.SessionID] = struct{}{}
		if d.Answer == nil {
			continue
		}
		if d.Answer.FollowedRecommendation {
			sum.Followed++
		} else {
			sum.Overridden++
		}
		sum.ByAction[d.Answer.Action]++
	}
	sum.Sessions = len(sessions)
	return sum
}
