package apply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/KaramelBytes/dataloom-cli/internal/rules"
	"github.com/KaramelBytes/dataloom-cli/internal/table"
)

var (
	ErrNilInput        = errors.New("apply: nil input")
	ErrRuleNotApproved = errors.New("apply: rule is not approved")
	ErrNoSpec          = errors.New("apply: rule has no variant payload")
	// ErrErrorRateExceeded aborts a batch whose failed share exceeds MaxErrorRate.
	ErrErrorRateExceeded = errors.New("apply: rule failure rate exceeded")
)

// Config controls batch application.
type Config struct {
	ContinueOnRuleFailure bool               `mapstructure:"continue_on_rule_failure" yaml:"continue_on_rule_failure" json:"continue_on_rule_failure"`
	MaxErrorRate          float64            `mapstructure:"max_error_rate" yaml:"max_error_rate" json:"max_error_rate"`
	ChunkSize             int                `mapstructure:"chunk_size" yaml:"chunk_size" json:"chunk_size"`
	NumberFormat          table.NumberFormat `mapstructure:"-" yaml:"-" json:"-"`
}

func DefaultConfig() Config {
	return Config{ContinueOnRuleFailure: true, MaxErrorRate: 0.01, ChunkSize: 10000}
}

// RuleResult is the outcome of one rule.
type RuleResult struct {
	RuleID       string         `json:"rule_id"`
	RuleType     rules.RuleType `json:"rule_type"`
	Action       rules.Action   `json:"action"`
	RowsAffected int            `json:"rows_affected"`
	RowsSkipped  int            `json:"rows_skipped"`
	RowsDeleted  int            `json:"rows_deleted"`
	Success      bool           `json:"success"`
	Error        string         `json:"error,omitempty"`
	Duration     time.Duration  `json:"duration"`
}

// BatchResult aggregates a call to ApplyRules.
type BatchResult struct {
	TotalRules   int           `json:"total_rules"`
	AppliedRules int           `json:"applied_rules"`
	FailedRules  int           `json:"failed_rules"`
	SkippedRules int           `json:"skipped_rules"`
	RowsAffected int           `json:"rows_affected"`
	RowsDeleted  int           `json:"rows_deleted"`
	Results      []RuleResult  `json:"results"`
	Duration     time.Duration `json:"duration"`
}

// FailureRate is FailedRules/TotalRules, 0 for an empty batch.
func (b *BatchResult) FailureRate() float64 {
	if b == nil || b.TotalRules == 0 {
		return 0
	}
	return float64(b.FailedRules) / float64(b.TotalRules)
}

// Applier executes approved rules against a table in place.
type Applier struct {
	cfg    Config
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Applier {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{cfg: cfg, logger: logger.Named("apply")}
}

// ValidateRule checks that r is approved, carries a supported action and
// that its target columns exist in t.
func (a *Applier) ValidateRule(t *table.Table, r *rules.Rule) error {
	if t == nil || r == nil {
		return ErrNilInput
	}
	if r.Spec == nil {
		return fmt.Errorf("%w: %s", ErrNoSpec, r.ID)
	}
	if r.Status != rules.Approved || !r.IsApproved {
		return fmt.Errorf("%w: %s is %s", ErrRuleNotApproved, r.ID, r.Status)
	}
	for _, c := range r.TargetColumns {
		if _, ok := t.Column(c); !ok {
			return fmt.Errorf("%w: %q (rule %s)", table.ErrColumnNotFound, c, r.ID)
		}
	}
	if !rules.Supports(r.Spec, r.Action) {
		return fmt.Errorf("%w: %s on %s", rules.ErrUnsupportedAction, r.Action, r.ID)
	}
	return nil
}

// ApplyRule validates and applies one rule. The returned result is filled
// in on failure too.
func (a *Applier) ApplyRule(ctx context.Context, t *table.Table, r *rules.Rule) (RuleResult, error) {
	start := time.Now()
	res := RuleResult{}
	if r != nil {
		res.RuleID, res.RuleType, res.Action = r.ID, r.Type, r.Action
	}
	fail := func(err error) (RuleResult, error) {
		res.Error = err.Error()
		res.Duration = time.Since(start)
		return res, err
	}
	if err := a.ValidateRule(t, r); err != nil {
		return fail(err)
	}
	st, err := r.Spec.Apply(&rules.ApplyContext{
		Context:      ctx,
		Table:        t,
		Action:       r.Action,
		CustomValue:  r.CustomValue,
		ChunkSize:    a.cfg.ChunkSize,
		NumberFormat: a.cfg.NumberFormat,
	})
	res.RowsAffected, res.RowsSkipped, res.RowsDeleted = st.RowsAffected, st.RowsSkipped, st.RowsDeleted
	if err != nil {
		return fail(err)
	}
	res.Success = true
	res.Duration = time.Since(start)
	return res, nil
}

// ApplyRules applies the approved rules in priority order. Rules that are
// not approved are skipped. Failures are recorded and, with
// ContinueOnRuleFailure, do not stop the batch; cancellation always does.
// progress receives the completed fraction after each rule.
func (a *Applier) ApplyRules(ctx context.Context, t *table.Table, rs []*rules.Rule, progress func(float64)) (*BatchResult, error) {
	if t == nil {
		return nil, ErrNilInput
	}
	start := time.Now()
	ordered := make([]*rules.Rule, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			ordered = append(ordered, r)
		}
	}
	rules.SortRules(ordered)

	b := &BatchResult{TotalRules: len(ordered)}
	defer func() { b.Duration = time.Since(start) }()
	for i, r := range ordered {
		if err := ctx.Err(); err != nil {
			return b, err
		}
		if r.Status != rules.Approved {
			b.SkippedRules++
		} else {
			res, err := a.ApplyRule(ctx, t, r)
			b.Results = append(b.Results, res)
			b.RowsAffected += res.RowsAffected
			b.RowsDeleted += res.RowsDeleted
			switch {
			case err == nil:
				b.AppliedRules++
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				return b, err
			default:
				b.FailedRules++
				a.logger.Warn("rule failed", zap.String("rule", r.ID), zap.Error(err))
				if !a.cfg.ContinueOnRuleFailure {
					return b, fmt.Errorf("apply %s: %w", r.ID, err)
				}
			}
		}
		if progress != nil {
			progress(float64(i+1) / float64(len(ordered)))
		}
	}
	a.logger.Info("rules applied",
		zap.Int("applied", b.AppliedRules),
		zap.Int("failed", b.FailedRules),
		zap.Int("skipped", b.SkippedRules),
		zap.Int("rows_affected", b.RowsAffected),
		zap.Int("rows_deleted", b.RowsDeleted))
	if a.cfg.MaxErrorRate >= 0 && b.FailureRate() > a.cfg.MaxErrorRate {
		return b, fmt.Errorf("%w: %d of %d rules failed (%.2f > %.2f)",
			ErrErrorRateExceeded, b.FailedRules, b.TotalRules, b.FailureRate(), a.cfg.MaxErrorRate)
	}
	return b, nil
}
