package sampling

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/KaramelBytes/dataloom-cli/internal/table"
)

var (
	ErrNilInput            = errors.New("sampling: nil input")
	ErrInvalidRatio        = errors.New("sampling: ratio must be in (0,1]")
	ErrLabelColumnRequired = errors.New("sampling: label column required")
	ErrLabelColumnNotFound = errors.New("sampling: label column not found")
	ErrUnknownStrategy     = errors.New("sampling: unknown strategy")
)

// StrategyName identifies a sampling strategy.
type StrategyName string

const (
	Random     StrategyName = "random"
	Stratified StrategyName = "stratified"
	Adaptive   StrategyName = "adaptive"
)

// ParseStrategy accepts a strategy name in any case; empty means Adaptive.
func ParseStrategy(s string) (StrategyName, error) {
	switch n := StrategyName(strings.ToLower(strings.TrimSpace(s))); n {
	case "":
		return Adaptive, nil
	case Random, Stratified, Adaptive:
		return n, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownStrategy, s)
	}
}

// Config holds per-call sampling parameters.
type Config struct {
	Strategy    StrategyName `mapstructure:"strategy" yaml:"strategy" json:"strategy"`
	LabelColumn string       `mapstructure:"label_column" yaml:"label_column" json:"label_column,omitempty"`
	// Tolerance is the allowed absolute deviation of class proportions.
	Tolerance float64 `mapstructure:"tolerance" yaml:"tolerance" json:"tolerance"`
	// Adaptive selection bounds.
	MinClasses   int `mapstructure:"min_classes" yaml:"min_classes" json:"min_classes"`
	MaxClasses   int `mapstructure:"max_classes" yaml:"max_classes" json:"max_classes"`
	MinClassSize int `mapstructure:"min_class_size" yaml:"min_class_size" json:"min_class_size"`
}

// DefaultConfig returns adaptive sampling with a 2% tolerance.
func DefaultConfig() Config {
	return Config{
		Strategy:     Adaptive,
		Tolerance:    0.02,
		MinClasses:   2,
		MaxClasses:   100,
		MinClassSize: 5,
	}
}

// Sample is a row subset drawn from a source table.
type Sample struct {
	Table      *table.Table
	Indices    []int // ascending source row indices
	SourceRows int
	Ratio      float64
	Seed       uint64
	// Strategy is the strategy that actually drew the rows; Requested is what the caller asked for.
	Strategy    StrategyName
	Requested   StrategyName
	Reason      string
	LabelColumn string
}

// Rows returns the number of sampled rows.
func (s *Sample) Rows() int { return len(s.Indices) }

// Strategy draws a sample at a ratio. Implementations must be deterministic for a seed.
type Strategy interface {
	Name() StrategyName
	Sample(ctx context.Context, t *table.Table, ratio float64, cfg Config, seed uint64) (*Sample, error)
}

// SampleSize is max(1, round(n*ratio)) capped at n, or 0 when n is 0.
func SampleSize(n int, ratio float64) int {
	if n <= 0 {
		return 0
	}
	k := int(math.Round(float64(n) * ratio))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

// pickIndices runs k steps of a Fisher-Yates shuffle over [0,n) and returns
// the chosen indices sorted. For a fixed seed and n, a larger k yields a
// superset of a smaller k.
func pickIndices(n, k int, seed uint64) []int {
	if k <= 0 {
		return []int{}
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.IntN(n-i)
		perm[i], perm[j] = perm[j], perm[i]
	}
	out := append([]int(nil), perm[:k]...)
	sort.Ints(out)
	return out
}

func checkInput(t *table.Table, ratio float64) error {
	if t == nil {
		return ErrNilInput
	}
	if !(ratio > 0 && ratio <= 1) {
		return fmt.Errorf("%w: got %v", ErrInvalidRatio, ratio)
	}
	return nil
}

func newSample(t *table.Table, idx []int, ratio float64, seed uint64, name StrategyName, reason string) *Sample {
	return &Sample{
		Table:      t.Subset(idx),
		Indices:    idx,
		SourceRows: t.Rows(),
		Ratio:      ratio,
		Seed:       seed,
		Strategy:   name,
		Requested:  name,
		Reason:     reason,
	}
}

// Engine dispatches to registered strategies.
type Engine struct {
	strategies map[StrategyName]Strategy
	logger     *zap.Logger
	// NumericTolerance bounds the standardized mean deviation checked by Validate
	// when no label column is available.
	NumericTolerance float64
}

// NewEngine creates an engine with the given strategies.
func NewEngine(logger *zap.Logger, strategies ...Strategy) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		strategies:       make(map[StrategyName]Strategy, len(strategies)),
		logger:           logger.Named("sampling"),
		NumericTolerance: 0.25,
	}
	for _, s := range strategies {
		e.Register(s)
	}
	return e
}

// DefaultEngine registers the random, stratified and adaptive strategies.
func DefaultEngine(logger *zap.Logger) *Engine {
	random := RandomStrategy{}
	stratified := StratifiedStrategy{}
	return NewEngine(logger, random, stratified, AdaptiveStrategy{Random: random, Stratified: stratified})
}

// Register adds or replaces a strategy.
func (e *Engine) Register(s Strategy) { e.strategies[s.Name()] = s }

// Strategies lists the registered strategy names in sorted order.
func (e *Engine) Strategies() []StrategyName {
	out := make([]StrategyName, 0, len(e.strategies))
	for n := range e.strategies {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Sample draws rows from t at ratio using cfg.Strategy.
func (e *Engine) Sample(ctx context.Context, t *table.Table, ratio float64, cfg Config, seed uint64) (*Sample, error) {
	if err := checkInput(t, ratio); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := cfg.Strategy
	if name == "" {
		name = Adaptive
	}
	s, ok := e.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	out, err := s.Sample(ctx, t, ratio, cfg, seed)
	if err != nil {
		return nil, err
	}
	out.Requested = name
	out.LabelColumn = cfg.LabelColumn
	e.logger.Debug("sample drawn",
		zap.String("strategy", string(out.Strategy)),
		zap.String("requested", string(name)),
		zap.Int("rows", out.Rows()),
		zap.Int("source_rows", out.SourceRows),
		zap.Float64("ratio", ratio),
	)
	return out, nil
}
