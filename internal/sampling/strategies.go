package sampling

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/KaramelBytes/dataloom-cli/internal/table"
)

// RandomStrategy draws a uniform sample without replacement.
type RandomStrategy struct{}

func (RandomStrategy) Name() StrategyName { return Random }

func (RandomStrategy) Sample(ctx context.Context, t *table.Table, ratio float64, _ Config, seed uint64) (*Sample, error) {
	if err := checkInput(t, ratio); err != nil {
		return nil, err
	}
	n := t.Rows()
	idx := pickIndices(n, SampleSize(n, ratio), seed)
	return newSample(t, idx, ratio, seed, Random, "uniform random rows"), nil
}

// StratifiedStrategy samples each label class proportionally, at least one row per class.
// Rows with a missing label form their own stratum.
type StratifiedStrategy struct{}

func (StratifiedStrategy) Name() StrategyName { return Stratified }

func (StratifiedStrategy) Sample(ctx context.Context, t *table.Table, ratio float64, cfg Config, seed uint64) (*Sample, error) {
	if err := checkInput(t, ratio); err != nil {
		return nil, err
	}
	strata, keys, err := strataOf(t, cfg.LabelColumn)
	if err != nil {
		return nil, err
	}
	idx := make([]int, 0, SampleSize(t.Rows(), ratio)+len(keys))
	for i, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows := strata[k]
		for _, p := range pickIndices(len(rows), SampleSize(len(rows), ratio), seed+uint64(i)) {
			idx = append(idx, rows[p])
		}
	}
	sort.Ints(idx)
	reason := fmt.Sprintf("proportional by %q across %d classes", cfg.LabelColumn, len(keys))
	return newSample(t, idx, ratio, seed, Stratified, reason), nil
}

func strataOf(t *table.Table, label string) (map[string][]int, []string, error) {
	if label == "" {
		return nil, nil, ErrLabelColumnRequired
	}
	if _, ok := t.Column(label); !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrLabelColumnNotFound, label)
	}
	return t.GroupBy(label, true)
}

// AdaptiveStrategy picks Stratified when the label distribution supports it and Random otherwise.
type AdaptiveStrategy struct {
	Random     Strategy
	Stratified Strategy
}

func (AdaptiveStrategy) Name() StrategyName { return Adaptive }

func (a AdaptiveStrategy) Sample(ctx context.Context, t *table.Table, ratio float64, cfg Config, seed uint64) (*Sample, error) {
	if err := checkInput(t, ratio); err != nil {
		return nil, err
	}
	useStratified, reason := Choose(t, ratio, cfg)
	var (
		s   *Sample
		err error
	)
	if useStratified {
		s, err = a.Stratified.Sample(ctx, t, ratio, cfg, seed)
	} else {
		s, err = a.Random.Sample(ctx, t, ratio, cfg, seed)
	}
	if err != nil {
		return nil, err
	}
	s.Reason = reason
	return s, nil
}

// Choose reports whether stratified sampling applies to t at ratio and why.
// Every stratum, including missing labels, must expect at least
// MinClassSize sampled rows.
func Choose(t *table.Table, ratio float64, cfg Config) (bool, string) {
	if cfg.LabelColumn == "" {
		return false, "no label column configured"
	}
	strata, keys, err := strataOf(t, cfg.LabelColumn)
	if err != nil {
		return false, fmt.Sprintf("label column %q not found", cfg.LabelColumn)
	}
	classes := len(keys)
	if _, ok := strata[""]; ok {
		classes--
	}
	minClasses, maxClasses, minSize := cfg.MinClasses, cfg.MaxClasses, cfg.MinClassSize
	if minClasses <= 0 {
		minClasses = 2
	}
	if maxClasses <= 0 {
		maxClasses = 100
	}
	if minSize <= 0 {
		minSize = 5
	}
	if classes < minClasses || classes > maxClasses {
		return false, fmt.Sprintf("%d classes in %q outside [%d,%d]", classes, cfg.LabelColumn, minClasses, maxClasses)
	}
	smallest := -1
	for _, rows := range strata {
		if smallest < 0 || len(rows) < smallest {
			smallest = len(rows)
		}
	}
	expected := int(math.Round(float64(smallest) * ratio))
	if expected < minSize {
		return false, fmt.Sprintf("smallest class in %q has %d rows, %d expected in sample (< %d)", cfg.LabelColumn, smallest, expected, minSize)
	}
	return true, fmt.Sprintf("%d classes in %q, smallest has %d rows, %d expected in sample", classes, cfg.LabelColumn, smallest, expected)
}
