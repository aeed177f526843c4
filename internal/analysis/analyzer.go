package analysis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/KaramelBytes/dataloom-cli/internal/table"
)

// Analyzer profiles samples. It holds no per-call state and is safe for concurrent use.
type Analyzer struct {
	logger *zap.Logger
}

// NewAnalyzer returns an Analyzer; a nil logger disables logging.
func NewAnalyzer(logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{logger: logger.Named("analysis")}
}

// Analyze profiles every column of t. Columns are processed concurrently.
func (a *Analyzer) Analyze(ctx context.Context, t *table.Table, stage int, ratio float64, opt *Options) (*SampleAnalysis, error) {
	if t == nil || opt == nil {
		return nil, ErrNilInput
	}
	start := time.Now()
	out := &SampleAnalysis{
		Name:        t.Name,
		Stage:       stage,
		SampleRatio: ratio,
		RowCount:    t.Rows(),
		ColumnCount: t.Width(),
		Columns:     make([]ColumnAnalysis, t.Width()),
	}

	g, gctx := errgroup.WithContext(ctx)
	if opt.Workers > 0 {
		g.SetLimit(opt.Workers)
	}
	for i, col := range t.Columns {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out.Columns[i] = AnalyzeColumn(col, i, *opt)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("analyze stage %d: %w", stage, err)
	}

	out.QualityScore = QualityScore(out)
	out.AnalyzedAt = time.Now().UTC()
	out.Duration = time.Since(start)
	a.logger.Debug("sample analyzed",
		zap.Int("stage", stage),
		zap.Int("rows", out.RowCount),
		zap.Int("columns", out.ColumnCount),
		zap.Float64("quality", out.QualityScore),
		zap.Duration("took", out.Duration),
	)
	return out, nil
}

// AnalyzeColumn infers the type of col and computes the matching statistics.
func AnalyzeColumn(col *table.Column, index int, opt Options) ColumnAnalysis {
	ca := ColumnAnalysis{Name: col.Name, Index: index, Count: len(col.Values)}
	present := col.NonMissing()
	ca.NonNull = len(present)
	ca.NullCount = ca.Count - ca.NonNull
	if ca.Count > 0 {
		ca.NullPercent = float64(ca.NullCount) * 100 / float64(ca.Count)
	}
	if len(present) == 0 {
		ca.Type = Empty
		if ca.Count > 0 {
			ca.Issues = append(ca.Issues, "all values missing")
		}
		return ca
	}

	var nums []float64
	numCnt, dtCnt, boolCnt, totalLen := 0, 0, 0, 0
	for _, v := range present {
		totalLen += len(v)
		if f, ok := table.ParseNumeric(v, opt.NumberFormat); ok {
			nums = append(nums, f)
			numCnt++
			continue
		}
		if _, ok := table.ParseBool(v); ok {
			boolCnt++
			continue
		}
		if _, ok := table.ParseTime(v); ok {
			dtCnt++
		}
	}
	other := len(present) - numCnt - dtCnt - boolCnt

	switch {
	case numCnt >= dtCnt && numCnt >= boolCnt && numCnt >= other:
		ca.Type = Numeric
		ca.InvalidCount = len(present) - numCnt
		st := ComputeNumeric(nums, opt)
		ca.Numeric = &st
	case boolCnt == len(present):
		ca.Type = Boolean
	case dtCnt >= other && dtCnt >= boolCnt:
		ca.Type = DateTime
		ca.InvalidCount = len(present) - dtCnt
	default:
		ca.Type = Categorical
		if opt.TextMinAvgLength > 0 && totalLen/len(present) >= opt.TextMinAvgLength {
			ca.Type = Text
		}
	}
	if ca.Type != Numeric {
		st := ComputeCategorical(present, opt)
		ca.Categorical = &st
	}
	ca.Issues = columnIssues(ca)
	return ca
}

func columnIssues(ca ColumnAnalysis) []string {
	var issues []string
	if ca.NullPercent > 50 {
		issues = append(issues, fmt.Sprintf("%.1f%% missing", ca.NullPercent))
	}
	if ca.InvalidCount > 0 {
		issues = append(issues, fmt.Sprintf("%d values do not parse as %s", ca.InvalidCount, ca.Type))
	}
	if ca.Numeric != nil {
		if ca.Numeric.OutlierCount > 0 {
			issues = append(issues, fmt.Sprintf("%d outliers (%s)", ca.Numeric.OutlierCount, ca.Numeric.OutlierMethod))
		}
		if ca.Numeric.Overflow {
			issues = append(issues, "overflow: statistics clamped to float64 range")
		}
		if ca.Numeric.Count > 1 && ca.Numeric.Min == ca.Numeric.Max {
			issues = append(issues, "constant")
		}
	}
	if ca.Categorical != nil && ca.Categorical.Count > 1 && ca.Categorical.Unique == 1 {
		issues = append(issues, "constant")
	}
	return issues
}

// QualityScore is 1 - (0.6*mean missing fraction + 0.4*fraction of columns
// with issues), clamped to [0,1]. An empty sample scores 0.
func QualityScore(a *SampleAnalysis) float64 {
	if a == nil || a.RowCount == 0 || len(a.Columns) == 0 {
		return 0
	}
	var missing float64
	withIssues := 0
	for _, c := range a.Columns {
		missing += c.NullPercent / 100
		if len(c.Issues) > 0 {
			withIssues++
		}
	}
	k := float64(len(a.Columns))
	score := 1 - (0.6*missing/k + 0.4*float64(withIssues)/k)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
