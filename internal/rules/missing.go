package rules

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/KaramelBytes/dataloom-cli/internal/analysis"
	"github.com/KaramelBytes/dataloom-cli/internal/table"
)

func init() {
	RegisterSpec(MissingValue, func() Spec { return &MissingValueSpec{} })
}

// MissingValueSpec fills or removes missing cells of one column.
type MissingValueSpec struct {
	Column  string `json:"column"`
	Numeric bool   `json:"numeric"`
}

func (s *MissingValueSpec) Type() RuleType { return MissingValue }

func (s *MissingValueSpec) DefaultAction() Action {
	if s.Numeric {
		return ImputeMean
	}
	return ImputeMode
}

func (s *MissingValueSpec) Actions() []Action {
	if s.Numeric {
		return []Action{Delete, ImputeMean, ImputeMedian, ImputeMode, ImputeCustom, KeepAsIs}
	}
	return []Action{Delete, ImputeMode, ImputeCustom, KeepAsIs}
}

func (s *MissingValueSpec) Apply(ac *ApplyContext) (ApplyStats, error) {
	var st ApplyStats
	col, err := ac.Table.MustColumn(s.Column)
	if err != nil {
		return st, err
	}
	var fill string
	switch ac.Action {
	case KeepAsIs:
		return st, nil
	case Delete:
		drop := make(map[int]bool)
		if err := eachChunk(ac.Context, len(col.Values), ac.ChunkSize, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				if table.IsMissing(col.Values[i]) {
					drop[i] = true
				}
			}
		}); err != nil {
			return st, err
		}
		st.RowsDeleted = ac.Table.DeleteRows(drop)
		st.RowsAffected = st.RowsDeleted
		return st, nil
	case ImputeMean, ImputeMedian:
		vals := numericValues(col, ac.NumberFormat)
		if len(vals) == 0 {
			return st, fmt.Errorf("impute %s: column has no numeric values", s.Column)
		}
		opt := analysis.Options{OutlierMethod: analysis.OutlierNone}
		ns := analysis.ComputeNumeric(vals, opt)
		v := ns.Mean
		if ac.Action == ImputeMedian {
			v = ns.Median
		}
		fill = strconv.FormatFloat(v, 'f', -1, 64)
	case ImputeMode:
		fill = modeString(col)
		if fill == "" {
			return st, fmt.Errorf("impute %s: column has no values", s.Column)
		}
	case ImputeCustom:
		fill = ac.CustomValue
		if fill == "" {
			return st, fmt.Errorf("impute %s: custom value is empty", s.Column)
		}
	default:
		return st, fmt.Errorf("%w: %s", ErrUnsupportedAction, ac.Action)
	}
	err = eachChunk(ac.Context, len(col.Values), ac.ChunkSize, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if table.IsMissing(col.Values[i]) {
				col.Values[i] = fill
				st.RowsAffected++
			} else {
				st.RowsSkipped++
			}
		}
	})
	return st, err
}

func numericValues(col *table.Column, nf table.NumberFormat) []float64 {
	out := make([]float64, 0, len(col.Values))
	for _, v := range col.Values {
		if f, ok := table.ParseNumeric(v, nf); ok {
			out = append(out, f)
		}
	}
	return out
}

// modeString returns the most frequent non-missing value; ties go to the smallest.
func modeString(col *table.Column) string {
	counts := col.Counts()
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best, bestN := "", 0
	for _, k := range keys {
		if counts[k] > bestN {
			best, bestN = k, counts[k]
		}
	}
	return best
}

// MissingValueDetector reports columns with missing cells.
type MissingValueDetector struct {
	Options DetectorOptions
}

func (d *MissingValueDetector) Pattern() PatternType { return PatternMissingValues }

func (d *MissingValueDetector) IsApplicable(col *analysis.ColumnAnalysis) bool {
	return col != nil && col.NullCount > 0 && col.NonNull > 0
}

func (d *MissingValueDetector) Detect(_ context.Context, _ *table.Table, col *analysis.ColumnAnalysis, stage int) (*Rule, error) {
	if col.NullCount < d.Options.minOccurrences() {
		return nil, nil
	}
	spec := &MissingValueSpec{Column: col.Name, Numeric: col.Type == analysis.Numeric}
	r := newRule(MissingValue, PatternMissingValues, col.Name, 40, true, stage, spec)
	r.AffectedRows = col.NullCount
	r.SampleRows = col.Count
	r.Confidence = evidenceConfidence(col.Count)
	r.Description = fmt.Sprintf("column %q has %d missing values (%.1f%%)", col.Name, col.NullCount, col.NullPercent)
	return r, nil
}
