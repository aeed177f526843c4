package rules

import (
	"context"
	"fmt"
	"strconv"

	"github.com/KaramelBytes/dataloom-cli/internal/analysis"
	"github.com/KaramelBytes/dataloom-cli/internal/table"
)

func init() {
	RegisterSpec(Outlier, func() Spec { return &OutlierSpec{} })
}

// OutlierSpec handles values outside [Lower, Upper].
type OutlierSpec struct {
	Column string                 `json:"column"`
	Method analysis.OutlierMethod `json:"method"`
	Lower  float64                `json:"lower"`
	Upper  float64                `json:"upper"`
	// FlagColumn receives "true"/"false" for the Flag action.
	FlagColumn string `json:"flag_column"`
}

func (s *OutlierSpec) Type() RuleType        { return Outlier }
func (s *OutlierSpec) DefaultAction() Action { return Cap }
func (s *OutlierSpec) Actions() []Action     { return []Action{Cap, Delete, Flag, KeepAsIs} }

// Equivalent ignores the bounds, which are re-estimated on every sample;
// an approved rule keeps the bounds it was reviewed with.
func (s *OutlierSpec) Equivalent(other Spec) bool {
	o, ok := other.(*OutlierSpec)
	return ok && o.Column == s.Column && o.Method == s.Method && o.FlagColumn == s.FlagColumn
}

func (s *OutlierSpec) outside(v string, nf table.NumberFormat) (float64, bool) {
	f, ok := table.ParseNumeric(v, nf)
	if !ok {
		return 0, false
	}
	return f, f < s.Lower || f > s.Upper
}

func (s *OutlierSpec) Apply(ac *ApplyContext) (ApplyStats, error) {
	var st ApplyStats
	col, err := ac.Table.MustColumn(s.Column)
	if err != nil {
		return st, err
	}
	n := len(col.Values)
	switch ac.Action {
	case KeepAsIs:
		return st, nil
	case Cap:
		err = eachChunk(ac.Context, n, ac.ChunkSize, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				f, out := s.outside(col.Values[i], ac.NumberFormat)
				if !out {
					st.RowsSkipped++
					continue
				}
				if f < s.Lower {
					f = s.Lower
				} else {
					f = s.Upper
				}
				col.Values[i] = strconv.FormatFloat(f, 'f', -1, 64)
				st.RowsAffected++
			}
		})
		return st, err
	case Delete:
		drop := make(map[int]bool)
		if err := eachChunk(ac.Context, n, ac.ChunkSize, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				if _, out := s.outside(col.Values[i], ac.NumberFormat); out {
					drop[i] = true
				}
			}
		}); err != nil {
			return st, err
		}
		st.RowsDeleted = ac.Table.DeleteRows(drop)
		st.RowsAffected = st.RowsDeleted
		return st, nil
	case Flag:
		name := s.FlagColumn
		if name == "" {
			name = s.Column + "_outlier"
		}
		flag, ok := ac.Table.Column(name)
		if !ok {
			flag = &table.Column{Name: name, Values: make([]string, n)}
			ac.Table.Columns = append(ac.Table.Columns, flag)
		}
		err = eachChunk(ac.Context, n, ac.ChunkSize, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				if _, out := s.outside(col.Values[i], ac.NumberFormat); out {
					flag.Values[i] = "true"
					st.RowsAffected++
				} else {
					flag.Values[i] = "false"
					st.RowsSkipped++
				}
			}
		})
		return st, err
	}
	return st, fmt.Errorf("%w: %s", ErrUnsupportedAction, ac.Action)
}

// OutlierDetector turns the analyzer's outlier counts into rules.
type OutlierDetector struct {
	Options DetectorOptions
}

func (d *OutlierDetector) Pattern() PatternType { return PatternOutliers }

func (d *OutlierDetector) IsApplicable(col *analysis.ColumnAnalysis) bool {
	return col != nil && col.Numeric != nil && col.Numeric.OutlierMethod != analysis.OutlierNone
}

func (d *OutlierDetector) Detect(_ context.Context, sample *table.Table, col *analysis.ColumnAnalysis, stage int) (*Rule, error) {
	ns := col.Numeric
	if ns.OutlierCount < d.Options.minOccurrences() || col.Count == 0 {
		return nil, nil
	}
	if float64(ns.OutlierCount)/float64(col.Count) < d.Options.MinOutlierFraction {
		return nil, nil
	}
	spec := &OutlierSpec{Column: col.Name, Method: ns.OutlierMethod, Lower: ns.LowerBound, Upper: ns.UpperBound}
	r := newRule(Outlier, PatternOutliers, col.Name, 50, true, stage, spec)
	r.AffectedRows = ns.OutlierCount
	r.SampleRows = col.Count
	r.Confidence = evidenceConfidence(ns.Count)
	r.Description = fmt.Sprintf("column %q has %d values outside [%.4g, %.4g] by %s", col.Name, ns.OutlierCount, ns.LowerBound, ns.UpperBound, ns.OutlierMethod)
	if c, ok := sample.Column(col.Name); ok {
		for _, v := range c.Values {
			if _, out := spec.outside(v, d.Options.NumberFormat); out {
				r.Examples = appendExample(r.Examples, v, d.Options.MaxExamples)
			}
		}
	}
	return r, nil
}
