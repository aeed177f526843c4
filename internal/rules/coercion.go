package rules

import (
	"context"
	"fmt"

	"github.com/KaramelBytes/dataloom-cli/internal/analysis"
	"github.com/KaramelBytes/dataloom-cli/internal/table"
)

func init() {
	RegisterSpec(TypeCoercion, func() Spec { return &TypeCoercionSpec{} })
}

// TypeCoercionSpec handles values that do not parse as the column's inferred type.
// Coerce blanks them so a missing-value rule can fill them; Delete drops their rows.
type TypeCoercionSpec struct {
	Column string              `json:"column"`
	Target analysis.ColumnType `json:"target"`
}

func (s *TypeCoercionSpec) Type() RuleType        { return TypeCoercion }
func (s *TypeCoercionSpec) DefaultAction() Action { return Coerce }
func (s *TypeCoercionSpec) Actions() []Action     { return []Action{Coerce, Delete, KeepAsIs} }

func (s *TypeCoercionSpec) valid(v string, nf table.NumberFormat) bool {
	if table.IsMissing(v) {
		return true
	}
	switch s.Target {
	case analysis.Numeric:
		_, ok := table.ParseNumeric(v, nf)
		return ok
	case analysis.DateTime:
		_, ok := table.ParseTime(v)
		return ok
	case analysis.Boolean:
		_, ok := table.ParseBool(v)
		return ok
	}
	return true
}

func (s *TypeCoercionSpec) Apply(ac *ApplyContext) (ApplyStats, error) {
	var st ApplyStats
	col, err := ac.Table.MustColumn(s.Column)
	if err != nil {
		return st, err
	}
	n := len(col.Values)
	switch ac.Action {
	case KeepAsIs:
		return st, nil
	case Coerce:
		err = eachChunk(ac.Context, n, ac.ChunkSize, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				if s.valid(col.Values[i], ac.NumberFormat) {
					st.RowsSkipped++
					continue
				}
				col.Values[i] = ""
				st.RowsAffected++
			}
		})
		return st, err
	case Delete:
		drop := make(map[int]bool)
		if err := eachChunk(ac.Context, n, ac.ChunkSize, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				if !s.valid(col.Values[i], ac.NumberFormat) {
					drop[i] = true
				}
			}
		}); err != nil {
			return st, err
		}
		st.RowsDeleted = ac.Table.DeleteRows(drop)
		st.RowsAffected = st.RowsDeleted
		return st, nil
	}
	return st, fmt.Errorf("%w: %s", ErrUnsupportedAction, ac.Action)
}

// TypeInconsistencyDetector finds values that break a column's majority type.
type TypeInconsistencyDetector struct {
	Options DetectorOptions
}

func (d *TypeInconsistencyDetector) Pattern() PatternType { return PatternTypeInconsistency }

func (d *TypeInconsistencyDetector) IsApplicable(col *analysis.ColumnAnalysis) bool {
	return col != nil && col.InvalidCount > 0 && (col.Type == analysis.Numeric || col.Type == analysis.DateTime)
}

func (d *TypeInconsistencyDetector) Detect(_ context.Context, sample *table.Table, col *analysis.ColumnAnalysis, stage int) (*Rule, error) {
	if col.InvalidCount < d.Options.minOccurrences() {
		return nil, nil
	}
	spec := &TypeCoercionSpec{Column: col.Name, Target: col.Type}
	r := newRule(TypeCoercion, PatternTypeInconsistency, col.Name, 30, true, stage, spec)
	r.AffectedRows = col.InvalidCount
	r.SampleRows = col.Count
	r.Confidence = evidenceConfidence(col.NonNull)
	r.Description = fmt.Sprintf("column %q is %s but %d values do not parse", col.Name, col.Type, col.InvalidCount)
	if c, ok := sample.Column(col.Name); ok {
		for _, v := range c.Values {
			if !spec.valid(v, d.Options.NumberFormat) {
				r.Examples = appendExample(r.Examples, v, d.Options.MaxExamples)
			}
		}
	}
	return r, nil
}
