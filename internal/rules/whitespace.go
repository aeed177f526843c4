package rules

import (
	"context"
	"fmt"

	"github.com/KaramelBytes/dataloom-cli/internal/analysis"
	"github.com/KaramelBytes/dataloom-cli/internal/table"
)

func init() {
	RegisterSpec(WhitespaceNormalization, func() Spec { return &WhitespaceSpec{} })
}

// WhitespaceSpec trims values and collapses inner whitespace runs.
type WhitespaceSpec struct {
	Column string `json:"column"`
}

func (s *WhitespaceSpec) Type() RuleType        { return WhitespaceNormalization }
func (s *WhitespaceSpec) DefaultAction() Action { return Trim }
func (s *WhitespaceSpec) Actions() []Action     { return []Action{Trim, KeepAsIs} }

func (s *WhitespaceSpec) Apply(ac *ApplyContext) (ApplyStats, error) {
	var st ApplyStats
	col, err := ac.Table.MustColumn(s.Column)
	if err != nil {
		return st, err
	}
	switch ac.Action {
	case KeepAsIs:
		return st, nil
	case Trim:
	default:
		return st, fmt.Errorf("%w: %s", ErrUnsupportedAction, ac.Action)
	}
	err = eachChunk(ac.Context, len(col.Values), ac.ChunkSize, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if n := normalizeSpace(col.Values[i]); n != col.Values[i] {
				col.Values[i] = n
				st.RowsAffected++
			} else {
				st.RowsSkipped++
			}
		}
	})
	return st, err
}

// WhitespaceDetector finds text values with stray whitespace. Its fix is
// deterministic, so rules it emits skip human review.
type WhitespaceDetector struct {
	Options DetectorOptions
}

func (d *WhitespaceDetector) Pattern() PatternType { return PatternWhitespace }

func (d *WhitespaceDetector) IsApplicable(col *analysis.ColumnAnalysis) bool {
	if col == nil || col.NonNull == 0 {
		return false
	}
	switch col.Type {
	case analysis.Categorical, analysis.Text, analysis.Boolean, analysis.DateTime:
		return true
	}
	return false
}

func (d *WhitespaceDetector) Detect(_ context.Context, sample *table.Table, col *analysis.ColumnAnalysis, stage int) (*Rule, error) {
	c, err := sample.MustColumn(col.Name)
	if err != nil {
		return nil, err
	}
	affected := 0
	var examples []string
	for _, v := range c.Values {
		if table.IsMissing(v) {
			continue
		}
		if normalizeSpace(v) != v {
			affected++
			examples = appendExample(examples, fmt.Sprintf("%q", v), d.Options.MaxExamples)
		}
	}
	if affected < d.Options.minOccurrences() {
		return nil, nil
	}
	r := newRule(WhitespaceNormalization, PatternWhitespace, col.Name, 10, false, stage, &WhitespaceSpec{Column: col.Name})
	r.AffectedRows = affected
	r.SampleRows = col.Count
	r.Confidence = evidenceConfidence(col.NonNull)
	r.Examples = examples
	r.Description = fmt.Sprintf("column %q has %d values with leading, trailing or repeated whitespace", col.Name, affected)
	return r, nil
}
