package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/KaramelBytes/dataloom-cli/internal/analysis"
	"github.com/KaramelBytes/dataloom-cli/internal/table"
)

func init() {
	RegisterSpec(CategoryMapping, func() Spec { return &CategoryMappingSpec{} })
}

// CategoryMappingSpec merges spelling variants of a category onto one form.
// Canonical maps a variant key (case and whitespace folded) to the chosen form.
type CategoryMappingSpec struct {
	Column    string            `json:"column"`
	Canonical map[string]string `json:"canonical"`
}

func (s *CategoryMappingSpec) Type() RuleType        { return CategoryMapping }
func (s *CategoryMappingSpec) DefaultAction() Action { return Merge }
func (s *CategoryMappingSpec) Actions() []Action     { return []Action{Merge, KeepAsIs} }

func (s *CategoryMappingSpec) Apply(ac *ApplyContext) (ApplyStats, error) {
	var st ApplyStats
	col, err := ac.Table.MustColumn(s.Column)
	if err != nil {
		return st, err
	}
	switch ac.Action {
	case KeepAsIs:
		return st, nil
	case Merge:
	default:
		return st, fmt.Errorf("%w: %s", ErrUnsupportedAction, ac.Action)
	}
	err = eachChunk(ac.Context, len(col.Values), ac.ChunkSize, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			v := col.Values[i]
			if table.IsMissing(v) {
				continue
			}
			target, ok := s.Canonical[variantKey(v)]
			if !ok || target == v {
				st.RowsSkipped++
				continue
			}
			col.Values[i] = target
			st.RowsAffected++
		}
	})
	return st, err
}

func variantKey(v string) string { return strings.ToLower(normalizeSpace(v)) }

// canonicalForms groups values by variant key and picks the most frequent
// spelling of each group with more than one spelling.
func canonicalForms(counts map[string]int) (map[string]string, int) {
	groups := make(map[string][]string)
	for v := range counts {
		k := variantKey(v)
		groups[k] = append(groups[k], v)
	}
	canonical := make(map[string]string)
	affected := 0
	for k, forms := range groups {
		if len(forms) < 2 {
			continue
		}
		sort.Slice(forms, func(i, j int) bool {
			if counts[forms[i]] == counts[forms[j]] {
				return forms[i] < forms[j]
			}
			return counts[forms[i]] > counts[forms[j]]
		})
		canonical[k] = forms[0]
		for _, f := range forms[1:] {
			affected += counts[f]
		}
	}
	return canonical, affected
}

// CategoryVariationDetector finds categories spelled several ways.
type CategoryVariationDetector struct {
	Options DetectorOptions
}

func (d *CategoryVariationDetector) Pattern() PatternType { return PatternCategoryVariations }

func (d *CategoryVariationDetector) IsApplicable(col *analysis.ColumnAnalysis) bool {
	return col != nil && col.Type == analysis.Categorical && col.Categorical != nil && col.Categorical.Unique > 1
}

func (d *CategoryVariationDetector) Detect(_ context.Context, sample *table.Table, col *analysis.ColumnAnalysis, stage int) (*Rule, error) {
	c, err := sample.MustColumn(col.Name)
	if err != nil {
		return nil, err
	}
	canonical, affected := canonicalForms(c.Counts())
	if len(canonical) == 0 || affected < d.Options.minOccurrences() {
		return nil, nil
	}
	spec := &CategoryMappingSpec{Column: col.Name, Canonical: canonical}
	r := newRule(CategoryMapping, PatternCategoryVariations, col.Name, 20, true, stage, spec)
	r.AffectedRows = affected
	r.SampleRows = col.Count
	r.Confidence = evidenceConfidence(col.NonNull)
	keys := make([]string, 0, len(canonical))
	for k := range canonical {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r.Examples = appendExample(r.Examples, canonical[k], d.Options.MaxExamples)
	}
	r.Description = fmt.Sprintf("column %q has %d categories with spelling variants (%d rows)", col.Name, len(canonical), affected)
	return r, nil
}
