package rules

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/KaramelBytes/dataloom-cli/internal/analysis"
	"github.com/KaramelBytes/dataloom-cli/internal/table"
)

// Detector finds one pattern in a column of a sample.
type Detector interface {
	Pattern() PatternType
	IsApplicable(col *analysis.ColumnAnalysis) bool
	// Detect returns nil when the pattern is absent or below the occurrence floor.
	Detect(ctx context.Context, sample *table.Table, col *analysis.ColumnAnalysis, stage int) (*Rule, error)
}

// DetectorOptions are the thresholds shared by the built-in detectors.
type DetectorOptions struct {
	// MinOutlierFraction suppresses outlier rules matching fewer rows than this share of the sample.
	MinOutlierFraction float64 `mapstructure:"min_outlier_fraction" yaml:"min_outlier_fraction" json:"min_outlier_fraction"`
	// MinOccurrences is the fewest affected rows any rule needs.
	MinOccurrences int                `mapstructure:"min_occurrences" yaml:"min_occurrences" json:"min_occurrences"`
	MaxExamples    int                `mapstructure:"max_examples" yaml:"max_examples" json:"max_examples"`
	NumberFormat   table.NumberFormat `mapstructure:"-" yaml:"-" json:"-"`
}

// DefaultDetectorOptions returns a 1% outlier floor and a single-row minimum.
func DefaultDetectorOptions() DetectorOptions {
	return DetectorOptions{MinOutlierFraction: 0.01, MinOccurrences: 1, MaxExamples: 5}
}

func (o DetectorOptions) minOccurrences() int {
	if o.MinOccurrences < 1 {
		return 1
	}
	return o.MinOccurrences
}

// Registry is an ordered set of detectors.
type Registry struct {
	detectors []Detector
}

// NewRegistry creates a registry holding ds.
func NewRegistry(ds ...Detector) *Registry {
	r := &Registry{}
	for _, d := range ds {
		r.Register(d)
	}
	return r
}

// Register adds d, replacing any detector with the same pattern.
func (r *Registry) Register(d Detector) {
	for i, existing := range r.detectors {
		if existing.Pattern() == d.Pattern() {
			r.detectors[i] = d
			return
		}
	}
	r.detectors = append(r.detectors, d)
}

// Detectors returns the registered detectors in registration order.
func (r *Registry) Detectors() []Detector { return append([]Detector(nil), r.detectors...) }

// Lookup finds the detector for a pattern.
func (r *Registry) Lookup(p PatternType) (Detector, bool) {
	for _, d := range r.detectors {
		if d.Pattern() == p {
			return d, true
		}
	}
	return nil, false
}

// DefaultRegistry wires the built-in detectors.
func DefaultRegistry(opt DetectorOptions) *Registry {
	return NewRegistry(
		&WhitespaceDetector{Options: opt},
		&CategoryVariationDetector{Options: opt},
		&TypeInconsistencyDetector{Options: opt},
		&MissingValueDetector{Options: opt},
		&OutlierDetector{Options: opt},
	)
}

// evidenceConfidence grows with the number of sampled rows backing a finding.
func evidenceConfidence(n int) float64 {
	if n <= 0 {
		return 0
	}
	return 1 - 1/math.Sqrt(float64(n)+1)
}

func newRule(t RuleType, p PatternType, column string, priority int, hitl bool, stage int, spec Spec) *Rule {
	return &Rule{
		ID:                RuleID(t, column),
		Type:              t,
		TargetColumns:     []string{column},
		Pattern:           p,
		Priority:          priority,
		RequiresHITL:      hitl,
		DiscoveredInStage: stage,
		Status:            Pending,
		CreatedAt:         time.Now().UTC(),
		Spec:              spec,
	}
}

func appendExample(examples []string, v string, limit int) []string {
	if limit <= 0 {
		limit = 5
	}
	if len(examples) >= limit {
		return examples
	}
	for _, e := range examples {
		if e == v {
			return examples
		}
	}
	return append(examples, v)
}

// normalizeSpace trims and collapses internal whitespace runs to one space.
func normalizeSpace(s string) string { return strings.Join(strings.Fields(s), " ") }
