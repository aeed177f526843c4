package rules

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/KaramelBytes/dataloom-cli/internal/analysis"
	"github.com/KaramelBytes/dataloom-cli/internal/table"
)

// Engine runs a detector registry over analyzed samples. It is safe for concurrent use.
type Engine struct {
	registry *Registry
	logger   *zap.Logger
}

// NewEngine creates an engine over reg; a nil reg uses DefaultRegistry.
func NewEngine(reg *Registry, logger *zap.Logger) *Engine {
	if reg == nil {
		reg = DefaultRegistry(DefaultDetectorOptions())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{registry: reg, logger: logger.Named("rules")}
}

// Registry returns the detectors the engine runs.
func (e *Engine) Registry() *Registry { return e.registry }

// DiscoverRules runs every applicable detector on every column and returns
// the findings ordered by priority then id.
func (e *Engine) DiscoverRules(ctx context.Context, sample *table.Table, an *analysis.SampleAnalysis, stage int) ([]*Rule, error) {
	if sample == nil || an == nil {
		return nil, ErrNilInput
	}
	var found []*Rule
	for i := range an.Columns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		col := &an.Columns[i]
		for _, d := range e.registry.detectors {
			if !d.IsApplicable(col) {
				continue
			}
			r, err := d.Detect(ctx, sample, col, stage)
			if err != nil {
				return nil, fmt.Errorf("detect %s on %q: %w", d.Pattern(), col.Name, err)
			}
			if r != nil {
				found = append(found, r)
			}
		}
	}
	SortRules(found)
	e.logger.Debug("rules discovered", zap.Int("stage", stage), zap.Int("count", len(found)))
	return found, nil
}

// CalculateConfidence re-runs the rule's detector on another sample and
// compares affected-row rates: 1 - |a-b|/max(a,b). A rule that does not
// reproduce scores 0.
func (e *Engine) CalculateConfidence(ctx context.Context, r *Rule, other *table.Table, otherAn *analysis.SampleAnalysis) (float64, error) {
	if r == nil || other == nil || otherAn == nil {
		return 0, ErrNilInput
	}
	d, ok := e.registry.Lookup(r.Pattern)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoDetector, r.Pattern)
	}
	col, ok := otherAn.Column(r.Column())
	if !ok || !d.IsApplicable(col) {
		return 0, nil
	}
	again, err := d.Detect(ctx, other, col, r.DiscoveredInStage)
	if err != nil {
		return 0, err
	}
	if again == nil {
		return 0, nil
	}
	a, b := r.AffectedRate(), again.AffectedRate()
	den := math.Max(a, b)
	if den == 0 {
		return 1, nil
	}
	return 1 - math.Abs(a-b)/den, nil
}

// SortRules orders rules by priority, then id.
func SortRules(rs []*Rule) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Priority == rs[j].Priority {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].Priority < rs[j].Priority
	})
}

// MergeRules folds incoming into existing by id. Undecided rules take the
// newer evidence and payload. Decided rules are frozen so the payload that
// gets applied is the one that was reviewed; when a later sample yields a
// materially different payload the rule is reset to Pending with the new
// payload and returned in reopened. Unknown rules are appended and returned
// in added.
func MergeRules(existing, incoming []*Rule) (merged, added, reopened []*Rule) {
	index := make(map[string]int, len(existing))
	merged = make([]*Rule, 0, len(existing)+len(incoming))
	for _, r := range existing {
		if _, dup := index[r.ID]; dup {
			continue
		}
		index[r.ID] = len(merged)
		merged = append(merged, r)
	}
	for _, r := range incoming {
		i, ok := index[r.ID]
		if !ok {
			index[r.ID] = len(merged)
			merged = append(merged, r)
			added = append(added, r)
			continue
		}
		cur := merged[i]
		if cur.Decided() {
			if Equivalent(cur.Spec, r.Spec) {
				continue
			}
			cur.Reopen()
			reopened = append(reopened, cur)
		}
		cur.AffectedRows = r.AffectedRows
		cur.SampleRows = r.SampleRows
		cur.Confidence = r.Confidence
		cur.Examples = r.Examples
		cur.Description = r.Description
		cur.Spec = r.Spec
	}
	SortRules(merged)
	return merged, added, reopened
}

// IDs returns the ids of rs as a set.
func IDs(rs []*Rule) map[string]struct{} {
	out := make(map[string]struct{}, len(rs))
	for _, r := range rs {
		out[r.ID] = struct{}{}
	}
	return out
}

// Jaccard is |A∩B| / |A∪B| over rule ids, 1 when both are empty.
func Jaccard(a, b []*Rule) float64 {
	sa, sb := IDs(a), IDs(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 1
	}
	inter := 0
	for id := range sa {
		if _, ok := sb[id]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

// HasConverged reports whether the rule-id sets of two stages are at least
// threshold similar.
func HasConverged(prev, curr []*Rule, threshold float64) bool {
	return Jaccard(prev, curr) >= threshold
}
