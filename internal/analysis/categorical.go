package analysis

import (
	"math"
	"sort"
)

// ComputeCategorical profiles non-missing values. An empty slice yields zeroed stats.
func ComputeCategorical(values []string, opt Options) CategoricalStats {
	st := CategoricalStats{Count: len(values)}
	if len(values) == 0 {
		return st
	}
	counts := make(map[string]int)
	for _, v := range values {
		counts[v]++
	}
	all := make([]ValueCount, 0, len(counts))
	for v, c := range counts {
		all = append(all, ValueCount{Value: v, Count: c})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Count == all[j].Count {
			return all[i].Value < all[j].Value
		}
		return all[i].Count > all[j].Count
	})

	n := float64(len(values))
	st.Unique = len(counts)
	st.CardinalityRatio = float64(st.Unique) / n
	st.Mode, st.ModeCount = all[0].Value, all[0].Count
	for _, vc := range all {
		p := float64(vc.Count) / n
		st.Entropy -= p * math.Log2(p)
	}
	if st.Entropy < 0 {
		st.Entropy = 0
	}

	limit := opt.MaxCategoricalValues
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	st.TopValues = all[:limit]

	st.IsIdentifier = st.CardinalityRatio > 0.95
	st.IsLowCardinality = st.Unique < 20 && st.CardinalityRatio < 0.1
	st.IsHighCardinality = st.Unique > 100 || st.CardinalityRatio > 0.5
	return st
}
