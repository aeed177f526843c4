package analysis

import "math"

// HasConverged reports whether the tracked statistics moved by at most
// threshold between two analyses. For numeric columns present in both the
// mean, median and standard deviation are compared by relative change; for
// every shared column the missing fraction is compared by absolute change.
func HasConverged(prev, curr *SampleAnalysis, threshold float64) bool {
	if prev == nil || curr == nil {
		return false
	}
	shared := 0
	for i := range curr.Columns {
		c := &curr.Columns[i]
		p, ok := prev.Column(c.Name)
		if !ok {
			continue
		}
		shared++
		if math.Abs(c.NullPercent-p.NullPercent)/100 > threshold {
			return false
		}
		if (c.Numeric == nil) != (p.Numeric == nil) {
			return false
		}
		if c.Numeric == nil {
			continue
		}
		for _, pair := range [][2]float64{
			{p.Numeric.Mean, c.Numeric.Mean},
			{p.Numeric.Median, c.Numeric.Median},
			{p.Numeric.StdDev, c.Numeric.StdDev},
		} {
			if RelativeChange(pair[0], pair[1]) > threshold {
				return false
			}
		}
	}
	return shared > 0 || (len(prev.Columns) == 0 && len(curr.Columns) == 0)
}

// RelativeChange is |b-a| / max(|a|,|b|), and 0 when both are 0.
func RelativeChange(a, b float64) float64 {
	den := math.Max(math.Abs(a), math.Abs(b))
	if den == 0 {
		return 0
	}
	return math.Abs(b/den - a/den)
}
