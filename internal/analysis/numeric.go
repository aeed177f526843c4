package analysis

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// ComputeNumeric profiles values. An empty slice yields zeroed stats.
func ComputeNumeric(values []float64, opt Options) NumericStats {
	st := NumericStats{Count: len(values), OutlierMethod: opt.OutlierMethod}
	if st.OutlierMethod == "" {
		st.OutlierMethod = OutlierIQR
	}
	if len(values) == 0 {
		return st
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := float64(len(sorted))

	// Welford on values scaled into [-1,1] so differences of large
	// magnitudes stay finite.
	scale := math.Max(math.Abs(sorted[0]), math.Abs(sorted[len(sorted)-1]))
	if scale == 0 {
		scale = 1
	}
	var mean, m2 float64
	for i, x := range sorted {
		x /= scale
		d := x - mean
		mean += d / float64(i+1)
		m2 += d * (x - mean)
	}
	var variance float64
	if len(sorted) > 1 {
		variance = m2 / (n - 1)
	}
	st.Mean = mean * scale
	st.StdDev = math.Sqrt(variance) * scale
	st.Variance = st.clamp(variance * scale * scale)
	st.Min = sorted[0]
	st.Max = sorted[len(sorted)-1]
	st.Median = quantile(sorted, 0.5)
	st.Q1 = quantile(sorted, 0.25)
	st.Q3 = quantile(sorted, 0.75)
	st.IQR = st.clamp(st.Q3 - st.Q1)
	st.Mode = modeOf(sorted)

	if opt.ComputeHigherMoments && len(sorted) >= 3 {
		st.Skewness, st.Kurtosis = moments(sorted, mean, scale)
		st.HasMoments = true
	}

	if len(opt.Percentiles) > 0 {
		st.Percentiles = make(map[string]float64, len(opt.Percentiles))
		for _, q := range opt.Percentiles {
			st.Percentiles[percentileKey(q)] = quantile(sorted, q)
		}
	}

	switch st.OutlierMethod {
	case OutlierIQR:
		k := opt.IQRMultiplier
		if k <= 0 {
			k = 1.5
		}
		st.LowerBound = st.clamp(st.Q1 - k*st.IQR)
		st.UpperBound = st.clamp(st.Q3 + k*st.IQR)
		for _, x := range sorted {
			if x < st.LowerBound || x > st.UpperBound {
				st.OutlierCount++
			}
		}
	case OutlierZScore:
		z := opt.ZScoreThreshold
		if z <= 0 {
			z = 3
		}
		st.LowerBound = st.clamp(st.Mean - z*st.StdDev)
		st.UpperBound = st.clamp(st.Mean + z*st.StdDev)
		if sd := math.Sqrt(variance); sd > 0 {
			for _, x := range sorted {
				if math.Abs(x/scale-mean)/sd > z {
					st.OutlierCount++
				}
			}
		}
	}
	return st
}

// IsOutlier reports whether x falls outside the bounds computed for st.
func (st NumericStats) IsOutlier(x float64) bool {
	switch st.OutlierMethod {
	case OutlierIQR:
		return x < st.LowerBound || x > st.UpperBound
	case OutlierZScore:
		if st.StdDev == 0 {
			return false
		}
		return x < st.LowerBound || x > st.UpperBound
	}
	return false
}

// clamp replaces an infinite result with the largest finite float of the same
// sign and NaN with 0, recording the loss in Overflow.
func (st *NumericStats) clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		st.Overflow = true
		return 0
	case math.IsInf(v, 1):
		st.Overflow = true
		return math.MaxFloat64
	case math.IsInf(v, -1):
		st.Overflow = true
		return -math.MaxFloat64
	}
	return v
}

// moments returns g1 = m3/m2^1.5 and excess kurtosis g2 = m4/m2^2 - 3
// using population central moments. Both are scale invariant, so they are
// computed on vals/scale where mean is already scaled.
func moments(vals []float64, mean, scale float64) (skew, kurt float64) {
	var m2, m3, m4 float64
	for _, x := range vals {
		d := x/scale - mean
		d2 := d * d
		m2 += d2
		m3 += d2 * d
		m4 += d2 * d2
	}
	n := float64(len(vals))
	m2 /= n
	m3 /= n
	m4 /= n
	if m2 == 0 {
		return 0, 0
	}
	return m3 / math.Pow(m2, 1.5), m4/(m2*m2) - 3
}

// modeOf returns the most frequent value of a sorted slice; ties go to the smallest.
func modeOf(sorted []float64) float64 {
	best, bestN := sorted[0], 0
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j] == sorted[i] {
			j++
		}
		if j-i > bestN {
			best, bestN = sorted[i], j-i
		}
		i = j
	}
	return best
}

func percentileKey(q float64) string {
	p := q * 100
	if p == math.Trunc(p) {
		return fmt.Sprintf("p%d", int(p))
	}
	return "p" + strconv.FormatFloat(p, 'f', -1, 64)
}

// quantile interpolates linearly at position q*(n-1) of a sorted slice.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	w := pos - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}
