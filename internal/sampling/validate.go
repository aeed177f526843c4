package sampling

import (
	"fmt"
	"math"
	"sort"

	"github.com/KaramelBytes/dataloom-cli/internal/table"
)

// ValidationResult reports whether a sample preserves the source distribution.
type ValidationResult struct {
	Passed       bool         `json:"passed"`
	Message      string       `json:"message"`
	Strategy     StrategyName `json:"strategy"`
	Reason       string       `json:"reason"`
	Check        string       `json:"check"` // label-proportions|numeric-means|none
	MaxDeviation float64      `json:"max_deviation"`
	Worst        string       `json:"worst,omitempty"`
}

// Validate compares the label class proportions of s against source when the
// sample carries a label column, otherwise the standardized means of numeric
// columns. tolerance bounds the proportion deviation; the engine's
// NumericTolerance bounds the mean deviation.
func (e *Engine) Validate(source *table.Table, s *Sample, tolerance float64) ValidationResult {
	if source == nil || s == nil || s.Table == nil {
		return ValidationResult{Message: ErrNilInput.Error()}
	}
	res := ValidationResult{Strategy: s.Strategy, Reason: s.Reason}
	if s.Rows() == 0 {
		res.Passed = source.Rows() == 0
		res.Check = "none"
		res.Message = fmt.Sprintf("strategy=%s (%s): empty sample", s.Strategy, s.Reason)
		return res
	}
	if tolerance <= 0 {
		tolerance = 0.02
	}
	if src, ok := source.Column(s.LabelColumn); ok && s.LabelColumn != "" {
		smp, _ := s.Table.Column(s.LabelColumn)
		res.Check = "label-proportions"
		res.MaxDeviation, res.Worst = maxProportionDeviation(src, smp)
		res.Passed = res.MaxDeviation <= tolerance
		res.Message = fmt.Sprintf("strategy=%s (%s): max class proportion deviation %.4f (class %q), tolerance %.4f",
			s.Strategy, s.Reason, res.MaxDeviation, res.Worst, tolerance)
		return res
	}
	numTol := e.NumericTolerance
	if numTol <= 0 {
		numTol = 0.25
	}
	res.Check = "numeric-means"
	res.MaxDeviation, res.Worst = maxMeanDeviation(source, s.Table)
	res.Passed = res.MaxDeviation <= numTol
	if res.Worst == "" {
		res.Check = "none"
		res.Passed = true
		res.Message = fmt.Sprintf("strategy=%s (%s): no label or numeric columns to compare", s.Strategy, s.Reason)
		return res
	}
	res.Message = fmt.Sprintf("strategy=%s (%s): max standardized mean deviation %.4f (column %q), tolerance %.4f",
		s.Strategy, s.Reason, res.MaxDeviation, res.Worst, numTol)
	return res
}

func proportions(c *table.Column) map[string]float64 {
	out := make(map[string]float64)
	if c == nil || len(c.Values) == 0 {
		return out
	}
	for _, v := range c.Values {
		if table.IsMissing(v) {
			v = ""
		}
		out[v]++
	}
	n := float64(len(c.Values))
	for k := range out {
		out[k] /= n
	}
	return out
}

func maxProportionDeviation(src, smp *table.Column) (float64, string) {
	ps, pm := proportions(src), proportions(smp)
	keys := make([]string, 0, len(ps))
	for k := range ps {
		keys = append(keys, k)
	}
	for k := range pm {
		if _, ok := ps[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	worst, dev := "", 0.0
	for _, k := range keys {
		if d := math.Abs(ps[k] - pm[k]); d > dev {
			dev, worst = d, k
		}
	}
	return dev, worst
}

func numericValues(c *table.Column) ([]float64, bool) {
	vals := make([]float64, 0, len(c.Values))
	nonMissing := 0
	for _, v := range c.Values {
		if table.IsMissing(v) {
			continue
		}
		nonMissing++
		if f, ok := table.ParseNumeric(v, table.NumberFormat{}); ok {
			vals = append(vals, f)
		}
	}
	return vals, nonMissing > 0 && len(vals)*2 > nonMissing
}

func maxMeanDeviation(source, sample *table.Table) (float64, string) {
	worst, dev := "", 0.0
	for _, sc := range source.Columns {
		svals, ok := numericValues(sc)
		if !ok || len(svals) < 2 {
			continue
		}
		mc, found := sample.Column(sc.Name)
		if !found {
			continue
		}
		mvals, _ := numericValues(mc)
		if len(mvals) == 0 {
			continue
		}
		mean, std := meanStd(svals)
		if std == 0 {
			if worst == "" {
				worst = sc.Name
			}
			continue
		}
		m, _ := meanStd(mvals)
		if d := math.Abs(m-mean) / std; d > dev || worst == "" {
			dev, worst = d, sc.Name
		}
	}
	return dev, worst
}

func meanStd(vals []float64) (float64, float64) {
	var mean, m2 float64
	for i, x := range vals {
		d := x - mean
		mean += d / float64(i+1)
		m2 += d * (x - mean)
	}
	if len(vals) < 2 {
		return mean, 0
	}
	return mean, math.Sqrt(m2 / float64(len(vals)-1))
}
