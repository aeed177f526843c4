package analysis

import (
	"fmt"
	"sort"
	"strings"
)

// Markdown renders a compact profile suitable for reports.
func (a *SampleAnalysis) Markdown() string {
	var b strings.Builder
	b.WriteString("[SAMPLE SUMMARY]\n")
	if a.Name != "" {
		b.WriteString(fmt.Sprintf("File: %s\n", a.Name))
	}
	if a.Stage > 0 {
		b.WriteString(fmt.Sprintf("Stage: %d (ratio %.4g)\n", a.Stage, a.SampleRatio))
	}
	b.WriteString(fmt.Sprintf("Rows: %d\n", a.RowCount))
	b.WriteString(fmt.Sprintf("Columns: %d\n", a.ColumnCount))
	b.WriteString(fmt.Sprintf("Quality: %.3f\n\n", a.QualityScore))

	b.WriteString("[SCHEMA]\n")
	for _, c := range a.Columns {
		b.WriteString(fmt.Sprintf("- %s: %s (non-null %d, missing %.1f%%)", safeName(c.Name), c.Type, c.NonNull, c.NullPercent))
		if n := c.Numeric; n != nil {
			b.WriteString(fmt.Sprintf(" | min %.4g, max %.4g, mean %.4g, median %.4g, std %.4g", n.Min, n.Max, n.Mean, n.Median, n.StdDev))
			if n.HasMoments {
				b.WriteString(fmt.Sprintf(", skew %.3f, kurt %.3f", n.Skewness, n.Kurtosis))
			}
			if n.OutlierMethod != OutlierNone {
				b.WriteString(fmt.Sprintf("; outliers: %d by %s", n.OutlierCount, n.OutlierMethod))
			}
		}
		if cs := c.Categorical; cs != nil && len(cs.TopValues) > 0 {
			b.WriteString(" | top: ")
			for i, kv := range cs.TopValues {
				if i >= 8 {
					break
				}
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(fmt.Sprintf("%s(%d)", safeVal(kv.Value), kv.Count))
			}
			b.WriteString(fmt.Sprintf("; unique=%d, entropy=%.3f bits", cs.Unique, cs.Entropy))
			switch {
			case cs.IsIdentifier:
				b.WriteString(", identifier-like")
			case cs.IsLowCardinality:
				b.WriteString(", low-cardinality")
			case cs.IsHighCardinality:
				b.WriteString(", high-cardinality")
			}
		}
		b.WriteString("\n")
	}

	var notes []string
	for _, c := range a.Columns {
		for _, is := range c.Issues {
			notes = append(notes, fmt.Sprintf("%s: %s", safeName(c.Name), is))
		}
	}
	if len(notes) > 0 {
		sort.Strings(notes)
		b.WriteString("\n[ISSUES]\n")
		for _, n := range notes {
			b.WriteString("- ")
			b.WriteString(n)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(unnamed)"
	}
	return s
}

func safeVal(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }
