package hitl

import (
	"fmt"

	"github.com/KaramelBytes/dataloom-cli/internal/analysis"
	"github.com/KaramelBytes/dataloom-cli/internal/rules"
)

// OptionBuilder lists the choices for a rule and names the recommended one with a reason.
type OptionBuilder func(r *rules.Rule, an *analysis.SampleAnalysis) (opts []Option, recommended rules.Action, reason string)

// DeleteThreshold is the affected-row share under which removing rows is recommended.
const DeleteThreshold = 0.05

// DefaultOptionBuilders returns the builders for the built-in rule types.
func DefaultOptionBuilders() map[rules.RuleType]OptionBuilder {
	return map[rules.RuleType]OptionBuilder{
		rules.MissingValue:    missingValueOptions,
		rules.Outlier:         outlierOptions,
		rules.CategoryMapping: categoryOptions,
		rules.TypeCoercion:    coercionOptions,
	}
}

func opt(a rules.Action, label string) Option {
	return Option{Key: string(a), Label: label, Action: a}
}

func missingValueOptions(r *rules.Rule, an *analysis.SampleAnalysis) ([]Option, rules.Action, string) {
	numeric := false
	if s, ok := r.Spec.(*rules.MissingValueSpec); ok {
		numeric = s.Numeric
	} else if col, ok := an.Column(r.Column()); ok {
		numeric = col.Type == analysis.Numeric
	}
	rate := r.AffectedRate()
	var opts []Option
	if numeric {
		opts = []Option{
			opt(rules.Delete, "Delete rows with a missing value"),
			opt(rules.ImputeMean, "Fill with the column mean"),
			opt(rules.ImputeMedian, "Fill with the column median"),
			opt(rules.KeepAsIs, "Keep missing values"),
		}
	} else {
		custom := opt(rules.ImputeCustom, `Fill with "Unknown"`)
		custom.CustomValue = "Unknown"
		opts = []Option{
			opt(rules.Delete, "Delete rows with a missing value"),
			opt(rules.ImputeMode, "Fill with the most frequent value"),
			custom,
			opt(rules.KeepAsIs, "Keep missing values"),
		}
	}
	if rate < DeleteThreshold {
		return opts, rules.Delete, fmt.Sprintf("only %.1f%% of sampled rows are affected (< %.0f%%)", rate*100, DeleteThreshold*100)
	}
	if numeric {
		return opts, rules.ImputeMean, fmt.Sprintf("%.1f%% of sampled rows are affected; deleting would lose too much data", rate*100)
	}
	return opts, rules.ImputeMode, fmt.Sprintf("%.1f%% of sampled rows are affected; deleting would lose too much data", rate*100)
}

func outlierOptions(r *rules.Rule, _ *analysis.SampleAnalysis) ([]Option, rules.Action, string) {
	opts := []Option{
		opt(rules.Cap, "Cap values at the outlier bounds"),
		opt(rules.Delete, "Delete rows with outliers"),
		opt(rules.Flag, "Add a flag column marking outliers"),
		opt(rules.KeepAsIs, "Keep values unchanged"),
	}
	if rate := r.AffectedRate(); rate > DeleteThreshold {
		return opts, rules.Flag, fmt.Sprintf("%.1f%% of sampled values are extreme; they may be a real sub-population", rate*100)
	}
	return opts, rules.Cap, "few extreme values; capping keeps the rows and limits their influence"
}

func categoryOptions(r *rules.Rule, _ *analysis.SampleAnalysis) ([]Option, rules.Action, string) {
	opts := []Option{
		opt(rules.Merge, "Merge spelling variants onto the most frequent form"),
		opt(rules.KeepAsIs, "Keep variants as distinct categories"),
	}
	return opts, rules.Merge, fmt.Sprintf("variants differ only by case or whitespace (%d rows)", r.AffectedRows)
}

func coercionOptions(r *rules.Rule, _ *analysis.SampleAnalysis) ([]Option, rules.Action, string) {
	opts := []Option{
		opt(rules.Coerce, "Blank values that do not parse"),
		opt(rules.Delete, "Delete rows with unparseable values"),
		opt(rules.KeepAsIs, "Keep values unchanged"),
	}
	return opts, rules.Coerce, "blanked values can then be handled by a missing-value rule"
}

// genericOptions covers rule types without a registered builder.
func genericOptions(r *rules.Rule, _ *analysis.SampleAnalysis) ([]Option, rules.Action, string) {
	def := rules.KeepAsIs
	if r.Spec != nil {
		def = r.Spec.DefaultAction()
	}
	opts := []Option{opt(def, fmt.Sprintf("Apply %s", def))}
	if def != rules.KeepAsIs {
		opts = append(opts, opt(rules.KeepAsIs, "Keep values unchanged"))
	}
	return opts, def, "default action for this rule type"
}
