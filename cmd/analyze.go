package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/dataloom-cli/internal/analysis"
	"github.com/KaramelBytes/dataloom-cli/internal/table"
	"github.com/KaramelBytes/dataloom-cli/internal/utils"
)

// profileFlags are shared by analyze and analyze-batch.
type profileFlags struct {
	delimiter     string
	decimal       string
	thousands     string
	sheet         string
	outlierMethod string
	outlierThr    float64
	workers       int
}

func (p *profileFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&p.delimiter, "delimiter", "", "CSV delimiter: ',' | ';' | 'tab'")
	f.StringVar(&p.decimal, "decimal", "", "decimal separator for numbers: '.'|'comma' (auto-detect if omitted)")
	f.StringVar(&p.thousands, "thousands", "", "thousands separator for numbers: ','|'.'|'space' (auto-detect if omitted)")
	f.StringVar(&p.sheet, "sheet", "", "XLSX: sheet name or 1-based index")
	f.StringVar(&p.outlierMethod, "outliers", "", "outlier method: iqr|zscore|none (overrides config)")
	f.Float64Var(&p.outlierThr, "outlier-threshold", 0, "IQR multiplier or |z| threshold, depending on --outliers")
	f.IntVar(&p.workers, "workers", 0, "columns profiled concurrently (0 = one per column)")
}

// resolve applies the flags to a copy of the config and returns the reader
// and analyzer settings.
func (p *profileFlags) resolve(cmd *cobra.Command) (table.LoadOptions, analysis.Options, error) {
	c := configCopy()
	f := cmd.Flags()
	if p.delimiter != "" {
		switch p.delimiter {
		case ",", ";", "|":
			c.Delimiter = p.delimiter
		case "\t", "tab":
			c.Delimiter = "tab"
		default:
			return table.LoadOptions{}, analysis.Options{}, fmt.Errorf("unsupported --delimiter: %s", p.delimiter)
		}
	}
	// Locale separators
	switch strings.ToLower(strings.TrimSpace(p.decimal)) {
	case ",", "comma":
		c.DecimalSeparator = ","
	case ".", "dot":
		c.DecimalSeparator = "."
	case "":
	default:
		return table.LoadOptions{}, analysis.Options{}, fmt.Errorf("unsupported --decimal: %s (use '.'|'comma')", p.decimal)
	}
	switch strings.ToLower(p.thousands) {
	case ",":
		c.ThousandsSeparator = ","
	case ".":
		c.ThousandsSeparator = "."
	case "space", " ":
		c.ThousandsSeparator = " "
	case "":
	default:
		return table.LoadOptions{}, analysis.Options{}, fmt.Errorf("unsupported --thousands: %s (use ','|'.'|'space')", p.thousands)
	}
	if f.Changed("sheet") {
		c.Sheet = p.sheet
	}
	if p.outlierMethod != "" {
		if err := c.Set("analysis.outlier_method", p.outlierMethod); err != nil {
			return table.LoadOptions{}, analysis.Options{}, err
		}
	}
	if f.Changed("workers") {
		c.Analysis.Workers = p.workers
	}
	opt := c.ToWorkflowConfig().Analysis
	if p.outlierThr > 0 {
		switch opt.OutlierMethod {
		case analysis.OutlierZScore:
			opt.ZScoreThreshold = p.outlierThr
		default:
			opt.IQRMultiplier = p.outlierThr
		}
	}
	return c.LoadOptions(), opt, nil
}

// profileFile loads path and returns its Markdown profile.
func profileFile(ctx context.Context, path string, lo table.LoadOptions, opt analysis.Options) (string, error) {
	data, err := table.Load(path, lo)
	if err != nil {
		return "", err
	}
	an, err := analysis.NewAnalyzer(logger).Analyze(ctx, data, 0, 1, &opt)
	if err != nil {
		return "", fmt.Errorf("analyze %s: %w", path, err)
	}
	an.Name = path
	return an.Markdown(), nil
}

var (
	anaOutputPath string
	anaProfile    profileFlags
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Profile a CSV/TSV/XLSX file and produce a concise summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lo, opt, err := anaProfile.resolve(cmd)
		if err != nil {
			return err
		}
		md, err := profileFile(cmd.Context(), args[0], lo, opt)
		if err != nil {
			return err
		}
		// Decide where to write: --output path or stdout
		if anaOutputPath != "" {
			if err := utils.SafeWriteFile(anaOutputPath, []byte(md)); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote analysis to %s\n", anaOutputPath)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), md)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVarP(&anaOutputPath, "output", "o", "", "optional path to write analysis (Markdown)")
	anaProfile.register(analyzeCmd)
}
