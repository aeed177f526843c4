package cmd

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/dataloom-cli/internal/sampling"
	"github.com/KaramelBytes/dataloom-cli/internal/table"
	"github.com/KaramelBytes/dataloom-cli/internal/utils"
)

var (
	smpRatio     float64
	smpStrategy  string
	smpLabel     string
	smpSeed      uint64
	smpOutput    string
	smpTolerance float64
	smpSheet     string
	smpDelimiter string
)

var sampleCmd = &cobra.Command{
	Use:   "sample <dataset>",
	Short: "Draw one sample and check that it preserves the source distribution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := configCopy()
		f := cmd.Flags()
		if f.Changed("sheet") {
			c.Sheet = smpSheet
		}
		if f.Changed("delimiter") {
			c.Delimiter = smpDelimiter
		}
		scfg := c.Sampling
		if f.Changed("strategy") {
			s, err := sampling.ParseStrategy(smpStrategy)
			if err != nil {
				return err
			}
			scfg.Strategy = s
		}
		if f.Changed("label") {
			scfg.LabelColumn = smpLabel
		}
		if f.Changed("tolerance") {
			scfg.Tolerance = smpTolerance
		}
		seed := c.Seed
		if f.Changed("seed") {
			seed = smpSeed
		}

		data, err := table.Load(args[0], c.LoadOptions())
		if err != nil {
			return err
		}
		eng := sampling.DefaultEngine(logger)
		s, err := eng.Sample(cmd.Context(), data, smpRatio, scfg, seed)
		if err != nil {
			return err
		}
		res := eng.Validate(data, s, scfg.Tolerance)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Sampled %d of %d rows (ratio %.4f, seed %d)\n", s.Rows(), s.SourceRows, s.Ratio, s.Seed)
		fmt.Fprintf(out, "Strategy: %s", s.Strategy)
		if s.Requested != s.Strategy {
			fmt.Fprintf(out, " (requested %s)", s.Requested)
		}
		fmt.Fprintf(out, "\nReason: %s\n", s.Reason)
		mark := "✓"
		if !res.Passed {
			mark = "⚠"
		}
		fmt.Fprintf(out, "%s Validation (%s): %s\n", mark, res.Check, res.Message)

		if smpOutput != "" {
			var buf bytes.Buffer
			if err := table.WriteCSV(&buf, s.Table); err != nil {
				return err
			}
			if err := utils.SafeWriteFile(smpOutput, buf.Bytes()); err != nil {
				return fmt.Errorf("write sample: %w", err)
			}
			fmt.Fprintf(out, "✓ Wrote sample to %s\n", smpOutput)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sampleCmd)
	sampleCmd.Flags().Float64Var(&smpRatio, "ratio", 0.01, "fraction of rows to sample, in (0,1]")
	sampleCmd.Flags().StringVar(&smpStrategy, "strategy", "", "sampling strategy: random|stratified|adaptive")
	sampleCmd.Flags().StringVar(&smpLabel, "label", "", "label column for stratified sampling")
	sampleCmd.Flags().Uint64Var(&smpSeed, "seed", 0, "sampling seed (overrides config)")
	sampleCmd.Flags().Float64Var(&smpTolerance, "tolerance", 0, "allowed class proportion deviation (overrides config)")
	sampleCmd.Flags().StringVarP(&smpOutput, "output", "o", "", "optional path to write the sampled rows as CSV")
	sampleCmd.Flags().StringVar(&smpSheet, "sheet", "", "XLSX: sheet name or 1-based index")
	sampleCmd.Flags().StringVar(&smpDelimiter, "delimiter", "", "delimiter for text input: ',' | ';' | 'tab'")
}
