package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/dataloom-cli/internal/sampling"
	"github.com/KaramelBytes/dataloom-cli/internal/workflow"
)

var (
	runSkipHITL      bool
	runAutoApprove   bool
	runNoCheckpoints bool
	runCheckpointDir string
	runOutputDir     string
	runLabel         string
	runStrategy      string
	runSeed          uint64
	runSheet         string
	runDelimiter     string
	runReview        reviewFlags
)

var runCmd = &cobra.Command{
	Use:   "run <dataset>",
	Short: "Run the staged cleaning workflow on a CSV/TSV/XLSX dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := configCopy()
		f := cmd.Flags()
		if f.Changed("skip-hitl") {
			c.SkipHITL = runSkipHITL
		}
		if f.Changed("auto-approve") {
			c.EnableAutoApproval = runAutoApprove
		}
		if f.Changed("no-checkpoints") {
			c.EnableCheckpoints = !runNoCheckpoints
		}
		if f.Changed("checkpoint-dir") {
			c.CheckpointDir = runCheckpointDir
		}
		if f.Changed("output-dir") {
			c.OutputDir = runOutputDir
		}
		if f.Changed("label") {
			c.Sampling.LabelColumn = runLabel
		}
		if f.Changed("strategy") {
			s, err := sampling.ParseStrategy(runStrategy)
			if err != nil {
				return err
			}
			c.Sampling.Strategy = s
		}
		if f.Changed("seed") {
			c.Seed = runSeed
		}
		if f.Changed("sheet") {
			c.Sheet = runSheet
		}
		if f.Changed("delimiter") {
			c.Delimiter = runDelimiter
		}
		runReview.apply(cmd, c)
		if err := c.Validate(); err != nil {
			return err
		}

		o, closeStore, err := newOrchestrator(cmd, c, &runReview)
		if err != nil {
			return err
		}
		defer closeStore()

		st, err := o.Execute(cmd.Context(), args[0])
		out := cmd.OutOrStdout()
		printSummary(out, st)
		if errors.Is(err, workflow.ErrUndecidedRules) {
			pendingHint(out, st)
		}
		if err != nil {
			return fmt.Errorf("run %s: %w", args[0], err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	f := runCmd.Flags()
	f.BoolVar(&runSkipHITL, "skip-hitl", false, "approve every discovered rule with its default action without review")
	f.BoolVar(&runAutoApprove, "auto-approve", false, "approve pending rules at the confidence checkpoint when confidence is high enough")
	f.BoolVar(&runNoCheckpoints, "no-checkpoints", false, "do not write stage checkpoints")
	f.StringVar(&runCheckpointDir, "checkpoint-dir", "", "checkpoint directory (overrides config)")
	f.StringVar(&runOutputDir, "output-dir", "", "directory for cleaned data, report and metadata (overrides config)")
	f.StringVar(&runLabel, "label", "", "label column for stratified sampling")
	f.StringVar(&runStrategy, "strategy", "", "sampling strategy: random|stratified|adaptive")
	f.Uint64Var(&runSeed, "seed", 0, "sampling seed (overrides config)")
	f.StringVar(&runSheet, "sheet", "", "XLSX: sheet name or 1-based index")
	f.StringVar(&runDelimiter, "delimiter", "", "delimiter for text input: ',' | ';' | 'tab' (default from extension)")
	runReview.register(runCmd)
}
