package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cfgpkg "github.com/KaramelBytes/dataloom-cli/internal/config"
	"github.com/KaramelBytes/dataloom-cli/internal/deliverable"
	"github.com/KaramelBytes/dataloom-cli/internal/hitl"
	"github.com/KaramelBytes/dataloom-cli/internal/workflow"
)

// reviewFlags are shared by run and resume.
type reviewFlags struct {
	user           string
	store          string
	dir            string
	nonInteractive bool
	quiet          bool
}

func (f *reviewFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.user, "user", "", "reviewer id recorded with each decision (overrides config)")
	cmd.Flags().StringVar(&f.store, "decision-store", "", "decision log backend: file|badger (overrides config)")
	cmd.Flags().StringVar(&f.dir, "decision-dir", "", "decision log directory (overrides config)")
	cmd.Flags().BoolVar(&f.nonInteractive, "non-interactive", false, "never prompt; accept the recommended option for every rule")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "suppress progress output")
}

func (f *reviewFlags) apply(cmd *cobra.Command, c *cfgpkg.Global) {
	fl := cmd.Flags()
	if fl.Changed("user") {
		c.User = f.user
	}
	if fl.Changed("decision-store") {
		c.DecisionStore = strings.ToLower(f.store)
	}
	if fl.Changed("decision-dir") {
		c.DecisionDir = f.dir
	}
}

// configCopy returns a copy of the loaded config safe to override per command.
func configCopy() *cfgpkg.Global {
	if cfg == nil {
		return cfgpkg.Default()
	}
	c := *cfg
	return &c
}

// openDecisionStore opens the configured decision log backend.
func openDecisionStore(c *cfgpkg.Global) (hitl.DecisionStore, error) {
	switch c.DecisionStore {
	case cfgpkg.StoreBadger:
		bc := hitl.DefaultBadgerConfig(filepath.Join(c.DecisionDir, "badger"))
		bc.Logger = logger
		return hitl.OpenBadgerStore(bc)
	case cfgpkg.StoreFile, "":
		return hitl.NewFileStore(c.DecisionDir)
	default:
		return nil, fmt.Errorf("unknown decision store %q (use file or badger)", c.DecisionStore)
	}
}

// isInteractive reports whether stdin is a terminal a reviewer can answer on.
func isInteractive() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// chooseAnswerer prompts on a terminal and accepts recommendations otherwise.
func chooseAnswerer(cmd *cobra.Command, nonInteractive bool) hitl.Answerer {
	if !nonInteractive && isInteractive() {
		return hitl.NewPromptAnswerer(cmd.InOrStdin(), cmd.OutOrStdout())
	}
	return hitl.AutoAnswerer{Feedback: "accepted recommendation (non-interactive)"}
}

// newOrchestrator wires the workflow with the review service, decision log
// and file deliverables. The returned close func releases the decision store.
func newOrchestrator(cmd *cobra.Command, c *cfgpkg.Global, rf *reviewFlags) (*workflow.Orchestrator, func(), error) {
	store, err := openDecisionStore(c)
	if err != nil {
		return nil, nil, fmt.Errorf("open decision store: %w", err)
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			logger.Warn("close decision store", zap.Error(err))
		}
	}
	svc := hitl.NewService(store, chooseAnswerer(cmd, rf.nonInteractive), c.User, logger)
	opts := []workflow.Option{
		workflow.WithLogger(logger),
		workflow.WithLoadOptions(c.LoadOptions()),
		workflow.WithHITL(svc),
		workflow.WithDeliverables(deliverable.NewFileGenerator(logger)),
	}
	if !rf.quiet {
		opts = append(opts, workflow.WithProgress(progressPrinter(cmd.ErrOrStderr())))
	}
	o, err := workflow.New(c.ToWorkflowConfig(), opts...)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return o, closeStore, nil
}

func progressPrinter(w io.Writer) workflow.ProgressFunc {
	return func(ev workflow.ProgressEvent) {
		fmt.Fprintf(w, "[%3.0f%%] %s: %s\n", ev.Percentage, ev.Stage, ev.Message)
	}
}

// printSummary writes the per-stage outcome of a run.
func printSummary(w io.Writer, st *workflow.State) {
	if st == nil {
		return
	}
	fmt.Fprintf(w, "Session %s (%s, %d rows)\n", st.SessionID, filepath.Base(st.DatasetPath), st.TotalRecords)
	for _, r := range st.StageResults() {
		line := fmt.Sprintf("  stage %d %-22s %8d rows  %d rules", r.Stage.Number(), r.Stage, r.SampleSize, len(r.Rules))
		if len(r.NewRules) > 0 {
			line += fmt.Sprintf(" (+%d)", len(r.NewRules))
		}
		if r.Stage != workflow.BulkProcessing {
			line += fmt.Sprintf("  confidence %.3f", r.ConfidenceScore)
			if r.HasConverged {
				line += " converged"
			}
		}
		if r.Application != nil {
			line += fmt.Sprintf("  applied %d/%d, %d rows changed, %d deleted",
				r.Application.AppliedRules, r.Application.TotalRules, r.Application.RowsAffected, r.Application.RowsDeleted)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "Rules: %d discovered, %d approved, %d pending\n",
		len(st.DiscoveredRules), len(st.ApprovedRules), len(st.Undecided()))
	if d := st.Deliverables; d != nil {
		fmt.Fprintf(w, "✓ Cleaned data: %s\n", d.CleanedDataPath)
		fmt.Fprintf(w, "✓ Report: %s\n", d.ReportPath)
		fmt.Fprintf(w, "✓ Metadata: %s\n", d.MetadataPath)
	} else if st.CurrentStage == workflow.Completed {
		fmt.Fprintln(w, "No rules approved; dataset left unchanged.")
	}
}

// pendingHint explains how to continue a run blocked on undecided rules.
func pendingHint(w io.Writer, st *workflow.State) {
	if st == nil || !st.Config.EnableCheckpoints {
		fmt.Fprintln(w, "⚠ Rules are still pending review; rerun interactively or with --skip-hitl.")
		return
	}
	info, err := workflow.LatestCheckpoint(st.Config.CheckpointDir, st.SessionID)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "⚠ %d rule(s) pending review. Continue with:\n  dataloom resume %s\n", len(st.Undecided()), info.Path)
}
