package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/dataloom-cli/internal/workflow"
)

var (
	resumeSession string
	resumeDir     string
	resumeReview  reviewFlags
)

var resumeCmd = &cobra.Command{
	Use:   "resume [checkpoint.json]",
	Short: "Continue a workflow from a stage checkpoint",
	Long: `Resume reloads a checkpoint, offers any rules still pending for review
and runs the remaining stages with the configuration stored in the checkpoint.
Pass a checkpoint file, or --session to pick the latest checkpoint of a run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := configCopy()
		resumeReview.apply(cmd, c)
		if err := c.Validate(); err != nil {
			return err
		}
		var path string
		switch {
		case len(args) == 1:
			path = args[0]
		case resumeSession != "":
			dir := resumeDir
			if dir == "" {
				dir = c.CheckpointDir
			}
			info, err := workflow.LatestCheckpoint(dir, resumeSession)
			if err != nil {
				return err
			}
			path = info.Path
		default:
			return fmt.Errorf("specify a checkpoint file or --session")
		}

		o, closeStore, err := newOrchestrator(cmd, c, &resumeReview)
		if err != nil {
			return err
		}
		defer closeStore()

		st, err := o.Resume(cmd.Context(), path)
		out := cmd.OutOrStdout()
		printSummary(out, st)
		if errors.Is(err, workflow.ErrUndecidedRules) {
			pendingHint(out, st)
		}
		if err != nil {
			return fmt.Errorf("resume %s: %w", path, err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().StringVar(&resumeSession, "session", "", "resume the latest checkpoint of this session")
	resumeCmd.Flags().StringVar(&resumeDir, "dir", "", "checkpoint directory for --session (default from config)")
	resumeReview.register(resumeCmd)
}
