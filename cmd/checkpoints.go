package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/dataloom-cli/internal/workflow"
)

var (
	ckDir     string
	ckSession string
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List stage checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ckDir
		if dir == "" {
			dir = configCopy().CheckpointDir
		}
		list, err := workflow.ListCheckpoints(dir)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		found := false
		for _, ck := range list {
			if ckSession != "" && ck.SessionID != ckSession {
				continue
			}
			fmt.Fprintf(out, "- %s stage %d (%s) saved %s: %s\n",
				ck.SessionID, ck.Stage.Number(), ck.Stage, ck.SavedAt.Local().Format(time.DateTime), ck.Path)
			found = true
		}
		if !found {
			fmt.Fprintln(out, "(no checkpoints)")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)
	checkpointsCmd.Flags().StringVar(&ckDir, "dir", "", "checkpoint directory (default from config)")
	checkpointsCmd.Flags().StringVar(&ckSession, "session", "", "only list checkpoints of this session")
}
