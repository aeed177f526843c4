package cmd

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/dataloom-cli/internal/hitl"
	"github.com/KaramelBytes/dataloom-cli/internal/rules"
	"github.com/KaramelBytes/dataloom-cli/internal/utils"
)

var (
	decStore   string
	decDir     string
	decSession string
	decRule    string
	decSince   time.Duration
	decJSON    bool
)

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Query the review decision log",
}

// withDecisions opens the configured decision log for a query.
func withDecisions(cmd *cobra.Command, fn func(*hitl.Service) error) error {
	c := configCopy()
	if cmd.Flags().Changed("store") {
		c.DecisionStore = decStore
	}
	if cmd.Flags().Changed("dir") {
		c.DecisionDir = decDir
	}
	store, err := openDecisionStore(c)
	if err != nil {
		return fmt.Errorf("open decision store: %w", err)
	}
	defer store.Close()
	return fn(hitl.NewService(store, nil, c.User, logger))
}

var decisionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List logged decisions, optionally filtered by session, rule or age",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDecisions(cmd, func(svc *hitl.Service) error {
			ctx := cmd.Context()
			var (
				ds  []*hitl.DecisionLog
				err error
			)
			switch {
			case decSession != "":
				ds, err = svc.DecisionsBySession(ctx, decSession)
			case decRule != "":
				ds, err = svc.DecisionsByRule(ctx, decRule)
			default:
				from := time.Time{}
				if decSince > 0 {
					from = time.Now().Add(-decSince)
				}
				ds, err = svc.DecisionsByTimeRange(ctx, from, time.Now())
			}
			if err != nil {
				return err
			}
			ds = filterDecisions(ds, decRule, decSince)
			if decJSON {
				b, err := utils.PrettyJSON(ds)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return nil
			}
			printDecisions(cmd.OutOrStdout(), ds)
			return nil
		})
	},
}

// filterDecisions applies the rule and age filters not covered by the query.
func filterDecisions(ds []*hitl.DecisionLog, rule string, since time.Duration) []*hitl.DecisionLog {
	cutoff := time.Time{}
	if since > 0 {
		cutoff = time.Now().Add(-since)
	}
	out := ds[:0:0]
	for _, d := range ds {
		if rule != "" && (d.Question == nil || d.Question.RuleID != rule) {
			continue
		}
		if d.LoggedAt.Before(cutoff) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func printDecisions(w io.Writer, ds []*hitl.DecisionLog) {
	if len(ds) == 0 {
		fmt.Fprintln(w, "(no decisions)")
		return
	}
	for _, d := range ds {
		rule, action, how := "?", "?", "overridden"
		if d.Question != nil {
			rule = d.Question.RuleID
		}
		if d.Answer != nil {
			action = string(d.Answer.Action)
			if d.Answer.CustomValue != "" {
				action += fmt.Sprintf(" (%q)", d.Answer.CustomValue)
			}
			if d.Answer.FollowedRecommendation {
				how = "followed"
			}
		}
		fmt.Fprintf(w, "- %s %s %s -> %s [%s] by %s\n",
			d.LoggedAt.Local().Format(time.DateTime), d.SessionID, rule, action, how, d.UserID)
	}
}

var decisionsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize logged decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDecisions(cmd, func(svc *hitl.Service) error {
			sum, err := svc.DecisionSummary(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if decJSON {
				b, err := utils.PrettyJSON(sum)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(b))
				return nil
			}
			fmt.Fprintf(out, "decisions: %d across %d session(s)\n", sum.Total, sum.Sessions)
			if sum.Total > 0 {
				fmt.Fprintf(out, "followed recommendation: %d (%.0f%%)\n", sum.Followed, 100*float64(sum.Followed)/float64(sum.Total))
				fmt.Fprintf(out, "overridden: %d\n", sum.Overridden)
			}
			actions := make([]string, 0, len(sum.ByAction))
			for a := range sum.ByAction {
				actions = append(actions, string(a))
			}
			sort.Strings(actions)
			for _, a := range actions {
				fmt.Fprintf(out, "  %s: %d\n", a, sum.ByAction[rules.Action(a)])
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(decisionsCmd)
	decisionsCmd.AddCommand(decisionsListCmd)
	decisionsCmd.AddCommand(decisionsSummaryCmd)
	decisionsCmd.PersistentFlags().StringVar(&decStore, "store", "", "decision log backend: file|badger (default from config)")
	decisionsCmd.PersistentFlags().StringVar(&decDir, "dir", "", "decision log directory (default from config)")
	decisionsCmd.PersistentFlags().BoolVar(&decJSON, "json", false, "print JSON")
	decisionsListCmd.Flags().StringVar(&decSession, "session", "", "only decisions of this review session")
	decisionsListCmd.Flags().StringVar(&decRule, "rule", "", "only decisions about this rule id, e.g. missing_value:age")
	decisionsListCmd.Flags().DurationVar(&decSince, "since", 0, "only decisions logged within this duration, e.g. 24h")
}
