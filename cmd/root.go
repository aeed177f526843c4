package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cfgpkg "github.com/KaramelBytes/dataloom-cli/internal/config"
	"github.com/KaramelBytes/dataloom-cli/internal/logging"
	"github.com/KaramelBytes/dataloom-cli/internal/telemetry"
)

var (
	// Global flags
	cfgFile       string
	debug         bool
	flagLogFormat string

	// Loaded configuration
	cfg *cfgpkg.Global

	logger            = zap.NewNop()
	shutdownTelemetry telemetry.ShutdownFunc
)

var rootCmd = &cobra.Command{
	Use:   "dataloom",
	Short: "DataLoom CLI: progressive, human-reviewed cleaning of tabular data",
	Long: `DataLoom explores a dataset through growing samples (0.1% to 2.5%),
discovers cleaning rules, asks a reviewer to confirm them and applies the
approved rules to the full dataset, checkpointing after every stage.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		format := cfg.LogFormat
		if cmd.Flags().Changed("log-format") {
			format = flagLogFormat
		}
		l, err := logging.New(debug, format)
		if err != nil {
			return err
		}
		logger = l
		tc := cfg.Telemetry
		tc.Writer = cmd.ErrOrStderr()
		shutdown, err := telemetry.Init(cmd.Context(), tc)
		if err != nil {
			return err
		}
		shutdownTelemetry = shutdown
		return nil
	},
}

// Execute is the entry point called by main.main()
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	finish()
	if err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

// finish flushes telemetry and the logger.
func finish() {
	if shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := shutdownTelemetry(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "⚠ Warning: telemetry shutdown: %v\n", err)
		}
		cancel()
		shutdownTelemetry = nil
	}
	_ = logger.Sync()
}

func init() {
	cobra.OnInitialize(loadConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./dataloom.yaml or ~/.dataloom/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug output")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "console", "log format: console|json (overrides config)")
}

func loadConfig() {
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: fall back to built-in defaults
		fmt.Fprintf(os.Stderr, "⚠ Warning: failed to load config: %v\n", err)
		c = cfgpkg.Default()
	}
	cfg = c
}
