package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/swingrun/internal/config"
	applog "github.com/sawpanic/swingrun/internal/log"
)

const (
	appName = "swingrun"
	version = "v0.3.0"
)

// appConfig is loaded once by the root command before any subcommand runs
var appConfig *config.AppConfig

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Position risk and exit decisions for swing trades",
		Version: version,
		Long: `swingrun manages open swing-trade positions: it sizes new entries by
catalyst tier and conviction, then evaluates every open position once per
pass against hard stops, trailing stops, time stops, catalyst invalidation
and stagnation, and records each exit in a ledger.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	rootCmd.PersistentFlags().String("config", config.DefaultPath, "Path to the YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level override (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format override (auto|console|json)")

	// Evaluate open positions once
	evaluateCmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run one evaluation pass over all open positions",
		Long:  "Fetch prices and bars, run the exit state machine per position and persist exits and trailing state",
		RunE:  runEvaluate,
	}
	evaluateCmd.Flags().Bool("dry-run", false, "Evaluate without writing positions or exits")
	evaluateCmd.Flags().String("seed", "", "Candidates YAML opened before the pass (offline runs)")
	evaluateCmd.Flags().String("format", "table", "Output format (table|json)")

	// Entry planning
	planCmd := &cobra.Command{
		Use:   "plan <candidates.yaml>",
		Short: "Classify and size candidates without opening positions",
		Long:  "Run candidates through tier classification, freshness and size vetoes, the volatility regime gate and conviction sizing",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlan,
	}
	planCmd.Flags().String("format", "table", "Output format (table|json)")

	openCmd := &cobra.Command{
		Use:   "open <candidates.yaml>",
		Short: "Plan candidates and open the accepted positions",
		Args:  cobra.ExactArgs(1),
		RunE:  runOpen,
	}
	openCmd.Flags().String("format", "table", "Output format (table|json)")

	// Exit quality report
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Exit quality report over the exit ledger",
		Long:  "Win rate, returns, trailing stop capture and giveback, grouped by exit reason, conviction and tier",
		RunE:  runReport,
	}
	reportCmd.Flags().String("from", "", "First exit date (YYYY-MM-DD)")
	reportCmd.Flags().String("to", "", "Last exit date, inclusive (YYYY-MM-DD)")
	reportCmd.Flags().String("format", "markdown", "Output format (markdown|json|csv)")
	reportCmd.Flags().String("out", "", "Write to file instead of stdout")

	// Backtest replay
	backtestCmd := &cobra.Command{
		Use:   "backtest <scenario.yaml>",
		Short: "Replay a bar scenario through the exit engine",
		Long:  "Deterministic replay on in-memory repositories: entries are opened on their dates and one pass runs per bar",
		Args:  cobra.ExactArgs(1),
		RunE:  runBacktest,
	}
	backtestCmd.Flags().String("format", "markdown", "Report format (markdown|json|csv)")
	backtestCmd.Flags().Int("workers", 1, "Tick workers per pass")
	backtestCmd.Flags().String("summary", "", "Write the replay summary as JSON to this file")

	// Monitor server with periodic passes
	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve the read-only monitor and run passes on an interval",
		Long:  "Starts the HTTP monitor with /health, /metrics, /positions, /exits, /report and the /ws tick stream",
		RunE:  runMonitor,
	}
	monitorCmd.Flags().String("host", "", "HTTP host override")
	monitorCmd.Flags().Int("port", 0, "HTTP port override")
	monitorCmd.Flags().Duration("interval", 0, "Pass interval override, 0 keeps engine.interval")
	monitorCmd.Flags().Bool("no-passes", false, "Serve only, never run evaluation passes")
	monitorCmd.Flags().String("seed", "", "Candidates YAML opened at startup (offline runs)")

	rootCmd.AddCommand(evaluateCmd, planCmd, openCmd, reportCmd, backtestCmd, monitorCmd)
	return rootCmd
}

// loadConfig reads the config file and installs the global logger
func loadConfig(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	if !cmd.Flags().Changed("config") {
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	applyLogFlags(cfg, cmd.Flags())
	if err := applog.Setup(cfg.Log); err != nil {
		return fmt.Errorf("log setup: %w", err)
	}

	appConfig = cfg
	log.Debug().
		Str("version", version).
		Str("price_source", cfg.MarketData.Source).
		Str("signals", cfg.Signals.Source).
		Bool("database", cfg.Database.Enabled).
		Msg("Configuration loaded")
	return nil
}

// applyLogFlags lets explicit --log-* flags win over file and environment
func applyLogFlags(cfg *config.AppConfig, fs *pflag.FlagSet) {
	if fs.Changed("log-level") {
		cfg.Log.Level, _ = fs.GetString("log-level")
	}
	if fs.Changed("log-format") {
		format, _ := fs.GetString("log-format")
		cfg.Log.Format = applog.Format(format)
	}
}
