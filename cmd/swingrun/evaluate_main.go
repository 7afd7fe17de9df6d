package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/swingrun/internal/application/evaluate"
	applog "github.com/sawpanic/swingrun/internal/log"
)

// runEvaluate runs a single evaluation pass
func runEvaluate(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	seed, _ := cmd.Flags().GetString("seed")
	format, _ := cmd.Flags().GetString("format")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.seed(ctx, seed); err != nil {
		return err
	}

	cfg := appConfig.Engine.Evaluate
	cfg.DryRun = cfg.DryRun || dryRun
	if applog.IsTerminal() {
		cfg.Progress = applog.DefaultProgressConfig()
	}
	eng, err := a.engine(cfg)
	if err != nil {
		return err
	}

	report, err := eng.RunPass(ctx)
	if err != nil {
		return fmt.Errorf("evaluation pass failed: %w", err)
	}

	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printPass(os.Stdout, report)

	if report.Failed > 0 {
		log.Warn().Int("failed", report.Failed).Msg("Some positions could not be evaluated")
	}
	return nil
}

func printPass(out io.Writer, r *evaluate.PassReport) {
	mode := ""
	if r.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(out, "Pass %s%s  as of %s  regime %s (VIX %.1f)\n",
		r.PassID, mode, r.AsOf.Format("2006-01-02 15:04"), r.Regime.Regime, r.Regime.VIX)
	fmt.Fprintf(out, "Evaluated %d  held %d  exited %d  skipped %d  failed %d  in %s\n\n",
		r.Evaluated, r.Held, r.Exited, r.Skipped, r.Failed, r.Duration.Round(1e6))

	if len(r.Ticks) == 0 {
		fmt.Fprintln(out, "No open positions.")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TICKER\tOUTCOME\tPRICE\tRETURN\tPEAK\tDAYS\tSUMMARY")
	for _, t := range r.Ticks {
		if t.Result == nil {
			fmt.Fprintf(tw, "%s\t%s\t-\t-\t-\t-\t%s\n", t.Ticker, t.Outcome, t.Summary)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%+.2f%%\t%+.2f%%\t%d\t%s\n",
			t.Ticker, t.Outcome, t.Result.CurrentPrice, t.Result.ReturnPct,
			t.Result.PeakReturnPct, t.Result.DaysHeld, t.Summary)
	}
	tw.Flush()

	if len(r.Flagged) > 0 {
		fmt.Fprintf(out, "\nFlagged for review: %v\n", r.Flagged)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(out, "error: %s %s: %s\n", e.Step, e.Ticker, e.Message)
	}
}
