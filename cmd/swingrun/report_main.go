package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/swingrun/internal/application/backtest"
	"github.com/sawpanic/swingrun/internal/domain"
	atomicio "github.com/sawpanic/swingrun/internal/io"
	"github.com/sawpanic/swingrun/internal/persistence"
	"github.com/sawpanic/swingrun/internal/report"
)

// runReport builds the exit quality report from the ledger
func runReport(cmd *cobra.Command, args []string) error {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	format, _ := cmd.Flags().GetString("format")
	outPath, _ := cmd.Flags().GetString("out")

	tr, err := parseDateRange(from, to)
	if err != nil {
		return err
	}

	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	q, err := report.Generate(context.Background(), a.repo.Exits, tr, time.Now().UTC())
	if err != nil {
		return err
	}

	if outPath == "" {
		return writeReport(os.Stdout, format, q)
	}
	if err := atomicio.WriteAtomic(outPath, func(w io.Writer) error {
		return writeReport(w, format, q)
	}); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	log.Info().Str("file", outPath).Int("trades", q.TradesAnalyzed).Msg("Exit quality report written")
	return nil
}

// runBacktest replays a scenario file and prints its exit quality report
func runBacktest(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	workers, _ := cmd.Flags().GetInt("workers")
	summaryPath, _ := cmd.Flags().GetString("summary")

	sc, err := backtest.LoadScenario(args[0])
	if err != nil {
		return err
	}

	cfg := backtest.DefaultConfig()
	cfg.Evaluate = appConfig.Engine.Evaluate
	cfg.Evaluate.Workers = workers
	cfg.Evaluate.DryRun = false

	sum, err := backtest.Replay(context.Background(), sc, cfg)
	if err != nil {
		return err
	}

	for _, w := range sum.Warnings {
		log.Warn().Str("scenario", sum.Name).Msg(w)
	}
	log.Info().
		Str("scenario", sum.Name).
		Int("days", sum.Days).
		Int("opened", sum.Opened).
		Int("exits", len(sum.Exits)).
		Int("still_open", len(sum.Open)).
		Msg("Backtest complete")

	if summaryPath != "" {
		if err := atomicio.WriteJSONAtomic(summaryPath, sum); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	return writeReport(os.Stdout, format, sum.Report)
}

func writeReport(out io.Writer, format string, q *report.ExitQuality) error {
	switch format {
	case "", "markdown", "md":
		return q.WriteMarkdown(out)
	case "json":
		return q.WriteJSON(out)
	case "csv":
		return q.WriteCSV(out)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// parseDateRange reads YYYY-MM-DD bounds; to covers the whole day
func parseDateRange(from, to string) (persistence.TimeRange, error) {
	var tr persistence.TimeRange
	if from != "" {
		t, err := time.Parse(domain.DateLayout, from)
		if err != nil {
			return tr, fmt.Errorf("--from must be YYYY-MM-DD: %w", err)
		}
		tr.From = t
	}
	if to != "" {
		t, err := time.Parse(domain.DateLayout, to)
		if err != nil {
			return tr, fmt.Errorf("--to must be YYYY-MM-DD: %w", err)
		}
		tr.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	if !tr.From.IsZero() && !tr.To.IsZero() && tr.To.Before(tr.From) {
		return tr, fmt.Errorf("--to %s is before --from %s", to, from)
	}
	return tr, nil
}
