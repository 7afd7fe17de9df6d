package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/swingrun/internal/application/entry"
)

// runPlan classifies and sizes candidates without writing anything
func runPlan(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")

	cands, err := entry.LoadCandidates(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	decisions := a.planner().PlanAll(context.Background(), cands)
	return writeDecisions(os.Stdout, format, decisions)
}

// runOpen plans candidates and creates the accepted positions
func runOpen(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")

	cands, err := entry.LoadCandidates(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	p := a.planner()
	decisions := make([]entry.Decision, 0, len(cands))
	for _, cand := range cands {
		dec, err := p.Open(ctx, cand)
		if err != nil {
			log.Error().Err(err).Str("ticker", cand.Ticker).Msg("Open failed")
			continue
		}
		decisions = append(decisions, dec)
	}
	return writeDecisions(os.Stdout, format, decisions)
}

func writeDecisions(out io.Writer, format string, decisions []entry.Decision) error {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(decisions)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TICKER\tDECISION\tSTAGE\tTIER\tCONVICTION\tSIZE\tSTOP\tTARGET\tREASON")
	accepted := 0
	for _, d := range decisions {
		verdict := "REJECT"
		conviction, size, stop, target := "-", "-", "-", "-"
		if d.Conviction != nil {
			conviction = string(d.Conviction.Label)
		}
		if d.Accepted && d.Position != nil {
			accepted++
			verdict = "ACCEPT"
			size = fmt.Sprintf("$%.0f", d.Position.PositionSize)
			stop = fmt.Sprintf("%.2f", d.Position.StopLoss)
			target = fmt.Sprintf("%.2f", d.Position.PriceTarget)
		}
		tier := string(d.Classification.Tier)
		if tier == "" {
			tier = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.Ticker, verdict, d.Stage, tier, conviction, size, stop, target, d.Reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d of %d candidates accepted\n", accepted, len(decisions))
	return nil
}
