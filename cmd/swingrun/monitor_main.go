package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/swingrun/internal/application/evaluate"
	monitor "github.com/sawpanic/swingrun/internal/interfaces/http"
	"github.com/sawpanic/swingrun/internal/persistence"
)

// runMonitor serves the read-only monitor and runs passes on an interval
func runMonitor(cmd *cobra.Command, args []string) error {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	interval, _ := cmd.Flags().GetDuration("interval")
	noPasses, _ := cmd.Flags().GetBool("no-passes")
	seed, _ := cmd.Flags().GetString("seed")

	srvCfg := appConfig.HTTP
	if host != "" {
		srvCfg.Host = host
	}
	if port != 0 {
		srvCfg.Port = port
	}
	if interval <= 0 {
		interval = appConfig.Engine.Interval
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.seed(ctx, seed); err != nil {
		return err
	}

	eng, err := a.engine(appConfig.Engine.Evaluate)
	if err != nil {
		return err
	}

	var dbHealth persistence.RepositoryHealth
	if a.db.IsEnabled() {
		dbHealth = a.db.Health()
	}
	server, err := monitor.NewServer(srvCfg, monitor.Dependencies{
		Repository: a.repo,
		Database:   dbHealth,
		Breakers:   a.breakers,
		Detector:   a.detector,
		Engine:     eng,
		Metrics:    a.metrics,
		Version:    version,
	})
	if err != nil {
		return err
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		addr := server.GetAddress()
		log.Info().
			Str("health", fmt.Sprintf("http://%s/health", addr)).
			Str("metrics", fmt.Sprintf("http://%s/metrics", addr)).
			Str("positions", fmt.Sprintf("http://%s/positions", addr)).
			Str("stream", fmt.Sprintf("ws://%s/ws", addr)).
			Msg("Monitor endpoints available")

		if err := server.Start(); err != nil {
			serverErr <- err
		}
	}()

	if !noPasses && interval > 0 {
		go runPasses(ctx, eng, interval)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
		return err
	}

	log.Info().Msg("Monitor shutdown complete")
	return nil
}

// runPasses runs one pass immediately and then every interval until ctx ends.
// A failed pass is logged; the next tick tries again.
func runPasses(ctx context.Context, eng *evaluate.Engine, interval time.Duration) {
	log.Info().Dur("interval", interval).Msg("Evaluation scheduler started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if report, err := eng.RunPass(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("Evaluation pass failed")
		} else {
			log.Info().
				Str("pass_id", report.PassID).
				Int("evaluated", report.Evaluated).
				Int("exited", report.Exited).
				Dur("duration", report.Duration).
				Msg("Scheduled pass complete")
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("Evaluation scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}
