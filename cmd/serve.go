package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/api"
	"github.com/JakeFAU/schedule-pipeline/internal/backfill"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Serves the pipeline, verification, ledger, progress, and execution
endpoints, plus health and Prometheus metrics. When backfill is enabled, a
cron job re-scrapes the trailing window nightly.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := a.Config()
	logger := a.Logger()

	apiServer := api.NewServer(
		a.Orchestrator(),
		a.Verifier(),
		a.Ledger(),
		a.Recent(),
		a.Executions(),
		a.Clock(),
		cfg,
		logger,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var scheduler *backfill.Scheduler
	if cfg.Backfill.Enabled {
		scheduler, err = backfill.New(a.Orchestrator(), a.Clock(), backfill.Config{
			Cron:  cfg.Backfill.Cron,
			Days:  cfg.Backfill.Days,
			Force: cfg.Backfill.Force,
		}, logger)
		if err != nil {
			return fmt.Errorf("init backfill scheduler: %w", err)
		}
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("start backfill scheduler: %w", err)
		}
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if serr := srv.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(serr))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace())
	defer stop()

	if scheduler != nil {
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.Warn("backfill scheduler stop", zap.Error(err))
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}
