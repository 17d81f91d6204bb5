package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/app"
	"github.com/JakeFAU/schedule-pipeline/internal/config"
	"github.com/JakeFAU/schedule-pipeline/internal/logging"
)

var cfgFile string

// appKeyType is the key type for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It is a variable so tests can swap in a
// factory with an isolated metrics registry.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, nil, logger)
}

// newRootCmd creates and configures the root command. The app container is
// built once in PersistentPreRunE and handed to subcommands through the
// command context.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedpipe",
		Short: "Incremental scrape pipeline for facility schedule sites",
		Long: `schedpipe scrapes day-keyed schedule grids from a facility's print view,
validates the parsed games, and tracks per-date coverage in a scrape ledger
so re-runs only touch days that changed. Oversized ranges split into child
executions that run locally or on a remote peer.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				a.Close(cmd.Context())
				logging.Flush(a.Logger())
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default ./config.yaml, /etc/schedpipe/, $HOME/.schedpipe)")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// resolveApp pulls the container out of the command context.
func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute is the main entry point. Interrupts cancel the command context so
// in-flight runs stop cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
