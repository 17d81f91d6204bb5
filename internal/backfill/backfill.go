// Package backfill re-scrapes a trailing window of recent days on a cron
// schedule, so late edits to already-scraped dates are picked up without
// operator action. It runs only inside the serve command.
package backfill

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/orchestrator"
	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

// Defaults applied by New.
const (
	DefaultCron = "0 2 * * *"
	DefaultDays = 3
)

// Invoker runs one pipeline invocation. *orchestrator.Orchestrator satisfies
// it.
type Invoker interface {
	Run(ctx context.Context, inv orchestrator.Invocation) orchestrator.Result
}

// Config controls the schedule and the trailing window.
type Config struct {
	// Cron is a standard five-field cron expression.
	Cron string
	// Days is the window size; each run covers [today-days+1, today].
	Days int
	// Force bypasses the ledger short-circuit so edited days re-scrape.
	Force bool
}

// Scheduler owns the cron loop and the invocation it fires.
type Scheduler struct {
	invoker Invoker
	clock   schedule.Clock
	cfg     Config
	cron    *cron.Cron
	logger  *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	baseCtx   context.Context
	cancel    context.CancelFunc
}

// New builds a stopped Scheduler, filling zero-value config fields with
// defaults. Call Start to begin ticking.
func New(invoker Invoker, clk schedule.Clock, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if invoker == nil {
		return nil, fmt.Errorf("invoker is required")
	}
	if clk == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.Cron == "" {
		cfg.Cron = DefaultCron
	}
	if cfg.Days <= 0 {
		cfg.Days = DefaultDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		invoker: invoker,
		clock:   clk,
		cfg:     cfg,
		cron:    cron.New(),
		logger:  logger.Named("backfill"),
	}, nil
}

// Start registers the job and starts the cron loop.
func (s *Scheduler) Start() error {
	var err error
	s.startOnce.Do(func() {
		s.baseCtx, s.cancel = context.WithCancel(context.Background())
		if _, aerr := s.cron.AddFunc(s.cfg.Cron, func() { s.RunNow(s.baseCtx) }); aerr != nil {
			err = fmt.Errorf("register backfill job: %w", aerr)
			return
		}
		s.cron.Start()
		s.logger.Info("backfill scheduled",
			zap.String("cron", s.cfg.Cron),
			zap.Int("days", s.cfg.Days),
			zap.Bool("force", s.cfg.Force))
	})
	return err
}

// Stop halts the cron loop and waits for an in-flight run to finish. When ctx
// expires first the run is cancelled and the context error returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		done := s.cron.Stop().Done()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
		if s.cancel != nil {
			s.cancel()
		}
	})
	return err
}

// RunNow executes one backfill immediately, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) orchestrator.Result {
	now := s.clock.Now().UTC()
	start := now.AddDate(0, 0, -(s.cfg.Days - 1))

	inv := orchestrator.Invocation{
		Mode:        orchestrator.ModeRange,
		StartDate:   schedule.DateKey(start),
		EndDate:     schedule.DateKey(now),
		ForceScrape: s.cfg.Force,
	}
	s.logger.Info("backfill run starting",
		zap.String("start_date", inv.StartDate),
		zap.String("end_date", inv.EndDate))

	res := s.invoker.Run(ctx, inv)
	if !res.Success {
		s.logger.Warn("backfill run failed",
			zap.String("run_id", res.RunID),
			zap.String("error", res.Error))
		return res
	}
	s.logger.Info("backfill run finished",
		zap.String("run_id", res.RunID),
		zap.Int("processed_days", res.ProcessedDays))
	return res
}
