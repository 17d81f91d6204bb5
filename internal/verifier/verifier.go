// Package verifier proves which dates of a dispatched workload actually
// produced their day artifacts. Verification only reads; it is safe to run
// any number of times.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

// Polling defaults.
const (
	DefaultPollInterval = 10 * time.Second
	DefaultPollTimeout  = time.Hour
)

// ExecutionRef names one dispatched child and the range it was given.
type ExecutionRef struct {
	ID        string `json:"id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Request is the verification invocation. Bucket and ArchitectureVersion are
// carried for wire compatibility with older callers; storage selection
// happens at configuration time.
type Request struct {
	Executions          []ExecutionRef `json:"executions"`
	StartDate           string         `json:"start_date"`
	EndDate             string         `json:"end_date"`
	Bucket              string         `json:"bucket,omitempty"`
	ArchitectureVersion string         `json:"architecture_version,omitempty"`
}

// Config controls polling behavior.
type Config struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Verifier unions per-date successes from execution outputs, falling back to
// probing the object store for each date's day envelope.
type Verifier struct {
	client schedule.ExecutionClient
	store  schedule.ObjectStore
	layout schedule.Layout
	clock  schedule.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Verifier. The execution client may be nil; verification
// then relies on the storage probe alone.
func New(client schedule.ExecutionClient, store schedule.ObjectStore, clock schedule.Clock, layout schedule.Layout, cfg Config, logger *zap.Logger) (*Verifier, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		client: client,
		store:  store,
		layout: layout,
		clock:  clock,
		cfg:    cfg,
		logger: logger.Named("verifier"),
	}, nil
}

// Verify reports which dates in the request's range have proven day
// artifacts. Execution outputs are consulted first; any date still unproven
// is probed directly in the object store.
func (v *Verifier) Verify(ctx context.Context, req Request) (schedule.VerifyReport, error) {
	start, end, err := v.span(req)
	if err != nil {
		return schedule.VerifyReport{}, err
	}

	processed := make(map[string]bool)
	for _, ref := range req.Executions {
		outcome, ok := v.executionOutcome(ctx, ref)
		if !ok {
			// Leave the ref's dates to the storage probe below.
			continue
		}
		for _, day := range outcome.Days {
			if day.Success {
				processed[day.Date] = true
			}
		}
	}

	report := schedule.VerifyReport{TotalDays: schedule.DaysInclusive(start, end)}
	for _, date := range schedule.DatesBetween(start, end) {
		key := schedule.DateKey(date)
		if !processed[key] {
			// Ground truth: the day envelope's existence.
			if ok, perr := v.store.Exists(ctx, v.layout.DayEnvelope(date)); perr == nil && ok {
				processed[key] = true
			} else if perr != nil {
				v.logger.Warn("storage probe failed", zap.String("date", key), zap.Error(perr))
			}
		}
		if processed[key] {
			report.ProcessedDays++
		} else {
			report.MissingDays = append(report.MissingDays, key)
		}
	}
	report.Success = len(report.MissingDays) == 0

	v.logger.Info("verification finished",
		zap.Bool("success", report.Success),
		zap.Int("total_days", report.TotalDays),
		zap.Int("processed_days", report.ProcessedDays),
		zap.Int("missing_days", len(report.MissingDays)))
	return report, nil
}

// WaitForExecution polls the execution until it reaches a terminal status.
// Exceeding the configured timeout returns a *schedule.PollTimeoutError,
// which is a different condition from the execution finishing FAILED.
func (v *Verifier) WaitForExecution(ctx context.Context, id string) (schedule.ExecutionHandle, error) {
	if v.client == nil {
		return schedule.ExecutionHandle{}, fmt.Errorf("execution client not configured")
	}

	started := v.clock.Now()
	deadline := started.Add(v.cfg.PollTimeout)
	var last schedule.ExecutionHandle
	for {
		handle, err := v.client.DescribeExecution(ctx, id)
		if err != nil {
			// Transient describe failures should not abort a long wait.
			v.logger.Warn("describe execution failed", zap.String("execution_id", id), zap.Error(err))
		} else {
			last = handle
			if handle.Status.Terminal() {
				return handle, nil
			}
		}

		if v.clock.Now().Add(v.cfg.PollInterval).After(deadline) {
			return last, &schedule.PollTimeoutError{
				ExecutionID: id,
				Waited:      v.clock.Now().Sub(started),
			}
		}
		if !sleepWithContext(ctx, v.cfg.PollInterval) {
			return last, ctx.Err()
		}
	}
}

// executionOutcome resolves a child execution's RangeOutcome, reading the
// results descriptor when the output is thin. A false return means the
// storage probe must decide.
func (v *Verifier) executionOutcome(ctx context.Context, ref ExecutionRef) (schedule.RangeOutcome, bool) {
	if v.client == nil {
		return schedule.RangeOutcome{}, false
	}
	handle, err := v.client.DescribeExecution(ctx, ref.ID)
	if err != nil {
		v.logger.Warn("describe execution failed, probing storage",
			zap.String("execution_id", ref.ID), zap.Error(err))
		return schedule.RangeOutcome{}, false
	}
	if handle.Status != schedule.ExecutionSucceeded {
		v.logger.Info("execution not succeeded, probing storage",
			zap.String("execution_id", ref.ID),
			zap.String("status", string(handle.Status)))
		return schedule.RangeOutcome{}, false
	}

	var outcome schedule.RangeOutcome
	if len(handle.Output) == 0 || json.Unmarshal(handle.Output, &outcome) != nil {
		v.logger.Warn("execution output missing or undecodable, probing storage",
			zap.String("execution_id", ref.ID))
		return schedule.RangeOutcome{}, false
	}

	if len(outcome.Days) == 0 && outcome.RunID != "" {
		data, err := v.store.GetObject(ctx, v.layout.ResultsDescriptor(outcome.RunID))
		if err != nil {
			v.logger.Warn("results descriptor unavailable, probing storage",
				zap.String("execution_id", ref.ID),
				zap.String("run_id", outcome.RunID),
				zap.Error(err))
			return schedule.RangeOutcome{}, false
		}
		if err := json.Unmarshal(data, &outcome); err != nil {
			v.logger.Warn("results descriptor undecodable, probing storage",
				zap.String("run_id", outcome.RunID), zap.Error(err))
			return schedule.RangeOutcome{}, false
		}
	}
	if len(outcome.Days) == 0 {
		return schedule.RangeOutcome{}, false
	}
	return outcome, true
}

// span resolves the verification range, deriving it from the execution refs
// when the request omits explicit bounds.
func (v *Verifier) span(req Request) (time.Time, time.Time, error) {
	startDate, endDate := req.StartDate, req.EndDate
	if startDate == "" || endDate == "" {
		for _, ref := range req.Executions {
			if startDate == "" || ref.StartDate < startDate {
				startDate = ref.StartDate
			}
			if endDate == "" || ref.EndDate > endDate {
				endDate = ref.EndDate
			}
		}
	}
	if startDate == "" || endDate == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("verification range is required")
	}

	start, err := schedule.ParseDate(startDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := schedule.ParseDate(endDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start date %s after end date %s", startDate, endDate)
	}
	return start, end, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
