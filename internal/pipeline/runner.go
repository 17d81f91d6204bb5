package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/metrics"
	"github.com/JakeFAU/schedule-pipeline/internal/planner"
	"github.com/JakeFAU/schedule-pipeline/internal/progress"
	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
	"github.com/JakeFAU/schedule-pipeline/internal/validator"
)

// DefaultWorkers is the range runner's pool width.
const DefaultWorkers = 3

// RangeRequest asks for an inclusive date range to be processed.
type RangeRequest struct {
	Start   time.Time
	End     time.Time
	Force   bool
	FromRaw bool
	// BatchSize is the planner chunk size; days inside a chunk run
	// concurrently and chunks complete in order.
	BatchSize int
	// RunID identifies the run; one is generated when empty.
	RunID string
}

// RunnerConfig controls Runner behavior.
type RunnerConfig struct {
	Workers int
}

// Runner drives the day pipeline across a date range with a bounded worker
// pool, applies the range-level quality gate, and persists the results
// descriptor.
type Runner struct {
	pipeline  *Pipeline
	validator *validator.Validator
	store     schedule.ObjectStore
	layout    schedule.Layout
	ids       schedule.IDGenerator
	clock     schedule.Clock
	emitter   progress.Emitter
	cfg       RunnerConfig
	logger    *zap.Logger
}

// NewRunner constructs a Runner. The emitter may be nil, in which case no
// progress events are published.
func NewRunner(
	pipe *Pipeline,
	validate *validator.Validator,
	store schedule.ObjectStore,
	ids schedule.IDGenerator,
	clock schedule.Clock,
	emitter progress.Emitter,
	layout schedule.Layout,
	cfg RunnerConfig,
	logger *zap.Logger,
) (*Runner, error) {
	if pipe == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if validate == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		pipeline:  pipe,
		validator: validate,
		store:     store,
		layout:    layout,
		ids:       ids,
		clock:     clock,
		emitter:   emitter,
		cfg:       cfg,
		logger:    logger.Named("runner"),
	}, nil
}

// Run processes every date in the range and reports the single typed result
// envelope. Failures never propagate as errors; they land in the outcome.
func (r *Runner) Run(ctx context.Context, req RangeRequest) schedule.RangeOutcome {
	start := schedule.Midnight(req.Start)
	end := schedule.Midnight(req.End)
	runID := r.runID(req.RunID)
	out := schedule.RangeOutcome{
		RunID:     runID,
		StartDate: schedule.DateKey(start),
		EndDate:   schedule.DateKey(end),
	}

	batches, err := planner.Plan(start, end, planner.ClampBatchSize(req.BatchSize, 0))
	if err != nil {
		out.Error = err.Error()
		return out
	}
	dates := schedule.DatesBetween(start, end)
	out.TotalDays = len(dates)

	eventID := runEventID(runID)
	started := r.clock.Now()
	r.emit(progress.Event{
		RunID:     eventID,
		TS:        started.UTC(),
		Stage:     progress.StageRangeStart,
		StartDate: out.StartDate,
		EndDate:   out.EndDate,
		Days:      int64(out.TotalDays),
	})
	r.logger.Info("range run started",
		zap.String("run_id", runID),
		zap.String("start_date", out.StartDate),
		zap.String("end_date", out.EndDate),
		zap.Int("total_days", out.TotalDays),
		zap.Int("batches", len(batches)))

	succeeded := make(map[string]bool, len(dates))
	var failures int
	for _, batch := range batches {
		if ctx.Err() != nil {
			break
		}
		outcomes := r.runBatch(ctx, batch.Dates(), req, eventID)
		for _, day := range outcomes {
			out.Days = append(out.Days, day)
			if day.Success {
				succeeded[day.Date] = true
				out.ProcessedDays++
			} else {
				failures++
			}
		}
	}

	for _, date := range dates {
		if !succeeded[schedule.DateKey(date)] {
			out.MissingDays = append(out.MissingDays, schedule.DateKey(date))
		}
	}

	rangeResult, verr := r.validator.ValidateRange(ctx, dates)
	if verr != nil {
		r.logger.Error("range validation failed", zap.String("run_id", runID), zap.Error(verr))
		out.Error = appendError(out.Error, fmt.Sprintf("validate range: %v", verr))
	} else {
		out.ErrorRate = rangeResult.ErrorRate
		out.GateFailed = rangeResult.GateFailed
		if rangeResult.GateFailed {
			metrics.ObserveQualityGateFailure()
			out.Error = appendError(out.Error,
				fmt.Sprintf("%v: %.2f", schedule.ErrQualityGate, rangeResult.ErrorRate))
		}
	}

	if failures > 0 {
		out.Error = appendError(out.Error,
			fmt.Sprintf("%d of %d days failed", failures, out.TotalDays))
	}
	if ctx.Err() != nil {
		out.Error = appendError(out.Error, ctx.Err().Error())
	}
	out.Success = out.Error == ""

	r.persistDescriptor(ctx, &out)

	duration := r.clock.Now().Sub(started)
	r.emit(progress.Event{
		RunID:     eventID,
		TS:        r.clock.Now().UTC(),
		Stage:     progress.StageRangeDone,
		StartDate: out.StartDate,
		EndDate:   out.EndDate,
		Days:      int64(out.ProcessedDays),
		Dur:       duration,
		Note:      out.Error,
	})
	r.logger.Info("range run finished",
		zap.String("run_id", runID),
		zap.Bool("success", out.Success),
		zap.Int("processed_days", out.ProcessedDays),
		zap.Int("missing_days", len(out.MissingDays)),
		zap.Float64("error_rate", out.ErrorRate),
		zap.Duration("duration", duration))
	return out
}

// runBatch fans the chunk's dates out to the worker pool and collects the
// outcomes in date order.
func (r *Runner) runBatch(ctx context.Context, dates []time.Time, req RangeRequest, eventID [16]byte) []schedule.DayOutcome {
	workers := r.cfg.Workers
	if workers > len(dates) {
		workers = len(dates)
	}

	feed := make(chan time.Time)
	results := make(chan schedule.DayOutcome, len(dates))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			for date := range feed {
				results <- r.processDay(ctx, date, req, eventID)
			}
		}()
	}
	for _, date := range dates {
		feed <- date
	}
	close(feed)
	wg.Wait()
	close(results)

	outcomes := make([]schedule.DayOutcome, 0, len(dates))
	for out := range results {
		outcomes = append(outcomes, out)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Date < outcomes[j].Date })
	return outcomes
}

func (r *Runner) processDay(ctx context.Context, date time.Time, req RangeRequest, eventID [16]byte) schedule.DayOutcome {
	key := schedule.DateKey(date)
	started := r.clock.Now()
	r.emit(progress.Event{
		RunID: eventID,
		TS:    started.UTC(),
		Stage: progress.StageDayStart,
		Date:  key,
	})

	out := r.pipeline.ProcessDay(ctx, DayRequest{
		Date:    date,
		Force:   req.Force,
		FromRaw: req.FromRaw,
	})

	evt := progress.Event{
		RunID: eventID,
		TS:    r.clock.Now().UTC(),
		Date:  key,
		Dur:   r.clock.Now().Sub(started),
	}
	if out.Success {
		evt.Stage = progress.StageDayDone
		evt.Records = int64(out.RecordCount)
	} else {
		evt.Stage = progress.StageDayError
		evt.Note = out.Error
	}
	r.emit(evt)
	return out
}

// persistDescriptor writes the outcome to the results key so the verifier
// can fetch it later. Best effort: a write failure leaves ResultsURI empty
// and the verifier falls back to probing day envelopes.
func (r *Runner) persistDescriptor(ctx context.Context, out *schedule.RangeOutcome) {
	payload, err := json.Marshal(out)
	if err != nil {
		r.logger.Error("encode results descriptor failed",
			zap.String("run_id", out.RunID), zap.Error(err))
		return
	}
	uri, err := r.store.PutObject(ctx, r.layout.ResultsDescriptor(out.RunID), "application/json", payload)
	if err != nil {
		r.logger.Error("persist results descriptor failed",
			zap.String("run_id", out.RunID), zap.Error(err))
		return
	}
	out.ResultsURI = uri
}

func (r *Runner) runID(requested string) string {
	if requested != "" {
		return requested
	}
	if r.ids != nil {
		if id, err := r.ids.NewID(); err == nil {
			return id
		}
	}
	return uuid.NewString()
}

func (r *Runner) emit(evt progress.Event) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(evt)
}

// runEventID derives the binary event run ID. Non-UUID run IDs get a fresh
// event identity rather than dropping telemetry.
func runEventID(runID string) [16]byte {
	if id, err := uuid.Parse(runID); err == nil {
		return progress.UUIDToBytes(id)
	}
	return progress.UUIDToBytes(uuid.New())
}

func appendError(existing, next string) string {
	if existing == "" {
		return next
	}
	return existing + "; " + next
}
