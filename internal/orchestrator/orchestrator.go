// Package orchestrator is the single entry point for pipeline invocations.
// It parses the mode union, routes day runs straight to the pipeline, decides
// direct-run versus fan-out for ranges, and folds every failure into a
// structured result instead of returning an error.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/pipeline"
	"github.com/JakeFAU/schedule-pipeline/internal/planner"
	"github.com/JakeFAU/schedule-pipeline/internal/progress"
	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
	"github.com/JakeFAU/schedule-pipeline/internal/splitter"
	"github.com/JakeFAU/schedule-pipeline/internal/validator"
)

// DefaultMaxBatchSize caps how many days a single planner chunk may hold,
// whatever the invocation asks for.
const DefaultMaxBatchSize = 10

// Config bounds invocation knobs.
type Config struct {
	// MaxBatchSize is the upper clamp for batch_size.
	MaxBatchSize int
	// MaxChunkDays is the fan-out threshold used when the invocation
	// does not carry its own.
	MaxChunkDays int
}

// Result is the outermost invocation envelope. It is always returned, never
// "thrown": parse failures, run failures, and panics all land here.
type Result struct {
	Success       bool                       `json:"success"`
	Mode          string                     `json:"mode,omitempty"`
	RunID         string                     `json:"run_id,omitempty"`
	TotalDays     int                        `json:"total_days,omitempty"`
	ProcessedDays int                        `json:"processed_days"`
	MissingDays   []string                   `json:"missing_days"`
	ErrorRate     float64                    `json:"error_rate,omitempty"`
	GateFailed    bool                       `json:"gate_failed,omitempty"`
	ResultsURI    string                     `json:"results_uri,omitempty"`
	Executions    []schedule.ExecutionHandle `json:"executions,omitempty"`
	Report        *schedule.MonthReport      `json:"report,omitempty"`
	Error         string                     `json:"error,omitempty"`
}

// Orchestrator routes parsed invocations to the day pipeline, the range
// runner, or the child-execution dispatcher.
type Orchestrator struct {
	pipeline   *pipeline.Pipeline
	runner     *pipeline.Runner
	dispatcher *splitter.Dispatcher
	validator  *validator.Validator
	ids        schedule.IDGenerator
	clock      schedule.Clock
	emitter    progress.Emitter
	cfg        Config
	logger     *zap.Logger
}

// New constructs an Orchestrator. The dispatcher and emitter may be nil;
// fan-out then fails into the result and no progress events are published.
func New(
	pipe *pipeline.Pipeline,
	run *pipeline.Runner,
	dispatch *splitter.Dispatcher,
	validate *validator.Validator,
	ids schedule.IDGenerator,
	clk schedule.Clock,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if pipe == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if run == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if validate == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if clk == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.MaxBatchSize < 1 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.MaxChunkDays < 1 {
		cfg.MaxChunkDays = splitter.DefaultMaxChunkDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		pipeline:   pipe,
		runner:     run,
		dispatcher: dispatch,
		validator:  validate,
		ids:        ids,
		clock:      clk,
		emitter:    emitter,
		cfg:        cfg,
		logger:     logger.Named("orchestrator"),
	}, nil
}

// Run executes one invocation end to end and reports the result envelope.
// It never returns an error and never panics outward.
func (o *Orchestrator) Run(ctx context.Context, inv Invocation) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("invocation panicked",
				zap.String("mode", inv.Mode),
				zap.Any("panic", r),
				zap.Stack("stack"))
			res = failure(inv.Mode, fmt.Sprintf("internal error: %v", r))
		}
	}()

	target, err := ParseInvocation(inv)
	if err != nil {
		o.logger.Warn("invalid invocation", zap.String("mode", inv.Mode), zap.Error(err))
		return failure(inv.Mode, err.Error())
	}

	o.logger.Info("invocation accepted",
		zap.String("mode", target.Kind()),
		zap.Bool("force_scrape", inv.ForceScrape),
		zap.Bool("is_sub_execution", inv.IsSubExecution))

	switch t := target.(type) {
	case DayTarget:
		return o.runDay(ctx, inv, t)
	case RangeTarget:
		return o.runRange(ctx, inv, t)
	case MonthTarget:
		return o.runMonth(ctx, inv, t)
	default:
		return failure(inv.Mode, fmt.Sprintf("unsupported target %q", target.Kind()))
	}
}

// runDay scrapes a single date. No range-level gate applies; the day's own
// validation already decided its success.
func (o *Orchestrator) runDay(ctx context.Context, inv Invocation, t DayTarget) Result {
	out := o.pipeline.ProcessDay(ctx, pipeline.DayRequest{
		Date:    t.Date,
		Force:   inv.ForceScrape,
		FromRaw: inv.FromRaw,
	})

	res := Result{
		Mode:        ModeDay,
		Success:     out.Success,
		TotalDays:   1,
		MissingDays: []string{},
	}
	if out.Success {
		res.ProcessedDays = 1
	} else {
		res.MissingDays = []string{out.Date}
		res.Error = out.Error
	}
	return res
}

// runRange hands small ranges to the runner and fans oversized ones out into
// child executions.
func (o *Orchestrator) runRange(ctx context.Context, inv Invocation, t RangeTarget) Result {
	chunkDays := inv.MaxChunkDays
	if chunkDays < 1 {
		chunkDays = o.cfg.MaxChunkDays
	}

	item := schedule.WorkItem{
		StartDate:         schedule.DateKey(t.Start),
		EndDate:           schedule.DateKey(t.End),
		ForceScrape:       inv.ForceScrape,
		FromRaw:           inv.FromRaw,
		BatchSize:         planner.ClampBatchSize(inv.BatchSize, o.cfg.MaxBatchSize),
		MaxChunkDays:      chunkDays,
		Bucket:            inv.Bucket,
		IsSubExecution:    inv.IsSubExecution,
		ParentExecutionID: inv.ParentExecutionID,
	}

	decision, err := splitter.Split(item, chunkDays)
	if err != nil {
		return failure(ModeRange, err.Error())
	}

	switch d := decision.(type) {
	case splitter.RunDirect:
		return o.runDirect(ctx, ModeRange, d.Item)
	case splitter.FanOut:
		return o.fanOut(ctx, inv, t, d.Children)
	default:
		return failure(ModeRange, fmt.Sprintf("unsupported split decision %q", decision.Kind()))
	}
}

// runMonth always runs direct: a month never exceeds the chunk cap in any
// sane configuration, and the aggregate report wants the whole month in one
// run. The report is written even when days failed; it records exactly that.
func (o *Orchestrator) runMonth(ctx context.Context, inv Invocation, t MonthTarget) Result {
	start, end := schedule.MonthSpan(t.Year, t.Month)
	item := schedule.WorkItem{
		StartDate:   schedule.DateKey(start),
		EndDate:     schedule.DateKey(end),
		ForceScrape: inv.ForceScrape,
		FromRaw:     inv.FromRaw,
		BatchSize:   planner.ClampBatchSize(inv.BatchSize, o.cfg.MaxBatchSize),
	}
	res := o.runDirect(ctx, ModeMonth, item)

	rangeResult, err := o.validator.ValidateRange(ctx, schedule.DatesBetween(start, end))
	if err != nil {
		res.Success = false
		res.Error = joinErr(res.Error, fmt.Sprintf("month report: %v", err))
		return res
	}
	report, err := o.validator.WriteMonthReport(ctx, t.Year, t.Month, rangeResult.Days, o.clock.Now())
	if err != nil {
		res.Success = false
		res.Error = joinErr(res.Error, fmt.Sprintf("month report: %v", err))
		return res
	}
	res.Report = &report
	return res
}

func (o *Orchestrator) runDirect(ctx context.Context, mode string, item schedule.WorkItem) Result {
	start, end, err := item.Span()
	if err != nil {
		return failure(mode, err.Error())
	}
	out := o.runner.Run(ctx, pipeline.RangeRequest{
		Start:     start,
		End:       end,
		Force:     item.ForceScrape,
		FromRaw:   item.FromRaw,
		BatchSize: item.BatchSize,
	})

	missing := out.MissingDays
	if missing == nil {
		missing = []string{}
	}
	return Result{
		Success:       out.Success,
		Mode:          mode,
		RunID:         out.RunID,
		TotalDays:     out.TotalDays,
		ProcessedDays: out.ProcessedDays,
		MissingDays:   missing,
		ErrorRate:     out.ErrorRate,
		GateFailed:    out.GateFailed,
		ResultsURI:    out.ResultsURI,
		Error:         out.Error,
	}
}

// fanOut dispatches one child execution per chunk and returns without
// waiting: verification is a separate, repeatable pass over the handles.
func (o *Orchestrator) fanOut(ctx context.Context, inv Invocation, t RangeTarget, children []schedule.WorkItem) Result {
	res := Result{
		Mode:        ModeRange,
		TotalDays:   schedule.DaysInclusive(t.Start, t.End),
		MissingDays: []string{},
	}
	if o.dispatcher == nil {
		res.Error = fmt.Sprintf("dispatch children: %v", schedule.ErrMissingTarget)
		return res
	}

	parentID := inv.ParentExecutionID
	if parentID == "" {
		parentID = o.newParentID()
	}

	handles, err := o.dispatcher.Dispatch(ctx, parentID, children)
	res.Executions = handles
	o.emitDispatch(parentID, handles)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.Success = true
	o.logger.Info("range fanned out",
		zap.String("parent_execution_id", parentID),
		zap.Int("children", len(children)),
		zap.String("start_date", schedule.DateKey(t.Start)),
		zap.String("end_date", schedule.DateKey(t.End)))
	return res
}

func (o *Orchestrator) emitDispatch(parentID string, handles []schedule.ExecutionHandle) {
	if o.emitter == nil {
		return
	}
	eventID := progress.UUIDToBytes(uuid.New())
	if id, err := uuid.Parse(parentID); err == nil {
		eventID = progress.UUIDToBytes(id)
	}
	for _, h := range handles {
		o.emitter.Emit(progress.Event{
			RunID:     eventID,
			TS:        o.clock.Now().UTC(),
			Stage:     progress.StageDispatch,
			StartDate: h.StartDate,
			EndDate:   h.EndDate,
			Note:      h.ID,
		})
	}
}

func (o *Orchestrator) newParentID() string {
	if o.ids != nil {
		if id, err := o.ids.NewID(); err == nil {
			return id
		}
	}
	return uuid.NewString()
}

func failure(mode, msg string) Result {
	return Result{
		Mode:        mode,
		MissingDays: []string{},
		Error:       msg,
	}
}

func joinErr(existing, next string) string {
	if existing == "" {
		return next
	}
	return existing + "; " + next
}
