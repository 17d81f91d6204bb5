// Package app assembles the configured backends into the long-lived pipeline
// services and owns their shutdown order. Commands build an App once and pull
// the pieces they need from it.
package app

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/clock/system"
	"github.com/JakeFAU/schedule-pipeline/internal/config"
	executionhttp "github.com/JakeFAU/schedule-pipeline/internal/executions/http"
	executionlocal "github.com/JakeFAU/schedule-pipeline/internal/executions/local"
	collyfetcher "github.com/JakeFAU/schedule-pipeline/internal/fetcher/colly"
	"github.com/JakeFAU/schedule-pipeline/internal/fetcher/headless"
	"github.com/JakeFAU/schedule-pipeline/internal/hash/sha256"
	"github.com/JakeFAU/schedule-pipeline/internal/headless/detector"
	idgen "github.com/JakeFAU/schedule-pipeline/internal/id/uuid"
	ledgerblob "github.com/JakeFAU/schedule-pipeline/internal/ledger/blob"
	ledgermem "github.com/JakeFAU/schedule-pipeline/internal/ledger/memory"
	ledgerpg "github.com/JakeFAU/schedule-pipeline/internal/ledger/postgres"
	"github.com/JakeFAU/schedule-pipeline/internal/metrics"
	"github.com/JakeFAU/schedule-pipeline/internal/orchestrator"
	"github.com/JakeFAU/schedule-pipeline/internal/parser"
	"github.com/JakeFAU/schedule-pipeline/internal/pipeline"
	"github.com/JakeFAU/schedule-pipeline/internal/policy/ratelimit"
	"github.com/JakeFAU/schedule-pipeline/internal/progress"
	"github.com/JakeFAU/schedule-pipeline/internal/progress/sinks"
	pubsubpub "github.com/JakeFAU/schedule-pipeline/internal/publisher/pubsub"
	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
	"github.com/JakeFAU/schedule-pipeline/internal/splitter"
	storagegcs "github.com/JakeFAU/schedule-pipeline/internal/storage/gcs"
	storagelocal "github.com/JakeFAU/schedule-pipeline/internal/storage/local"
	storagemem "github.com/JakeFAU/schedule-pipeline/internal/storage/memory"
	"github.com/JakeFAU/schedule-pipeline/internal/validator"
	"github.com/JakeFAU/schedule-pipeline/internal/verifier"
)

// closer is one shutdown step, labeled for the shutdown log.
type closer struct {
	name  string
	close func(ctx context.Context) error
}

// App is the dependency container shared by the CLI commands and the HTTP
// server. Build it with New and release it with Close.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	layout schedule.Layout

	clock schedule.Clock
	ids   schedule.IDGenerator

	store  schedule.ObjectStore
	ledger schedule.Ledger

	hub    *progress.Hub
	recent *sinks.RecentSink

	pipe   *pipeline.Pipeline
	runner *pipeline.Runner
	valid  *validator.Validator

	executions schedule.ExecutionClient
	orch       *orchestrator.Orchestrator
	verifier   *verifier.Verifier

	closers []closer
}

// New wires the full service graph from the configuration. Collectors owned
// by the progress sinks register against reg; a nil reg falls back to the
// Prometheus default registerer. Construction failures release everything
// opened so far.
func New(ctx context.Context, cfg config.Config, reg prometheus.Registerer, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{
		cfg:    cfg,
		logger: logger,
		layout: schedule.Layout{Prefix: cfg.Storage.Prefix},
		clock:  system.New(),
		ids:    idgen.New(),
	}

	ok := false
	defer func() {
		if !ok {
			a.Close(context.Background())
		}
	}()

	if err := a.buildObjectStore(ctx); err != nil {
		return nil, err
	}
	if err := a.buildLedger(ctx); err != nil {
		return nil, err
	}
	if err := a.buildProgress(ctx, reg); err != nil {
		return nil, err
	}
	if err := a.buildPipeline(); err != nil {
		return nil, err
	}
	if err := a.buildOrchestration(); err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the base logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Clock returns the shared wall clock.
func (a *App) Clock() schedule.Clock { return a.clock }

// Store returns the configured object store.
func (a *App) Store() schedule.ObjectStore { return a.store }

// Ledger returns the configured scrape ledger.
func (a *App) Ledger() schedule.Ledger { return a.ledger }

// Recent returns the in-memory progress ring consumed by the API.
func (a *App) Recent() *sinks.RecentSink { return a.recent }

// Orchestrator returns the invocation entry point.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Verifier returns the gap verifier.
func (a *App) Verifier() *verifier.Verifier { return a.verifier }

// Executions returns the execution client, or nil when fan-out is disabled.
func (a *App) Executions() schedule.ExecutionClient { return a.executions }

// Close releases resources in reverse construction order, so the execution
// engine drains before the progress hub it emits into. Repeated calls are
// no-ops.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(ctx); err != nil {
			a.logger.Warn("shutdown error",
				zap.String("component", c.name),
				zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) pushCloser(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, close: fn})
}

func (a *App) buildObjectStore(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.StorageLocal:
		store, err := storagelocal.New(storagelocal.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("init local object store: %w", err)
		}
		a.store = store
		a.logger.Info("using local object store", zap.String("base_dir", a.cfg.Storage.BaseDir))
	case config.StorageGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.pushCloser("gcs client", func(context.Context) error { return client.Close() })
		store, err := storagegcs.New(client, storagegcs.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return fmt.Errorf("init gcs object store: %w", err)
		}
		a.store = store
		a.logger.Info("using gcs object store", zap.String("bucket", a.cfg.Storage.Bucket))
	case config.StorageMemory:
		a.store = storagemem.NewObjectStore()
		a.logger.Info("using in-memory object store")
	default:
		return fmt.Errorf("storage backend %q is not supported", a.cfg.Storage.Backend)
	}
	return nil
}

func (a *App) buildLedger(ctx context.Context) error {
	switch a.cfg.Ledger.Backend {
	case config.LedgerBlob:
		led, err := ledgerblob.New(a.store, a.layout)
		if err != nil {
			return fmt.Errorf("init blob ledger: %w", err)
		}
		a.ledger = led
	case config.LedgerPostgres:
		led, err := ledgerpg.New(ctx, ledgerpg.Config{
			DSN:             a.cfg.Database.DSN,
			Table:           a.cfg.Ledger.Table,
			MaxConns:        int32(a.cfg.Database.MaxConns),
			MinConns:        int32(a.cfg.Database.MinConns),
			MaxConnLifetime: a.cfg.Database.ConnLifetime(),
		})
		if err != nil {
			return fmt.Errorf("init postgres ledger: %w", err)
		}
		a.pushCloser("postgres ledger", func(context.Context) error {
			led.Close()
			return nil
		})
		a.ledger = led
	case config.LedgerMemory:
		a.ledger = ledgermem.New()
	default:
		return fmt.Errorf("ledger backend %q is not supported", a.cfg.Ledger.Backend)
	}
	a.logger.Info("ledger ready", zap.String("backend", a.cfg.Ledger.Backend))
	return nil
}

func (a *App) buildProgress(ctx context.Context, reg prometheus.Registerer) error {
	sinkList := []progress.Sink{sinks.NewLogSink(a.logger)}

	prom, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	sinkList = append(sinkList, prom)

	a.recent = sinks.NewRecentSink(a.cfg.Progress.RecentCapacity)
	sinkList = append(sinkList, a.recent)

	if a.cfg.PubSub.Enabled {
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub client: %w", err)
		}
		publisher := client.Publisher(a.cfg.PubSub.Topic)
		a.pushCloser("pubsub client", func(context.Context) error {
			publisher.Stop()
			return client.Close()
		})
		sink, err := sinks.NewPublishSink(pubsubpub.New(publisher), a.cfg.PubSub.Topic, a.logger)
		if err != nil {
			return fmt.Errorf("init publish sink: %w", err)
		}
		sinkList = append(sinkList, sink)
		a.logger.Info("publishing completion events",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.Topic))
	}

	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait(),
		Logger:         a.logger,
	}, sinkList...)
	a.pushCloser("progress hub", a.hub.Close)
	return nil
}

func (a *App) buildPipeline() error {
	cfg := a.cfg

	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Source.UserAgent,
		RespectRobots: cfg.Source.RespectRobots,
		Timeout:       cfg.Source.Timeout(),
	})

	var headlessFetcher schedule.Fetcher
	var render schedule.RenderDetector
	if cfg.Headless.Enabled {
		hf, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Source.UserAgent,
			NavigationTimeout: cfg.Headless.NavTimeout(),
			WaitSelector:      cfg.Headless.WaitSelector,
		})
		if err != nil {
			return fmt.Errorf("init headless fetcher: %w", err)
		}
		a.pushCloser("headless fetcher", func(context.Context) error {
			hf.Close()
			return nil
		})
		headlessFetcher = hf
		render = detector.NewHeuristic(cfg.Headless.MinHTMLBytes)
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RateLimit.RPS,
		DefaultBurst: cfg.RateLimit.Burst,
	})

	parse := parser.New(parser.Config{
		GridSelectors:    cfg.Parser.GridSelectors,
		TimesSelector:    cfg.Parser.TimesSelector,
		MinColumns:       cfg.Parser.MinColumns,
		MinLeagueColumns: cfg.Parser.MinLeagueColumns,
		TimeLayout:       cfg.Parser.TimeLayout,
		DateTimeLayout:   cfg.Parser.DateTimeLayout,
	}, a.logger)

	valid, err := validator.New(a.store, a.layout, validator.Config{
		ErrorRateThreshold: cfg.Validation.ErrorRateThreshold,
		VenuePrefix:        cfg.Validation.VenuePrefix,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("init validator: %w", err)
	}
	a.valid = valid

	pipe, err := pipeline.New(
		a.store,
		a.ledger,
		probe,
		headlessFetcher,
		render,
		limiter,
		parse,
		valid,
		sha256.New(),
		a.clock,
		schedule.NewExponentialRetryPolicy(cfg.Pipeline.MaxRetries),
		a.layout,
		pipeline.Config{
			Source: pipeline.SourceConfig{
				BaseURL:           cfg.Source.BaseURL,
				DateParam:         cfg.Source.DateParam,
				DateFormat:        cfg.Source.DateFormat,
				FollowLeagueLinks: cfg.Source.FollowLeagueLinks,
				MaxLeaguePages:    cfg.Source.MaxLeaguePages,
			},
			ContentType: cfg.Storage.ContentType,
			Headless:    cfg.Headless.Enabled,
		},
		a.logger,
	)
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}
	a.pipe = pipe

	run, err := pipeline.NewRunner(pipe, valid, a.store, a.ids, a.clock, a.hub, a.layout,
		pipeline.RunnerConfig{Workers: cfg.Pipeline.Workers}, a.logger)
	if err != nil {
		return fmt.Errorf("init range runner: %w", err)
	}
	a.runner = run
	return nil
}

func (a *App) buildOrchestration() error {
	cfg := a.cfg

	switch cfg.Orchestration.Backend {
	case config.OrchestrationLocal:
		engine, err := executionlocal.New(a.runWorkItem, a.ids, a.clock, executionlocal.Config{
			Workers:   cfg.Orchestration.Local.Workers,
			QueueSize: cfg.Orchestration.Local.QueueSize,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("init local execution engine: %w", err)
		}
		engine.Start()
		a.pushCloser("execution engine", func(context.Context) error {
			engine.Close()
			return nil
		})
		a.executions = engine
	case config.OrchestrationHTTP:
		client, err := executionhttp.New(executionhttp.Config{
			BaseURL: cfg.Orchestration.HTTP.BaseURL,
			APIKey:  cfg.Orchestration.HTTP.APIKey,
			Timeout: cfg.Orchestration.HTTP.Timeout(),
		}, a.logger)
		if err != nil {
			return fmt.Errorf("init http execution client: %w", err)
		}
		a.executions = client
	case config.OrchestrationNone:
		a.logger.Info("fan-out disabled, oversized ranges will be rejected")
	default:
		return fmt.Errorf("orchestration backend %q is not supported", cfg.Orchestration.Backend)
	}

	var dispatch *splitter.Dispatcher
	if a.executions != nil {
		dispatch = splitter.NewDispatcher(a.executions, a.ids, a.logger)
	}

	orch, err := orchestrator.New(a.pipe, a.runner, dispatch, a.valid, a.ids, a.clock, a.hub,
		orchestrator.Config{
			MaxBatchSize: cfg.Orchestration.MaxBatchSize,
			MaxChunkDays: cfg.Orchestration.MaxChunkDays,
		}, a.logger)
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}
	a.orch = orch

	verif, err := verifier.New(a.executions, a.store, a.clock, a.layout, verifier.Config{
		PollInterval: cfg.Orchestration.PollInterval(),
		PollTimeout:  cfg.Orchestration.PollTimeout(),
	}, a.logger)
	if err != nil {
		return fmt.Errorf("init verifier: %w", err)
	}
	a.verifier = verif
	return nil
}

// runWorkItem is the local engine's runner. Dispatched chunks re-enter the
// orchestrator through the same path a remote child execution would take.
// Children are clamped to max_chunk_days, so they run direct and never
// dispatch again.
func (a *App) runWorkItem(ctx context.Context, item schedule.WorkItem) schedule.RangeOutcome {
	if a.orch == nil {
		return schedule.RangeOutcome{
			StartDate: item.StartDate,
			EndDate:   item.EndDate,
			Error:     "orchestrator is not initialized",
		}
	}
	res := a.orch.Run(ctx, orchestrator.Invocation{
		Mode:              orchestrator.ModeRange,
		StartDate:         item.StartDate,
		EndDate:           item.EndDate,
		ForceScrape:       item.ForceScrape,
		FromRaw:           item.FromRaw,
		BatchSize:         item.BatchSize,
		MaxChunkDays:      item.MaxChunkDays,
		Bucket:            item.Bucket,
		IsSubExecution:    item.IsSubExecution,
		ParentExecutionID: item.ParentExecutionID,
	})
	return schedule.RangeOutcome{
		RunID:         res.RunID,
		StartDate:     item.StartDate,
		EndDate:       item.EndDate,
		Success:       res.Success,
		TotalDays:     res.TotalDays,
		ProcessedDays: res.ProcessedDays,
		MissingDays:   res.MissingDays,
		ErrorRate:     res.ErrorRate,
		GateFailed:    res.GateFailed,
		ResultsURI:    res.ResultsURI,
		Error:         res.Error,
	}
}
