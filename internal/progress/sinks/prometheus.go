package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/schedule-pipeline/internal/progress"
)

// PrometheusSink exports pipeline progress metrics via Prometheus. It owns all
// collectors for ranges started/completed/running plus per-day counters.
type PrometheusSink struct {
	rangesStarted   prometheus.Counter
	rangesCompleted *prometheus.CounterVec
	rangesRunning   prometheus.Gauge
	rangeRuntime    *prometheus.HistogramVec

	daysCompleted *prometheus.CounterVec
	dayGames      prometheus.Counter
	dispatches    prometheus.Counter

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		rangesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_ranges_started_total",
			Help: "Total range runs that have started.",
		}),
		rangesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_ranges_completed_total",
			Help: "Total range runs completed partitioned by result.",
		}, []string{"result"}),
		rangesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_ranges_running",
			Help: "Current number of running range runs.",
		}),
		rangeRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_range_runtime_seconds",
			Help:    "Wall time per completed range run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"result"}),
		daysCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_days_completed_total",
			Help: "Day completions partitioned by result.",
		}, []string{"result"}),
		dayGames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_day_games_total",
			Help: "Games recorded across completed days.",
		}),
		dispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_dispatches_total",
			Help: "Child executions dispatched by the splitter.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.rangesStarted,
		s.rangesCompleted,
		s.rangesRunning,
		s.rangeRuntime,
		s.daysCompleted,
		s.dayGames,
		s.dispatches,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRangeStart, progress.StageRangeDone:
		s.handleRangeEvent(evt)
	case progress.StageDayDone:
		s.daysCompleted.WithLabelValues("success").Inc()
		if evt.Records > 0 {
			s.dayGames.Add(float64(evt.Records))
		}
	case progress.StageDayError:
		s.daysCompleted.WithLabelValues("error").Inc()
	case progress.StageDispatch:
		s.dispatches.Inc()
	}
}

func (s *PrometheusSink) handleRangeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRangeStart:
		s.rangesStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.rangesRunning.Inc()
		}
	case progress.StageRangeDone:
		result := "success"
		if evt.Note != "" {
			result = "error"
		}
		s.rangesCompleted.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.rangeRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.rangesRunning.Dec()
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
