package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/hash/sha256"
	ledgermem "github.com/JakeFAU/schedule-pipeline/internal/ledger/memory"
	"github.com/JakeFAU/schedule-pipeline/internal/metrics"
	"github.com/JakeFAU/schedule-pipeline/internal/parser"
	"github.com/JakeFAU/schedule-pipeline/internal/pipeline"
	"github.com/JakeFAU/schedule-pipeline/internal/progress"
	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
	storagemem "github.com/JakeFAU/schedule-pipeline/internal/storage/memory"
	"github.com/JakeFAU/schedule-pipeline/internal/splitter"
	"github.com/JakeFAU/schedule-pipeline/internal/validator"
)

const (
	testRunID    = "0195c7a3-58e1-7001-8000-000000000001"
	testParentID = "0195c7a3-58e1-7001-8000-000000000002"
)

const dayGrid = `<html><body>
<table id="ctl00_c_Schedule1_GridView1">
  <tr><th>League</th><th>Home</th><th>Score</th><th>Away</th><th>Status</th><th>Venue</th><th>Officials</th></tr>
  <tr>
    <td><a href="league.aspx?league_id=101">Coed Rec</a></td>
    <td><a href="/team/1">Rovers</a></td>
    <td><span>v</span></td>
    <td><a href="/team/2">United</a></td>
    <td><a href="/game/1">7:00 PM</a></td>
    <td><a href="/venue/2">Field 2</a></td>
    <td></td>
  </tr>
</table>
</body></html>`

const noGridPage = `<html><body><p>No games scheduled.</p></body></html>`

type orchestratorEnv struct {
	store   *storagemem.ObjectStore
	ledger  *ledgermem.Ledger
	fetcher *fakeFetcher
	client  *fakeExecClient
	emitter *collectEmitter
	layout  schedule.Layout
}

func newOrchestrator(t *testing.T, opts ...func(*orchestratorEnv)) (*Orchestrator, *orchestratorEnv) {
	t.Helper()
	metrics.Init()

	env := &orchestratorEnv{
		store:   storagemem.NewObjectStore(),
		ledger:  ledgermem.New(),
		fetcher: &fakeFetcher{fallback: []byte(dayGrid)},
		client:  &fakeExecClient{},
		emitter: &collectEmitter{},
		layout:  schedule.Layout{Prefix: "data"},
	}
	for _, opt := range opts {
		opt(env)
	}

	logger := zap.NewNop()
	v, err := validator.New(env.store, env.layout, validator.Config{}, logger)
	require.NoError(t, err)

	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	pipe, err := pipeline.New(
		env.store,
		env.ledger,
		env.fetcher,
		nil,
		nil,
		nil,
		parser.New(parser.Config{}, logger),
		v,
		sha256.New(),
		clk,
		schedule.NewExponentialRetryPolicy(1),
		env.layout,
		pipeline.Config{Source: pipeline.SourceConfig{BaseURL: "https://fields.example.com/print.aspx?facility_id=690"}},
		logger,
	)
	require.NoError(t, err)

	run, err := pipeline.NewRunner(
		pipe, v, env.store,
		staticIDs{id: testRunID},
		clk,
		env.emitter,
		env.layout,
		pipeline.RunnerConfig{Workers: 2},
		logger,
	)
	require.NoError(t, err)

	var execClient schedule.ExecutionClient
	if env.client != nil {
		execClient = env.client
	}
	dispatch := splitter.NewDispatcher(execClient, staticIDs{id: testParentID}, logger)

	o, err := New(pipe, run, dispatch, v, staticIDs{id: testParentID}, clk, env.emitter, Config{}, logger)
	require.NoError(t, err)
	return o, env
}

func TestOrchestratorDayMode(t *testing.T) {
	t.Parallel()

	o, env := newOrchestrator(t)
	res := o.Run(context.Background(), Invocation{Mode: ModeDay, Year: 2023, Month: 2, Day: 14})

	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, ModeDay, res.Mode)
	assert.Equal(t, 1, res.TotalDays)
	assert.Equal(t, 1, res.ProcessedDays)
	assert.Empty(t, res.MissingDays)
	assert.Empty(t, res.Executions)

	date, _ := schedule.ParseDate("2023-02-14")
	exists, err := env.store.Exists(context.Background(), env.layout.DayEnvelope(date))
	require.NoError(t, err)
	assert.True(t, exists)

	require.Len(t, env.fetcher.requests, 1)
	assert.Contains(t, env.fetcher.requests[0], "date=02%2F14%2F2023")
}

func TestOrchestratorDayModeFailure(t *testing.T) {
	t.Parallel()

	o, _ := newOrchestrator(t, func(env *orchestratorEnv) {
		env.fetcher = &fakeFetcher{err: errors.New("connection refused")}
	})
	res := o.Run(context.Background(), Invocation{Mode: ModeDay, Year: 2023, Month: 2, Day: 14})

	require.False(t, res.Success)
	assert.Equal(t, 0, res.ProcessedDays)
	assert.Equal(t, []string{"2023-02-14"}, res.MissingDays)
	assert.Contains(t, res.Error, "connection refused")
}

func TestOrchestratorDayModeHonorsLedger(t *testing.T) {
	t.Parallel()

	date, _ := schedule.ParseDate("2023-02-14")
	o, env := newOrchestrator(t)
	require.NoError(t, env.ledger.Mark(context.Background(), schedule.ScrapeRecord{
		Date:        "2023-02-14",
		Success:     true,
		RecordCount: 4,
		Timestamp:   time.Now().UTC(),
	}))

	res := o.Run(context.Background(), Invocation{Mode: ModeDay, Year: 2023, Month: 2, Day: 14})
	require.True(t, res.Success)
	assert.Equal(t, 1, res.ProcessedDays)
	assert.Empty(t, env.fetcher.requests, "already-scraped day fetches nothing")

	res = o.Run(context.Background(), Invocation{Mode: ModeDay, Year: 2023, Month: 2, Day: 14, ForceScrape: true})
	require.True(t, res.Success, "error: %s", res.Error)
	require.Len(t, env.fetcher.requests, 1)

	rec, err := env.ledger.Lookup(context.Background(), date)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.RecordCount, "force re-scrape overwrote the ledger entry")
}

func TestOrchestratorRangeDirect(t *testing.T) {
	t.Parallel()

	o, env := newOrchestrator(t)
	res := o.Run(context.Background(), Invocation{
		Mode:      ModeRange,
		StartDate: "2023-01-15",
		EndDate:   "2023-01-17",
		BatchSize: 2,
	})

	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, ModeRange, res.Mode)
	assert.Equal(t, testRunID, res.RunID)
	assert.Equal(t, 3, res.TotalDays)
	assert.Equal(t, 3, res.ProcessedDays)
	assert.Empty(t, res.MissingDays)
	assert.Contains(t, res.ResultsURI, "results/"+testRunID)
	assert.Empty(t, res.Executions)
	assert.Empty(t, env.client.inputs, "small range never dispatches children")
	assert.Equal(t, 1, env.emitter.count(progress.StageRangeStart))
	assert.Equal(t, 1, env.emitter.count(progress.StageRangeDone))
}

func TestOrchestratorRangeFanOut(t *testing.T) {
	t.Parallel()

	o, env := newOrchestrator(t)
	res := o.Run(context.Background(), Invocation{
		Mode:         ModeRange,
		StartDate:    "2023-01-01",
		EndDate:      "2023-01-08",
		MaxChunkDays: 3,
	})

	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, 8, res.TotalDays)
	assert.Equal(t, 0, res.ProcessedDays)
	assert.Empty(t, res.MissingDays)
	require.Len(t, res.Executions, 3)
	assert.Equal(t, "exec-1", res.Executions[0].ID)

	require.Len(t, env.client.inputs, 3)
	assert.True(t, strings.HasPrefix(env.client.names[0], "range-2023-01-01-2023-01-03-"), "got %q", env.client.names[0])
	first, last := env.client.inputs[0], env.client.inputs[2]
	assert.Equal(t, "2023-01-01", first.StartDate)
	assert.Equal(t, "2023-01-03", first.EndDate)
	assert.Equal(t, "2023-01-07", last.StartDate)
	assert.Equal(t, "2023-01-08", last.EndDate)
	for _, child := range env.client.inputs {
		assert.True(t, child.IsSubExecution)
		assert.Equal(t, testParentID, child.ParentExecutionID)
	}

	assert.Empty(t, env.fetcher.requests, "fan-out dispatches without scraping locally")
	assert.Equal(t, 3, env.emitter.count(progress.StageDispatch))
	assert.Equal(t, "exec-1", env.emitter.events[0].Note)
}

func TestOrchestratorFanOutKeepsParentReference(t *testing.T) {
	t.Parallel()

	o, env := newOrchestrator(t)
	res := o.Run(context.Background(), Invocation{
		Mode:              ModeRange,
		StartDate:         "2023-01-01",
		EndDate:           "2023-01-08",
		MaxChunkDays:      4,
		IsSubExecution:    true,
		ParentExecutionID: "exec-root",
	})

	require.True(t, res.Success, "error: %s", res.Error)
	require.Len(t, env.client.inputs, 2)
	for _, child := range env.client.inputs {
		assert.Equal(t, "exec-root", child.ParentExecutionID)
	}
}

func TestOrchestratorFanOutPartialDispatchFailure(t *testing.T) {
	t.Parallel()

	o, env := newOrchestrator(t, func(env *orchestratorEnv) {
		env.client = &fakeExecClient{errOn: 2}
	})
	res := o.Run(context.Background(), Invocation{
		Mode:         ModeRange,
		StartDate:    "2023-01-01",
		EndDate:      "2023-01-08",
		MaxChunkDays: 3,
	})

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "start refused")
	assert.Contains(t, res.Error, "range-2023-01-04")
	require.Len(t, res.Executions, 2, "siblings still launch around the failed child")
	assert.Equal(t, 2, env.emitter.count(progress.StageDispatch))
}

func TestOrchestratorFanOutWithoutTarget(t *testing.T) {
	t.Parallel()

	o, _ := newOrchestrator(t, func(env *orchestratorEnv) {
		env.client = nil
	})
	res := o.Run(context.Background(), Invocation{
		Mode:         ModeRange,
		StartDate:    "2023-01-01",
		EndDate:      "2023-01-08",
		MaxChunkDays: 3,
	})

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "execution target not configured")
	assert.Empty(t, res.Executions)
}

func TestOrchestratorClampsBatchSize(t *testing.T) {
	t.Parallel()

	o, env := newOrchestrator(t)
	res := o.Run(context.Background(), Invocation{
		Mode:         ModeRange,
		StartDate:    "2023-01-01",
		EndDate:      "2023-01-08",
		MaxChunkDays: 3,
		BatchSize:    50,
	})
	require.True(t, res.Success, "error: %s", res.Error)
	require.NotEmpty(t, env.client.inputs)
	assert.Equal(t, DefaultMaxBatchSize, env.client.inputs[0].BatchSize)

	o, env = newOrchestrator(t)
	res = o.Run(context.Background(), Invocation{
		Mode:         ModeRange,
		StartDate:    "2023-01-01",
		EndDate:      "2023-01-08",
		MaxChunkDays: 3,
	})
	require.True(t, res.Success, "error: %s", res.Error)
	require.NotEmpty(t, env.client.inputs)
	assert.Equal(t, 3, env.client.inputs[0].BatchSize, "unset batch size falls back to the planner default")
}

func TestOrchestratorMonthMode(t *testing.T) {
	t.Parallel()

	o, env := newOrchestrator(t)
	res := o.Run(context.Background(), Invocation{Mode: ModeMonth, Year: 2023, Month: 2})

	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, ModeMonth, res.Mode)
	assert.Equal(t, 28, res.TotalDays)
	assert.Equal(t, 28, res.ProcessedDays)
	assert.Empty(t, res.MissingDays)

	require.NotNil(t, res.Report)
	assert.Equal(t, 2023, res.Report.Year)
	assert.Equal(t, 2, res.Report.Month)
	assert.Equal(t, 28, res.Report.TotalDays)
	assert.Equal(t, 28, res.Report.Validated)
	assert.Equal(t, 28, res.Report.TotalGames)
	assert.InDelta(t, 0.0, res.Report.ErrorRate, 1e-9)

	exists, err := env.store.Exists(context.Background(), env.layout.MonthReport(2023, time.February))
	require.NoError(t, err)
	assert.True(t, exists, "month report persisted")
}

func TestOrchestratorMonthModeGateFailure(t *testing.T) {
	t.Parallel()

	o, _ := newOrchestrator(t, func(env *orchestratorEnv) {
		env.fetcher = &fakeFetcher{fallback: []byte(noGridPage)}
	})
	res := o.Run(context.Background(), Invocation{Mode: ModeMonth, Year: 2023, Month: 2})

	require.False(t, res.Success)
	assert.True(t, res.GateFailed)
	assert.InDelta(t, 1.0, res.ErrorRate, 1e-9)
	assert.Equal(t, 28, res.ProcessedDays, "zero-game days still process")

	// The report is still written and records the empty month.
	require.NotNil(t, res.Report)
	assert.Equal(t, 0, res.Report.TotalGames)
	assert.InDelta(t, 1.0, res.Report.ErrorRate, 1e-9)
}

func TestOrchestratorRejectsInvalidInvocations(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		inv  Invocation
		want string
	}{
		{"missing mode", Invocation{}, "mode is required"},
		{"unknown mode", Invocation{Mode: "week"}, `unknown mode "week"`},
		{"day out of range", Invocation{Mode: ModeDay, Year: 2023, Month: 2, Day: 42}, "day 42 out of range"},
		{"impossible date", Invocation{Mode: ModeDay, Year: 2023, Month: 2, Day: 30}, "invalid date 2023-02-30"},
		{"month out of range", Invocation{Mode: ModeMonth, Year: 2023, Month: 13}, "month 13 out of range"},
		{"range missing end", Invocation{Mode: ModeRange, StartDate: "2023-01-01"}, "requires start_date and end_date"},
		{"range reversed", Invocation{Mode: ModeRange, StartDate: "2023-02-01", EndDate: "2023-01-01"}, "is after end_date"},
		{"range bad date", Invocation{Mode: ModeRange, StartDate: "01/15/2023", EndDate: "2023-01-20"}, "start_date"},
	}

	o, env := newOrchestrator(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := o.Run(context.Background(), tc.inv)
			require.False(t, res.Success)
			assert.Contains(t, res.Error, tc.want)
			assert.Empty(t, res.MissingDays)
		})
	}
	assert.Empty(t, env.fetcher.requests, "invalid invocations never reach the fetch stage")
}

func TestOrchestratorRecoversPanic(t *testing.T) {
	t.Parallel()

	o, _ := newOrchestrator(t)
	o.emitter = panicEmitter{}

	res := o.Run(context.Background(), Invocation{
		Mode:         ModeRange,
		StartDate:    "2023-01-01",
		EndDate:      "2023-01-08",
		MaxChunkDays: 3,
	})

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "internal error")
	assert.Contains(t, res.Error, "emitter exploded")
}

func TestParseInvocationTargets(t *testing.T) {
	t.Parallel()

	target, err := ParseInvocation(Invocation{Mode: ModeDay, Year: 2023, Month: 2, Day: 14})
	require.NoError(t, err)
	day, ok := target.(DayTarget)
	require.True(t, ok)
	assert.Equal(t, ModeDay, target.Kind())
	assert.Equal(t, time.Date(2023, time.February, 14, 0, 0, 0, 0, time.UTC), day.Date)

	target, err = ParseInvocation(Invocation{Mode: ModeRange, StartDate: "2023-01-01", EndDate: "2023-03-31"})
	require.NoError(t, err)
	rng, ok := target.(RangeTarget)
	require.True(t, ok)
	assert.Equal(t, ModeRange, target.Kind())
	assert.Equal(t, "2023-01-01", schedule.DateKey(rng.Start))
	assert.Equal(t, "2023-03-31", schedule.DateKey(rng.End))

	target, err = ParseInvocation(Invocation{Mode: ModeMonth, Year: 2024, Month: 2})
	require.NoError(t, err)
	month, ok := target.(MonthTarget)
	require.True(t, ok)
	assert.Equal(t, ModeMonth, target.Kind())
	assert.Equal(t, 2024, month.Year)
	assert.Equal(t, time.February, month.Month)

	// A single-day range is still a range.
	target, err = ParseInvocation(Invocation{Mode: ModeRange, StartDate: "2023-01-01", EndDate: "2023-01-01"})
	require.NoError(t, err)
	assert.Equal(t, ModeRange, target.Kind())
}

// --- fakes ---

type fakeFetcher struct {
	mu       sync.Mutex
	fallback []byte
	err      error
	requests []string
}

func (f *fakeFetcher) Fetch(_ context.Context, req schedule.FetchRequest) (schedule.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req.URL)
	if f.err != nil {
		return schedule.FetchResponse{}, f.err
	}
	return schedule.FetchResponse{
		URL:        req.URL,
		StatusCode: 200,
		Body:       f.fallback,
		Duration:   5 * time.Millisecond,
	}, nil
}

type fakeExecClient struct {
	mu     sync.Mutex
	inputs []schedule.WorkItem
	names  []string
	errOn  int
}

func (c *fakeExecClient) StartExecution(_ context.Context, name string, input schedule.WorkItem) (schedule.ExecutionHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call := len(c.inputs) + 1
	c.inputs = append(c.inputs, input)
	c.names = append(c.names, name)
	if c.errOn != 0 && call == c.errOn {
		return schedule.ExecutionHandle{}, errors.New("start refused")
	}
	return schedule.ExecutionHandle{
		ID:        fmt.Sprintf("exec-%d", call),
		Name:      name,
		StartDate: input.StartDate,
		EndDate:   input.EndDate,
		Status:    schedule.ExecutionRunning,
		StartedAt: time.Unix(1700000000, 0),
	}, nil
}

func (c *fakeExecClient) DescribeExecution(_ context.Context, id string) (schedule.ExecutionHandle, error) {
	return schedule.ExecutionHandle{ID: id, Status: schedule.ExecutionRunning}, nil
}

type collectEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *collectEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *collectEmitter) count(stage progress.Stage) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, evt := range c.events {
		if evt.Stage == stage {
			n++
		}
	}
	return n
}

type panicEmitter struct{}

func (panicEmitter) Emit(progress.Event) {
	panic("emitter exploded")
}

type staticIDs struct {
	id string
}

func (s staticIDs) NewID() (string, error) {
	return s.id, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}
