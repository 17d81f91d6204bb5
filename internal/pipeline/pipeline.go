// Package pipeline executes the scrape-parse-validate flow for schedule
// days and runs bounded-concurrency date ranges.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/metrics"
	"github.com/JakeFAU/schedule-pipeline/internal/parser"
	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
	"github.com/JakeFAU/schedule-pipeline/internal/validator"
)

// Source defaults for the schedule site's print view.
const (
	DefaultDateParam      = "date"
	DefaultDateFormat     = "01/02/2006"
	DefaultMaxLeaguePages = 10
)

// SourceConfig describes how to reach the remote schedule site.
type SourceConfig struct {
	// BaseURL is the print-view URL including any static query
	// parameters (facility id and the like).
	BaseURL string
	// DateParam is the query parameter carrying the requested date.
	DateParam string
	// DateFormat is the Go layout for the date parameter value.
	DateFormat string
	// FollowLeagueLinks enables per-league grid follow-up fetches.
	FollowLeagueLinks bool
	// MaxLeaguePages caps follow-up fetches per day.
	MaxLeaguePages int
}

// Config controls Pipeline behavior.
type Config struct {
	Source      SourceConfig
	ContentType string
	// Headless permits promotion to the headless fetcher when the
	// detector flags a probe response as script-rendered.
	Headless bool
}

// DayRequest asks for one date to be processed.
type DayRequest struct {
	Date time.Time
	// Force bypasses the ledger short-circuit.
	Force bool
	// FromRaw re-parses stored raw pages instead of fetching.
	FromRaw bool
}

// Pipeline runs the per-day state machine: fetch, persist raw, parse,
// persist envelope, validate, mark ledger.
type Pipeline struct {
	store     schedule.ObjectStore
	ledger    schedule.Ledger
	fetcher   schedule.Fetcher
	headless  schedule.Fetcher
	detector  schedule.RenderDetector
	limiter   schedule.Limiter
	parser    *parser.Parser
	validator *validator.Validator
	hasher    schedule.Hasher
	clock     schedule.Clock
	retry     schedule.RetryPolicy
	layout    schedule.Layout
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Pipeline.
func New(
	store schedule.ObjectStore,
	ledger schedule.Ledger,
	probe schedule.Fetcher,
	headless schedule.Fetcher,
	detector schedule.RenderDetector,
	limiter schedule.Limiter,
	parse *parser.Parser,
	validate *validator.Validator,
	hasher schedule.Hasher,
	clock schedule.Clock,
	retry schedule.RetryPolicy,
	layout schedule.Layout,
	cfg Config,
	logger *zap.Logger,
) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if probe == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if parse == nil {
		return nil, fmt.Errorf("parser is required")
	}
	if validate == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.Source.DateParam == "" {
		cfg.Source.DateParam = DefaultDateParam
	}
	if cfg.Source.DateFormat == "" {
		cfg.Source.DateFormat = DefaultDateFormat
	}
	if cfg.Source.MaxLeaguePages <= 0 {
		cfg.Source.MaxLeaguePages = DefaultMaxLeaguePages
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:     store,
		ledger:    ledger,
		fetcher:   probe,
		headless:  headless,
		detector:  detector,
		limiter:   limiter,
		parser:    parse,
		validator: validate,
		hasher:    hasher,
		clock:     clock,
		retry:     retry,
		layout:    layout,
		cfg:       cfg,
		logger:    logger.Named("pipeline"),
	}, nil
}

// PageURL returns the print-view URL for the date.
func (p *Pipeline) PageURL(date time.Time) (string, error) {
	base, err := url.Parse(p.cfg.Source.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := base.Query()
	q.Set(p.cfg.Source.DateParam, date.Format(p.cfg.Source.DateFormat))
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// ProcessDay runs the date through the day state machine and reports the
// outcome. It never panics; failures land in the outcome's Error field.
// Unless forced, a date already marked successful in the ledger is skipped.
func (p *Pipeline) ProcessDay(ctx context.Context, req DayRequest) schedule.DayOutcome {
	key := schedule.DateKey(req.Date)
	started := p.clock.Now()

	if !req.Force {
		if out, ok := p.shortCircuit(ctx, req.Date); ok {
			metrics.ObserveDay("skipped", p.clock.Now().Sub(started))
			p.logger.Info("day already scraped, skipping",
				zap.String("date", key),
				zap.Int("record_count", out.RecordCount))
			return out
		}
	}

	var out schedule.DayOutcome
	var err error
	for attempt := 0; ; attempt++ {
		out, err = p.runDay(ctx, req)
		out.Attempts = attempt + 1
		if err == nil {
			break
		}
		if p.retry == nil || !p.retry.ShouldRetry(err, attempt+1) {
			break
		}
		metrics.ObserveFetchRetry()
		p.logger.Warn("day attempt failed, retrying",
			zap.String("date", key),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if !sleepWithContext(ctx, p.retry.Backoff(attempt)) {
			break
		}
	}

	duration := p.clock.Now().Sub(started)
	if err != nil {
		out.Date = key
		out.Success = false
		out.Error = err.Error()
		p.markFailure(ctx, key)
		metrics.ObserveDay("failed", duration)
		p.logger.Error("day pipeline failed",
			zap.String("date", key),
			zap.Int("attempts", out.Attempts),
			zap.Error(err))
		return out
	}

	metrics.ObserveDay("succeeded", duration)
	p.logger.Info("day pipeline finished",
		zap.String("date", key),
		zap.Int("record_count", out.RecordCount),
		zap.Int("attempts", out.Attempts),
		zap.Duration("duration", duration))
	return out
}

// shortCircuit consults the ledger. A lookup failure is logged and treated
// as not scraped so transient ledger trouble never blocks a scrape.
func (p *Pipeline) shortCircuit(ctx context.Context, date time.Time) (schedule.DayOutcome, bool) {
	key := schedule.DateKey(date)
	rec, err := p.ledger.Lookup(ctx, date)
	if err != nil {
		if !errors.Is(err, schedule.ErrNotFound) {
			p.logger.Warn("ledger lookup failed, proceeding with scrape",
				zap.String("date", key), zap.Error(err))
		}
		return schedule.DayOutcome{}, false
	}
	if !rec.Success {
		return schedule.DayOutcome{}, false
	}
	return schedule.DayOutcome{
		Date:        key,
		Success:     true,
		Skipped:     true,
		RecordCount: rec.RecordCount,
	}, true
}

// runDay is a single attempt at the full day flow.
func (p *Pipeline) runDay(ctx context.Context, req DayRequest) (schedule.DayOutcome, error) {
	date := req.Date
	key := schedule.DateKey(date)
	out := schedule.DayOutcome{Date: key}

	raw, err := p.dayPage(ctx, date, req.FromRaw)
	if err != nil {
		return out, err
	}

	digest, err := p.hasher.Hash(raw)
	if err != nil {
		return out, fmt.Errorf("hash raw page: %w", err)
	}
	out.RawDigest = digest

	day, err := p.parser.ParseDay(date, raw)
	if err != nil {
		return out, fmt.Errorf("parse day %s: %w", key, err)
	}

	games := day.Games
	if day.GamesFound && p.cfg.Source.FollowLeagueLinks && len(day.Leagues) > 0 {
		games = p.mergeLeagueGames(ctx, date, games, day.Leagues, req.FromRaw)
	}

	env := schedule.DayEnvelope{
		Date:         key,
		SourceDigest: digest,
		GamesFound:   day.GamesFound,
		GamesCount:   len(games),
		Games:        games,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return out, fmt.Errorf("encode day envelope %s: %w", key, err)
	}
	if _, err := p.store.PutObject(ctx, p.layout.DayEnvelope(date), "application/json", payload); err != nil {
		return out, fmt.Errorf("persist day envelope %s: %w", key, err)
	}

	result, err := p.validator.ValidateDay(ctx, date)
	if err != nil {
		return out, fmt.Errorf("validate day %s: %w", key, err)
	}
	metrics.ObserveGamesParsed(len(games))
	metrics.ObserveRecordsInvalid(len(result.Invalid))

	rec := schedule.ScrapeRecord{
		Date:        key,
		Success:     true,
		RecordCount: len(games),
		Timestamp:   p.clock.Now().UTC(),
	}
	if err := p.ledger.Mark(ctx, rec); err != nil {
		return out, fmt.Errorf("mark ledger %s: %w", key, err)
	}

	out.Success = true
	out.RecordCount = len(games)
	return out, nil
}

// dayPage returns the aggregate page HTML for the date. In from-raw mode the
// stored copy is read back; otherwise the page is fetched and persisted
// before any parsing happens.
func (p *Pipeline) dayPage(ctx context.Context, date time.Time, fromRaw bool) ([]byte, error) {
	key := schedule.DateKey(date)
	if fromRaw {
		data, err := p.store.GetObject(ctx, p.layout.RawPage(date))
		if err != nil {
			return nil, fmt.Errorf("read stored page %s: %w", key, err)
		}
		return data, nil
	}

	pageURL, err := p.PageURL(date)
	if err != nil {
		return nil, err
	}
	resp, err := p.fetchPage(ctx, date, pageURL)
	if err != nil {
		return nil, err
	}
	if _, err := p.store.PutObject(ctx, p.layout.RawPage(date), p.cfg.ContentType, resp.Body); err != nil {
		return nil, fmt.Errorf("persist raw page %s: %w", key, err)
	}
	return resp.Body, nil
}

// fetchPage waits on the rate limiter, fetches the URL, and promotes to the
// headless fetcher when the probe response looks script-rendered.
func (p *Pipeline) fetchPage(ctx context.Context, date time.Time, pageURL string) (schedule.FetchResponse, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, pageURL); err != nil {
			return schedule.FetchResponse{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	resp, err := p.fetcher.Fetch(ctx, schedule.FetchRequest{Date: date, URL: pageURL})
	if err != nil {
		metrics.ObserveFetch(pageURL, "error", 0)
		return schedule.FetchResponse{}, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	metrics.ObserveFetch(pageURL, strconv.Itoa(resp.StatusCode), len(resp.Body))
	if resp.StatusCode >= 400 {
		return schedule.FetchResponse{}, fmt.Errorf("fetch %s: %w", pageURL, &schedule.StatusError{Code: resp.StatusCode})
	}

	if promoted, ok := p.maybePromote(ctx, date, pageURL, resp); ok {
		p.logger.Info("headless promotion applied",
			zap.String("date", schedule.DateKey(date)),
			zap.String("url", pageURL))
		return promoted, nil
	}
	return resp, nil
}

func (p *Pipeline) maybePromote(ctx context.Context, date time.Time, pageURL string, resp schedule.FetchResponse) (schedule.FetchResponse, bool) {
	if !p.cfg.Headless || p.detector == nil || p.headless == nil {
		return resp, false
	}
	if !p.detector.ShouldPromote(resp) {
		return resp, false
	}

	headlessResp, err := p.headless.Fetch(ctx, schedule.FetchRequest{
		Date:        date,
		URL:         pageURL,
		UseHeadless: true,
	})
	if err != nil {
		p.logger.Warn("headless promotion failed",
			zap.String("url", pageURL), zap.Error(err))
		return resp, false
	}
	metrics.ObserveFetch(pageURL, strconv.Itoa(headlessResp.StatusCode), len(headlessResp.Body))
	headlessResp.UsedHeadless = true
	return headlessResp, true
}

// mergeLeagueGames fetches each discovered league grid (bounded by the
// configured budget), persists the raw copy, and merges records for the
// target date. League failures degrade to the aggregate records; they never
// fail the day.
func (p *Pipeline) mergeLeagueGames(ctx context.Context, date time.Time, games []schedule.GameRecord, leagues []schedule.LeagueRef, fromRaw bool) []schedule.GameRecord {
	key := schedule.DateKey(date)
	seen := make(map[string]bool, len(games))
	for _, g := range games {
		seen[gameKey(g)] = true
	}

	for i, ref := range leagues {
		if i >= p.cfg.Source.MaxLeaguePages {
			p.logger.Warn("league page budget exhausted",
				zap.String("date", key),
				zap.Int("limit", p.cfg.Source.MaxLeaguePages),
				zap.Int("leagues", len(leagues)))
			break
		}

		body, err := p.leaguePage(ctx, date, ref, fromRaw)
		if err != nil {
			p.logger.Warn("league page unavailable",
				zap.String("date", key),
				zap.String("league", ref.Name),
				zap.Error(err))
			continue
		}
		recs, err := p.parser.ParseLeague(ref.Name, body)
		if err != nil {
			p.logger.Warn("league page unparsable",
				zap.String("date", key),
				zap.String("league", ref.Name),
				zap.Error(err))
			continue
		}

		added := 0
		for _, rec := range recs {
			// League grids span many dates; keep only the target day.
			if rec.Date != key {
				continue
			}
			k := gameKey(rec)
			if seen[k] {
				continue
			}
			seen[k] = true
			games = append(games, rec)
			added++
		}
		p.logger.Debug("league grid merged",
			zap.String("date", key),
			zap.String("league", ref.Name),
			zap.Int("added", added))
	}
	return games
}

func (p *Pipeline) leaguePage(ctx context.Context, date time.Time, ref schedule.LeagueRef, fromRaw bool) ([]byte, error) {
	if fromRaw {
		return p.store.GetObject(ctx, p.layout.RawLeaguePage(date, ref.ID))
	}

	leagueURL, err := p.resolveURL(ref.URL)
	if err != nil {
		return nil, fmt.Errorf("resolve league url: %w", err)
	}
	resp, err := p.fetchPage(ctx, date, leagueURL)
	if err != nil {
		return nil, err
	}
	if _, err := p.store.PutObject(ctx, p.layout.RawLeaguePage(date, ref.ID), p.cfg.ContentType, resp.Body); err != nil {
		return nil, fmt.Errorf("persist league page: %w", err)
	}
	return resp.Body, nil
}

// resolveURL absolutizes league hrefs against the configured base URL.
func (p *Pipeline) resolveURL(href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(p.cfg.Source.BaseURL)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// markFailure records the failed attempt so the ledger shows history.
// Failed entries never satisfy the short-circuit check.
func (p *Pipeline) markFailure(ctx context.Context, key string) {
	rec := schedule.ScrapeRecord{
		Date:      key,
		Success:   false,
		Timestamp: p.clock.Now().UTC(),
	}
	if err := p.ledger.Mark(ctx, rec); err != nil {
		p.logger.Warn("ledger failure mark failed",
			zap.String("date", key), zap.Error(err))
	}
}

func gameKey(rec schedule.GameRecord) string {
	return rec.Date + "|" + rec.League + "|" + rec.HomeTeam + "|" + rec.AwayTeam
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
