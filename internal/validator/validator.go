// Package validator enforces per-record business rules and aggregates
// day/range/month quality results.
package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

// Defaults preserved from the source system's quality heuristics.
const (
	DefaultErrorRateThreshold = 0.10
	DefaultVenuePrefix        = "Field"
)

// Config carries the tunable validation heuristics.
type Config struct {
	// ErrorRateThreshold fails a range when its error rate is strictly
	// above this value. Exactly at the threshold passes.
	ErrorRateThreshold float64
	// VenuePrefix is the required venue naming convention.
	VenuePrefix string
}

// RangeResult aggregates DayResults across a contiguous range.
type RangeResult struct {
	Days       []schedule.DayResult `json:"days"`
	TotalGames int                  `json:"total_games"`
	ValidGames int                  `json:"valid_games"`
	ErrorRate  float64              `json:"error_rate"`
	GateFailed bool                 `json:"gate_failed"`
}

// Validator checks parsed day envelopes against the record rules and
// persists the valid subsets.
type Validator struct {
	store  schedule.ObjectStore
	layout schedule.Layout
	cfg    Config
	logger *zap.Logger
}

// New builds a Validator, filling zero-value config fields with defaults.
func New(store schedule.ObjectStore, layout schedule.Layout, cfg Config, logger *zap.Logger) (*Validator, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = DefaultErrorRateThreshold
	}
	if cfg.VenuePrefix == "" {
		cfg.VenuePrefix = DefaultVenuePrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		store:  store,
		layout: layout,
		cfg:    cfg,
		logger: logger.Named("validator"),
	}, nil
}

// ValidateRecord returns every rule violation on the record; a conforming
// record yields nil.
func (v *Validator) ValidateRecord(rec schedule.GameRecord) []string {
	var errs []string

	required := []struct {
		name  string
		value string
	}{
		{"date", rec.Date},
		{"league", rec.League},
		{"home_team", rec.HomeTeam},
		{"away_team", rec.AwayTeam},
		{"venue", rec.Venue},
	}
	for _, f := range required {
		if f.value == "" {
			errs = append(errs, "missing required field: "+f.name)
		}
	}

	if _, err := schedule.ParseDate(rec.Date); err != nil {
		errs = append(errs, "invalid date format")
	}

	if rec.HomeTeam == rec.AwayTeam {
		errs = append(errs, "home team and away team are the same")
	}

	if rec.Venue != "" && !strings.HasPrefix(rec.Venue, v.cfg.VenuePrefix) {
		errs = append(errs, "invalid venue format")
	}

	return errs
}

// ValidateDay reads the date's day envelope, partitions its games into valid
// and invalid sets, and persists the valid subset. A missing envelope yields
// status missing and a malformed one invalid_format; neither is an error.
func (v *Validator) ValidateDay(ctx context.Context, date time.Time) (schedule.DayResult, error) {
	key := schedule.DateKey(date)
	data, err := v.store.GetObject(ctx, v.layout.DayEnvelope(date))
	if err != nil {
		if errors.Is(err, schedule.ErrNotFound) {
			return schedule.DayResult{Date: key, Status: schedule.DayMissing}, nil
		}
		return schedule.DayResult{}, fmt.Errorf("read day envelope %s: %w", key, err)
	}

	var env schedule.DayEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		v.logger.Warn("day envelope is not valid JSON", zap.String("date", key), zap.Error(err))
		return schedule.DayResult{Date: key, Status: schedule.DayInvalidFormat}, nil
	}

	result := schedule.DayResult{
		Date:   key,
		Status: schedule.DayValidated,
		Total:  len(env.Games),
	}
	var valid []schedule.GameRecord
	for i, game := range env.Games {
		if errs := v.ValidateRecord(game); len(errs) > 0 {
			result.Invalid = append(result.Invalid, schedule.RecordError{Index: i, Errors: errs})
			continue
		}
		valid = append(valid, game)
	}
	result.Valid = len(valid)

	if len(valid) > 0 {
		payload, err := json.Marshal(valid)
		if err != nil {
			return schedule.DayResult{}, fmt.Errorf("encode valid games %s: %w", key, err)
		}
		if _, err := v.store.PutObject(ctx, v.layout.ValidGames(date), "application/json", payload); err != nil {
			return schedule.DayResult{}, fmt.Errorf("persist valid games %s: %w", key, err)
		}
	}

	if len(result.Invalid) > 0 {
		v.logger.Info("day has invalid records",
			zap.String("date", key),
			zap.Int("total", result.Total),
			zap.Int("invalid", len(result.Invalid)))
	}
	return result, nil
}

// ValidateRange aggregates day results and applies the error-rate gate.
// A range with zero total games reports an error rate of 1, a deliberately
// loud signal that nothing was parsed at all.
func (v *Validator) ValidateRange(ctx context.Context, dates []time.Time) (RangeResult, error) {
	result := RangeResult{}
	for _, date := range dates {
		day, err := v.ValidateDay(ctx, date)
		if err != nil {
			return RangeResult{}, err
		}
		result.Days = append(result.Days, day)
		result.TotalGames += day.Total
		result.ValidGames += day.Valid
	}

	result.ErrorRate = 1.0
	if result.TotalGames > 0 {
		result.ErrorRate = 1.0 - float64(result.ValidGames)/float64(result.TotalGames)
	}
	result.GateFailed = result.ErrorRate > v.cfg.ErrorRateThreshold
	if result.GateFailed {
		v.logger.Warn("error rate above threshold",
			zap.Float64("error_rate", result.ErrorRate),
			zap.Float64("threshold", v.cfg.ErrorRateThreshold),
			zap.Int("total_games", result.TotalGames))
	}
	return result, nil
}

// WriteMonthReport aggregates the month's day results and persists the
// report artifact.
func (v *Validator) WriteMonthReport(ctx context.Context, year int, month time.Month, days []schedule.DayResult, now time.Time) (schedule.MonthReport, error) {
	report := schedule.MonthReport{
		Year:        year,
		Month:       int(month),
		TotalDays:   len(days),
		GeneratedAt: now.UTC(),
	}
	for _, day := range days {
		switch day.Status {
		case schedule.DayValidated:
			report.Validated++
		case schedule.DayMissing:
			report.Missing++
		case schedule.DayInvalidFormat:
			report.InvalidFormat++
		}
		report.TotalGames += day.Total
		report.ValidGames += day.Valid
	}
	report.ErrorRate = 1.0
	if report.TotalGames > 0 {
		report.ErrorRate = 1.0 - float64(report.ValidGames)/float64(report.TotalGames)
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return schedule.MonthReport{}, fmt.Errorf("encode month report: %w", err)
	}
	key := v.layout.MonthReport(year, month)
	if _, err := v.store.PutObject(ctx, key, "application/json", payload); err != nil {
		return schedule.MonthReport{}, fmt.Errorf("persist month report: %w", err)
	}
	v.logger.Info("month report written",
		zap.Int("year", year),
		zap.Int("month", int(month)),
		zap.Int("total_games", report.TotalGames))
	return report, nil
}
