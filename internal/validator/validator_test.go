package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
	"github.com/JakeFAU/schedule-pipeline/internal/storage/memory"
)

func newTestValidator(t *testing.T) (*Validator, *memory.ObjectStore, schedule.Layout) {
	t.Helper()
	store := memory.NewObjectStore()
	layout := schedule.Layout{Prefix: "data"}
	v, err := New(store, layout, Config{}, nil)
	require.NoError(t, err)
	return v, store, layout
}

func conformingGame(date string) schedule.GameRecord {
	return schedule.GameRecord{
		Date:     date,
		League:   "Coed Rec",
		HomeTeam: "Rovers",
		AwayTeam: "United",
		Venue:    "Field 2",
	}
}

func putEnvelope(t *testing.T, store *memory.ObjectStore, layout schedule.Layout, date string, games []schedule.GameRecord) {
	t.Helper()
	d, err := schedule.ParseDate(date)
	require.NoError(t, err)
	env := schedule.DayEnvelope{
		Date:       date,
		GamesFound: len(games) > 0,
		GamesCount: len(games),
		Games:      games,
	}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), layout.DayEnvelope(d), "application/json", data)
	require.NoError(t, err)
}

func TestValidateRecordConforming(t *testing.T) {
	t.Parallel()

	v, _, _ := newTestValidator(t)
	assert.Empty(t, v.ValidateRecord(conformingGame("2023-01-15")))
}

func TestValidateRecordViolations(t *testing.T) {
	t.Parallel()

	v, _, _ := newTestValidator(t)

	t.Run("MissingRequiredField", func(t *testing.T) {
		rec := conformingGame("2023-01-15")
		rec.League = ""
		errs := v.ValidateRecord(rec)
		require.Len(t, errs, 1)
		assert.Equal(t, "missing required field: league", errs[0])
	})

	t.Run("BadDate", func(t *testing.T) {
		rec := conformingGame("01/15/2023")
		errs := v.ValidateRecord(rec)
		assert.Contains(t, errs, "invalid date format")
	})

	t.Run("SameTeams", func(t *testing.T) {
		rec := conformingGame("2023-01-15")
		rec.AwayTeam = rec.HomeTeam
		errs := v.ValidateRecord(rec)
		assert.Contains(t, errs, "home team and away team are the same")
	})

	t.Run("VenuePrefix", func(t *testing.T) {
		rec := conformingGame("2023-01-15")
		rec.Venue = "Court 9"
		errs := v.ValidateRecord(rec)
		assert.Contains(t, errs, "invalid venue format")
	})

	t.Run("EmptyRecordCollectsMany", func(t *testing.T) {
		errs := v.ValidateRecord(schedule.GameRecord{})
		assert.GreaterOrEqual(t, len(errs), 5)
	})
}

func TestValidateRecordVenuePrefixConfigurable(t *testing.T) {
	t.Parallel()

	store := memory.NewObjectStore()
	v, err := New(store, schedule.Layout{}, Config{VenuePrefix: "Court"}, nil)
	require.NoError(t, err)

	rec := conformingGame("2023-01-15")
	rec.Venue = "Court 9"
	assert.Empty(t, v.ValidateRecord(rec))
}

func TestValidateDayMissing(t *testing.T) {
	t.Parallel()

	v, _, _ := newTestValidator(t)
	date, _ := schedule.ParseDate("2023-01-15")

	result, err := v.ValidateDay(context.Background(), date)
	require.NoError(t, err)
	assert.Equal(t, schedule.DayMissing, result.Status)
	assert.Zero(t, result.Total)
}

func TestValidateDayInvalidFormat(t *testing.T) {
	t.Parallel()

	v, store, layout := newTestValidator(t)
	date, _ := schedule.ParseDate("2023-01-15")
	_, err := store.PutObject(context.Background(), layout.DayEnvelope(date), "application/json", []byte("{not json"))
	require.NoError(t, err)

	result, err := v.ValidateDay(context.Background(), date)
	require.NoError(t, err)
	assert.Equal(t, schedule.DayInvalidFormat, result.Status)
}

func TestValidateDayPartitionsAndPersists(t *testing.T) {
	t.Parallel()

	v, store, layout := newTestValidator(t)
	bad := conformingGame("2023-01-15")
	bad.Venue = "Gym A"
	putEnvelope(t, store, layout, "2023-01-15", []schedule.GameRecord{
		conformingGame("2023-01-15"),
		bad,
		conformingGame("2023-01-15"),
	})

	date, _ := schedule.ParseDate("2023-01-15")
	result, err := v.ValidateDay(context.Background(), date)
	require.NoError(t, err)
	assert.Equal(t, schedule.DayValidated, result.Status)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Valid)
	require.Len(t, result.Invalid, 1)
	assert.Equal(t, 1, result.Invalid[0].Index)

	data, err := store.GetObject(context.Background(), layout.ValidGames(date))
	require.NoError(t, err)
	var persisted []schedule.GameRecord
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Len(t, persisted, 2)
}

func TestValidateDayAllInvalidWritesNothing(t *testing.T) {
	t.Parallel()

	v, store, layout := newTestValidator(t)
	bad := conformingGame("2023-01-15")
	bad.HomeTeam = ""
	putEnvelope(t, store, layout, "2023-01-15", []schedule.GameRecord{bad})

	date, _ := schedule.ParseDate("2023-01-15")
	result, err := v.ValidateDay(context.Background(), date)
	require.NoError(t, err)
	assert.Zero(t, result.Valid)

	ok, err := store.Exists(context.Background(), layout.ValidGames(date))
	require.NoError(t, err)
	assert.False(t, ok, "empty valid subset must not be written")
}

func TestValidateRangeGate(t *testing.T) {
	t.Parallel()

	buildRange := func(t *testing.T, invalid int) (*Validator, []time.Time) {
		t.Helper()
		v, store, layout := newTestValidator(t)
		games := make([]schedule.GameRecord, 0, 100)
		for i := 0; i < 100; i++ {
			g := conformingGame("2023-01-15")
			g.HomeTeam = fmt.Sprintf("Home %d", i)
			if i < invalid {
				g.Venue = "Gym A"
			}
			games = append(games, g)
		}
		putEnvelope(t, store, layout, "2023-01-15", games)
		date, _ := schedule.ParseDate("2023-01-15")
		return v, []time.Time{date}
	}

	t.Run("ElevenPercentFails", func(t *testing.T) {
		t.Parallel()
		v, dates := buildRange(t, 11)
		result, err := v.ValidateRange(context.Background(), dates)
		require.NoError(t, err)
		assert.Equal(t, 100, result.TotalGames)
		assert.Equal(t, 89, result.ValidGames)
		assert.True(t, result.GateFailed)
	})

	t.Run("ExactlyTenPercentPasses", func(t *testing.T) {
		t.Parallel()
		v, dates := buildRange(t, 10)
		result, err := v.ValidateRange(context.Background(), dates)
		require.NoError(t, err)
		assert.Equal(t, 90, result.ValidGames)
		assert.False(t, result.GateFailed)
	})
}

func TestValidateRangeZeroGamesFailsLoudly(t *testing.T) {
	t.Parallel()

	v, _, _ := newTestValidator(t)
	date, _ := schedule.ParseDate("2023-01-15")

	result, err := v.ValidateRange(context.Background(), []time.Time{date})
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.ErrorRate)
	assert.True(t, result.GateFailed)
}

func TestWriteMonthReport(t *testing.T) {
	t.Parallel()

	v, store, layout := newTestValidator(t)
	days := []schedule.DayResult{
		{Date: "2023-01-01", Status: schedule.DayValidated, Total: 10, Valid: 10},
		{Date: "2023-01-02", Status: schedule.DayMissing},
		{Date: "2023-01-03", Status: schedule.DayInvalidFormat},
		{Date: "2023-01-04", Status: schedule.DayValidated, Total: 10, Valid: 8},
	}
	now := time.Unix(1700000000, 0).UTC()

	report, err := v.WriteMonthReport(context.Background(), 2023, time.January, days, now)
	require.NoError(t, err)
	assert.Equal(t, 4, report.TotalDays)
	assert.Equal(t, 2, report.Validated)
	assert.Equal(t, 1, report.Missing)
	assert.Equal(t, 1, report.InvalidFormat)
	assert.Equal(t, 20, report.TotalGames)
	assert.Equal(t, 18, report.ValidGames)
	assert.InDelta(t, 0.1, report.ErrorRate, 1e-9)
	assert.Equal(t, now, report.GeneratedAt)

	data, err := store.GetObject(context.Background(), layout.MonthReport(2023, time.January))
	require.NoError(t, err)
	var stored schedule.MonthReport
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, report, stored)
}
