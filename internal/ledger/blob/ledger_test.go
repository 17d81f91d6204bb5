package blob

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
	"github.com/JakeFAU/schedule-pipeline/internal/storage/memory"
)

func TestLedgerRoundTrip(t *testing.T) {
	t.Parallel()

	store := memory.NewObjectStore()
	ledger, err := New(store, schedule.Layout{Prefix: "data"})
	require.NoError(t, err)
	ctx := context.Background()

	date, err := schedule.ParseDate("2023-01-15")
	require.NoError(t, err)

	scraped, err := ledger.IsScraped(ctx, date)
	require.NoError(t, err)
	assert.False(t, scraped)

	rec := schedule.ScrapeRecord{
		Date:        "2023-01-15",
		Success:     true,
		RecordCount: 7,
		Timestamp:   time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, ledger.Mark(ctx, rec))

	scraped, err = ledger.IsScraped(ctx, date)
	require.NoError(t, err)
	assert.True(t, scraped)

	got, err := ledger.Lookup(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	// entries land under the ledger key for the date
	raw, err := store.GetObject(ctx, "data/ledger/2023-01-15.json")
	require.NoError(t, err)
	var stored schedule.ScrapeRecord
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Equal(t, rec, stored)
}

func TestLedgerFailedDayNotScraped(t *testing.T) {
	t.Parallel()

	ledger, err := New(memory.NewObjectStore(), schedule.Layout{Prefix: "data"})
	require.NoError(t, err)
	ctx := context.Background()

	rec := schedule.ScrapeRecord{Date: "2023-01-15", Success: false, Timestamp: time.Now().UTC()}
	require.NoError(t, ledger.Mark(ctx, rec))

	date, _ := schedule.ParseDate("2023-01-15")
	scraped, err := ledger.IsScraped(ctx, date)
	require.NoError(t, err)
	assert.False(t, scraped)
}

func TestLedgerLookupMissing(t *testing.T) {
	t.Parallel()

	ledger, err := New(memory.NewObjectStore(), schedule.Layout{Prefix: "data"})
	require.NoError(t, err)

	date, _ := schedule.ParseDate("2023-01-15")
	_, err = ledger.Lookup(context.Background(), date)
	require.ErrorIs(t, err, schedule.ErrNotFound)
}

func TestLedgerMarkValidatesDate(t *testing.T) {
	t.Parallel()

	ledger, err := New(memory.NewObjectStore(), schedule.Layout{Prefix: "data"})
	require.NoError(t, err)

	assert.Error(t, ledger.Mark(context.Background(), schedule.ScrapeRecord{}))
	assert.Error(t, ledger.Mark(context.Background(), schedule.ScrapeRecord{Date: "01/15/2023"}))
}
