package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

func TestLedgerMarkAndLookup(t *testing.T) {
	t.Parallel()

	ledger := New()
	ctx := context.Background()

	rec := schedule.ScrapeRecord{
		Date:        "2023-01-15",
		Success:     true,
		RecordCount: 3,
		Timestamp:   time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, ledger.Mark(ctx, rec))

	date, _ := schedule.ParseDate("2023-01-15")
	got, err := ledger.Lookup(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	scraped, err := ledger.IsScraped(ctx, date)
	require.NoError(t, err)
	assert.True(t, scraped)
	assert.Equal(t, 1, ledger.Len())
}

func TestLedgerConcurrentDistinctDates(t *testing.T) {
	t.Parallel()

	ledger := New()
	ctx := context.Background()
	start, _ := schedule.ParseDate("2023-01-01")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(d time.Time) {
			defer wg.Done()
			_ = ledger.Mark(ctx, schedule.ScrapeRecord{
				Date:        schedule.DateKey(d),
				Success:     true,
				RecordCount: 1,
				Timestamp:   time.Now().UTC(),
			})
		}(start.AddDate(0, 0, i))
	}
	wg.Wait()

	assert.Equal(t, 50, ledger.Len())
	for i := 0; i < 50; i++ {
		scraped, err := ledger.IsScraped(ctx, start.AddDate(0, 0, i))
		require.NoError(t, err)
		assert.True(t, scraped)
	}
}
