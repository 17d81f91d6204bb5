package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/schedule-pipeline/internal/metrics"
)

func TestWaitPacesSameHost(t *testing.T) {
	t.Parallel()
	metrics.Init()

	// 10 RPS with burst 1: the first grant is free, the second waits ~100ms.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://fields.example.com/schedule/print.aspx"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://fields.example.com/league.aspx?league_id=1"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestWaitKeepsHostsIndependent(t *testing.T) {
	t.Parallel()
	metrics.Init()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example.com/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example.com/1"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitHonorsCancellation(t *testing.T) {
	t.Parallel()
	metrics.Init()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Wait(ctx, "https://a.example.com/1"))
	cancel()

	err := l.Wait(ctx, "https://a.example.com/2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
}

func TestZeroRPSNeverBlocks(t *testing.T) {
	t.Parallel()
	metrics.Init()

	l := New(Config{})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(ctx, "https://a.example.com/"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "fields.example.com", hostOf("https://fields.example.com:8443/schedule"))
	assert.Equal(t, "unknown", hostOf("not a url at all\x7f"))
	assert.Equal(t, "unknown", hostOf(""))
}
