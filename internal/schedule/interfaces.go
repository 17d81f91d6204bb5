package schedule

import (
	"context"
	"time"
)

// Ledger is the idempotency source of truth: a durable map from date to its
// ScrapeRecord. Writes must be atomic per key; concurrent writers on
// different dates never corrupt each other.
type Ledger interface {
	IsScraped(ctx context.Context, date time.Time) (bool, error)
	Lookup(ctx context.Context, date time.Time) (ScrapeRecord, error)
	Mark(ctx context.Context, rec ScrapeRecord) error
}

// ObjectStore is the durable keyed store for raw pages, day envelopes,
// ledger entries, results descriptors, and reports. GetObject returns
// ErrNotFound (possibly wrapped) for absent keys.
type ObjectStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
	ListPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Fetcher retrieves one page from the remote schedule source.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// RenderDetector decides whether a headless re-fetch is warranted.
type RenderDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Limiter throttles outbound fetches per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// ExecutionClient starts and inspects child executions on the
// step-orchestration service.
type ExecutionClient interface {
	StartExecution(ctx context.Context, name string, input WorkItem) (ExecutionHandle, error)
	DescribeExecution(ctx context.Context, id string) (ExecutionHandle, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for change detection across re-scrapes.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and execution IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// RetryPolicy governs day-pipeline retries on stage failures.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}
