// Package memory provides an in-memory lookup ledger for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

// Ledger keeps ScrapeRecords in a map guarded by a mutex.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]schedule.ScrapeRecord
}

// New creates an empty in-memory ledger.
func New() *Ledger {
	return &Ledger{
		entries: make(map[string]schedule.ScrapeRecord),
	}
}

// IsScraped reports whether the date has a successful entry.
func (l *Ledger) IsScraped(_ context.Context, date time.Time) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.entries[schedule.DateKey(date)]
	return ok && rec.Success, nil
}

// Lookup returns the date's ScrapeRecord, or schedule.ErrNotFound.
func (l *Ledger) Lookup(_ context.Context, date time.Time) (schedule.ScrapeRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.entries[schedule.DateKey(date)]
	if !ok {
		return schedule.ScrapeRecord{}, fmt.Errorf("ledger entry %s: %w", schedule.DateKey(date), schedule.ErrNotFound)
	}
	return rec, nil
}

// Mark stores the record under its date key.
func (l *Ledger) Mark(_ context.Context, rec schedule.ScrapeRecord) error {
	if rec.Date == "" {
		return fmt.Errorf("record date is required")
	}
	if _, err := schedule.ParseDate(rec.Date); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[rec.Date] = rec
	return nil
}

// Len reports how many dates have entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
