// Package blob provides a lookup ledger stored as one object per date.
package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

// Ledger keeps one ScrapeRecord object per date in the object store. Writes
// to different dates touch different keys, so concurrent days never collide;
// a same-date force race resolves last-writer-wins at the store.
type Ledger struct {
	store  schedule.ObjectStore
	layout schedule.Layout
}

// New creates an object-store-backed ledger.
func New(store schedule.ObjectStore, layout schedule.Layout) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	return &Ledger{store: store, layout: layout}, nil
}

// IsScraped reports whether the date has a successful ledger entry.
func (l *Ledger) IsScraped(ctx context.Context, date time.Time) (bool, error) {
	rec, err := l.Lookup(ctx, date)
	if err != nil {
		if errors.Is(err, schedule.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return rec.Success, nil
}

// Lookup returns the date's ScrapeRecord, or schedule.ErrNotFound.
func (l *Ledger) Lookup(ctx context.Context, date time.Time) (schedule.ScrapeRecord, error) {
	data, err := l.store.GetObject(ctx, l.layout.LedgerEntry(date))
	if err != nil {
		if errors.Is(err, schedule.ErrNotFound) {
			return schedule.ScrapeRecord{}, fmt.Errorf("ledger entry %s: %w", schedule.DateKey(date), schedule.ErrNotFound)
		}
		return schedule.ScrapeRecord{}, fmt.Errorf("get ledger entry: %w", err)
	}
	var rec schedule.ScrapeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return schedule.ScrapeRecord{}, fmt.Errorf("decode ledger entry %s: %w", schedule.DateKey(date), err)
	}
	return rec, nil
}

// Mark writes the date's ScrapeRecord as a single object put.
func (l *Ledger) Mark(ctx context.Context, rec schedule.ScrapeRecord) error {
	if rec.Date == "" {
		return fmt.Errorf("record date is required")
	}
	date, err := schedule.ParseDate(rec.Date)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode ledger entry: %w", err)
	}
	if _, err := l.store.PutObject(ctx, l.layout.LedgerEntry(date), "application/json", data); err != nil {
		return fmt.Errorf("put ledger entry: %w", err)
	}
	return nil
}
