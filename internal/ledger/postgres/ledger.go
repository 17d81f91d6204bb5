// Package postgres provides a Postgres-backed lookup ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/schedule-pipeline/internal/schedule"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Schema is the DDL for the ledger table. Date keys are stored in their
// canonical YYYY-MM-DD form.
const Schema = `
CREATE TABLE IF NOT EXISTS scrape_ledger (
	date         TEXT PRIMARY KEY,
	success      BOOLEAN NOT NULL,
	record_count INTEGER NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
)`

// Config controls the Postgres connection pool used for ledger rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Ledger persists ScrapeRecords in Postgres, one row per date. The upsert is
// a single statement so concurrent writers on different dates never interfere
// and a same-date race resolves last-writer-wins.
type Ledger struct {
	pool  pgxPool
	table string
}

// New creates a Postgres-backed ledger using the provided config.
func New(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger.postgres.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "scrape_ledger"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Ledger{
		pool:  pool,
		table: table,
	}, nil
}

// NewWithPool constructs a ledger from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool, table string) (*Ledger, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "scrape_ledger"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Ledger{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (l *Ledger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
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
	if l == nil || l.pool == nil {
		return schedule.ScrapeRecord{}, fmt.Errorf("ledger is not configured")
	}
	query := fmt.Sprintf(
		`SELECT date, success, record_count, updated_at FROM %s WHERE date = $1`, l.table)

	var rec schedule.ScrapeRecord
	row := l.pool.QueryRow(ctx, query, schedule.DateKey(date))
	if err := row.Scan(&rec.Date, &rec.Success, &rec.RecordCount, &rec.Timestamp); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schedule.ScrapeRecord{}, fmt.Errorf("ledger entry %s: %w", schedule.DateKey(date), schedule.ErrNotFound)
		}
		return schedule.ScrapeRecord{}, fmt.Errorf("query ledger: %w", err)
	}
	return rec, nil
}

// Mark upserts the date's ScrapeRecord.
func (l *Ledger) Mark(ctx context.Context, rec schedule.ScrapeRecord) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("ledger is not configured")
	}
	if rec.Date == "" {
		return fmt.Errorf("record date is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (date, success, record_count, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (date) DO UPDATE SET
	success = EXCLUDED.success,
	record_count = EXCLUDED.record_count,
	updated_at = EXCLUDED.updated_at`, l.table)

	if _, err := l.pool.Exec(ctx, query, rec.Date, rec.Success, rec.RecordCount, rec.Timestamp); err != nil {
		return fmt.Errorf("upsert ledger entry: %w", err)
	}
	return nil
}
