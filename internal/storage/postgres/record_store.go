// Package postgres provides Postgres-backed persistence for run records.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitespider/internal/spider"
)

const defaultTable = "spider_records"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RecordStoreConfig controls the Postgres connection pool used for records.
type RecordStoreConfig struct {
	DSN             string
	Table           string
	RunID           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// RecordStore writes each run's records into one table, one row per record.
// It implements spider.Sink.
type RecordStore struct {
	pool  txPool
	table string
	runID string
}

// NewRecordStore connects to Postgres using the provided config.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres.dsn is required")
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
	store, err := NewRecordStoreWithPool(pool, cfg.Table, cfg.RunID)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(pool txPool, table, runID string) (*RecordStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: pool, table: table, runID: runID}, nil
}

// EnsureSchema creates the record table if it does not exist.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id     TEXT        NOT NULL,
	run_name   TEXT        NOT NULL,
	position   INTEGER     NOT NULL,
	payload    JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, position)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Write inserts records in one transaction and returns a postgres:// URI
// identifying the run.
func (s *RecordStore) Write(ctx context.Context, name string, records []spider.Record) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (run_id, run_name, position, payload) VALUES ($1, $2, $3, $4)`, s.table)
	for i, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return "", s.rollback(ctx, tx, fmt.Errorf("marshal record %d: %w", i, err))
		}
		if _, err := tx.Exec(ctx, query, s.runID, name, i, payload); err != nil {
			return "", s.rollback(ctx, tx, fmt.Errorf("insert record %d: %w", i, err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit records: %w", err)
	}
	return fmt.Sprintf("postgres://%s?run_id=%s", s.table, s.runID), nil
}

func (s *RecordStore) rollback(ctx context.Context, tx pgx.Tx, cause error) error {
	if err := tx.Rollback(ctx); err != nil {
		return errors.Join(cause, fmt.Errorf("rollback: %w", err))
	}
	return cause
}

// Close releases the underlying pool.
func (s *RecordStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
