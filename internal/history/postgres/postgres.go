// Package postgres implements history.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/scribe/internal/history"
)

var _ history.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
	id          UUID        PRIMARY KEY,
	source      TEXT        NOT NULL,
	provider    TEXT        NOT NULL DEFAULT '',
	raw         TEXT        NOT NULL,
	corrected   TEXT        NOT NULL,
	rules       TEXT[]      NOT NULL DEFAULT '{}',
	duration_ns BIGINT      NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS transcripts_created_at ON transcripts (created_at DESC);
`

// Store is a PostgreSQL-backed history store. It is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, verifies the connection and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres history: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres history: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres history: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres history: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Save implements history.Store.
func (s *Store) Save(ctx context.Context, e history.Entry) error {
	if err := history.Prepare(&e); err != nil {
		return err
	}
	rules := e.Rules
	if rules == nil {
		rules = []string{}
	}
	const q = `
		INSERT INTO transcripts (id, source, provider, raw, corrected, rules, duration_ns, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, q,
		e.ID, string(e.Source), e.Provider, e.Raw, e.Corrected,
		rules, e.AudioDuration.Nanoseconds(), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres history: save: %w", err)
	}
	return nil
}

// Recent implements history.Store.
func (s *Store) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	if limit <= 0 {
		limit = history.DefaultLimit
	}
	const q = `
		SELECT id::text, source, provider, raw, corrected, rules, duration_ns, created_at
		FROM   transcripts
		ORDER  BY created_at DESC
		LIMIT  $1`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres history: recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Entry, error) {
		var (
			e          history.Entry
			source     string
			durationNs int64
		)
		if err := row.Scan(&e.ID, &source, &e.Provider, &e.Raw, &e.Corrected, &e.Rules, &durationNs, &e.CreatedAt); err != nil {
			return history.Entry{}, err
		}
		e.Source = history.Source(source)
		e.AudioDuration = time.Duration(durationNs)
		if len(e.Rules) == 0 {
			e.Rules = nil
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres history: scan: %w", err)
	}
	return entries, nil
}

// Ping implements history.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements history.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
