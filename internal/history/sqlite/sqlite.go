// Package sqlite implements history.Store on an embedded SQLite database
// using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/scribe/internal/history"
)

var _ history.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	provider    TEXT NOT NULL DEFAULT '',
	raw         TEXT NOT NULL,
	corrected   TEXT NOT NULL,
	rules       TEXT NOT NULL DEFAULT '',
	duration_ns INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS transcripts_created_at ON transcripts (created_at DESC);
`

// Store is a SQLite-backed history store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite history: open: %w", err)
	}
	// One connection keeps :memory: databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite history: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite history: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Save implements history.Store.
func (s *Store) Save(ctx context.Context, e history.Entry) error {
	if err := history.Prepare(&e); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcripts (id, source, provider, raw, corrected, rules, duration_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Source), e.Provider, e.Raw, e.Corrected,
		strings.Join(e.Rules, ","), e.AudioDuration.Nanoseconds(), e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite history: save: %w", err)
	}
	return nil
}

// Recent implements history.Store.
func (s *Store) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	if limit <= 0 {
		limit = history.DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, provider, raw, corrected, rules, duration_ns, created_at
		FROM transcripts
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite history: recent: %w", err)
	}
	defer rows.Close()

	var out []history.Entry
	for rows.Next() {
		var (
			e                   history.Entry
			source, rules       string
			durationNs, created int64
		)
		if err := rows.Scan(&e.ID, &source, &e.Provider, &e.Raw, &e.Corrected, &rules, &durationNs, &created); err != nil {
			return nil, fmt.Errorf("sqlite history: scan: %w", err)
		}
		e.Source = history.Source(source)
		if rules != "" {
			e.Rules = strings.Split(rules, ",")
		}
		e.AudioDuration = time.Duration(durationNs)
		e.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping implements history.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements history.Store.
func (s *Store) Close() error {
	return s.db.Close()
}
