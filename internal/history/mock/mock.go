// Package mock provides an in-memory history.Store for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/scribe/internal/history"
)

var _ history.Store = (*Store)(nil)

// Store records saved entries in memory.
type Store struct {
	mu sync.Mutex

	// SaveErr, if set, is returned by Save instead of storing the entry.
	SaveErr error

	// PingErr is returned by Ping.
	PingErr error

	entries []history.Entry
	closed  bool
}

// Save implements history.Store.
func (s *Store) Save(_ context.Context, e history.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if err := history.Prepare(&e); err != nil {
		return err
	}
	s.entries = append(s.entries, e)
	return nil
}

// Recent implements history.Store.
func (s *Store) Recent(_ context.Context, limit int) ([]history.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = history.DefaultLimit
	}
	var out []history.Entry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

// Ping implements history.Store.
func (s *Store) Ping(context.Context) error { return s.PingErr }

// Close implements history.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Entries returns a copy of everything saved, oldest first.
func (s *Store) Entries() []history.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]history.Entry(nil), s.entries...)
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
