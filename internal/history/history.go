// Package history persists processed transcripts.
//
// Each call through the session controller that yields a result can be
// appended to a [Store] as an [Entry]. Backends live in sub-packages:
// sqlite (embedded, the default) and postgres (shared deployments).
package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidEntry is returned by [Store.Save] when an entry lacks a source.
var ErrInvalidEntry = errors.New("history: invalid entry")

// Source names where a transcript's audio came from.
type Source string

const (
	SourceMicrophone Source = "microphone"
	SourceFile       Source = "file"
	SourceUpload     Source = "upload"
	SourceText       Source = "text"
)

// Entry is one processed transcript.
type Entry struct {
	ID            string
	Source        Source
	Provider      string
	Raw           string
	Corrected     string
	Rules         []string
	AudioDuration time.Duration
	CreatedAt     time.Time
}

// Prepare fills ID and CreatedAt when unset and validates e. Backends call it
// at the start of Save.
func Prepare(e *Entry) error {
	if e.Source == "" {
		return ErrInvalidEntry
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return nil
}

// Store is the persistence contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save appends e. ID and CreatedAt are assigned when empty.
	Save(ctx context.Context, e Entry) error

	// Recent returns up to limit entries, newest first. limit <= 0 means a
	// backend default of 50.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// DefaultLimit is used by Recent when limit <= 0.
const DefaultLimit = 50
