package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/scribe/pkg/audio"
)

// Default device retry parameters.
const (
	defaultDeviceBackoff    = 250 * time.Millisecond
	defaultDeviceMaxBackoff = 2 * time.Second
)

// RetryPolicy controls how often BeginCapture retries a device that reports
// [audio.ErrDeviceUnavailable]. The zero value makes a single attempt.
type RetryPolicy struct {
	// MaxAttempts is the total number of Start attempts. Values below 1 mean 1.
	MaxAttempts int

	// Backoff is the wait before the second attempt. It doubles after every
	// failed attempt up to MaxBackoff. Default: 250ms.
	Backoff time.Duration

	// MaxBackoff caps the wait between attempts. Default: 2s.
	MaxBackoff time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Backoff <= 0 {
		p.Backoff = defaultDeviceBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultDeviceMaxBackoff
	}
	return p
}

// startWithRetry starts a fresh session from newSession, retrying with
// exponential backoff while the device is unavailable. Sessions cannot be
// restarted, so each attempt builds a new one. A busy device is not retried.
func startWithRetry(ctx context.Context, p RetryPolicy, newSession func() *audio.Session) (*audio.Session, error) {
	p = p.withDefaults()
	backoff := p.Backoff

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		s := newSession()
		err := s.Start(ctx)
		if err == nil {
			if attempt > 1 {
				slog.Info("input device acquired after retry", "attempt", attempt)
			}
			return s, nil
		}
		lastErr = err
		if !errors.Is(err, audio.ErrDeviceUnavailable) || attempt == p.MaxAttempts {
			break
		}

		slog.Warn("input device unavailable, retrying",
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"backoff", backoff,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("session: begin capture: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, p.MaxBackoff)
	}
	return nil, fmt.Errorf("session: begin capture: %w", lastErr)
}
