package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with ordered failover across several
// STT backends.
//
// An [stt.ErrUnintelligible] answer is a valid result: it is returned at once,
// no other backend is consulted and the breaker is not charged. Context
// cancellation also ends the walk. If every backend fails, the error wraps
// both [ErrAllFailed] and [stt.ErrServiceUnavailable].
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend. cfg.Terminal and cfg.CircuitBreaker.IsFailure are extended so that
// unintelligible audio and cancellation never trip a breaker.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	terminal := cfg.Terminal
	cfg.Terminal = func(err error) bool {
		return neutral(err) || (terminal != nil && terminal(err))
	}
	isFailure := cfg.CircuitBreaker.IsFailure
	cfg.CircuitBreaker.IsFailure = func(err error) bool {
		if neutral(err) {
			return false
		}
		return isFailure == nil || isFailure(err)
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

func neutral(err error) bool {
	return errors.Is(err, stt.ErrUnintelligible) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// AddFallback registers an additional backend.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in trial order.
func (f *STTFallback) Names() []string { return f.group.Names() }

// Breaker returns the breaker guarding the named backend, or nil.
func (f *STTFallback) Breaker(name string) *CircuitBreaker { return f.group.Breaker(name) }

// Transcribe implements [stt.Provider]. The returned transcript's Provider
// field names the backend that answered.
func (f *STTFallback) Transcribe(ctx context.Context, clip *audio.Clip, opts stt.Options) (stt.Transcript, error) {
	tr, name, err := ExecuteNamed(f.group, func(p stt.Provider) (stt.Transcript, error) {
		if err := ctx.Err(); err != nil {
			return stt.Transcript{}, err
		}
		return p.Transcribe(ctx, clip, opts)
	})
	if err != nil {
		if errors.Is(err, ErrAllFailed) && !errors.Is(err, stt.ErrServiceUnavailable) {
			return stt.Transcript{}, fmt.Errorf("%w: %w", stt.ErrServiceUnavailable, err)
		}
		return stt.Transcript{}, err
	}
	if tr.Provider == "" {
		tr.Provider = name
	}
	return tr, nil
}
