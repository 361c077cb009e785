// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider wraps an external transcription service (a local whisper.cpp
// server or model, Deepgram, OpenAI) and maps one encoded [audio.Clip] to a
// best-effort [Transcript]. Every backend calibrates against the clip's noise
// floor with [PrepareClip] before decoding, so callers never see silence-only
// uploads.
//
// Two failure kinds are distinguished: [ErrUnintelligible] means the backend
// heard no usable speech and callers should treat it as an empty transcript;
// [ErrServiceUnavailable] is a hard failure of the backend or the network.
//
// Implementations must be safe for concurrent use; concurrent calls on behalf
// of independent sessions must not interfere.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/scribe/pkg/audio"
)

var (
	// ErrUnintelligible is returned when the backend recognised no speech.
	ErrUnintelligible = errors.New("stt: no intelligible speech")

	// ErrServiceUnavailable is returned when the backend cannot be reached or
	// fails to process the request.
	ErrServiceUnavailable = errors.New("stt: service unavailable")
)

// Options carries per-request recognition hints.
type Options struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en", "de").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe decodes clip into text. The call blocks for the duration of
	// the backend round trip and honours ctx cancellation.
	//
	// Errors wrap [ErrUnintelligible] or [ErrServiceUnavailable] where the
	// failure kind is known.
	Transcribe(ctx context.Context, clip *audio.Clip, opts Options) (Transcript, error)
}

// ProviderFunc adapts a plain function to [Provider].
type ProviderFunc func(ctx context.Context, clip *audio.Clip, opts Options) (Transcript, error)

// Transcribe implements [Provider].
func (f ProviderFunc) Transcribe(ctx context.Context, clip *audio.Clip, opts Options) (Transcript, error) {
	return f(ctx, clip, opts)
}
