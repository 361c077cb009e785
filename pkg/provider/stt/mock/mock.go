// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to verify which clips the caller submitted and to script the
// transcript or error returned for each call.
//
// Example:
//
//	p := &mock.Provider{Result: stt.Transcript{Text: "hello world"}}
//	got, _ := p.Transcribe(ctx, clip, stt.Options{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Clip is the clip passed to Transcribe.
	Clip *audio.Clip
	// Opts are the options passed to Transcribe.
	Opts stt.Options
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when TranscribeFunc is nil and Err is nil.
	Result stt.Transcript

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeFunc, if set, replaces the Result/Err behaviour entirely. It is
	// called outside the internal lock.
	TranscribeFunc func(ctx context.Context, clip *audio.Clip, opts stt.Options) (stt.Transcript, error)

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns the scripted result.
func (p *Provider) Transcribe(ctx context.Context, clip *audio.Clip, opts stt.Options) (stt.Transcript, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, TranscribeCall{Clip: clip, Opts: opts})
	fn, result, err := p.TranscribeFunc, p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, clip, opts)
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	return result, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
