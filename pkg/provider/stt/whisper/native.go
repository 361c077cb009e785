// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/provider/stt"
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using the whisper.cpp Go bindings,
// without an HTTP hop. The model is loaded once and shared; each call creates
// its own inference context so concurrent calls do not interfere.
type NativeProvider struct {
	model       whisperlib.Model
	language    string
	calibration time.Duration
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeCalibrationWindow sets the leading span used for noise-floor
// calibration.
func WithNativeCalibrationWindow(d time.Duration) NativeOption {
	return func(p *NativeProvider) { p.calibration = d }
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the provider is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:       model,
		language:    defaultLanguage,
		calibration: stt.DefaultCalibrationWindow,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements [stt.Provider]. Inference runs on the calling
// goroutine; cancelling ctx aborts it before the encoder starts.
func (p *NativeProvider) Transcribe(ctx context.Context, clip *audio.Clip, opts stt.Options) (stt.Transcript, error) {
	speech, _, err := stt.PrepareClip(clip, p.calibration)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	text, err := p.infer(ctx, audio.PCMToFloat32(speech.Mono16k().PCM), lang)
	if err != nil {
		return stt.Transcript{}, err
	}
	text = cleanText(text)
	if text == "" {
		return stt.Transcript{}, fmt.Errorf("whisper: empty result: %w", stt.ErrUnintelligible)
	}
	return stt.Transcript{Text: text, Duration: speech.Duration(), Provider: "whisper-native"}, nil
}

// infer runs whisper.cpp over 16 kHz mono samples with a fresh context and
// returns the concatenated segment text.
func (p *NativeProvider) infer(ctx context.Context, samples []float32, lang string) (string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w: %w", stt.ErrServiceUnavailable, err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	proceed := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, proceed, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w: %w", stt.ErrServiceUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
