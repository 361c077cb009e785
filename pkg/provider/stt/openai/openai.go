// Package openai provides an STT provider backed by the OpenAI audio
// transcriptions API (or any server exposing a compatible
// /v1/audio/transcriptions endpoint).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/provider/stt"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client      oai.Client
	model       string
	language    string
	calibration time.Duration
}

// config holds optional configuration for the provider.
type config struct {
	baseURL     string
	timeout     time.Duration
	maxRetries  int
	language    string
	calibration time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the client retries failed requests. Negative
// values keep the client default.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// WithLanguage sets the ISO-639-1 language hint used when a request carries
// none.
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithCalibrationWindow sets the leading span used for noise-floor
// calibration.
func WithCalibrationWindow(d time.Duration) Option {
	return func(c *config) {
		c.calibration = d
	}
}

// New constructs a new OpenAI transcription Provider.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{maxRetries: -1, calibration: stt.DefaultCalibrationWindow}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Provider{
		client:      oai.NewClient(reqOpts...),
		model:       model,
		language:    cfg.language,
		calibration: cfg.calibration,
	}, nil
}

// ModelID returns the transcription model name.
func (p *Provider) ModelID() string { return p.model }

// Transcribe implements stt.Provider. Every API or transport failure wraps
// [stt.ErrServiceUnavailable].
func (p *Provider) Transcribe(ctx context.Context, clip *audio.Clip, opts stt.Options) (stt.Transcript, error) {
	speech, _, err := stt.PrepareClip(clip, p.calibration)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("openai stt: %w", err)
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(speech.WAV()), "audio.wav", "audio/wav"),
		Model: p.model,
	}
	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	if lang != "" {
		params.Language = param.NewOpt(lang)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return stt.Transcript{}, fmt.Errorf("openai stt: HTTP %d: %w: %w", apiErr.StatusCode, stt.ErrServiceUnavailable, err)
		}
		return stt.Transcript{}, fmt.Errorf("openai stt: %w: %w", stt.ErrServiceUnavailable, err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return stt.Transcript{}, fmt.Errorf("openai stt: empty result: %w", stt.ErrUnintelligible)
	}
	return stt.Transcript{Text: text, Duration: speech.Duration(), Provider: "openai"}, nil
}
