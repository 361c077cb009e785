// Package whisper provides local whisper.cpp-backed STT providers.
//
// [Provider] talks to a running whisper-server binary, which exposes a REST
// API at POST /inference. [NativeProvider] (native.go) links the whisper.cpp
// library directly through its Go bindings and needs no server.
//
// Both providers down-mix and resample clips to 16 kHz mono, the only input
// format whisper models accept, after trimming silence with
// [stt.PrepareClip].
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8081", whisper.WithLanguage("en"))
//	t, err := p.Transcribe(ctx, clip, stt.Options{})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/provider/stt"
)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	// blankAudio is what whisper.cpp emits for a segment with no speech.
	blankAudio = "[BLANK_AUDIO]"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with. This is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr") when a request does not carry one. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPClient replaces the HTTP client. Its Timeout bounds each request.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient = &http.Client{Timeout: d}
	}
}

// WithCalibrationWindow sets the leading span used for noise-floor
// calibration. Defaults to [stt.DefaultCalibrationWindow].
func WithCalibrationWindow(d time.Duration) Option {
	return func(p *Provider) {
		p.calibration = d
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server. It
// holds no per-request state and is safe for concurrent use.
type Provider struct {
	serverURL   string
	model       string
	language    string
	calibration time.Duration
	httpClient  *http.Client
}

// New creates a Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8081"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:   strings.TrimRight(serverURL, "/"),
		language:    defaultLanguage,
		calibration: stt.DefaultCalibrationWindow,
		httpClient:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements [stt.Provider]. Transport failures and non-200
// responses wrap [stt.ErrServiceUnavailable]; silence and blank results wrap
// [stt.ErrUnintelligible].
func (p *Provider) Transcribe(ctx context.Context, clip *audio.Clip, opts stt.Options) (stt.Transcript, error) {
	speech, _, err := stt.PrepareClip(clip, p.calibration)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
	}
	in := speech.Mono16k()

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	text, err := p.infer(ctx, in.WAV(), lang)
	if err != nil {
		return stt.Transcript{}, err
	}
	text = cleanText(text)
	if text == "" {
		return stt.Transcript{}, fmt.Errorf("whisper: empty result: %w", stt.ErrUnintelligible)
	}
	return stt.Transcript{Text: text, Duration: speech.Duration(), Provider: "whisper"}, nil
}

// infer POSTs a WAV file to the whisper.cpp /inference endpoint as
// multipart/form-data and returns the transcribed text.
func (p *Provider) infer(ctx context.Context, wav []byte, lang string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	fields := map[string]string{
		"language":        lang,
		"model":           p.model,
		"response_format": "json",
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w: %w", stt.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w: %w", stt.ErrServiceUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d: %w", resp.StatusCode, stt.ErrServiceUnavailable)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w: %w", stt.ErrServiceUnavailable, err)
	}
	return result.Text, nil
}

// cleanText strips whisper's blank-audio markers and surrounding whitespace.
func cleanText(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, blankAudio, ""))
}
