// Package session orchestrates one round trip from microphone (or file) to
// corrected text.
//
// A [Controller] owns at most one live [audio.Session] at a time. Ending a
// capture encodes the recording, persists it to a scoped temporary WAV file,
// reloads it, hands it to the configured [stt.Provider] and runs the result
// through a [transcript.Pipeline]. The temporary file is removed on every
// exit path.
//
// Unintelligible audio is not an error: it produces a [Result] whose text is
// empty. Backend failures (wrapping [stt.ErrServiceUnavailable]) propagate.
package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/scribe/internal/history"
	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/internal/transcript"
	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/provider/stt"
)

var (
	// ErrFileNotFound is returned by ProcessFile when the path does not exist.
	ErrFileNotFound = errors.New("session: file not found")

	// ErrInvalidDuration is returned by SetDuration for non-positive values.
	ErrInvalidDuration = errors.New("session: duration must be positive")
)

// DefaultDuration is the recording length used by Record until SetDuration
// is called.
const DefaultDuration = 5 * time.Second

// tempPrefix names the scoped clip files written during processing.
const tempPrefix = "scribe-"

// Result is the outcome of processing one clip.
type Result struct {
	// Raw is the transcript as returned by the STT provider. Empty when the
	// audio was unintelligible.
	Raw string

	// Corrected is Raw after the correction pipeline.
	Corrected string

	// Corrections lists the rules that changed the text.
	Corrections []transcript.Correction

	// Source names where the audio came from.
	Source history.Source

	// Provider names the STT backend that answered, when known.
	Provider string

	// Duration is the length of the processed audio.
	Duration time.Duration
}

// Option configures a [Controller].
type Option func(*Controller)

// WithFormat sets the capture format. Default: [audio.DefaultFormat].
func WithFormat(f audio.Format) Option {
	return func(c *Controller) { c.format = f }
}

// WithDuration sets the initial Record length. Non-positive values are
// ignored.
func WithDuration(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.duration = d
		}
	}
}

// WithTempDir sets where scoped clip files are written. Default: [os.TempDir].
func WithTempDir(dir string) Option {
	return func(c *Controller) { c.tempDir = dir }
}

// WithLanguage sets the recognition language passed to the provider.
func WithLanguage(lang string) Option {
	return func(c *Controller) { c.language = lang }
}

// WithPipeline replaces the correction pipeline. Default:
// [transcript.NewPipeline].
func WithPipeline(p transcript.Pipeline) Option {
	return func(c *Controller) { c.pipeline = p }
}

// WithHistory records every result in h. Save failures are logged, not
// returned.
func WithHistory(h history.Store) Option {
	return func(c *Controller) { c.history = h }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithProgress installs a progress callback on every capture.
func WithProgress(fn audio.ProgressFunc) Option {
	return func(c *Controller) { c.progress = fn }
}

// WithDeviceRetry sets how BeginCapture retries an unavailable device.
func WithDeviceRetry(p RetryPolicy) Option {
	return func(c *Controller) { c.retry = p }
}

// WithProviderName labels metrics for calls whose transcript does not name a
// backend. Default: "stt".
func WithProviderName(name string) Option {
	return func(c *Controller) { c.providerName = name }
}

// Controller drives capture, transcription and correction. It is safe for
// concurrent use; at most one capture is live at a time, while clip and file
// processing may run concurrently.
type Controller struct {
	device       audio.Device
	provider     stt.Provider
	pipeline     transcript.Pipeline
	format       audio.Format
	tempDir      string
	language     string
	history      history.Store
	metrics      *observe.Metrics
	progress     audio.ProgressFunc
	retry        RetryPolicy
	providerName string

	mu       sync.Mutex
	duration time.Duration
	current  *audio.Session
	starting bool
}

// New creates a [Controller] recording from device and transcribing with
// provider.
func New(device audio.Device, provider stt.Provider, opts ...Option) *Controller {
	c := &Controller{
		device:       device,
		provider:     provider,
		format:       audio.DefaultFormat,
		duration:     DefaultDuration,
		providerName: "stt",
	}
	for _, o := range opts {
		o(c)
	}
	if c.pipeline == nil {
		c.pipeline = transcript.NewPipeline()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// SetDuration sets the Record length.
func (c *Controller) SetDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidDuration, d)
	}
	c.mu.Lock()
	c.duration = d
	c.mu.Unlock()
	return nil
}

// Duration returns the Record length.
func (c *Controller) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

// Recording reports whether a capture is live. A capture still waiting for
// the device does not count.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// BeginCapture starts an open-ended capture that runs until
// EndCaptureAndProcess or until ctx is cancelled. It fails with an error
// wrapping [audio.ErrInvalidTransition] while a capture is live or starting,
// and with [audio.ErrDeviceUnavailable] when the device cannot be opened.
func (c *Controller) BeginCapture(ctx context.Context) error {
	_, err := c.begin(ctx, unbounded)
	return err
}

// unbounded as a frame limit records until the capture is ended.
const unbounded = -1

func (c *Controller) begin(ctx context.Context, maxFrames int) (*audio.Session, error) {
	c.mu.Lock()
	if c.current != nil || c.starting {
		c.mu.Unlock()
		return nil, fmt.Errorf("session: begin capture: already recording: %w", audio.ErrInvalidTransition)
	}
	c.starting = true
	c.mu.Unlock()

	var opts []audio.SessionOption
	if maxFrames != unbounded {
		opts = append(opts, audio.WithMaxFrames(maxFrames))
	}
	if c.progress != nil {
		opts = append(opts, audio.WithProgress(c.progress))
	}
	s, err := startWithRetry(ctx, c.retry, func() *audio.Session {
		return audio.NewSession(c.device, c.format, opts...)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false
	if err != nil {
		return nil, err
	}

	c.current = s
	c.metrics.ActiveSessions.Add(ctx, 1)
	observe.Logger(ctx).Info("capture started", "format", c.format.String(), "max_frames", maxFrames)
	return s, nil
}

// EndCaptureAndProcess stops the live capture and processes what was
// recorded. Without a live capture it returns an error wrapping
// [audio.ErrInvalidTransition].
func (c *Controller) EndCaptureAndProcess(ctx context.Context) (Result, error) {
	clip, err := c.end(ctx)
	if err != nil {
		return Result{}, err
	}
	return c.ProcessClip(ctx, clip, history.SourceMicrophone)
}

// end stops and detaches the live session and returns its clip.
func (c *Controller) end(ctx context.Context) (*audio.Clip, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.current
	if s == nil {
		return nil, fmt.Errorf("session: end capture: not recording: %w", audio.ErrInvalidTransition)
	}
	c.current = nil
	c.metrics.ActiveSessions.Add(ctx, -1)

	stopErr := s.Stop()
	if readErr := s.Err(); readErr != nil {
		return nil, fmt.Errorf("session: capture: %w", readErr)
	}
	if stopErr != nil {
		observe.Logger(ctx).Warn("closing input stream failed", "error", stopErr)
	}

	clip, err := s.Clip()
	if err != nil {
		return nil, fmt.Errorf("session: end capture: %w", err)
	}
	c.metrics.CaptureDuration.Record(ctx, clip.Duration().Seconds())
	observe.Logger(ctx).Info("capture stopped", "duration", clip.Duration())
	return clip, nil
}

// Record captures for the configured duration and processes the result. A
// duration shorter than one frame captures nothing and yields an empty
// result. If ctx is cancelled first, the capture is discarded and ctx's error
// returned.
func (c *Controller) Record(ctx context.Context) (Result, error) {
	s, err := c.begin(ctx, c.format.FramesFor(c.Duration()))
	if err != nil {
		return Result{}, err
	}

	select {
	case <-s.Done():
	case <-ctx.Done():
	}
	if ctx.Err() != nil {
		if _, err := c.end(context.WithoutCancel(ctx)); err != nil {
			observe.Logger(ctx).Debug("discarding cancelled capture", "error", err)
		}
		return Result{}, fmt.Errorf("session: record: %w", ctx.Err())
	}
	return c.EndCaptureAndProcess(ctx)
}

// ProcessFile transcribes and corrects a 16-bit PCM WAVE file. A missing
// path yields [ErrFileNotFound] before any processing. The file itself is
// never modified or removed.
func (c *Controller) ProcessFile(ctx context.Context, path string) (Result, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{}, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return Result{}, fmt.Errorf("session: stat %s: %w", path, err)
	}
	clip, err := audio.LoadClip(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{}, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return Result{}, fmt.Errorf("session: load %s: %w", path, err)
	}
	return c.transcribe(ctx, clip, history.SourceFile)
}

// ProcessClip persists clip to a scoped temporary WAV file, reloads it and
// transcribes and corrects the reloaded audio. The temporary file is removed
// before ProcessClip returns, whatever the outcome. A clip without samples is
// unintelligible by definition and never reaches the provider.
func (c *Controller) ProcessClip(ctx context.Context, clip *audio.Clip, source history.Source) (Result, error) {
	if clip == nil {
		return Result{}, fmt.Errorf("session: process clip: nil clip")
	}
	if clip.Empty() {
		observe.Logger(ctx).Info("no audio captured", "source", source)
		res := c.correct(ctx, "", source)
		c.record(ctx, res)
		return res, nil
	}
	path := filepath.Join(c.tempDirOrDefault(), tempPrefix+uuid.NewString()+".wav")
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			observe.Logger(ctx).Warn("removing temporary clip failed", "path", path, "error", err)
		}
	}()

	if err := clip.WriteFile(path); err != nil {
		return Result{}, fmt.Errorf("session: persist clip: %w", err)
	}
	reloaded, err := audio.LoadClip(path)
	if err != nil {
		return Result{}, fmt.Errorf("session: reload clip: %w", err)
	}
	return c.transcribe(ctx, reloaded, source)
}

// CorrectText runs raw through the correction pipeline and records it like
// any other result.
func (c *Controller) CorrectText(ctx context.Context, raw string) Result {
	res := c.correct(ctx, raw, history.SourceText)
	c.record(ctx, res)
	return res
}

func (c *Controller) tempDirOrDefault() string {
	if c.tempDir != "" {
		return c.tempDir
	}
	return os.TempDir()
}

func (c *Controller) transcribe(ctx context.Context, clip *audio.Clip, source history.Source) (_ Result, err error) {
	ctx, span := observe.StartSpan(ctx, "session.transcribe")
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	tr, err := c.provider.Transcribe(ctx, clip, stt.Options{Language: c.language})
	elapsed := time.Since(start)

	label := tr.Provider
	if label == "" {
		label = c.providerName
	}

	var raw string
	switch {
	case err == nil:
		raw = tr.Text
		c.metrics.RecordTranscription(ctx, label, elapsed, "")
	case errors.Is(err, stt.ErrUnintelligible):
		c.metrics.RecordTranscription(ctx, label, elapsed, "unintelligible")
		observe.Logger(ctx).Info("no intelligible speech", "source", source, "duration", clip.Duration())
	case errors.Is(err, stt.ErrServiceUnavailable):
		c.metrics.RecordTranscription(ctx, label, elapsed, "unavailable")
		return Result{}, fmt.Errorf("session: transcribe: %w", err)
	default:
		c.metrics.RecordTranscription(ctx, label, elapsed, "error")
		return Result{}, fmt.Errorf("session: transcribe: %w", err)
	}

	res := c.correct(ctx, raw, source)
	res.Provider = tr.Provider
	res.Duration = clip.Duration()
	c.record(ctx, res)
	return res, nil
}

func (c *Controller) correct(ctx context.Context, raw string, source history.Source) Result {
	out := c.pipeline.Correct(raw)
	for _, corr := range out.Corrections {
		c.metrics.RecordRule(ctx, corr.Rule)
	}
	return Result{
		Raw:         out.Original,
		Corrected:   out.Corrected,
		Corrections: out.Corrections,
		Source:      source,
	}
}

func (c *Controller) record(ctx context.Context, res Result) {
	if c.history == nil {
		return
	}
	rules := make([]string, len(res.Corrections))
	for i, corr := range res.Corrections {
		rules[i] = corr.Rule
	}
	err := c.history.Save(ctx, history.Entry{
		Source:        res.Source,
		Provider:      res.Provider,
		Raw:           res.Raw,
		Corrected:     res.Corrected,
		Rules:         rules,
		AudioDuration: res.Duration,
	})
	if err != nil {
		slog.Warn("saving transcript history failed", "source", res.Source, "error", err)
	}
}
