// Package server exposes the session controller over a small JSON HTTP API.
//
// Routes:
//
//	POST /v1/correct     {"text": "..."} → corrected text and the rules that fired
//	POST /v1/transcribe  audio/wav body  → raw and corrected transcript
//	GET  /v1/history     recent results (when a history store is configured)
//	GET  /healthz, /readyz, /metrics
//
// Unintelligible audio answers 200 with empty text. A backend outage answers
// 503, a body that is not a 16-bit PCM WAVE file answers 400.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/scribe/internal/health"
	"github.com/MrWong99/scribe/internal/history"
	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/internal/session"
	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/provider/stt"
)

// DefaultMaxUploadBytes caps /v1/transcribe bodies: roughly six minutes of
// 44.1 kHz mono 16-bit audio.
const DefaultMaxUploadBytes = 32 << 20

// shutdownTimeout bounds graceful shutdown in [Server.Serve].
const shutdownTimeout = 10 * time.Second

// Processor is the slice of [session.Controller] the API needs.
type Processor interface {
	CorrectText(ctx context.Context, raw string) session.Result
	ProcessClip(ctx context.Context, clip *audio.Clip, source history.Source) (session.Result, error)
}

var _ Processor = (*session.Controller)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithHistory enables GET /v1/history backed by store.
func WithHistory(store history.Store) Option {
	return func(s *Server) { s.history = store }
}

// WithHealth mounts the probes of h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics sets the instruments used by the request middleware.
// Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMaxUploadBytes overrides [DefaultMaxUploadBytes].
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) { s.maxUpload = n }
}

// Server routes HTTP requests to a [Processor].
type Server struct {
	proc           Processor
	history        history.Store
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	maxUpload      int64

	handler http.Handler
}

// New builds the route table.
func New(proc Processor, opts ...Option) *Server {
	s := &Server{proc: proc, maxUpload: DefaultMaxUploadBytes}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/correct", s.handleCorrect)
	mux.HandleFunc("POST /v1/transcribe", s.handleTranscribe)
	if s.history != nil {
		mux.HandleFunc("GET /v1/history", s.handleHistory)
	}
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the root handler including tracing and metrics middleware.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is [Server.Serve] on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http api listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

type correctRequest struct {
	Text *string `json:"text"`
}

type correction struct {
	Rule   string `json:"rule"`
	Before string `json:"before"`
	After  string `json:"after"`
}

type correctResponse struct {
	Original    string       `json:"original"`
	Corrected   string       `json:"corrected"`
	Corrections []correction `json:"corrections"`
}

type transcribeResponse struct {
	Raw         string       `json:"raw"`
	Corrected   string       `json:"corrected"`
	Source      string       `json:"source"`
	Provider    string       `json:"provider,omitempty"`
	DurationMS  int64        `json:"duration_ms"`
	Corrections []correction `json:"corrections"`
}

type historyEntry struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Provider   string    `json:"provider,omitempty"`
	Raw        string    `json:"raw"`
	Corrected  string    `json:"corrected"`
	Rules      []string  `json:"rules"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCorrect(w http.ResponseWriter, r *http.Request) {
	var req correctRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}
	if req.Text == nil {
		writeError(w, http.StatusBadRequest, errors.New(`missing "text" field`))
		return
	}

	res := s.proc.CorrectText(r.Context(), *req.Text)
	writeJSON(w, http.StatusOK, correctResponse{
		Original:    res.Raw,
		Corrected:   res.Corrected,
		Corrections: toCorrections(res),
	})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.maxUpload)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}

	clip, err := audio.DecodeWAV(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.proc.ProcessClip(r.Context(), clip, history.SourceUpload)
	switch {
	case err == nil:
	case errors.Is(err, stt.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err)
		return
	default:
		observe.Logger(r.Context()).Error("transcription failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, transcribeResponse{
		Raw:         res.Raw,
		Corrected:   res.Corrected,
		Source:      string(res.Source),
		Provider:    res.Provider,
		DurationMS:  res.Duration.Milliseconds(),
		Corrections: toCorrections(res),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := history.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit %q must be a positive integer", v))
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		observe.Logger(r.Context()).Error("reading history failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]historyEntry, len(entries))
	for i, e := range entries {
		rules := e.Rules
		if rules == nil {
			rules = []string{}
		}
		out[i] = historyEntry{
			ID:         e.ID,
			Source:     string(e.Source),
			Provider:   e.Provider,
			Raw:        e.Raw,
			Corrected:  e.Corrected,
			Rules:      rules,
			DurationMS: e.AudioDuration.Milliseconds(),
			CreatedAt:  e.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func toCorrections(res session.Result) []correction {
	out := make([]correction, len(res.Corrections))
	for i, c := range res.Corrections {
		out[i] = correction{Rule: c.Rule, Before: c.Before, After: c.After}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
