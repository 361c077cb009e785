// Command scribe records speech (or reads a WAVE file), transcribes it with
// the configured speech-to-text backend and prints the corrected text.
//
// With -serve it runs the HTTP API instead, with -mcp it serves the MCP tools
// over stdio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scribe/internal/config"
	"github.com/MrWong99/scribe/internal/health"
	"github.com/MrWong99/scribe/internal/history"
	"github.com/MrWong99/scribe/internal/history/postgres"
	"github.com/MrWong99/scribe/internal/history/sqlite"
	"github.com/MrWong99/scribe/internal/mcptools"
	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/internal/resilience"
	"github.com/MrWong99/scribe/internal/server"
	"github.com/MrWong99/scribe/internal/session"
	"github.com/MrWong99/scribe/pkg/audio"
	"github.com/MrWong99/scribe/pkg/audio/portaudio"
	"github.com/MrWong99/scribe/pkg/provider/stt"
	"github.com/MrWong99/scribe/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/scribe/pkg/provider/stt/openai"
	"github.com/MrWong99/scribe/pkg/provider/stt/whisper"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "scribe.yaml", "path to the YAML configuration file")
	filePath := flag.String("file", "", "transcribe this WAVE file instead of recording")
	duration := flag.Float64("duration", 0, "recording length in seconds (overrides audio.duration_seconds)")
	serve := flag.Bool("serve", false, "run the HTTP API")
	mcpMode := flag.Bool("mcp", false, "serve MCP tools over stdio")
	flag.Parse()

	// Secrets referenced as ${VAR} in the config may live in a .env file.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "scribe: load .env: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "scribe: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "scribe: %v\n", err)
		}
		return 1
	}
	if *duration < 0 {
		fmt.Fprintf(os.Stderr, "scribe: -duration must be positive, got %g\n", *duration)
		return 1
	}
	if *duration > 0 {
		cfg.Audio.DurationSeconds = *duration
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	prov, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Register:       true,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := prov.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(prov.MeterProvider)
	if err != nil {
		slog.Error("failed to create metric instruments", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provider, err := buildSTT(cfg.STT, reg, metrics)
	if err != nil {
		slog.Error("failed to build speech-to-text providers", "err", err)
		return 1
	}

	var device audio.Device
	if *filePath == "" && !*serve && !*mcpMode {
		device, err = reg.CreateDevice(cfg.Audio)
		if err != nil {
			slog.Error("failed to create input device", "err", err)
			return 1
		}
	}

	// ── History ───────────────────────────────────────────────────────────────
	store, err := openHistory(ctx, cfg.History)
	if err != nil {
		slog.Error("failed to open history store", "err", err)
		return 1
	}
	if store != nil {
		defer store.Close()
	}

	opts := []session.Option{
		session.WithFormat(cfg.Audio.Format()),
		session.WithDuration(cfg.Audio.Duration()),
		session.WithTempDir(cfg.Audio.TempDir),
		session.WithLanguage(cfg.STT.Language),
		session.WithMetrics(metrics),
		session.WithProviderName(cfg.STT.Primary.Name),
		session.WithDeviceRetry(session.RetryPolicy{MaxAttempts: cfg.Audio.DeviceRetries + 1}),
		session.WithProgress(func(p audio.Progress) {
			slog.Debug("recording", "captured", p.Captured, "total", p.Total)
		}),
	}
	if store != nil {
		opts = append(opts, session.WithHistory(store))
	}
	ctrl := session.New(device, provider, opts...)

	printStartupSummary(cfg, *filePath, *serve, *mcpMode)

	switch {
	case *mcpMode:
		if err := mcptools.Serve(ctx, ctrl, version); err != nil {
			slog.Error("mcp server error", "err", err)
			return 1
		}
		return 0

	case *serve:
		if err := runServer(ctx, cfg, ctrl, store, prov, metrics); err != nil {
			slog.Error("server error", "err", err)
			return 1
		}
		slog.Info("goodbye")
		return 0

	case *filePath != "":
		res, err := ctrl.ProcessFile(ctx, *filePath)
		return printResult(res, err)

	default:
		slog.Info("recording", "duration", ctrl.Duration())
		res, err := ctrl.Record(ctx)
		return printResult(res, err)
	}
}

// runServer serves the HTTP API until ctx is cancelled. The errgroup ties the
// listener's lifetime to ctx so a failed bind also ends the process.
func runServer(ctx context.Context, cfg *config.Config, ctrl *session.Controller, store history.Store, prov *observe.Provider, metrics *observe.Metrics) error {
	var checkers []health.Checker
	if store != nil {
		checkers = append(checkers, health.Checker{Name: "history", Check: store.Ping})
	}

	opts := []server.Option{
		server.WithHealth(health.New(checkers)),
		server.WithMetrics(metrics),
	}
	if cfg.Telemetry.Metrics {
		opts = append(opts, server.WithMetricsHandler(prov.MetricsHandler()))
	}
	if store != nil {
		opts = append(opts, server.WithHistory(store))
	}
	srv := server.New(ctrl, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, cfg.Server.ListenAddr)
	})
	slog.Info("server ready, press Ctrl+C to shut down", "listen_addr", cfg.Server.ListenAddr)
	return g.Wait()
}

func printResult(res session.Result, err error) int {
	if err != nil {
		switch {
		case errors.Is(err, session.ErrFileNotFound):
			fmt.Fprintf(os.Stderr, "scribe: %v\n", err)
		case errors.Is(err, stt.ErrServiceUnavailable):
			fmt.Fprintf(os.Stderr, "scribe: speech service unavailable: %v\n", err)
		case errors.Is(err, audio.ErrDeviceUnavailable):
			fmt.Fprintf(os.Stderr, "scribe: microphone unavailable: %v\n", err)
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(os.Stderr, "scribe: cancelled")
		default:
			fmt.Fprintf(os.Stderr, "scribe: %v\n", err)
		}
		return 1
	}
	if res.Corrected == "" {
		fmt.Fprintln(os.Stderr, "scribe: no speech recognised")
		return 0
	}
	fmt.Println(res.Corrected)
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry, shared config.STTConfig) (stt.Provider, error) {
		opts := []whisper.Option{
			whisper.WithTimeout(shared.Timeout()),
			whisper.WithCalibrationWindow(shared.CalibrationWindow()),
		}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry, shared config.STTConfig) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptString("model_path")
		}
		opts := []whisper.NativeOption{whisper.WithNativeCalibrationWindow(shared.CalibrationWindow())}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry, shared config.STTConfig) (stt.Provider, error) {
		opts := []deepgram.Option{
			deepgram.WithTimeout(shared.Timeout()),
			deepgram.WithCalibrationWindow(shared.CalibrationWindow()),
		}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry, shared config.STTConfig) (stt.Provider, error) {
		opts := []oaistt.Option{
			oaistt.WithTimeout(shared.Timeout()),
			oaistt.WithCalibrationWindow(shared.CalibrationWindow()),
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterDevice("portaudio", func(config.AudioConfig) (audio.Device, error) {
		return audio.Exclusive(portaudio.New()), nil
	})
}

// buildSTT creates the primary backend and every fallback, each behind its
// own circuit breaker.
func buildSTT(cfg config.STTConfig, reg *config.Registry, metrics *observe.Metrics) (*resilience.STTFallback, error) {
	primary, err := reg.CreateSTT(cfg.Primary, cfg)
	if err != nil {
		return nil, fmt.Errorf("stt.primary %q: %w", cfg.Primary.Name, err)
	}

	fb := resilience.NewSTTFallback(primary, cfg.Primary.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.CircuitBreaker.MaxFailures,
			ResetTimeout: time.Duration(cfg.CircuitBreaker.ResetTimeoutSeconds) * time.Second,
			HalfOpenMax:  cfg.CircuitBreaker.HalfOpenMax,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("circuit breaker state change", "provider", name, "from", from, "to", to)
				metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
		OnFailover: func(from string, err error) {
			metrics.RecordProviderError(context.Background(), from, "failover")
		},
	})
	for i, entry := range cfg.Fallbacks {
		p, err := reg.CreateSTT(entry, cfg)
		if err != nil {
			if errors.Is(err, config.ErrProviderNotRegistered) {
				slog.Warn("skipping unknown fallback provider", "index", i, "name", entry.Name)
				continue
			}
			return nil, fmt.Errorf("stt.fallbacks[%d] %q: %w", i, entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
	}
	return fb, nil
}

// openHistory returns nil when history is disabled.
func openHistory(ctx context.Context, cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Driver {
	case config.HistorySQLite:
		return sqlite.Open(ctx, cfg.DSN)
	case config.HistoryPostgres:
		return postgres.New(ctx, cfg.DSN)
	default:
		return nil, nil
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, file string, serve, mcpMode bool) {
	mode := "record"
	switch {
	case mcpMode:
		mode = "mcp"
	case serve:
		mode = "serve"
	case file != "":
		mode = "file"
	}
	fallbacks := make([]string, len(cfg.STT.Fallbacks))
	for i, fb := range cfg.STT.Fallbacks {
		fallbacks[i] = fb.Name
	}
	hist := string(cfg.History.Driver)
	if hist == "" {
		hist = "(disabled)"
	}
	slog.Info("scribe starting",
		"version", version,
		"mode", mode,
		"stt", cfg.STT.Primary.Name,
		"fallbacks", fallbacks,
		"format", cfg.Audio.Format().String(),
		"history", hist,
	)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
