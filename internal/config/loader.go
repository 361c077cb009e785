package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":   {"whisper", "whisper-native", "deepgram", "openai"},
	"audio": {"portaudio"},
}

// Defaults applied by [LoadFromReader] to unset fields.
const (
	DefaultListenAddr      = ":8080"
	DefaultSampleRate      = 44100
	DefaultChannels        = 1
	DefaultFrameSize       = 1024
	DefaultDurationSeconds = 5
	DefaultSTTTimeout      = 30
	DefaultCalibrationMS   = 1000
	DefaultServiceName     = "scribe"
)

// envRef matches the braced ${VAR} form only, so a bare "$" in a DSN or key
// survives untouched.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references from
// the environment, fills defaults and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})

	cfg := &Config{}
	if len(expanded) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(expanded))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.Device == "" {
		cfg.Audio.Device = "portaudio"
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = DefaultChannels
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = DefaultFrameSize
	}
	if cfg.Audio.DurationSeconds == 0 {
		cfg.Audio.DurationSeconds = DefaultDurationSeconds
	}
	if cfg.STT.TimeoutSeconds == 0 {
		cfg.STT.TimeoutSeconds = DefaultSTTTimeout
	}
	if cfg.STT.CalibrationMS == 0 {
		cfg.STT.CalibrationMS = DefaultCalibrationMS
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 0 {
		errs = append(errs, fmt.Errorf("audio.channels %d must be positive", cfg.Audio.Channels))
	}
	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}
	if cfg.Audio.DurationSeconds < 0 {
		errs = append(errs, fmt.Errorf("audio.duration_seconds %g must be positive", cfg.Audio.DurationSeconds))
	}
	if cfg.Audio.DeviceRetries < 0 {
		errs = append(errs, fmt.Errorf("audio.device_retries %d must not be negative", cfg.Audio.DeviceRetries))
	}
	validateProviderName("audio", cfg.Audio.Device)

	// STT
	if cfg.STT.Primary.Name == "" {
		errs = append(errs, errors.New("stt.primary.name is required"))
	}
	validateProviderName("stt", cfg.STT.Primary.Name)
	seen := map[string]string{cfg.STT.Primary.Name: "stt.primary"}
	for i, fb := range cfg.STT.Fallbacks {
		prefix := fmt.Sprintf("stt.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[fb.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of %s", prefix, fb.Name, prev))
		}
		seen[fb.Name] = prefix
		validateProviderName("stt", fb.Name)
	}
	if cfg.STT.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("stt.timeout_seconds %d must be positive", cfg.STT.TimeoutSeconds))
	}
	if cfg.STT.CalibrationMS < 0 {
		errs = append(errs, fmt.Errorf("stt.calibration_ms %d must not be negative", cfg.STT.CalibrationMS))
	}
	cb := cfg.STT.CircuitBreaker
	if cb.MaxFailures < 0 || cb.ResetTimeoutSeconds < 0 || cb.HalfOpenMax < 0 {
		errs = append(errs, errors.New("stt.circuit_breaker values must not be negative"))
	}

	// History
	if !cfg.History.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("history.driver %q is invalid; valid values: sqlite, postgres", cfg.History.Driver))
	} else if cfg.History.Driver != HistoryNone && cfg.History.DSN == "" {
		errs = append(errs, fmt.Errorf("history.dsn is required when driver is %s", cfg.History.Driver))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
