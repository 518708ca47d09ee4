package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/dmva/pkg/va"
)

// Load reads and validates the YAML configuration file at path.
// Defaults are applied before validation.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: load %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML configuration from r, applies defaults and
// validates the result. Unknown fields are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Engine.Name == "" {
		cfg.Engine.Name = EngineLoopback
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "dmva"
	}
}

// Validate checks cfg for errors and returns all of them joined. Suspicious
// but legal settings are logged as warnings.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level: invalid value %q (want debug, info, warn or error)", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls: cert_file and key_file are both required"))
	}

	if cfg.Controller.MaxPending < 0 {
		errs = append(errs, fmt.Errorf("controller.max_pending: must not be negative, got %d", cfg.Controller.MaxPending))
	}
	if m := cfg.Controller.AutoOpen; m != "" {
		if err := va.ValidateOpen(m, nil); err != nil {
			errs = append(errs, fmt.Errorf("controller.auto_open: %w", err))
		}
	}

	errs = append(errs, validateEngine(&cfg.Engine)...)

	if cfg.Vocabulary.PostgresDSN == "" {
		slog.Warn("vocabulary.postgres_dsn is empty; uploaded vocabularies will not survive a restart")
	}

	return errors.Join(errs...)
}

func validateEngine(e *EngineConfig) []error {
	var errs []error
	switch e.Name {
	case EngineWebSocket:
		if e.URL == "" {
			errs = append(errs, errors.New("engine.url: required for the websocket engine"))
		}
		if len(e.Models) > 0 {
			slog.Warn("engine.models is ignored by the websocket engine; the dialog server enforces licensing")
		}
	case EngineLoopback:
		if e.URL != "" {
			slog.Warn("engine.url is ignored by the loopback engine", "url", e.URL)
		}
	default:
		slog.Warn("unknown engine name; it must be registered before the app starts", "engine", e.Name)
	}
	for i, m := range e.Models {
		if m == "" {
			errs = append(errs, fmt.Errorf("engine.models[%d]: must not be empty", i))
		}
	}
	if e.Latency < 0 {
		errs = append(errs, fmt.Errorf("engine.latency: must not be negative, got %s", e.Latency))
	}
	if e.DialTimeout < 0 {
		errs = append(errs, fmt.Errorf("engine.dial_timeout: must not be negative, got %s", e.DialTimeout))
	}
	if e.Breaker.MaxFailures < 0 || e.Breaker.HalfOpenMax < 0 || e.Breaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("engine.breaker: values must not be negative"))
	}
	return errs
}
