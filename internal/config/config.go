// Package config provides the configuration schema, loader, hot-reload watcher
// and engine registry for the dmva server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the dmva server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a [slog.Level]. Unknown levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Built-in engine names understood by the registry.
const (
	EngineLoopback  = "loopback"
	EngineWebSocket = "websocket"
)

// Config is the root configuration structure for dmva.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Controller ControllerConfig `yaml:"controller"`
	Engine     EngineConfig     `yaml:"engine"`
	Vocabulary VocabularyConfig `yaml:"vocabulary"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for the health and metrics endpoints
	// (e.g., ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds paths to the TLS certificate and private key files.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ControllerConfig tunes the session controller.
type ControllerConfig struct {
	// MaxPending caps outstanding vocabulary operations. Zero keeps the
	// controller default.
	MaxPending int `yaml:"max_pending"`

	// OpenTimeout bounds the Opening state. Zero keeps the default; a
	// negative value disables the timer.
	OpenTimeout time.Duration `yaml:"open_timeout"`

	// CloseTimeout bounds the Closing state, with the same conventions as
	// OpenTimeout.
	CloseTimeout time.Duration `yaml:"close_timeout"`

	// AutoOpen, when set, opens a session with this grammar model on start.
	AutoOpen string `yaml:"auto_open"`

	// Console enables the interactive stdin console.
	Console bool `yaml:"console"`
}

// EngineConfig selects and configures the dialog engine.
type EngineConfig struct {
	// Name is the registered engine name: "loopback" or "websocket".
	Name string `yaml:"name"`

	// URL is the dialog server endpoint (websocket only).
	URL string `yaml:"url"`

	// Token is sent as a bearer token when dialing (websocket only).
	Token string `yaml:"token"`

	// UserID scopes durable vocabularies (loopback only).
	UserID string `yaml:"user_id"`

	// Models lists the licensed grammar-model prefixes (loopback only).
	// Empty licenses every model.
	Models []string `yaml:"models"`

	// Latency delays every loopback answer.
	Latency time.Duration `yaml:"latency"`

	// DialTimeout bounds the websocket handshake.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// Breaker guards websocket dials.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the dial circuit breaker. Zero values keep the
// breaker defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// VocabularyConfig configures durable vocabulary storage.
type VocabularyConfig struct {
	// PostgresDSN selects the PostgreSQL store. Empty uses an in-memory store.
	PostgresDSN string `yaml:"postgres_dsn"`

	// PreloadFile is a YAML vocabulary file loaded into the store on start
	// and whenever it changes in the config.
	PreloadFile string `yaml:"preload_file"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// ServiceName is reported as the OTel service.name resource attribute.
	ServiceName string `yaml:"service_name"`
}
