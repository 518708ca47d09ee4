// Command dmva runs the VA session controller with its HTTP surface and an
// optional interactive console.
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

	"github.com/MrWong99/dmva/internal/app"
	"github.com/MrWong99/dmva/internal/config"
	"github.com/MrWong99/dmva/internal/health"
	"github.com/MrWong99/dmva/internal/observe"
	"github.com/MrWong99/dmva/internal/resilience"
	"github.com/MrWong99/dmva/pkg/engine/loopback"
	"github.com/MrWong99/dmva/pkg/engine/wsengine"
	"github.com/MrWong99/dmva/pkg/va"
	"github.com/MrWong99/dmva/pkg/vocab"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload the log level and vocabulary preload when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	var application *app.App
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config, d config.ConfigDiff) {
		if application != nil {
			application.Reload(old, new, d)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dmva: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dmva: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(&level))

	slog.Info("dmva starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Engine registry ───────────────────────────────────────────────────────
	breaker := newDialBreaker(cfg.Engine.Breaker, metrics)
	reg := config.NewRegistry()
	registerBuiltinEngines(reg, breaker)

	opts := []app.Option{
		app.WithMetrics(metrics),
		app.WithMetricsHandler(provider.MetricsHandler()),
		app.WithLevelVar(&level),
	}
	if cfg.Engine.Name == config.EngineWebSocket {
		opts = append(opts, app.WithChecker(health.BreakerChecker(breaker)))
	}
	if cfg.Controller.Console {
		opts = append(opts, app.WithConsoleIO(os.Stdin, os.Stdout))
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, reg)

	application, err = app.New(ctx, cfg, reg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *watch {
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("config watcher stopped", "err", err)
			}
		}()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	code := 0
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		code = 1
	}
	slog.Info("goodbye")
	return code
}

// ── Engine wiring ─────────────────────────────────────────────────────────────

// registerBuiltinEngines wires the engines that ship with dmva into reg.
// Websocket dials go through breaker.
func registerBuiltinEngines(reg *config.Registry, breaker *resilience.CircuitBreaker) {
	reg.RegisterEngine(config.EngineLoopback, func(cfg config.EngineConfig, store vocab.Store) (va.Engine, error) {
		opts := []loopback.Option{loopback.WithStore(store)}
		if cfg.UserID != "" {
			opts = append(opts, loopback.WithUser(cfg.UserID))
		}
		if len(cfg.Models) > 0 {
			opts = append(opts, loopback.WithModels(cfg.Models...))
		}
		if cfg.Latency > 0 {
			opts = append(opts, loopback.WithLatency(cfg.Latency))
		}
		return loopback.New(opts...), nil
	})

	reg.RegisterEngine(config.EngineWebSocket, func(cfg config.EngineConfig, _ vocab.Store) (va.Engine, error) {
		if cfg.URL == "" {
			return nil, errors.New("engine.url is required")
		}
		opts := []wsengine.Option{wsengine.WithBreaker(breaker)}
		if cfg.Token != "" {
			opts = append(opts, wsengine.WithToken(cfg.Token))
		}
		if cfg.DialTimeout > 0 {
			opts = append(opts, wsengine.WithDialTimeout(cfg.DialTimeout))
		}
		return wsengine.New(cfg.URL, opts...), nil
	})

	for _, name := range reg.Engines() {
		slog.Debug("registered engine", "name", name)
	}
}

// newDialBreaker builds the dial circuit breaker and reports its
// transitions to metrics.
func newDialBreaker(cfg config.BreakerConfig, metrics *observe.Metrics) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "dialog_server",
		MaxFailures:  cfg.MaxFailures,
		ResetTimeout: cfg.ResetTimeout,
		HalfOpenMax:  cfg.HalfOpenMax,
		OnStateChange: func(name string, from, to resilience.State) {
			metrics.RecordBreakerTransition(context.Background(), name, from.String(), to.String())
		},
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, reg *config.Registry) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         dmva startup summary          ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	engine := cfg.Engine.Name
	if cfg.Engine.Name == config.EngineWebSocket {
		engine += " " + cfg.Engine.URL
	}
	printRow("Engine", engine)
	printRow("Engines known", fmt.Sprint(len(reg.Engines())))
	store := "memory"
	if cfg.Vocabulary.PostgresDSN != "" {
		store = "postgres"
	}
	printRow("Vocabulary", store)
	printRow("Preload", orNone(cfg.Vocabulary.PreloadFile))
	printRow("Auto-open", orNone(cfg.Controller.AutoOpen))
	printRow("Console", fmt.Sprint(cfg.Controller.Console))
	printRow("Listen addr", orNone(cfg.Server.ListenAddr))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
