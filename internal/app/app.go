// Package app wires the dmva subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates the vocabulary store,
// the dialog engine and the session controller, Run serves HTTP and the
// optional console until ctx is cancelled, and Shutdown tears everything down
// in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithConsoleIO, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/dmva/internal/config"
	"github.com/MrWong99/dmva/internal/console"
	"github.com/MrWong99/dmva/internal/health"
	"github.com/MrWong99/dmva/internal/observe"
	"github.com/MrWong99/dmva/pkg/va"
	"github.com/MrWong99/dmva/pkg/vocab"
)

// defaultUser owns durable vocabulary when engine.user_id is not set.
const defaultUser = "default"

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics
	logLevel *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	store    vocab.Store
	engine   va.Engine
	ctrl     *va.Controller
	sessions *SessionManager
	console  *console.Console
	server   *http.Server
	handler  http.Handler

	consoleIn  io.Reader
	consoleOut io.Writer

	checkers       []health.Checker
	metricsHandler http.Handler

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a vocabulary store instead of creating one from config.
func WithStore(s vocab.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets config reloads adjust the log level at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithChecker adds a readiness checker to /readyz.
func WithChecker(c health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c) }
}

// WithConsoleIO sets the console input and output. Default: none, which
// keeps the console disabled even when the config enables it.
func WithConsoleIO(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.consoleIn = in
		a.consoleOut = out
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. reg supplies the
// engine named in cfg.Engine.
//
// New performs all initialisation synchronously: store connection and
// migration, vocabulary preload, engine and controller construction, and HTTP
// route registration. No session is opened yet.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		registry: reg,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Vocabulary store ──────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Preload ───────────────────────────────────────────────────────
	if err := a.preload(ctx, cfg.Vocabulary.PreloadFile); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: preload vocabulary: %w", err)
	}

	// ── 3. Engine + controller ───────────────────────────────────────────
	if err := a.initController(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init controller: %w", err)
	}

	// ── 4. HTTP ──────────────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore connects the PostgreSQL store or falls back to memory.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Vocabulary.PostgresDSN
	if dsn == "" {
		a.store = vocab.NewMemStore()
		slog.Info("using in-memory vocabulary store")
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	store := vocab.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	a.store = store
	a.checkers = append(a.checkers, health.Checker{
		Name:  "vocabulary_store",
		Check: pool.Ping,
	})
	slog.Info("using postgres vocabulary store")
	return nil
}

// preload loads a vocabulary file into the store. An empty path is a no-op.
func (a *App) preload(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	f, err := vocab.LoadFile(path)
	if err != nil {
		a.metrics.RecordPreload(ctx, 0, "error")
		return err
	}
	n, err := vocab.Preload(ctx, a.store, a.user(), f)
	if err != nil {
		a.metrics.RecordPreload(ctx, n, "error")
		return err
	}
	a.metrics.RecordPreload(ctx, n, "ok")
	slog.Info("preloaded vocabulary", "path", path, "concepts", n)
	return nil
}

// initController builds the engine from the registry and the controller
// driving it, then installs the observers.
func (a *App) initController() error {
	eng, err := a.registry.CreateEngine(a.cfg.Engine, a.store)
	if err != nil {
		return err
	}
	a.engine = eng

	cc := a.cfg.Controller
	opts := []va.Option{va.WithRecorder(a.metrics)}
	if cc.MaxPending > 0 {
		opts = append(opts, va.WithMaxPending(cc.MaxPending))
	}
	// Zero keeps the controller default; a negative value disables the timer.
	if cc.OpenTimeout != 0 {
		opts = append(opts, va.WithOpenTimeout(cc.OpenTimeout))
	}
	if cc.CloseTimeout != 0 {
		opts = append(opts, va.WithCloseTimeout(cc.CloseTimeout))
	}
	a.ctrl = va.New(eng, opts...)
	a.sessions = NewSessionManager(a.ctrl, a.store, a.user())

	observers := Observers{a.sessions.Observer(), logObserver{}}
	if cc.Console && a.consoleIn != nil && a.consoleOut != nil {
		var copts []console.Option
		if s, ok := eng.(console.Sayer); ok {
			copts = append(copts, console.WithSayer(s))
		}
		if c, ok := eng.(console.Crasher); ok {
			copts = append(copts, console.WithCrasher(c))
		}
		a.console = console.New(a.ctrl, a.consoleOut, copts...)
		observers = append(observers, a.console.Observer())
	}
	a.ctrl.SetObserver(observers)

	slog.Info("session controller ready", "engine", a.cfg.Engine.Name)
	return nil
}

// initHTTP assembles the mux. The server itself is started by Run.
func (a *App) initHTTP() {
	mux := http.NewServeMux()

	checkers := append([]health.Checker{health.SessionChecker(a.ctrl, false)}, a.checkers...)
	health.New(checkers...).Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	a.sessions.Register(mux)

	a.handler = observe.Middleware(a.metrics)(mux)
}

func (a *App) user() string {
	if a.cfg.Engine.UserID != "" {
		return a.cfg.Engine.UserID
	}
	return defaultUser
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Controller returns the session controller.
func (a *App) Controller() *va.Controller { return a.ctrl }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Store returns the durable vocabulary store.
func (a *App) Store() vocab.Store { return a.store }

// Handler returns the HTTP handler serving health, metrics and the session
// API.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run opens the configured auto-open session, then serves HTTP and the
// console until ctx is cancelled or the console quits. Both end Run with a
// nil error; a failing server or console input is returned.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if model := a.cfg.Controller.AutoOpen; model != "" {
		if err := a.sessions.Start(model, nil); err != nil {
			return fmt.Errorf("app: auto-open %q: %w", model, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		a.server = &http.Server{
			Addr:              addr,
			Handler:           a.handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		srv := a.server
		g.Go(func() error {
			slog.Info("http server listening", "addr", addr, "tls", a.cfg.Server.TLS != nil)
			var err error
			if tls := a.cfg.Server.TLS; tls != nil {
				err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("app: http server: %w", err)
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	if a.console != nil {
		g.Go(func() error {
			defer cancel()
			return a.console.Run(gctx, a.consoleIn)
		})
	}

	slog.Info("app running", "engine", a.cfg.Engine.Name, "console", a.console != nil)
	<-gctx.Done()

	return g.Wait()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the live-reloadable parts of a config change. It is the
// onChange callback of a [config.Watcher].
func (a *App) Reload(_, _ *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PreloadChanged {
		if err := a.preload(context.Background(), d.NewPreloadFile); err != nil {
			slog.Error("vocabulary preload failed", "path", d.NewPreloadFile, "err", err)
		}
	}
	for _, section := range d.RestartRequired {
		slog.Warn("config change requires a restart", "section", section)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes the session, drains pending notifications, stops the HTTP
// server and releases the store, in that order. It is safe to call more than
// once; later calls are no-ops.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if a.ctrl != nil {
			if err := a.ctrl.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("controller: %w", err))
			}
		}
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("http server: %w", err))
			}
		}
		if err := a.closeAll(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

// closeAll runs the closers in reverse order and clears them.
func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
