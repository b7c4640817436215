// Package app wires all flanker subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and watches the config file, and Shutdown
// tears everything down in order.
//
// For testing, inject fakes via functional options (WithStore,
// WithAnnouncer, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/flanker/internal/announce"
	"github.com/MrWong99/flanker/internal/bridge"
	"github.com/MrWong99/flanker/internal/config"
	"github.com/MrWong99/flanker/internal/flagstore"
	"github.com/MrWong99/flanker/internal/health"
	"github.com/MrWong99/flanker/internal/mcp"
	"github.com/MrWong99/flanker/internal/observe"
	"github.com/MrWong99/flanker/internal/resilience"
	"github.com/MrWong99/flanker/internal/tracker"
)

// defaultDrainTimeout bounds how long Run waits for open connections after
// ctx is cancelled.
const defaultDrainTimeout = 10 * time.Second

// App owns all subsystem lifetimes of the flanker server.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	level    *slog.LevelVar
	registry *config.Registry
	metrics  *observe.Metrics

	// Subsystems: initialised in New, torn down in Shutdown.
	store     flagstore.Store
	settings  *tracker.AtomicSettings
	announcer announce.Announcer
	tracker   *tracker.Tracker
	bridge    *bridge.Bridge
	mcp       *mcp.Server
	health    *health.Handler
	handler   http.Handler
	server    *http.Server
	watcher   *config.Watcher

	configPath    string
	watchInterval time.Duration
	drainTimeout  time.Duration

	// closers are called in order during Shutdown.
	closers []func() error

	drainOnce sync.Once
	drainErr  error
	stopOnce  sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a flag store instead of creating one from config.
func WithStore(s flagstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithRegistry sets the registry used to open the configured store backend.
// Without it only the memory backend is available.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithAnnouncer injects an announcer instead of building one from the
// discord config.
func WithAnnouncer(an announce.Announcer) Option {
	return func(a *App) { a.announcer = an }
}

// WithMetrics sets the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger and the level variable it was built with. A
// non-nil level is adjusted when server.log_level changes on reload.
func WithLogger(l *slog.Logger, level *slog.LevelVar) Option {
	return func(a *App) {
		a.logger = l
		a.level = level
	}
}

// WithConfigWatch makes Run poll the config file at path and apply hot
// reloadable changes. A zero interval uses the watcher default.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// WithDrainTimeout bounds the graceful HTTP shutdown performed when Run's
// context is cancelled.
func WithDrainTimeout(d time.Duration) Option {
	return func(a *App) { a.drainTimeout = d }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:          cfg,
		drainTimeout: defaultDrainTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Flag store ────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Announcer ─────────────────────────────────────────────────────
	if err := a.initAnnouncer(); err != nil {
		return nil, fmt.Errorf("app: init announcer: %w", err)
	}

	// ── 3. Tracker ───────────────────────────────────────────────────────
	a.settings = tracker.NewAtomicSettings(cfg.Flanking.Options())
	a.tracker = tracker.New(a.store, a.settings,
		tracker.WithAnnouncer(a.announcer),
		tracker.WithMetrics(a.metrics),
		tracker.WithLogger(a.logger),
	)

	// ── 4. Surfaces ──────────────────────────────────────────────────────
	a.bridge = bridge.New(a.tracker,
		bridge.WithMetrics(a.metrics),
		bridge.WithLogger(a.logger),
		bridge.WithOriginPatterns(cfg.Server.AllowedOrigins...),
	)
	if cfg.MCP.Enabled {
		a.mcp = mcp.NewServer(a.tracker, mcp.WithMetrics(a.metrics), mcp.WithLogger(a.logger))
	}
	a.health = health.New(health.PingChecker("store", a.store))
	a.handler = a.routes()

	// ── 5. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		var wopts []config.WatcherOption
		if a.watchInterval > 0 {
			wopts = append(wopts, config.WithInterval(a.watchInterval))
		}
		w, err := config.NewWatcher(a.configPath, a.ApplyConfig, wopts...)
		if err != nil {
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.watcher = w
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured flag store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		a.registry.RegisterStore(config.StoreMemory, MemoryStoreFactory)
	}

	store, closeFn, err := a.registry.CreateStore(ctx, a.cfg.Store)
	if err != nil {
		return err
	}
	// Remote backends fail fast while unreachable so token updates are
	// not held up by connection timeouts.
	if a.cfg.Store.Backend != config.StoreMemory {
		store = resilience.GuardStore(store, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:   "store/" + string(a.cfg.Store.Backend),
			Logger: a.logger,
		}))
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		closeFn()
		return nil
	})
	a.logger.Info("flag store ready", "backend", a.cfg.Store.Backend)
	return nil
}

// initAnnouncer logs every flank change and additionally posts to Discord
// when a bot token is configured.
func (a *App) initAnnouncer() error {
	if a.announcer != nil {
		return nil
	}
	logAnn := announce.Log{Logger: a.logger}
	if a.cfg.Discord.Token == "" {
		a.announcer = logAnn
		return nil
	}
	d, err := announce.NewDiscord(a.cfg.Discord.Token, a.cfg.Discord.ChannelID)
	if err != nil {
		return err
	}
	guarded := resilience.GuardAnnouncer(d, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "discord",
		ResetTimeout: time.Minute,
		Logger:       a.logger,
	}))
	a.announcer = announce.Multi{logAnn, guarded}
	a.logger.Info("discord announcements enabled", "channel_id", a.cfg.Discord.ChannelID)
	return nil
}

// routes builds the HTTP handler tree.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.bridge.Register(mux)
	if a.mcp != nil {
		mux.Handle(a.cfg.MCP.Path, a.mcp.Handler())
	}
	return observe.Middleware(a.metrics)(mux)
}

// MemoryStoreFactory is the [config.StoreFactory] for the memory backend.
func MemoryStoreFactory(context.Context, config.StoreConfig) (flagstore.Store, func(), error) {
	return flagstore.NewMemStore(), nil, nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler with all routes and middleware.
func (a *App) Handler() http.Handler { return a.handler }

// Tracker returns the flanking tracker shared by all surfaces.
func (a *App) Tracker() *tracker.Tracker { return a.tracker }

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot reloadable differences between old and new.
// Flanking rules take effect for the next evaluation. Changes to other
// sections are logged and wait for a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.FlankingChanged {
		opts := d.NewFlanking.Options()
		a.settings.Store(opts)
		a.logger.Info("flanking rules reloaded",
			"max_bonus", opts.MaxBonus,
			"reach_default", opts.Reach.Default,
			"reach_long", opts.Reach.Long,
		)
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		a.logger.Info("log level changed", "log_level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		a.logger.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured listen address and blocks until ctx is
// cancelled or the server fails. On cancellation open bridge connections
// are closed with a going-away status and in-flight requests are drained
// before Run returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like Run but accepts connections on ln. Serve takes ownership
// of ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.server = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(a.logger.Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve http: %w", err)
	})
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.drainTimeout)
		defer cancel()
		return a.drain(drainCtx)
	})

	a.logger.Info("server listening",
		"addr", ln.Addr().String(),
		"tls", a.cfg.Server.TLS != nil,
		"mcp", a.mcp != nil,
	)

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// drain stops accepting work: readiness fails, bridge sessions are closed
// and the HTTP server shuts down. It runs at most once.
func (a *App) drain(ctx context.Context) error {
	a.drainOnce.Do(func() {
		a.health.SetDraining(true)
		var errs []error
		if err := a.bridge.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close bridge: %w", err))
		}
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown http: %w", err))
			}
		}
		a.drainErr = errors.Join(errs...)
	})
	return a.drainErr
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems. It drains HTTP if Run has not done so
// already, then runs the closers in order. If ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		if err := a.drain(ctx); err != nil {
			a.logger.Warn("drain error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
