// Command flanker is the flanking detection server for virtual tabletops.
//
// Usage:
//
//	flanker [serve] [-config flanker.yaml]
//	flanker check -scene scene.yaml -target ref [-foundry] [-max-bonus n] [-config flanker.yaml]
//	flanker mcp [-config flanker.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/flanker/internal/announce"
	"github.com/MrWong99/flanker/internal/app"
	"github.com/MrWong99/flanker/internal/config"
	"github.com/MrWong99/flanker/internal/flagstore"
	"github.com/MrWong99/flanker/internal/mcp"
	"github.com/MrWong99/flanker/internal/observe"
	"github.com/MrWong99/flanker/internal/tracker"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches to a subcommand and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	cmd := "serve"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return runServe(args, stderr)
	case "check":
		return runCheck(args, stdout, stderr)
	case "mcp":
		return runMCP(args, stderr)
	case "version":
		fmt.Fprintln(stdout, "flanker", version)
		return 0
	default:
		fmt.Fprintf(stderr, "flanker: unknown command %q (want serve, check, mcp or version)\n", cmd)
		return 2
	}
}

// ── serve ─────────────────────────────────────────────────────────────────────

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "flanker.yaml", "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(stderr, "flanker: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(stderr, "flanker: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, level := newLogger(stderr, cfg.Server)
	slog.SetDefault(logger)

	logger.Info("flanker starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, cfg.Telemetry, observe.WithServiceVersion(version))
	if err != nil {
		logger.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Store registry ────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinStores(reg)

	application, err := app.New(ctx, cfg,
		app.WithRegistry(reg),
		app.WithLogger(logger, level),
		app.WithConfigWatch(*configPath, 0),
		app.WithMetrics(telemetry.Metrics),
	)
	if err != nil {
		logger.Error("failed to initialise application", "err", err)
		_ = telemetry.Shutdown(context.Background())
		return 1
	}

	printStartupSummary(stderr, cfg, reg)
	logger.Info("server ready; press Ctrl+C to shut down")

	exit := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
		exit = 1
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown error", "err", err)
	}
	logger.Info("goodbye")
	return exit
}

// ── mcp ───────────────────────────────────────────────────────────────────────

// runMCP serves the MCP tools over stdin/stdout. Logs go to stderr so they
// never corrupt the protocol stream.
func runMCP(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "optional YAML configuration file for flanking rules")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadOptionalConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "flanker: %v\n", err)
		return 1
	}
	logger, _ := newLogger(stderr, cfg.Server)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr := tracker.New(flagstore.NewMemStore(), tracker.StaticSettings(cfg.Flanking.Options()),
		tracker.WithAnnouncer(announce.Log{Logger: logger}),
		tracker.WithLogger(logger),
	)
	srv := mcp.NewServer(tr, mcp.WithLogger(logger))

	logger.Info("serving MCP over stdio", "version", version)
	if err := srv.RunStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("mcp server error", "err", err)
		return 1
	}
	return 0
}

// loadOptionalConfig loads path, or returns the defaults when path is empty.
func loadOptionalConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// ── Store wiring ──────────────────────────────────────────────────────────────

// registerBuiltinStores wires the flag store backends that ship with
// flanker into reg.
func registerBuiltinStores(reg *config.Registry) {
	reg.RegisterStore(config.StoreMemory, app.MemoryStoreFactory)

	reg.RegisterStore(config.StorePostgres, func(ctx context.Context, cfg config.StoreConfig) (flagstore.Store, func(), error) {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := flagstore.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	})

	for _, name := range reg.Backends() {
		slog.Debug("registered store backend", "name", name)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config, reg *config.Registry) {
	row := func(label, value string) {
		if len(value) > 19 {
			value = value[:16] + "..."
		}
		fmt.Fprintf(w, "║  %-15s : %-19s ║\n", label, value)
	}
	opts := cfg.Flanking.Options()

	fmt.Fprintln(w, "╔═══════════════════════════════════════════╗")
	fmt.Fprintln(w, "║          flanker: startup summary         ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════════╣")
	row("Listen addr", cfg.Server.ListenAddr)
	row("Store", fmt.Sprintf("%s (%d known)", cfg.Store.Backend, len(reg.Backends())))
	row("Max bonus", fmt.Sprint(opts.MaxBonus))
	if cfg.MCP.Enabled {
		row("MCP", cfg.MCP.Path)
	} else {
		row("MCP", "(disabled)")
	}
	if cfg.Discord.Token != "" {
		row("Discord", "channel "+cfg.Discord.ChannelID)
	} else {
		row("Discord", "(disabled)")
	}
	row("Trace sampling", fmt.Sprintf("%g%%", cfg.Telemetry.TraceSampleRatio*100))
	fmt.Fprintln(w, "╚═══════════════════════════════════════════╝")
}

// ── Logger ────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The returned level var lets config
// reloads change verbosity at runtime.
func newLogger(w io.Writer, sc config.ServerConfig) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(sc.LogLevel.Level())
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if sc.LogFormat == config.LogFormatJSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), level
}
