package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

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

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found. Settings
// that are usable but probably wrong are logged as warnings instead.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Flanking
	if mb := cfg.Flanking.MaxBonus; mb != nil && *mb < 1 {
		slog.Warn("flanking.max_bonus is below 1; the bonus will be capped at 1", "max_bonus", *mb)
	}
	if cfg.Flanking.Reach.Default < 0 {
		errs = append(errs, fmt.Errorf("flanking.reach.default %v must not be negative", cfg.Flanking.Reach.Default))
	}
	if cfg.Flanking.Reach.Long < 0 {
		errs = append(errs, fmt.Errorf("flanking.reach.long %v must not be negative", cfg.Flanking.Reach.Long))
	}
	if r := cfg.Flanking.Reach; r.Long > 0 && r.Default > 0 && r.Long < r.Default {
		slog.Warn("flanking.reach.long is shorter than flanking.reach.default; reach weapons will be floored at the default",
			"default", r.Default, "long", r.Long)
	}

	// Store
	switch cfg.Store.Backend {
	case StoreMemory:
		if cfg.Store.PostgresDSN != "" {
			slog.Warn("store.postgres_dsn is set but store.backend is memory; flags will not survive restarts")
		}
	case StorePostgres:
		if cfg.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
		}
	case "":
		errs = append(errs, errors.New("store.backend is required"))
	default:
		// Third-party backends may be registered; the registry reports
		// unknown names at startup.
		slog.Warn("unknown store backend; it must be registered before startup", "backend", cfg.Store.Backend)
	}

	// MCP
	if cfg.MCP.Enabled && !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}

	// Discord
	if cfg.Discord.Token != "" && cfg.Discord.ChannelID == "" {
		errs = append(errs, errors.New("discord.channel_id is required when discord.token is set"))
	}
	if cfg.Discord.Token == "" && cfg.Discord.ChannelID != "" {
		slog.Warn("discord.channel_id is set without discord.token; flank changes will only be logged")
	}

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRatio; !(r >= 0 && r <= 1) {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %v must be between 0 and 1", r))
	}

	return errors.Join(errs...)
}
