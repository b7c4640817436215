package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Flanking rules and the log level are applied without restart; everything
// else is listed in RestartRequired.
type ConfigDiff struct {
	FlankingChanged bool
	NewFlanking     FlankingConfig

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the changed config sections that only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether d carries no changes.
func (d ConfigDiff) Empty() bool {
	return !d.FlankingChanged && !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !flankingEqual(old.Flanking, new.Flanking) {
		d.FlankingChanged = true
		d.NewFlanking = new.Flanking
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.LogFormat != new.Server.LogFormat ||
		!slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.MCP != new.MCP {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	}
	if old.Discord != new.Discord {
		d.RestartRequired = append(d.RestartRequired, "discord")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

// flankingEqual compares by effective value so that an absent max_bonus and
// an explicit default are equal.
func flankingEqual(a, b FlankingConfig) bool {
	return a.Options() == b.Options()
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
