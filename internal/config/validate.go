package config

import (
	"math"
	"net/url"
	"slices"
	"strings"
)

// Clock modes.
const (
	ClockModeOffset = "offset"
	ClockModeScaled = "scaled"
)

// Fall-behind policies.
const (
	FallBehindFastForward = "fast_forward"
	FallBehindAbort       = "abort"
)

// Checkpoint backends.
const (
	CheckpointNone     = "none"
	CheckpointFile     = "file"
	CheckpointSQLite   = "sqlite"
	CheckpointPostgres = "postgres"
)

var (
	optionalColumnNames = []string{"Open", "High", "Low", "Close", "Volume"}
	logLevels           = []string{"debug", "info", "warn", "error"}
	logFormats          = []string{"text", "json"}

	// ReservedFieldNames are the point fields written for every record or by
	// the indicator window. Extra columns may not reuse them.
	ReservedFieldNames = []string{
		"price", "open", "high", "low", "close", "volume",
		"sma", "volatility", "vwap", "std_dev", "momentum",
	}
)

// Validate checks that all required fields are set and values are valid.
// Every failure is an *InvalidConfigError.
func (c *ReplayConfig) Validate() error {
	if c.Dataset.Path == "" {
		return invalid("dataset.path", "is required")
	}
	for _, col := range c.Dataset.OptionalColumns {
		if !slices.Contains(optionalColumnNames, col) {
			return invalid("dataset.optional_columns", "has unknown column %q", col)
		}
	}
	seen := make(map[string]bool, len(c.Dataset.ExtraColumns))
	for _, col := range c.Dataset.ExtraColumns {
		switch {
		case col == "":
			return invalid("dataset.extra_columns", "must not contain empty names")
		case slices.Contains(ReservedFieldNames, col):
			return invalid("dataset.extra_columns", "column %q collides with a built-in field", col)
		case seen[col]:
			return invalid("dataset.extra_columns", "has duplicate column %q", col)
		}
		seen[col] = true
	}
	if r := c.Dataset.MaxSkipRatio; r != nil && (math.IsNaN(*r) || *r < 0 || *r > 1) {
		return invalid("dataset.max_skip_ratio", "must be between 0 and 1, got %v", *r)
	}
	if c.Dataset.SkipSampleRows < 1 {
		return invalid("dataset.skip_sample_rows", "must be >= 1")
	}

	switch c.Clock.Mode {
	case ClockModeOffset, ClockModeScaled:
	case "":
		return invalid("clock.mode", "is required (offset or scaled)")
	default:
		return invalid("clock.mode", "must be offset or scaled, got %q", c.Clock.Mode)
	}
	if s := c.Clock.SpeedFactor; s != nil {
		if math.IsNaN(*s) || math.IsInf(*s, 0) || *s <= 0 {
			return invalid("clock.speed_factor", "must be > 0, got %v", *s)
		}
		if c.Clock.Mode == ClockModeOffset && *s != 1 {
			return invalid("clock.speed_factor", "must be 1 in offset mode, got %v", *s)
		}
	}

	if c.Pacing.MaxPasses < 0 {
		return invalid("pacing.max_passes", "must be >= 0")
	}
	if c.Pacing.MaxLagSeconds < 0 || math.IsNaN(c.Pacing.MaxLagSeconds) {
		return invalid("pacing.max_lag_seconds", "must be >= 0, got %v", c.Pacing.MaxLagSeconds)
	}
	switch c.Pacing.OnFallBehind {
	case FallBehindFastForward, FallBehindAbort:
	case "":
		if c.Pacing.MaxLagSeconds > 0 {
			return invalid("pacing.on_fall_behind", "is required when max_lag_seconds is set")
		}
	default:
		return invalid("pacing.on_fall_behind", "must be fast_forward or abort, got %q", c.Pacing.OnFallBehind)
	}

	if err := c.Delivery.validate(); err != nil {
		return err
	}

	if c.Indicators.Window < 2 {
		return invalid("indicators.window", "must be >= 2")
	}

	if err := c.Checkpoint.validate(); err != nil {
		return err
	}

	if c.Monitor.Enabled && c.Monitor.Addr == "" {
		return invalid("monitor.addr", "is required when monitor is enabled")
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return invalid("telemetry.endpoint", "is required when telemetry is enabled")
	}

	if !slices.Contains(logLevels, c.Log.Level) {
		return invalid("log.level", "must be one of %v, got %q", logLevels, c.Log.Level)
	}
	if !slices.Contains(logFormats, c.Log.Format) {
		return invalid("log.format", "must be one of %v, got %q", logFormats, c.Log.Format)
	}

	return nil
}

func (d *DeliveryConfig) validate() error {
	if !d.DryRun {
		if d.EndpointURL == "" {
			return invalid("delivery.endpoint_url", "is required")
		}
		u, err := url.Parse(d.EndpointURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("delivery.endpoint_url", "must be an absolute http(s) URL, got %q", d.EndpointURL)
		}
	}
	if d.Timeout < 0 {
		return invalid("delivery.timeout", "must be >= 0")
	}
	if d.RetryMaxAttempts < 1 {
		return invalid("delivery.retry_max_attempts", "must be >= 1, got %d", d.RetryMaxAttempts)
	}
	if d.RetryBackoffBaseSeconds < 0 || math.IsNaN(d.RetryBackoffBaseSeconds) {
		return invalid("delivery.retry_backoff_base_seconds", "must be >= 0, got %v", d.RetryBackoffBaseSeconds)
	}
	if d.Measurement == "" {
		return invalid("delivery.measurement", "is required")
	}
	for k, v := range d.Tags {
		if strings.TrimSpace(k) == "" || v == "" {
			return invalid("delivery.tags", "must not contain empty keys or values, got %q=%q", k, v)
		}
	}
	return nil
}

func (c *CheckpointConfig) validate() error {
	switch c.Backend {
	case CheckpointNone:
		return nil
	case CheckpointFile, CheckpointSQLite:
		if c.Path == "" {
			return invalid("checkpoint.path", "is required for the %s backend", c.Backend)
		}
		return nil
	case CheckpointPostgres:
		return c.Postgres.validate("checkpoint.postgres")
	default:
		return invalid("checkpoint.backend", "must be one of none, file, sqlite, postgres, got %q", c.Backend)
	}
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return invalid(prefix+".host", "is required")
	}
	if db.Name == "" {
		return invalid(prefix+".name", "is required")
	}
	if db.User == "" {
		return invalid(prefix+".user", "is required")
	}
	if db.MaxConns < 1 {
		return invalid(prefix+".max_conns", "must be >= 1")
	}
	if db.MinConns < 0 {
		return invalid(prefix+".min_conns", "must be >= 0")
	}
	if db.MinConns > db.MaxConns {
		return invalid(prefix+".min_conns", "(%d) cannot exceed max_conns (%d)", db.MinConns, db.MaxConns)
	}
	return nil
}
