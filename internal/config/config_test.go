package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
dataset:
  path: ./dataset/bitcoin_processed.csv
clock:
  mode: scaled
  speed_factor: 60
pacing:
  loop: true
  max_lag_seconds: 5
  on_fall_behind: abort
delivery:
  endpoint_url: http://localhost:8186/write
  retry_max_attempts: 2
  retry_backoff_base_seconds: 0.5
  timeout: 3s
  tags:
    source: csv
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Dataset.Path != "./dataset/bitcoin_processed.csv" {
		t.Errorf("Dataset.Path = %q, want %q", cfg.Dataset.Path, "./dataset/bitcoin_processed.csv")
	}
	if cfg.Clock.Mode != ClockModeScaled {
		t.Errorf("Clock.Mode = %q, want %q", cfg.Clock.Mode, ClockModeScaled)
	}
	if cfg.Clock.SpeedFactor == nil || *cfg.Clock.SpeedFactor != 60 {
		t.Errorf("Clock.SpeedFactor = %v, want 60", cfg.Clock.SpeedFactor)
	}
	if !cfg.Pacing.Loop {
		t.Error("Pacing.Loop = false, want true")
	}
	if cfg.Pacing.MaxLag() != 5*time.Second {
		t.Errorf("Pacing.MaxLag() = %v, want 5s", cfg.Pacing.MaxLag())
	}
	if cfg.Delivery.RetryBackoffBase() != 500*time.Millisecond {
		t.Errorf("Delivery.RetryBackoffBase() = %v, want 500ms", cfg.Delivery.RetryBackoffBase())
	}
	if cfg.Delivery.Timeout != 3*time.Second {
		t.Errorf("Delivery.Timeout = %v, want 3s", cfg.Delivery.Timeout)
	}
	if cfg.Delivery.Tags["source"] != "csv" {
		t.Errorf("Delivery.Tags[source] = %q, want %q", cfg.Delivery.Tags["source"], "csv")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_INFLUX_TOKEN", "secret123")

	yaml := `
dataset:
  path: data.csv
clock:
  mode: offset
delivery:
  endpoint_url: http://localhost:8086/api/v2/write
  auth_token: ${TEST_INFLUX_TOKEN}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Delivery.AuthToken != "secret123" {
		t.Errorf("Delivery.AuthToken = %q, want %q", cfg.Delivery.AuthToken, "secret123")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("REPLAY_ENDPOINT_URL", "http://telegraf:8186/write")
	t.Setenv("REPLAY_SPEED_FACTOR", "12.5")
	t.Setenv("REPLAY_LOOP", "true")

	yaml := `
dataset:
  path: data.csv
clock:
  mode: scaled
  speed_factor: 2
delivery:
  endpoint_url: http://localhost:8186/write
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}

	if cfg.Delivery.EndpointURL != "http://telegraf:8186/write" {
		t.Errorf("Delivery.EndpointURL = %q, want env override", cfg.Delivery.EndpointURL)
	}
	if *cfg.Clock.SpeedFactor != 12.5 {
		t.Errorf("Clock.SpeedFactor = %v, want 12.5", *cfg.Clock.SpeedFactor)
	}
	if !cfg.Pacing.Loop {
		t.Error("Pacing.Loop = false, want true from env")
	}
}

func TestLoadWithBadSpeedEnv(t *testing.T) {
	t.Setenv("REPLAY_SPEED_FACTOR", "fast")

	path := writeTempFile(t, "clock:\n  mode: scaled\n")

	_, err := Load(path)
	var cfgErr *InvalidConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Load() error = %v, want *InvalidConfigError", err)
	}
	if cfgErr.Field != "clock.speed_factor" {
		t.Errorf("Field = %q, want clock.speed_factor", cfgErr.Field)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
dataset:
  path: data.csv
clock:
  mode: scaled
delivery:
  endpoint_url: http://localhost:8186/write
checkpoint:
  backend: file
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Dataset.TimestampColumn != DefaultTimestampColumn {
		t.Errorf("Dataset.TimestampColumn = %q, want default %q", cfg.Dataset.TimestampColumn, DefaultTimestampColumn)
	}
	if *cfg.Dataset.MaxSkipRatio != DefaultMaxSkipRatio {
		t.Errorf("Dataset.MaxSkipRatio = %v, want default %v", *cfg.Dataset.MaxSkipRatio, DefaultMaxSkipRatio)
	}
	if *cfg.Clock.SpeedFactor != DefaultSpeedFactor {
		t.Errorf("Clock.SpeedFactor = %v, want default %v", *cfg.Clock.SpeedFactor, DefaultSpeedFactor)
	}
	if cfg.Delivery.RetryMaxAttempts != DefaultRetryMaxAttempts {
		t.Errorf("Delivery.RetryMaxAttempts = %d, want default %d", cfg.Delivery.RetryMaxAttempts, DefaultRetryMaxAttempts)
	}
	if cfg.Delivery.RetryBackoffBase() != time.Second {
		t.Errorf("Delivery.RetryBackoffBase() = %v, want 1s", cfg.Delivery.RetryBackoffBase())
	}
	if cfg.Pacing.MaxLag() != 0 {
		t.Errorf("Pacing.MaxLag() = %v, want 0 (unlimited)", cfg.Pacing.MaxLag())
	}
	if cfg.Checkpoint.Path != DefaultCheckpointFile {
		t.Errorf("Checkpoint.Path = %q, want default %q", cfg.Checkpoint.Path, DefaultCheckpointFile)
	}
	if cfg.Delivery.Measurement != DefaultMeasurement {
		t.Errorf("Delivery.Measurement = %q, want default %q", cfg.Delivery.Measurement, DefaultMeasurement)
	}
	if len(cfg.Delivery.Tags) != 1 || cfg.Delivery.Tags["source"] != "csv" {
		t.Errorf("Delivery.Tags = %v, want default source=csv", cfg.Delivery.Tags)
	}
}

func TestLoadWithDefaults_EmptyTagsKept(t *testing.T) {
	yaml := `
dataset:
  path: data.csv
clock:
  mode: scaled
delivery:
  endpoint_url: http://localhost:8186/write
  tags: {}
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}
	if len(cfg.Delivery.Tags) != 0 {
		t.Errorf("Delivery.Tags = %v, want empty", cfg.Delivery.Tags)
	}

	cfg.Delivery.Tags = nil
	cfg.applyDefaults()
	cfg.Delivery.Tags["market"] = "default"
	if _, ok := DefaultTags["market"]; ok {
		t.Error("applyDefaults should copy DefaultTags, not share it")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config file") {
		t.Errorf("Load() error = %v, want read config file error", err)
	}
}

func TestValidate(t *testing.T) {
	speed := func(v float64) *float64 { return &v }

	valid := func() ReplayConfig {
		cfg := ReplayConfig{
			Dataset:  DatasetConfig{Path: "data.csv"},
			Clock:    ClockConfig{Mode: ClockModeScaled},
			Delivery: DeliveryConfig{EndpointURL: "http://localhost:8186/write"},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *ReplayConfig)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *ReplayConfig) {},
			wantErr: "",
		},
		{
			name:    "missing dataset path",
			mutate:  func(c *ReplayConfig) { c.Dataset.Path = "" },
			wantErr: "invalid config: dataset.path is required",
		},
		{
			name:    "missing clock mode",
			mutate:  func(c *ReplayConfig) { c.Clock.Mode = "" },
			wantErr: "invalid config: clock.mode is required (offset or scaled)",
		},
		{
			name:    "zero speed factor",
			mutate:  func(c *ReplayConfig) { c.Clock.SpeedFactor = speed(0) },
			wantErr: "invalid config: clock.speed_factor must be > 0, got 0",
		},
		{
			name:    "negative speed factor",
			mutate:  func(c *ReplayConfig) { c.Clock.SpeedFactor = speed(-2) },
			wantErr: "invalid config: clock.speed_factor must be > 0, got -2",
		},
		{
			name: "offset mode with speed",
			mutate: func(c *ReplayConfig) {
				c.Clock.Mode = ClockModeOffset
				c.Clock.SpeedFactor = speed(10)
			},
			wantErr: "invalid config: clock.speed_factor must be 1 in offset mode, got 10",
		},
		{
			name:    "max lag without policy",
			mutate:  func(c *ReplayConfig) { c.Pacing.MaxLagSeconds = 5 },
			wantErr: "invalid config: pacing.on_fall_behind is required when max_lag_seconds is set",
		},
		{
			name:    "unknown fall behind policy",
			mutate:  func(c *ReplayConfig) { c.Pacing.OnFallBehind = "skip" },
			wantErr: `invalid config: pacing.on_fall_behind must be fast_forward or abort, got "skip"`,
		},
		{
			name:    "relative endpoint",
			mutate:  func(c *ReplayConfig) { c.Delivery.EndpointURL = "/write" },
			wantErr: `invalid config: delivery.endpoint_url must be an absolute http(s) URL, got "/write"`,
		},
		{
			name:    "empty tag value",
			mutate:  func(c *ReplayConfig) { c.Delivery.Tags = map[string]string{"source": ""} },
			wantErr: `invalid config: delivery.tags must not contain empty keys or values, got "source"=""`,
		},
		{
			name: "dry run needs no endpoint",
			mutate: func(c *ReplayConfig) {
				c.Delivery.EndpointURL = ""
				c.Delivery.DryRun = true
			},
			wantErr: "",
		},
		{
			name:    "negative retry attempts",
			mutate:  func(c *ReplayConfig) { c.Delivery.RetryMaxAttempts = -1 },
			wantErr: "invalid config: delivery.retry_max_attempts must be >= 1, got -1",
		},
		{
			name:    "skip ratio above one",
			mutate:  func(c *ReplayConfig) { c.Dataset.MaxSkipRatio = speed(1.5) },
			wantErr: "invalid config: dataset.max_skip_ratio must be between 0 and 1, got 1.5",
		},
		{
			name:    "unknown optional column",
			mutate:  func(c *ReplayConfig) { c.Dataset.OptionalColumns = []string{"Weighted_Price"} },
			wantErr: `invalid config: dataset.optional_columns has unknown column "Weighted_Price"`,
		},
		{
			name:    "extra column shadows price field",
			mutate:  func(c *ReplayConfig) { c.Dataset.ExtraColumns = []string{"Weighted_Price", "price"} },
			wantErr: `invalid config: dataset.extra_columns column "price" collides with a built-in field`,
		},
		{
			name:    "extra column shadows indicator field",
			mutate:  func(c *ReplayConfig) { c.Dataset.ExtraColumns = []string{"sma"} },
			wantErr: `invalid config: dataset.extra_columns column "sma" collides with a built-in field`,
		},
		{
			name:    "duplicate extra column",
			mutate:  func(c *ReplayConfig) { c.Dataset.ExtraColumns = []string{"Weighted_Price", "Weighted_Price"} },
			wantErr: `invalid config: dataset.extra_columns has duplicate column "Weighted_Price"`,
		},
		{
			name: "postgres checkpoint min_conns exceeds max_conns",
			mutate: func(c *ReplayConfig) {
				c.Checkpoint.Backend = CheckpointPostgres
				c.Checkpoint.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", MaxConns: 2, MinConns: 5}
			},
			wantErr: "invalid config: checkpoint.postgres.min_conns (5) cannot exceed max_conns (2)",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *ReplayConfig) { c.Log.Level = "trace" },
			wantErr: `invalid config: log.level must be one of [debug info warn error], got "trace"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error %q, got nil", tt.wantErr)
			}
			if err.Error() != tt.wantErr {
				t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
			}
			var cfgErr *InvalidConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("Validate() error type = %T, want *InvalidConfigError", err)
			}
		})
	}
}

func TestFinalize(t *testing.T) {
	cfg := ReplayConfig{
		Dataset:  DatasetConfig{Path: "data.csv"},
		Clock:    ClockConfig{Mode: ClockModeOffset},
		Delivery: DeliveryConfig{DryRun: true},
	}
	if err := cfg.Finalize(); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if cfg.Log.Format != DefaultLogFormat {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, DefaultLogFormat)
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
