package config

import "time"

// ReplayConfig is the root configuration for a replay run.
type ReplayConfig struct {
	Dataset    DatasetConfig    `yaml:"dataset"`
	Clock      ClockConfig      `yaml:"clock"`
	Pacing     PacingConfig     `yaml:"pacing"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Indicators IndicatorsConfig `yaml:"indicators"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Log        LogConfig        `yaml:"log"`
}

// DatasetConfig describes the historical CSV source.
type DatasetConfig struct {
	Path            string   `yaml:"path" env:"REPLAY_DATASET_PATH"`
	TimestampColumn string   `yaml:"timestamp_column"`
	PriceColumn     string   `yaml:"price_column"`
	OptionalColumns []string `yaml:"optional_columns"` // subset of Open, High, Low, Close, Volume
	ExtraColumns    []string `yaml:"extra_columns"`    // extra numeric columns written as fields
	Preload         bool     `yaml:"preload" env:"REPLAY_DATASET_PRELOAD"`
	MaxSkipRatio    *float64 `yaml:"max_skip_ratio"`
	SkipSampleRows  int      `yaml:"skip_sample_rows"`
}

// ClockConfig selects how original timestamps map to emit timestamps.
type ClockConfig struct {
	// Mode is "offset" or "scaled" and has no default.
	Mode        string   `yaml:"mode" env:"REPLAY_CLOCK_MODE"`
	SpeedFactor *float64 `yaml:"speed_factor"` // REPLAY_SPEED_FACTOR, see applyEnv

	// Start is the simulated origin; zero means process start.
	Start time.Time `yaml:"start"`
}

// PacingConfig holds scheduler settings.
type PacingConfig struct {
	Loop          bool    `yaml:"loop" env:"REPLAY_LOOP"`
	MaxPasses     int     `yaml:"max_passes"`                                   // 0 = unlimited
	MaxLagSeconds float64 `yaml:"max_lag_seconds" env:"REPLAY_MAX_LAG_SECONDS"` // 0 = unlimited
	OnFallBehind  string  `yaml:"on_fall_behind" env:"REPLAY_ON_FALL_BEHIND"`   // fast_forward or abort
}

// DeliveryConfig holds ingestion endpoint settings.
type DeliveryConfig struct {
	EndpointURL             string            `yaml:"endpoint_url" env:"REPLAY_ENDPOINT_URL"`
	AuthToken               string            `yaml:"auth_token" env:"REPLAY_AUTH_TOKEN"`
	Timeout                 time.Duration     `yaml:"timeout"`
	RetryMaxAttempts        int               `yaml:"retry_max_attempts" env:"REPLAY_RETRY_MAX_ATTEMPTS"`
	RetryBackoffBaseSeconds float64           `yaml:"retry_backoff_base_seconds" env:"REPLAY_RETRY_BACKOFF_BASE_SECONDS"`
	Gzip                    bool              `yaml:"gzip"`
	Measurement             string            `yaml:"measurement"`
	Tags                    map[string]string `yaml:"tags"`
	DryRun                  bool              `yaml:"dry_run" env:"REPLAY_DRY_RUN"`
}

// IndicatorsConfig enables rolling-window fields.
type IndicatorsConfig struct {
	Enabled bool `yaml:"enabled"`
	Window  int  `yaml:"window"`
}

// CheckpointConfig selects where the last delivered timestamp is persisted.
type CheckpointConfig struct {
	Backend  string   `yaml:"backend" env:"REPLAY_CHECKPOINT_BACKEND"` // none, file, sqlite, postgres
	Path     string   `yaml:"path" env:"REPLAY_CHECKPOINT_PATH"`       // file and sqlite backends
	Key      string   `yaml:"key"`                                     // sqlite and postgres backends
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password" env:"REPLAY_CHECKPOINT_DB_PASSWORD"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MonitorConfig holds the optional status server settings.
type MonitorConfig struct {
	Enabled        bool     `yaml:"enabled" env:"REPLAY_MONITOR_ENABLED"`
	Addr           string   `yaml:"addr" env:"REPLAY_MONITOR_ADDR"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TelemetryConfig holds OpenTelemetry tracing settings.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" env:"REPLAY_OTEL_ENABLED"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint" env:"REPLAY_OTEL_ENDPOINT"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level" env:"REPLAY_LOG_LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"REPLAY_LOG_FORMAT"` // text or json
}

// MaxLag returns the fall-behind threshold, or 0 when unlimited.
func (p PacingConfig) MaxLag() time.Duration {
	return secondsToDuration(p.MaxLagSeconds)
}

// RetryBackoffBase returns the base delay for exponential backoff.
func (d DeliveryConfig) RetryBackoffBase() time.Duration {
	return secondsToDuration(d.RetryBackoffBaseSeconds)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
