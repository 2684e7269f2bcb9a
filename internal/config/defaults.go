package config

import (
	"maps"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultTimestampColumn   = "Timestamp"
	DefaultPriceColumn       = "Close"
	DefaultMaxSkipRatio      = 0.1
	DefaultSkipSampleRows    = 100
	DefaultSpeedFactor       = 1.0
	DefaultDeliveryTimeout   = 10 * time.Second
	DefaultRetryMaxAttempts  = 3
	DefaultRetryBackoffBase  = 1.0
	DefaultMeasurement       = "bitcoin"
	DefaultIndicatorWindow   = 5
	DefaultCheckpointBackend = "none"
	DefaultCheckpointFile    = "last_ingested.txt"
	DefaultCheckpointSQLite  = "replay-checkpoint.db"
	DefaultCheckpointKey     = "default"
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultMonitorAddr       = ":8090"
	DefaultTelemetryService  = "price-replay"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// DefaultOptionalColumns are the OHLCV columns of the Bitcoin historical dataset.
var DefaultOptionalColumns = []string{"Open", "High", "Low", "Close", "Volume"}

// DefaultTags is the tag set used when delivery.tags is absent. An explicit
// empty map sends untagged points.
var DefaultTags = map[string]string{"source": "csv"}

func (c *ReplayConfig) applyDefaults() {
	// Dataset defaults
	if c.Dataset.TimestampColumn == "" {
		c.Dataset.TimestampColumn = DefaultTimestampColumn
	}
	if c.Dataset.PriceColumn == "" {
		c.Dataset.PriceColumn = DefaultPriceColumn
	}
	if c.Dataset.OptionalColumns == nil {
		c.Dataset.OptionalColumns = append([]string(nil), DefaultOptionalColumns...)
	}
	if c.Dataset.MaxSkipRatio == nil {
		ratio := DefaultMaxSkipRatio
		c.Dataset.MaxSkipRatio = &ratio
	}
	if c.Dataset.SkipSampleRows == 0 {
		c.Dataset.SkipSampleRows = DefaultSkipSampleRows
	}

	// Clock defaults. Mode has no default: offset and scaled must be chosen explicitly.
	if c.Clock.SpeedFactor == nil {
		speed := DefaultSpeedFactor
		c.Clock.SpeedFactor = &speed
	}

	// Delivery defaults
	if c.Delivery.Timeout == 0 {
		c.Delivery.Timeout = DefaultDeliveryTimeout
	}
	if c.Delivery.RetryMaxAttempts == 0 {
		c.Delivery.RetryMaxAttempts = DefaultRetryMaxAttempts
	}
	if c.Delivery.RetryBackoffBaseSeconds == 0 {
		c.Delivery.RetryBackoffBaseSeconds = DefaultRetryBackoffBase
	}
	if c.Delivery.Measurement == "" {
		c.Delivery.Measurement = DefaultMeasurement
	}
	if c.Delivery.Tags == nil {
		c.Delivery.Tags = maps.Clone(DefaultTags)
	}

	// Indicator defaults
	if c.Indicators.Window == 0 {
		c.Indicators.Window = DefaultIndicatorWindow
	}

	// Checkpoint defaults
	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = DefaultCheckpointBackend
	}
	if c.Checkpoint.Path == "" {
		switch c.Checkpoint.Backend {
		case "file":
			c.Checkpoint.Path = DefaultCheckpointFile
		case "sqlite":
			c.Checkpoint.Path = DefaultCheckpointSQLite
		}
	}
	if c.Checkpoint.Key == "" {
		c.Checkpoint.Key = DefaultCheckpointKey
	}
	applyDBDefaults(&c.Checkpoint.Postgres)

	// Monitor and telemetry defaults
	if c.Monitor.Addr == "" {
		c.Monitor.Addr = DefaultMonitorAddr
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultTelemetryService
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
