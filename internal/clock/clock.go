package clock

import (
	"fmt"
	"math"
	"time"

	"github.com/rickgao/price-replay/internal/config"
)

// Mode selects how timestamps are rebased.
type Mode string

const (
	ModeOffset Mode = config.ClockModeOffset
	ModeScaled Mode = config.ClockModeScaled
)

// Config holds clock settings.
type Config struct {
	Mode  Mode
	Speed float64 // > 0; must be 1 in offset mode
}

// Clock converts original timestamps to emit timestamps for one run.
type Clock struct {
	mode  Mode
	speed float64

	datasetStart time.Time
	origin       time.Time
}

// New validates cfg and returns an unbased clock. Call Rebase before Emit.
func New(cfg Config) (*Clock, error) {
	switch cfg.Mode {
	case ModeOffset, ModeScaled:
	default:
		return nil, &config.InvalidConfigError{
			Field:  "clock.mode",
			Reason: fmt.Sprintf("must be offset or scaled, got %q", cfg.Mode),
		}
	}
	if math.IsNaN(cfg.Speed) || math.IsInf(cfg.Speed, 0) || cfg.Speed <= 0 {
		return nil, &config.InvalidConfigError{
			Field:  "clock.speed_factor",
			Reason: fmt.Sprintf("must be > 0, got %v", cfg.Speed),
		}
	}
	if cfg.Mode == ModeOffset && cfg.Speed != 1 {
		return nil, &config.InvalidConfigError{
			Field:  "clock.speed_factor",
			Reason: fmt.Sprintf("must be 1 in offset mode, got %v", cfg.Speed),
		}
	}
	return &Clock{mode: cfg.Mode, speed: cfg.Speed}, nil
}

// Rebase anchors datasetStart to origin. It replaces any previous anchor, so
// rebasing twice with the same arguments leaves Emit unchanged.
func (c *Clock) Rebase(datasetStart, origin time.Time) {
	c.datasetStart = datasetStart
	c.origin = origin
}

// Advance moves the origin forward by d, shifting every later emit time.
// Negative values are ignored so Emit stays monotonic across the call.
func (c *Clock) Advance(d time.Duration) {
	if d > 0 {
		c.origin = c.origin.Add(d)
	}
}

// Emit returns the emit timestamp for an original timestamp.
// For t1 <= t2, Emit(t1) <= Emit(t2).
func (c *Clock) Emit(original time.Time) time.Time {
	switch c.mode {
	case ModeOffset:
		return original.Add(c.Offset())
	default:
		elapsed := original.Sub(c.datasetStart)
		return c.origin.Add(scale(elapsed, c.speed))
	}
}

// scale divides d by speed, saturating at the Duration range so slow speeds
// over long spans cannot wrap around.
func scale(d time.Duration, speed float64) time.Duration {
	q := float64(d) / speed
	switch {
	case q >= math.MaxInt64:
		return math.MaxInt64
	case q <= math.MinInt64:
		return math.MinInt64
	}
	return time.Duration(q)
}

// Offset is the fixed shift applied in offset mode.
func (c *Clock) Offset() time.Duration {
	return c.origin.Sub(c.datasetStart)
}

// Origin returns the current simulated origin.
func (c *Clock) Origin() time.Time {
	return c.origin
}

// Mode returns the configured mode.
func (c *Clock) Mode() Mode {
	return c.mode
}

// Speed returns the configured speed factor.
func (c *Clock) Speed() float64 {
	return c.speed
}
