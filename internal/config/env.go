package config

import (
	"fmt"
	"strconv"

	"github.com/caarlos0/env/v11"
)

// pointerOverrides holds variables for fields that distinguish unset from zero.
type pointerOverrides struct {
	SpeedFactor string `env:"REPLAY_SPEED_FACTOR"`
}

// applyEnv overlays fields tagged with env:"REPLAY_*" from the process environment.
// Unset variables leave the YAML value untouched.
func applyEnv(cfg *ReplayConfig) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	var ov pointerOverrides
	if err := env.Parse(&ov); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if ov.SpeedFactor != "" {
		speed, err := strconv.ParseFloat(ov.SpeedFactor, 64)
		if err != nil {
			return invalid("clock.speed_factor", "from REPLAY_SPEED_FACTOR is not a number: %q", ov.SpeedFactor)
		}
		cfg.Clock.SpeedFactor = &speed
	}
	return nil
}
