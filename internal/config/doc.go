// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// After parsing, REPLAY_* environment variables override individual fields (see the
// env tags on each struct), then defaults are applied and the result is validated.
// Validation failures are reported as *InvalidConfigError and are fatal at startup.
package config
