package config

import "fmt"

// InvalidConfigError reports a configuration value that cannot start a run.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &InvalidConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
