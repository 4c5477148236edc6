package registry

import (
	"errors"
	"strings"
)

// ConfigError reports a registry that cannot be used. It is fatal: a run
// never starts with an invalid registry.
type ConfigError struct {
	Source   string
	Problems []string
	Err      error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("invalid registry")
	if e.Source != "" {
		b.WriteString(" " + e.Source)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	for _, p := range e.Problems {
		b.WriteString("\n  - " + p)
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
