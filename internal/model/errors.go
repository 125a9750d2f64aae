package model

import "fmt"

// ConfigurationError reports an invalid topology, encoder layout or optimizer
// parameter. It is raised at construction time; nothing partially built is
// returned alongside it.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func Misconfigured(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
