package interpreter

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a scenario that cannot run at all: unknown
// name, missing or unreadable workflows file, or no steps. No step has run
// when it is returned.
type ConfigurationError struct {
	Scenario string
	Path     string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("scenario %q: %v", e.Scenario, e.Err)
	}
	return fmt.Sprintf("scenario %q (%s): %v", e.Scenario, e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// AbortError ends a run as aborted, either through an abort step or an
// external stop.
type AbortError struct {
	Reason  string
	Stopped bool
}

func (e *AbortError) Error() string {
	if e.Stopped {
		if e.Reason == "" {
			return "run stopped"
		}
		return "run stopped: " + e.Reason
	}
	return "run aborted: " + e.Reason
}

// IsAbort reports whether err carries an *AbortError.
func IsAbort(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae)
}

// IsConfiguration reports whether err carries a *ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
