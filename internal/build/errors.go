package build

import (
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is returned by operations on a disposed Context.
var ErrClosed = errors.New("build context closed")

// ConfigError reports configuration that prevents the compiler context from
// being created. It is fatal at server startup.
type ConfigError struct {
	// Field names the offending configuration field.
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid build config (%s): %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// BuildFailure is a failed compile. Detail holds the compiler diagnostics
// formatted for display.
type BuildFailure struct {
	Detail string
	// Count is the number of error diagnostics.
	Count int
}

func (e *BuildFailure) Error() string {
	first, _, _ := strings.Cut(strings.TrimSpace(e.Detail), "\n")

	if e.Count > 1 {
		return fmt.Sprintf("build failed with %d errors: %s", e.Count, first)
	}

	return "build failed: " + first
}
