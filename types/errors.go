package types

import (
	"fmt"

	"github.com/pkg/errors"
)

// RenderError means a video could not be produced: missing footage,
// missing inputs or an encoder failure. It ends the whole run.
type RenderError struct {
	Op      string
	Message string
	Err     error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *RenderError) Unwrap() error { return e.Err }

// NewRenderError builds a RenderError for the given operation.
func NewRenderError(op string, err error, msg string) *RenderError {
	return &RenderError{Op: op, Message: msg, Err: err}
}

// RaterError means a quality or safety rater could not be reached or
// returned something unusable. It is never a content judgment.
type RaterError struct {
	Op      string
	Rater   string
	Message string
	Err     error
}

func (e *RaterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s rater unavailable: %s: %v", e.Op, e.Rater, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s rater unavailable: %s", e.Op, e.Rater, e.Message)
}

func (e *RaterError) Unwrap() error { return e.Err }

// NewRaterError builds a RaterError for the named rater.
func NewRaterError(op, rater string, err error, msg string) *RaterError {
	return &RaterError{Op: op, Rater: rater, Message: msg, Err: err}
}

// ConfigError reports invalid run settings caught before any work starts.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}

// NewConfigError builds a ConfigError for a named setting.
func NewConfigError(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func IsRenderError(err error) bool {
	var e *RenderError
	return errors.As(err, &e)
}

func IsRaterUnavailable(err error) bool {
	var e *RaterError
	return errors.As(err, &e)
}

func IsConfigError(err error) bool {
	var e *ConfigError
	return errors.As(err, &e)
}
