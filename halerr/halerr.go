// Package halerr provides categorized error values for the coordination
// layer. Expected coordination outcomes ("resource currently owned",
// "queue full") are returned as values, never panicked.
package halerr

import (
	"errors"
	"fmt"
)

// Category classifies an error by how the caller should react to it.
type Category string

const (
	// CategoryValidation marks malformed input (bad payload bytes, empty ids).
	CategoryValidation Category = "VALIDATION"
	// CategoryConfiguration marks caller precondition violations (releasing a
	// resource the caller does not own, duplicate handler registration).
	// These are programming errors to fix, not retry.
	CategoryConfiguration Category = "CONFIGURATION"
	// CategoryResource marks transient coordination failures (queue full,
	// would-deadlock, currently owned, request timeout). Retryable after
	// backoff.
	CategoryResource Category = "RESOURCE"
	// CategoryInternal marks invariant violations and use before Initialize.
	CategoryInternal Category = "INTERNAL"
)

// Error is the standard error value returned by every coordination operation.
type Error struct {
	Category Category       // Error category
	Code     string         // Stable machine-readable code
	Message  string         // Human-readable message
	Context  map[string]any // Optional structured context
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// New creates an error with the given category and code.
func New(category Category, code, message string) *Error {
	return &Error{Category: category, Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(category Category, code, format string, args ...any) *Error {
	return &Error{Category: category, Code: code, Message: fmt.Sprintf(format, args...)}
}

// With attaches a context key/value pair and returns the error.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CategoryOf returns the category of err, or "" if err is not a halerr.Error.
func CategoryOf(err error) Category {
	var he *Error
	if errors.As(err, &he) {
		return he.Category
	}
	return ""
}

// CodeOf returns the code of err, or "" if err is not a halerr.Error.
func CodeOf(err error) string {
	var he *Error
	if errors.As(err, &he) {
		return he.Code
	}
	return ""
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return CategoryOf(err) == CategoryValidation }

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return CategoryOf(err) == CategoryConfiguration }

// IsResource reports whether err is a transient resource error.
func IsResource(err error) bool { return CategoryOf(err) == CategoryResource }

// IsInternal reports whether err is an internal error.
func IsInternal(err error) bool { return CategoryOf(err) == CategoryInternal }

// Common error constructors shared across packages.

// NotInitialized reports use of a subsystem before Initialize.
func NotInitialized(subsystem string) *Error {
	return Newf(CategoryInternal, "NOT_INITIALIZED", "%s not initialized", subsystem)
}

// NotFound reports a lookup miss.
func NotFound(what, key string) *Error {
	return Newf(CategoryConfiguration, "NOT_FOUND", "%s %q not found", what, key).With("key", key)
}

// AlreadyExists reports a duplicate registration.
func AlreadyExists(what, key string) *Error {
	return Newf(CategoryConfiguration, "ALREADY_EXISTS", "%s %q already registered", what, key).With("key", key)
}
