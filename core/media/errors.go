package media

import (
	"errors"
	"fmt"
)

// Common errors that can be checked with errors.Is.
var (
	// ErrNoRetry marks a media source failure that must not be retried.
	ErrNoRetry = errors.New("media: do not retry")

	// ErrNoSource is returned when no playable source could be resolved.
	ErrNoSource = errors.New("media: no playable source")

	// ErrNotFound is returned when a plugin reports missing content.
	ErrNotFound = errors.New("media: resource not found")

	// ErrUnsupported is returned when a plugin lacks a capability.
	ErrUnsupported = errors.New("media: feature not supported")

	// ErrPluginNotFound is returned when no loaded plugin matches a query.
	ErrPluginNotFound = errors.New("media: plugin not found")
)

// PluginError wraps an error with the plugin and method that produced it.
type PluginError struct {
	Platform string
	Method   string
	Err      error
}

// Error implements the error interface.
func (e *PluginError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("%s: %v", e.Platform, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Platform, e.Method, e.Err)
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *PluginError) Unwrap() error {
	return e.Err
}

// NewNoRetryError creates a PluginError that short-circuits source retries.
func NewNoRetryError(platform, reason string) error {
	return &PluginError{
		Platform: platform,
		Method:   "getMediaSource",
		Err:      fmt.Errorf("%w: %s", ErrNoRetry, reason),
	}
}

// NewUnsupportedError creates a PluginError for an absent capability.
func NewUnsupportedError(platform, method string) error {
	return &PluginError{
		Platform: platform,
		Method:   method,
		Err:      ErrUnsupported,
	}
}

// NewNotFoundError creates a PluginError for missing content.
func NewNotFoundError(platform, method string) error {
	return &PluginError{
		Platform: platform,
		Method:   method,
		Err:      ErrNotFound,
	}
}
