// Package edgeerr defines the typed errors the dispatch pipeline and the
// DI container surface. The dispatcher maps these onto transport-specific
// responses; everything else wraps them with %w so errors.As keeps working
// across package boundaries.
package edgeerr

import (
	"errors"
	"fmt"
)

// ShortCircuitError aborts the pipeline after the handler has already
// written its response. The response set on the context is flushed as-is.
type ShortCircuitError struct {
	Reason string
}

// Error implements the error interface
func (e *ShortCircuitError) Error() string {
	if e.Reason == "" {
		return "pipeline short-circuited"
	}
	return fmt.Sprintf("pipeline short-circuited: %s", e.Reason)
}

// HandlerNotFoundError indicates no registered handler matched the context
type HandlerNotFoundError struct {
	URL         string
	ContextType string
}

// Error implements the error interface
func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("no handler found for %s context (url=%q)", e.ContextType, e.URL)
}

// DependencyUnresolvedError indicates the DI container could not satisfy a
// required parameter
type DependencyUnresolvedError struct {
	ServiceType string
	Keys        []string
}

// Error implements the error interface
func (e *DependencyUnresolvedError) Error() string {
	if len(e.Keys) > 0 {
		return fmt.Sprintf("no registration for service %s (keys %v)", e.ServiceType, e.Keys)
	}
	return fmt.Sprintf("no registration for service %s", e.ServiceType)
}

// CircularDependencyError indicates the resolution stack revisited a type
type CircularDependencyError struct {
	Chain []string
}

// Error implements the error interface
func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected: %v", e.Chain)
}

// SchemaValidationError indicates a request body failed schema validation
type SchemaValidationError struct {
	Problems []string
}

// Error implements the error interface
func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema validation failed: %v", e.Problems)
}

// ConfigError indicates a malformed or missing configuration entry. Key
// names the offending configuration key.
type ConfigError struct {
	Key     string
	Message string
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration at %q: %s", e.Key, e.Message)
}

// NewConfigError creates a ConfigError for the given key
func NewConfigError(key, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Key: key, Message: fmt.Sprintf(format, args...)}
}

// IsShortCircuit reports whether err is (or wraps) a ShortCircuitError
func IsShortCircuit(err error) bool {
	var sc *ShortCircuitError
	return errors.As(err, &sc)
}

// IsHandlerNotFound reports whether err is (or wraps) a HandlerNotFoundError
func IsHandlerNotFound(err error) bool {
	var nf *HandlerNotFoundError
	return errors.As(err, &nf)
}

// Kind returns the short machine-readable kind used in error responses
func Kind(err error) string {
	var (
		nf  *HandlerNotFoundError
		sc  *ShortCircuitError
		du  *DependencyUnresolvedError
		cd  *CircularDependencyError
		sv  *SchemaValidationError
		cfg *ConfigError
	)
	switch {
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &sc):
		return "short_circuit"
	case errors.As(err, &du), errors.As(err, &cd):
		return "internal"
	case errors.As(err, &sv):
		return "validation"
	case errors.As(err, &cfg):
		return "config"
	default:
		return "internal"
	}
}
