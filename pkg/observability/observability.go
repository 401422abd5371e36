// Package observability provides unified logging and metrics for the edge
// server. Every component takes a Logger and, where it is useful, a
// MetricsClient; both are plain interfaces so tests can substitute fakes.
package observability

// LogLevel defines log message severity
type LogLevel string

// Log levels
const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
	LogLevelFatal LogLevel = "FATAL"
)

// Logger defines the interface for structured logging
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Fatal(msg string, fields map[string]interface{})

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// WithPrefix returns a logger scoped to the given component name
	WithPrefix(prefix string) Logger
	// With returns a logger that attaches the given fields to every entry
	With(fields map[string]interface{}) Logger
}

// NewLogger creates the default logger for the given component
func NewLogger(prefix string) Logger {
	return NewStandardLogger(prefix)
}
