package observability

import (
	"bytes"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureOutput(f func()) string {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	f()
	return buf.String()
}

func TestLogger_LogLevels(t *testing.T) {
	output := captureOutput(func() {
		logger := NewStandardLogger("test-service").WithLevel(LogLevelDebug)
		logger.Debug("Debug message", map[string]interface{}{"key": "value"})
		logger.Info("Info message", nil)
		logger.Warn("Warn message", nil)
		logger.Error("Error message", nil)
	})

	assert.Contains(t, output, "Debug message")
	assert.Contains(t, output, "Info message")
	assert.Contains(t, output, "Warn message")
	assert.Contains(t, output, "Error message")
	assert.Contains(t, output, "key=value")
}

func TestLogger_MinimumLevel(t *testing.T) {
	output := captureOutput(func() {
		logger := NewStandardLogger("test-service").WithLevel(LogLevelWarn)
		logger.Debug("Debug message", nil)
		logger.Info("Info message", nil)
		logger.Warn("Warn message", nil)
	})

	assert.NotContains(t, output, "Debug message")
	assert.NotContains(t, output, "Info message")
	assert.Contains(t, output, "Warn message")
}

func TestLogger_WithFields(t *testing.T) {
	output := captureOutput(func() {
		logger := NewStandardLogger("test-service").With(map[string]interface{}{
			"session_id": "s-1",
		})
		logger.Info("attached", map[string]interface{}{"url": "/api/x"})
	})

	assert.Contains(t, output, "session_id=s-1")
	assert.Contains(t, output, "url=/api/x")
}

func TestLogger_WithPrefix(t *testing.T) {
	output := captureOutput(func() {
		NewStandardLogger("root").WithPrefix("dispatcher").Info("scoped", nil)
	})

	assert.True(t, strings.Contains(output, "[dispatcher]"))
}
