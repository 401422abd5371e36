package observability

import "time"

// MetricsClient defines the interface for metrics collection
type MetricsClient interface {
	// IncrementCounter increments the named counter
	IncrementCounter(name string, value float64, labels map[string]string)
	// RecordGauge sets the named gauge
	RecordGauge(name string, value float64, labels map[string]string)
	// RecordDuration records a latency observation
	RecordDuration(name string, duration time.Duration, labels map[string]string)
	// Close releases any resources held by the client
	Close() error
}

// NoopMetricsClient discards all observations. It is the default when
// metrics are disabled in configuration.
type NoopMetricsClient struct{}

// NewNoopMetricsClient creates a metrics client that discards everything
func NewNoopMetricsClient() *NoopMetricsClient { return &NoopMetricsClient{} }

// IncrementCounter is a no-op
func (n *NoopMetricsClient) IncrementCounter(name string, value float64, labels map[string]string) {
}

// RecordGauge is a no-op
func (n *NoopMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {}

// RecordDuration is a no-op
func (n *NoopMetricsClient) RecordDuration(name string, duration time.Duration, labels map[string]string) {
}

// Close is a no-op
func (n *NoopMetricsClient) Close() error { return nil }
