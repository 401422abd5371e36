package observability

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsClient is a MetricsClient backed by a prometheus registry.
// Collectors are created lazily on first use of a metric name and cached.
type PrometheusMetricsClient struct {
	namespace  string
	registry   *prometheus.Registry
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetricsClient creates a metrics client with its own registry
func NewPrometheusMetricsClient(namespace string) *PrometheusMetricsClient {
	return &PrometheusMetricsClient{
		namespace:  namespace,
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry exposes the underlying registry for an HTTP scrape endpoint
func (p *PrometheusMetricsClient) Registry() *prometheus.Registry {
	return p.registry
}

// IncrementCounter increments the named counter
func (p *PrometheusMetricsClient) IncrementCounter(name string, value float64, labels map[string]string) {
	keys, values := splitLabels(labels)
	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      sanitizeMetricName(name),
		}, keys)
		p.registry.MustRegister(vec)
		p.counters[name] = vec
	}
	p.mu.Unlock()
	vec.WithLabelValues(values...).Add(value)
}

// RecordGauge sets the named gauge
func (p *PrometheusMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	keys, values := splitLabels(labels)
	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Name:      sanitizeMetricName(name),
		}, keys)
		p.registry.MustRegister(vec)
		p.gauges[name] = vec
	}
	p.mu.Unlock()
	vec.WithLabelValues(values...).Set(value)
}

// RecordDuration records a latency observation in seconds
func (p *PrometheusMetricsClient) RecordDuration(name string, duration time.Duration, labels map[string]string) {
	keys, values := splitLabels(labels)
	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Name:      sanitizeMetricName(name),
			Buckets:   prometheus.DefBuckets,
		}, keys)
		p.registry.MustRegister(vec)
		p.histograms[name] = vec
	}
	p.mu.Unlock()
	vec.WithLabelValues(values...).Observe(duration.Seconds())
}

// Close releases client resources
func (p *PrometheusMetricsClient) Close() error { return nil }

// splitLabels flattens a label map into sorted key and value slices so the
// same map always produces the same collector signature.
func splitLabels(labels map[string]string) ([]string, []string) {
	if len(labels) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = labels[k]
	}
	return keys, values
}

func sanitizeMetricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(name)
}
