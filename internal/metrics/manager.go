package metrics

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Operation status labels
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Byte directions
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Manager records engine activity
type Manager interface {
	// Engine Metrics
	RecordOperation(operation, status string, duration time.Duration)
	RecordBytes(direction string, n int64)
	RecordWipe(kind string)

	// Export
	Handler() http.Handler
	Snapshot() (map[string]float64, error)
}

// MetricsConfig holds configuration for the metrics system
type MetricsConfig struct {
	Enabled   bool
	Namespace string
	Subsystem string
}

// metricsManager implements the Manager interface using Prometheus
type metricsManager struct {
	config   MetricsConfig
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTotal        *prometheus.CounterVec
	wipedTotal        *prometheus.CounterVec
}

// NewManager creates a new metrics manager on a private registry
func NewManager(cfg MetricsConfig) Manager {
	if !cfg.Enabled {
		return &noopManager{}
	}

	// Set defaults
	if cfg.Namespace == "" {
		cfg.Namespace = "dasi"
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = "engine"
	}

	manager := &metricsManager{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}
	manager.initializeMetrics()
	return manager
}

// initializeMetrics sets up all Prometheus metrics
func (m *metricsManager) initializeMetrics() {
	namespace := m.config.Namespace
	subsystem := m.config.Subsystem

	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operations_total",
			Help:      "Total number of engine operations",
		},
		[]string{"operation", "status"},
	)

	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operation_duration_seconds",
			Help:      "Engine operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	m.bytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bytes_total",
			Help:      "Payload bytes written (in) and read (out)",
		},
		[]string{"direction"},
	)

	m.wipedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "wiped_total",
			Help:      "Catalogue entries and payloads removed by wipe",
		},
		[]string{"kind"},
	)

	m.registry.MustRegister(
		m.operationsTotal,
		m.operationDuration,
		m.bytesTotal,
		m.wipedTotal,
	)
}

func (m *metricsManager) RecordOperation(operation, status string, duration time.Duration) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *metricsManager) RecordBytes(direction string, n int64) {
	if n <= 0 {
		return
	}
	m.bytesTotal.WithLabelValues(direction).Add(float64(n))
}

func (m *metricsManager) RecordWipe(kind string) {
	m.wipedTotal.WithLabelValues(kind).Inc()
}

func (m *metricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Snapshot flattens every counter into "name{label=value,...}" keys.
// Histograms report their sample count.
func (m *metricsManager) Snapshot() (map[string]float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	snapshot := make(map[string]float64)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			key := family.GetName() + labelString(metric.GetLabel())
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				snapshot[key] = metric.GetCounter().GetValue()
			case dto.MetricType_HISTOGRAM:
				snapshot[key] = float64(metric.GetHistogram().GetSampleCount())
			case dto.MetricType_GAUGE:
				snapshot[key] = metric.GetGauge().GetValue()
			}
		}
	}
	return snapshot, nil
}

func labelString(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(labels))
	for _, l := range labels {
		pairs = append(pairs, l.GetName()+"="+l.GetValue())
	}
	sort.Strings(pairs)
	return "{" + strings.Join(pairs, ",") + "}"
}

// noopManager is a no-op implementation when metrics are disabled
type noopManager struct{}

func (*noopManager) RecordOperation(operation, status string, duration time.Duration) {}
func (*noopManager) RecordBytes(direction string, n int64)                          {}
func (*noopManager) RecordWipe(kind string)                                         {}
func (*noopManager) Handler() http.Handler                                          { return http.NotFoundHandler() }
func (*noopManager) Snapshot() (map[string]float64, error)                          { return map[string]float64{}, nil }
