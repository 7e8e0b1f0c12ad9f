// Package local exposes the bundled engine: a catalogue on Pebble, Badger,
// SQLite, bbolt or memory, and payloads on local roots or S3.
package local

import (
	"github.com/maxiofs/dasi/internal/engine/local"
	"github.com/maxiofs/dasi/internal/metrics"
	"github.com/maxiofs/dasi/pkg/engine"
)

// Option configures the driver.
type Option = local.Option

// Metrics collects engine counters on a private Prometheus registry.
// Handler serves them in the Prometheus exposition format and Snapshot
// flattens them for logging.
type Metrics = metrics.Manager

// NewMetrics returns an enabled metrics collector. Metric names start
// with namespace, "dasi" when empty.
func NewMetrics(namespace string) Metrics {
	return metrics.NewManager(metrics.MetricsConfig{Enabled: true, Namespace: namespace})
}

var (
	// WithLogger sets the logger of every connection.
	WithLogger = local.WithLogger
	// WithMetrics shares one Metrics collector between connections.
	WithMetrics = local.WithMetrics
	// WithClock overrides the archive timestamp source.
	WithClock = local.WithClock
)

// NewDriver returns a driver opening local engine connections.
func NewDriver(opts ...Option) engine.Driver {
	return local.NewDriver(opts...)
}
