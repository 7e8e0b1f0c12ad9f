// Package local implements the engine boundary on a local catalogue and a
// filesystem or S3 payload store.
package local

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/maxiofs/dasi/internal/config"
	"github.com/maxiofs/dasi/internal/metadata"
	"github.com/maxiofs/dasi/internal/metrics"
	"github.com/maxiofs/dasi/internal/storage"
	"github.com/maxiofs/dasi/pkg/compression"
	"github.com/maxiofs/dasi/pkg/engine"
)

// Option configures a Driver
type Option func(*Driver)

// WithLogger sets the logger handed to every connection
func WithLogger(logger *logrus.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// WithMetrics sets the metrics manager shared by every connection
func WithMetrics(m metrics.Manager) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithClock overrides the archive timestamp source
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// Driver opens local engine connections
type Driver struct {
	logger  *logrus.Logger
	metrics metrics.Manager
	now     func() time.Time
}

// NewDriver creates a driver
func NewDriver(opts ...Option) *Driver {
	d := &Driver{
		logger:  logrus.New(),
		metrics: metrics.NewManager(metrics.MetricsConfig{Enabled: false}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open loads the configuration and opens the catalogue and payload store.
// Nothing stays open when it fails.
func (d *Driver) Open(ctx context.Context, src engine.ConfigSource) (engine.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(err)
	}

	cfg, err := config.Load(src)
	if err != nil {
		return nil, classify(err)
	}
	sch, err := cfg.LoadSchema()
	if err != nil {
		return nil, classify(err)
	}

	comp, err := compression.NewCompressor(&compression.CompressionConfig{
		Algorithm: cfg.Compression.Algorithm,
		Level:     cfg.Compression.Level,
		MinSize:   cfg.Compression.MinSize,
	})
	if err != nil {
		return nil, engine.NewErrorWithCause(engine.StatusError, engine.CodeInvalidConfig, "invalid compression settings", err)
	}

	id := uuid.New().String()
	logger := d.logger.WithFields(logrus.Fields{
		"conn_id":   id,
		"catalogue": cfg.Catalogue,
		"store":     cfg.Store,
	})

	kv, err := metadata.OpenStore(metadata.Options{
		Engine:  cfg.Catalogue,
		DataDir: cfg.CataloguePath,
		Logger:  d.logger,
	})
	if err != nil {
		return nil, catalogueError(err)
	}

	store, err := storage.NewBackend(cfg, d.logger)
	if err != nil {
		if closeErr := kv.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("Failed to close catalogue after open failure")
		}
		return nil, storageError(err)
	}

	logger.Debug("Opened local engine connection")

	return &conn{
		id:       id,
		cfg:      cfg,
		schema:   sch,
		cat:      metadata.NewCatalogue(kv, d.logger),
		store:    store,
		comp:     comp,
		logger:   logger,
		metrics:  d.metrics,
		now:      d.now,
		pageSize: cfg.ListPageSize,
	}, nil
}

var _ engine.Driver = (*Driver)(nil)
