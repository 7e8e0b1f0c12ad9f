package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/maxiofs/dasi/internal/config"
	"github.com/maxiofs/dasi/pkg/engine"
)

// Backend stores payload bytes. Paths are relative and content addressed:
// writing the same path twice stores the same bytes.
type Backend interface {
	// Put stores data under path and returns where it landed.
	Put(ctx context.Context, path string, data []byte) (engine.Location, error)

	// Open returns a reader over the bytes of loc, starting from offset
	// bytes into the location.
	Open(ctx context.Context, loc engine.Location, offset int64) (io.ReadCloser, error)

	// Delete removes the payload at uri.
	Delete(ctx context.Context, uri string) error

	// Exists reports whether a payload exists at uri.
	Exists(ctx context.Context, uri string) (bool, error)

	// Wipeable reports whether the payload at uri may be deleted.
	Wipeable(uri string) bool

	// Sync makes every Put accepted so far durable.
	Sync(ctx context.Context) error

	// Lifecycle
	Close() error
}

// NewBackend creates the payload store named by the configuration
func NewBackend(cfg *config.Config, logger *logrus.Logger) (Backend, error) {
	if logger == nil {
		logger = logrus.New()
	}

	switch cfg.Store {
	case config.StoreFile, "":
		return NewFilesystemBackend(cfg.Roots(), logger)
	case config.StoreS3:
		return NewS3Backend(cfg.S3, cfg.Roots(), logger)
	default:
		return nil, fmt.Errorf("unsupported payload store: %s", cfg.Store)
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}
