package metadata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/sirupsen/logrus"
)

// PebbleStore implements RawKVStore using Pebble (CockroachDB's LSM engine).
// Pebble's WAL survives crashes without corrupting the MANIFEST, which makes
// it the default catalogue engine.
type PebbleStore struct {
	db     *pebble.DB
	ready  atomic.Bool
	logger *logrus.Logger
}

// PebbleOptions contains configuration options for PebbleStore
type PebbleOptions struct {
	DataDir   string
	CacheSize int64
	Logger    *logrus.Logger
}

// NewPebbleStore creates a new Pebble-backed catalogue store
func NewPebbleStore(opts PebbleOptions) (*PebbleStore, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 64 << 20
	}

	dbPath := filepath.Join(opts.DataDir, "metadata")
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalogue directory: %w", err)
	}

	cache := pebble.NewCache(opts.CacheSize)
	defer cache.Unref()

	pebbleOpts := &pebble.Options{
		Cache: cache,
		Levels: []pebble.LevelOptions{
			{Compression: pebble.SnappyCompression},
		},
		Logger: &pebbleLogger{logger: opts.Logger},
	}

	db, err := pebble.Open(dbPath, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}

	store := &PebbleStore{
		db:     db,
		logger: opts.Logger,
	}
	store.ready.Store(true)

	opts.Logger.WithField("path", dbPath).Debug("Pebble catalogue store initialized")
	return store, nil
}

// GetRaw retrieves a raw value by key.
func (s *PebbleStore) GetRaw(ctx context.Context, key string) ([]byte, error) {
	val, closer, err := s.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	data := make([]byte, len(val))
	copy(data, val)
	_ = closer.Close()
	return data, nil
}

// PutRaw stores a raw value.
func (s *PebbleStore) PutRaw(ctx context.Context, key string, value []byte) error {
	return s.db.Set([]byte(key), value, pebble.NoSync)
}

// DeleteRaw deletes a raw key.
func (s *PebbleStore) DeleteRaw(ctx context.Context, key string) error {
	if _, closer, err := s.db.Get([]byte(key)); err == pebble.ErrNotFound {
		return ErrNotFound
	} else if err != nil {
		return err
	} else {
		_ = closer.Close()
	}
	return s.db.Delete([]byte(key), pebble.NoSync)
}

// RawBatch applies writes and deletes atomically via a Pebble batch.
func (s *PebbleStore) RawBatch(ctx context.Context, sets map[string][]byte, deletes []string) error {
	batch := s.db.NewBatch()
	defer batch.Close() //nolint:errcheck

	for k, v := range sets {
		if err := batch.Set([]byte(k), v, nil); err != nil {
			return fmt.Errorf("batch set %q: %w", k, err)
		}
	}
	for _, k := range deletes {
		if err := batch.Delete([]byte(k), nil); err != nil {
			return fmt.Errorf("batch delete %q: %w", k, err)
		}
	}
	return batch.Commit(pebble.NoSync)
}

// RawScan iterates keys with the given prefix starting from startKey.
// fn receives copies; returning false stops the scan.
func (s *PebbleStore) RawScan(ctx context.Context, prefix, startKey string, fn func(key string, val []byte) bool) error {
	lower := []byte(prefix)

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixEnd(lower),
	})
	if err != nil {
		return fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close() //nolint:errcheck

	for valid := iter.SeekGE([]byte(scanStart(prefix, startKey))); valid; valid = iter.Next() {
		keyCopy := string(iter.Key())
		val := iter.Value()
		valCopy := make([]byte, len(val))
		copy(valCopy, val)
		if !fn(keyCopy, valCopy) {
			break
		}
	}
	return iter.Error()
}

// RawGC is a no-op for Pebble (it auto-compacts).
func (s *PebbleStore) RawGC() error { return nil }

// Sync flushes the memtable so every accepted write is on disk.
func (s *PebbleStore) Sync() error {
	return s.db.Flush()
}

// Close shuts down the Pebble store gracefully.
func (s *PebbleStore) Close() error {
	if !s.ready.CompareAndSwap(true, false) {
		return nil
	}
	s.logger.Debug("Closing Pebble catalogue store")
	return s.db.Close()
}

// pebbleLogger routes pebble's own log lines through logrus.
type pebbleLogger struct {
	logger *logrus.Logger
}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf("[Pebble] "+format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf("[Pebble] "+format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	l.logger.Fatalf("[Pebble] "+format, args...)
}

var _ RawKVStore = (*PebbleStore)(nil)
