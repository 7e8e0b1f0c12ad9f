package metadata

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

var boltBucket = []byte("catalogue")

// BoltStore implements RawKVStore on a single bbolt bucket. Every update
// is its own fsynced transaction.
type BoltStore struct {
	db     *bbolt.DB
	ready  atomic.Bool
	logger *logrus.Logger
}

// NewBoltStore opens (or creates) the bbolt catalogue file under dataDir
func NewBoltStore(dataDir string, logger *logrus.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalogue directory: %w", err)
	}

	path := filepath.Join(dataDir, "catalogue.bolt")
	db, err := bbolt.Open(path, 0644, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create catalogue bucket: %w", err)
	}

	store := &BoltStore{db: db, logger: logger}
	store.ready.Store(true)

	logger.WithField("path", path).Debug("bbolt catalogue store initialized")
	return store, nil
}

// GetRaw retrieves a value by key
func (s *BoltStore) GetRaw(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(boltBucket).Get([]byte(key))
		if val == nil {
			return ErrNotFound
		}
		value = bytes.Clone(val)
		return nil
	})
	return value, err
}

// PutRaw stores a key-value pair
func (s *BoltStore) PutRaw(ctx context.Context, key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), value)
	})
}

// DeleteRaw removes a key
func (s *BoltStore) DeleteRaw(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(boltBucket)
		if bkt.Get([]byte(key)) == nil {
			return ErrNotFound
		}
		return bkt.Delete([]byte(key))
	})
}

// RawBatch applies writes and deletes in one transaction
func (s *BoltStore) RawBatch(ctx context.Context, sets map[string][]byte, deletes []string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(boltBucket)
		for k, v := range sets {
			if err := bkt.Put([]byte(k), v); err != nil {
				return fmt.Errorf("batch set %q: %w", k, err)
			}
		}
		for _, k := range deletes {
			if err := bkt.Delete([]byte(k)); err != nil {
				return fmt.Errorf("batch delete %q: %w", k, err)
			}
		}
		return nil
	})
}

// RawScan walks the bucket cursor from startKey while keys share prefix.
func (s *BoltStore) RawScan(ctx context.Context, prefix, startKey string, fn func(key string, val []byte) bool) error {
	p := []byte(prefix)
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		for k, v := c.Seek([]byte(scanStart(prefix, startKey))); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			if !fn(string(k), bytes.Clone(v)) {
				break
			}
		}
		return nil
	})
}

// RawGC is a no-op; bbolt reuses freed pages.
func (s *BoltStore) RawGC() error { return nil }

// Sync fdatasyncs the database file.
func (s *BoltStore) Sync() error {
	return s.db.Sync()
}

// Close closes the database
func (s *BoltStore) Close() error {
	if !s.ready.CompareAndSwap(true, false) {
		return nil
	}
	return s.db.Close()
}

var _ RawKVStore = (*BoltStore)(nil)
