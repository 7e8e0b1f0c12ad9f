package metadata

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// BadgerStore implements RawKVStore using BadgerDB
type BadgerStore struct {
	db     *badger.DB
	ready  atomic.Bool
	logger *logrus.Logger
}

// BadgerOptions contains configuration options for BadgerStore
type BadgerOptions struct {
	DataDir    string
	SyncWrites bool // If true, every write is synced to disk (slower but safer)
	Logger     *logrus.Logger
}

// NewBadgerStore creates a new BadgerDB-backed catalogue store
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	dbPath := filepath.Join(opts.DataDir, "metadata")
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalogue directory: %w", err)
	}

	badgerOpts := badger.DefaultOptions(dbPath).
		WithLogger(newBadgerLogger(opts.Logger)).
		WithSyncWrites(opts.SyncWrites).
		WithIndexCacheSize(16 << 20).
		WithBlockCacheSize(32 << 20).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	store := &BadgerStore{
		db:     db,
		logger: opts.Logger,
	}
	store.ready.Store(true)

	opts.Logger.WithField("path", dbPath).Debug("BadgerDB catalogue store initialized")
	return store, nil
}

// Sync forces pending writes to disk.
func (s *BadgerStore) Sync() error {
	return s.db.Sync()
}

// Close closes the BadgerDB store
func (s *BadgerStore) Close() error {
	if !s.ready.CompareAndSwap(true, false) {
		return nil
	}
	s.logger.Debug("Closing BadgerDB catalogue store")
	return s.db.Close()
}

// badgerLogger adapts logrus to BadgerDB's logger interface
type badgerLogger struct {
	logger *logrus.Logger
}

func newBadgerLogger(logger *logrus.Logger) *badgerLogger {
	return &badgerLogger{logger: logger}
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Tracef("[BadgerDB] "+format, args...)
}
