package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements RawKVStore on a single SQLite table
type SQLiteStore struct {
	db     *sql.DB
	ready  atomic.Bool
	logger *logrus.Logger
}

// NewSQLiteStore creates a new SQLite-based catalogue store
func NewSQLiteStore(dataDir string, logger *logrus.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalogue directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "catalogue.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalogue database: %w", err)
	}

	// One connection keeps batches and scans on the same snapshot and
	// avoids SQLITE_BUSY between pooled writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize catalogue schema: %w", err)
	}
	store.ready.Store(true)

	logger.WithField("path", dbPath).Debug("SQLite catalogue store initialized")
	return store, nil
}

// initSchema creates the entries table if it doesn't exist
func (s *SQLiteStore) initSchema() error {
	schema := `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;

	CREATE TABLE IF NOT EXISTS entries (
		k BLOB PRIMARY KEY,
		v BLOB NOT NULL
	) WITHOUT ROWID;
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create catalogue schema: %w", err)
	}
	return nil
}

// GetRaw retrieves a value by key
func (s *SQLiteStore) GetRaw(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT v FROM entries WHERE k = ?`, []byte(key)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// PutRaw stores a key-value pair
func (s *SQLiteStore) PutRaw(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`,
		[]byte(key), value)
	return err
}

// DeleteRaw removes a key
func (s *SQLiteStore) DeleteRaw(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE k = ?`, []byte(key))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RawBatch applies writes and deletes in one transaction
func (s *SQLiteStore) RawBatch(ctx context.Context, sets map[string][]byte, deletes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for k, v := range sets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entries (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`,
			[]byte(k), v); err != nil {
			return fmt.Errorf("batch set %q: %w", k, err)
		}
	}
	for _, k := range deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE k = ?`, []byte(k)); err != nil {
			return fmt.Errorf("batch delete %q: %w", k, err)
		}
	}
	return tx.Commit()
}

// RawScan iterates keys with the given prefix in byte order. The store
// holds a single connection, so fn must not call back into the store.
func (s *SQLiteStore) RawScan(ctx context.Context, prefix, startKey string, fn func(key string, val []byte) bool) error {
	start := []byte(scanStart(prefix, startKey))
	upper := prefixEnd([]byte(prefix))

	var (
		rows *sql.Rows
		err  error
	)
	if upper == nil {
		rows, err = s.db.QueryContext(ctx, `SELECT k, v FROM entries WHERE k >= ? ORDER BY k`, start)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT k, v FROM entries WHERE k >= ? AND k < ? ORDER BY k`, start, upper)
	}
	if err != nil {
		return fmt.Errorf("failed to scan catalogue: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		if !fn(string(k), v) {
			break
		}
	}
	return rows.Err()
}

// RawGC checkpoints the WAL and reclaims free pages.
func (s *SQLiteStore) RawGC() error {
	_, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE); PRAGMA incremental_vacuum;`)
	return err
}

// Sync checkpoints the WAL into the main database file.
func (s *SQLiteStore) Sync() error {
	_, err := s.db.Exec(`PRAGMA wal_checkpoint(FULL)`)
	return err
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	if !s.ready.CompareAndSwap(true, false) {
		return nil
	}
	return s.db.Close()
}

var _ RawKVStore = (*SQLiteStore)(nil)
