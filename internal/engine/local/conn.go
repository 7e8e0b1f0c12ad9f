package local

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"

	"github.com/maxiofs/dasi/internal/config"
	"github.com/maxiofs/dasi/internal/metadata"
	"github.com/maxiofs/dasi/internal/metrics"
	"github.com/maxiofs/dasi/internal/schema"
	"github.com/maxiofs/dasi/internal/storage"
	"github.com/maxiofs/dasi/pkg/compression"
	"github.com/maxiofs/dasi/pkg/engine"
)

type conn struct {
	id       string
	cfg      *config.Config
	schema   *schema.Schema
	cat      *metadata.Catalogue
	store    storage.Backend
	comp     compression.Compressor
	logger   *logrus.Entry
	metrics  metrics.Manager
	now      func() time.Time
	pageSize int
	closed   atomic.Bool
}

// observe records the outcome of one operation
func (c *conn) observe(operation string, start time.Time, err error) {
	status := metrics.StatusSuccess
	if err != nil && !engine.IsIteratorEnd(err) {
		status = metrics.StatusError
	}
	c.metrics.RecordOperation(operation, status, time.Since(start))
}

func (c *conn) check(ctx context.Context) error {
	if c.closed.Load() {
		return errConnClosed
	}
	if err := ctx.Err(); err != nil {
		return classify(err)
	}
	return nil
}

// Archive stores data under key. Payloads are content addressed by their
// blake3 checksum; re-archiving a key replaces its record and releases the
// old payload once nothing refers to it.
func (c *conn) Archive(ctx context.Context, key engine.Attrs, data []byte) (err error) {
	start := time.Now()
	defer func() { c.observe("archive", start, err) }()

	if err := c.check(ctx); err != nil {
		return err
	}

	split, err := c.schema.Match(key)
	if err != nil {
		return classify(err)
	}

	level0 := split.Levels[0]
	if err := c.permit(ctx, engine.PolicyAccessArchive, level0); err != nil {
		return err
	}
	if _, err := c.cat.RegisterDataset(ctx, level0, c.now().UnixNano()); err != nil {
		return catalogueError(err)
	}

	sum := blake3.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	compressed, err := c.comp.Compress(data)
	if err != nil {
		return engine.NewErrorWithCause(engine.StatusError, engine.CodeStorage, "failed to compress payload", err)
	}

	path := storage.BlobPath(storage.DatasetDir(level0), checksum, compressed.Algorithm)
	loc, err := c.store.Put(ctx, path, compressed.Data)
	if err != nil {
		return storageError(err)
	}

	rec := &metadata.ObjectRecord{
		Key:         metadata.NewRecordAttrs(key),
		URI:         loc.URI,
		Offset:      loc.Offset,
		Length:      loc.Length,
		Size:        int64(len(data)),
		Compression: compressed.Algorithm,
		Checksum:    checksum,
		ArchivedAt:  c.now().UnixNano(),
	}

	released, err := c.cat.Put(ctx, metadata.ObjectKey(split), rec)
	if err != nil {
		return catalogueError(err)
	}
	if released != nil {
		c.release(ctx, released.URI)
	}

	c.metrics.RecordBytes(metrics.DirectionIn, loc.Length)
	c.logger.WithFields(logrus.Fields{
		"operation":   "archive",
		"key":         formatKey(key),
		"uri":         loc.URI,
		"size":        len(data),
		"compression": compressed.Algorithm,
	}).Debug("Archived object")
	return nil
}

// release deletes a payload that lost its last reference. Failures leave an
// orphaned file behind and are only logged.
func (c *conn) release(ctx context.Context, uri string) {
	if !c.store.Wipeable(uri) {
		return
	}
	err := c.store.Delete(ctx, uri)
	if err != nil && !storage.IsNotFound(err) {
		c.logger.WithError(err).WithField("uri", uri).Warn("Failed to delete released payload")
	}
}

// Flush syncs payloads before the catalogue so a durable record never
// points at bytes that are not.
func (c *conn) Flush(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.observe("flush", start, err) }()

	if err := c.check(ctx); err != nil {
		return err
	}
	if err := c.store.Sync(ctx); err != nil {
		return storageError(err)
	}
	if err := c.cat.Flush(); err != nil {
		return catalogueError(err)
	}
	return nil
}

func (c *conn) List(ctx context.Context, req engine.Request) (engine.ListCursor, error) {
	start := time.Now()
	if err := c.check(ctx); err != nil {
		c.observe("list", start, err)
		return nil, err
	}
	s := c.newScan(c.schema.Compatible(req.Keywords()), req)
	s.filter = engine.PolicyAccessList
	cur := &listCursor{scan: s}
	c.observe("list", start, nil)
	return cur, nil
}

func (c *conn) Retrieve(ctx context.Context, req engine.Request) (engine.RetrieveCursor, error) {
	start := time.Now()
	cur, err := c.newRetrieveCursor(ctx, req)
	c.observe("retrieve", start, err)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c *conn) Wipe(ctx context.Context, req engine.Request, doit, recursive bool) (engine.WipeCursor, error) {
	start := time.Now()
	if err := c.check(ctx); err != nil {
		c.observe("wipe", start, err)
		return nil, err
	}

	var paths []*schema.Path
	if recursive {
		paths = c.schema.Compatible(req.Keywords())
	} else if p, ok := c.schema.Exact(req.Keywords()); ok {
		paths = []*schema.Path{p}
	}

	cur := &wipeCursor{
		conn:    c,
		scan:    c.newScan(paths, req),
		doit:    doit,
		planned: make(map[string]int64),
		touched: make(map[string]struct{}),
	}
	c.observe("wipe", start, nil)
	return cur, nil
}

func (c *conn) ReadHandle(ctx context.Context, entry *engine.RetrieveEntry) (engine.ReadHandle, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	rec, ok := entry.Token.(*metadata.ObjectRecord)
	if !ok || rec == nil {
		return nil, engine.NewError(engine.StatusUnexpected, "", "retrieve entry was not produced by this engine")
	}
	return &readHandle{conn: c, rec: rec}, nil
}

// Close releases the catalogue and the payload store. Calling it again is
// a no-op.
func (c *conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if err := c.store.Close(); err != nil {
		errs = append(errs, storageError(err))
	}
	if err := c.cat.Close(); err != nil {
		errs = append(errs, catalogueError(err))
	}
	c.logger.Debug("Closed local engine connection")
	return errors.Join(errs...)
}

// entryURI names a catalogue entry in wipe output
func (c *conn) entryURI(key engine.Attrs) string {
	return "dasi://" + c.cfg.Catalogue + "/" + formatKey(key)
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, `,`, `\,`, `=`, `\=`, `/`, `\/`)

// formatKey renders attributes as k=v,k=v with separators escaped
func formatKey(key engine.Attrs) string {
	parts := make([]string, len(key))
	for i, a := range key {
		parts[i] = keyEscaper.Replace(a.Keyword) + "=" + keyEscaper.Replace(a.Value)
	}
	return strings.Join(parts, ",")
}

var _ engine.Conn = (*conn)(nil)
