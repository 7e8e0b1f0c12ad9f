package local

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/maxiofs/dasi/internal/metadata"
	"github.com/maxiofs/dasi/internal/storage"
	"github.com/maxiofs/dasi/pkg/engine"
)

// wipeCursor removes matching catalogue entries one at a time, followed by
// their payload when the entry held its last reference. A dry run reports
// the same sequence and changes nothing.
type wipeCursor struct {
	conn    *conn
	scan    *scan
	doit    bool
	planned map[string]int64 // dry run: references released so far per URI
	queue   []*engine.WipeEntry
	touched map[string]struct{} // datasets that lost entries
	removed int
	closed  bool
}

func (wc *wipeCursor) Next(ctx context.Context) (*engine.WipeEntry, error) {
	if wc.closed {
		return nil, errCursorClosed()
	}
	if err := wc.conn.check(ctx); err != nil {
		return nil, err
	}

	for len(wc.queue) == 0 {
		e, err := wc.scan.Next(ctx)
		if err != nil {
			return nil, err
		}
		if err := wc.step(ctx, e); err != nil {
			return nil, err
		}
	}

	next := wc.queue[0]
	wc.queue = wc.queue[1:]
	return next, nil
}

func (wc *wipeCursor) step(ctx context.Context, e *metadata.Entry) error {
	rec := e.Record
	dataset, level0, access, err := wc.scan.dataset(ctx, rec)
	if err != nil {
		return err
	}
	if !allows(access, engine.PolicyAccessWipe) {
		return errAccessDenied(engine.PolicyAccessWipe, level0)
	}
	if !wc.conn.store.Wipeable(rec.URI) {
		wc.conn.logger.WithField("uri", rec.URI).Debug("Skipping entry on a root that does not allow wipe")
		return nil
	}

	released := false
	if wc.doit {
		_, last, err := wc.conn.cat.Delete(ctx, e.Key)
		if errors.Is(err, metadata.ErrObjectNotFound) {
			return nil
		}
		if err != nil {
			return catalogueError(err)
		}
		wc.removed++
		wc.touched[dataset] = struct{}{}
		wc.conn.metrics.RecordWipe(engine.WipeKindEntry)

		if last {
			err := wc.conn.store.Delete(ctx, rec.URI)
			if err != nil && !storage.IsNotFound(err) {
				return storageError(err)
			}
			wc.conn.metrics.RecordWipe(engine.WipeKindBlob)
			released = true
		}
	} else {
		refs, err := wc.conn.cat.Refs(ctx, rec.URI)
		if err != nil {
			return catalogueError(err)
		}
		wc.planned[rec.URI]++
		released = refs <= wc.planned[rec.URI]
	}

	wc.queue = append(wc.queue, &engine.WipeEntry{Kind: engine.WipeKindEntry, Value: wc.conn.entryURI(rec.Attrs())})
	if released {
		wc.queue = append(wc.queue, &engine.WipeEntry{Kind: engine.WipeKindBlob, Value: rec.URI})
	}

	wc.conn.logger.WithFields(logrus.Fields{
		"operation": "wipe",
		"doit":      wc.doit,
		"uri":       rec.URI,
		"released":  released,
	}).Debug("Wipe step")
	return nil
}

// Close makes a destructive wipe durable. Datasets left without objects
// lose their record and the catalogue engine is asked to reclaim space.
func (wc *wipeCursor) Close() error {
	if wc.closed {
		return nil
	}
	wc.closed = true
	wc.queue = nil
	wc.scan.release()

	if wc.removed == 0 || wc.conn.closed.Load() {
		return nil
	}

	ctx := context.Background()
	for dataset := range wc.touched {
		if _, err := wc.conn.cat.DropDatasetIfEmpty(ctx, dataset); err != nil {
			return catalogueError(err)
		}
	}
	if err := wc.conn.cat.Flush(); err != nil {
		return catalogueError(err)
	}
	if err := wc.conn.cat.GC(); err != nil {
		wc.conn.logger.WithError(err).Warn("Catalogue garbage collection failed")
	}
	return nil
}

var _ engine.WipeCursor = (*wipeCursor)(nil)
