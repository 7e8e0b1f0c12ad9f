package local

import (
	"context"

	"github.com/maxiofs/dasi/pkg/engine"
)

type listCursor struct {
	scan   *scan
	closed bool
}

func (lc *listCursor) Next(ctx context.Context) (*engine.ListEntry, error) {
	if lc.closed {
		return nil, errCursorClosed()
	}
	if err := lc.scan.conn.check(ctx); err != nil {
		return nil, err
	}

	e, err := lc.scan.Next(ctx)
	if err != nil {
		return nil, err
	}
	return &engine.ListEntry{
		Key:       e.Record.Attrs(),
		Location:  e.Record.Location(),
		Timestamp: e.Record.Timestamp(),
	}, nil
}

func (lc *listCursor) Close() error {
	if lc.closed {
		return nil
	}
	lc.closed = true
	lc.scan.release()
	return nil
}

var _ engine.ListCursor = (*listCursor)(nil)
