package local

import (
	"context"
	"strings"

	"github.com/maxiofs/dasi/internal/metadata"
	"github.com/maxiofs/dasi/internal/schema"
	"github.com/maxiofs/dasi/pkg/engine"
)

// retrieveCursor yields the objects of a fully resolved request. Every
// combination was checked to exist when the cursor was created.
type retrieveCursor struct {
	conn   *conn
	keys   []string
	pos    int
	closed bool
}

func (c *conn) newRetrieveCursor(ctx context.Context, req engine.Request) (*retrieveCursor, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}

	path, ok := c.schema.Exact(req.Keywords())
	if !ok {
		return nil, errNotFound("query keywords [%s] are not the keywords of any schema rule",
			strings.Join(req.Keywords(), ","))
	}

	var sets [][]string
	for _, level := range path.Levels {
		for _, kw := range level {
			values, _ := req.Lookup(kw)
			sets = append(sets, unique(values))
		}
	}

	prod := schema.NewProduct(sets)
	if prod.Size() == 0 {
		return nil, errNotFound("query has a keyword without candidate values")
	}

	keys := make([]string, 0, prod.Size())
	permitted := make(map[string]bool)
	for prod.Next() {
		levels := levelAttrs(path.Levels, prod.Values())
		dataset := metadata.DatasetKey(levels[0])
		if !permitted[dataset] {
			if err := c.permit(ctx, engine.PolicyAccessRetrieve, levels[0]); err != nil {
				return nil, err
			}
			permitted[dataset] = true
		}

		key := metadata.ObjectPrefix(levels...)
		exists, err := c.cat.Exists(ctx, key)
		if err != nil {
			return nil, catalogueError(err)
		}
		if !exists {
			split := schema.Split{Path: path, Levels: levels}
			return nil, errNotFound("no object archived under %s", formatKey(split.Attrs()))
		}
		keys = append(keys, key)
	}

	return &retrieveCursor{conn: c, keys: keys}, nil
}

func (rc *retrieveCursor) Next(ctx context.Context) (*engine.RetrieveEntry, error) {
	if rc.closed {
		return nil, errCursorClosed()
	}
	if err := rc.conn.check(ctx); err != nil {
		return nil, err
	}
	if rc.pos >= len(rc.keys) {
		return nil, engine.ErrIteratorEnd
	}

	key := rc.keys[rc.pos]
	rc.pos++
	rec, err := rc.conn.cat.Get(ctx, key)
	if err != nil {
		return nil, catalogueError(err)
	}
	return &engine.RetrieveEntry{
		Key:       rec.Attrs(),
		Location:  rec.Location(),
		Timestamp: rec.Timestamp(),
		Size:      rec.Size,
		Token:     rec,
	}, nil
}

func (rc *retrieveCursor) Count() int {
	return len(rc.keys)
}

func (rc *retrieveCursor) Close() error {
	rc.closed = true
	rc.keys = nil
	return nil
}

var _ engine.RetrieveCursor = (*retrieveCursor)(nil)
