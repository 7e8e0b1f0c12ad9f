package dasi

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxiofs/dasi/pkg/engine"
)

// fakeCursor yields entries, then fails with err (or ends)
type fakeCursor[E any] struct {
	entries  []E
	err      error
	closeErr error
	closes   int
	nexts    int
}

func (c *fakeCursor[E]) Next(ctx context.Context) (E, error) {
	c.nexts++
	var zero E
	if len(c.entries) == 0 {
		if c.err != nil {
			return zero, c.err
		}
		return zero, engine.ErrIteratorEnd
	}
	e := c.entries[0]
	c.entries = c.entries[1:]
	return e, nil
}

func (c *fakeCursor[E]) Close() error {
	c.closes++
	return c.closeErr
}

type fakeRetrieveCursor struct {
	fakeCursor[*engine.RetrieveEntry]
}

func (c *fakeRetrieveCursor) Count() int {
	return len(c.entries)
}

// fakeHandle serves data; Close counts calls
type fakeHandle struct {
	data    []byte
	pos     int
	openErr error
	closes  int
}

func (h *fakeHandle) Open(ctx context.Context) error { return h.openErr }

func (h *fakeHandle) Read(p []byte) (int, error) {
	if h.pos >= len(h.data) {
		return 0, io.EOF
	}
	n := copy(p, h.data[h.pos:])
	h.pos += n
	return n, nil
}

func (h *fakeHandle) Seek(offset int64, whence int) (int64, error) {
	if whence != io.SeekStart || offset < 0 || offset > int64(len(h.data)) {
		return 0, engine.NewError(engine.StatusError, engine.CodeStorage, "bad seek")
	}
	h.pos = int(offset)
	return offset, nil
}

func (h *fakeHandle) Close() error {
	h.closes++
	return nil
}

// fakeConn hands out the cursors and handles it was given
type fakeConn struct {
	list     *fakeCursor[*engine.ListEntry]
	wipe     *fakeCursor[*engine.WipeEntry]
	retrieve *fakeRetrieveCursor
	policy   *fakeCursor[*engine.PolicyEntry]
	handle   *fakeHandle
	err      error
	closes   int
	archived []engine.Attrs
	policyOp string // name and value of the last policy call
}

func (c *fakeConn) Archive(ctx context.Context, key engine.Attrs, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.archived = append(c.archived, key)
	return nil
}

func (c *fakeConn) Flush(ctx context.Context) error { return c.err }

func (c *fakeConn) List(ctx context.Context, req engine.Request) (engine.ListCursor, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.list, nil
}

func (c *fakeConn) Retrieve(ctx context.Context, req engine.Request) (engine.RetrieveCursor, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.retrieve, nil
}

func (c *fakeConn) Wipe(ctx context.Context, req engine.Request, doit, recursive bool) (engine.WipeCursor, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.wipe, nil
}

func (c *fakeConn) ReadHandle(ctx context.Context, entry *engine.RetrieveEntry) (engine.ReadHandle, error) {
	return c.handle, nil
}

func (c *fakeConn) Policy(ctx context.Context, req engine.Request, name string) (engine.PolicyCursor, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.policyOp = name
	return c.policy, nil
}

func (c *fakeConn) SetPolicy(ctx context.Context, req engine.Request, name string, enabled bool) (engine.PolicyCursor, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.policyOp = fmt.Sprintf("%s=%t", name, enabled)
	return c.policy, nil
}

func (c *fakeConn) Close() error {
	c.closes++
	return nil
}

func openFake(t *testing.T, conn *fakeConn) (*Session, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	driver := engine.DriverFunc(func(ctx context.Context, src engine.ConfigSource) (engine.Conn, error) {
		return conn, nil
	})
	s, err := Open(context.Background(), driver, ConfigString("fake"), WithLogger(logger))
	require.NoError(t, err)
	return s, hook
}

func listEntry(kw, v string) *engine.ListEntry {
	return &engine.ListEntry{Key: engine.Attrs{{Keyword: kw, Value: v}}, Location: engine.Location{URI: "file:///" + v, Length: 4}}
}

func TestIteratorStates(t *testing.T) {
	ctx := context.Background()
	cur := &fakeCursor[*engine.ListEntry]{entries: []*engine.ListEntry{listEntry("a", "1"), listEntry("a", "2")}}
	s, _ := openFake(t, &fakeConn{list: cur})

	it, err := s.List(ctx, nil)
	require.NoError(t, err)

	item, ok, err := it.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "file:///1", item.URI)
	first := item

	item, ok, err = it.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	v, _ := item.Key.Get("a")
	assert.Equal(t, "2", v)

	// the earlier item is a value and did not move
	v, _ = first.Key.Get("a")
	assert.Equal(t, "1", v)

	_, ok, err = it.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// exhausted stays exhausted without asking the engine again
	_, ok, err = it.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, cur.nexts)

	require.NoError(t, it.Close())
	require.NoError(t, it.Close())
	assert.Equal(t, 1, cur.closes)

	_, _, err = it.Next(ctx)
	assert.ErrorIs(t, err, ErrIteratorClosed)
}

func TestIteratorFailure(t *testing.T) {
	ctx := context.Background()
	failure := engine.NewError(engine.StatusError, engine.CodeCatalogue, "corrupt record")
	cur := &fakeCursor[*engine.WipeEntry]{
		entries: []*engine.WipeEntry{{Kind: engine.WipeKindEntry, Value: "dasi://x"}},
		err:     failure,
	}
	s, _ := openFake(t, &fakeConn{wipe: cur})

	it, err := s.Wipe(ctx, nil, true, true)
	require.NoError(t, err)
	defer it.Close()

	item, ok, err := it.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, WipeEntry, item.Kind)

	_, ok, err = it.Next(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrEngine)
	assert.ErrorIs(t, err, &Error{Kind: KindEngine, Code: engine.CodeCatalogue})

	// failed iterators keep reporting the same error
	_, _, again := it.Next(ctx)
	assert.Same(t, err, again)
	assert.Equal(t, 2, cur.nexts)
}

func TestIteratorAll(t *testing.T) {
	ctx := context.Background()

	t.Run("complete", func(t *testing.T) {
		cur := &fakeCursor[*engine.ListEntry]{entries: []*engine.ListEntry{listEntry("a", "1"), listEntry("a", "2"), listEntry("a", "3")}}
		s, _ := openFake(t, &fakeConn{list: cur})
		it, err := s.List(ctx, nil)
		require.NoError(t, err)

		var uris []string
		for item, err := range it.All(ctx) {
			require.NoError(t, err)
			uris = append(uris, item.URI)
		}
		assert.Equal(t, []string{"file:///1", "file:///2", "file:///3"}, uris)
		assert.Equal(t, 1, cur.closes)
	})

	t.Run("break closes", func(t *testing.T) {
		cur := &fakeCursor[*engine.ListEntry]{entries: []*engine.ListEntry{listEntry("a", "1"), listEntry("a", "2")}}
		s, _ := openFake(t, &fakeConn{list: cur})
		it, err := s.List(ctx, nil)
		require.NoError(t, err)

		for range it.All(ctx) {
			break
		}
		assert.Equal(t, 1, cur.closes)
	})

	t.Run("error ends the loop", func(t *testing.T) {
		cur := &fakeCursor[*engine.ListEntry]{err: engine.NewError(engine.StatusUnexpected, "", "boom")}
		s, _ := openFake(t, &fakeConn{list: cur})
		it, err := s.List(ctx, nil)
		require.NoError(t, err)

		var errs []error
		for _, err := range it.All(ctx) {
			errs = append(errs, err)
		}
		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0], ErrUnexpected)
	})
}

func TestIteratorCloseFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	cur := &fakeCursor[*engine.ListEntry]{closeErr: engine.NewError(engine.StatusError, engine.CodeCatalogue, "flush failed")}
	s, hook := openFake(t, &fakeConn{list: cur})

	it, err := s.List(ctx, nil)
	require.NoError(t, err)
	err = it.Close()
	assert.ErrorIs(t, err, ErrEngine)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.NoError(t, it.Close())
}

func TestSessionClosed(t *testing.T) {
	ctx := context.Background()
	conn := &fakeConn{list: &fakeCursor[*engine.ListEntry]{entries: []*engine.ListEntry{listEntry("a", "1")}}}
	s, _ := openFake(t, conn)

	it, err := s.List(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, conn.closes)

	_, _, err = it.Next(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.Archive(ctx, KeyFromPairs(Pair{Keyword: "a", Value: "1"}), nil), ErrSessionClosed)
	assert.ErrorIs(t, s.Flush(ctx), ErrSessionClosed)
	_, err = s.List(ctx, nil)
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.Retrieve(ctx, nil)
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.Wipe(ctx, nil, false, false)
	assert.ErrorIs(t, err, ErrSessionClosed)
	require.NoError(t, it.Close())
}

func TestSessionPolicy(t *testing.T) {
	ctx := context.Background()
	entries := []*engine.PolicyEntry{{
		Key:      engine.Attrs{{Keyword: "a", Value: "1"}},
		Policies: []engine.Policy{{Name: engine.PolicyAccessList, Enabled: false}},
	}}
	conn := &fakeConn{policy: &fakeCursor[*engine.PolicyEntry]{entries: entries}}
	s, hook := openFake(t, conn)

	it, err := s.SetPolicy(ctx, nil, PolicyAccessList, false)
	require.NoError(t, err)
	assert.Equal(t, "access.list=false", conn.policyOp)
	assert.Equal(t, "Policy change started", hook.LastEntry().Message)
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)

	item, ok, err := it.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a=1", item.Key.String())
	enabled, selected := item.Enabled(PolicyAccessList)
	assert.True(t, selected)
	assert.False(t, enabled)
	_, selected = item.Enabled(PolicyAccessWipe)
	assert.False(t, selected)
	require.NoError(t, it.Close())
	assert.Equal(t, 1, conn.policy.closes)

	conn.err = engine.NewError(engine.StatusError, engine.CodeInvalidPolicy, "unknown policy")
	_, err = s.Policy(ctx, nil, "colour")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "dasi: policy: ")

	require.NoError(t, s.Close())
	_, err = s.Policy(ctx, nil, "")
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.SetPolicy(ctx, nil, PolicyAccessWipe, true)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionOpenFailure(t *testing.T) {
	ctx := context.Background()
	driver := engine.DriverFunc(func(ctx context.Context, src engine.ConfigSource) (engine.Conn, error) {
		return nil, engine.NewError(engine.StatusError, engine.CodeInvalidConfig, "schema is required")
	})

	s, err := Open(ctx, driver, ConfigFile("/nowhere/dasi.yaml"))
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrEngine)
	assert.ErrorIs(t, err, &Error{Kind: KindEngine, Code: engine.CodeInvalidConfig})

	s, err = Open(ctx, nil, ConfigString("x"))
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrEngine)
}

func TestSessionArchiveValidation(t *testing.T) {
	ctx := context.Background()
	conn := &fakeConn{}
	s, _ := openFake(t, conn)

	assert.ErrorIs(t, s.Archive(ctx, nil, []byte("x")), ErrValidation)
	assert.ErrorIs(t, s.Archive(ctx, NewKey(), []byte("x")), ErrValidation)

	require.NoError(t, s.Archive(ctx, KeyFromPairs(Pair{Keyword: "a", Value: "1"}), []byte("x")))
	assert.Len(t, conn.archived, 1)

	conn.err = engine.NewError(engine.StatusError, engine.CodeInvalidKey, "no rule")
	err := s.Archive(ctx, KeyFromPairs(Pair{Keyword: "a", Value: "1"}), []byte("x"))
	assert.ErrorIs(t, err, ErrValidation)
	assert.NotEmpty(t, s.ID())
}

func TestReadHandleStates(t *testing.T) {
	ctx := context.Background()
	handle := &fakeHandle{data: []byte("TESTING TESTING")}
	entries := []*engine.RetrieveEntry{{Key: engine.Attrs{{Keyword: "a", Value: "1"}}, Size: 15}}
	conn := &fakeConn{retrieve: &fakeRetrieveCursor{fakeCursor[*engine.RetrieveEntry]{entries: entries}}, handle: handle}
	s, _ := openFake(t, conn)

	it, err := s.Retrieve(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, it.Count())
	item, ok, err := it.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, it.Close())

	h, err := item.Handle()
	require.NoError(t, err)

	_, err = h.ReadBytes(4)
	assert.ErrorIs(t, err, ErrHandleNotOpen)
	_, err = h.Seek(0, io.SeekStart)
	assert.ErrorIs(t, err, ErrHandleNotOpen)

	require.NoError(t, h.Open(ctx))
	assert.ErrorIs(t, h.Open(ctx), ErrHandleAlreadyOpen)

	data, err := h.ReadBytes(16)
	require.NoError(t, err)
	assert.Equal(t, "TESTING TESTING", string(data))

	data, err = h.ReadBytes(1)
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = h.ReadBytes(-1)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.Seek(99, io.SeekStart)
	assert.ErrorIs(t, err, ErrEngine)

	pos, err := h.Seek(8, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(8), pos)
	rest, err := io.ReadAll(h)
	require.NoError(t, err)
	assert.Equal(t, "TESTING", string(rest))

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.Equal(t, 1, handle.closes)
	assert.ErrorIs(t, h.Open(ctx), ErrHandleClosed)
	_, err = h.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrHandleClosed)

	// closing an unopened handle releases nothing
	unopened, err := item.Handle()
	require.NoError(t, err)
	require.NoError(t, unopened.Close())
	assert.Equal(t, 1, handle.closes)

	_, err = RetrieveItem{}.Handle()
	assert.ErrorIs(t, err, ErrUnexpected)
}

func TestReadHandleOpenFailure(t *testing.T) {
	ctx := context.Background()
	handle := &fakeHandle{openErr: engine.NewError(engine.StatusNotFound, engine.CodeNotFound, "payload missing")}
	entries := []*engine.RetrieveEntry{{Key: engine.Attrs{{Keyword: "a", Value: "1"}}}}
	conn := &fakeConn{retrieve: &fakeRetrieveCursor{fakeCursor[*engine.RetrieveEntry]{entries: entries}}, handle: handle}
	s, _ := openFake(t, conn)

	it, err := s.Retrieve(ctx, nil)
	require.NoError(t, err)
	defer it.Close()
	item, _, err := it.Next(ctx)
	require.NoError(t, err)

	_, err = item.ReadAll(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, handle.closes)
}
