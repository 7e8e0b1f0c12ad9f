package dasi_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxiofs/dasi/pkg/dasi"
	"github.com/maxiofs/dasi/pkg/engine/local"
)

const schemaFile = `# key1 key2 key3 pick the dataset, the rest the object
- [key1, key2, key3, [key1a, key2a, key3a, [key1b, key2b, key3b]]]
- [key1, key2, key3]
`

func openSession(t *testing.T) *dasi.Session {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.yaml"), []byte(schemaFile), 0644))

	cfg := fmt.Sprintf(`schema: schema.yaml
catalogue: pebble
spaces:
  - handler: Default
    roots:
      - path: %s
`, filepath.Join(dir, "root"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dasi.yaml"), []byte(cfg), 0644))

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	s, err := dasi.Open(context.Background(), local.NewDriver(local.WithLogger(logger)),
		dasi.ConfigFile(filepath.Join(dir, "dasi.yaml")), dasi.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fullKey(key3b string) *dasi.Key {
	return dasi.KeyFromPairs(
		dasi.Pair{Keyword: "key1", Value: "value1"},
		dasi.Pair{Keyword: "key2", Value: "value2"},
		dasi.Pair{Keyword: "key3", Value: "value3"},
		dasi.Pair{Keyword: "key1a", Value: "value1a"},
		dasi.Pair{Keyword: "key2a", Value: "value2a"},
		dasi.Pair{Keyword: "key3a", Value: "value3a"},
		dasi.Pair{Keyword: "key1b", Value: "value1b"},
		dasi.Pair{Keyword: "key2b", Value: "value2b"},
		dasi.Pair{Keyword: "key3b", Value: key3b},
	)
}

func TestRoundTrip(t *testing.T) {
	s := openSession(t)
	ctx := context.Background()

	key := dasi.KeyFromMap(map[string]string{"key1": "value1", "key2": "value2", "key3": "value3"})
	require.NoError(t, s.Archive(ctx, key, []byte("TESTING TESTING")))
	require.NoError(t, s.Flush(ctx))

	it, err := s.Retrieve(ctx, dasi.QueryFromKey(key))
	require.NoError(t, err)
	defer it.Close()
	require.Equal(t, 1, it.Count())

	item, ok, err := it.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, key.Equal(item.Key))

	h, err := item.Handle()
	require.NoError(t, err)
	require.NoError(t, h.Open(ctx))
	defer h.Close()

	data, err := h.ReadBytes(16)
	require.NoError(t, err)
	assert.Equal(t, []byte("TESTING TESTING"), data)

	data, err = h.ReadBytes(1)
	require.NoError(t, err)
	assert.Empty(t, data)

	_, ok, err = it.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRetrieveThree(t *testing.T) {
	s := openSession(t)
	ctx := context.Background()

	payloads := map[string]string{"a": "payload a", "b": "payload b", "c": "payload c"}
	for v, data := range payloads {
		require.NoError(t, s.Archive(ctx, fullKey(v), []byte(data)))
	}

	q := dasi.QueryFromKey(fullKey("a"))
	q.Set("key3b", "a", "b", "c")

	it, err := s.Retrieve(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 3, it.Count())

	seen := map[string]bool{}
	for item, err := range it.All(ctx) {
		require.NoError(t, err)
		v, err := item.Key.Get("key3b")
		require.NoError(t, err)
		assert.True(t, fullKey(v).Equal(item.Key))

		data, err := item.ReadAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, payloads[v], string(data))
		seen[v] = true
	}
	assert.Len(t, seen, 3)
	assert.ErrorIs(t, it.Close(), nil)
}

func TestRetrieveIsStrict(t *testing.T) {
	s := openSession(t)
	ctx := context.Background()

	require.NoError(t, s.Archive(ctx, fullKey("a"), []byte("a")))
	require.NoError(t, s.Archive(ctx, fullKey("b"), []byte("b")))

	q := dasi.QueryFromKey(fullKey("a"))
	q.Set("key3b", "a", "b", "missing")

	it, err := s.Retrieve(ctx, q)
	assert.Nil(t, it)
	assert.ErrorIs(t, err, dasi.ErrNotFound)

	partial, err := dasi.ParseQuery("key1=value1")
	require.NoError(t, err)
	_, err = s.Retrieve(ctx, partial)
	assert.ErrorIs(t, err, dasi.ErrNotFound)
}

func TestListEmptyAndPartial(t *testing.T) {
	s := openSession(t)
	ctx := context.Background()

	it, err := s.List(ctx, dasi.QueryFromKey(fullKey("nothing")))
	require.NoError(t, err)
	_, ok, err := it.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, it.Close())

	for _, v := range []string{"a", "b"} {
		require.NoError(t, s.Archive(ctx, fullKey(v), []byte(v)))
	}

	q, err := dasi.ParseQuery("key1=value1,key3b=a/b/c")
	require.NoError(t, err)
	it, err = s.List(ctx, q)
	require.NoError(t, err)

	var items []dasi.ListItem
	for item, err := range it.All(ctx) {
		require.NoError(t, err)
		items = append(items, item)
	}
	require.Len(t, items, 2)
	for _, item := range items {
		assert.NotEmpty(t, item.URI)
		assert.Equal(t, int64(1), item.Length)
		assert.False(t, item.Timestamp.IsZero())
		assert.Equal(t, 9, item.Key.Count())
	}
}

func TestArchiveValidation(t *testing.T) {
	s := openSession(t)
	ctx := context.Background()

	incomplete := fullKey("a")
	incomplete.Erase("key2b")
	assert.ErrorIs(t, s.Archive(ctx, incomplete, []byte("x")), dasi.ErrValidation)

	extra := fullKey("a")
	extra.Set("colour", "red")
	assert.ErrorIs(t, s.Archive(ctx, extra, []byte("x")), dasi.ErrValidation)
}

func TestWipeDryRunAndDoit(t *testing.T) {
	s := openSession(t)
	ctx := context.Background()

	key := fullKey("a")
	require.NoError(t, s.Archive(ctx, key, []byte("wipe me")))

	dry, err := s.Wipe(ctx, dasi.QueryFromKey(key), false, false)
	require.NoError(t, err)
	var planned []dasi.WipeItem
	for item, err := range dry.All(ctx) {
		require.NoError(t, err)
		planned = append(planned, item)
	}
	require.Len(t, planned, 2)
	assert.Equal(t, dasi.WipeEntry, planned[0].Kind)
	assert.Equal(t, dasi.WipeBlob, planned[1].Kind)

	it, err := s.Retrieve(ctx, dasi.QueryFromKey(key))
	require.NoError(t, err, "dry run keeps the data")
	require.NoError(t, it.Close())

	doit, err := s.Wipe(ctx, dasi.QueryFromKey(key), true, false)
	require.NoError(t, err)
	var removed []dasi.WipeItem
	for item, err := range doit.All(ctx) {
		require.NoError(t, err)
		removed = append(removed, item)
	}
	assert.Equal(t, planned, removed)

	_, err = s.Retrieve(ctx, dasi.QueryFromKey(key))
	assert.ErrorIs(t, err, dasi.ErrNotFound)
}

func TestWipeRecursive(t *testing.T) {
	s := openSession(t)
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c"} {
		require.NoError(t, s.Archive(ctx, fullKey(v), []byte(v)))
	}
	dataset := dasi.KeyFromMap(map[string]string{"key1": "value1", "key2": "value2", "key3": "value3"})
	require.NoError(t, s.Archive(ctx, dataset, []byte("dataset level")))

	q, err := dasi.ParseQuery("key1=value1,key2=value2,key3=value3")
	require.NoError(t, err)

	// exact granularity only touches the object keyed by exactly these keywords
	it, err := s.Wipe(ctx, q, false, false)
	require.NoError(t, err)
	count := 0
	for _, err := range it.All(ctx) {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 2, count)

	it, err = s.Wipe(ctx, q, true, true)
	require.NoError(t, err)
	count = 0
	for _, err := range it.All(ctx) {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 8, count)

	list, err := s.List(ctx, nil)
	require.NoError(t, err)
	_, ok, err := list.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, list.Close())
}

func TestOpenFailure(t *testing.T) {
	s, err := dasi.Open(context.Background(), local.NewDriver(), dasi.ConfigFile(filepath.Join(t.TempDir(), "absent.yaml")))
	assert.Nil(t, s)
	assert.ErrorIs(t, err, dasi.ErrEngine)
	assert.ErrorIs(t, err, &dasi.Error{Kind: dasi.KindEngine, Code: "InvalidConfig"})
}

func TestQueryChangesAfterWipeDoNotLeak(t *testing.T) {
	s := openSession(t)
	ctx := context.Background()

	for _, v := range []string{"a", "b"} {
		require.NoError(t, s.Archive(ctx, fullKey(v), []byte(v)))
	}

	q, err := dasi.ParseQuery("key1=value1,key3b=a")
	require.NoError(t, err)

	list, err := s.List(ctx, q)
	require.NoError(t, err)
	wipe, err := s.Wipe(ctx, q, true, true)
	require.NoError(t, err)

	q.Set("key3b", "b")
	q.Erase("key1")

	var listed []string
	for item, err := range list.All(ctx) {
		require.NoError(t, err)
		v, err := item.Key.Get("key3b")
		require.NoError(t, err)
		listed = append(listed, v)
	}
	assert.Equal(t, []string{"a"}, listed)

	for _, err := range wipe.All(ctx) {
		require.NoError(t, err)
	}

	_, err = s.Retrieve(ctx, dasi.QueryFromKey(fullKey("a")))
	assert.ErrorIs(t, err, dasi.ErrNotFound, "the object the wipe was asked for is gone")

	it, err := s.Retrieve(ctx, dasi.QueryFromKey(fullKey("b")))
	require.NoError(t, err, "the other object survives")
	require.NoError(t, it.Close())
}

func TestPolicy(t *testing.T) {
	s := openSession(t)
	ctx := context.Background()
	require.NoError(t, s.Archive(ctx, fullKey("a"), []byte("a")))

	q, err := dasi.ParseQuery("key1=value1,key2=value2")
	require.NoError(t, err)

	it, err := s.Policy(ctx, q, "")
	require.NoError(t, err)
	var items []dasi.PolicyItem
	for item, err := range it.All(ctx) {
		require.NoError(t, err)
		items = append(items, item)
	}
	require.Len(t, items, 1)
	assert.Equal(t, "key1=value1,key2=value2,key3=value3", items[0].Key.String())
	require.Len(t, items[0].Policies, 4)
	enabled, ok := items[0].Enabled(dasi.PolicyAccessWipe)
	assert.True(t, ok)
	assert.True(t, enabled)

	_, err = s.SetPolicy(ctx, q, dasi.PolicyAccess, false)
	assert.ErrorIs(t, err, dasi.ErrValidation)

	set, err := s.SetPolicy(ctx, q, dasi.PolicyAccessWipe, false)
	require.NoError(t, err)
	for item, err := range set.All(ctx) {
		require.NoError(t, err)
		enabled, _ := item.Enabled(dasi.PolicyAccessWipe)
		assert.False(t, enabled)
	}

	wipe, err := s.Wipe(ctx, dasi.QueryFromKey(fullKey("a")), true, false)
	require.NoError(t, err)
	_, _, err = wipe.Next(ctx)
	assert.ErrorIs(t, err, &dasi.Error{Kind: dasi.KindEngine, Code: "AccessDenied"})
	require.NoError(t, wipe.Close())

	ret, err := s.Retrieve(ctx, dasi.QueryFromKey(fullKey("a")))
	require.NoError(t, err, "retrieve stays enabled")
	require.NoError(t, ret.Close())
}
