package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxiofs/dasi/internal/config"
	"github.com/maxiofs/dasi/pkg/engine"
)

// fakeS3 serves the handful of path-style object calls the backend makes
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.objects[key] = data
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		if rng := r.Header.Get("Range"); rng != "" {
			var start, end int
			if _, err := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end); err != nil || end >= len(data) {
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
				return
			}
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
			w.Header().Set("Content-Length", strconv.Itoa(end-start+1))
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(data[start : end+1])
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func setupS3Backend(t *testing.T, roots ...config.RootConfig) (*S3Backend, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string][]byte)}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	backend, err := NewS3Backend(config.S3Config{
		Endpoint:  server.URL,
		Region:    "us-east-1",
		Bucket:    "archive",
		Prefix:    "/dasi/",
		AccessKey: "test",
		SecretKey: "test-secret",
	}, roots, nil)
	require.NoError(t, err)
	return backend, fake
}

func TestS3Backend(t *testing.T) {
	backend, fake := setupS3Backend(t)
	ctx := context.Background()

	loc, err := backend.Put(ctx, BlobPath("ds", "abcdef", "none"), []byte("TESTING TESTING"))
	require.NoError(t, err)
	assert.Equal(t, "s3://archive/dasi/ds/ab/abcdef", loc.URI)
	assert.Equal(t, int64(15), loc.Length)
	fake.mu.Lock()
	assert.Contains(t, fake.objects, "archive/dasi/ds/ab/abcdef")
	fake.mu.Unlock()

	t.Run("Ranged reads", func(t *testing.T) {
		assert.Equal(t, "TESTING TESTING", readAll(t, backend, loc, 0))
		assert.Equal(t, "TESTING", readAll(t, backend, loc, 8))
		assert.Equal(t, "", readAll(t, backend, loc, 15))
	})

	t.Run("Exists", func(t *testing.T) {
		ok, err := backend.Exists(ctx, loc.URI)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = backend.Exists(ctx, "s3://archive/dasi/missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Missing object", func(t *testing.T) {
		_, err := backend.Open(ctx, engine.Location{URI: "s3://archive/dasi/missing", Length: 4}, 0)
		assert.ErrorIs(t, err, ErrObjectNotFound)
	})

	t.Run("Foreign URI", func(t *testing.T) {
		_, err := backend.Open(ctx, engine.Location{URI: "s3://other/key", Length: 1}, 0)
		assert.ErrorIs(t, err, ErrInvalidURI)
		assert.False(t, backend.Wipeable("file:///tmp/x"))
	})

	t.Run("Delete", func(t *testing.T) {
		assert.True(t, backend.Wipeable(loc.URI))
		require.NoError(t, backend.Delete(ctx, loc.URI))
		assert.ErrorIs(t, backend.Delete(ctx, loc.URI), ErrObjectNotFound)
	})

	t.Run("Sync and Close", func(t *testing.T) {
		assert.NoError(t, backend.Sync(ctx))
		assert.NoError(t, backend.Close())
	})
}

func TestS3BackendNoWipe(t *testing.T) {
	noWipe := false
	backend, _ := setupS3Backend(t, config.RootConfig{Path: "/unused", Wipe: &noWipe})
	ctx := context.Background()

	loc, err := backend.Put(ctx, "ds/00/0011", []byte("x"))
	require.NoError(t, err)
	assert.False(t, backend.Wipeable(loc.URI))
	assert.ErrorIs(t, backend.Delete(ctx, loc.URI), ErrNotWipeable)
}

func TestNewBackend(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := &config.Config{
		Store:  config.StoreFile,
		Spaces: []config.SpaceConfig{{Roots: []config.RootConfig{{Path: tmpDir}}}},
	}
	b, err := NewBackend(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &FilesystemBackend{}, b)

	cfg.Store = config.StoreS3
	cfg.S3 = config.S3Config{Bucket: "b", Region: "us-east-1"}
	b, err = NewBackend(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &S3Backend{}, b)

	cfg.Store = "tape"
	_, err = NewBackend(cfg, nil)
	assert.Error(t, err)
}
