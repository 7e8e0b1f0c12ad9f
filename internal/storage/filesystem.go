package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"

	"github.com/maxiofs/dasi/internal/config"
	"github.com/maxiofs/dasi/pkg/engine"
)

const fileScheme = "file://"

// FilesystemBackend stores payloads as files spread over one or more roots.
// A dataset directory always lands on the same root.
type FilesystemBackend struct {
	roots  []config.RootConfig
	logger *logrus.Logger

	mu      sync.Mutex
	pending map[string]struct{} // files written since the last Sync
	closed  bool
}

// NewFilesystemBackend creates a new filesystem storage backend
func NewFilesystemBackend(roots []config.RootConfig, logger *logrus.Logger) (*FilesystemBackend, error) {
	if len(roots) == 0 {
		return nil, NewError("NoRoots", "At least one storage root is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	clean := make([]config.RootConfig, len(roots))
	for i, root := range roots {
		abs, err := filepath.Abs(root.Path)
		if err != nil {
			return nil, NewErrorWithCause("InvalidRoot", "Failed to resolve root path", err)
		}
		// Ensure root path exists
		if err := os.MkdirAll(abs, 0755); err != nil {
			return nil, NewErrorWithCause("CreateRootDir", "Failed to create root directory", err)
		}
		clean[i] = config.RootConfig{Path: abs, Wipe: root.Wipe}
	}

	return &FilesystemBackend{
		roots:   clean,
		logger:  logger,
		pending: make(map[string]struct{}),
	}, nil
}

// Roots returns the resolved storage roots
func (fs *FilesystemBackend) Roots() []config.RootConfig {
	return fs.roots
}

// Put stores a payload. An existing file at the same content-addressed
// path is reused.
func (fs *FilesystemBackend) Put(ctx context.Context, path string, data []byte) (engine.Location, error) {
	if err := fs.validatePath(path); err != nil {
		return engine.Location{}, err
	}
	if err := fs.ready(); err != nil {
		return engine.Location{}, err
	}

	fullPath := fs.getFullPath(path)
	loc := engine.Location{URI: fileURI(fullPath), Offset: 0, Length: int64(len(data))}

	if info, err := os.Stat(fullPath); err == nil && info.Size() == int64(len(data)) {
		fs.logger.WithField("path", fullPath).Debug("Payload already stored")
		return loc, nil
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return engine.Location{}, NewErrorWithCause("CreateDirectory", "Failed to create directory", err)
	}

	// Create temporary file
	tempFile, err := os.CreateTemp(dir, ".tmp_")
	if err != nil {
		return engine.Location{}, NewErrorWithCause("CreateTempFile", "Failed to create temporary file", err)
	}
	defer os.Remove(tempFile.Name())
	defer tempFile.Close()

	if _, err := tempFile.Write(data); err != nil {
		return engine.Location{}, NewErrorWithCause("WriteData", "Failed to write data", err)
	}
	if err := tempFile.Close(); err != nil {
		return engine.Location{}, NewErrorWithCause("WriteData", "Failed to write data", err)
	}

	// Atomic move
	if err := os.Rename(tempFile.Name(), fullPath); err != nil {
		return engine.Location{}, NewErrorWithCause("AtomicMove", "Failed to move file to final location", err)
	}

	fs.mu.Lock()
	fs.pending[fullPath] = struct{}{}
	fs.mu.Unlock()

	return loc, nil
}

// Open returns a reader over the stored bytes of loc starting at offset.
func (fs *FilesystemBackend) Open(ctx context.Context, loc engine.Location, offset int64) (io.ReadCloser, error) {
	if err := fs.ready(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath, err := fs.pathOf(loc.URI)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset > loc.Length {
		return nil, NewError("InvalidRange", "Offset outside the stored payload")
	}

	file, err := os.Open(fullPath)
	if os.IsNotExist(err) {
		return nil, ErrObjectNotFound
	} else if err != nil {
		return nil, NewErrorWithCause("OpenFile", "Failed to open file", err)
	}

	if _, err := file.Seek(loc.Offset+offset, io.SeekStart); err != nil {
		file.Close()
		return nil, NewErrorWithCause("SeekFile", "Failed to seek in file", err)
	}

	return readCloser{Reader: io.LimitReader(file, loc.Length-offset), Closer: file}, nil
}

// Delete removes a payload file and prunes its fan-out directory when it
// becomes empty.
func (fs *FilesystemBackend) Delete(ctx context.Context, uri string) error {
	if err := fs.ready(); err != nil {
		return err
	}
	fullPath, err := fs.pathOf(uri)
	if err != nil {
		return err
	}
	if !fs.Wipeable(uri) {
		return ErrNotWipeable
	}

	if err := os.Remove(fullPath); os.IsNotExist(err) {
		return ErrObjectNotFound
	} else if err != nil {
		return NewErrorWithCause("DeleteFile", "Failed to delete file", err)
	}

	fs.mu.Lock()
	delete(fs.pending, fullPath)
	fs.mu.Unlock()

	// Non-empty directories stay
	fanout := filepath.Dir(fullPath)
	if os.Remove(fanout) == nil {
		_ = os.Remove(filepath.Dir(fanout))
	}
	return nil
}

// Exists checks if a payload exists
func (fs *FilesystemBackend) Exists(ctx context.Context, uri string) (bool, error) {
	fullPath, err := fs.pathOf(uri)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(fullPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, NewErrorWithCause("StatFile", "Failed to stat file", err)
	}
	return true, nil
}

// Wipeable reports whether uri lives on a root that allows wipe
func (fs *FilesystemBackend) Wipeable(uri string) bool {
	fullPath, err := fs.pathOf(uri)
	if err != nil {
		return false
	}
	root, ok := fs.rootOf(fullPath)
	return ok && root.Wipeable()
}

// Sync fsyncs every file written since the last call along with its
// directory entry.
func (fs *FilesystemBackend) Sync(ctx context.Context) error {
	fs.mu.Lock()
	pending := fs.pending
	fs.pending = make(map[string]struct{})
	fs.mu.Unlock()

	dirs := make(map[string]struct{})
	for path := range pending {
		if err := ctx.Err(); err != nil {
			fs.requeue(pending)
			return err
		}
		if err := syncPath(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			fs.requeue(pending)
			return NewErrorWithCause("SyncFile", "Failed to sync payload", err)
		}
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		if err := syncPath(dir); err != nil && !os.IsNotExist(err) {
			return NewErrorWithCause("SyncDirectory", "Failed to sync directory", err)
		}
	}
	return nil
}

func (fs *FilesystemBackend) requeue(paths map[string]struct{}) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for p := range paths {
		fs.pending[p] = struct{}{}
	}
}

func syncPath(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// Close closes the filesystem backend
func (fs *FilesystemBackend) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.closed = true
	return nil
}

func (fs *FilesystemBackend) ready() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return ErrStorageNotReady
	}
	return nil
}

// validatePath validates that the path is safe for filesystem operations
func (fs *FilesystemBackend) validatePath(path string) error {
	if path == "" {
		return ErrInvalidPath
	}

	// Prevent directory traversal attacks
	if strings.Contains(path, "..") {
		return ErrInvalidPath
	}

	// Ensure path doesn't start with /
	if strings.HasPrefix(path, "/") {
		return ErrInvalidPath
	}

	return nil
}

// getFullPath returns the full filesystem path for a given payload path.
// The dataset directory picks the root.
func (fs *FilesystemBackend) getFullPath(path string) string {
	dataset, _, _ := strings.Cut(path, "/")
	sum := blake3.Sum256([]byte(dataset))
	root := fs.roots[binary.BigEndian.Uint32(sum[:4])%uint32(len(fs.roots))]
	return filepath.Join(root.Path, filepath.FromSlash(path))
}

func (fs *FilesystemBackend) pathOf(uri string) (string, error) {
	if !strings.HasPrefix(uri, fileScheme) {
		return "", ErrInvalidURI
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", NewErrorWithCause("InvalidURI", "Failed to parse payload URI", err)
	}
	path := filepath.FromSlash(u.Path)
	if _, ok := fs.rootOf(path); !ok {
		return "", ErrInvalidURI
	}
	return path, nil
}

func (fs *FilesystemBackend) rootOf(path string) (config.RootConfig, bool) {
	for _, root := range fs.roots {
		rel, err := filepath.Rel(root.Path, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		return root, true
	}
	return config.RootConfig{}, false
}

func fileURI(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

var _ Backend = (*FilesystemBackend)(nil)

// IsNotFound reports whether err means the payload is missing
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}
