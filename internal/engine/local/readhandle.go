package local

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/zeebo/blake3"

	"github.com/maxiofs/dasi/internal/metadata"
	"github.com/maxiofs/dasi/internal/metrics"
	"github.com/maxiofs/dasi/pkg/compression"
	"github.com/maxiofs/dasi/pkg/engine"
)

// readHandle reads one payload. Raw payloads stream from the store and
// Seek reopens the section at the new offset; compressed payloads are
// decoded into memory on Open. A read that runs from offset 0 to the end
// without seeking verifies the checksum.
type readHandle struct {
	conn *conn
	rec  *metadata.ObjectRecord
	ctx  context.Context // from Open, for sections reopened by Seek

	opened bool
	closed bool

	// compressed payloads
	buf *bytes.Reader

	// raw payloads
	body       io.ReadCloser
	pos        int64
	hasher     hash.Hash
	sequential bool
}

func (h *readHandle) Open(ctx context.Context) error {
	switch {
	case h.closed:
		return errHandleState("read handle is closed")
	case h.opened:
		return errHandleState("read handle is already open")
	}
	if err := h.conn.check(ctx); err != nil {
		return err
	}
	h.ctx = ctx

	if h.rec.Compression != "" && h.rec.Compression != compression.AlgorithmNone {
		if err := h.loadCompressed(ctx); err != nil {
			return err
		}
		h.opened = true
		return nil
	}

	body, err := h.conn.store.Open(ctx, h.rec.Location(), 0)
	if err != nil {
		return storageError(err)
	}
	h.body = body
	h.pos = 0
	h.hasher = blake3.New()
	h.sequential = true
	h.opened = true
	return nil
}

func (h *readHandle) loadCompressed(ctx context.Context) error {
	body, err := h.conn.store.Open(ctx, h.rec.Location(), 0)
	if err != nil {
		return storageError(err)
	}
	defer body.Close()

	stored, err := io.ReadAll(body)
	if err != nil {
		return storageError(err)
	}
	data, err := compression.Decompress(h.rec.Compression, stored, h.rec.Size)
	if err != nil {
		return engine.NewErrorWithCause(engine.StatusError, engine.CodeStorage,
			fmt.Sprintf("failed to decompress %s", h.rec.URI), err)
	}

	sum := blake3.Sum256(data)
	if hex.EncodeToString(sum[:]) != h.rec.Checksum {
		return errChecksum(h.rec.URI)
	}
	h.conn.metrics.RecordBytes(metrics.DirectionOut, int64(len(stored)))
	h.buf = bytes.NewReader(data)
	return nil
}

func (h *readHandle) ready() error {
	switch {
	case h.closed:
		return errHandleState("read handle is closed")
	case !h.opened:
		return errHandleState("read handle is not open")
	}
	return nil
}

func (h *readHandle) Read(p []byte) (int, error) {
	if err := h.ready(); err != nil {
		return 0, err
	}
	if h.buf != nil {
		return h.buf.Read(p)
	}

	n, err := h.body.Read(p)
	if n > 0 {
		h.pos += int64(n)
		h.conn.metrics.RecordBytes(metrics.DirectionOut, int64(n))
		if h.sequential {
			h.hasher.Write(p[:n])
		}
	}
	if err == io.EOF && h.sequential && h.pos == h.rec.Size {
		h.sequential = false
		if hex.EncodeToString(h.hasher.Sum(nil)) != h.rec.Checksum {
			return n, errChecksum(h.rec.URI)
		}
	}
	return n, err
}

func (h *readHandle) Seek(offset int64, whence int) (int64, error) {
	if err := h.ready(); err != nil {
		return 0, err
	}
	pos := h.pos
	if h.buf != nil {
		pos = h.buf.Size() - int64(h.buf.Len())
	}

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = pos + offset
	case io.SeekEnd:
		abs = h.rec.Size + offset
	default:
		return 0, errRange(fmt.Sprintf("invalid whence %d", whence))
	}
	if abs < 0 || abs > h.rec.Size {
		return 0, errRange(fmt.Sprintf("seek position %d outside payload of %d bytes", abs, h.rec.Size))
	}
	if h.buf != nil {
		return h.buf.Seek(abs, io.SeekStart)
	}
	if abs == h.pos {
		return abs, nil
	}

	body, err := h.conn.store.Open(h.ctx, h.rec.Location(), abs)
	if err != nil {
		return 0, storageError(err)
	}
	h.body.Close()
	h.body = body
	h.pos = abs
	h.sequential = abs == 0
	if h.sequential {
		h.hasher.Reset()
	}
	return abs, nil
}

func (h *readHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.buf = nil
	if h.body != nil {
		err := h.body.Close()
		h.body = nil
		if err != nil {
			return storageError(err)
		}
	}
	return nil
}

var _ engine.ReadHandle = (*readHandle)(nil)
