package dasi

import (
	"context"
	"errors"
	"io"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/maxiofs/dasi/pkg/engine"
)

type handleState int

const (
	handleUnopened handleState = iota
	handleOpen
	handleClosed
)

// ReadHandle reads the payload of one retrieved object. It must be opened
// before reading and closed once done.
type ReadHandle struct {
	session *Session
	entry   *engine.RetrieveEntry
	h       engine.ReadHandle
	state   handleState
	cleanup runtime.Cleanup
}

type leakedHandle struct {
	h      engine.ReadHandle
	logger *logrus.Entry
}

func (l leakedHandle) release() {
	l.logger.Warn("Read handle was not closed; releasing it")
	if err := l.h.Close(); err != nil {
		l.logger.WithError(err).Warn("Failed to release leaked read handle")
	}
}

// Open positions the handle at the start of the payload.
func (rh *ReadHandle) Open(ctx context.Context) error {
	switch rh.state {
	case handleOpen:
		return ErrHandleAlreadyOpen
	case handleClosed:
		return ErrHandleClosed
	}
	if err := rh.session.check(); err != nil {
		return err
	}

	h, err := rh.session.conn.ReadHandle(ctx, rh.entry)
	if err != nil {
		return translate("open", err)
	}
	if err := h.Open(ctx); err != nil {
		if closeErr := h.Close(); closeErr != nil {
			rh.session.logger.WithError(closeErr).Warn("Failed to close read handle after open failure")
		}
		return translate("open", err)
	}

	rh.h = h
	rh.state = handleOpen
	rh.cleanup = runtime.AddCleanup(rh, leakedHandle.release, leakedHandle{h: h, logger: rh.session.logger})
	return nil
}

func (rh *ReadHandle) ready() error {
	switch rh.state {
	case handleUnopened:
		return ErrHandleNotOpen
	case handleClosed:
		return ErrHandleClosed
	}
	return rh.session.check()
}

// ReadBytes returns up to n bytes. Fewer bytes, possibly none, mean the
// end of the payload was reached; that is not an error.
func (rh *ReadHandle) ReadBytes(n int) ([]byte, error) {
	if err := rh.ready(); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, &Error{Kind: KindValidation, Op: "read", Message: "negative read length"}
	}

	buf := make([]byte, n)
	read, err := io.ReadFull(rh.h, buf)
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return buf[:read], nil
	default:
		return buf[:read], translate("read", err)
	}
}

// Read implements io.Reader and returns io.EOF at the end of the payload.
func (rh *ReadHandle) Read(p []byte) (int, error) {
	if err := rh.ready(); err != nil {
		return 0, err
	}
	n, err := rh.h.Read(p)
	if err != nil && err != io.EOF {
		return n, translate("read", err)
	}
	return n, err
}

// Seek implements io.Seeker.
func (rh *ReadHandle) Seek(offset int64, whence int) (int64, error) {
	if err := rh.ready(); err != nil {
		return 0, err
	}
	pos, err := rh.h.Seek(offset, whence)
	if err != nil {
		return pos, translate("seek", err)
	}
	return pos, nil
}

// Close releases the handle. Calling it again is a no-op.
func (rh *ReadHandle) Close() error {
	if rh.state == handleClosed {
		return nil
	}
	wasOpen := rh.state == handleOpen
	rh.state = handleClosed
	if !wasOpen {
		return nil
	}

	rh.cleanup.Stop()
	err := rh.h.Close()
	rh.h = nil
	if err != nil {
		rh.session.logger.WithError(err).Warn("Failed to close read handle")
		return translate("close", err)
	}
	return nil
}

var _ io.ReadSeekCloser = (*ReadHandle)(nil)
