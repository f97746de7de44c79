package sfifo

import (
	"context"
	"errors"
	"io"
	"os"
	"sync/atomic"
	"syscall"
	"time"
)

// pipeFile is the deadline-capable handle behind an Endpoint. *os.File
// satisfies it for unix FIFOs opened non-blocking, the winio pipe
// connection satisfies it on Windows.
type pipeFile interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Endpoint - one opened end of a FIFO. It exclusively owns the underlying
// handle; Close is idempotent and releases it exactly once.
type Endpoint struct {
	path     string
	statPath string // empty when the path cannot be observed on disk
	dir      Direction
	file     pipeFile

	timeout time.Duration

	live    atomic.Int32
	sawData atomic.Bool
	events  chan Event
	fired   atomic.Bool

	closed    atomic.Bool
	closeErr  error
	stopWatch context.CancelFunc
}

func newEndpoint(f pipeFile, path string, dir Direction, timeout time.Duration, notify bool) *Endpoint {
	e := &Endpoint{
		path:     path,
		statPath: observablePath(path),
		dir:      dir,
		file:     f,
		timeout:  timeout,
		events:   make(chan Event, 1),
	}
	if notify && e.statPath != "" {
		ctx, cancel := context.WithCancel(context.Background())
		e.stopWatch = cancel
		go e.watch(ctx)
	}
	return e
}

// Path returns the FIFO path this endpoint was opened on.
func (e *Endpoint) Path() string { return e.path }

// Direction returns whether this is the read or the write end.
func (e *Endpoint) Direction() Direction { return e.dir }

// Liveness reports whether the pipe is still usable, the peer closed its
// end, or the path was removed.
func (e *Endpoint) Liveness() Liveness { return Liveness(e.live.Load()) }

// Notify yields at most one event when the FIFO path is deleted or the peer
// end closes, so the caller can recreate the FIFO and rehandle instead of
// hanging on an orphaned pipe.
func (e *Endpoint) Notify() <-chan Event { return e.events }

func (e *Endpoint) setTimeout(d time.Duration) { e.timeout = d }

func (e *Endpoint) deadline() time.Time {
	if e.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(e.timeout)
}

// Read reads up to len(p) bytes with the configured timeout. A read that
// times out reports KindTimeout; the bytes transferred before the deadline
// are not recoverable per call, so callers must not retry naively.
func (e *Endpoint) Read(p []byte) (int, error) {
	return e.read(p, e.deadline())
}

func (e *Endpoint) read(p []byte, deadline time.Time) (int, error) {
	if e.dir != DirRead {
		return 0, newError(KindIoFailure, "cannot read from write endpoint "+e.path)
	}
	if e.closed.Load() {
		return 0, newError(KindIoFailure, "read "+e.path+": endpoint closed")
	}
	_ = e.file.SetReadDeadline(deadline)

	for {
		n, err := e.file.Read(p)
		if n > 0 {
			e.sawData.Store(true)
			return n, nil
		}
		switch {
		case err == nil:
			// zero-byte read, try again
		case errors.Is(err, io.EOF):
			if e.sawData.Load() {
				e.markPeerClosed()
				return 0, wrapError(KindPeerClosed, "read "+e.path+": peer closed", err)
			}
			// A FIFO read reports EOF while no writer holds the other
			// end; wait for the peer to arrive within the deadline.
			if werr := e.waitPeer(deadline); werr != nil {
				return 0, werr
			}
		default:
			return 0, guardErr("read "+e.path, err)
		}
	}
}

// waitPeer sleeps one poll interval, bounded by deadline, checking that the
// path still exists.
func (e *Endpoint) waitPeer(deadline time.Time) error {
	if e.Liveness() == LiveDeleted {
		return newError(KindDeleted, "read "+e.path+": fifo deleted")
	}
	if e.statPath != "" {
		if _, err := os.Stat(e.statPath); os.IsNotExist(err) {
			e.markDeleted()
			return newError(KindDeleted, "read "+e.path+": fifo deleted")
		}
	}
	wait := openPollInterval
	if !deadline.IsZero() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return newError(KindTimeout, "read "+e.path+" timed out")
		}
		if remaining < wait {
			wait = remaining
		}
	}
	time.Sleep(wait)
	return nil
}

// ReadFull reads exactly len(p) bytes under a single deadline.
func (e *Endpoint) ReadFull(p []byte) (int, error) {
	deadline := e.deadline()
	total := 0
	for total < len(p) {
		n, err := e.read(p[total:], deadline)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Write writes p with the configured timeout. On timeout the number of
// bytes already on the wire is unknown beyond the returned count.
func (e *Endpoint) Write(p []byte) (int, error) {
	if e.dir != DirWrite {
		return 0, newError(KindIoFailure, "cannot write to read endpoint "+e.path)
	}
	if e.closed.Load() {
		return 0, newError(KindIoFailure, "write "+e.path+": endpoint closed")
	}
	_ = e.file.SetWriteDeadline(e.deadline())
	n, err := e.file.Write(p)
	if err != nil {
		if errors.Is(err, syscall.EPIPE) {
			e.markPeerClosed()
			return n, wrapError(KindPeerClosed, "write "+e.path+": peer closed", err)
		}
		return n, guardErr("write "+e.path, err)
	}
	return n, nil
}

// WriteFull writes all of p, retrying short writes.
func (e *Endpoint) WriteFull(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := e.Write(p[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close releases the underlying handle. Calling it again is a no-op.
func (e *Endpoint) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	if e.stopWatch != nil {
		e.stopWatch()
	}
	e.closeErr = e.file.Close()
	if e.closeErr != nil {
		return wrapError(KindIoFailure, "close "+e.path, e.closeErr)
	}
	return nil
}

func (e *Endpoint) markPeerClosed() {
	if e.live.CompareAndSwap(int32(LiveOpen), int32(LivePeerClosed)) {
		e.fireEvent(EventPeerClosed)
	}
}

func (e *Endpoint) markDeleted() {
	if e.live.CompareAndSwap(int32(LiveOpen), int32(LiveDeleted)) {
		e.fireEvent(EventDeleted)
	}
}

func (e *Endpoint) fireEvent(kind EventKind) {
	if e.fired.Swap(true) {
		return
	}
	e.events <- Event{Kind: kind, Path: e.path}
}
