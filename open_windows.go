//go:build windows
// +build windows

package sfifo

import (
	"context"
	"net"
	"path/filepath"

	"github.com/Microsoft/go-winio"
)

var pipeBase = `\\.\pipe\`

// pipeName maps a caller-supplied FIFO path onto the named-pipe namespace.
func pipeName(path string) string {
	return pipeBase + filepath.Base(path)
}

// CreateFifo is a no-op on Windows: the pipe springs into existence when the
// reading side starts listening.
func CreateFifo(path string) error { return nil }

// DeleteFifo is a no-op on Windows: the pipe disappears when both ends
// close.
func DeleteFifo(path string) error { return nil }

// observablePath returns "" because named pipes are not observable through
// the filesystem, so the deletion watcher stays disarmed.
func observablePath(path string) string { return "" }

// winPipe couples a pipe connection with the listener that accepted it so
// both are released on close.
type winPipe struct {
	net.Conn
	listener net.Listener
}

func (w *winPipe) Close() error {
	err := w.Conn.Close()
	if w.listener != nil {
		if lerr := w.listener.Close(); err == nil {
			err = lerr
		}
	}
	return err
}

// openPipe opens one end of a named pipe. The read end listens and accepts
// the peer's connection; the write end dials until the pipe exists, bounded
// by ctx.
func openPipe(ctx context.Context, path string, dir Direction, blocking bool) (pipeFile, error) {
	name := pipeName(path)

	if dir == DirRead {
		if !blocking {
			// A fresh listener cannot have a peer already waiting.
			return nil, newError(KindResourceUnavailable, "listen "+name+": no peer present")
		}
		l, err := winio.ListenPipe(name, nil)
		if err != nil {
			return nil, wrapError(KindIoFailure, "listen "+name, err)
		}

		type acceptResult struct {
			conn net.Conn
			err  error
		}
		accepted := make(chan acceptResult, 1)
		go func() {
			c, aerr := l.Accept()
			accepted <- acceptResult{conn: c, err: aerr}
		}()

		select {
		case r := <-accepted:
			if r.err != nil {
				_ = l.Close()
				return nil, wrapError(KindIoFailure, "accept "+name, r.err)
			}
			return &winPipe{Conn: r.conn, listener: l}, nil
		case <-ctx.Done():
			// Closing the listener unblocks the pending accept.
			_ = l.Close()
			return nil, guardErr("open "+name, ctx.Err())
		}
	}

	attempt := func() (pipeFile, error) {
		c, err := winio.DialPipe(name, nil)
		if err == nil {
			return &winPipe{Conn: c}, nil
		}
		if blocking {
			return nil, nil // pipe not listening yet, retry
		}
		return nil, wrapError(KindResourceUnavailable, "dial "+name+": no peer present", err)
	}

	if !blocking {
		f, err := attempt()
		if err != nil {
			return nil, err
		}
		if f == nil {
			return nil, newError(KindResourceUnavailable, "dial "+name+": no peer present")
		}
		return f, nil
	}
	return pollOpen(ctx, "open "+name, attempt)
}
