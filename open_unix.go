//go:build linux || darwin
// +build linux darwin

package sfifo

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// CreateFifo creates the FIFO special file if it does not exist yet - for
// unix and linux.
func CreateFifo(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := unix.Mkfifo(path, 0o700); err != nil && !errors.Is(err, unix.EEXIST) {
		return wrapError(KindIoFailure, "mkfifo "+path, err)
	}
	return nil
}

// DeleteFifo removes the FIFO special file.
func DeleteFifo(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return wrapError(KindIoFailure, "unlink "+path, err)
	}
	return nil
}

// observablePath returns the on-disk path backing the pipe, used by the
// deletion watcher.
func observablePath(path string) string { return path }

// openPipe opens one end of the FIFO at path. The handle is always opened
// with O_NONBLOCK so the runtime poller can honor read/write deadlines; the
// blocking semantic is supplied by the poll loop, bounded by ctx. A
// write-end open fails with ENXIO until a reader holds the other end, which
// is what the loop retries on.
func openPipe(ctx context.Context, path string, dir Direction, blocking bool) (pipeFile, error) {
	flag := os.O_RDONLY
	if dir == DirWrite {
		flag = os.O_WRONLY
	}

	attempt := func() (pipeFile, error) {
		f, err := os.OpenFile(path, flag|unix.O_NONBLOCK, 0)
		if err == nil {
			return f, nil
		}
		switch {
		case errors.Is(err, unix.ENXIO):
			if blocking {
				return nil, nil // no reader yet, retry
			}
			return nil, wrapError(KindResourceUnavailable, "open "+path+": no peer present", err)
		case errors.Is(err, os.ErrNotExist):
			return nil, wrapError(KindDeleted, "open "+path+": fifo deleted", err)
		default:
			return nil, wrapError(KindIoFailure, "open "+path, err)
		}
	}

	if !blocking {
		f, err := attempt()
		if err != nil {
			return nil, err
		}
		if f == nil {
			return nil, newError(KindResourceUnavailable, "open "+path+": no peer present")
		}
		return f, nil
	}
	return pollOpen(ctx, "open "+path, attempt)
}
