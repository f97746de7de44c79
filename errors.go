package sfifo

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"syscall"
)

// ErrKind categorizes failures so callers can decide how to react.
// KindDeleted and KindPeerClosed usually mean "recreate the FIFO and re-run
// the handshake", while KindAuthRejected and KindMalformedMessage are
// terminal for the attempt and must not trigger blind retries.
type ErrKind uint8

const (
	// KindTimeout - a guarded operation exceeded its deadline
	KindTimeout ErrKind = iota + 1
	// KindAuthRejected - digest mismatch or stale/future handshake timestamp
	KindAuthRejected
	// KindMalformedMessage - wrong length or kind at a handshake step
	KindMalformedMessage
	// KindPeerClosed - the peer end closed before the operation completed
	KindPeerClosed
	// KindDeleted - the FIFO path was removed from the filesystem
	KindDeleted
	// KindResourceUnavailable - a non-blocking open found no peer
	KindResourceUnavailable
	// KindIoFailure - opaque OS I/O error passthrough
	KindIoFailure
)

func (k ErrKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindAuthRejected:
		return "auth rejected"
	case KindMalformedMessage:
		return "malformed message"
	case KindPeerClosed:
		return "peer closed"
	case KindDeleted:
		return "deleted"
	case KindResourceUnavailable:
		return "resource unavailable"
	case KindIoFailure:
		return "io failure"
	default:
		return "unknown"
	}
}

// Error carries a kind alongside the message and the wrapped cause.
type Error struct {
	Kind  ErrKind
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Inner == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Inner.Error()
}

func (e *Error) Unwrap() error { return e.Inner }

func newError(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func wrapError(kind ErrKind, msg string, inner error) *Error {
	return &Error{Kind: kind, Msg: msg, Inner: inner}
}

// IsKind reports whether err (or anything it wraps) is an Error of the given
// kind.
func IsKind(err error, kind ErrKind) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// guardErr classifies the raw error a guarded operation returned. Deadline
// expiry becomes KindTimeout, EOF/EPIPE become KindPeerClosed, a missing
// path becomes KindDeleted, everything else passes through as KindIoFailure.
func guardErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, os.ErrDeadlineExceeded) || stderrors.Is(err, context.DeadlineExceeded):
		return wrapError(KindTimeout, op+" timed out", err)
	case stderrors.Is(err, context.Canceled):
		return wrapError(KindTimeout, op+" cancelled", err)
	case stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) || stderrors.Is(err, syscall.EPIPE):
		return wrapError(KindPeerClosed, op+": peer closed", err)
	case stderrors.Is(err, os.ErrNotExist):
		return wrapError(KindDeleted, op+": fifo deleted", err)
	default:
		return wrapError(KindIoFailure, op+" failed", err)
	}
}
