// Package sfifo provides authenticated, deadlock-safe communication over
// named pipes (FIFOs) between two cooperating processes on the same host.
// Every suspending operation (open, read, write) is bounded by a cancellable
// timeout, and a three-message Request/Response/Ack handshake over a shared
// token establishes mutual identity before any payload flows.
package sfifo

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// New returns a configuration for the FIFO at path with blocking mode and
// the default timeouts. Options are applied with the chainable setters.
func New(path string) *Sfifo {
	return &Sfifo{
		path:             path,
		blocking:         true,
		timeout:          DefaultTimeout,
		handshakeTimeout: DefaultHandshakeTimeout,
		window:           DefaultFreshnessWindow,
		logger:           zap.NewNop(),
	}
}

// Path returns the configured FIFO path.
func (s *Sfifo) Path() string { return s.path }

// SetRead selects the read end for Open.
func (s *Sfifo) SetRead(v bool) *Sfifo { return s.set(func() { s.read = v }) }

// SetWrite selects the write end for Open.
func (s *Sfifo) SetWrite(v bool) *Sfifo { return s.set(func() { s.write = v }) }

// SetCreate makes Open create the FIFO when it does not exist yet.
func (s *Sfifo) SetCreate(v bool) *Sfifo { return s.set(func() { s.create = v }) }

// SetBlocking toggles blocking opens. Non-blocking opens fail with
// ResourceUnavailable instead of waiting when no peer is present.
func (s *Sfifo) SetBlocking(v bool) *Sfifo { return s.set(func() { s.blocking = v }) }

// SetNotify arms the deletion watcher on opened endpoints.
func (s *Sfifo) SetNotify(v bool) *Sfifo { return s.set(func() { s.notify = v }) }

// SetTimeout bounds blocking opens and data reads/writes. Zero means wait
// indefinitely; the caller opts out of deadlock protection.
func (s *Sfifo) SetTimeout(d time.Duration) *Sfifo { return s.set(func() { s.timeout = d }) }

// SetHandshakeTimeout bounds each handshake step.
func (s *Sfifo) SetHandshakeTimeout(d time.Duration) *Sfifo {
	return s.set(func() { s.handshakeTimeout = d })
}

// SetFreshnessWindow overrides the maximum accepted age of a handshake
// timestamp.
func (s *Sfifo) SetFreshnessWindow(d time.Duration) *Sfifo { return s.set(func() { s.window = d }) }

// SetRole fixes which handshake side OpenAuthenticated drives.
func (s *Sfifo) SetRole(r Role) *Sfifo { return s.set(func() { s.role = r }) }

// SetLogger installs a logger; the default discards everything.
func (s *Sfifo) SetLogger(l *zap.Logger) *Sfifo {
	return s.set(func() {
		if l != nil {
			s.logger = l
		}
	})
}

// set applies a mutation unless an open or handshake has already started;
// the configuration is immutable from that point on.
func (s *Sfifo) set(mut func()) *Sfifo {
	if s.started.Load() {
		s.logger.Warn("configuration is immutable once an open has started",
			zap.String("path", s.path))
		return s
	}
	mut()
	return s
}

// clone copies the option fields into a fresh, unstarted configuration.
func (s *Sfifo) clone() *Sfifo {
	c := &Sfifo{
		path:             s.path,
		read:             s.read,
		write:            s.write,
		create:           s.create,
		blocking:         s.blocking,
		notify:           s.notify,
		timeout:          s.timeout,
		handshakeTimeout: s.handshakeTimeout,
		window:           s.window,
		role:             s.role,
		logger:           s.logger,
	}
	return c
}

// Open opens one end of the FIFO without authentication. Blocking mode with
// a timeout waits no longer than the timeout; with a zero timeout it blocks
// until the peer arrives or ctx ends. Non-blocking mode fails immediately
// with ResourceUnavailable when no peer is present.
func (s *Sfifo) Open(ctx context.Context) (*Endpoint, error) {
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.started.Store(true)

	if !s.read && !s.write {
		return nil, newError(KindIoFailure, "open "+s.path+": neither read nor write selected")
	}
	if s.read && s.write {
		return nil, newError(KindIoFailure, "open "+s.path+": for safety, read and write cannot both be set")
	}
	if s.create {
		if err := CreateFifo(s.path); err != nil {
			return nil, err
		}
	}

	dir := DirRead
	if s.write {
		dir = DirWrite
	}

	octx := ctx
	if s.blocking {
		var cancel context.CancelFunc
		octx, cancel = opContext(ctx, s.timeout)
		defer cancel()
	}

	s.logger.Debug("opening fifo",
		zap.String("path", s.path),
		zap.String("direction", dir.String()),
		zap.Bool("blocking", s.blocking))
	f, err := openPipe(octx, s.path, dir, s.blocking)
	if err != nil {
		s.logger.Debug("open failed", zap.String("path", s.path), zap.Error(err))
		return nil, err
	}
	return newEndpoint(f, s.path, dir, s.timeout, s.notify), nil
}

// OpenAsServer waits for a client to initiate the handshake over the
// <path>.c2s / <path>.s2c FIFO pair and returns the authenticated channel.
func (s *Sfifo) OpenAsServer(ctx context.Context, token string) (*Channel, error) {
	return s.authenticate(ctx, RoleServer, token)
}

// OpenAsClient initiates the handshake and returns the authenticated
// channel. The client side is authenticated as soon as its Ack is sent; it
// does not wait for server confirmation.
func (s *Sfifo) OpenAsClient(ctx context.Context, token string) (*Channel, error) {
	return s.authenticate(ctx, RoleClient, token)
}

// OpenAuthenticated dispatches on the configured role.
func (s *Sfifo) OpenAuthenticated(ctx context.Context, token string) (*Channel, error) {
	switch s.role {
	case RoleServer:
		return s.OpenAsServer(ctx, token)
	case RoleClient:
		return s.OpenAsClient(ctx, token)
	default:
		return nil, newError(KindIoFailure, "open "+s.path+": no role configured")
	}
}

// OpenAuthenticatedReceiver opens the server side preset for reading
// payload from the client.
func (s *Sfifo) OpenAuthenticatedReceiver(ctx context.Context, token string) (*Channel, error) {
	c := s.clone()
	c.read, c.write = true, false
	return c.OpenAsServer(ctx, token)
}

// OpenAuthenticatedSender opens the client side preset for writing payload
// to the server.
func (s *Sfifo) OpenAuthenticatedSender(ctx context.Context, token string) (*Channel, error) {
	c := s.clone()
	c.read, c.write = false, true
	return c.OpenAsClient(ctx, token)
}

func (s *Sfifo) authenticate(ctx context.Context, role Role, token string) (*Channel, error) {
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.started.Store(true)
	h, err := newHandshake(s, role, token)
	if err != nil {
		return nil, err
	}
	return h.run(ctx)
}
