package sfifo

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sfifo - holds the path and open/handshake options for one FIFO channel.
// Options are set through the chainable setters and become immutable once an
// open or handshake operation has started.
type Sfifo struct {
	path             string
	read             bool
	write            bool
	create           bool
	blocking         bool
	notify           bool
	timeout          time.Duration
	handshakeTimeout time.Duration
	window           time.Duration
	role             Role
	logger           *zap.Logger
	started          atomic.Bool
}

// Role - which side of the handshake this configuration drives.
type Role int

const (
	// RoleUnspecified - 0
	RoleUnspecified Role = iota
	// RoleServer waits for the client's Request
	RoleServer
	// RoleClient initiates the handshake
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "unspecified"
	}
}

// Direction of an opened pipe end.
type Direction int

const (
	// DirRead - 0
	DirRead Direction = iota
	// DirWrite - 1
	DirWrite
)

func (d Direction) String() string {
	if d == DirWrite {
		return "write"
	}
	return "read"
}

// Liveness - state of the pipe behind an endpoint.
type Liveness int32

const (
	// LiveOpen - both ends can still make progress
	LiveOpen Liveness = iota
	// LivePeerClosed - the peer closed its end
	LivePeerClosed
	// LiveDeleted - the FIFO path was removed from the filesystem
	LiveDeleted
)

// EventKind - kind of a deletion/peer-close notification.
type EventKind int

const (
	// EventDeleted - the FIFO path disappeared; recreate it and rehandle
	EventDeleted EventKind = iota + 1
	// EventPeerClosed - the peer end was closed
	EventPeerClosed
)

// Event - a single deletion or peer-close notification.
type Event struct {
	Kind EventKind
	Path string
}

// PeerInfo - identity of the authenticated peer, taken from its validated
// handshake record. Read-only after the handshake completes.
type PeerInfo struct {
	Pid             uint32
	Name            string
	AuthenticatedAt time.Time
}
