package sfifo

import "time"

const version = 1 // sfifo package version

const (
	// DefaultTimeout - maximum time a blocking open or a data read/write may
	// suspend before it is abandoned with a Timeout error.
	DefaultTimeout = 3 * time.Second

	// DefaultHandshakeTimeout bounds each handshake step (endpoint open,
	// record read, record write).
	DefaultHandshakeTimeout = 5 * time.Second

	// DefaultFreshnessWindow - maximum age (or future skew) of a handshake
	// timestamp accepted as non-replayed.
	DefaultFreshnessWindow = 30 * time.Second

	openPollInterval  = 100 * time.Millisecond
	watchPollInterval = 200 * time.Millisecond
)

const (
	// The handshake and the authenticated payload travel over two
	// unidirectional FIFOs derived from the configured path.
	c2sSuffix = ".c2s" // client to server
	s2cSuffix = ".s2c" // server to client
)
