package socket

import (
	"errors"
)

// Error kinds surfaced to callers. Transient single-segment problems
// (malformed header, checksum mismatch, one timeout) are absorbed inside the
// engine and drive retransmission; only retry-budget exhaustion and API
// misuse reach the caller.
var (
	// ErrConnectionClosed reports an operation attempted on a socket that
	// is not in a state where it is legal. No state change occurs.
	ErrConnectionClosed = errors.New("microtcp: connection not established")

	// ErrConnectionFailed reports an exhausted retry budget during the
	// handshake, teardown or a data retransmission. The socket moves to
	// StateInvalid.
	ErrConnectionFailed = errors.New("microtcp: retry budget exhausted")

	// ErrConnectionReset reports an RST from the peer or an equivalent
	// protocol violation. The socket moves to StateInvalid.
	ErrConnectionReset = errors.New("microtcp: connection reset")

	// ErrNotBound reports an operation that needs a substrate on a socket
	// that was never bound to one.
	ErrNotBound = errors.New("microtcp: socket not bound")
)
