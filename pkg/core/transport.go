package core

import (
	"errors"
	"net"
	"time"
)

// ErrTimeout is returned by SegmentTransport.ReadSegment when no segment
// arrived within the wait bound. It is a result, not a substrate failure:
// callers distinguish it from real transport errors with errors.Is.
var ErrTimeout = errors.New("segment transport: read timed out")

// SegmentTransport is the unreliable datagram substrate a microTCP
// connection runs over. It provides no ordering, no deduplication and no
// delivery guarantee; ordinary loss is a silent drop, never an error.
// All reliability logic lives above this interface.
type SegmentTransport interface {
	// WriteSegment sends one encoded segment to addr. An error indicates
	// an unrecoverable substrate failure, not loss.
	WriteSegment(b []byte, addr net.Addr) error

	// ReadSegment blocks up to timeout for one segment and returns its
	// bytes and the sender address. When nothing arrives it returns
	// ErrTimeout.
	ReadSegment(timeout time.Duration) ([]byte, net.Addr, error)

	// LocalAddr returns the bound local address.
	LocalAddr() net.Addr

	// Close releases the substrate.
	Close() error
}
