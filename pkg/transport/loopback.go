package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/irctrakz/microtcp/pkg/core"
)

// loopbackAddr is a synthetic net.Addr naming one end of a loopback pair.
type loopbackAddr string

func (a loopbackAddr) Network() string { return "loopback" }
func (a loopbackAddr) String() string  { return string(a) }

// Loopback is an in-memory SegmentTransport for tests and harnesses. Two
// ends created by NewLoopbackPair exchange segments over buffered channels.
// A drop function can be installed to simulate loss: like the real substrate,
// a dropped segment is a silent non-delivery, never an error.
type Loopback struct {
	name loopbackAddr
	in   chan []byte

	mu     sync.Mutex
	peer   *Loopback
	closed bool
	drop   func(b []byte) bool
}

var _ core.SegmentTransport = (*Loopback)(nil)

// NewLoopbackPair creates two connected loopback ends.
func NewLoopbackPair() (*Loopback, *Loopback) {
	a := &Loopback{name: "loopback-a", in: make(chan []byte, 256)}
	b := &Loopback{name: "loopback-b", in: make(chan []byte, 256)}
	a.peer, b.peer = b, a
	return a, b
}

// SetDropFunc installs fn on the sending side; segments for which fn returns
// true are silently discarded. A nil fn delivers everything.
func (l *Loopback) SetDropFunc(fn func(b []byte) bool) {
	l.mu.Lock()
	l.drop = fn
	l.mu.Unlock()
}

// PeerAddr returns the address of the other end, for use as the peer
// argument of WriteSegment.
func (l *Loopback) PeerAddr() net.Addr {
	return l.peer.name
}

// WriteSegment delivers one segment to the peer end, or drops it when the
// installed drop function says so or the peer queue is full.
func (l *Loopback) WriteSegment(b []byte, addr net.Addr) error {
	l.mu.Lock()
	closed, drop := l.closed, l.drop
	l.mu.Unlock()
	if closed {
		return fmt.Errorf("transport: loopback %s is closed", l.name)
	}
	if drop != nil && drop(b) {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case l.peer.in <- cp:
	default:
		// Queue full: the substrate drops, it does not block or error.
	}
	return nil
}

// ReadSegment waits up to timeout for one segment from the peer end.
func (l *Loopback) ReadSegment(timeout time.Duration) ([]byte, net.Addr, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case b, ok := <-l.in:
		if !ok {
			return nil, nil, fmt.Errorf("transport: loopback %s is closed", l.name)
		}
		return b, l.peer.name, nil
	case <-timer.C:
		return nil, nil, core.ErrTimeout
	}
}

// LocalAddr returns this end's synthetic address.
func (l *Loopback) LocalAddr() net.Addr {
	return l.name
}

// Close marks this end closed. Reads drain anything already queued.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
