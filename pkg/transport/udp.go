// Package transport adapts an unreliable datagram substrate to the
// core.SegmentTransport contract: send one segment, receive one segment with
// a bounded wait, and report timeout distinctly from substrate failure.
package transport

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/irctrakz/microtcp/pkg/core"
	"github.com/irctrakz/microtcp/pkg/logging"
)

// maxDatagram bounds one read. A segment is one datagram; anything larger
// than header+MSS plus slack never appears on a conforming peer.
const maxDatagram = 64 * 1024

// UDPTransport carries segments over a UDP socket. It adds nothing on top of
// UDP: no ordering, no deduplication, no retransmission.
type UDPTransport struct {
	conn net.PacketConn
	pc   *ipv4.PacketConn
	buf  []byte
}

var _ core.SegmentTransport = (*UDPTransport)(nil)

// ListenUDP opens a UDP socket bound to laddr ("host:port", empty host for
// all interfaces).
func ListenUDP(laddr string) (*UDPTransport, error) {
	conn, err := net.ListenPacket("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to bind %s: %w", laddr, err)
	}
	logging.Debugf("UDP transport bound to %s", conn.LocalAddr())
	return &UDPTransport{
		conn: conn,
		pc:   ipv4.NewPacketConn(conn),
		buf:  make([]byte, maxDatagram),
	}, nil
}

// ResolvePeer resolves a "host:port" string into an address usable with
// WriteSegment.
func ResolvePeer(raddr string) (net.Addr, error) {
	addr, err := net.ResolveUDPAddr("udp", raddr)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to resolve %s: %w", raddr, err)
	}
	return addr, nil
}

// SetTTL sets the IP time-to-live for outgoing segments.
func (t *UDPTransport) SetTTL(ttl int) error {
	if err := t.pc.SetTTL(ttl); err != nil {
		return fmt.Errorf("transport: failed to set TTL: %w", err)
	}
	return nil
}

// SetTOS sets the IP type-of-service byte (DSCP/ECN) for outgoing segments.
func (t *UDPTransport) SetTOS(tos int) error {
	if err := t.pc.SetTOS(tos); err != nil {
		return fmt.Errorf("transport: failed to set TOS: %w", err)
	}
	return nil
}

// WriteSegment sends one segment to addr.
func (t *UDPTransport) WriteSegment(b []byte, addr net.Addr) error {
	if addr == nil {
		return fmt.Errorf("transport: no peer address")
	}
	if _, err := t.conn.WriteTo(b, addr); err != nil {
		return fmt.Errorf("transport: write failed: %w", err)
	}
	return nil
}

// ReadSegment blocks up to timeout for one datagram. It returns
// core.ErrTimeout when nothing arrived, which callers must treat as an
// ordinary result rather than a failure.
func (t *UDPTransport) ReadSegment(timeout time.Duration) ([]byte, net.Addr, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, fmt.Errorf("transport: failed to set read deadline: %w", err)
	}
	n, addr, err := t.conn.ReadFrom(t.buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil, core.ErrTimeout
		}
		return nil, nil, fmt.Errorf("transport: read failed: %w", err)
	}
	if core.IsDebugMode() {
		cp := make([]byte, n)
		copy(cp, t.buf[:n])
		return cp, addr, nil
	}
	// The engine decodes and consumes the segment before the next read,
	// so handing out the read buffer directly is safe for a single flow.
	return t.buf[:n], addr, nil
}

// LocalAddr returns the bound local address.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Close releases the socket.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}
