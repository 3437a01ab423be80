// Package socket implements the microTCP protocol engine: connection state
// machine, three-way handshake and four-message teardown, sliding-window
// reliable transfer with single-range selective acknowledgment, and
// slow-start / congestion-avoidance congestion control, all layered over an
// unreliable datagram substrate.
package socket

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/irctrakz/microtcp/pkg/core"
	"github.com/irctrakz/microtcp/pkg/header"
	"github.com/irctrakz/microtcp/pkg/logging"
)

// Socket is one microTCP connection endpoint. It is used by a single logical
// flow of control: Connect/Accept/Send/Recv/Shutdown block the caller until
// the operation completes, times out past the retry budget, or fails. The
// only suspension point is the bounded wait on the substrate.
type Socket struct {
	opts      Options
	transport core.SegmentTransport
	peer      net.Addr

	state State

	// Peer window negotiated at the handshake and its latest advertised
	// value. currWinSize never exceeds initWinSize.
	initWinSize int
	currWinSize int

	// Receive buffer, allocated when the handshake completes and released
	// at teardown. recvBuf[0] corresponds to stream position
	// ackNum-bufFill; [0,bufFill) is contiguous readable data.
	recvBuf []byte
	bufFill int

	cc congestionControl

	seqNum uint32 // next sequence number to send
	ackNum uint32 // next expected sequence number from the peer

	// The single out-of-order block received beyond ackNum, advertised as
	// the SACK range on every outgoing segment. Zero/zero means none.
	leftSACK  uint32
	rightSACK uint32

	stats statsCollector
}

// NewSocket creates an unbound socket.
func NewSocket(opts Options) *Socket {
	return &Socket{
		opts:        opts,
		state:       StateUnknown,
		currWinSize: opts.WindowSize,
	}
}

// Bind attaches the socket to its datagram substrate and makes it ready for
// a passive open. A socket must be bound before Connect or Accept.
func (s *Socket) Bind(t core.SegmentTransport) error {
	if t == nil {
		return ErrNotBound
	}
	s.transport = t
	if s.state == StateUnknown {
		s.state = StateListen
	}
	logging.Debugf("socket bound to %s", t.LocalAddr())
	return nil
}

// State returns the current connection state.
func (s *Socket) State() State {
	return s.state
}

// Peer returns the connected peer address, nil before the handshake.
func (s *Socket) Peer() net.Addr {
	return s.peer
}

// Stats returns a snapshot of the connection counters.
func (s *Socket) Stats() core.SocketStats {
	return s.stats.snapshot()
}

// randISN picks a random nonzero initial sequence number, keeping clear of
// the upper half so short transfers never wrap.
func randISN() uint32 {
	isn := rand.Uint32() >> 1
	if isn == 0 {
		isn = 1
	}
	return isn
}

// seqBefore reports whether a precedes b in sequence space.
func seqBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// seqAfter reports whether a follows b in sequence space.
func seqAfter(a, b uint32) bool {
	return int32(a-b) > 0
}

// localWindow is the receive window to advertise: capacity minus everything
// buffered, including the out-of-order block.
func (s *Socket) localWindow() uint16 {
	used := s.bufFill
	if s.rightSACK != 0 && seqAfter(s.rightSACK, s.ackNum) {
		used += int(s.rightSACK - s.ackNum)
	}
	w := len(s.recvBuf) - used
	if s.recvBuf == nil {
		w = s.opts.WindowSize
	}
	if w < 0 {
		w = 0
	}
	if w > 65535 {
		w = 65535
	}
	return uint16(w)
}

// sendSegment encodes and transmits one segment carrying the current ack,
// window and SACK state. A substrate failure invalidates the connection.
func (s *Socket) sendSegment(ctl uint16, seq uint32, payload []byte) error {
	h := &header.Header{
		SeqNumber: seq,
		AckNumber: s.ackNum,
		Control:   ctl,
		Window:    s.localWindow(),
		LeftSACK:  s.leftSACK,
		RightSACK: s.rightSACK,
	}
	wire := header.Encode(h, payload)
	if err := s.transport.WriteSegment(wire, s.peer); err != nil {
		s.state = StateInvalid
		return fmt.Errorf("microtcp: %w", err)
	}
	s.stats.onSend(len(wire))
	return nil
}

// sendControl transmits a payloadless control segment at the current
// sequence number.
func (s *Socket) sendControl(ctl uint16) error {
	return s.sendSegment(ctl, s.seqNum, nil)
}

// readValid reads segments until one passes decode and checksum validation
// or the timeout elapses. Segments from a different sender than the
// connected peer are ignored. Corrupt arrivals are dropped silently and
// counted as lost.
func (s *Socket) readValid(timeout time.Duration) (header.Header, []byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return header.Header{}, nil, core.ErrTimeout
		}
		raw, from, err := s.transport.ReadSegment(remaining)
		if err != nil {
			if errors.Is(err, core.ErrTimeout) {
				return header.Header{}, nil, core.ErrTimeout
			}
			s.state = StateInvalid
			return header.Header{}, nil, fmt.Errorf("microtcp: %w", err)
		}
		if s.peer != nil && from != nil && from.String() != s.peer.String() {
			continue
		}
		h, payload, derr := header.Decode(raw)
		if derr != nil {
			logging.Debugf("dropping malformed segment (%d bytes)", len(raw))
			continue
		}
		if !header.Verify(&h, payload) {
			logging.Debugf("dropping segment with checksum mismatch (seq=%d)", h.SeqNumber)
			s.stats.onLoss(len(raw))
			continue
		}
		s.stats.onReceive(len(raw))
		return h, payload, nil
	}
}

// updatePeerWindow refreshes the peer's advertised window from a received
// header and keeps cwnd within it.
func (s *Socket) updatePeerWindow(h *header.Header) {
	w := int(h.Window)
	if s.initWinSize > 0 && w > s.initWinSize {
		w = s.initWinSize
	}
	s.currWinSize = w
	if s.cc != nil {
		s.cc.Clamp(w)
	}
}

// establish finishes a successful handshake: allocate the receive buffer,
// arm congestion control, move to ESTABLISHED.
func (s *Socket) establish() {
	s.recvBuf = make([]byte, s.opts.WindowSize)
	s.bufFill = 0
	s.leftSACK, s.rightSACK = 0, 0
	s.cc = newSlowStart(s.opts.MSS, s.opts.InitCwnd, s.opts.InitSSThresh)
	s.state = StateEstablished
	logging.InfoWithFields(map[string]interface{}{
		"peer":  s.peer.String(),
		"seq":   s.seqNum,
		"ack":   s.ackNum,
		"win":   s.initWinSize,
		"state": s.state.String(),
	}, "connection established")
}

// teardown releases connection resources and moves to the given terminal
// state.
func (s *Socket) teardown(final State) {
	s.recvBuf = nil
	s.bufFill = 0
	s.leftSACK, s.rightSACK = 0, 0
	s.state = final
	logging.Debugf("connection torn down, state=%s", final)
}

// Close aborts the connection without the four-message exchange and closes
// the substrate. Prefer Shutdown on an established connection.
func (s *Socket) Close() error {
	if s.state == StateEstablished {
		// Best effort: tell the peer.
		_ = s.sendControl(header.RST)
	}
	s.teardown(StateClosed)
	if s.transport != nil {
		return s.transport.Close()
	}
	return nil
}
