package socket

import (
	"errors"
	"net"

	"github.com/irctrakz/microtcp/pkg/core"
	"github.com/irctrakz/microtcp/pkg/header"
	"github.com/irctrakz/microtcp/pkg/logging"
)

// Shutdown direction arguments. Only a full close drives the teardown
// exchange; the argument is kept for interface parity with socket shutdown.
const (
	ShutRD   = 0
	ShutWR   = 1
	ShutRDWR = 2
)

// Connect performs the active open: SYN, SYN_ACK, ACK. It blocks until the
// connection is established or the retry budget is exhausted, in which case
// the socket moves to StateInvalid and ErrConnectionFailed is returned.
func (s *Socket) Connect(raddr net.Addr) error {
	if s.transport == nil {
		return ErrNotBound
	}
	if s.state != StateUnknown && s.state != StateListen {
		return ErrConnectionClosed
	}
	s.peer = raddr

	isn := randISN()
	logging.Debugf("connecting to %s, isn=%d", raddr, isn)

	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		if err := s.sendSegment(header.SYN, isn, nil); err != nil {
			return err
		}

		h, _, err := s.readValid(s.opts.AckTimeout)
		if errors.Is(err, core.ErrTimeout) {
			logging.Debugf("SYN attempt %d timed out", attempt+1)
			continue
		}
		if err != nil {
			return err
		}
		// A checksum-valid segment that is not the expected SYN_ACK is a
		// protocol violation during the handshake.
		if h.Control != header.SYNACK || h.AckNumber != isn+1 {
			s.state = StateInvalid
			return ErrConnectionFailed
		}

		s.seqNum = isn + 1
		s.ackNum = h.SeqNumber + 1
		s.initWinSize = int(h.Window)
		s.currWinSize = s.initWinSize
		if err := s.sendControl(header.ACK); err != nil {
			return err
		}
		s.establish()
		return nil
	}

	s.state = StateInvalid
	return ErrConnectionFailed
}

// Accept performs the passive open. It blocks until a valid SYN arrives,
// ignoring malformed or non-SYN segments, then answers SYN_ACK and waits for
// the completing ACK. A closed socket is re-armed by a fresh Accept.
func (s *Socket) Accept() error {
	if s.transport == nil {
		return ErrNotBound
	}
	if s.state == StateClosed {
		s.rearm()
	}
	if s.state != StateListen {
		return ErrConnectionClosed
	}

	// Phase one: wait for a SYN, without bound.
	var peerISN uint32
	for {
		raw, from, err := s.transport.ReadSegment(s.opts.AckTimeout)
		if errors.Is(err, core.ErrTimeout) {
			continue
		}
		if err != nil {
			s.state = StateInvalid
			return ErrConnectionFailed
		}
		h, payload, derr := header.Decode(raw)
		if derr != nil {
			continue
		}
		if !header.Verify(&h, payload) {
			s.stats.onLoss(len(raw))
			continue
		}
		if h.Control != header.SYN {
			continue
		}
		s.stats.onReceive(len(raw))
		s.peer = from
		peerISN = h.SeqNumber
		s.initWinSize = int(h.Window)
		s.currWinSize = s.initWinSize
		break
	}

	// Phase two: SYN_ACK and the completing ACK, bounded by the retry
	// budget.
	isn := randISN()
	s.ackNum = peerISN + 1
	logging.Debugf("SYN from %s (isn=%d), answering with isn=%d", s.peer, peerISN, isn)

	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		if err := s.sendSegment(header.SYNACK, isn, nil); err != nil {
			return err
		}

		h, _, err := s.readValid(s.opts.AckTimeout)
		if errors.Is(err, core.ErrTimeout) {
			continue
		}
		if err != nil {
			return err
		}
		if h.Control == header.SYN && h.SeqNumber == peerISN {
			// Our SYN_ACK was lost and the initiator retried; answer
			// again.
			continue
		}
		if h.Control&header.ACK == 0 || h.AckNumber != isn+1 {
			s.state = StateInvalid
			return ErrConnectionFailed
		}

		s.seqNum = isn + 1
		s.updatePeerWindow(&h)
		s.establish()
		return nil
	}

	s.state = StateInvalid
	return ErrConnectionFailed
}

// Shutdown drives the four-message close. On an established connection this
// side initiates: FIN, peer ACK, peer FIN, final ACK. When the peer already
// initiated (StateClosingByPeer), this side echoes: FIN, peer ACK. The how
// argument is accepted for interface parity; teardown is always full.
func (s *Socket) Shutdown(how int) error {
	switch s.state {
	case StateEstablished:
		return s.shutdownAsHost()
	case StateClosingByPeer:
		return s.shutdownAsPeer()
	default:
		return ErrConnectionClosed
	}
}

// shutdownAsHost initiates teardown from ESTABLISHED.
func (s *Socket) shutdownAsHost() error {
	finSeq := s.seqNum
	ackSeen := false

	// Send FIN and wait for its ACK, retransmitting on timeout. The peer
	// may still be draining: data segments arriving here are ingested and
	// acknowledged.
	for attempt := 0; attempt < s.opts.MaxRetries && !ackSeen; attempt++ {
		if err := s.sendSegment(header.FINACK, finSeq, nil); err != nil {
			return err
		}
		for !ackSeen {
			h, payload, err := s.readValid(s.opts.AckTimeout)
			if errors.Is(err, core.ErrTimeout) {
				break // retransmit FIN
			}
			if err != nil {
				return err
			}
			switch {
			case h.Control&header.RST != 0:
				s.teardown(StateInvalid)
				return ErrConnectionReset
			case len(payload) > 0:
				s.ingestData(&h, payload)
				s.updatePeerWindow(&h)
				if err := s.sendControl(header.ACK); err != nil {
					return err
				}
			case h.Control&header.ACK != 0 && h.AckNumber == finSeq+1:
				ackSeen = true
			}
		}
	}
	if !ackSeen {
		s.teardown(StateInvalid)
		return ErrConnectionFailed
	}

	s.seqNum = finSeq + 1
	s.state = StateClosingByHost
	logging.Debugf("FIN acknowledged, state=%s", s.state)

	// Wait for the peer's own FIN, still absorbing drained data.
	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		h, payload, err := s.readValid(s.opts.AckTimeout)
		if errors.Is(err, core.ErrTimeout) {
			continue
		}
		if err != nil {
			return err
		}
		switch {
		case h.Control&header.RST != 0:
			s.teardown(StateInvalid)
			return ErrConnectionReset
		case h.Control&header.FIN != 0:
			s.ackNum = h.SeqNumber + 1
			if err := s.sendControl(header.ACK); err != nil {
				return err
			}
			s.teardown(StateClosed)
			return nil
		case len(payload) > 0:
			s.ingestData(&h, payload)
			s.updatePeerWindow(&h)
			if err := s.sendControl(header.ACK); err != nil {
				return err
			}
		}
	}

	s.teardown(StateInvalid)
	return ErrConnectionFailed
}

// shutdownAsPeer echoes the close after the peer's FIN was already
// acknowledged in the receive path.
func (s *Socket) shutdownAsPeer() error {
	finSeq := s.seqNum
	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		if err := s.sendSegment(header.FINACK, finSeq, nil); err != nil {
			return err
		}
		h, _, err := s.readValid(s.opts.AckTimeout)
		if errors.Is(err, core.ErrTimeout) {
			continue
		}
		if err != nil {
			return err
		}
		switch {
		case h.Control&header.RST != 0:
			s.teardown(StateInvalid)
			return ErrConnectionReset
		case h.Control&header.FIN != 0:
			// Retransmitted peer FIN: our earlier ACK was lost.
			s.ackNum = h.SeqNumber + 1
			if err := s.sendControl(header.ACK); err != nil {
				return err
			}
		case h.Control&header.ACK != 0 && h.AckNumber == finSeq+1:
			s.seqNum = finSeq + 1
			s.teardown(StateClosed)
			return nil
		}
	}

	s.teardown(StateInvalid)
	return ErrConnectionFailed
}

// rearm resets a closed socket back to LISTEN for a fresh Accept.
func (s *Socket) rearm() {
	s.peer = nil
	s.seqNum = 0
	s.ackNum = 0
	s.initWinSize = 0
	s.currWinSize = s.opts.WindowSize
	s.cc = nil
	s.stats.reset()
	s.state = StateListen
	logging.Debugf("socket re-armed for accept")
}
