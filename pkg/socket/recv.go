package socket

import (
	"errors"

	"github.com/irctrakz/microtcp/pkg/core"
	"github.com/irctrakz/microtcp/pkg/header"
	"github.com/irctrakz/microtcp/pkg/logging"
)

// Recv consumes stream data in sequence order. It fills buf up to the amount
// currently available and returns the count: short reads are legal and
// expected. With nothing buffered it blocks until data, a peer FIN, or a
// failure. After a clean peer-initiated shutdown it returns 0 once the
// buffer is drained.
func (s *Socket) Recv(buf []byte) (int, error) {
	switch s.state {
	case StateEstablished:
		// fall through to the receive loop
	case StateClosingByPeer:
		if s.bufFill > 0 {
			return s.consume(buf), nil
		}
		return 0, nil
	default:
		return 0, ErrConnectionClosed
	}

	if s.bufFill > 0 {
		return s.consume(buf), nil
	}

	for {
		h, payload, err := s.readValid(s.opts.AckTimeout)
		if errors.Is(err, core.ErrTimeout) {
			// Nothing arrived; keep waiting. The caller bounds the
			// overall wait if it needs to.
			continue
		}
		if err != nil {
			return 0, err
		}

		switch {
		case h.Control&header.RST != 0:
			s.teardown(StateInvalid)
			return 0, ErrConnectionReset

		case h.Control&header.FIN != 0:
			s.ackNum = h.SeqNumber + 1
			if err := s.sendControl(header.ACK); err != nil {
				return 0, err
			}
			s.state = StateClosingByPeer
			logging.Debugf("FIN received, state=%s", s.state)
			if s.bufFill > 0 {
				return s.consume(buf), nil
			}
			return 0, nil

		case h.Control == header.SYNACK && h.AckNumber == s.seqNum:
			// The completing handshake ack was lost and the peer is
			// still retransmitting its SYN_ACK; answer again so its
			// accept loop can finish.
			if err := s.sendControl(header.ACK); err != nil {
				return 0, err
			}

		case len(payload) > 0:
			s.ingestData(&h, payload)
			s.updatePeerWindow(&h)
			if err := s.sendControl(header.ACK); err != nil {
				return 0, err
			}
			if s.bufFill > 0 {
				return s.consume(buf), nil
			}
			// Out-of-order arrival: acknowledged via the SACK range,
			// keep waiting for the gap to fill.

		default:
			// Stray ACK; note the window refresh and keep waiting.
			s.updatePeerWindow(&h)
		}
	}
}

// ingestData places one data segment into the receive buffer. In-order data
// extends the readable region and may merge the out-of-order block;
// in-window data beyond the next expected byte is stored at its stream
// offset and tracked by the single SACK range. Anything that does not fit
// the window or the one representable block is dropped and left to
// retransmission.
func (s *Socket) ingestData(h *header.Header, payload []byte) {
	n := uint32(len(payload))
	if n == 0 || s.recvBuf == nil {
		return
	}
	seq := h.SeqNumber

	switch {
	case seq == s.ackNum:
		off := s.bufFill
		if off+int(n) > len(s.recvBuf) {
			logging.Debugf("receive window full, dropping seq=%d len=%d", seq, n)
			return
		}
		copy(s.recvBuf[off:], payload)
		s.bufFill += int(n)
		s.ackNum += n

		// Merge the out-of-order block once the gap is closed.
		if s.leftSACK != 0 && !seqAfter(s.leftSACK, s.ackNum) {
			if seqAfter(s.rightSACK, s.ackNum) {
				s.bufFill += int(s.rightSACK - s.ackNum)
				s.ackNum = s.rightSACK
			}
			s.leftSACK, s.rightSACK = 0, 0
		}

	case seqAfter(seq, s.ackNum):
		off := s.bufFill + int(seq-s.ackNum)
		if off+int(n) > len(s.recvBuf) {
			logging.Debugf("out-of-order segment beyond window, dropping seq=%d", seq)
			return
		}
		switch {
		case s.leftSACK == 0 && s.rightSACK == 0:
			copy(s.recvBuf[off:], payload)
			s.leftSACK, s.rightSACK = seq, seq+n
		case !seqAfter(seq, s.rightSACK) && !seqBefore(seq+n, s.leftSACK):
			// Overlaps or touches the tracked block: extend it.
			copy(s.recvBuf[off:], payload)
			if seqBefore(seq, s.leftSACK) {
				s.leftSACK = seq
			}
			if seqAfter(seq+n, s.rightSACK) {
				s.rightSACK = seq + n
			}
		default:
			// A second disjoint block is not representable by the
			// single SACK range; drop it and let the sender
			// retransmit.
			logging.Debugf("second out-of-order block, dropping seq=%d", seq)
		}

	default:
		// Duplicate of already-acknowledged data; the caller's ACK
		// re-asserts the cumulative position.
	}
}

// consume copies buffered in-order data out to buf and shifts the buffer,
// keeping any out-of-order block at its stream offset.
func (s *Socket) consume(buf []byte) int {
	n := s.bufFill
	if n > len(buf) {
		n = len(buf)
	}
	copy(buf, s.recvBuf[:n])

	extent := s.bufFill
	if s.rightSACK != 0 && seqAfter(s.rightSACK, s.ackNum) {
		extent = s.bufFill + int(s.rightSACK-s.ackNum)
	}
	copy(s.recvBuf, s.recvBuf[n:extent])
	s.bufFill -= n
	return n
}
