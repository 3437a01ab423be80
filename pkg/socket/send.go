package socket

import (
	"errors"
	"time"

	"github.com/irctrakz/microtcp/pkg/core"
	"github.com/irctrakz/microtcp/pkg/header"
	"github.com/irctrakz/microtcp/pkg/logging"
)

// dupAckThreshold triggers retransmission before the timer fires when the
// same cumulative ack repeats.
const dupAckThreshold = 3

// inflightSegment is one transmitted-but-unacknowledged segment.
type inflightSegment struct {
	seq     uint32
	data    []byte
	sentAt  time.Time
	retries int
}

// Send transmits buf reliably: split into MSS-sized segments, pipelined up
// to min(cwnd, peer window), retransmitted on timeout or on an inferred gap.
// It blocks until every byte is acknowledged and returns the count, or the
// bytes retired so far together with the failure.
func (s *Socket) Send(buf []byte) (int, error) {
	if s.state != StateEstablished {
		return 0, ErrConnectionClosed
	}
	if len(buf) == 0 {
		return 0, nil
	}

	var q []inflightSegment
	sndUna := s.seqNum // lowest unacknowledged sequence number
	sent := 0          // next unsegmented offset in buf
	acked := 0         // bytes retired
	dupAcks := 0

	// One fast retransmit per loss event. The trigger is re-armed only
	// when the cumulative ack or the peer's SACK range advances, so the
	// stale duplicate acks queued behind one hole cannot each fire a
	// retransmission of their own.
	retransArmed := true
	var lastGapLeft uint32

	for acked < len(buf) {
		// Fill the window. A zero allowance with nothing in flight
		// still permits a single probe segment so the connection can
		// discover a reopened peer window.
		limit := s.cc.Cwnd()
		if s.currWinSize < limit {
			limit = s.currWinSize
		}
		for sent < len(buf) {
			inFlight := int(s.seqNum - sndUna)
			n := len(buf) - sent
			if n > s.opts.MSS {
				n = s.opts.MSS
			}
			if inFlight > 0 && inFlight+n > limit {
				break
			}
			payload := buf[sent : sent+n]
			if err := s.sendSegment(header.ACK, s.seqNum, payload); err != nil {
				return acked, err
			}
			q = append(q, inflightSegment{seq: s.seqNum, data: payload, sentAt: time.Now()})
			s.seqNum += uint32(n)
			sent += n
		}

		// Wait for acknowledgment traffic.
		h, payload, err := s.readValid(s.opts.AckTimeout)
		switch {
		case errors.Is(err, core.ErrTimeout):
			if err := s.onSendTimeout(q); err != nil {
				return acked, err
			}
			dupAcks = 0
			continue
		case err != nil:
			return acked, err
		}

		if h.Control&header.RST != 0 {
			s.teardown(StateInvalid)
			return acked, ErrConnectionReset
		}
		if h.Control&header.FIN != 0 {
			// Peer closed mid-transfer; unacknowledged data is not
			// deliverable anymore.
			s.ackNum = h.SeqNumber + 1
			_ = s.sendControl(header.ACK)
			s.state = StateClosingByPeer
			return acked, ErrConnectionClosed
		}
		if h.Control == header.SYNACK {
			// Retransmitted handshake reply: the completing ack was
			// lost. Answer it instead of counting it as a duplicate
			// ack.
			if err := s.sendControl(header.ACK); err != nil {
				return acked, err
			}
			continue
		}
		if len(payload) > 0 {
			// The peer is sending while we send; keep its data and
			// acknowledge so its own engine advances.
			s.ingestData(&h, payload)
			s.updatePeerWindow(&h)
			if err := s.sendControl(header.ACK); err != nil {
				return acked, err
			}
		}
		if h.Control&header.ACK == 0 {
			continue
		}

		s.updatePeerWindow(&h)
		ackVal := h.AckNumber

		switch {
		case seqAfter(ackVal, sndUna):
			// Cumulative acknowledgment retires every fully covered
			// segment.
			sndUna = ackVal
			dupAcks = 0
			retransArmed = true
			lastGapLeft = 0
			for len(q) > 0 && !seqAfter(q[0].seq+uint32(len(q[0].data)), ackVal) {
				s.cc.OnAck(len(q[0].data))
				acked += len(q[0].data)
				q = q[1:]
			}

		case ackVal == sndUna && len(q) > 0:
			dupAcks++
			gap := h.LeftSACK != 0 && seqAfter(h.LeftSACK, ackVal)
			if gap && lastGapLeft != 0 && seqAfter(h.LeftSACK, lastGapLeft) {
				// The SACK range moved: a new hole behind it.
				retransArmed = true
			}
			if retransArmed && (gap || dupAcks >= dupAckThreshold) {
				// The SACK range (or repeated acks) shows the peer
				// holds data beyond a gap: retransmit the missing
				// range without waiting for the timer.
				upTo := uint32(0)
				if gap {
					upTo = h.LeftSACK
					lastGapLeft = h.LeftSACK
				}
				if err := s.fastRetransmit(q, upTo); err != nil {
					return acked, err
				}
				retransArmed = false
				dupAcks = 0
			}
		}

		// Poll the retransmission timer against the monotonic clock on
		// every pass, independent of ack progress.
		if len(q) > 0 && time.Since(q[0].sentAt) >= s.opts.AckTimeout {
			if err := s.onSendTimeout(q); err != nil {
				return acked, err
			}
		}
	}

	return len(buf), nil
}

// onSendTimeout runs the loss path for an acknowledgment timeout: halve
// ssthresh, reset cwnd, retransmit the oldest unacknowledged segment. The
// per-segment retry budget bounds how long a dead peer can hold the caller.
func (s *Socket) onSendTimeout(q []inflightSegment) error {
	if len(q) == 0 {
		return nil
	}
	oldest := &q[0]
	oldest.retries++
	if oldest.retries > s.opts.MaxRetries {
		s.teardown(StateInvalid)
		return ErrConnectionFailed
	}

	s.stats.onLoss(header.Size + len(oldest.data))
	s.cc.OnLoss()
	logging.DebugWithFields(map[string]interface{}{
		"seq":      oldest.seq,
		"retries":  oldest.retries,
		"cwnd":     s.cc.Cwnd(),
		"ssthresh": s.cc.Ssthresh(),
	}, "ack timeout, retransmitting")

	if err := s.sendSegment(header.ACK, oldest.seq, oldest.data); err != nil {
		return err
	}
	oldest.sentAt = time.Now()
	return nil
}

// fastRetransmit resends the segments the peer is missing: everything below
// upTo when a SACK range names the gap, or just the oldest segment when only
// duplicate acks are available. Fast retransmissions do not charge the
// per-segment retry budget; only the timer path does, so duplicate-ack
// bursts cannot fail a connection that is still making progress.
func (s *Socket) fastRetransmit(q []inflightSegment, upTo uint32) error {
	if len(q) == 0 {
		return nil
	}
	s.cc.OnLoss()

	for i := range q {
		if upTo != 0 && !seqBefore(q[i].seq, upTo) {
			break
		}
		seg := &q[i]
		s.stats.onLoss(header.Size + len(seg.data))
		logging.DebugWithFields(map[string]interface{}{
			"seq":      seg.seq,
			"cwnd":     s.cc.Cwnd(),
			"ssthresh": s.cc.Ssthresh(),
		}, "gap inferred, fast retransmit")
		if err := s.sendSegment(header.ACK, seg.seq, seg.data); err != nil {
			return err
		}
		seg.sentAt = time.Now()
		if upTo == 0 {
			break
		}
	}
	return nil
}
