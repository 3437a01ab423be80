package socket

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/microtcp/pkg/header"
	"github.com/irctrakz/microtcp/pkg/transport"
)

// recvAll drains want bytes from s, tolerating short reads.
func recvAll(t *testing.T, s *Socket, want int) []byte {
	t.Helper()
	out := make([]byte, 0, want)
	buf := make([]byte, 4096)
	for len(out) < want {
		n, err := s.Recv(buf)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		out = append(out, buf[:n]...)
	}
	return out
}

func TestSendRecvRoundTrip(t *testing.T) {
	client, server := startEstablished(t, testOptions())

	payload := make([]byte, 20000)
	rand.Read(payload)

	done := make(chan []byte, 1)
	go func() { done <- recvAll(t, server, len(payload)) }()

	n, err := client.Send(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	got := <-done
	assert.True(t, bytes.Equal(payload, got), "reassembled stream differs from original")
}

func TestSendRecvSmallSegments(t *testing.T) {
	opts := testOptions()
	opts.MSS = 128
	opts.InitCwnd = 3 * 128
	client, server := startEstablished(t, opts)

	payload := make([]byte, 3000)
	rand.Read(payload)

	done := make(chan []byte, 1)
	go func() { done <- recvAll(t, server, len(payload)) }()

	n, err := client.Send(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, <-done)
}

// The 5th of 10 data segments is dropped by the substrate; the sender must
// retransmit exactly the missing range and the receiver must still
// reassemble the original payload in order.
func TestLossRecovery(t *testing.T) {
	opts := testOptions()
	opts.MSS = 100
	opts.InitCwnd = 10 * 100 // let all ten segments into flight
	opts.AckTimeout = 50 * time.Millisecond

	ta, tb := transport.NewLoopbackPair()
	client := NewSocket(opts)
	require.NoError(t, client.Bind(ta))
	server := NewSocket(opts)
	require.NoError(t, server.Bind(tb))

	accepted := make(chan error, 1)
	go func() { accepted <- server.Accept() }()
	require.NoError(t, client.Connect(ta.PeerAddr()))
	require.NoError(t, <-accepted)

	// Drop the 5th data segment, first transmission only.
	dataSegs := 0
	ta.SetDropFunc(func(b []byte) bool {
		h, _, err := header.Decode(b)
		if err != nil || h.DataLen == 0 {
			return false
		}
		dataSegs++
		return dataSegs == 5
	})

	payload := make([]byte, 1000)
	rand.Read(payload)

	done := make(chan []byte, 1)
	go func() { done <- recvAll(t, server, len(payload)) }()

	n, err := client.Send(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, <-done)

	// The engine observed the loss.
	assert.GreaterOrEqual(t, client.Stats().PacketsLost, uint64(1))
	assert.Greater(t, dataSegs, 10, "missing segment was never retransmitted")
}

// A window holding more segments than the retry budget must still absorb a
// single loss: the stale duplicate acks queued behind the hole trigger one
// fast retransmit, not one each, and none of them charge the retry budget.
func TestLossRecoveryWindowLargerThanRetryBudget(t *testing.T) {
	opts := testOptions()
	opts.MSS = 100
	opts.InitCwnd = 3000 // thirty segments in flight, MaxRetries stays 10
	opts.AckTimeout = 50 * time.Millisecond

	ta, tb := transport.NewLoopbackPair()
	client := NewSocket(opts)
	require.NoError(t, client.Bind(ta))
	server := NewSocket(opts)
	require.NoError(t, server.Bind(tb))

	accepted := make(chan error, 1)
	go func() { accepted <- server.Accept() }()
	require.NoError(t, client.Connect(ta.PeerAddr()))
	require.NoError(t, <-accepted)

	// Drop the 5th data segment, first transmission only, and count how
	// often it goes back out afterwards.
	var lostSeq uint32
	lostSends := 0
	dataSegs := 0
	ta.SetDropFunc(func(b []byte) bool {
		h, _, err := header.Decode(b)
		if err != nil || h.DataLen == 0 {
			return false
		}
		dataSegs++
		if dataSegs == 5 {
			lostSeq = h.SeqNumber
			return true
		}
		if lostSeq != 0 && h.SeqNumber == lostSeq {
			lostSends++
		}
		return false
	})

	payload := make([]byte, 3000)
	rand.Read(payload)

	done := make(chan []byte, 1)
	go func() { done <- recvAll(t, server, len(payload)) }()

	n, err := client.Send(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, <-done)
	assert.Equal(t, StateEstablished, client.State())

	// The hole was repaired without burning through the budget.
	assert.GreaterOrEqual(t, lostSends, 1)
	assert.Less(t, lostSends, opts.MaxRetries)
}

// Out-of-order arrival: the receiver buffers in-window data beyond the next
// expected byte, advertises it as the single SACK range, and reassembles
// once the gap fills.
func TestOutOfOrderReassembly(t *testing.T) {
	opts := testOptions()
	ta, tb := transport.NewLoopbackPair()

	s := NewSocket(opts)
	require.NoError(t, s.Bind(ta))
	s.state = StateEstablished
	s.peer = ta.PeerAddr()
	s.recvBuf = make([]byte, opts.WindowSize)
	s.seqNum = 5000
	s.ackNum = 1000
	s.initWinSize = opts.WindowSize
	s.currWinSize = opts.WindowSize
	s.cc = newSlowStart(opts.MSS, opts.InitCwnd, opts.InitSSThresh)

	peer := tb.PeerAddr()
	first := bytes.Repeat([]byte{'a'}, 100)
	second := bytes.Repeat([]byte{'b'}, 100)

	// Deliver the second segment before the first.
	_ = tb.WriteSegment(header.Encode(&header.Header{
		SeqNumber: 1100, AckNumber: 5000, Control: header.ACK, Window: 8192,
	}, second), peer)
	_ = tb.WriteSegment(header.Encode(&header.Header{
		SeqNumber: 1000, AckNumber: 5000, Control: header.ACK, Window: 8192,
	}, first), peer)

	buf := make([]byte, 400)
	n, err := s.Recv(buf)
	require.NoError(t, err)
	assert.Equal(t, 200, n)
	assert.Equal(t, append(append([]byte{}, first...), second...), buf[:n])

	// First ACK advertised the out-of-order block as one SACK range.
	raw, _, err := tb.ReadSegment(time.Second)
	require.NoError(t, err)
	h, _, err := header.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), h.AckNumber)
	assert.Equal(t, uint32(1100), h.LeftSACK)
	assert.Equal(t, uint32(1200), h.RightSACK)

	// Second ACK: gap filled, cumulative ack jumps, range cleared.
	raw, _, err = tb.ReadSegment(time.Second)
	require.NoError(t, err)
	h, _, err = header.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(1200), h.AckNumber)
	assert.Zero(t, h.LeftSACK)
	assert.Zero(t, h.RightSACK)
}

// Only one out-of-order block is representable: a second disjoint block is
// dropped and must be retransmitted later.
func TestSecondDisjointBlockDropped(t *testing.T) {
	opts := testOptions()
	s := NewSocket(opts)
	s.state = StateEstablished
	s.recvBuf = make([]byte, opts.WindowSize)
	s.ackNum = 1000

	blockA := bytes.Repeat([]byte{'a'}, 100)
	blockB := bytes.Repeat([]byte{'b'}, 100)

	s.ingestData(&header.Header{SeqNumber: 1100}, blockA)
	assert.Equal(t, uint32(1100), s.leftSACK)
	assert.Equal(t, uint32(1200), s.rightSACK)

	// Disjoint from [1100,1200): not representable, dropped.
	s.ingestData(&header.Header{SeqNumber: 1300}, blockB)
	assert.Equal(t, uint32(1100), s.leftSACK)
	assert.Equal(t, uint32(1200), s.rightSACK)

	// Adjacent data extends the block.
	s.ingestData(&header.Header{SeqNumber: 1200}, blockB)
	assert.Equal(t, uint32(1100), s.leftSACK)
	assert.Equal(t, uint32(1300), s.rightSACK)

	// Filling the gap merges everything.
	s.ingestData(&header.Header{SeqNumber: 1000}, bytes.Repeat([]byte{'c'}, 100))
	assert.Zero(t, s.leftSACK)
	assert.Zero(t, s.rightSACK)
	assert.Equal(t, 300, s.bufFill)
	assert.Equal(t, uint32(1300), s.ackNum)
}

func TestShortReads(t *testing.T) {
	opts := testOptions()
	ta, tb := transport.NewLoopbackPair()

	s := NewSocket(opts)
	require.NoError(t, s.Bind(ta))
	s.state = StateEstablished
	s.peer = ta.PeerAddr()
	s.recvBuf = make([]byte, opts.WindowSize)
	s.ackNum = 1000
	s.cc = newSlowStart(opts.MSS, opts.InitCwnd, opts.InitSSThresh)

	payload := bytes.Repeat([]byte{'x'}, 300)
	_ = tb.WriteSegment(header.Encode(&header.Header{
		SeqNumber: 1000, Control: header.ACK, Window: 8192,
	}, payload), tb.PeerAddr())

	buf := make([]byte, 100)
	for i := 0; i < 3; i++ {
		n, err := s.Recv(buf)
		require.NoError(t, err)
		assert.Equal(t, 100, n, "read %d", i)
	}
	assert.Zero(t, s.bufFill)
}

// A sender facing a zero advertised window still emits one probe segment so
// the connection recovers once the window reopens.
func TestZeroWindowProbe(t *testing.T) {
	opts := testOptions()
	opts.MSS = 100
	ta, tb := transport.NewLoopbackPair()

	s := NewSocket(opts)
	require.NoError(t, s.Bind(ta))
	s.state = StateEstablished
	s.peer = ta.PeerAddr()
	s.recvBuf = make([]byte, opts.WindowSize)
	s.seqNum = 2000
	s.ackNum = 9000
	s.initWinSize = opts.WindowSize
	s.currWinSize = 0 // peer window closed
	s.cc = newSlowStart(opts.MSS, opts.InitCwnd, opts.InitSSThresh)

	// Scripted peer: cumulative acks with a reopened window.
	go func() {
		expect := uint32(2000)
		for {
			raw, _, err := tb.ReadSegment(2 * time.Second)
			if err != nil {
				return
			}
			h, payload, derr := header.Decode(raw)
			if derr != nil || len(payload) == 0 {
				continue
			}
			if h.SeqNumber == expect {
				expect += uint32(len(payload))
			}
			ack := header.Encode(&header.Header{
				SeqNumber: 9000, AckNumber: expect,
				Control: header.ACK, Window: 8192,
			}, nil)
			_ = tb.WriteSegment(ack, tb.PeerAddr())
			if expect >= 2500 {
				return
			}
		}
	}()

	payload := bytes.Repeat([]byte{'p'}, 500)
	n, err := s.Send(payload)
	require.NoError(t, err)
	assert.Equal(t, 500, n)
}

func TestShutdownFourWay(t *testing.T) {
	client, server := startEstablished(t, testOptions())

	payload := []byte("last words")
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		buf := make([]byte, 256)
		for {
			n, err := server.Recv(buf)
			if err != nil || n == 0 {
				break
			}
		}
		// Peer initiated: the engine observed CLOSING_BY_PEER before we
		// echo the close.
		assert.Equal(t, StateClosingByPeer, server.State())
		assert.NoError(t, server.Shutdown(ShutRDWR))
	}()

	_, err := client.Send(payload)
	require.NoError(t, err)
	require.NoError(t, client.Shutdown(ShutRDWR))
	<-serverDone

	assert.Equal(t, StateClosed, client.State())
	assert.Equal(t, StateClosed, server.State())

	// Receive buffers are released at teardown.
	assert.Nil(t, client.recvBuf)
	assert.Nil(t, server.recvBuf)

	// No further operation is accepted on either side.
	_, err = client.Send([]byte("x"))
	assert.ErrorIs(t, err, ErrConnectionClosed)
	_, err = server.Recv(make([]byte, 8))
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.ErrorIs(t, client.Shutdown(ShutRDWR), ErrConnectionClosed)
}

// A closed socket is re-armed by a fresh Accept.
func TestAcceptRearmsClosedSocket(t *testing.T) {
	opts := testOptions()
	ta, tb := transport.NewLoopbackPair()
	srv := NewSocket(opts)
	require.NoError(t, srv.Bind(tb))
	srv.state = StateClosed

	go func() {
		peer := ta.PeerAddr()
		_ = ta.WriteSegment(header.Encode(&header.Header{
			SeqNumber: 7000, Control: header.SYN, Window: 8192,
		}, nil), peer)
		raw, _, err := ta.ReadSegment(time.Second)
		if err != nil {
			return
		}
		h, _, derr := header.Decode(raw)
		if derr != nil {
			return
		}
		_ = ta.WriteSegment(header.Encode(&header.Header{
			SeqNumber: 7001, AckNumber: h.SeqNumber + 1,
			Control: header.ACK, Window: 8192,
		}, nil), peer)
	}()

	require.NoError(t, srv.Accept())
	assert.Equal(t, StateEstablished, srv.State())
	assert.Equal(t, uint32(7001), srv.ackNum)
}
