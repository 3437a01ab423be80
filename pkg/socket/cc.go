package socket

// congestionControl governs how much unacknowledged data the send engine may
// keep in flight. The effective allowance at any moment is
// min(Cwnd(), peer advertised window); the engine enforces that.
type congestionControl interface {
	// Cwnd returns the current congestion window in bytes.
	Cwnd() int
	// Ssthresh returns the current slow-start threshold in bytes.
	Ssthresh() int
	// OnAck informs the controller that one segment of n bytes was
	// cumulatively acknowledged.
	OnAck(n int)
	// OnLoss informs the controller of a loss event, whether a
	// retransmission timeout or an inferred gap.
	OnLoss()
	// Clamp records limit as the peer's advertised window and keeps
	// cwnd within it, both immediately and as the window grows. A zero
	// limit leaves cwnd unbounded.
	Clamp(limit int)
}

// slowStart is the classic slow-start / congestion-avoidance controller:
// exponential growth below ssthresh, additive growth above it, and a reset
// to the initial window on loss with ssthresh halved.
type slowStart struct {
	mss      int
	initCwnd int
	cwnd     int
	ssthresh int
	caAcc    int // congestion-avoidance byte accumulator
	limit    int // last-seen peer window; 0 means unbounded
}

func newSlowStart(mss, initCwnd, initSSThresh int) *slowStart {
	return &slowStart{
		mss:      mss,
		initCwnd: initCwnd,
		cwnd:     initCwnd,
		ssthresh: initSSThresh,
	}
}

func (c *slowStart) Cwnd() int     { return c.cwnd }
func (c *slowStart) Ssthresh() int { return c.ssthresh }

func (c *slowStart) OnAck(n int) {
	if n <= 0 {
		return
	}
	if c.cwnd < c.ssthresh {
		// Slow start: one MSS per fully acknowledged segment.
		c.cwnd += c.mss
	} else {
		// Congestion avoidance: one MSS per window's worth of
		// acknowledged bytes, i.e. roughly one MSS per round trip.
		c.caAcc += n
		if c.caAcc >= c.cwnd {
			c.caAcc -= c.cwnd
			c.cwnd += c.mss
		}
	}
	c.bound()
}

func (c *slowStart) OnLoss() {
	half := c.cwnd / 2
	if half < c.mss {
		half = c.mss
	}
	c.ssthresh = half
	c.cwnd = c.initCwnd
	c.caAcc = 0
	c.bound()
}

func (c *slowStart) Clamp(limit int) {
	c.limit = limit
	c.bound()
}

// bound keeps cwnd within the last-seen peer window.
func (c *slowStart) bound() {
	if c.limit > 0 && c.cwnd > c.limit {
		c.cwnd = c.limit
	}
}
