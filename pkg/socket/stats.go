package socket

import (
	"sync"
	"time"

	"github.com/irctrakz/microtcp/pkg/core"
)

// statsCollector accumulates traffic counters and inter-arrival timing for
// one connection. It is a pure observer: the engine reports events, nothing
// here can fail or block.
type statsCollector struct {
	mu sync.Mutex

	stats core.SocketStats

	lastSent time.Time
	lastRcvd time.Time
	txCount  uint64 // inter-arrival samples on the send side
	rxCount  uint64
}

// onSend records one segment of n wire bytes handed to the substrate.
func (c *statsCollector) onSend(n int) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.PacketsSent++
	c.stats.BytesSent += uint64(n)

	if !c.lastSent.IsZero() {
		d := now.Sub(c.lastSent).Seconds()
		c.txCount++
		if c.stats.TxMinInter == 0 || d < c.stats.TxMinInter {
			c.stats.TxMinInter = d
		}
		if d > c.stats.TxMaxInter {
			c.stats.TxMaxInter = d
		}
		c.stats.TxMeanInter += (d - c.stats.TxMeanInter) / float64(c.txCount)
	}
	c.lastSent = now
}

// onReceive records one valid segment of n wire bytes consumed.
func (c *statsCollector) onReceive(n int) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.PacketsReceived++
	c.stats.BytesReceived += uint64(n)

	if !c.lastRcvd.IsZero() {
		d := now.Sub(c.lastRcvd).Seconds()
		c.rxCount++
		if c.stats.RxMinInter == 0 || d < c.stats.RxMinInter {
			c.stats.RxMinInter = d
		}
		if d > c.stats.RxMaxInter {
			c.stats.RxMaxInter = d
		}
		c.stats.RxMeanInter += (d - c.stats.RxMeanInter) / float64(c.rxCount)
	}
	c.lastRcvd = now
}

// onLoss records one segment of n wire bytes detected or inferred lost.
func (c *statsCollector) onLoss(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.PacketsLost++
	c.stats.BytesLost += uint64(n)
}

// snapshot returns a copy of the counters.
func (c *statsCollector) snapshot() core.SocketStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// reset clears all counters, used when a closed socket is re-armed.
func (c *statsCollector) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = core.SocketStats{}
	c.lastSent = time.Time{}
	c.lastRcvd = time.Time{}
	c.txCount = 0
	c.rxCount = 0
}
