package socket

import (
	"time"
)

// Fixed protocol values. These are the wire-compatible defaults; Options can
// tighten them for harnesses but both peers must agree on MSS.
const (
	// MSS is the maximum segment payload size in bytes.
	MSS = 1400

	// AckTimeout is the acknowledgment timeout.
	AckTimeout = 200 * time.Millisecond

	// RecvBufLen is the receive buffer capacity in bytes.
	RecvBufLen = 8192

	// WinSize is the default advertised window, equal to the receive
	// buffer capacity.
	WinSize = RecvBufLen

	// InitCwnd is the initial congestion window in bytes.
	InitCwnd = 3 * MSS

	// InitSSThresh is the initial slow-start threshold in bytes.
	InitSSThresh = WinSize

	// MaxRetries is the retry budget per awaited control segment and per
	// data retransmission.
	MaxRetries = 10
)

// Options tunes one Socket. The zero value is not usable; start from
// DefaultOptions.
type Options struct {
	MSS          int
	AckTimeout   time.Duration
	WindowSize   int
	InitCwnd     int
	InitSSThresh int
	MaxRetries   int
}

// DefaultOptions returns the fixed protocol values.
func DefaultOptions() Options {
	return Options{
		MSS:          MSS,
		AckTimeout:   AckTimeout,
		WindowSize:   WinSize,
		InitCwnd:     InitCwnd,
		InitSSThresh: InitSSThresh,
		MaxRetries:   MaxRetries,
	}
}
