package core

// SocketStats contains the traffic counters and inter-arrival timing of one
// microTCP connection. It is a plain aggregate: the engine writes it, callers
// read snapshots of it.
type SocketStats struct {
	// PacketsSent is the number of segments handed to the substrate.
	PacketsSent uint64

	// PacketsReceived is the number of valid segments consumed.
	PacketsReceived uint64

	// PacketsLost is the number of segments detected or inferred lost,
	// including checksum-failed arrivals.
	PacketsLost uint64

	// BytesSent is the number of wire bytes handed to the substrate.
	BytesSent uint64

	// BytesReceived is the number of wire bytes consumed.
	BytesReceived uint64

	// BytesLost is the number of wire bytes detected or inferred lost.
	BytesLost uint64

	// TxMinInter, TxMaxInter and TxMeanInter are the rolling minimum,
	// maximum and mean inter-arrival times between sent segments, in
	// seconds.
	TxMinInter  float64
	TxMaxInter  float64
	TxMeanInter float64

	// RxMinInter, RxMaxInter and RxMeanInter are the receive-side
	// counterparts.
	RxMinInter  float64
	RxMaxInter  float64
	RxMeanInter float64
}
