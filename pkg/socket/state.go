package socket

// State is the connection state of a Socket. Transitions are driven only by
// the handshake, teardown and error paths; data transfer never changes state.
type State int

const (
	// StateUnknown is the initial state of a fresh socket.
	StateUnknown State = iota

	// StateListen means the socket is bound and ready for a passive open.
	StateListen

	// StateEstablished means the handshake completed; send and receive
	// are legal only here (receive also drains in StateClosingByPeer).
	StateEstablished

	// StateClosingByPeer means the peer sent FIN first; the host may
	// drain buffered data and must answer with its own FIN.
	StateClosingByPeer

	// StateClosingByHost means this side sent FIN first and is waiting
	// for the peer to finish draining and echo a FIN.
	StateClosingByHost

	// StateClosed is terminal for a completed teardown; the receive
	// buffer is released.
	StateClosed

	// StateInvalid is terminal for protocol violations and substrate
	// failures.
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "UNKNOWN"
	case StateListen:
		return "LISTEN"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosingByPeer:
		return "CLOSING_BY_PEER"
	case StateClosingByHost:
		return "CLOSING_BY_HOST"
	case StateClosed:
		return "CLOSED"
	case StateInvalid:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}
