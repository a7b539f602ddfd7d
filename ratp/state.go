package ratp

// State represents the RATP connection states of RFC 916 §3.3.
type State uint8

// RATP connection states.
const (
	// ListenState waits for a SYN from the peer (passive open).
	ListenState State = iota
	// SynSentState has sent a SYN and waits for the peer's SYN (active open).
	SynSentState
	// SynReceivedState has received a SYN and waits for the acknowledgment of its own.
	SynReceivedState
	// EstablishedState is ready for data exchange.
	EstablishedState
	// FinWaitState has sent a FIN and waits for the peer's FIN.
	FinWaitState
	// LastAckState has answered the peer's FIN and waits for the final acknowledgment.
	LastAckState
	// ClosingState has crossed FINs with the peer and waits for the acknowledgment of its FIN.
	ClosingState
	// TimeWaitState lingers to acknowledge a retransmitted FIN.
	TimeWaitState
	// ClosedState is terminal.
	ClosedState
)

// String returns string representation of the state.
func (s State) String() string {
	switch s {
	case ListenState:
		return "LISTEN"
	case SynSentState:
		return "SYN-SENT"
	case SynReceivedState:
		return "SYN-RECEIVED"
	case EstablishedState:
		return "ESTABLISHED"
	case FinWaitState:
		return "FIN-WAIT"
	case LastAckState:
		return "LAST-ACK"
	case ClosingState:
		return "CLOSING"
	case TimeWaitState:
		return "TIME-WAIT"
	case ClosedState:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// IsEstablished returns if the state is ESTABLISHED.
func (s State) IsEstablished() bool { return s == EstablishedState }

// IsClosed returns if the state is CLOSED.
func (s State) IsClosed() bool { return s == ClosedState }
