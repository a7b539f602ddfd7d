package ratp

import "github.com/arloliu/go-ratp/internal/util"

// behavior is one processing rule of the state machine. It returns true when
// the packet has been fully handled and no further rule must run.
type behavior func(c *Conn, pkt *Packet) bool

var (
	listenBehaviors      = []behavior{behaviorA}
	synSentBehaviors     = []behavior{behaviorB}
	synReceivedBehaviors = []behavior{behaviorC1, behaviorD1, behaviorE, behaviorF1, behaviorH1}
	establishedBehaviors = []behavior{behaviorC2, behaviorD2, behaviorE, behaviorF2, behaviorH2, behaviorI1}
	finWaitBehaviors     = []behavior{behaviorC2, behaviorD2, behaviorE, behaviorF3, behaviorH3}
	lastAckBehaviors     = []behavior{behaviorC2, behaviorD3, behaviorE, behaviorF3, behaviorH4}
	closingBehaviors     = []behavior{behaviorC2, behaviorD3, behaviorE, behaviorF3, behaviorH5}
	timeWaitBehaviors    = []behavior{behaviorD3, behaviorE, behaviorF3, behaviorH6}
	closedBehaviors      = []behavior{behaviorG}
)

func behaviorsFor(s State) []behavior {
	switch s {
	case ListenState:
		return listenBehaviors
	case SynSentState:
		return synSentBehaviors
	case SynReceivedState:
		return synReceivedBehaviors
	case EstablishedState:
		return establishedBehaviors
	case FinWaitState:
		return finWaitBehaviors
	case LastAckState:
		return lastAckBehaviors
	case ClosingState:
		return closingBehaviors
	case TimeWaitState:
		return timeWaitBehaviors
	default:
		return closedBehaviors
	}
}

// process runs pkt through the rules of the current state.
func (c *Conn) process(pkt *Packet) {
	for _, b := range behaviorsFor(c.state) {
		if b(c, pkt) {
			return
		}
	}
}

// behaviorA handles LISTEN: only a SYN opens the connection.
func behaviorA(c *Conn, pkt *Packet) bool {
	ctl := pkt.Control

	if ctl.IsRST() {
		return true
	}

	if ctl.IsACK() {
		c.sendReset(pkt)
		return true
	}

	if !ctl.IsSYN() {
		return true
	}

	c.snReceived = ctl.SN()
	c.peerMDL = int(pkt.Length)
	c.snSent = 0

	if c.sendSYNACK() {
		c.setState(SynReceivedState)
	}

	return true
}

// behaviorB handles SYN-SENT: the answer to our SYN, or a crossing SYN.
func behaviorB(c *Conn, pkt *Packet) bool {
	ctl := pkt.Control

	if ctl.IsACK() && !c.anExpected(pkt) {
		if !ctl.IsRST() {
			c.sendReset(pkt)
		}

		return true
	}

	if ctl.IsRST() {
		if ctl.IsACK() {
			c.logger.Warn("ratp: connection refused by peer")
			c.fail(ErrConnRefused)
		}

		return true
	}

	if !ctl.IsSYN() {
		return true
	}

	c.snReceived = ctl.SN()
	c.peerMDL = int(pkt.Length)

	if ctl.IsACK() {
		c.ackOutstanding()
		c.setState(EstablishedState)
		c.sendAckOrData(pkt)

		return true
	}

	if c.sendSYNACK() {
		c.setState(SynReceivedState)
	}

	return true
}

// behaviorC1 drops out-of-sequence packets in SYN-RECEIVED.
func behaviorC1(c *Conn, pkt *Packet) bool {
	if c.snExpected(pkt) {
		return false
	}

	if pkt.Control.IsRST() || pkt.Control.IsFIN() {
		return true
	}

	c.sendAck(pkt)

	return true
}

// behaviorC2 drops out-of-sequence packets once synchronized.
//
// A bare acknowledgment carries no sequence number of its own and is passed
// on, which lets crossing FINs complete.
func behaviorC2(c *Conn, pkt *Packet) bool {
	if c.snExpected(pkt) {
		return false
	}

	ctl := pkt.Control

	switch {
	case ctl.IsRST():
		return true

	case ctl.IsFIN():
		if c.state == ClosingState {
			c.sendAck(pkt)
		}

		return true

	case ctl.IsSYN() && ctl.IsACK():
		// our handshake ACK was lost
		c.sendAck(pkt)
		return true

	case ctl.IsSYN():
		c.sendReset(pkt)
		c.fail(ErrConnReset)

		return true

	case ctl.IsACK() && !pkt.HasData():
		return false

	default:
		c.sendAck(pkt)
		return true
	}
}

// behaviorD1 handles a reset in SYN-RECEIVED.
func behaviorD1(c *Conn, pkt *Packet) bool {
	if !pkt.Control.IsRST() {
		return false
	}

	if c.active {
		c.fail(ErrConnRefused)
	} else {
		c.logger.Info("ratp: half-open connection reset, back to listen")
		c.resetToListen()
	}

	return true
}

// behaviorD2 handles a reset in ESTABLISHED and FIN-WAIT.
func behaviorD2(c *Conn, pkt *Packet) bool {
	if !pkt.Control.IsRST() {
		return false
	}

	c.fail(ErrConnReset)

	return true
}

// behaviorD3 handles a reset while closing.
func behaviorD3(c *Conn, pkt *Packet) bool {
	if !pkt.Control.IsRST() {
		return false
	}

	if c.state == TimeWaitState {
		c.toClosed(nil)
	} else {
		c.fail(ErrConnReset)
	}

	return true
}

// behaviorE rejects a SYN on a synchronized connection.
func behaviorE(c *Conn, pkt *Packet) bool {
	if !pkt.Control.IsSYN() {
		return false
	}

	c.sendReset(pkt)
	c.fail(ErrConnReset)

	return true
}

// behaviorF1 checks the acknowledgment of our SYN.
func behaviorF1(c *Conn, pkt *Packet) bool {
	if !pkt.Control.IsACK() {
		return true
	}

	if c.anExpected(pkt) {
		c.ackOutstanding()
		return false
	}

	c.sendReset(pkt)

	if c.active {
		c.fail(ErrConnRefused)
	} else {
		c.resetToListen()
	}

	return true
}

// behaviorF2 processes acknowledgments in ESTABLISHED.
func behaviorF2(c *Conn, pkt *Packet) bool {
	if !pkt.Control.IsACK() {
		return true
	}

	if c.anExpected(pkt) {
		c.ackOutstanding()
	}

	return false
}

// behaviorF3 processes acknowledgments after our FIN went out.
func behaviorF3(c *Conn, pkt *Packet) bool {
	if !pkt.Control.IsACK() {
		return true
	}

	if c.anExpected(pkt) && c.rt.pending() {
		c.ackOutstanding()
		c.finAcked = true
	}

	return false
}

// behaviorH1 completes the passive handshake.
func behaviorH1(c *Conn, pkt *Packet) bool {
	c.setState(EstablishedState)

	if pkt.HasData() {
		return behaviorI1(c, pkt)
	}

	return true
}

// behaviorH2 answers the peer's FIN in ESTABLISHED.
func behaviorH2(c *Conn, pkt *Packet) bool {
	if !pkt.Control.IsFIN() {
		return false
	}

	c.logger.Info("ratp: peer closing connection")

	c.snReceived = pkt.Control.SN()
	c.rt.clear()
	c.releaseMessages(ErrConnReset)

	c.snSent = pkt.Control.AN()
	ctl := withAN(withSN(ControlFIN|ControlACK, c.snSent), nextSeq(c.snReceived))

	c.finAcked = false
	if c.transmit(newControlPacket(ctl, 0)) {
		c.setState(LastAckState)
	}

	return true
}

// behaviorH3 handles the peer's FIN in FIN-WAIT.
func behaviorH3(c *Conn, pkt *Packet) bool {
	if !pkt.Control.IsFIN() {
		return true
	}

	c.snReceived = pkt.Control.SN()
	c.sendAck(pkt)

	if c.finAcked {
		c.startTimeWait()
	} else {
		c.setState(ClosingState)
	}

	return true
}

// behaviorH4 completes the passive close.
func behaviorH4(c *Conn, _ *Packet) bool {
	if c.finAcked {
		c.toClosed(nil)
	}

	return true
}

// behaviorH5 completes crossing FINs.
func behaviorH5(c *Conn, _ *Packet) bool {
	if c.finAcked {
		c.startTimeWait()
	}

	return true
}

// behaviorH6 acknowledges a retransmitted FIN and restarts the TIME-WAIT timer.
func behaviorH6(c *Conn, pkt *Packet) bool {
	if !pkt.Control.IsFIN() {
		return true
	}

	c.sendAck(pkt)
	c.timeWaitStart = c.cfg.clock()

	return true
}

// behaviorG answers any packet on a closed connection with a reset.
func behaviorG(c *Conn, pkt *Packet) bool {
	if pkt.Control.IsRST() {
		return true
	}

	c.sendReset(pkt)

	return true
}

// behaviorI1 accepts an in-sequence data fragment.
func behaviorI1(c *Conn, pkt *Packet) bool {
	if !pkt.HasData() {
		return true
	}

	c.snReceived = pkt.Control.SN()
	c.recvQ.Enqueue(&Message{
		data: util.CloneSlice(pkt.Data, 0),
		eor:  pkt.Control.IsEOR(),
	})
	c.sendAckOrData(pkt)

	return true
}
