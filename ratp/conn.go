package ratp

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-ratp/internal/queue"
	"github.com/arloliu/go-ratp/logger"
)

// Sentinel errors for the RATP protocol.
var (
	// ErrConnRefused is reported when the peer resets the connection during the opening handshake.
	ErrConnRefused = errors.New("ratp: connection refused")
	// ErrConnReset is reported when the peer aborts an established connection or violates the protocol.
	ErrConnReset = errors.New("ratp: connection reset")
	// ErrTimeout is reported when the retransmission limit is exceeded or an
	// Establish/Close timeout expires.
	ErrTimeout = errors.New("ratp: timeout")
	// ErrNetDown is returned when an operation needs an established connection.
	ErrNetDown = errors.New("ratp: connection is not established")
	// ErrBadMessage marks a packet with a corrupt payload. It is handled
	// internally and never returned by the public API.
	ErrBadMessage = errors.New("ratp: bad message")
	// ErrWouldBlock is returned by Recv when no complete message is ready.
	ErrWouldBlock = errors.New("ratp: no message ready")
	// ErrBusy is returned on reentrant calls into the protocol engine.
	ErrBusy = errors.New("ratp: engine busy")
)

// Conn is a single RATP connection (the transmission control block).
//
// A Conn is driven cooperatively: nothing happens unless the owner calls
// Poll, or one of Establish and Close which poll internally. A Conn must not
// be used from multiple goroutines concurrently.
type Conn struct {
	cfg    *ConnectionConfig
	logger logger.Logger
	pt     *packetTransport
	rt     *retransmitter

	state      State
	snSent     uint8
	snReceived uint8
	active     bool
	peerMDL    int
	finAcked   bool

	sendQ   queue.Queue[*Message]
	recvQ   queue.Queue[*Message]
	current *Message // the fragment occupying the retransmission slot

	status        error
	timeWaitStart time.Time
	busy          bool

	metrics ConnectionMetrics
}

// Establish creates a connection on tr and runs the opening handshake.
//
// An active connection (see WithActive) sends a SYN and moves to SYN-SENT, a
// passive one (WithPassive) waits in LISTEN. Establish polls until the
// connection is ESTABLISHED, fails, or timeout expires; zero means no
// timeout. On failure the connection is discarded and the error returned.
func Establish(tr Transport, cfg *ConnectionConfig, timeout time.Duration) (*Conn, error) {
	if tr == nil {
		return nil, errors.New("ratp: transport is nil")
	}

	if cfg == nil {
		return nil, errors.New("ratp: connection config is nil")
	}

	c := newConn(tr, cfg)

	c.busy = true
	defer func() { c.busy = false }()

	if c.active {
		c.sendSYN()
	}

	start := c.cfg.clock()

	for {
		switch c.state {
		case EstablishedState:
			return c, nil
		case ClosedState:
			if c.status != nil {
				return nil, c.status
			}

			return nil, ErrConnReset
		}

		if timeout > 0 && c.cfg.clock().Sub(start) >= timeout {
			c.logger.Warn("ratp: establish timeout", "timeout", timeout, "state", c.state)
			c.toClosed(ErrTimeout)

			return nil, ErrTimeout
		}

		_ = c.poll()
	}
}

func newConn(tr Transport, cfg *ConnectionConfig) *Conn {
	c := &Conn{
		cfg:    cfg,
		logger: cfg.logger,
		rt:     newRetransmitter(cfg),
		active: cfg.isActive,
		state:  ListenState,
		sendQ:  queue.NewSliceQueue[*Message](16),
		recvQ:  queue.NewSliceQueue[*Message](16),
	}
	c.pt = newPacketTransport(tr, cfg, cfg.logger, c.metrics.incBadPacketCount)
	c.metrics.setSRTT(c.rt.srtt.Milliseconds())

	return c
}

// Poll runs one step of the protocol engine.
//
// It performs one receive attempt bounded by the configured receive timeout,
// feeds a valid packet to the state machine, services the retransmission and
// TIME-WAIT timers and sends the next queued fragment when the line is idle.
//
// Poll returns the terminal error once the connection has failed, and
// ErrBusy when called from inside the engine (e.g. a completion callback).
func (c *Conn) Poll() error {
	if c.busy {
		return ErrBusy
	}

	c.busy = true
	defer func() { c.busy = false }()

	return c.poll()
}

// Send queues data for transmission as one user message.
//
// data is split into fragments of at most MaxDataLength bytes (or the
// smaller maximum the peer advertised). onComplete, if not nil, is called
// exactly once: with nil when the last fragment has been acknowledged, or
// with the error that closed the connection. An empty message completes
// immediately without any traffic.
func (c *Conn) Send(data []byte, onComplete func(error)) error {
	if c.status != nil {
		return c.status
	}

	if !c.state.IsEstablished() {
		return ErrNetDown
	}

	if len(data) == 0 {
		if onComplete != nil {
			onComplete(nil)
		}

		return nil
	}

	for _, m := range splitMessage(data, c.maxFragment(), onComplete) {
		c.sendQ.Enqueue(m)
	}

	return nil
}

// Recv returns the next complete message without blocking.
//
// It returns ErrWouldBlock when no message is complete yet. Messages
// received before the connection closed are still returned; after that Recv
// returns the terminal error, or ErrNetDown for an orderly close.
func (c *Conn) Recv() ([]byte, error) {
	if data, ok := assembleMessage(c.recvQ); ok {
		c.metrics.incMsgRecvCount()
		return data, nil
	}

	if c.status != nil {
		return nil, c.status
	}

	if c.state.IsClosed() {
		return nil, ErrNetDown
	}

	return nil, ErrWouldBlock
}

// Close closes the connection.
//
// If the connection is established, Close waits for queued messages to be
// acknowledged, then runs the FIN handshake, polling until the connection is
// CLOSED or timeout expires (zero selects the configured close timeout).
// All messages still pending afterwards are completed with ErrConnReset.
func (c *Conn) Close(timeout time.Duration) error {
	if c.busy {
		return ErrBusy
	}

	c.busy = true
	defer func() { c.busy = false }()

	if timeout <= 0 {
		timeout = c.cfg.closeTimeout
	}

	deadline := c.cfg.clock().Add(timeout)
	expired := func() bool { return !c.cfg.clock().Before(deadline) }

	var closeErr error

	if c.state.IsEstablished() {
		for c.state.IsEstablished() && (c.current != nil || !c.sendQ.IsEmpty()) && !expired() {
			_ = c.poll()
		}

		if c.state.IsEstablished() && !expired() {
			c.sendFIN()
		}
	}

	switch c.state {
	case FinWaitState, LastAckState, ClosingState, TimeWaitState, EstablishedState:
		for !c.state.IsClosed() && !expired() {
			_ = c.poll()
		}

		if !c.state.IsClosed() {
			c.logger.Warn("ratp: close timeout", "timeout", timeout, "state", c.state)
			c.toClosed(ErrTimeout)
			closeErr = ErrTimeout
		}
	default:
		c.toClosed(nil)
	}

	c.releaseMessages(ErrConnReset)
	c.recvQ.Reset()

	return closeErr
}

// IsClosed reports whether the connection reached the CLOSED state.
func (c *Conn) IsClosed() bool {
	return c.state.IsClosed()
}

// IsBusy reports whether the engine is currently processing, i.e. the caller
// is running inside Poll, Establish or Close (completion callbacks, logger hooks).
func (c *Conn) IsBusy() bool {
	return c.busy
}

// State returns the current connection state.
func (c *Conn) State() State {
	return c.state
}

// Err returns the error that closed the connection, nil while it is open or
// after an orderly close.
func (c *Conn) Err() error {
	return c.status
}

// GetLogger returns the logger associated with the connection.
func (c *Conn) GetLogger() logger.Logger {
	return c.logger
}

// GetMetrics returns the metrics associated with the connection.
func (c *Conn) GetMetrics() *ConnectionMetrics {
	return &c.metrics
}

// --- Protocol loop ---

func (c *Conn) poll() error {
	if c.state.IsClosed() && c.status != nil {
		return c.status
	}

	pkt, err := c.pt.recvPacket(c.cfg.recvTimeout)

	switch {
	case err == nil:
		c.metrics.incPacketRecvCount()
		c.logger.Debug("ratp: recv", "state", c.state, "packet", pkt)
		c.process(pkt)

	case errors.Is(err, errNoPacket), errors.Is(err, ErrBadMessage):
		// Nothing usable arrived; the peer retransmits.

	default:
		c.logger.Error("ratp: transport receive failed", "error", err)
		c.fail(fmt.Errorf("ratp: transport receive: %w", err))
	}

	c.checkTimers()
	c.dispatch()

	if c.state.IsClosed() {
		return c.status
	}

	return nil
}

// checkTimers services the TIME-WAIT and retransmission timers.
func (c *Conn) checkTimers() {
	now := c.cfg.clock()

	if c.state == TimeWaitState && now.Sub(c.timeWaitStart) >= c.rt.timeWait() {
		c.logger.Debug("ratp: time-wait elapsed")
		c.toClosed(nil)

		return
	}

	if !c.rt.due(now) {
		return
	}

	if c.rt.exhausted() {
		c.logger.Warn("ratp: retransmission limit exceeded",
			"retries", c.rt.retries,
			"state", c.state)
		c.fail(ErrTimeout)

		return
	}

	c.rt.retransmitted(now)
	c.metrics.incRetransmitCount()
	c.logger.Debug("ratp: retransmit",
		"retries", c.rt.retries,
		"maxRetries", c.rt.maxRetries,
		"rto", c.rt.rto)

	// a stale AN could acknowledge a segment the peer has not sent yet
	refreshAN(c.rt.wire, nextSeq(c.snReceived))

	if err := c.pt.resend(c.rt.wire); err != nil {
		c.fail(err)
	}
}

// dispatch sends the next queued fragment when nothing is outstanding.
func (c *Conn) dispatch() {
	if !c.state.IsEstablished() || c.rt.pending() || c.current != nil || c.sendQ.IsEmpty() {
		return
	}

	c.sendNextMessage()
}

// --- Transmission helpers ---

// transmit sends a packet that needs an acknowledgment and arms the
// retransmission timer with it.
func (c *Conn) transmit(pkt *Packet) bool {
	wire, err := c.pt.sendPacket(pkt)
	if err != nil {
		c.fail(err)
		return false
	}

	c.rt.arm(wire, c.cfg.clock())
	c.metrics.incPacketSendCount()
	c.logger.Debug("ratp: send", "state", c.state, "packet", pkt)

	return true
}

// sendOnly sends a packet that is never retransmitted (ACK, RST).
func (c *Conn) sendOnly(pkt *Packet) bool {
	if _, err := c.pt.sendPacket(pkt); err != nil {
		c.fail(err)
		return false
	}

	c.metrics.incPacketSendCount()
	c.logger.Debug("ratp: send", "state", c.state, "packet", pkt)

	return true
}

// sendSYN opens actively: <SN=0><CTL=SYN><LENGTH=MDL>.
func (c *Conn) sendSYN() {
	c.snSent = 0
	if c.transmit(newControlPacket(withSN(ControlSYN, c.snSent), MaxDataLength)) {
		c.setState(SynSentState)
	}
}

// sendSYNACK answers a SYN: <SN=own><AN=received SN+1><CTL=SYN,ACK><LENGTH=MDL>.
func (c *Conn) sendSYNACK() bool {
	ctl := withAN(withSN(ControlSYN|ControlACK, c.snSent), nextSeq(c.snReceived))

	return c.transmit(newControlPacket(ctl, MaxDataLength))
}

// sendFIN starts an active close: <SN=next><AN=expected><CTL=FIN,ACK>.
func (c *Conn) sendFIN() {
	sn := nextSeq(c.snSent)
	ctl := withAN(withSN(ControlFIN|ControlACK, sn), nextSeq(c.snReceived))

	if c.transmit(newControlPacket(ctl, 0)) {
		c.snSent = sn
		c.finAcked = false
		c.setState(FinWaitState)
	}
}

// sendNextMessage sends the head of the outbound queue as a data packet
// acknowledging everything received so far.
func (c *Conn) sendNextMessage() {
	msg, ok := c.sendQ.Dequeue()
	if !ok {
		return
	}

	sn := nextSeq(c.snSent)
	ctl := ControlACK
	if msg.eor {
		ctl |= ControlEOR
	}
	ctl = withAN(withSN(ctl, sn), nextSeq(c.snReceived))

	c.current = msg
	if c.transmit(newDataPacket(ctl, msg.data)) {
		c.snSent = sn
	}
}

// sendAck acknowledges pkt: <SN=received AN><AN=received SN+1><CTL=ACK>.
func (c *Conn) sendAck(pkt *Packet) {
	ctl := withAN(withSN(ControlACK, pkt.Control.AN()), nextSeq(pkt.Control.SN()))
	c.sendOnly(newControlPacket(ctl, 0))
}

// sendAckOrData acknowledges pkt, piggy-backing the acknowledgment on the
// next queued fragment when the line is free.
func (c *Conn) sendAckOrData(pkt *Packet) {
	if c.state.IsEstablished() && !c.rt.pending() && c.current == nil && !c.sendQ.IsEmpty() {
		c.sendNextMessage()
		return
	}

	c.sendAck(pkt)
}

// sendReset answers pkt with a reset.
//
// If pkt carried an acknowledgment the reset is <SN=received AN><CTL=RST>,
// otherwise <SN=0><AN=received SN+1><CTL=RST,ACK>.
func (c *Conn) sendReset(pkt *Packet) {
	var ctl Control
	if pkt.Control.IsACK() {
		ctl = withSN(ControlRST, pkt.Control.AN())
	} else {
		ctl = withAN(ControlRST|ControlACK, nextSeq(pkt.Control.SN()))
	}

	c.sendOnly(newControlPacket(ctl, 0))
}

// --- State helpers ---

func (c *Conn) setState(s State) {
	if c.state == s {
		return
	}

	c.logger.Debug("ratp: state change", "from", c.state, "to", s)

	prev := c.state
	c.state = s

	switch {
	case s == EstablishedState:
		c.logger.Info("ratp: connection established", "active", c.active)
	case s == ClosedState && prev != ClosedState:
		c.logger.Info("ratp: connection closed", "error", c.status)
	}
}

// snExpected reports whether pkt carries the next sequence number.
func (c *Conn) snExpected(pkt *Packet) bool {
	return pkt.Control.SN() != c.snReceived
}

// anExpected reports whether pkt acknowledges the last segment we sent.
func (c *Conn) anExpected(pkt *Packet) bool {
	return pkt.Control.AN() == nextSeq(c.snSent)
}

// ackOutstanding completes the segment in the retransmission slot.
func (c *Conn) ackOutstanding() {
	rtt, ok := c.rt.ack(c.cfg.clock())
	if !ok {
		return
	}

	c.metrics.setSRTT(c.rt.srtt.Milliseconds())
	c.logger.Debug("ratp: segment acknowledged", "rtt", rtt, "srtt", c.rt.srtt, "rto", c.rt.rto)

	if c.current != nil {
		msg := c.current
		c.current = nil

		if msg.eor {
			c.metrics.incMsgSendCount()
		}
		msg.done(nil)
	}
}

// maxFragment returns the fragment size for outbound messages.
func (c *Conn) maxFragment() int {
	if c.peerMDL > 0 && c.peerMDL < MaxDataLength {
		return c.peerMDL
	}

	return MaxDataLength
}

// startTimeWait enters TIME-WAIT and starts its timer.
func (c *Conn) startTimeWait() {
	c.timeWaitStart = c.cfg.clock()
	c.setState(TimeWaitState)
}

// resetToListen returns a passive connection to LISTEN after the peer
// refused the half-open connection.
func (c *Conn) resetToListen() {
	c.rt.clear()
	c.snSent = 0
	c.snReceived = 0
	c.peerMDL = 0
	c.finAcked = false
	c.setState(ListenState)
}

// fail closes the connection with err.
func (c *Conn) fail(err error) {
	if c.state.IsClosed() {
		return
	}

	c.logger.Warn("ratp: connection failed", "state", c.state, "error", err)
	c.toClosed(err)
}

// toClosed moves to CLOSED exactly once, recording err as the terminal status
// and completing every pending outbound fragment.
func (c *Conn) toClosed(err error) {
	if c.state.IsClosed() {
		return
	}

	if err != nil && c.status == nil {
		c.status = err
	}

	c.rt.clear()
	c.setState(ClosedState)

	if err == nil {
		err = ErrConnReset
	}
	c.releaseMessages(err)
}

// releaseMessages completes the outstanding and queued fragments with err.
func (c *Conn) releaseMessages(err error) {
	if c.current != nil {
		msg := c.current
		c.current = nil
		msg.done(err)
	}

	failMessages(c.sendQ, err)
}
