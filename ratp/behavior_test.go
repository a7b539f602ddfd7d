package ratp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_String(t *testing.T) {
	assert.Equal(t, "LISTEN", ListenState.String())
	assert.Equal(t, "TIME-WAIT", TimeWaitState.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
	assert.True(t, EstablishedState.IsEstablished())
	assert.True(t, ClosedState.IsClosed())
}

// --- LISTEN ---

func TestListen_IgnoresRST(t *testing.T) {
	c, tr := newTestConn(t, ListenState)

	c.process(makeControl(ControlRST, 0, 0))

	assert.Empty(t, tr.sent)
	assert.Equal(t, ListenState, c.State())
}

func TestListen_ResetsACK(t *testing.T) {
	c, tr := newTestConn(t, ListenState)

	c.process(makeControl(ControlACK, 0, 1))

	hdr := tr.lastSent(t)
	assert.Equal(t, withSN(ControlRST, 1), hdr.Control)
	assert.Equal(t, ListenState, c.State())
}

func TestListen_SYN(t *testing.T) {
	c, tr := newTestConn(t, ListenState)

	c.process(newControlPacket(withSN(ControlSYN, 0), 100))

	hdr := tr.lastSent(t)
	assert.True(t, hdr.Control.IsSYN())
	assert.True(t, hdr.Control.IsACK())
	assert.Equal(t, uint8(1), hdr.Control.AN())
	assert.Equal(t, byte(MaxDataLength), hdr.Length)

	assert.Equal(t, SynReceivedState, c.State())
	assert.Equal(t, 100, c.peerMDL)
	assert.Equal(t, 100, c.maxFragment())
	assert.True(t, c.rt.pending())
}

// --- SYN-SENT ---

func TestSynSent_Refused(t *testing.T) {
	c, _ := newTestConn(t, ListenState)
	c.sendSYN()
	require.Equal(t, SynSentState, c.State())

	c.process(makeControl(ControlRST|ControlACK, 0, 1))

	assert.True(t, c.IsClosed())
	require.ErrorIs(t, c.Err(), ErrConnRefused)
	assert.False(t, c.rt.pending())
}

func TestSynSent_BadAN(t *testing.T) {
	c, tr := newTestConn(t, ListenState)
	c.sendSYN()

	c.process(makeControl(ControlSYN|ControlACK, 0, 0))

	hdr := tr.lastSent(t)
	assert.Equal(t, ControlRST, hdr.Control)
	assert.Equal(t, SynSentState, c.State())
}

func TestSynSent_SYNACK(t *testing.T) {
	c, tr := newTestConn(t, ListenState)
	c.sendSYN()

	c.process(newControlPacket(withAN(ControlSYN|ControlACK, 1), MaxDataLength))

	assert.Equal(t, EstablishedState, c.State())
	assert.False(t, c.rt.pending())

	hdr := tr.lastSent(t)
	assert.Equal(t, withAN(withSN(ControlACK, 1), 1), hdr.Control)
}

func TestSynSent_CrossingSYN(t *testing.T) {
	c, tr := newTestConn(t, ListenState)
	c.sendSYN()

	c.process(newControlPacket(ControlSYN, MaxDataLength))

	assert.Equal(t, SynReceivedState, c.State())
	hdr := tr.lastSent(t)
	assert.Equal(t, withAN(ControlSYN|ControlACK, 1), hdr.Control)
}

// --- SYN-RECEIVED ---

func TestSynReceived_ResetPassiveReturnsToListen(t *testing.T) {
	c, _ := newTestConn(t, ListenState, WithPassive())
	c.process(newControlPacket(ControlSYN, MaxDataLength))
	require.Equal(t, SynReceivedState, c.State())

	c.process(makeControl(ControlRST, 1, 0))

	assert.Equal(t, ListenState, c.State())
	assert.False(t, c.rt.pending())
	require.NoError(t, c.Err())
}

func TestSynReceived_ACKWithData(t *testing.T) {
	c, _ := newTestConn(t, ListenState, WithPassive())
	c.process(newControlPacket(ControlSYN, MaxDataLength))

	c.process(makeData(1, 1, true, []byte("hi")))

	assert.Equal(t, EstablishedState, c.State())
	data, err := c.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), data)
}

// --- ESTABLISHED ---

func TestEstablished_SYNResets(t *testing.T) {
	c, tr := newTestConn(t, EstablishedState)

	c.process(newControlPacket(withSN(ControlSYN, 1), MaxDataLength))

	hdr := tr.lastSent(t)
	assert.True(t, hdr.Control.IsRST())
	assert.True(t, c.IsClosed())
	require.ErrorIs(t, c.Err(), ErrConnReset)
}

func TestEstablished_RSTFailsPending(t *testing.T) {
	c, _ := newTestConn(t, EstablishedState)

	var got error
	require.NoError(t, c.Send([]byte("pending"), func(err error) { got = err }))

	c.process(makeControl(ControlRST, 1, 0))

	assert.True(t, c.IsClosed())
	require.ErrorIs(t, got, ErrConnReset)
	require.ErrorIs(t, c.Send([]byte("x"), nil), ErrConnReset)
}

func TestEstablished_Data(t *testing.T) {
	c, tr := newTestConn(t, EstablishedState)

	c.process(makeData(1, 1, false, []byte("ab")))
	hdr := tr.lastSent(t)
	assert.Equal(t, withAN(withSN(ControlACK, 1), 0), hdr.Control)

	_, err := c.Recv()
	require.ErrorIs(t, err, ErrWouldBlock)

	c.process(makeData(0, 1, true, []byte("c")))
	hdr = tr.lastSent(t)
	assert.Equal(t, withAN(withSN(ControlACK, 1), 1), hdr.Control)

	data, err := c.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
	assert.Equal(t, uint64(1), c.GetMetrics().MsgRecvCount.Load())
}

func TestEstablished_DuplicateData(t *testing.T) {
	c, tr := newTestConn(t, EstablishedState)

	pkt := makeData(1, 1, true, []byte("once"))
	c.process(pkt)
	c.process(pkt)

	require.Len(t, tr.sent, 2)
	assert.Equal(t, tr.sent[0], tr.sent[1])

	assert.Len(t, recvAll(c), 1)
}

func TestEstablished_AckCompletesSend(t *testing.T) {
	c, tr := newTestConn(t, EstablishedState)

	var got []error
	require.NoError(t, c.Send([]byte("data"), func(err error) { got = append(got, err) }))
	c.dispatch()

	hdr := tr.lastSent(t)
	assert.Equal(t, uint8(1), hdr.Control.SN())
	assert.True(t, hdr.Control.IsEOR())
	assert.True(t, c.rt.pending())

	// wrong AN is ignored
	c.process(makeControl(ControlACK, 1, 1))
	assert.Empty(t, got)

	c.process(makeControl(ControlACK, 1, 0))
	require.Len(t, got, 1)
	require.NoError(t, got[0])
	assert.False(t, c.rt.pending())
	assert.Equal(t, uint64(1), c.GetMetrics().MsgSendCount.Load())
}

func TestEstablished_FIN(t *testing.T) {
	c, tr := newTestConn(t, EstablishedState)

	c.process(makeControl(ControlFIN|ControlACK, 1, 1))

	assert.Equal(t, LastAckState, c.State())
	hdr := tr.lastSent(t)
	assert.Equal(t, withAN(withSN(ControlFIN|ControlACK, 1), 0), hdr.Control)

	c.process(makeControl(ControlACK, 0, 0))
	assert.True(t, c.IsClosed())
	require.NoError(t, c.Err())

	_, err := c.Recv()
	require.ErrorIs(t, err, ErrNetDown)
}

// --- closing states ---

func TestFinWait_FINBeforeACK(t *testing.T) {
	c, tr := newTestConn(t, EstablishedState)
	c.sendFIN()
	require.Equal(t, FinWaitState, c.State())

	// crossing FIN that does not acknowledge ours
	c.process(makeControl(ControlFIN|ControlACK, 1, 1))
	assert.Equal(t, ClosingState, c.State())
	hdr := tr.lastSent(t)
	assert.Equal(t, withAN(withSN(ControlACK, 1), 0), hdr.Control)

	// the peer's ACK for our FIN reuses its FIN sequence number
	c.process(makeControl(ControlACK, 1, 0))
	assert.Equal(t, TimeWaitState, c.State())
}

func TestTimeWait_ReacksFIN(t *testing.T) {
	c, tr := newTestConn(t, TimeWaitState)
	sent := len(tr.sent)

	c.process(makeControl(ControlFIN|ControlACK, 1, 0))

	assert.Len(t, tr.sent, sent+1)
	assert.Equal(t, TimeWaitState, c.State())

	c.process(makeControl(ControlRST, 0, 0))
	assert.True(t, c.IsClosed())
	require.NoError(t, c.Err())
}

// --- CLOSED ---

func TestClosed_RepliesRST(t *testing.T) {
	c, tr := newTestConn(t, ClosedState)

	c.process(makeData(1, 0, true, []byte("late")))
	hdr := tr.lastSent(t)
	assert.Equal(t, ControlRST, hdr.Control)

	c.process(makeControl(ControlSYN, 1, 0))
	hdr = tr.lastSent(t)
	assert.Equal(t, ControlRST|ControlACK, hdr.Control)
	assert.Equal(t, uint8(0), hdr.Control.AN())

	n := len(tr.sent)
	c.process(makeControl(ControlRST, 0, 0))
	assert.Len(t, tr.sent, n)
}
