package ratp

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPacketTransport(t *testing.T) (*packetTransport, *fakeTransport, *int) {
	t.Helper()

	cfg := newTestConfig(t)
	tr := &fakeTransport{}
	bad := 0
	pt := newPacketTransport(tr, cfg, cfg.logger, func() { bad++ })

	return pt, tr, &bad
}

func TestRecvPacket_SkipsNoise(t *testing.T) {
	pt, tr, bad := newTestPacketTransport(t)

	tr.rx = []byte{0x00, 0xFF, 0x55}
	tr.feed(newDataPacket(ControlACK|ControlEOR, []byte("hello")))

	pkt, err := pt.recvPacket(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), pkt.Data)
	assert.True(t, pkt.Control.IsEOR())
	assert.Equal(t, 0, *bad)
}

func TestRecvPacket_BadHeaderThenValid(t *testing.T) {
	pt, tr, bad := newTestPacketTransport(t)

	// a synch byte followed by garbage, then a valid ACK
	tr.rx = []byte{Synch, 0x40, 0x00, 0x00}
	tr.feed(newControlPacket(ControlACK|ControlAN, 0))

	pkt, err := pt.recvPacket(10 * time.Millisecond)
	require.NoError(t, err)
	assert.True(t, pkt.Control.IsACK())
	assert.Equal(t, uint8(1), pkt.Control.AN())
	assert.Equal(t, 1, *bad)
}

func TestRecvPacket_SingleByte(t *testing.T) {
	pt, tr, _ := newTestPacketTransport(t)
	tr.feed(newDataPacket(ControlACK, []byte{0x42}))

	pkt, err := pt.recvPacket(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x42}, pkt.Data)
}

func TestRecvPacket_CRCError(t *testing.T) {
	pt, tr, bad := newTestPacketTransport(t)

	wire := newDataPacket(ControlACK, []byte("payload")).Pack()
	wire[len(wire)-1] ^= 0x01
	tr.rx = wire

	_, err := pt.recvPacket(10 * time.Millisecond)
	require.ErrorIs(t, err, ErrBadMessage)
	assert.Equal(t, 1, *bad)
}

func TestRecvPacket_TruncatedPayload(t *testing.T) {
	pt, tr, bad := newTestPacketTransport(t)

	wire := newDataPacket(ControlACK, []byte("payload")).Pack()
	tr.rx = wire[:HeaderSize+3]

	_, err := pt.recvPacket(10 * time.Millisecond)
	require.ErrorIs(t, err, ErrBadMessage)
	assert.Equal(t, 1, *bad)
}

func TestRecvPacket_NoPacket(t *testing.T) {
	pt, _, _ := newTestPacketTransport(t)

	start := time.Now()
	_, err := pt.recvPacket(10 * time.Millisecond)
	require.ErrorIs(t, err, errNoPacket)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestRecvPacket_TransportError(t *testing.T) {
	pt, tr, _ := newTestPacketTransport(t)
	tr.recvErr = errors.New("line down")

	_, err := pt.recvPacket(10 * time.Millisecond)
	require.EqualError(t, err, "line down")
}

func TestSendPacket(t *testing.T) {
	pt, tr, _ := newTestPacketTransport(t)

	wire, err := pt.sendPacket(newControlPacket(ControlSYN, MaxDataLength))
	require.NoError(t, err)
	require.Len(t, tr.sent, 1)
	assert.Equal(t, wire, tr.sent[0])

	require.NoError(t, pt.resend(wire))
	assert.Equal(t, tr.sent[0], tr.sent[1])

	tr.sendErr = errors.New("write failed")
	_, err = pt.sendPacket(newControlPacket(ControlACK, 0))
	require.ErrorContains(t, err, "write failed")
}
