package ratp

import (
	"sync/atomic"
)

// ConnectionMetrics contains atomic metrics for a RATP connection.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ConnectionMetrics struct {
	// PacketSendCount indicates the number of packets sent, retransmissions excluded.
	PacketSendCount atomic.Uint64
	// PacketRecvCount indicates the number of valid packets received.
	PacketRecvCount atomic.Uint64
	// BadPacketCount indicates the number of packets dropped because of
	// checksum, CRC or truncation errors.
	BadPacketCount atomic.Uint64
	// RetransmitCount indicates the total number of retransmissions.
	RetransmitCount atomic.Uint64

	// MsgSendCount indicates the number of user messages fully acknowledged.
	MsgSendCount atomic.Uint64
	// MsgRecvCount indicates the number of user messages delivered by Recv.
	MsgRecvCount atomic.Uint64

	// SRTTMillis is the current smoothed round trip time in milliseconds.
	SRTTMillis atomic.Int64
}

func (m *ConnectionMetrics) incPacketSendCount() {
	m.PacketSendCount.Add(1)
}

func (m *ConnectionMetrics) incPacketRecvCount() {
	m.PacketRecvCount.Add(1)
}

func (m *ConnectionMetrics) incBadPacketCount() {
	m.BadPacketCount.Add(1)
}

func (m *ConnectionMetrics) incRetransmitCount() {
	m.RetransmitCount.Add(1)
}

func (m *ConnectionMetrics) incMsgSendCount() {
	m.MsgSendCount.Add(1)
}

func (m *ConnectionMetrics) incMsgRecvCount() {
	m.MsgRecvCount.Add(1)
}

func (m *ConnectionMetrics) setSRTT(ms int64) {
	m.SRTTMillis.Store(ms)
}
