// Package ratp provides an implementation of the Reliable Asynchronous
// Transfer Protocol (RFC 916) for point-to-point links such as serial lines
// and USB control pipes.
//
// RATP carries user messages of any length between exactly two peers. A
// message is split into fragments of at most 255 bytes, each fragment is sent
// in its own packet and must be acknowledged before the next one goes out.
//
// # Packet Format
//
// Every packet starts with a four byte header:
//
//	[Synch 0x01][Control][Length][Checksum]
//
// The checksum makes Control+Length+Checksum equal 0xFF modulo 256. Data
// packets are followed by Length data bytes and, when more than one byte is
// carried, a big-endian CRC-16 (CCITT polynomial, initial value 0). A single
// data byte travels in the Length field itself (the SO flag).
//
// The control byte holds the flags:
//
//   - SYN: open a connection, Length advertises the maximum data length
//   - ACK: the AN bit is valid
//   - FIN: close the connection
//   - RST: abort the connection
//   - SN / AN: single-bit sequence and acknowledgment numbers
//   - EOR: the fragment ends a user message
//   - SO: single data byte in the Length field
//
// # Connection
//
// A [Conn] follows the RFC 916 state machine:
//
//	LISTEN -> SYN-RECEIVED -> ESTABLISHED   (passive open)
//	SYN-SENT -> ESTABLISHED                 (active open)
//	ESTABLISHED -> FIN-WAIT -> TIME-WAIT -> CLOSED
//	ESTABLISHED -> LAST-ACK -> CLOSED
//	FIN-WAIT -> CLOSING -> TIME-WAIT        (simultaneous close)
//
// The connection is single-threaded and cooperative. It owns no goroutines:
// progress is made only inside [Conn.Poll], [Establish] and [Conn.Close].
// Callers typically run Poll in a loop:
//
//	cfg, _ := ratp.NewConnectionConfig(ratp.WithPassive())
//	conn, err := ratp.Establish(transport, cfg, 5*time.Second)
//	if err != nil {
//		return err
//	}
//	defer conn.Close(0)
//
//	for {
//		if err := conn.Poll(); err != nil {
//			return err
//		}
//		if msg, err := conn.Recv(); err == nil {
//			_ = conn.Send(msg, nil) // echo
//		}
//	}
//
// # Retransmission
//
// The outstanding SYN, FIN or data segment is retransmitted when its
// retransmission timeout elapses. Only the AN bit is refreshed to the current
// receive state; SN, flags and payload are sent unchanged. The timeout follows the smoothed round
// trip time (SRTT = 0.8*SRTT + 0.2*RTT, RTO = max(200ms, 1.5*SRTT)). After
// the configured number of retransmissions the connection fails with
// [ErrTimeout].
//
// Transports are provided by package link.
package ratp
