// Package link provides byte transports for RATP connections.
//
// Every transport implements the two primitives the protocol engine needs:
//
//	Send(buf []byte) error
//	RecvByte() (b byte, ok bool, err error)
//
// RecvByte never blocks for longer than a short poll interval; ok is false
// when no byte arrived in that time.
//
// Three transports are available:
//
//   - [Pipe]: a pair of connected in-memory ends, with an optional [Filter]
//     to drop, duplicate or corrupt packets for testing
//   - [Conn]: any net.Conn such as a TCP socket or a USB gadget bridge,
//     optionally paced to a serial baud rate
//   - [Serial]: a local serial port
package link
