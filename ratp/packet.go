package ratp

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/sigurn/crc16"
)

// Synch is the leader byte that starts every RATP packet on the wire.
const Synch byte = 0x01

// MaxDataLength is the largest payload a single packet can carry.
const MaxDataLength = 255

// HeaderSize is the size of a packet header on the wire, synch byte included.
const HeaderSize = 4

// crcSize is the size of the trailing payload CRC in bytes.
const crcSize = 2

// MaxPacketSize is the largest possible packet on the wire.
const MaxPacketSize = HeaderSize + MaxDataLength + crcSize

// Control is the control byte of a RATP header (RFC 916 §3.2).
type Control uint8

// Control flags, bit 0 first.
const (
	ControlSO  Control = 1 << iota // single data byte carried in the length field
	ControlEOR                     // end of record
	ControlAN                      // acknowledgment number
	ControlSN                      // sequence number
	ControlRST                     // reset
	ControlFIN                     // finish
	ControlACK                     // acknowledgment number is valid
	ControlSYN                     // synchronize
)

// IsSO reports whether the single data byte travels in the length field.
func (c Control) IsSO() bool { return c&ControlSO != 0 }

// IsEOR reports whether the packet ends a user message.
func (c Control) IsEOR() bool { return c&ControlEOR != 0 }

// IsRST reports whether the reset flag is set.
func (c Control) IsRST() bool { return c&ControlRST != 0 }

// IsFIN reports whether the finish flag is set.
func (c Control) IsFIN() bool { return c&ControlFIN != 0 }

// IsACK reports whether the acknowledgment number is valid.
func (c Control) IsACK() bool { return c&ControlACK != 0 }

// IsSYN reports whether the synchronize flag is set.
func (c Control) IsSYN() bool { return c&ControlSYN != 0 }

// SN returns the single-bit sequence number.
func (c Control) SN() uint8 {
	if c&ControlSN != 0 {
		return 1
	}

	return 0
}

// AN returns the single-bit acknowledgment number.
func (c Control) AN() uint8 {
	if c&ControlAN != 0 {
		return 1
	}

	return 0
}

// String returns the set flags, e.g. "SYN|ACK sn=0 an=1".
func (c Control) String() string {
	names := [...]string{"SO", "EOR", "", "", "RST", "FIN", "ACK", "SYN"}

	var flags []string
	for i := len(names) - 1; i >= 0; i-- {
		if names[i] != "" && c&(1<<i) != 0 {
			flags = append(flags, names[i])
		}
	}

	if len(flags) == 0 {
		flags = append(flags, "-")
	}

	return fmt.Sprintf("%s sn=%d an=%d", strings.Join(flags, "|"), c.SN(), c.AN())
}

// withSN returns the control byte with the SN bit set to sn.
func withSN(c Control, sn uint8) Control {
	if sn&1 != 0 {
		return c | ControlSN
	}

	return c &^ ControlSN
}

// withAN returns the control byte with the AN bit set to an.
func withAN(c Control, an uint8) Control {
	if an&1 != 0 {
		return c | ControlAN
	}

	return c &^ ControlAN
}

// nextSeq returns the next single-bit sequence number.
func nextSeq(n uint8) uint8 {
	return (n + 1) & 1
}

// refreshAN rewrites the AN bit of packed wire bytes and recomputes the
// header checksum. SN, flags and payload are left untouched. Packets without
// ACK carry no acknowledgment and are not changed.
func refreshAN(wire []byte, an uint8) {
	if len(wire) < HeaderSize || !Control(wire[1]).IsACK() {
		return
	}

	hdr := MakeHeader(withAN(Control(wire[1]), an), wire[2])
	wire[1] = byte(hdr.Control)
	wire[3] = hdr.Checksum
}

// Header is a decoded RATP packet header. The synch byte is implied.
type Header struct {
	Control  Control
	Length   byte
	Checksum byte
}

// MakeHeader builds a header with a valid checksum.
func MakeHeader(ctl Control, length byte) Header {
	return Header{
		Control:  ctl,
		Length:   length,
		Checksum: (byte(ctl) + length) ^ 0xFF,
	}
}

// ParseHeader decodes the three header bytes following the synch byte.
// It does not validate the checksum; see [Header.Valid].
func ParseHeader(b [3]byte) Header {
	return Header{Control: Control(b[0]), Length: b[1], Checksum: b[2]}
}

// Valid reports whether the header checksum is correct.
func (h Header) Valid() bool {
	return byte(h.Control)+h.Length+h.Checksum == 0xFF
}

// HasData reports whether the packet carries user data.
func (h Header) HasData() bool {
	if h.Control.IsSO() {
		return true
	}

	if h.Control&(ControlSYN|ControlRST|ControlFIN) != 0 {
		return false
	}

	return h.Length > 0
}

// payloadSize returns the number of payload bytes following the header.
func (h Header) payloadSize() int {
	if !h.HasData() || h.Control.IsSO() {
		return 0
	}

	return int(h.Length)
}

// hasCRC reports whether a CRC follows the payload.
func (h Header) hasCRC() bool {
	return h.payloadSize() > 1
}

// Pack returns the 4 wire bytes of the header.
func (h Header) Pack() [HeaderSize]byte {
	return [HeaderSize]byte{Synch, byte(h.Control), h.Length, h.Checksum}
}

// Packet is a header plus its user data.
//
// For SO packets Data holds the single byte encoded in the length field.
type Packet struct {
	Header
	Data []byte
}

// newControlPacket builds a packet that carries no user data.
// length is the maximum data length advertised by SYN packets and zero otherwise.
func newControlPacket(ctl Control, length byte) *Packet {
	return &Packet{Header: MakeHeader(ctl&^(ControlSO|ControlEOR), length)}
}

// newDataPacket builds a data packet. One-byte payloads use the SO encoding.
func newDataPacket(ctl Control, data []byte) *Packet {
	if len(data) == 1 {
		return &Packet{Header: MakeHeader(ctl|ControlSO, data[0]), Data: data}
	}

	return &Packet{Header: MakeHeader(ctl&^ControlSO, byte(len(data))), Data: data}
}

// Pack serializes the packet to its wire format:
//
//	[Synch][Control][Length][Checksum][Data(Length)][CRC_Hi][CRC_Lo]
//
// Data and CRC are present only for non-SO data packets, the CRC only when
// more than one data byte is carried.
func (p *Packet) Pack() []byte {
	hdr := p.Header.Pack()
	size := p.payloadSize()

	wireLen := HeaderSize + size
	if p.hasCRC() {
		wireLen += crcSize
	}

	buf := make([]byte, wireLen)
	copy(buf, hdr[:])

	if size > 0 {
		copy(buf[HeaderSize:], p.Data[:size])
	}

	if p.hasCRC() {
		binary.BigEndian.PutUint16(buf[HeaderSize+size:], Checksum(p.Data[:size]))
	}

	return buf
}

// String implements fmt.Stringer for logging.
func (p *Packet) String() string {
	return fmt.Sprintf("[%s len=%d]", p.Control, p.Length)
}

var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// Checksum computes the payload CRC-16 (CCITT polynomial 0x1021, initial value 0).
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// verifyPayload checks the wire CRC of a payload.
func verifyPayload(data []byte, wire []byte) error {
	wireCRC := binary.BigEndian.Uint16(wire)
	calcCRC := Checksum(data)

	if wireCRC != calcCRC {
		return fmt.Errorf("%w: wire=0x%04X, computed=0x%04X", ErrBadMessage, wireCRC, calcCRC)
	}

	return nil
}
