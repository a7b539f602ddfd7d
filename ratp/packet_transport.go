package ratp

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/arloliu/go-ratp/logger"
)

// Transport is the byte channel a connection runs on, typically a serial
// line or a USB control pipe. See package link for implementations.
//
// Send transmits buf completely; it may block for the time needed to push the
// bytes out but must not drop them. RecvByte never blocks: ok is false when no
// byte is currently available.
type Transport interface {
	Send(buf []byte) error
	RecvByte() (b byte, ok bool, err error)
}

// errNoPacket is returned by recvPacket when the receive window elapsed
// without a complete packet. It never leaves the package.
var errNoPacket = errors.New("ratp: no packet received")

// packetTransport frames packets on top of a Transport.
//
// This type is NOT goroutine-safe, the owning Conn serializes access.
type packetTransport struct {
	tr     Transport
	cfg    *ConnectionConfig
	logger logger.Logger

	// onBadPacket is called for every packet dropped because of a header
	// checksum, payload CRC or truncation error. Used for metrics collection.
	onBadPacket func()
}

func newPacketTransport(tr Transport, cfg *ConnectionConfig, l logger.Logger, onBadPacket func()) *packetTransport {
	return &packetTransport{
		tr:          tr,
		cfg:         cfg,
		logger:      l,
		onBadPacket: onBadPacket,
	}
}

// --- Low-level I/O helpers ---

// readByte polls the transport until a byte arrives or deadline passes.
// The transport is always polled at least once.
func (pt *packetTransport) readByte(deadline time.Time) (byte, error) {
	for {
		b, ok, err := pt.tr.RecvByte()
		if err != nil {
			return 0, err
		}

		if ok {
			return b, nil
		}

		if !pt.cfg.clock().Before(deadline) {
			return 0, errNoPacket
		}

		runtime.Gosched()
	}
}

// readFull reads len(buf) bytes, applying the inter-byte timeout to each byte.
func (pt *packetTransport) readFull(buf []byte) error {
	for i := range buf {
		b, err := pt.readByte(pt.cfg.clock().Add(pt.cfg.byteTimeout))
		if err != nil {
			return err
		}
		buf[i] = b
	}

	return nil
}

// sendPacket packs and transmits pkt, returning the wire bytes.
func (pt *packetTransport) sendPacket(pkt *Packet) ([]byte, error) {
	wire := pkt.Pack()

	if err := pt.tr.Send(wire); err != nil {
		return nil, fmt.Errorf("ratp: transport send: %w", err)
	}

	return wire, nil
}

// resend transmits previously packed wire bytes verbatim.
func (pt *packetTransport) resend(wire []byte) error {
	if err := pt.tr.Send(wire); err != nil {
		return fmt.Errorf("ratp: transport send: %w", err)
	}

	return nil
}

// --- Receive ---

// recvPacket reads one packet, waiting at most wait for it to start.
//
// Bytes are discarded until a synch byte is seen, then the rest of the header
// is read with the inter-byte timeout. Packets with an invalid header
// checksum or truncated header are treated as line noise and hunting for the
// next synch byte continues until the receive window closes.
//
// It returns errNoPacket when nothing valid arrived, an error wrapping
// ErrBadMessage when the payload is truncated or fails its CRC, or the
// transport error.
func (pt *packetTransport) recvPacket(wait time.Duration) (*Packet, error) {
	deadline := pt.cfg.clock().Add(wait)

	for {
		b, err := pt.readByte(deadline)
		if err != nil {
			return nil, err
		}

		if b != Synch {
			continue
		}

		var raw [3]byte
		if err := pt.readFull(raw[:]); err != nil {
			if errors.Is(err, errNoPacket) {
				pt.dropped("truncated header")
				continue
			}

			return nil, err
		}

		hdr := ParseHeader(raw)
		if !hdr.Valid() {
			pt.dropped("header checksum mismatch", "control", raw[0], "length", raw[1], "checksum", raw[2])
			continue
		}

		return pt.recvPayload(hdr)
	}
}

// recvPayload reads the data and CRC that follow a valid header.
func (pt *packetTransport) recvPayload(hdr Header) (*Packet, error) {
	pkt := &Packet{Header: hdr}

	if hdr.HasData() && hdr.Control.IsSO() {
		pkt.Data = []byte{hdr.Length}
		return pkt, nil
	}

	size := hdr.payloadSize()
	if size == 0 {
		return pkt, nil
	}

	wireLen := size
	if hdr.hasCRC() {
		wireLen += crcSize
	}

	buf := make([]byte, wireLen)
	if err := pt.readFull(buf); err != nil {
		if errors.Is(err, errNoPacket) {
			pt.dropped("truncated payload", "length", size)
			return nil, fmt.Errorf("%w: truncated payload", ErrBadMessage)
		}

		return nil, err
	}

	if hdr.hasCRC() {
		if err := verifyPayload(buf[:size], buf[size:]); err != nil {
			pt.dropped("payload crc mismatch", "error", err)
			return nil, err
		}
	}

	pkt.Data = buf[:size]

	return pkt, nil
}

func (pt *packetTransport) dropped(reason string, keysAndValues ...any) {
	pt.logger.Debug("ratp: packet dropped: "+reason, keysAndValues...)

	if pt.onBadPacket != nil {
		pt.onBadPacket()
	}
}
