package link

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-ratp/logger"
)

// Filter rewrites one packet written to a Pipe. It returns the byte
// sequences to deliver: nil drops the packet, two entries duplicate it.
//
// A Filter installed with WithFilter is shared by both ends and must be
// safe for concurrent use.
type Filter func(pkt []byte) [][]byte

// PipeEnd is one end of an in-memory byte pipe.
//
// Each end may be used by a different goroutine; a single end must not be
// used concurrently.
type PipeEnd struct {
	name   string
	in     *xsync.MPMCQueueOf[byte]
	out    *xsync.MPMCQueueOf[byte]
	filter Filter
	logger logger.Logger
	closed *atomic.Bool

	sent    *xsync.Counter
	recv    *xsync.Counter
	overrun *xsync.Counter
}

// Pipe returns two connected ends. Bytes sent on one end are received on the other.
func Pipe(opts ...Option) (*PipeEnd, *PipeEnd, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, nil, err
	}

	ab := xsync.NewMPMCQueueOf[byte](o.capacity)
	ba := xsync.NewMPMCQueueOf[byte](o.capacity)
	closed := &atomic.Bool{}

	newEnd := func(name string, in, out *xsync.MPMCQueueOf[byte]) *PipeEnd {
		return &PipeEnd{
			name:    name,
			in:      in,
			out:     out,
			filter:  o.filter,
			logger:  o.logger.With("pipe", name),
			closed:  closed,
			sent:    xsync.NewCounter(),
			recv:    xsync.NewCounter(),
			overrun: xsync.NewCounter(),
		}
	}

	return newEnd("a", ba, ab), newEnd("b", ab, ba), nil
}

// Send writes buf to the peer end, passing it through the filter first.
func (p *PipeEnd) Send(buf []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}

	chunks := [][]byte{buf}
	if p.filter != nil {
		chunks = p.filter(buf)
	}

	for _, chunk := range chunks {
		for _, b := range chunk {
			if !p.out.TryEnqueue(b) {
				p.overrun.Inc()
				continue
			}
			p.sent.Inc()
		}
	}

	return nil
}

// RecvByte returns the next byte from the peer end without blocking.
func (p *PipeEnd) RecvByte() (byte, bool, error) {
	if b, ok := p.in.TryDequeue(); ok {
		p.recv.Inc()
		return b, true, nil
	}

	if p.closed.Load() {
		return 0, false, ErrClosed
	}

	return 0, false, nil
}

// Close closes both ends of the pipe. Bytes already queued can still be read.
func (p *PipeEnd) Close() error {
	if p.closed.CompareAndSwap(false, true) {
		p.logger.Debug("link: pipe closed",
			"sent", p.sent.Value(),
			"recv", p.recv.Value(),
			"overrun", p.overrun.Value())
	}

	return nil
}

// BytesSent returns the number of bytes delivered to the peer's buffer.
func (p *PipeEnd) BytesSent() int64 { return p.sent.Value() }

// BytesReceived returns the number of bytes read by RecvByte.
func (p *PipeEnd) BytesReceived() int64 { return p.recv.Value() }

// Overruns returns the number of bytes lost because the peer's buffer was full.
func (p *PipeEnd) Overruns() int64 { return p.overrun.Value() }

// DropEvery returns a Filter that drops every n-th packet.
func DropEvery(n uint64) Filter {
	var count atomic.Uint64

	return func(pkt []byte) [][]byte {
		if n > 0 && count.Add(1)%n == 0 {
			return nil
		}

		return [][]byte{pkt}
	}
}

// DuplicateEvery returns a Filter that sends every n-th packet twice.
func DuplicateEvery(n uint64) Filter {
	var count atomic.Uint64

	return func(pkt []byte) [][]byte {
		if n > 0 && count.Add(1)%n == 0 {
			return [][]byte{pkt, pkt}
		}

		return [][]byte{pkt}
	}
}

// CorruptEvery returns a Filter that flips one bit in the last byte of every
// n-th packet.
func CorruptEvery(n uint64) Filter {
	var count atomic.Uint64

	return func(pkt []byte) [][]byte {
		if n == 0 || count.Add(1)%n != 0 || len(pkt) == 0 {
			return [][]byte{pkt}
		}

		bad := make([]byte, len(pkt))
		copy(bad, pkt)
		bad[len(bad)-1] ^= 0x10

		return [][]byte{bad}
	}
}

// DropFirstCopy returns a Filter that drops the first transmission of every
// packet and passes it when it is sent again unchanged.
func DropFirstCopy() Filter {
	var (
		mu   sync.Mutex
		last []byte
	)

	return func(pkt []byte) [][]byte {
		mu.Lock()
		defer mu.Unlock()

		if last != nil && bytes.Equal(last, pkt) {
			last = nil
			return [][]byte{pkt}
		}

		last = append(last[:0:0], pkt...)

		return nil
	}
}

// Chain applies filters in order.
func Chain(filters ...Filter) Filter {
	return func(pkt []byte) [][]byte {
		chunks := [][]byte{pkt}
		for _, f := range filters {
			var next [][]byte
			for _, c := range chunks {
				next = append(next, f(c)...)
			}
			chunks = next
		}

		return chunks
	}
}
