package ratp

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-ratp/link"
)

// newTestConfig creates a ConnectionConfig with a short receive window suitable for tests.
func newTestConfig(t *testing.T, opts ...ConnOption) *ConnectionConfig {
	t.Helper()

	defaults := []ConnOption{
		WithRecvTimeout(5 * time.Millisecond),
		WithByteTimeout(20 * time.Millisecond),
	}

	cfg, err := NewConnectionConfig(append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("newTestConfig: %v", err)
	}

	return cfg
}

// fakeTransport records sent packets and serves received bytes from rx.
type fakeTransport struct {
	rx      []byte
	sent    [][]byte
	sendErr error
	recvErr error
}

func (f *fakeTransport) Send(buf []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}

	f.sent = append(f.sent, append([]byte(nil), buf...))

	return nil
}

func (f *fakeTransport) RecvByte() (byte, bool, error) {
	if f.recvErr != nil {
		return 0, false, f.recvErr
	}

	if len(f.rx) == 0 {
		return 0, false, nil
	}

	b := f.rx[0]
	f.rx = f.rx[1:]

	return b, true, nil
}

func (f *fakeTransport) feed(pkts ...*Packet) {
	for _, p := range pkts {
		f.rx = append(f.rx, p.Pack()...)
	}
}

// lastSent decodes the header of the most recently sent packet.
func (f *fakeTransport) lastSent(t *testing.T) Header {
	t.Helper()

	require.NotEmpty(t, f.sent, "no packet sent")
	wire := f.sent[len(f.sent)-1]
	require.GreaterOrEqual(t, len(wire), HeaderSize)
	require.Equal(t, Synch, wire[0])

	hdr := ParseHeader([3]byte{wire[1], wire[2], wire[3]})
	require.True(t, hdr.Valid())

	return hdr
}

// newTestConn creates a connection on a fake transport without running the handshake.
func newTestConn(t *testing.T, state State, opts ...ConnOption) (*Conn, *fakeTransport) {
	t.Helper()

	tr := &fakeTransport{}
	c := newConn(tr, newTestConfig(t, opts...))
	c.state = state

	return c, tr
}

// makeData builds a data packet from the peer.
func makeData(sn, an uint8, eor bool, data []byte) *Packet {
	ctl := ControlACK
	if eor {
		ctl |= ControlEOR
	}

	return newDataPacket(withAN(withSN(ctl, sn), an), data)
}

// makeControl builds a control packet from the peer.
func makeControl(ctl Control, sn, an uint8) *Packet {
	return newControlPacket(withAN(withSN(ctl, sn), an), 0)
}

// connPair holds two established connections over an in-memory pipe.
type connPair struct {
	a, b   *Conn
	pa, pb *link.PipeEnd
}

// newConnPair establishes an active connection a with a passive connection b.
func newConnPair(t *testing.T, pipeOpts []link.Option, aOpts, bOpts []ConnOption) *connPair {
	t.Helper()

	pa, pb, err := link.Pipe(pipeOpts...)
	require.NoError(t, err)

	aCfg := newTestConfig(t, append([]ConnOption{WithActive()}, aOpts...)...)
	bCfg := newTestConfig(t, append([]ConnOption{WithPassive()}, bOpts...)...)

	var (
		wg   sync.WaitGroup
		b    *Conn
		bErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		b, bErr = Establish(pb, bCfg, 5*time.Second)
	}()

	a, aErr := Establish(pa, aCfg, 5*time.Second)

	// the passive side finishes once it sees the final ACK
	wg.Wait()

	require.NoError(t, aErr)
	require.NoError(t, bErr)

	t.Cleanup(func() {
		_ = pa.Close()
	})

	return &connPair{a: a, b: b, pa: pa, pb: pb}
}

// pump polls both connections alternately until cond returns true.
func (p *connPair) pump(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("pump: condition not met within %v (a=%s, b=%s)", timeout, p.a.State(), p.b.State())
		}

		_ = p.a.Poll()
		_ = p.b.Poll()
	}
}

// pollUntilClosed polls c in the background until it reaches CLOSED.
func pollUntilClosed(c *Conn, timeout time.Duration) <-chan error {
	done := make(chan error, 1)

	go func() {
		deadline := time.Now().Add(timeout)
		for !c.IsClosed() {
			if time.Now().After(deadline) {
				done <- errors.New("peer did not close")
				return
			}
			_ = c.Poll()
		}
		done <- c.Err()
	}()

	return done
}

// recvAll collects complete messages from c.
func recvAll(c *Conn) [][]byte {
	var msgs [][]byte
	for {
		data, err := c.Recv()
		if err != nil {
			return msgs
		}
		msgs = append(msgs, data)
	}
}

// switchFilter applies f only while enabled.
type switchFilter struct {
	enabled atomic.Bool
	f       link.Filter
}

func (s *switchFilter) filter(pkt []byte) [][]byte {
	if !s.enabled.Load() {
		return [][]byte{pkt}
	}

	return s.f(pkt)
}

// sendRecorder is a pipe filter that records a copy of every packet.
type sendRecorder struct {
	mu      sync.Mutex
	packets [][]byte
}

func (r *sendRecorder) filter(pkt []byte) [][]byte {
	if len(pkt) >= HeaderSize {
		r.mu.Lock()
		r.packets = append(r.packets, append([]byte(nil), pkt...))
		r.mu.Unlock()
	}

	return [][]byte{pkt}
}

func (r *sendRecorder) snapshot() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([][]byte(nil), r.packets...)
}
