package link

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTCPPair returns a link Conn and the raw remote end of a loopback TCP connection.
func newTCPPair(t *testing.T, opts ...Option) (*Conn, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	raw, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	remote, ok := <-accepted
	require.True(t, ok)

	c, err := NewConn(raw, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = c.Close()
		_ = remote.Close()
	})

	return c, remote
}

func recvWithin(t *testing.T, c *Conn, n int, d time.Duration) []byte {
	t.Helper()

	var out []byte
	deadline := time.Now().Add(d)
	for len(out) < n && time.Now().Before(deadline) {
		b, ok, err := c.RecvByte()
		require.NoError(t, err)
		if ok {
			out = append(out, b)
		}
	}

	return out
}

func TestConn_RecvByte_Idle(t *testing.T) {
	c, _ := newTCPPair(t, WithPollTimeout(5*time.Millisecond))

	start := time.Now()
	_, ok, err := c.RecvByte()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestConn_SendRecv(t *testing.T) {
	c, remote := newTCPPair(t)

	_, err := remote.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), recvWithin(t, c, 3, 2*time.Second))

	require.NoError(t, c.Send([]byte("xyz")))

	buf := make([]byte, 3)
	require.NoError(t, remote.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = remote.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("xyz"), buf)
}

func TestConn_BaudRatePacing(t *testing.T) {
	// 9600 baud moves 960 bytes per second, the first burst passes immediately
	c, remote := newTCPPair(t, WithBaudRate(9600))

	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := remote.Read(buf); err != nil {
				return
			}
		}
	}()

	start := time.Now()
	require.NoError(t, c.Send(make([]byte, 960)))
	require.NoError(t, c.Send(make([]byte, 480)))
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestConn_SendAfterClose(t *testing.T) {
	c, _ := newTCPPair(t)
	require.NoError(t, c.Close())

	require.ErrorIs(t, c.Send([]byte{1}), ErrClosed)
}

func TestConn_RecvByte_PeerClosed(t *testing.T) {
	c, remote := newTCPPair(t)
	require.NoError(t, remote.Close())

	var err error
	deadline := time.Now().Add(2 * time.Second)
	for err == nil && time.Now().Before(deadline) {
		_, _, err = c.RecvByte()
	}
	require.Error(t, err)
}

func TestNewConn_Invalid(t *testing.T) {
	_, err := NewConn(nil)
	require.Error(t, err)

	_, err = newPipeConn(WithBaudRate(100))
	require.Error(t, err)
}

func newPipeConn(opts ...Option) (*Conn, error) {
	a, b := net.Pipe()
	defer b.Close()

	c, err := NewConn(a, opts...)
	if err != nil {
		_ = a.Close()
	}

	return c, err
}
