package link

import (
	"bufio"
	"context"
	"errors"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/arloliu/go-ratp/logger"
)

// Conn adapts a net.Conn to the RATP byte transport.
//
// Reads use a short read deadline so RecvByte returns quickly when the line
// is idle. Writes are optionally paced to a serial baud rate, which keeps the
// retransmission timing realistic when a TCP bridge stands in for a UART.
type Conn struct {
	conn        net.Conn
	reader      *bufio.Reader
	pollTimeout time.Duration
	limiter     *rate.Limiter
	logger      logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewConn wraps conn. The returned Conn owns conn and closes it on Close.
func NewConn(conn net.Conn, opts ...Option) (*Conn, error) {
	if conn == nil {
		return nil, errors.New("link: conn is nil")
	}

	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Conn{
		conn:        conn,
		reader:      bufio.NewReader(conn),
		pollTimeout: o.pollTimeout,
		logger:      o.logger.With("remoteAddress", conn.RemoteAddr()),
		ctx:         ctx,
		cancel:      cancel,
	}

	if o.baudRate > 0 {
		c.limiter = newBaudLimiter(o.baudRate)
	}

	return c, nil
}

// newBaudLimiter returns a byte rate limiter for baud with 8N1 framing.
func newBaudLimiter(baud int) *rate.Limiter {
	bytesPerSec := baud / 10

	return rate.NewLimiter(rate.Limit(bytesPerSec), max(bytesPerSec, maxPacketSize))
}

// Send writes buf, waiting for the pacing limiter first when configured.
func (c *Conn) Send(buf []byte) error {
	if err := c.ctx.Err(); err != nil {
		return ErrClosed
	}

	if c.limiter != nil {
		burst := c.limiter.Burst()
		for rest := len(buf); rest > 0; rest -= burst {
			if err := c.limiter.WaitN(c.ctx, min(rest, burst)); err != nil {
				return err
			}
		}
	}

	for written := 0; written < len(buf); {
		n, err := c.conn.Write(buf[written:])
		if err != nil {
			return err
		}
		written += n
	}

	return nil
}

// RecvByte returns the next byte, waiting at most the poll timeout.
func (c *Conn) RecvByte() (byte, bool, error) {
	if c.reader.Buffered() == 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.pollTimeout)); err != nil {
			return 0, false, err
		}
	}

	b, err := c.reader.ReadByte()
	if err != nil {
		if isTimeout(err) {
			return 0, false, nil
		}

		return 0, false, err
	}

	return b, true, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	c.cancel()
	c.logger.Debug("link: connection closed")

	return c.conn.Close()
}
