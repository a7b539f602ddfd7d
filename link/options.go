package link

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-ratp/logger"
)

// Default values.
const (
	DefaultPollTimeout  = time.Millisecond
	DefaultPipeCapacity = 1 << 16
	DefaultBaudRate     = 115200

	// maxPacketSize is the largest RATP packet on the wire; pacing bursts never go below it.
	maxPacketSize = 261
)

type options struct {
	pollTimeout time.Duration
	baudRate    int
	capacity    int
	filter      Filter
	logger      logger.Logger
}

func defaultOptions() *options {
	return &options{
		pollTimeout: DefaultPollTimeout,
		capacity:    DefaultPipeCapacity,
		logger:      logger.GetLogger(),
	}
}

func applyOptions(opts []Option) (*options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt.apply(o); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// Option is a functional option for configuring a transport.
// Options that do not apply to a transport are ignored by it.
type Option interface {
	apply(*options) error
}

type optFunc func(*options) error

func (f optFunc) apply(o *options) error { return f(o) }

// WithPollTimeout sets how long RecvByte waits for a byte before reporting
// that none is available. Applies to Conn and Serial.
func WithPollTimeout(d time.Duration) Option {
	return optFunc(func(o *options) error {
		if d <= 0 || d > time.Second {
			return fmt.Errorf("link: poll timeout %v out of range (0, 1s]", d)
		}
		o.pollTimeout = d

		return nil
	})
}

// WithBaudRate paces Conn writes to the given baud rate (8N1 framing, ten
// bits per byte), and sets the line speed of Serial.
func WithBaudRate(baud int) Option {
	return optFunc(func(o *options) error {
		if baud < 300 {
			return fmt.Errorf("link: baud rate %d too low", baud)
		}
		o.baudRate = baud

		return nil
	})
}

// WithCapacity sets the per-direction buffer size of a Pipe in bytes.
// Bytes written to a full direction are lost, like a receiver overrun.
func WithCapacity(n int) Option {
	return optFunc(func(o *options) error {
		if n < maxPacketSize {
			return fmt.Errorf("link: pipe capacity %d smaller than a packet", n)
		}
		o.capacity = n

		return nil
	})
}

// WithFilter installs a Filter on both directions of a Pipe.
func WithFilter(f Filter) Option {
	return optFunc(func(o *options) error {
		o.filter = f
		return nil
	})
}

// WithLogger sets the logger of the transport.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(o *options) error {
		if l == nil {
			return errors.New("link: logger must not be nil")
		}
		o.logger = l

		return nil
	})
}
