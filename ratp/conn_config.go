package ratp

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-ratp/logger"
)

// Default values.
const (
	DefaultMaxRetransmission = 100

	DefaultRecvTimeout  = 100 * time.Millisecond // receive window of a single Poll
	DefaultByteTimeout  = 100 * time.Millisecond // inter-byte timeout inside a packet
	DefaultMinRTO       = 200 * time.Millisecond // retransmission timeout floor
	DefaultInitialSRTT  = 100 * time.Millisecond
	DefaultCloseTimeout = 3 * time.Second
)

// Option range limits.
const (
	MinTimeout = time.Millisecond
	MaxTimeout = 10 * time.Second

	MaxMaxRetransmission = 65535
)

// ConnectionConfig holds all configuration for a RATP connection.
type ConnectionConfig struct {
	// isActive: true = send SYN on establish, false = wait in LISTEN.
	isActive bool

	// maxRetransmission is the number of retransmissions of one segment
	// after which the connection fails with ErrTimeout.
	maxRetransmission int

	recvTimeout  time.Duration
	byteTimeout  time.Duration
	minRTO       time.Duration
	closeTimeout time.Duration

	logger logger.Logger

	// clock is the time source; replaced in tests.
	clock func() time.Time
}

// NewConnectionConfig creates a new RATP connection configuration.
//
// opts are functional options applied in order; see With* functions.
func NewConnectionConfig(opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{
		isActive:          true,
		maxRetransmission: DefaultMaxRetransmission,
		recvTimeout:       DefaultRecvTimeout,
		byteTimeout:       DefaultByteTimeout,
		minRTO:            DefaultMinRTO,
		closeTimeout:      DefaultCloseTimeout,
		logger:            logger.GetLogger(),
		clock:             time.Now,
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// --- Getters ---

// IsActive returns true if the connection opens actively (sends SYN).
func (cfg *ConnectionConfig) IsActive() bool { return cfg.isActive }

// IsPassive returns true if the connection waits for the peer's SYN.
func (cfg *ConnectionConfig) IsPassive() bool { return !cfg.isActive }

// MaxRetransmission returns the retransmission limit per segment.
func (cfg *ConnectionConfig) MaxRetransmission() int { return cfg.maxRetransmission }

// RecvTimeout returns the receive window of a single Poll.
func (cfg *ConnectionConfig) RecvTimeout() time.Duration { return cfg.recvTimeout }

// ByteTimeout returns the inter-byte timeout used while reading a packet.
func (cfg *ConnectionConfig) ByteTimeout() time.Duration { return cfg.byteTimeout }

// MinRTO returns the retransmission timeout floor.
func (cfg *ConnectionConfig) MinRTO() time.Duration { return cfg.minRTO }

// CloseTimeout returns the timeout used by Close when called with zero.
func (cfg *ConnectionConfig) CloseTimeout() time.Duration { return cfg.closeTimeout }

// GetLogger returns the configured logger.
func (cfg *ConnectionConfig) GetLogger() logger.Logger { return cfg.logger }

// --- ConnOption ---

// ConnOption is a functional option for configuring a ConnectionConfig.
type ConnOption interface {
	apply(*ConnectionConfig) error
}

type connOptFunc func(*ConnectionConfig) error

func (f connOptFunc) apply(cfg *ConnectionConfig) error { return f(cfg) }

// WithActive makes Establish send the initial SYN. This is the default.
func WithActive() ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		cfg.isActive = true
		return nil
	})
}

// WithPassive makes Establish wait in LISTEN for the peer's SYN.
func WithPassive() ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		cfg.isActive = false
		return nil
	})
}

// WithMaxRetransmission sets how many times a segment is retransmitted before
// the connection fails with ErrTimeout. Must be in [1, 65535].
func WithMaxRetransmission(n int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if n < 1 || n > MaxMaxRetransmission {
			return fmt.Errorf("ratp: max retransmission %d out of range [1, %d]", n, MaxMaxRetransmission)
		}
		cfg.maxRetransmission = n

		return nil
	})
}

// WithRecvTimeout sets how long a single Poll waits for a packet to start.
func WithRecvTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if err := checkTimeout("receive timeout", d); err != nil {
			return err
		}
		cfg.recvTimeout = d

		return nil
	})
}

// WithByteTimeout sets the inter-byte timeout used while reading a packet.
func WithByteTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if err := checkTimeout("byte timeout", d); err != nil {
			return err
		}
		cfg.byteTimeout = d

		return nil
	})
}

// WithMinRTO sets the retransmission timeout floor. Peers may rely on the
// default of 200ms; change it only when both ends agree.
func WithMinRTO(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if err := checkTimeout("minimum RTO", d); err != nil {
			return err
		}
		cfg.minRTO = d

		return nil
	})
}

// WithCloseTimeout sets the timeout Close uses when it is called with zero.
func WithCloseTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d <= 0 {
			return errors.New("ratp: close timeout must be positive")
		}
		cfg.closeTimeout = d

		return nil
	})
}

// WithLogger sets the logger for the connection.
func WithLogger(l logger.Logger) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if l == nil {
			return errors.New("ratp: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}

func checkTimeout(name string, d time.Duration) error {
	if d < MinTimeout || d > MaxTimeout {
		return fmt.Errorf("ratp: %s %v out of range [%v, %v]", name, d, MinTimeout, MaxTimeout)
	}

	return nil
}
