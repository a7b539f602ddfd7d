package link

import (
	"bufio"
	"fmt"

	"go.bug.st/serial"

	"github.com/arloliu/go-ratp/logger"
)

// Serial is a RATP byte transport on a local serial port.
type Serial struct {
	port   serial.Port
	reader *bufio.Reader
	logger logger.Logger
}

// OpenSerial opens the named port with 8N1 framing at the configured baud
// rate (DefaultBaudRate unless WithBaudRate is given).
func OpenSerial(name string, opts ...Option) (*Serial, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	baud := o.baudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}

	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("link: open serial port %s: %w", name, err)
	}

	s, err := newSerial(port, o)
	if err != nil {
		_ = port.Close()
		return nil, err
	}

	s.logger.Info("link: serial port opened", "baudRate", baud)

	return s, nil
}

// SerialPorts lists the serial ports present on the system.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

func newSerial(port serial.Port, o *options) (*Serial, error) {
	if err := port.SetReadTimeout(o.pollTimeout); err != nil {
		return nil, fmt.Errorf("link: set read timeout: %w", err)
	}

	if err := port.ResetInputBuffer(); err != nil {
		return nil, fmt.Errorf("link: reset input buffer: %w", err)
	}

	return &Serial{
		port:   port,
		reader: bufio.NewReader(pollReader{port}),
		logger: o.logger.With("transport", "serial"),
	}, nil
}

// Send writes buf and waits until it has left the output buffer.
func (s *Serial) Send(buf []byte) error {
	for written := 0; written < len(buf); {
		n, err := s.port.Write(buf[written:])
		if err != nil {
			return err
		}
		written += n
	}

	return s.port.Drain()
}

// RecvByte returns the next byte, waiting at most the poll timeout.
func (s *Serial) RecvByte() (byte, bool, error) {
	b, err := s.reader.ReadByte()
	if err != nil {
		if isTimeout(err) {
			return 0, false, nil
		}

		return 0, false, err
	}

	return b, true, nil
}

// Close closes the port.
func (s *Serial) Close() error {
	s.logger.Debug("link: serial port closed")
	return s.port.Close()
}

// pollReader turns the empty read of an expired port timeout into errPollTimeout.
type pollReader struct {
	port serial.Port
}

func (r pollReader) Read(p []byte) (int, error) {
	n, err := r.port.Read(p)
	if n == 0 && err == nil {
		return 0, errPollTimeout
	}

	return n, err
}
