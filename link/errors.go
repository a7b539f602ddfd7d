package link

import (
	"errors"
	"net"
	"os"
)

// ErrClosed is returned when a transport is used after Close.
var ErrClosed = net.ErrClosed

// errPollTimeout is returned by pollReader when the port has no data.
var errPollTimeout = errors.New("link: poll timeout")

// isTimeout reports whether err is a read deadline or poll timeout.
func isTimeout(err error) bool {
	if errors.Is(err, errPollTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
