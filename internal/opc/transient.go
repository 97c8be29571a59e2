package opc

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/gopcua/opcua/ua"
)

// errSessionClosed marks a session whose notification channel ended without a
// reported cause, which means the connection dropped underneath it.
var errSessionClosed = errors.New("opc ua session closed")

// IsTransient reports whether err belongs to the connection/timeout class the
// connector recovers from by retrying. Everything else is fatal and
// propagates out of the connector.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, errSessionClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	// Operation timeouts during session I/O, not cancellation of our own
	// context (that ends the run loop instead).
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var code ua.StatusCode
	if errors.As(err, &code) {
		switch code {
		case ua.StatusBadTimeout,
			ua.StatusBadRequestTimeout,
			ua.StatusBadConnectionClosed,
			ua.StatusBadServerNotConnected,
			ua.StatusBadSessionClosed,
			ua.StatusBadSessionIDInvalid,
			ua.StatusBadSecureChannelClosed,
			ua.StatusBadCommunicationError:
			return true
		}
	}

	return false
}
