package transport

import (
	"errors"
	"io"
	"syscall"
)

// ErrReset marks an error as a connection reset. Transports and fakes that
// cannot surface the raw syscall error wrap this sentinel instead.
var ErrReset = errors.New("transport: connection reset by peer")

// IsReset reports whether err indicates the peer reset or closed the
// connection: the one failure class the pool treats as transient and
// eligible for a single reconnect retry. Everything else is fatal to the
// connection it occurred on.
func IsReset(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrReset) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	// A peer that drops a kept-alive connection surfaces as ECONNRESET on
	// read or EPIPE on write.
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}
