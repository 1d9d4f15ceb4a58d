// Package transport supplies the dialing collaborator for the connection
// registry: an interface for opening handles to destinations, a TCP
// implementation of it, and the error classification that separates a
// transient peer reset from a fatal connection failure.
package transport

import (
	"fmt"
	"net"
	"time"
)

// DefaultDialTimeout bounds a dial when no keep-alive hint is given.
const DefaultDialTimeout = 30 * time.Second

// Handle is one open connection to a destination. Concrete transports
// return richer types (the TCP transport returns a net.Conn); callers
// type-assert to perform I/O.
type Handle interface {
	Close() error
}

// Transport opens handles. A destination is an opaque key identifying a
// remote endpoint; its format is transport-specific.
type Transport interface {
	// Open dials destination. keepAlive is the keep-alive hint: it bounds
	// the dial and configures whatever liveness mechanism the transport
	// has, so a hung handle fails within a bounded time.
	Open(destination string, keepAlive time.Duration) (Handle, error)
}

// TCP dials destinations as "host:port" TCP endpoints. Handles returned by
// it implement net.Conn.
type TCP struct{}

// NewTCP returns a TCP transport.
func NewTCP() *TCP {
	return &TCP{}
}

// Open dials the destination with keep-alive probes and an I/O deadline
// derived from the keep-alive hint.
func (*TCP) Open(destination string, keepAlive time.Duration) (Handle, error) {
	timeout := keepAlive
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	conn, err := net.DialTimeout("tcp", destination, timeout)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %s: %w", destination, err)
	}

	if keepAlive > 0 {
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetKeepAlive(true)
			tc.SetKeepAlivePeriod(keepAlive)
		}
		conn = &timeoutConn{Conn: conn, timeout: keepAlive}
	}

	log.WithField("destination", destination).Debug("opened TCP connection")
	return conn, nil
}

// timeoutConn refreshes the I/O deadline before every read and write so
// each operation is bounded by the keep-alive hint rather than the handle's
// whole lifetime.
type timeoutConn struct {
	net.Conn
	timeout time.Duration
}

func (c *timeoutConn) Read(p []byte) (int, error) {
	c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	return c.Conn.Read(p)
}

func (c *timeoutConn) Write(p []byte) (int, error) {
	c.Conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.Conn.Write(p)
}
