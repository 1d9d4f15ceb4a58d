package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-i2p/i2pkeys"
	"github.com/go-i2p/onramp"
)

// DefaultSAMAddress is the default SAM bridge address.
const DefaultSAMAddress = "127.0.0.1:7656"

// I2P dials destinations as I2P streaming endpoints through a SAM bridge.
// Destinations are base32 addresses (xxx.b32.i2p) or full base64
// destinations; the transport itself never inspects them beyond address
// validation. Handles returned by it implement net.Conn.
//
// The garlic session is created lazily on the first Open and shared by
// every connection the transport dials. Close tears the session down;
// connections dialed through it remain owned by their callers.
type I2P struct {
	name    string
	samAddr string
	options []string

	mu     sync.Mutex
	garlic *onramp.Garlic
}

// NewI2P returns an I2P transport tunneling through the SAM bridge at
// samAddr. name identifies the tunnel to the router. options are SAM
// session options (inbound.length, outbound.quantity, ...); nil selects
// onramp's defaults.
func NewI2P(name, samAddr string, options []string) *I2P {
	if samAddr == "" {
		samAddr = DefaultSAMAddress
	}
	return &I2P{
		name:    name,
		samAddr: samAddr,
		options: options,
	}
}

// session returns the shared garlic session, creating it on first use.
func (t *I2P) session() (*onramp.Garlic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.garlic != nil {
		return t.garlic, nil
	}

	options := t.options
	if len(options) == 0 {
		options = onramp.OPT_DEFAULTS
	}
	g, err := onramp.NewGarlic(t.name, t.samAddr, options)
	if err != nil {
		return nil, fmt.Errorf("transport: opening SAM session at %s: %w", t.samAddr, err)
	}
	t.garlic = g

	log.WithField("samAddr", t.samAddr).WithField("name", t.name).Debug("opened garlic session")
	return g, nil
}

// Open dials the destination over the shared garlic session. The
// keep-alive hint bounds each read and write on the returned handle;
// I2P tunnels carry their own liveness, so no probe period is set.
func (t *I2P) Open(destination string, keepAlive time.Duration) (Handle, error) {
	// Reject malformed destinations before touching the router
	if _, err := i2pkeys.NewI2PAddrFromString(destination); err != nil {
		return nil, fmt.Errorf("transport: bad I2P destination %s: %w", destination, err)
	}

	g, err := t.session()
	if err != nil {
		return nil, err
	}

	conn, err := g.Dial("tcp", destination)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %s: %w", destination, err)
	}

	if keepAlive > 0 {
		conn = &timeoutConn{Conn: conn, timeout: keepAlive}
	}

	log.WithField("destination", destination).Debug("opened I2P connection")
	return conn, nil
}

// Close tears down the garlic session. A later Open builds a new one.
func (t *I2P) Close() error {
	t.mu.Lock()
	g := t.garlic
	t.garlic = nil
	t.mu.Unlock()

	if g == nil {
		return nil
	}
	return g.Close()
}
