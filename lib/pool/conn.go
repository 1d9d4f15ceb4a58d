package pool

import (
	"sync"
	"time"

	"github.com/go-i2p/sitepool/lib/transport"
)

// Conn wraps a single transport handle to one destination and tracks its
// lifecycle state.
//
// fresh is true until the connection's first use attempt completes, success
// or failure. A fresh connection gets no reconnect retry: a reset on the
// very first use usually means the destination is unreachable, not that a
// warm connection went stale. dead is sticky; once set the connection is
// only ever closed and removed, never reused.
type Conn struct {
	site      string
	tr        transport.Transport
	keepAlive time.Duration
	owner     *SitePool // nil for connections built outside a pool, in tests

	mu        sync.Mutex
	handle    transport.Handle
	createdAt time.Time
	lastUsed  time.Time // zero until first use
	inUse     bool      // owned by the pool: set at checkout, cleared at checkin
	dead      bool
	fresh     bool
}

// newConn opens a handle to site and wraps it. The caller must have
// reserved a capacity slot first.
func newConn(site string, tr transport.Transport, keepAlive time.Duration, owner *SitePool) (*Conn, error) {
	h, err := tr.Open(site, keepAlive)
	if err != nil {
		return nil, err
	}

	OpensTotal.Inc()
	return &Conn{
		site:      site,
		tr:        tr,
		keepAlive: keepAlive,
		owner:     owner,
		handle:    h,
		createdAt: time.Now(),
		fresh:     true,
	}, nil
}

// Use runs work against the connection's handle.
//
// If work fails with a connection reset and this connection has been
// successfully used before, the handle is reopened and work re-invoked
// exactly once; a second reset propagates. A reset on a fresh connection
// or any other error marks the connection dead and propagates unchanged.
// fresh transitions to false on every exit path.
func (c *Conn) Use(work func(transport.Handle) error) error {
	c.mu.Lock()
	c.lastUsed = time.Now()
	wasFresh := c.fresh
	h := c.handle
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.fresh = false
		c.mu.Unlock()
	}()

	err := work(h)
	if err == nil {
		return nil
	}

	if !transport.IsReset(err) || wasFresh {
		c.kill()
		return err
	}

	h.Close()
	nh, openErr := c.tr.Open(c.site, c.keepAlive)
	if openErr != nil {
		c.mu.Lock()
		c.handle = nil
		c.dead = true
		c.mu.Unlock()
		ConnsDeadTotal.Inc()
		return openErr
	}
	OpensTotal.Inc()

	c.mu.Lock()
	c.handle = nh
	c.mu.Unlock()

	ResetRetriesTotal.Inc()
	if c.owner != nil {
		c.owner.retries.Add(1)
	}
	log.WithField("site", c.site).Debug("retrying after connection reset")

	if err := work(nh); err != nil {
		c.kill()
		return err
	}
	return nil
}

// kill closes the handle and marks the connection dead.
func (c *Conn) kill() {
	c.mu.Lock()
	h := c.handle
	c.handle = nil
	c.dead = true
	c.mu.Unlock()

	if h != nil {
		h.Close()
	}
	ConnsDeadTotal.Inc()
	if c.owner != nil {
		c.owner.deaths.Add(1)
	}
}

// IdleFor returns how long the connection has gone unused: time since the
// last use, or since creation if it has never been used. The reaper
// compares this against the idle threshold.
func (c *Conn) IdleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastUsed.IsZero() {
		return time.Since(c.lastUsed)
	}
	return time.Since(c.createdAt)
}

// Dead reports whether the connection has been marked permanently unusable.
func (c *Conn) Dead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dead
}

// Site returns the destination this connection is bound to.
func (c *Conn) Site() string {
	return c.site
}

func (c *Conn) busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inUse
}

func (c *Conn) setInUse(v bool) {
	c.mu.Lock()
	c.inUse = v
	c.mu.Unlock()
}

// Close releases the underlying handle. It must not be called concurrently
// with an in-progress Use; the pool guarantees this by only closing
// connections that are not checked out.
func (c *Conn) Close() error {
	c.mu.Lock()
	h := c.handle
	c.handle = nil
	c.mu.Unlock()

	if h == nil {
		return nil
	}
	return h.Close()
}
