package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/sitepool/lib/transport"
)

var (
	// ErrClosed is returned when operating on a closed registry.
	ErrClosed = errors.New("pool: registry is closed")
	// ErrExhausted is returned when no connection could be checked out
	// within the configured wait. It is a backpressure signal: the system
	// is at capacity, not unreachable.
	ErrExhausted = errors.New("pool: connection pool exhausted")

	// errRetired signals that a site pool was dropped by the reaper while
	// a caller held a reference to it. The registry retries with a fresh
	// pool; the error never reaches callers.
	errRetired = errors.New("pool: site pool retired")
)

// SitePool owns the connections for a single destination. All site pools
// of one registry share a Slots counter, so admission is global while
// checkout/checkin contention stays destination-scoped.
type SitePool struct {
	site      string
	tr        transport.Transport
	slots     *Slots
	keepAlive time.Duration
	wait      time.Duration

	mu      sync.Mutex
	conns   map[*Conn]struct{} // every live connection owned by this pool
	idle    []*Conn            // subset of conns not checked out
	retired bool

	checkouts atomic.Uint64
	exhausted atomic.Uint64
	retries   atomic.Uint64
	deaths    atomic.Uint64
}

func newSitePool(site string, tr transport.Transport, slots *Slots, cfg Config) *SitePool {
	return &SitePool{
		site:      site,
		tr:        tr,
		slots:     slots,
		keepAlive: cfg.IdleTimeout,
		wait:      cfg.CheckoutWait,
		conns:     make(map[*Conn]struct{}),
	}
}

// withConn checks out a connection, runs work through its Use, and checks
// it back in. Checkout blocks for at most the configured wait when the
// global cap is saturated, unless ctx carries an earlier deadline.
func (p *SitePool) withConn(ctx context.Context, work func(transport.Handle) error) error {
	acquireCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && p.wait > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, p.wait)
		defer cancel()
	}

	start := time.Now()
	c, err := p.checkout(acquireCtx)
	CheckoutLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	defer p.checkin(c)

	return c.Use(work)
}

// checkout returns an idle connection or opens a new one under the global
// cap, waiting for capacity otherwise.
func (p *SitePool) checkout(ctx context.Context) (*Conn, error) {
	for {
		// Snapshot the wake-up channel before inspecting state so a
		// checkin or slot release between the check and the wait below
		// cannot be missed.
		freed := p.slots.Freed()

		p.mu.Lock()
		if p.retired {
			p.mu.Unlock()
			return nil, errRetired
		}
		if n := len(p.idle); n > 0 {
			// Most recently returned connection first, so long-idle
			// ones age out instead of being kept barely warm.
			c := p.idle[n-1]
			p.idle[n-1] = nil
			p.idle = p.idle[:n-1]
			c.setInUse(true)
			p.mu.Unlock()

			p.checkouts.Add(1)
			CheckoutsTotal.Inc()
			return c, nil
		}
		p.mu.Unlock()

		if p.slots.TryAcquire() {
			c, err := p.register()
			if err != nil {
				p.slots.Release()
				return nil, err
			}
			p.checkouts.Add(1)
			CheckoutsTotal.Inc()
			return c, nil
		}

		log.WithField("site", p.site).Debug("waiting for connection capacity")
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				p.exhausted.Add(1)
				CheckoutExhaustedTotal.Inc()
				return nil, ErrExhausted
			}
			return nil, ctx.Err()
		case <-freed:
		}
	}
}

// register opens a connection and adds it to the pool. The caller holds a
// reserved slot and releases it if register fails.
func (p *SitePool) register() (*Conn, error) {
	c, err := newConn(p.site, p.tr, p.keepAlive, p)
	if err != nil {
		return nil, err
	}
	c.setInUse(true)

	p.mu.Lock()
	if p.retired {
		p.mu.Unlock()
		c.Close()
		return nil, errRetired
	}
	p.conns[c] = struct{}{}
	p.mu.Unlock()
	return c, nil
}

// checkin returns a connection to the idle set, or closes it and releases
// its slot if it died in use or the pool was retired meanwhile.
func (p *SitePool) checkin(c *Conn) {
	c.setInUse(false)
	dead := c.Dead()

	p.mu.Lock()
	if _, ok := p.conns[c]; !ok {
		// Already removed by a sweep; the slot has been released.
		p.mu.Unlock()
		c.Close()
		return
	}
	if dead || p.retired {
		delete(p.conns, c)
		p.mu.Unlock()
		c.Close()
		p.slots.Release()
		return
	}
	p.idle = append(p.idle, c)
	p.mu.Unlock()

	p.slots.Wake()
}

// reap closes and removes every connection that is not checked out and is
// dead or has been idle for at least threshold, then releases their
// capacity slots. Handles are closed outside the pool lock, and each slot
// is released only after its handle is closed, so a waiter admitted into
// the freed capacity never overlaps a reaped socket. A zero threshold
// removes all connections not in use. Returns the number removed.
func (p *SitePool) reap(threshold time.Duration) int {
	var victims []*Conn

	p.mu.Lock()
	for c := range p.conns {
		if c.busy() {
			continue
		}
		if c.Dead() || c.IdleFor() >= threshold {
			delete(p.conns, c)
			victims = append(victims, c)
		}
	}
	if len(victims) > 0 {
		live := p.idle[:0]
		for _, c := range p.idle {
			if _, ok := p.conns[c]; ok {
				live = append(live, c)
			}
		}
		for i := len(live); i < len(p.idle); i++ {
			p.idle[i] = nil
		}
		p.idle = live
	}
	p.mu.Unlock()

	for _, c := range victims {
		c.Close()
		p.slots.Release()
	}
	return len(victims)
}

// retire marks an empty pool unusable so the registry can drop it. Callers
// racing a retire re-resolve the pool through the registry. Returns true
// if the pool is retired and holds no connections.
func (p *SitePool) retire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.conns) > 0 {
		return false
	}
	p.retired = true
	return true
}

// forceRetire marks the pool unusable regardless of remaining connections.
// Connections still checked out are closed on checkin.
func (p *SitePool) forceRetire() {
	p.mu.Lock()
	p.retired = true
	p.mu.Unlock()
}

// SiteStats describes one destination's pool.
type SiteStats struct {
	Site string

	// Pool status
	Open  int // connections owned by this pool, in use and idle
	Idle  int
	InUse int

	// Counters
	Checkouts uint64 // successful checkouts
	Exhausted uint64 // checkouts failed with ErrExhausted
	Retries   uint64 // reconnect retries after a peer reset
	Deaths    uint64 // connections marked dead
}

func (p *SitePool) stats() SiteStats {
	p.mu.Lock()
	open, idle := len(p.conns), len(p.idle)
	p.mu.Unlock()

	return SiteStats{
		Site:      p.site,
		Open:      open,
		Idle:      idle,
		InUse:     open - idle,
		Checkouts: p.checkouts.Load(),
		Exhausted: p.exhausted.Load(),
		Retries:   p.retries.Load(),
		Deaths:    p.deaths.Load(),
	}
}
