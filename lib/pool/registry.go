package pool

import (
	"context"
	"errors"
	"sync"

	"github.com/go-i2p/sitepool/lib/transport"
)

// Registry maps destinations to their site pools and owns the shared
// capacity counter and the background reaper. It is safe for concurrent
// use by multiple goroutines.
type Registry struct {
	tr    transport.Transport
	cfg   Config
	slots *Slots

	mu     sync.RWMutex
	pools  map[string]*SitePool
	closed bool

	stopReaper context.CancelFunc
	reaperDone sync.WaitGroup
}

// New creates a Registry using tr to open connections. The reaper starts
// immediately when cfg.ReapInterval is positive and runs until Close.
func New(tr transport.Transport, cfg Config) *Registry {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}

	r := &Registry{
		tr:    tr,
		cfg:   cfg,
		slots: NewSlots(cfg.MaxConns),
		pools: make(map[string]*SitePool),
	}

	if cfg.ReapInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		r.stopReaper = cancel
		r.reaperDone.Add(1)
		go func() {
			defer r.reaperDone.Done()
			r.reapLoop(ctx)
		}()
	}

	ConnectionsMax.Set(int64(cfg.MaxConns))
	log.WithField("maxConns", cfg.MaxConns).WithField("idleTimeout", cfg.IdleTimeout).Debug("registry created")
	return r
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide Registry, lazily constructed on first
// access from DefaultConfig plus SITEPOOL_* environment overrides, dialing
// destinations as TCP host:port endpoints. Its reaper runs for the life of
// the process.
func Default() *Registry {
	defaultOnce.Do(func() {
		cfg := DefaultConfig()
		cfg.ApplyEnv()
		defaultRegistry = New(transport.NewTCP(), cfg)
	})
	return defaultRegistry
}

// With resolves the destination's pool, checks out a connection (blocking
// up to the configured wait when the global cap is saturated) and runs
// work through it. Errors from work propagate unchanged after the
// connection's retry and health policy is applied.
//
// With uses context.Background internally; to supply a context, use
// WithContext.
func (r *Registry) With(site string, work func(transport.Handle) error) error {
	return r.WithContext(context.Background(), site, work)
}

// WithContext is With honoring ctx during checkout. A deadline on ctx
// takes precedence over the configured checkout wait; cancellation aborts
// a blocked checkout but never an in-flight work call.
func (r *Registry) WithContext(ctx context.Context, site string, work func(transport.Handle) error) error {
	for {
		p, err := r.pool(site)
		if err != nil {
			return err
		}

		err = p.withConn(ctx, work)
		if !errors.Is(err, errRetired) {
			return err
		}
		// The reaper dropped this pool between lookup and checkout.
		r.dropRetired(site, p)
	}
}

// pool returns the site's pool, creating it on first reference. Concurrent
// first accesses for the same destination observe a single pool.
func (r *Registry) pool(site string) (*SitePool, error) {
	r.mu.RLock()
	p, closed := r.pools[site], r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if p != nil {
		return p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if p := r.pools[site]; p != nil {
		return p, nil
	}
	p = newSitePool(site, r.tr, r.slots, r.cfg)
	r.pools[site] = p
	SitePoolsGauge.Set(int64(len(r.pools)))
	log.WithField("site", site).Debug("created site pool")
	return p, nil
}

// dropRetired removes a retired pool from the map so the next lookup
// creates a fresh one.
func (r *Registry) dropRetired(site string, p *SitePool) {
	r.mu.Lock()
	if r.pools[site] == p {
		delete(r.pools, site)
		SitePoolsGauge.Set(int64(len(r.pools)))
	}
	r.mu.Unlock()
}

// Size returns the current number of live connections across all
// destinations, in use and idle.
func (r *Registry) Size() int {
	return r.slots.InUse()
}

// Stats returns a snapshot of registry utilization.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	pools := make([]*SitePool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.mu.RUnlock()

	s := Stats{
		MaxConns: r.slots.Limit(),
		Open:     r.slots.InUse(),
		Sites:    make([]SiteStats, 0, len(pools)),
	}
	for _, p := range pools {
		ps := p.stats()
		s.Idle += ps.Idle
		s.InUse += ps.InUse
		s.Sites = append(s.Sites, ps)
	}
	return s
}

// Stats is a snapshot of the whole registry.
type Stats struct {
	MaxConns int // global connection cap

	Open  int // live connections across all destinations
	Idle  int
	InUse int

	Sites []SiteStats
}

// Close stops the reaper, retires every pool and closes all connections
// not currently in use; those still checked out are closed as they are
// checked back in. Close is intended for tests and orderly shutdown; a
// long-lived registry is rarely closed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	pools := r.pools
	r.pools = make(map[string]*SitePool)
	r.mu.Unlock()

	if r.stopReaper != nil {
		r.stopReaper()
		r.reaperDone.Wait()
	}

	for _, p := range pools {
		p.forceRetire()
		p.reap(0)
	}

	log.Debug("registry closed")
	return nil
}
