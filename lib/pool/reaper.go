package pool

import (
	"context"
	"time"
)

// reapLoop runs the periodic sweep until the registry is closed.
func (r *Registry) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// Flush triggers an immediate reap sweep. It is safe to call concurrently
// with normal traffic and with the background reaper.
func (r *Registry) Flush() {
	r.sweep()
}

// sweep walks a snapshot of the site pools, closes connections that are
// dead or have been idle for at least the idle threshold, and drops pools
// left empty. Walking a snapshot keeps the pool map stable while pools
// are removed from it.
func (r *Registry) sweep() {
	r.mu.RLock()
	pools := make(map[string]*SitePool, len(r.pools))
	for site, p := range r.pools {
		pools[site] = p
	}
	r.mu.RUnlock()

	var reaped int
	for site, p := range pools {
		reaped += p.reap(r.cfg.IdleTimeout)

		if p.retire() {
			r.dropRetired(site, p)
		}
	}

	if reaped > 0 {
		ConnsReapedTotal.Add(uint64(reaped))
		log.WithField("reaped", reaped).Debug("reap sweep removed connections")
	}
	UpdateMetrics(r.Stats())
}
