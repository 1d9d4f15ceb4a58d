// Package pool provides a registry of reusable connections keyed by
// destination, bounded by a single global capacity cap shared across all
// destinations.
//
// Each destination ("site") gets its own pool of warm connections, but the
// total number of open connections process-wide never exceeds the
// configured maximum, no matter how many distinct destinations are in play.
// Callers that cannot be admitted block for a bounded wait and then fail
// with ErrExhausted.
//
// # Basic Usage
//
//	reg := pool.New(transport.NewTCP(), pool.DefaultConfig())
//	defer reg.Close()
//
//	err := reg.With("example.com:443", func(h transport.Handle) error {
//	    conn := h.(net.Conn)
//	    // Use connection...
//	    return nil
//	})
//
// Or use the process-wide registry, lazily constructed from environment
// configuration on first access:
//
//	err := pool.Default().With("example.com:443", work)
//
// # Connection health
//
// A connection that fails with a connection reset after at least one
// successful use is transparently reopened and the work retried exactly
// once. A reset on a connection's first-ever use propagates immediately,
// so an unreachable destination is not masked as a transient blip. Any
// other failure marks the connection dead; dead and long-idle connections
// are closed by a background reaper that also drops emptied site pools.
//
// # Metrics
//
// Registry utilization metrics are registered with the metrics package:
//   - sitepool_connections_max: Global connection cap
//   - sitepool_connections_open: Current open connections
//   - sitepool_connections_idle: Current idle connections
//   - sitepool_connections_in_use: Connections currently in use
//   - sitepool_sites: Number of destination pools
//   - sitepool_checkouts_total: Successful connection checkouts
//   - sitepool_checkout_exhausted_total: Checkouts failed on a full pool
//   - sitepool_opens_total: Connections opened
//   - sitepool_reset_retries_total: Reconnect retries after a peer reset
//   - sitepool_conns_dead_total: Connections marked dead
//   - sitepool_conns_reaped_total: Connections removed by the reaper
package pool
