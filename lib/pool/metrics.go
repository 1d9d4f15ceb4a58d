package pool

import "github.com/go-i2p/sitepool/lib/metrics"

// Registry utilization metrics
var (
	// ConnectionsMax is the global connection cap.
	ConnectionsMax = metrics.NewGauge(
		"sitepool_connections_max",
		"Global cap on open connections across all destinations",
	)
	// ConnectionsOpen is the current number of live connections.
	ConnectionsOpen = metrics.NewGauge(
		"sitepool_connections_open",
		"Current number of open connections across all destinations",
	)
	// ConnectionsIdle is the current number of idle connections.
	ConnectionsIdle = metrics.NewGauge(
		"sitepool_connections_idle",
		"Current number of idle connections across all destinations",
	)
	// ConnectionsInUse is the number of connections currently checked out.
	ConnectionsInUse = metrics.NewGauge(
		"sitepool_connections_in_use",
		"Number of connections currently in use",
	)
	// SitePoolsGauge is the number of destination pools in the registry.
	SitePoolsGauge = metrics.NewGauge(
		"sitepool_sites",
		"Number of destination pools in the registry",
	)
	// CheckoutsTotal is the number of successful checkouts.
	CheckoutsTotal = metrics.NewCounter(
		"sitepool_checkouts_total",
		"Total number of successful connection checkouts",
	)
	// CheckoutExhaustedTotal is the number of checkouts that timed out on
	// a saturated pool.
	CheckoutExhaustedTotal = metrics.NewCounter(
		"sitepool_checkout_exhausted_total",
		"Total number of checkouts failed because the pool was exhausted",
	)
	// OpensTotal is the number of connections opened, including reopens
	// after a reset.
	OpensTotal = metrics.NewCounter(
		"sitepool_opens_total",
		"Total number of connections opened",
	)
	// ResetRetriesTotal is the number of reconnect retries after a reset.
	ResetRetriesTotal = metrics.NewCounter(
		"sitepool_reset_retries_total",
		"Total number of reconnect retries after a peer reset",
	)
	// ConnsDeadTotal is the number of connections marked dead.
	ConnsDeadTotal = metrics.NewCounter(
		"sitepool_conns_dead_total",
		"Total number of connections marked dead after a fatal error",
	)
	// ConnsReapedTotal is the number of connections removed by sweeps.
	ConnsReapedTotal = metrics.NewCounter(
		"sitepool_conns_reaped_total",
		"Total number of idle or dead connections removed by reap sweeps",
	)
	// CheckoutLatency tracks time spent checking out a connection.
	CheckoutLatency = metrics.NewHistogram(
		"sitepool_checkout_duration_seconds",
		"Time spent checking a connection out of the pool",
		metrics.DefaultLatencyBuckets,
	)
)

// UpdateMetrics updates the registry gauges from Stats.
func UpdateMetrics(stats Stats) {
	ConnectionsMax.Set(int64(stats.MaxConns))
	ConnectionsOpen.Set(int64(stats.Open))
	ConnectionsIdle.Set(int64(stats.Idle))
	ConnectionsInUse.Set(int64(stats.InUse))
	SitePoolsGauge.Set(int64(len(stats.Sites)))
}
