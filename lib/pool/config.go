package pool

import (
	"os"
	"strconv"
	"time"
)

// Default configuration values
const (
	DefaultMaxConns     = 512
	DefaultIdleTimeout  = 30 * time.Second
	DefaultCheckoutWait = 5 * time.Second
	DefaultReapInterval = 30 * time.Second
)

// Config configures a Registry.
type Config struct {
	// MaxConns is the global cap on open connections across all
	// destinations. Default: 512
	MaxConns int
	// IdleTimeout is how long a connection may sit unused before the
	// reaper closes it. It is also passed to the transport as the
	// keep-alive hint when opening handles.
	// Default: 30 seconds
	IdleTimeout time.Duration
	// CheckoutWait is how long a checkout blocks when the global cap is
	// saturated before failing with ErrExhausted.
	// Default: 5 seconds
	CheckoutWait time.Duration
	// ReapInterval is the period of the background reap sweep. A
	// non-positive value disables the reaper entirely; Flush may still be
	// called manually.
	// Default: 30 seconds
	ReapInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:     DefaultMaxConns,
		IdleTimeout:  DefaultIdleTimeout,
		CheckoutWait: DefaultCheckoutWait,
		ReapInterval: DefaultReapInterval,
	}
}

// ApplyEnv overrides the config from SITEPOOL_* environment variables:
// SITEPOOL_MAX_CONNS (integer), SITEPOOL_IDLE_TIMEOUT,
// SITEPOOL_CHECKOUT_WAIT and SITEPOOL_REAP_INTERVAL (Go durations,
// e.g. "45s"). Malformed values are ignored.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("SITEPOOL_MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxConns = n
		}
	}
	if v := os.Getenv("SITEPOOL_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.IdleTimeout = d
		}
	}
	if v := os.Getenv("SITEPOOL_CHECKOUT_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.CheckoutWait = d
		}
	}
	if v := os.Getenv("SITEPOOL_REAP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ReapInterval = d
		}
	}
}
