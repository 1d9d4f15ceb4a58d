// Package config provides file-based configuration for sitepool tools.
// It layers a TOML file over the pool defaults; environment variables and
// command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/go-i2p/sitepool/lib/pool"
)

// Default configuration values
const (
	DefaultMetricsListen = "127.0.0.1:9091"
)

// Config holds all configuration for a sitepool process.
type Config struct {
	Pool    PoolConfig    `toml:"pool"`
	Metrics MetricsConfig `toml:"metrics"`
}

// PoolConfig contains the connection registry settings.
type PoolConfig struct {
	// MaxConns is the global cap on open connections across all destinations
	MaxConns int `toml:"max_conns"`
	// IdleTimeout is how long a connection may sit unused before it is reaped;
	// also the keep-alive hint given to the transport
	IdleTimeout time.Duration `toml:"idle_timeout"`
	// CheckoutWait is how long a checkout blocks on a saturated pool before failing
	CheckoutWait time.Duration `toml:"checkout_wait"`
	// ReapInterval is the background sweep period; non-positive disables the reaper
	ReapInterval time.Duration `toml:"reap_interval"`
}

// MetricsConfig contains the metrics endpoint settings.
type MetricsConfig struct {
	// Enabled controls whether the /metrics listener is started
	Enabled bool `toml:"enabled"`
	// Listen is the address to bind the metrics server to
	Listen string `toml:"listen"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Pool: PoolConfig{
			MaxConns:     pool.DefaultMaxConns,
			IdleTimeout:  pool.DefaultIdleTimeout,
			CheckoutWait: pool.DefaultCheckoutWait,
			ReapInterval: pool.DefaultReapInterval,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  DefaultMetricsListen,
		},
	}
}

// LoadConfig reads configuration from a TOML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a TOML file.
// It creates the parent directory if it doesn't exist.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Pool.MaxConns < 1 {
		return errors.New("pool.max_conns must be at least 1")
	}
	if c.Pool.IdleTimeout <= 0 {
		return errors.New("pool.idle_timeout must be positive")
	}
	if c.Pool.CheckoutWait <= 0 {
		return errors.New("pool.checkout_wait must be positive")
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return errors.New("metrics.listen is required when metrics.enabled is set")
	}
	return nil
}

// Settings converts the pool section into a pool.Config.
func (c *Config) Settings() pool.Config {
	return pool.Config{
		MaxConns:     c.Pool.MaxConns,
		IdleTimeout:  c.Pool.IdleTimeout,
		CheckoutWait: c.Pool.CheckoutWait,
		ReapInterval: c.Pool.ReapInterval,
	}
}
