// sitepool-probe drives the sitepool connection registry against a set of
// TCP destinations.
//
// It issues HTTP/1.0 HEAD probes to each target through the shared
// registry, pacing them with a global rate limit, and reports pool
// utilization on exit. It exists both as a smoke-test tool for remote
// endpoints and as a live demonstration that the registry reuses warm
// connections while holding the global cap.
//
// Usage:
//
//	sitepool -targets host:port[,host:port...] [flags]
//
// Flags:
//
//	-config string
//	    Path to configuration file (default "~/.sitepool/config.toml")
//	-targets string
//	    Comma-separated list of destinations to probe: host:port for the
//	    tcp transport, b32.i2p or base64 destinations for i2p
//	-transport string
//	    Transport to dial with: "tcp" or "i2p" (default "tcp")
//	-sam string
//	    SAM bridge address for the i2p transport (default "127.0.0.1:7656")
//	-workers int
//	    Number of concurrent probe workers (default 8)
//	-rate float
//	    Maximum probes per second across all workers (default 50)
//	-duration duration
//	    How long to keep probing; 0 means until interrupted
//	-metrics string
//	    Address for the /metrics listener (overrides config)
//	-v
//	    Enable verbose logging
//	-version
//	    Print version and exit
//
// See https://github.com/go-i2p/sitepool for more information.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/go-i2p/sitepool/lib/config"
	"github.com/go-i2p/sitepool/lib/metrics"
	"github.com/go-i2p/sitepool/lib/pool"
	"github.com/go-i2p/sitepool/lib/transport"
	"github.com/go-i2p/sitepool/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Determine default config path
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	defaultConfigPath := filepath.Join(homeDir, ".sitepool", "config.toml")

	// Parse command-line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	targets := flag.String("targets", "", "Comma-separated list of destinations to probe")
	transportKind := flag.String("transport", "tcp", "Transport to dial with: tcp or i2p")
	samAddr := flag.String("sam", transport.DefaultSAMAddress, "SAM bridge address for the i2p transport")
	workers := flag.Int("workers", 8, "Number of concurrent probe workers")
	probeRate := flag.Float64("rate", 50, "Maximum probes per second across all workers")
	duration := flag.Duration("duration", 0, "How long to keep probing; 0 means until interrupted")
	metricsAddr := flag.String("metrics", "", "Address for the /metrics listener (overrides config)")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "sitepool - destination-keyed connection pool prober\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  sitepool -targets host:port[,host:port...] [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	// Handle version flag
	if *showVersion {
		fmt.Printf("sitepool version %s\n", version.Full())
		return 0
	}

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	sites := splitTargets(*targets)
	if len(sites) == 0 {
		fmt.Fprintln(os.Stderr, "no targets given")
		flag.Usage()
		return 2
	}

	// Start with defaults, then apply config file, then environment, then
	// CLI overrides
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}
	settings := cfg.Settings()
	settings.ApplyEnv()

	if *metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = *metricsAddr
	}

	var tr transport.Transport
	switch *transportKind {
	case "tcp":
		tr = transport.NewTCP()
	case "i2p":
		i2p := transport.NewI2P("sitepool", *samAddr, nil)
		defer i2p.Close()
		tr = i2p
	default:
		fmt.Fprintf(os.Stderr, "unknown transport %q\n", *transportKind)
		flag.Usage()
		return 2
	}

	reg := pool.New(tr, settings)
	defer reg.Close()

	// Create a context that is cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	if cfg.Metrics.Enabled {
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: metricsMux()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
		logger.Info("metrics listening", "addr", cfg.Metrics.Listen)
	}

	logger.Info("sitepool started",
		"transport", *transportKind,
		"targets", len(sites),
		"workers", *workers,
		"maxConns", settings.MaxConns,
		"version", version.Version)

	limiter := rate.NewLimiter(rate.Limit(*probeRate), *workers)

	var probes, failures atomic.Uint64
	var next atomic.Uint64

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *workers; i++ {
		g.Go(func() error {
			for {
				if err := limiter.Wait(gctx); err != nil {
					return nil // context cancelled; not a worker failure
				}

				site := sites[next.Add(1)%uint64(len(sites))]
				probes.Add(1)
				if err := probe(gctx, reg, site); err != nil {
					failures.Add(1)
					logger.Debug("probe failed", "site", site, "error", err)
				}
			}
		})
	}

	g.Wait()

	stats := reg.Stats()
	fmt.Printf("probes: %d  failures: %d\n", probes.Load(), failures.Load())
	fmt.Printf("connections: %d open / %d max (%d idle, %d in use)\n",
		stats.Open, stats.MaxConns, stats.Idle, stats.InUse)
	for _, s := range stats.Sites {
		fmt.Printf("  %-30s open=%d checkouts=%d retries=%d dead=%d exhausted=%d\n",
			s.Site, s.Open, s.Checkouts, s.Retries, s.Deaths, s.Exhausted)
	}

	logger.Info("sitepool stopped", "uptime", time.Since(startTime).Round(time.Second))
	return 0
}

// probe issues one HTTP/1.0 HEAD request over a pooled connection.
func probe(ctx context.Context, reg *pool.Registry, site string) error {
	return reg.WithContext(ctx, site, func(h transport.Handle) error {
		conn, ok := h.(net.Conn)
		if !ok {
			return fmt.Errorf("handle to %s is not a net.Conn", site)
		}

		host := site
		if hp, _, err := net.SplitHostPort(site); err == nil {
			host = hp
		}
		if _, err := fmt.Fprintf(conn, "HEAD / HTTP/1.0\r\nHost: %s\r\nConnection: keep-alive\r\n\r\n", host); err != nil {
			return err
		}

		buf := make([]byte, 512)
		_, err := conn.Read(buf)
		return err
	})
}

func splitTargets(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

var startTime = time.Now()
