package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-i2p/sitepool/lib/transport"
)

func newTestRegistry(t *testing.T, tr *fakeTransport, cfg Config) *Registry {
	t.Helper()
	r := New(tr, cfg)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestWithReusesConnection(t *testing.T) {
	tr := &fakeTransport{}
	r := newTestRegistry(t, tr, testConfig())

	for i := 0; i < 5; i++ {
		if err := r.With("a.example:80", func(transport.Handle) error { return nil }); err != nil {
			t.Fatalf("With: %v", err)
		}
	}

	if opens, _, _ := tr.stats(); opens != 1 {
		t.Errorf("expected 1 open for 5 sequential uses, got %d", opens)
	}
	if r.Size() != 1 {
		t.Errorf("expected size 1, got %d", r.Size())
	}
}

func TestSeparateSitesSeparateConnections(t *testing.T) {
	tr := &fakeTransport{}
	cfg := testConfig()
	cfg.MaxConns = 2
	r := newTestRegistry(t, tr, cfg)

	if err := r.With("a.example:80", func(transport.Handle) error { return nil }); err != nil {
		t.Fatalf("With a: %v", err)
	}
	if err := r.With("b.example:80", func(transport.Handle) error { return nil }); err != nil {
		t.Fatalf("With b: %v", err)
	}

	if opens, _, _ := tr.stats(); opens != 2 {
		t.Errorf("expected one connection per destination, got %d opens", opens)
	}
	if r.Size() != 2 {
		t.Errorf("expected size 2, got %d", r.Size())
	}
}

func TestCheckoutBlocksThenTimesOut(t *testing.T) {
	tr := &fakeTransport{}
	cfg := testConfig()
	cfg.MaxConns = 1
	cfg.CheckoutWait = 80 * time.Millisecond
	r := newTestRegistry(t, tr, cfg)

	// Park the only connection in a's idle set. The slot stays reserved,
	// so b can neither reuse it nor open its own.
	if err := r.With("a.example:80", func(transport.Handle) error { return nil }); err != nil {
		t.Fatalf("With a: %v", err)
	}

	start := time.Now()
	err := r.With("b.example:80", func(transport.Handle) error { return nil })
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if waited := time.Since(start); waited < cfg.CheckoutWait || waited > 5*time.Second {
		t.Errorf("checkout waited %v, want about %v", waited, cfg.CheckoutWait)
	}

	// Reaping a's idle connection frees the slot for b
	r.cfg.IdleTimeout = 0
	r.Flush()
	if err := r.With("b.example:80", func(transport.Handle) error { return nil }); err != nil {
		t.Fatalf("With b after flush: %v", err)
	}
}

func TestCheckinWakesSameSiteWaiter(t *testing.T) {
	tr := &fakeTransport{}
	cfg := testConfig()
	cfg.MaxConns = 1
	cfg.CheckoutWait = 2 * time.Second
	r := newTestRegistry(t, tr, cfg)

	hold := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.With("a.example:80", func(transport.Handle) error {
			close(started)
			<-hold
			return nil
		})
	}()

	<-started
	time.AfterFunc(30*time.Millisecond, func() { close(hold) })

	// Blocks until the holder checks the connection back in
	if err := r.With("a.example:80", func(transport.Handle) error { return nil }); err != nil {
		t.Fatalf("waiting With: %v", err)
	}
	wg.Wait()

	if opens, _, _ := tr.stats(); opens != 1 {
		t.Errorf("waiter should reuse the checked-in connection, got %d opens", opens)
	}
}

func TestContextCancelAbortsCheckout(t *testing.T) {
	tr := &fakeTransport{}
	cfg := testConfig()
	cfg.MaxConns = 1
	cfg.CheckoutWait = 10 * time.Second
	r := newTestRegistry(t, tr, cfg)

	hold := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.With("a.example:80", func(transport.Handle) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started
	defer func() {
		close(hold)
		wg.Wait()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	err := r.WithContext(ctx, "b.example:80", func(transport.Handle) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestContextDeadlineOverridesWait(t *testing.T) {
	tr := &fakeTransport{}
	cfg := testConfig()
	cfg.MaxConns = 1
	cfg.CheckoutWait = 10 * time.Second
	r := newTestRegistry(t, tr, cfg)

	// Saturate the cap with an idle connection on another destination
	if err := r.With("a.example:80", func(transport.Handle) error { return nil }); err != nil {
		t.Fatalf("With a: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := r.WithContext(ctx, "b.example:80", func(transport.Handle) error { return nil })
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if waited := time.Since(start); waited > 2*time.Second {
		t.Errorf("caller deadline should cut the configured wait short, waited %v", waited)
	}
}

func TestDeadConnectionNotReused(t *testing.T) {
	tr := &fakeTransport{}
	r := newTestRegistry(t, tr, testConfig())

	fatal := errors.New("boom")
	if err := r.With("a.example:80", func(transport.Handle) error { return fatal }); !errors.Is(err, fatal) {
		t.Fatalf("expected work error, got %v", err)
	}

	// The dead connection was closed on checkin; the next use opens anew
	if err := r.With("a.example:80", func(transport.Handle) error { return nil }); err != nil {
		t.Fatalf("With after death: %v", err)
	}

	opens, closes, _ := tr.stats()
	if opens != 2 {
		t.Errorf("expected 2 opens, got %d", opens)
	}
	if closes != 1 {
		t.Errorf("expected dead connection closed, got %d closes", closes)
	}
	if r.Size() != 1 {
		t.Errorf("dead connection should release its slot, size %d", r.Size())
	}
}

func TestOpenFailurePropagates(t *testing.T) {
	tr := &fakeTransport{}
	dialErr := errors.New("no route to host")
	tr.setOpenErr(dialErr)
	r := newTestRegistry(t, tr, testConfig())

	err := r.With("a.example:80", func(transport.Handle) error { return nil })
	if !errors.Is(err, dialErr) {
		t.Fatalf("expected dial error, got %v", err)
	}
	if r.Size() != 0 {
		t.Errorf("failed open should release its slot, size %d", r.Size())
	}

	// Capacity is intact once the destination recovers
	tr.setOpenErr(nil)
	if err := r.With("a.example:80", func(transport.Handle) error { return nil }); err != nil {
		t.Fatalf("With after recovery: %v", err)
	}
}

func TestCapNeverExceededUnderLoad(t *testing.T) {
	tr := &fakeTransport{}
	cfg := testConfig()
	cfg.MaxConns = 3
	cfg.CheckoutWait = 5 * time.Second
	r := newTestRegistry(t, tr, cfg)

	sites := []string{"a.example:80", "b.example:80", "c.example:80", "d.example:80", "e.example:80"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		site := sites[i%len(sites)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				err := r.With(site, func(transport.Handle) error {
					time.Sleep(time.Millisecond)
					return nil
				})
				if err != nil && !errors.Is(err, ErrExhausted) {
					t.Errorf("With: %v", err)
				}
				// Reap aggressively so slots migrate between destinations
				if j%3 == 0 {
					r.Flush()
				}
			}
		}()
	}
	wg.Wait()

	if _, _, maxLive := tr.stats(); maxLive > cfg.MaxConns {
		t.Errorf("%d connections were live at once, cap is %d", maxLive, cfg.MaxConns)
	}
	if r.Size() > cfg.MaxConns {
		t.Errorf("size %d exceeds cap %d", r.Size(), cfg.MaxConns)
	}
}

func TestRegistryClose(t *testing.T) {
	tr := &fakeTransport{}
	r := New(tr, testConfig())

	for _, site := range []string{"a.example:80", "b.example:80"} {
		if err := r.With(site, func(transport.Handle) error { return nil }); err != nil {
			t.Fatalf("With %s: %v", site, err)
		}
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close should return ErrClosed, got %v", err)
	}
	if err := r.With("a.example:80", func(transport.Handle) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("With after Close should return ErrClosed, got %v", err)
	}

	opens, closes, _ := tr.stats()
	if closes != opens {
		t.Errorf("Close should close all connections: %d opens, %d closes", opens, closes)
	}
	if r.Size() != 0 {
		t.Errorf("expected size 0 after Close, got %d", r.Size())
	}
}

func TestRegistryStats(t *testing.T) {
	tr := &fakeTransport{}
	r := newTestRegistry(t, tr, testConfig())

	if err := r.With("a.example:80", func(transport.Handle) error { return nil }); err != nil {
		t.Fatalf("With: %v", err)
	}

	s := r.Stats()
	if s.MaxConns != 4 {
		t.Errorf("expected MaxConns 4, got %d", s.MaxConns)
	}
	if s.Open != 1 || s.Idle != 1 || s.InUse != 0 {
		t.Errorf("expected 1 open idle connection, got open=%d idle=%d inUse=%d", s.Open, s.Idle, s.InUse)
	}
	if len(s.Sites) != 1 {
		t.Fatalf("expected 1 site, got %d", len(s.Sites))
	}
	ss := s.Sites[0]
	if ss.Site != "a.example:80" {
		t.Errorf("unexpected site %q", ss.Site)
	}
	if ss.Checkouts != 1 {
		t.Errorf("expected 1 checkout, got %d", ss.Checkouts)
	}
}

func TestDefaultRegistryIsSingleton(t *testing.T) {
	if Default() != Default() {
		t.Error("Default should return the same registry")
	}
}
