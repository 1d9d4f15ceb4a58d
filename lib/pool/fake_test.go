package pool

import (
	"sync"
	"time"

	"github.com/go-i2p/sitepool/lib/transport"
)

// fakeTransport hands out in-memory handles and counts lifecycle events so
// tests can assert how many connections a pool really opened and closed.
type fakeTransport struct {
	mu      sync.Mutex
	opens   int
	closes  int
	live    int
	maxLive int
	openErr error  // when set, Open fails with this error
	onClose func() // invoked whenever a handle actually closes
}

func (t *fakeTransport) Open(site string, keepAlive time.Duration) (transport.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.openErr != nil {
		return nil, t.openErr
	}
	t.opens++
	t.live++
	if t.live > t.maxLive {
		t.maxLive = t.live
	}
	return &fakeHandle{tr: t, site: site}, nil
}

func (t *fakeTransport) stats() (opens, closes, maxLive int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens, t.closes, t.maxLive
}

func (t *fakeTransport) setOpenErr(err error) {
	t.mu.Lock()
	t.openErr = err
	t.mu.Unlock()
}

type fakeHandle struct {
	tr   *fakeTransport
	site string

	mu     sync.Mutex
	closed bool
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	h.tr.mu.Lock()
	h.tr.closes++
	h.tr.live--
	hook := h.tr.onClose
	h.tr.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

// testConfig disables the background reaper so sweeps only happen when a
// test calls Flush.
func testConfig() Config {
	return Config{
		MaxConns:     4,
		IdleTimeout:  time.Hour,
		CheckoutWait: 100 * time.Millisecond,
		ReapInterval: 0,
	}
}
