package pool

import (
	"sync"
)

// Slots is the shared capacity counter enforcing the global connection cap.
// Every site pool created by a Registry holds the same Slots instance; a
// slot is reserved before a connection is opened and released only when the
// connection is permanently removed from its pool.
type Slots struct {
	mu    sync.Mutex
	limit int
	used  int

	// freed is closed and replaced on every wake-up event so that waiters
	// in any site pool observe freed capacity or a checked-in connection.
	freed chan struct{}
}

// NewSlots creates a capacity counter with the given global limit.
func NewSlots(limit int) *Slots {
	return &Slots{
		limit: limit,
		freed: make(chan struct{}),
	}
}

// TryAcquire reserves one slot if the global limit has not been reached.
// It never blocks.
func (s *Slots) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.used >= s.limit {
		return false
	}
	s.used++
	return true
}

// Release returns a reserved slot and wakes all waiters.
func (s *Slots) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.used <= 0 {
		panic("pool: slot released that was never acquired")
	}
	s.used--
	s.wakeLocked()
}

// Wake wakes all waiters without releasing capacity. Checkin uses it so a
// blocked caller can pick up a connection returned to its own pool.
func (s *Slots) Wake() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wakeLocked()
}

func (s *Slots) wakeLocked() {
	close(s.freed)
	s.freed = make(chan struct{})
}

// Freed returns a channel closed on the next wake-up event. Waiters must
// obtain the channel before re-checking pool state so no wake-up is missed.
func (s *Slots) Freed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freed
}

// InUse returns the number of reserved slots across all site pools.
func (s *Slots) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// Limit returns the global connection cap.
func (s *Slots) Limit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit
}
