// ABOUTME: Per-handle mutexes serializing same-account command sequences
// ABOUTME: Operations on different handles never block each other

package deck

import "sync"

// handleLocks hands out one mutex per account handle so a login racing a
// refresh on the same account serializes, while unrelated accounts proceed
// in parallel. Mutexes are never reclaimed; the population is bounded by the
// number of accounts in the deck.
type handleLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newHandleLocks() *handleLocks {
	return &handleLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for a handle and returns its unlock func.
func (h *handleLocks) lock(handle string) func() {
	h.mu.Lock()
	m, ok := h.locks[handle]
	if !ok {
		m = &sync.Mutex{}
		h.locks[handle] = m
	}
	h.mu.Unlock()

	m.Lock()
	return m.Unlock
}
