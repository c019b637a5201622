package history

import (
	"context"
	"sync"
)

// inflightTable reference-counts the waiters behind each coalesced history
// key. The shared work context is cancelled only when the last waiter lets
// go, so one client abandoning a request does not kill it for the rest.
type inflightTable struct {
	mu      sync.Mutex
	entries map[string]*inflightEntry
}

type inflightEntry struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func newInflightTable() *inflightTable {
	return &inflightTable{entries: make(map[string]*inflightEntry)}
}

// acquire joins (or starts) the inflight entry for key. The returned context
// governs the shared underlying fetch; release must be called exactly once.
func (t *inflightTable) acquire(key string) (context.Context, func()) {
	t.mu.Lock()
	e := t.entries[key]
	if e == nil {
		ctx, cancel := context.WithCancel(context.Background())
		e = &inflightEntry{ctx: ctx, cancel: cancel}
		t.entries[key] = e
	}
	e.waiters++
	t.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			t.mu.Lock()
			e.waiters--
			if e.waiters == 0 {
				e.cancel()
				delete(t.entries, key)
			}
			t.mu.Unlock()
		})
	}
	return e.ctx, release
}
