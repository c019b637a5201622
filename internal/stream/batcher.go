package stream

import (
	"sync"
	"time"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/models"
)

const (
	batchMaxEntries = 5
	batchMaxDelay   = 20 * time.Millisecond
)

// microBatcher coalesces one symbol's micro-bars into microbar_batch events:
// a batch flushes at 5 entries or after 20 ms, whichever comes first.
type microBatcher struct {
	flush func([]models.MicroBar)

	mu      sync.Mutex
	pending []models.MicroBar
	timer   *time.Timer
	stopped bool
}

func newMicroBatcher(flush func([]models.MicroBar)) *microBatcher {
	return &microBatcher{flush: flush}
}

// add folds one micro-bar into the pending batch.
func (b *microBatcher) add(m models.MicroBar) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, m)
	if len(b.pending) >= batchMaxEntries {
		batch := b.take()
		b.mu.Unlock()
		b.flush(batch)
		return
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(batchMaxDelay, b.flushTimer)
	}
	b.mu.Unlock()
}

func (b *microBatcher) flushTimer() {
	b.mu.Lock()
	if b.stopped || len(b.pending) == 0 {
		b.timer = nil
		b.mu.Unlock()
		return
	}
	batch := b.take()
	b.mu.Unlock()
	b.flush(batch)
}

// take hands the pending batch to the caller; b.mu must be held.
func (b *microBatcher) take() []models.MicroBar {
	batch := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return batch
}

// stop discards any pending batch and disables future flushes.
func (b *microBatcher) stop() {
	b.mu.Lock()
	b.stopped = true
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()
}
