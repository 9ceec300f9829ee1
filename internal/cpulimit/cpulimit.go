// Package cpulimit provides the process-global CPU semaphore (SPEC_FULL.md
// §4.7): any function that launches a CPU-saturating external process
// (pdfseparate, pdftocairo) acquires a permit first, bounding concurrent
// subprocess launches to the logical CPU count so a batch of hundreds of
// documents fanning out concurrently cannot fork-bomb the host.
package cpulimit

import (
	"context"
	"runtime"
	"sync"
)

// Semaphore is a counting semaphore backed by a buffered channel.
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore constructs a semaphore with the given number of permits.
func NewSemaphore(permits int) *Semaphore {
	if permits < 1 {
		permits = 1
	}
	return &Semaphore{slots: make(chan struct{}, permits)}
}

// Acquire blocks until a permit is available or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a permit to the pool.
func (s *Semaphore) Release() {
	<-s.slots
}

var (
	globalOnce sync.Once
	global     *Semaphore
)

// Global returns the process-wide CPU semaphore, sized to runtime.NumCPU()
// and constructed at most once (§5 shared mutable state (4)).
func Global() *Semaphore {
	globalOnce.Do(func() {
		global = NewSemaphore(runtime.NumCPU())
	})
	return global
}
