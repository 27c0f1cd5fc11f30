// Package gcarena implements C9: a per-invocation tracked-allocation
// arena. The original needed this because its module API handed out
// manually-managed buffers and the only safe way to guarantee they got
// freed when a Job finished (normally, by timeout, or by crash) was a
// deferred-destructor log threaded through the invocation. Go's garbage
// collector already reclaims memory, so the arena here exists for the
// non-memory resources a module call can still leak across a Job
// boundary: open store.Rows, HTTP response bodies, or anything else
// opened through the module API (C13) that should not outlive the Job
// that opened it.
package gcarena

import "sync"

// Arena collects cleanup functions registered during one Job and runs
// them all, in reverse registration order, when the Job ends — whether
// it finished normally, timed out, or the worker recovered from a panic.
// Reverse order mirrors the original's destructor stack: the most
// recently acquired resource is released first.
type Arena struct {
	mu       sync.Mutex
	cleanups []func()
	closed   bool
}

// New returns an empty Arena, ready to track one Job's resources.
func New() *Arena {
	return &Arena{}
}

// Track registers cleanup to run when the Arena is released. If the
// Arena has already been released (the Job already ended), cleanup runs
// immediately — this covers a module call that races the timeout and
// acquires a resource just as the worker is tearing the Job down.
func (a *Arena) Track(cleanup func()) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		cleanup()
		return
	}
	a.cleanups = append(a.cleanups, cleanup)
	a.mu.Unlock()
}

// Release runs every registered cleanup in reverse order and marks the
// Arena closed. Safe to call more than once; only the first call runs
// anything.
func (a *Arena) Release() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	cleanups := a.cleanups
	a.cleanups = nil
	a.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}

// Len reports how many cleanups are currently pending, mostly useful in
// tests asserting that a module call registered (or released) what it
// was expected to.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cleanups)
}
