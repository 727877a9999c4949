// Package merge implements the Merge/Throttle Scheduler (spec §4.5): it
// tracks in-flight merges, throttles indexing when merges fall behind,
// and triggers post-merge flush. Grounded on the teacher's background
// task dispatch idiom (task_runner.go's errgroup-backed TaskRunner) for
// "never run this on a merge thread" callbacks.
package merge

import "sync"

// Throttle is a gate: when active, it admits one goroutine at a time;
// when inactive, Acquire is a no-op (spec §4.1 "Throttling"). The gate
// is not reentrant: while the throttle is active, a goroutine that calls
// Acquire again before releasing blocks. Activation is refcounted so
// that independent pressure sources can each hold the gate active; it
// stays active until every Activate has been matched by a Deactivate.
// Within the engine, merge.Scheduler is the only caller of Activate.
type Throttle struct {
	mu    sync.Mutex
	gate  sync.Mutex
	count int64
}

// NewThrottle returns an inactive throttle.
func NewThrottle() *Throttle {
	return &Throttle{}
}

// Activate increments the shared reference count. It never touches the
// gate itself: gate admission is Acquire's job, per operation, not
// Activate/Deactivate's.
func (t *Throttle) Activate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
}

// Deactivate decrements the shared reference count. Calling Deactivate
// without a matching prior Activate is a caller bug and is ignored
// rather than panicking, since losing the throttle is always safe
// (admits more concurrency, never corrupts state) while panicking on an
// async merge-completion callback is not.
func (t *Throttle) Deactivate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return
	}
	t.count--
}

// IsThrottled reports whether the gate is currently active (spec
// invariant 7: isThrottled <=> throttleRequestCount > 0).
func (t *Throttle) IsThrottled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count > 0
}

// RequestCount returns the current reference count (spec invariant 7:
// throttleRequestCount >= 0 always).
func (t *Throttle) RequestCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Acquire blocks until admitted: immediately if the throttle is
// inactive, or after waiting for the current holder's release if
// active. The gate is the unit of admission here, held only for the
// duration of the caller's own operation, so an active throttle
// serializes writers to one at a time rather than shutting indexing
// out entirely until Deactivate brings the count back to zero. It
// returns a release function that must be called exactly once.
func (t *Throttle) Acquire() func() {
	t.mu.Lock()
	active := t.count > 0
	t.mu.Unlock()
	if !active {
		return func() {}
	}
	t.gate.Lock()
	return func() { t.gate.Unlock() }
}
