package engine

import (
	"context"
	log "log/slog"
)

// failEngine is idempotent (spec §4.7): once failed is set, or once the
// engine has already been closed via Close, subsequent calls no-op.
// failMu is the single lock shared with Close, so the two can never
// both pass their guard and both run decRef. It must never be called
// while holding a lock a merge completion callback might also need,
// which is why merge.Scheduler always dispatches FailEngine on a
// background goroutine.
func (e *Engine) failEngine(ctx context.Context, reason string, cause error) {
	e.failMu.Lock()
	defer e.failMu.Unlock()
	if e.failed.Load() || e.State() == StateClosed {
		return
	}
	e.failed.Store(true)
	e.failReason.Store(reason)
	log.Error("engine: failing", "reason", reason, "cause", cause)

	e.state.Store(int32(StateClosing))
	if err := e.writer.Rollback(ctx); err != nil {
		log.Warn("engine: rollback during failEngine", "error", err)
	}
	if err := e.tlog.Close(); err != nil {
		log.Warn("engine: translog close during failEngine", "error", err)
	}
	e.state.Store(int32(StateClosed))
	e.decRef()
}

// FailEngine implements merge.IdleActions: the scheduler always invokes
// this on a background goroutine (spec §4.5 "never inline").
func (e *Engine) FailEngine(ctx context.Context, reason string, cause error) {
	e.failEngine(ctx, reason, cause)
}

// decRef releases the store reference Open takes with refCount.Add(1);
// together they balance the store reference count (spec §3 Lifecycle,
// §4.7: "every successful open paired with incRef; the matching decRef
// runs on close or construction failure — never both, never neither").
func (e *Engine) decRef() {
	e.refCount.Add(-1)
}

// RefCount returns the current store reference count, for tests and
// diagnostics.
func (e *Engine) RefCount() int32 { return e.refCount.Load() }

// Close transitions the engine to Closed. It holds both the engine
// write lock and failMu (the same lock failEngine takes) across its
// failed-state check and decRef, so a concurrent failEngine (e.g.
// triggered by a merge/writer tragic exception while a caller is
// closing) can never race past it into a second decRef (spec §4.7:
// "the matching decRef runs on close or construction failure — never
// both, never neither").
func (e *Engine) Close(ctx context.Context) error {
	e.engineLock.Lock()
	defer e.engineLock.Unlock()

	e.failMu.Lock()
	defer e.failMu.Unlock()

	if e.failed.Load() {
		return nil
	}
	if e.State() == StateClosed {
		return nil
	}
	e.state.Store(int32(StateClosing))

	var firstErr error
	if err := e.tlog.Close(); err != nil {
		firstErr = err
	}
	e.state.Store(int32(StateClosed))
	e.decRef()
	return firstErr
}
