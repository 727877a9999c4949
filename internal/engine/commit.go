package engine

import (
	"context"
	"errors"

	shardengine "github.com/sop-labs/shardengine"
	"github.com/sop-labs/shardengine/internal/filter"
	"github.com/sop-labs/shardengine/internal/store"
	"github.com/sop-labs/shardengine/internal/translog"
)

// ExpungePredicateFromFilter adapts a compiled CEL evaluator into a
// store.ExpungePredicate, so a ForceMergeRequest can reclaim tombstones
// by policy instead of unconditionally (e.g. "expunge deletes older
// than 7 days") rather than only MaxSegments/ExpungeDeletes. Callers
// build eval with filter.NewEvaluator and pass the result as
// ForceMergeRequest.ExpungePredicate.
func ExpungePredicateFromFilter(eval *filter.Evaluator) store.ExpungePredicate {
	return eval.Matches
}

// FlushWithOptions drives the commit/flush coordinator (spec §4.3). It
// acquires the engine read-lock itself; callers already holding it must
// use flushLocked instead (recovery, which also holds flushMu, calls
// flushUnderMu).
func (e *Engine) FlushWithOptions(ctx context.Context, force, waitIfOngoing bool) (string, error) {
	e.engineLock.RLock()
	defer e.engineLock.RUnlock()
	return e.flushLocked(ctx, force, waitIfOngoing)
}

// Flush implements merge.IdleActions: a plain, forced, blocking flush,
// the fallback the scheduler takes when TryRenewSyncCommit can't apply.
func (e *Engine) Flush(ctx context.Context) error {
	_, err := e.FlushWithOptions(ctx, true, true)
	return err
}

func (e *Engine) flushLocked(ctx context.Context, force, waitIfOngoing bool) (string, error) {
	if e.pendingTranslogRecovery.Load() {
		return "", shardengine.NewError(shardengine.FlushFailed, errors.New("flush attempted before translog recovery completed"), nil)
	}

	if waitIfOngoing {
		e.flushMu.Lock()
	} else if !e.flushMu.TryLock() {
		id, _ := e.lastCommitID.Load().(string)
		return id, nil
	}
	defer e.flushMu.Unlock()

	return e.flushUnderMu(ctx, force)
}

// flushUnderMu is the commit/flush coordinator's core (spec §4.3 steps
// 1-5), assuming the caller already holds flushMu. Recovery calls this
// directly since it holds flushMu across the whole replay+flush sequence
// and must not re-lock it.
func (e *Engine) flushUnderMu(ctx context.Context, force bool) (string, error) {
	if !e.writer.HasUncommittedChanges() && !force {
		id, _ := e.lastCommitID.Load().(string)
		return id, nil
	}

	// Step 1: roll the translog before the segment store commits, so a
	// crash anywhere after this point still names a generation recovery
	// can replay from (spec §4.3).
	if err := e.tlog.PrepareCommit(); err != nil {
		if tragic := e.tlog.TragicException(); tragic != nil {
			e.failEngine(ctx, "translog tragic exception during flush prepareCommit", tragic)
			return "", shardengine.NewError(shardengine.TragicEvent, tragic, nil)
		}
		return "", shardengine.NewError(shardengine.FlushFailed, err, nil)
	}

	// Step 2: commit the segment store, embedding the rolled generation.
	gen := e.tlog.GenerationDescriptor()
	syncID, _ := e.syncCommitID.Load().(string)
	userData := translog.EncodeUserData(gen, syncID)
	if err := e.writer.Commit(ctx, userData); err != nil {
		if tragic := e.writer.TragicException(); tragic != nil {
			e.failEngine(ctx, "segment writer tragic exception during flush commit", tragic)
			return "", shardengine.NewError(shardengine.TragicEvent, tragic, nil)
		}
		return "", shardengine.NewError(shardengine.FlushFailed, err, nil)
	}

	// Step 3: refresh makes the commit visible and releases the version
	// map's old generation.
	if _, err := e.refreshLocked(ctx, "version_table_flush"); err != nil {
		return "", err
	}

	// Step 4: only now may the translog reclaim the rolled-past
	// generations; any earlier reclaim would strand a crash recovery.
	if err := e.tlog.Commit(); err != nil {
		return "", shardengine.NewError(shardengine.FlushFailed, err, nil)
	}

	commitID := shardengine.NewUUID().String()
	e.lastCommitID.Store(commitID)
	e.lastUserData.Store(userData)
	return commitID, nil
}

// SyncFlush commits a quiescence marker if the shard truly has no
// pending operations and has not moved past expectedCommitID since the
// caller last observed it (spec §4.3).
func (e *Engine) SyncFlush(ctx context.Context, syncID, expectedCommitID string) (SyncedFlushResult, error) {
	if e.pendingTranslogRecovery.Load() {
		return SyncFlushPendingOperations, shardengine.NewError(shardengine.FlushFailed, errors.New("sync flush attempted before translog recovery completed"), nil)
	}
	e.engineLock.RLock()
	pending := e.writer.HasUncommittedChanges()
	current, _ := e.lastCommitID.Load().(string)
	e.engineLock.RUnlock()
	if pending {
		return SyncFlushPendingOperations, nil
	}
	if current != expectedCommitID {
		return SyncFlushCommitMismatch, nil
	}

	e.engineLock.Lock()
	defer e.engineLock.Unlock()

	if e.writer.HasUncommittedChanges() {
		return SyncFlushPendingOperations, nil
	}
	if cur, _ := e.lastCommitID.Load().(string); cur != expectedCommitID {
		return SyncFlushCommitMismatch, nil
	}

	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	gen := e.tlog.GenerationDescriptor()
	userData := translog.EncodeUserData(gen, syncID)
	if err := e.writer.Commit(ctx, userData); err != nil {
		if tragic := e.writer.TragicException(); tragic != nil {
			e.failEngine(ctx, "segment writer tragic exception during syncFlush", tragic)
			return SyncFlushCommitMismatch, shardengine.NewError(shardengine.TragicEvent, tragic, nil)
		}
		return SyncFlushCommitMismatch, shardengine.NewError(shardengine.FlushFailed, err, nil)
	}
	e.syncCommitID.Store(syncID)
	e.lastCommitID.Store(shardengine.NewUUID().String())
	e.lastUserData.Store(userData)
	return SyncFlushSuccess, nil
}

// TryRenewSyncCommit implements merge.IdleActions: cheaply re-commits
// the existing sync-commit marker without a full flush, when the writer
// has only segment-level bookkeeping changes and no translog growth
// (spec §4.3).
func (e *Engine) TryRenewSyncCommit(ctx context.Context) (bool, error) {
	if e.pendingTranslogRecovery.Load() {
		return false, shardengine.NewError(shardengine.FlushFailed, errors.New("sync commit renewal attempted before translog recovery completed"), nil)
	}
	e.engineLock.Lock()
	syncID, _ := e.syncCommitID.Load().(string)
	if syncID == "" || !e.writer.HasUncommittedChanges() {
		e.engineLock.Unlock()
		return false, nil
	}
	snap, snapErr := e.tlog.NewSnapshot(e.tlog.CurrentFileGeneration())
	if snapErr != nil || snap.Len() > 0 {
		e.engineLock.Unlock()
		return false, snapErr
	}

	gen := e.tlog.GenerationDescriptor()
	userData := translog.EncodeUserData(gen, syncID)
	err := e.writer.Commit(ctx, userData)
	e.engineLock.Unlock()
	if err != nil {
		if tragic := e.writer.TragicException(); tragic != nil {
			e.failEngine(ctx, "segment writer tragic exception during renewSyncCommit", tragic)
			return false, shardengine.NewError(shardengine.TragicEvent, tragic, nil)
		}
		return false, shardengine.NewError(shardengine.FlushFailed, err, nil)
	}
	e.lastCommitID.Store(shardengine.NewUUID().String())
	e.lastUserData.Store(userData)

	// Refresh happens outside the write lock (spec §4.3).
	if _, err := e.Refresh(ctx, "try_renew_sync_commit"); err != nil {
		return true, err
	}
	return true, nil
}

// ForceMerge drives a merge, serialized by the dedicated optimize mutex
// rather than the flush mutex (spec §4.3).
func (e *Engine) ForceMerge(ctx context.Context, req store.ForceMergeRequest) error {
	e.optimizeMu.Lock()
	defer e.optimizeMu.Unlock()

	e.engineLock.RLock()
	err := e.writer.ForceMerge(ctx, req)
	e.engineLock.RUnlock()
	if err != nil {
		if tragic := e.writer.TragicException(); tragic != nil {
			e.failEngine(ctx, "segment writer tragic exception during forceMerge", tragic)
			return shardengine.NewError(shardengine.TragicEvent, tragic, nil)
		}
		return shardengine.NewError(shardengine.DocumentFailure, err, nil)
	}

	if renewed, err := e.TryRenewSyncCommit(ctx); err != nil {
		return err
	} else if !renewed {
		if _, err := e.FlushWithOptions(ctx, true, true); err != nil {
			return err
		}
	}
	return nil
}

// CommitUserData returns the userData embedded by the most recent
// successful commit, for diagnostics and snapshot/backup tooling.
func (e *Engine) CommitUserData() map[string]string {
	v, _ := e.lastUserData.Load().(map[string]string)
	return v
}
