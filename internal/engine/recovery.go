package engine

import (
	"context"
	"fmt"

	"github.com/sop-labs/shardengine/internal/translog"
)

// recover replays the translog into the write path with recovery
// origin, invoked exactly once per engine lifetime when opened with
// OpenIndexAndTranslog (spec §4.4). While pendingTranslogRecovery is
// true, flush/syncFlush/tryRenewSyncCommit all refuse to run: a partial
// replay must never be folded into a segment commit.
func (e *Engine) recover(ctx context.Context) error {
	startGen := uint64(1)
	if userData := e.writer.LastCommitUserData(); userData != nil {
		gen, err := translog.DecodeGeneration(userData)
		if err != nil {
			return fmt.Errorf("engine: decode commit userData for recovery: %w", err)
		}
		startGen = gen.FileGen
	}

	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	snap, err := e.tlog.NewSnapshot(startGen)
	if err != nil {
		return fmt.Errorf("engine: translog snapshot: %w", err)
	}

	replayed := 0
	for {
		op, ok := snap.Next()
		if !ok {
			break
		}
		meta := OpMeta{
			Uid:            op.Uid,
			Version:        op.Version,
			VersionType:    VersionForce,
			Origin:         OriginLocalTranslogRecovery,
			StartTimeNanos: nowNanos(),
		}
		switch op.Kind {
		case translog.KindIndex:
			if _, err := e.Index(ctx, IndexRequest{OpMeta: meta, Source: op.Source}); err != nil {
				return fmt.Errorf("engine: replay index: %w", err)
			}
		case translog.KindDelete:
			if _, err := e.Delete(ctx, DeleteRequest{OpMeta: meta}); err != nil {
				return fmt.Errorf("engine: replay delete: %w", err)
			}
		}
		replayed++
	}

	e.pendingTranslogRecovery.Store(false)

	switch {
	case replayed > 0:
		e.engineLock.RLock()
		_, err := e.flushUnderMu(ctx, true)
		e.engineLock.RUnlock()
		if err != nil {
			return fmt.Errorf("engine: post-recovery flush: %w", err)
		}
	case e.tlog.CurrentFileGeneration() != startGen:
		gen := e.tlog.GenerationDescriptor()
		userData := translog.EncodeUserData(gen, "")
		if err := e.writer.Commit(ctx, userData); err != nil {
			return fmt.Errorf("engine: post-recovery userData-only commit: %w", err)
		}
	}
	return nil
}
