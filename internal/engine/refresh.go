package engine

import (
	"context"

	shardengine "github.com/sop-labs/shardengine"
	"github.com/sop-labs/shardengine/config"
	"github.com/sop-labs/shardengine/internal/store"
)

// Refresh reopens the point-in-time reader and is the sole event that
// lets the version map drop its "old" generation (spec §4.6).
func (e *Engine) Refresh(ctx context.Context, reason string) (bool, error) {
	e.engineLock.RLock()
	defer e.engineLock.RUnlock()
	return e.refreshLocked(ctx, reason)
}

// refreshLocked assumes the caller already holds at least the engine
// read-lock.
func (e *Engine) refreshLocked(ctx context.Context, reason string) (bool, error) {
	e.versions.BeforeRefresh()
	changed, err := e.searcher.RefreshIfNeeded(ctx)
	e.versions.AfterRefresh()
	if err != nil {
		if tragic := e.writer.TragicException(); tragic != nil {
			e.failEngine(ctx, "tragic exception during refresh ("+reason+")", tragic)
			return false, shardengine.NewError(shardengine.TragicEvent, tragic, nil)
		}
		return false, shardengine.NewError(shardengine.RefreshFailed, err, nil)
	}
	e.versions.GCTombstones(shardengine.NowMillis(), e.cfg.GCDeletesMillis, e.cfg.GCDeletesEnabled)
	return changed, nil
}

// WriteIndexingBuffer is the external memory controller's load-shedding
// hook: the 25%-of-indexing-buffer rule decides between a full refresh
// (which frees the version map) and a cheap segment flush (spec §4.6).
func (e *Engine) WriteIndexingBuffer(ctx context.Context) (bool, error) {
	e.engineLock.RLock()
	defer e.engineLock.RUnlock()

	threshold := e.cfg.IndexWriterBufferBytes / config.RefreshVsFlushFraction()
	if e.versions.RAMBytesUsedForRefresh() > threshold {
		_, err := e.refreshLocked(ctx, "write_indexing_buffer")
		return true, err
	}
	if err := e.writer.Flush(ctx); err != nil {
		if tragic := e.writer.TragicException(); tragic != nil {
			e.failEngine(ctx, "tragic exception during writeIndexingBuffer flush", tragic)
			return false, shardengine.NewError(shardengine.TragicEvent, tragic, nil)
		}
		return false, shardengine.NewError(shardengine.FlushFailed, err, nil)
	}
	return false, nil
}

// IsThrottled reports whether indexing is currently throttled (spec §6,
// §8 invariant 7).
func (e *Engine) IsThrottled() bool { return e.throttle.IsThrottled() }

// Segments lists the segment store's current segments (spec §6).
func (e *Engine) Segments(verbose bool) []store.Segment { return e.writer.Segments(verbose) }

// IndexBufferRAMBytesUsed reports the segment writer's buffered RAM
// usage (spec §6).
func (e *Engine) IndexBufferRAMBytesUsed() int64 { return e.writer.RAMBytesUsed() }

// VersionMapRAMBytesUsed reports the live version map's approximate
// footprint, for diagnostics.
func (e *Engine) VersionMapRAMBytesUsed() int64 { return e.versions.RAMBytesUsed() }
