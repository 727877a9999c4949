package merge

import (
	"context"
	log "log/slog"
	"sync/atomic"
	"time"
)

// IdleActions is what the scheduler invokes once merges fall idle and
// the shard has been quiet for FlushMergesAfter (spec §4.5).
type IdleActions interface {
	// TryRenewSyncCommit attempts the zero-cost sync-commit renewal; it
	// returns false if a renewal was not possible (no sync id, dirty
	// translog, etc.), in which case the scheduler falls back to a full
	// flush.
	TryRenewSyncCommit(ctx context.Context) (bool, error)
	Flush(ctx context.Context) error
	// FailEngine is invoked from HandleMergeException, always on a
	// background goroutine, never inline (spec §4.5).
	FailEngine(ctx context.Context, reason string, cause error)
}

// Scheduler wraps an external merge scheduler with the counters and
// background dispatch spec §4.5 requires.
type Scheduler struct {
	throttle *Throttle
	actions  IdleActions

	maxMergeCount    int
	flushMergesAfter time.Duration

	numMergesInFlight int64
	mergeThrottleHeld int32 // 0/1, guards Activate/Deactivate pairing

	lastWriteNanos int64
}

// NewScheduler wires a Scheduler against throttle and actions. The
// throttle is the one the engine's Index path acquires; no write-buffer
// memory pressure source activates it.
func NewScheduler(throttle *Throttle, maxMergeCount int, flushMergesAfter time.Duration, actions IdleActions) *Scheduler {
	return &Scheduler{
		throttle:         throttle,
		actions:          actions,
		maxMergeCount:    maxMergeCount,
		flushMergesAfter: flushMergesAfter,
	}
}

// RecordWrite stamps the time of the most recent write, consulted by
// the idle-flush heuristic below.
func (s *Scheduler) RecordWrite(nowNanos int64) {
	atomic.StoreInt64(&s.lastWriteNanos, nowNanos)
}

// NumMergesInFlight reports the current in-flight merge count.
func (s *Scheduler) NumMergesInFlight() int64 {
	return atomic.LoadInt64(&s.numMergesInFlight)
}

// BeforeMerge is the MergeListener hook called as a merge begins.
func (s *Scheduler) BeforeMerge() {
	n := atomic.AddInt64(&s.numMergesInFlight, 1)
	if int(n) > s.maxMergeCount && atomic.CompareAndSwapInt32(&s.mergeThrottleHeld, 0, 1) {
		s.throttle.Activate()
	}
}

// AfterMerge is the MergeListener hook called as a merge completes.
// ctx is used only to bound the background idle action; the merge
// thread itself is never blocked on it (spec §4.5 "The job MUST NOT run
// on a merge thread").
func (s *Scheduler) AfterMerge(ctx context.Context, mergeErr error) {
	n := atomic.AddInt64(&s.numMergesInFlight, -1)
	if int(n) <= s.maxMergeCount && atomic.CompareAndSwapInt32(&s.mergeThrottleHeld, 1, 0) {
		s.throttle.Deactivate()
	}

	if n != 0 {
		return
	}
	lastWrite := atomic.LoadInt64(&s.lastWriteNanos)
	if lastWrite == 0 {
		return
	}
	if time.Duration(time.Now().UnixNano()-lastWrite) < s.flushMergesAfter {
		return
	}

	go s.runIdleAction(ctx)
}

func (s *Scheduler) runIdleAction(ctx context.Context) {
	renewed, err := s.actions.TryRenewSyncCommit(ctx)
	if err != nil {
		log.Warn("merge scheduler: sync-commit renewal failed", "error", err)
		return
	}
	if renewed {
		return
	}
	if err := s.actions.Flush(ctx); err != nil {
		log.Warn("merge scheduler: post-merge flush failed", "error", err)
	}
}

// HandleMergeException schedules failEngine on a background goroutine,
// never inline, so the merge scheduler's own thread never deadlocks
// against the lifecycle controller's locks (spec §4.5).
func (s *Scheduler) HandleMergeException(ctx context.Context, reason string, cause error) {
	go s.actions.FailEngine(ctx, reason, cause)
}
