package engine

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"
	"sync/atomic"

	shardengine "github.com/sop-labs/shardengine"
	"github.com/sop-labs/shardengine/config"
	"github.com/sop-labs/shardengine/internal/lock"
	"github.com/sop-labs/shardengine/internal/merge"
	"github.com/sop-labs/shardengine/internal/store"
	"github.com/sop-labs/shardengine/internal/translog"
	"github.com/sop-labs/shardengine/internal/versionmap"
)

// Engine is the per-shard write engine (spec §2). It owns exactly one
// segment-store Writer/SearcherManager pair and one Translog between
// Open and Close.
type Engine struct {
	cfg config.EngineConfig

	// engineLock is the read/write lock of spec §5's lock hierarchy:
	// write-path ops and recovery take the read side, sync-commit and
	// close take the write side.
	engineLock sync.RWMutex

	uidLocks  *lock.UidLockTable
	distLocks *lock.DistributedUidLockTable
	versions  *versionmap.LiveVersionMap
	writer    store.Writer
	searcher  store.SearcherManager
	tlog      *translog.Translog
	throttle  *merge.Throttle
	sched     *merge.Scheduler

	flushMu    sync.Mutex
	optimizeMu sync.Mutex

	state      atomic.Int32
	failed     atomic.Bool
	failReason atomic.Value // string
	failMu     sync.Mutex

	refCount atomic.Int32

	maxUnsafeAutoIDTimestamp atomic.Int64
	lastWriteNanos           atomic.Int64
	pendingTranslogRecovery  atomic.Bool

	lastCommitID  atomic.Value // string
	syncCommitID  atomic.Value // string
	lastUserData  atomic.Value // map[string]string
}

// Deps bundles the external collaborators an Engine is opened against
// (spec §1 "Surrounding functionality... specified only via the
// contracts the core consumes").
type Deps struct {
	Writer   store.Writer
	Searcher store.SearcherManager
	Translog *translog.Translog
	// DistributedLocks, when set, additionally serializes REPLICA and
	// PEER_RECOVERY origin ops across process boundaries (the in-process
	// striped lock table alone only serializes within this engine's own
	// process). Leave nil for a single-process deployment.
	DistributedLocks *lock.DistributedUidLockTable
}

// Open constructs an Engine for mode, wiring deps and cfg, and runs
// recovery synchronously when mode requires it (spec §4.4, §6 OpenMode).
func Open(mode OpenMode, cfg config.EngineConfig, deps Deps) (*Engine, error) {
	e := &Engine{
		cfg:       cfg,
		uidLocks:  lock.NewUidLockTable(cfg.LockStripes),
		distLocks: deps.DistributedLocks,
		versions:  versionmap.New(),
		writer:    deps.Writer,
		searcher:  deps.Searcher,
		tlog:      deps.Translog,
		throttle:  merge.NewThrottle(),
	}
	e.lastCommitID.Store("")
	e.syncCommitID.Store("")
	e.state.Store(int32(StateOpen))
	e.sched = merge.NewScheduler(e.throttle, cfg.MaxMergeCount, cfg.FlushMergesAfter, e)
	if ml, ok := deps.Writer.(interface {
		SetMergeListener(store.MergeListener)
	}); ok {
		ml.SetMergeListener(&mergeListenerAdapter{sched: e.sched})
	}

	e.refCount.Add(1)

	if mode == OpenIndexAndTranslog {
		e.pendingTranslogRecovery.Store(true)
		e.state.Store(int32(StateRecovering))
		if err := e.recover(context.Background()); err != nil {
			e.refCount.Add(-1)
			return nil, fmt.Errorf("engine: recovery: %w", shardengine.NewError(shardengine.RecoveryFailure, err, nil))
		}
	}
	e.state.Store(int32(StateReady))
	return e, nil
}

// mergeListenerAdapter bridges store.MergeListener's single-arg
// AfterMerge to merge.Scheduler's context-carrying one.
type mergeListenerAdapter struct{ sched *merge.Scheduler }

func (a *mergeListenerAdapter) BeforeMerge()         { a.sched.BeforeMerge() }
func (a *mergeListenerAdapter) AfterMerge(err error) { a.sched.AfterMerge(context.Background(), err) }

// State returns the engine's current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// IsFailed reports whether the engine has been permanently failed.
func (e *Engine) IsFailed() bool { return e.failed.Load() }

func (e *Engine) checkOpen() error {
	if e.failed.Load() {
		reason, _ := e.failReason.Load().(string)
		return shardengine.NewError(shardengine.AlreadyClosed, fmt.Errorf("engine failed: %s", reason), nil)
	}
	st := e.State()
	if st == StateClosing || st == StateClosed {
		return shardengine.NewError(shardengine.AlreadyClosed, fmt.Errorf("engine is %s", st), nil)
	}
	return nil
}

// acquireUidLock always takes the in-process striped lock for uid, and
// additionally takes the distributed lock when distLocks is configured
// and origin may arrive from a different process (spec's REPLICA/
// PEER_RECOVERY cross-process case). The returned release func must be
// called exactly once.
func (e *Engine) acquireUidLock(ctx context.Context, origin Origin, uid []byte) (func(), error) {
	guard := e.uidLocks.Acquire(uid)
	if e.distLocks == nil || !origin.crossesProcesses() {
		return guard.Release, nil
	}
	dg, err := e.distLocks.AcquireContext(ctx, uid)
	if err != nil {
		guard.Release()
		return nil, err
	}
	return func() {
		if relErr := dg.Release(ctx); relErr != nil {
			log.Warn("engine: distributed uid lock release failed; will expire via TTL", "uid", string(uid), "error", relErr)
		}
		guard.Release()
	}, nil
}

// Index plans and executes an index operation (spec §4.1).
func (e *Engine) Index(ctx context.Context, req IndexRequest) (IndexResult, error) {
	if err := e.checkOpen(); err != nil {
		return IndexResult{}, err
	}
	e.engineLock.RLock()
	defer e.engineLock.RUnlock()

	release, err := e.acquireUidLock(ctx, req.Origin, req.Uid)
	if err != nil {
		return IndexResult{}, shardengine.NewError(shardengine.DocumentFailure, err, req.Uid)
	}
	defer release()

	var throttleRelease func()
	if !req.Origin.isRecovery() {
		throttleRelease = e.throttle.Acquire()
		defer throttleRelease()
	}

	e.lastWriteNanos.Store(req.StartTimeNanos)
	e.sched.RecordWrite(req.StartTimeNanos)

	plan := e.planIndex(req)
	if plan.EarlyResult != nil {
		res := *plan.EarlyResult
		res.TookNanos = nowNanos() - req.StartTimeNanos
		return res, nil
	}

	if plan.IndexIntoLucene {
		doc := store.Document{Uid: req.Uid, Version: plan.VersionForIndexing, Source: req.Source}
		var applyErr error
		if plan.UseUpdate {
			applyErr = e.writer.UpdateDocument(ctx, req.Uid, doc)
		} else {
			applyErr = e.writer.AddDocument(ctx, doc)
		}
		if applyErr != nil {
			if tragic := e.writer.TragicException(); tragic != nil {
				e.failEngine(ctx, "segment writer tragic exception on index", tragic)
				return IndexResult{}, shardengine.NewError(shardengine.TragicEvent, tragic, nil)
			}
			return IndexResult{Failure: shardengine.NewError(shardengine.DocumentFailure, applyErr, req.Uid)}, nil
		}
	}

	if !plan.SkipVersionMapUpdate {
		e.versions.Put(req.Uid, versionmap.VersionValue{Version: plan.VersionForIndexing})
	}

	result := IndexResult{
		Version: plan.VersionForIndexing,
		Created: plan.Created,
	}

	if !req.Origin.isRecovery() {
		loc, err := e.tlog.Add(translog.Op{Kind: translog.KindIndex, Uid: req.Uid, Version: plan.VersionForIndexing, Source: req.Source})
		if err != nil {
			if tragic := e.tlog.TragicException(); tragic != nil {
				e.failEngine(ctx, "translog tragic exception on index", tragic)
				return IndexResult{}, shardengine.NewError(shardengine.TragicEvent, tragic, nil)
			}
			return IndexResult{}, shardengine.NewError(shardengine.FlushFailed, err, nil)
		}
		result.TranslogLocation = &loc
	}

	result.TookNanos = nowNanos() - req.StartTimeNanos
	return result, nil
}

func (e *Engine) planIndex(req IndexRequest) IndexingStrategy {
	if req.AutoGeneratedIDTimestamp != nil && (req.Origin.isPrimary() || e.autoIDNeverSeen(req.Uid)) {
		return e.planAutoID(req)
	}

	current, notFoundOrDeleted := e.resolveDocVersion(req.Uid)

	if req.Origin.isPrimary() {
		if req.VersionType.IsVersionConflictForWrites(current, req.Version, notFoundOrDeleted) {
			err := shardengine.NewError(shardengine.VersionConflict, fmt.Errorf("version conflict: current=%d requested=%d", current, req.Version), req.Uid)
			return skipDueToVersionConflict(err, current, 0)
		}
		baseline := current
		if notFoundOrDeleted {
			baseline = 0
		}
		return processNormally(notFoundOrDeleted, req.VersionType.UpdateVersion(baseline, req.Version))
	}

	switch compareOpToLuceneDocBasedOnVersions(req.Version, current, notFoundOrDeleted) {
	case opStaleOrEqual:
		return processButSkipLuceneIndex(req.Version)
	case luceneDocNotFound:
		return processNormally(true, req.Version)
	default: // opNewer
		return processNormally(false, req.Version)
	}
}

// autoIDNeverSeen reports whether uid has never appeared in the version
// map, the gate spec §4.1 puts on the replica/recovery auto-id fast path
// ("applies only when the doc has never been seen").
func (e *Engine) autoIDNeverSeen(uid []byte) bool {
	_, found := e.versions.Get(uid)
	return !found
}

func (e *Engine) planAutoID(req IndexRequest) IndexingStrategy {
	ts := *req.AutoGeneratedIDTimestamp
	if req.IsRetry {
		e.raiseMaxUnsafeAutoIDTimestamp(ts)
		return overrideExistingAsIfNotThere(1)
	}
	if e.maxUnsafeAutoIDTimestamp.Load() >= ts {
		return overrideExistingAsIfNotThere(1)
	}
	return optimizedAppendOnly(1)
}

func (e *Engine) raiseMaxUnsafeAutoIDTimestamp(ts int64) {
	for {
		cur := e.maxUnsafeAutoIDTimestamp.Load()
		if ts <= cur {
			return
		}
		if e.maxUnsafeAutoIDTimestamp.CompareAndSwap(cur, ts) {
			return
		}
	}
}

// resolveDocVersion looks up uid in the version map, falling back to an
// index-side reader lookup, and applies the gc-deletes-aged-tombstone
// rule (spec §4.1 step 2).
func (e *Engine) resolveDocVersion(uid []byte) (current int64, notFoundOrDeleted bool) {
	if vv, ok := e.versions.Get(uid); ok {
		if vv.IsDelete {
			if e.cfg.GCDeletesEnabled && shardengine.NowMillis()-vv.TimeMillis > e.cfg.GCDeletesMillis {
				// Aged past the GC window: treat as if the uid had never
				// existed, so a fresh index can recreate it at version 1.
				return 0, true
			}
			// A fresh tombstone is still "found" for conflict-checking
			// purposes: this is what stops a stale op from resurrecting a
			// just-deleted document (spec §4.1 step 2, §7 Tombstone).
			return vv.Version, false
		}
		return vv.Version, false
	}

	s := e.searcher.Acquire()
	defer e.searcher.Release(s)
	if doc, ok := s.Get(uid); ok {
		return doc.Version, false
	}
	return 0, true
}

// Delete plans and executes a delete operation (spec §4.1).
func (e *Engine) Delete(ctx context.Context, req DeleteRequest) (DeleteResult, error) {
	if err := e.checkOpen(); err != nil {
		return DeleteResult{}, err
	}
	e.engineLock.RLock()
	defer e.engineLock.RUnlock()

	release, err := e.acquireUidLock(ctx, req.Origin, req.Uid)
	if err != nil {
		return DeleteResult{}, shardengine.NewError(shardengine.DocumentFailure, err, req.Uid)
	}
	defer release()

	e.lastWriteNanos.Store(req.StartTimeNanos)
	e.sched.RecordWrite(req.StartTimeNanos)

	plan := e.planDelete(req)
	if plan.EarlyResult != nil {
		res := *plan.EarlyResult
		res.TookNanos = nowNanos() - req.StartTimeNanos
		return res, nil
	}

	if plan.DeleteFromLucene {
		if err := e.writer.DeleteDocuments(ctx, req.Uid); err != nil {
			if tragic := e.writer.TragicException(); tragic != nil {
				e.failEngine(ctx, "segment writer tragic exception on delete", tragic)
				return DeleteResult{}, shardengine.NewError(shardengine.TragicEvent, tragic, nil)
			}
			return DeleteResult{Failure: shardengine.NewError(shardengine.DocumentFailure, err, req.Uid)}, nil
		}
	}

	if !plan.SkipVersionMapUpdate {
		e.versions.PutTombstone(req.Uid, plan.VersionOfDeletion, shardengine.NowMillis())
	}

	result := DeleteResult{Version: plan.VersionOfDeletion, Found: plan.Found}

	if !req.Origin.isRecovery() {
		loc, err := e.tlog.Add(translog.Op{Kind: translog.KindDelete, Uid: req.Uid, Version: plan.VersionOfDeletion})
		if err != nil {
			if tragic := e.tlog.TragicException(); tragic != nil {
				e.failEngine(ctx, "translog tragic exception on delete", tragic)
				return DeleteResult{}, shardengine.NewError(shardengine.TragicEvent, tragic, nil)
			}
			return DeleteResult{}, shardengine.NewError(shardengine.FlushFailed, err, nil)
		}
		result.TranslogLocation = &loc
	}

	result.TookNanos = nowNanos() - req.StartTimeNanos
	return result, nil
}

func (e *Engine) planDelete(req DeleteRequest) DeletionStrategy {
	current, notFoundOrDeleted := e.resolveDocVersion(req.Uid)

	if req.Origin.isPrimary() {
		if req.VersionType.IsVersionConflictForWrites(current, req.Version, notFoundOrDeleted) {
			err := shardengine.NewError(shardengine.VersionConflict, fmt.Errorf("version conflict: current=%d requested=%d", current, req.Version), req.Uid)
			return deleteSkipDueToVersionConflict(err, current, 0)
		}
		baseline := current
		if notFoundOrDeleted {
			baseline = 0
		}
		return deleteProcessNormally(notFoundOrDeleted, req.VersionType.UpdateVersion(baseline, req.Version))
	}

	switch compareOpToLuceneDocBasedOnVersions(req.Version, current, notFoundOrDeleted) {
	case opStaleOrEqual:
		return deleteProcessButSkipLucene(!notFoundOrDeleted, current)
	case luceneDocNotFound:
		return deleteProcessNormally(true, req.Version)
	default:
		return deleteProcessNormally(false, req.Version)
	}
}

// Get serves a (possibly realtime) read (spec §4.6).
func (e *Engine) Get(ctx context.Context, req GetRequest) (GetResult, error) {
	if err := e.checkOpen(); err != nil {
		return GetResult{}, err
	}
	e.engineLock.RLock()
	defer e.engineLock.RUnlock()

	if req.Realtime {
		if _, found := e.versions.Get(req.Uid); found {
			if _, err := e.refreshLocked(ctx, "realtime_get"); err != nil {
				return GetResult{}, err
			}
		}
	}

	s := e.searcher.Acquire()
	defer e.searcher.Release(s)

	doc, ok := s.Get(req.Uid)
	if !ok {
		return GetResult{Found: false}, nil
	}
	if req.Version != 0 && req.VersionType.IsVersionConflictForWrites(doc.Version, req.Version, false) {
		err := shardengine.NewError(shardengine.VersionConflict, fmt.Errorf("version conflict: current=%d requested=%d", doc.Version, req.Version), req.Uid)
		return GetResult{}, err
	}
	return GetResult{Found: true, Source: doc.Source, Version: doc.Version}, nil
}
