// Package engine ties the write path, planner, commit/flush coordinator,
// recovery driver, merge/throttle scheduler, refresh provider, and
// lifecycle/failure controller into one per-shard Engine (spec §2-§7).
// Grounded on the teacher's two-phase commit transaction coordinator
// (common/two_phase_commit_transaction.go) for the overall shape of "take
// locks in a fixed order, apply, append a durable record, release" and on
// common/itemactiontracker.go for per-item (here per-uid) version
// bookkeeping.
package engine

import (
	shardengine "github.com/sop-labs/shardengine"
	"github.com/sop-labs/shardengine/internal/translog"
)

// Origin identifies who produced an operation (spec §3 Operation).
type Origin int

const (
	OriginPrimary Origin = iota
	OriginReplica
	OriginPeerRecovery
	OriginLocalTranslogRecovery
)

func (o Origin) String() string {
	switch o {
	case OriginPrimary:
		return "primary"
	case OriginReplica:
		return "replica"
	case OriginPeerRecovery:
		return "peer_recovery"
	case OriginLocalTranslogRecovery:
		return "local_translog_recovery"
	default:
		return "unknown"
	}
}

// isRecovery reports whether this origin marks a replayed op: such ops
// are never re-appended to the translog (spec §4.1 "Translog append").
func (o Origin) isRecovery() bool {
	return o == OriginLocalTranslogRecovery
}

// isPrimary reports whether this origin may raise version conflicts
// (spec §7: "never raised on replicas").
func (o Origin) isPrimary() bool {
	return o == OriginPrimary
}

// crossesProcesses reports whether this origin's op may arrive from a
// different process than the one holding the engine's in-process
// striped lock table, and therefore needs the distributed lock (when
// configured) in addition to it.
func (o Origin) crossesProcesses() bool {
	return o == OriginReplica || o == OriginPeerRecovery
}

// VersionType controls how an operation's version is checked against,
// and folded into, the current version (spec §3).
type VersionType int

const (
	VersionInternal VersionType = iota
	VersionExternal
	VersionExternalGTE
	VersionForce
)

// MatchAny is the sentinel version meaning "no expectation about the
// current version", used by fresh auto-id creates under INTERNAL typing.
const MatchAny int64 = -3

// OpMeta is shared across Index and Delete (spec §3 Operation, shared
// attributes).
type OpMeta struct {
	Uid            []byte
	Version        int64
	VersionType    VersionType
	Origin         Origin
	StartTimeNanos int64
}

// IndexRequest is the Index variant of Operation.
type IndexRequest struct {
	OpMeta
	Source []byte
	// AutoGeneratedIDTimestamp is non-nil when the client assigned a
	// monotone-ish append-only timestamp (spec §4.1 step 1).
	AutoGeneratedIDTimestamp *int64
	IsRetry                  bool
}

// DeleteRequest is the Delete variant of Operation.
type DeleteRequest struct {
	OpMeta
}

// GetRequest drives the realtime/non-realtime get path (spec §4.6).
type GetRequest struct {
	Uid         []byte
	Realtime    bool
	Version     int64
	VersionType VersionType
}

// IndexResult is the frozen-on-return result of index() (spec §6).
type IndexResult struct {
	Version          int64
	Created          bool
	TranslogLocation *translog.Location
	TookNanos        int64
	Failure          error
}

// DeleteResult is the frozen-on-return result of delete() (spec §6).
type DeleteResult struct {
	Version          int64
	Found            bool
	TranslogLocation *translog.Location
	TookNanos        int64
	Failure          error
}

// GetResult is the result of get() (spec §6).
type GetResult struct {
	Found   bool
	Source  []byte
	Version int64
	Failure error
}

// OpenMode selects how Open treats the existing shard state (spec §6).
// Open uses it only to decide recovery: OpenIndexAndTranslog replays the
// translog, while CreateIndexAndTranslog and OpenIndexCreateTranslog are
// handled alike and neither writes an initial commit.
type OpenMode int

const (
	CreateIndexAndTranslog OpenMode = iota
	OpenIndexCreateTranslog
	OpenIndexAndTranslog
)

// State is the engine's lifecycle state (spec §3 Lifecycle).
type State int32

const (
	StateOpen State = iota
	StateRecovering
	StateReady
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateRecovering:
		return "recovering"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SyncedFlushResult is syncFlush's outcome (spec §4.3).
type SyncedFlushResult int

const (
	SyncFlushSuccess SyncedFlushResult = iota
	SyncFlushPendingOperations
	SyncFlushCommitMismatch
)

func (r SyncedFlushResult) String() string {
	switch r {
	case SyncFlushSuccess:
		return "success"
	case SyncFlushPendingOperations:
		return "pending_operations"
	case SyncFlushCommitMismatch:
		return "commit_mismatch"
	default:
		return "unknown"
	}
}

func nowNanos() int64 { return shardengine.NowNanos() }
