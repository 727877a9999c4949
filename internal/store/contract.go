// Package store defines the segment-store contract the write engine is
// built against (spec §1: "Segment store: an external library that
// exposes writer.add(docs), writer.update(term, docs), ... plus an
// openable SearcherManager"). It also provides an in-memory reference
// implementation (package memstore) used by the engine's own test
// suite, grounded on the teacher's ordered B-Tree node/registry layer
// (btree/btree.go, store/node_repository.go) generalized from
// "persist a B-Tree node" to "persist a document in a segment".
package store

import "context"

// Document is an already-parsed document handed to the engine by the
// (out of scope) field mapper layer.
type Document struct {
	Uid     []byte
	Version int64
	Source  []byte
}

// Segment describes one immutable segment, as surfaced by
// Engine.segments(verbose) (spec §6).
type Segment struct {
	Name      string
	NumDocs   int
	DelDocs   int
	SizeBytes int64
}

// ExpungePredicate narrows which tombstoned documents ExpungeDeletes
// actually reclaims during a merge: doc carries the tombstone's decoded
// JSON source (when any was kept) plus the bookkeeping keys
// "_isDelete" and "_timeMillis". A nil predicate means "expunge every
// tombstone", the unconditional behavior forceMerge has always had.
type ExpungePredicate func(doc map[string]any) (bool, error)

// ForceMergeRequest bundles forceMerge's parameters (spec §4.3, §6).
type ForceMergeRequest struct {
	MaxSegments        int
	ExpungeDeletes     bool
	Upgrade            bool
	UpgradeOnlyAncient bool
	// ExpungePredicate, when set, is consulted once per tombstone
	// before reclaiming it (spec's expunge-by-policy supplement).
	ExpungePredicate ExpungePredicate
}

// Writer is the segment store's mutation surface (spec §1).
type Writer interface {
	AddDocument(ctx context.Context, doc Document) error
	AddDocuments(ctx context.Context, docs []Document) error
	UpdateDocument(ctx context.Context, uid []byte, doc Document) error
	UpdateDocuments(ctx context.Context, uid []byte, docs []Document) error
	DeleteDocuments(ctx context.Context, uid []byte) error

	// Commit finalizes the current set of segments durably, embedding
	// userData (translog_uuid/translog_generation/sync_commit_id).
	Commit(ctx context.Context, userData map[string]string) error
	// Flush writes buffered segments to durable storage without
	// opening a new reader (spec §4.6 "cheap segment flush").
	Flush(ctx context.Context) error
	// ForceMerge drives a merge according to req.
	ForceMerge(ctx context.Context, req ForceMergeRequest) error
	Rollback(ctx context.Context) error

	HasUncommittedChanges() bool
	RAMBytesUsed() int64
	// TragicException returns the first unrecoverable error this writer
	// ever hit, or nil. Once set it is sticky (spec §4.7).
	TragicException() error
	// LastCommitUserData returns the userData embedded by the most
	// recent successful Commit.
	LastCommitUserData() map[string]string
	Segments(verbose bool) []Segment
}

// Searcher is a point-in-time reader obtained from a SearcherManager.
type Searcher interface {
	Get(uid []byte) (Document, bool)
	Segments() []Segment
}

// SearcherManager serves point-in-time readers, refreshed on demand
// (spec §1, §4.6).
type SearcherManager interface {
	// RefreshIfNeeded reopens the reader if the writer state changed
	// since the last refresh. Returns whether a reopen actually
	// happened.
	RefreshIfNeeded(ctx context.Context) (bool, error)
	Acquire() Searcher
	Release(Searcher)
}

// MergeListener lets a Writer implementation notify the merge/throttle
// scheduler around ForceMerge-driven (or background) merges (spec
// §4.5). A Writer that never merges in the background may leave this
// nil.
type MergeListener interface {
	BeforeMerge()
	AfterMerge(err error)
}
