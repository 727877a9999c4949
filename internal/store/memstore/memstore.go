// Package memstore is an in-memory reference implementation of the
// store.Writer/SearcherManager contract, used by the engine's own test
// suite in place of a real segment store library. It orders live
// documents with github.com/google/btree the way the other retrieved
// example (asaidimu-go-store) orders its records, instead of a bare Go
// map, so forceMerge's segment listing and ordered scans have something
// real to walk.
package memstore

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/btree"

	shardengine "github.com/sop-labs/shardengine"
	"github.com/sop-labs/shardengine/internal/store"
)

type record struct {
	uid             []byte
	version         int64
	source          []byte
	deleted         bool
	deletedAtMillis int64
}

func less(a, b *record) bool {
	return bytes.Compare(a.uid, b.uid) < 0
}

const perDocOverheadBytes = 128

// Store is an in-memory segment store: a single "live" B-Tree the
// Writer mutates directly, and an independently-visible "reader" B-Tree
// snapshot that only changes on RefreshIfNeeded, modeling the
// write-buffer/point-in-time-reader split a real segment store makes.
type Store struct {
	mu       sync.Mutex
	live     *btree.BTreeG[*record]
	reader   *btree.BTreeG[*record]
	ramBytes int64
	bufBytes int64

	version       int64 // bumped on every mutation to live
	readerVersion int64 // version of live when reader was last cloned

	uncommitted  bool
	lastUserData map[string]string
	tragic       atomic.Value

	listener store.MergeListener
}

// New creates an empty in-memory segment store.
func New() *Store {
	s := &Store{
		live: btree.NewG(32, less),
	}
	s.reader = s.live.Clone()
	return s
}

// SetMergeListener registers a listener notified around ForceMerge, so
// the engine's merge/throttle scheduler can exercise its real counters
// even against this reference store.
func (s *Store) SetMergeListener(l store.MergeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

func (s *Store) upsertLocked(uid []byte, doc store.Document, deleted bool) {
	r := &record{uid: append([]byte(nil), uid...), version: doc.Version, source: doc.Source, deleted: deleted}
	if deleted {
		r.deletedAtMillis = shardengine.NowMillis()
	}
	if _, existed := s.live.ReplaceOrInsert(r); !existed {
		s.ramBytes += perDocOverheadBytes + int64(len(uid)) + int64(len(doc.Source))
	}
	s.bufBytes += perDocOverheadBytes + int64(len(doc.Source))
	s.uncommitted = true
	s.version++
}

func (s *Store) AddDocument(_ context.Context, doc store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(doc.Uid, doc, false)
	return nil
}

func (s *Store) AddDocuments(ctx context.Context, docs []store.Document) error {
	for _, d := range docs {
		if err := s.AddDocument(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) UpdateDocument(_ context.Context, uid []byte, doc store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(uid, doc, false)
	return nil
}

func (s *Store) UpdateDocuments(ctx context.Context, uid []byte, docs []store.Document) error {
	for _, d := range docs {
		if err := s.UpdateDocument(ctx, uid, d); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteDocuments(_ context.Context, uid []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := store.Document{Uid: uid}
	// The tombstone keeps the deleted document's source so an
	// ExpungePredicate can inspect it during ForceMerge.
	if prev, ok := s.live.Get(&record{uid: uid}); ok {
		doc.Source = prev.source
	}
	s.upsertLocked(uid, doc, true)
	return nil
}

func (s *Store) Commit(_ context.Context, userData map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUserData = userData
	s.uncommitted = false
	return nil
}

func (s *Store) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// A real writer would fsync buffered segments to disk here without
	// opening a new reader; we simply account for the buffer having
	// been written out.
	s.bufBytes = 0
	return nil
}

func (s *Store) ForceMerge(_ context.Context, req store.ForceMergeRequest) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.BeforeMerge()
	}

	s.mu.Lock()
	// Compact: drop tombstoned records from live, the in-memory analogue
	// of reclaiming deleted docs' segment space. When ExpungeDeletes is
	// false, forceMerge only merges segments (a no-op here, since this
	// store has no segment concept of its own) and leaves tombstones in
	// place. req.ExpungePredicate, when set, narrows reclamation to
	// tombstones it matches rather than every tombstone.
	var toDelete []*record
	var predicateErr error
	if req.ExpungeDeletes {
		s.live.Ascend(func(r *record) bool {
			if !r.deleted {
				return true
			}
			if req.ExpungePredicate == nil {
				toDelete = append(toDelete, r)
				return true
			}
			doc, err := expungeDoc(r)
			if err != nil {
				predicateErr = err
				return false
			}
			matched, err := req.ExpungePredicate(doc)
			if err != nil {
				predicateErr = err
				return false
			}
			if matched {
				toDelete = append(toDelete, r)
			}
			return true
		})
	}
	if predicateErr == nil {
		for _, r := range toDelete {
			s.live.Delete(r)
		}
		if len(toDelete) > 0 {
			s.version++
		}
	}
	s.mu.Unlock()

	if listener != nil {
		listener.AfterMerge(predicateErr)
	}
	return predicateErr
}

// expungeDoc builds the map an ExpungePredicate evaluates: the
// tombstone's decoded JSON source, if any, plus the "_isDelete" and
// "_timeMillis" bookkeeping keys filter.Evaluator documents.
func expungeDoc(r *record) (map[string]any, error) {
	doc := map[string]any{}
	if len(r.source) > 0 {
		if err := json.Unmarshal(r.source, &doc); err != nil {
			return nil, err
		}
	}
	doc["_isDelete"] = r.deleted
	doc["_timeMillis"] = r.deletedAtMillis
	return doc, nil
}

func (s *Store) Rollback(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = s.reader.Clone()
	s.version = s.readerVersion
	s.uncommitted = false
	s.bufBytes = 0
	return nil
}

func (s *Store) HasUncommittedChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uncommitted
}

func (s *Store) RAMBytesUsed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ramBytes
}

func (s *Store) LastCommitUserData() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUserData
}

func (s *Store) Segments(_ bool) []store.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.reader.Len()
	return []store.Segment{{Name: "mem-0", NumDocs: n, SizeBytes: s.ramBytes}}
}

// SimulateTragicError lets tests force the writer into a tragic state,
// the way a real writer would after an I/O error from its internals.
func (s *Store) SimulateTragicError(err error) {
	s.tragic.CompareAndSwap(nil, err)
}

func (s *Store) TragicException() error {
	v := s.tragic.Load()
	if v == nil {
		return nil
	}
	return v.(error)
}

// RefreshIfNeeded reopens the reader snapshot from the current live
// tree iff it differs, via google/btree's O(1) copy-on-write Clone.
func (s *Store) RefreshIfNeeded(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readerVersion == s.version {
		return false, nil
	}
	s.reader = s.live.Clone()
	s.readerVersion = s.version
	return true, nil
}

func (s *Store) Acquire() store.Searcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &searcher{tree: s.reader}
}

func (s *Store) Release(store.Searcher) {}

type searcher struct {
	tree *btree.BTreeG[*record]
}

func (se *searcher) Get(uid []byte) (store.Document, bool) {
	r, ok := se.tree.Get(&record{uid: uid})
	if !ok || r.deleted {
		return store.Document{}, false
	}
	return store.Document{Uid: r.uid, Version: r.version, Source: r.source}, true
}

func (se *searcher) Segments() []store.Segment {
	return []store.Segment{{Name: "mem-0", NumDocs: se.tree.Len()}}
}
