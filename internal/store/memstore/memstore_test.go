package memstore

import (
	"context"
	"testing"

	"github.com/sop-labs/shardengine/internal/store"
)

func TestAddThenRefreshMakesVisible(t *testing.T) {
	ctx := context.Background()
	s := New()

	se := s.Acquire()
	if _, ok := se.Get([]byte("a")); ok {
		t.Fatalf("doc must not be visible before add")
	}

	if err := s.AddDocument(ctx, store.Document{Uid: []byte("a"), Version: 1, Source: []byte("{}")}); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	// Not yet visible: no refresh happened.
	se = s.Acquire()
	if _, ok := se.Get([]byte("a")); ok {
		t.Fatalf("doc must not be visible until a refresh happens")
	}

	changed, err := s.RefreshIfNeeded(ctx)
	if err != nil {
		t.Fatalf("RefreshIfNeeded: %v", err)
	}
	if !changed {
		t.Fatalf("expected refresh to report a change")
	}
	se = s.Acquire()
	doc, ok := se.Get([]byte("a"))
	if !ok || doc.Version != 1 {
		t.Fatalf("expected doc a version 1 visible after refresh, got %+v ok=%v", doc, ok)
	}
}

func TestDeleteHidesDocAfterRefresh(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.AddDocument(ctx, store.Document{Uid: []byte("a"), Version: 1})
	s.RefreshIfNeeded(ctx)

	if err := s.DeleteDocuments(ctx, []byte("a")); err != nil {
		t.Fatalf("DeleteDocuments: %v", err)
	}
	s.RefreshIfNeeded(ctx)

	se := s.Acquire()
	if _, ok := se.Get([]byte("a")); ok {
		t.Fatalf("deleted doc must not be visible after refresh")
	}
}

func TestRefreshIfNeededNoOpWhenUnchanged(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.AddDocument(ctx, store.Document{Uid: []byte("a"), Version: 1})
	if changed, _ := s.RefreshIfNeeded(ctx); !changed {
		t.Fatalf("expected first refresh to report change")
	}
	if changed, _ := s.RefreshIfNeeded(ctx); changed {
		t.Fatalf("expected second refresh with no mutation in between to report no change")
	}
}

func TestForceMergeNotifiesListener(t *testing.T) {
	ctx := context.Background()
	s := New()
	l := &fakeListener{}
	s.SetMergeListener(l)

	s.AddDocument(ctx, store.Document{Uid: []byte("a"), Version: 1})
	s.DeleteDocuments(ctx, []byte("a"))

	if err := s.ForceMerge(ctx, store.ForceMergeRequest{}); err != nil {
		t.Fatalf("ForceMerge: %v", err)
	}
	if !l.before || !l.after {
		t.Fatalf("expected both BeforeMerge and AfterMerge to fire, got %+v", l)
	}
}

type fakeListener struct {
	before, after bool
}

func (f *fakeListener) BeforeMerge()      { f.before = true }
func (f *fakeListener) AfterMerge(error) { f.after = true }

func TestHasUncommittedChangesAndCommit(t *testing.T) {
	ctx := context.Background()
	s := New()
	if s.HasUncommittedChanges() {
		t.Fatalf("fresh store must have no uncommitted changes")
	}
	s.AddDocument(ctx, store.Document{Uid: []byte("a"), Version: 1})
	if !s.HasUncommittedChanges() {
		t.Fatalf("expected uncommitted changes after add")
	}
	if err := s.Commit(ctx, map[string]string{"k": "v"}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if s.HasUncommittedChanges() {
		t.Fatalf("expected no uncommitted changes after commit")
	}
	if s.LastCommitUserData()["k"] != "v" {
		t.Fatalf("expected commit userData to be retained")
	}
}

func TestTragicExceptionSticky(t *testing.T) {
	s := New()
	if s.TragicException() != nil {
		t.Fatalf("fresh store must have no tragic exception")
	}
	err := context.Canceled
	s.SimulateTragicError(err)
	if s.TragicException() != err {
		t.Fatalf("expected tragic exception to be recorded")
	}
}
