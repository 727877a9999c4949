package translog

import (
	"testing"
)

func TestAddReturnsMonotonicLocations(t *testing.T) {
	dir := t.TempDir()
	tl, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tl.Close()

	l1, err := tl.Add(Op{Kind: KindIndex, Uid: []byte("a"), Version: 1, Source: []byte("{}")})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	l2, err := tl.Add(Op{Kind: KindIndex, Uid: []byte("b"), Version: 1, Source: []byte("{}")})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !l1.Less(l2) {
		t.Fatalf("expected l1 < l2, got %+v, %+v", l1, l2)
	}
}

func TestPrepareCommitRollsGenerationAndCommitReclaims(t *testing.T) {
	dir := t.TempDir()
	tl, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tl.Close()

	if _, err := tl.Add(Op{Kind: KindIndex, Uid: []byte("a"), Version: 1}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	genBefore := tl.CurrentFileGeneration()
	priorName := tl.fileName(genBefore)

	if err := tl.PrepareCommit(); err != nil {
		t.Fatalf("PrepareCommit: %v", err)
	}
	if tl.CurrentFileGeneration() != genBefore+1 {
		t.Fatalf("expected generation to roll forward")
	}
	if _, err := tl.Add(Op{Kind: KindDelete, Uid: []byte("a"), Version: 2}); err != nil {
		t.Fatalf("Add after roll: %v", err)
	}

	// Prior generation's file must still exist until Commit runs.
	if _, err := readOps(priorName); err != nil {
		t.Fatalf("expected prior generation file to survive until Commit: %v", err)
	}

	if err := tl.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	ops, err := readOps(priorName)
	if err != nil {
		t.Fatalf("readOps after commit: %v", err)
	}
	if ops != nil {
		t.Fatalf("expected prior generation file removed after Commit, got %v", ops)
	}
}

func TestSnapshotReplaysAcrossGenerations(t *testing.T) {
	dir := t.TempDir()
	tl, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tl.Close()

	startGen := tl.CurrentFileGeneration()
	tl.Add(Op{Kind: KindIndex, Uid: []byte("a"), Version: 1})
	tl.PrepareCommit()
	tl.Add(Op{Kind: KindIndex, Uid: []byte("b"), Version: 1})

	snap, err := tl.NewSnapshot(startGen)
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	if snap.Len() != 2 {
		t.Fatalf("expected 2 ops across generations, got %d", snap.Len())
	}
	first, ok := snap.Next()
	if !ok || string(first.Uid) != "a" {
		t.Fatalf("expected first op to be uid a, got %+v", first)
	}
	second, ok := snap.Next()
	if !ok || string(second.Uid) != "b" {
		t.Fatalf("expected second op to be uid b, got %+v", second)
	}
	if _, ok := snap.Next(); ok {
		t.Fatalf("expected snapshot exhausted")
	}
}

func TestTragicExceptionIsSticky(t *testing.T) {
	dir := t.TempDir()
	tl, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tl.Close()

	if tl.TragicException() != nil {
		t.Fatalf("fresh translog must have no tragic exception")
	}
	tl.setTragic(errIntentional)
	if tl.TragicException() != errIntentional {
		t.Fatalf("expected sticky tragic exception")
	}
	tl.setTragic(errOther)
	if tl.TragicException() != errIntentional {
		t.Fatalf("tragic exception must stay the first one set")
	}
}

var (
	errIntentional = fmtErrorf("disk gone")
	errOther       = fmtErrorf("different error")
)

func fmtErrorf(s string) error {
	return &testErr{s}
}

type testErr struct{ s string }

func (e *testErr) Error() string { return e.s }
