package versionmap

import "testing"

func TestPutThenGet(t *testing.T) {
	m := New()
	uid := []byte("doc-1")
	m.Put(uid, VersionValue{Version: 1})
	v, ok := m.Get(uid)
	if !ok || v.Version != 1 || v.IsDelete {
		t.Fatalf("unexpected value: %+v ok=%v", v, ok)
	}
}

func TestTombstoneSupersededByLivePut(t *testing.T) {
	m := New()
	uid := []byte("doc-1")
	m.PutTombstone(uid, 2, 1000)
	if len(m.AllTombstones()) != 1 {
		t.Fatalf("expected one tombstone")
	}
	m.Put(uid, VersionValue{Version: 3})
	if len(m.AllTombstones()) != 0 {
		t.Fatalf("a live put must remove the matching tombstone")
	}
	v, ok := m.Get(uid)
	if !ok || v.IsDelete || v.Version != 3 {
		t.Fatalf("expected live version 3, got %+v", v)
	}
}

func TestRefreshMovesCurrentToOldThenDrops(t *testing.T) {
	m := New()
	uid := []byte("doc-1")
	m.Put(uid, VersionValue{Version: 1})

	m.BeforeRefresh()
	// Still visible via old.
	if v, ok := m.Get(uid); !ok || v.Version != 1 {
		t.Fatalf("expected to still find entry via old map after BeforeRefresh")
	}
	if m.Len() != 0 {
		t.Fatalf("current must be fresh and empty right after BeforeRefresh")
	}

	m.AfterRefresh()
	if _, ok := m.Get(uid); ok {
		t.Fatalf("entry must be gone once old is dropped by AfterRefresh")
	}
}

func TestTombstonesSurviveRefresh(t *testing.T) {
	m := New()
	uid := []byte("doc-1")
	m.PutTombstone(uid, 5, 1000)

	m.BeforeRefresh()
	m.AfterRefresh()

	v, ok := m.Get(uid)
	if !ok || !v.IsDelete || v.Version != 5 {
		t.Fatalf("tombstones must survive a refresh cycle, got %+v ok=%v", v, ok)
	}
}

func TestGCTombstonesRespectsAge(t *testing.T) {
	m := New()
	m.PutTombstone([]byte("old"), 1, 0)
	m.PutTombstone([]byte("fresh"), 1, 9_000)

	removed := m.GCTombstones(10_000, 5_000, true)
	if removed != 1 {
		t.Fatalf("expected exactly one tombstone GC'd, got %d", removed)
	}
	if _, ok := m.Get([]byte("old")); ok {
		t.Fatalf("aged-out tombstone should be gone")
	}
	if _, ok := m.Get([]byte("fresh")); !ok {
		t.Fatalf("tombstone younger than gcDeletesMillis must survive")
	}
}

func TestGCTombstonesDisabledNoOps(t *testing.T) {
	m := New()
	m.PutTombstone([]byte("old"), 1, 0)
	if removed := m.GCTombstones(1_000_000, 1, false); removed != 0 {
		t.Fatalf("GC disabled must remove nothing, removed=%d", removed)
	}
}

func TestRAMBytesUsedForRefreshExcludesOld(t *testing.T) {
	m := New()
	m.Put([]byte("a"), VersionValue{Version: 1})
	before := m.RAMBytesUsedForRefresh()
	m.BeforeRefresh()
	// current is now empty, old carries the prior entry: RAMBytesUsedForRefresh
	// must exclude it, RAMBytesUsed must still include it.
	if m.RAMBytesUsedForRefresh() != 0 {
		t.Fatalf("expected zero refresh-relevant bytes with empty current, got %d", m.RAMBytesUsedForRefresh())
	}
	if m.RAMBytesUsed() != before {
		t.Fatalf("RAMBytesUsed must still count entries sitting in old")
	}
}
