package engine

import "testing"

func TestSyncFlushMismatchWritesNoCommit(t *testing.T) {
	e, ms, _ := newTestEngine(t, CreateIndexAndTranslog)

	if _, err := e.Index(nil, IndexRequest{
		OpMeta:                   OpMeta{Uid: []byte("A"), Version: MatchAny, VersionType: VersionInternal, Origin: OriginPrimary},
		Source:                   []byte(`{}`),
		AutoGeneratedIDTimestamp: ts(1),
	}); err != nil {
		t.Fatalf("index: %v", err)
	}

	c1, err := e.FlushWithOptions(nil, true, true)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	before := ms.LastCommitUserData()["translog_generation"]

	result, err := e.SyncFlush(nil, "s1", "not-"+c1)
	if err != nil {
		t.Fatalf("syncFlush: %v", err)
	}
	if result != SyncFlushCommitMismatch {
		t.Fatalf("expected COMMIT_MISMATCH, got %v", result)
	}
	after := ms.LastCommitUserData()["translog_generation"]
	if after != before {
		t.Fatalf("commit userData must be unchanged after a mismatched syncFlush: before=%q after=%q", before, after)
	}
}
