package engine

import (
	"testing"

	"github.com/sop-labs/shardengine/config"
	"github.com/sop-labs/shardengine/internal/store/memstore"
	"github.com/sop-labs/shardengine/internal/translog"
)

func TestCrashRecoveryReplaysUncommittedOps(t *testing.T) {
	dir := t.TempDir()
	tl, err := translog.New(dir)
	if err != nil {
		t.Fatalf("translog.New: %v", err)
	}
	ms := memstore.New()
	cfg := config.DefaultEngineConfig()

	e, err := Open(CreateIndexAndTranslog, cfg, Deps{Writer: ms, Searcher: ms, Translog: tl})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := e.Index(nil, IndexRequest{
		OpMeta:                   OpMeta{Uid: []byte("A"), Version: MatchAny, VersionType: VersionInternal, Origin: OriginPrimary},
		Source:                   []byte(`{"f":1}`),
		AutoGeneratedIDTimestamp: ts(1),
	}); err != nil {
		t.Fatalf("index: %v", err)
	}
	// Simulate a crash: the op is durable in the translog but the
	// segment store was never committed, and the process exits without
	// calling Close.
	gen := tl.GenerationDescriptor()

	reopenedTlog, err := translog.Open(dir, gen)
	if err != nil {
		t.Fatalf("translog.Open: %v", err)
	}
	freshWriter := memstore.New() // a brand-new, empty segment store: nothing was ever committed

	e2, err := Open(OpenIndexAndTranslog, cfg, Deps{Writer: freshWriter, Searcher: freshWriter, Translog: reopenedTlog})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	s := freshWriter.Acquire()
	defer freshWriter.Release(s)
	doc, ok := s.Get([]byte("A"))
	if !ok {
		t.Fatalf("expected replayed doc A to be present after recovery")
	}
	if doc.Version != 1 {
		t.Fatalf("expected replayed doc at version 1, got %d", doc.Version)
	}
	if e2.pendingTranslogRecovery.Load() {
		t.Fatalf("pendingTranslogRecovery must be cleared after recovery completes")
	}
}
