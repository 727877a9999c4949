package engine

import (
	"testing"

	"github.com/sop-labs/shardengine/config"
	"github.com/sop-labs/shardengine/internal/store/memstore"
	"github.com/sop-labs/shardengine/internal/translog"
)

func newTestEngine(t *testing.T, mode OpenMode) (*Engine, *memstore.Store, *translog.Translog) {
	t.Helper()
	dir := t.TempDir()
	tl, err := translog.New(dir)
	if err != nil {
		t.Fatalf("translog.New: %v", err)
	}
	ms := memstore.New()

	cfg := config.DefaultEngineConfig()
	cfg.GCDeletesMillis = 60_000
	e, err := Open(mode, cfg, Deps{Writer: ms, Searcher: ms, Translog: tl})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return e, ms, tl
}

func ts(v int64) *int64 { return &v }
