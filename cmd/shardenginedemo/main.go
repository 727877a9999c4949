// Command shardenginedemo opens a throwaway shard engine backed by the
// in-memory segment store, indexes a few documents, flushes, and reads
// one of them back. It exists to exercise the wiring end to end, the way the
// teacher's demo_doctor command exercises agent wiring.
package main

import (
	"context"
	"fmt"
	"os"

	shardengine "github.com/sop-labs/shardengine"
	"github.com/sop-labs/shardengine/config"
	"github.com/sop-labs/shardengine/internal/engine"
	"github.com/sop-labs/shardengine/internal/store/memstore"
	"github.com/sop-labs/shardengine/internal/translog"
)

func main() {
	shardengine.ConfigureLogging()
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "shardenginedemo-*")
	if err != nil {
		panic(fmt.Errorf("mkdir temp: %w", err))
	}
	defer os.RemoveAll(dir)

	tlog, err := translog.New(dir)
	if err != nil {
		panic(fmt.Errorf("translog.New: %w", err))
	}
	ms := memstore.New()
	cfg := config.DefaultEngineConfig()

	e, err := engine.Open(engine.CreateIndexAndTranslog, cfg, engine.Deps{
		Writer:   ms,
		Searcher: ms,
		Translog: tlog,
	})
	if err != nil {
		panic(fmt.Errorf("engine.Open: %w", err))
	}
	defer e.Close(ctx)

	fmt.Println("Indexing three documents...")
	for i, src := range []string{`{"title":"a"}`, `{"title":"b"}`, `{"title":"c"}`} {
		uid := []byte(fmt.Sprintf("doc-%d", i))
		ts := shardengine.NowNanos()
		res, err := e.Index(ctx, engine.IndexRequest{
			OpMeta: engine.OpMeta{
				Uid:            uid,
				Version:        engine.MatchAny,
				VersionType:    engine.VersionInternal,
				Origin:         engine.OriginPrimary,
				StartTimeNanos: ts,
			},
			Source:                   []byte(src),
			AutoGeneratedIDTimestamp: &ts,
		})
		if err != nil {
			panic(fmt.Errorf("index %s: %w", uid, err))
		}
		fmt.Printf("  %s -> version=%d created=%v\n", uid, res.Version, res.Created)
	}

	fmt.Println("Flushing...")
	commitID, err := e.FlushWithOptions(ctx, true, true)
	if err != nil {
		panic(fmt.Errorf("flush: %w", err))
	}
	fmt.Printf("  commit=%s\n", commitID)

	fmt.Println("Reading doc-1 back (realtime get)...")
	got, err := e.Get(ctx, engine.GetRequest{Uid: []byte("doc-1"), Realtime: true})
	if err != nil {
		panic(fmt.Errorf("get: %w", err))
	}
	fmt.Printf("  found=%v version=%d source=%s\n", got.Found, got.Version, got.Source)

	fmt.Println("Segments:")
	for _, seg := range e.Segments(true) {
		fmt.Printf("  %s docs=%d del=%d bytes=%d\n", seg.Name, seg.NumDocs, seg.DelDocs, seg.SizeBytes)
	}
}
