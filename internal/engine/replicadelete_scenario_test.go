package engine

import "testing"

func TestOutOfOrderReplicaDeleteIsSkippedButKeepsLatestTombstone(t *testing.T) {
	e, _, _ := newTestEngine(t, CreateIndexAndTranslog)

	if _, err := e.Delete(nil, DeleteRequest{OpMeta: OpMeta{
		Uid: []byte("B"), Version: 3, VersionType: VersionExternal, Origin: OriginReplica,
	}}); err != nil {
		t.Fatalf("first delete: %v", err)
	}

	res, err := e.Delete(nil, DeleteRequest{OpMeta: OpMeta{
		Uid: []byte("B"), Version: 2, VersionType: VersionExternal, Origin: OriginReplica,
	}})
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if res.Failure != nil {
		t.Fatalf("replica must never raise a version conflict, got %v", res.Failure)
	}

	vv, ok := e.versions.Get([]byte("B"))
	if !ok || !vv.IsDelete || vv.Version != 3 {
		t.Fatalf("expected tombstone to remain at version 3, got %+v ok=%v", vv, ok)
	}
}
