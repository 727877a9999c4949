package lock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestUidLockTableSerializesSameUid(t *testing.T) {
	tbl := NewUidLockTable(4)
	uid := []byte("doc-A")

	var counter int64
	var wg sync.WaitGroup
	var maxObserved int64

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g := tbl.Acquire(uid)
			defer g.Release()
			n := atomic.AddInt64(&counter, 1)
			if n > atomic.LoadInt64(&maxObserved) {
				atomic.StoreInt64(&maxObserved, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&counter, -1)
		}()
	}
	wg.Wait()

	if maxObserved != 1 {
		t.Fatalf("expected per-uid lock to serialize all holders, max concurrent = %d", maxObserved)
	}
}

func TestUidLockTableDifferentUidsParallel(t *testing.T) {
	tbl := NewUidLockTable(256)
	start := make(chan struct{})
	var wg sync.WaitGroup
	results := make([]bool, 50)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			g := tbl.Acquire([]byte{byte(i), byte(i >> 8)})
			defer g.Release()
			time.Sleep(5 * time.Millisecond)
			results[i] = true
		}(i)
	}
	close(start)
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("different uids should acquire concurrently, not serialize through one global lock")
	}
	for i, ok := range results {
		if !ok {
			t.Fatalf("goroutine %d never completed", i)
		}
	}
}
