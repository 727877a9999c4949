package merge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestThrottleInactiveDoesNotBlock(t *testing.T) {
	th := NewThrottle()
	if th.IsThrottled() {
		t.Fatalf("fresh throttle must be inactive")
	}
	release := th.Acquire()
	release()
}

func TestThrottleActivateSerializes(t *testing.T) {
	th := NewThrottle()
	th.Activate()
	if !th.IsThrottled() {
		t.Fatalf("expected throttle active")
	}

	var concurrent int64
	var maxConcurrent int64
	var completed int64
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := th.Acquire()
			n := atomic.AddInt64(&concurrent, 1)
			for {
				old := atomic.LoadInt64(&maxConcurrent)
				if n <= old || atomic.CompareAndSwapInt64(&maxConcurrent, old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt64(&concurrent, -1)
			release()
			atomic.AddInt64(&completed, 1)
		}()
	}

	// The throttle must admit one writer at a time WHILE STILL ACTIVE,
	// not only after the activator calls Deactivate: wait here, with
	// the throttle still active (count == 1), for at least one
	// operation to finish. A throttle that instead blocks every
	// Acquire until Deactivate would leave completed == 0 at this
	// point, a full write stall rather than one-at-a-time admission.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt64(&completed) == 0 {
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt64(&completed) == 0 {
		t.Fatalf("expected at least one operation to complete while throttle is still active")
	}
	if !th.IsThrottled() {
		t.Fatalf("throttle must still be active; Deactivate has not been called yet")
	}

	th.Deactivate()
	wg.Wait()

	if maxConcurrent != 1 {
		t.Fatalf("expected throttle to admit one at a time, observed max=%d", maxConcurrent)
	}
}

func TestThrottleRefcountBalances(t *testing.T) {
	th := NewThrottle()
	th.Activate()
	th.Activate()
	if !th.IsThrottled() {
		t.Fatalf("expected throttled with count 2")
	}
	th.Deactivate()
	if !th.IsThrottled() {
		t.Fatalf("expected still throttled with count 1")
	}
	th.Deactivate()
	if th.IsThrottled() {
		t.Fatalf("expected inactive once count returns to 0")
	}
	if th.RequestCount() != 0 {
		t.Fatalf("expected count 0, got %d", th.RequestCount())
	}
}

type fakeActions struct {
	renewCalled atomic.Bool
	flushCalled atomic.Bool
	failCalled  atomic.Bool
	renewOK     bool
	renewErr    error
}

func (f *fakeActions) TryRenewSyncCommit(ctx context.Context) (bool, error) {
	f.renewCalled.Store(true)
	return f.renewOK, f.renewErr
}
func (f *fakeActions) Flush(ctx context.Context) error {
	f.flushCalled.Store(true)
	return nil
}
func (f *fakeActions) FailEngine(ctx context.Context, reason string, cause error) {
	f.failCalled.Store(true)
}

func TestAfterMergeTriggersFlushWhenIdleAndStale(t *testing.T) {
	th := NewThrottle()
	actions := &fakeActions{renewOK: false}
	sched := NewScheduler(th, 3, time.Millisecond, actions)

	sched.RecordWrite(time.Now().UnixNano() - int64(10*time.Millisecond))
	sched.BeforeMerge()
	sched.AfterMerge(context.Background(), nil)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if actions.flushCalled.Load() {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !actions.flushCalled.Load() {
		t.Fatalf("expected idle post-merge flush to fire")
	}
}

func TestAfterMergePrefersRenewOverFlush(t *testing.T) {
	th := NewThrottle()
	actions := &fakeActions{renewOK: true}
	sched := NewScheduler(th, 3, time.Millisecond, actions)

	sched.RecordWrite(time.Now().UnixNano() - int64(10*time.Millisecond))
	sched.BeforeMerge()
	sched.AfterMerge(context.Background(), nil)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if actions.renewCalled.Load() {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !actions.renewCalled.Load() {
		t.Fatalf("expected renew attempt")
	}
	if actions.flushCalled.Load() {
		t.Fatalf("flush must not run once renew succeeded")
	}
}

func TestBeforeMergeActivatesThrottleOverLimit(t *testing.T) {
	th := NewThrottle()
	actions := &fakeActions{}
	sched := NewScheduler(th, 1, time.Hour, actions)

	sched.BeforeMerge()
	if th.IsThrottled() {
		t.Fatalf("should not throttle at or below maxMergeCount")
	}
	sched.BeforeMerge()
	if !th.IsThrottled() {
		t.Fatalf("expected throttle active once in-flight merges exceed maxMergeCount")
	}
	sched.AfterMerge(context.Background(), nil)
	if th.IsThrottled() {
		t.Fatalf("expected throttle deactivated once back at/under the limit")
	}
}

func TestHandleMergeExceptionRunsInBackground(t *testing.T) {
	th := NewThrottle()
	actions := &fakeActions{}
	sched := NewScheduler(th, 3, time.Hour, actions)

	sched.HandleMergeException(context.Background(), "merge failed", nil)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if actions.failCalled.Load() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected FailEngine to be invoked")
}
