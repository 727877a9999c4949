package shardengine

import "time"

// NowMillis returns the current wall-clock time in milliseconds, the
// coarse clock used for tombstone timestamps and the merge scheduler's
// "time since last write" heuristic.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NowNanos returns the current wall-clock time in nanoseconds, used for
// measuring operation duration (took = NowNanos() - startNanos). It is
// not monotonic: a wall-clock step changes it.
func NowNanos() int64 {
	return time.Now().UnixNano()
}
