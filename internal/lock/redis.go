package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DistributedUidLockTable is an alternate UidLockTable-shaped lock for
// topologies where REPLICA/PEER_RECOVERY origins execute across process
// boundaries and the in-process striped table (striped.go) can't
// serialize them. It follows the teacher's cache.Connection pattern
// (cache/redis.go) for wrapping a *redis.Client, using SET NX as the
// distributed mutex primitive.
type DistributedUidLockTable struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewDistributedUidLockTable wraps client for use as a per-uid lock.
// ttl bounds how long a lock is held if the owner crashes without
// releasing it.
func NewDistributedUidLockTable(client *redis.Client, ttl time.Duration) *DistributedUidLockTable {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &DistributedUidLockTable{client: client, ttl: ttl, prefix: "shardengine:uidlock:"}
}

// DistributedGuard releases a lock acquired via AcquireContext. Unlike
// the in-process Guard, releasing can fail (network partition, expired
// TTL) and callers should log but not treat it as fatal: the lock will
// still expire on its own.
type DistributedGuard struct {
	client *redis.Client
	key    string
	token  string
}

// AcquireContext blocks (polling every 10ms) until it owns the
// distributed lock for uid or ctx is done.
func (t *DistributedUidLockTable) AcquireContext(ctx context.Context, uid []byte) (*DistributedGuard, error) {
	key := t.prefix + string(uid)
	token := uuid.NewString()
	for {
		ok, err := t.client.SetNX(ctx, key, token, t.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire distributed lock %q: %w", key, err)
		}
		if ok {
			return &DistributedGuard{client: t.client, key: key, token: token}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Release deletes the lock key iff this guard still owns it, using a
// compare-and-delete script so a stale guard never unlocks a newer
// owner's lock after TTL expiry and re-acquisition.
func (g *DistributedGuard) Release(ctx context.Context) error {
	const script = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`
	return g.client.Eval(ctx, script, []string{g.key}, g.token).Err()
}
