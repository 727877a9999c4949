// Package versionmap implements the Live Version Map: the in-memory
// authority for realtime reads and version-conflict checks (spec §3,
// §4.2). It is a two-tier map (current, old) plus a tombstones map,
// grounded on the teacher's MRU/L1 cache structures (cache/l1_cache.go,
// cache/mru.go) adapted from an LRU eviction policy to the refresh-epoch
// semantics this spec requires: "old" isn't evicted by recency, it's
// dropped wholesale when afterRefresh() runs.
package versionmap

import "sync"

// VersionValue is a version-map entry (spec §3).
type VersionValue struct {
	Version    int64
	IsDelete   bool
	TimeMillis int64
}

// entry pairs a VersionValue with its approximate RAM footprint so
// ramBytesUsed/ramBytesUsedForRefresh can be computed without scanning
// serialized forms on every call.
type entry struct {
	value        VersionValue
	approxRAMLen int64
}

// approxUidOverhead is a rough per-entry byte estimate (uid bytes, map
// bucket overhead, and the VersionValue struct) used for the refresh
// pressure heuristic (§4.6). It does not need to be exact, only
// monotonic with item count.
const approxUidOverhead = 64

// LiveVersionMap is the authority consulted by resolveDocVersion and by
// realtime get. All exported methods other than BeforeRefresh/AfterRefresh
// assume the caller already holds the per-uid lock for the uid in
// question, per spec §4.2.
type LiveVersionMap struct {
	mu      sync.RWMutex
	current map[string]entry
	old     map[string]entry
	tomb    map[string]entry
}

// New creates an empty LiveVersionMap.
func New() *LiveVersionMap {
	return &LiveVersionMap{
		current: make(map[string]entry),
		tomb:    make(map[string]entry),
	}
}

// Get returns the VersionValue for uid, checking current, then old, then
// tombstones, in that order (current wins).
func (m *LiveVersionMap) Get(uid []byte) (VersionValue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k := string(uid)
	if e, ok := m.current[k]; ok {
		return e.value, true
	}
	if m.old != nil {
		if e, ok := m.old[k]; ok {
			return e.value, true
		}
	}
	if e, ok := m.tomb[k]; ok {
		return e.value, true
	}
	return VersionValue{}, false
}

// Put inserts a live version into current, removing any matching
// tombstone (a live put supersedes a prior delete).
func (m *LiveVersionMap) Put(uid []byte, v VersionValue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := string(uid)
	m.current[k] = entry{value: v, approxRAMLen: approxUidOverhead + int64(len(uid))}
	delete(m.tomb, k)
}

// PutTombstone records uid as deleted at version v, timeMillis.
// Tombstones live in current (spec §4.1's delete-apply step writes into
// the version map the same way an index does) but are also tracked
// separately so refresh can leave them untouched while dropping old.
func (m *LiveVersionMap) PutTombstone(uid []byte, version int64, timeMillis int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := string(uid)
	v := VersionValue{Version: version, IsDelete: true, TimeMillis: timeMillis}
	e := entry{value: v, approxRAMLen: approxUidOverhead + int64(len(uid))}
	m.current[k] = e
	m.tomb[k] = e
}

// RemoveTombstone drops uid from the tombstones map without touching
// current.
func (m *LiveVersionMap) RemoveTombstone(uid []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tomb, string(uid))
}

// BeforeRefresh redirects future writes to a fresh current map, keeping
// the prior current as old until AfterRefresh runs (spec §4.2, §4.6:
// "the refresh barrier is the sole event that lets the version map drop
// old").
func (m *LiveVersionMap) BeforeRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.old = m.current
	m.current = make(map[string]entry, len(m.old)/4+1)
}

// AfterRefresh drops old entirely.
func (m *LiveVersionMap) AfterRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.old = nil
}

// GCTombstones removes tombstones older than gcDeletesMillis, as of
// nowMillis, when enabled is true (spec invariant 2: never remove a
// tombstone while now-timeMillis <= gcDeletesMillis).
func (m *LiveVersionMap) GCTombstones(nowMillis, gcDeletesMillis int64, enabled bool) int {
	if !enabled {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, e := range m.tomb {
		if nowMillis-e.value.TimeMillis > gcDeletesMillis {
			delete(m.tomb, k)
			// A tombstone surviving only in `old` after refresh must stay
			// reachable for in-flight readers; current is authoritative
			// for GC purposes and is what we clear here.
			if ce, ok := m.current[k]; ok && ce.value.IsDelete && ce.value.TimeMillis == e.value.TimeMillis {
				delete(m.current, k)
			}
			removed++
		}
	}
	return removed
}

// AllTombstones returns a snapshot copy of every tombstone, keyed by
// uid bytes. Used by forceMerge-style expunge policies.
func (m *LiveVersionMap) AllTombstones() map[string]VersionValue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]VersionValue, len(m.tomb))
	for k, e := range m.tomb {
		out[k] = e.value
	}
	return out
}

// RAMBytesUsed returns the approximate total footprint of current, old,
// and tombstones combined.
func (m *LiveVersionMap) RAMBytesUsed() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, e := range m.current {
		total += e.approxRAMLen
	}
	for _, e := range m.old {
		total += e.approxRAMLen
	}
	for _, e := range m.tomb {
		total += e.approxRAMLen
	}
	return total
}

// RAMBytesUsedForRefresh counts only current+tombstones: old is about to
// be freed by the very refresh this heuristic is deciding whether to
// trigger (spec §4.2 invariant).
func (m *LiveVersionMap) RAMBytesUsedForRefresh() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, e := range m.current {
		total += e.approxRAMLen
	}
	for _, e := range m.tomb {
		total += e.approxRAMLen
	}
	return total
}

// Len reports the number of live (current) entries, for tests and
// diagnostics.
func (m *LiveVersionMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.current)
}
