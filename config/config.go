// Package config holds the per-shard engine's tunables: tombstone GC,
// flush/merge thresholds, and throttle limits. It follows the teacher
// repo's options-struct-with-defaults pattern (store_options.go).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig bundles every tunable named in spec.md §4 and §5.
type EngineConfig struct {
	// GCDeletesMillis is how long a tombstone must age before it is
	// eligible for garbage collection (§3, §4.2, §4.6).
	GCDeletesMillis int64 `yaml:"gc_deletes_millis"`
	// GCDeletesEnabled gates tombstone GC entirely.
	GCDeletesEnabled bool `yaml:"gc_deletes_enabled"`
	// FlushMergesAfter is how long the shard must have gone without
	// writes for a merge completion that leaves no merges pending to
	// trigger a flush (§4.5).
	FlushMergesAfter time.Duration `yaml:"flush_merges_after"`
	// MaxMergeCount is the in-flight merge count above which indexing is
	// throttled (§4.5).
	MaxMergeCount int `yaml:"max_merge_count"`
	// RefreshInterval is a refresh period setting. The engine does not
	// read it and runs no periodic refresh: the reader is reopened only
	// by flush, realtime get, WriteIndexingBuffer and explicit Refresh
	// calls (§4.6).
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	// IndexWriterBufferBytes bounds the segment writer's RAM buffer; it
	// is the denominator in the 25%-of-indexing-buffer heuristic (§4.6).
	IndexWriterBufferBytes int64 `yaml:"index_writer_buffer_bytes"`
	// MaxCommitDuration is a per-commit time limit setting; no flush or
	// sync-commit path in the engine reads it, so commits are unbounded.
	MaxCommitDuration time.Duration `yaml:"max_commit_duration"`
	// LockStripes is the size of the per-uid striped lock table (§9).
	LockStripes int `yaml:"lock_stripes"`
}

// refreshVsFlushFraction is the 25%-of-indexing-buffer heuristic from
// §4.6. It is hard-coded per Open Question (b) in §9: left constant
// unless profiling warrants otherwise.
const refreshVsFlushFraction = 4

// RefreshVsFlushFraction returns the divisor used by the 25% rule:
// writeIndexingBuffer refreshes when versionMapBytes > bufferBytes/N.
func RefreshVsFlushFraction() int64 {
	return refreshVsFlushFraction
}

// DefaultEngineConfig returns the engine's default tunables.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		GCDeletesMillis:        60 * 1000,
		GCDeletesEnabled:       true,
		FlushMergesAfter:       30 * time.Minute,
		MaxMergeCount:          3,
		RefreshInterval:        time.Second,
		IndexWriterBufferBytes: 64 * 1024 * 1024,
		MaxCommitDuration:      15 * time.Minute,
		LockStripes:            256,
	}
}

// LoadEngineConfig reads a YAML configuration file, starting from
// DefaultEngineConfig and overlaying any fields present in the file.
func LoadEngineConfig(path string) (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read engine config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse engine config: %w", err)
	}
	return cfg, nil
}
