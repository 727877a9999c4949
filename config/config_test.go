package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultEngineConfig(t *testing.T) {
	cfg := DefaultEngineConfig()
	if cfg.GCDeletesMillis <= 0 {
		t.Fatalf("expected positive GCDeletesMillis default")
	}
	if !cfg.GCDeletesEnabled {
		t.Fatalf("expected gc-deletes enabled by default")
	}
	if RefreshVsFlushFraction() != 4 {
		t.Fatalf("the 25%% rule must divide by 4")
	}
}

func TestLoadEngineConfigOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	yaml := "max_merge_count: 7\ngc_deletes_enabled: false\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadEngineConfig(path)
	if err != nil {
		t.Fatalf("LoadEngineConfig: %v", err)
	}
	if cfg.MaxMergeCount != 7 {
		t.Fatalf("expected overlay max_merge_count=7, got %d", cfg.MaxMergeCount)
	}
	if cfg.GCDeletesEnabled {
		t.Fatalf("expected overlay gc_deletes_enabled=false")
	}
	if cfg.FlushMergesAfter != 30*time.Minute {
		t.Fatalf("expected default FlushMergesAfter to survive overlay, got %v", cfg.FlushMergesAfter)
	}
}
