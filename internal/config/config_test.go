package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.SegmentThreshold != 150 || cfg.SegmentBudget != 100 {
		t.Fatalf("segment defaults = %d/%d, want 150/100", cfg.SegmentThreshold, cfg.SegmentBudget)
	}
	if cfg.MaxConcurrent != 3 {
		t.Fatalf("MaxConcurrent = %d, want 3", cfg.MaxConcurrent)
	}
	if cfg.CacheSize != 50 {
		t.Fatalf("CacheSize = %d, want 50", cfg.CacheSize)
	}
	if cfg.MaxTurns != 20 {
		t.Fatalf("MaxTurns = %d, want 20", cfg.MaxTurns)
	}
	if cfg.MergeGap != 200*time.Millisecond {
		t.Fatalf("MergeGap = %v, want 200ms", cfg.MergeGap)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TTS_MAX_CONCURRENT_SEGMENTS", "5")
	t.Setenv("TTS_CACHE_SIZE", "8")
	t.Setenv("STT_LANGUAGE", "en")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxConcurrent != 5 || cfg.CacheSize != 8 || cfg.Language != "en" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalidMode(t *testing.T) {
	t.Setenv("TTS_MODE", "breezy")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted invalid TTS_MODE")
	}
}

func TestLoadRejectsExecWithoutCommand(t *testing.T) {
	t.Setenv("STT_MODE", "exec")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted STT_MODE=exec without a command")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voxlink.yaml")
	data := []byte(`
bind_addr: ":9090"
tts:
  segment_threshold: 80
  merge_gap_ms: 120
chat:
  max_turns: 10
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("VOXLINK_CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want :9090", cfg.BindAddr)
	}
	if cfg.SegmentThreshold != 80 {
		t.Fatalf("SegmentThreshold = %d, want 80", cfg.SegmentThreshold)
	}
	if cfg.MergeGap != 120*time.Millisecond {
		t.Fatalf("MergeGap = %v, want 120ms", cfg.MergeGap)
	}
	if cfg.MaxTurns != 10 {
		t.Fatalf("MaxTurns = %d, want 10", cfg.MaxTurns)
	}
}

func TestLoadEnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voxlink.yaml")
	if err := os.WriteFile(path, []byte("bind_addr: \":9090\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("VOXLINK_CONFIG_FILE", path)
	t.Setenv("APP_BIND_ADDR", ":7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":7070" {
		t.Fatalf("BindAddr = %q, want env override :7070", cfg.BindAddr)
	}
}
