package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.ListenAddr != ":5353" {
		t.Errorf("ListenAddr = %q, want :5353", cfg.ListenAddr)
	}
	if cfg.ShardCount != 256 {
		t.Errorf("ShardCount = %d, want 256", cfg.ShardCount)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg != Default() {
		t.Errorf("Load(\"\") = %+v, want Default()", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resolverd.yaml")
	contents := "listen_addr: \":1053\"\nshard_count: 64\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != ":1053" {
		t.Errorf("ListenAddr = %q, want :1053", cfg.ListenAddr)
	}
	if cfg.ShardCount != 64 {
		t.Errorf("ShardCount = %d, want 64", cfg.ShardCount)
	}
	if cfg.PrefetchWorkers != Default().PrefetchWorkers {
		t.Errorf("PrefetchWorkers = %d, want unchanged default %d", cfg.PrefetchWorkers, Default().PrefetchWorkers)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/resolverd.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
