package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigCreatesDirectories(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("RELAY_API_TOKEN", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.toml")
	dataDir := filepath.Join(dir, "data")
	body := "[paths]\ndata_dir = \"" + dataDir + "\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Paths.DataDir != dataDir {
		t.Fatalf("unexpected data dir %q", cfg.Paths.DataDir)
	}
	if info, err := os.Stat(cfg.SegmentDir()); err != nil || !info.IsDir() {
		t.Fatalf("segment dir not created: %v", err)
	}
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.toml")
	if err := os.WriteFile(path, []byte("[storage]\nbackend = \"tape\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Fatal("expected invalid backend to fail")
	}
}

func TestRootCommandRejectsArgs(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"unexpected"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected positional args to be rejected")
	}
}
