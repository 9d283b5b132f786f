package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"relay/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("segments", dir, 0); !result.Passed {
		t.Fatalf("expected pass with zero minimum, got: %s", result.Detail)
	}
	if result := CheckFreeSpace("segments", dir, ^uint64(0)); result.Passed {
		t.Fatal("expected failure with impossible minimum")
	}
}

func TestCheckAPI(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"ok", http.StatusOK, true},
		{"not found still reachable", http.StatusNotFound, true},
		{"unauthorized", http.StatusUnauthorized, false},
		{"server error", http.StatusBadGateway, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuth string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			result := CheckAPI(context.Background(), "api", srv.URL, "tok")
			if result.Passed != tt.want {
				t.Fatalf("Passed = %v, want %v (%s)", result.Passed, tt.want, result.Detail)
			}
			if gotAuth != "Bearer tok" {
				t.Fatalf("unexpected auth header %q", gotAuth)
			}
		})
	}
}

func TestCheckAPIMissingURL(t *testing.T) {
	if result := CheckAPI(context.Background(), "api", " ", ""); result.Passed {
		t.Fatal("expected failure for missing url")
	}
}

func TestRunAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.API.BaseURL = srv.URL
	cfg.Build.BaseURL = srv.URL
	cfg.Storage.MinFreeMiB = 0
	if err := os.MkdirAll(cfg.SegmentDir(), 0o755); err != nil {
		t.Fatal(err)
	}

	results := RunAll(context.Background(), &cfg)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !AllPassed(results) {
		t.Fatalf("expected all checks to pass: %+v", results)
	}
	if RunAll(context.Background(), nil) != nil {
		t.Fatal("expected nil for nil config")
	}
}
