package replay_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"relay/internal/queue"
	"relay/internal/replay"
)

func TestExportWritesBlobsAndManifest(t *testing.T) {
	blobA := []byte("segment-a")
	blobB := []byte("segment-b")
	source := memSource{
		metas: []queue.SegmentMeta{seg("a", 0, 30000, 3000), seg("b", 30000, 60000, 3000)},
		blobs: map[string][]byte{"a": blobA, "b": blobB},
	}
	r := replay.New(source, nil, nil)
	ctx := context.Background()
	clips, err := r.Reconstruct(ctx, "s1", 20000, 50000)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "export")
	manifest, err := r.Export(ctx, "s1", clips, dir)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(manifest.Clips) != 2 {
		t.Fatalf("expected 2 exported clips, got %d", len(manifest.Clips))
	}
	for i, want := range [][]byte{blobA, blobB} {
		got, err := os.ReadFile(filepath.Join(dir, manifest.Clips[i].File))
		if err != nil {
			t.Fatalf("read exported clip %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("clip %d contents mismatch: %q", i, got)
		}
	}
	if manifest.Clips[0].File != "001-a.bin" || manifest.Clips[1].File != "002-b.bin" {
		t.Fatalf("unexpected file names: %+v", manifest.Clips)
	}

	data, err := os.ReadFile(filepath.Join(dir, replay.ManifestName))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var decoded replay.Manifest
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if decoded.SessionID != "s1" || len(decoded.Clips) != 2 || decoded.Clips[1].StartOffsetMs != 6000 {
		t.Fatalf("unexpected manifest: %+v", decoded)
	}
}

func TestExportRejectsRelativeDir(t *testing.T) {
	r := replay.New(memSource{}, nil, nil)
	if _, err := r.Export(context.Background(), "s1", nil, "relative/dir"); err == nil {
		t.Fatal("expected relative export directory to be rejected")
	}
}
