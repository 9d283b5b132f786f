package ipc_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"relay/internal/daemon"
	"relay/internal/ipc"
	"relay/internal/logging"
	"relay/internal/replay"
	"relay/internal/replayapi"
	"relay/internal/testsupport"
)

func newRemote(t *testing.T) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/presigned-url") {
			_ = json.NewEncoder(w).Encode(replayapi.PresignResponse{
				SegmentID: "remote-seg",
				S3URL:     server.URL + "/blob?sig=1",
				ExpiresIn: 60,
			})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestIPCServerClient(t *testing.T) {
	remote := newRemote(t)
	cfg := testsupport.NewConfig(t, testsupport.WithAPIBaseURL(remote.URL))
	logger := logging.NewNop()
	d, err := daemon.New(cfg, daemon.Options{Logger: logger})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon Start: %v", err)
	}

	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		srv.Close()
	})

	client, err := ipc.Dial(cfg.Paths.SocketPath)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	status, err := client.Status(false)
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running || status.Backend == "" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if len(status.Checks) != 0 {
		t.Fatalf("checks ran without being requested: %+v", status.Checks)
	}

	if _, err := client.SegmentAdd(ipc.SegmentAddRequest{SessionID: "s1", Path: "relative.bin"}); err == nil {
		t.Fatal("expected relative path to be rejected")
	}

	blobPath := filepath.Join(testsupport.BaseDir(cfg), "capture.bin")
	if err := os.WriteFile(blobPath, []byte("media"), 0o644); err != nil {
		t.Fatalf("write blob: %v", err)
	}
	added, err := client.SegmentAdd(ipc.SegmentAddRequest{
		SessionID:    "s1",
		SegmentID:    "seg-1",
		Sequence:     1,
		StartMediaMs: 0,
		EndMediaMs:   30000,
		OverlapMs:    3000,
		Path:         blobPath,
	})
	if err != nil {
		t.Fatalf("SegmentAdd RPC failed: %v", err)
	}
	if added.Segment.SegmentID != "seg-1" || added.Segment.SizeBytes != 5 {
		t.Fatalf("unexpected segment: %+v", added.Segment)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		list, err := client.SegmentList("s1")
		if err != nil {
			t.Fatalf("SegmentList RPC failed: %v", err)
		}
		if len(list.Segments) == 1 && list.Segments[0].UploadStatus == "uploaded" {
			if list.Segments[0].RemoteID != "remote-seg" || list.Segments[0].UploadedAt == "" {
				t.Fatalf("unexpected uploaded segment: %+v", list.Segments[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("segment not uploaded: %+v", list.Segments)
		}
		time.Sleep(20 * time.Millisecond)
	}

	sessions, err := client.SegmentList("")
	if err != nil {
		t.Fatalf("SegmentList sessions: %v", err)
	}
	if len(sessions.Sessions) != 1 || sessions.Sessions[0] != "s1" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}

	pending, err := client.PendingList()
	if err != nil {
		t.Fatalf("PendingList RPC failed: %v", err)
	}
	if len(pending.Records) != 0 {
		t.Fatalf("expected empty queue, got %+v", pending.Records)
	}

	removed, err := client.PendingRemove("seg-1")
	if err != nil {
		t.Fatalf("PendingRemove RPC failed: %v", err)
	}
	if removed.Removed {
		t.Fatal("expected nothing to remove")
	}

	replayResp, err := client.Replay(ipc.ReplayRequest{SessionID: "s1", StartMs: 20000, EndMs: 30000})
	if err != nil {
		t.Fatalf("Replay RPC failed: %v", err)
	}
	if replayResp.Unavailable || len(replayResp.Clips) != 1 || replayResp.Coverage.CoveredMs != 10000 {
		t.Fatalf("unexpected replay: %+v", replayResp)
	}
	exportDir := filepath.Join(testsupport.BaseDir(cfg), "export")
	exported, err := client.Replay(ipc.ReplayRequest{SessionID: "s1", StartMs: 20000, EndMs: 30000, ExportDir: exportDir})
	if err != nil {
		t.Fatalf("Replay export RPC failed: %v", err)
	}
	if exported.Manifest != filepath.Join(exportDir, replay.ManifestName) {
		t.Fatalf("unexpected manifest path: %q", exported.Manifest)
	}
	if data, err := os.ReadFile(filepath.Join(exportDir, "001-seg-1.bin")); err != nil || string(data) != "media" {
		t.Fatalf("exported blob: %q %v", data, err)
	}
	missing, err := client.Replay(ipc.ReplayRequest{SessionID: "s1", StartMs: 90000, EndMs: 95000})
	if err != nil {
		t.Fatalf("Replay RPC failed: %v", err)
	}
	if !missing.Unavailable {
		t.Fatalf("expected unavailable replay, got %+v", missing)
	}
	if _, err := client.Replay(ipc.ReplayRequest{SessionID: "s1", StartMs: 10, EndMs: 5}); err == nil {
		t.Fatal("expected invalid window error")
	}

	drain, err := client.Drain()
	if err != nil || !drain.Triggered {
		t.Fatalf("Drain RPC failed: %v %+v", err, drain)
	}

	gc, err := client.GC()
	if err != nil {
		t.Fatalf("GC RPC failed: %v", err)
	}
	if gc.Enabled || gc.Evicted != 0 {
		t.Fatalf("retention should be disabled: %+v", gc)
	}
}
