package queue_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"relay/internal/queue"
	"relay/internal/testsupport"
)

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if store.Path() != filepath.Join(cfg.Paths.DataDir, "queue.db") {
		t.Fatalf("unexpected db path %q", store.Path())
	}
	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Pending != 0 || len(stats.ByStatus) != 0 {
		t.Fatalf("expected empty stats, got %+v", stats)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	store.Close()

	db, err := sql.Open("sqlite", cfg.QueueDBPath())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("PRAGMA user_version = 999"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	if _, err := queue.Open(cfg); !errors.Is(err, queue.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestOpenMigratesVersionOne(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	if _, err := store.EnqueuePending(ctx, queue.PendingRecord{SegmentID: "old", SessionID: "s", ContentType: "video/mp4"}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	db, err := sql.Open("sqlite", cfg.QueueDBPath())
	if err != nil {
		t.Fatal(err)
	}
	for _, stmt := range []string{
		"ALTER TABLE pending_records DROP COLUMN generation",
		"PRAGMA user_version = 1",
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	db.Close()

	migrated, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open version 1 database: %v", err)
	}
	defer migrated.Close()
	rec, err := migrated.GetPending(ctx, "old")
	if err != nil || rec == nil {
		t.Fatalf("GetPending after migration = %+v, %v", rec, err)
	}
	if rec.Generation != 1 {
		t.Fatalf("migrated generation = %d, want 1", rec.Generation)
	}
}

func TestPendingFIFOOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	records := []queue.PendingRecord{
		{SegmentID: "late", SessionID: "s", Sequence: 0, CreatedAt: base.Add(2 * time.Second)},
		{SegmentID: "b", SessionID: "s", Sequence: 2, CreatedAt: base},
		{SegmentID: "a", SessionID: "s", Sequence: 2, CreatedAt: base},
		{SegmentID: "first", SessionID: "s", Sequence: 1, CreatedAt: base},
		{SegmentID: "fraction", SessionID: "s", Sequence: 0, CreatedAt: base.Add(500 * time.Millisecond)},
	}
	for _, rec := range records {
		rec.ContentType = "video/mp4"
		if _, err := store.EnqueuePending(ctx, rec); err != nil {
			t.Fatalf("EnqueuePending %s: %v", rec.SegmentID, err)
		}
	}

	listed, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	want := []string{"first", "a", "b", "fraction", "late"}
	if len(listed) != len(want) {
		t.Fatalf("got %d records, want %d", len(listed), len(want))
	}
	for i, id := range want {
		if listed[i].SegmentID != id {
			t.Fatalf("position %d = %s, want %s", i, listed[i].SegmentID, id)
		}
	}
}

func TestEnqueuePendingKeepsPositionAndLogs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := queue.PendingRecord{
		SegmentID:     "seg",
		SessionID:     "sess",
		Sequence:      3,
		WindowStartMs: 1000,
		WindowEndMs:   2000,
		ContentType:   "video/webm",
		Logs:          []json.RawMessage{json.RawMessage(`{"level":"info","message":"hi"}`)},
		CreatedAt:     created,
	}
	if _, err := store.EnqueuePending(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.CreatedAt = created.Add(time.Hour)
	rec.Sequence = 4
	got, err := store.EnqueuePending(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("queue position moved: %v", got.CreatedAt)
	}
	if got.Sequence != 4 || got.WindowEndMs != 2000 || got.ContentType != "video/webm" {
		t.Fatalf("unexpected record %+v", got)
	}
	if len(got.Logs) != 1 || string(got.Logs[0]) != `{"level":"info","message":"hi"}` {
		t.Fatalf("logs not round-tripped: %s", got.Logs)
	}
}

func TestEnqueuePendingValidates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := store.EnqueuePending(ctx, queue.PendingRecord{SessionID: "s", ContentType: "x"}); err == nil {
		t.Fatal("expected error for missing segment id")
	}
	if _, err := store.EnqueuePending(ctx, queue.PendingRecord{SegmentID: "x", SessionID: "s"}); err == nil {
		t.Fatal("expected error for missing content type")
	}
}

func TestRemovePending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := store.EnqueuePending(ctx, queue.PendingRecord{SegmentID: "x", SessionID: "s", ContentType: "video/mp4"}); err != nil {
		t.Fatal(err)
	}
	removed, err := store.RemovePending(ctx, "x")
	if err != nil || !removed {
		t.Fatalf("RemovePending = %v, %v", removed, err)
	}
	removed, err = store.RemovePending(ctx, "x")
	if err != nil || removed {
		t.Fatalf("second RemovePending = %v, %v", removed, err)
	}
	if rec, err := store.GetPending(ctx, "x"); err != nil || rec != nil {
		t.Fatalf("GetPending after remove = %+v, %v", rec, err)
	}
}

func TestCompletePendingHonorsGeneration(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	rec := queue.PendingRecord{SegmentID: "x", SessionID: "s", ContentType: "video/mp4"}

	first, err := store.EnqueuePending(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.EnqueuePending(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	if first.Generation != 1 || second.Generation != 2 {
		t.Fatalf("generations %d, %d; want 1, 2", first.Generation, second.Generation)
	}

	tests := []struct {
		name       string
		generation int64
		completed  bool
		stillQueue bool
	}{
		{name: "stale generation", generation: first.Generation, completed: false, stillQueue: true},
		{name: "current generation", generation: second.Generation, completed: true, stillQueue: false},
		{name: "already completed", generation: second.Generation, completed: false, stillQueue: false},
	}
	for _, tt := range tests {
		completed, err := store.CompletePending(ctx, "x", tt.generation)
		if err != nil {
			t.Fatalf("%s: CompletePending: %v", tt.name, err)
		}
		if completed != tt.completed {
			t.Fatalf("%s: completed = %v, want %v", tt.name, completed, tt.completed)
		}
		has, err := store.HasPending(ctx, "x")
		if err != nil {
			t.Fatalf("%s: HasPending: %v", tt.name, err)
		}
		if has != tt.stillQueue {
			t.Fatalf("%s: HasPending = %v, want %v", tt.name, has, tt.stillQueue)
		}
	}
}

func TestSegmentMetaLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for _, meta := range []queue.SegmentMeta{
		{SegmentID: "two", SessionID: "s", StartMediaMs: 30000, EndMediaMs: 60000, OverlapMs: 3000, SizeBytes: 20},
		{SegmentID: "one", SessionID: "s", StartMediaMs: 0, EndMediaMs: 30000, OverlapMs: 3000, SizeBytes: 10},
		{SegmentID: "other", SessionID: "t", StartMediaMs: 0, EndMediaMs: 1000, SizeBytes: 5},
	} {
		if _, err := store.PutMeta(ctx, meta); err != nil {
			t.Fatalf("PutMeta %s: %v", meta.SegmentID, err)
		}
	}

	listed, err := store.ListMeta(ctx, "s")
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 2 || listed[0].SegmentID != "one" || listed[1].SegmentID != "two" {
		t.Fatalf("unexpected listing %+v", listed)
	}
	if listed[0].UploadStatus != queue.UploadPending {
		t.Fatalf("expected pending status, got %s", listed[0].UploadStatus)
	}

	if err := store.MarkFailed(ctx, "one", "network down"); err != nil {
		t.Fatal(err)
	}
	meta, err := store.GetMeta(ctx, "one")
	if err != nil {
		t.Fatal(err)
	}
	if meta.UploadStatus != queue.UploadFailed || meta.LastError != "network down" || meta.Attempts != 1 {
		t.Fatalf("unexpected failed meta %+v", meta)
	}

	uploadedAt := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	if err := store.MarkUploaded(ctx, "one", "remote-1", "https://cdn/x", uploadedAt); err != nil {
		t.Fatal(err)
	}
	meta, _ = store.GetMeta(ctx, "one")
	if meta.UploadStatus != queue.UploadUploaded || meta.RemoteID != "remote-1" || meta.LastError != "" {
		t.Fatalf("unexpected uploaded meta %+v", meta)
	}
	if meta.UploadedAt == nil || !meta.UploadedAt.Equal(uploadedAt) {
		t.Fatalf("uploaded_at = %v", meta.UploadedAt)
	}
	if meta.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", meta.Attempts)
	}

	if err := store.MarkFailed(ctx, "missing", "x"); !errors.Is(err, queue.ErrMetaNotFound) {
		t.Fatalf("expected ErrMetaNotFound, got %v", err)
	}

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 || sessions[0] != "s" || sessions[1] != "t" {
		t.Fatalf("sessions = %v", sessions)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ByStatus[queue.UploadUploaded] != 1 || stats.ByStatus[queue.UploadPending] != 2 || stats.BlobBytes != 35 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPutMetaRejectsBadTiming(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := store.PutMeta(ctx, queue.SegmentMeta{SegmentID: "x", SessionID: "s", StartMediaMs: 10, EndMediaMs: 5}); err == nil {
		t.Fatal("expected error for inverted span")
	}
	if _, err := store.PutMeta(ctx, queue.SegmentMeta{SegmentID: "x", SessionID: "s", EndMediaMs: 5, OverlapMs: -1}); err == nil {
		t.Fatal("expected error for negative overlap")
	}
}

func TestListEvictableSkipsPendingAndEvicted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"newer", "older", "queued", "evicted", "failed"} {
		if _, err := store.PutMeta(ctx, queue.SegmentMeta{SegmentID: id, SessionID: "s", EndMediaMs: 10}); err != nil {
			t.Fatal(err)
		}
		if id == "failed" {
			continue
		}
		uploaded := at.Add(time.Duration(i) * time.Minute)
		if id == "older" {
			uploaded = at.Add(-time.Hour)
		}
		if err := store.MarkUploaded(ctx, id, "r-"+id, "", uploaded); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.EnqueuePending(ctx, queue.PendingRecord{SegmentID: "queued", SessionID: "s", ContentType: "video/mp4"}); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkEvicted(ctx, "evicted", at); err != nil {
		t.Fatal(err)
	}

	evictable, err := store.ListEvictable(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(evictable) != 2 || evictable[0].SegmentID != "older" || evictable[1].SegmentID != "newer" {
		t.Fatalf("unexpected evictable set %+v", evictable)
	}

	evicted, _ := store.GetMeta(ctx, "evicted")
	if evicted.BlobAvailable() {
		t.Fatal("expected evicted blob to be unavailable")
	}
}
