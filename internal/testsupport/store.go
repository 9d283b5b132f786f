package testsupport

import (
	"context"
	"testing"

	"relay/internal/blobstore"
	"relay/internal/config"
	"relay/internal/logging"
	"relay/internal/queue"
	"relay/internal/segstore"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenSegStore opens the full segment store (queue + selected blob tiers).
func MustOpenSegStore(t testing.TB, cfg *config.Config) *segstore.Store {
	t.Helper()

	blobs, err := blobstore.Select(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("blobstore.Select: %v", err)
	}
	store := segstore.New(MustOpenStore(t, cfg), blobs, logging.NewNop())
	t.Cleanup(func() {
		_ = blobs.Close()
	})
	return store
}

// PutSegment stores a segment and enqueues it, failing the test on error.
func PutSegment(t testing.TB, store *segstore.Store, meta queue.SegmentMeta, blob []byte) {
	t.Helper()

	ctx := context.Background()
	if err := store.PutSegment(ctx, meta, blob); err != nil {
		t.Fatalf("PutSegment %s: %v", meta.SegmentID, err)
	}
	rec := queue.PendingRecord{
		SegmentID:     meta.SegmentID,
		SessionID:     meta.SessionID,
		Sequence:      meta.Sequence,
		WindowStartMs: meta.StartMediaMs,
		WindowEndMs:   meta.EndMediaMs,
		ContentType:   "video/mp4",
	}
	if err := store.EnqueuePending(ctx, rec); err != nil {
		t.Fatalf("EnqueuePending %s: %v", meta.SegmentID, err)
	}
}
