package retention_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"relay/internal/blobstore"
	"relay/internal/queue"
	"relay/internal/retention"
	"relay/internal/segstore"
	"relay/internal/testsupport"
)

func putUploaded(t *testing.T, store *segstore.Store, id string, size int) {
	t.Helper()
	ctx := context.Background()
	testsupport.PutSegment(t, store, queue.SegmentMeta{SegmentID: id, SessionID: "s1", StartMediaMs: 0, EndMediaMs: 1000}, bytes.Repeat([]byte{1}, size))
	if _, err := store.RemovePending(ctx, id); err != nil {
		t.Fatalf("RemovePending: %v", err)
	}
	if err := store.MarkUploaded(ctx, id, "remote-"+id, "https://cdn.example/"+id); err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}
}

func evicted(t *testing.T, store *segstore.Store, id string) bool {
	t.Helper()
	meta, err := store.GetMeta(context.Background(), id)
	if err != nil || meta == nil {
		t.Fatalf("GetMeta %s: %v", id, err)
	}
	_, getErr := store.GetSegment(context.Background(), "s1", id)
	gone := errors.Is(getErr, blobstore.ErrNotFound)
	if gone == meta.BlobAvailable() {
		t.Fatalf("segment %s: blob gone=%v but meta available=%v", id, gone, meta.BlobAvailable())
	}
	return gone
}

func TestSweepByAge(t *testing.T) {
	store := testsupport.MustOpenSegStore(t, testsupport.NewConfig(t))
	putUploaded(t, store, "old", 100)
	testsupport.PutSegment(t, store, queue.SegmentMeta{SegmentID: "queued", SessionID: "s1"}, []byte("q"))
	testsupport.PutSegment(t, store, queue.SegmentMeta{SegmentID: "failed", SessionID: "s1"}, []byte("f"))
	if err := store.MarkFailed(context.Background(), "failed", "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	sweeper := retention.New(store, retention.Policy{MaxAge: 24 * time.Hour}, nil, nil)

	res, err := sweeper.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Evicted != 0 {
		t.Fatalf("fresh upload evicted: %+v", res)
	}

	res, err = sweeper.Sweep(context.Background(), time.Now().Add(48*time.Hour))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Evicted != 1 || res.FreedBytes != 100 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !evicted(t, store, "old") {
		t.Fatal("expected old blob evicted")
	}
	for _, id := range []string{"queued", "failed"} {
		if evicted(t, store, id) {
			t.Fatalf("segment %s must not be evicted", id)
		}
	}
}

func TestSweepByBudget(t *testing.T) {
	store := testsupport.MustOpenSegStore(t, testsupport.NewConfig(t))
	putUploaded(t, store, "a", 1000)
	putUploaded(t, store, "b", 1000)
	putUploaded(t, store, "c", 1000)
	testsupport.PutSegment(t, store, queue.SegmentMeta{SegmentID: "d", SessionID: "s1"}, bytes.Repeat([]byte{2}, 500))

	sweeper := retention.New(store, retention.Policy{MaxBytes: 2000}, nil, nil)
	res, err := sweeper.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Evicted != 2 || res.FreedBytes != 2000 {
		t.Fatalf("unexpected result: %+v", res)
	}
	want := map[string]bool{"a": true, "b": true, "c": false, "d": false}
	for id, gone := range want {
		if evicted(t, store, id) != gone {
			t.Fatalf("segment %s evicted=%v, want %v", id, !gone, gone)
		}
	}

	// Evicted rows stay listed for the session.
	metas, err := store.ListSegments(context.Background(), "s1")
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(metas) != 4 {
		t.Fatalf("expected all meta retained, got %d", len(metas))
	}
}

// rewritingStore stores a candidate again between listing and eviction.
type rewritingStore struct {
	*segstore.Store
	t  *testing.T
	id string
}

func (r rewritingStore) ListEvictable(ctx context.Context) ([]queue.SegmentMeta, error) {
	candidates, err := r.Store.ListEvictable(ctx)
	if err != nil {
		return nil, err
	}
	testsupport.PutSegment(r.t, r.Store, queue.SegmentMeta{SegmentID: r.id, SessionID: "s1", StartMediaMs: 0, EndMediaMs: 1000}, []byte("rewritten"))
	return candidates, nil
}

func TestSweepSkipsRewrittenCandidate(t *testing.T) {
	store := testsupport.MustOpenSegStore(t, testsupport.NewConfig(t))
	putUploaded(t, store, "a", 100)
	putUploaded(t, store, "b", 100)

	sweeper := retention.New(rewritingStore{Store: store, t: t, id: "a"}, retention.Policy{MaxAge: time.Hour}, nil, nil)
	res, err := sweeper.Sweep(context.Background(), time.Now().Add(48*time.Hour))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Evicted != 1 || res.Skipped != 1 || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if evicted(t, store, "a") {
		t.Fatal("rewritten segment lost its blob")
	}
	blob, err := store.GetSegment(context.Background(), "s1", "a")
	if err != nil || string(blob) != "rewritten" {
		t.Fatalf("GetSegment = %q, %v", blob, err)
	}
	if !evicted(t, store, "b") {
		t.Fatal("expected b evicted")
	}
}

func TestSweepDisabled(t *testing.T) {
	store := testsupport.MustOpenSegStore(t, testsupport.NewConfig(t))
	putUploaded(t, store, "a", 10)
	res, err := retention.New(store, retention.Policy{}, nil, nil).Sweep(context.Background(), time.Now().Add(1000*time.Hour))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res != (retention.Result{}) {
		t.Fatalf("disabled policy did work: %+v", res)
	}
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRetention(12, 64))
	p := retention.PolicyFromConfig(cfg)
	if p.MaxAge != 12*time.Hour || p.MaxBytes != 64*1024*1024 || !p.Enabled() {
		t.Fatalf("unexpected policy: %+v", p)
	}
}
