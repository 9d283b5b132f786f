// Package segstore joins the blob tiers and the SQLite queue into the single
// segment store the coordinator, replay and retention code depend on.
package segstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"relay/internal/blobstore"
	"relay/internal/logging"
	"relay/internal/queue"
)

var (
	// ErrUnknownSegment reports an operation on a segment with no stored meta.
	ErrUnknownSegment = errors.New("unknown segment")
	// ErrNotEvictable reports a blob that stopped being an eviction candidate
	// after it was listed.
	ErrNotEvictable = errors.New("segment not evictable")
)

// Store is the segment and pending-record store.
type Store struct {
	// mu serializes segment writes and enqueues with eviction so a blob is
	// never deleted after a producer replaced it.
	mu     sync.Mutex
	queue  *queue.Store
	blobs  blobstore.Backend
	logger *slog.Logger
	now    func() time.Time
}

// Stats combines queue counters with the active blob tiers.
type Stats struct {
	queue.Stats
	Backend string
}

// New wires a queue store and a blob backend together.
func New(q *queue.Store, blobs blobstore.Backend, logger *slog.Logger) *Store {
	return &Store{
		queue:  q,
		blobs:  blobs,
		logger: logging.NewComponentLogger(logger, "segstore"),
		now:    time.Now,
	}
}

// Blobs exposes the underlying backend for readers that can map files directly.
func (s *Store) Blobs() blobstore.Backend { return s.blobs }

// PutSegment writes the blob and then its meta. The blob lands first so a meta
// row never points at bytes that were never written.
func (s *Store) PutSegment(ctx context.Context, meta queue.SegmentMeta, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.blobs.Put(ctx, meta.SessionID, meta.SegmentID, blob); err != nil {
		return fmt.Errorf("store blob: %w", err)
	}
	meta.SizeBytes = int64(len(blob))
	if _, err := s.queue.PutMeta(ctx, meta); err != nil {
		return fmt.Errorf("store meta: %w", err)
	}
	s.logger.Debug("segment stored",
		logging.String(logging.FieldSessionID, meta.SessionID),
		logging.String(logging.FieldSegmentID, meta.SegmentID),
		logging.Int64("size_bytes", meta.SizeBytes),
	)
	return nil
}

// GetSegment returns the segment bytes or blobstore.ErrNotFound.
func (s *Store) GetSegment(ctx context.Context, sessionID, segmentID string) ([]byte, error) {
	return s.blobs.Get(ctx, sessionID, segmentID)
}

// ListSegments returns a session's segment meta ordered by media start.
func (s *Store) ListSegments(ctx context.Context, sessionID string) ([]queue.SegmentMeta, error) {
	return s.queue.ListMeta(ctx, sessionID)
}

// ListSessions returns every session with stored segments.
func (s *Store) ListSessions(ctx context.Context) ([]string, error) {
	return s.queue.ListSessions(ctx)
}

// EnqueuePending durably queues a segment for upload. The segment must have
// been stored and not evicted.
func (s *Store) EnqueuePending(ctx context.Context, rec queue.PendingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, err := s.queue.GetMeta(ctx, rec.SegmentID)
	if err != nil {
		return err
	}
	if meta == nil || !meta.BlobAvailable() {
		return fmt.Errorf("%w: %s", ErrUnknownSegment, rec.SegmentID)
	}
	if meta.SessionID != rec.SessionID {
		return fmt.Errorf("segment %s belongs to session %s, not %s", rec.SegmentID, meta.SessionID, rec.SessionID)
	}
	if _, err := s.queue.EnqueuePending(ctx, rec); err != nil {
		return err
	}
	return nil
}

// ListPending returns queued work in FIFO order.
func (s *Store) ListPending(ctx context.Context) ([]queue.PendingRecord, error) {
	return s.queue.ListPending(ctx)
}

// RemovePending deletes a queued record and reports whether it existed.
func (s *Store) RemovePending(ctx context.Context, segmentID string) (bool, error) {
	return s.queue.RemovePending(ctx, segmentID)
}

// CompletePending removes a record the coordinator finished, unless it was
// re-enqueued since it was listed.
func (s *Store) CompletePending(ctx context.Context, segmentID string, generation int64) (bool, error) {
	return s.queue.CompletePending(ctx, segmentID, generation)
}

// HasPending reports whether a segment has queued work.
func (s *Store) HasPending(ctx context.Context, segmentID string) (bool, error) {
	return s.queue.HasPending(ctx, segmentID)
}

// GetMeta returns a segment's meta, or nil when unknown.
func (s *Store) GetMeta(ctx context.Context, segmentID string) (*queue.SegmentMeta, error) {
	return s.queue.GetMeta(ctx, segmentID)
}

// MarkUploaded records the remote identity of a delivered segment.
func (s *Store) MarkUploaded(ctx context.Context, segmentID, remoteID, remoteURL string) error {
	return s.queue.MarkUploaded(ctx, segmentID, remoteID, remoteURL, s.now())
}

// MarkFailed records a failed delivery attempt.
func (s *Store) MarkFailed(ctx context.Context, segmentID, reason string) error {
	return s.queue.MarkFailed(ctx, segmentID, reason)
}

// ListEvictable returns uploaded segments whose blobs retention may remove.
func (s *Store) ListEvictable(ctx context.Context) ([]queue.SegmentMeta, error) {
	return s.queue.ListEvictable(ctx)
}

// EvictBlob deletes a segment's bytes from every tier and stamps the meta.
// The meta row itself is kept. Candidates are re-checked first: a segment
// stored or queued again since ListEvictable yields ErrNotEvictable.
func (s *Store) EvictBlob(ctx context.Context, meta queue.SegmentMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.queue.Evictable(ctx, meta.SegmentID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotEvictable, meta.SegmentID)
	}
	if err := s.blobs.Delete(ctx, meta.SessionID, meta.SegmentID); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return s.queue.MarkEvicted(ctx, meta.SegmentID, s.now())
}

// Stats summarizes queue and storage state.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	qs, err := s.queue.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Stats: qs, Backend: s.blobs.Name()}, nil
}
