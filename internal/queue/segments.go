package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMetaNotFound reports an update against a segment with no meta row.
var ErrMetaNotFound = errors.New("segment meta not found")

// PutMeta inserts or replaces the descriptive fields of a segment. Upload
// outcome columns are reset to pending on insert and preserved on update.
func (s *Store) PutMeta(ctx context.Context, meta SegmentMeta) (*SegmentMeta, error) {
	if strings.TrimSpace(meta.SegmentID) == "" || strings.TrimSpace(meta.SessionID) == "" {
		return nil, errors.New("segment meta requires segment and session ids")
	}
	if meta.EndMediaMs < meta.StartMediaMs {
		return nil, fmt.Errorf("segment %s ends (%d) before it starts (%d)", meta.SegmentID, meta.EndMediaMs, meta.StartMediaMs)
	}
	if meta.OverlapMs < 0 || meta.StartMediaMs < 0 {
		return nil, fmt.Errorf("segment %s has negative timing", meta.SegmentID)
	}
	now := s.now()
	created := meta.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err := s.exec(ctx,
		`INSERT INTO segment_meta (
             segment_id, session_id, sequence, start_media_ms, end_media_ms, overlap_ms,
             size_bytes, content_type, upload_status, created_at, updated_at
         ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(segment_id) DO UPDATE SET
             session_id = excluded.session_id,
             sequence = excluded.sequence,
             start_media_ms = excluded.start_media_ms,
             end_media_ms = excluded.end_media_ms,
             overlap_ms = excluded.overlap_ms,
             size_bytes = excluded.size_bytes,
             content_type = excluded.content_type,
             upload_status = excluded.upload_status,
             last_error = NULL,
             blob_evicted_at = NULL,
             updated_at = excluded.updated_at`,
		meta.SegmentID,
		meta.SessionID,
		meta.Sequence,
		meta.StartMediaMs,
		meta.EndMediaMs,
		meta.OverlapMs,
		meta.SizeBytes,
		nullableString(meta.ContentType),
		UploadPending,
		formatTime(created),
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("put meta %s: %w", meta.SegmentID, err)
	}
	return s.GetMeta(ctx, meta.SegmentID)
}

// GetMeta returns the meta row for a segment, or nil when none exists.
func (s *Store) GetMeta(ctx context.Context, segmentID string) (*SegmentMeta, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+metaColumns+` FROM segment_meta WHERE segment_id = ?`, segmentID)
	meta, err := scanMeta(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get meta: %w", err)
	}
	return meta, nil
}

// ListMeta returns a session's segments ordered by media start time.
func (s *Store) ListMeta(ctx context.Context, sessionID string) ([]SegmentMeta, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+metaColumns+` FROM segment_meta WHERE session_id = ? ORDER BY start_media_ms, segment_id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list meta: %w", err)
	}
	return collectMeta(rows)
}

// ListSessions returns every session with stored segments.
func (s *Store) ListSessions(ctx context.Context) ([]string, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM segment_meta ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var sessions []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		sessions = append(sessions, id)
	}
	return sessions, rows.Err()
}

// ListEvictable returns uploaded segments whose blob is still held locally and
// which have no queued work, oldest upload first.
func (s *Store) ListEvictable(ctx context.Context) ([]SegmentMeta, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+metaColumns+` FROM segment_meta m
         WHERE m.upload_status = ? AND m.uploaded_at IS NOT NULL AND m.blob_evicted_at IS NULL
           AND NOT EXISTS (SELECT 1 FROM pending_records p WHERE p.segment_id = m.segment_id)
         ORDER BY m.uploaded_at, m.segment_id`,
		UploadUploaded,
	)
	if err != nil {
		return nil, fmt.Errorf("list evictable: %w", err)
	}
	return collectMeta(rows)
}

// MarkUploaded records a successful remote delivery.
func (s *Store) MarkUploaded(ctx context.Context, segmentID, remoteID, remoteURL string, at time.Time) error {
	return s.updateMeta(ctx, segmentID,
		`UPDATE segment_meta
         SET upload_status = ?, remote_id = ?, remote_url = ?, uploaded_at = ?, last_error = NULL,
             attempts = attempts + 1, updated_at = ?
         WHERE segment_id = ?`,
		UploadUploaded, nullableString(remoteID), nullableString(remoteURL), formatTime(at), formatTime(s.now()), segmentID,
	)
}

// MarkFailed records a failed delivery attempt.
func (s *Store) MarkFailed(ctx context.Context, segmentID, reason string) error {
	return s.updateMeta(ctx, segmentID,
		`UPDATE segment_meta
         SET upload_status = ?, last_error = ?, attempts = attempts + 1, updated_at = ?
         WHERE segment_id = ?`,
		UploadFailed, nullableString(reason), formatTime(s.now()), segmentID,
	)
}

// Evictable reports whether retention may remove a segment's blob right now:
// it is uploaded, still held locally and has no queued work.
func (s *Store) Evictable(ctx context.Context, segmentID string) (bool, error) {
	ctx = ensureContext(ctx)
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
             SELECT 1 FROM segment_meta m
             WHERE m.segment_id = ? AND m.upload_status = ? AND m.blob_evicted_at IS NULL
               AND NOT EXISTS (SELECT 1 FROM pending_records p WHERE p.segment_id = m.segment_id)
         )`,
		segmentID, UploadUploaded,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check evictable %s: %w", segmentID, err)
	}
	return ok, nil
}

// MarkEvicted stamps the time a segment's blob was removed by retention.
func (s *Store) MarkEvicted(ctx context.Context, segmentID string, at time.Time) error {
	return s.updateMeta(ctx, segmentID,
		`UPDATE segment_meta SET blob_evicted_at = ?, updated_at = ? WHERE segment_id = ?`,
		formatTime(at), formatTime(s.now()), segmentID,
	)
}

func (s *Store) updateMeta(ctx context.Context, segmentID, query string, args ...any) error {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update meta %s: %w", segmentID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrMetaNotFound, segmentID)
	}
	return nil
}
