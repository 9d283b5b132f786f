package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EnqueuePending inserts a pending record. Re-enqueueing an existing segment
// refreshes its fields and bumps its generation but keeps the original queue
// position.
func (s *Store) EnqueuePending(ctx context.Context, rec PendingRecord) (*PendingRecord, error) {
	if strings.TrimSpace(rec.SegmentID) == "" || strings.TrimSpace(rec.SessionID) == "" {
		return nil, errors.New("pending record requires segment and session ids")
	}
	if strings.TrimSpace(rec.ContentType) == "" {
		return nil, errors.New("pending record requires a content type")
	}
	var logsJSON any
	if len(rec.Logs) > 0 {
		encoded, err := json.Marshal(rec.Logs)
		if err != nil {
			return nil, fmt.Errorf("encode logs: %w", err)
		}
		logsJSON = string(encoded)
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	_, err := s.exec(ctx,
		`INSERT INTO pending_records (`+pendingColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
         ON CONFLICT(segment_id) DO UPDATE SET
             generation = pending_records.generation + 1,
             session_id = excluded.session_id,
             sequence = excluded.sequence,
             window_start_ms = excluded.window_start_ms,
             window_end_ms = excluded.window_end_ms,
             content_type = excluded.content_type,
             logs_json = excluded.logs_json`,
		rec.SegmentID,
		rec.SessionID,
		rec.Sequence,
		rec.WindowStartMs,
		rec.WindowEndMs,
		rec.ContentType,
		logsJSON,
		formatTime(created),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue pending %s: %w", rec.SegmentID, err)
	}
	return s.GetPending(ctx, rec.SegmentID)
}

// GetPending returns the pending record for a segment, or nil when none exists.
func (s *Store) GetPending(ctx context.Context, segmentID string) (*PendingRecord, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+pendingColumns+` FROM pending_records WHERE segment_id = ?`, segmentID)
	rec, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending: %w", err)
	}
	return rec, nil
}

// ListPending returns every pending record in FIFO order.
func (s *Store) ListPending(ctx context.Context) ([]PendingRecord, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pendingColumns+` FROM pending_records ORDER BY created_at, sequence, segment_id`)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var records []PendingRecord
	for rows.Next() {
		rec, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// RemovePending deletes a pending record and reports whether one existed.
func (s *Store) RemovePending(ctx context.Context, segmentID string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM pending_records WHERE segment_id = ?`, segmentID)
	if err != nil {
		return false, fmt.Errorf("remove pending %s: %w", segmentID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CompletePending deletes a pending record only while it is still at
// generation. It reports false when the record is gone or was re-enqueued.
func (s *Store) CompletePending(ctx context.Context, segmentID string, generation int64) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM pending_records WHERE segment_id = ? AND generation = ?`, segmentID, generation)
	if err != nil {
		return false, fmt.Errorf("complete pending %s: %w", segmentID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// HasPending reports whether a segment still has queued work.
func (s *Store) HasPending(ctx context.Context, segmentID string) (bool, error) {
	ctx = ensureContext(ctx)
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM pending_records WHERE segment_id = ?`, segmentID).Scan(&count); err != nil {
		return false, fmt.Errorf("check pending: %w", err)
	}
	return count > 0, nil
}
