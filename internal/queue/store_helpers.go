package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// timeLayout is fixed-width so lexical ORDER BY on the text column matches
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const pendingColumns = "segment_id, session_id, sequence, window_start_ms, window_end_ms, content_type, logs_json, created_at, generation"

const metaColumns = "segment_id, session_id, sequence, start_media_ms, end_media_ms, overlap_ms, size_bytes, content_type, upload_status, attempts, last_error, remote_id, remote_url, created_at, updated_at, uploaded_at, blob_evicted_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPending(scanner rowScanner) (*PendingRecord, error) {
	var (
		rec        PendingRecord
		logsJSON   sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(
		&rec.SegmentID,
		&rec.SessionID,
		&rec.Sequence,
		&rec.WindowStartMs,
		&rec.WindowEndMs,
		&rec.ContentType,
		&logsJSON,
		&createdRaw,
		&rec.Generation,
	); err != nil {
		return nil, err
	}
	if logsJSON.Valid && logsJSON.String != "" {
		if err := json.Unmarshal([]byte(logsJSON.String), &rec.Logs); err != nil {
			return nil, fmt.Errorf("decode logs for %s: %w", rec.SegmentID, err)
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		rec.CreatedAt = created
	}
	return &rec, nil
}

func scanMeta(scanner rowScanner) (*SegmentMeta, error) {
	var (
		meta        SegmentMeta
		contentType sql.NullString
		status      string
		lastError   sql.NullString
		remoteID    sql.NullString
		remoteURL   sql.NullString
		createdRaw  string
		updatedRaw  string
		uploadedRaw sql.NullString
		evictedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&meta.SegmentID,
		&meta.SessionID,
		&meta.Sequence,
		&meta.StartMediaMs,
		&meta.EndMediaMs,
		&meta.OverlapMs,
		&meta.SizeBytes,
		&contentType,
		&status,
		&meta.Attempts,
		&lastError,
		&remoteID,
		&remoteURL,
		&createdRaw,
		&updatedRaw,
		&uploadedRaw,
		&evictedRaw,
	); err != nil {
		return nil, err
	}
	meta.ContentType = contentType.String
	meta.UploadStatus = UploadStatus(status)
	meta.LastError = lastError.String
	meta.RemoteID = remoteID.String
	meta.RemoteURL = remoteURL.String
	if created, err := parseTimeString(createdRaw); err == nil {
		meta.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		meta.UpdatedAt = updated
	}
	meta.UploadedAt = parseNullableTime(uploadedRaw)
	meta.BlobEvictedAt = parseNullableTime(evictedRaw)
	return &meta, nil
}

func collectMeta(rows *sql.Rows) ([]SegmentMeta, error) {
	defer rows.Close()
	var out []SegmentMeta
	for rows.Next() {
		meta, err := scanMeta(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *meta)
	}
	return out, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	parsed, err := parseTimeString(raw.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty time")
	}
	return time.Parse(time.RFC3339Nano, value)
}
