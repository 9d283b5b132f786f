package ipc

import (
	"encoding/json"
	"time"

	"relay/internal/coordinator"
	"relay/internal/queue"
	"relay/internal/replay"
)

// StatusRequest fetches daemon status.
type StatusRequest struct {
	// Checks runs the preflight checks as part of the call.
	Checks bool `json:"checks"`
}

// Check is one preflight result.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// StatusResponse represents combined daemon and coordinator status.
type StatusResponse struct {
	Running         bool               `json:"running"`
	PID             int                `json:"pid"`
	StartedAt       string             `json:"started_at,omitempty"`
	LockPath        string             `json:"lock_path"`
	QueueDBPath     string             `json:"queue_db_path"`
	PortSocket      string             `json:"port_socket"`
	Backend         string             `json:"backend"`
	Coordinator     coordinator.Status `json:"coordinator"`
	Pending         int                `json:"pending"`
	SegmentStats    map[string]int     `json:"segment_stats"`
	BlobBytes       int64              `json:"blob_bytes"`
	Evicted         int                `json:"evicted"`
	RetentionMaxAge string             `json:"retention_max_age,omitempty"`
	RetentionBytes  int64              `json:"retention_max_bytes,omitempty"`
	Checks          []Check            `json:"checks,omitempty"`
}

// PendingRecord is the wire form of a queued upload.
type PendingRecord struct {
	SegmentID     string `json:"segment_id"`
	SessionID     string `json:"session_id"`
	Sequence      int    `json:"sequence"`
	WindowStartMs int64  `json:"window_start_ms"`
	WindowEndMs   int64  `json:"window_end_ms"`
	ContentType   string `json:"content_type"`
	LogCount      int    `json:"log_count"`
	CreatedAt     string `json:"created_at"`
}

// Segment is the wire form of segment meta.
type Segment struct {
	SegmentID     string `json:"segment_id"`
	SessionID     string `json:"session_id"`
	Sequence      int    `json:"sequence"`
	StartMediaMs  int64  `json:"start_media_ms"`
	EndMediaMs    int64  `json:"end_media_ms"`
	OverlapMs     int64  `json:"overlap_ms"`
	SizeBytes     int64  `json:"size_bytes"`
	ContentType   string `json:"content_type"`
	UploadStatus  string `json:"upload_status"`
	Attempts      int    `json:"attempts"`
	LastError     string `json:"last_error,omitempty"`
	RemoteID      string `json:"remote_id,omitempty"`
	RemoteURL     string `json:"remote_url,omitempty"`
	CreatedAt     string `json:"created_at"`
	UploadedAt    string `json:"uploaded_at,omitempty"`
	BlobEvictedAt string `json:"blob_evicted_at,omitempty"`
}

// PendingListRequest lists queued uploads.
type PendingListRequest struct{}

// PendingListResponse contains queued uploads in drain order.
type PendingListResponse struct {
	Records []PendingRecord `json:"records"`
}

// PendingRemoveRequest drops a queued upload.
type PendingRemoveRequest struct {
	SegmentID string `json:"segment_id"`
}

// PendingRemoveResponse reports whether a record existed.
type PendingRemoveResponse struct {
	Removed bool `json:"removed"`
}

// SegmentAddRequest stores a segment read from Path on the daemon host.
type SegmentAddRequest struct {
	SessionID    string            `json:"session_id"`
	SegmentID    string            `json:"segment_id,omitempty"`
	Sequence     int               `json:"sequence"`
	StartMediaMs int64             `json:"start_media_ms"`
	EndMediaMs   int64             `json:"end_media_ms"`
	OverlapMs    int64             `json:"overlap_ms"`
	ContentType  string            `json:"content_type,omitempty"`
	Path         string            `json:"path"`
	Logs         []json.RawMessage `json:"logs,omitempty"`
}

// SegmentAddResponse returns the stored meta.
type SegmentAddResponse struct {
	Segment Segment `json:"segment"`
}

// SegmentListRequest lists a session's segments, or sessions when empty.
type SegmentListRequest struct {
	SessionID string `json:"session_id"`
}

// SegmentListResponse carries either sessions or segments.
type SegmentListResponse struct {
	Sessions []string  `json:"sessions,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
}

// DrainRequest triggers a coordinator pass.
type DrainRequest struct{}

// DrainResponse acknowledges the trigger.
type DrainResponse struct {
	Triggered bool `json:"triggered"`
}

// ReplayRequest asks for the clips covering a window.
type ReplayRequest struct {
	SessionID string `json:"session_id"`
	StartMs   int64  `json:"start_ms"`
	EndMs     int64  `json:"end_ms"`
	// ExportDir, when set, is an absolute directory on the daemon host that
	// receives the clip blobs and a manifest.
	ExportDir string `json:"export_dir,omitempty"`
}

// ReplayResponse lists clips and their coverage. Unavailable is set instead of
// an error when nothing covers the window.
type ReplayResponse struct {
	Clips       []replay.ClipSource `json:"clips"`
	Coverage    replay.Report       `json:"coverage"`
	Unavailable bool                `json:"unavailable"`
	Manifest    string              `json:"manifest,omitempty"`
}

// GCRequest runs a retention sweep.
type GCRequest struct{}

// GCResponse reports sweep results.
type GCResponse struct {
	Enabled    bool  `json:"enabled"`
	Candidates int   `json:"candidates"`
	Evicted    int   `json:"evicted"`
	FreedBytes int64 `json:"freed_bytes"`
	Failed     int   `json:"failed"`
	Skipped    int   `json:"skipped"`
}

// FromPending converts a queue record to its wire form.
func FromPending(rec queue.PendingRecord) PendingRecord {
	return PendingRecord{
		SegmentID:     rec.SegmentID,
		SessionID:     rec.SessionID,
		Sequence:      rec.Sequence,
		WindowStartMs: rec.WindowStartMs,
		WindowEndMs:   rec.WindowEndMs,
		ContentType:   rec.ContentType,
		LogCount:      len(rec.Logs),
		CreatedAt:     formatTime(rec.CreatedAt),
	}
}

// FromMeta converts segment meta to its wire form.
func FromMeta(meta queue.SegmentMeta) Segment {
	seg := Segment{
		SegmentID:    meta.SegmentID,
		SessionID:    meta.SessionID,
		Sequence:     meta.Sequence,
		StartMediaMs: meta.StartMediaMs,
		EndMediaMs:   meta.EndMediaMs,
		OverlapMs:    meta.OverlapMs,
		SizeBytes:    meta.SizeBytes,
		ContentType:  meta.ContentType,
		UploadStatus: string(meta.UploadStatus),
		Attempts:     meta.Attempts,
		LastError:    meta.LastError,
		RemoteID:     meta.RemoteID,
		RemoteURL:    meta.RemoteURL,
		CreatedAt:    formatTime(meta.CreatedAt),
	}
	if meta.UploadedAt != nil {
		seg.UploadedAt = formatTime(*meta.UploadedAt)
	}
	if meta.BlobEvictedAt != nil {
		seg.BlobEvictedAt = formatTime(*meta.BlobEvictedAt)
	}
	return seg
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
