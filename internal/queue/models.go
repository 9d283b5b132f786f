package queue

import (
	"encoding/json"
	"time"
)

// UploadStatus is the remote delivery outcome recorded on segment meta.
type UploadStatus string

const (
	UploadPending  UploadStatus = "pending"
	UploadUploaded UploadStatus = "uploaded"
	UploadFailed   UploadStatus = "failed"
)

// PendingRecord is a durable unit of upload work. It is removed only when the
// whole upload pipeline for its segment succeeds.
type PendingRecord struct {
	SegmentID     string
	SessionID     string
	Sequence      int
	WindowStartMs int64
	WindowEndMs   int64
	ContentType   string
	// Logs holds free-form diagnostic objects forwarded verbatim to the remote.
	Logs      []json.RawMessage
	CreatedAt time.Time
	// Generation increases each time the segment is enqueued again. A drain
	// completes only the generation it read.
	Generation int64
}

// SegmentMeta describes a stored segment and its upload outcome.
type SegmentMeta struct {
	SegmentID     string
	SessionID     string
	Sequence      int
	StartMediaMs  int64
	EndMediaMs    int64
	OverlapMs     int64
	SizeBytes     int64
	ContentType   string
	UploadStatus  UploadStatus
	Attempts      int
	LastError     string
	RemoteID      string
	RemoteURL     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	UploadedAt    *time.Time
	BlobEvictedAt *time.Time
}

// BlobAvailable reports whether the segment's bytes are still held locally.
func (m SegmentMeta) BlobAvailable() bool {
	return m.BlobEvictedAt == nil
}

// Stats summarizes queue contents.
type Stats struct {
	Pending   int
	ByStatus  map[UploadStatus]int
	BlobBytes int64
	Evicted   int
}
