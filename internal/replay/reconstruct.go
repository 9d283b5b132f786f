// Package replay turns stored, overlapping segments into the list of clips
// that cover a requested media window.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"relay/internal/blobstore"
	"relay/internal/logging"
	"relay/internal/queue"
	"relay/internal/services"
)

var (
	// ErrInvalidWindow rejects negative or empty windows.
	ErrInvalidWindow = errors.New("invalid replay window")
	// ErrReplayUnavailable means no stored segment covers any part of the window.
	ErrReplayUnavailable = errors.New("replay unavailable for this moment")
)

// ClipSource is one contiguous slice of a segment blob. Offsets are local to
// the blob; MediaStartMs and MediaEndMs place the slice on the session clock.
type ClipSource struct {
	SegmentID     string `json:"segment_id"`
	StartOffsetMs int64  `json:"start_offset_ms"`
	EndOffsetMs   int64  `json:"end_offset_ms"`
	MediaStartMs  int64  `json:"media_start_ms"`
	MediaEndMs    int64  `json:"media_end_ms"`
}

// DurationMs is the clip length.
func (c ClipSource) DurationMs() int64 { return c.EndOffsetMs - c.StartOffsetMs }

// Source supplies segment meta and bytes.
type Source interface {
	ListSegments(ctx context.Context, sessionID string) ([]queue.SegmentMeta, error)
	GetSegment(ctx context.Context, sessionID, segmentID string) ([]byte, error)
}

// Reconstructor reads segments from a Source.
type Reconstructor struct {
	source  Source
	locator blobstore.Locator
	logger  *slog.Logger
}

// New builds a reconstructor. locator may be nil; when set, Open maps blobs
// that live as plain files instead of copying them.
func New(source Source, locator blobstore.Locator, logger *slog.Logger) *Reconstructor {
	return &Reconstructor{
		source:  source,
		locator: locator,
		logger:  logging.NewComponentLogger(logger, "replay"),
	}
}

type span struct {
	meta     queue.SegmentMeta
	effStart int64
	effEnd   int64
}

// Reconstruct returns the ordered, non-overlapping clips covering as much of
// [startMs, endMs) as the stored segments allow.
func (r *Reconstructor) Reconstruct(ctx context.Context, sessionID string, startMs, endMs int64) ([]ClipSource, error) {
	if startMs < 0 || endMs <= startMs {
		return nil, services.Wrap(services.ErrValidation, "replay", "reconstruct",
			fmt.Sprintf("window [%d,%d)", startMs, endMs), ErrInvalidWindow)
	}
	metas, err := r.source.ListSegments(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}

	clips := reconstruct(metas, startMs, endMs)
	if len(clips) == 0 {
		r.logger.Debug("no segment covers window",
			logging.String(logging.FieldSessionID, sessionID),
			logging.Int64("start_ms", startMs),
			logging.Int64("end_ms", endMs),
			logging.Int("segments", len(metas)),
		)
		return nil, ErrReplayUnavailable
	}
	return clips, nil
}

func reconstruct(metas []queue.SegmentMeta, startMs, endMs int64) []ClipSource {
	firstID := firstSegment(metas)

	spans := make([]span, 0, len(metas))
	for _, meta := range metas {
		if !meta.BlobAvailable() || meta.EndMediaMs < meta.StartMediaMs {
			continue
		}
		effStart := max(meta.StartMediaMs-meta.OverlapMs, 0)
		if meta.SegmentID == firstID {
			effStart = meta.StartMediaMs
		}
		effEnd := meta.EndMediaMs + meta.OverlapMs
		if effStart >= endMs || effEnd <= startMs {
			continue
		}
		spans = append(spans, span{meta: meta, effStart: effStart, effEnd: effEnd})
	}
	sort.Slice(spans, func(i, j int) bool {
		a, b := spans[i], spans[j]
		if a.effStart != b.effStart {
			return a.effStart < b.effStart
		}
		if a.meta.StartMediaMs != b.meta.StartMediaMs {
			return a.meta.StartMediaMs < b.meta.StartMediaMs
		}
		return a.meta.SegmentID < b.meta.SegmentID
	})

	var clips []ClipSource
	lastEnd := startMs
	for _, s := range spans {
		if lastEnd >= endMs {
			break
		}
		clipStart := max(s.effStart, startMs, lastEnd)
		clipEnd := min(s.effEnd, endMs)
		if clipEnd <= clipStart {
			continue
		}
		clips = append(clips, ClipSource{
			SegmentID:     s.meta.SegmentID,
			StartOffsetMs: clipStart - s.effStart,
			EndOffsetMs:   clipEnd - s.effStart,
			MediaStartMs:  clipStart,
			MediaEndMs:    clipEnd,
		})
		lastEnd = clipEnd
	}
	return clips
}

// firstSegment picks the session's earliest segment, evicted or not, since it
// alone starts without leading overlap.
func firstSegment(metas []queue.SegmentMeta) string {
	var first *queue.SegmentMeta
	for i := range metas {
		m := &metas[i]
		if first == nil || m.StartMediaMs < first.StartMediaMs ||
			(m.StartMediaMs == first.StartMediaMs && m.SegmentID < first.SegmentID) {
			first = m
		}
	}
	if first == nil {
		return ""
	}
	return first.SegmentID
}

// Gap is an uncovered stretch of the session clock.
type Gap struct {
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

// Report summarizes how much of a span the clips cover.
type Report struct {
	StartMs   int64 `json:"start_ms"`
	EndMs     int64 `json:"end_ms"`
	CoveredMs int64 `json:"covered_ms"`
	Gaps      []Gap `json:"gaps,omitempty"`
}

// Coverage reports covered time and holes between clips, over the span from
// the first clip's start to the last clip's end.
func Coverage(clips []ClipSource) Report {
	if len(clips) == 0 {
		return Report{}
	}
	ordered := append([]ClipSource(nil), clips...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].MediaStartMs < ordered[j].MediaStartMs })

	report := Report{StartMs: ordered[0].MediaStartMs}
	cursor := ordered[0].MediaStartMs
	for _, clip := range ordered {
		if clip.MediaStartMs > cursor {
			report.Gaps = append(report.Gaps, Gap{StartMs: cursor, EndMs: clip.MediaStartMs})
			cursor = clip.MediaStartMs
		}
		if clip.MediaEndMs > cursor {
			report.CoveredMs += clip.MediaEndMs - cursor
			cursor = clip.MediaEndMs
		}
	}
	report.EndMs = cursor
	return report
}
