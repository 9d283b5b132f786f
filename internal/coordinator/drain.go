package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relay/internal/blobstore"
	"relay/internal/logging"
	"relay/internal/metrics"
	"relay/internal/queue"
	"relay/internal/replayapi"
	"relay/internal/services"
)

// runDrain processes every pending record in listing order. Completion is
// always reported, including after a panic, so the actor leaves Draining.
func (c *Coordinator) runDrain(ctx context.Context, pass int) {
	started := time.Now()
	result := DrainResult{Pass: pass}
	defer func() {
		if r := recover(); r != nil {
			result.Error = fmt.Sprintf("drain panicked: %v", r)
			logging.ErrorWithContext(c.logger, "drain panicked", "drain_panic",
				logging.Int("pass", pass),
				logging.Any("panic", r),
			)
		}
		result.DurationMs = time.Since(started).Milliseconds()
		c.worker <- workerMsg{done: &result}
	}()

	records, err := c.store.ListPending(ctx)
	if err != nil {
		result.Error = err.Error()
		return
	}
	result.Listed = len(records)

	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		switch c.processRecord(ctx, rec) {
		case metrics.OutcomeUploaded:
			result.Uploaded++
		case metrics.OutcomeFailed:
			result.Failed++
		case metrics.OutcomeDropped:
			result.Dropped++
		}
	}
}

// processRecord runs the upload pipeline for one record and returns its
// outcome. An empty outcome means the pass was interrupted by shutdown.
func (c *Coordinator) processRecord(ctx context.Context, rec queue.PendingRecord) string {
	ctx = services.WithSegmentID(services.WithSessionID(ctx, rec.SessionID), rec.SegmentID)
	logger := logging.WithContext(ctx, c.logger)

	blob, err := c.store.GetSegment(ctx, rec.SessionID, rec.SegmentID)
	if errors.Is(err, blobstore.ErrNotFound) {
		dropped, err := c.store.CompletePending(ctx, rec.SegmentID, rec.Generation)
		if err != nil {
			return c.failed(ctx, rec, fmt.Errorf("drop record without blob: %w", err))
		}
		if !dropped {
			logger.Debug("segment re-enqueued while its blob was missing; left for the next pass")
			return ""
		}
		logger.Debug("segment blob missing; record dropped")
		c.metrics.IncSegment(metrics.OutcomeDropped)
		return metrics.OutcomeDropped
	}
	if err != nil {
		return c.failed(ctx, rec, fmt.Errorf("read blob: %w", err))
	}

	target, err := c.api.PresignedURL(ctx, rec.SessionID, replayapi.PresignRequest{
		Sequence:     rec.Sequence,
		VideoStartMs: rec.WindowStartMs,
		VideoEndMs:   rec.WindowEndMs,
		ContentType:  rec.ContentType,
	})
	if err != nil {
		return c.failed(ctx, rec, err)
	}
	if err := c.api.PutBlob(ctx, target.S3URL, rec.ContentType, blob); err != nil {
		return c.failed(ctx, rec, err)
	}
	if err := c.api.UploadComplete(ctx, rec.SessionID, target.SegmentID); err != nil {
		return c.failed(ctx, rec, err)
	}
	videoURL := replayapi.VideoURL(target.S3URL)
	if err := c.api.UploadLogs(ctx, rec.SessionID, target.SegmentID, videoURL, rec.Logs); err != nil {
		return c.failed(ctx, rec, err)
	}
	completed, err := c.store.CompletePending(ctx, rec.SegmentID, rec.Generation)
	if err != nil {
		return c.failed(ctx, rec, fmt.Errorf("remove record: %w", err))
	}
	superseded := false
	if !completed {
		// Either removed by an operator or enqueued again with new bytes.
		if superseded, err = c.store.HasPending(ctx, rec.SegmentID); err != nil {
			return c.failed(ctx, rec, fmt.Errorf("check re-enqueued record: %w", err))
		}
	}
	if superseded {
		logger.Info("segment re-enqueued during upload; newer bytes stay queued",
			logging.String(logging.FieldEventType, "segment_superseded"),
			logging.Int64("generation", rec.Generation),
		)
	} else if err := c.store.MarkUploaded(ctx, rec.SegmentID, target.SegmentID, videoURL); err != nil {
		logging.WarnWithContext(logger, "segment uploaded but meta not updated", "segment_meta_update_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the queue database"),
			logging.String(logging.FieldImpact, "segment shows as pending in listings"),
		)
	}

	c.metrics.IncSegment(metrics.OutcomeUploaded)
	logger.Info("segment uploaded",
		logging.String(logging.FieldEventType, "segment_uploaded"),
		logging.String("remote_id", target.SegmentID),
		logging.Int("logs", len(rec.Logs)),
		logging.Int("size_bytes", len(blob)),
	)
	c.emit(mustMessage(TypeSegmentUploaded, SegmentUploadedPayload{
		LocalID:  rec.SegmentID,
		RemoteID: target.SegmentID,
		URL:      videoURL,
	}))
	return metrics.OutcomeUploaded
}

// failed reports a failed record. The record stays queued for a later pass.
func (c *Coordinator) failed(ctx context.Context, rec queue.PendingRecord, cause error) string {
	if ctx.Err() != nil {
		return ""
	}
	reason := cause.Error()
	if err := c.store.MarkFailed(ctx, rec.SegmentID, reason); err != nil {
		c.logger.Debug("mark failed not recorded", logging.String(logging.FieldSegmentID, rec.SegmentID), logging.Error(err))
	}
	c.metrics.IncSegment(metrics.OutcomeFailed)
	logging.WarnWithContext(logging.WithContext(ctx, c.logger), "segment upload failed", "segment_upload_failed",
		logging.Error(cause),
		logging.Bool("retriable", services.Retriable(cause)),
		logging.String(logging.FieldErrorHint, "the record stays queued and is retried on the next pass"),
		logging.String(logging.FieldImpact, "segment upload delayed"),
	)
	c.emit(mustMessage(TypeSegmentFailed, SegmentFailedPayload{LocalID: rec.SegmentID, Reason: reason}))
	return metrics.OutcomeFailed
}

func (c *Coordinator) emit(msg Message) {
	c.worker <- workerMsg{broadcast: &msg}
}
