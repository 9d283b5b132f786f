// Package retention evicts the local blobs of segments that were already
// delivered. Segment meta is never deleted; evicted rows are only stamped.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"relay/internal/config"
	"relay/internal/logging"
	"relay/internal/metrics"
	"relay/internal/queue"
	"relay/internal/segstore"
)

// Store is the part of the segment store retention touches.
type Store interface {
	ListEvictable(ctx context.Context) ([]queue.SegmentMeta, error)
	EvictBlob(ctx context.Context, meta queue.SegmentMeta) error
	Stats(ctx context.Context) (segstore.Stats, error)
}

// Policy holds the eviction rules. A zero field disables that rule.
type Policy struct {
	MaxAge   time.Duration
	MaxBytes int64
}

// PolicyFromConfig reads the [retention] section.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{MaxAge: cfg.RetentionMaxAge(), MaxBytes: cfg.RetentionMaxBytes()}
}

// Enabled reports whether any rule applies.
func (p Policy) Enabled() bool { return p.MaxAge > 0 || p.MaxBytes > 0 }

// Result summarizes one sweep.
type Result struct {
	Candidates int   `json:"candidates"`
	Evicted    int   `json:"evicted"`
	FreedBytes int64 `json:"freed_bytes"`
	Failed     int   `json:"failed"`
	// Skipped counts candidates stored or queued again during the sweep.
	Skipped int `json:"skipped"`
}

// Sweeper applies a Policy to a Store.
type Sweeper struct {
	store   Store
	policy  Policy
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New constructs a sweeper.
func New(store Store, policy Policy, m *metrics.Metrics, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:   store,
		policy:  policy,
		metrics: m,
		logger:  logging.NewComponentLogger(logger, "retention"),
	}
}

// Policy returns the active rules.
func (s *Sweeper) Policy() Policy { return s.policy }

// Sweep evicts every uploaded blob older than MaxAge, then the oldest
// remaining uploaded blobs while local blob bytes exceed MaxBytes. A failed
// eviction is logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (Result, error) {
	var result Result
	if !s.policy.Enabled() {
		return result, nil
	}
	candidates, err := s.store.ListEvictable(ctx)
	if err != nil {
		return result, fmt.Errorf("list evictable: %w", err)
	}
	result.Candidates = len(candidates)
	if len(candidates) == 0 {
		return result, nil
	}

	var total int64
	if s.policy.MaxBytes > 0 {
		stats, err := s.store.Stats(ctx)
		if err != nil {
			return result, fmt.Errorf("blob stats: %w", err)
		}
		total = stats.BlobBytes
	}

	var errs []error
	// Candidates arrive oldest upload first, so one pass serves both rules.
	for _, meta := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		expired := s.policy.MaxAge > 0 && meta.UploadedAt != nil && now.Sub(*meta.UploadedAt) >= s.policy.MaxAge
		overBudget := s.policy.MaxBytes > 0 && total > s.policy.MaxBytes
		if !expired && !overBudget {
			if s.policy.MaxAge > 0 && s.policy.MaxBytes == 0 {
				break
			}
			continue
		}
		err := s.store.EvictBlob(ctx, meta)
		if errors.Is(err, segstore.ErrNotEvictable) {
			result.Skipped++
			s.logger.Debug("eviction candidate changed; kept",
				logging.Session(meta.SessionID),
				logging.Segment(meta.SegmentID),
			)
			continue
		}
		if err != nil {
			result.Failed++
			errs = append(errs, err)
			logging.WarnWithContext(s.logger, "blob eviction failed", "retention_evict_failed",
				logging.String(logging.FieldSessionID, meta.SessionID),
				logging.String(logging.FieldSegmentID, meta.SegmentID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "blob stays on disk until the next sweep"),
			)
			continue
		}
		result.Evicted++
		result.FreedBytes += meta.SizeBytes
		total -= meta.SizeBytes
	}

	s.metrics.AddEvicted(result.Evicted)
	if result.Evicted > 0 || result.Failed > 0 || result.Skipped > 0 {
		s.logger.Info("retention sweep finished",
			logging.Int("evicted", result.Evicted),
			logging.Int64("freed_bytes", result.FreedBytes),
			logging.Int("failed", result.Failed),
			logging.Int("skipped", result.Skipped),
			logging.String(logging.FieldEventType, "retention_sweep"),
		)
	}
	if len(errs) > 0 {
		return result, fmt.Errorf("retention: %d evictions failed: %w", len(errs), errors.Join(errs...))
	}
	return result, nil
}

// Run sweeps on every tick until ctx ends.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if !s.policy.Enabled() || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := s.Sweep(ctx, now); err != nil && ctx.Err() == nil {
				s.logger.Debug("retention sweep error", logging.Error(err))
			}
		}
	}
}
