package blobstore

import (
	"fmt"
	"log/slog"
	"os"

	"relay/internal/config"
	"relay/internal/logging"
	"relay/internal/preflight"
)

// Select checks the segment directory once and assembles the tier stack
// described by storage.backend:
//   - filesystem: primary only; fails when the directory is unusable
//   - bolt: fallback only
//   - auto: fallback always opened; primary added when the check passes
func Select(cfg *config.Config, logger *slog.Logger) (*Tiered, error) {
	logger = logging.NewComponentLogger(logger, "blobstore")
	minFree := uint64(cfg.Storage.MinFreeMiB) * 1024 * 1024

	switch cfg.Storage.Backend {
	case config.StorageFilesystem:
		fsb, err := openFilesystem(cfg.SegmentDir(), minFree)
		if err != nil {
			return nil, err
		}
		return NewTiered(fsb, nil, logger)
	case config.StorageBolt:
		kv, err := OpenBolt(cfg.BoltPath())
		if err != nil {
			return nil, err
		}
		return NewTiered(nil, kv, logger)
	}

	kv, err := OpenBolt(cfg.BoltPath())
	if err != nil {
		return nil, err
	}
	fsb, err := openFilesystem(cfg.SegmentDir(), minFree)
	if err != nil {
		logging.WarnWithContext(logger, "filesystem blob tier unavailable; using fallback only", "blob_tier_check_failed",
			logging.Error(err),
			logging.String("segment_dir", cfg.SegmentDir()),
			logging.String(logging.FieldErrorHint, "free space or fix permissions, then restart relayd"),
			logging.String(logging.FieldImpact, "segments are stored in "+cfg.BoltPath()),
		)
		return NewTiered(nil, kv, logger)
	}
	logger.Info("blob tiers selected",
		logging.String("primary", fsb.Root()),
		logging.String("fallback", kv.Path()),
		logging.String(logging.FieldEventType, "blob_tiers_selected"),
	)
	return NewTiered(fsb, kv, logger)
}

func openFilesystem(root string, minFree uint64) (*Filesystem, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create segment dir: %w", err)
	}
	if result := preflight.CheckFreeSpace("segment dir", root, minFree); !result.Passed {
		return nil, fmt.Errorf("segment dir check failed: %s", result.Detail)
	}
	return NewFilesystem(root)
}
