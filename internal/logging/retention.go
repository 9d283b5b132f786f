package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RotatedLogPattern matches the per-run daemon logs created under log_dir.
const RotatedLogPattern = "relayd-*.log"

// PruneLogs deletes rotated daemon logs in dir whose modification time is more
// than retentionDays before now. current is never removed. It returns the
// number of files deleted; retentionDays <= 0 disables pruning.
func PruneLogs(logger *slog.Logger, dir string, retentionDays int, current string, now time.Time) int {
	if retentionDays <= 0 || dir == "" {
		return 0
	}
	matches, err := filepath.Glob(filepath.Join(dir, RotatedLogPattern))
	if err != nil {
		return 0
	}
	cutoff := now.AddDate(0, 0, -retentionDays)
	keep, _ := filepath.Abs(current)

	removed := 0
	for _, path := range matches {
		if abs, err := filepath.Abs(path); err == nil && abs == keep {
			continue
		}
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "log prune failed", "log_prune_failed",
				String("path", path),
				Error(err),
				String(FieldErrorHint, "check ownership of log_dir"),
				String(FieldImpact, "old daemon log stays on disk"),
			)
			continue
		}
		removed++
	}
	if removed > 0 && logger != nil {
		logger.Info("old daemon logs pruned",
			Int("count", removed),
			String(FieldEventType, "log_pruned"),
		)
	}
	return removed
}
