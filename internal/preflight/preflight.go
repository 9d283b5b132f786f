package preflight

import (
	"context"

	"relay/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckFreeSpace("Segment storage", cfg.SegmentDir(), uint64(cfg.Storage.MinFreeMiB)*1024*1024),
		CheckAPI(ctx, "Replay API", cfg.API.BaseURL, cfg.API.Token),
	}

	// Build API (only when it resolves to a distinct endpoint)
	if cfg.Build.BaseURL != cfg.API.BaseURL {
		results = append(results, CheckAPI(ctx, "Build API", cfg.Build.BaseURL, cfg.Build.Token))
	}

	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
