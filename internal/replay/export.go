package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"relay/internal/fileutil"
	"relay/internal/logging"
)

// ManifestName is the file written next to exported blobs.
const ManifestName = "manifest.json"

// ExportedClip ties a clip to the file holding its segment blob.
type ExportedClip struct {
	ClipSource
	File string `json:"file"`
}

// Manifest lists exported clips in playback order. Players apply each clip's
// offsets to the named file.
type Manifest struct {
	SessionID string         `json:"sessionId"`
	StartMs   int64          `json:"startMs"`
	EndMs     int64          `json:"endMs"`
	Clips     []ExportedClip `json:"clips"`
}

// Export copies the blobs behind clips into dir as NNN-<segment>.bin and
// writes a manifest. dir is created when missing.
func (r *Reconstructor) Export(ctx context.Context, sessionID string, clips []ClipSource, dir string) (Manifest, error) {
	if !filepath.IsAbs(dir) {
		return Manifest{}, fmt.Errorf("export directory %q must be absolute", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("create export directory: %w", err)
	}
	pb, err := r.Open(ctx, sessionID, clips)
	if err != nil {
		return Manifest{}, err
	}
	defer pb.Close()

	manifest := Manifest{SessionID: sessionID}
	if report := Coverage(clips); len(clips) > 0 {
		manifest.StartMs = report.StartMs
		manifest.EndMs = report.EndMs
	}
	for i, h := range pb.Handles {
		name := fmt.Sprintf("%03d-%s.bin", i+1, h.Clip.SegmentID)
		if err := fileutil.WriteFileAtomic(filepath.Join(dir, name), h.Bytes(), 0o644); err != nil {
			return Manifest{}, fmt.Errorf("export segment %s: %w", h.Clip.SegmentID, err)
		}
		manifest.Clips = append(manifest.Clips, ExportedClip{ClipSource: h.Clip, File: name})
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("encode manifest: %w", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(dir, ManifestName), data, 0o644); err != nil {
		return Manifest{}, fmt.Errorf("write manifest: %w", err)
	}
	r.logger.Info("replay window exported",
		logging.String(logging.FieldSessionID, sessionID),
		logging.Int("clips", len(manifest.Clips)),
		logging.String("dir", dir),
	)
	return manifest, nil
}
