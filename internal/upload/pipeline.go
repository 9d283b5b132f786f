package upload

import (
	"context"
	"errors"
	"path"
	"strings"

	"relay/internal/buildapi"
	"relay/internal/fileutil"
	"relay/internal/logging"
	"relay/internal/objectstore"
	"relay/internal/services"
)

// run advances one upload to a terminal state. It stops at the first rejected
// transition, which means the item was cancelled.
func (m *Manager) run(ctx context.Context, id string, params Params) {
	logger := logging.WithContext(ctx, m.logger)

	files, total, err := scan(params)
	if err != nil {
		m.fail(id, "", err)
		return
	}
	if err := m.replace(id, func(item *Item) (EventType, error) {
		item.Files = files
		item.TotalBytes = total
		return "", nil
	}); err != nil {
		return
	}

	if m.transition(id, RequestingCredentials{}) != nil {
		return
	}
	creds, err := m.api.RequestCredentials(ctx, params.ArtifactName)
	if err != nil {
		m.fail(id, "", err)
		return
	}
	buildID := creds.BuildID
	logger.Info("build registered",
		logging.String("build_id", buildID),
		logging.Int("files", len(files)),
		logging.Int64("total_bytes", total),
	)

	track := newTracker(len(files), total, m.opts.SpeedWindow, m.opts.ProgressInterval, m.now)
	if m.transition(id, Transferring{ArtifactID: buildID, Progress: track.progress}) != nil {
		return
	}
	sampler := logging.NewProgressSampler(25)
	publish := func(p Progress, due bool) {
		if !due {
			return
		}
		_ = m.transition(id, Transferring{ArtifactID: buildID, Progress: p})
		if sampler.ShouldLog(p.Percent, string(PhaseTransferring)) {
			logger.Debug("build upload progress",
				logging.Float64("percent", p.Percent),
				logging.Float64("bytes_per_second", p.Speed),
				logging.String("file", p.CurrentFileName),
			)
		}
	}
	err = m.transfer.Transfer(ctx, creds, files, func(chunk objectstore.Chunk) {
		if chunk.Done {
			publish(track.fileDone(chunk.File))
			return
		}
		publish(track.add(chunk.File, chunk.Bytes))
	})
	if err != nil {
		m.fail(id, buildID, err)
		return
	}
	if m.transition(id, Transferring{ArtifactID: buildID, Progress: track.complete()}) != nil {
		return
	}

	if m.transition(id, Finalizing{ArtifactID: buildID}) != nil {
		return
	}
	manifest := buildapi.CompleteRequest{
		ExpectedFileCount: len(files),
		ExpectedTotalSize: total,
		ExecutablePath:    params.ExecutablePath,
		OSType:            params.OSType,
		InstanceType:      params.InstanceType,
		MaxCapacity:       params.MaxCapacity,
	}
	if err := m.api.Complete(ctx, buildID, manifest); err != nil {
		m.fail(id, buildID, err)
		return
	}
	if m.transition(id, Succeeded{ArtifactID: buildID}) != nil {
		return
	}
	m.opts.Metrics.IncBuild(string(PhaseSucceeded))
	logger.Info("build upload succeeded",
		logging.String(logging.FieldEventType, "build_upload_succeeded"),
		logging.String("build_id", buildID),
	)
}

// fail moves id to Failed with a classified error.
func (m *Manager) fail(id, artifactID string, cause error) {
	classified := Classify(cause)
	if err := m.transition(id, Failed{Err: classified, ArtifactID: artifactID}); err != nil {
		if !errors.Is(err, errCancelled) {
			m.logger.Debug("failure not recorded", logging.String(logging.FieldUploadID, id), logging.Error(err))
		}
		return
	}
	m.opts.Metrics.IncBuild(string(PhaseFailed))
	logging.WarnWithContext(m.logger, "build upload failed", "build_upload_failed",
		logging.String(logging.FieldUploadID, id),
		logging.String("build_id", artifactID),
		logging.String("kind", string(classified.Kind)),
		logging.Bool("retriable", classified.Retriable),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, retryHint(classified)),
		logging.String(logging.FieldImpact, "build was not published"),
	)
}

func retryHint(e UploadError) string {
	if e.Retriable {
		return "retry the upload once the network or service recovers"
	}
	return "fix the build folder or request and start a new upload"
}

// scan lists the build folder and checks the executable is part of it.
func scan(params Params) ([]fileutil.FileEntry, int64, error) {
	files, total, err := fileutil.ListFiles(params.Dir)
	if err != nil {
		return nil, 0, services.Wrap(services.ErrValidation, "upload", "scan", "read build directory", err)
	}
	if len(files) == 0 {
		return nil, 0, services.Wrap(services.ErrValidation, "upload", "scan", "build directory is empty", nil)
	}
	if exe := strings.TrimSpace(params.ExecutablePath); exe != "" {
		want := path.Clean(strings.TrimPrefix(strings.ReplaceAll(exe, "\\", "/"), "/"))
		found := false
		for _, f := range files {
			if f.RelPath == want {
				found = true
				break
			}
		}
		if !found {
			return nil, 0, services.Wrap(services.ErrValidation, "upload", "scan", "executable "+want+" not found in build directory", nil)
		}
	}
	return files, total, nil
}
