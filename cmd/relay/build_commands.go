package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"relay/internal/buildapi"
	"relay/internal/config"
	"relay/internal/logging"
	"relay/internal/objectstore"
	"relay/internal/upload"
)

func newBuildCommand(ctx *commandContext) *cobra.Command {
	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Upload build artifacts to the build service",
	}
	buildCmd.AddCommand(newBuildUploadCommand(ctx))
	return buildCmd
}

type buildUploadOptions struct {
	params     upload.Params
	retries    int
	noProgress bool
}

func newBuildUploadCommand(ctx *commandContext) *cobra.Command {
	var opts buildUploadOptions
	cmd := &cobra.Command{
		Use:   "upload <build-dir>",
		Short: "Upload a build folder; Ctrl-C cancels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dir, err := filepath.Abs(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("resolve build directory: %w", err)
			}
			opts.params.Dir = dir
			if strings.TrimSpace(opts.params.ArtifactName) == "" {
				opts.params.ArtifactName = filepath.Base(dir)
			}

			logger, err := buildLogger(cfg)
			if err != nil {
				return err
			}
			mgr := upload.NewManager(buildapi.NewFromConfig(cfg), objectstore.NewFromConfig(cfg, logger), upload.Options{
				ProgressInterval: time.Duration(cfg.Upload.ProgressIntervalMillis) * time.Millisecond,
				SpeedWindow:      time.Duration(cfg.Upload.SpeedWindowSeconds) * time.Second,
				Logger:           logger,
			})
			defer mgr.Close()

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			showProgress := !opts.noProgress && shouldColorize(cmd.ErrOrStderr())
			return runBuildUpload(signalCtx, mgr, opts, cmd.OutOrStdout(), cmd.ErrOrStderr(), showProgress)
		},
	}
	cmd.Flags().StringVar(&opts.params.ArtifactName, "name", "", "Artifact name (defaults to the folder name)")
	cmd.Flags().StringVar(&opts.params.ExecutablePath, "exe", "", "Executable path relative to the build folder")
	cmd.Flags().StringVar(&opts.params.OSType, "os", "linux", "Target operating system")
	cmd.Flags().StringVar(&opts.params.InstanceType, "instance-type", "", "Instance type to run the build on")
	cmd.Flags().IntVar(&opts.params.MaxCapacity, "max-capacity", 1, "Maximum instances for the build")
	cmd.Flags().IntVar(&opts.retries, "retries", 0, "Retry transient failures this many times")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable the progress bar")
	return cmd
}

// buildLogger sends upload logs to <log_dir>/build-upload.log so they do not
// tear the progress bar.
func buildLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.NewFromConfig(cfg, "build-upload")
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

// buildUploader is the subset of upload.Manager the command drives.
type buildUploader interface {
	Start(ctx context.Context, params upload.Params) (string, error)
	Retry(id string) (string, error)
	Cancel(id string) error
	Subscribe() (<-chan upload.Event, func())
	Get(id string) (upload.Item, error)
}

// runBuildUpload drives one upload to a terminal state, retrying transient
// failures up to opts.retries times. A cancelled ctx cancels the upload.
func runBuildUpload(ctx context.Context, mgr buildUploader, opts buildUploadOptions, out, errOut io.Writer, showProgress bool) error {
	events, unsubscribe := mgr.Subscribe()
	defer unsubscribe()

	id, err := mgr.Start(ctx, opts.params)
	if err != nil {
		return err
	}
	started := time.Now()
	view := newProgressView(errOut, showProgress)
	attempt := 0
	for {
		item, err := waitTerminal(ctx, mgr, events, id, view)
		view.finish()
		if err != nil {
			return err
		}
		switch state := item.State.(type) {
		case upload.Succeeded:
			fmt.Fprintf(out, "Uploaded %s as build %s (%s files, %s) in %s\n",
				item.ArtifactName, state.ArtifactID, formatCount(int64(len(item.Files))),
				formatBytes(item.TotalBytes), time.Since(started).Round(time.Millisecond))
			return nil
		case upload.Failed:
			if state.Err.Retriable && attempt < opts.retries {
				attempt++
				fmt.Fprintf(errOut, "Upload failed (%s); retrying %d/%d\n", state.Err.Message, attempt, opts.retries)
				if id, err = mgr.Retry(id); err != nil {
					return err
				}
				view = newProgressView(errOut, showProgress)
				continue
			}
			if state.Err.Retriable {
				return fmt.Errorf("upload failed: %s (transient; rerun to retry)", state.Err.Message)
			}
			return fmt.Errorf("upload failed: %s", state.Err.Message)
		default:
			return fmt.Errorf("upload ended in unexpected state %s", item.State.Phase())
		}
	}
}

// waitTerminal feeds progress to view until the upload finishes. When ctx ends
// first the upload is cancelled and context.Canceled returned.
func waitTerminal(ctx context.Context, mgr buildUploader, events <-chan upload.Event, id string, view *progressView) (upload.Item, error) {
	if item, done := replayBuffered(events, id, view); done {
		return item, nil
	}
	item, err := mgr.Get(id)
	if err != nil {
		return upload.Item{}, err
	}
	if !item.Active() {
		view.update(item)
		return item, nil
	}
	// The event bus drops events for slow subscribers, so poll as a backstop.
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			item, err := mgr.Get(id)
			if err != nil {
				return upload.Item{}, err
			}
			if !item.Active() {
				view.update(item)
				return item, nil
			}
		case <-ctx.Done():
			if err := mgr.Cancel(id); err != nil && !errors.Is(err, upload.ErrNotCancellable) {
				return upload.Item{}, err
			}
			item, _ := mgr.Get(id)
			if !item.Cancelled {
				return item, nil
			}
			view.finish()
			return item, fmt.Errorf("upload %s cancelled: %w", id, context.Canceled)
		case ev, ok := <-events:
			if !ok {
				return mgr.Get(id)
			}
			if ev.Item.ID != id {
				continue
			}
			view.update(ev.Item)
			if !ev.Item.Active() {
				return ev.Item, nil
			}
		}
	}
}

// replayBuffered applies events already queued for id without blocking.
func replayBuffered(events <-chan upload.Event, id string, view *progressView) (upload.Item, bool) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return upload.Item{}, false
			}
			if ev.Item.ID != id {
				continue
			}
			view.update(ev.Item)
			if !ev.Item.Active() {
				return ev.Item, true
			}
		default:
			return upload.Item{}, false
		}
	}
}

// progressView renders upload progress as a byte bar on a terminal and as
// phase lines otherwise.
type progressView struct {
	out       io.Writer
	bar       *progressbar.ProgressBar
	enabled   bool
	lastPhase upload.Phase
}

func newProgressView(out io.Writer, enabled bool) *progressView {
	return &progressView{out: out, enabled: enabled}
}

func (v *progressView) update(item upload.Item) {
	phase := item.State.Phase()
	if phase != v.lastPhase {
		v.lastPhase = phase
		if !v.enabled {
			fmt.Fprintf(v.out, "%s: %s\n", item.ArtifactName, phase)
		}
	}
	transferring, ok := item.State.(upload.Transferring)
	if !ok || !v.enabled {
		return
	}
	p := transferring.Progress
	if v.bar == nil {
		v.bar = progressbar.NewOptions64(p.TotalBytes,
			progressbar.OptionSetWriter(v.out),
			progressbar.OptionSetDescription(item.ArtifactName),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(v.out) }),
		)
	}
	v.bar.Describe(fmt.Sprintf("%s %d/%d %s", item.ArtifactName, p.TransferredFiles, p.TotalFiles, formatSpeed(p.Speed)))
	_ = v.bar.Set64(p.TransferredBytes)
}

func (v *progressView) finish() {
	if v.bar == nil {
		return
	}
	_ = v.bar.Exit()
	v.bar = nil
}
