package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"relay/internal/blobstore"
	"relay/internal/config"
	"relay/internal/coordinator"
	"relay/internal/logging"
	"relay/internal/metrics"
	"relay/internal/portserver"
	"relay/internal/preflight"
	"relay/internal/queue"
	"relay/internal/replay"
	"relay/internal/replayapi"
	"relay/internal/retention"
	"relay/internal/segstore"
	"relay/internal/services"
)

// ErrNotRunning is returned by operations that need a started daemon.
var ErrNotRunning = errors.New("daemon not running")

const defaultContentType = "video/mp4"

// Options injects collaborators; zero values select the production ones.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	API     coordinator.RemoteAPI
}

// Daemon owns the coordinator and everything it depends on.
type Daemon struct {
	cfg     *config.Config
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	running   atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time

	blobs *blobstore.Tiered
	queue *queue.Store
	store *segstore.Store
	coord *coordinator.Coordinator
	// port is read by request handlers while Stop runs.
	port    atomic.Pointer[coordinator.Port]
	sweeper *retention.Sweeper
	replay  *replay.Reconstructor
	ports   *portserver.Server
}

// Status represents daemon runtime information.
type Status struct {
	Running     bool
	PID         int
	StartedAt   time.Time
	LockPath    string
	QueueDBPath string
	PortSocket  string
	Backend     string
	Coordinator coordinator.Status
	Store       segstore.Stats
	Retention   retention.Policy
}

// SegmentInput describes a captured segment handed to the daemon.
type SegmentInput struct {
	SessionID    string
	SegmentID    string
	Sequence     int
	StartMediaMs int64
	EndMediaMs   int64
	OverlapMs    int64
	ContentType  string
	Blob         []byte
	Logs         []json.RawMessage
}

// New constructs a daemon. Nothing is opened until Start.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		opts:     opts,
		logger:   logging.NewComponentLogger(opts.Logger, "daemon"),
		metrics:  opts.Metrics,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock, opens the store, and launches the
// coordinator, retention loop, and port server.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another relayd instance is already running for this data directory")
	}

	if err := d.open(); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.coord.Run(runCtx); err != nil {
			d.logger.Error("coordinator exited", logging.Error(err))
		}
	}()

	port, err := d.coord.Connect(runCtx)
	if err != nil {
		d.shutdown()
		return fmt.Errorf("connect daemon port: %w", err)
	}
	d.port.Store(port)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.watch(port)
	}()

	if d.sweeper.Policy().Enabled() {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.sweeper.Run(runCtx, d.cfg.RetentionSweepInterval())
		}()
	}

	d.ports = portserver.New(d.cfg.Paths.PortSocket, d.coord, d.metrics, d.refreshGauges, d.opts.Logger)
	if err := d.ports.Start(); err != nil {
		d.ports = nil
		d.shutdown()
		return fmt.Errorf("start port server: %w", err)
	}

	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("relay daemon started",
		logging.String("lock", d.lockPath),
		logging.String("backend", d.blobs.Name()),
		logging.String("port_socket", d.cfg.Paths.PortSocket),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

func (d *Daemon) open() error {
	blobs, err := blobstore.Select(d.cfg, d.opts.Logger)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	q, err := queue.Open(d.cfg)
	if err != nil {
		_ = blobs.Close()
		return fmt.Errorf("open queue store: %w", err)
	}
	api := d.opts.API
	if api == nil {
		api = replayapi.NewFromConfig(d.cfg)
	}

	d.blobs = blobs
	d.queue = q
	d.store = segstore.New(q, blobs, d.opts.Logger)
	d.coord = coordinator.New(d.store, api, coordinator.Options{
		PollInterval:   d.cfg.PollInterval(),
		MailboxSize:    d.cfg.Coordinator.MailboxSize,
		PortBufferSize: d.cfg.Coordinator.PortBufferSize,
		Logger:         d.opts.Logger,
		Metrics:        d.metrics,
	})
	d.sweeper = retention.New(d.store, retention.PolicyFromConfig(d.cfg), d.metrics, d.opts.Logger)
	d.replay = replay.New(d.store, blobs, d.opts.Logger)
	return nil
}

// watch consumes the daemon's own port so broadcasts are logged rather than
// dropped.
func (d *Daemon) watch(port *coordinator.Port) {
	for msg := range port.Messages() {
		switch msg.Type {
		case coordinator.TypeSegmentFailed:
			var payload coordinator.SegmentFailedPayload
			if err := msg.Decode(&payload); err == nil {
				d.logger.Debug("segment upload failed",
					logging.String(logging.FieldSegmentID, payload.LocalID),
					logging.String("reason", payload.Reason),
				)
			}
		case coordinator.TypeDrainFinished:
			d.refreshGauges()
		}
	}
}

func (d *Daemon) refreshGauges() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stats, err := d.store.Stats(ctx)
	if err != nil {
		return
	}
	d.metrics.SetPending(stats.Pending)
}

// Stop shuts every component down and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}
	d.shutdown()
	d.running.Store(false)
	d.logger.Info("relay daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// shutdown stops the coordinator before the port server so open ports detach.
func (d *Daemon) shutdown() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if d.ports != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.ports.Close(ctx); err != nil {
			d.logger.Debug("port server close", logging.Error(err))
		}
		cancel()
		d.ports = nil
	}
	d.port.Store(nil)
	if d.queue != nil {
		_ = d.queue.Close()
		d.queue = nil
	}
	if d.blobs != nil {
		_ = d.blobs.Close()
		d.blobs = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool { return d.running.Load() }

// Metrics exposes the daemon's collectors.
func (d *Daemon) Metrics() *metrics.Metrics { return d.metrics }

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:     d.running.Load(),
		PID:         os.Getpid(),
		LockPath:    d.lockPath,
		QueueDBPath: d.cfg.QueueDBPath(),
		PortSocket:  d.cfg.Paths.PortSocket,
		Retention:   retention.PolicyFromConfig(d.cfg),
	}
	if !status.Running {
		return status
	}
	status.StartedAt = d.startedAt
	if coord, err := d.coord.Status(ctx); err == nil {
		status.Coordinator = coord
	}
	if stats, err := d.store.Stats(ctx); err == nil {
		status.Store = stats
		status.Backend = stats.Backend
	}
	return status
}

// Preflight runs the environment and remote API checks.
func (d *Daemon) Preflight(ctx context.Context) []preflight.Result {
	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return preflight.RunAll(checkCtx, d.cfg)
}

func (d *Daemon) ensureRunning() error {
	if !d.running.Load() {
		return ErrNotRunning
	}
	return nil
}

// PendingList returns queued upload records in drain order.
func (d *Daemon) PendingList(ctx context.Context) ([]queue.PendingRecord, error) {
	if err := d.ensureRunning(); err != nil {
		return nil, err
	}
	return d.store.ListPending(ctx)
}

// PendingRemove drops a queued record without uploading it. The segment and
// its meta are kept.
func (d *Daemon) PendingRemove(ctx context.Context, segmentID string) (bool, error) {
	if err := d.ensureRunning(); err != nil {
		return false, err
	}
	if strings.TrimSpace(segmentID) == "" {
		return false, services.Wrap(services.ErrValidation, "daemon", "pending remove", "segment id required", nil)
	}
	removed, err := d.store.RemovePending(ctx, segmentID)
	if err != nil {
		return false, err
	}
	if removed {
		d.logger.Info("pending record removed",
			logging.String(logging.FieldSegmentID, segmentID),
			logging.String(logging.FieldEventType, "pending_removed"),
		)
	}
	return removed, nil
}

// SegmentAdd stores a segment, queues it, and nudges the coordinator.
func (d *Daemon) SegmentAdd(ctx context.Context, in SegmentInput) (*queue.SegmentMeta, error) {
	if err := d.ensureRunning(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.SessionID) == "" {
		return nil, services.Wrap(services.ErrValidation, "daemon", "segment add", "session id required", nil)
	}
	if strings.TrimSpace(in.SegmentID) == "" {
		in.SegmentID = uuid.NewString()
	}
	if strings.TrimSpace(in.ContentType) == "" {
		in.ContentType = defaultContentType
	}
	meta := queue.SegmentMeta{
		SegmentID:    in.SegmentID,
		SessionID:    in.SessionID,
		Sequence:     in.Sequence,
		StartMediaMs: in.StartMediaMs,
		EndMediaMs:   in.EndMediaMs,
		OverlapMs:    in.OverlapMs,
		ContentType:  in.ContentType,
	}
	if err := d.store.PutSegment(ctx, meta, in.Blob); err != nil {
		return nil, fmt.Errorf("store segment: %w", err)
	}
	rec := queue.PendingRecord{
		SegmentID:     in.SegmentID,
		SessionID:     in.SessionID,
		Sequence:      in.Sequence,
		WindowStartMs: in.StartMediaMs,
		WindowEndMs:   in.EndMediaMs,
		ContentType:   in.ContentType,
		Logs:          in.Logs,
	}
	if err := d.store.EnqueuePending(ctx, rec); err != nil {
		return nil, fmt.Errorf("enqueue segment: %w", err)
	}

	msg, err := coordinator.NewMessage(coordinator.TypeEnqueueSegment, coordinator.EnqueueSegmentPayload{
		SessionID: in.SessionID,
		SegmentID: in.SegmentID,
	})
	if err == nil {
		if port := d.port.Load(); port != nil {
			err = port.Send(ctx, msg)
		}
	}
	if err != nil {
		d.logger.Debug("enqueue notification not delivered; poll will pick it up", logging.Error(err))
	}
	return d.store.GetMeta(ctx, in.SegmentID)
}

// SegmentList returns a session's segments, or every known session when
// sessionID is empty.
func (d *Daemon) SegmentList(ctx context.Context, sessionID string) ([]queue.SegmentMeta, []string, error) {
	if err := d.ensureRunning(); err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(sessionID) == "" {
		sessions, err := d.store.ListSessions(ctx)
		return nil, sessions, err
	}
	segments, err := d.store.ListSegments(ctx, sessionID)
	return segments, nil, err
}

// Drain asks the coordinator for a pass.
func (d *Daemon) Drain(ctx context.Context) error {
	if err := d.ensureRunning(); err != nil {
		return err
	}
	return d.coord.Trigger(ctx)
}

// Replay reconstructs the clips covering a window.
func (d *Daemon) Replay(ctx context.Context, sessionID string, startMs, endMs int64) ([]replay.ClipSource, replay.Report, error) {
	if err := d.ensureRunning(); err != nil {
		return nil, replay.Report{}, err
	}
	clips, err := d.replay.Reconstruct(ctx, sessionID, startMs, endMs)
	if err != nil {
		return nil, replay.Report{}, err
	}
	return clips, replay.Coverage(clips), nil
}

// ReplayExport reconstructs a window and copies its blobs into dir.
func (d *Daemon) ReplayExport(ctx context.Context, sessionID string, startMs, endMs int64, dir string) (replay.Manifest, error) {
	clips, _, err := d.Replay(ctx, sessionID, startMs, endMs)
	if err != nil {
		return replay.Manifest{}, err
	}
	return d.replay.Export(ctx, sessionID, clips, dir)
}

// GC runs one retention sweep now.
func (d *Daemon) GC(ctx context.Context) (retention.Result, error) {
	if err := d.ensureRunning(); err != nil {
		return retention.Result{}, err
	}
	return d.sweeper.Sweep(ctx, time.Now())
}
