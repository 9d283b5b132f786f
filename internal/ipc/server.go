package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"relay/internal/daemon"
	"relay/internal/logging"
	"relay/internal/replay"
)

// ServiceName prefixes every RPC method.
const ServiceName = "Relay"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually before restarting relayd"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String("component", "ipc"))
}

func (s *service) Status(req StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	if !status.StartedAt.IsZero() {
		resp.StartedAt = status.StartedAt.UTC().Format(time.RFC3339)
	}
	resp.LockPath = status.LockPath
	resp.QueueDBPath = status.QueueDBPath
	resp.PortSocket = status.PortSocket
	resp.Backend = status.Backend
	resp.Coordinator = status.Coordinator
	resp.Pending = status.Store.Pending
	resp.SegmentStats = make(map[string]int, len(status.Store.ByStatus))
	for k, v := range status.Store.ByStatus {
		resp.SegmentStats[string(k)] = v
	}
	resp.BlobBytes = status.Store.BlobBytes
	resp.Evicted = status.Store.Evicted
	if status.Retention.MaxAge > 0 {
		resp.RetentionMaxAge = status.Retention.MaxAge.String()
	}
	resp.RetentionBytes = status.Retention.MaxBytes
	if req.Checks {
		for _, check := range s.daemon.Preflight(s.ctx) {
			resp.Checks = append(resp.Checks, Check{Name: check.Name, Passed: check.Passed, Detail: check.Detail})
		}
	}
	return nil
}

func (s *service) PendingList(_ PendingListRequest, resp *PendingListResponse) error {
	records, err := s.daemon.PendingList(s.ctx)
	if err != nil {
		return err
	}
	resp.Records = make([]PendingRecord, 0, len(records))
	for _, rec := range records {
		resp.Records = append(resp.Records, FromPending(rec))
	}
	return nil
}

func (s *service) PendingRemove(req PendingRemoveRequest, resp *PendingRemoveResponse) error {
	s.log().Debug("pending remove requested", logging.String(logging.FieldSegmentID, req.SegmentID))
	removed, err := s.daemon.PendingRemove(s.ctx, req.SegmentID)
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

func (s *service) SegmentAdd(req SegmentAddRequest, resp *SegmentAddResponse) error {
	path := strings.TrimSpace(req.Path)
	if path == "" {
		return errors.New("segment path is required")
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("segment path %q must be absolute", path)
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read segment file: %w", err)
	}
	meta, err := s.daemon.SegmentAdd(s.ctx, daemon.SegmentInput{
		SessionID:    req.SessionID,
		SegmentID:    req.SegmentID,
		Sequence:     req.Sequence,
		StartMediaMs: req.StartMediaMs,
		EndMediaMs:   req.EndMediaMs,
		OverlapMs:    req.OverlapMs,
		ContentType:  req.ContentType,
		Blob:         blob,
		Logs:         req.Logs,
	})
	if err != nil {
		return err
	}
	if meta != nil {
		resp.Segment = FromMeta(*meta)
	}
	s.log().Info("segment queued via IPC",
		logging.String(logging.FieldSessionID, req.SessionID),
		logging.String(logging.FieldSegmentID, resp.Segment.SegmentID),
		logging.Int("size_bytes", len(blob)),
		logging.String(logging.FieldEventType, "segment_added"))
	return nil
}

func (s *service) SegmentList(req SegmentListRequest, resp *SegmentListResponse) error {
	segments, sessions, err := s.daemon.SegmentList(s.ctx, req.SessionID)
	if err != nil {
		return err
	}
	resp.Sessions = sessions
	for _, meta := range segments {
		resp.Segments = append(resp.Segments, FromMeta(meta))
	}
	return nil
}

func (s *service) Drain(_ DrainRequest, resp *DrainResponse) error {
	if err := s.daemon.Drain(s.ctx); err != nil {
		return err
	}
	resp.Triggered = true
	return nil
}

func (s *service) Replay(req ReplayRequest, resp *ReplayResponse) error {
	clips, report, err := s.daemon.Replay(s.ctx, req.SessionID, req.StartMs, req.EndMs)
	if errors.Is(err, replay.ErrReplayUnavailable) {
		resp.Unavailable = true
		return nil
	}
	if err != nil {
		return err
	}
	resp.Clips = clips
	resp.Coverage = report
	if req.ExportDir == "" {
		return nil
	}
	if _, err := s.daemon.ReplayExport(s.ctx, req.SessionID, req.StartMs, req.EndMs, req.ExportDir); err != nil {
		return err
	}
	resp.Manifest = filepath.Join(req.ExportDir, replay.ManifestName)
	return nil
}

func (s *service) GC(_ GCRequest, resp *GCResponse) error {
	result, err := s.daemon.GC(s.ctx)
	resp.Enabled = s.daemon.Status(s.ctx).Retention.Enabled()
	resp.Candidates = result.Candidates
	resp.Evicted = result.Evicted
	resp.FreedBytes = result.FreedBytes
	resp.Failed = result.Failed
	resp.Skipped = result.Skipped
	return err
}
