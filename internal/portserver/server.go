// Package portserver exposes coordinator ports to other processes: one
// websocket connection on the port socket is one port. The same router serves
// Prometheus metrics and a health check.
package portserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"relay/internal/coordinator"
	"relay/internal/logging"
	"relay/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Server serves the port socket.
type Server struct {
	socketPath string
	coord      *coordinator.Coordinator
	metrics    *metrics.Metrics
	refresh    func()
	logger     *slog.Logger
	upgrader   websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener
	conns      sync.WaitGroup
}

// New constructs a server. refresh runs before each metrics scrape.
func New(socketPath string, coord *coordinator.Coordinator, m *metrics.Metrics, refresh func(), logger *slog.Logger) *Server {
	s := &Server{
		socketPath: socketPath,
		coord:      coord,
		metrics:    m,
		refresh:    refresh,
		logger:     logging.NewComponentLogger(logger, "portserver"),
	}
	s.httpServer = &http.Server{Handler: s.Router(), ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Router returns the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/port", s.handlePort)
	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler(s.refresh))
	}
	return r
}

// Start listens on the unix socket and serves in the background.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on port socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("chmod port socket: %w", err)
	}
	s.listener = listener
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("port server stopped", logging.Error(err))
		}
	}()
	s.logger.Debug("port server listening", logging.String("socket", s.socketPath))
	return nil
}

// Close stops accepting connections and waits for open ports to detach. Ports
// detach once the coordinator stops, so stop it first.
func (s *Server) Close(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	detached := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(detached)
	}()
	select {
	case <-detached:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	if s.listener != nil {
		_ = os.Remove(s.socketPath)
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status, err := s.coord.Status(ctx)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "coordinator": status})
}

func (s *Server) handlePort(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	port, err := s.coord.Connect(r.Context())
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writeLoop(conn, port)
	}()
	s.readLoop(conn, port)
	_ = port.Close()
	<-done
	_ = conn.Close()
}

// readLoop forwards client messages until the connection drops.
func (s *Server) readLoop(conn *websocket.Conn, port *coordinator.Port) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg coordinator.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("port connection lost", logging.Int64("port", port.ID()), logging.Error(err))
			}
			return
		}
		if err := port.Send(context.Background(), msg); err != nil {
			return
		}
	}
}

// writeLoop relays coordinator messages and keeps the connection alive. It
// returns once the port is closed by either side.
func (s *Server) writeLoop(conn *websocket.Conn, port *coordinator.Port) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-port.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = conn.Close()
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				_ = conn.Close()
				_ = port.Close()
				drain(port)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				_ = port.Close()
				drain(port)
				return
			}
		}
	}
}

// drain discards messages until the coordinator closes the port.
func drain(port *coordinator.Port) {
	for range port.Messages() {
	}
}
