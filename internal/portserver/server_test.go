package portserver_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"relay/internal/coordinator"
	"relay/internal/metrics"
	"relay/internal/portserver"
	"relay/internal/queue"
)

type emptyStore struct{}

func (emptyStore) ListPending(context.Context) ([]queue.PendingRecord, error)   { return nil, nil }
func (emptyStore) GetSegment(context.Context, string, string) ([]byte, error)   { return nil, nil }
func (emptyStore) CompletePending(context.Context, string, int64) (bool, error) { return false, nil }
func (emptyStore) HasPending(context.Context, string) (bool, error)             { return false, nil }
func (emptyStore) MarkUploaded(context.Context, string, string, string) error   { return nil }
func (emptyStore) MarkFailed(context.Context, string, string) error             { return nil }

func startServer(t *testing.T) (string, *metrics.Metrics) {
	t.Helper()
	met := metrics.New()
	coord := coordinator.New(emptyStore{}, nil, coordinator.Options{Metrics: met})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = coord.Run(ctx) }()

	socket := filepath.Join(t.TempDir(), "port.sock")
	refreshed := 0
	srv := portserver.New(socket, coord, met, func() {
		refreshed++
		met.SetPending(refreshed)
	}, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		<-coord.Done()
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = srv.Close(closeCtx)
	})
	return socket, met
}

func receiveType(t *testing.T, client *portserver.Client, want string) coordinator.Message {
	t.Helper()
	for i := 0; i < 20; i++ {
		msg, err := client.Receive()
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if msg.Type == want {
			return msg
		}
	}
	t.Fatalf("no %s message received", want)
	return coordinator.Message{}
}

func TestPortPingPong(t *testing.T) {
	socket, _ := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := portserver.Dial(ctx, socket)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if err := client.Send(coordinator.Message{Type: coordinator.TypePing}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	receiveType(t, client, coordinator.TypePong)
}

func TestHealthAndMetrics(t *testing.T) {
	socket, _ := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := portserver.Dial(ctx, socket)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	if err := client.Send(coordinator.Message{Type: coordinator.TypePing}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	receiveType(t, client, coordinator.TypePong)

	httpClient := portserver.HTTPClient(socket)

	resp, err := httpClient.Get("http://relayd/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	var health struct {
		Status      string             `json:"status"`
		Coordinator coordinator.Status `json:"coordinator"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || health.Status != "ok" {
		t.Fatalf("unexpected health: %d %+v", resp.StatusCode, health)
	}
	if health.Coordinator.Ports != 1 {
		t.Fatalf("expected one connected port, got %d", health.Coordinator.Ports)
	}

	resp, err = httpClient.Get("http://relayd/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	text := string(body)
	if !strings.Contains(text, "relay_connected_ports 1") {
		t.Fatalf("expected connected ports gauge, got:\n%s", text)
	}
	if !strings.Contains(text, "relay_pending_records 1") {
		t.Fatalf("expected refreshed pending gauge, got:\n%s", text)
	}
}

func TestDialMissingSocket(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := portserver.Dial(ctx, filepath.Join(t.TempDir(), "absent.sock")); err == nil {
		t.Fatal("expected dial error")
	}
}
