package replayapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"relay/internal/services"
)

type recorded struct {
	method string
	path   string
	auth   string
	ctype  string
	body   []byte
}

func newRecorder(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, func() []recorded) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []recorded
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, recorded{
			method: r.Method,
			path:   r.URL.Path,
			auth:   r.Header.Get("Authorization"),
			ctype:  r.Header.Get("Content-Type"),
			body:   body,
		})
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return server, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), calls...)
	}
}

func TestPresignedURLRequestShape(t *testing.T) {
	server, calls := newRecorder(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"segment_id":"remote-1","s3_url":"https://bucket/seg?sig=1","expires_in":900}`))
	})
	client := New(server.URL+"/api", "tok", server.Client())

	resp, err := client.PresignedURL(context.Background(), "sess-1", PresignRequest{
		Sequence: 3, VideoStartMs: 30000, VideoEndMs: 60000, ContentType: "video/webm",
	})
	if err != nil {
		t.Fatalf("PresignedURL: %v", err)
	}
	if resp.SegmentID != "remote-1" || resp.ExpiresIn != 900 {
		t.Fatalf("unexpected response %+v", resp)
	}
	got := calls()
	if len(got) != 1 {
		t.Fatalf("expected 1 call, got %d", len(got))
	}
	if got[0].path != "/api/sessions/sess-1/replay/presigned-url" || got[0].auth != "Bearer tok" {
		t.Fatalf("unexpected call %+v", got[0])
	}
	var body map[string]any
	if err := json.Unmarshal(got[0].body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	for key, want := range map[string]float64{"sequence": 3, "video_start_ms": 30000, "video_end_ms": 60000} {
		if body[key] != want {
			t.Errorf("%s = %v, want %v", key, body[key], want)
		}
	}
	if body["content_type"] != "video/webm" {
		t.Errorf("content_type = %v", body["content_type"])
	}
}

func TestPresignedURLRejectsIncompleteResponse(t *testing.T) {
	server, _ := newRecorder(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"segment_id":""}`))
	})
	_, err := New(server.URL, "", server.Client()).PresignedURL(context.Background(), "s", PresignRequest{})
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestPutBlobOmitsAuthorization(t *testing.T) {
	server, calls := newRecorder(t, func(w http.ResponseWriter, r *http.Request) {})
	client := New(server.URL, "tok", server.Client())
	if err := client.PutBlob(context.Background(), server.URL+"/bucket/key?sig=abc", "video/mp4", []byte("payload")); err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	got := calls()[0]
	if got.method != http.MethodPut || got.auth != "" || got.ctype != "video/mp4" || string(got.body) != "payload" {
		t.Fatalf("unexpected put %+v", got)
	}
}

func TestPutBlobExpiredURLIsRetriable(t *testing.T) {
	server, _ := newRecorder(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Request has expired", http.StatusForbidden)
	})
	err := New(server.URL, "", server.Client()).PutBlob(context.Background(), server.URL+"/k", "video/mp4", []byte("x"))
	if !errors.Is(err, services.ErrTransient) || !services.Retriable(err) {
		t.Fatalf("expected retriable error, got %v", err)
	}
}

func TestUploadCompleteAndLogs(t *testing.T) {
	server, calls := newRecorder(t, func(w http.ResponseWriter, r *http.Request) {})
	client := New(server.URL, "", server.Client())
	ctx := context.Background()

	if err := client.UploadComplete(ctx, "sess", "remote-9"); err != nil {
		t.Fatalf("UploadComplete: %v", err)
	}
	if err := client.UploadLogs(ctx, "sess", "remote-9", "https://bucket/seg", nil); err != nil {
		t.Fatalf("UploadLogs empty: %v", err)
	}
	logs := []json.RawMessage{json.RawMessage(`{"level":"info","message":"hi"}`)}
	if err := client.UploadLogs(ctx, "sess", "remote-9", "https://bucket/seg", logs); err != nil {
		t.Fatalf("UploadLogs: %v", err)
	}

	got := calls()
	if len(got) != 2 {
		t.Fatalf("expected empty logs to be skipped, got %d calls", len(got))
	}
	if got[0].path != "/sessions/sess/replay/upload-complete" || string(got[0].body) != `{"segment_id":"remote-9"}` {
		t.Fatalf("unexpected completion call %+v", got[0])
	}
	var body struct {
		SessionID string            `json:"session_id"`
		SegmentID string            `json:"segment_id"`
		VideoURL  string            `json:"video_url"`
		Logs      []json.RawMessage `json:"logs"`
	}
	if err := json.Unmarshal(got[1].body, &body); err != nil {
		t.Fatalf("decode logs body: %v", err)
	}
	if got[1].path != "/sessions/sess/replay/logs" || body.SessionID != "sess" || body.SegmentID != "remote-9" || body.VideoURL != "https://bucket/seg" || len(body.Logs) != 1 {
		t.Fatalf("unexpected logs call %s %+v", got[1].path, body)
	}
}

func TestVideoURLStripsSignature(t *testing.T) {
	if got := VideoURL("https://bucket.s3/a/b.webm?X-Amz-Signature=1&X-Amz-Expires=900"); got != "https://bucket.s3/a/b.webm" {
		t.Fatalf("VideoURL = %q", got)
	}
}

func TestPutBlobBadRequestIsFatal(t *testing.T) {
	server, _ := newRecorder(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad content type", http.StatusBadRequest)
	})
	err := New(server.URL, "", server.Client()).PutBlob(context.Background(), server.URL+"/k", "video/mp4", []byte("x"))
	if !errors.Is(err, services.ErrFatal) || services.Retriable(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}
