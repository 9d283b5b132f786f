package objectstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"relay/internal/buildapi"
	"relay/internal/fileutil"
	"relay/internal/logging"
	"relay/internal/services"
	"relay/internal/testsupport"
)

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix, rel, want string
	}{
		{"b-1/", "bin/game", "b-1/bin/game"},
		{"/b-1", "/data.pak", "b-1/data.pak"},
		{"", "readme.txt", "readme.txt"},
	}
	for _, tt := range tests {
		if got := ObjectKey(tt.prefix, tt.rel); got != tt.want {
			t.Errorf("ObjectKey(%q, %q) = %q, want %q", tt.prefix, tt.rel, got, tt.want)
		}
	}
}

func TestCountingReaderReportsEveryByte(t *testing.T) {
	var total int64
	r := &countingReader{r: io.LimitReader(zeroReader{}, 10000), report: func(n int64) { total += n }}
	if _, err := io.Copy(io.Discard, r); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if total != 10000 {
		t.Fatalf("reported %d bytes", total)
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func writeBuild(t *testing.T) []fileutil.FileEntry {
	t.Helper()
	root := testsupport.WriteTree(t, map[string]string{"bin/game": "executable", "data.pak": "assets-assets"})
	files, _, err := fileutil.ListFiles(root)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	return files
}

func TestTransferPutsEachFileUnderPrefix(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	creds := buildapi.Credentials{
		BuildID: "b-1", Bucket: "builds", KeyPrefix: "b-1/", Region: "us-east-1",
		AccessKeyID: "AK", SecretAccessKey: "SK", Endpoint: server.URL,
	}
	files := writeBuild(t)
	var (
		bytesRead int64
		done      []string
	)
	err := NewS3Transferer(0, 1, logging.NewNop()).Transfer(context.Background(), creds, files, func(c Chunk) {
		bytesRead += c.Bytes
		if c.Done {
			done = append(done, c.File)
		}
	})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	sort.Strings(paths)
	want := []string{"PUT /builds/b-1/bin/game", "PUT /builds/b-1/data.pak"}
	if len(paths) != len(want) || paths[0] != want[0] || paths[1] != want[1] {
		t.Fatalf("unexpected requests %v", paths)
	}
	if bytesRead != int64(len("executable")+len("assets-assets")) {
		t.Fatalf("progress reported %d bytes", bytesRead)
	}
	if len(done) != 2 {
		t.Fatalf("expected two completed files, got %v", done)
	}
}

func TestTransferCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewS3Transferer(0, 1, nil).Transfer(ctx, buildapi.Credentials{Bucket: "b", Endpoint: "http://127.0.0.1:1"}, writeBuild(t), nil)
	if !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
