package services_test

import (
	"context"
	"testing"

	"relay/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithSessionID(ctx, "sess")
	ctx = services.WithSegmentID(ctx, "seg")
	ctx = services.WithUploadID(ctx, "up")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.SessionIDFromContext(ctx); !ok || id != "sess" {
		t.Fatalf("unexpected session id: %v %v", id, ok)
	}
	if id, ok := services.SegmentIDFromContext(ctx); !ok || id != "seg" {
		t.Fatalf("unexpected segment id: %v %v", id, ok)
	}
	if id, ok := services.UploadIDFromContext(ctx); !ok || id != "up" {
		t.Fatalf("unexpected upload id: %v %v", id, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := services.WithSessionID(context.Background(), "")
	if _, ok := services.SessionIDFromContext(ctx); ok {
		t.Fatal("expected no session value")
	}
}
