package main

import (
	"fmt"
	"strings"
	"testing"

	"relay/internal/coordinator"
	"relay/internal/replay"
)

func TestFormatMillis(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{0, "0:00:00.000"},
		{27000, "0:00:27.000"},
		{3723004, "1:02:03.004"},
		{-1500, "-0:00:01.500"},
	}
	for _, tt := range tests {
		if got := formatMillis(tt.ms); got != tt.want {
			t.Errorf("formatMillis(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestFormatCountGroupsDigits(t *testing.T) {
	if got := formatCount(1234567); got != "1,234,567" {
		t.Fatalf("unexpected count %q", got)
	}
}

func TestBuildSegmentStatusRowsOrder(t *testing.T) {
	rows := buildSegmentStatusRows(map[string]int{"uploaded": 3, "zeta": 1, "pending": 2, "failed": 1})
	var got []string
	for _, row := range rows {
		got = append(got, row[0])
	}
	if strings.Join(got, ",") != "pending,failed,uploaded,zeta" {
		t.Fatalf("unexpected order %v", got)
	}
	if buildSegmentStatusRows(nil) != nil {
		t.Fatal("expected nil rows for empty stats")
	}
}

func TestDescribeMessage(t *testing.T) {
	mustMessage := func(msgType string, payload any) coordinator.Message {
		msg, err := coordinator.NewMessage(msgType, payload)
		if err != nil {
			t.Fatalf("NewMessage: %v", err)
		}
		return msg
	}
	tests := []struct {
		msg  coordinator.Message
		want string
	}{
		{mustMessage(coordinator.TypeSegmentFailed, coordinator.SegmentFailedPayload{LocalID: "a", Reason: "boom"}), "a: boom"},
		{mustMessage(coordinator.TypeSegmentUploaded, coordinator.SegmentUploadedPayload{LocalID: "a", RemoteID: "r", URL: "u"}), "a -> r u"},
		{mustMessage(coordinator.TypeDrainStarted, coordinator.DrainStartedPayload{Pass: 2, Reason: "poll"}), "pass 2 (poll)"},
		{mustMessage(coordinator.TypeDrainFinished, coordinator.DrainResult{Pass: 1, Listed: 3, Uploaded: 2, Failed: 1}), "pass 1: 3 listed, 2 uploaded, 1 failed, 0 dropped in 0ms"},
		{coordinator.Message{Type: coordinator.TypePong}, ""},
	}
	for _, tt := range tests {
		if got := describeMessage(tt.msg); got != tt.want {
			t.Errorf("describeMessage(%s) = %q, want %q", tt.msg.Type, got, tt.want)
		}
	}
}

func TestCoverageSummary(t *testing.T) {
	report := replay.Report{StartMs: 0, EndMs: 40000, CoveredMs: 30000, Gaps: []replay.Gap{{StartMs: 10000, EndMs: 20000}}}
	want := "Coverage: 30,000 of 40,000 ms (75.0%), 1 gaps"
	if got := coverageSummary(report); got != want {
		t.Fatalf("coverageSummary = %q, want %q", got, want)
	}
	if got := coverageSummary(replay.Report{}); got != "Coverage: empty" {
		t.Fatalf("unexpected empty summary %q", got)
	}
}

func TestRenderStatusLine(t *testing.T) {
	got := renderStatusLine("relayd", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "relayd:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
	colored := renderStatusLine("relayd", statusOK, "Running", true)
	if !strings.HasPrefix(colored, ansiGreen) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("expected green line, got %q", colored)
	}
}

func TestSegmentAddRequestInlinesLogs(t *testing.T) {
	dir := t.TempDir()
	blob := writeFile(t, dir, "seg.bin", "x")
	logsA := writeFile(t, dir, "a.json", `[{"n":1},{"n":2}]`)
	logsB := writeFile(t, dir, "b.json", `[{"n":3}]`)
	bad := writeFile(t, dir, "bad.json", `{"n":1}`)

	req, err := buildSegmentAddRequest(segmentAddFlags{sessionID: " s1 ", endMs: 10, logFiles: []string{logsA, logsB}}, blob)
	if err != nil {
		t.Fatalf("buildSegmentAddRequest: %v", err)
	}
	if req.SessionID != "s1" || req.Path != blob || len(req.Logs) != 3 {
		t.Fatalf("unexpected request %+v", req)
	}
	if _, err := buildSegmentAddRequest(segmentAddFlags{sessionID: "s1", logFiles: []string{bad}}, blob); err == nil {
		t.Fatal("expected non-array log file to be rejected")
	}
	if _, err := buildSegmentAddRequest(segmentAddFlags{sessionID: "s1"}, dir); err == nil {
		t.Fatal("expected directory blob path to be rejected")
	}
}
