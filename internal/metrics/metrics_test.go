package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.IncDrains()
	m.IncCoalesced()
	m.IncCoalesced()
	m.IncSegment(OutcomeUploaded)
	m.IncSegment(OutcomeFailed)
	m.IncBuild("succeeded")
	m.SetConnectedPorts(3)
	m.AddEvicted(2)

	if got := testutil.ToFloat64(m.coalescedTotal); got != 2 {
		t.Fatalf("coalesced = %v", got)
	}
	if got := testutil.ToFloat64(m.segmentsTotal.WithLabelValues(OutcomeUploaded)); got != 1 {
		t.Fatalf("uploaded = %v", got)
	}

	refreshed := false
	server := httptest.NewServer(m.Handler(func() {
		refreshed = true
		m.SetPending(7)
	}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !refreshed {
		t.Fatal("expected gauge refresh before scrape")
	}
	for _, want := range []string{
		"relay_pending_records 7",
		"relay_connected_ports 3",
		`relay_segments_total{outcome="failed"} 1`,
		"relay_blobs_evicted_total 2",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncDrains()
	m.IncSegment(OutcomeDropped)
	m.SetPending(1)
	m.ObserveDrain(1)
}
