// Package metrics holds the Prometheus collectors exported by relayd.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Segment outcomes recorded by the coordinator.
const (
	OutcomeUploaded = "uploaded"
	OutcomeFailed   = "failed"
	OutcomeDropped  = "dropped"
)

// Metrics holds the daemon's counters and gauges. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	drainsTotal    prometheus.Counter
	coalescedTotal prometheus.Counter
	segmentsTotal  *prometheus.CounterVec
	buildsTotal    *prometheus.CounterVec
	connectedPorts prometheus.Gauge
	pendingRecords prometheus.Gauge
	blobsEvicted   prometheus.Counter
	drainDuration  prometheus.Histogram
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		drainsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_drains_total",
			Help: "Total number of drain passes started",
		}),
		coalescedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_drain_triggers_coalesced_total",
			Help: "Drain triggers received while a pass was already running",
		}),
		segmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_segments_total",
			Help: "Segments processed by drain passes, by outcome",
		}, []string{"outcome"}),
		buildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_build_uploads_total",
			Help: "Finished build uploads, by outcome",
		}, []string{"outcome"}),
		connectedPorts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connected_ports",
			Help: "Clients currently connected to the coordinator",
		}),
		pendingRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_pending_records",
			Help: "Pending upload records in the durable queue",
		}),
		blobsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_blobs_evicted_total",
			Help: "Segment blobs removed by retention",
		}),
		drainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_drain_duration_seconds",
			Help:    "Wall time of drain passes",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}

	registry.MustRegister(
		m.drainsTotal,
		m.coalescedTotal,
		m.segmentsTotal,
		m.buildsTotal,
		m.connectedPorts,
		m.pendingRecords,
		m.blobsEvicted,
		m.drainDuration,
	)
	return m
}

// IncDrains counts a started drain pass.
func (m *Metrics) IncDrains() {
	if m == nil {
		return
	}
	m.drainsTotal.Inc()
}

// IncCoalesced counts a trigger folded into a running pass.
func (m *Metrics) IncCoalesced() {
	if m == nil {
		return
	}
	m.coalescedTotal.Inc()
}

// ObserveDrain records the duration of a finished pass.
func (m *Metrics) ObserveDrain(seconds float64) {
	if m == nil {
		return
	}
	m.drainDuration.Observe(seconds)
}

// IncSegment counts one processed segment.
func (m *Metrics) IncSegment(outcome string) {
	if m == nil {
		return
	}
	m.segmentsTotal.WithLabelValues(outcome).Inc()
}

// IncBuild counts one finished build upload.
func (m *Metrics) IncBuild(outcome string) {
	if m == nil {
		return
	}
	m.buildsTotal.WithLabelValues(outcome).Inc()
}

// SetConnectedPorts sets the connected ports gauge.
func (m *Metrics) SetConnectedPorts(n int) {
	if m == nil {
		return
	}
	m.connectedPorts.Set(float64(n))
}

// SetPending sets the pending records gauge.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pendingRecords.Set(float64(n))
}

// AddEvicted counts blobs removed by retention.
func (m *Metrics) AddEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.blobsEvicted.Add(float64(n))
}

// Handler serves the registry. updateGauges runs before each scrape to
// refresh values that are cheaper to read on demand.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		inner.ServeHTTP(w, r)
	})
}
