// Package metrics exposes Prometheus instrumentation for the ingest
// pipeline: chunk throughput, drops, session lifecycle, transcoder exits,
// and HTTP request metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder aggregates the collectors used across the pipeline.
type Recorder struct {
	registry *prometheus.Registry

	chunksReceived  prometheus.Counter
	bytesReceived   prometheus.Counter
	chunksDropped   prometheus.Counter
	activeSessions  prometheus.Gauge
	transcoderExits *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
}

var (
	defaultOnce     sync.Once
	defaultRecorder *Recorder
)

// Default returns the process-wide recorder, creating it on first use.
func Default() *Recorder {
	defaultOnce.Do(func() {
		defaultRecorder = New()
	})
	return defaultRecorder
}

// New creates a recorder backed by its own registry.
func New() *Recorder {
	registry := prometheus.NewRegistry()

	chunksReceived := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camcast_chunks_received_total",
		Help: "Total number of media chunks received from capture channels",
	})
	bytesReceived := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camcast_chunk_bytes_received_total",
		Help: "Total media bytes received from capture channels",
	})
	chunksDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camcast_chunks_dropped_total",
		Help: "Total chunks shed under transcoder backpressure",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "camcast_active_sessions",
		Help: "Number of capture sessions with a live transcoder process",
	})
	transcoderExits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "camcast_transcoder_exits_total",
		Help: "Transcoder process exits by outcome",
	}, []string{"outcome"})
	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "camcast_http_requests_total",
		Help: "HTTP requests served, by method and status class",
	}, []string{"method", "status"})
	requestDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "camcast_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	})

	registry.MustRegister(
		chunksReceived,
		bytesReceived,
		chunksDropped,
		activeSessions,
		transcoderExits,
		requestsTotal,
		requestDuration,
	)

	return &Recorder{
		registry:        registry,
		chunksReceived:  chunksReceived,
		bytesReceived:   bytesReceived,
		chunksDropped:   chunksDropped,
		activeSessions:  activeSessions,
		transcoderExits: transcoderExits,
		requestsTotal:   requestsTotal,
		requestDuration: requestDuration,
	}
}

// ObserveChunk records one received chunk of the given size.
func (r *Recorder) ObserveChunk(size int) {
	r.chunksReceived.Inc()
	r.bytesReceived.Add(float64(size))
}

// ObserveDrop records one chunk shed under backpressure.
func (r *Recorder) ObserveDrop() {
	r.chunksDropped.Inc()
}

// SessionStarted increments the live session gauge.
func (r *Recorder) SessionStarted() {
	r.activeSessions.Inc()
}

// SessionEnded decrements the live session gauge.
func (r *Recorder) SessionEnded() {
	r.activeSessions.Dec()
}

// ObserveTranscoderExit records a transcoder process exit. Outcome is one of
// "clean", "errored", or "killed".
func (r *Recorder) ObserveTranscoderExit(outcome string) {
	r.transcoderExits.WithLabelValues(outcome).Inc()
}

// ObserveRequest records a served HTTP request.
func (r *Recorder) ObserveRequest(method string, status int, duration time.Duration) {
	r.requestsTotal.WithLabelValues(method, statusClass(status)).Inc()
	r.requestDuration.Observe(duration.Seconds())
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry, primarily for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
