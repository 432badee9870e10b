// Package metrics exposes Prometheus collectors for capture and upload
// activity. A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "memorycam"

// Upload outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeMissing  = "missing"
	OutcomeRejected = "rejected"
)

// Recorder owns a private registry so tests and multiple daemons never collide.
type Recorder struct {
	registry       *prometheus.Registry
	captured       *prometheus.CounterVec
	captureErrors  *prometheus.CounterVec
	probes         *prometheus.CounterVec
	uploads        *prometheus.CounterVec
	uploadDuration *prometheus.HistogramVec
	backlog        prometheus.Gauge
	reachable      prometheus.Gauge
}

// New builds a Recorder with process and Go runtime collectors attached.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		captured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_captured_total",
			Help:      "Artifacts written to staging and enqueued, by kind.",
		}, []string{"kind"}),
		captureErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_errors_total",
			Help:      "Failed capture cycles, by device.",
		}, []string{"device"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "face_probes_total",
			Help:      "Camera probe frames, by result.",
		}, []string{"result"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload attempts, by job kind and outcome.",
		}, []string{"kind", "outcome"}),
		uploadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Upload request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"kind"}),
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_backlog",
			Help:      "Jobs waiting in the durable upload queue.",
		}),
		reachable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_reachable",
			Help:      "1 when the last reachability probe succeeded.",
		}),
	}
	r.registry.MustRegister(
		r.captured,
		r.captureErrors,
		r.probes,
		r.uploads,
		r.uploadDuration,
		r.backlog,
		r.reachable,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ArtifactCaptured(kind string) {
	if r == nil {
		return
	}
	r.captured.WithLabelValues(kind).Inc()
}

func (r *Recorder) CaptureFailed(device string) {
	if r == nil {
		return
	}
	r.captureErrors.WithLabelValues(device).Inc()
}

// Probe records one gate evaluation: "empty", "face", or "cooldown".
func (r *Recorder) Probe(result string) {
	if r == nil {
		return
	}
	r.probes.WithLabelValues(result).Inc()
}

func (r *Recorder) UploadFinished(kind, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.uploads.WithLabelValues(kind, outcome).Inc()
	if outcome == OutcomeSuccess || outcome == OutcomeFailure || outcome == OutcomeRejected {
		r.uploadDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	}
}

func (r *Recorder) SetBacklog(n int) {
	if r == nil {
		return
	}
	r.backlog.Set(float64(n))
}

func (r *Recorder) SetReachable(ok bool) {
	if r == nil {
		return
	}
	if ok {
		r.reachable.Set(1)
		return
	}
	r.reachable.Set(0)
}
