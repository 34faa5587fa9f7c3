package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder collects ingestion counters. Each Recorder owns its registry so
// tests and the HTTP exporter never share global state.
type Recorder struct {
	registry    *prometheus.Registry
	lines       *prometheus.CounterVec
	jobs        *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	uploaded    *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "artifact_ingest",
			Name:      "lines_total",
			Help:      "Artifact lines read, by kind and result (parsed, unmatched, invalid).",
		}, []string{"kind", "result"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "artifact_ingest",
			Name:      "host_jobs_total",
			Help:      "Host jobs finished, by kind and status (success, failure).",
		}, []string{"kind", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "artifact_ingest",
			Name:      "host_job_duration_seconds",
			Help:      "Time spent parsing one host artifact file.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"kind"}),
		uploaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "artifact_ingest",
			Name:      "uploaded_events_total",
			Help:      "Events shipped to a sink, by sink.",
		}, []string{"sink"}),
	}
	r.registry.MustRegister(r.lines, r.jobs, r.jobDuration, r.uploaded)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Lines(kind, result string, n int64) {
	if n > 0 {
		r.lines.WithLabelValues(kind, result).Add(float64(n))
	}
}

func (r *Recorder) Job(kind, status string, d time.Duration) {
	r.jobs.WithLabelValues(kind, status).Inc()
	r.jobDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (r *Recorder) Uploaded(sink string, n int) {
	if n > 0 {
		r.uploaded.WithLabelValues(sink).Add(float64(n))
	}
}

func (r *Recorder) LinesCounter() *prometheus.CounterVec {
	return r.lines
}

func (r *Recorder) JobsCounter() *prometheus.CounterVec {
	return r.jobs
}

func (r *Recorder) UploadedCounter() *prometheus.CounterVec {
	return r.uploaded
}
