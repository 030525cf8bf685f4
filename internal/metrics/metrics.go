// Package metrics exposes pipeline and HTTP measurements to Prometheus.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/auditimport/internal/core"
)

const namespace = "auditimport"

var latencyBuckets = []float64{
	0.001, 0.002, 0.005,
	0.01, 0.02, 0.05,
	0.1, 0.2, 0.5,
	1, 2, 5, 10,
}

// Recorder implements core.Metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	jobTransitions *prometheus.CounterVec
	rows           *prometheus.CounterVec
	batches        *prometheus.CounterVec
	batchLatency   *prometheus.HistogramVec
	rolledBack     prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

var _ core.Metrics = (*Recorder)(nil)

// New creates a recorder with Go runtime and process collectors registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		jobTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "Import jobs entering each status.",
		}, []string{"status"}),
		rows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_processed_total",
			Help:      "Rows written by the executor, by outcome.",
		}, []string{"outcome"}),
		batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Executor batches, by commit mode (batch or per_row fallback).",
		}, []string{"mode"}),
		batchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time to commit one executor batch.",
			Buckets:   latencyBuckets,
		}, []string{"mode"}),
		rolledBack: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_rolled_back_total",
			Help:      "Records removed by rollbacks.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and result class.",
		}, []string{"route", "result"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "latency_seconds",
			Help:      "HTTP request latency by route and result class.",
			Buckets:   latencyBuckets,
		}, []string{"route", "result"}),
	}
}

func (r *Recorder) JobTransition(status core.JobStatus) {
	r.jobTransitions.WithLabelValues(string(status)).Inc()
}

func (r *Recorder) RowsProcessed(outcome core.Outcome, n int) {
	if n > 0 {
		r.rows.WithLabelValues(string(outcome)).Add(float64(n))
	}
}

func (r *Recorder) BatchCommitted(fallback bool, d time.Duration) {
	mode := "batch"
	if fallback {
		mode = "per_row"
	}
	r.batches.WithLabelValues(mode).Inc()
	r.batchLatency.WithLabelValues(mode).Observe(d.Seconds())
}

func (r *Recorder) RecordsRolledBack(n int) {
	r.rolledBack.Add(float64(n))
}

// Registry returns the registry metrics are registered on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Instrument wraps next, counting requests under a stable route label.
func (r *Recorder) Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)

		result := resultClass(rec.status)
		r.httpRequests.WithLabelValues(route, result).Inc()
		r.httpLatency.WithLabelValues(route, result).Observe(time.Since(start).Seconds())
	})
}

func resultClass(status int) string {
	if status < 100 || status > 599 {
		return strconv.Itoa(status)
	}
	return strconv.Itoa(status/100) + "xx"
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}
