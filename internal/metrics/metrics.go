// Package metrics instruments extraction jobs, adapter traffic and the work
// queue with Prometheus collectors on a private registry.
//
// Every method is safe on a nil *Recorder, which records nothing.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timmy/storesync/internal/logger"
	"github.com/timmy/storesync/internal/queue"
)

// Recorder owns the registry and every collector.
type Recorder struct {
	registry *prometheus.Registry

	jobsTotal        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	phaseDuration    *prometheus.HistogramVec
	itemsTotal       *prometheus.CounterVec
	detectionsTotal  *prometheus.CounterVec
	adapterRequests  *prometheus.CounterVec
	adapterLatency   *prometheus.HistogramVec
	queueTasksTotal  *prometheus.CounterVec
	queueTaskLatency prometheus.Histogram
	queueDepth       *prometheus.GaugeVec
}

// New creates a Recorder whose metric names start with namespace.
func New(namespace string) *Recorder {
	registry := prometheus.NewRegistry()
	r := &Recorder{registry: registry}

	r.jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "extraction_jobs_total",
		Help:      "Extraction jobs finished, by platform and final status.",
	}, []string{"platform", "status"})

	r.jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "extraction_job_duration_seconds",
		Help:      "Wall time of one extraction attempt.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"platform", "status"})

	r.phaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "extraction_phase_duration_seconds",
		Help:      "Wall time of each extraction phase.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"phase"})

	r.itemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "extracted_items_total",
		Help:      "Catalog rows written, by resource.",
	}, []string{"resource"})

	r.detectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "platform_detections_total",
		Help:      "Storefront probes, by detected platform.",
	}, []string{"platform"})

	r.adapterRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "adapter_requests_total",
		Help:      "Platform API requests, by endpoint and HTTP status (0 for transport errors).",
	}, []string{"platform", "endpoint", "status"})

	r.adapterLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "adapter_request_duration_seconds",
		Help:      "Platform API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"platform", "endpoint"})

	r.queueTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_tasks_total",
		Help:      "Queue deliveries settled, by outcome.",
	}, []string{"outcome"})

	r.queueTaskLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "queue_task_duration_seconds",
		Help:      "Handler time per queue delivery.",
		Buckets:   []float64{0.1, 1, 5, 15, 30, 60, 120, 300, 600},
	})

	r.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Tasks in the queue, by state.",
	}, []string{"state"})

	registry.MustRegister(
		r.jobsTotal, r.jobDuration, r.phaseDuration, r.itemsTotal,
		r.detectionsTotal, r.adapterRequests, r.adapterLatency,
		r.queueTasksTotal, r.queueTaskLatency, r.queueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) ObserveJob(platform, status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.jobsTotal.WithLabelValues(platform, status).Inc()
	r.jobDuration.WithLabelValues(platform, status).Observe(elapsed.Seconds())
}

func (r *Recorder) ObservePhase(phase string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.phaseDuration.WithLabelValues(phase).Observe(elapsed.Seconds())
}

func (r *Recorder) AddItems(resource string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.itemsTotal.WithLabelValues(resource).Add(float64(n))
}

func (r *Recorder) ObserveDetection(platform string) {
	if r == nil {
		return
	}
	r.detectionsTotal.WithLabelValues(platform).Inc()
}

// AdapterObserver returns a callback for one platform's HTTP client.
func (r *Recorder) AdapterObserver(platform string) func(endpoint string, status int, elapsed time.Duration) {
	return func(endpoint string, status int, elapsed time.Duration) {
		if r == nil {
			return
		}
		r.adapterRequests.WithLabelValues(platform, endpoint, strconv.Itoa(status)).Inc()
		r.adapterLatency.WithLabelValues(platform, endpoint).Observe(elapsed.Seconds())
	}
}

// ObserveTask matches queue.WorkerOptions.OnSettled.
func (r *Recorder) ObserveTask(_ *queue.Task, outcome queue.Outcome, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.queueTasksTotal.WithLabelValues(string(outcome)).Inc()
	r.queueTaskLatency.Observe(elapsed.Seconds())
}

func (r *Recorder) SetQueueDepth(s queue.Stats) {
	if r == nil {
		return
	}
	r.queueDepth.WithLabelValues("ready").Set(float64(s.Ready))
	r.queueDepth.WithLabelValues("delayed").Set(float64(s.Delayed))
	r.queueDepth.WithLabelValues("in_flight").Set(float64(s.InFlight))
	r.queueDepth.WithLabelValues("dead").Set(float64(s.Dead))
}

// WatchQueue samples queue depth every interval until ctx is done.
func (r *Recorder) WatchQueue(ctx context.Context, q queue.Queue, interval time.Duration) {
	if r == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		stats, err := q.Stats(ctx)
		if err != nil && ctx.Err() == nil {
			logger.CtxWarn(ctx, "Failed to sample queue depth: %v", err)
		} else if err == nil {
			r.SetQueueDepth(stats)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
