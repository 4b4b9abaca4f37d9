package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder captures relay metrics for generation jobs and HTTP traffic.
type Recorder interface {
	ObserveJob(state string, duration time.Duration)
	IncPollAttempt(outcome string)
	IncPublication(outcome string)
	ObserveRequest(method, route, status string, duration time.Duration)
}

// Noop implements Recorder without emitting anything.
type Noop struct{}

func (Noop) ObserveJob(string, time.Duration)                     {}
func (Noop) IncPollAttempt(string)                                {}
func (Noop) IncPublication(string)                                {}
func (Noop) ObserveRequest(string, string, string, time.Duration) {}

// Prom implements Recorder backed by Prometheus collectors.
type Prom struct {
	registry     *prometheus.Registry
	jobs         *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	pollAttempts *prometheus.CounterVec
	publications *prometheus.CounterVec
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

// NewProm registers the relay collectors on a dedicated registry, together
// with the Go runtime and process collectors.
func NewProm(namespace string) *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Generation jobs by terminal state",
		}, []string{"state"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from submission to terminal state",
			Buckets:   []float64{5, 10, 20, 30, 45, 60, 90, 120, 180, 240, 300},
		}, []string{"state"}),
		pollAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_attempts_total",
			Help:      "History poll attempts by outcome",
		}, []string{"outcome"}),
		publications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publications_total",
			Help:      "Result publications by outcome",
		}, []string{"outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
		}, []string{"method", "route"}),
	}
	p.registry.MustRegister(
		p.jobs, p.jobDuration, p.pollAttempts, p.publications, p.requests, p.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prom) ObserveJob(state string, duration time.Duration) {
	p.jobs.WithLabelValues(state).Inc()
	p.jobDuration.WithLabelValues(state).Observe(duration.Seconds())
}

func (p *Prom) IncPollAttempt(outcome string) {
	p.pollAttempts.WithLabelValues(outcome).Inc()
}

func (p *Prom) IncPublication(outcome string) {
	p.publications.WithLabelValues(outcome).Inc()
}

func (p *Prom) ObserveRequest(method, route, status string, duration time.Duration) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

var (
	_ Recorder = Noop{}
	_ Recorder = (*Prom)(nil)
)
