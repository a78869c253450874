// Package metrics exposes Prometheus collectors for the server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Instance metrics
	InstancesCreated   prometheus.Counter
	InstancesReclaimed *prometheus.CounterVec
	Sweeps             prometheus.Counter
	SweepSkipped       prometheus.Counter

	// Visit metrics
	Visits *prometheus.CounterVec
}

// New creates the collectors along with Go runtime and process metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandnotes_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sandnotes_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		InstancesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "sandnotes_instances_created_total",
			Help: "Instances created for new visitors",
		}),
		InstancesReclaimed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandnotes_instances_reclaimed_total",
				Help: "Instances removed by the sweeper",
			},
			[]string{"reason"},
		),
		Sweeps: f.NewCounter(prometheus.CounterOpts{
			Name: "sandnotes_sweeps_total",
			Help: "Completed sweeps",
		}),
		SweepSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "sandnotes_sweep_skipped_total",
			Help: "Instances skipped by a sweep because they were in use",
		}),
		Visits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandnotes_visits_total",
				Help: "Browser visits by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveSweep records the counters of one sweep.
func (m *Metrics) ObserveSweep(orphanDirs, idle, orphanRows, skipped int) {
	m.Sweeps.Inc()
	m.InstancesReclaimed.WithLabelValues("orphan_dir").Add(float64(orphanDirs))
	m.InstancesReclaimed.WithLabelValues("idle").Add(float64(idle))
	m.InstancesReclaimed.WithLabelValues("orphan_row").Add(float64(orphanRows))
	m.SweepSkipped.Add(float64(skipped))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
