// Package telemetry provides Prometheus metrics and tracing for the
// enrichment service.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName = "enrichment"
	namespace   = "enrichment"
)

// Metrics holds the enrichment Prometheus collectors.
type Metrics struct {
	// Run lifecycle
	RunsStarted  prometheus.Counter
	RunsFinished *prometheus.CounterVec
	ActiveRuns   prometheus.Gauge

	// Item processing
	ItemsProcessed *prometheus.CounterVec
	WaveDuration   prometheus.Histogram
	WaveSize       prometheus.Histogram

	// Lookup calls
	LookupDuration *prometheus.HistogramVec
	LookupFailures *prometheus.CounterVec
}

// Provider wraps the tracer, the metrics and the registry they live in.
type Provider struct {
	Tracer   trace.Tracer
	Metrics  *Metrics
	Registry *prometheus.Registry
}

// NewProvider registers metrics on reg. A nil reg gets a fresh registry with
// the Go and process collectors.
func NewProvider(reg *prometheus.Registry) *Provider {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return &Provider{
		Tracer:   otel.Tracer(serviceName),
		Metrics:  initMetrics(promauto.With(reg)),
		Registry: reg,
	}
}

// Handler returns the Prometheus HTTP handler for /metrics.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{})
}

func initMetrics(f promauto.Factory) *Metrics {
	return &Metrics{
		RunsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Run execution loops started, including resumptions",
		}),
		RunsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Run execution loops finished, by final status",
		}, []string{"status"}),
		ActiveRuns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Execution loops currently running in this process",
		}),
		ItemsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_processed_total",
			Help:      "Items that reached an outcome, by status",
		}, []string{"status"}),
		WaveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wave_duration_seconds",
			Help:      "Time to process one wave of items",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		WaveSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wave_size",
			Help:      "Items per wave",
			Buckets:   []float64{1, 2, 5, 10, 20, 50},
		}),
		LookupDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lookup_duration_seconds",
			Help:      "Lookup call latency",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		LookupFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_failures_total",
			Help:      "Failed lookup calls, by reason",
		}, []string{"reason"}),
	}
}

// RecordRunStarted marks a loop as running.
func (p *Provider) RecordRunStarted() {
	p.Metrics.RunsStarted.Inc()
	p.Metrics.ActiveRuns.Inc()
}

// RecordRunFinished marks a loop as finished with the run's status at exit.
func (p *Provider) RecordRunFinished(status string) {
	p.Metrics.RunsFinished.WithLabelValues(status).Inc()
	p.Metrics.ActiveRuns.Dec()
}

// RecordItem counts an item outcome.
func (p *Provider) RecordItem(status string) {
	p.Metrics.ItemsProcessed.WithLabelValues(status).Inc()
}

// RecordWave records one wave.
func (p *Provider) RecordWave(size int, duration time.Duration) {
	p.Metrics.WaveSize.Observe(float64(size))
	p.Metrics.WaveDuration.Observe(duration.Seconds())
}

// RecordLookup records a lookup call. reason is empty on success.
func (p *Provider) RecordLookup(duration time.Duration, reason string) {
	outcome := "success"
	if reason != "" {
		outcome = "failure"
		p.Metrics.LookupFailures.WithLabelValues(reason).Inc()
	}
	p.Metrics.LookupDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// StartSpan starts a new trace span.
// The caller is responsible for ending the span with span.End().
//
//nolint:spancheck // Caller is responsible for ending the span
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
