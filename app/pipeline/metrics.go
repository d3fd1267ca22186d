package pipeline

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	tokens   prometheus.Counter
	papers   prometheus.Histogram
	running  prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Total number of pipeline run attempts by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_run_duration_seconds",
				Help:      "Pipeline run duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"trigger"},
		),
		tokens: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_tokens_total",
				Help:      "Total tokens consumed by the generation service",
			},
		),
		papers: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_papers",
				Help:      "Relevant papers per run",
				Buckets:   prometheus.LinearBuckets(0, 5, 11),
			},
		),
		running: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pipeline_running",
				Help:      "1 while a pipeline run is in progress",
			},
		),
	}

	registry.MustRegister(
		m.runs,
		m.duration,
		m.tokens,
		m.papers,
		m.running,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) started() {
	m.running.Set(1)
}

func (m *Metrics) busy(trigger Trigger) {
	m.runs.WithLabelValues(string(trigger), string(ReasonBusy)).Inc()
}

func (m *Metrics) finished(run Run) {
	outcome := string(run.State)
	if run.Reason != "" {
		outcome = string(run.Reason)
	}

	m.running.Set(0)
	m.runs.WithLabelValues(string(run.Trigger), outcome).Inc()
	m.duration.WithLabelValues(string(run.Trigger)).Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())
	m.tokens.Add(float64(run.TotalTokens))
	m.papers.Observe(float64(run.PaperCount))
}
