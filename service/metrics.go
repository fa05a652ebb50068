package service

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the orchestrator's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	dispatches       *prometheus.CounterVec
	pollOutcomes     *prometheus.CounterVec
	activeJobs       prometheus.Gauge
	sceneTransitions *prometheus.CounterVec
	stitches         *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sceneforge_dispatches_total",
			Help: "Generation requests issued to providers, by asset type and result.",
		}, []string{"asset", "result"}),
		pollOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sceneforge_poll_outcomes_total",
			Help: "Classified job status checks, by asset type and outcome.",
		}, []string{"asset", "outcome"}),
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sceneforge_active_jobs",
			Help: "Jobs currently being polled.",
		}),
		sceneTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sceneforge_scene_transitions_total",
			Help: "Scene status transitions, by target status.",
		}, []string{"to"}),
		stitches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sceneforge_stitches_total",
			Help: "Stitch requests, by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Dispatch(asset, result string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(asset, result).Inc()
}

func (m *Metrics) PollOutcome(asset, outcome string) {
	if m == nil {
		return
	}
	m.pollOutcomes.WithLabelValues(asset, outcome).Inc()
}

func (m *Metrics) SetActiveJobs(n int) {
	if m == nil {
		return
	}
	m.activeJobs.Set(float64(n))
}

func (m *Metrics) SceneTransition(to string) {
	if m == nil {
		return
	}
	m.sceneTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) Stitch(result string) {
	if m == nil {
		return
	}
	m.stitches.WithLabelValues(result).Inc()
}
