// Package telemetry exposes Prometheus metrics for the orchestration core.
package telemetry

import (
	"bytes"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "cbb"

// Metrics owns a private registry so tests and Lambda instances never share collectors.
type Metrics struct {
	registry          *prometheus.Registry
	generations       *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	errors            *prometheus.CounterVec
	stageTransitions  *prometheus.CounterVec
	generationSeconds *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Role generations by role and the source that produced the text.",
		}, []string{"role", "source"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result.",
		}, []string{"result"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Handled errors by taxonomy type and severity.",
		}, []string{"type", "severity"}),
		stageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Session stage transitions by direction.",
		}, []string{"direction"}),
		generationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_seconds",
			Help:      "Wall-clock latency of role generation.",
			Buckets:   []float64{0.005, 0.05, 0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"role"}),
	}
	m.registry.MustRegister(m.generations, m.cacheLookups, m.errors, m.stageTransitions, m.generationSeconds)
	return m
}

func (m *Metrics) ObserveGeneration(role, source string, d time.Duration) {
	m.generations.WithLabelValues(role, source).Inc()
	m.generationSeconds.WithLabelValues(role).Observe(d.Seconds())
}

func (m *Metrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Error(errType, severity string) {
	m.errors.WithLabelValues(errType, severity).Inc()
}

func (m *Metrics) StageTransition(direction string) {
	m.stageTransitions.WithLabelValues(direction).Inc()
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Render encodes every registered metric in the Prometheus text format.
func (m *Metrics) Render() (string, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return "", fmt.Errorf("telemetry: gather: %w", err)
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", fmt.Errorf("telemetry: encode %s: %w", mf.GetName(), err)
		}
	}
	return buf.String(), nil
}

// ContentType is the content type of Render's output.
func ContentType() string {
	return string(expfmt.NewFormat(expfmt.TypeTextPlain))
}

// Noop discards every observation.
type Noop struct{}

func (Noop) ObserveGeneration(string, string, time.Duration) {}
func (Noop) CacheLookup(bool)                                {}
func (Noop) Error(string, string)                            {}
func (Noop) StageTransition(string)                          {}
