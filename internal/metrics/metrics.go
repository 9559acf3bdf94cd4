package metrics

import (
	"net/http"
	"time"

	"veco-ner/internal/core/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ForwardDuration *prometheus.HistogramVec
	ForwardTotal    *prometheus.CounterVec
	EntitiesTotal   *prometheus.CounterVec
	ModelsLoaded    prometheus.Gauge
	ModelLoads      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ForwardDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "veco_forward_duration_seconds",
				Help:    "Model forward pass duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"model"},
		),
		ForwardTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "veco_forward_total",
				Help: "Total number of model forward passes",
			},
			[]string{"model", "status"}, // status: success|error
		),
		EntitiesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "veco_entities_total",
				Help: "Total number of entities predicted",
			},
			[]string{"model", "label"},
		),
		ModelsLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "veco_models_loaded",
				Help: "Number of models currently held in memory",
			},
		),
		ModelLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "veco_model_loads_total",
				Help: "Total number of model loads",
			},
			[]string{"model", "status"},
		),
	}

	m.registry.MustRegister(
		m.ForwardDuration,
		m.ForwardTotal,
		m.EntitiesTotal,
		m.ModelsLoaded,
		m.ModelLoads,
		collectors.NewGoCollector(),
	)

	return m
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *Metrics) ObserveForward(model string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.ForwardDuration.WithLabelValues(model).Observe(elapsed.Seconds())
	m.ForwardTotal.WithLabelValues(model, status(err)).Inc()
}

func (m *Metrics) ObserveEntities(model string, entities []types.Entity) {
	if m == nil {
		return
	}
	for _, entity := range entities {
		m.EntitiesTotal.WithLabelValues(model, entity.Label).Inc()
	}
}

func (m *Metrics) ObserveModelLoad(model string, err error) {
	if m == nil {
		return
	}
	m.ModelLoads.WithLabelValues(model, status(err)).Inc()
}

func (m *Metrics) SetModelsLoaded(n int) {
	if m == nil {
		return
	}
	m.ModelsLoaded.Set(float64(n))
}

// Handler serves the collected metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
