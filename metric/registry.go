package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/autoflow/errors"
)

// Registrar is the interface subsystems use to register their own metrics.
type Registrar interface {
	RegisterCounter(component, name string, counter prometheus.Counter) error
	RegisterGauge(component, name string, gauge prometheus.Gauge) error
	RegisterHistogram(component, name string, histogram prometheus.Histogram) error
	RegisterCounterVec(component, name string, vec *prometheus.CounterVec) error
	RegisterGaugeVec(component, name string, vec *prometheus.GaugeVec) error
	RegisterHistogramVec(component, name string, vec *prometheus.HistogramVec) error
	Unregister(component, name string) bool
}

// MetricsRegistry owns a private Prometheus registry carrying the engine's
// core collectors, Go runtime metrics, and any subsystem registrations.
// A private registry keeps the scrape surface independent of other
// libraries' use of the global default registry.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registered         map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// NewMetricsRegistry creates a registry with core engine metrics installed.
func NewMetricsRegistry() *MetricsRegistry {
	registry := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		Metrics:            NewMetrics(),
		registered:         make(map[string]prometheus.Collector),
	}

	registry.prometheusRegistry.MustRegister(
		registry.Metrics.EngineStatus,
		registry.Metrics.EventsReceived,
		registry.Metrics.EventsProcessed,
		registry.Metrics.EventsThrottled,
		registry.Metrics.RulesMatched,
		registry.Metrics.ActionsExecuted,
		registry.Metrics.PlaybooksDispatched,
		registry.Metrics.ProcessingDuration,
		registry.Metrics.ErrorsTotal,
		registry.Metrics.HealthStatus,
		registry.Metrics.CacheHits,
		registry.Metrics.CacheMisses,
		registry.Metrics.NATSConnected,
		registry.Metrics.NATSReconnects,
	)

	registry.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the engine's core collectors.
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

// register adds a collector under a component-scoped key, rejecting
// duplicates at both the registry and Prometheus level.
func (r *MetricsRegistry) register(method, component, name string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, name)
	if _, exists := r.registered[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for component %s", name, component),
			"MetricsRegistry", method, "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "MetricsRegistry", method,
				fmt.Sprintf("prometheus conflict for metric %s", name))
		}
		return errors.WrapFatal(err, "MetricsRegistry", method, "register collector")
	}

	r.registered[key] = collector
	return nil
}

// RegisterCounter registers a counter for a component.
func (r *MetricsRegistry) RegisterCounter(component, name string, counter prometheus.Counter) error {
	return r.register("RegisterCounter", component, name, counter)
}

// RegisterGauge registers a gauge for a component.
func (r *MetricsRegistry) RegisterGauge(component, name string, gauge prometheus.Gauge) error {
	return r.register("RegisterGauge", component, name, gauge)
}

// RegisterHistogram registers a histogram for a component.
func (r *MetricsRegistry) RegisterHistogram(component, name string, histogram prometheus.Histogram) error {
	return r.register("RegisterHistogram", component, name, histogram)
}

// RegisterCounterVec registers a counter vector for a component.
func (r *MetricsRegistry) RegisterCounterVec(component, name string, vec *prometheus.CounterVec) error {
	return r.register("RegisterCounterVec", component, name, vec)
}

// RegisterGaugeVec registers a gauge vector for a component.
func (r *MetricsRegistry) RegisterGaugeVec(component, name string, vec *prometheus.GaugeVec) error {
	return r.register("RegisterGaugeVec", component, name, vec)
}

// RegisterHistogramVec registers a histogram vector for a component.
func (r *MetricsRegistry) RegisterHistogramVec(component, name string, vec *prometheus.HistogramVec) error {
	return r.register("RegisterHistogramVec", component, name, vec)
}

// Unregister removes a previously registered metric.
func (r *MetricsRegistry) Unregister(component, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, name)
	collector, exists := r.registered[key]
	if !exists {
		return false
	}

	if r.prometheusRegistry.Unregister(collector) {
		delete(r.registered, key)
		return true
	}
	return false
}
