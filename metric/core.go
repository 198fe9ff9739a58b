// Package metric provides the engine's Prometheus metrics and the rolling
// aggregator behind the health and performance read APIs.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the engine-level Prometheus collectors.
type Metrics struct {
	EngineStatus        *prometheus.GaugeVec
	EventsReceived      *prometheus.CounterVec
	EventsProcessed     *prometheus.CounterVec
	EventsThrottled     prometheus.Counter
	RulesMatched        *prometheus.CounterVec
	ActionsExecuted     *prometheus.CounterVec
	PlaybooksDispatched *prometheus.CounterVec
	ProcessingDuration  *prometheus.HistogramVec
	ErrorsTotal         *prometheus.CounterVec
	HealthStatus        *prometheus.GaugeVec
	CacheHits           prometheus.Counter
	CacheMisses         prometheus.Counter

	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates all engine collectors under the autoflow namespace.
func NewMetrics() *Metrics {
	return &Metrics{
		EngineStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "autoflow",
				Subsystem: "engine",
				Name:      "status",
				Help:      "Engine component status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"component"},
		),

		EventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autoflow",
				Subsystem: "events",
				Name:      "received_total",
				Help:      "Total number of events received",
			},
			[]string{"category", "priority"},
		),

		EventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autoflow",
				Subsystem: "events",
				Name:      "processed_total",
				Help:      "Total number of events processed",
			},
			[]string{"status"},
		),

		EventsThrottled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "autoflow",
				Subsystem: "events",
				Name:      "throttled_total",
				Help:      "Total number of events dropped by the rate limiter",
			},
		),

		RulesMatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autoflow",
				Subsystem: "rules",
				Name:      "matched_total",
				Help:      "Total number of rule matches",
			},
			[]string{"rule_id"},
		),

		ActionsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autoflow",
				Subsystem: "actions",
				Name:      "executed_total",
				Help:      "Total number of rule actions executed",
			},
			[]string{"action_type", "status"},
		),

		PlaybooksDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autoflow",
				Subsystem: "playbooks",
				Name:      "dispatched_total",
				Help:      "Total number of playbooks dispatched",
			},
			[]string{"trigger_type"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "autoflow",
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Event processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autoflow",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by component and class",
			},
			[]string{"component", "class"},
		),

		HealthStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "autoflow",
				Subsystem: "health",
				Name:      "status",
				Help:      "Subsystem health (0=unhealthy, 1=degraded, 2=healthy)",
			},
			[]string{"component"},
		),

		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "autoflow",
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total number of rule cache hits",
			},
		),

		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "autoflow",
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total number of rule cache misses",
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "autoflow",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "autoflow",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

// RecordEventReceived increments the received counter.
func (m *Metrics) RecordEventReceived(category, priority string) {
	m.EventsReceived.WithLabelValues(category, priority).Inc()
}

// RecordEventProcessed increments the processed counter.
func (m *Metrics) RecordEventProcessed(status string) {
	m.EventsProcessed.WithLabelValues(status).Inc()
}

// RecordThrottled increments the throttled counter.
func (m *Metrics) RecordThrottled() {
	m.EventsThrottled.Inc()
}

// RecordRuleMatched increments the per-rule match counter.
func (m *Metrics) RecordRuleMatched(ruleID string) {
	m.RulesMatched.WithLabelValues(ruleID).Inc()
}

// RecordActionExecuted increments the action counter.
func (m *Metrics) RecordActionExecuted(actionType string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.ActionsExecuted.WithLabelValues(actionType, status).Inc()
}

// RecordPlaybookDispatched increments the dispatch counter.
func (m *Metrics) RecordPlaybookDispatched(triggerType string) {
	m.PlaybooksDispatched.WithLabelValues(triggerType).Inc()
}

// RecordProcessingDuration records how long an operation took.
func (m *Metrics) RecordProcessingDuration(operation string, duration time.Duration) {
	m.ProcessingDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, class string) {
	m.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordHealth sets the subsystem health gauge.
func (m *Metrics) RecordHealth(component string, value float64) {
	m.HealthStatus.WithLabelValues(component).Set(value)
}

// RecordCacheHit increments the cache hit counter.
func (m *Metrics) RecordCacheHit() { m.CacheHits.Inc() }

// RecordCacheMiss increments the cache miss counter.
func (m *Metrics) RecordCacheMiss() { m.CacheMisses.Inc() }

// RecordNATSStatus sets the connection gauge.
func (m *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.NATSConnected.Set(value)
}

// RecordNATSReconnect increments the reconnect counter.
func (m *Metrics) RecordNATSReconnect() { m.NATSReconnects.Inc() }
