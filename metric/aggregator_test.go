package metric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/autoflow/health"
)

func TestAggregatorSnapshot(t *testing.T) {
	a := NewAggregator(nil)

	a.RecordEvent("compliance", "high", 10*time.Millisecond)
	a.RecordEvent("compliance", "low", 30*time.Millisecond)
	a.RecordEvent("awareness", "high", 20*time.Millisecond)
	a.RecordFailure()
	a.RecordThrottle()
	a.RecordCacheHit()
	a.RecordCacheHit()
	a.RecordCacheMiss()
	a.RecordBatch()

	s := a.GetMetrics()
	assert.Equal(t, uint64(3), s.TotalEvents)
	assert.Equal(t, uint64(2), s.EventsByCategory["compliance"])
	assert.Equal(t, uint64(1), s.EventsByCategory["awareness"])
	assert.Equal(t, uint64(2), s.EventsByPriority["high"])
	assert.Equal(t, uint64(1), s.FailedEvents)
	assert.Equal(t, uint64(1), s.ThrottledEvents)
	assert.Equal(t, uint64(2), s.CacheHits)
	assert.Equal(t, uint64(1), s.CacheMisses)
	assert.Equal(t, uint64(1), s.BatchesProcessed)
	assert.InDelta(t, 20.0, s.AverageProcessingMillis, 0.01)
	assert.Greater(t, s.UptimeSeconds, 0.0)
}

func TestAggregatorPerformancePercentiles(t *testing.T) {
	a := NewAggregator(nil)
	// 1ms..100ms ascending
	for i := 1; i <= 100; i++ {
		a.RecordEvent("c", "p", time.Duration(i)*time.Millisecond)
	}

	p := a.GetPerformanceMetrics()
	assert.Equal(t, 100, p.SampleCount)
	assert.Equal(t, time.Millisecond, p.Fastest)
	assert.Equal(t, 100*time.Millisecond, p.Slowest)

	// index = floor(n*p) into the ascending-sorted window
	assert.Equal(t, 51*time.Millisecond, p.P50)
	assert.Equal(t, 96*time.Millisecond, p.P95)
	assert.Equal(t, 100*time.Millisecond, p.P99)
	assert.InDelta(t, 50.5, float64(p.Mean.Microseconds())/1000.0, 0.1)
}

func TestAggregatorPerformanceSingleSample(t *testing.T) {
	a := NewAggregator(nil)
	a.RecordEvent("c", "p", 7*time.Millisecond)

	p := a.GetPerformanceMetrics()
	assert.Equal(t, 1, p.SampleCount)
	// floor(1*0.99)=0, clamped in-range
	assert.Equal(t, 7*time.Millisecond, p.P99)
	assert.Equal(t, p.Fastest, p.Slowest)
}

func TestAggregatorPerformanceEmpty(t *testing.T) {
	a := NewAggregator(nil)
	p := a.GetPerformanceMetrics()
	assert.Zero(t, p.SampleCount)
	assert.Zero(t, p.Mean)
}

func TestAggregatorWindowDropsOldest(t *testing.T) {
	a := NewAggregator(nil)
	// Fill past capacity; first 500 slow samples must age out.
	for range 500 {
		a.RecordEvent("c", "p", time.Second)
	}
	for range windowCapacity {
		a.RecordEvent("c", "p", time.Millisecond)
	}

	p := a.GetPerformanceMetrics()
	assert.Equal(t, windowCapacity, p.SampleCount)
	assert.Equal(t, time.Millisecond, p.Slowest, "old slow samples dropped from the window")
}

func TestHealthHealthyByDefault(t *testing.T) {
	a := NewAggregator(nil)
	report := a.GetHealthMetrics()
	assert.Equal(t, health.StateHealthy, report.Status)
	assert.Empty(t, report.Issues)
}

func TestHealthErrorRateThresholds(t *testing.T) {
	tests := []struct {
		name   string
		total  int
		failed int
		want   health.State
	}{
		{"under degraded threshold", 100, 5, health.StateHealthy},
		{"degraded above 5%", 100, 6, health.StateDegraded},
		{"unhealthy above 10%", 100, 11, health.StateUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAggregator(nil)
			for range tt.total {
				a.RecordEvent("c", "p", time.Millisecond)
			}
			for range tt.failed {
				a.RecordFailure()
			}
			assert.Equal(t, tt.want, a.GetHealthMetrics().Status)
		})
	}
}

func TestHealthThrottleRateDegrades(t *testing.T) {
	a := NewAggregator(nil)
	for range 100 {
		a.RecordEvent("c", "p", time.Millisecond)
	}
	for range 21 {
		a.RecordThrottle()
	}

	report := a.GetHealthMetrics()
	assert.Equal(t, health.StateDegraded, report.Status)
	require.Len(t, report.Issues, 1)
	assert.Contains(t, report.Issues[0], "throttle rate")
}

func TestHealthColdCacheIsAdvisoryOnly(t *testing.T) {
	a := NewAggregator(nil)
	for range 10 {
		a.RecordEvent("c", "p", time.Millisecond)
	}
	for range 150 {
		a.RecordCacheMiss()
	}

	report := a.GetHealthMetrics()
	assert.Equal(t, health.StateHealthy, report.Status, "cold cache never changes status")
	require.Len(t, report.Issues, 1)
	assert.Contains(t, report.Issues[0], "cache hit rate")
}

func TestHealthCacheAdvisoryNeedsEnoughLookups(t *testing.T) {
	a := NewAggregator(nil)
	a.RecordEvent("c", "p", time.Millisecond)
	for range 50 {
		a.RecordCacheMiss()
	}
	assert.Empty(t, a.GetHealthMetrics().Issues)
}

func TestHealthSlowProcessingDegrades(t *testing.T) {
	a := NewAggregator(nil)
	a.RecordEvent("c", "p", 2*time.Second)

	report := a.GetHealthMetrics()
	assert.Equal(t, health.StateDegraded, report.Status)
	assert.Contains(t, report.Issues[0], "average processing time")
}

func TestHealthWorstConditionWins(t *testing.T) {
	a := NewAggregator(nil)
	for range 100 {
		a.RecordEvent("c", "p", 2*time.Second) // slow: degraded
	}
	for range 15 {
		a.RecordFailure() // 15% errors: unhealthy
	}

	report := a.GetHealthMetrics()
	assert.Equal(t, health.StateUnhealthy, report.Status)
	assert.Len(t, report.Issues, 2)
}

func TestHealthMonotonicity(t *testing.T) {
	a := NewAggregator(nil)
	for range 100 {
		a.RecordEvent("c", "p", time.Millisecond)
	}

	previous := a.GetHealthMetrics().Status
	for range 30 {
		a.RecordFailure()
		current := a.GetHealthMetrics().Status
		assert.Equal(t, current, health.Worse(previous, current),
			"adding failures never improves status")
		previous = current
	}
	assert.Equal(t, health.StateUnhealthy, previous)
}

func TestAggregatorReset(t *testing.T) {
	a := NewAggregator(nil)
	a.RecordEvent("c", "p", time.Millisecond)
	a.RecordFailure()
	a.RecordCacheHit()
	a.Reset()

	s := a.GetMetrics()
	assert.Zero(t, s.TotalEvents)
	assert.Zero(t, s.FailedEvents)
	assert.Zero(t, s.CacheHits)
	assert.Empty(t, s.EventsByCategory)
	assert.Zero(t, a.GetPerformanceMetrics().SampleCount)
	assert.Equal(t, health.StateHealthy, a.GetHealthMetrics().Status)
}

func TestAggregatorWithPrometheusMirror(t *testing.T) {
	registry := NewMetricsRegistry()
	a := NewAggregator(registry.CoreMetrics())

	a.RecordEvent("compliance", "high", time.Millisecond)
	a.RecordFailure()
	a.RecordThrottle()
	a.RecordCacheHit()
	a.RecordCacheMiss()

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["autoflow_events_received_total"])
	assert.True(t, names["autoflow_events_throttled_total"])
	assert.True(t, names["autoflow_cache_hits_total"])
}
