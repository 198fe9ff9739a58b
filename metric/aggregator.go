package metric

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/c360/autoflow/health"
)

// windowCapacity bounds the sliding performance window regardless of event
// volume; oldest samples are dropped first.
const windowCapacity = 1000

// Health thresholds, expressed in percent unless noted.
const (
	errorRateUnhealthy   = 10.0
	errorRateDegraded    = 5.0
	throttleRateDegraded = 20.0
	cacheHitRateAdvisory = 30.0
	cacheLookupsMinimum  = 100
	processingMsDegraded = 1000.0
)

// Aggregator ingests per-event counters and timings from the evaluation and
// dispatch paths and derives rolling performance percentiles and a discrete
// health status. One instance is owned by the engine; counters are
// lock-light, the duration window is guarded by a mutex.
type Aggregator struct {
	mu sync.Mutex

	startTime time.Time

	totalEvents      uint64
	failedEvents     uint64
	throttledEvents  uint64
	cacheHits        uint64
	cacheMisses      uint64
	batchesProcessed uint64

	eventsByCategory map[string]uint64
	eventsByPriority map[string]uint64

	totalDuration time.Duration

	// fixed-capacity ring, drop-oldest
	window [windowCapacity]time.Duration
	next   int
	count  int

	prom *Metrics // optional Prometheus mirror
}

// NewAggregator creates an aggregator. The Prometheus mirror may be nil;
// internal counters work either way.
func NewAggregator(prom *Metrics) *Aggregator {
	return &Aggregator{
		startTime:        time.Now(),
		eventsByCategory: make(map[string]uint64),
		eventsByPriority: make(map[string]uint64),
		prom:             prom,
	}
}

// RecordEvent records one processed event with its category, priority, and
// processing duration.
func (a *Aggregator) RecordEvent(category, priority string, duration time.Duration) {
	a.mu.Lock()
	a.totalEvents++
	a.eventsByCategory[category]++
	a.eventsByPriority[priority]++
	a.totalDuration += duration

	a.window[a.next] = duration
	a.next = (a.next + 1) % windowCapacity
	if a.count < windowCapacity {
		a.count++
	}
	a.mu.Unlock()

	if a.prom != nil {
		a.prom.RecordEventReceived(category, priority)
		a.prom.RecordProcessingDuration("event", duration)
	}
}

// RecordFailure records one failed event.
func (a *Aggregator) RecordFailure() {
	a.mu.Lock()
	a.failedEvents++
	a.mu.Unlock()

	if a.prom != nil {
		a.prom.RecordEventProcessed("failure")
	}
}

// RecordThrottle records one event dropped by the rate limiter.
func (a *Aggregator) RecordThrottle() {
	a.mu.Lock()
	a.throttledEvents++
	a.mu.Unlock()

	if a.prom != nil {
		a.prom.RecordThrottled()
	}
}

// RecordCacheHit records one rule-cache hit.
func (a *Aggregator) RecordCacheHit() {
	a.mu.Lock()
	a.cacheHits++
	a.mu.Unlock()

	if a.prom != nil {
		a.prom.RecordCacheHit()
	}
}

// RecordCacheMiss records one rule-cache miss.
func (a *Aggregator) RecordCacheMiss() {
	a.mu.Lock()
	a.cacheMisses++
	a.mu.Unlock()

	if a.prom != nil {
		a.prom.RecordCacheMiss()
	}
}

// RecordBatch records one processed event batch.
func (a *Aggregator) RecordBatch() {
	a.mu.Lock()
	a.batchesProcessed++
	a.mu.Unlock()
}

// Snapshot is a point-in-time copy of the raw counters.
type Snapshot struct {
	TotalEvents             uint64            `json:"total_events"`
	EventsByCategory        map[string]uint64 `json:"events_by_category"`
	EventsByPriority        map[string]uint64 `json:"events_by_priority"`
	FailedEvents            uint64            `json:"failed_events"`
	ThrottledEvents         uint64            `json:"throttled_events"`
	CacheHits               uint64            `json:"cache_hits"`
	CacheMisses             uint64            `json:"cache_misses"`
	BatchesProcessed        uint64            `json:"batches_processed"`
	AverageProcessingMillis float64           `json:"average_processing_ms"`
	UptimeSeconds           float64           `json:"uptime_seconds"`
}

// GetMetrics returns a snapshot of the raw counters.
func (a *Aggregator) GetMetrics() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	byCategory := make(map[string]uint64, len(a.eventsByCategory))
	for k, v := range a.eventsByCategory {
		byCategory[k] = v
	}
	byPriority := make(map[string]uint64, len(a.eventsByPriority))
	for k, v := range a.eventsByPriority {
		byPriority[k] = v
	}

	avgMs := 0.0
	if a.totalEvents > 0 {
		avgMs = float64(a.totalDuration.Milliseconds()) / float64(a.totalEvents)
	}

	return Snapshot{
		TotalEvents:             a.totalEvents,
		EventsByCategory:        byCategory,
		EventsByPriority:        byPriority,
		FailedEvents:            a.failedEvents,
		ThrottledEvents:         a.throttledEvents,
		CacheHits:               a.cacheHits,
		CacheMisses:             a.cacheMisses,
		BatchesProcessed:        a.batchesProcessed,
		AverageProcessingMillis: avgMs,
		UptimeSeconds:           time.Since(a.startTime).Seconds(),
	}
}

// Performance summarizes the sliding duration window.
type Performance struct {
	SampleCount int           `json:"sample_count"`
	Mean        time.Duration `json:"mean_ns"`
	P50         time.Duration `json:"p50_ns"`
	P95         time.Duration `json:"p95_ns"`
	P99         time.Duration `json:"p99_ns"`
	Fastest     time.Duration `json:"fastest_ns"`
	Slowest     time.Duration `json:"slowest_ns"`
}

// GetPerformanceMetrics computes mean and 50th/95th/99th percentiles over
// the last recorded durations (at most 1000). Percentile index is
// floor(n*p) into the ascending-sorted window, clamped to the last sample.
func (a *Aggregator) GetPerformanceMetrics() Performance {
	a.mu.Lock()
	samples := make([]time.Duration, a.count)
	if a.count < windowCapacity {
		copy(samples, a.window[:a.count])
	} else {
		// Ring is full; order doesn't matter since we sort.
		copy(samples, a.window[:])
	}
	a.mu.Unlock()

	n := len(samples)
	if n == 0 {
		return Performance{}
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	var total time.Duration
	for _, d := range samples {
		total += d
	}

	percentile := func(p float64) time.Duration {
		idx := int(float64(n) * p)
		if idx >= n {
			idx = n - 1
		}
		return samples[idx]
	}

	return Performance{
		SampleCount: n,
		Mean:        total / time.Duration(n),
		P50:         percentile(0.50),
		P95:         percentile(0.95),
		P99:         percentile(0.99),
		Fastest:     samples[0],
		Slowest:     samples[n-1],
	}
}

// HealthReport is the aggregator's derived health view.
type HealthReport struct {
	Status                  health.State `json:"status"`
	Issues                  []string     `json:"issues"`
	ErrorRate               float64      `json:"error_rate"`
	ThrottleRate            float64      `json:"throttle_rate"`
	CacheHitRate            float64      `json:"cache_hit_rate"`
	AverageProcessingMillis float64      `json:"average_processing_ms"`
	UptimeSeconds           float64      `json:"uptime_seconds"`
}

// GetHealthMetrics derives a discrete status from the counters. The status
// is the worst of all triggered conditions; issues lists the reasons in
// evaluation order. A cold cache is advisory only and never changes status.
func (a *Aggregator) GetHealthMetrics() HealthReport {
	snapshot := a.GetMetrics()

	report := HealthReport{
		Status:                  health.StateHealthy,
		Issues:                  []string{},
		AverageProcessingMillis: snapshot.AverageProcessingMillis,
		UptimeSeconds:           snapshot.UptimeSeconds,
	}

	if snapshot.TotalEvents > 0 {
		report.ErrorRate = float64(snapshot.FailedEvents) / float64(snapshot.TotalEvents) * 100
		report.ThrottleRate = float64(snapshot.ThrottledEvents) / float64(snapshot.TotalEvents) * 100
	}
	lookups := snapshot.CacheHits + snapshot.CacheMisses
	if lookups > 0 {
		report.CacheHitRate = float64(snapshot.CacheHits) / float64(lookups) * 100
	}

	switch {
	case report.ErrorRate > errorRateUnhealthy:
		report.Status = health.Worse(report.Status, health.StateUnhealthy)
		report.Issues = append(report.Issues,
			fmt.Sprintf("error rate %.1f%% exceeds %.0f%%", report.ErrorRate, errorRateUnhealthy))
	case report.ErrorRate > errorRateDegraded:
		report.Status = health.Worse(report.Status, health.StateDegraded)
		report.Issues = append(report.Issues,
			fmt.Sprintf("error rate %.1f%% exceeds %.0f%%", report.ErrorRate, errorRateDegraded))
	}

	if report.ThrottleRate > throttleRateDegraded {
		report.Status = health.Worse(report.Status, health.StateDegraded)
		report.Issues = append(report.Issues,
			fmt.Sprintf("throttle rate %.1f%% exceeds %.0f%%", report.ThrottleRate, throttleRateDegraded))
	}

	if lookups > cacheLookupsMinimum && report.CacheHitRate < cacheHitRateAdvisory {
		report.Issues = append(report.Issues,
			fmt.Sprintf("cache hit rate %.1f%% below %.0f%%", report.CacheHitRate, cacheHitRateAdvisory))
	}

	if report.AverageProcessingMillis > processingMsDegraded {
		report.Status = health.Worse(report.Status, health.StateDegraded)
		report.Issues = append(report.Issues,
			fmt.Sprintf("average processing time %.0fms exceeds %.0fms",
				report.AverageProcessingMillis, processingMsDegraded))
	}

	return report
}

// Reset zeroes all counters, clears the window, and restarts the uptime
// clock. Prometheus collectors are monotonic and are not reset.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.startTime = time.Now()
	a.totalEvents = 0
	a.failedEvents = 0
	a.throttledEvents = 0
	a.cacheHits = 0
	a.cacheMisses = 0
	a.batchesProcessed = 0
	a.eventsByCategory = make(map[string]uint64)
	a.eventsByPriority = make(map[string]uint64)
	a.totalDuration = 0
	a.next = 0
	a.count = 0
}
