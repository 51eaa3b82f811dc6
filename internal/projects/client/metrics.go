package client

import (
	"sync/atomic"
	"time"
)

// Metrics tracks upstream call metrics
type Metrics struct {
	calls         int64
	errors        int64
	latency       int64 // Total latency in nanoseconds
	rateLimitHits int64
	retries       int64
	abandoned     int64
}

var globalMetrics = &Metrics{}

// GetMetrics returns the current metrics snapshot
func GetMetrics() Metrics {
	return Metrics{
		calls:         atomic.LoadInt64(&globalMetrics.calls),
		errors:        atomic.LoadInt64(&globalMetrics.errors),
		latency:       atomic.LoadInt64(&globalMetrics.latency),
		rateLimitHits: atomic.LoadInt64(&globalMetrics.rateLimitHits),
		retries:       atomic.LoadInt64(&globalMetrics.retries),
		abandoned:     atomic.LoadInt64(&globalMetrics.abandoned),
	}
}

// ResetMetrics resets all metrics (useful for testing)
func ResetMetrics() {
	atomic.StoreInt64(&globalMetrics.calls, 0)
	atomic.StoreInt64(&globalMetrics.errors, 0)
	atomic.StoreInt64(&globalMetrics.latency, 0)
	atomic.StoreInt64(&globalMetrics.rateLimitHits, 0)
	atomic.StoreInt64(&globalMetrics.retries, 0)
	atomic.StoreInt64(&globalMetrics.abandoned, 0)
}

func recordCall(duration time.Duration, err error) {
	atomic.AddInt64(&globalMetrics.calls, 1)
	atomic.AddInt64(&globalMetrics.latency, duration.Nanoseconds())
	if err != nil {
		atomic.AddInt64(&globalMetrics.errors, 1)
	}
}

func recordRateLimit()   { atomic.AddInt64(&globalMetrics.rateLimitHits, 1) }
func recordRetry()       { atomic.AddInt64(&globalMetrics.retries, 1) }
func recordAbandonment() { atomic.AddInt64(&globalMetrics.abandoned, 1) }

// Retries returns how many rate-limit retries have been scheduled.
func (m Metrics) Retries() int64 { return m.retries }

// Abandoned returns how many requests were given up after exhausting retries.
func (m Metrics) Abandoned() int64 { return m.abandoned }

// AverageLatency returns the average upstream latency in milliseconds
func (m Metrics) AverageLatency() float64 {
	if m.calls == 0 {
		return 0
	}
	avgNs := float64(m.latency) / float64(m.calls)
	return avgNs / 1e6
}

// ErrorRate returns the error rate as a percentage
func (m Metrics) ErrorRate() float64 {
	if m.calls == 0 {
		return 0
	}
	return float64(m.errors) / float64(m.calls) * 100
}
