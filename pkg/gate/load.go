package gate

import (
	"sync"
	"time"
)

// LoadStats holds a snapshot of evaluation throughput.
type LoadStats struct {
	TotalEvaluations int64
	SmoothedPerSec   float64
	LoadFactor       float64
}

// LoadMonitor converts observed evaluation throughput into the [0, 1]
// load factor that Adjust consumes, so callers can drive the window from
// measured load instead of guessing a number. It buckets evaluations per
// second and smooths the rate with an exponential moving average: one
// busy second should nudge the window, not slam it shut.
//
// LoadFactor is SmoothedPerSec / capacity, capped at 1.0: a monitor
// configured with capacity 100 reports 0.5 when the smoothed rate is 50
// evaluations per second.
//
// Thread safety: all methods are safe for concurrent use.
type LoadMonitor struct {
	mu sync.Mutex

	capacityPerSec float64
	alpha          float64

	bucketStart time.Time
	bucketCount int64

	smoothedRate float64
	seeded       bool
	total        int64
}

// NewLoadMonitor creates a monitor that treats capacityPerSec evaluations
// per second as saturation. Non-positive capacities fall back to 100.
func NewLoadMonitor(capacityPerSec float64) *LoadMonitor {
	if capacityPerSec <= 0 {
		capacityPerSec = 100
	}
	return &LoadMonitor{
		capacityPerSec: capacityPerSec,
		alpha:          0.3, // favor history over single-bucket spikes
		bucketStart:    time.Now().Truncate(time.Second),
	}
}

// RecordEvaluation counts one evaluation at the current time.
func (m *LoadMonitor) RecordEvaluation() {
	m.RecordEvaluationAt(time.Now())
}

// RecordEvaluationAt counts one evaluation at a specific time.
func (m *LoadMonitor) RecordEvaluationAt(ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++

	bucket := ts.Truncate(time.Second)
	if bucket.After(m.bucketStart) {
		m.flushBucketLocked(bucket)
	}
	m.bucketCount++
}

// flushBucketLocked folds the completed bucket into the smoothed rate.
// Empty intermediate seconds decay the rate toward zero. Seeding waits
// for the first non-empty bucket so an idle stretch before the first
// evaluation does not anchor the average at zero.
func (m *LoadMonitor) flushBucketLocked(next time.Time) {
	gapSeconds := int(next.Sub(m.bucketStart).Seconds())
	rate := float64(m.bucketCount)

	switch {
	case !m.seeded && rate == 0:
	case !m.seeded:
		m.smoothedRate = rate
		m.seeded = true
	default:
		m.smoothedRate = m.alpha*rate + (1-m.alpha)*m.smoothedRate
	}

	// Each silent second between buckets is a zero observation.
	if m.seeded {
		for i := 1; i < gapSeconds; i++ {
			m.smoothedRate = (1 - m.alpha) * m.smoothedRate
		}
	}

	m.bucketStart = next
	m.bucketCount = 0
}

// LoadFactor returns the current [0, 1] load, suitable for Adjust.
func (m *LoadMonitor) LoadFactor() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	factor := m.smoothedRate / m.capacityPerSec
	if factor > 1 {
		factor = 1
	}
	if factor < 0 {
		factor = 0
	}
	return factor
}

// Stats returns a throughput snapshot.
func (m *LoadMonitor) Stats() LoadStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	factor := m.smoothedRate / m.capacityPerSec
	if factor > 1 {
		factor = 1
	}
	return LoadStats{
		TotalEvaluations: m.total,
		SmoothedPerSec:   m.smoothedRate,
		LoadFactor:       factor,
	}
}

// Reset clears all throughput data.
func (m *LoadMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bucketStart = time.Now().Truncate(time.Second)
	m.bucketCount = 0
	m.smoothedRate = 0
	m.seeded = false
	m.total = 0
}
