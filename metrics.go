package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies an in-process counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLockedOut
	MetricLoginBanned
	MetricLimiterFailOpen
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricReplayDetected
	MetricAuthorizeSuccess
	MetricAuthorizeRejected
	MetricAuthorizeRevoked
	MetricAuthorizeBackendError
	MetricSessionCreated
	MetricSessionEnded
	MetricLogout
	MetricLogoutAll
	MetricUserBanned
	MetricCSRFRejected
	MetricCacheUnavailable
	MetricAuthorizeLatency
	MetricLoginLatency
	MetricRefreshLatency
	metricIDCount
)

// HistogramBuckets are the upper bounds of the latency histogram buckets.
// The last bucket is unbounded.
var HistogramBuckets = [histBucketCount - 1]time.Duration{
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
	sumNS   uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters and latency histograms. A nil or
// disabled Metrics ignores every write.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// Histogram is a non-cumulative bucket snapshot.
type Histogram struct {
	Buckets [histBucketCount]uint64
	Sum     time.Duration
}

// Count returns the number of observations.
func (h Histogram) Count() uint64 {
	var n uint64
	for _, b := range h.Buckets {
		n += b
	}
	return n
}

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID]Histogram
}

// NewMetrics returns a Metrics configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the histogram for id. Only the latency ids carry
// histograms.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || !isLatencyMetric(id) {
		return
	}
	h := &m.histograms[id]
	atomic.AddUint64(&h.buckets[bucketIndex(d)], 1)
	if d > 0 {
		atomic.AddUint64(&h.sumNS, uint64(d))
	}
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID]Histogram{},
	}
	if m == nil || !m.enabled {
		return s
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if isLatencyMetric(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range latencyMetrics {
			var h Histogram
			for i := range h.Buckets {
				h.Buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			h.Sum = time.Duration(atomic.LoadUint64(&m.histograms[id].sumNS))
			s.Histograms[id] = h
		}
	}
	return s
}

var latencyMetrics = [...]MetricID{MetricAuthorizeLatency, MetricLoginLatency, MetricRefreshLatency}

func isLatencyMetric(id MetricID) bool {
	return id == MetricAuthorizeLatency || id == MetricLoginLatency || id == MetricRefreshLatency
}

func bucketIndex(d time.Duration) int {
	for i, bound := range HistogramBuckets {
		if d <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
