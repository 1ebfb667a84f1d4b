package oidcguard

import (
	"sync/atomic"
	"time"
)

// MetricID defines a public type used by oidcguard APIs.
//
// MetricID instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricID uint16

const (
	// MetricNonceIssued counts nonces stored by IssueNonce and NewNonce.
	MetricNonceIssued MetricID = iota
	// MetricNonceConsumed counts ConsumeNonce calls that found a live nonce.
	MetricNonceConsumed
	// MetricNonceRejected counts ConsumeNonce calls that found nothing.
	MetricNonceRejected
	// MetricStateAdded counts states stored by AddState and NewState.
	MetricStateAdded
	// MetricStateRemoved counts RemoveState calls.
	MetricStateRemoved
	// MetricStateListed counts ListActiveStates calls.
	MetricStateListed
	// MetricStateValidated counts ValidateState calls that found the state.
	MetricStateValidated
	// MetricStateRejected counts ValidateState calls that did not.
	MetricStateRejected
	// MetricEntriesExpired counts entries purged for exceeding their TTL.
	MetricEntriesExpired
	// MetricBucketMalformed counts mutations that discarded undecodable data.
	MetricBucketMalformed
	// MetricStorageFailure counts operations that failed in the store.
	MetricStorageFailure
	// MetricStorageReset counts ResetAll calls that cleared storage.
	MetricStorageReset
	// MetricConsumeLatency is the ConsumeNonce latency histogram.
	MetricConsumeLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
	// sumNanos is the total observed duration.
	sumNanos uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters and one latency histogram.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot defines a public type used by oidcguard APIs.
//
// MetricsSnapshot instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
	// HistogramSums holds the total observed duration per histogram.
	HistogramSums map[MetricID]time.Duration
}

// NewMetrics describes the newmetrics operation and its observable behavior.
//
// NewMetrics does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
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

// Inc increments id. Unknown ids and disabled metrics are ignored.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add increments id by n.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records d in the histogram for id. Only MetricConsumeLatency has a
// histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id != MetricConsumeLatency {
		return
	}

	if d < 0 {
		d = 0
	}
	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
	atomic.AddUint64(&m.histograms[id].sumNanos, uint64(d))
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot describes the snapshot operation and its observable behavior.
//
// Snapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]time.Duration{},
		}
	}

	s := MetricsSnapshot{
		Counters:      make(map[MetricID]uint64, int(metricIDCount)),
		Histograms:    make(map[MetricID][]uint64, 1),
		HistogramSums: make(map[MetricID]time.Duration, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricConsumeLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricConsumeLatency].buckets[i])
		}
		s.Histograms[MetricConsumeLatency] = buckets
		s.HistogramSums[MetricConsumeLatency] = time.Duration(atomic.LoadUint64(&m.histograms[MetricConsumeLatency].sumNanos))
	}

	return s
}

// Store round-trips dominate consume latency, so the buckets are in
// milliseconds from 1ms up.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 1:
		return 0
	case ms <= 2:
		return 1
	case ms <= 5:
		return 2
	case ms <= 10:
		return 3
	case ms <= 25:
		return 4
	case ms <= 50:
		return 5
	case ms <= 100:
		return 6
	default:
		return 7
	}
}
