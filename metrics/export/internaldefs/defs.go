package internaldefs

import (
	"github.com/MrEthical07/oidcguard"
)

// Prefix is prepended to every exported metric name.
const Prefix = "oidcguard_"

// CounterDef names one counter in the guard's snapshot.
type CounterDef struct {
	ID   oidcguard.MetricID
	Name string
	Help string
}

// HistogramDef names one histogram in the guard's snapshot.
type HistogramDef struct {
	ID   oidcguard.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: oidcguard.MetricNonceIssued, Name: Prefix + "nonce_issued_total", Help: "Nonces issued."},
	{ID: oidcguard.MetricNonceConsumed, Name: Prefix + "nonce_consumed_total", Help: "Nonces consumed successfully."},
	{ID: oidcguard.MetricNonceRejected, Name: Prefix + "nonce_rejected_total", Help: "Nonce checks that found no live nonce."},
	{ID: oidcguard.MetricStateAdded, Name: Prefix + "state_added_total", Help: "Authorization states added."},
	{ID: oidcguard.MetricStateRemoved, Name: Prefix + "state_removed_total", Help: "Authorization states released."},
	{ID: oidcguard.MetricStateListed, Name: Prefix + "state_listed_total", Help: "Active state listings."},
	{ID: oidcguard.MetricStateValidated, Name: Prefix + "state_validated_total", Help: "State checks that found the state."},
	{ID: oidcguard.MetricStateRejected, Name: Prefix + "state_rejected_total", Help: "State checks that did not find the state."},
	{ID: oidcguard.MetricEntriesExpired, Name: Prefix + "entries_expired_total", Help: "Bucket entries purged after their TTL."},
	{ID: oidcguard.MetricBucketMalformed, Name: Prefix + "bucket_malformed_total", Help: "Bucket updates that discarded undecodable data."},
	{ID: oidcguard.MetricStorageFailure, Name: Prefix + "storage_failure_total", Help: "Operations that failed in the key-value store."},
	{ID: oidcguard.MetricStorageReset, Name: Prefix + "storage_reset_total", Help: "Token storage resets."},
}

var HistogramDefs = []HistogramDef{
	{ID: oidcguard.MetricConsumeLatency, Name: Prefix + "consume_latency_seconds", Help: "Nonce consume latency histogram."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = Prefix + "audit_dropped_total"

const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

// HistogramBounds are the upper bounds, in seconds, matching the guard's
// bucket layout.
var HistogramBounds = []string{
	"0.001",
	"0.002",
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"+Inf",
}

// HistogramBoundValues are HistogramBounds without the +Inf bucket.
var HistogramBoundValues = []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1}

var HistogramBoundSuffix = []string{
	"0_001",
	"0_002",
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
