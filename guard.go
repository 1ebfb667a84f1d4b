package oidcguard

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/MrEthical07/oidcguard/cache"
	"github.com/MrEthical07/oidcguard/internal/audit"
	"github.com/MrEthical07/oidcguard/kv"
)

// Guard tracks nonces and authorization states for an OIDC client and gives
// pass-through access to the client's token storage.
//
// Guard methods are safe to call from multiple goroutines after [Builder.Build].
type Guard struct {
	config Config

	store  kv.Store
	cache  *cache.Cache
	logger *zap.Logger

	audit   *audit.Dispatcher
	metrics *Metrics

	now      func() time.Time
	newValue func(n int) (string, error)

	nonceBucket string
	stateBucket string

	closed atomic.Bool
}

// Close stops the audit dispatcher after draining queued events. The store and
// the logger belong to the caller and are neither closed nor synced.
func (g *Guard) Close() {
	if g == nil {
		return
	}
	if g.closed.Swap(true) {
		return
	}
	if g.audit != nil {
		g.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (g *Guard) AuditDropped() uint64 {
	if g == nil || g.audit == nil {
		return 0
	}
	return g.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (g *Guard) MetricsSnapshot() MetricsSnapshot {
	if g == nil || g.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return g.metrics.Snapshot()
}

// Config returns a copy of the configuration the guard was built with.
func (g *Guard) Config() Config {
	if g == nil {
		return Config{}
	}
	return g.config
}

// Atomic reports whether bucket updates are atomic across processes, which
// holds when the store implements kv.Updater.
func (g *Guard) Atomic() bool {
	return g != nil && g.cache.Atomic()
}

func (g *Guard) ready() error {
	if g == nil || g.closed.Load() {
		return ErrGuardNotReady
	}
	return nil
}

func (g *Guard) metricInc(id MetricID) {
	if g == nil || g.metrics == nil {
		return
	}
	g.metrics.Inc(id)
}

func (g *Guard) metricAdd(id MetricID, n int) {
	if g == nil || g.metrics == nil || n <= 0 {
		return
	}
	g.metrics.Add(id, uint64(n))
}

func (g *Guard) metricObserve(id MetricID, start time.Time) {
	if g == nil || !g.metrics.LatencyEnabled() {
		return
	}
	g.metrics.Observe(id, time.Since(start))
}

// key maps a storage name to its store key.
func (g *Guard) key(name string) string {
	return g.config.Storage.KeyPrefix + name
}

// storageErr normalises a store failure to ErrStorageUnavailable, counts it,
// and logs it.
func (g *Guard) storageErr(op, key string, err error) error {
	g.metricInc(MetricStorageFailure)
	g.logger.Error("storage operation failed",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err),
	)
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

// validValue reports whether value can be stored and read back unchanged.
// Bucket entries are JSON strings, and encoding/json rewrites invalid UTF-8 to
// U+FFFD, which would make the stored value differ from the issued one.
func validValue(value string) bool {
	return value != "" && utf8.ValidString(value)
}

func (g *Guard) generate(n int) (string, error) {
	v, err := g.newValue(n)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRandomUnavailable, err)
	}
	return v, nil
}
