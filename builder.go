package oidcguard

import (
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/oidcguard/cache"
	"github.com/MrEthical07/oidcguard/internal"
	"github.com/MrEthical07/oidcguard/internal/audit"
	"github.com/MrEthical07/oidcguard/kv"
)

// Builder defines a public type used by oidcguard APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	store  kv.Store
	logger *zap.Logger

	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New describes the new operation and its observable behavior.
//
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration. Start from [DefaultConfig].
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the key-value store. A store that also implements
// kv.Updater makes bucket updates atomic across processes.
func (b *Builder) WithStore(store kv.Store) *Builder {
	b.store = store
	return b
}

// WithLogger describes the withlogger operation and its observable behavior.
//
// WithLogger does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock replaces time.Now for TTL evaluation and audit timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation or dependency checks fail.
// A Builder can be built once.
func (b *Builder) Build() (*Guard, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.store == nil {
		return nil, ErrStoreRequired
	}
	if _, ok := b.store.(kv.Updater); !ok && cfg.requireAtomic() {
		return nil, ErrAtomicStoreRequired
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	g := &Guard{
		config:      cfg,
		store:       b.store,
		logger:      logger,
		now:         now,
		newValue:    internal.NewRandomValue,
		nonceBucket: cfg.Storage.KeyPrefix + cfg.Buckets.Nonce,
		stateBucket: cfg.Storage.KeyPrefix + cfg.Buckets.State,
	}

	// -------- BUCKET CACHE --------
	g.cache = cache.New(b.store,
		cache.WithClock(now),
		cache.WithLogger(logger.Named("cache")),
		cache.WithPurgeHook(func(_ string, purged int) {
			g.metricAdd(MetricEntriesExpired, purged)
		}),
		cache.WithMalformedHook(func(string) {
			g.metricInc(MetricBucketMalformed)
		}),
	)
	if !g.cache.Atomic() {
		logger.Warn("store does not implement kv.Updater; bucket updates are serialised in process only")
	}

	g.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	g.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return g, nil
}
