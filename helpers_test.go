package oidcguard

import (
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/oidcguard/kv"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func newTestSQLite(t *testing.T) *kv.SQL {
	t.Helper()

	store, err := kv.OpenSQL(t.Context(), kv.DialectSQLite, ":memory:")
	if err != nil {
		t.Fatalf("OpenSQL failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type guardOption func(*Builder)

func withTestAudit(sink AuditSink) guardOption {
	return func(b *Builder) {
		b.config.Audit.Enabled = true
		b.config.Audit.BufferSize = 256
		b.config.Audit.DropIfFull = false
		b.WithAuditSink(sink)
	}
}

func newTestGuard(t *testing.T, store kv.Store, opts ...guardOption) (*Guard, *testClock) {
	t.Helper()

	clock := newTestClock()
	b := New().
		WithStore(store).
		WithClock(clock.Now).
		WithMetricsEnabled(true).
		WithLatencyHistograms(true)
	for _, opt := range opts {
		opt(b)
	}

	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(g.Close)
	return g, clock
}

// plainStore hides kv.Updater.
type plainStore struct {
	kv.Store
}
