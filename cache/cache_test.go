package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

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

// plainStore hides Update so the cache falls back to its own locking.
type plainStore struct {
	kv.Store
}

type failingStore struct{}

var errBackend = errors.New("backend down")

func (failingStore) Read(context.Context, string) (string, bool, error) { return "", false, errBackend }
func (failingStore) Write(context.Context, string, string) error        { return errBackend }
func (failingStore) Delete(context.Context, string) error               { return errBackend }

func TestCacheAddAndQuery(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	c := New(kv.NewMemory(), WithClock(clock.Now))

	if err := c.Add(ctx, "b", "one"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	clock.Advance(time.Millisecond)
	if err := c.Add(ctx, "b", "two"); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	got, err := c.Query(ctx, "b", Always, OlderThan(time.Hour))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("unexpected query result %v", got)
	}
}

func TestCacheTTLBoundary(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := kv.NewMemory()
	c := New(store, WithClock(clock.Now))

	_ = c.Add(ctx, "b", "v")

	clock.Advance(time.Hour)
	got, err := c.Query(ctx, "b", Always, OlderThan(time.Hour))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("entry aged exactly ttl must be kept, got %v", got)
	}

	clock.Advance(time.Millisecond)
	got, err = c.Query(ctx, "b", Always, OlderThan(time.Hour))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("entry aged ttl+1ms must be expired, got %v", got)
	}
	blob, _, _ := store.Read(ctx, "b")
	if blob != "{}" {
		t.Fatalf("expired entry must be purged from the blob, got %s", blob)
	}
}

func TestCacheQueryPersistsMissingBucket(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	c := New(store)

	got, err := c.Query(ctx, "empty", Always, OlderThan(time.Hour))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no values, got %v", got)
	}
	blob, ok, _ := store.Read(ctx, "empty")
	if !ok || blob != "{}" {
		t.Fatalf("expected persisted empty bucket, got %q ok=%v", blob, ok)
	}
}

func TestCacheRemoveByValue(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := kv.NewMemory()
	c := New(store, WithClock(clock.Now))

	for _, v := range []string{"a", "b", "a"} {
		_ = c.Add(ctx, "b", v)
		clock.Advance(time.Millisecond)
	}
	if err := c.RemoveByValue(ctx, "b", "a"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	got, _ := c.Query(ctx, "b", Always, Never)
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("expected only b, got %v", got)
	}

	before, _, _ := store.Read(ctx, "b")
	if err := c.RemoveByValue(ctx, "b", "absent"); err != nil {
		t.Fatalf("remove of absent value failed: %v", err)
	}
	after, _, _ := store.Read(ctx, "b")
	if before != after {
		t.Fatalf("removing absent value changed blob: %s -> %s", before, after)
	}
}

func TestCacheTakeRemovesMatch(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	c := New(kv.NewMemory(), WithClock(clock.Now))

	_ = c.Add(ctx, "n", "x")
	clock.Advance(time.Millisecond)
	_ = c.Add(ctx, "n", "y")

	taken, err := c.Take(ctx, "n", ValueEquals("x"), OlderThan(time.Hour))
	if err != nil {
		t.Fatalf("take failed: %v", err)
	}
	if len(taken) != 1 || taken[0] != "x" {
		t.Fatalf("expected [x], got %v", taken)
	}
	taken, _ = c.Take(ctx, "n", ValueEquals("x"), OlderThan(time.Hour))
	if len(taken) != 0 {
		t.Fatalf("second take must miss, got %v", taken)
	}
	rest, _ := c.Entries(ctx, "n")
	if len(rest) != 1 || rest[0].Value != "y" {
		t.Fatalf("unexpected remaining entries %+v", rest)
	}
}

func TestCacheTakeDoesNotReturnExpired(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	var purged int
	c := New(kv.NewMemory(), WithClock(clock.Now), WithPurgeHook(func(_ string, n int) { purged += n }))

	_ = c.Add(ctx, "n", "x")
	clock.Advance(time.Hour + time.Millisecond)

	taken, err := c.Take(ctx, "n", ValueEquals("x"), OlderThan(time.Hour))
	if err != nil {
		t.Fatalf("take failed: %v", err)
	}
	if len(taken) != 0 {
		t.Fatalf("expired entry must not be taken, got %v", taken)
	}
	if purged != 1 {
		t.Fatalf("expected purge hook to report 1, got %d", purged)
	}
}

func TestCacheSameMillisecondCollision(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	c := New(kv.NewMemory(), WithClock(clock.Now))

	_ = c.Add(ctx, "s", "first")
	_ = c.Add(ctx, "s", "second")

	got, err := c.Query(ctx, "s", Always, OlderThan(time.Hour))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("both values must survive a collision, got %v", got)
	}
}

func TestCacheHealsMalformedBucket(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	_ = store.Write(ctx, "s", "{not json")

	core, logs := observer.New(zapcore.WarnLevel)
	var malformed int
	c := New(store,
		WithLogger(zap.New(core)),
		WithMalformedHook(func(string) { malformed++ }),
	)

	if err := c.Add(ctx, "s", "fresh"); err != nil {
		t.Fatalf("add over malformed blob failed: %v", err)
	}
	if logs.FilterMessage("discarding malformed bucket").Len() != 1 {
		t.Fatalf("expected one malformed warning, got %v", logs.All())
	}
	if malformed != 1 {
		t.Fatalf("expected malformed hook once, got %d", malformed)
	}

	entries, err := c.Entries(ctx, "s")
	if err != nil {
		t.Fatalf("entries failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Value != "fresh" {
		t.Fatalf("bucket not healed: %+v", entries)
	}
}

func TestCacheDropsInvalidEntriesOnRewrite(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	_ = store.Write(ctx, "s", `{"NaN":"ghost","1700000000000":"live"}`)

	core, logs := observer.New(zapcore.WarnLevel)
	c := New(store, WithLogger(zap.New(core)), WithClock(newTestClock().Now))

	got, err := c.Query(ctx, "s", Always, OlderThan(time.Hour))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 1 || got[0] != "live" {
		t.Fatalf("invalid entry leaked: %v", got)
	}
	if logs.FilterMessage("skipping invalid bucket entries").Len() != 1 {
		t.Fatalf("expected invalid-entry warning, got %v", logs.All())
	}
	blob, _, _ := store.Read(ctx, "s")
	if blob != `{"1700000000000":"live"}` {
		t.Fatalf("invalid entry not dropped: %s", blob)
	}
}

func TestCacheStoreFailureIsWrapped(t *testing.T) {
	c := New(failingStore{})

	err := c.Add(context.Background(), "b", "v")
	if !errors.Is(err, ErrStoreUnavailable) || !errors.Is(err, errBackend) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
	if _, err := c.Entries(context.Background(), "b"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from Entries, got %v", err)
	}
}

func TestCacheAtomicDetection(t *testing.T) {
	if !New(kv.NewMemory()).Atomic() {
		t.Fatal("memory store must be used through its updater")
	}
	if New(plainStore{kv.NewMemory()}).Atomic() {
		t.Fatal("plain store must fall back to cache locking")
	}
}

func TestCacheConcurrentAddsNoLostUpdates(t *testing.T) {
	stores := map[string]kv.Store{
		"updater": kv.NewMemory(),
		"mutex":   plainStore{kv.NewMemory()},
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			assertConcurrentAdds(t, []*Cache{New(store)})
		})
	}
}

func TestCacheConcurrentAddsAcrossInstancesRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	var caches []*Cache
	for i := 0; i < 2; i++ {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		caches = append(caches, New(kv.NewRedis(rdb, kv.RedisConfig{})))
	}
	assertConcurrentAdds(t, caches)
}

func assertConcurrentAdds(t *testing.T, caches []*Cache) {
	t.Helper()
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		c := caches[i%len(caches)]
		value := "state-" + strconv.Itoa(i)
		go func() {
			defer wg.Done()
			errs <- c.Add(ctx, "states", value)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent add failed: %v", err)
		}
	}

	got, err := caches[0].Query(ctx, "states", Always, OlderThan(time.Hour))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != n {
		t.Fatalf("expected %d values, got %d", n, len(got))
	}
}

func BenchmarkCacheAddQuery(b *testing.B) {
	ctx := context.Background()
	c := New(kv.NewMemory())
	for i := 0; i < b.N; i++ {
		_ = c.Add(ctx, "bench", "v")
		if i%64 == 0 {
			_, _ = c.Query(ctx, "bench", Never, Always)
		}
	}
}
