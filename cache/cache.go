package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/oidcguard/kv"
)

// DefaultTTL is the lifetime applied by [OlderThan] callers that do not
// configure their own.
const DefaultTTL = time.Hour

// ErrStoreUnavailable wraps failures of the underlying store, including
// [kv.ErrConflict] when an optimistic update runs out of retries.
var ErrStoreUnavailable = errors.New("cache store unavailable")

// Predicate decides on an entry from its age and value.
type Predicate func(age time.Duration, value string) bool

// OlderThan returns a predicate that is true when age exceeds ttl. An entry
// exactly ttl old is still live.
func OlderThan(ttl time.Duration) Predicate {
	return func(age time.Duration, _ string) bool {
		return age > ttl
	}
}

// Always matches every entry.
func Always(time.Duration, string) bool { return true }

// Never matches no entry.
func Never(time.Duration, string) bool { return false }

// ValueEquals matches entries holding exactly value, regardless of age.
func ValueEquals(value string) Predicate {
	return func(_ time.Duration, v string) bool {
		return v == value
	}
}

// Option configures a [Cache].
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger used for recovered anomalies.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPurgeHook registers fn to run after a successful Query or Take that
// purged entries through its expire predicate.
func WithPurgeHook(fn func(bucket string, purged int)) Option {
	return func(c *Cache) { c.onPurge = fn }
}

// WithMalformedHook registers fn to run after a mutation that discarded an
// undecodable blob or skipped invalid slots.
func WithMalformedHook(fn func(bucket string)) Option {
	return func(c *Cache) { c.onMalformed = fn }
}

// Cache is safe for concurrent use.
type Cache struct {
	store   kv.Store
	updater kv.Updater

	now         func() time.Time
	logger      *zap.Logger
	onPurge     func(string, int)
	onMalformed func(string)

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds a cache over store. When store implements [kv.Updater] every
// mutation runs through it.
func New(store kv.Store, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		now:    time.Now,
		logger: zap.NewNop(),
		locks:  make(map[string]*sync.Mutex),
	}
	if u, ok := store.(kv.Updater); ok {
		c.updater = u
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Atomic reports whether mutations are delegated to the store's Updater.
func (c *Cache) Atomic() bool {
	return c.updater != nil
}

// Add stores value under the current timestamp.
func (c *Cache) Add(ctx context.Context, bucket, value string) error {
	_, err := c.mutate(ctx, bucket, func(entries []Entry, now time.Time) ([]Entry, []string, int) {
		return insert(entries, now, value), nil, 0
	})
	return err
}

// Query evaluates expire and then keep for every entry. Entries for which
// expire is true are deleted and never returned; of the rest, those for which
// keep is true are returned. The bucket is written back even when nothing
// changed. Result order follows insertion time.
func (c *Cache) Query(ctx context.Context, bucket string, keep, expire Predicate) ([]string, error) {
	return c.filter(ctx, bucket, keep, expire, true)
}

// RemoveByValue deletes every entry holding value. Removing an absent value is
// not an error.
func (c *Cache) RemoveByValue(ctx context.Context, bucket, value string) error {
	_, err := c.filter(ctx, bucket, Never, ValueEquals(value), false)
	return err
}

// Take purges entries for which expire is true, then removes and returns every
// remaining entry for which match is true, in one read-modify-write cycle.
func (c *Cache) Take(ctx context.Context, bucket string, match, expire Predicate) ([]string, error) {
	return c.mutate(ctx, bucket, func(entries []Entry, now time.Time) ([]Entry, []string, int) {
		kept := entries[:0]
		var taken []string
		purged := 0
		for _, e := range entries {
			age := e.Age(now)
			switch {
			case expire != nil && expire(age, e.Value):
				purged++
			case match != nil && match(age, e.Value):
				taken = append(taken, e.Value)
			default:
				kept = append(kept, e)
			}
		}
		return kept, taken, purged
	})
}

// Entries returns the decoded bucket without purging or writing.
func (c *Cache) Entries(ctx context.Context, bucket string) ([]Entry, error) {
	blob, ok, err := c.store.Read(ctx, bucket)
	if err != nil {
		return nil, storeErr(err)
	}
	entries, _ := c.decode(bucket, blob, ok)
	return entries, nil
}

func (c *Cache) filter(ctx context.Context, bucket string, keep, expire Predicate, report bool) ([]string, error) {
	return c.mutateReport(ctx, bucket, report, func(entries []Entry, now time.Time) ([]Entry, []string, int) {
		kept := entries[:0]
		var out []string
		purged := 0
		for _, e := range entries {
			age := e.Age(now)
			if expire != nil && expire(age, e.Value) {
				purged++
				continue
			}
			if keep != nil && keep(age, e.Value) {
				out = append(out, e.Value)
			}
			kept = append(kept, e)
		}
		return kept, out, purged
	})
}

// transform receives the decoded entries and the cycle's clock reading. It
// returns the entries to persist, the values to hand back to the caller, and
// how many entries were purged. It may run more than once when the store
// retries an optimistic update, so it must not capture state across calls.
type transform func(entries []Entry, now time.Time) (next []Entry, out []string, purged int)

func (c *Cache) mutate(ctx context.Context, bucket string, fn transform) ([]string, error) {
	return c.mutateReport(ctx, bucket, true, fn)
}

func (c *Cache) mutateReport(ctx context.Context, bucket string, report bool, fn transform) ([]string, error) {
	var (
		out       []string
		purged    int
		malformed bool
	)
	apply := func(current string, ok bool) (string, error) {
		entries, bad := c.decode(bucket, current, ok)
		var next []Entry
		next, out, purged = fn(entries, c.now())
		malformed = bad
		return Encode(next)
	}

	if c.updater != nil {
		if err := c.updater.Update(ctx, bucket, apply); err != nil {
			return nil, storeErr(err)
		}
	} else {
		mu := c.lockFor(bucket)
		mu.Lock()
		current, ok, err := c.store.Read(ctx, bucket)
		if err == nil {
			var next string
			next, err = apply(current, ok)
			if err == nil {
				err = c.store.Write(ctx, bucket, next)
			}
		}
		mu.Unlock()
		if err != nil {
			return nil, storeErr(err)
		}
	}

	if malformed && c.onMalformed != nil {
		c.onMalformed(bucket)
	}
	if report && purged > 0 && c.onPurge != nil {
		c.onPurge(bucket, purged)
	}
	return out, nil
}

// decode never fails: an undecodable blob is logged and treated as empty.
func (c *Cache) decode(bucket, blob string, ok bool) ([]Entry, bool) {
	if !ok {
		return nil, false
	}
	b, err := Decode(blob)
	if err != nil {
		c.logger.Warn("discarding malformed bucket",
			zap.String("bucket", bucket),
			zap.Int("bytes", len(blob)),
			zap.Error(err),
		)
		return nil, true
	}
	if b.Invalid > 0 {
		c.logger.Warn("skipping invalid bucket entries",
			zap.String("bucket", bucket),
			zap.Int("invalid", b.Invalid),
		)
		return b.Entries, true
	}
	return b.Entries, false
}

func (c *Cache) lockFor(bucket string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()

	mu, ok := c.locks[bucket]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[bucket] = mu
	}
	return mu
}

func storeErr(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
