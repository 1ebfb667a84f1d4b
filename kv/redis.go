package kv

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisMaxRetries   = 64
	defaultRedisRetryBackoff = time.Millisecond
	defaultRedisMaxBackoff   = 50 * time.Millisecond
)

// ErrRedisUnavailable wraps transport and command failures from Redis.
var ErrRedisUnavailable = errors.New("kv redis unavailable")

// RedisConfig tunes the [Redis] adapter.
type RedisConfig struct {
	// Prefix is prepended to every key as "<prefix>:<key>". Empty means no prefix.
	Prefix string
	// SlotTTL, when > 0, is applied on every write so abandoned buckets age out
	// of Redis. It must exceed the longest bucket entry TTL.
	SlotTTL time.Duration
	// MaxRetries bounds WATCH/MULTI retries in Update. Defaults to 64.
	MaxRetries int
	// RetryBackoff is the base wait after a failed transaction. It doubles per
	// attempt up to MaxRetryBackoff and is jittered. Defaults to 1ms and 50ms.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

// Redis stores values in Redis strings.
type Redis struct {
	redis      redis.UniversalClient
	prefix     string
	slotTTL    time.Duration
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
}

// NewRedis wraps an existing client. The adapter does not own the client and
// never closes it.
func NewRedis(client redis.UniversalClient, cfg RedisConfig) *Redis {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultRedisMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRedisRetryBackoff
	}
	if cfg.MaxRetryBackoff < cfg.RetryBackoff {
		cfg.MaxRetryBackoff = max(defaultRedisMaxBackoff, cfg.RetryBackoff)
	}
	return &Redis{
		redis:      client,
		prefix:     cfg.Prefix,
		slotTTL:    cfg.SlotTTL,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		maxBackoff: cfg.MaxRetryBackoff,
	}
}

func (r *Redis) key(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

func (r *Redis) Read(ctx context.Context, key string) (string, bool, error) {
	value, err := r.redis.Get(ctx, r.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return value, true, nil
}

func (r *Redis) Write(ctx context.Context, key, value string) error {
	if err := r.redis.Set(ctx, r.key(key), value, r.slotTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.redis.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// abortedUpdate carries an error returned by the caller's UpdateFunc through
// the WATCH callback so it is not mistaken for a Redis failure.
type abortedUpdate struct {
	err error
}

func (a abortedUpdate) Error() string { return a.err.Error() }

// Update uses WATCH/MULTI: the transaction fails if another client touched the
// key between GET and EXEC, and the cycle is retried up to MaxRetries times
// with jittered exponential backoff.
func (r *Redis) Update(ctx context.Context, key string, fn UpdateFunc) error {
	k := r.key(key)

	for i := 0; i < r.maxRetries; i++ {
		err := r.redis.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, k).Result()
			ok := true
			if err != nil {
				if !errors.Is(err, redis.Nil) {
					return err
				}
				current, ok = "", false
			}

			next, err := fn(current, ok)
			if err != nil {
				return abortedUpdate{err: err}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, k, next, r.slotTTL)
				return nil
			})
			return err
		}, k)

		if errors.Is(err, redis.TxFailedErr) {
			if err := r.wait(ctx, i); err != nil {
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			continue
		}
		if err != nil {
			var aborted abortedUpdate
			if errors.As(err, &aborted) {
				return aborted.err
			}
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return nil
	}

	return ErrConflict
}

// retryDelay is a full-jitter wait in [backoff/2, d] where d doubles per
// attempt and is capped at maxBackoff.
func (r *Redis) retryDelay(attempt int) time.Duration {
	d := r.backoff
	for i := 0; i < attempt && d < r.maxBackoff; i++ {
		d *= 2
	}
	d = min(d, r.maxBackoff)
	half := d / 2
	return half + rand.N(d-half+1)
}

func (r *Redis) wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(r.retryDelay(attempt))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
