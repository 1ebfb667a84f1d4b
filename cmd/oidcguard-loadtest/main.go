package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/oidcguard"
	"github.com/MrEthical07/oidcguard/kv"
)

func main() {
	var (
		backend     = flag.String("backend", "redis", "store backend: memory, redis, sqlite or postgres")
		nonces      = flag.Int("nonces", 2000, "number of nonces to issue and consume")
		replays     = flag.Int("replays", 2, "extra consume attempts per nonce, all of which must fail")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		dsn         = flag.String("dsn", "", "sqlite path or postgres DSN for the sql backends")
		prefix      = flag.String("prefix", "oidc", "key prefix")
		verbose     = flag.Bool("v", false, "development logging")
	)
	flag.Parse()

	if *nonces <= 0 || *concurrency <= 0 || *replays < 0 {
		fmt.Fprintln(os.Stderr, "nonces and concurrency must be > 0, replays must be >= 0")
		os.Exit(2)
	}

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
			os.Exit(1)
		}
		logger = l
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	store, cleanup, err := openStore(ctx, *backend, *redisAddr, *dsn, *prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store init failed: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := oidcguard.DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	guard, err := oidcguard.New().
		WithConfig(cfg).
		WithStore(store).
		WithLogger(logger).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "guard build failed: %v\n", err)
		os.Exit(1)
	}
	defer guard.Close()

	issued := make([]string, 0, *nonces)
	var issuedMu sync.Mutex
	issueStats := runPhase(*nonces, *concurrency, func(int) error {
		v, err := guard.NewNonce(ctx)
		if err != nil {
			return err
		}
		issuedMu.Lock()
		issued = append(issued, v)
		issuedMu.Unlock()
		return nil
	})

	attempts := len(issued) * (1 + *replays)
	var accepted int64
	consumeStats := runPhase(attempts, *concurrency, func(i int) error {
		ok, err := guard.ConsumeNonce(ctx, issued[i%len(issued)])
		if err != nil {
			return err
		}
		if ok {
			atomic.AddInt64(&accepted, 1)
		}
		return nil
	})

	stateStats := runPhase(*nonces, *concurrency, func(int) error {
		v, err := guard.NewState(ctx)
		if err != nil {
			return err
		}
		ok, err := guard.ValidateState(ctx, v)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("state %q not found after add", v)
		}
		return guard.RemoveState(ctx, v)
	})

	fmt.Println("---- results ----")
	printStats("issue", issueStats)
	printStats("consume", consumeStats)
	printStats("state", stateStats)

	fmt.Printf("accepted=%d issued=%d atomic=%t\n", accepted, len(issued), guard.Atomic())
	// Fewer accepts than issues only means consume calls failed in the store.
	if int(accepted) > len(issued) {
		fmt.Fprintln(os.Stderr, "replay protection violated: a nonce was accepted twice")
		os.Exit(1)
	}

	snap := guard.MetricsSnapshot()
	fmt.Printf("metrics: issued=%d consumed=%d rejected=%d storage_failures=%d\n",
		snap.Counters[oidcguard.MetricNonceIssued],
		snap.Counters[oidcguard.MetricNonceConsumed],
		snap.Counters[oidcguard.MetricNonceRejected],
		snap.Counters[oidcguard.MetricStorageFailure],
	)
}

func openStore(ctx context.Context, backend, redisAddr, dsn, prefix string) (kv.Store, func(), error) {
	switch backend {
	case "memory":
		fmt.Println("using in-memory store")
		return kv.NewMemory(), func() {}, nil
	case "redis":
		addr := redisAddr
		if addr == "" {
			addr = os.Getenv("REDIS_ADDR")
		}
		if addr == "" {
			mr, err := miniredis.Run()
			if err != nil {
				return nil, nil, fmt.Errorf("start miniredis: %w", err)
			}
			client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
			fmt.Printf("using miniredis at %s\n", mr.Addr())
			return kv.NewRedis(client, kv.RedisConfig{Prefix: prefix}), func() {
				_ = client.Close()
				mr.Close()
			}, nil
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return kv.NewRedis(client, kv.RedisConfig{Prefix: prefix}), func() { _ = client.Close() }, nil
	case "sqlite", "postgres":
		if dsn == "" && backend == "sqlite" {
			dsn = ":memory:"
		}
		if dsn == "" {
			return nil, nil, fmt.Errorf("postgres backend needs -dsn")
		}
		store, err := kv.OpenSQL(ctx, kv.Dialect(backend), dsn)
		if err != nil {
			return nil, nil, err
		}
		fmt.Printf("using %s store\n", backend)
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backend)
	}
}

func runPhase(ops, concurrency int, op func(i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
