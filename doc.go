// Package oidcguard provides replay protection for the redirect leg of an
// OpenID Connect client: single-use nonces, multi-valued authorization states,
// and pass-through access to the client's token storage.
//
// A [Guard] is built once through [Builder.Build] and is safe to call from
// multiple goroutines afterwards:
//
//	guard, err := oidcguard.New().
//		WithStore(kv.NewRedis(rdb, kv.RedisConfig{Prefix: "oidc"})).
//		WithLogger(logger).
//		Build()
//
//	nonce, _ := guard.NewNonce(ctx)   // before redirecting to the provider
//	state, _ := guard.NewState(ctx)
//	...
//	ok, _ := guard.ConsumeNonce(ctx, idTokenNonce) // on the callback
//
// # Architecture boundaries
//
// oidcguard is the public surface. It exposes [Guard], [Builder], [Config], and
// value types (MetricsSnapshot, AuditEvent). Bucket encoding and expiry live in
// the cache package; persistence lives behind the kv interfaces.
//
// # What this package must NOT do
//
//   - Parse or validate tokens. Callers extract the nonce and state.
//   - Log or audit raw nonce and state values. Only digests leave the store.
//   - Perform I/O outside of Guard methods (Build only validates and wires).
//
// # Concurrency contract
//
// Nonce consumption is at-most-once: concurrent ConsumeNonce calls racing on
// one value see exactly one true. Across processes this holds when the store
// implements kv.Updater (Memory, Redis, SQL all do).
package oidcguard
