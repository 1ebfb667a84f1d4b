// Package kv defines the string key-value collaborator that oidcguard persists
// buckets and plain accessors through, plus ready-made adapters.
//
// # Contracts
//
// A [Store] offers single-key read-after-write consistency and nothing more.
// Adapters that can run a read-modify-write cycle atomically also implement
// [Updater]; the cache package prefers that path so concurrent writers on the
// same bucket cannot lose updates.
//
// # Adapters
//
//   - [Memory]: process-local map guarded by a mutex.
//   - [Redis]: go-redis UniversalClient, WATCH/MULTI optimistic updates.
//   - [SQL]: database/sql table, SQLite (modernc) or Postgres (pgx) dialect.
//
// # What this package must NOT do
//
//   - Interpret stored values (bucket encoding belongs to the cache package).
//   - Import oidcguard or cache (no upward imports).
package kv
