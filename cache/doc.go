// Package cache implements a timestamped value cache over a [kv.Store].
//
// A bucket is one store slot holding a JSON object that maps insertion
// timestamps (milliseconds since the Unix epoch, as decimal strings) to opaque
// string values:
//
//	{"1700000000000":"n-0Zk2...","1700000000412":"n-q81L..."}
//
// Entries older than the caller's expiry predicate are purged whenever the
// bucket is read through [Cache.Query] or [Cache.Take]. There is no background
// sweep.
//
// Every mutating call is one read-modify-write cycle. When the store also
// implements [kv.Updater] the cycle runs inside it, which makes it atomic
// across processes; otherwise the cache serialises cycles per bucket with an
// in-process mutex.
//
// A bucket blob that cannot be decoded is logged and treated as empty. It is
// overwritten by the next successful mutation.
package cache
