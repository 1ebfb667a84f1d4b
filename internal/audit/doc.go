// Package audit implements async event dispatching for nonce and state
// decisions.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, zap logger, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event]: structured audit record with timestamp, type, bucket, value digest, metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which
// events to emit; the Guard does.
//
// # What this package must NOT do
//
//   - Carry raw nonce or state values. Callers pass a digest.
//   - Import oidcguard or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
