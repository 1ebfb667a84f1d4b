// Package internal contains helpers that are private to oidcguard: secure
// random value generation and value digests for logs.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//
// # What this package must NOT do
//
//   - Export types that appear in the public oidcguard API.
//   - Be imported by any package outside the oidcguard module.
package internal
