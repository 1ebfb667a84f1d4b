package oidcguard

import (
	"errors"
	"strings"
	"time"
)

// Config defines a public type used by oidcguard APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Buckets  BucketConfig
	Nonce    NonceConfig
	State    StateConfig
	Storage  StorageConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Security SecurityConfig
}

/*
====================================
BUCKET CONFIG
====================================
*/

// BucketConfig names the store slots that hold timestamped entries.
type BucketConfig struct {
	Nonce string
	State string
}

/*
====================================
NONCE / STATE CONFIG
====================================
*/

// NonceConfig defines a public type used by oidcguard APIs.
//
// NonceConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type NonceConfig struct {
	// TTL bounds how long an issued nonce can be consumed. An entry exactly
	// TTL old is still valid.
	TTL time.Duration
	// ByteLength is the entropy of values produced by NewNonce.
	ByteLength int
}

// StateConfig defines a public type used by oidcguard APIs.
type StateConfig struct {
	TTL        time.Duration
	ByteLength int
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageConfig controls how the guard addresses the key-value store.
type StorageConfig struct {
	// KeyPrefix is prepended verbatim to every key and bucket name.
	KeyPrefix string
	// RequireAtomicStore rejects stores that do not implement kv.Updater.
	RequireAtomicStore bool
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig defines a public type used by oidcguard APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by oidcguard APIs.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig defines a public type used by oidcguard APIs.
type SecurityConfig struct {
	// ProductionMode implies Storage.RequireAtomicStore.
	ProductionMode bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

const (
	defaultNonceBucket = "authNonce"
	defaultStateBucket = "authStateControl"

	defaultValueBytes = 32
	minValueBytes     = 16
	maxValueBytes     = 256
)

// DefaultConfig returns the configuration used by [New].
func DefaultConfig() Config {
	return Config{
		Buckets: BucketConfig{
			Nonce: defaultNonceBucket,
			State: defaultStateBucket,
		},
		Nonce: NonceConfig{
			TTL:        time.Hour,
			ByteLength: defaultValueBytes,
		},
		State: StateConfig{
			TTL:        time.Hour,
			ByteLength: defaultValueBytes,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// Buckets
	if strings.TrimSpace(c.Buckets.Nonce) == "" {
		return errors.New("Buckets Nonce must not be empty")
	}
	if strings.TrimSpace(c.Buckets.State) == "" {
		return errors.New("Buckets State must not be empty")
	}
	if c.Buckets.Nonce == c.Buckets.State {
		return errors.New("Buckets Nonce and State must differ")
	}
	for _, key := range storageKeys {
		if c.Buckets.Nonce == key || c.Buckets.State == key {
			return errors.New("Buckets must not reuse a storage key: " + key)
		}
	}

	// TTLs
	if c.Nonce.TTL <= 0 {
		return errors.New("Nonce TTL must be > 0")
	}
	if c.State.TTL <= 0 {
		return errors.New("State TTL must be > 0")
	}

	if c.Nonce.ByteLength < minValueBytes || c.Nonce.ByteLength > maxValueBytes {
		return errors.New("Nonce ByteLength must be between 16 and 256")
	}
	if c.State.ByteLength < minValueBytes || c.State.ByteLength > maxValueBytes {
		return errors.New("State ByteLength must be between 16 and 256")
	}

	// Storage
	if strings.ContainsAny(c.Storage.KeyPrefix, " \t\r\n") {
		return errors.New("Storage KeyPrefix must not contain whitespace")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}

func (c *Config) requireAtomic() bool {
	return c.Storage.RequireAtomicStore || c.Security.ProductionMode
}
