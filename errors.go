package oidcguard

import "errors"

var (
	// ErrStorageUnavailable is returned when the key-value store fails. The
	// underlying error is wrapped.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidValue is returned when an empty nonce or state is issued.
	ErrInvalidValue = errors.New("invalid value")
	// ErrGuardNotReady is returned by methods called on a nil or closed Guard.
	ErrGuardNotReady = errors.New("guard not ready")
	// ErrBuilderUsed is returned by a second call to Builder.Build.
	ErrBuilderUsed = errors.New("builder already used")
	// ErrStoreRequired is returned by Build when no store was supplied.
	ErrStoreRequired = errors.New("store required")
	// ErrAtomicStoreRequired is returned by Build when the configuration demands
	// an atomic store and the supplied one does not implement kv.Updater.
	ErrAtomicStoreRequired = errors.New("atomic store required")
	// ErrRandomUnavailable is returned when secure random generation fails.
	ErrRandomUnavailable = errors.New("secure random unavailable")
)
