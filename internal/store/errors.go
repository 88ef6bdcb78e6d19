package store

import "errors"

var (
	// ErrContention is returned when the coarse write lock could not be
	// acquired within the bounded wait plus one retry.
	ErrContention = errors.New("store: write lock contention")

	// ErrIntegrity is returned when a post-write verification did not find
	// the row it just wrote. Persistence-integrity failures are fatal to
	// the current operation and must not be retried blindly.
	ErrIntegrity = errors.New("store: post-write verification failed")

	// ErrIdentityMismatch is returned when a lookup produced a row whose
	// identity fields do not exactly match the requested key.
	ErrIdentityMismatch = errors.New("store: row identity does not match requested key")
)
