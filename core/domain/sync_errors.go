package domain

import "errors"

// Sentinel errors shared by repositories and services.
var (
	// ErrNotFound - a queue item or conflict id referenced a missing row.
	// Surfaced immediately, never retried.
	ErrNotFound = errors.New("record not found")

	// ErrConflictResolved - an attempt to mutate a conflict that already
	// reached a terminal resolution.
	ErrConflictResolved = errors.New("conflict already resolved")
)
