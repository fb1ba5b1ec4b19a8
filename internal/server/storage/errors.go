package storage

import "errors"

// Common storage errors
var (
	// ErrChangeNotFound indicates that no server change exists for the key
	ErrChangeNotFound = errors.New("change not found")

	// ErrSnapshotNotFound indicates that entity snapshot does not exist
	ErrSnapshotNotFound = errors.New("entity snapshot not found")

	// ErrSnapshotStale indicates that the snapshot advanced past the
	// expected sequence between load and apply (optimistic check failed)
	ErrSnapshotStale = errors.New("entity snapshot is stale")

	// ErrDuplicateChange indicates that (client_id, client_seq) was already applied
	ErrDuplicateChange = errors.New("change already applied")

	// ErrConflictNotFound indicates that conflict record was not found
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrConflictResolved indicates that conflict was already resolved
	ErrConflictResolved = errors.New("conflict already resolved")

	// ErrGrantNotFound indicates that media grant was not found
	ErrGrantNotFound = errors.New("media grant not found")
)
