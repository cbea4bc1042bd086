package store

import "fmt"

// StorageError wraps a low-level storage failure with the operation that
// produced it, mirroring the error taxonomy of spec §7
// (database_connection_error_high, database_lock_medium, storage_verification_failed_high).
type StorageError struct {
	Backend string // "sqlite"
	Op      string // "open", "create_schema", "upsert_source", "verify_claim_count", ...
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError constructs a [StorageError].
func NewStorageError(backend, op string, err error) *StorageError {
	return &StorageError{Backend: backend, Op: op, Err: err}
}

// ErrVerificationFailed is returned when a post-commit read-back does not
// match what was written (spec §4.12's verification contract). Callers
// should treat this as storage_verification_failed_high: a hard failure
// that aborts the run.
type ErrVerificationFailed struct {
	SourceID string
	Expected int
	Got      int
}

func (e *ErrVerificationFailed) Error() string {
	return fmt.Sprintf("store: claim count verification failed for source %q: expected %d, got %d", e.SourceID, e.Expected, e.Got)
}
