package queue

import "errors"

// Common errors for queue store operations.
var (
	// Bucket errors
	ErrBucketNotFound   = errors.New("bucket not found")
	ErrDuplicateBucket  = errors.New("bucket already exists")
	ErrBucketNotStopped = errors.New("bucket scheduler must be stopped")

	// Queue entry errors
	ErrEntryNotFound   = errors.New("queue entry not found")
	ErrEntryNotClaimed = errors.New("queue entry is not in progress")

	// Operator action errors
	ErrInvalidResolveAction = errors.New("invalid conflict resolution action")
	ErrNonTerminalCommit    = errors.New("commit status must be terminal")

	// Service state errors
	ErrHashAlgorithmChanged = errors.New("configured hash algorithm differs from the one recorded in the database")
)
