package upload

import "github.com/cockroachdb/errors"

var (
	// ErrOutOfMemory is returned when a staging buffer could not be allocated. It is recoverable:
	// nothing was recorded, and the caller may defer the upload to a later batch.
	ErrOutOfMemory = errors.New("out of staging memory")
	// ErrQueueFamilyMismatch marks an ownership transfer whose release and acquire halves do not
	// agree on the queue families, or that would be recorded on the wrong queue
	ErrQueueFamilyMismatch = errors.New("queue family mismatch")
)
