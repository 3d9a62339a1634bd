package domain

import "errors"

var (
	// ErrInvalidPattern is returned when a glob or regular expression cannot be compiled.
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrInvalidArgument is returned when a create request supplies both or neither of pattern and regexPattern.
	ErrInvalidArgument = errors.New("exactly one of pattern or regexPattern must be provided")

	// ErrNotFound is returned when operating on an unknown mapping id.
	ErrNotFound = errors.New("mapping not found")

	// ErrStorageCorrupt is returned when the persisted index cannot be read or parsed.
	ErrStorageCorrupt = errors.New("mapping storage is corrupt")

	// ErrPersistence is returned when a write to storage failed after the in-memory mutation was applied.
	ErrPersistence = errors.New("persisting mappings failed")

	// ErrBlobNotFound is returned by a BlobRepository when the named blob does not exist.
	ErrBlobNotFound = errors.New("blob not found")
)
