package domain

// BlobRepository is a flat, directory-scoped key-value store of named byte blobs.
// The mapping store keeps one index document and one content artifact per mapping in it.
type BlobRepository interface {
	// ReadBlob returns the contents of the named blob.
	// It returns ErrBlobNotFound if the blob does not exist.
	ReadBlob(name string) ([]byte, error)

	// WriteBlob replaces the named blob with data.
	WriteBlob(name string, data []byte) error

	// DeleteBlob removes the named blob.
	// It returns ErrBlobNotFound if the blob does not exist.
	DeleteBlob(name string) error
}
