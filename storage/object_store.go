package storage

import (
	"context"
	"io"
)

// CompletedPart identifies one uploaded part when instructing the store to
// merge a multipart session. Parts must be listed in ascending part order.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// ObjectInfo describes the final object after a multipart session is merged.
type ObjectInfo struct {
	StorageKey string
	ETag       string
	URL        string
}

// ObjectStore is the adapter contract over a multipart-capable object store.
// Implementations must not leak transport errors; callers treat any returned
// error as a retryable store failure.
type ObjectStore interface {
	// CreateSession opens a multipart session for key and returns the
	// store-generated upload identifier.
	CreateSession(ctx context.Context, key string, contentType string) (string, error)
	// UploadPart uploads one part and returns its ETag. Re-uploading an
	// existing part number overwrites it.
	UploadPart(ctx context.Context, key string, uploadID string, partNumber int, body io.Reader, size int64) (string, error)
	// CompleteSession merges the listed parts into the final object.
	CompleteSession(ctx context.Context, key string, uploadID string, parts []CompletedPart) (ObjectInfo, error)
	// AbortSession releases the session and any storage held by uploaded
	// parts. Aborting an unknown session is not an error.
	AbortSession(ctx context.Context, key string, uploadID string) error
}
