// Package backend defines the capability surface the proxy requires from an
// edge-storage zone: listing, metadata lookup, streaming download, buffered
// and streaming upload, delete, and copy. Implementations translate these
// calls to the storage provider's native wire protocol; everything above this
// package speaks only in terms of StorageObject and the error kinds defined
// here.
package backend

import (
	"context"
	"io"
)

//go:generate mockgen -package backend -source backend.go -destination=client_mock.go

// Client provides access to a single storage zone.
//
// All methods are safe for concurrent use. Paths are zone-relative,
// slash-delimited and never begin with a slash; a trailing slash addresses a
// directory.
type Client interface {
	// List returns the immediate children of the given directory. A missing
	// directory yields an empty slice, not an error.
	List(ctx context.Context, path string) ([]StorageObject, error)

	// ListRecursive walks the tree below prefix depth-first and returns files
	// only. If max is positive, traversal stops early once max objects have
	// been collected.
	ListRecursive(ctx context.Context, prefix string, max int) ([]StorageObject, error)

	// Describe fetches the metadata of a single object without its body.
	Describe(ctx context.Context, path string) (StorageObject, error)

	// Download opens the object for reading. The caller must close the
	// returned Download.
	Download(ctx context.Context, path string) (*Download, error)

	// Upload stores body under path in a single request.
	Upload(ctx context.Context, path string, body []byte, opts UploadOptions) error

	// UploadStream stores the contents of body under path without buffering
	// it. contentLength is forwarded to the backend when non-negative.
	UploadStream(ctx context.Context, path string, body io.Reader, contentLength int64) error

	// Delete removes the object or directory at path. Deleting a missing
	// object is not an error.
	Delete(ctx context.Context, path string) error

	// Copy duplicates src to dst. Implementations without a native copy
	// primitive download src and re-upload it.
	Copy(ctx context.Context, src, dst string) error
}
