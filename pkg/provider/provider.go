// Package provider defines the object storage abstraction used to publish
// finished podcasts for sharing.
//
// Stores implement a small surface: put with metadata, head, delete and URL
// issuance. Authentication uses SDK credential chains or explicit keys from
// configuration; stores do not implement custom auth logic.
package provider

import (
	"context"
	"io"
	"time"
)

// ObjectStore abstracts the object storage operations sharing needs.
//
// Implementations should be safe for concurrent use.
type ObjectStore interface {
	// Put creates or overwrites key with size bytes read from body.
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) error

	// Head returns metadata for a single object.
	// Returns ErrNotFound if the object does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// Delete removes key. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// URL returns a URL a client can fetch key from. Stores that sign URLs
	// make them valid for ttl; public stores ignore ttl.
	URL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Close releases any resources held by the store.
	Close() error
}

// ObjectGetter can stream objects back. Stores that are not directly
// reachable by clients implement it so the server can relay content.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) (body io.ReadCloser, meta *ObjectMeta, err error)
}

// PutOptions carries optional attributes for Put.
type PutOptions struct {
	// ContentType is the MIME type recorded with the object.
	ContentType string

	// Metadata holds user-defined key-value pairs. Values must be ASCII.
	Metadata map[string]string
}

// ObjectMeta contains metadata for a single object.
type ObjectMeta struct {
	// Key is the full object key in the bucket.
	Key string `json:"key"`

	// Size is the object size in bytes.
	Size int64 `json:"size"`

	// ETag is the entity tag, when the store provides one.
	ETag string `json:"etag,omitempty"`

	// LastModified is when the object was last written.
	LastModified time.Time `json:"last_modified"`

	// ContentType is the MIME type of the object.
	ContentType string `json:"content_type,omitempty"`

	// Metadata contains user-defined metadata key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ProviderType identifies a storage backend.
type ProviderType string

const (
	// ProviderS3 represents AWS S3 or an S3-compatible store such as R2.
	ProviderS3 ProviderType = "s3"

	// ProviderFile represents a local directory.
	ProviderFile ProviderType = "file"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}
