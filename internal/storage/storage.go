// Package storage defines the interface for object storage operations.
// The MinIO implementation works with any S3-compatible provider; the S3
// implementation uses the AWS SDK directly.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrEmptyKey is returned when an operation is given an empty object key.
var ErrEmptyKey = errors.New("storage: empty object key")

// ProgressFunc receives the bytes transferred so far and the total size of an
// in-flight upload. Calls for one upload are serialized, with transferred
// never decreasing, but may come from the store's worker goroutines.
type ProgressFunc func(transferred, total int64)

// Storage is the interface for uploading and retrieving objects.
type Storage interface {
	// Upload streams data to the store under the given key, reporting
	// progress while bytes are sent. size must be the exact byte count.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string, progress ProgressFunc) error
	// PublicURL resolves the browser-accessible URL for an uploaded key.
	PublicURL(ctx context.Context, key string) (string, error)
	// Delete removes an object identified by key.
	Delete(ctx context.Context, key string) error
}

// Options configures a storage driver.
type Options struct {
	Endpoint   string
	Region     string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	PublicBase string        // browser-accessible base URL; empty means presigned URLs
	URLExpiry  time.Duration // lifetime of presigned URLs
}
