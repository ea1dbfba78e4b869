// Package blobs stores the encrypted content of files. The filesystem
// backend is the default; an S3-compatible bucket can be used instead.
package blobs

import (
	"context"
	"io"
)

// Store is a flat key/value store for encrypted blobs. Keys are
// "{session}/{file_id}". Get of a missing key returns common.ErrorNotFound;
// Delete of a missing key is not an error.
type Store interface {
	Put(ctx context.Context, key string, r io.ReadSeeker) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
