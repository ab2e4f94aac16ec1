// Package storage abstracts the archive where assembled upload files live.
// Implementations cover the local filesystem and S3-compatible object stores.
package storage

import (
	"context"
	"io"
)

// Backend stores assembled upload archives under opaque keys.
type Backend interface {
	// Store writes the assembled file to the archive under key.
	// Returns the number of bytes written.
	Store(ctx context.Context, key string, reader io.Reader, size int64) (int64, error)

	// Retrieve returns a reader for an archived file.
	// The caller is responsible for closing the returned ReadCloser.
	Retrieve(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an archived file. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a key is present in the archive.
	Exists(ctx context.Context, key string) (bool, error)

	// Size returns the stored size in bytes.
	Size(ctx context.Context, key string) (int64, error)

	// Ping verifies the archive is reachable and writable.
	Ping(ctx context.Context) error
}

// Error wraps storage failures with the operation and key involved.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return e.Op + " " + e.Key + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error with the given details.
func NewError(op, key string, err error) *Error {
	return &Error{Op: op, Key: key, Err: err}
}
