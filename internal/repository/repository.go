// Package repository defines the data access ports for Airlift and a factory
// over the concrete database backends.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fjmerc/airlift/internal/models"
)

// Database backend identifiers.
const (
	DatabaseTypeSQLite   = "sqlite"
	DatabaseTypePostgres = "postgres"
)

// ErrNilDatabase is returned when a factory receives a nil connection.
var ErrNilDatabase = errors.New("database connection is nil")

// UploadRepository is the persistence port for upload records. All methods
// accept a context for cancellation and timeout support. Lookup methods
// return (nil, nil) when no record exists.
type UploadRepository interface {
	// Create inserts a new upload record and assigns its server id.
	Create(ctx context.Context, upload *models.Upload) error

	// GetByID retrieves an upload by server id.
	GetByID(ctx context.Context, id int64) (*models.Upload, error)

	// GetByOwnerAndFilename retrieves the upload owned by uploaderID with the
	// given normalized filename. At most one such record exists at a time.
	GetByOwnerAndFilename(ctx context.Context, uploaderID int64, filename string) (*models.Upload, error)

	// List returns one page of a fleet's uploads, newest first, along with
	// the total page count for the given page size.
	List(ctx context.Context, fleetID int64, currentPage, pageSize int) ([]models.Upload, int, error)

	// MarkChunkReceived flips chunkStatus[index] to '1' and adds chunkBytes
	// to the byte and chunk counters, as a single transactional
	// read-modify-write. If the bit is already set the counters are left
	// untouched and changed is false. Returns the post-update record.
	MarkChunkReceived(ctx context.Context, id int64, index int, chunkBytes int64) (upload *models.Upload, changed bool, err error)

	// TryLockForAssembly atomically transitions the upload from UPLOADING
	// with all chunks received to ASSEMBLING. Returns true when this caller
	// won the transition; concurrent callers observe false and skip assembly.
	TryLockForAssembly(ctx context.Context, id int64) (bool, error)

	// SetAssembled marks the upload UPLOADED and stamps its end time.
	SetAssembled(ctx context.Context, id int64) error

	// SetFailed marks the upload FAILED with an operator-visible message.
	SetFailed(ctx context.Context, id int64, message string) error

	// ResetAssembling moves any upload stuck in ASSEMBLING back to UPLOADING.
	// Used by startup recovery after a crash mid-assembly.
	ResetAssembling(ctx context.Context) (int64, error)

	// ResetForRetry rewinds a FAILED upload to a fresh UPLOADING state with
	// zeroed chunk counters so the client can re-send every chunk.
	ResetForRetry(ctx context.Context, id int64) error

	// GetAwaitingAssembly returns uploads in UPLOADING with every chunk
	// received, for startup recovery to re-assemble.
	GetAwaitingAssembly(ctx context.Context) ([]models.Upload, error)

	// Delete removes the upload record.
	Delete(ctx context.Context, id int64) error

	// GetStaleIncomplete returns incomplete uploads with no chunk activity
	// since the cutoff, for the cleanup worker.
	GetStaleIncomplete(ctx context.Context, cutoff time.Time) ([]models.Upload, error)
}

// ImportRepository is the read port for import pipeline results. Upsert
// exists for the pipeline's writer process and for tests; the upload core
// never mutates import rows.
type ImportRepository interface {
	GetByUploadID(ctx context.Context, uploadID int64) (*models.Import, error)
	List(ctx context.Context, fleetID int64, currentPage, pageSize int) ([]models.Import, int, error)
	Upsert(ctx context.Context, imp *models.Import) error
	DeleteByUploadID(ctx context.Context, uploadID int64) error
}

// Repositories bundles the backend implementations behind one handle.
type Repositories struct {
	Uploads      UploadRepository
	Imports      ImportRepository
	DatabaseType string
	Cleanup      func()

	// Ping verifies backend connectivity, used by the status endpoint.
	Ping func(ctx context.Context) error
}

// NumberPages computes the page count for a total row count, matching the
// pagination contract of the list endpoints.
func NumberPages(total, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	pages := total / pageSize
	if total%pageSize != 0 {
		pages++
	}
	return pages
}
