// Package registry implements the server-side upload state machine: session
// creation and resume, chunk acceptance, final file assembly, and deletion.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fjmerc/airlift/internal/metrics"
	"github.com/fjmerc/airlift/internal/models"
	"github.com/fjmerc/airlift/internal/repository"
	"github.com/fjmerc/airlift/internal/staging"
	"github.com/fjmerc/airlift/internal/storage"
	"github.com/fjmerc/airlift/internal/utils"
)

// Sentinel errors mapped to wire error codes by the handlers.
var (
	ErrInvalidFilename     = errors.New("filename contains invalid characters")
	ErrHashConflict        = errors.New("a different file with this name already exists")
	ErrAlreadyUploaded     = errors.New("file was already uploaded")
	ErrUploadNotFound      = errors.New("upload not found")
	ErrInvalidChunk        = errors.New("chunk index or size is invalid")
	ErrAssemblyCorruption  = errors.New("assembled file hash does not match")
	ErrUploadNotAssembled  = errors.New("upload has not been assembled yet")
	ErrFileTooLarge        = errors.New("file exceeds the maximum allowed size")
	ErrInvalidUploadParams = errors.New("upload parameters are invalid")
	ErrShuttingDown        = errors.New("server is shutting down")
)

// Registry coordinates uploads across the database, the chunk staging area,
// and the archive backend.
type Registry struct {
	uploads repository.UploadRepository
	imports repository.ImportRepository
	staging *staging.Store
	archive storage.Backend
	tracker *utils.TransferTracker

	chunkSize   int64
	maxFileSize int64

	// locks serializes creation per (uploader, filename) so concurrent
	// NEW_UPLOAD requests for the same file cannot both insert.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Registry over the given backends.
func New(uploads repository.UploadRepository, imports repository.ImportRepository, stagingStore *staging.Store, archive storage.Backend, tracker *utils.TransferTracker, chunkSize, maxFileSize int64) *Registry {
	return &Registry{
		uploads:     uploads,
		imports:     imports,
		staging:     stagingStore,
		archive:     archive,
		tracker:     tracker,
		chunkSize:   chunkSize,
		maxFileSize: maxFileSize,
		locks:       make(map[string]*sync.Mutex),
	}
}

// ChunkSize returns the configured chunk size in bytes.
func (g *Registry) ChunkSize() int64 {
	return g.chunkSize
}

func (g *Registry) fileLock(uploaderID int64, filename string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := fmt.Sprintf("%d/%s", uploaderID, filename)
	l, ok := g.locks[key]
	if !ok {
		l = &sync.Mutex{}
		g.locks[key] = l
	}
	return l
}

// CreateRequest carries the parameters of a NEW_UPLOAD request.
type CreateRequest struct {
	UploaderID   int64
	FleetID      int64
	Filename     string
	NumberChunks int
	SizeBytes    int64
	MD5Hash      string
}

// CreateOrResumeUpload handles a NEW_UPLOAD request. For a file the server
// has never seen it creates a fresh record; for an unfinished upload of the
// same content it returns the existing record so the client can resume; for
// already-assembled content it returns ErrAlreadyUploaded; for a different
// file under the same name it returns ErrHashConflict.
func (g *Registry) CreateOrResumeUpload(ctx context.Context, req CreateRequest) (*models.Upload, error) {
	filename := utils.NormalizeFilename(req.Filename)
	if !utils.ValidFilename(filename) {
		return nil, ErrInvalidFilename
	}

	if req.NumberChunks <= 0 || req.SizeBytes <= 0 {
		return nil, fmt.Errorf("%w: numberChunks=%d sizeBytes=%d", ErrInvalidUploadParams, req.NumberChunks, req.SizeBytes)
	}
	if g.maxFileSize > 0 && req.SizeBytes > g.maxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, req.SizeBytes, g.maxFileSize)
	}
	hash := strings.ToLower(req.MD5Hash)
	if len(hash) != 32 {
		return nil, fmt.Errorf("%w: md5Hash must be 32 hex characters", ErrInvalidUploadParams)
	}
	expectedChunks := int((req.SizeBytes + g.chunkSize - 1) / g.chunkSize)
	if req.NumberChunks != expectedChunks {
		return nil, fmt.Errorf("%w: numberChunks %d does not match size %d with chunk size %d",
			ErrInvalidUploadParams, req.NumberChunks, req.SizeBytes, g.chunkSize)
	}

	lock := g.fileLock(req.UploaderID, filename)
	lock.Lock()
	defer lock.Unlock()

	existing, err := g.uploads.GetByOwnerAndFilename(ctx, req.UploaderID, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to look up existing upload: %w", err)
	}

	if existing != nil {
		if existing.MD5Hash != hash {
			metrics.UploadsCreatedTotal.WithLabelValues("hash_conflict").Inc()
			return nil, fmt.Errorf("%w: %s", ErrHashConflict, filename)
		}

		switch existing.Status {
		case models.StatusUploaded:
			metrics.UploadsCreatedTotal.WithLabelValues("already_uploaded").Inc()
			return existing, ErrAlreadyUploaded

		case models.StatusFailed:
			// Staged bytes are suspect after a hash mismatch. Rewind so the
			// client re-sends everything.
			if err := g.uploads.ResetForRetry(ctx, existing.ID); err != nil {
				return nil, fmt.Errorf("failed to reset failed upload: %w", err)
			}
			if err := g.staging.DeleteChunks(existing.UploaderID, existing.Identifier); err != nil {
				slog.Warn("failed to clear staged chunks for retry",
					"upload_id", existing.ID, "error", err)
			}
			reset, err := g.uploads.GetByID(ctx, existing.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to reload upload: %w", err)
			}
			slog.Info("failed upload rewound for retry",
				"upload_id", existing.ID, "filename", filename)
			metrics.UploadsCreatedTotal.WithLabelValues("resumed").Inc()
			return reset, nil

		default:
			slog.Info("upload resumed",
				"upload_id", existing.ID,
				"filename", filename,
				"uploaded_chunks", existing.UploadedChunks,
				"number_chunks", existing.NumberChunks,
			)
			metrics.UploadsCreatedTotal.WithLabelValues("resumed").Inc()
			return existing, nil
		}
	}

	upload := &models.Upload{
		UploaderID:   req.UploaderID,
		FleetID:      req.FleetID,
		Filename:     filename,
		Identifier:   utils.UploadIdentifier(filename, req.SizeBytes),
		SizeBytes:    req.SizeBytes,
		NumberChunks: req.NumberChunks,
		MD5Hash:      hash,
		ChunkStatus:  strings.Repeat("0", req.NumberChunks),
		Status:       models.StatusUploading,
		StartTime:    time.Now(),
	}
	if err := g.uploads.Create(ctx, upload); err != nil {
		return nil, fmt.Errorf("failed to create upload: %w", err)
	}

	slog.Info("upload created",
		"upload_id", upload.ID,
		"uploader_id", upload.UploaderID,
		"filename", filename,
		"size_bytes", upload.SizeBytes,
		"number_chunks", upload.NumberChunks,
	)
	metrics.UploadsCreatedTotal.WithLabelValues("created").Inc()

	return upload, nil
}

// AcceptChunk stages one chunk's bytes and records it against the upload.
// Re-sent chunks overwrite the staged bytes without double-counting progress.
// When the last outstanding chunk lands, assembly runs before returning.
func (g *Registry) AcceptChunk(ctx context.Context, uploaderID, uploadID int64, index int, r io.Reader) (*models.Upload, error) {
	upload, err := g.uploads.GetByID(ctx, uploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load upload: %w", err)
	}
	if upload == nil || upload.UploaderID != uploaderID {
		return nil, ErrUploadNotFound
	}

	switch upload.Status {
	case models.StatusUploaded:
		return upload, ErrAlreadyUploaded
	case models.StatusUploading:
		// accepting
	default:
		return nil, fmt.Errorf("%w: upload %d is %s", ErrInvalidChunk, uploadID, upload.Status)
	}

	if index < 0 || index >= upload.NumberChunks {
		return nil, fmt.Errorf("%w: index %d out of range [0, %d)", ErrInvalidChunk, index, upload.NumberChunks)
	}

	trackerKey := fmt.Sprintf("%d/%d", uploadID, index)
	if !g.tracker.StartChunk(trackerKey, upload.Filename) {
		return nil, ErrShuttingDown
	}
	defer g.tracker.FinishChunk(trackerKey)

	expected := upload.ChunkLength(index, g.chunkSize)

	written, err := g.staging.SaveChunk(uploaderID, upload.Identifier, index, io.LimitReader(r, expected+1))
	if err != nil {
		return nil, fmt.Errorf("failed to stage chunk %d: %w", index, err)
	}
	if written != expected {
		return nil, fmt.Errorf("%w: chunk %d has %d bytes, expected %d", ErrInvalidChunk, index, written, expected)
	}

	updated, changed, err := g.uploads.MarkChunkReceived(ctx, uploadID, index, written)
	if err != nil {
		return nil, fmt.Errorf("failed to record chunk %d: %w", index, err)
	}
	if updated == nil {
		// Deleted between the load above and the mark. Drop the bytes we just
		// staged, or the delete leaves behind a directory no record owns.
		if err := g.staging.DeleteChunks(uploaderID, upload.Identifier); err != nil {
			slog.Warn("failed to remove staged chunks for deleted upload",
				"upload_id", uploadID, "error", err)
		}
		return nil, ErrUploadNotFound
	}

	if changed {
		metrics.ChunksReceivedTotal.Inc()
	} else {
		metrics.ChunksDuplicateTotal.Inc()
	}

	slog.Debug("chunk received",
		"upload_id", uploadID,
		"chunk", index,
		"bytes", written,
		"uploaded_chunks", updated.UploadedChunks,
		"number_chunks", updated.NumberChunks,
		"duplicate", !changed,
	)

	if updated.Complete() && updated.Status == models.StatusUploading {
		if err := g.maybeAssemble(ctx, updated); err != nil {
			return updated, err
		}
		final, err := g.uploads.GetByID(ctx, uploadID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload upload: %w", err)
		}
		if final != nil {
			return final, nil
		}
	}

	return updated, nil
}

// maybeAssemble races for the ASSEMBLING transition and assembles on win.
// Losing the race is not an error; some other request is assembling.
func (g *Registry) maybeAssemble(ctx context.Context, upload *models.Upload) error {
	won, err := g.uploads.TryLockForAssembly(ctx, upload.ID)
	if err != nil {
		return fmt.Errorf("failed to lock upload for assembly: %w", err)
	}
	if !won {
		return nil
	}
	return g.AssembleFinalFile(ctx, upload)
}

// ArchiveKey returns the archive storage key for an upload.
func ArchiveKey(u *models.Upload) string {
	return fmt.Sprintf("fleet_%d/%d_%s", u.FleetID, u.ID, u.Filename)
}

// AssembleFinalFile concatenates the staged chunks into the archive while
// computing the content hash. On hash mismatch the upload is marked FAILED
// and the staged chunks are kept for inspection.
//
// The caller must already hold the ASSEMBLING transition for this upload.
func (g *Registry) AssembleFinalFile(ctx context.Context, upload *models.Upload) error {
	if !g.tracker.StartAssembly(upload.ID) {
		return ErrShuttingDown
	}
	defer g.tracker.FinishAssembly(upload.ID)

	start := time.Now()
	key := ArchiveKey(upload)

	pr, pw := io.Pipe()

	type assembleResult struct {
		written int64
		md5hex  string
		err     error
	}
	resultCh := make(chan assembleResult, 1)

	go func() {
		written, md5hex, err := g.staging.Assemble(upload.UploaderID, upload.Identifier, upload.NumberChunks, pw)
		pw.CloseWithError(err)
		resultCh <- assembleResult{written, md5hex, err}
	}()

	_, storeErr := g.archive.Store(ctx, key, pr, upload.SizeBytes)
	pr.CloseWithError(storeErr)
	result := <-resultCh

	if result.err != nil || storeErr != nil {
		err := result.err
		if err == nil {
			err = storeErr
		}
		g.failAssembly(ctx, upload, key, fmt.Sprintf("assembly failed: %v", err))
		metrics.AssembliesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to assemble upload %d: %w", upload.ID, err)
	}

	if result.md5hex != upload.MD5Hash {
		g.failAssembly(ctx, upload, key,
			fmt.Sprintf("MD5 mismatch: expected %s, got %s", upload.MD5Hash, result.md5hex))
		metrics.AssembliesTotal.WithLabelValues("corrupt").Inc()
		slog.Error("assembled file failed hash verification",
			"upload_id", upload.ID,
			"expected_md5", upload.MD5Hash,
			"actual_md5", result.md5hex,
		)
		return ErrAssemblyCorruption
	}

	if err := g.uploads.SetAssembled(ctx, upload.ID); err != nil {
		return fmt.Errorf("failed to mark upload assembled: %w", err)
	}

	if err := g.staging.DeleteChunks(upload.UploaderID, upload.Identifier); err != nil {
		slog.Warn("failed to delete staged chunks after assembly",
			"upload_id", upload.ID, "error", err)
	}

	metrics.AssembliesTotal.WithLabelValues("ok").Inc()
	metrics.AssemblyDuration.Observe(time.Since(start).Seconds())
	metrics.UploadSizeBytes.Observe(float64(result.written))

	slog.Info("upload assembled",
		"upload_id", upload.ID,
		"filename", upload.Filename,
		"size_bytes", result.written,
		"duration", time.Since(start),
	)

	return nil
}

// failAssembly records the failure and removes any partial archive object.
// Staged chunks are deliberately kept.
func (g *Registry) failAssembly(ctx context.Context, upload *models.Upload, key, message string) {
	if err := g.archive.Delete(ctx, key); err != nil {
		slog.Warn("failed to remove partial archive object",
			"upload_id", upload.ID, "key", key, "error", err)
	}
	if err := g.uploads.SetFailed(ctx, upload.ID, message); err != nil {
		slog.Error("failed to mark upload failed",
			"upload_id", upload.ID, "error", err)
	}
}

// DeleteUpload removes an upload and everything attached to it: the import
// record, staged chunks, and the archived file.
func (g *Registry) DeleteUpload(ctx context.Context, uploaderID, uploadID int64) error {
	upload, err := g.uploads.GetByID(ctx, uploadID)
	if err != nil {
		return fmt.Errorf("failed to load upload: %w", err)
	}
	if upload == nil || upload.UploaderID != uploaderID {
		return ErrUploadNotFound
	}

	if err := g.imports.DeleteByUploadID(ctx, uploadID); err != nil {
		return fmt.Errorf("failed to delete import record: %w", err)
	}
	if err := g.uploads.Delete(ctx, uploadID); err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
	}

	if err := g.staging.DeleteChunks(upload.UploaderID, upload.Identifier); err != nil {
		slog.Warn("failed to delete staged chunks",
			"upload_id", uploadID, "error", err)
	}
	if err := g.archive.Delete(ctx, ArchiveKey(upload)); err != nil {
		slog.Warn("failed to delete archived file",
			"upload_id", uploadID, "error", err)
	}

	metrics.UploadsDeletedTotal.Inc()
	slog.Info("upload deleted",
		"upload_id", uploadID, "filename", upload.Filename)

	return nil
}

// OpenArchivedFile returns the upload record and a reader over its assembled
// bytes. expectedMD5, when non-empty, must match the stored hash.
func (g *Registry) OpenArchivedFile(ctx context.Context, fleetID, uploadID int64, expectedMD5 string) (*models.Upload, io.ReadCloser, error) {
	upload, err := g.uploads.GetByID(ctx, uploadID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load upload: %w", err)
	}
	if upload == nil || upload.FleetID != fleetID {
		return nil, nil, ErrUploadNotFound
	}
	if upload.Status != models.StatusUploaded {
		return nil, nil, ErrUploadNotAssembled
	}
	if expectedMD5 != "" && !strings.EqualFold(expectedMD5, upload.MD5Hash) {
		return nil, nil, fmt.Errorf("%w: requested hash %s", ErrUploadNotFound, expectedMD5)
	}

	rc, err := g.archive.Retrieve(ctx, ArchiveKey(upload))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open archived file: %w", err)
	}
	return upload, rc, nil
}

// RecoverInterrupted rewinds uploads stuck in ASSEMBLING after a crash and
// re-assembles any upload that already has every chunk staged.
func (g *Registry) RecoverInterrupted(ctx context.Context) error {
	reset, err := g.uploads.ResetAssembling(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset interrupted assemblies: %w", err)
	}
	if reset > 0 {
		slog.Info("reset interrupted assemblies", "count", reset)
	}

	ready, err := g.uploads.GetAwaitingAssembly(ctx)
	if err != nil {
		return fmt.Errorf("failed to find uploads awaiting assembly: %w", err)
	}

	for i := range ready {
		upload := &ready[i]

		missing, err := g.staging.MissingChunks(upload.UploaderID, upload.Identifier, upload.NumberChunks)
		if err != nil {
			slog.Error("failed to inspect staged chunks",
				"upload_id", upload.ID, "error", err)
			continue
		}
		if len(missing) > 0 {
			// Counters say complete but staged bytes are gone. The client
			// has to start over.
			if err := g.uploads.SetFailed(ctx, upload.ID,
				fmt.Sprintf("staged chunks missing after restart: %v", missing)); err != nil {
				slog.Error("failed to mark upload failed",
					"upload_id", upload.ID, "error", err)
			}
			continue
		}

		if err := g.maybeAssemble(ctx, upload); err != nil {
			slog.Error("recovery assembly failed",
				"upload_id", upload.ID, "error", err)
		}
	}

	return nil
}

// ReapStaleUploads deletes incomplete uploads with no chunk activity since
// the cutoff, along with their staged chunks.
func (g *Registry) ReapStaleUploads(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := g.uploads.GetStaleIncomplete(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to find stale uploads: %w", err)
	}

	reaped := 0
	for i := range stale {
		upload := &stale[i]
		if err := g.DeleteUpload(ctx, upload.UploaderID, upload.ID); err != nil {
			slog.Error("failed to reap stale upload",
				"upload_id", upload.ID, "error", err)
			continue
		}
		reaped++
		metrics.StaleUploadsReapedTotal.Inc()
	}

	if reaped > 0 {
		slog.Info("stale uploads reaped", "count", reaped)
	}
	return reaped, nil
}
