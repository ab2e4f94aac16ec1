package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/fjmerc/airlift/internal/models"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestUpload(uploaderID int64, filename string, numberChunks int) *models.Upload {
	return &models.Upload{
		UploaderID:   uploaderID,
		FleetID:      1,
		Filename:     filename,
		Identifier:   fmt.Sprintf("%d-%s", 1000, filename),
		SizeBytes:    1000,
		NumberChunks: numberChunks,
		MD5Hash:      "0123456789abcdef0123456789abcdef",
	}
}

func TestCreateAndGetByID(t *testing.T) {
	repo := NewUploadRepository(newTestDB(t))
	ctx := context.Background()

	u := newTestUpload(1, "log.csv", 4)
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if u.ID == 0 {
		t.Fatal("Create() did not assign an id")
	}
	if u.ChunkStatus != "0000" {
		t.Errorf("ChunkStatus = %q after create, want %q", u.ChunkStatus, "0000")
	}
	if u.Status != models.StatusUploading {
		t.Errorf("Status = %q after create, want %q", u.Status, models.StatusUploading)
	}

	got, err := repo.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got == nil {
		t.Fatal("GetByID() returned nil for existing upload")
	}
	if got.Filename != "log.csv" || got.NumberChunks != 4 || got.UploadedChunks != 0 {
		t.Errorf("GetByID() = %+v, fields do not round-trip", got)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	repo := NewUploadRepository(newTestDB(t))

	got, err := repo.GetByID(context.Background(), 9999)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got != nil {
		t.Errorf("GetByID() = %+v for missing id, want nil", got)
	}
}

func TestGetByOwnerAndFilename(t *testing.T) {
	repo := NewUploadRepository(newTestDB(t))
	ctx := context.Background()

	u := newTestUpload(7, "log.csv", 2)
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := repo.GetByOwnerAndFilename(ctx, 7, "log.csv")
	if err != nil {
		t.Fatalf("GetByOwnerAndFilename() error: %v", err)
	}
	if got == nil || got.ID != u.ID {
		t.Errorf("GetByOwnerAndFilename() = %+v, want id %d", got, u.ID)
	}

	// Same filename, different uploader.
	got, err = repo.GetByOwnerAndFilename(ctx, 8, "log.csv")
	if err != nil {
		t.Fatalf("GetByOwnerAndFilename() error: %v", err)
	}
	if got != nil {
		t.Errorf("GetByOwnerAndFilename() crossed uploader boundary: %+v", got)
	}
}

func TestCreateDuplicateFilename(t *testing.T) {
	repo := NewUploadRepository(newTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, newTestUpload(1, "log.csv", 2)); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := repo.Create(ctx, newTestUpload(1, "log.csv", 2)); err == nil {
		t.Error("Create() accepted duplicate (uploader, filename)")
	}
	// Same filename under another uploader is fine.
	if err := repo.Create(ctx, newTestUpload(2, "log.csv", 2)); err != nil {
		t.Errorf("Create() rejected same filename for different uploader: %v", err)
	}
}

func TestMarkChunkReceived(t *testing.T) {
	repo := NewUploadRepository(newTestDB(t))
	ctx := context.Background()

	u := newTestUpload(1, "log.csv", 3)
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, changed, err := repo.MarkChunkReceived(ctx, u.ID, 1, 400)
	if err != nil {
		t.Fatalf("MarkChunkReceived() error: %v", err)
	}
	if !changed {
		t.Error("MarkChunkReceived() changed = false for fresh chunk")
	}
	if got.ChunkStatus != "010" || got.UploadedChunks != 1 || got.BytesUploaded != 400 {
		t.Errorf("after first mark: status=%q chunks=%d bytes=%d", got.ChunkStatus, got.UploadedChunks, got.BytesUploaded)
	}

	// Re-submission of the same index must not double-count.
	got, changed, err = repo.MarkChunkReceived(ctx, u.ID, 1, 400)
	if err != nil {
		t.Fatalf("MarkChunkReceived() repeat error: %v", err)
	}
	if changed {
		t.Error("MarkChunkReceived() changed = true for duplicate chunk")
	}
	if got.UploadedChunks != 1 || got.BytesUploaded != 400 {
		t.Errorf("duplicate mark double-counted: chunks=%d bytes=%d", got.UploadedChunks, got.BytesUploaded)
	}
}

func TestMarkChunkReceivedOutOfRange(t *testing.T) {
	repo := NewUploadRepository(newTestDB(t))
	ctx := context.Background()

	u := newTestUpload(1, "log.csv", 3)
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if _, _, err := repo.MarkChunkReceived(ctx, u.ID, 3, 100); err == nil {
		t.Error("MarkChunkReceived() accepted out-of-range index")
	}
	if _, _, err := repo.MarkChunkReceived(ctx, u.ID, -1, 100); err == nil {
		t.Error("MarkChunkReceived() accepted negative index")
	}
}

func TestTryLockForAssembly(t *testing.T) {
	repo := NewUploadRepository(newTestDB(t))
	ctx := context.Background()

	u := newTestUpload(1, "log.csv", 2)
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// Incomplete upload cannot be locked.
	locked, err := repo.TryLockForAssembly(ctx, u.ID)
	if err != nil {
		t.Fatalf("TryLockForAssembly() error: %v", err)
	}
	if locked {
		t.Error("TryLockForAssembly() locked an incomplete upload")
	}

	repo.MarkChunkReceived(ctx, u.ID, 0, 500)
	repo.MarkChunkReceived(ctx, u.ID, 1, 500)

	locked, err = repo.TryLockForAssembly(ctx, u.ID)
	if err != nil {
		t.Fatalf("TryLockForAssembly() error: %v", err)
	}
	if !locked {
		t.Fatal("TryLockForAssembly() failed to lock a complete upload")
	}

	// Second caller loses.
	locked, err = repo.TryLockForAssembly(ctx, u.ID)
	if err != nil {
		t.Fatalf("TryLockForAssembly() error: %v", err)
	}
	if locked {
		t.Error("TryLockForAssembly() granted the lock twice")
	}

	got, _ := repo.GetByID(ctx, u.ID)
	if got.Status != models.StatusAssembling {
		t.Errorf("status after lock = %q, want %q", got.Status, models.StatusAssembling)
	}
}

func TestSetAssembledAndSetFailed(t *testing.T) {
	repo := NewUploadRepository(newTestDB(t))
	ctx := context.Background()

	u := newTestUpload(1, "a.csv", 1)
	repo.Create(ctx, u)

	if err := repo.SetAssembled(ctx, u.ID); err != nil {
		t.Fatalf("SetAssembled() error: %v", err)
	}
	got, _ := repo.GetByID(ctx, u.ID)
	if got.Status != models.StatusUploaded {
		t.Errorf("status = %q after SetAssembled, want %q", got.Status, models.StatusUploaded)
	}
	if got.EndTime == nil {
		t.Error("EndTime not stamped by SetAssembled")
	}

	v := newTestUpload(1, "b.csv", 1)
	repo.Create(ctx, v)
	if err := repo.SetFailed(ctx, v.ID, "md5 mismatch"); err != nil {
		t.Fatalf("SetFailed() error: %v", err)
	}
	got, _ = repo.GetByID(ctx, v.ID)
	if got.Status != models.StatusFailed || got.ErrorMessage != "md5 mismatch" {
		t.Errorf("after SetFailed: status=%q message=%q", got.Status, got.ErrorMessage)
	}
}

func TestResetForRetry(t *testing.T) {
	repo := NewUploadRepository(newTestDB(t))
	ctx := context.Background()

	u := newTestUpload(1, "log.csv", 3)
	repo.Create(ctx, u)
	repo.MarkChunkReceived(ctx, u.ID, 0, 300)
	repo.MarkChunkReceived(ctx, u.ID, 1, 300)

	// Only FAILED uploads can be rewound.
	if err := repo.ResetForRetry(ctx, u.ID); err == nil {
		t.Error("ResetForRetry() accepted an upload that is not FAILED")
	}

	repo.SetFailed(ctx, u.ID, "assembly hash mismatch")
	if err := repo.ResetForRetry(ctx, u.ID); err != nil {
		t.Fatalf("ResetForRetry() error: %v", err)
	}

	got, _ := repo.GetByID(ctx, u.ID)
	if got.Status != models.StatusUploading {
		t.Errorf("status = %q after retry reset, want %q", got.Status, models.StatusUploading)
	}
	if got.ChunkStatus != "000" || got.UploadedChunks != 0 || got.BytesUploaded != 0 {
		t.Errorf("progress not rewound: status=%q chunks=%d bytes=%d", got.ChunkStatus, got.UploadedChunks, got.BytesUploaded)
	}
	if got.ErrorMessage != "" {
		t.Errorf("error message not cleared: %q", got.ErrorMessage)
	}
	if got.EndTime != nil {
		t.Error("end time not cleared by retry reset")
	}
}

func TestResetAssembling(t *testing.T) {
	repo := NewUploadRepository(newTestDB(t))
	ctx := context.Background()

	u := newTestUpload(1, "log.csv", 1)
	repo.Create(ctx, u)
	repo.MarkChunkReceived(ctx, u.ID, 0, 1000)
	repo.TryLockForAssembly(ctx, u.ID)

	n, err := repo.ResetAssembling(ctx)
	if err != nil {
		t.Fatalf("ResetAssembling() error: %v", err)
	}
	if n != 1 {
		t.Errorf("ResetAssembling() reset %d uploads, want 1", n)
	}

	got, _ := repo.GetByID(ctx, u.ID)
	if got.Status != models.StatusUploading {
		t.Errorf("status = %q after reset, want %q", got.Status, models.StatusUploading)
	}
}

func TestGetAwaitingAssembly(t *testing.T) {
	repo := NewUploadRepository(newTestDB(t))
	ctx := context.Background()

	complete := newTestUpload(1, "done.csv", 1)
	repo.Create(ctx, complete)
	repo.MarkChunkReceived(ctx, complete.ID, 0, 1000)

	partial := newTestUpload(1, "partial.csv", 2)
	repo.Create(ctx, partial)
	repo.MarkChunkReceived(ctx, partial.ID, 0, 500)

	waiting, err := repo.GetAwaitingAssembly(ctx)
	if err != nil {
		t.Fatalf("GetAwaitingAssembly() error: %v", err)
	}
	if len(waiting) != 1 || waiting[0].ID != complete.ID {
		t.Errorf("GetAwaitingAssembly() = %+v, want just upload %d", waiting, complete.ID)
	}
}

func TestListPagination(t *testing.T) {
	repo := NewUploadRepository(newTestDB(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		u := newTestUpload(1, fmt.Sprintf("log%d.csv", i), 1)
		if err := repo.Create(ctx, u); err != nil {
			t.Fatalf("Create(%d) error: %v", i, err)
		}
	}
	// Different fleet, must not appear.
	other := newTestUpload(9, "other.csv", 1)
	other.FleetID = 2
	repo.Create(ctx, other)

	page, numberPages, err := repo.List(ctx, 1, 0, 2)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(page) != 2 {
		t.Errorf("List() page length = %d, want 2", len(page))
	}
	if numberPages != 3 {
		t.Errorf("List() numberPages = %d, want 3", numberPages)
	}

	// Last page carries the remainder.
	page, _, err = repo.List(ctx, 1, 2, 2)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(page) != 1 {
		t.Errorf("last page length = %d, want 1", len(page))
	}

	// Page past the end is empty, not an error.
	page, _, err = repo.List(ctx, 1, 10, 2)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(page) != 0 {
		t.Errorf("past-the-end page length = %d, want 0", len(page))
	}
}

func TestDelete(t *testing.T) {
	repo := NewUploadRepository(newTestDB(t))
	ctx := context.Background()

	u := newTestUpload(1, "log.csv", 1)
	repo.Create(ctx, u)

	if err := repo.Delete(ctx, u.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	got, err := repo.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got != nil {
		t.Errorf("upload still present after Delete(): %+v", got)
	}
}

func TestGetStaleIncomplete(t *testing.T) {
	repo := NewUploadRepository(newTestDB(t))
	ctx := context.Background()

	u := newTestUpload(1, "stale.csv", 2)
	repo.Create(ctx, u)

	stale, err := repo.GetStaleIncomplete(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("GetStaleIncomplete() error: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != u.ID {
		t.Errorf("GetStaleIncomplete() = %+v, want upload %d", stale, u.ID)
	}

	stale, err = repo.GetStaleIncomplete(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("GetStaleIncomplete() error: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("GetStaleIncomplete() with past cutoff = %+v, want none", stale)
	}
}
