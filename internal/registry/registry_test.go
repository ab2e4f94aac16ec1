package registry

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjmerc/airlift/internal/models"
	"github.com/fjmerc/airlift/internal/repository"
	"github.com/fjmerc/airlift/internal/repository/mock"
	"github.com/fjmerc/airlift/internal/staging"
	"github.com/fjmerc/airlift/internal/storage"
	"github.com/fjmerc/airlift/internal/storage/filesystem"
	"github.com/fjmerc/airlift/internal/utils"
)

const (
	testChunkSize   = 4
	testMaxFileSize = 1024
)

type testEnv struct {
	registry *Registry
	repos    *repository.Repositories
	staging  *staging.Store
	archive  *filesystem.Storage
	tracker  *utils.TransferTracker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repos := mock.NewRepositories()
	stagingStore, err := staging.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("staging.NewStore() error: %v", err)
	}
	archive, err := filesystem.New(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem.New() error: %v", err)
	}
	tracker := utils.NewTransferTracker()

	return &testEnv{
		registry: New(repos.Uploads, repos.Imports, stagingStore, archive, tracker, testChunkSize, testMaxFileSize),
		repos:    repos,
		staging:  stagingStore,
		archive:  archive,
		tracker:  tracker,
	}
}

func md5hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// chunks splits content into testChunkSize-sized pieces.
func chunks(content []byte) [][]byte {
	var out [][]byte
	for off := 0; off < len(content); off += testChunkSize {
		end := off + testChunkSize
		if end > len(content) {
			end = len(content)
		}
		out = append(out, content[off:end])
	}
	return out
}

func createRequest(filename string, content []byte) CreateRequest {
	return CreateRequest{
		UploaderID:   1,
		FleetID:      1,
		Filename:     filename,
		NumberChunks: len(chunks(content)),
		SizeBytes:    int64(len(content)),
		MD5Hash:      md5hex(content),
	}
}

// sendAll pushes every chunk of content to the upload in index order.
func sendAll(t *testing.T, env *testEnv, upload *models.Upload, content []byte) *models.Upload {
	t.Helper()
	ctx := context.Background()
	for i, c := range chunks(content) {
		updated, err := env.registry.AcceptChunk(ctx, upload.UploaderID, upload.ID, i, bytes.NewReader(c))
		if err != nil {
			t.Fatalf("AcceptChunk(%d) error: %v", i, err)
		}
		upload = updated
	}
	return upload
}

func TestCreateUpload(t *testing.T) {
	env := newTestEnv(t)
	content := []byte("aaaabbbbcc")

	u, err := env.registry.CreateOrResumeUpload(context.Background(), createRequest("log.csv", content))
	if err != nil {
		t.Fatalf("CreateOrResumeUpload() error: %v", err)
	}
	if u.ID == 0 {
		t.Error("new upload has no id")
	}
	if u.Status != models.StatusUploading {
		t.Errorf("Status = %q, want %q", u.Status, models.StatusUploading)
	}
	if u.ChunkStatus != "000" {
		t.Errorf("ChunkStatus = %q, want %q", u.ChunkStatus, "000")
	}
	if u.Identifier != "10-logcsv" {
		t.Errorf("Identifier = %q, want %q", u.Identifier, "10-logcsv")
	}
}

func TestCreateUploadNormalizesFilename(t *testing.T) {
	env := newTestEnv(t)
	content := []byte("aaaa")

	req := createRequest("/tmp/my flight log.csv", content)
	u, err := env.registry.CreateOrResumeUpload(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateOrResumeUpload() error: %v", err)
	}
	if u.Filename != "my_flight_log.csv" {
		t.Errorf("Filename = %q, want %q", u.Filename, "my_flight_log.csv")
	}
}

func TestCreateUploadValidation(t *testing.T) {
	env := newTestEnv(t)
	content := []byte("aaaabbbb")

	tests := []struct {
		name     string
		mutate   func(*CreateRequest)
		expected error
	}{
		{"bad filename", func(r *CreateRequest) { r.Filename = "bad\x00name" }, ErrInvalidFilename},
		{"zero chunks", func(r *CreateRequest) { r.NumberChunks = 0 }, ErrInvalidUploadParams},
		{"zero size", func(r *CreateRequest) { r.SizeBytes = 0 }, ErrInvalidUploadParams},
		{"short hash", func(r *CreateRequest) { r.MD5Hash = "abc123" }, ErrInvalidUploadParams},
		{"chunk count mismatch", func(r *CreateRequest) { r.NumberChunks = 5 }, ErrInvalidUploadParams},
		{"too large", func(r *CreateRequest) { r.SizeBytes = testMaxFileSize + 1; r.NumberChunks = (testMaxFileSize + 1 + testChunkSize - 1) / testChunkSize }, ErrFileTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := createRequest("log.csv", content)
			tt.mutate(&req)
			_, err := env.registry.CreateOrResumeUpload(context.Background(), req)
			if !errors.Is(err, tt.expected) {
				t.Errorf("CreateOrResumeUpload() error = %v, want %v", err, tt.expected)
			}
		})
	}
}

func TestResumeReturnsExistingProgress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := []byte("aaaabbbbcc")
	req := createRequest("log.csv", content)

	u, err := env.registry.CreateOrResumeUpload(ctx, req)
	if err != nil {
		t.Fatalf("CreateOrResumeUpload() error: %v", err)
	}

	if _, err := env.registry.AcceptChunk(ctx, 1, u.ID, 0, bytes.NewReader(chunks(content)[0])); err != nil {
		t.Fatalf("AcceptChunk() error: %v", err)
	}

	resumed, err := env.registry.CreateOrResumeUpload(ctx, req)
	if err != nil {
		t.Fatalf("CreateOrResumeUpload() resume error: %v", err)
	}
	if resumed.ID != u.ID {
		t.Errorf("resume created a new record: id %d != %d", resumed.ID, u.ID)
	}
	if resumed.UploadedChunks != 1 || resumed.ChunkStatus != "100" {
		t.Errorf("resume lost progress: chunks=%d status=%q", resumed.UploadedChunks, resumed.ChunkStatus)
	}
	if resumed.NextChunk() != 1 {
		t.Errorf("NextChunk() = %d after resume, want 1", resumed.NextChunk())
	}
}

func TestHashConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.registry.CreateOrResumeUpload(ctx, createRequest("log.csv", []byte("aaaabbbb"))); err != nil {
		t.Fatalf("CreateOrResumeUpload() error: %v", err)
	}

	// Same name, different content.
	_, err := env.registry.CreateOrResumeUpload(ctx, createRequest("log.csv", []byte("ccccdddd")))
	if !errors.Is(err, ErrHashConflict) {
		t.Errorf("CreateOrResumeUpload() error = %v, want ErrHashConflict", err)
	}
}

func TestAlreadyUploadedShortCircuit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := []byte("aaaabbbbcc")
	req := createRequest("log.csv", content)

	u, err := env.registry.CreateOrResumeUpload(ctx, req)
	if err != nil {
		t.Fatalf("CreateOrResumeUpload() error: %v", err)
	}
	sendAll(t, env, u, content)

	again, err := env.registry.CreateOrResumeUpload(ctx, req)
	if !errors.Is(err, ErrAlreadyUploaded) {
		t.Fatalf("CreateOrResumeUpload() error = %v, want ErrAlreadyUploaded", err)
	}
	if again == nil || again.ID != u.ID || again.Status != models.StatusUploaded {
		t.Errorf("dedup did not return the assembled record: %+v", again)
	}
}

func TestFullUploadAssembles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := []byte("aaaabbbbccccdd")
	req := createRequest("log.csv", content)

	u, err := env.registry.CreateOrResumeUpload(ctx, req)
	if err != nil {
		t.Fatalf("CreateOrResumeUpload() error: %v", err)
	}
	final := sendAll(t, env, u, content)

	if final.Status != models.StatusUploaded {
		t.Fatalf("Status = %q after all chunks, want %q", final.Status, models.StatusUploaded)
	}
	if final.EndTime == nil {
		t.Error("EndTime not stamped after assembly")
	}

	// The archived bytes match the original content.
	rc, err := env.archive.Retrieve(ctx, ArchiveKey(final))
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading archived file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("archived content = %q, want %q", got, content)
	}

	// Staged chunks are gone after a clean assembly.
	missing, err := env.staging.MissingChunks(u.UploaderID, u.Identifier, u.NumberChunks)
	if err != nil {
		t.Fatalf("MissingChunks() error: %v", err)
	}
	if len(missing) != u.NumberChunks {
		t.Errorf("%d staged chunks remain after assembly", u.NumberChunks-len(missing))
	}
}

// countingArchive counts Store calls so tests can assert an upload was
// assembled exactly once.
type countingArchive struct {
	storage.Backend
	stores atomic.Int64
}

func (c *countingArchive) Store(ctx context.Context, key string, reader io.Reader, size int64) (int64, error) {
	c.stores.Add(1)
	return c.Backend.Store(ctx, key, reader, size)
}

// uploadsWithHook lets tests interleave other operations at precise points
// inside AcceptChunk.
type uploadsWithHook struct {
	repository.UploadRepository
	afterGet   func()
	beforeMark func()
}

func (r *uploadsWithHook) GetByID(ctx context.Context, id int64) (*models.Upload, error) {
	u, err := r.UploadRepository.GetByID(ctx, id)
	if f := r.afterGet; f != nil {
		r.afterGet = nil
		f()
	}
	return u, err
}

func (r *uploadsWithHook) MarkChunkReceived(ctx context.Context, id int64, index int, chunkBytes int64) (*models.Upload, bool, error) {
	if f := r.beforeMark; f != nil {
		f()
	}
	return r.UploadRepository.MarkChunkReceived(ctx, id, index, chunkBytes)
}

func TestConcurrentChunksAssembleExactlyOnce(t *testing.T) {
	repos := mock.NewRepositories()
	hooked := &uploadsWithHook{UploadRepository: repos.Uploads}
	stagingStore, err := staging.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("staging.NewStore() error: %v", err)
	}
	fs, err := filesystem.New(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem.New() error: %v", err)
	}
	archive := &countingArchive{Backend: fs}
	reg := New(hooked, repos.Imports, stagingStore, archive, utils.NewTransferTracker(), testChunkSize, testMaxFileSize)

	ctx := context.Background()
	content := []byte("aaaabbbbccccddddeeeeffffgg")
	req := createRequest("log.csv", content)

	u, err := reg.CreateOrResumeUpload(ctx, req)
	if err != nil {
		t.Fatalf("CreateOrResumeUpload() error: %v", err)
	}
	parts := chunks(content)
	last := len(parts) - 1

	// Every chunk but the last twice, all in flight at once. The upload cannot
	// complete yet, so every call must succeed.
	var wg sync.WaitGroup
	errCh := make(chan error, 2*len(parts))
	for round := 0; round < 2; round++ {
		for i := 0; i < last; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := reg.AcceptChunk(ctx, u.UploaderID, u.ID, i, bytes.NewReader(parts[i])); err != nil {
					errCh <- err
				}
			}(i)
		}
	}
	wg.Wait()

	// Two copies of the final chunk race for the completing transition. The
	// barrier holds both past staging so the winner's assembly reads settled
	// bytes; exactly one of them may transition and assemble.
	var barrier sync.WaitGroup
	barrier.Add(2)
	hooked.beforeMark = func() {
		barrier.Done()
		barrier.Wait()
	}
	for round := 0; round < 2; round++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.AcceptChunk(ctx, u.UploaderID, u.ID, last, bytes.NewReader(parts[last]))
			if err != nil && !errors.Is(err, ErrAlreadyUploaded) {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	hooked.beforeMark = nil
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent AcceptChunk() error: %v", err)
	}

	if n := archive.stores.Load(); n != 1 {
		t.Errorf("assembly ran %d times, want exactly 1", n)
	}

	got, err := repos.Uploads.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Status != models.StatusUploaded {
		t.Fatalf("Status = %q, want %q", got.Status, models.StatusUploaded)
	}
	if got.UploadedChunks != got.NumberChunks || got.BytesUploaded != got.SizeBytes {
		t.Errorf("counters after concurrent upload: chunks=%d/%d bytes=%d/%d",
			got.UploadedChunks, got.NumberChunks, got.BytesUploaded, got.SizeBytes)
	}

	rc, err := fs.Retrieve(ctx, ArchiveKey(got))
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if !bytes.Equal(data, content) {
		t.Errorf("archived content = %q, want %q", data, content)
	}
}

func TestChunksAcceptedOutOfOrderAcrossSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := []byte("aaaabbbbccccddddee")
	req := createRequest("log.csv", content)

	u, err := env.registry.CreateOrResumeUpload(ctx, req)
	if err != nil {
		t.Fatalf("CreateOrResumeUpload() error: %v", err)
	}
	parts := chunks(content)

	// Scrambled delivery order; the final index is not the last to arrive.
	order := []int{3, 0, 4, 1, 2}
	for sent, idx := range order {
		if sent == 2 {
			// A new client session re-announces the file mid-stream.
			resumed, err := env.registry.CreateOrResumeUpload(ctx, req)
			if err != nil {
				t.Fatalf("CreateOrResumeUpload() resume error: %v", err)
			}
			if resumed.ID != u.ID {
				t.Fatalf("resume created a new record: id %d != %d", resumed.ID, u.ID)
			}
			if resumed.UploadedChunks != 2 || resumed.ChunkStatus != "10010" {
				t.Fatalf("resume mid-stream: chunks=%d status=%q", resumed.UploadedChunks, resumed.ChunkStatus)
			}
		}
		if _, err := env.registry.AcceptChunk(ctx, 1, u.ID, idx, bytes.NewReader(parts[idx])); err != nil {
			t.Fatalf("AcceptChunk(%d) error: %v", idx, err)
		}
	}

	got, _ := env.repos.Uploads.GetByID(ctx, u.ID)
	if got.Status != models.StatusUploaded {
		t.Fatalf("Status = %q after out-of-order upload, want %q", got.Status, models.StatusUploaded)
	}

	rc, err := env.archive.Retrieve(ctx, ArchiveKey(got))
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if !bytes.Equal(data, content) {
		t.Errorf("archived content = %q, want %q", data, content)
	}
}

func TestDuplicateChunkNotDoubleCounted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := []byte("aaaabbbbcc")
	req := createRequest("log.csv", content)

	u, _ := env.registry.CreateOrResumeUpload(ctx, req)
	first := chunks(content)[0]

	updated, err := env.registry.AcceptChunk(ctx, 1, u.ID, 0, bytes.NewReader(first))
	if err != nil {
		t.Fatalf("AcceptChunk() error: %v", err)
	}
	if updated.UploadedChunks != 1 || updated.BytesUploaded != int64(len(first)) {
		t.Fatalf("after first chunk: chunks=%d bytes=%d", updated.UploadedChunks, updated.BytesUploaded)
	}

	updated, err = env.registry.AcceptChunk(ctx, 1, u.ID, 0, bytes.NewReader(first))
	if err != nil {
		t.Fatalf("AcceptChunk() repeat error: %v", err)
	}
	if updated.UploadedChunks != 1 || updated.BytesUploaded != int64(len(first)) {
		t.Errorf("duplicate chunk double-counted: chunks=%d bytes=%d", updated.UploadedChunks, updated.BytesUploaded)
	}
	if updated.Status != models.StatusUploading {
		t.Errorf("Status = %q after duplicate chunk, want %q", updated.Status, models.StatusUploading)
	}
}

func TestChunkValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := []byte("aaaabbbbcc")

	u, _ := env.registry.CreateOrResumeUpload(ctx, createRequest("log.csv", content))

	// Wrong uploader.
	_, err := env.registry.AcceptChunk(ctx, 99, u.ID, 0, strings.NewReader("aaaa"))
	if !errors.Is(err, ErrUploadNotFound) {
		t.Errorf("wrong uploader: error = %v, want ErrUploadNotFound", err)
	}

	// Index out of range.
	_, err = env.registry.AcceptChunk(ctx, 1, u.ID, 3, strings.NewReader("aaaa"))
	if !errors.Is(err, ErrInvalidChunk) {
		t.Errorf("index out of range: error = %v, want ErrInvalidChunk", err)
	}

	// Interior chunk too short.
	_, err = env.registry.AcceptChunk(ctx, 1, u.ID, 0, strings.NewReader("aa"))
	if !errors.Is(err, ErrInvalidChunk) {
		t.Errorf("short chunk: error = %v, want ErrInvalidChunk", err)
	}

	// Interior chunk too long.
	_, err = env.registry.AcceptChunk(ctx, 1, u.ID, 0, strings.NewReader("aaaaaaaa"))
	if !errors.Is(err, ErrInvalidChunk) {
		t.Errorf("oversized chunk: error = %v, want ErrInvalidChunk", err)
	}

	// A rejected chunk leaves the counters untouched.
	got, _ := env.repos.Uploads.GetByID(ctx, u.ID)
	if got.UploadedChunks != 0 || got.BytesUploaded != 0 {
		t.Errorf("rejected chunks mutated progress: chunks=%d bytes=%d", got.UploadedChunks, got.BytesUploaded)
	}
}

func TestCorruptionFailsUploadAndKeepsChunks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := []byte("aaaabbbbcc")
	req := createRequest("log.csv", content)

	u, _ := env.registry.CreateOrResumeUpload(ctx, req)

	// Send the right lengths but wrong bytes for chunk 1, so every chunk is
	// accepted and the declared hash only fails at assembly time.
	parts := chunks(content)
	env.registry.AcceptChunk(ctx, 1, u.ID, 0, bytes.NewReader(parts[0]))
	env.registry.AcceptChunk(ctx, 1, u.ID, 1, strings.NewReader("XXXX"))
	_, err := env.registry.AcceptChunk(ctx, 1, u.ID, 2, bytes.NewReader(parts[2]))
	if !errors.Is(err, ErrAssemblyCorruption) {
		t.Fatalf("final chunk error = %v, want ErrAssemblyCorruption", err)
	}

	got, _ := env.repos.Uploads.GetByID(ctx, u.ID)
	if got.Status != models.StatusFailed {
		t.Errorf("Status = %q after corrupt assembly, want %q", got.Status, models.StatusFailed)
	}
	if got.ErrorMessage == "" {
		t.Error("no error message recorded for corrupt assembly")
	}

	// Staged chunks stay for inspection; the partial archive object is gone.
	missing, _ := env.staging.MissingChunks(u.UploaderID, u.Identifier, u.NumberChunks)
	if len(missing) != 0 {
		t.Errorf("staged chunks missing after corrupt assembly: %v", missing)
	}
	exists, err := env.archive.Exists(ctx, ArchiveKey(got))
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if exists {
		t.Error("partial archive object left behind after corrupt assembly")
	}
}

func TestFailedUploadRewindsOnRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := []byte("aaaabbbbcc")
	req := createRequest("log.csv", content)

	u, _ := env.registry.CreateOrResumeUpload(ctx, req)
	parts := chunks(content)
	env.registry.AcceptChunk(ctx, 1, u.ID, 0, bytes.NewReader(parts[0]))
	env.registry.AcceptChunk(ctx, 1, u.ID, 1, strings.NewReader("XXXX"))
	env.registry.AcceptChunk(ctx, 1, u.ID, 2, bytes.NewReader(parts[2]))

	// Client retries the same file. The record rewinds and the suspect
	// staged bytes are purged.
	retried, err := env.registry.CreateOrResumeUpload(ctx, req)
	if err != nil {
		t.Fatalf("CreateOrResumeUpload() retry error: %v", err)
	}
	if retried.ID != u.ID {
		t.Errorf("retry created a new record: id %d != %d", retried.ID, u.ID)
	}
	if retried.Status != models.StatusUploading || retried.ChunkStatus != "000" || retried.UploadedChunks != 0 {
		t.Errorf("retry did not rewind: status=%q chunks=%q uploaded=%d", retried.Status, retried.ChunkStatus, retried.UploadedChunks)
	}
	missing, _ := env.staging.MissingChunks(u.UploaderID, u.Identifier, u.NumberChunks)
	if len(missing) != u.NumberChunks {
		t.Error("suspect staged chunks survived the retry rewind")
	}

	// Re-sending the true bytes now completes the upload.
	final := sendAll(t, env, retried, content)
	if final.Status != models.StatusUploaded {
		t.Errorf("Status = %q after retry upload, want %q", final.Status, models.StatusUploaded)
	}
}

func TestDeleteUpload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := []byte("aaaabbbbcc")

	u, _ := env.registry.CreateOrResumeUpload(ctx, createRequest("log.csv", content))
	final := sendAll(t, env, u, content)

	env.repos.Imports.Upsert(ctx, &models.Import{ID: u.ID, Filename: u.Filename, Status: models.ImportStatusProcessedOK})

	if err := env.registry.DeleteUpload(ctx, 1, u.ID); err != nil {
		t.Fatalf("DeleteUpload() error: %v", err)
	}

	got, _ := env.repos.Uploads.GetByID(ctx, u.ID)
	if got != nil {
		t.Error("upload record survived delete")
	}
	imp, _ := env.repos.Imports.GetByUploadID(ctx, u.ID)
	if imp != nil {
		t.Error("import record survived delete")
	}
	exists, _ := env.archive.Exists(ctx, ArchiveKey(final))
	if exists {
		t.Error("archived file survived delete")
	}
}

func TestDeleteUploadWrongOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u, _ := env.registry.CreateOrResumeUpload(ctx, createRequest("log.csv", []byte("aaaa")))

	err := env.registry.DeleteUpload(ctx, 99, u.ID)
	if !errors.Is(err, ErrUploadNotFound) {
		t.Errorf("DeleteUpload() error = %v, want ErrUploadNotFound", err)
	}
	got, _ := env.repos.Uploads.GetByID(ctx, u.ID)
	if got == nil {
		t.Error("upload deleted by non-owner")
	}
}

func TestChunkRacingDeleteLeavesNoStagedOrphans(t *testing.T) {
	repos := mock.NewRepositories()
	hooked := &uploadsWithHook{UploadRepository: repos.Uploads}
	stagingStore, err := staging.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("staging.NewStore() error: %v", err)
	}
	archive, err := filesystem.New(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem.New() error: %v", err)
	}
	reg := New(hooked, repos.Imports, stagingStore, archive, utils.NewTransferTracker(), testChunkSize, testMaxFileSize)

	ctx := context.Background()
	content := []byte("aaaabbbbcc")
	u, err := reg.CreateOrResumeUpload(ctx, createRequest("log.csv", content))
	if err != nil {
		t.Fatalf("CreateOrResumeUpload() error: %v", err)
	}

	// The delete lands after the chunk request loaded the record but before it
	// staged any bytes, so the chunk write re-creates the staging directory
	// the delete already removed.
	hooked.afterGet = func() {
		if err := reg.DeleteUpload(ctx, 1, u.ID); err != nil {
			t.Errorf("DeleteUpload() error: %v", err)
		}
	}

	_, err = reg.AcceptChunk(ctx, 1, u.ID, 0, bytes.NewReader(chunks(content)[0]))
	if !errors.Is(err, ErrUploadNotFound) {
		t.Fatalf("AcceptChunk() error = %v, want ErrUploadNotFound", err)
	}

	got, _ := repos.Uploads.GetByID(ctx, u.ID)
	if got != nil {
		t.Error("upload record survived delete")
	}
	if _, err := os.Stat(stagingStore.UploadDir(1, u.Identifier)); !os.IsNotExist(err) {
		t.Errorf("orphan staging directory survived the racing delete (stat err: %v)", err)
	}
}

func TestOpenArchivedFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := []byte("aaaabbbbcc")
	req := createRequest("log.csv", content)

	u, _ := env.registry.CreateOrResumeUpload(ctx, req)

	// Not assembled yet.
	_, _, err := env.registry.OpenArchivedFile(ctx, 1, u.ID, "")
	if !errors.Is(err, ErrUploadNotAssembled) {
		t.Errorf("pre-assembly error = %v, want ErrUploadNotAssembled", err)
	}

	sendAll(t, env, u, content)

	// Wrong fleet.
	_, _, err = env.registry.OpenArchivedFile(ctx, 99, u.ID, "")
	if !errors.Is(err, ErrUploadNotFound) {
		t.Errorf("wrong fleet error = %v, want ErrUploadNotFound", err)
	}

	// Mismatched hash pin.
	_, _, err = env.registry.OpenArchivedFile(ctx, 1, u.ID, strings.Repeat("f", 32))
	if !errors.Is(err, ErrUploadNotFound) {
		t.Errorf("hash pin mismatch error = %v, want ErrUploadNotFound", err)
	}

	// Matching hash pin is case-insensitive.
	got, rc, err := env.registry.OpenArchivedFile(ctx, 1, u.ID, strings.ToUpper(req.MD5Hash))
	if err != nil {
		t.Fatalf("OpenArchivedFile() error: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if !bytes.Equal(data, content) {
		t.Errorf("archived content = %q, want %q", data, content)
	}
	if got.ID != u.ID {
		t.Errorf("record id = %d, want %d", got.ID, u.ID)
	}
}

func TestRecoverInterruptedAssembles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := []byte("aaaabbbbcc")
	req := createRequest("log.csv", content)

	u, _ := env.registry.CreateOrResumeUpload(ctx, req)

	// Simulate a crash after the last chunk was staged and counted but
	// before assembly: stage the bytes and mark every chunk directly.
	for i, c := range chunks(content) {
		if _, err := env.staging.SaveChunk(u.UploaderID, u.Identifier, i, bytes.NewReader(c)); err != nil {
			t.Fatalf("SaveChunk(%d) error: %v", i, err)
		}
		if _, _, err := env.repos.Uploads.MarkChunkReceived(ctx, u.ID, i, int64(len(c))); err != nil {
			t.Fatalf("MarkChunkReceived(%d) error: %v", i, err)
		}
	}

	if err := env.registry.RecoverInterrupted(ctx); err != nil {
		t.Fatalf("RecoverInterrupted() error: %v", err)
	}

	got, _ := env.repos.Uploads.GetByID(ctx, u.ID)
	if got.Status != models.StatusUploaded {
		t.Errorf("Status = %q after recovery, want %q", got.Status, models.StatusUploaded)
	}
	exists, _ := env.archive.Exists(ctx, ArchiveKey(got))
	if !exists {
		t.Error("recovery did not archive the completed upload")
	}
}

func TestRecoverInterruptedMissingChunksFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := []byte("aaaabbbbcc")

	u, _ := env.registry.CreateOrResumeUpload(ctx, createRequest("log.csv", content))

	// Counters say complete, but the staged bytes are gone.
	for i, c := range chunks(content) {
		if _, _, err := env.repos.Uploads.MarkChunkReceived(ctx, u.ID, i, int64(len(c))); err != nil {
			t.Fatalf("MarkChunkReceived(%d) error: %v", i, err)
		}
	}

	if err := env.registry.RecoverInterrupted(ctx); err != nil {
		t.Fatalf("RecoverInterrupted() error: %v", err)
	}

	got, _ := env.repos.Uploads.GetByID(ctx, u.ID)
	if got.Status != models.StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, models.StatusFailed)
	}
}

func TestReapStaleUploads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stale, _ := env.registry.CreateOrResumeUpload(ctx, createRequest("stale.csv", []byte("aaaa")))

	done := []byte("bbbb")
	finished, _ := env.registry.CreateOrResumeUpload(ctx, createRequest("done.csv", done))
	sendAll(t, env, finished, done)

	reaped, err := env.registry.ReapStaleUploads(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ReapStaleUploads() error: %v", err)
	}
	if reaped != 1 {
		t.Errorf("ReapStaleUploads() = %d, want 1", reaped)
	}

	got, _ := env.repos.Uploads.GetByID(ctx, stale.ID)
	if got != nil {
		t.Error("stale upload survived the reaper")
	}
	got, _ = env.repos.Uploads.GetByID(ctx, finished.ID)
	if got == nil {
		t.Error("assembled upload was reaped")
	}
}

func TestAcceptChunkDuringShutdown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := []byte("aaaabbbbcc")

	u, _ := env.registry.CreateOrResumeUpload(ctx, createRequest("log.csv", content))

	env.tracker.BeginShutdown()

	_, err := env.registry.AcceptChunk(ctx, 1, u.ID, 0, bytes.NewReader(chunks(content)[0]))
	if !errors.Is(err, ErrShuttingDown) {
		t.Errorf("AcceptChunk() error = %v, want ErrShuttingDown", err)
	}
}
