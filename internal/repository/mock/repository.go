// Package mock provides in-memory repository implementations for tests.
package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fjmerc/airlift/internal/models"
	"github.com/fjmerc/airlift/internal/repository"
)

// UploadRepository is an in-memory repository.UploadRepository.
type UploadRepository struct {
	mu           sync.Mutex
	nextID       int64
	uploads      map[int64]*models.Upload
	lastActivity map[int64]time.Time
}

// NewUploadRepository creates an empty in-memory upload repository.
func NewUploadRepository() *UploadRepository {
	return &UploadRepository{
		nextID:       1,
		uploads:      make(map[int64]*models.Upload),
		lastActivity: make(map[int64]time.Time),
	}
}

// NewRepositories bundles in-memory implementations of both ports.
func NewRepositories() *repository.Repositories {
	return &repository.Repositories{
		Uploads:      NewUploadRepository(),
		Imports:      NewImportRepository(),
		DatabaseType: "mock",
		Cleanup:      func() {},
		Ping:         func(ctx context.Context) error { return nil },
	}
}

func (r *UploadRepository) Create(ctx context.Context, upload *models.Upload) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.uploads {
		if u.UploaderID == upload.UploaderID && u.Filename == upload.Filename {
			return fmt.Errorf("upload already exists for uploader %d filename %q", upload.UploaderID, upload.Filename)
		}
	}

	if upload.ChunkStatus == "" {
		upload.ChunkStatus = strings.Repeat("0", upload.NumberChunks)
	}
	if upload.Status == "" {
		upload.Status = models.StatusUploading
	}
	if upload.StartTime.IsZero() {
		upload.StartTime = time.Now()
	}

	upload.ID = r.nextID
	r.nextID++

	cp := *upload
	r.uploads[upload.ID] = &cp
	r.lastActivity[upload.ID] = time.Now()
	return nil
}

func (r *UploadRepository) GetByID(ctx context.Context, id int64) (*models.Upload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.uploads[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *UploadRepository) GetByOwnerAndFilename(ctx context.Context, uploaderID int64, filename string) (*models.Upload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.uploads {
		if u.UploaderID == uploaderID && u.Filename == filename {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *UploadRepository) List(ctx context.Context, fleetID int64, currentPage, pageSize int) ([]models.Upload, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []models.Upload
	for _, u := range r.uploads {
		if u.FleetID == fleetID {
			all = append(all, *u)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	total := len(all)
	pages := repository.NumberPages(total, pageSize)

	start := currentPage * pageSize
	if start >= total {
		return []models.Upload{}, pages, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], pages, nil
}

func (r *UploadRepository) MarkChunkReceived(ctx context.Context, id int64, index int, chunkBytes int64) (*models.Upload, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.uploads[id]
	if !ok {
		return nil, false, nil
	}
	if index < 0 || index >= u.NumberChunks {
		return nil, false, fmt.Errorf("chunk index %d out of range [0, %d)", index, u.NumberChunks)
	}

	r.lastActivity[id] = time.Now()

	if u.ChunkStatus[index] == '1' {
		cp := *u
		return &cp, false, nil
	}

	status := []byte(u.ChunkStatus)
	status[index] = '1'
	u.ChunkStatus = string(status)
	u.UploadedChunks++
	u.BytesUploaded += chunkBytes

	cp := *u
	return &cp, true, nil
}

func (r *UploadRepository) TryLockForAssembly(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.uploads[id]
	if !ok {
		return false, nil
	}
	if u.Status != models.StatusUploading || u.UploadedChunks != u.NumberChunks {
		return false, nil
	}
	u.Status = models.StatusAssembling
	return true, nil
}

func (r *UploadRepository) SetAssembled(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.uploads[id]
	if !ok {
		return fmt.Errorf("upload %d not found", id)
	}
	now := time.Now()
	u.Status = models.StatusUploaded
	u.ErrorMessage = ""
	u.EndTime = &now
	return nil
}

func (r *UploadRepository) SetFailed(ctx context.Context, id int64, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.uploads[id]
	if !ok {
		return fmt.Errorf("upload %d not found", id)
	}
	now := time.Now()
	u.Status = models.StatusFailed
	u.ErrorMessage = message
	u.EndTime = &now
	return nil
}

func (r *UploadRepository) ResetAssembling(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, u := range r.uploads {
		if u.Status == models.StatusAssembling {
			u.Status = models.StatusUploading
			n++
		}
	}
	return n, nil
}

func (r *UploadRepository) ResetForRetry(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.uploads[id]
	if !ok || u.Status != models.StatusFailed {
		return fmt.Errorf("upload %d not in failed state", id)
	}
	u.Status = models.StatusUploading
	u.ChunkStatus = strings.Repeat("0", u.NumberChunks)
	u.UploadedChunks = 0
	u.BytesUploaded = 0
	u.ErrorMessage = ""
	u.EndTime = nil
	r.lastActivity[id] = time.Now()
	return nil
}

func (r *UploadRepository) GetAwaitingAssembly(ctx context.Context) ([]models.Upload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ready []models.Upload
	for _, u := range r.uploads {
		if u.Status == models.StatusUploading && u.UploadedChunks == u.NumberChunks {
			ready = append(ready, *u)
		}
	}
	return ready, nil
}

func (r *UploadRepository) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.uploads, id)
	delete(r.lastActivity, id)
	return nil
}

func (r *UploadRepository) GetStaleIncomplete(ctx context.Context, cutoff time.Time) ([]models.Upload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []models.Upload
	for id, u := range r.uploads {
		if u.Status == models.StatusUploading && r.lastActivity[id].Before(cutoff) {
			stale = append(stale, *u)
		}
	}
	return stale, nil
}

// ImportRepository is an in-memory repository.ImportRepository.
type ImportRepository struct {
	mu      sync.Mutex
	imports map[int64]*models.Import
}

// NewImportRepository creates an empty in-memory import repository.
func NewImportRepository() *ImportRepository {
	return &ImportRepository{imports: make(map[int64]*models.Import)}
}

func (r *ImportRepository) GetByUploadID(ctx context.Context, uploadID int64) (*models.Import, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	imp, ok := r.imports[uploadID]
	if !ok {
		return nil, nil
	}
	cp := *imp
	return &cp, nil
}

func (r *ImportRepository) List(ctx context.Context, fleetID int64, currentPage, pageSize int) ([]models.Import, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []models.Import
	for _, imp := range r.imports {
		all = append(all, *imp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	total := len(all)
	pages := repository.NumberPages(total, pageSize)

	start := currentPage * pageSize
	if start >= total {
		return []models.Import{}, pages, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], pages, nil
}

func (r *ImportRepository) Upsert(ctx context.Context, imp *models.Import) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *imp
	r.imports[imp.ID] = &cp
	return nil
}

func (r *ImportRepository) DeleteByUploadID(ctx context.Context, uploadID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.imports, uploadID)
	return nil
}
