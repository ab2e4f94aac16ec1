package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fjmerc/airlift/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UploadRepository implements repository.UploadRepository for PostgreSQL.
type UploadRepository struct {
	pool *pgxpool.Pool
}

// NewUploadRepository creates a new PostgreSQL upload repository.
func NewUploadRepository(pool *pgxpool.Pool) *UploadRepository {
	return &UploadRepository{pool: pool}
}

const uploadColumns = `id, uploader_id, fleet_id, filename, identifier, size_bytes,
	number_chunks, md5_hash, uploaded_chunks, bytes_uploaded, chunk_status,
	status, error_message, start_time, end_time, last_activity`

// Create inserts a new upload record and assigns its server id.
func (r *UploadRepository) Create(ctx context.Context, upload *models.Upload) error {
	if upload == nil {
		return fmt.Errorf("upload cannot be nil")
	}
	if upload.NumberChunks <= 0 {
		return fmt.Errorf("number_chunks must be positive, got %d", upload.NumberChunks)
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

	err := r.pool.QueryRow(ctx, `
		INSERT INTO uploads (
			uploader_id, fleet_id, filename, identifier, size_bytes,
			number_chunks, md5_hash, uploaded_chunks, bytes_uploaded,
			chunk_status, status, error_message, start_time, last_activity
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
		RETURNING id`,
		upload.UploaderID,
		upload.FleetID,
		upload.Filename,
		upload.Identifier,
		upload.SizeBytes,
		upload.NumberChunks,
		upload.MD5Hash,
		upload.UploadedChunks,
		upload.BytesUploaded,
		upload.ChunkStatus,
		upload.Status,
		upload.ErrorMessage,
		upload.StartTime,
	).Scan(&upload.ID)
	if err != nil {
		return fmt.Errorf("failed to create upload: %w", err)
	}

	return nil
}

// GetByID retrieves an upload by server id. Returns nil, nil if not found.
func (r *UploadRepository) GetByID(ctx context.Context, id int64) (*models.Upload, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = $1`, id)
	return scanUpload(row)
}

// GetByOwnerAndFilename retrieves the upload owned by uploaderID with the
// given normalized filename. Returns nil, nil if not found.
func (r *UploadRepository) GetByOwnerAndFilename(ctx context.Context, uploaderID int64, filename string) (*models.Upload, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+uploadColumns+` FROM uploads WHERE uploader_id = $1 AND filename = $2`,
		uploaderID, filename)
	return scanUpload(row)
}

// List returns one page of a fleet's uploads, newest first.
func (r *UploadRepository) List(ctx context.Context, fleetID int64, currentPage, pageSize int) ([]models.Upload, int, error) {
	if pageSize <= 0 {
		return nil, 0, fmt.Errorf("page size must be positive, got %d", pageSize)
	}
	if currentPage < 0 {
		currentPage = 0
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM uploads WHERE fleet_id = $1`, fleetID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count uploads: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+uploadColumns+`
		FROM uploads WHERE fleet_id = $1
		ORDER BY start_time DESC, id DESC
		LIMIT $2 OFFSET $3`,
		fleetID, pageSize, currentPage*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list uploads: %w", err)
	}
	defer rows.Close()

	uploads := []models.Upload{}
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, 0, err
		}
		uploads = append(uploads, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate uploads: %w", err)
	}

	return uploads, pages(total, pageSize), nil
}

// MarkChunkReceived performs the chunk read-modify-write under a row lock so
// concurrent chunk PUTs for the same upload interleave safely.
func (r *UploadRepository) MarkChunkReceived(ctx context.Context, id int64, index int, chunkBytes int64) (*models.Upload, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = $1 FOR UPDATE`, id)
	upload, err := scanUpload(row)
	if err != nil {
		return nil, false, err
	}
	if upload == nil {
		return nil, false, nil
	}

	if index < 0 || index >= upload.NumberChunks {
		return nil, false, fmt.Errorf("chunk index %d out of range [0, %d)", index, upload.NumberChunks)
	}

	if upload.ChunkStatus[index] == '1' {
		if _, err := tx.Exec(ctx, `UPDATE uploads SET last_activity = now() WHERE id = $1`, id); err != nil {
			return nil, false, fmt.Errorf("failed to touch upload: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("failed to commit: %w", err)
		}
		return upload, false, nil
	}

	status := []byte(upload.ChunkStatus)
	status[index] = '1'
	upload.ChunkStatus = string(status)
	upload.UploadedChunks++
	upload.BytesUploaded += chunkBytes

	if _, err := tx.Exec(ctx, `
		UPDATE uploads
		SET chunk_status = $1, uploaded_chunks = $2, bytes_uploaded = $3, last_activity = now()
		WHERE id = $4`,
		upload.ChunkStatus, upload.UploadedChunks, upload.BytesUploaded, id,
	); err != nil {
		return nil, false, fmt.Errorf("failed to update chunk status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit: %w", err)
	}

	return upload, true, nil
}

// TryLockForAssembly atomically transitions UPLOADING -> ASSEMBLING.
func (r *UploadRepository) TryLockForAssembly(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE uploads SET status = $1
		WHERE id = $2 AND status = $3 AND uploaded_chunks = number_chunks`,
		models.StatusAssembling, id, models.StatusUploading,
	)
	if err != nil {
		return false, fmt.Errorf("failed to lock upload for assembly: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetAssembled marks the upload UPLOADED and stamps its end time.
func (r *UploadRepository) SetAssembled(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE uploads SET status = $1, error_message = '', end_time = now() WHERE id = $2`,
		models.StatusUploaded, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark upload assembled: %w", err)
	}
	return nil
}

// SetFailed marks the upload FAILED with an operator-visible message.
func (r *UploadRepository) SetFailed(ctx context.Context, id int64, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE uploads SET status = $1, error_message = $2, end_time = now() WHERE id = $3`,
		models.StatusFailed, message, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark upload failed: %w", err)
	}
	return nil
}

// ResetAssembling moves uploads stuck in ASSEMBLING back to UPLOADING.
func (r *UploadRepository) ResetAssembling(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE uploads SET status = $1 WHERE status = $2`,
		models.StatusUploading, models.StatusAssembling)
	if err != nil {
		return 0, fmt.Errorf("failed to reset assembling uploads: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResetForRetry rewinds a FAILED upload to a fresh UPLOADING state so the
// client re-sends every chunk.
func (r *UploadRepository) ResetForRetry(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE uploads
		SET status = $1,
			chunk_status = REPLACE(chunk_status, '1', '0'),
			uploaded_chunks = 0,
			bytes_uploaded = 0,
			error_message = '',
			end_time = NULL,
			last_activity = NOW()
		WHERE id = $2 AND status = $3`,
		models.StatusUploading, id, models.StatusFailed,
	)
	if err != nil {
		return fmt.Errorf("failed to reset upload for retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upload %d not in failed state", id)
	}
	return nil
}

// GetAwaitingAssembly returns uploads in UPLOADING with every chunk received.
func (r *UploadRepository) GetAwaitingAssembly(ctx context.Context) ([]models.Upload, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+uploadColumns+`
		FROM uploads WHERE status = $1 AND uploaded_chunks = number_chunks`,
		models.StatusUploading)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads awaiting assembly: %w", err)
	}
	defer rows.Close()

	var uploads []models.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, *u)
	}
	return uploads, rows.Err()
}

// Delete removes the upload record.
func (r *UploadRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM uploads WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
	}
	return nil
}

// GetStaleIncomplete returns incomplete uploads with no chunk activity since
// the cutoff.
func (r *UploadRepository) GetStaleIncomplete(ctx context.Context, cutoff time.Time) ([]models.Upload, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+uploadColumns+`
		FROM uploads WHERE status = $1 AND last_activity < $2`,
		models.StatusUploading, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale uploads: %w", err)
	}
	defer rows.Close()

	var uploads []models.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, *u)
	}
	return uploads, rows.Err()
}

func pages(total, pageSize int) int {
	p := total / pageSize
	if total%pageSize != 0 {
		p++
	}
	return p
}

func scanUpload(row pgx.Row) (*models.Upload, error) {
	var u models.Upload
	var endTime *time.Time
	var lastActivity time.Time

	err := row.Scan(
		&u.ID,
		&u.UploaderID,
		&u.FleetID,
		&u.Filename,
		&u.Identifier,
		&u.SizeBytes,
		&u.NumberChunks,
		&u.MD5Hash,
		&u.UploadedChunks,
		&u.BytesUploaded,
		&u.ChunkStatus,
		&u.Status,
		&u.ErrorMessage,
		&u.StartTime,
		&endTime,
		&lastActivity,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan upload: %w", err)
	}

	u.EndTime = endTime
	return &u, nil
}
