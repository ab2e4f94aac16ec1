package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fjmerc/airlift/internal/models"
)

// UploadRepository implements repository.UploadRepository for SQLite.
type UploadRepository struct {
	db *sql.DB
}

// NewUploadRepository creates a new SQLite upload repository.
func NewUploadRepository(db *sql.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

const uploadColumns = `id, uploader_id, fleet_id, filename, identifier, size_bytes,
	number_chunks, md5_hash, uploaded_chunks, bytes_uploaded, chunk_status,
	status, error_message, start_time, end_time, last_activity`

// Create inserts a new upload record and assigns its server id.
func (r *UploadRepository) Create(ctx context.Context, upload *models.Upload) error {
	if upload == nil {
		return fmt.Errorf("upload cannot be nil")
	}
	if upload.Filename == "" {
		return fmt.Errorf("filename cannot be empty")
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
	now := time.Now()
	if upload.StartTime.IsZero() {
		upload.StartTime = now
	}

	query := `
		INSERT INTO uploads (
			uploader_id, fleet_id, filename, identifier, size_bytes,
			number_chunks, md5_hash, uploaded_chunks, bytes_uploaded,
			chunk_status, status, error_message, start_time, last_activity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
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
		timeString(upload.StartTime),
		timeString(now),
	)
	if err != nil {
		return fmt.Errorf("failed to create upload: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get upload id: %w", err)
	}
	upload.ID = id

	return nil
}

// GetByID retrieves an upload by server id. Returns nil, nil if not found.
func (r *UploadRepository) GetByID(ctx context.Context, id int64) (*models.Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE id = ?`
	return scanUpload(r.db.QueryRowContext(ctx, query, id))
}

// GetByOwnerAndFilename retrieves the upload owned by uploaderID with the
// given normalized filename. Returns nil, nil if not found.
func (r *UploadRepository) GetByOwnerAndFilename(ctx context.Context, uploaderID int64, filename string) (*models.Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE uploader_id = ? AND filename = ?`
	return scanUpload(r.db.QueryRowContext(ctx, query, uploaderID, filename))
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
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM uploads WHERE fleet_id = ?`, fleetID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count uploads: %w", err)
	}

	query := `SELECT ` + uploadColumns + `
		FROM uploads WHERE fleet_id = ?
		ORDER BY start_time DESC, id DESC
		LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, fleetID, pageSize, currentPage*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list uploads: %w", err)
	}
	defer rows.Close()

	uploads := []models.Upload{}
	for rows.Next() {
		u, err := scanUploadRows(rows)
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

// MarkChunkReceived performs the transactional read-modify-write for one
// accepted chunk. Re-submissions of an already-received index leave the
// counters untouched so progress is never double-counted.
func (r *UploadRepository) MarkChunkReceived(ctx context.Context, id int64, index int, chunkBytes int64) (*models.Upload, bool, error) {
	const maxRetries = 5
	baseDelay := 50 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		upload, changed, err := r.markChunkReceivedOnce(ctx, id, index, chunkBytes)
		if err == nil {
			return upload, changed, nil
		}
		lastErr = err

		if !isBusyError(err) {
			return nil, false, err
		}

		if attempt < maxRetries-1 {
			select {
			case <-time.After(baseDelay << attempt):
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		}
	}

	return nil, false, fmt.Errorf("chunk update failed after %d attempts: %w", maxRetries, lastErr)
}

func (r *UploadRepository) markChunkReceivedOnce(ctx context.Context, id int64, index int, chunkBytes int64) (*models.Upload, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upload, err := scanUpload(tx.QueryRowContext(ctx,
		`SELECT `+uploadColumns+` FROM uploads WHERE id = ?`, id))
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
		// Already received: the staged bytes were overwritten but the
		// counters stay put.
		if _, err := tx.ExecContext(ctx,
			`UPDATE uploads SET last_activity = ? WHERE id = ?`,
			timeString(time.Now()), id,
		); err != nil {
			return nil, false, fmt.Errorf("failed to touch upload: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit: %w", err)
		}
		return upload, false, nil
	}

	status := []byte(upload.ChunkStatus)
	status[index] = '1'
	upload.ChunkStatus = string(status)
	upload.UploadedChunks++
	upload.BytesUploaded += chunkBytes

	if _, err := tx.ExecContext(ctx, `
		UPDATE uploads
		SET chunk_status = ?, uploaded_chunks = ?, bytes_uploaded = ?, last_activity = ?
		WHERE id = ?`,
		upload.ChunkStatus,
		upload.UploadedChunks,
		upload.BytesUploaded,
		timeString(time.Now()),
		id,
	); err != nil {
		return nil, false, fmt.Errorf("failed to update chunk status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit: %w", err)
	}

	return upload, true, nil
}

// TryLockForAssembly atomically transitions UPLOADING -> ASSEMBLING once all
// chunks are in. Exactly one caller wins even when the final chunks land
// nearly simultaneously.
func (r *UploadRepository) TryLockForAssembly(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE uploads SET status = ?
		WHERE id = ? AND status = ? AND uploaded_chunks = number_chunks`,
		models.StatusAssembling, id, models.StatusUploading,
	)
	if err != nil {
		return false, fmt.Errorf("failed to lock upload for assembly: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// SetAssembled marks the upload UPLOADED and stamps its end time.
func (r *UploadRepository) SetAssembled(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE uploads SET status = ?, error_message = '', end_time = ? WHERE id = ?`,
		models.StatusUploaded, timeString(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark upload assembled: %w", err)
	}
	return nil
}

// SetFailed marks the upload FAILED with an operator-visible message.
func (r *UploadRepository) SetFailed(ctx context.Context, id int64, message string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE uploads SET status = ?, error_message = ?, end_time = ? WHERE id = ?`,
		models.StatusFailed, message, timeString(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark upload failed: %w", err)
	}
	return nil
}

// ResetAssembling moves uploads stuck in ASSEMBLING back to UPLOADING so a
// recovery pass can retrigger assembly.
func (r *UploadRepository) ResetAssembling(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE uploads SET status = ? WHERE status = ?`,
		models.StatusUploading, models.StatusAssembling,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset assembling uploads: %w", err)
	}
	return result.RowsAffected()
}

// ResetForRetry rewinds a FAILED upload to a fresh UPLOADING state so the
// client re-sends every chunk.
func (r *UploadRepository) ResetForRetry(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE uploads
		SET status = ?,
			chunk_status = REPLACE(chunk_status, '1', '0'),
			uploaded_chunks = 0,
			bytes_uploaded = 0,
			error_message = '',
			end_time = NULL,
			last_activity = ?
		WHERE id = ? AND status = ?`,
		models.StatusUploading, timeString(time.Now()), id, models.StatusFailed,
	)
	if err != nil {
		return fmt.Errorf("failed to reset upload for retry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("upload %d not in failed state", id)
	}
	return nil
}

// GetAwaitingAssembly returns uploads in UPLOADING with every chunk received.
func (r *UploadRepository) GetAwaitingAssembly(ctx context.Context) ([]models.Upload, error) {
	query := `SELECT ` + uploadColumns + `
		FROM uploads
		WHERE status = ? AND uploaded_chunks = number_chunks`

	rows, err := r.db.QueryContext(ctx, query, models.StatusUploading)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads awaiting assembly: %w", err)
	}
	defer rows.Close()

	var uploads []models.Upload
	for rows.Next() {
		u, err := scanUploadRows(rows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, *u)
	}
	return uploads, rows.Err()
}

// Delete removes the upload record.
func (r *UploadRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
	}
	return nil
}

// GetStaleIncomplete returns incomplete uploads with no chunk activity since
// the cutoff.
func (r *UploadRepository) GetStaleIncomplete(ctx context.Context, cutoff time.Time) ([]models.Upload, error) {
	query := `SELECT ` + uploadColumns + `
		FROM uploads
		WHERE status = ? AND last_activity < ?`

	rows, err := r.db.QueryContext(ctx, query, models.StatusUploading, timeString(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to query stale uploads: %w", err)
	}
	defer rows.Close()

	var uploads []models.Upload
	for rows.Next() {
		u, err := scanUploadRows(rows)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpload(row *sql.Row) (*models.Upload, error) {
	u, err := scanUploadFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func scanUploadRows(rows *sql.Rows) (*models.Upload, error) {
	return scanUploadFrom(rows)
}

func scanUploadFrom(s rowScanner) (*models.Upload, error) {
	var u models.Upload
	var startTime, lastActivity string
	var endTime sql.NullString

	err := s.Scan(
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
		&startTime,
		&endTime,
		&lastActivity,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan upload: %w", err)
	}

	u.StartTime = parseTime(startTime)
	if endTime.Valid {
		t := parseTime(endTime.String)
		u.EndTime = &t
	}
	_ = lastActivity // bookkeeping column, not exposed on the model

	return &u, nil
}
