package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/fjmerc/airlift/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ImportRepository implements repository.ImportRepository for PostgreSQL.
type ImportRepository struct {
	pool *pgxpool.Pool
}

// NewImportRepository creates a new PostgreSQL import repository.
func NewImportRepository(pool *pgxpool.Pool) *ImportRepository {
	return &ImportRepository{pool: pool}
}

// GetByUploadID retrieves the import result for an upload. Returns nil, nil
// if the pipeline has not processed it yet.
func (r *ImportRepository) GetByUploadID(ctx context.Context, uploadID int64) (*models.Import, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT upload_id, filename, status, valid_flights, warning_flights, error_flights, end_time
		FROM imports WHERE upload_id = $1`, uploadID)
	return scanImport(row)
}

// List returns one page of a fleet's import results, newest upload first.
func (r *ImportRepository) List(ctx context.Context, fleetID int64, currentPage, pageSize int) ([]models.Import, int, error) {
	if pageSize <= 0 {
		return nil, 0, fmt.Errorf("page size must be positive, got %d", pageSize)
	}
	if currentPage < 0 {
		currentPage = 0
	}

	var total int
	if err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM imports i
		JOIN uploads u ON u.id = i.upload_id
		WHERE u.fleet_id = $1`, fleetID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count imports: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT i.upload_id, i.filename, i.status, i.valid_flights, i.warning_flights, i.error_flights, i.end_time
		FROM imports i
		JOIN uploads u ON u.id = i.upload_id
		WHERE u.fleet_id = $1
		ORDER BY i.upload_id DESC
		LIMIT $2 OFFSET $3`, fleetID, pageSize, currentPage*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list imports: %w", err)
	}
	defer rows.Close()

	imports := []models.Import{}
	for rows.Next() {
		imp, err := scanImport(rows)
		if err != nil {
			return nil, 0, err
		}
		imports = append(imports, *imp)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate imports: %w", err)
	}

	return imports, pages(total, pageSize), nil
}

// Upsert inserts or replaces an import result.
func (r *ImportRepository) Upsert(ctx context.Context, imp *models.Import) error {
	if imp == nil {
		return fmt.Errorf("import cannot be nil")
	}

	var endTime *time.Time
	if imp.EndTime != nil {
		endTime = imp.EndTime
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO imports (upload_id, filename, status, valid_flights, warning_flights, error_flights, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (upload_id) DO UPDATE SET
			filename = EXCLUDED.filename,
			status = EXCLUDED.status,
			valid_flights = EXCLUDED.valid_flights,
			warning_flights = EXCLUDED.warning_flights,
			error_flights = EXCLUDED.error_flights,
			end_time = EXCLUDED.end_time`,
		imp.ID, imp.Filename, imp.Status, imp.ValidFlights, imp.WarningFlights, imp.ErrorFlights, endTime,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert import: %w", err)
	}
	return nil
}

// DeleteByUploadID removes the import row tied to a deleted upload.
func (r *ImportRepository) DeleteByUploadID(ctx context.Context, uploadID int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM imports WHERE upload_id = $1`, uploadID); err != nil {
		return fmt.Errorf("failed to delete import: %w", err)
	}
	return nil
}

func scanImport(row pgx.Row) (*models.Import, error) {
	var imp models.Import
	var endTime *time.Time

	err := row.Scan(
		&imp.ID,
		&imp.Filename,
		&imp.Status,
		&imp.ValidFlights,
		&imp.WarningFlights,
		&imp.ErrorFlights,
		&endTime,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan import: %w", err)
	}

	imp.EndTime = endTime
	return &imp, nil
}
