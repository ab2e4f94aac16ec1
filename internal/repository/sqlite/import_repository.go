package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fjmerc/airlift/internal/models"
)

// ImportRepository implements repository.ImportRepository for SQLite. Import
// rows are produced by the flight-data pipeline; this service reads them and
// removes them when the owning upload is deleted.
type ImportRepository struct {
	db *sql.DB
}

// NewImportRepository creates a new SQLite import repository.
func NewImportRepository(db *sql.DB) *ImportRepository {
	return &ImportRepository{db: db}
}

// GetByUploadID retrieves the import result for an upload. Returns nil, nil
// if the pipeline has not processed it yet.
func (r *ImportRepository) GetByUploadID(ctx context.Context, uploadID int64) (*models.Import, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT upload_id, filename, status, valid_flights, warning_flights, error_flights, end_time
		FROM imports WHERE upload_id = ?`, uploadID)

	imp, err := scanImport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return imp, err
}

// List returns one page of a fleet's import results, newest upload first.
// Fleet membership comes from the owning upload row.
func (r *ImportRepository) List(ctx context.Context, fleetID int64, currentPage, pageSize int) ([]models.Import, int, error) {
	if pageSize <= 0 {
		return nil, 0, fmt.Errorf("page size must be positive, got %d", pageSize)
	}
	if currentPage < 0 {
		currentPage = 0
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM imports i
		JOIN uploads u ON u.id = i.upload_id
		WHERE u.fleet_id = ?`, fleetID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count imports: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT i.upload_id, i.filename, i.status, i.valid_flights, i.warning_flights, i.error_flights, i.end_time
		FROM imports i
		JOIN uploads u ON u.id = i.upload_id
		WHERE u.fleet_id = ?
		ORDER BY i.upload_id DESC
		LIMIT ? OFFSET ?`, fleetID, pageSize, currentPage*pageSize)
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

// Upsert inserts or replaces an import result. Called by the pipeline's
// writer process; the upload core never mutates import rows.
func (r *ImportRepository) Upsert(ctx context.Context, imp *models.Import) error {
	if imp == nil {
		return fmt.Errorf("import cannot be nil")
	}

	var endTime any
	if imp.EndTime != nil {
		endTime = timeString(*imp.EndTime)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO imports (upload_id, filename, status, valid_flights, warning_flights, error_flights, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(upload_id) DO UPDATE SET
			filename = excluded.filename,
			status = excluded.status,
			valid_flights = excluded.valid_flights,
			warning_flights = excluded.warning_flights,
			error_flights = excluded.error_flights,
			end_time = excluded.end_time`,
		imp.ID, imp.Filename, imp.Status, imp.ValidFlights, imp.WarningFlights, imp.ErrorFlights, endTime,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert import: %w", err)
	}
	return nil
}

// DeleteByUploadID removes the import row tied to a deleted upload.
func (r *ImportRepository) DeleteByUploadID(ctx context.Context, uploadID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM imports WHERE upload_id = ?`, uploadID)
	if err != nil {
		return fmt.Errorf("failed to delete import: %w", err)
	}
	return nil
}

func scanImport(s rowScanner) (*models.Import, error) {
	var imp models.Import
	var endTime sql.NullString

	err := s.Scan(
		&imp.ID,
		&imp.Filename,
		&imp.Status,
		&imp.ValidFlights,
		&imp.WarningFlights,
		&imp.ErrorFlights,
		&endTime,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan import: %w", err)
	}

	if endTime.Valid {
		t := parseTime(endTime.String)
		imp.EndTime = &t
	}

	return &imp, nil
}
