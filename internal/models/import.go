package models

import "time"

// Import pipeline statuses surfaced read-only through this service.
const (
	ImportStatusProcessing       = "PROCESSING"
	ImportStatusProcessedOK      = "PROCESSED_OK"
	ImportStatusProcessedWarning = "PROCESSED_WARNING"
	ImportStatusFailedUnknown    = "FAILED_UNKNOWN"
)

// Import carries the outcome of the external flight-data import pipeline for
// one assembled upload. The pipeline owns these rows; this service only reads
// them. ID matches the upload id.
type Import struct {
	ID             int64      `json:"id"`
	Filename       string     `json:"filename"`
	Status         string     `json:"status"`
	ValidFlights   int        `json:"validFlights"`
	WarningFlights int        `json:"warningFlights"`
	ErrorFlights   int        `json:"errorFlights"`
	EndTime        *time.Time `json:"endTime,omitempty"`
}

// ImportListResponse is the paginated import listing returned by
// GET /api/upload/imported.
type ImportListResponse struct {
	Imports     []Import `json:"imports"`
	NumberPages int      `json:"numberPages"`
}
