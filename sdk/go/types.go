// Package airlift provides a Go client SDK for the Airlift chunked upload
// service.
package airlift

import "time"

// Server-side upload statuses.
const (
	StatusUploading  = "UPLOADING"
	StatusAssembling = "ASSEMBLING"
	StatusUploaded   = "UPLOADED"
	StatusFailed     = "FAILED"
)

// Client-local upload statuses. These never appear on the wire.
const (
	StatusHashing         = "HASHING"
	StatusUploadingFailed = "UPLOADING_FAILED"
)

// Import pipeline statuses, read-only from this SDK's point of view.
const (
	ImportStatusProcessing = "PROCESSING"
	ImportStatusOK         = "PROCESSED_OK"
	ImportStatusWarning    = "PROCESSED_WARNING"
	ImportStatusFailed     = "FAILED_UNKNOWN"
)

// PendingID marks a client-local upload record the server has not assigned
// an id to yet.
const PendingID int64 = -1

// Upload is the server's view of one upload session.
type Upload struct {
	ID             int64      `json:"id"`
	UploaderID     int64      `json:"uploaderId"`
	FleetID        int64      `json:"fleetId"`
	Filename       string     `json:"filename"`
	Identifier     string     `json:"identifier"`
	SizeBytes      int64      `json:"sizeBytes"`
	NumberChunks   int        `json:"numberChunks"`
	MD5Hash        string     `json:"md5Hash"`
	UploadedChunks int        `json:"uploadedChunks"`
	BytesUploaded  int64      `json:"bytesUploaded"`
	ChunkStatus    string     `json:"chunkStatus"`
	Status         string     `json:"status"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	StartTime      time.Time  `json:"startTime"`
	EndTime        *time.Time `json:"endTime,omitempty"`
}

// Complete reports whether every chunk has been received by the server.
func (u *Upload) Complete() bool {
	return u.NumberChunks > 0 && u.UploadedChunks == u.NumberChunks
}

// NextChunk returns the lowest chunk index the server has not received, or
// -1 when none remain.
func (u *Upload) NextChunk() int {
	for i := 0; i < len(u.ChunkStatus); i++ {
		if u.ChunkStatus[i] == '0' {
			return i
		}
	}
	return -1
}

// UploadListPage is one page of GET /api/upload.
type UploadListPage struct {
	Uploads     []Upload `json:"uploads"`
	NumberPages int      `json:"numberPages"`
}

// Import is one import pipeline result row.
type Import struct {
	ID             int64      `json:"id"`
	Filename       string     `json:"filename"`
	Status         string     `json:"status"`
	ValidFlights   int        `json:"validFlights"`
	WarningFlights int        `json:"warningFlights"`
	ErrorFlights   int        `json:"errorFlights"`
	EndTime        *time.Time `json:"endTime,omitempty"`
}

// ImportListPage is one page of GET /api/upload/imported.
type ImportListPage struct {
	Imports     []Import `json:"imports"`
	NumberPages int      `json:"numberPages"`
}

// ServiceStatus is the reply from GET /api/status/{serviceName}.
type ServiceStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Service status values.
const (
	StatusProbeUnknown   = "UNKNOWN"
	StatusProbeOK        = "OK"
	StatusProbeWarning   = "WARNING"
	StatusProbeError     = "ERROR"
	StatusProbeUnchecked = "UNCHECKED"
)

// UploadProgress reports transfer progress to the OnProgress callback.
type UploadProgress struct {
	Phase          string // "hashing" or "uploading"
	BytesDone      int64
	BytesTotal     int64
	CurrentChunk   int
	UploadedChunks int
	NumberChunks   int
}
