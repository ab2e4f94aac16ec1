package models

import "time"

// Upload status values owned by this service. Statuses past UPLOADED
// (PROCESSING, PROCESSED_OK, ...) are written by the import pipeline and pass
// through read-only.
const (
	StatusUploading  = "UPLOADING"
	StatusAssembling = "ASSEMBLING"
	StatusUploaded   = "UPLOADED"
	StatusFailed     = "FAILED"
)

// PendingID is the sentinel id for a client-local upload the server has not
// acknowledged yet.
const PendingID int64 = -1

// Upload represents one (filename, content) pair owned by an uploader,
// together with its chunk bookkeeping.
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

// Complete reports whether every chunk has been received.
func (u *Upload) Complete() bool {
	return u.UploadedChunks == u.NumberChunks
}

// NextChunk returns the lowest-indexed chunk not yet received, or -1 when all
// chunks are present. Clients drive the transfer sequence off this value.
func (u *Upload) NextChunk() int {
	for i := 0; i < len(u.ChunkStatus); i++ {
		if u.ChunkStatus[i] == '0' {
			return i
		}
	}
	return -1
}

// ChunkReceived reports whether the given chunk index is already persisted.
func (u *Upload) ChunkReceived(index int) bool {
	return index >= 0 && index < len(u.ChunkStatus) && u.ChunkStatus[index] == '1'
}

// ChunkLength returns the expected byte length of the given chunk for the
// configured chunk size. Every chunk but the last is exactly chunkSize long.
func (u *Upload) ChunkLength(index int, chunkSize int64) int64 {
	if index == u.NumberChunks-1 {
		return u.SizeBytes - int64(u.NumberChunks-1)*chunkSize
	}
	return chunkSize
}

// UploadListResponse is the paginated upload listing returned by GET /api/upload.
type UploadListResponse struct {
	Uploads     []Upload `json:"uploads"`
	NumberPages int      `json:"numberPages"`
}
