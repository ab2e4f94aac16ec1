package models

// ErrorResponse is the wire error object shared by every endpoint. Callers
// discriminate on the presence of errorTitle before assuming success; the
// legacy protocol does not treat the HTTP status code as authoritative.
type ErrorResponse struct {
	ErrorTitle   string `json:"errorTitle"`
	ErrorMessage string `json:"errorMessage"`
}

// Error codes carried in ErrorTitle. User-facing messages go in ErrorMessage.
const (
	ErrCodeInvalidFilename    = "INVALID_FILENAME"
	ErrCodeHashConflict       = "HASH_CONFLICT"
	ErrCodeAlreadyUploaded    = "ALREADY_UPLOADED"
	ErrCodeChunkUploadFailed  = "CHUNK_UPLOAD_FAILED"
	ErrCodeAssemblyCorruption = "ASSEMBLY_CORRUPTION"
	ErrCodeUploadNotFound     = "UPLOAD_NOT_FOUND"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeFileTooLarge       = "FILE_TOO_LARGE"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// StatusResponse is returned by GET /api/status/{serviceName}.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Probe status values for StatusResponse.Status.
const (
	ProbeUnknown   = "UNKNOWN"
	ProbeOK        = "OK"
	ProbeWarning   = "WARNING"
	ProbeError     = "ERROR"
	ProbeUnchecked = "UNCHECKED"
)
