package airlift

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Standard errors returned by the SDK.
var (
	// ErrValidation indicates invalid input parameters.
	ErrValidation = errors.New("validation error")
	// ErrNotFound indicates the upload was not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyUploaded indicates the server already holds this content.
	ErrAlreadyUploaded = errors.New("already uploaded")
	// ErrHashConflict indicates a different file exists under the same name.
	ErrHashConflict = errors.New("hash conflict")
	// ErrFileTooLarge indicates the file exceeds the server's size limit.
	ErrFileTooLarge = errors.New("file too large")
	// ErrHashFailed indicates local content hashing failed before any
	// network traffic.
	ErrHashFailed = errors.New("content hashing failed")
)

// APIError is an error reply from the Airlift API. The wire shape carries
// the machine code in errorTitle; its presence, not the HTTP status, marks
// a reply as an error.
type APIError struct {
	// StatusCode is the HTTP status code, informational only.
	StatusCode int
	// Code is the errorTitle value, e.g. "HASH_CONFLICT".
	Code string
	// Message is the human-readable errorMessage.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d)", e.Code, e.StatusCode)
}

// Is maps wire codes onto the SDK sentinel errors for errors.Is.
func (e *APIError) Is(target error) bool {
	switch e.Code {
	case "ALREADY_UPLOADED":
		return target == ErrAlreadyUploaded
	case "HASH_CONFLICT":
		return target == ErrHashConflict
	case "UPLOAD_NOT_FOUND":
		return target == ErrNotFound
	case "FILE_TOO_LARGE":
		return target == ErrFileTooLarge
	case "INVALID_FILENAME", "INVALID_REQUEST":
		return target == ErrValidation
	}
	return false
}

// ValidationError is a client-side input validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// wireError mirrors the server's error object.
type wireError struct {
	ErrorTitle   string `json:"errorTitle"`
	ErrorMessage string `json:"errorMessage"`
}

// decodeResponse reads one API reply and splits it into payload or error in
// a single pass. The server may pair an errorTitle with any HTTP status,
// so the body is probed for the error shape first.
func decodeResponse(statusCode int, body io.Reader, out any) error {
	raw, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var we wireError
	if err := json.Unmarshal(raw, &we); err == nil && we.ErrorTitle != "" {
		return &APIError{
			StatusCode: statusCode,
			Code:       we.ErrorTitle,
			Message:    we.ErrorMessage,
		}
	}

	if statusCode < 200 || statusCode >= 300 {
		return &APIError{
			StatusCode: statusCode,
			Code:       "HTTP_ERROR",
			Message:    string(raw),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
