package airlift

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
)

// DefaultChunkSize is the chunk size shared with the server (2 MiB). Chunk
// index arithmetic on both sides depends on it.
const DefaultChunkSize int64 = 2 * 1024 * 1024

// UploadOptions configures a file upload.
type UploadOptions struct {
	// Hasher selects the hashing strategy. Defaults to BackgroundHasher.
	Hasher Hasher
	// ChunkSize overrides the chunk size. Must match the server's.
	ChunkSize int64
	// OnProgress is called with hashing and transfer progress updates.
	OnProgress func(UploadProgress)
}

// UploadError wraps a failure partway through a file's upload sequence. The
// file's local record lands in UPLOADING_FAILED; other files are unaffected.
type UploadError struct {
	Filename string
	Chunk    int
	Err      error
}

func (e *UploadError) Error() string {
	if e.Chunk >= 0 {
		return fmt.Sprintf("upload of %s failed at chunk %d: %v", e.Filename, e.Chunk, e.Err)
	}
	return fmt.Sprintf("upload of %s failed: %v", e.Filename, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// UploadFile hashes the file, creates or resumes its server session, and
// sends every chunk the server has not seen. Files already assembled on the
// server short-circuit without transferring any bytes; the returned record
// then reports UPLOADED.
//
// Each call is an independent sequence; callers upload multiple files
// concurrently by invoking UploadFile from separate goroutines.
func (c *Client) UploadFile(ctx context.Context, filePath string, opts *UploadOptions) (*Upload, error) {
	if opts == nil {
		opts = &UploadOptions{}
	}
	hasher := opts.Hasher
	if hasher == nil {
		hasher = BackgroundHasher{}
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("reading file info: %w", err)
	}
	size := info.Size()
	if size <= 0 {
		return nil, &ValidationError{Field: "file", Message: "is empty"}
	}

	filename := NormalizeFilename(filepath.Base(filePath))
	numberChunks := int((size + chunkSize - 1) / chunkSize)

	// Hash before any network traffic; a file we cannot hash is a file we
	// cannot verify.
	md5hash, err := hasher.Sum(ctx, file, size, func(done, total int64) {
		if opts.OnProgress != nil {
			opts.OnProgress(UploadProgress{
				Phase:        "hashing",
				BytesDone:    done,
				BytesTotal:   total,
				NumberChunks: numberChunks,
			})
		}
	})
	if err != nil {
		return nil, &UploadError{Filename: filename, Chunk: -1, Err: err}
	}

	record, err := c.CreateUpload(ctx, CreateUploadRequest{
		Filename:     filename,
		NumberChunks: numberChunks,
		SizeBytes:    size,
		MD5Hash:      md5hash,
	})
	if err != nil {
		return nil, &UploadError{Filename: filename, Chunk: -1, Err: err}
	}
	if record.Status == StatusUploaded {
		return record, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			record.Status = StatusUploadingFailed
			return record, &UploadError{Filename: filename, Chunk: -1, Err: err}
		}

		next := record.NextChunk()
		if next < 0 {
			break
		}

		offset := int64(next) * chunkSize
		length := chunkSize
		if remaining := size - offset; remaining < length {
			length = remaining
		}

		updated, err := c.UploadChunk(ctx, record.ID, next,
			io.NewSectionReader(file, offset, length))
		if err != nil {
			record.Status = StatusUploadingFailed
			return record, &UploadError{Filename: filename, Chunk: next, Err: err}
		}
		record = updated

		if opts.OnProgress != nil {
			opts.OnProgress(UploadProgress{
				Phase:          "uploading",
				BytesDone:      record.BytesUploaded,
				BytesTotal:     size,
				CurrentChunk:   next,
				UploadedChunks: record.UploadedChunks,
				NumberChunks:   record.NumberChunks,
			})
		}
	}

	return record, nil
}

// CreateUploadRequest carries the parameters of a NEW_UPLOAD request.
type CreateUploadRequest struct {
	Filename     string
	NumberChunks int
	SizeBytes    int64
	MD5Hash      string
}

// CreateUpload starts or resumes an upload session. When the server already
// holds identical assembled content, the returned record reports UPLOADED
// and no chunks need to be sent.
func (c *Client) CreateUpload(ctx context.Context, req CreateUploadRequest) (*Upload, error) {
	form := url.Values{}
	form.Set("request", "NEW_UPLOAD")
	form.Set("filename", req.Filename)
	form.Set("identifier", UploadIdentifier(req.Filename, req.SizeBytes))
	form.Set("numberChunks", strconv.Itoa(req.NumberChunks))
	form.Set("sizeBytes", strconv.FormatInt(req.SizeBytes, 10))
	form.Set("md5Hash", req.MD5Hash)

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/upload",
		bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var record Upload
	if err := c.do(httpReq, &record); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == "ALREADY_UPLOADED" {
			return &Upload{
				ID:           PendingID,
				Filename:     req.Filename,
				Identifier:   UploadIdentifier(req.Filename, req.SizeBytes),
				SizeBytes:    req.SizeBytes,
				NumberChunks: req.NumberChunks,
				MD5Hash:      req.MD5Hash,
				Status:       StatusUploaded,
			}, nil
		}
		return nil, err
	}
	return &record, nil
}

// UploadChunk PUTs one chunk's bytes and returns the server's updated view
// of the upload. Re-sending a chunk the server already has is safe.
func (c *Client) UploadChunk(ctx context.Context, uploadID int64, index int, chunk io.Reader) (*Upload, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("chunk", fmt.Sprintf("%d.part", index))
	if err != nil {
		return nil, fmt.Errorf("building multipart body: %w", err)
	}
	if _, err := io.Copy(part, chunk); err != nil {
		return nil, fmt.Errorf("reading chunk: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finalizing multipart body: %w", err)
	}

	path := fmt.Sprintf("/api/upload/%d/chunk/%d", uploadID, index)
	req, err := c.newRequest(ctx, http.MethodPut, path, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var record Upload
	if err := c.do(req, &record); err != nil {
		return nil, err
	}
	return &record, nil
}
