// Package staging persists uploaded chunks on local disk until assembly.
// Chunks are keyed by (uploaderID, identifier, chunkIndex) so interrupted
// uploads can resume across sessions by content identity.
package staging

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// assembleBufferSize is the buffer size for chunk assembly (8MB).
	// Large buffer keeps syscall overhead low on multi-GB archives.
	assembleBufferSize = 8 * 1024 * 1024
)

// Store keeps staged chunk files under a base directory.
type Store struct {
	baseDir string
}

// NewStore creates a chunk store rooted at baseDir.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Ping verifies the staging directory is writable.
func (s *Store) Ping() error {
	probe := filepath.Join(s.baseDir, ".probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return fmt.Errorf("staging directory not writable: %w", err)
	}
	return os.Remove(probe)
}

// UploadDir returns the directory holding chunks for one upload.
func (s *Store) UploadDir(uploaderID int64, identifier string) string {
	return filepath.Join(s.baseDir, strconv.FormatInt(uploaderID, 10), identifier)
}

// ChunkPath returns the file path for a specific chunk.
func (s *Store) ChunkPath(uploaderID int64, identifier string, index int) string {
	return filepath.Join(s.UploadDir(uploaderID, identifier), fmt.Sprintf("%d.part", index))
}

// SaveChunk writes chunk bytes to the staging area, overwriting any earlier
// copy of the same index. Returns the number of bytes persisted.
func (s *Store) SaveChunk(uploaderID int64, identifier string, index int, r io.Reader) (int64, error) {
	dir := s.UploadDir(uploaderID, identifier)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create chunk directory: %w", err)
	}

	path := s.ChunkPath(uploaderID, identifier, index)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create chunk file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		return 0, fmt.Errorf("failed to write chunk data: %w", err)
	}

	// No f.Sync(): chunks survive a crash as resumable state, the OS can
	// flush asynchronously.

	slog.Debug("chunk staged",
		"uploader_id", uploaderID,
		"identifier", identifier,
		"chunk", index,
		"size", n,
	)

	return n, nil
}

// ChunkExists checks whether a chunk is staged and returns its size.
func (s *Store) ChunkExists(uploaderID int64, identifier string, index int) (bool, int64, error) {
	info, err := os.Stat(s.ChunkPath(uploaderID, identifier, index))
	if os.IsNotExist(err) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to stat chunk file: %w", err)
	}
	return true, info.Size(), nil
}

// MissingChunks returns the sorted indexes in [0, numberChunks) with no
// staged chunk file.
func (s *Store) MissingChunks(uploaderID int64, identifier string, numberChunks int) ([]int, error) {
	var missing []int
	for i := 0; i < numberChunks; i++ {
		exists, _, err := s.ChunkExists(uploaderID, identifier, i)
		if err != nil {
			return nil, fmt.Errorf("failed to check chunk %d: %w", i, err)
		}
		if !exists {
			missing = append(missing, i)
		}
	}
	return missing, nil
}

// Assemble concatenates staged chunks 0..numberChunks-1 in index order into
// w, computing the MD5 of the assembled stream as it goes. Returns the bytes
// written and the hex digest. The staged chunks are left in place; the caller
// decides their fate based on the digest comparison.
func (s *Store) Assemble(uploaderID int64, identifier string, numberChunks int, w io.Writer) (int64, string, error) {
	start := time.Now()

	missing, err := s.MissingChunks(uploaderID, identifier, numberChunks)
	if err != nil {
		return 0, "", fmt.Errorf("failed to check for missing chunks: %w", err)
	}
	if len(missing) > 0 {
		return 0, "", fmt.Errorf("cannot assemble: %d chunks missing (first missing: %d)", len(missing), missing[0])
	}

	hasher := md5.New()
	bw := bufio.NewWriterSize(io.MultiWriter(w, hasher), assembleBufferSize)

	var written int64
	for i := 0; i < numberChunks; i++ {
		f, err := os.Open(s.ChunkPath(uploaderID, identifier, i))
		if err != nil {
			return 0, "", fmt.Errorf("failed to open chunk %d: %w", i, err)
		}

		n, err := io.Copy(bw, f)
		f.Close()
		if err != nil {
			return 0, "", fmt.Errorf("failed to copy chunk %d: %w", i, err)
		}
		written += n
	}

	if err := bw.Flush(); err != nil {
		return 0, "", fmt.Errorf("failed to flush assembled output: %w", err)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))

	slog.Info("chunk assembly complete",
		"uploader_id", uploaderID,
		"identifier", identifier,
		"chunks", numberChunks,
		"bytes", written,
		"md5", digest,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return written, digest, nil
}

// DeleteChunks removes all staged chunks for an upload. A directory rename
// precedes deletion so a straggling concurrent chunk write cannot land inside
// a half-removed tree.
func (s *Store) DeleteChunks(uploaderID int64, identifier string) error {
	dir := s.UploadDir(uploaderID, identifier)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil // already gone
	}

	unused := dir + "_UNUSED"
	if err := os.Rename(dir, unused); err == nil {
		dir = unused
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete chunk directory: %w", err)
	}

	slog.Debug("staged chunks deleted", "uploader_id", uploaderID, "identifier", identifier)
	return nil
}

// VerifyChunkSizes confirms every staged chunk has the expected length: equal
// to chunkSize except the final chunk, which carries the remainder.
func (s *Store) VerifyChunkSizes(uploaderID int64, identifier string, numberChunks int, chunkSize, totalSize int64) error {
	for i := 0; i < numberChunks; i++ {
		exists, size, err := s.ChunkExists(uploaderID, identifier, i)
		if err != nil {
			return fmt.Errorf("failed to check chunk %d: %w", i, err)
		}
		if !exists {
			return fmt.Errorf("chunk %d is missing", i)
		}

		expected := chunkSize
		if i == numberChunks-1 {
			expected = totalSize - int64(numberChunks-1)*chunkSize
		}
		if size != expected {
			return fmt.Errorf("chunk %d has incorrect size: expected %d, got %d", i, expected, size)
		}
	}
	return nil
}
