// Package filesystem implements the archive Backend on the local filesystem.
package filesystem

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fjmerc/airlift/internal/storage"
)

// Storage keeps archived files under a base directory.
type Storage struct {
	baseDir    string
	absBaseDir string
}

// New creates a filesystem archive rooted at baseDir.
func New(baseDir string) (*Storage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, storage.NewError("New", baseDir, err)
	}

	absBaseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, storage.NewError("New", baseDir, err)
	}

	return &Storage{
		baseDir:    baseDir,
		absBaseDir: absBaseDir,
	}, nil
}

// resolve validates that key stays inside the base directory and returns the
// full path.
func (s *Storage) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))

	if clean == "." || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid key: %s", key)
	}
	if strings.HasPrefix(clean, "..") || strings.Contains(clean, string(filepath.Separator)+"..") {
		return "", fmt.Errorf("path traversal not allowed: %s", key)
	}

	fullPath := filepath.Join(s.baseDir, clean)

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("invalid key: %w", err)
	}
	if !strings.HasPrefix(absPath, s.absBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path escape attempt: %s", key)
	}

	return fullPath, nil
}

// Store writes data to a temp file then renames it into place so readers never
// observe a half-written archive.
func (s *Storage) Store(ctx context.Context, key string, reader io.Reader, size int64) (int64, error) {
	filePath, err := s.resolve(key)
	if err != nil {
		return 0, storage.NewError("Store", key, err)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return 0, storage.NewError("Store", key, err)
	}

	tempPath := filePath + ".tmp"
	tempFile, err := os.Create(tempPath)
	if err != nil {
		return 0, storage.NewError("Store", key, err)
	}

	var succeeded bool
	defer func() {
		tempFile.Close()
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	written, err := io.Copy(tempFile, reader)
	if err != nil {
		return 0, storage.NewError("Store", key, err)
	}

	if size > 0 && written != size {
		return 0, storage.NewError("Store", key,
			fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", size, written))
	}

	if err := tempFile.Sync(); err != nil {
		return 0, storage.NewError("Store", key, err)
	}
	if err := tempFile.Close(); err != nil {
		return 0, storage.NewError("Store", key, err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		return 0, storage.NewError("Store", key, err)
	}

	succeeded = true
	slog.Debug("file archived", "key", key, "size", written)

	return written, nil
}

// Retrieve returns a reader for an archived file.
func (s *Storage) Retrieve(ctx context.Context, key string) (io.ReadCloser, error) {
	filePath, err := s.resolve(key)
	if err != nil {
		return nil, storage.NewError("Retrieve", key, err)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, storage.NewError("Retrieve", key, err)
	}
	return file, nil
}

// Delete removes an archived file. A missing key is not an error.
func (s *Storage) Delete(ctx context.Context, key string) error {
	filePath, err := s.resolve(key)
	if err != nil {
		return storage.NewError("Delete", key, err)
	}

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return storage.NewError("Delete", key, err)
	}
	return nil
}

// Exists reports whether a key is present in the archive.
func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	filePath, err := s.resolve(key)
	if err != nil {
		return false, storage.NewError("Exists", key, err)
	}

	if _, err := os.Stat(filePath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, storage.NewError("Exists", key, err)
	}
	return true, nil
}

// Size returns the stored size in bytes.
func (s *Storage) Size(ctx context.Context, key string) (int64, error) {
	filePath, err := s.resolve(key)
	if err != nil {
		return 0, storage.NewError("Size", key, err)
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return 0, storage.NewError("Size", key, err)
	}
	return info.Size(), nil
}

// Ping verifies the base directory is writable.
func (s *Storage) Ping(ctx context.Context) error {
	probe := filepath.Join(s.baseDir, ".probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return storage.NewError("Ping", s.baseDir, err)
	}
	return os.Remove(probe)
}
