package airlift

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
)

// hashBlockSize is how much is read per iteration while hashing.
const hashBlockSize = 2 * 1024 * 1024

// hashProgressInterval is how many blocks pass between progress callbacks.
// Hashing throughput dwarfs callback cost, so per-block reporting would be
// pure noise to the caller.
const hashProgressInterval = 10

// Hasher computes the content hash used to identify a file to the server.
// Implementations must produce identical digests for identical bytes.
type Hasher interface {
	// Sum hashes size bytes from r, reporting progress at a bounded cadence.
	// onProgress may be nil.
	Sum(ctx context.Context, r io.Reader, size int64, onProgress func(done, total int64)) (string, error)
}

// BackgroundHasher hashes on a separate goroutine so the caller can observe
// context cancellation mid-file. This is the default strategy.
type BackgroundHasher struct{}

// Sum implements Hasher.
func (BackgroundHasher) Sum(ctx context.Context, r io.Reader, size int64, onProgress func(done, total int64)) (string, error) {
	type result struct {
		digest string
		err    error
	}
	resultCh := make(chan result, 1)

	go func() {
		digest, err := hashStream(ctx, r, size, onProgress)
		resultCh <- result{digest, err}
	}()

	select {
	case res := <-resultCh:
		return res.digest, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// SyncHasher hashes on the calling goroutine. It honors cancellation between
// blocks but cannot interrupt a blocked read. Used as the fallback strategy
// when the caller cannot afford an extra goroutine.
type SyncHasher struct{}

// Sum implements Hasher.
func (SyncHasher) Sum(ctx context.Context, r io.Reader, size int64, onProgress func(done, total int64)) (string, error) {
	return hashStream(ctx, r, size, onProgress)
}

// hashStream is the single hashing path shared by both strategies, so the
// digest can never differ between them.
func hashStream(ctx context.Context, r io.Reader, size int64, onProgress func(done, total int64)) (string, error) {
	h := md5.New()
	buf := make([]byte, hashBlockSize)

	var done int64
	blocks := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			done += int64(n)
			blocks++
			if onProgress != nil && blocks%hashProgressInterval == 0 {
				onProgress(done, size)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrHashFailed, err)
		}
	}

	if onProgress != nil {
		onProgress(done, size)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
