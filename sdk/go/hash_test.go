package airlift

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashersAgree(t *testing.T) {
	data := bytes.Repeat([]byte("flight data "), 4096)
	sum := md5.Sum(data)
	expected := hex.EncodeToString(sum[:])

	hashers := map[string]Hasher{
		"background": BackgroundHasher{},
		"sync":       SyncHasher{},
	}
	for name, h := range hashers {
		t.Run(name, func(t *testing.T) {
			digest, err := h.Sum(context.Background(), bytes.NewReader(data), int64(len(data)), nil)
			require.NoError(t, err)
			assert.Equal(t, expected, digest)
		})
	}
}

func TestHashEmptyInput(t *testing.T) {
	digest, err := SyncHasher{}.Sum(context.Background(), bytes.NewReader(nil), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", digest)
}

func TestHashReportsFinalProgress(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 1000)

	var lastDone, lastTotal int64
	calls := 0
	_, err := SyncHasher{}.Sum(context.Background(), bytes.NewReader(data), int64(len(data)),
		func(done, total int64) {
			calls++
			lastDone, lastTotal = done, total
		})
	require.NoError(t, err)

	// The final callback always fires with the full byte count, however few
	// blocks the file spans.
	assert.GreaterOrEqual(t, calls, 1)
	assert.Equal(t, int64(len(data)), lastDone)
	assert.Equal(t, int64(len(data)), lastTotal)
}

func TestHashCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := SyncHasher{}.Sum(ctx, bytes.NewReader([]byte("data")), 4, nil)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = BackgroundHasher{}.Sum(ctx, bytes.NewReader([]byte("data")), 4, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("disk read error")
}

func TestHashReadFailure(t *testing.T) {
	_, err := SyncHasher{}.Sum(context.Background(), failingReader{}, 100, nil)
	assert.ErrorIs(t, err, ErrHashFailed)
}

func TestHashUnknownSize(t *testing.T) {
	data := []byte("content of unknown length")
	var r io.Reader = bytes.NewReader(data)

	sum := md5.Sum(data)
	digest, err := SyncHasher{}.Sum(context.Background(), r, -1, nil)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(sum[:]), digest)
}
