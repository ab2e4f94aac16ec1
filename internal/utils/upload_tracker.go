// Package utils provides shared helpers for the Airlift server.
package utils

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// TransferTracker tracks in-flight chunk writes and assemblies for graceful
// shutdown. New work is rejected once shutdown begins.
type TransferTracker struct {
	mu         sync.RWMutex
	active     map[string]*activeTransfer
	wg         sync.WaitGroup
	assemblyWg sync.WaitGroup
	shutdown   atomic.Bool
	shutdownCh chan struct{}
}

type activeTransfer struct {
	Key       string
	Filename  string
	StartTime time.Time
}

// NewTransferTracker creates a new TransferTracker.
func NewTransferTracker() *TransferTracker {
	return &TransferTracker{
		active:     make(map[string]*activeTransfer),
		shutdownCh: make(chan struct{}),
	}
}

// StartChunk registers an in-flight chunk write. Returns false if the server
// is shutting down and the write should be refused.
func (t *TransferTracker) StartChunk(key, filename string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Checked inside the lock to avoid racing BeginShutdown.
	if t.shutdown.Load() {
		return false
	}

	t.active[key] = &activeTransfer{Key: key, Filename: filename, StartTime: time.Now()}
	t.wg.Add(1)
	return true
}

// FinishChunk marks a chunk write as completed.
func (t *TransferTracker) FinishChunk(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[key]; ok {
		delete(t.active, key)
		t.wg.Done()
	} else {
		slog.Warn("FinishChunk called for unknown transfer", "key", key)
	}
}

// StartAssembly registers an assembly in progress. Returns false during
// shutdown.
func (t *TransferTracker) StartAssembly(uploadID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.shutdown.Load() {
		return false
	}

	t.assemblyWg.Add(1)
	slog.Debug("assembly started", "upload_id", uploadID)
	return true
}

// FinishAssembly marks an assembly as completed.
func (t *TransferTracker) FinishAssembly(uploadID int64) {
	t.assemblyWg.Done()
	slog.Debug("assembly finished", "upload_id", uploadID)
}

// ActiveCount returns the number of in-flight chunk writes.
func (t *TransferTracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}

// IsShuttingDown reports whether shutdown has begun.
func (t *TransferTracker) IsShuttingDown() bool {
	return t.shutdown.Load()
}

// BeginShutdown signals that the server is shutting down. New chunk writes
// and assemblies are rejected after this call.
func (t *TransferTracker) BeginShutdown() {
	if t.shutdown.CompareAndSwap(false, true) {
		close(t.shutdownCh)
		slog.Info("transfer tracker: shutdown initiated, rejecting new work",
			"active_transfers", t.ActiveCount(),
		)
	}
}

// Wait blocks until all in-flight chunk writes and assemblies complete or the
// context is done. Returns true if everything drained.
func (t *TransferTracker) Wait(ctx context.Context) bool {
	t.BeginShutdown()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		t.assemblyWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("transfer tracker: all transfers drained")
		return true
	case <-ctx.Done():
		t.mu.RLock()
		for _, a := range t.active {
			slog.Warn("transfer tracker: abandoned transfer",
				"key", a.Key,
				"filename", a.Filename,
				"duration", time.Since(a.StartTime),
			)
		}
		t.mu.RUnlock()
		return false
	}
}
