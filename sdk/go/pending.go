package airlift

import (
	"sort"
	"sync"
)

// PendingUpload is a client-local record for a file the server has not fully
// acknowledged yet, keyed by its identifier.
type PendingUpload struct {
	Identifier   string
	Filename     string
	SizeBytes    int64
	NumberChunks int
	MD5Hash      string
	Status       string
	UploadID     int64 // PendingID until the server assigns one
}

// PendingUploadsStore tracks in-flight uploads across server list refreshes.
// Reads observe immutable snapshots; every mutation swaps in a fresh copy of
// the map, so a snapshot taken before a refresh stays coherent.
type PendingUploadsStore struct {
	mu      sync.Mutex
	current map[string]PendingUpload
}

// NewPendingUploadsStore creates an empty store.
func NewPendingUploadsStore() *PendingUploadsStore {
	return &PendingUploadsStore{current: map[string]PendingUpload{}}
}

func (s *PendingUploadsStore) clone() map[string]PendingUpload {
	next := make(map[string]PendingUpload, len(s.current))
	for k, v := range s.current {
		next[k] = v
	}
	return next
}

// Put inserts or replaces the record for its identifier.
func (s *PendingUploadsStore) Put(p PendingUpload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clone()
	next[p.Identifier] = p
	s.current = next
}

// Remove drops the record for identifier. Removing an unknown identifier is
// a no-op.
func (s *PendingUploadsStore) Remove(identifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.current[identifier]; !ok {
		return
	}
	next := s.clone()
	delete(next, identifier)
	s.current = next
}

// Get returns the record for identifier, if present.
func (s *PendingUploadsStore) Get(identifier string) (PendingUpload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.current[identifier]
	return p, ok
}

// Snapshot returns the pending records ordered by identifier. The slice is
// the caller's to keep; later mutations never touch it.
func (s *PendingUploadsStore) Snapshot() []PendingUpload {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	out := make([]PendingUpload, 0, len(current))
	for _, p := range current {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// Reconcile folds a server list refresh into the store: identifiers the
// server reports as finished (assembled or failed) leave the pending set,
// and identifiers mid-flight pick up the server's id and status. Applying
// the same refresh twice, or two refreshes out of order, converges to the
// same state.
func (s *PendingUploadsStore) Reconcile(serverUploads []Upload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.clone()
	for _, u := range serverUploads {
		p, ok := next[u.Identifier]
		if !ok {
			continue
		}
		switch u.Status {
		case StatusUploaded, StatusFailed:
			delete(next, u.Identifier)
		default:
			// Keep a local failure visible until the caller retries.
			if p.Status != StatusUploadingFailed {
				p.Status = u.Status
			}
			p.UploadID = u.ID
			next[u.Identifier] = p
		}
	}
	s.current = next
}
