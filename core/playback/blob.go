package playback

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Blob is a transient plaintext payload.
type Blob struct {
	Data        []byte
	ContentType string
	CreatedAt   time.Time
}

// BlobStore holds decrypted audio in memory behind unguessable ids. Nothing
// here is ever persisted.
type BlobStore struct {
	mu      sync.RWMutex
	blobs   map[string]*Blob
	baseURL string
	now     func() time.Time
}

// NewBlobStore creates a store whose URLs are rooted at baseURL.
func NewBlobStore(baseURL string) *BlobStore {
	return &BlobStore{
		blobs:   make(map[string]*Blob),
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// Put stores data and returns its id.
func (s *BlobStore) Put(data []byte, contentType string) string {
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.blobs[id] = &Blob{Data: data, ContentType: contentType, CreatedAt: s.now()}
	s.mu.Unlock()
	return id
}

// Get returns the blob for id.
func (s *BlobStore) Get(id string) (*Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[id]
	return b, ok
}

// Revoke drops id. Unknown and empty ids are ignored.
func (s *BlobStore) Revoke(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	delete(s.blobs, id)
	s.mu.Unlock()
}

// URL is the address listeners fetch the blob from.
func (s *BlobStore) URL(id string) string {
	return s.baseURL + "/blob/" + id
}

// Len reports the number of live blobs.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// Sweep revokes blobs older than maxAge and returns how many were dropped.
// Sessions revoke their own blobs; this catches connections that died
// without a clean close.
func (s *BlobStore) Sweep(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, b := range s.blobs {
		if b.CreatedAt.Before(cutoff) {
			delete(s.blobs, id)
			n++
		}
	}
	return n
}
