// Package cache stores responses to mutating requests by Idempotency-Key.
package cache

import (
	"context"
	"sync"
	"time"
)

// Response is a stored reply. InFlight marks a key whose first request has
// not finished yet.
type Response struct {
	InFlight    bool   `json:"in_flight,omitempty"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// IdempotencyStore claims keys and remembers the response sent for them.
type IdempotencyStore interface {
	// Begin claims key for ttl. When the key is already held it returns the
	// stored response (InFlight while the first request is still running)
	// and started=false.
	Begin(ctx context.Context, key string, ttl time.Duration) (stored *Response, started bool, err error)
	// Complete replaces the claim with the final response.
	Complete(ctx context.Context, key string, resp Response, ttl time.Duration) error
	// Release drops the claim so the key can be retried.
	Release(ctx context.Context, key string) error
}

type memoryEntry struct {
	resp      Response
	expiresAt time.Time
}

// MemoryIdempotencyStore is the single-process store used when no Redis is configured.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryIdempotencyStore) Begin(_ context.Context, key string, ttl time.Duration) (*Response, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		resp := e.resp
		return &resp, false, nil
	}
	s.entries[key] = memoryEntry{resp: Response{InFlight: true}, expiresAt: now.Add(ttl)}
	if len(s.entries)%256 == 0 {
		s.evict(now)
	}
	return nil, true, nil
}

func (s *MemoryIdempotencyStore) Complete(_ context.Context, key string, resp Response, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp.InFlight = false
	s.entries[key] = memoryEntry{resp: resp, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryIdempotencyStore) evict(now time.Time) {
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}
