package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryDenyList is a single-node DenyList. Suitable for tests and
// development; production deployments use the Redis implementation so
// revocation is visible to every instance.
type MemoryDenyList struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryDenyList() *MemoryDenyList {
	return &MemoryDenyList{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (d *MemoryDenyList) Revoke(_ context.Context, id string, ttl time.Duration) error {
	if id == "" || ttl <= 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	expires := d.now().Add(ttl)
	// Never shorten an existing entry.
	if cur, ok := d.entries[id]; !ok || expires.After(cur) {
		d.entries[id] = expires
	}
	return nil
}

func (d *MemoryDenyList) IsRevoked(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	expires, ok := d.entries[id]
	if !ok {
		return false, nil
	}
	if d.now().After(expires) {
		delete(d.entries, id)
		return false, nil
	}
	return true, nil
}

// MemoryAPIKeyStore is the in-memory APIKeyStore counterpart.
type MemoryAPIKeyStore struct {
	mu     sync.Mutex
	byHash map[string]*APIKey
	byID   map[string]string
}

func NewMemoryAPIKeyStore() *MemoryAPIKeyStore {
	return &MemoryAPIKeyStore{
		byHash: make(map[string]*APIKey),
		byID:   make(map[string]string),
	}
}

func (s *MemoryAPIKeyStore) Create(_ context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[key.ID]; ok {
		return ErrAlreadyExists
	}
	copied := *key
	s.byHash[key.KeyHash] = &copied
	s.byID[key.ID] = key.KeyHash
	return nil
}

func (s *MemoryAPIKeyStore) FindByHash(_ context.Context, hash string) (*APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *key
	return &copied, nil
}

func (s *MemoryAPIKeyStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	delete(s.byHash, hash)
	return nil
}
