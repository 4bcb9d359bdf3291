package repository

import (
	"context"
	"sync"
	"time"

	"github.com/sting-chat/sting-cache/redaction/domain/mapping"
)

// MemoryMappingStore implements mapping.MappingStore with an in-process map.
// It is used by tests and by deployments without a Valkey instance; data is
// lost on restart. Each method takes the mutex for its whole body, which
// gives the same all-or-nothing batch visibility the Valkey store gets from
// pipelining.
type MemoryMappingStore struct {
	mu        sync.RWMutex
	entries   map[string]*memoryMapping
	userIndex map[string]*memoryUserIndex
	now       func() time.Time
}

type memoryMapping struct {
	tokens   mapping.TokenMap
	meta     mapping.CacheMetadata
	expireAt time.Time
}

type memoryUserIndex struct {
	conversations map[string]struct{}
	expireAt      time.Time
}

// NewMemoryMappingStore creates a new in-memory store.
// Starts a cleanup goroutine that removes expired entries.
func NewMemoryMappingStore() *MemoryMappingStore {
	ms := &MemoryMappingStore{
		entries:   make(map[string]*memoryMapping),
		userIndex: make(map[string]*memoryUserIndex),
		now:       time.Now,
	}
	go ms.cleanupLoop()
	return ms
}

func (ms *MemoryMappingStore) Store(ctx context.Context, conversationID string, tokens mapping.TokenMap, ttl time.Duration, userID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	meta := mapping.CacheMetadata{
		CreatedAt: now,
		TTL:       ttl,
		PiiCount:  len(tokens),
		UserID:    userID,
	}
	if meta.UserID == "" {
		meta.UserID = mapping.UnknownUser
	}

	copied := make(mapping.TokenMap, len(tokens))
	for token, value := range tokens {
		copied[token] = value
	}

	ms.entries[conversationID] = &memoryMapping{
		tokens:   copied,
		meta:     meta,
		expireAt: now.Add(ttl),
	}

	if userID != "" {
		idx, ok := ms.userIndex[userID]
		if !ok {
			idx = &memoryUserIndex{conversations: make(map[string]struct{})}
			ms.userIndex[userID] = idx
		}
		idx.conversations[conversationID] = struct{}{}
		idx.expireAt = now.Add(ttl + mapping.UserIndexGrace)
	}

	return nil
}

func (ms *MemoryMappingStore) Get(ctx context.Context, conversationID string) (mapping.TokenMap, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	e, ok := ms.entries[conversationID]
	if !ok || ms.now().After(e.expireAt) {
		// Expired entries are left for the cleanup loop to avoid a write lock
		return nil, nil
	}

	copied := make(mapping.TokenMap, len(e.tokens))
	for token, value := range e.tokens {
		copied[token] = value
	}
	return copied, nil
}

func (ms *MemoryMappingStore) GetMetadata(ctx context.Context, conversationID string) (*mapping.CacheMetadata, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	e, ok := ms.entries[conversationID]
	if !ok || ms.now().After(e.expireAt) {
		return nil, nil
	}

	meta := e.meta
	return &meta, nil
}

func (ms *MemoryMappingStore) Extend(ctx context.Context, conversationID string, ttl time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	e, ok := ms.entries[conversationID]
	if !ok || ms.now().After(e.expireAt) {
		return nil // Silent no-op, same contract as the Valkey store
	}

	e.expireAt = ms.now().Add(ttl)
	e.meta.TTL = ttl
	return nil
}

func (ms *MemoryMappingStore) Delete(ctx context.Context, conversationID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.entries, conversationID)
	return nil
}

func (ms *MemoryMappingStore) FlagError(ctx context.Context, conversationID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	e, ok := ms.entries[conversationID]
	if !ok || ms.now().After(e.expireAt) {
		return nil
	}

	e.meta.ErrorCount++
	return nil
}

func (ms *MemoryMappingStore) ListConversations(ctx context.Context) ([]string, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var ids []string
	now := ms.now()
	for id, e := range ms.entries {
		if now.After(e.expireAt) {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (ms *MemoryMappingStore) UserConversations(ctx context.Context, userID string) ([]string, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	idx, ok := ms.userIndex[userID]
	if !ok || ms.now().After(idx.expireAt) {
		return nil, nil
	}

	var ids []string
	for id := range idx.conversations {
		ids = append(ids, id)
	}
	return ids, nil
}

// UsedMemory approximates the payload size: the sum of all token, value and
// metadata byte lengths of live entries.
func (ms *MemoryMappingStore) UsedMemory(ctx context.Context) (int64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var total int64
	now := ms.now()
	for id, e := range ms.entries {
		if now.After(e.expireAt) {
			continue
		}
		total += int64(len(id))
		for token, value := range e.tokens {
			total += int64(len(token) + len(value))
		}
		total += int64(len(e.meta.UserID)) + 32 // fixed-width metadata fields
	}
	return total, nil
}

// cleanupLoop runs periodically to remove expired entries
func (ms *MemoryMappingStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		ms.mu.Lock()
		now := ms.now()
		for id, e := range ms.entries {
			if now.After(e.expireAt) {
				delete(ms.entries, id)
			}
		}
		for userID, idx := range ms.userIndex {
			if now.After(idx.expireAt) {
				delete(ms.userIndex, userID)
			}
		}
		ms.mu.Unlock()
	}
}
