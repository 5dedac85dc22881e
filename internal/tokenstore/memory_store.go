package tokenstore

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore keeps tokens in process memory; nothing outlives the process.
type MemoryStore struct {
	mutex   sync.Mutex
	entries map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]string)}
}

// Set writes both tokens.
func (store *MemoryStore) Set(ctx context.Context, accessToken string, refreshToken string) error {
	if strings.TrimSpace(accessToken) == "" {
		return ErrEmptyAccessToken
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.entries[AccessTokenKey] = accessToken
	if refreshToken == "" {
		delete(store.entries, RefreshTokenKey)
		return nil
	}
	store.entries[RefreshTokenKey] = refreshToken
	return nil
}

// SetAccess replaces the access token only.
func (store *MemoryStore) SetAccess(ctx context.Context, accessToken string) error {
	if strings.TrimSpace(accessToken) == "" {
		return ErrEmptyAccessToken
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.entries[AccessTokenKey] = accessToken
	return nil
}

// Load returns a copy of the stored tokens.
func (store *MemoryStore) Load(ctx context.Context) (Tokens, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return Tokens{
		Access:  store.entries[AccessTokenKey],
		Refresh: store.entries[RefreshTokenKey],
	}, nil
}

// Clear removes both tokens.
func (store *MemoryStore) Clear(ctx context.Context) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.entries, AccessTokenKey)
	delete(store.entries, RefreshTokenKey)
	return nil
}

// Entries returns a copy of the raw key/value layout.
func (store *MemoryStore) Entries() map[string]string {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	clone := make(map[string]string, len(store.entries))
	for key, value := range store.entries {
		clone[key] = value
	}
	return clone
}
