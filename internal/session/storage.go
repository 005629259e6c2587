package session

import (
	"context"
	"sync"
)

// Storage persists the credential pair across process restarts.
// Save and Clear must write both keys together.
type Storage interface {
	Load(ctx context.Context) (CredentialPair, error)
	Save(ctx context.Context, pair CredentialPair) error
	Clear(ctx context.Context) error
}

// MemoryStorage keeps the pair in process memory. Used by tests and by
// short-lived CLI invocations that opt out of persistence.
type MemoryStorage struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: map[string]string{}}
}

func (m *MemoryStorage) Load(ctx context.Context) (CredentialPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CredentialPair{
		Access:  m.values[AccessTokenKey],
		Refresh: m.values[RefreshTokenKey],
	}, nil
}

func (m *MemoryStorage) Save(ctx context.Context, pair CredentialPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[AccessTokenKey] = pair.Access
	m.values[RefreshTokenKey] = pair.Refresh
	return nil
}

func (m *MemoryStorage) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, AccessTokenKey)
	delete(m.values, RefreshTokenKey)
	return nil
}

// Set writes a single key. Tests use it to seed half-written state.
func (m *MemoryStorage) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}
