package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Store is the credential store of a single console session. It owns the
// credential pair (mirrored to Storage) and the in-memory identity.
// Every mutation holds the write lock across the durable write, so readers
// never see a half-written pair.
type Store struct {
	mu       sync.RWMutex
	storage  Storage
	pair     CredentialPair
	identity *Identity

	listenersMu sync.Mutex
	listeners   []func(ctx context.Context)
}

func NewStore(ctx context.Context, storage Storage) (*Store, error) {
	pair, err := storage.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	if !pair.Complete() && !pair.Empty() {
		log.Warn().
			Bool("has_access", pair.Access != "").
			Bool("has_refresh", pair.Refresh != "").
			Msg("[Session] discarding incomplete persisted credential pair")
		if err := storage.Clear(ctx); err != nil {
			return nil, fmt.Errorf("failed to clear incomplete credentials: %w", err)
		}
		pair = CredentialPair{}
	}

	return &Store{storage: storage, pair: pair}, nil
}

func (s *Store) Credentials() CredentialPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair
}

func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.Access
}

func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.Refresh
}

// Authenticated reports whether an access token is held.
func (s *Store) Authenticated() bool {
	return s.AccessToken() != ""
}

// Identity returns a copy of the cached identity.
func (s *Store) Identity() (*Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil, false
	}
	return s.identity.clone(), true
}

// SetCredentials installs a freshly issued pair. The cached identity belongs
// to the previous pair and is dropped.
func (s *Store) SetCredentials(ctx context.Context, pair CredentialPair) error {
	if !pair.Complete() {
		return ErrIncompletePair
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.Save(ctx, pair); err != nil {
		return fmt.Errorf("failed to persist credentials: %w", err)
	}
	s.pair = pair
	s.identity = nil
	return nil
}

// Rotate replaces the access token after a refresh made with usedRefresh.
// refresh is optional and only replaces the stored refresh token when the
// server rotated it. When the stored pair no longer holds usedRefresh a newer
// login replaced it and ErrStaleRefresh is returned with the store untouched.
func (s *Store) Rotate(ctx context.Context, usedRefresh, access, refresh string) error {
	if access == "" {
		return ErrIncompletePair
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pair.Empty() {
		// torn down while the refresh was in flight
		return ErrNotAuthenticated
	}
	if s.pair.Refresh != usedRefresh {
		return ErrStaleRefresh
	}

	next := CredentialPair{Access: access, Refresh: s.pair.Refresh}
	if refresh != "" {
		next.Refresh = refresh
	}
	if err := s.storage.Save(ctx, next); err != nil {
		return fmt.Errorf("failed to persist rotated credentials: %w", err)
	}
	s.pair = next
	return nil
}

func (s *Store) SetIdentity(identity *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pair.Access == "" {
		return ErrNotAuthenticated
	}
	s.identity = identity.clone()
	return nil
}

// Clear drops the pair, the identity and both persisted keys. It reports
// whether there was anything to clear. Memory is cleared even when the
// durable clear fails.
func (s *Store) Clear(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	had := !s.pair.Empty() || s.identity != nil
	s.pair = CredentialPair{}
	s.identity = nil
	if err := s.storage.Clear(ctx); err != nil {
		return had, fmt.Errorf("failed to clear persisted credentials: %w", err)
	}
	return had, nil
}

// OnTeardown registers fn to run after every effective teardown.
func (s *Store) OnTeardown(fn func(ctx context.Context)) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Teardown clears the session and notifies the teardown listeners. It is a
// no-op when the session holds nothing.
func (s *Store) Teardown(ctx context.Context) {
	cleared, err := s.Clear(ctx)
	if err != nil {
		log.Error().Err(err).Msg("[Session] teardown could not clear durable storage")
	}
	if !cleared {
		return
	}
	log.Info().Msg("[Session] session torn down")

	s.listenersMu.Lock()
	listeners := append([]func(ctx context.Context){}, s.listeners...)
	s.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(ctx)
	}
}
