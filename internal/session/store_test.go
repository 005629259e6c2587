package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"taeu.kr/cmdbconsole/internal/session"
)

func newTestStore(t *testing.T) (*session.Store, *session.MemoryStorage) {
	t.Helper()

	storage := session.NewMemoryStorage()
	store, err := session.NewStore(context.Background(), storage)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, storage
}

func loggedInStore(t *testing.T) (*session.Store, *session.MemoryStorage) {
	t.Helper()

	store, storage := newTestStore(t)
	if err := store.SetCredentials(context.Background(), session.CredentialPair{Access: "access-1", Refresh: "refresh-1"}); err != nil {
		t.Fatalf("set credentials: %v", err)
	}
	if err := store.SetIdentity(&session.Identity{ID: 1, Username: "alice", Role: "user", Permissions: []string{"user:view"}}); err != nil {
		t.Fatalf("set identity: %v", err)
	}
	return store, storage
}

func TestNewStore_LoadsPersistedPair(t *testing.T) {
	storage := session.NewMemoryStorage()
	storage.Set(session.AccessTokenKey, "a")
	storage.Set(session.RefreshTokenKey, "r")

	store, err := session.NewStore(context.Background(), storage)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if got := store.Credentials(); got.Access != "a" || got.Refresh != "r" {
		t.Fatalf("expected persisted pair, got %#v", got)
	}
	if _, ok := store.Identity(); ok {
		t.Fatal("identity must never be loaded from storage")
	}
}

func TestNewStore_DiscardsHalfWrittenPair(t *testing.T) {
	storage := session.NewMemoryStorage()
	storage.Set(session.AccessTokenKey, "a")

	store, err := session.NewStore(context.Background(), storage)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if !store.Credentials().Empty() {
		t.Fatalf("expected empty pair, got %#v", store.Credentials())
	}
	persisted, _ := storage.Load(context.Background())
	if !persisted.Empty() {
		t.Fatalf("expected storage cleared, got %#v", persisted)
	}
}

func TestSetCredentials_RejectsIncompletePair(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.SetCredentials(context.Background(), session.CredentialPair{Access: "a"})
	if !errors.Is(err, session.ErrIncompletePair) {
		t.Fatalf("expected ErrIncompletePair, got %v", err)
	}
	if !store.Credentials().Empty() {
		t.Fatal("expected store to stay empty")
	}
}

func TestSetCredentials_DropsPreviousIdentity(t *testing.T) {
	store, _ := loggedInStore(t)

	if err := store.SetCredentials(context.Background(), session.CredentialPair{Access: "a2", Refresh: "r2"}); err != nil {
		t.Fatalf("set credentials: %v", err)
	}
	if _, ok := store.Identity(); ok {
		t.Fatal("expected identity to be dropped with the old pair")
	}
}

func TestRotate_KeepsRefreshWhenNotRotated(t *testing.T) {
	store, storage := loggedInStore(t)

	if err := store.Rotate(context.Background(), "refresh-1", "access-2", ""); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	got := store.Credentials()
	if got.Access != "access-2" || got.Refresh != "refresh-1" {
		t.Fatalf("unexpected pair after rotate: %#v", got)
	}
	persisted, _ := storage.Load(context.Background())
	if persisted != got {
		t.Fatalf("expected persisted %#v, got %#v", got, persisted)
	}
	if _, ok := store.Identity(); !ok {
		t.Fatal("rotation must keep the identity")
	}
}

func TestRotate_ReplacesRotatedRefresh(t *testing.T) {
	store, _ := loggedInStore(t)

	if err := store.Rotate(context.Background(), "refresh-1", "access-2", "refresh-2"); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if got := store.RefreshToken(); got != "refresh-2" {
		t.Fatalf("expected rotated refresh token, got %q", got)
	}
}

func TestRotate_RejectsResultForReplacedPair(t *testing.T) {
	store, storage := loggedInStore(t)
	if err := store.SetCredentials(context.Background(), session.CredentialPair{Access: "access-9", Refresh: "refresh-9"}); err != nil {
		t.Fatalf("set credentials: %v", err)
	}

	err := store.Rotate(context.Background(), "refresh-1", "access-2", "")
	if !errors.Is(err, session.ErrStaleRefresh) {
		t.Fatalf("expected ErrStaleRefresh, got %v", err)
	}
	want := session.CredentialPair{Access: "access-9", Refresh: "refresh-9"}
	if got := store.Credentials(); got != want {
		t.Fatalf("expected %#v to be kept, got %#v", want, got)
	}
	if persisted, _ := storage.Load(context.Background()); persisted != want {
		t.Fatalf("expected persisted %#v, got %#v", want, persisted)
	}
}

func TestRotate_FailsAfterTeardown(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.Rotate(context.Background(), "refresh-1", "access-2", "")
	if !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if store.Authenticated() {
		t.Fatal("rotate must not resurrect a cleared session")
	}
}

func TestClear_RemovesEverything(t *testing.T) {
	store, storage := loggedInStore(t)

	cleared, err := store.Clear(context.Background())
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !cleared {
		t.Fatal("expected clear to report removed state")
	}
	if !store.Credentials().Empty() {
		t.Fatalf("expected empty pair, got %#v", store.Credentials())
	}
	if _, ok := store.Identity(); ok {
		t.Fatal("expected identity to be cleared")
	}
	persisted, _ := storage.Load(context.Background())
	if !persisted.Empty() {
		t.Fatalf("expected persisted pair to be cleared, got %#v", persisted)
	}
}

func TestTeardown_IsIdempotent(t *testing.T) {
	store, _ := loggedInStore(t)

	var calls int
	store.OnTeardown(func(ctx context.Context) { calls++ })

	store.Teardown(context.Background())
	store.Teardown(context.Background())

	if calls != 1 {
		t.Fatalf("expected one teardown notification, got %d", calls)
	}
}

func TestSetIdentity_RequiresCredentials(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.SetIdentity(&session.Identity{Username: "alice"})
	if !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestIdentity_ReturnsCopy(t *testing.T) {
	store, _ := loggedInStore(t)

	identity, _ := store.Identity()
	identity.Permissions[0] = "user:edit"

	if store.HasPermission("user:edit") {
		t.Fatal("mutating the returned identity must not affect the store")
	}
}

func TestStore_ConcurrentReadersNeverSeeHalfPair(t *testing.T) {
	store, _ := loggedInStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	failures := make(chan session.CredentialPair, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			pair := store.Credentials()
			if !pair.Complete() && !pair.Empty() {
				select {
				case failures <- pair:
				default:
				}
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			_, _ = store.Clear(ctx)
		} else {
			_ = store.SetCredentials(ctx, session.CredentialPair{Access: "a", Refresh: "r"})
		}
	}
	close(stop)
	wg.Wait()

	select {
	case pair := <-failures:
		t.Fatalf("observed half-written pair %#v", pair)
	default:
	}
}
