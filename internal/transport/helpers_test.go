package transport_test

import (
	"context"
	"testing"

	"taeu.kr/cmdbconsole/internal/platform/apitest"
	"taeu.kr/cmdbconsole/internal/session"
	"taeu.kr/cmdbconsole/internal/transport"
)

func newLoggedInClient(t *testing.T, srv *apitest.Server, opts transport.Options) (*transport.Client, *session.Store) {
	t.Helper()

	store := newEmptyStore(t)
	access, refresh, err := srv.IssueTokens(apitest.UserUsername)
	if err != nil {
		t.Fatalf("issue tokens: %v", err)
	}
	if err := store.SetCredentials(context.Background(), session.CredentialPair{Access: access, Refresh: refresh}); err != nil {
		t.Fatalf("set credentials: %v", err)
	}

	opts.BaseURL = srv.BaseURL()
	return transport.NewClient(opts, store), store
}

func newEmptyStore(t *testing.T) *session.Store {
	t.Helper()

	store, err := session.NewStore(context.Background(), session.NewMemoryStorage())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

type echo struct {
	Method   string `json:"method"`
	Path     string `json:"path"`
	Query    string `json:"query"`
	Username string `json:"username"`
}
