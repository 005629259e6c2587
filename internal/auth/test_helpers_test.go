package auth_test

import (
	"context"
	"testing"

	"taeu.kr/cmdbconsole/internal/auth"
	"taeu.kr/cmdbconsole/internal/platform/apitest"
	"taeu.kr/cmdbconsole/internal/session"
	"taeu.kr/cmdbconsole/internal/transport"
)

func setupAuthTestAPI(t *testing.T) (*auth.API, *session.Store, *apitest.Server) {
	t.Helper()

	srv := apitest.New(t)
	store, err := session.NewStore(context.Background(), session.NewMemoryStorage())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	client := transport.NewClient(transport.Options{BaseURL: srv.BaseURL()}, store)
	return auth.NewAPI(client), store, srv
}

func loginAsUser(t *testing.T, api *auth.API) {
	t.Helper()

	if _, err := api.Login(context.Background(), apitest.UserUsername, apitest.UserPassword); err != nil {
		t.Fatalf("login failed: %v", err)
	}
}
