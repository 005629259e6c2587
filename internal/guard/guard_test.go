package guard_test

import (
	"context"
	"errors"
	"testing"

	"taeu.kr/cmdbconsole/internal/guard"
	"taeu.kr/cmdbconsole/internal/session"
)

type stubFetcher struct {
	store    *session.Store
	identity *session.Identity
	err      error
	calls    int
}

func (f *stubFetcher) FetchIdentity(ctx context.Context) (*session.Identity, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if err := f.store.SetIdentity(f.identity); err != nil {
		return nil, err
	}
	return f.identity, nil
}

func newGuard(t *testing.T, loggedIn bool, identity *session.Identity) (*guard.Guard, *session.Store, *stubFetcher) {
	t.Helper()

	store, err := session.NewStore(context.Background(), session.NewMemoryStorage())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if loggedIn {
		if err := store.SetCredentials(context.Background(), session.CredentialPair{Access: "access", Refresh: "refresh"}); err != nil {
			t.Fatalf("set credentials: %v", err)
		}
	}
	fetcher := &stubFetcher{store: store, identity: identity}
	return guard.New(store, fetcher, nil, guard.Options{}), store, fetcher
}

func TestEvaluate_UnauthenticatedRedirectsToLogin(t *testing.T) {
	g, _, fetcher := newGuard(t, false, nil)

	decision := g.Evaluate(context.Background(), guard.Intent{To: "/system/role", From: "/dashboard", RequiresAuth: true, Permission: "role:view"})

	if decision.Outcome != guard.Redirect || decision.Route != guard.DefaultLoginRoute {
		t.Fatalf("expected redirect to login, got %#v", decision)
	}
	if fetcher.calls != 0 {
		t.Fatal("expected no identity fetch without credentials")
	}
}

func TestEvaluate_FetchesMissingIdentity(t *testing.T) {
	identity := &session.Identity{Username: "alice", Role: "user", Permissions: []string{"cmdb:instance"}}
	g, store, fetcher := newGuard(t, true, identity)

	decision := g.Evaluate(context.Background(), g.Resolve("/cmdb/instance", "/dashboard"))

	if decision.Outcome != guard.Allow {
		t.Fatalf("expected allow, got %#v", decision)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected one identity fetch, got %d", fetcher.calls)
	}
	if _, ok := store.Identity(); !ok {
		t.Fatal("expected identity to be cached")
	}

	g.Evaluate(context.Background(), g.Resolve("/dashboard", "/cmdb/instance"))
	if fetcher.calls != 1 {
		t.Fatalf("expected cached identity to be reused, got %d fetches", fetcher.calls)
	}
}

func TestEvaluate_IdentityFetchFailureClearsCredentials(t *testing.T) {
	g, store, fetcher := newGuard(t, true, nil)
	fetcher.err = errors.New("identity unavailable")

	decision := g.Evaluate(context.Background(), g.Resolve("/dashboard", "/"))

	if decision.Outcome != guard.Redirect || decision.Route != guard.DefaultLoginRoute {
		t.Fatalf("expected redirect to login, got %#v", decision)
	}
	if store.Authenticated() {
		t.Fatal("expected credentials to be cleared")
	}
}

func TestEvaluate_PermissionDenied(t *testing.T) {
	identity := &session.Identity{Username: "alice", Role: "user", Permissions: []string{"user:view"}}

	tests := []struct {
		name    string
		from    string
		outcome guard.Outcome
		route   string
	}{
		{name: "from root lands on dashboard", from: "/", outcome: guard.Redirect, route: guard.DefaultLandingRoute},
		{name: "in app cancels in place", from: "/dashboard", outcome: guard.Cancel},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g, _, _ := newGuard(t, true, identity)

			decision := g.Evaluate(context.Background(), g.Resolve("/system/user", tc.from))

			if decision.Outcome != tc.outcome || decision.Route != tc.route {
				t.Fatalf("expected %s %q, got %#v", tc.outcome, tc.route, decision)
			}
			if tc.outcome == guard.Cancel && decision.Warning == "" {
				t.Fatal("expected a warning on cancel")
			}
		})
	}
}

func TestEvaluate_AdminPassesEveryPermission(t *testing.T) {
	g, _, _ := newGuard(t, true, &session.Identity{Username: "admin", Role: session.RoleAdmin})

	for _, to := range []string{"/system/user", "/config/batch-scan-config", "/cmdb/topology"} {
		if decision := g.Evaluate(context.Background(), g.Resolve(to, "/dashboard")); decision.Outcome != guard.Allow {
			t.Fatalf("expected admin to open %s, got %#v", to, decision)
		}
	}
}

func TestEvaluate_AnyPermissions(t *testing.T) {
	g, _, _ := newGuard(t, true, &session.Identity{Username: "alice", Role: "user", Permissions: []string{"cmdb:search"}})

	allowed := g.Evaluate(context.Background(), guard.Intent{
		To: "/reports", From: "/dashboard", RequiresAuth: true,
		AnyPermissions: []string{"cmdb:history", "cmdb:search"},
	})
	if allowed.Outcome != guard.Allow {
		t.Fatalf("expected allow on intersecting permissions, got %#v", allowed)
	}

	denied := g.Evaluate(context.Background(), guard.Intent{
		To: "/reports", From: "/dashboard", RequiresAuth: true,
		AnyPermissions: []string{"cmdb:history", "cmdb:topology"},
	})
	if denied.Outcome != guard.Cancel {
		t.Fatalf("expected cancel on disjoint permissions, got %#v", denied)
	}
}

func TestEvaluate_LoginRoute(t *testing.T) {
	t.Run("anonymous may open login", func(t *testing.T) {
		g, _, _ := newGuard(t, false, nil)
		if decision := g.Evaluate(context.Background(), g.Resolve("/login", "/")); decision.Outcome != guard.Allow {
			t.Fatalf("expected allow, got %#v", decision)
		}
	})

	t.Run("authenticated is sent to landing", func(t *testing.T) {
		g, _, fetcher := newGuard(t, true, nil)
		decision := g.Evaluate(context.Background(), g.Resolve("/login", "/dashboard"))
		if decision.Outcome != guard.Redirect || decision.Route != guard.DefaultLandingRoute {
			t.Fatalf("expected redirect to landing, got %#v", decision)
		}
		if fetcher.calls != 0 {
			t.Fatal("login redirect must not fetch identity")
		}
	})
}

func TestEvaluate_CustomRoutes(t *testing.T) {
	store, err := session.NewStore(context.Background(), session.NewMemoryStorage())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	g := guard.New(store, &stubFetcher{store: store}, nil, guard.Options{LoginRoute: "/signin", LandingRoute: "/home"})

	decision := g.Evaluate(context.Background(), g.Resolve("/cmdb/instance", "/"))
	if decision.Outcome != guard.Redirect || decision.Route != "/signin" {
		t.Fatalf("expected redirect to custom login, got %#v", decision)
	}
	if decision := g.Evaluate(context.Background(), g.Resolve("/signin", "/")); decision.Outcome != guard.Allow {
		t.Fatalf("expected custom login route to be public, got %#v", decision)
	}
}
