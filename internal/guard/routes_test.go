package guard

import (
	"testing"

	"taeu.kr/cmdbconsole/internal/session"
)

func TestRoutesIntent(t *testing.T) {
	routes := DefaultRoutes()

	tests := []struct {
		to           string
		requiresAuth bool
		permission   string
	}{
		{to: "/login", requiresAuth: false},
		{to: "/dashboard", requiresAuth: true},
		{to: "/config/model", requiresAuth: true, permission: "cmdb:model"},
		{to: "/cmdb/instance?page=2", requiresAuth: true, permission: "cmdb:instance"},
		{to: "/system/user/", requiresAuth: true, permission: "system:user"},
		{to: "/notifications/detail/42", requiresAuth: true},
		{to: "/system/notification/send", requiresAuth: true, permission: "system:user"},
		{to: "/unknown/view", requiresAuth: true},
	}

	for _, tc := range tests {
		t.Run(tc.to, func(t *testing.T) {
			intent := routes.Intent(tc.to, "/", DefaultLoginRoute)
			if intent.RequiresAuth != tc.requiresAuth {
				t.Fatalf("RequiresAuth = %v, want %v", intent.RequiresAuth, tc.requiresAuth)
			}
			if intent.Permission != tc.permission {
				t.Fatalf("Permission = %q, want %q", intent.Permission, tc.permission)
			}
		})
	}
}

func TestRoutesMatchParams(t *testing.T) {
	routes := DefaultRoutes()

	if route, ok := routes.Match("/system/notification/detail/7"); !ok || route.Path != "/system/notification/detail/:id" {
		t.Fatalf("expected param route, got %#v %v", route, ok)
	}
	if _, ok := routes.Match("/notifications/detail/"); ok {
		t.Fatal("expected empty param not to match")
	}
	if route, ok := routes.Match(""); !ok || route.Redirect != DefaultLandingRoute {
		t.Fatalf("expected root redirect, got %#v %v", route, ok)
	}
}

func TestRoutesVisible(t *testing.T) {
	routes := DefaultRoutes()

	user := &session.Identity{Role: "user", Permissions: []string{"cmdb:instance"}}
	paths := map[string]bool{}
	for _, route := range routes.Visible(user) {
		paths[route.Path] = true
	}
	for _, expected := range []string{"/dashboard", "/cmdb/instance", "/notifications"} {
		if !paths[expected] {
			t.Fatalf("expected %s to be visible", expected)
		}
	}
	for _, hidden := range []string{"/login", "/system/user", "/notifications/detail/:id", "/"} {
		if paths[hidden] {
			t.Fatalf("expected %s to be hidden", hidden)
		}
	}

	admin := &session.Identity{Role: session.RoleAdmin}
	if len(routes.Visible(admin)) <= len(routes.Visible(user)) {
		t.Fatal("expected admin to see more routes")
	}
	if routes.Visible(nil) != nil {
		t.Fatal("expected no routes without identity")
	}
}
