package guard

import (
	"strings"

	"taeu.kr/cmdbconsole/internal/session"
)

// Route is one console view. Path segments starting with ':' match any value.
type Route struct {
	Path           string
	Title          string
	Public         bool
	Permission     string
	AnyPermissions []string
	HideInMenu     bool
	// Redirect sends navigations for Path elsewhere before the guard runs.
	Redirect string
}

type Routes struct {
	routes []Route
}

func NewRoutes(routes ...Route) *Routes {
	return &Routes{routes: append([]Route(nil), routes...)}
}

// DefaultRoutes is the console's view table.
func DefaultRoutes() *Routes {
	return NewRoutes(
		Route{Path: "/login", Title: "Login", Public: true, HideInMenu: true},
		Route{Path: "/", Redirect: DefaultLandingRoute, HideInMenu: true},
		Route{Path: "/dashboard", Title: "Dashboard"},

		Route{Path: "/config/model", Title: "Model Management", Permission: "cmdb:model"},
		Route{Path: "/config/relation-type", Title: "Relation Types", Permission: "cmdb:model"},
		Route{Path: "/config/relation-trigger", Title: "Relation Triggers", Permission: "cmdb:model"},
		Route{Path: "/config/batch-scan-config", Title: "Batch Scan Config", Permission: "cmdb:batch-scan:config"},
		Route{Path: "/config/batch-scan", Title: "Batch Scan", Permission: "cmdb:batch-scan:view"},
		Route{Path: "/config/dictionary", Title: "Dictionary", Permission: "cmdb:dict"},

		Route{Path: "/cmdb/instance", Title: "Instances", Permission: "cmdb:instance"},
		Route{Path: "/cmdb/search", Title: "Search", Permission: "cmdb:search"},
		Route{Path: "/cmdb/history", Title: "History", Permission: "cmdb:history"},
		Route{Path: "/cmdb/topology", Title: "Topology", Permission: "cmdb:topology"},
		Route{Path: "/cmdb/trigger-config", Title: "Trigger Config", Permission: "cmdb:model"},

		Route{Path: "/system/user", Title: "Users", Permission: "system:user"},
		Route{Path: "/system/department", Title: "Departments", Permission: "system:department"},
		Route{Path: "/system/role", Title: "Roles", Permission: "system:role"},
		Route{Path: "/system/config", Title: "System Config", Permission: "system:config"},
		Route{Path: "/system/log", Title: "Operation Log", Permission: "system:log"},
		Route{Path: "/system/notification", Title: "Notification Management", Permission: "system:user"},
		Route{Path: "/system/notification/send", Title: "Send Notification", Permission: "system:user", HideInMenu: true},
		Route{Path: "/system/notification/detail/:id", Title: "Notification Detail", HideInMenu: true},

		Route{Path: "/notifications", Title: "Notifications"},
		Route{Path: "/notifications/send", Title: "Send Notification", Permission: "system:user", HideInMenu: true},
		Route{Path: "/notifications/detail/:id", Title: "Notification Detail", HideInMenu: true},
	)
}

// Match returns the first route whose pattern matches path.
func (r *Routes) Match(path string) (Route, bool) {
	path = normalize(path)
	for _, route := range r.routes {
		if matchPattern(route.Path, path) {
			return route, true
		}
	}
	return Route{}, false
}

// Intent builds the navigation intent for to. Unknown paths require
// authentication and no permission; loginRoute is always public.
func (r *Routes) Intent(to, from, loginRoute string) Intent {
	to = normalize(to)
	intent := Intent{To: to, From: from, RequiresAuth: true}
	if route, ok := r.Match(to); ok {
		intent.RequiresAuth = !route.Public
		intent.Permission = route.Permission
		intent.AnyPermissions = append([]string(nil), route.AnyPermissions...)
	}
	if to == normalize(loginRoute) {
		intent.RequiresAuth = false
	}
	return intent
}

// Visible lists the menu routes identity may open.
func (r *Routes) Visible(identity *session.Identity) []Route {
	if identity == nil {
		return nil
	}
	var visible []Route
	for _, route := range r.routes {
		if route.Public || route.HideInMenu || route.Redirect != "" {
			continue
		}
		if route.Permission != "" && !identity.HasPermission(route.Permission) {
			continue
		}
		if len(route.AnyPermissions) > 0 && !identity.HasAnyPermission(route.AnyPermissions...) {
			continue
		}
		visible = append(visible, route)
	}
	return visible
}

func normalize(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

func matchPattern(pattern, path string) bool {
	if pattern == path {
		return true
	}
	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")
	if len(patternParts) != len(pathParts) {
		return false
	}
	for i, part := range patternParts {
		if strings.HasPrefix(part, ":") {
			if pathParts[i] == "" {
				return false
			}
			continue
		}
		if part != pathParts[i] {
			return false
		}
	}
	return true
}
