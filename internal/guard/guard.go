// Package guard decides whether a console navigation may proceed, based on the
// session's credentials, its cached identity and the target route's
// permission requirements.
package guard

import (
	"context"

	"github.com/rs/zerolog/log"
	"taeu.kr/cmdbconsole/internal/session"
)

const (
	DefaultLoginRoute   = "/login"
	DefaultLandingRoute = "/dashboard"
	RootRoute           = "/"
)

type Outcome int

const (
	Allow Outcome = iota
	Redirect
	Cancel
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	case Cancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Intent is a requested navigation from one route to another.
type Intent struct {
	To             string
	From           string
	RequiresAuth   bool
	Permission     string
	AnyPermissions []string
}

// Decision is the guard's answer. Route is set for Redirect, Warning for
// Cancel.
type Decision struct {
	Outcome Outcome
	Route   string
	Warning string
}

// IdentityFetcher loads and caches the identity of the stored credentials.
type IdentityFetcher interface {
	FetchIdentity(ctx context.Context) (*session.Identity, error)
}

type Options struct {
	LoginRoute   string
	LandingRoute string
}

type Guard struct {
	store   *session.Store
	fetcher IdentityFetcher
	routes  *Routes

	loginRoute   string
	landingRoute string
}

func New(store *session.Store, fetcher IdentityFetcher, routes *Routes, opts Options) *Guard {
	if opts.LoginRoute == "" {
		opts.LoginRoute = DefaultLoginRoute
	}
	if opts.LandingRoute == "" {
		opts.LandingRoute = DefaultLandingRoute
	}
	if routes == nil {
		routes = DefaultRoutes()
	}
	return &Guard{
		store:        store,
		fetcher:      fetcher,
		routes:       routes,
		loginRoute:   opts.LoginRoute,
		landingRoute: opts.LandingRoute,
	}
}

func (g *Guard) LoginRoute() string {
	return g.loginRoute
}

func (g *Guard) LandingRoute() string {
	return g.landingRoute
}

func (g *Guard) Routes() *Routes {
	return g.routes
}

// VisibleRoutes lists the menu routes identity may open.
func (g *Guard) VisibleRoutes(identity *session.Identity) []Route {
	return g.routes.Visible(identity)
}

// Resolve builds the intent for navigating from one route to another using the
// route table.
func (g *Guard) Resolve(to, from string) Intent {
	return g.routes.Intent(to, from, g.loginRoute)
}

// Evaluate decides a navigation. Permission denial is a decision, not an
// error.
func (g *Guard) Evaluate(ctx context.Context, intent Intent) Decision {
	authenticated := g.store.Authenticated()

	if !intent.RequiresAuth {
		if authenticated && intent.To == g.loginRoute {
			return Decision{Outcome: Redirect, Route: g.landingRoute}
		}
		return Decision{Outcome: Allow}
	}

	if !authenticated {
		return Decision{Outcome: Redirect, Route: g.loginRoute}
	}

	identity, ok := g.store.Identity()
	if !ok {
		fetched, err := g.fetcher.FetchIdentity(ctx)
		if err != nil {
			log.Warn().Err(err).Str("to", intent.To).Msg("[Guard] failed to fetch identity")
			if _, clearErr := g.store.Clear(context.WithoutCancel(ctx)); clearErr != nil {
				log.Error().Err(clearErr).Msg("[Guard] failed to clear credentials")
			}
			return Decision{Outcome: Redirect, Route: g.loginRoute}
		}
		identity = fetched
	}

	if !permitted(identity, intent) {
		if intent.From == RootRoute {
			return Decision{Outcome: Redirect, Route: g.landingRoute}
		}
		warning := "permission denied for " + intent.To
		log.Warn().
			Str("to", intent.To).
			Str("from", intent.From).
			Str("username", identity.Username).
			Msg("[Guard] navigation cancelled: permission denied")
		return Decision{Outcome: Cancel, Warning: warning}
	}

	return Decision{Outcome: Allow}
}

func permitted(identity *session.Identity, intent Intent) bool {
	if intent.Permission != "" && !identity.HasPermission(intent.Permission) {
		return false
	}
	if len(intent.AnyPermissions) > 0 && !identity.HasAnyPermission(intent.AnyPermissions...) {
		return false
	}
	return true
}
