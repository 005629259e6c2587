package console

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"taeu.kr/cmdbconsole/internal/guard"
	"taeu.kr/cmdbconsole/internal/session"
)

const maxRedirects = 8

var (
	ErrRedirectLoop       = errors.New("navigation redirected too many times")
	ErrNavigationAborted  = errors.New("navigation aborted by session teardown")
	ErrNavigationCanceled = errors.New("navigation cancelled")
)

// Navigation is the result of a Push.
type Navigation struct {
	From    string
	To      string
	Route   string
	Warning string
}

// Router tracks the current console route and runs the guard before every
// navigation. A session teardown replaces the current route with the login
// route and discards navigations still being evaluated.
type Router struct {
	guard *guard.Guard

	mu         sync.Mutex
	current    string
	generation uint64
}

func NewRouter(g *guard.Guard, store *session.Store) *Router {
	r := &Router{guard: g, current: guard.RootRoute}
	store.OnTeardown(r.forceLogin)
	return r
}

func (r *Router) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Reset places the router on route without consulting the guard.
func (r *Router) Reset(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = route
	r.generation++
}

// Push navigates to to. Redirects are followed; a cancelled navigation leaves
// the router where it was and returns ErrNavigationCanceled with the guard's
// warning in the result.
func (r *Router) Push(ctx context.Context, to string) (Navigation, error) {
	r.mu.Lock()
	from, generation := r.current, r.generation
	r.mu.Unlock()

	nav := Navigation{From: from, To: to}
	target := to
	for range maxRedirects {
		if route, ok := r.guard.Routes().Match(target); ok && route.Redirect != "" {
			target = route.Redirect
			continue
		}

		decision := r.guard.Evaluate(ctx, r.guard.Resolve(target, from))
		switch decision.Outcome {
		case guard.Redirect:
			log.Debug().Str("from", target).Str("to", decision.Route).Msg("[Router] redirected")
			target = decision.Route
			continue
		case guard.Cancel:
			nav.Route = from
			nav.Warning = decision.Warning
			return nav, ErrNavigationCanceled
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.generation != generation {
			nav.Route = r.current
			return nav, ErrNavigationAborted
		}
		r.current = target
		r.generation++
		nav.Route = target
		log.Info().Str("from", from).Str("to", target).Msg("[Router] navigated")
		return nav, nil
	}

	nav.Route = from
	return nav, ErrRedirectLoop
}

func (r *Router) forceLogin(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = r.guard.LoginRoute()
	r.generation++
	log.Info().Str("route", r.current).Msg("[Router] session ended, returning to login")
}
