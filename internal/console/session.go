// Package console wires one console session together: credential store,
// transport, authentication API, navigation guard and router. Sessions share
// nothing, so several can run side by side.
package console

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"taeu.kr/cmdbconsole/internal/auth"
	"taeu.kr/cmdbconsole/internal/config"
	"taeu.kr/cmdbconsole/internal/guard"
	"taeu.kr/cmdbconsole/internal/platform/database"
	"taeu.kr/cmdbconsole/internal/session"
	credstore "taeu.kr/cmdbconsole/internal/session/store"
	"taeu.kr/cmdbconsole/internal/transport"
)

type Options struct {
	Transport transport.Options
	Guard     guard.Options
	Routes    *guard.Routes
}

type Session struct {
	Store  *session.Store
	Client *transport.Client
	Auth   *auth.API
	Guard  *guard.Guard
	Router *Router

	db *sql.DB
}

// New builds a session over storage.
func New(ctx context.Context, storage session.Storage, opts Options) (*Session, error) {
	store, err := session.NewStore(ctx, storage)
	if err != nil {
		return nil, err
	}

	client := transport.NewClient(opts.Transport, store)
	api := auth.NewAPI(client)
	g := guard.New(store, api, opts.Routes, opts.Guard)

	return &Session{
		Store:  store,
		Client: client,
		Auth:   api,
		Guard:  g,
		Router: NewRouter(g, store),
	}, nil
}

// Open builds a session from configuration. Credentials persist in the sqlite
// database at conf.Storage.Path, or in memory when the path is empty.
func Open(ctx context.Context, conf *config.Config) (*Session, error) {
	opts := Options{
		Transport: transport.Options{
			BaseURL:     conf.API.BaseURL,
			RefreshPath: conf.API.RefreshPath,
			Timeout:     conf.API.Timeout,
		},
		Guard: guard.Options{
			LoginRoute:   conf.Console.LoginRoute,
			LandingRoute: conf.Console.LandingRoute,
		},
	}

	if conf.Storage.Path == "" {
		return New(ctx, session.NewMemoryStorage(), opts)
	}

	db, err := database.NewDB(conf.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential storage: %w", err)
	}
	s, err := New(ctx, credstore.NewStore(db), opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.db = db
	log.Debug().Str("path", conf.Storage.Path).Msg("[Console] credential storage opened")
	return s, nil
}

func (s *Session) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Status summarizes the stored credentials. Token claims are read without
// verification and only serve as hints.
type Status struct {
	Authenticated    bool
	Username         string
	Role             string
	AccessExpiresIn  time.Duration
	RefreshExpiresIn time.Duration
	Identity         *session.Identity
}

func (s *Session) Status(now time.Time) Status {
	pair := s.Store.Credentials()
	st := Status{Authenticated: pair.Complete()}
	if !st.Authenticated {
		return st
	}

	if claims, err := auth.ParseClaims(pair.Access); err == nil {
		st.Username = claims.Username
		st.Role = claims.Role
		st.AccessExpiresIn = claims.ExpiresIn(now)
	}
	if claims, err := auth.ParseClaims(pair.Refresh); err == nil {
		st.RefreshExpiresIn = claims.ExpiresIn(now)
	}
	if identity, ok := s.Store.Identity(); ok {
		st.Identity = identity
		st.Username = identity.Username
		st.Role = identity.Role
	}
	return st
}
