package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
	"taeu.kr/cmdbconsole/internal/session"
	"taeu.kr/cmdbconsole/internal/transport"
)

type loginResponse struct {
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token"`
	TokenType    string            `json:"token_type"`
	ExpiresIn    int               `json:"expires_in"`
	User         *session.Identity `json:"user"`
}

// API wraps the console's authentication endpoints for one session.
type API struct {
	client *transport.Client
	store  *session.Store

	policyMu sync.Mutex
	policy   *PasswordPolicy
}

func NewAPI(client *transport.Client) *API {
	return &API{
		client: client,
		store:  client.Store(),
	}
}

// Login exchanges username and password for a credential pair. The returned
// identity is cached only when the login answer carries permissions; otherwise
// the guard fetches it on the next navigation.
func (a *API) Login(ctx context.Context, username, password string) (*session.Identity, error) {
	if username == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	env, err := a.client.Send(ctx, transport.RequestSpec{
		Method:      http.MethodPost,
		Path:        LoginPath,
		Body:        loginRequest{Username: username, Password: password},
		SkipRefresh: true,
	})
	if err != nil {
		if transport.IsUnauthorized(err) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return nil, err
	}

	var out loginResponse
	if err := env.Decode(&out); err != nil {
		return nil, err
	}

	pair := session.CredentialPair{Access: out.AccessToken, Refresh: out.RefreshToken}
	if err := a.store.SetCredentials(ctx, pair); err != nil {
		return nil, err
	}

	if out.User != nil && (out.User.Permissions != nil || out.User.Role == session.RoleAdmin) {
		if err := a.store.SetIdentity(out.User); err != nil {
			return nil, err
		}
	}

	log.Info().Str("username", username).Msg("[Auth] logged in")
	return out.User, nil
}

// Logout notifies the server and tears the local session down. A failed
// notification is logged and never blocks the teardown.
func (a *API) Logout(ctx context.Context) {
	if a.store.Authenticated() {
		_, err := a.client.Send(ctx, transport.RequestSpec{
			Method:      http.MethodPost,
			Path:        LogoutPath,
			SkipRefresh: true,
		})
		if err != nil {
			log.Warn().Err(err).Msg("[Auth] logout notification failed")
		}
	}
	a.store.Teardown(ctx)
}

// FetchIdentity loads the current user's profile and permissions and caches
// them in the session.
func (a *API) FetchIdentity(ctx context.Context) (*session.Identity, error) {
	env, err := a.client.Send(ctx, transport.RequestSpec{Method: http.MethodGet, Path: MePath})
	if err != nil {
		return nil, err
	}

	var identity session.Identity
	if err := env.Decode(&identity); err != nil {
		return nil, err
	}
	if err := a.store.SetIdentity(&identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

func (a *API) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	policy := a.PasswordPolicy(ctx)
	if err := policy.Validate(newPassword); err != nil {
		return err
	}

	env, err := a.client.Send(ctx, transport.RequestSpec{
		Method: http.MethodPost,
		Path:   ChangePasswordPath,
		Body:   changePasswordRequest{OldPassword: oldPassword, NewPassword: newPassword},
	})
	if err != nil {
		return err
	}
	return env.Decode(nil)
}
