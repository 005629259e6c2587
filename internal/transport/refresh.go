package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"taeu.kr/cmdbconsole/internal/session"
)

const refreshFlightKey = "refresh"

// RefreshFunc exchanges a refresh token for a new access token. rotated is
// empty when the server keeps the current refresh token.
type RefreshFunc func(ctx context.Context, refreshToken string) (access, rotated string, err error)

// Coordinator runs at most one refresh at a time for a session. Callers that
// arrive while a refresh is in flight wait for it and share its outcome.
type Coordinator struct {
	store   *session.Store
	refresh RefreshFunc
	group   singleflight.Group
}

func NewCoordinator(store *session.Store, refresh RefreshFunc) *Coordinator {
	return &Coordinator{store: store, refresh: refresh}
}

// Refresh obtains a new access token to replace staleAccess, the token the
// caller's rejected request was sent with. A nil error means the store now
// holds a usable access token. On failure the session has been torn down.
//
// The flight is detached from ctx: a caller that stops waiting does not
// cancel the refresh for the others.
func (c *Coordinator) Refresh(ctx context.Context, staleAccess string) error {
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(refreshFlightKey, func() (any, error) {
		return nil, c.run(flightCtx, staleAccess)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) run(ctx context.Context, staleAccess string) error {
	// A previous flight already replaced the token this caller was rejected with.
	if current := c.store.AccessToken(); current != "" && current != staleAccess {
		log.Debug().Msg("[Refresh] access token already rotated")
		return nil
	}

	refreshToken := c.store.RefreshToken()
	if refreshToken == "" {
		log.Warn().Msg("[Refresh] no refresh token available")
		c.store.Teardown(ctx)
		return ErrNoRefreshToken
	}

	log.Info().Msg("[Refresh] refreshing access token")
	access, rotated, err := c.refresh(ctx, refreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("[Refresh] refresh rejected")
		c.store.Teardown(ctx)
		return fmt.Errorf("refresh access token: %w", err)
	}

	if err := c.store.Rotate(ctx, refreshToken, access, rotated); err != nil {
		if errors.Is(err, session.ErrStaleRefresh) {
			// a new login replaced the pair; its tokens are usable as they are
			log.Info().Msg("[Refresh] credentials replaced during refresh, discarding result")
			return nil
		}
		c.store.Teardown(ctx)
		return fmt.Errorf("store refreshed credentials: %w", err)
	}
	log.Info().Bool("refresh_rotated", rotated != "").Msg("[Refresh] access token refreshed")
	return nil
}
