package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the fields the console API puts in its tokens.
type Claims struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Type     string `json:"type"`
	jwt.RegisteredClaims
}

// ParseClaims decodes token without verifying its signature. The client
// cannot verify tokens; the result is for display and expiry hints only.
func ParseClaims(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExpiresIn returns the time left before the token expires, or zero when it
// carries no expiry or has already expired.
func (c *Claims) ExpiresIn(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return max(c.ExpiresAt.Sub(now), 0)
}
