package session

import (
	"errors"
	"slices"
)

const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"

	RoleAdmin = "admin"
)

var (
	ErrIncompletePair   = errors.New("credential pair requires both access and refresh tokens")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrStaleRefresh     = errors.New("credentials were replaced during refresh")
)

// CredentialPair holds the access and refresh tokens issued by the console API.
type CredentialPair struct {
	Access  string
	Refresh string
}

// Complete reports whether both tokens are present.
func (p CredentialPair) Complete() bool {
	return p.Access != "" && p.Refresh != ""
}

// Empty reports whether neither token is present.
func (p CredentialPair) Empty() bool {
	return p.Access == "" && p.Refresh == ""
}

type Identity struct {
	ID          int64    `json:"id"`
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Email       string   `json:"email,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Department  string   `json:"department_name,omitempty"`
	Permissions []string `json:"permissions"`
}

func (i *Identity) clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	out.Permissions = slices.Clone(i.Permissions)
	return &out
}
