package auth

import "errors"

const (
	LoginPath          = "/auth/login"
	LogoutPath         = "/auth/logout"
	MePath             = "/auth/me"
	ChangePasswordPath = "/auth/change-password"
	ConfigsPath        = "/configs"
)

var (
	ErrMissingCredentials = errors.New("username and password are required")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrPasswordPolicy     = errors.New("password does not satisfy policy")
	ErrInvalidToken       = errors.New("invalid token")
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}
