// Package apitest runs an in-process console API for tests: login, refresh,
// identity, logout, password change, configs, and an echo for every other
// protected path. Tokens are HS256 JWTs; expiring all access tokens at once
// simulates server-side expiry.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"taeu.kr/cmdbconsole/internal/session"
)

const (
	BasePath = "/api/v1"

	AdminUsername = "admin"
	AdminPassword = "admin-password"
	UserUsername  = "alice"
	UserPassword  = "alice-password"
)

type Claims struct {
	UserID     int64  `json:"userId"`
	Username   string `json:"username"`
	Role       string `json:"role"`
	Type       string `json:"type"`
	Generation int    `json:"gen"`
	jwt.RegisteredClaims
}

type account struct {
	password string
	identity session.Identity
}

type Server struct {
	*httptest.Server

	secret []byte

	mu                sync.Mutex
	accounts          map[string]*account
	accessGeneration  int
	refreshGeneration int
	tokenSeq          int
	rotateRefresh     bool
	refreshStatus     int
	refreshDelay      time.Duration
	meStatus          int
	logoutStatus      int
	pathStatus        map[string]int
	configs           map[string]string
	calls             map[string]int
	authHeaders       map[string][]string

	holdN  int
	held   int
	holdCh chan struct{}
}

// New starts a server with an admin and a regular user (alice, holding
// user:view and cmdb:instance). It is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		secret:      []byte("apitest-secret"),
		accounts:    map[string]*account{},
		pathStatus:  map[string]int{},
		configs:     map[string]string{"password_min_length": "8"},
		calls:       map[string]int{},
		authHeaders: map[string][]string{},
	}
	s.AddUser(AdminUsername, AdminPassword, session.Identity{ID: 1, Username: AdminUsername, Role: session.RoleAdmin, Permissions: []string{"*"}})
	s.AddUser(UserUsername, UserPassword, session.Identity{ID: 2, Username: UserUsername, Role: "user", Permissions: []string{"user:view", "cmdb:instance"}})

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+BasePath+"/auth/login", s.handleLogin)
	mux.HandleFunc("POST "+BasePath+"/auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST "+BasePath+"/auth/logout", s.protected(s.handleLogout))
	mux.HandleFunc("GET "+BasePath+"/auth/me", s.protected(s.handleMe))
	mux.HandleFunc("POST "+BasePath+"/auth/change-password", s.protected(s.handleChangePassword))
	mux.HandleFunc("GET "+BasePath+"/configs", s.protected(s.handleConfigs))
	mux.HandleFunc(BasePath+"/", s.protected(s.handleEcho))

	s.Server = httptest.NewServer(s.record(mux))
	t.Cleanup(s.Close)
	return s
}

func (s *Server) BaseURL() string {
	return s.URL + BasePath
}

func (s *Server) AddUser(username, password string, identity session.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[username] = &account{password: password, identity: identity}
}

// ExpireAccessTokens invalidates every access token issued so far.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessGeneration++
}

// RevokeRefreshTokens makes every refresh token issued so far answer 401.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshGeneration++
}

// RotateRefresh makes the refresh endpoint return a new refresh token.
func (s *Server) RotateRefresh(rotate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotateRefresh = rotate
}

// FailRefresh forces the refresh endpoint to answer status. 0 restores it.
func (s *Server) FailRefresh(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshStatus = status
}

func (s *Server) DelayRefresh(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

func (s *Server) FailMe(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meStatus = status
}

func (s *Server) FailLogout(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logoutStatus = status
}

// FailPath makes an authorized request to path answer status.
func (s *Server) FailPath(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pathStatus[BasePath+path] = status
}

func (s *Server) SetConfig(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[key] = value
}

// HoldUnauthorized delays 401 answers on protected paths until n of them are
// pending, so n clients observe the expiry at the same time.
func (s *Server) HoldUnauthorized(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdN = n
	s.held = 0
	s.holdCh = make(chan struct{})
}

// Calls returns how many requests reached path (relative to BasePath).
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[BasePath+path]
}

func (s *Server) RefreshCalls() int {
	return s.Calls("/auth/refresh")
}

// AuthHeaders returns the Authorization headers seen on path, in order.
func (s *Server) AuthHeaders(path string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.authHeaders[BasePath+path]...)
}

// IssueTokens signs a pair for username as a login would.
func (s *Server) IssueTokens(username string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[username]
	if !ok {
		return "", "", fmt.Errorf("unknown user %q", username)
	}
	return s.issuePairLocked(acc.identity)
}

func (s *Server) issuePairLocked(identity session.Identity) (string, string, error) {
	access, err := s.signLocked(identity, "access", s.accessGeneration, 15*time.Minute)
	if err != nil {
		return "", "", err
	}
	refresh, err := s.signLocked(identity, "refresh", s.refreshGeneration, 7*24*time.Hour)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (s *Server) signLocked(identity session.Identity, tokenType string, generation int, ttl time.Duration) (string, error) {
	s.tokenSeq++
	now := time.Now()
	claims := Claims{
		UserID:     identity.ID,
		Username:   identity.Username,
		Role:       identity.Role,
		Type:       tokenType,
		Generation: generation,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        fmt.Sprintf("%d", s.tokenSeq),
			Issuer:    "apitest",
			Subject:   identity.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) parse(r *http.Request, tokenType string) (*Claims, bool) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return nil, false
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, false
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Type != tokenType {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.accessGeneration
	if tokenType == "refresh" {
		current = s.refreshGeneration
	}
	return claims, claims.Generation == current
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.URL.Path]++
		s.authHeaders[r.URL.Path] = append(s.authHeaders[r.URL.Path], r.Header.Get("Authorization"))
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

type claimsHandler func(w http.ResponseWriter, r *http.Request, claims *Claims)

func (s *Server) protected(next claimsHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := s.parse(r, "access")
		if !ok {
			s.waitHeld()
			writeJSON(w, http.StatusUnauthorized, map[string]any{"code": http.StatusUnauthorized, "message": "Token has expired"})
			return
		}
		next(w, r, claims)
	}
}

func (s *Server) waitHeld() {
	s.mu.Lock()
	ch := s.holdCh
	if ch == nil {
		s.mu.Unlock()
		return
	}
	s.held++
	if s.held >= s.holdN {
		close(ch)
		s.holdCh = nil
	}
	s.mu.Unlock()
	<-ch
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": http.StatusBadRequest, "message": "invalid request body"})
		return
	}

	s.mu.Lock()
	acc, ok := s.accounts[req.Username]
	if !ok || acc.password != req.Password {
		s.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": http.StatusUnauthorized, "message": "invalid username or password"})
		return
	}
	identity := acc.identity
	access, refresh, err := s.issuePairLocked(identity)
	s.mu.Unlock()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}

	// The login answer carries the profile without permissions.
	writeData(w, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "Bearer",
		"expires_in":    900,
		"user": map[string]any{
			"id":       identity.ID,
			"username": identity.Username,
			"role":     identity.Role,
			"email":    identity.Email,
		},
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delay, forced, rotate := s.refreshDelay, s.refreshStatus, s.rotateRefresh
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if forced != 0 {
		writeJSON(w, forced, map[string]any{"code": forced, "message": "refresh failed"})
		return
	}

	claims, ok := s.parse(r, "refresh")
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": http.StatusUnauthorized, "message": "invalid token"})
		return
	}

	s.mu.Lock()
	acc, found := s.accounts[claims.Username]
	if !found {
		s.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": http.StatusUnauthorized, "message": "invalid token"})
		return
	}
	access, refresh, err := s.issuePairLocked(acc.identity)
	s.mu.Unlock()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}

	data := map[string]any{"access_token": access, "token_type": "Bearer", "expires_in": 900}
	if rotate {
		data["refresh_token"] = refresh
	}
	writeData(w, data)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, claims *Claims) {
	s.mu.Lock()
	status := s.logoutStatus
	s.mu.Unlock()
	if status != 0 {
		writeJSON(w, status, map[string]any{"code": status, "message": "logout failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": http.StatusOK, "message": "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, claims *Claims) {
	s.mu.Lock()
	status := s.meStatus
	acc, ok := s.accounts[claims.Username]
	s.mu.Unlock()
	if status != 0 {
		writeJSON(w, status, map[string]any{"code": status, "message": "identity unavailable"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"code": http.StatusNotFound, "message": "user not found"})
		return
	}
	writeData(w, acc.identity)
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, claims *Claims) {
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": http.StatusBadRequest, "message": "invalid request body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[claims.Username]
	if !ok || acc.password != req.OldPassword {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": http.StatusBadRequest, "message": "old password is incorrect"})
		return
	}
	acc.password = req.NewPassword
	writeJSON(w, http.StatusOK, map[string]any{"code": http.StatusOK, "message": "password changed"})
}

func (s *Server) handleConfigs(w http.ResponseWriter, r *http.Request, claims *Claims) {
	s.mu.Lock()
	data := make(map[string]any, len(s.configs))
	for k, v := range s.configs {
		data[k] = map[string]string{"key": k, "value": v}
	}
	s.mu.Unlock()
	writeData(w, data)
}

func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request, claims *Claims) {
	s.mu.Lock()
	status := s.pathStatus[r.URL.Path]
	s.mu.Unlock()
	if status != 0 {
		writeJSON(w, status, map[string]any{"code": status, "message": http.StatusText(status)})
		return
	}
	writeData(w, map[string]any{
		"method":   r.Method,
		"path":     strings.TrimPrefix(r.URL.Path, BasePath),
		"query":    r.URL.RawQuery,
		"username": claims.Username,
	})
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"code": http.StatusOK, "message": "success", "data": data})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
