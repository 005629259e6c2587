package auth

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/rs/zerolog/log"
	"taeu.kr/cmdbconsole/internal/transport"
)

var (
	upperPattern   = regexp.MustCompile(`[A-Z]`)
	lowerPattern   = regexp.MustCompile(`[a-z]`)
	digitPattern   = regexp.MustCompile(`[0-9]`)
	specialPattern = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)
)

type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireDigit     bool
	RequireSpecial   bool
}

// DefaultPasswordPolicy applies when the server policy cannot be read.
var DefaultPasswordPolicy = PasswordPolicy{MinLength: 8}

func (p PasswordPolicy) Validate(password string) error {
	switch {
	case password == "":
		return fmt.Errorf("%w: password is empty", ErrPasswordPolicy)
	case len(password) < p.MinLength:
		return fmt.Errorf("%w: at least %d characters required", ErrPasswordPolicy, p.MinLength)
	case p.RequireUppercase && !upperPattern.MatchString(password):
		return fmt.Errorf("%w: an uppercase letter is required", ErrPasswordPolicy)
	case p.RequireLowercase && !lowerPattern.MatchString(password):
		return fmt.Errorf("%w: a lowercase letter is required", ErrPasswordPolicy)
	case p.RequireDigit && !digitPattern.MatchString(password):
		return fmt.Errorf("%w: a digit is required", ErrPasswordPolicy)
	case p.RequireSpecial && !specialPattern.MatchString(password):
		return fmt.Errorf("%w: a special character is required", ErrPasswordPolicy)
	}
	return nil
}

// PasswordStrength scores password from 0 to 100.
func PasswordStrength(password string) int {
	if password == "" {
		return 0
	}
	strength := 0
	if len(password) >= 8 {
		strength += 20
	}
	if len(password) >= 12 {
		strength += 10
	}
	if lowerPattern.MatchString(password) {
		strength += 15
	}
	if upperPattern.MatchString(password) {
		strength += 15
	}
	if digitPattern.MatchString(password) {
		strength += 20
	}
	if specialPattern.MatchString(password) {
		strength += 20
	}
	return min(strength, 100)
}

type configEntry struct {
	Value string `json:"value"`
}

// PasswordPolicy reads the policy from the system configs. The first
// successful read is cached for the lifetime of the API; failures fall back to
// DefaultPasswordPolicy and are retried next time.
func (a *API) PasswordPolicy(ctx context.Context) PasswordPolicy {
	a.policyMu.Lock()
	defer a.policyMu.Unlock()
	if a.policy != nil {
		return *a.policy
	}

	policy, err := a.fetchPasswordPolicy(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("[Auth] failed to get password policy, using defaults")
		return DefaultPasswordPolicy
	}
	a.policy = &policy
	return policy
}

// ClearPasswordPolicy drops the cached policy.
func (a *API) ClearPasswordPolicy() {
	a.policyMu.Lock()
	defer a.policyMu.Unlock()
	a.policy = nil
}

func (a *API) fetchPasswordPolicy(ctx context.Context) (PasswordPolicy, error) {
	env, err := a.client.Send(ctx, transport.RequestSpec{Method: http.MethodGet, Path: ConfigsPath})
	if err != nil {
		return PasswordPolicy{}, err
	}

	var configs map[string]configEntry
	if err := env.Decode(&configs); err != nil {
		return PasswordPolicy{}, err
	}

	policy := PasswordPolicy{
		MinLength:        DefaultPasswordPolicy.MinLength,
		RequireUppercase: configs["require_uppercase"].Value == "true",
		RequireLowercase: configs["require_lowercase"].Value == "true",
		RequireDigit:     configs["require_digit"].Value == "true",
		RequireSpecial:   configs["require_special"].Value == "true",
	}
	if raw := configs["password_min_length"].Value; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			policy.MinLength = n
		}
	}
	return policy, nil
}
