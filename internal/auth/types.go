package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the authentication subsystem.
var (
	ErrDisabled         = errors.New("authentication disabled")
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingToken     = errors.New("missing bearer token")
	ErrPermissionDenied = errors.New("permission denied")
	ErrPrincipalRevoked = errors.New("principal is disabled")
)

// Principal captures the identity attached to an authenticated API request.
type Principal struct {
	Name     string
	Scopes   []string
	Disabled bool

	scopeSet map[string]struct{}
}

// normalise prepares the lookup set for scope checks.
func (p *Principal) normalise() {
	if p == nil {
		return
	}
	if p.scopeSet == nil {
		p.scopeSet = make(map[string]struct{}, len(p.Scopes))
		for _, scope := range p.Scopes {
			p.scopeSet[strings.ToLower(strings.TrimSpace(scope))] = struct{}{}
		}
	}
}

// HasScope reports whether the principal carries the specified scope.
func (p *Principal) HasScope(scope string) bool {
	if p == nil {
		return false
	}
	p.normalise()
	_, ok := p.scopeSet[strings.ToLower(strings.TrimSpace(scope))]
	return ok
}

// Authorize ensures the principal carries all required scopes.
func (p *Principal) Authorize(scopes ...string) error {
	if p == nil {
		return ErrInvalidToken
	}
	if p.Disabled {
		return ErrPrincipalRevoked
	}
	for _, scope := range scopes {
		if scope == "" {
			continue
		}
		if !p.HasScope(scope) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, scope)
		}
	}
	return nil
}

// Clone creates a copy of the principal suitable for embedding in contexts.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	clone := &Principal{
		Name:     p.Name,
		Scopes:   append([]string(nil), p.Scopes...),
		Disabled: p.Disabled,
	}
	clone.normalise()
	return clone
}

// Mode enumerates the supported API authentication providers.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeToken    Mode = "token"
	ModeOAuth    Mode = "oauth"
)

// Config configures the API authentication service.
type Config struct {
	Mode   Mode
	Tokens []TokenSeed
	OAuth  OAuthOptions
}

// TokenSeed defines a static API token and the scopes it grants.
type TokenSeed struct {
	Token    string
	Name     string
	Scopes   []string
	Disabled bool
}

// OAuthOptions contains settings for delegating API auth to an OAuth2
// provider via token introspection.
type OAuthOptions struct {
	IntrospectionURL string
	ClientID         string
	ClientSecret     string
	TimeoutSeconds   int
	UsernameClaim    string
}
