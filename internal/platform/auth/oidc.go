package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// BearerAuthenticator verifies "Authorization: Bearer" tokens signed by the
// configured issuer.
type BearerAuthenticator struct {
	verifier   *oidc.IDTokenVerifier
	rolesClaim string
	emailClaim string
}

// NewBearerAuthenticator discovers the issuer's signing keys. client is used
// for discovery and key fetches; nil means http.DefaultClient.
func NewBearerAuthenticator(ctx context.Context, cfg Config, client *http.Client) (*BearerAuthenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeOIDC {
		return nil, fmt.Errorf("auth mode must be oidc (got %q)", cfg.Mode)
	}
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	return NewBearerAuthenticatorWithVerifier(provider.Verifier(&oidc.Config{ClientID: cfg.Audience}), cfg), nil
}

func NewBearerAuthenticatorWithVerifier(verifier *oidc.IDTokenVerifier, cfg Config) *BearerAuthenticator {
	return &BearerAuthenticator{
		verifier:   verifier,
		rolesClaim: cfg.RolesClaim,
		emailClaim: cfg.EmailClaim,
	}
}

func (a *BearerAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	rawToken := tokenFromHeader(r)
	if rawToken == "" {
		return Identity{}, ErrUnauthenticated
	}

	token, err := a.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, err
	}

	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return Identity{}, err
	}
	return Identity{
		Subject: token.Subject,
		Email:   stringClaim(claims, a.emailClaim),
		Roles:   rolesClaim(claims, a.rolesClaim),
	}, nil
}

func tokenFromHeader(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return s
}

// rolesClaim accepts a list of roles or a comma separated string.
func rolesClaim(claims map[string]any, key string) []string {
	var raw []string
	switch typed := claims[key].(type) {
	case []any:
		for _, item := range typed {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case string:
		raw = strings.Split(typed, ",")
	}
	out := make([]string, 0, len(raw))
	for _, role := range raw {
		role = strings.ToLower(strings.TrimSpace(role))
		if role != "" {
			out = append(out, role)
		}
	}
	return out
}
