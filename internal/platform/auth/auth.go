package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-migrate/internal/platform/env"
)

type Mode string

const (
	ModeOIDC     Mode = "oidc"
	ModeDisabled Mode = "disabled"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Config protects the migrator API with bearer tokens issued by an OIDC
// provider. Audience is matched against the token's aud claim.
type Config struct {
	Mode Mode

	IssuerURL  string
	Audience   string
	RolesClaim string
	EmailClaim string
}

func ConfigFromEnv() (Config, error) {
	modeRaw := strings.ToLower(strings.TrimSpace(env.String("MIGRATOR_AUTH_MODE", string(ModeDisabled))))
	var mode Mode
	switch modeRaw {
	case string(ModeOIDC):
		mode = ModeOIDC
	case string(ModeDisabled):
		mode = ModeDisabled
	default:
		return Config{}, fmt.Errorf("MIGRATOR_AUTH_MODE must be one of: oidc, disabled (got %q)", modeRaw)
	}

	cfg := Config{
		Mode:       mode,
		IssuerURL:  env.String("MIGRATOR_AUTH_OIDC_ISSUER", ""),
		Audience:   env.String("MIGRATOR_AUTH_OIDC_AUDIENCE", "migrator"),
		RolesClaim: env.String("MIGRATOR_AUTH_ROLES_CLAIM", "roles"),
		EmailClaim: env.String("MIGRATOR_AUTH_EMAIL_CLAIM", "email"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeOIDC:
		if strings.TrimSpace(c.IssuerURL) == "" {
			return errors.New("MIGRATOR_AUTH_OIDC_ISSUER is required when MIGRATOR_AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.Audience) == "" {
			return errors.New("MIGRATOR_AUTH_OIDC_AUDIENCE is required when MIGRATOR_AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.RolesClaim) == "" {
			return errors.New("MIGRATOR_AUTH_ROLES_CLAIM is required")
		}
	case ModeDisabled:
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.Mode)
	}
	return nil
}
