package authz

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// AuthMode selects how callers are identified.
type AuthMode string

const (
	// AuthModeHeader trusts identity headers set by an authenticating proxy.
	AuthModeHeader AuthMode = "header"
	// AuthModeJWT reads the identity from bearer tokens.
	AuthModeJWT AuthMode = "jwt"
)

// Config controls identity extraction and role resolution.
type Config struct {
	Mode            AuthMode
	JWT             JWTConfig
	RoleCacheTTL    time.Duration
	TrustTokenRoles bool
}

// DefaultConfig returns header mode with the default role cache.
func DefaultConfig() Config {
	return Config{
		Mode:         AuthModeHeader,
		RoleCacheTTL: DefaultCacheTTL,
	}
}

// ConfigFromEnv loads config from environment variables.
// REQTRACK_AUTH_MODE, REQTRACK_AUTH_ROLE_CACHE_TTL, REQTRACK_AUTH_TRUST_TOKEN_ROLES,
// REQTRACK_JWT_PUBLIC_KEY, REQTRACK_JWT_ISSUER, REQTRACK_JWT_AUDIENCE, REQTRACK_JWT_ROLES_CLAIM
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("REQTRACK_AUTH_MODE"); v != "" {
		cfg.Mode = AuthMode(v)
	}
	if v := os.Getenv("REQTRACK_AUTH_ROLE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RoleCacheTTL = d
		}
	}
	if v := os.Getenv("REQTRACK_AUTH_TRUST_TOKEN_ROLES"); v != "" {
		cfg.TrustTokenRoles, _ = strconv.ParseBool(v)
	}
	cfg.JWT.PublicKeyPath = os.Getenv("REQTRACK_JWT_PUBLIC_KEY")
	cfg.JWT.Issuer = os.Getenv("REQTRACK_JWT_ISSUER")
	cfg.JWT.Audience = os.Getenv("REQTRACK_JWT_AUDIENCE")
	cfg.JWT.RolesClaim = os.Getenv("REQTRACK_JWT_ROLES_CLAIM")

	return cfg
}

// NewIdentityExtractor builds the extractor selected by cfg.Mode.
func NewIdentityExtractor(cfg Config) (IdentityExtractor, error) {
	switch cfg.Mode {
	case "", AuthModeHeader:
		return HeaderIdentityExtractor{}, nil
	case AuthModeJWT:
		return NewJWTIdentityExtractor(cfg.JWT)
	}
	return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
}
