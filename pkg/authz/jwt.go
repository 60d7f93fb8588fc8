package authz

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures the bearer token identity extractor.
type JWTConfig struct {
	// EmailClaim holds the user's address. Default: "email".
	EmailClaim string

	// NameClaim holds the display name. Default: "name".
	NameClaim string

	// RolesClaim is the claim path of the role tags. Supports dot-notation
	// for nested claims (e.g., "realm_access.roles"). Default: "roles".
	RolesClaim string

	// PublicKeyPath is the path to the PEM-encoded RSA public key for RS256 verification.
	// If empty, tokens are parsed but NOT verified (trusted proxy mode).
	PublicKeyPath string

	// Issuer is the expected token issuer (iss claim). If empty, issuer is not validated.
	Issuer string

	// Audience is the expected token audience (aud claim). If empty, audience is not validated.
	Audience string

	Logger *slog.Logger
}

// JWTIdentityExtractor reads the identity from "Authorization: Bearer" tokens.
type JWTIdentityExtractor struct {
	cfg       JWTConfig
	publicKey *rsa.PublicKey
}

// NewJWTIdentityExtractor creates a JWTIdentityExtractor.
//
// Security model:
//   - If PublicKeyPath is set, tokens are cryptographically verified (RS256)
//   - If PublicKeyPath is empty, tokens are parsed without verification
//   - Requests without a token are anonymous; invalid tokens are rejected
func NewJWTIdentityExtractor(cfg JWTConfig) (*JWTIdentityExtractor, error) {
	if cfg.EmailClaim == "" {
		cfg.EmailClaim = "email"
	}
	if cfg.NameClaim == "" {
		cfg.NameClaim = "name"
	}
	if cfg.RolesClaim == "" {
		cfg.RolesClaim = "roles"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	e := &JWTIdentityExtractor{cfg: cfg}
	if cfg.PublicKeyPath != "" {
		keyData, err := os.ReadFile(cfg.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read JWT public key from %s: %w", cfg.PublicKeyPath, err)
		}
		key, err := parseRSAPublicKey(keyData)
		if err != nil {
			return nil, err
		}
		e.publicKey = key
		cfg.Logger.Info("JWT identity extractor: using RS256 verification", "keyPath", cfg.PublicKeyPath)
	} else {
		cfg.Logger.Warn("JWT identity extractor: no public key configured, tokens parsed without verification (trusted proxy mode)")
	}
	return e, nil
}

func parseRSAPublicKey(keyData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	parsedKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaKey, ok := parsedKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA (got %T)", parsedKey)
	}
	return rsaKey, nil
}

// Extract implements IdentityExtractor.
func (e *JWTIdentityExtractor) Extract(r *http.Request) (Identity, error) {
	token := extractBearerToken(r)
	if token == "" {
		return Identity{User: AnonymousUser}, nil
	}

	claims, err := e.parseClaims(token)
	if err != nil {
		e.cfg.Logger.Debug("JWT parse failed", "error", err)
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	email := stringClaim(claims, e.cfg.EmailClaim)
	user := email
	if user == "" {
		user = stringClaim(claims, "sub")
	}
	if user == "" {
		return Identity{}, fmt.Errorf("%w: token carries neither %s nor sub", ErrInvalidCredentials, e.cfg.EmailClaim)
	}
	return Identity{
		User:  user,
		Name:  stringClaim(claims, e.cfg.NameClaim),
		Email: email,
		Roles: listClaim(claims, e.cfg.RolesClaim),
	}, nil
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func (e *JWTIdentityExtractor) parseClaims(tokenString string) (jwt.MapClaims, error) {
	var parserOpts []jwt.ParserOption
	if e.cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(e.cfg.Issuer))
	}
	if e.cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(e.cfg.Audience))
	}

	var (
		token *jwt.Token
		err   error
	)
	if e.publicKey != nil {
		token, err = jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return e.publicKey, nil
		}, parserOpts...)
	} else {
		parser := jwt.NewParser(parserOpts...)
		token, _, err = parser.ParseUnverified(tokenString, jwt.MapClaims{})
	}
	if err != nil {
		return nil, fmt.Errorf("JWT parse error: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	return claims, nil
}

// lookupClaim walks a dot-separated claim path.
func lookupClaim(claims jwt.MapClaims, path string) (any, bool) {
	var current any = map[string]any(claims)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringClaim(claims jwt.MapClaims, path string) string {
	v, ok := lookupClaim(claims, path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// listClaim accepts a string array, or a single space or comma separated
// string.
func listClaim(claims jwt.MapClaims, path string) []string {
	v, ok := lookupClaim(claims, path)
	if !ok {
		return nil
	}
	var out []string
	switch val := v.(type) {
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range strings.FieldsFunc(val, func(r rune) bool { return r == ',' || r == ' ' }) {
			out = append(out, s)
		}
	}
	return out
}
