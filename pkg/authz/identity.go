// Package authz identifies the caller of the request tracking API and
// resolves the roles it holds.
package authz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// AnonymousUser is the user name of callers that presented no identity.
const AnonymousUser = "anonymous"

// ErrInvalidCredentials is returned by extractors when a caller presented
// credentials that could not be verified.
var ErrInvalidCredentials = errors.New("invalid credentials")

// identityCtxKey is an unexported type used as the context key for Identity.
type identityCtxKey struct{}

// Identity represents the authenticated user making a request.
type Identity struct {
	// User is the stable user key, normally the contact address.
	User   string
	Name   string
	Email  string
	Groups []string
	// Roles holds the role tags resolved for the user.
	Roles []string
}

// IsAnonymous reports whether the caller presented no identity.
func (id Identity) IsAnonymous() bool {
	return id.User == "" || id.User == AnonymousUser
}

// HasRole reports whether the identity holds role.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// Address returns the email, falling back to the user key.
func (id Identity) Address() string {
	if id.Email != "" {
		return id.Email
	}
	return id.User
}

// WithIdentity returns a new context with the given Identity attached.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext retrieves the Identity from the context.
// Returns the zero value and false if no identity is set.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}

// IdentityExtractor derives the caller's identity from a request.
type IdentityExtractor interface {
	Extract(r *http.Request) (Identity, error)
}

// ExtractorFunc adapts a function to IdentityExtractor.
type ExtractorFunc func(r *http.Request) (Identity, error)

// Extract calls f.
func (f ExtractorFunc) Extract(r *http.Request) (Identity, error) {
	return f(r)
}

// HeaderIdentityExtractor reads the identity set by an authenticating proxy:
// X-Remote-User carries the user's address, X-Remote-Name the display name
// and X-Remote-Group a comma-separated group list.
type HeaderIdentityExtractor struct{}

// Extract implements IdentityExtractor. A missing user header yields the
// anonymous identity.
func (HeaderIdentityExtractor) Extract(r *http.Request) (Identity, error) {
	user := strings.TrimSpace(r.Header.Get("X-Remote-User"))
	if user == "" {
		user = AnonymousUser
	}

	var groups []string
	if groupHeader := strings.TrimSpace(r.Header.Get("X-Remote-Group")); groupHeader != "" {
		for _, g := range strings.Split(groupHeader, ",") {
			g = strings.TrimSpace(g)
			if g != "" {
				groups = append(groups, g)
			}
		}
	}

	id := Identity{
		User:   user,
		Name:   strings.TrimSpace(r.Header.Get("X-Remote-Name")),
		Groups: groups,
	}
	if strings.Contains(user, "@") {
		id.Email = user
	}
	return id, nil
}

// IdentityMiddleware returns HTTP middleware that extracts the identity with
// extractor and stores it in the request context. Requests carrying
// credentials that fail verification are rejected with 401.
func IdentityMiddleware(extractor IdentityExtractor) func(http.Handler) http.Handler {
	if extractor == nil {
		extractor = HeaderIdentityExtractor{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := extractor.Extract(r)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
				return
			}
			ctx := WithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
