package authz

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// RolesMiddleware returns middleware that resolves the roles of the
// identity placed in the context by IdentityMiddleware. When trustTokenRoles
// is set, roles already carried by the identity (e.g. from a JWT claim) are
// kept and merged with the directory's; otherwise they are replaced.
// A failing lookup answers 503 rather than proceeding with no roles.
func RolesMiddleware(resolver RoleResolver, trustTokenRoles bool, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok || id.IsAnonymous() || resolver == nil {
				next.ServeHTTP(w, r)
				return
			}

			tags, err := resolver.RoleTags(r.Context(), id.Address())
			if err != nil {
				logger.Error("role lookup failed", "user", id.User, "error", err)
				writeAuthError(w, http.StatusServiceUnavailable, "unavailable", "role lookup failed")
				return
			}

			var roles []string
			if trustTokenRoles {
				roles = append(roles, id.Roles...)
			}
			for _, tag := range tags {
				if !containsFold(roles, tag) {
					roles = append(roles, tag)
				}
			}
			id.Roles = roles

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireAuthenticated rejects anonymous callers with 401.
func RequireAuthenticated() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := IdentityFromContext(r.Context())
			if id.IsAnonymous() {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "an identity is required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole returns middleware that only admits identities holding at
// least one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, _ := IdentityFromContext(r.Context())
			if id.IsAnonymous() {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "an identity is required")
				return
			}
			for _, role := range roles {
				if id.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeAuthError(w, http.StatusForbidden, "forbidden",
				fmt.Sprintf("one of the roles %s is required", strings.Join(roles, ", ")))
		})
	}
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
