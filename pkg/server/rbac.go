// Package server exposes the trigger registry's admin HTTP API: drift
// reports, lifecycle operations, dry runs, and migration status.
package server

import (
	"net/http"
	"strings"

	"github.com/solaius/trigger-registry/pkg/permission"
)

// RoleHeader is the HTTP header used to extract the caller's role.
const RoleHeader = "X-User-Role"

// ActorHeader is the HTTP header used to extract the caller's identity
// for audit records.
const ActorHeader = "X-User"

// RoleExtractor extracts a role from an HTTP request. The default reads
// the X-User-Role header; hosts inject extractors that read their own
// authentication (OIDC claims, mTLS identity, etc.).
type RoleExtractor func(r *http.Request) permission.Role

// DefaultRoleExtractor reads the role from the X-User-Role header.
// Returns RoleViewer if the header is missing or unrecognized.
func DefaultRoleExtractor(r *http.Request) permission.Role {
	switch strings.TrimSpace(strings.ToLower(r.Header.Get(RoleHeader))) {
	case string(permission.RoleAdmin):
		return permission.RoleAdmin
	case string(permission.RoleOperator):
		return permission.RoleOperator
	default:
		return permission.RoleViewer
	}
}

// RequireRole returns middleware that enforces a minimum role.
// Insufficient callers get 403 Forbidden.
func RequireRole(required permission.Role, extractor RoleExtractor) func(http.Handler) http.Handler {
	if extractor == nil {
		extractor = DefaultRoleExtractor
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !extractor(r).Satisfies(required) {
				writeError(w, http.StatusForbidden, "insufficient permissions", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func actorFrom(r *http.Request) string {
	if actor := r.Header.Get(ActorHeader); actor != "" {
		return actor
	}
	return "anonymous"
}
