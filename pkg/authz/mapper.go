package authz

import (
	"net/http"
	"strings"
)

// Resource names of the API.
const (
	ResourceRequests    = "requests"
	ResourceTransitions = "transitions"
	ResourceNotes       = "notes"
	ResourceRoles       = "roles"
	ResourceAudit       = "audit"
)

// Verb names of the API.
const (
	VerbGet        = "get"
	VerbList       = "list"
	VerbCreate     = "create"
	VerbUpdate     = "update"
	VerbDelete     = "delete"
	VerbValidate   = "validate"
	VerbTransition = "transition"
	VerbComment    = "comment"
	VerbAssign     = "assign-role"
	VerbRevoke     = "revoke-role"
)

// ResourceMapping maps an HTTP request to an API resource and verb.
type ResourceMapping struct {
	Resource string
	Verb     string
	// IDs holds the path identifiers, outermost first.
	IDs []string
}

// UnknownMapping is returned when no known pattern matches the request.
var UnknownMapping = ResourceMapping{}

// IsUnknown reports whether m matched no route.
func (m ResourceMapping) IsUnknown() bool {
	return m.Resource == ""
}

// MapRequest maps an HTTP method and URL path to a ResourceMapping.
// Paths look like /api/requests/v1/requests/{id}/transitions or
// /api/requests/v1/roles/{identity}/{role}.
func MapRequest(method, path string) ResourceMapping {
	path = strings.TrimRight(path, "/")
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")

	// Expected format: api/{service}/{version}/{resource}/...
	if len(parts) < 4 || parts[0] != "api" {
		return UnknownMapping
	}
	if parts[1] == "audit" {
		return mapAuditRoute(method)
	}
	rest := parts[3:]

	switch rest[0] {
	case "requests":
		return mapRequestRoute(method, rest[1:])
	case "roles":
		return mapRoleRoute(method, rest[1:])
	}
	return UnknownMapping
}

// mapRequestRoute handles the segments after /requests.
func mapRequestRoute(method string, rest []string) ResourceMapping {
	if len(rest) == 0 {
		switch method {
		case http.MethodGet:
			return ResourceMapping{Resource: ResourceRequests, Verb: VerbList}
		case http.MethodPost:
			return ResourceMapping{Resource: ResourceRequests, Verb: VerbCreate}
		}
		return UnknownMapping
	}

	ids := []string{rest[0]}
	if len(rest) == 1 {
		switch method {
		case http.MethodGet:
			return ResourceMapping{Resource: ResourceRequests, Verb: VerbGet, IDs: ids}
		case http.MethodPut, http.MethodPatch:
			return ResourceMapping{Resource: ResourceRequests, Verb: VerbUpdate, IDs: ids}
		case http.MethodDelete:
			return ResourceMapping{Resource: ResourceRequests, Verb: VerbDelete, IDs: ids}
		}
		return UnknownMapping
	}

	switch rest[1] {
	case "transitions":
		if method == http.MethodPost {
			return ResourceMapping{Resource: ResourceTransitions, Verb: VerbTransition, IDs: ids}
		}
	case "validate":
		if method == http.MethodPost {
			return ResourceMapping{Resource: ResourceRequests, Verb: VerbValidate, IDs: ids}
		}
	case "notes":
		switch method {
		case http.MethodGet:
			return ResourceMapping{Resource: ResourceNotes, Verb: VerbList, IDs: ids}
		case http.MethodPost:
			return ResourceMapping{Resource: ResourceNotes, Verb: VerbComment, IDs: ids}
		}
	}
	return UnknownMapping
}

// mapRoleRoute handles the segments after /roles.
func mapRoleRoute(method string, rest []string) ResourceMapping {
	switch {
	case len(rest) == 0 && method == http.MethodGet:
		return ResourceMapping{Resource: ResourceRoles, Verb: VerbList}
	case len(rest) == 1 && method == http.MethodPut:
		return ResourceMapping{Resource: ResourceRoles, Verb: VerbAssign, IDs: rest[:1]}
	case len(rest) == 2 && method == http.MethodDelete:
		return ResourceMapping{Resource: ResourceRoles, Verb: VerbRevoke, IDs: rest[:2]}
	}
	return UnknownMapping
}

// mapAuditRoute handles /api/audit/* routes.
func mapAuditRoute(method string) ResourceMapping {
	if method == http.MethodGet {
		return ResourceMapping{Resource: ResourceAudit, Verb: VerbList}
	}
	return UnknownMapping
}
