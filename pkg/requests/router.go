package requests

import (
	"context"

	"github.com/go-chi/chi/v5"

	"github.com/reqtrack/reqtrack/pkg/authz"
)

// RoleAdmin manages the role directory over HTTP. *RoleStore implements it.
type RoleAdmin interface {
	Assign(ctx context.Context, person Person, role Role) error
	Revoke(ctx context.Context, identity string, role Role) error
	AllRoleAssignments(ctx context.Context) ([]RoleAssignment, error)
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// Roles enables the /roles endpoints when set.
	Roles RoleAdmin
	// OnRolesChanged is called after an identity's roles were modified.
	OnRolesChanged func(identity string)
}

// NewRouter creates a chi.Router for the request API. Reads are open to
// every caller; writes need an authenticated identity and role changes the
// administrator role. Callers must install authz.IdentityMiddleware in front
// of it.
func NewRouter(wf *Workflow, opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	r.Get("/requests", listRequestsHandler(wf))
	r.Get("/requests/{id}", getRequestHandler(wf))
	r.Get("/requests/{id}/notes", listNotesHandler(wf))
	r.Post("/requests/{id}/validate", validateHandler(wf))

	r.Group(func(r chi.Router) {
		r.Use(authz.RequireAuthenticated())
		r.Post("/requests", createDraftHandler(wf))
		r.Put("/requests/{id}", updateRequestHandler(wf))
		r.Delete("/requests/{id}", deleteRequestHandler(wf))
		r.Post("/requests/{id}/transitions", transitionHandler(wf))
		r.Post("/requests/{id}/notes", addNoteHandler(wf))
	})

	if opts.Roles != nil {
		r.Get("/roles", listRolesHandler(opts.Roles))
		r.Group(func(r chi.Router) {
			r.Use(authz.RequireRole(string(RoleAdministrator)))
			r.Put("/roles/{identity}", assignRolesHandler(opts.Roles, opts.OnRolesChanged))
			r.Delete("/roles/{identity}/{role}", revokeRoleHandler(opts.Roles, opts.OnRolesChanged))
		})
	}

	return r
}
