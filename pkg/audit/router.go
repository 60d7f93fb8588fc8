package audit

import (
	"github.com/go-chi/chi/v5"

	"github.com/reqtrack/reqtrack/pkg/authz"
)

// Router creates a chi.Router for the audit API. Reading the trail
// requires one of the given roles; with no roles it is open to every
// authenticated caller.
func Router(store *Store, roles ...string) chi.Router {
	r := chi.NewRouter()

	if len(roles) > 0 {
		r.Use(authz.RequireRole(roles...))
	} else {
		r.Use(authz.RequireAuthenticated())
	}
	r.Get("/events", ListEventsHandler(store))
	r.Get("/events/{eventId}", GetEventHandler(store))

	return r
}
