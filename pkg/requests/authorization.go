package requests

// CanTransition reports whether actor, holding roles, may move r to target.
//
// The edge r.Status -> target must exist in the transition table. Approver
// edges require the actor to be the designated approver, requester edges the
// original requester, and role edges membership of the edge's role.
// Cancellation is open to the requester and to requirements managers.
func CanTransition(r *Request, target Status, actor Person, roles RoleSet) bool {
	return defaultMachine.CanTransition(r, target, actor, roles)
}

// PermittedTransitions lists the targets actor may currently move r to.
func PermittedTransitions(r *Request, actor Person, roles RoleSet) []Status {
	if r == nil {
		return nil
	}
	var permitted []Status
	for _, edge := range defaultMachine.EdgesFrom(r.Status) {
		if CanTransition(r, edge.To, actor, roles) {
			permitted = append(permitted, edge.To)
		}
	}
	return permitted
}

// CanDelete reports whether actor may delete r. Administrators may delete any
// request; requesters only their own drafts.
func CanDelete(r *Request, actor Person, roles RoleSet) bool {
	if r == nil {
		return false
	}
	if hasRole(roles, RoleAdministrator) {
		return true
	}
	return r.Status == StatusSaved && actor.Same(r.Requester)
}
