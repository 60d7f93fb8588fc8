package requests

import "fmt"

// EdgeKind distinguishes happy-path advances from rejections, resubmissions
// and cancellation.
type EdgeKind string

const (
	EdgeForward  EdgeKind = "forward"
	EdgeReject   EdgeKind = "reject"
	EdgeResubmit EdgeKind = "resubmit"
	EdgeCancel   EdgeKind = "cancel"
)

// Gate names the predicate an acting identity must satisfy to take an edge.
type Gate string

const (
	// GateApprover requires the actor to be the request's designated approver.
	GateApprover Gate = "approver"
	// GateRequester requires the actor to be the request's requester.
	GateRequester Gate = "requester"
	// GateRole requires the actor to hold Edge.Role.
	GateRole Gate = "role"
	// GateCancel admits the requester or any requirements manager.
	GateCancel Gate = "cancel"
)

// Edge is an allowed status transition with its authorization and comment
// policy.
type Edge struct {
	From            Status
	To              Status
	Kind            EdgeKind
	Gate            Gate
	Role            Role
	CommentRequired bool
	ValidatesFields bool
}

// Permits reports whether actor holding roles satisfies the edge's gate for r.
func (e Edge) Permits(r *Request, actor Person, roles RoleSet) bool {
	switch e.Gate {
	case GateApprover:
		return actor.Same(r.Approver)
	case GateRequester:
		return actor.Same(r.Requester)
	case GateRole:
		return hasRole(roles, e.Role)
	case GateCancel:
		return hasRole(roles, RoleRequirementsManager) || actor.Same(r.Requester)
	}
	return false
}

// NotifyEvent is the notification event raised when the edge is taken.
func (e Edge) NotifyEvent() string {
	return EventName(e.To)
}

// DefaultTransitions is the request lifecycle. Every non-terminal status also
// gets a cancellation edge.
var DefaultTransitions = withCancellation([]Edge{
	{From: StatusSaved, To: StatusSubmitted, Kind: EdgeForward, Gate: GateRequester, ValidatesFields: true},

	{From: StatusSubmitted, To: StatusApproved, Kind: EdgeForward, Gate: GateApprover},
	{From: StatusSubmitted, To: StatusDisapproved, Kind: EdgeReject, Gate: GateApprover, CommentRequired: true},

	{From: StatusApproved, To: StatusAccepted, Kind: EdgeForward, Gate: GateRole, Role: RoleRequirementsManager},
	{From: StatusApproved, To: StatusDeclined, Kind: EdgeReject, Gate: GateRole, Role: RoleRequirementsManager, CommentRequired: true},

	{From: StatusAccepted, To: StatusCitoApproved, Kind: EdgeForward, Gate: GateRole, Role: RoleComplianceOfficer},
	{From: StatusAccepted, To: StatusCitoDisapproved, Kind: EdgeReject, Gate: GateRole, Role: RoleComplianceOfficer, CommentRequired: true},

	{From: StatusCitoApproved, To: StatusReview, Kind: EdgeForward, Gate: GateRole, Role: RoleRequirementsManager},
	{From: StatusReview, To: StatusContract, Kind: EdgeForward, Gate: GateRole, Role: RoleRequirementsManager},
	{From: StatusContract, To: StatusClosed, Kind: EdgeForward, Gate: GateRole, Role: RoleRequirementsManager},

	{From: StatusDisapproved, To: StatusSubmitted, Kind: EdgeResubmit, Gate: GateRequester, ValidatesFields: true},
	{From: StatusDeclined, To: StatusSubmitted, Kind: EdgeResubmit, Gate: GateRequester, ValidatesFields: true},
	{From: StatusCitoDisapproved, To: StatusSubmitted, Kind: EdgeResubmit, Gate: GateRequester, ValidatesFields: true},
})

func withCancellation(edges []Edge) []Edge {
	for _, s := range AllStatuses {
		if s.IsTerminal() {
			continue
		}
		edges = append(edges, Edge{
			From:            s,
			To:              StatusCancelled,
			Kind:            EdgeCancel,
			Gate:            GateCancel,
			CommentRequired: true,
		})
	}
	return edges
}

// LifecycleMachine answers questions about the transition table.
type LifecycleMachine struct {
	transitions []Edge
}

// NewLifecycleMachine creates a machine with the default table.
func NewLifecycleMachine() *LifecycleMachine {
	return &LifecycleMachine{transitions: DefaultTransitions}
}

var defaultMachine = NewLifecycleMachine()

// Edge returns the edge from -> to, if one exists.
func (m *LifecycleMachine) Edge(from, to Status) (Edge, bool) {
	for _, e := range m.transitions {
		if e.From == from && e.To == to {
			return e, true
		}
	}
	return Edge{}, false
}

// EdgesFrom returns every edge leaving from.
func (m *LifecycleMachine) EdgesFrom(from Status) []Edge {
	var edges []Edge
	for _, e := range m.transitions {
		if e.From == from {
			edges = append(edges, e)
		}
	}
	return edges
}

// AllowedTransitions returns all statuses reachable from from in one step.
func (m *LifecycleMachine) AllowedTransitions(from Status) []Status {
	var allowed []Status
	for _, e := range m.transitions {
		if e.From == from {
			allowed = append(allowed, e.To)
		}
	}
	return allowed
}

// NextStatus returns the single status a request in from is waiting on.
// Rejection and cancellation edges are never returned.
func (m *LifecycleMachine) NextStatus(from Status) (Status, bool) {
	for _, e := range m.transitions {
		if e.From == from && (e.Kind == EdgeForward || e.Kind == EdgeResubmit) {
			return e.To, true
		}
	}
	return "", false
}

// ValidateTransition returns nil if from -> to is an edge of the table and a
// *TransitionError otherwise.
func (m *LifecycleMachine) ValidateTransition(from, to Status) error {
	if _, ok := m.Edge(from, to); ok {
		return nil
	}
	return &TransitionError{
		Code:    CodeInvalidTransition,
		Kind:    KindNotAuthorized,
		From:    from,
		To:      to,
		Message: fmt.Sprintf("no transition defined from %s to %s", from, to),
	}
}

// CanTransition reports whether actor holding roles may move r to target.
// A request that was never persisted can only be submitted.
func (m *LifecycleMachine) CanTransition(r *Request, target Status, actor Person, roles RoleSet) bool {
	if r == nil {
		return false
	}
	if !r.IsPersisted() && target != StatusSubmitted {
		return false
	}
	edge, ok := m.Edge(r.Status, target)
	if !ok {
		return false
	}
	return edge.Permits(r, actor, roles)
}

// NextStatus returns the status a request in from is waiting on.
func NextStatus(from Status) (Status, bool) {
	return defaultMachine.NextStatus(from)
}

// AllowedTransitions returns all statuses reachable from from in one step.
func AllowedTransitions(from Status) []Status {
	return defaultMachine.AllowedTransitions(from)
}

// LookupEdge returns the default-table edge from -> to.
func LookupEdge(from, to Status) (Edge, bool) {
	return defaultMachine.Edge(from, to)
}
