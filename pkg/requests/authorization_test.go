package requests

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	managers := NewRoleSet(RoleRequirementsManager)
	compliance := NewRoleSet(RoleComplianceOfficer)

	tests := []struct {
		name   string
		req    *Request
		target Status
		actor  Person
		roles  RoleSet
		want   bool
	}{
		{"requester submits draft", validDraft(), StatusSubmitted, alice, nil, true},
		{"someone else submits draft", validDraft(), StatusSubmitted, carol, nil, false},
		{"unsaved draft cannot be cancelled", validDraft(), StatusCancelled, alice, nil, false},
		{"approver approves", persisted(StatusSubmitted), StatusApproved, bob, nil, true},
		{"approver matched by address case", persisted(StatusSubmitted), StatusApproved, Person{Email: "BOB@example.com"}, nil, true},
		{"manager cannot approve for approver", persisted(StatusSubmitted), StatusApproved, manny, managers, false},
		{"approver disapproves", persisted(StatusSubmitted), StatusDisapproved, bob, nil, true},
		{"manager accepts", persisted(StatusApproved), StatusAccepted, manny, managers, true},
		{"approver cannot accept", persisted(StatusApproved), StatusAccepted, bob, nil, false},
		{"compliance approves", persisted(StatusAccepted), StatusCitoApproved, cora, compliance, true},
		{"manager cannot stand in for compliance", persisted(StatusAccepted), StatusCitoApproved, manny, managers, false},
		{"manager closes", persisted(StatusContract), StatusClosed, manny, managers, true},
		{"skipping a gate is unreachable", persisted(StatusSubmitted), StatusAccepted, manny, managers, false},
		{"requester resubmits", persisted(StatusCitoDisapproved), StatusSubmitted, alice, nil, true},
		{"requester cancels in review", persisted(StatusReview), StatusCancelled, alice, nil, true},
		{"manager cancels", persisted(StatusContract), StatusCancelled, manny, managers, true},
		{"compliance cannot cancel", persisted(StatusAccepted), StatusCancelled, cora, compliance, false},
		{"nothing leaves closed", persisted(StatusClosed), StatusCancelled, manny, managers, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.req, tt.target, tt.actor, tt.roles))
		})
	}
	assert.False(t, CanTransition(nil, StatusSubmitted, alice, nil))
}

func TestPermittedTransitions(t *testing.T) {
	r := persisted(StatusApproved)
	assert.ElementsMatch(t,
		[]Status{StatusAccepted, StatusDeclined, StatusCancelled},
		PermittedTransitions(r, manny, NewRoleSet(RoleRequirementsManager)))
	assert.ElementsMatch(t, []Status{StatusCancelled}, PermittedTransitions(r, alice, nil))
	assert.Empty(t, PermittedTransitions(r, carol, nil))
	assert.Nil(t, PermittedTransitions(nil, alice, nil))
}

func TestCanDelete(t *testing.T) {
	admin := NewRoleSet(RoleAdministrator)
	assert.True(t, CanDelete(persisted(StatusSaved), alice, nil))
	assert.False(t, CanDelete(persisted(StatusSaved), carol, nil))
	assert.False(t, CanDelete(persisted(StatusSubmitted), alice, nil))
	assert.True(t, CanDelete(persisted(StatusClosed), root, admin))
	assert.False(t, CanDelete(nil, root, admin))
}
