package requests

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func persisted(status Status) *Request {
	r := validDraft()
	r.ID = 42
	r.Status = status
	r.ConcurrencyToken = "token"
	return r
}

func TestIsReadOnly(t *testing.T) {
	managers := NewRoleSet(RoleRequirementsManager)
	approved := persisted(StatusApproved)
	approved.PEOApprovedDateTime = dayOffset(0)

	tests := []struct {
		name  string
		req   *Request
		actor Person
		roles RoleSet
		want  bool
	}{
		{"requester on unsaved draft", validDraft(), alice, nil, false},
		{"bystander on unsaved draft", validDraft(), carol, nil, true},
		{"unsaved draft without requester", &Request{ID: UnsavedID, Status: StatusSaved}, carol, nil, false},
		{"requester on draft", persisted(StatusSaved), alice, nil, false},
		{"bystander on draft", persisted(StatusSaved), carol, nil, true},
		{"approver on submitted", persisted(StatusSubmitted), bob, nil, false},
		{"requester on submitted", persisted(StatusSubmitted), alice, nil, false},
		{"requester after approval", approved, alice, nil, true},
		{"manager after approval", approved, manny, managers, false},
		{"approver after approval", approved, bob, nil, true},
		{"manager on closed", persisted(StatusClosed), manny, managers, true},
		{"requester on cancelled", persisted(StatusCancelled), alice, nil, true},
		{"requester on disapproved", persisted(StatusDisapproved), alice, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.IsReadOnly(tt.actor, tt.roles))
		})
	}
}

func TestSameFields(t *testing.T) {
	stored := persisted(StatusSubmitted)

	echo := stored.Clone()
	echo.ConcurrencyToken = "other"
	echo.Status = StatusClosed
	echo.UpdatedAt = testNow
	moved := stored.RequestDate.In(time.FixedZone("EST", -5*3600))
	echo.RequestDate = &moved
	assert.True(t, stored.sameFields(echo), "bookkeeping and time zones are not edits")

	retitled := stored.Clone()
	retitled.Title = "Something else"
	assert.False(t, stored.sameFields(retitled))

	redated := stored.Clone()
	redated.OperationalNeedDate = dayOffset(60)
	assert.False(t, stored.sameFields(redated))

	undated := stored.Clone()
	undated.RequestDate = nil
	assert.False(t, stored.sameFields(undated))
}

func TestWithEditsKeepsBookkeeping(t *testing.T) {
	stored := persisted(StatusSubmitted)
	stored.ReceivedDate = dayOffset(0)

	edits := validDraft()
	edits.Title = "Retitled"
	edits.Status = StatusClosed
	edits.Requester = carol
	edits.PEOApprovedDateTime = dayOffset(1)

	merged := stored.withEdits(edits)
	assert.Equal(t, "Retitled", merged.Title)
	assert.Equal(t, stored.ID, merged.ID)
	assert.Equal(t, StatusSubmitted, merged.Status)
	assert.Equal(t, alice, merged.Requester)
	assert.Equal(t, "token", merged.ConcurrencyToken)
	assert.Nil(t, merged.PEOApprovedDateTime)
	require.NotNil(t, merged.ReceivedDate)
	assert.True(t, stored.ReceivedDate.Equal(*merged.ReceivedDate))
}

func TestIsEditableBy(t *testing.T) {
	assert.True(t, validDraft().IsEditableBy(carol))
	assert.True(t, persisted(StatusSaved).IsEditableBy(alice))
	assert.False(t, persisted(StatusSaved).IsEditableBy(bob))
	assert.True(t, persisted(StatusDeclined).IsEditableBy(alice))
	assert.False(t, persisted(StatusReview).IsEditableBy(alice))

	signed := persisted(StatusSubmitted)
	signed.PEOApprovedDateTime = dayOffset(0)
	assert.False(t, signed.IsEditableBy(alice))
}

func TestFormattedID(t *testing.T) {
	r := persisted(StatusSaved)
	assert.Equal(t, "RR-00042", r.FormattedID())
	assert.Equal(t, "RR-NEW", validDraft().FormattedID())

	id, err := ParseFormattedID("rr-00042")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	id, err = ParseFormattedID("17")
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)

	_, err = ParseFormattedID("RR-NEW")
	assert.Error(t, err)
	_, err = ParseFormattedID("0")
	assert.Error(t, err)

	custom := IDFormat{Prefix: "REQ#", Width: 3}
	assert.Equal(t, "REQ#007", custom.Format(7))
	assert.Equal(t, "REQ#12345", custom.Format(12345))
}

func TestApplySameAsRequester(t *testing.T) {
	r := validDraft()
	r.Approver = Person{}
	r.ApproverCommPhone = ""
	r.ApplySameAsRequester()
	assert.True(t, r.Approver.IsZero())

	r.SameAsRequester = true
	r.RequesterDSNPhone = "1234567890"
	r.ApplySameAsRequester()
	assert.Equal(t, alice, r.Approver)
	assert.Equal(t, r.RequesterOrgSymbol, r.ApproverOrgSymbol)
	assert.Equal(t, r.RequesterCommPhone, r.ApproverCommPhone)
	assert.Equal(t, "1234567890", r.ApproverDSNPhone)
}

func TestCloneIsDeep(t *testing.T) {
	r := validDraft()
	c := r.Clone()
	*c.OperationalNeedDate = testNow
	assert.NotEqual(t, *r.OperationalNeedDate, *c.OperationalNeedDate)
	assert.Nil(t, (*Request)(nil).Clone())
}

func TestPendingEdge(t *testing.T) {
	edge, ok := persisted(StatusApproved).PendingEdge()
	require.True(t, ok)
	assert.Equal(t, StatusAccepted, edge.To)
	assert.Equal(t, RoleRequirementsManager, edge.Role)

	_, ok = persisted(StatusClosed).PendingEdge()
	assert.False(t, ok)
}

func TestPersonIdentity(t *testing.T) {
	assert.Equal(t, "alice@example.com", Person{ID: "a1", Email: " Alice@Example.com "}.Identity())
	assert.Equal(t, "a1", Person{ID: "A1"}.Identity())
	assert.True(t, Person{Name: "Only a name"}.IsZero())
	assert.True(t, Person{Email: "ALICE@example.com"}.Same(alice))
	assert.False(t, Person{}.Same(Person{}))
	assert.Equal(t, "bob@example.com", Person{Email: "bob@example.com"}.DisplayName())
}

func TestRolesFromStrings(t *testing.T) {
	roles := RolesFromStrings([]string{" Administrator", "offline_access", "compliance-officer"})
	assert.Equal(t, 2, roles.Cardinality())
	assert.True(t, roles.Contains(RoleAdministrator))
	assert.True(t, roles.Contains(RoleComplianceOfficer))
}
