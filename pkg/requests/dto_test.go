package requests

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionDTO(t *testing.T) {
	dto := TransitionDTO{TargetStatus: " approved ", ConcurrencyToken: " abc "}
	dto.Normalize()
	assert.Equal(t, "APPROVED", dto.TargetStatus)
	assert.Equal(t, "abc", dto.ConcurrencyToken)
	_, ok := checkDTO(&dto)
	assert.True(t, ok)

	fields, ok := checkDTO(&TransitionDTO{})
	assert.False(t, ok)
	assert.Equal(t, "failed on the 'required' rule", fields["targetStatus"])
}

func TestCommentDTO(t *testing.T) {
	dto := CommentDTO{Text: "   "}
	dto.Normalize()
	fields, ok := checkDTO(&dto)
	assert.False(t, ok)
	assert.Contains(t, fields, "text")
}

func TestRoleAssignmentDTO(t *testing.T) {
	dto := RoleAssignmentDTO{Email: "manny@example.com", Roles: []string{" Requirements-Manager "}}
	dto.Normalize()
	_, ok := checkDTO(&dto)
	assert.True(t, ok)
	assert.Equal(t, []string{"requirements-manager"}, dto.Roles)

	fields, ok := checkDTO(&RoleAssignmentDTO{Email: "not-an-address", Roles: []string{"janitor"}})
	assert.False(t, ok)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "roles[0]")

	_, ok = checkDTO(&RoleAssignmentDTO{})
	assert.False(t, ok)
}
