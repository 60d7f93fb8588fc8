package requests

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// TransitionDTO is the body of POST /requests/{id}/transitions.
type TransitionDTO struct {
	TargetStatus     string `json:"targetStatus" validate:"required"`
	Comment          string `json:"comment"`
	ConcurrencyToken string `json:"concurrencyToken"`
	// Request carries the record for a draft that has not been saved yet,
	// or edits applied together with a resubmission.
	Request *Request `json:"request,omitempty"`
}

func (d *TransitionDTO) Normalize() {
	d.TargetStatus = strings.ToUpper(strings.TrimSpace(d.TargetStatus))
	d.ConcurrencyToken = strings.TrimSpace(d.ConcurrencyToken)
}

// CommentDTO is the body of POST /requests/{id}/notes.
type CommentDTO struct {
	Title string `json:"title" validate:"max=255"`
	Text  string `json:"text" validate:"required"`
}

func (d *CommentDTO) Normalize() {
	d.Title = strings.TrimSpace(d.Title)
	d.Text = strings.TrimSpace(d.Text)
}

// RoleAssignmentDTO is the body of PUT /roles/{identity}.
type RoleAssignmentDTO struct {
	Name  string   `json:"name"`
	Email string   `json:"email" validate:"omitempty,email"`
	Roles []string `json:"roles" validate:"required,min=1,dive,oneof=administrator requirements-manager compliance-officer"`
}

func (d *RoleAssignmentDTO) Normalize() {
	d.Name = strings.TrimSpace(d.Name)
	d.Email = strings.TrimSpace(d.Email)
	for i, r := range d.Roles {
		d.Roles[i] = strings.ToLower(strings.TrimSpace(r))
	}
}

// checkDTO validates a normalized DTO and returns the failing fields keyed
// by JSON name.
func checkDTO(dto any) (map[string]string, bool) {
	err := validate.Struct(dto)
	if err == nil {
		return nil, true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"body": err.Error()}, false
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		if name != "" {
			name = strings.ToLower(name[:1]) + name[1:]
		}
		fields[name] = "failed on the '" + fe.Tag() + "' rule"
	}
	return fields, false
}
