// Package requests implements the requirement request lifecycle: the status
// transition table, per-field validation, transition authorization, the
// workflow orchestrator and its gorm-backed persistence.
package requests

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Status is the lifecycle state of a requirement request.
type Status string

const (
	StatusSaved           Status = "SAVED"
	StatusSubmitted       Status = "SUBMITTED"
	StatusApproved        Status = "APPROVED"
	StatusDisapproved     Status = "DISAPPROVED"
	StatusAccepted        Status = "ACCEPTED"
	StatusDeclined        Status = "DECLINED"
	StatusCitoApproved    Status = "CITO_APPROVED"
	StatusCitoDisapproved Status = "CITO_DISAPPROVED"
	StatusReview          Status = "REVIEW"
	StatusContract        Status = "CONTRACT"
	StatusClosed          Status = "CLOSED"
	StatusCancelled       Status = "CANCELLED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusSaved,
	StatusSubmitted,
	StatusApproved,
	StatusDisapproved,
	StatusAccepted,
	StatusDeclined,
	StatusCitoApproved,
	StatusCitoDisapproved,
	StatusReview,
	StatusContract,
	StatusClosed,
	StatusCancelled,
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// IsRejection reports whether s is one of the gate rejection states that
// return a request to its requester for rework.
func (s Status) IsRejection() bool {
	switch s {
	case StatusDisapproved, StatusDeclined, StatusCitoDisapproved:
		return true
	}
	return false
}

// Stage groups statuses into the broad lifecycle phases.
type Stage string

const (
	StageDraft       Stage = "draft"
	StageApproval    Stage = "approval"
	StageReview      Stage = "review"
	StageContracting Stage = "contracting"
	StageClosed      Stage = "closed"
)

// Stage returns the lifecycle phase s belongs to.
func (s Status) Stage() Stage {
	switch s {
	case StatusSaved:
		return StageDraft
	case StatusReview:
		return StageReview
	case StatusContract:
		return StageContracting
	case StatusClosed, StatusCancelled:
		return StageClosed
	default:
		return StageApproval
	}
}

// RequirementType classifies what kind of change is being requested.
type RequirementType string

const (
	RequirementNewCapability RequirementType = "NEW_CAPABILITY"
	RequirementModification  RequirementType = "MODIFICATION"
	RequirementFunctional    RequirementType = "FUNCTIONAL"
	RequirementNonFunctional RequirementType = "NON_FUNCTIONAL"
)

// Application is the target application of a request. ApplicationOther means
// the application is described in free text instead.
type Application string

const (
	ApplicationCaseManagement Application = "CASE_MANAGEMENT"
	ApplicationDocumentPortal Application = "DOCUMENT_PORTAL"
	ApplicationFinance        Application = "FINANCE"
	ApplicationHumanResources Application = "HUMAN_RESOURCES"
	ApplicationReporting      Application = "REPORTING"
	ApplicationOther          Application = "OTHER"
)

// Center is the organizational center impacted by a request.
type Center string

const (
	CenterHeadquarters Center = "HEADQUARTERS"
	CenterNorth        Center = "NORTH"
	CenterSouth        Center = "SOUTH"
	CenterEast         Center = "EAST"
	CenterWest         Center = "WEST"
	CenterEnterprise   Center = "ENTERPRISE"
)

// Person is a party referenced by a request.
type Person struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Identity returns the normalized key used to compare people and look up
// their roles: the lower-cased contact address, or the ID when no address
// is known.
func (p Person) Identity() string {
	if email := strings.ToLower(strings.TrimSpace(p.Email)); email != "" {
		return email
	}
	return strings.ToLower(strings.TrimSpace(p.ID))
}

// IsZero reports whether p carries no identifying information.
func (p Person) IsZero() bool {
	return p.Identity() == ""
}

// Same reports whether p and other refer to the same identity.
func (p Person) Same(other Person) bool {
	id := p.Identity()
	return id != "" && id == other.Identity()
}

// DisplayName returns the name, falling back to the identity.
func (p Person) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Identity()
}

// Role is an additive capability tag held by an identity.
type Role string

const (
	RoleAdministrator       Role = "administrator"
	RoleRequirementsManager Role = "requirements-manager"
	RoleComplianceOfficer   Role = "compliance-officer"
)

// AllRoles lists every known role.
var AllRoles = []Role{RoleAdministrator, RoleRequirementsManager, RoleComplianceOfficer}

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

// RoleSet is the set of roles held by an acting identity.
type RoleSet = mapset.Set[Role]

// NewRoleSet returns a RoleSet holding roles.
func NewRoleSet(roles ...Role) RoleSet {
	return mapset.NewSet(roles...)
}

// RolesFromStrings converts role tags into a RoleSet, dropping unknown tags.
func RolesFromStrings(tags []string) RoleSet {
	set := NewRoleSet()
	for _, tag := range tags {
		role := Role(strings.ToLower(strings.TrimSpace(tag)))
		if role.IsValid() {
			set.Add(role)
		}
	}
	return set
}

func hasRole(roles RoleSet, role Role) bool {
	return roles != nil && roles.Contains(role)
}

// RoleAssignment maps an identity to the roles it holds.
type RoleAssignment struct {
	Identity Person `json:"identity"`
	Roles    []Role `json:"roles"`
}

// Has reports whether the assignment includes role.
func (a RoleAssignment) Has(role Role) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}
