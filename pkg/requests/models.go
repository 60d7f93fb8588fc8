package requests

import (
	"time"
)

// RequestRecord is the stored form of a Request.
type RequestRecord struct {
	ID               int64  `gorm:"primaryKey;column:id;autoIncrement"`
	Title            string `gorm:"column:title;size:255;not null"`
	RequirementType  string `gorm:"column:requirement_type"`
	Status           string `gorm:"column:status;index:idx_req_status;not null;default:SAVED"`
	ConcurrencyToken string `gorm:"column:concurrency_token;type:varchar(36);not null"`

	RequesterID        string `gorm:"column:requester_id"`
	RequesterName      string `gorm:"column:requester_name"`
	RequesterEmail     string `gorm:"column:requester_email;index:idx_req_requester"`
	RequesterOrgSymbol string `gorm:"column:requester_org_symbol;size:15"`
	RequesterCommPhone string `gorm:"column:requester_comm_phone"`
	RequesterDSNPhone  string `gorm:"column:requester_dsn_phone"`

	ApproverID        string `gorm:"column:approver_id"`
	ApproverName      string `gorm:"column:approver_name"`
	ApproverEmail     string `gorm:"column:approver_email;index:idx_req_approver"`
	ApproverOrgSymbol string `gorm:"column:approver_org_symbol;size:15"`
	ApproverCommPhone string `gorm:"column:approver_comm_phone"`
	ApproverDSNPhone  string `gorm:"column:approver_dsn_phone"`
	SameAsRequester   bool   `gorm:"column:same_as_requester"`

	Funded            bool   `gorm:"column:funded"`
	FundingOrgName    string `gorm:"column:funding_org_name"`
	ApplicationNeeded string `gorm:"column:application_needed"`
	OtherApplication  string `gorm:"column:other_application"`
	ImpactedCenter    string `gorm:"column:impacted_center"`
	ImpactedOrg       string `gorm:"column:impacted_org;size:15"`
	IsEnterprise      bool   `gorm:"column:is_enterprise"`
	ProjectedUsers    int    `gorm:"column:projected_users"`

	PriorityExplanation    string `gorm:"column:priority_explanation;type:text"`
	BusinessObjective      string `gorm:"column:business_objective;type:text"`
	FunctionalRequirements string `gorm:"column:functional_requirements;type:text"`
	Benefits               string `gorm:"column:benefits;type:text"`
	Risk                   string `gorm:"column:risk;type:text"`
	AdditionalInfo         string `gorm:"column:additional_info;type:text"`

	RequestDate         *time.Time `gorm:"column:request_date"`
	ReceivedDate        *time.Time `gorm:"column:received_date"`
	OperationalNeedDate *time.Time `gorm:"column:operational_need_date"`
	PEOApprovedDateTime *time.Time `gorm:"column:peo_approved_date_time"`
	PEOApprovedComment  string     `gorm:"column:peo_approved_comment;type:text"`

	CreatedBy string    `gorm:"column:created_by"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (RequestRecord) TableName() string { return "requirement_requests" }

// NoteRecord is the stored form of a Note.
type NoteRecord struct {
	ID          int64     `gorm:"primaryKey;column:id;autoIncrement"`
	RequestID   int64     `gorm:"column:request_id;index:idx_note_request;not null"`
	Title       string    `gorm:"column:title;not null"`
	Text        string    `gorm:"column:text;type:text"`
	AuthorID    string    `gorm:"column:author_id"`
	AuthorName  string    `gorm:"column:author_name"`
	AuthorEmail string    `gorm:"column:author_email"`
	Tag         *string   `gorm:"column:tag"`
	Modified    time.Time `gorm:"column:modified;not null"`
}

// TableName returns the GORM table name.
func (NoteRecord) TableName() string { return "request_notes" }

// RoleAssignmentRecord grants one role to one identity.
type RoleAssignmentRecord struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Identity  string    `gorm:"column:identity;size:255;uniqueIndex:idx_role_identity_role,priority:1;not null"`
	Name      string    `gorm:"column:name"`
	Email     string    `gorm:"column:email"`
	Role      string    `gorm:"column:role;size:64;uniqueIndex:idx_role_identity_role,priority:2;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (RoleAssignmentRecord) TableName() string { return "role_assignments" }

func recordFromRequest(r *Request) *RequestRecord {
	return &RequestRecord{
		ID:               r.ID,
		Title:            r.Title,
		RequirementType:  string(r.RequirementType),
		Status:           string(r.Status),
		ConcurrencyToken: r.ConcurrencyToken,

		RequesterID:        r.Requester.ID,
		RequesterName:      r.Requester.Name,
		RequesterEmail:     r.Requester.Email,
		RequesterOrgSymbol: r.RequesterOrgSymbol,
		RequesterCommPhone: r.RequesterCommPhone,
		RequesterDSNPhone:  r.RequesterDSNPhone,

		ApproverID:        r.Approver.ID,
		ApproverName:      r.Approver.Name,
		ApproverEmail:     r.Approver.Email,
		ApproverOrgSymbol: r.ApproverOrgSymbol,
		ApproverCommPhone: r.ApproverCommPhone,
		ApproverDSNPhone:  r.ApproverDSNPhone,
		SameAsRequester:   r.SameAsRequester,

		Funded:            r.Funded,
		FundingOrgName:    r.FundingOrgName,
		ApplicationNeeded: string(r.ApplicationNeeded),
		OtherApplication:  r.OtherApplication,
		ImpactedCenter:    string(r.ImpactedCenter),
		ImpactedOrg:       r.ImpactedOrg,
		IsEnterprise:      r.IsEnterprise,
		ProjectedUsers:    r.ProjectedUsers,

		PriorityExplanation:    r.PriorityExplanation,
		BusinessObjective:      r.BusinessObjective,
		FunctionalRequirements: r.FunctionalRequirements,
		Benefits:               r.Benefits,
		Risk:                   r.Risk,
		AdditionalInfo:         r.AdditionalInfo,

		RequestDate:         cloneTime(r.RequestDate),
		ReceivedDate:        cloneTime(r.ReceivedDate),
		OperationalNeedDate: cloneTime(r.OperationalNeedDate),
		PEOApprovedDateTime: cloneTime(r.PEOApprovedDateTime),
		PEOApprovedComment:  r.PEOApprovedComment,

		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (rec *RequestRecord) toRequest() *Request {
	return &Request{
		ID:               rec.ID,
		Title:            rec.Title,
		RequirementType:  RequirementType(rec.RequirementType),
		Status:           Status(rec.Status),
		ConcurrencyToken: rec.ConcurrencyToken,

		Requester:          Person{ID: rec.RequesterID, Name: rec.RequesterName, Email: rec.RequesterEmail},
		RequesterOrgSymbol: rec.RequesterOrgSymbol,
		RequesterCommPhone: rec.RequesterCommPhone,
		RequesterDSNPhone:  rec.RequesterDSNPhone,

		Approver:          Person{ID: rec.ApproverID, Name: rec.ApproverName, Email: rec.ApproverEmail},
		ApproverOrgSymbol: rec.ApproverOrgSymbol,
		ApproverCommPhone: rec.ApproverCommPhone,
		ApproverDSNPhone:  rec.ApproverDSNPhone,
		SameAsRequester:   rec.SameAsRequester,

		Funded:            rec.Funded,
		FundingOrgName:    rec.FundingOrgName,
		ApplicationNeeded: Application(rec.ApplicationNeeded),
		OtherApplication:  rec.OtherApplication,
		ImpactedCenter:    Center(rec.ImpactedCenter),
		ImpactedOrg:       rec.ImpactedOrg,
		IsEnterprise:      rec.IsEnterprise,
		ProjectedUsers:    rec.ProjectedUsers,

		PriorityExplanation:    rec.PriorityExplanation,
		BusinessObjective:      rec.BusinessObjective,
		FunctionalRequirements: rec.FunctionalRequirements,
		Benefits:               rec.Benefits,
		Risk:                   rec.Risk,
		AdditionalInfo:         rec.AdditionalInfo,

		RequestDate:         rec.RequestDate,
		ReceivedDate:        rec.ReceivedDate,
		OperationalNeedDate: rec.OperationalNeedDate,
		PEOApprovedDateTime: rec.PEOApprovedDateTime,
		PEOApprovedComment:  rec.PEOApprovedComment,

		CreatedBy: rec.CreatedBy,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

// updateColumns lists every mutable column. Zero values are included so a
// cleared field is written back.
func (rec *RequestRecord) updateColumns() map[string]any {
	return map[string]any{
		"title":                   rec.Title,
		"requirement_type":        rec.RequirementType,
		"status":                  rec.Status,
		"requester_id":            rec.RequesterID,
		"requester_name":          rec.RequesterName,
		"requester_email":         rec.RequesterEmail,
		"requester_org_symbol":    rec.RequesterOrgSymbol,
		"requester_comm_phone":    rec.RequesterCommPhone,
		"requester_dsn_phone":     rec.RequesterDSNPhone,
		"approver_id":             rec.ApproverID,
		"approver_name":           rec.ApproverName,
		"approver_email":          rec.ApproverEmail,
		"approver_org_symbol":     rec.ApproverOrgSymbol,
		"approver_comm_phone":     rec.ApproverCommPhone,
		"approver_dsn_phone":      rec.ApproverDSNPhone,
		"same_as_requester":       rec.SameAsRequester,
		"funded":                  rec.Funded,
		"funding_org_name":        rec.FundingOrgName,
		"application_needed":      rec.ApplicationNeeded,
		"other_application":       rec.OtherApplication,
		"impacted_center":         rec.ImpactedCenter,
		"impacted_org":            rec.ImpactedOrg,
		"is_enterprise":           rec.IsEnterprise,
		"projected_users":         rec.ProjectedUsers,
		"priority_explanation":    rec.PriorityExplanation,
		"business_objective":      rec.BusinessObjective,
		"functional_requirements": rec.FunctionalRequirements,
		"benefits":                rec.Benefits,
		"risk":                    rec.Risk,
		"additional_info":         rec.AdditionalInfo,
		"request_date":            rec.RequestDate,
		"received_date":           rec.ReceivedDate,
		"operational_need_date":   rec.OperationalNeedDate,
		"peo_approved_date_time":  rec.PEOApprovedDateTime,
		"peo_approved_comment":    rec.PEOApprovedComment,
	}
}

func (rec *NoteRecord) toNote() *Note {
	n := &Note{
		ID:        rec.ID,
		RequestID: rec.RequestID,
		Title:     rec.Title,
		Text:      rec.Text,
		Author:    Person{ID: rec.AuthorID, Name: rec.AuthorName, Email: rec.AuthorEmail},
		Modified:  rec.Modified,
	}
	if rec.Tag != nil {
		tag := Status(*rec.Tag)
		n.Tag = &tag
	}
	return n
}
