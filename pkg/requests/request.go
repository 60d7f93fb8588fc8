package requests

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// UnsavedID marks a request that has never been persisted.
const UnsavedID int64 = -1

// Request is a requirement request tracked through the approval lifecycle.
type Request struct {
	ID              int64           `json:"id"`
	Title           string          `json:"title"`
	RequirementType RequirementType `json:"requirementType,omitempty"`

	Requester          Person `json:"requester"`
	RequesterOrgSymbol string `json:"requesterOrgSymbol"`
	RequesterCommPhone string `json:"requesterCommPhone"`
	RequesterDSNPhone  string `json:"requesterDsnPhone,omitempty"`

	Approver          Person `json:"approver"`
	ApproverOrgSymbol string `json:"approverOrgSymbol"`
	ApproverCommPhone string `json:"approverCommPhone"`
	ApproverDSNPhone  string `json:"approverDsnPhone,omitempty"`
	SameAsRequester   bool   `json:"sameAsRequester,omitempty"`

	Funded         bool   `json:"funded"`
	FundingOrgName string `json:"fundingOrgName,omitempty"`

	ApplicationNeeded Application `json:"applicationNeeded,omitempty"`
	OtherApplication  string      `json:"otherApplication,omitempty"`

	ImpactedCenter Center `json:"impactedCenter,omitempty"`
	ImpactedOrg    string `json:"impactedOrg"`
	IsEnterprise   bool   `json:"isEnterprise"`
	ProjectedUsers int    `json:"projectedUsers"`

	PriorityExplanation    string `json:"priorityExplanation"`
	BusinessObjective      string `json:"businessObjective"`
	FunctionalRequirements string `json:"functionalRequirements"`
	Benefits               string `json:"benefits"`
	Risk                   string `json:"risk"`
	AdditionalInfo         string `json:"additionalInfo,omitempty"`

	RequestDate         *time.Time `json:"requestDate,omitempty"`
	ReceivedDate        *time.Time `json:"receivedDate,omitempty"`
	OperationalNeedDate *time.Time `json:"operationalNeedDate,omitempty"`
	PEOApprovedDateTime *time.Time `json:"peoApprovedDateTime,omitempty"`
	PEOApprovedComment  string     `json:"peoApprovedComment,omitempty"`

	Status           Status    `json:"status"`
	ConcurrencyToken string    `json:"concurrencyToken,omitempty"`
	CreatedBy        string    `json:"createdBy,omitempty"`
	CreatedAt        time.Time `json:"createdAt,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt,omitempty"`
}

// NewDraft returns an unsaved draft authored by requester.
func NewDraft(requester Person) *Request {
	return &Request{
		ID:        UnsavedID,
		Requester: requester,
		Status:    StatusSaved,
	}
}

// IsPersisted reports whether the request has been stored.
func (r *Request) IsPersisted() bool {
	return r.ID > 0
}

// IsApproved reports whether the immediate approver has signed.
func (r *Request) IsApproved() bool {
	return r.PEOApprovedDateTime != nil
}

// IsTerminal reports whether the request is closed or cancelled.
func (r *Request) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// Stage returns the lifecycle phase of the request.
func (r *Request) Stage() Stage {
	return r.Status.Stage()
}

// NextStatus returns the status the request is currently waiting on.
func (r *Request) NextStatus() (Status, bool) {
	return NextStatus(r.Status)
}

// PendingEdge returns the happy-path edge the request is waiting on.
func (r *Request) PendingEdge() (Edge, bool) {
	next, ok := r.NextStatus()
	if !ok {
		return Edge{}, false
	}
	return defaultMachine.Edge(r.Status, next)
}

// FormattedID renders the identifier with the default display format.
func (r *Request) FormattedID() string {
	return DefaultIDFormat.Format(r.ID)
}

// ParseFormattedID parses an identifier rendered with the default format.
func ParseFormattedID(s string) (int64, error) {
	return DefaultIDFormat.Parse(s)
}

// IsReadOnly reports whether actor may not act on the request in its current
// state. An unsaved draft belongs to its requester, and terminal requests
// are always read-only. Otherwise the request is
// writable for any party authorized on a pending edge, and for the requester
// until the immediate approver has signed.
func (r *Request) IsReadOnly(actor Person, roles RoleSet) bool {
	if !r.IsPersisted() {
		return !r.Requester.IsZero() && !actor.Same(r.Requester)
	}
	if r.IsTerminal() {
		return true
	}
	for _, edge := range defaultMachine.EdgesFrom(r.Status) {
		if edge.Kind == EdgeCancel {
			continue
		}
		if edge.Permits(r, actor, roles) {
			return false
		}
	}
	if !r.IsApproved() && actor.Same(r.Requester) {
		return false
	}
	return true
}

// IsEditableBy reports whether actor may change the descriptive fields.
// Fields are frozen once the immediate approver has signed.
func (r *Request) IsEditableBy(actor Person) bool {
	if !r.IsPersisted() {
		return true
	}
	if r.IsTerminal() || r.IsApproved() {
		return false
	}
	switch r.Status {
	case StatusSaved, StatusSubmitted, StatusDisapproved, StatusDeclined, StatusCitoDisapproved:
		return actor.Same(r.Requester)
	}
	return false
}

// ApplySameAsRequester copies the requester's contact details onto the
// approver when the requester approves their own request.
func (r *Request) ApplySameAsRequester() {
	if !r.SameAsRequester {
		return
	}
	r.Approver = r.Requester
	r.ApproverOrgSymbol = r.RequesterOrgSymbol
	r.ApproverCommPhone = r.RequesterCommPhone
	r.ApproverDSNPhone = r.RequesterDSNPhone
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	c.RequestDate = cloneTime(r.RequestDate)
	c.ReceivedDate = cloneTime(r.ReceivedDate)
	c.OperationalNeedDate = cloneTime(r.OperationalNeedDate)
	c.PEOApprovedDateTime = cloneTime(r.PEOApprovedDateTime)
	return &c
}

// withEdits returns a copy of edits that keeps the identity, status, token
// and approval stamp of r.
func (r *Request) withEdits(edits *Request) *Request {
	merged := edits.Clone()
	merged.ID = r.ID
	merged.Status = r.Status
	merged.Requester = r.Requester
	merged.ConcurrencyToken = r.ConcurrencyToken
	merged.CreatedBy = r.CreatedBy
	merged.CreatedAt = r.CreatedAt
	merged.UpdatedAt = r.UpdatedAt
	merged.ReceivedDate = cloneTime(r.ReceivedDate)
	merged.PEOApprovedDateTime = cloneTime(r.PEOApprovedDateTime)
	merged.PEOApprovedComment = r.PEOApprovedComment
	merged.ApplySameAsRequester()
	return merged
}

// sameFields reports whether other carries the same descriptive fields as r.
func (r *Request) sameFields(other *Request) bool {
	a, b := r.withEdits(r), r.withEdits(other)
	if !sameInstant(a.RequestDate, b.RequestDate) || !sameInstant(a.OperationalNeedDate, b.OperationalNeedDate) {
		return false
	}
	for _, c := range []*Request{a, b} {
		c.RequestDate, c.OperationalNeedDate = nil, nil
		c.ReceivedDate, c.PEOApprovedDateTime = nil, nil
	}
	return *a == *b
}

func sameInstant(x, y *time.Time) bool {
	if x == nil || y == nil {
		return x == nil && y == nil
	}
	return x.Equal(*y)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// IDFormat renders numeric identifiers for display and email subjects.
type IDFormat struct {
	Prefix string
	Width  int
}

// DefaultIDFormat renders ids like RR-00042.
var DefaultIDFormat = IDFormat{Prefix: "RR-", Width: 5}

// Format renders id. Unsaved requests render as the prefix followed by NEW.
func (f IDFormat) Format(id int64) string {
	if id <= 0 {
		return f.Prefix + "NEW"
	}
	return fmt.Sprintf("%s%0*d", f.Prefix, f.Width, id)
}

// Parse reverses Format. Plain numbers are accepted as well.
func (f IDFormat) Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if f.Prefix != "" && len(s) >= len(f.Prefix) && strings.EqualFold(s[:len(f.Prefix)], f.Prefix) {
		s = s[len(f.Prefix):]
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid request id %q", s)
	}
	return id, nil
}
