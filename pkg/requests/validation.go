package requests

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Field length limits.
const (
	MaxTitleLength            = 255
	MaxOrgSymbolLength        = 15
	MaxImpactedOrgLength      = 15
	MaxFundingOrgLength       = 255
	MaxOtherApplicationLength = 255
	MaxNarrativeLength        = 5000
	PhoneDigits               = 10
)

// Validation messages.
const (
	MsgRequired          = "Please fill in this field!"
	MsgTooLong           = "Too many characters entered, please shorten the length!"
	MsgPhoneRequired     = "Please enter this phone number."
	MsgPhoneTooShort     = "Please enter the full phone number, including area code!"
	MsgPhoneTooLong      = "Too many numbers given, please use a 10 digit phone number!"
	MsgPhoneNotNumeric   = "Only numeric values should be used!"
	MsgRequesterRequired = "Please provide a Requester!"
	MsgApproverRequired  = "Please provide a 2 Ltr/PEO to approve this request!"
	MsgDateRequired      = "Please enter a date that the requirement is needed by!"

	MsgPriorityRequired   = "Please explain why this request should be prioritized!"
	MsgObjectiveRequired  = "Please describe the business objective of this request!"
	MsgFunctionalRequired = "Please describe the functional requirements of this request!"
	MsgBenefitsRequired   = "Please describe the benefits of this request!"
	MsgRiskRequired       = "Please describe the risk of not fulfilling this request!"
)

const (
	dateDisplayLayout       = "1/2/2006"
	msgDateOnOrBeforeFormat = "Your date selected must be on or before %s!"
	msgDateOnOrAfterFormat  = "Your date selected must be on or after %s!"
)

// ValidationResult carries one message per validated field; an empty string
// means the field is valid.
type ValidationResult struct {
	Title                  string `json:"title,omitempty"`
	Requester              string `json:"requester,omitempty"`
	RequesterOrgSymbol     string `json:"requesterOrgSymbol,omitempty"`
	RequesterCommPhone     string `json:"requesterCommPhone,omitempty"`
	RequesterDSNPhone      string `json:"requesterDsnPhone,omitempty"`
	Approver               string `json:"approver,omitempty"`
	ApproverOrgSymbol      string `json:"approverOrgSymbol,omitempty"`
	ApproverCommPhone      string `json:"approverCommPhone,omitempty"`
	ApproverDSNPhone       string `json:"approverDsnPhone,omitempty"`
	FundingOrgName         string `json:"fundingOrgName,omitempty"`
	OtherApplication       string `json:"otherApplication,omitempty"`
	ImpactedOrg            string `json:"impactedOrg,omitempty"`
	RequestDate            string `json:"requestDate,omitempty"`
	OperationalNeedDate    string `json:"operationalNeedDate,omitempty"`
	PriorityExplanation    string `json:"priorityExplanation,omitempty"`
	BusinessObjective      string `json:"businessObjective,omitempty"`
	FunctionalRequirements string `json:"functionalRequirements,omitempty"`
	Benefits               string `json:"benefits,omitempty"`
	Risk                   string `json:"risk,omitempty"`

	IsErrored bool `json:"isErrored"`
}

// Fields returns the non-empty field messages keyed by JSON field name.
func (v ValidationResult) Fields() map[string]string {
	fields := map[string]string{}
	add := func(name, msg string) {
		if msg != "" {
			fields[name] = msg
		}
	}
	add("title", v.Title)
	add("requester", v.Requester)
	add("requesterOrgSymbol", v.RequesterOrgSymbol)
	add("requesterCommPhone", v.RequesterCommPhone)
	add("requesterDsnPhone", v.RequesterDSNPhone)
	add("approver", v.Approver)
	add("approverOrgSymbol", v.ApproverOrgSymbol)
	add("approverCommPhone", v.ApproverCommPhone)
	add("approverDsnPhone", v.ApproverDSNPhone)
	add("fundingOrgName", v.FundingOrgName)
	add("otherApplication", v.OtherApplication)
	add("impactedOrg", v.ImpactedOrg)
	add("requestDate", v.RequestDate)
	add("operationalNeedDate", v.OperationalNeedDate)
	add("priorityExplanation", v.PriorityExplanation)
	add("businessObjective", v.BusinessObjective)
	add("functionalRequirements", v.FunctionalRequirements)
	add("benefits", v.Benefits)
	add("risk", v.Risk)
	return fields
}

// Validator validates requests against a clock. The zero value uses the
// wall clock.
type Validator struct {
	Now func() time.Time
}

// Validate checks r with the wall clock.
func Validate(r *Request, funded bool, prior *Request) ValidationResult {
	return Validator{}.Validate(r, funded, prior)
}

// Validate computes the per-field messages for r. funded enables the funding
// organization checks. prior, when given, is the stored version of r and
// relaxes the operational-need floor for legacy records whose date has
// already passed.
func (v Validator) Validate(r *Request, funded bool, prior *Request) ValidationResult {
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	today := truncateToDay(now, now.Location())

	var res ValidationResult
	res.Title = checkText(r.Title, MaxTitleLength)
	res.Requester = checkPerson(r.Requester, MsgRequesterRequired)
	res.RequesterOrgSymbol = checkText(r.RequesterOrgSymbol, MaxOrgSymbolLength)
	res.RequesterCommPhone = checkPhone(r.RequesterCommPhone, true)
	res.RequesterDSNPhone = checkPhone(r.RequesterDSNPhone, false)
	res.Approver = checkPerson(r.Approver, MsgApproverRequired)
	res.ApproverOrgSymbol = checkText(r.ApproverOrgSymbol, MaxOrgSymbolLength)
	res.ApproverCommPhone = checkPhone(r.ApproverCommPhone, true)
	res.ApproverDSNPhone = checkPhone(r.ApproverDSNPhone, false)
	if funded {
		res.FundingOrgName = checkText(r.FundingOrgName, MaxFundingOrgLength)
	}
	if r.ApplicationNeeded == ApplicationOther {
		res.OtherApplication = checkText(r.OtherApplication, MaxOtherApplicationLength)
	}
	res.ImpactedOrg = checkText(r.ImpactedOrg, MaxImpactedOrgLength)

	res.RequestDate = checkNotAfter(r.RequestDate, today)
	floor := today
	if prior != nil && prior.OperationalNeedDate != nil {
		priorDay := truncateToDay(*prior.OperationalNeedDate, today.Location())
		if priorDay.Before(today) {
			floor = priorDay
		}
	}
	res.OperationalNeedDate = checkNotBefore(r.OperationalNeedDate, floor)

	res.PriorityExplanation = checkNarrative(r.PriorityExplanation, MsgPriorityRequired)
	res.BusinessObjective = checkNarrative(r.BusinessObjective, MsgObjectiveRequired)
	res.FunctionalRequirements = checkNarrative(r.FunctionalRequirements, MsgFunctionalRequired)
	res.Benefits = checkNarrative(r.Benefits, MsgBenefitsRequired)
	res.Risk = checkNarrative(r.Risk, MsgRiskRequired)

	res.IsErrored = len(res.Fields()) > 0
	return res
}

func checkText(value string, limit int) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return MsgRequired
	}
	if utf8.RuneCountInString(value) > limit {
		return MsgTooLong
	}
	return ""
}

func checkNarrative(value, prompt string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return prompt
	}
	if utf8.RuneCountInString(value) > MaxNarrativeLength {
		return MsgTooLong
	}
	return ""
}

func checkPerson(p Person, msg string) string {
	if strings.TrimSpace(p.Email) == "" {
		return msg
	}
	return ""
}

func checkPhone(value string, required bool) string {
	value = strings.TrimSpace(value)
	if value == "" {
		if required {
			return MsgPhoneRequired
		}
		return ""
	}
	for _, c := range value {
		if c < '0' || c > '9' {
			return MsgPhoneNotNumeric
		}
	}
	switch {
	case len(value) < PhoneDigits:
		return MsgPhoneTooShort
	case len(value) > PhoneDigits:
		return MsgPhoneTooLong
	}
	return ""
}

func checkNotAfter(date *time.Time, ceiling time.Time) string {
	if date == nil || date.IsZero() {
		return MsgDateRequired
	}
	if truncateToDay(*date, ceiling.Location()).After(ceiling) {
		return fmt.Sprintf(msgDateOnOrBeforeFormat, ceiling.Format(dateDisplayLayout))
	}
	return ""
}

func checkNotBefore(date *time.Time, floor time.Time) string {
	if date == nil || date.IsZero() {
		return MsgDateRequired
	}
	if truncateToDay(*date, floor.Location()).Before(floor) {
		return fmt.Sprintf(msgDateOnOrAfterFormat, floor.Format(dateDisplayLayout))
	}
	return ""
}

func truncateToDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
