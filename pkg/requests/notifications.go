package requests

import (
	"fmt"
	"strings"

	"github.com/reqtrack/reqtrack/pkg/notify"
)

var eventPhrases = map[Status]string{
	StatusSubmitted:       "submitted for 2 Ltr/PEO approval",
	StatusApproved:        "approved by 2 Ltr/PEO",
	StatusDisapproved:     "disapproved by 2 Ltr/PEO",
	StatusAccepted:        "accepted by requirements management",
	StatusDeclined:        "declined by requirements management",
	StatusCitoApproved:    "approved by the compliance officer",
	StatusCitoDisapproved: "disapproved by the compliance officer",
	StatusReview:          "moved to review",
	StatusContract:        "moved to contracting",
	StatusClosed:          "closed",
	StatusCancelled:       "cancelled",
}

// EventName returns the notification event key for a transition into target.
func EventName(target Status) string {
	return "request." + strings.ToLower(string(target))
}

// recipientPlan names who is addressed for a target status.
type recipientPlan struct {
	to []recipientRef
	cc []recipientRef
}

type recipientRef struct {
	requester bool
	approver  bool
	role      Role
}

var (
	refRequester  = recipientRef{requester: true}
	refApprover   = recipientRef{approver: true}
	refManagers   = recipientRef{role: RoleRequirementsManager}
	refCompliance = recipientRef{role: RoleComplianceOfficer}
)

var recipientPlans = map[Status]recipientPlan{
	StatusSubmitted:       {to: []recipientRef{refApprover}, cc: []recipientRef{refRequester}},
	StatusApproved:        {to: []recipientRef{refManagers}, cc: []recipientRef{refRequester, refApprover}},
	StatusDisapproved:     {to: []recipientRef{refRequester}, cc: []recipientRef{refApprover}},
	StatusAccepted:        {to: []recipientRef{refCompliance}, cc: []recipientRef{refRequester, refManagers}},
	StatusDeclined:        {to: []recipientRef{refRequester}, cc: []recipientRef{refApprover, refManagers}},
	StatusCitoApproved:    {to: []recipientRef{refManagers}, cc: []recipientRef{refRequester, refCompliance}},
	StatusCitoDisapproved: {to: []recipientRef{refRequester}, cc: []recipientRef{refManagers}},
	StatusReview:          {to: []recipientRef{refRequester}, cc: []recipientRef{refManagers}},
	StatusContract:        {to: []recipientRef{refRequester}, cc: []recipientRef{refManagers}},
	StatusClosed:          {to: []recipientRef{refRequester}, cc: []recipientRef{refApprover, refManagers}},
	StatusCancelled:       {to: []recipientRef{refRequester}, cc: []recipientRef{refApprover, refManagers}},
}

// PlanNotification builds the message announcing that r moved to target.
// Role recipients are drawn from assignments. Each identity is addressed
// once, and To takes precedence over Cc.
func PlanNotification(r *Request, target Status, actor Person, comment string, assignments []RoleAssignment, cfg *Config) notify.Message {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	plan := recipientPlans[target]
	seen := map[string]bool{}

	resolve := func(refs []recipientRef) []notify.Recipient {
		var out []notify.Recipient
		add := func(p Person) {
			id := p.Identity()
			if id == "" || seen[id] || strings.TrimSpace(p.Email) == "" {
				return
			}
			seen[id] = true
			out = append(out, notify.Recipient{Name: p.Name, Address: p.Email})
		}
		for _, ref := range refs {
			switch {
			case ref.requester:
				add(r.Requester)
			case ref.approver:
				add(r.Approver)
			default:
				for _, a := range assignments {
					if a.Has(ref.role) {
						add(a.Identity)
					}
				}
			}
		}
		return out
	}

	msg := notify.Message{
		Event:     EventName(target),
		RequestID: r.ID,
		To:        resolve(plan.to),
		Cc:        resolve(plan.cc),
		Subject:   notificationSubject(r, target, cfg),
		Body:      notificationBody(r, target, actor, comment, cfg),
	}
	if sender := cfg.Sender.Person(); sender.Email != "" {
		msg.From = &notify.Recipient{Name: sender.Name, Address: sender.Email}
	}
	return msg
}

func notificationSubject(r *Request, target Status, cfg *Config) string {
	phrase, ok := eventPhrases[target]
	if !ok {
		phrase = strings.ToLower(string(target))
	}
	return fmt.Sprintf("%s %s: %s", cfg.IDFormat().Format(r.ID), r.Title, phrase)
}

func notificationBody(r *Request, target Status, actor Person, comment string, cfg *Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request %s %q is now %s.\n", cfg.IDFormat().Format(r.ID), r.Title, target)
	fmt.Fprintf(&b, "Requester: %s\n", r.Requester.DisplayName())
	fmt.Fprintf(&b, "Action taken by: %s\n", actor.DisplayName())
	if comment = strings.TrimSpace(comment); comment != "" {
		fmt.Fprintf(&b, "\nComment:\n%s\n", comment)
	}
	if cfg.BaseURL != "" {
		fmt.Fprintf(&b, "\nView the request: %s/requests/%d\n", strings.TrimRight(cfg.BaseURL, "/"), r.ID)
	}
	return b.String()
}
