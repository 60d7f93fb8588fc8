package main

type person struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

func (p person) String() string {
	switch {
	case p.Name != "" && p.Email != "":
		return p.Name + " <" + p.Email + ">"
	case p.Email != "":
		return p.Email
	case p.Name != "":
		return p.Name
	}
	return p.ID
}

// requestView holds the request fields shown in table output.
type requestView struct {
	ID                 int64    `json:"id"`
	FormattedID        string   `json:"formattedId"`
	Title              string   `json:"title"`
	Status             string   `json:"status"`
	Requester          person   `json:"requester"`
	Approver           person   `json:"approver"`
	ConcurrencyToken   string   `json:"concurrencyToken"`
	ReadOnly           bool     `json:"readOnly"`
	NextStatus         string   `json:"nextStatus"`
	AllowedTransitions []string `json:"allowedTransitions"`
	UpdatedAt          string   `json:"updatedAt"`
}

type requestList struct {
	Items []requestView `json:"items"`
	Size  int           `json:"size"`
}

type note struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Text     string `json:"text"`
	Author   person `json:"author"`
	Tag      string `json:"tag"`
	Modified string `json:"modified"`
}

type noteList struct {
	Items []note `json:"items"`
	Size  int    `json:"size"`
}

type transitionResult struct {
	Request           requestView `json:"request"`
	Note              *note       `json:"note"`
	Notified          bool        `json:"notified"`
	NotificationError string      `json:"notificationError"`
}

type roleAssignment struct {
	Identity person   `json:"identity"`
	Roles    []string `json:"roles"`
}

type roleAssignmentList struct {
	Items []roleAssignment `json:"items"`
	Size  int              `json:"size"`
}
