package requests

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/reqtrack/reqtrack/pkg/authz"
)

// unsavedPathID addresses a draft that has no id yet.
const unsavedPathID = "-"

// requestView is a request as seen by the caller.
type requestView struct {
	*Request
	FormattedID        string   `json:"formattedId"`
	ReadOnly           bool     `json:"readOnly"`
	Editable           bool     `json:"editable"`
	NextStatus         Status   `json:"nextStatus,omitempty"`
	AllowedTransitions []Status `json:"allowedTransitions"`
}

type requestList struct {
	Items []requestView `json:"items"`
	Size  int           `json:"size"`
}

type transitionResponse struct {
	Request           requestView `json:"request"`
	Note              *Note       `json:"note,omitempty"`
	Notified          bool        `json:"notified"`
	NotificationError string      `json:"notificationError,omitempty"`
}

type noteList struct {
	Items []Note `json:"items"`
	Size  int    `json:"size"`
}

type roleAssignmentList struct {
	Items []RoleAssignment `json:"items"`
	Size  int              `json:"size"`
}

func newRequestView(r *Request, actor Person, roles RoleSet, cfg *Config) requestView {
	v := requestView{
		Request:            r,
		FormattedID:        cfg.IDFormat().Format(r.ID),
		ReadOnly:           r.IsReadOnly(actor, roles),
		Editable:           r.IsEditableBy(actor),
		AllowedTransitions: PermittedTransitions(r, actor, roles),
	}
	if next, ok := r.NextStatus(); ok {
		v.NextStatus = next
	}
	if v.AllowedTransitions == nil {
		v.AllowedTransitions = []Status{}
	}
	return v
}

// actorFromRequest returns the caller and its roles. Anonymous callers are
// the zero Person.
func actorFromRequest(r *http.Request) (Person, RoleSet) {
	id, ok := authz.IdentityFromContext(r.Context())
	if !ok || id.IsAnonymous() {
		return Person{}, NewRoleSet()
	}
	return Person{ID: id.User, Name: id.Name, Email: id.Address()}, RolesFromStrings(id.Roles)
}

// setETag publishes the concurrency token of req as a strong entity tag.
func setETag(w http.ResponseWriter, req *Request) {
	if req != nil && req.ConcurrencyToken != "" {
		w.Header().Set("ETag", strconv.Quote(req.ConcurrencyToken))
	}
}

// ifMatch returns the token of an If-Match header, quoted or bare.
func ifMatch(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("If-Match"))
	v = strings.TrimPrefix(v, "W/")
	return strings.Trim(v, `"`)
}

func parseRequestID(r *http.Request, cfg *Config) (int64, error) {
	return cfg.IDFormat().Parse(chi.URLParam(r, "id"))
}

// listRequestsHandler returns requests filtered by status, requester,
// approver and filterQuery.
func listRequestsHandler(wf *Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := Filter{
			Status:      Status(q.Get("status")),
			Requester:   q.Get("requester"),
			Approver:    q.Get("approver"),
			FilterQuery: q.Get("filterQuery"),
		}
		if filter.Status != "" && !filter.Status.IsValid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", filter.Status))
			return
		}
		if ps := q.Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				filter.PageSize = v
			}
		}

		items, err := wf.List(r.Context(), filter)
		if err != nil {
			writeWorkflowError(w, err)
			return
		}
		actor, roles := actorFromRequest(r)
		views := make([]requestView, 0, len(items))
		for i := range items {
			views = append(views, newRequestView(&items[i], actor, roles, wf.Config()))
		}
		writeJSON(w, http.StatusOK, requestList{Items: views, Size: len(views)})
	}
}

// getRequestHandler returns one request with the caller's permissions.
func getRequestHandler(wf *Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseRequestID(r, wf.Config())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req, err := wf.Get(r.Context(), id)
		if err != nil {
			writeWorkflowError(w, err)
			return
		}
		actor, roles := actorFromRequest(r)
		setETag(w, req)
		writeJSON(w, http.StatusOK, newRequestView(req, actor, roles, wf.Config()))
	}
}

// createDraftHandler saves a new draft owned by the caller.
func createDraftHandler(wf *Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body Request
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		actor, roles := actorFromRequest(r)
		body.ID = UnsavedID
		body.ApplySameAsRequester()

		saved, err := wf.SaveDraft(r.Context(), &body, actor, roles)
		if err != nil {
			writeWorkflowError(w, err)
			return
		}
		setETag(w, saved)
		writeJSON(w, http.StatusCreated, newRequestView(saved, actor, roles, wf.Config()))
	}
}

// updateRequestHandler saves edits to a stored request. The concurrency
// token comes from the body or the If-Match header.
func updateRequestHandler(wf *Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseRequestID(r, wf.Config())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var body Request
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		body.ID = id
		if body.ConcurrencyToken == "" {
			body.ConcurrencyToken = ifMatch(r)
		}
		if body.ConcurrencyToken == "" {
			writeErrorCode(w, http.StatusPreconditionRequired, ErrMissingToken.Error(), CodePersistenceFailed, nil)
			return
		}
		body.ApplySameAsRequester()

		actor, roles := actorFromRequest(r)
		saved, err := wf.SaveDraft(r.Context(), &body, actor, roles)
		if err != nil {
			writeWorkflowError(w, err)
			return
		}
		setETag(w, saved)
		writeJSON(w, http.StatusOK, newRequestView(saved, actor, roles, wf.Config()))
	}
}

// deleteRequestHandler removes a request.
func deleteRequestHandler(wf *Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseRequestID(r, wf.Config())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		actor, roles := actorFromRequest(r)
		if err := wf.Delete(r.Context(), id, actor, roles); err != nil {
			writeWorkflowError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// validateHandler runs the field rules against the body without saving.
// The funded query parameter overrides the body's funding flag.
func validateHandler(wf *Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body Request
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		funded := body.Funded
		if v := r.URL.Query().Get("funded"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid funded value %q", v))
				return
			}
			funded = b
		}

		var prior *Request
		if chi.URLParam(r, "id") != unsavedPathID {
			id, err := parseRequestID(r, wf.Config())
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			prior, err = wf.Get(r.Context(), id)
			if err != nil {
				writeWorkflowError(w, err)
				return
			}
		}
		body.ApplySameAsRequester()
		writeJSON(w, http.StatusOK, Validator{Now: wf.clock}.Validate(&body, funded, prior))
	}
}

// transitionHandler moves a request to the target status. POSTing to
// /requests/-/transitions submits a draft carried in the body. For a stored
// request the token comes from the body or If-Match, and a body request
// carries field edits.
func transitionHandler(wf *Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body TransitionDTO
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		body.Normalize()
		if fields, ok := checkDTO(&body); !ok {
			writeErrorCode(w, http.StatusUnprocessableEntity, "invalid transition request", CodeValidationFailed, fields)
			return
		}
		target := Status(body.TargetStatus)
		if !target.IsValid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", body.TargetStatus))
			return
		}

		actor, roles := actorFromRequest(r)
		var record *Request
		if chi.URLParam(r, "id") == unsavedPathID {
			if body.Request == nil {
				writeError(w, http.StatusBadRequest, "request is required to submit an unsaved draft")
				return
			}
			record = body.Request.Clone()
			record.ID = UnsavedID
			record.Status = StatusSaved
			if record.Requester.IsZero() {
				record.Requester = actor
			}
			record.ApplySameAsRequester()
		} else {
			id, err := parseRequestID(r, wf.Config())
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			token := body.ConcurrencyToken
			if token == "" {
				token = ifMatch(r)
			}
			if token == "" {
				writeErrorCode(w, http.StatusPreconditionRequired, ErrMissingToken.Error(), CodePersistenceFailed, nil)
				return
			}
			if body.Request != nil {
				record = body.Request.Clone()
				record.ID = id
			} else {
				current, err := wf.Get(r.Context(), id)
				if err != nil {
					writeWorkflowError(w, err)
					return
				}
				record = current
			}
			record.ConcurrencyToken = token
		}

		res, err := wf.AttemptTransition(r.Context(), record, target, actor, roles, body.Comment)
		if err != nil {
			writeWorkflowError(w, err)
			return
		}
		out := transitionResponse{
			Request:  newRequestView(res.Request, actor, roles, wf.Config()),
			Note:     res.Note,
			Notified: res.Notified,
		}
		if res.NotifyErr != nil {
			out.NotificationError = res.NotifyErr.Error()
		}
		setETag(w, res.Request)
		writeJSON(w, http.StatusOK, out)
	}
}

// listNotesHandler returns the audit history of a request.
func listNotesHandler(wf *Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseRequestID(r, wf.Config())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		notes, err := wf.History(r.Context(), id)
		if err != nil {
			writeWorkflowError(w, err)
			return
		}
		if notes == nil {
			notes = []Note{}
		}
		writeJSON(w, http.StatusOK, noteList{Items: notes, Size: len(notes)})
	}
}

// addNoteHandler appends a free-form comment.
func addNoteHandler(wf *Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseRequestID(r, wf.Config())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var body CommentDTO
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		body.Normalize()
		if fields, ok := checkDTO(&body); !ok {
			writeErrorCode(w, http.StatusBadRequest, "a comment is required", CodeCommentRequired, fields)
			return
		}
		actor, _ := actorFromRequest(r)
		note, err := wf.AddComment(r.Context(), id, actor, body.Title, body.Text)
		if err != nil {
			writeWorkflowError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, note)
	}
}

// listRolesHandler returns every role assignment.
func listRolesHandler(roles RoleAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := roles.AllRoleAssignments(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list role assignments: %v", err))
			return
		}
		if items == nil {
			items = []RoleAssignment{}
		}
		writeJSON(w, http.StatusOK, roleAssignmentList{Items: items, Size: len(items)})
	}
}

// assignRolesHandler grants roles to the identity in the path.
func assignRolesHandler(roles RoleAdmin, onChange func(identity string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := chi.URLParam(r, "identity")
		var body RoleAssignmentDTO
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		body.Normalize()
		if fields, ok := checkDTO(&body); !ok {
			writeErrorCode(w, http.StatusUnprocessableEntity, "invalid role assignment", CodeValidationFailed, fields)
			return
		}

		person := Person{ID: identity, Name: body.Name, Email: body.Email}
		if person.Email == "" {
			person.Email = identity
		}
		assignment := RoleAssignment{Identity: person}
		for _, tag := range body.Roles {
			role := Role(tag)
			if err := roles.Assign(r.Context(), person, role); err != nil {
				writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to assign role: %v", err))
				return
			}
			assignment.Roles = append(assignment.Roles, role)
		}
		if onChange != nil {
			onChange(person.Identity())
		}
		writeJSON(w, http.StatusOK, assignment)
	}
}

// revokeRoleHandler removes one role from the identity in the path.
func revokeRoleHandler(roles RoleAdmin, onChange func(identity string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := chi.URLParam(r, "identity")
		role := Role(chi.URLParam(r, "role"))
		if !role.IsValid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown role %q", role))
			return
		}
		if err := roles.Revoke(r.Context(), identity, role); err != nil {
			if errors.Is(err, ErrNotFound) {
				writeError(w, http.StatusNotFound, fmt.Sprintf("%s does not hold %s", identity, role))
				return
			}
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to revoke role: %v", err))
			return
		}
		if onChange != nil {
			onChange(identity)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// StatusForError maps a workflow error to an HTTP status code.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMissingToken):
		return http.StatusPreconditionRequired
	case errors.Is(err, ErrInvalidFilter):
		return http.StatusBadRequest
	}
	switch KindOf(err) {
	case KindNotAuthorized:
		return http.StatusForbidden
	case KindValidationFailed:
		return http.StatusUnprocessableEntity
	case KindCommentRequired:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeWorkflowError(w http.ResponseWriter, err error) {
	status := StatusForError(err)
	var te *TransitionError
	if errors.As(err, &te) {
		writeErrorCode(w, status, te.Message, te.Code, te.Fields)
		return
	}
	code := CodeUnknown
	switch status {
	case http.StatusNotFound:
		code = CodeNotFound
	case http.StatusConflict:
		code = CodeConcurrencyConflict
	case http.StatusBadRequest:
		code = CodeValidationFailed
	}
	writeErrorCode(w, status, err.Error(), code, nil)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type errorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeErrorCode(w http.ResponseWriter, status int, message, code string, fields map[string]string) {
	writeJSON(w, status, errorBody{Error: message, Code: code, Fields: fields})
}
