package requests

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/reqtrack/reqtrack/pkg/notify"
)

// Filter narrows a List call. Empty fields are ignored.
type Filter struct {
	Status      Status
	Requester   string
	Approver    string
	FilterQuery string
	PageSize    int
}

// Repository persists requests. Update must reject a write whose token does
// not match the stored one with ErrConcurrencyConflict, and must return the
// stored record carrying a fresh token.
type Repository interface {
	Get(ctx context.Context, id int64) (*Request, error)
	List(ctx context.Context, filter Filter) ([]Request, error)
	Create(ctx context.Context, r *Request) (*Request, error)
	Update(ctx context.Context, r *Request, token string) (*Request, error)
	Delete(ctx context.Context, id int64) error
}

// Note is an append-only audit comment attached to a request. Tag is the
// status the note accompanied, or nil for free-form comments.
type Note struct {
	ID        int64     `json:"id"`
	RequestID int64     `json:"requestId"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Author    Person    `json:"author"`
	Tag       *Status   `json:"tag,omitempty"`
	Modified  time.Time `json:"modified"`
}

// Notes stores audit notes.
type Notes interface {
	Append(ctx context.Context, requestID int64, title, text string, author Person, tag *Status) (*Note, error)
	ListFor(ctx context.Context, requestID int64) ([]Note, error)
}

// noteRemover is implemented by note stores that can drop the notes of a
// deleted request.
type noteRemover interface {
	DeleteFor(ctx context.Context, requestID int64) error
}

// Directory resolves identities and the roles they hold.
type Directory interface {
	ResolveIdentity(ctx context.Context, address string) (string, error)
	RolesFor(ctx context.Context, identity string) (RoleSet, error)
	AllRoleAssignments(ctx context.Context) ([]RoleAssignment, error)
}

// Notifier delivers transition notifications.
type Notifier interface {
	Send(ctx context.Context, msg notify.Message) error
}

// WorkflowDeps are the collaborators of a Workflow. Repository and Notes are
// required; without a Directory role recipients are skipped, and without a
// Notifier nothing is sent.
type WorkflowDeps struct {
	Repository Repository
	Notes      Notes
	Directory  Directory
	Notifier   Notifier
	Logger     *slog.Logger
	Clock      func() time.Time
	Config     *Config
}

// Workflow drives requests through the lifecycle. Every transition follows
// the order authorize, validate, comment check, persist, audit note, notify.
type Workflow struct {
	repo      Repository
	notes     Notes
	directory Directory
	notifier  Notifier
	logger    *slog.Logger
	clock     func() time.Time
	cfg       *Config
	machine   *LifecycleMachine
}

// NewWorkflow creates a Workflow from deps.
func NewWorkflow(deps WorkflowDeps) (*Workflow, error) {
	if deps.Repository == nil {
		return nil, errors.New("workflow: repository is required")
	}
	if deps.Notes == nil {
		return nil, errors.New("workflow: note store is required")
	}
	w := &Workflow{
		repo:      deps.Repository,
		notes:     deps.Notes,
		directory: deps.Directory,
		notifier:  deps.Notifier,
		logger:    deps.Logger,
		clock:     deps.Clock,
		cfg:       deps.Config,
		machine:   defaultMachine,
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.clock == nil {
		w.clock = time.Now
	}
	if w.cfg == nil {
		w.cfg = DefaultConfig()
	}
	return w, nil
}

// Config returns the workflow configuration.
func (w *Workflow) Config() *Config {
	return w.cfg
}

// TransitionResult is the outcome of a successful transition.
type TransitionResult struct {
	// Request is the stored record after the transition.
	Request *Request `json:"request"`
	// Note is the audit note written for the transition.
	Note *Note `json:"note,omitempty"`
	// Notified reports whether a notification was handed to the notifier.
	Notified bool `json:"notified"`
	// NotifyErr is set when the notification could not be delivered. The
	// transition itself has still been applied.
	NotifyErr error `json:"-"`
}

// AttemptTransition moves r to target on behalf of actor. r is never
// modified; the stored record is returned in the result.
//
// For a stored request the transition starts from the stored copy, and r
// only contributes its concurrency token and field edits. Edits are accepted
// on submit and resubmit edges while actor may still edit the request; on
// any other edge they are rejected as NotAuthorized.
//
// Rejections are *TransitionError values and happen before anything is
// written. When the status has been persisted but the audit note could not
// be appended, the result is returned together with an Unknown error.
func (w *Workflow) AttemptTransition(ctx context.Context, r *Request, target Status, actor Person, roles RoleSet, comment string) (res *TransitionResult, err error) {
	if r == nil {
		return nil, unknownError("", target, errors.New("request is nil"))
	}
	from := r.Status
	start := time.Now()
	defer func() {
		recordTransition(from, target, err, time.Since(start))
	}()

	base, prior := r, (*Request)(nil)
	if r.IsPersisted() {
		if r.ConcurrencyToken == "" {
			return nil, persistenceFailed(from, target, ErrMissingToken)
		}
		prior, err = w.repo.Get(ctx, r.ID)
		if err != nil {
			return nil, persistenceFailed(from, target, err)
		}
		if prior.ConcurrencyToken != r.ConcurrencyToken {
			return nil, persistenceFailed(from, target, ErrConcurrencyConflict)
		}
		base, from = prior, prior.Status
	}

	if !w.machine.CanTransition(base, target, actor, roles) {
		if verr := w.machine.ValidateTransition(from, target); verr != nil {
			return nil, verr
		}
		if !base.IsPersisted() {
			return nil, notAuthorized(from, target, "a request that was never saved can only be submitted")
		}
		return nil, notAuthorized(from, target, "%s is not authorized to move request %s from %s to %s",
			actor.DisplayName(), w.cfg.IDFormat().Format(base.ID), from, target)
	}
	edge, _ := w.machine.Edge(from, target)

	candidate := base
	if prior != nil && !prior.sameFields(r) {
		if !edge.ValidatesFields || !prior.IsEditableBy(actor) {
			return nil, notAuthorized(from, target, "the fields of request %s cannot be changed by %s on a move from %s to %s",
				w.cfg.IDFormat().Format(prior.ID), actor.DisplayName(), from, target)
		}
		candidate = prior.withEdits(r)
	}

	if edge.ValidatesFields {
		if result := (Validator{Now: w.clock}).Validate(candidate, candidate.Funded, prior); result.IsErrored {
			return nil, validationFailed(from, target, result)
		}
	}

	comment = strings.TrimSpace(comment)
	if edge.CommentRequired && comment == "" {
		return nil, commentRequired(from, target)
	}

	next := candidate.Clone()
	next.Status = target
	now := w.clock()
	switch {
	case target == StatusApproved:
		next.PEOApprovedDateTime = &now
		next.PEOApprovedComment = comment
	case edge.Kind == EdgeReject || edge.Kind == EdgeResubmit:
		next.PEOApprovedDateTime = nil
		next.PEOApprovedComment = ""
	}
	if target == StatusSubmitted && next.ReceivedDate == nil {
		next.ReceivedDate = &now
	}

	var saved *Request
	if next.IsPersisted() {
		saved, err = w.repo.Update(ctx, next, r.ConcurrencyToken)
	} else {
		next.CreatedBy = actor.Identity()
		saved, err = w.repo.Create(ctx, next)
	}
	if err != nil {
		w.logger.Warn("transition not persisted",
			"requestId", r.ID, "from", from, "to", target, "error", err)
		return nil, persistenceFailed(from, target, err)
	}

	tag := target
	note, err := w.notes.Append(ctx, saved.ID, noteTitle(target), comment, actor, &tag)
	if err != nil {
		w.logger.Error("failed to append audit note",
			"requestId", saved.ID, "to", target, "error", err)
		return &TransitionResult{Request: saved}, unknownError(from, target, fmt.Errorf("append audit note: %w", err))
	}

	w.logger.Info("request transitioned",
		"requestId", saved.ID, "from", from, "to", target, "actor", actor.Identity())

	res = &TransitionResult{Request: saved, Note: note}
	res.Notified, res.NotifyErr = w.dispatch(ctx, saved, target, actor, comment)
	return res, nil
}

// Submit sends r to its approver.
func (w *Workflow) Submit(ctx context.Context, r *Request, actor Person) (*TransitionResult, error) {
	return w.AttemptTransition(ctx, r, StatusSubmitted, actor, nil, "")
}

// Cancel withdraws r. A comment is required.
func (w *Workflow) Cancel(ctx context.Context, r *Request, actor Person, roles RoleSet, comment string) (*TransitionResult, error) {
	return w.AttemptTransition(ctx, r, StatusCancelled, actor, roles, comment)
}

// dispatch sends the notification for a completed transition. Failures are
// logged and returned; they never undo the transition.
func (w *Workflow) dispatch(ctx context.Context, r *Request, target Status, actor Person, comment string) (bool, error) {
	if w.notifier == nil {
		return false, nil
	}

	var assignments []RoleAssignment
	if w.directory != nil {
		var err error
		assignments, err = w.directory.AllRoleAssignments(ctx)
		if err != nil {
			w.logger.Warn("role lookup failed, notifying named parties only",
				"requestId", r.ID, "error", err)
		}
	}

	msg := PlanNotification(r, target, actor, comment, assignments, w.cfg)
	if len(msg.To) == 0 {
		w.logger.Debug("no recipients for notification", "requestId", r.ID, "event", msg.Event)
		return false, nil
	}

	err := w.notifier.Send(ctx, msg)
	recordNotification(msg.Event, err)
	if err != nil {
		w.logger.Error("notification failed",
			"requestId", r.ID, "event", msg.Event, "error", err)
		return false, fmt.Errorf("%w: %s: %w", ErrNotificationFailed, msg.Event, err)
	}
	return true, nil
}

func noteTitle(target Status) string {
	if phrase, ok := eventPhrases[target]; ok {
		return "Request " + phrase
	}
	return "Request moved to " + string(target)
}

// SaveDraft stores the editable fields of r without changing its status.
// An unsaved request is created in SAVED with the actor as requester unless
// an administrator names someone else. A stored request may only be edited
// by its requester before the approver has signed; once submitted, edits are
// validated.
func (w *Workflow) SaveDraft(ctx context.Context, r *Request, actor Person, roles RoleSet) (*Request, error) {
	if r == nil {
		return nil, unknownError("", StatusSaved, errors.New("request is nil"))
	}

	if !r.IsPersisted() {
		draft := r.Clone()
		if draft.Requester.IsZero() {
			draft.Requester = actor
		}
		if !actor.Same(draft.Requester) && !hasRole(roles, RoleAdministrator) {
			return nil, notAuthorized(StatusSaved, StatusSaved, "%s cannot create a request on behalf of %s",
				actor.DisplayName(), draft.Requester.DisplayName())
		}
		draft.ID = UnsavedID
		draft.Status = StatusSaved
		draft.CreatedBy = actor.Identity()
		draft.PEOApprovedDateTime = nil
		draft.PEOApprovedComment = ""
		saved, err := w.repo.Create(ctx, draft)
		if err != nil {
			return nil, persistenceFailed("", StatusSaved, err)
		}
		w.logger.Info("draft created", "requestId", saved.ID, "actor", actor.Identity())
		return saved, nil
	}

	current, err := w.repo.Get(ctx, r.ID)
	if err != nil {
		return nil, persistenceFailed(r.Status, r.Status, err)
	}
	if !current.IsEditableBy(actor) {
		return nil, notAuthorized(current.Status, current.Status, "request %s cannot be edited by %s while %s",
			w.cfg.IDFormat().Format(current.ID), actor.DisplayName(), current.Status)
	}

	next := current.withEdits(r)

	if next.Status != StatusSaved {
		if result := (Validator{Now: w.clock}).Validate(next, next.Funded, current); result.IsErrored {
			return nil, validationFailed(current.Status, current.Status, result)
		}
	}

	saved, err := w.repo.Update(ctx, next, r.ConcurrencyToken)
	if err != nil {
		return nil, persistenceFailed(current.Status, current.Status, err)
	}
	w.logger.Info("request updated", "requestId", saved.ID, "actor", actor.Identity())
	return saved, nil
}

// AddComment appends a free-form note to the request. Comments are accepted
// in every status.
func (w *Workflow) AddComment(ctx context.Context, id int64, actor Person, title, text string) (*Note, error) {
	r, err := w.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &TransitionError{
			Code:    CodeCommentRequired,
			Kind:    KindCommentRequired,
			From:    r.Status,
			To:      r.Status,
			Message: "comment text must not be empty",
		}
	}
	if actor.IsZero() {
		return nil, notAuthorized(r.Status, r.Status, "an identity is required to comment")
	}
	if title = strings.TrimSpace(title); title == "" {
		title = "Comment"
	}
	note, err := w.notes.Append(ctx, r.ID, title, text, actor, nil)
	if err != nil {
		return nil, fmt.Errorf("append comment: %w", err)
	}
	return note, nil
}

// History returns the notes of a request, oldest first.
func (w *Workflow) History(ctx context.Context, id int64) ([]Note, error) {
	if _, err := w.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	notes, err := w.notes.ListFor(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].Modified.Equal(notes[j].Modified) {
			return notes[i].ID < notes[j].ID
		}
		return notes[i].Modified.Before(notes[j].Modified)
	})
	return notes, nil
}

// Delete removes a request. Requesters may delete their own drafts and
// administrators any request.
func (w *Workflow) Delete(ctx context.Context, id int64, actor Person, roles RoleSet) error {
	r, err := w.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !CanDelete(r, actor, roles) {
		return notAuthorized(r.Status, r.Status, "%s is not allowed to delete request %s",
			actor.DisplayName(), w.cfg.IDFormat().Format(r.ID))
	}
	if err := w.repo.Delete(ctx, id); err != nil {
		return persistenceFailed(r.Status, r.Status, err)
	}
	if remover, ok := w.notes.(noteRemover); ok {
		if err := remover.DeleteFor(ctx, id); err != nil {
			w.logger.Warn("failed to delete notes of removed request", "requestId", id, "error", err)
		}
	}
	w.logger.Info("request deleted", "requestId", id, "actor", actor.Identity())
	return nil
}

// Get returns a stored request.
func (w *Workflow) Get(ctx context.Context, id int64) (*Request, error) {
	return w.repo.Get(ctx, id)
}

// List returns stored requests matching filter.
func (w *Workflow) List(ctx context.Context, filter Filter) ([]Request, error) {
	return w.repo.List(ctx, filter)
}

// RolesFor resolves the roles held by actor through the directory. Without
// a directory the result is empty.
func (w *Workflow) RolesFor(ctx context.Context, actor Person) (RoleSet, error) {
	if w.directory == nil || actor.IsZero() {
		return NewRoleSet(), nil
	}
	identity, err := w.directory.ResolveIdentity(ctx, actor.Identity())
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	return w.directory.RolesFor(ctx, identity)
}
