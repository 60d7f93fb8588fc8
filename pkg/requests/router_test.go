package requests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/reqtrack/reqtrack/pkg/authz"
)

type apiRequest struct {
	Request
	FormattedID        string   `json:"formattedId"`
	ReadOnly           bool     `json:"readOnly"`
	Editable           bool     `json:"editable"`
	NextStatus         Status   `json:"nextStatus"`
	AllowedTransitions []Status `json:"allowedTransitions"`
}

type apiTransition struct {
	Request           apiRequest `json:"request"`
	Note              *Note      `json:"note"`
	Notified          bool       `json:"notified"`
	NotificationError string     `json:"notificationError"`
}

type apiError struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields"`
}

type apiEnv struct {
	server   *httptest.Server
	notifier *recordingNotifier
	changed  []string
}

func newAPIEnv() *apiEnv {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	Expect(err).NotTo(HaveOccurred())
	store := NewRequestStore(db)
	Expect(store.AutoMigrate()).To(Succeed())

	roles := NewRoleStore(db)
	ctx := context.Background()
	Expect(roles.Assign(ctx, manny, RoleRequirementsManager)).To(Succeed())
	Expect(roles.Assign(ctx, root, RoleAdministrator)).To(Succeed())

	env := &apiEnv{notifier: &recordingNotifier{}}
	wf, err := NewWorkflow(WorkflowDeps{
		Repository: store,
		Notes:      NewNoteStore(db),
		Directory:  roles,
		Notifier:   env.notifier,
		Logger:     discardLogger(),
		Clock:      nowFunc,
	})
	Expect(err).NotTo(HaveOccurred())

	r := chi.NewRouter()
	r.Use(authz.IdentityMiddleware(nil))
	r.Use(authz.RolesMiddleware(roles, false, discardLogger()))
	r.Mount("/api/requests/v1", NewRouter(wf, RouterOptions{
		Roles:          roles,
		OnRolesChanged: func(identity string) { env.changed = append(env.changed, identity) },
	}))
	env.server = httptest.NewServer(r)
	DeferCleanup(env.server.Close)
	return env
}

// call performs a request as user (anonymous when empty) and decodes the
// response body into out when out is non-nil.
func (e *apiEnv) call(method, path, user string, body any, out any) int {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+"/api/requests/v1"+path, reader)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Remote-User", user)
	}
	rs, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer rs.Body.Close()
	if out != nil && rs.StatusCode != http.StatusNoContent {
		Expect(json.NewDecoder(rs.Body).Decode(out)).To(Succeed())
	}
	return rs.StatusCode
}

var _ = Describe("Request API", func() {
	Context("driving a request through approval", Ordered, func() {
		var (
			env   *apiEnv
			saved apiRequest
			path  string
		)

		BeforeAll(func() {
			env = newAPIEnv()
		})

		It("rejects anonymous writes", func() {
			var body apiError
			Expect(env.call(http.MethodPost, "/requests", "", validDraft(), &body)).To(Equal(http.StatusUnauthorized))
		})

		It("creates a draft for the caller", func() {
			By("posting a draft as the requester")
			Expect(env.call(http.MethodPost, "/requests", "alice@example.com", validDraft(), &saved)).To(Equal(http.StatusCreated))
			Expect(saved.ID).To(BeNumerically(">", 0))
			Expect(saved.Status).To(Equal(StatusSaved))
			Expect(saved.FormattedID).To(Equal(fmt.Sprintf("RR-%05d", saved.ID)))
			Expect(saved.Editable).To(BeTrue())
			Expect(saved.AllowedTransitions).To(ConsistOf(StatusSubmitted, StatusCancelled))
			path = fmt.Sprintf("/requests/%d", saved.ID)

			By("reading it back by formatted id")
			var got apiRequest
			Expect(env.call(http.MethodGet, "/requests/"+saved.FormattedID, "carol@example.com", nil, &got)).To(Equal(http.StatusOK))
			Expect(got.Title).To(Equal("Replace badge readers"))
			Expect(got.ReadOnly).To(BeTrue())
		})

		It("requires a concurrency token to transition", func() {
			var body apiError
			status := env.call(http.MethodPost, path+"/transitions", "alice@example.com",
				TransitionDTO{TargetStatus: "SUBMITTED"}, &body)
			Expect(status).To(Equal(http.StatusPreconditionRequired))
		})

		It("submits the draft and notifies the approver", func() {
			var res apiTransition
			status := env.call(http.MethodPost, path+"/transitions", "alice@example.com",
				TransitionDTO{TargetStatus: "submitted", ConcurrencyToken: saved.ConcurrencyToken}, &res)
			Expect(status).To(Equal(http.StatusOK))
			Expect(res.Request.Status).To(Equal(StatusSubmitted))
			Expect(res.Request.NextStatus).To(Equal(StatusApproved))
			Expect(res.Notified).To(BeTrue())
			Expect(res.Note).NotTo(BeNil())
			Expect(env.notifier.messages()).To(HaveLen(1))
			Expect(env.notifier.messages()[0].To[0].Address).To(Equal("bob@example.com"))
			saved = res.Request
		})

		It("refuses approval from anyone but the approver", func() {
			var body apiError
			status := env.call(http.MethodPost, path+"/transitions", "carol@example.com",
				TransitionDTO{TargetStatus: "APPROVED", ConcurrencyToken: saved.ConcurrencyToken}, &body)
			Expect(status).To(Equal(http.StatusForbidden))
			Expect(body.Code).To(Equal(CodeNotAuthorized))
		})

		It("requires a comment to disapprove", func() {
			var body apiError
			status := env.call(http.MethodPost, path+"/transitions", "bob@example.com",
				TransitionDTO{TargetStatus: "DISAPPROVED", ConcurrencyToken: saved.ConcurrencyToken}, &body)
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(body.Code).To(Equal(CodeCommentRequired))
		})

		It("approves and then rejects a stale token", func() {
			stale := saved.ConcurrencyToken
			var res apiTransition
			Expect(env.call(http.MethodPost, path+"/transitions", "bob@example.com",
				TransitionDTO{TargetStatus: "APPROVED", Comment: "go ahead", ConcurrencyToken: stale}, &res)).
				To(Equal(http.StatusOK))
			Expect(res.Request.PEOApprovedComment).To(Equal("go ahead"))
			Expect(res.Request.ReadOnly).To(BeTrue())
			saved = res.Request

			var body apiError
			Expect(env.call(http.MethodPost, path+"/transitions", "bob@example.com",
				TransitionDTO{TargetStatus: "DISAPPROVED", Comment: "changed my mind", ConcurrencyToken: stale}, &body)).
				To(Equal(http.StatusConflict), "the approval rotated the token")
			Expect(body.Code).To(Equal(CodeConcurrencyConflict))
		})

		It("lets the manager accept with roles from the directory", func() {
			var res apiTransition
			Expect(env.call(http.MethodPost, path+"/transitions", "manny@example.com",
				TransitionDTO{TargetStatus: "ACCEPTED", ConcurrencyToken: saved.ConcurrencyToken}, &res)).
				To(Equal(http.StatusOK))
			Expect(res.Request.Status).To(Equal(StatusAccepted))
			saved = res.Request
		})

		It("records comments and lists the history", func() {
			var note Note
			Expect(env.call(http.MethodPost, path+"/notes", "carol@example.com",
				CommentDTO{Text: "Any ETA?"}, &note)).To(Equal(http.StatusCreated))
			Expect(note.Title).To(Equal("Comment"))

			var empty apiError
			Expect(env.call(http.MethodPost, path+"/notes", "carol@example.com",
				CommentDTO{Text: " "}, &empty)).To(Equal(http.StatusBadRequest))

			var list struct {
				Items []Note `json:"items"`
				Size  int    `json:"size"`
			}
			Expect(env.call(http.MethodGet, path+"/notes", "", nil, &list)).To(Equal(http.StatusOK))
			Expect(list.Size).To(Equal(4))
			Expect(*list.Items[0].Tag).To(Equal(StatusSubmitted))
			Expect(list.Items[3].Tag).To(BeNil())
		})

		It("filters the request list", func() {
			var list struct {
				Items []apiRequest `json:"items"`
				Size  int          `json:"size"`
			}
			Expect(env.call(http.MethodGet, "/requests?status=ACCEPTED", "", nil, &list)).To(Equal(http.StatusOK))
			Expect(list.Size).To(Equal(1))

			Expect(env.call(http.MethodGet, "/requests?filterQuery=status%3D%27CLOSED%27", "", nil, &list)).To(Equal(http.StatusOK))
			Expect(list.Size).To(Equal(0))

			var body apiError
			Expect(env.call(http.MethodGet, "/requests?status=BOGUS", "", nil, &body)).To(Equal(http.StatusBadRequest))
			Expect(env.call(http.MethodGet, "/requests?filterQuery=colour%3D1", "", nil, &body)).To(Equal(http.StatusBadRequest))
		})

		It("only lets administrators delete submitted requests", func() {
			var body apiError
			Expect(env.call(http.MethodDelete, path, "alice@example.com", nil, &body)).To(Equal(http.StatusForbidden))
			Expect(env.call(http.MethodDelete, path, "root@example.com", nil, nil)).To(Equal(http.StatusNoContent))
			Expect(env.call(http.MethodGet, path, "", nil, &body)).To(Equal(http.StatusNotFound))
		})
	})

	Context("working with unsaved drafts", func() {
		var env *apiEnv

		BeforeEach(func() {
			env = newAPIEnv()
		})

		It("validates without saving", func() {
			var res ValidationResult
			Expect(env.call(http.MethodPost, "/requests/-/validate?funded=true", "", validDraft(), &res)).To(Equal(http.StatusOK))
			Expect(res.IsErrored).To(BeTrue())
			Expect(res.FundingOrgName).To(Equal(MsgRequired))

			Expect(env.call(http.MethodPost, "/requests/-/validate", "", validDraft(), &res)).To(Equal(http.StatusOK))
			Expect(res.IsErrored).To(BeFalse())
		})

		It("submits a draft in one call", func() {
			draft := validDraft()
			draft.Requester = Person{}
			draft.SameAsRequester = false
			var res apiTransition
			Expect(env.call(http.MethodPost, "/requests/-/transitions", "alice@example.com",
				TransitionDTO{TargetStatus: "SUBMITTED", Request: draft}, &res)).To(Equal(http.StatusOK))
			Expect(res.Request.ID).To(BeNumerically(">", 0))
			Expect(res.Request.Requester.Email).To(Equal("alice@example.com"))
			Expect(res.Request.Status).To(Equal(StatusSubmitted))
		})

		It("reports field errors", func() {
			draft := validDraft()
			draft.Title = ""
			var body apiError
			Expect(env.call(http.MethodPost, "/requests/-/transitions", "alice@example.com",
				TransitionDTO{TargetStatus: "SUBMITTED", Request: draft}, &body)).To(Equal(http.StatusUnprocessableEntity))
			Expect(body.Code).To(Equal(CodeValidationFailed))
			Expect(body.Fields).To(HaveKeyWithValue("title", MsgRequired))
		})

		It("updates a draft with If-Match", func() {
			var saved apiRequest
			Expect(env.call(http.MethodPost, "/requests", "alice@example.com", validDraft(), &saved)).To(Equal(http.StatusCreated))

			edit := saved.Request
			edit.Title = "Replace every badge reader"
			token := edit.ConcurrencyToken
			edit.ConcurrencyToken = ""

			data, err := json.Marshal(edit)
			Expect(err).NotTo(HaveOccurred())
			req, err := http.NewRequest(http.MethodPut, fmt.Sprintf("%s/api/requests/v1/requests/%d", env.server.URL, saved.ID), bytes.NewReader(data))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("X-Remote-User", "alice@example.com")
			req.Header.Set("If-Match", token)
			rs, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer rs.Body.Close()
			Expect(rs.StatusCode).To(Equal(http.StatusOK))

			var updated apiRequest
			Expect(json.NewDecoder(rs.Body).Decode(&updated)).To(Succeed())
			Expect(updated.Title).To(Equal("Replace every badge reader"))
			Expect(updated.ConcurrencyToken).NotTo(Equal(token))

			edit.ConcurrencyToken = token
			var body apiError
			Expect(env.call(http.MethodPut, fmt.Sprintf("/requests/%d", saved.ID), "alice@example.com", edit, &body)).
				To(Equal(http.StatusConflict))
		})
	})

	Context("guarding fields on transitions", func() {
		var (
			env       *apiEnv
			submitted apiRequest
			path      string
		)

		BeforeEach(func() {
			env = newAPIEnv()
			var draft apiRequest
			Expect(env.call(http.MethodPost, "/requests", "alice@example.com", validDraft(), &draft)).To(Equal(http.StatusCreated))
			path = fmt.Sprintf("/requests/%d", draft.ID)
			var res apiTransition
			Expect(env.call(http.MethodPost, path+"/transitions", "alice@example.com",
				TransitionDTO{TargetStatus: "SUBMITTED", ConcurrencyToken: draft.ConcurrencyToken}, &res)).To(Equal(http.StatusOK))
			submitted = res.Request
		})

		expectUnchanged := func() {
			var got apiRequest
			Expect(env.call(http.MethodGet, path, "", nil, &got)).To(Equal(http.StatusOK))
			Expect(got.Title).To(Equal("Replace badge readers"))
			Expect(got.ApproverCommPhone).To(Equal("9375554321"))
			Expect(got.Status).To(Equal(StatusSubmitted))
			Expect(got.ConcurrencyToken).To(Equal(submitted.ConcurrencyToken))
		}

		It("refuses an approval that carries edited fields", func() {
			edited := submitted.Request
			edited.Title = ""
			edited.ApproverCommPhone = "12"
			var body apiError
			Expect(env.call(http.MethodPost, path+"/transitions", "bob@example.com",
				TransitionDTO{TargetStatus: "APPROVED", ConcurrencyToken: submitted.ConcurrencyToken, Request: &edited}, &body)).
				To(Equal(http.StatusForbidden))
			Expect(body.Code).To(Equal(CodeNotAuthorized))
			expectUnchanged()
		})

		It("refuses a cancellation that carries edited fields", func() {
			edited := submitted.Request
			edited.Title = "Something else entirely"
			var body apiError
			Expect(env.call(http.MethodPost, path+"/transitions", "alice@example.com",
				TransitionDTO{TargetStatus: "CANCELLED", Comment: "withdrawn", ConcurrencyToken: submitted.ConcurrencyToken, Request: &edited}, &body)).
				To(Equal(http.StatusForbidden))
			Expect(body.Code).To(Equal(CodeNotAuthorized))
			expectUnchanged()
		})

		It("accepts an unchanged record alongside the transition", func() {
			unchanged := submitted.Request
			var res apiTransition
			Expect(env.call(http.MethodPost, path+"/transitions", "bob@example.com",
				TransitionDTO{TargetStatus: "APPROVED", ConcurrencyToken: submitted.ConcurrencyToken, Request: &unchanged}, &res)).
				To(Equal(http.StatusOK))
			Expect(res.Request.Status).To(Equal(StatusApproved))
		})

		It("applies edits made while resubmitting", func() {
			var res apiTransition
			Expect(env.call(http.MethodPost, path+"/transitions", "bob@example.com",
				TransitionDTO{TargetStatus: "DISAPPROVED", Comment: "needs a better risk statement", ConcurrencyToken: submitted.ConcurrencyToken}, &res)).
				To(Equal(http.StatusOK))

			edited := res.Request.Request
			edited.Risk = "Tailgating at the loading dock."
			Expect(env.call(http.MethodPost, path+"/transitions", "alice@example.com",
				TransitionDTO{TargetStatus: "SUBMITTED", ConcurrencyToken: edited.ConcurrencyToken, Request: &edited}, &res)).
				To(Equal(http.StatusOK))
			Expect(res.Request.Status).To(Equal(StatusSubmitted))
			Expect(res.Request.Risk).To(Equal("Tailgating at the loading dock."))
		})

		It("publishes the token as an ETag and honors If-Match", func() {
			rs, err := http.Get(env.server.URL + "/api/requests/v1" + path)
			Expect(err).NotTo(HaveOccurred())
			rs.Body.Close()
			Expect(rs.Header.Get("ETag")).To(Equal(`"` + submitted.ConcurrencyToken + `"`))

			data, err := json.Marshal(TransitionDTO{TargetStatus: "APPROVED"})
			Expect(err).NotTo(HaveOccurred())
			req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/requests/v1"+path+"/transitions", bytes.NewReader(data))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("X-Remote-User", "bob@example.com")
			req.Header.Set("If-Match", rs.Header.Get("ETag"))
			rs, err = http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer rs.Body.Close()
			Expect(rs.StatusCode).To(Equal(http.StatusOK))

			var res apiTransition
			Expect(json.NewDecoder(rs.Body).Decode(&res)).To(Succeed())
			Expect(res.Request.Status).To(Equal(StatusApproved))
			Expect(rs.Header.Get("ETag")).To(Equal(`"` + res.Request.ConcurrencyToken + `"`))
		})
	})

	Context("managing roles", func() {
		var env *apiEnv

		BeforeEach(func() {
			env = newAPIEnv()
		})

		It("lists assignments to everyone", func() {
			var list struct {
				Items []RoleAssignment `json:"items"`
			}
			Expect(env.call(http.MethodGet, "/roles", "", nil, &list)).To(Equal(http.StatusOK))
			Expect(list.Items).To(HaveLen(2))
		})

		It("restricts changes to administrators", func() {
			dto := RoleAssignmentDTO{Name: "Cora Compliance", Roles: []string{"compliance-officer"}}
			var body apiError
			Expect(env.call(http.MethodPut, "/roles/cora@example.com", "carol@example.com", dto, &body)).To(Equal(http.StatusForbidden))

			var assigned RoleAssignment
			Expect(env.call(http.MethodPut, "/roles/cora@example.com", "root@example.com", dto, &assigned)).To(Equal(http.StatusOK))
			Expect(assigned.Has(RoleComplianceOfficer)).To(BeTrue())
			Expect(env.changed).To(ConsistOf("cora@example.com"))

			Expect(env.call(http.MethodPut, "/roles/cora@example.com", "root@example.com",
				RoleAssignmentDTO{Roles: []string{"janitor"}}, &body)).To(Equal(http.StatusUnprocessableEntity))

			Expect(env.call(http.MethodDelete, "/roles/cora@example.com/compliance-officer", "root@example.com", nil, nil)).
				To(Equal(http.StatusNoContent))
			Expect(env.call(http.MethodDelete, "/roles/cora@example.com/compliance-officer", "root@example.com", nil, &body)).
				To(Equal(http.StatusNotFound))
		})
	})
})
