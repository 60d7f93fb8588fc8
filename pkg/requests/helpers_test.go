package requests

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/reqtrack/reqtrack/pkg/notify"
)

var (
	testNow = time.Date(2026, time.March, 10, 15, 30, 0, 0, time.UTC)

	alice   = Person{ID: "alice", Name: "Alice Requester", Email: "alice@example.com"}
	bob     = Person{ID: "bob", Name: "Bob Approver", Email: "bob@example.com"}
	carol   = Person{ID: "carol", Name: "Carol Bystander", Email: "carol@example.com"}
	manny   = Person{ID: "manny", Name: "Manny Manager", Email: "manny@example.com"}
	cora    = Person{ID: "cora", Name: "Cora Compliance", Email: "cora@example.com"}
	root    = Person{ID: "root", Name: "Root Admin", Email: "root@example.com"}
	nowFunc = func() time.Time { return testNow }
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, NewRequestStore(db).AutoMigrate())
	return db
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dayOffset(days int) *time.Time {
	t := testNow.AddDate(0, 0, days)
	return &t
}

// validDraft returns an unsaved request that passes every field rule.
func validDraft() *Request {
	r := NewDraft(alice)
	r.Title = "Replace badge readers"
	r.RequirementType = RequirementNewCapability
	r.RequesterOrgSymbol = "ENG-1"
	r.RequesterCommPhone = "9375551234"
	r.Approver = bob
	r.ApproverOrgSymbol = "ENG"
	r.ApproverCommPhone = "9375554321"
	r.ApplicationNeeded = ApplicationOther
	r.OtherApplication = "Badge portal"
	r.ImpactedCenter = CenterEnterprise
	r.ImpactedOrg = "ENG"
	r.PriorityExplanation = "Readers are failing."
	r.BusinessObjective = "Keep the building secure."
	r.FunctionalRequirements = "Readers accept the new cards."
	r.Benefits = "Fewer lockouts."
	r.Risk = "Unauthorized access."
	r.RequestDate = dayOffset(-1)
	r.OperationalNeedDate = dayOffset(30)
	return r
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) messages() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Message(nil), n.sent...)
}

type testEnv struct {
	db       *gorm.DB
	store    *RequestStore
	notes    *NoteStore
	roles    *RoleStore
	notifier *recordingNotifier
	wf       *Workflow
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	env := &testEnv{
		db:       db,
		store:    NewRequestStore(db),
		notes:    NewNoteStore(db),
		roles:    NewRoleStore(db),
		notifier: &recordingNotifier{},
	}
	ctx := context.Background()
	require.NoError(t, env.roles.Assign(ctx, manny, RoleRequirementsManager))
	require.NoError(t, env.roles.Assign(ctx, cora, RoleComplianceOfficer))
	require.NoError(t, env.roles.Assign(ctx, root, RoleAdministrator))

	wf, err := NewWorkflow(WorkflowDeps{
		Repository: env.store,
		Notes:      env.notes,
		Directory:  env.roles,
		Notifier:   env.notifier,
		Logger:     discardLogger(),
		Clock:      nowFunc,
	})
	require.NoError(t, err)
	env.wf = wf
	return env
}

// submitted creates a valid request and submits it as alice.
func (e *testEnv) submitted(t *testing.T) *Request {
	t.Helper()
	res, err := e.wf.Submit(context.Background(), validDraft(), alice)
	require.NoError(t, err)
	return res.Request
}

// failingRepo wraps a Repository and fails selected calls.
type failingRepo struct {
	Repository
	updateErr error
	createErr error
}

func (f *failingRepo) Update(ctx context.Context, r *Request, token string) (*Request, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return f.Repository.Update(ctx, r, token)
}

func (f *failingRepo) Create(ctx context.Context, r *Request) (*Request, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.Repository.Create(ctx, r)
}

type failingNotes struct {
	Notes
}

func (failingNotes) Append(context.Context, int64, string, string, Person, *Status) (*Note, error) {
	return nil, errors.New("note service unavailable")
}
