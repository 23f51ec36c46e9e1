// ABOUTME: Tests for the CLI commands and app wiring
// ABOUTME: Runs commands against a temp database and a scripted directory, capturing output
package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/rolodex/classify"
	"github.com/harperreed/rolodex/config"
	"github.com/harperreed/rolodex/db"
	"github.com/harperreed/rolodex/directory"
	"github.com/harperreed/rolodex/identity"
	"github.com/harperreed/rolodex/models"
)

const testAccount = "me@example.com"

type fixedClassifier struct {
	result classify.Result
}

func (f fixedClassifier) Classify(context.Context, classify.Input) classify.Result { return f.result }

type countingProvider struct {
	calls   atomic.Int32
	records []directory.Record
}

func (p *countingProvider) List(ctx context.Context, req directory.ListRequest) (*directory.Page, error) {
	p.calls.Add(1)
	return &directory.Page{Records: p.records, NextSyncToken: "tok"}, nil
}

type testApp struct {
	*App
	buf      *bytes.Buffer
	provider *countingProvider
}

func setupTestApp(t *testing.T, classifier identity.Classifier) *testApp {
	t.Helper()
	dir := t.TempDir()
	database, err := db.OpenDatabase(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	cfg := config.Default()
	cfg.OwnerID = "owner-1"
	cfg.TokenDir = filepath.Join(dir, "tokens")

	provider := &countingProvider{records: []directory.Record{
		{ResourceName: "people/7", ExternalID: "7", Etag: "e7", Email: "nurse@clinic.com", DisplayName: "Nurse Joy"},
	}}
	connector := directory.ConnectorFunc(func(ctx context.Context, ownerID, accountEmail string) (directory.Provider, error) {
		return provider, nil
	})

	buf := &bytes.Buffer{}
	app := &App{
		Config:  cfg,
		DB:      database,
		Service: identity.NewService(database, classifier, identity.Options{}, zerolog.Nop()),
		Engine:  directory.NewEngine(database, connector, directory.Options{}, zerolog.Nop()),
		Tokens:  directory.NewTokenStore(cfg.TokenDir),
		OAuth:   directory.NewOAuthConfig("", "", ""),
		Log:     zerolog.Nop(),
		Out:     buf,
	}
	return &testApp{App: app, buf: buf, provider: provider}
}

func quickApp(t *testing.T) *testApp {
	return setupTestApp(t, classify.NewPipeline(nil, nil, zerolog.Nop()))
}

// reviewApp classifies everything as a confident coach so a second sighting queues.
func reviewApp(t *testing.T) *testApp {
	return setupTestApp(t, fixedClassifier{result: classify.AIMatch{
		Classification: classify.Classification{SourceType: models.SourceCoach, Confidence: 0.9, Reasoning: "coach signature"},
		Model:          "test",
	}})
}

func (a *testApp) output() string {
	out := a.buf.String()
	a.buf.Reset()
	return out
}

func (a *testApp) queueTwice(t *testing.T, email string) models.QueueEntry {
	t.Helper()
	require.NoError(t, ObserveCommand(a.App, []string{"--email", email}))
	require.NoError(t, ObserveCommand(a.App, []string{"--email", email}))
	a.output()

	pending := models.QueuePending
	entries, err := a.Service.ListQueue(context.Background(), a.owner(), &pending)
	require.NoError(t, err)
	for _, e := range entries {
		if e.Email == email {
			return e
		}
	}
	t.Fatalf("no pending item for %s", email)
	return models.QueueEntry{}
}

func TestObserveCommand(t *testing.T) {
	app := quickApp(t)

	require.NoError(t, ObserveCommand(app.App, []string{"--email", "coach@teamsnap.com", "--name", "Coach Carter", "--message-id", "m1"}))
	out := app.output()
	assert.Contains(t, out, "✓ New contact: coach@teamsnap.com")
	assert.Contains(t, out, "Seen: 1 time(s)")

	require.NoError(t, ObserveCommand(app.App, []string{"--email", "coach@teamsnap.com", "--message-id", "m1"}))
	assert.Contains(t, app.output(), "Already counted")

	require.NoError(t, ObserveCommand(app.App, []string{"--email", "coach@teamsnap.com", "--message-id", "m2"}))
	require.NoError(t, ObserveCommand(app.App, []string{"--email", "coach@teamsnap.com", "--message-id", "m3", "--at", "2026-10-01T09:00:00Z"}))
	out = app.output()
	assert.Contains(t, out, "Seen: 3 time(s)")
	assert.Contains(t, out, "Verified automatically (auto_multiple_emails)")
}

func TestObserveCommandErrors(t *testing.T) {
	app := quickApp(t)
	assert.Error(t, ObserveCommand(app.App, []string{}))
	assert.Error(t, ObserveCommand(app.App, []string{"--email", "nope"}))
	assert.Error(t, ObserveCommand(app.App, []string{"--email", "a@b.com", "--at", "soon"}))
}

func TestListShowAndDeleteContactCommands(t *testing.T) {
	app := quickApp(t)
	require.NoError(t, ListContactsCommand(app.App, nil))
	assert.Contains(t, app.output(), "No contacts found")

	require.NoError(t, ObserveCommand(app.App, []string{"--email", "a@club.org"}))
	require.NoError(t, SyncRunCommand(app.App, []string{"--account", testAccount}))
	app.output()

	require.NoError(t, ListContactsCommand(app.App, nil))
	out := app.output()
	assert.Contains(t, out, "a@club.org")
	assert.Contains(t, out, "nurse@clinic.com")
	assert.Contains(t, out, "Total: 2 contact(s)")

	require.NoError(t, ListContactsCommand(app.App, []string{"--domain", "clinic.com"}))
	out = app.output()
	assert.NotContains(t, out, "a@club.org")
	assert.Error(t, ListContactsCommand(app.App, []string{"--status", "maybe"}))
	assert.Error(t, ListContactsCommand(app.App, []string{"--type", "wizard"}))

	contacts, err := app.Service.FindContacts(context.Background(), app.owner(), db.ContactFilter{Domain: "clinic.com"})
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	id := contacts[0].ID.String()

	require.NoError(t, ShowContactCommand(app.App, []string{id}))
	out = app.output()
	assert.Contains(t, out, "Nurse Joy")
	assert.Contains(t, out, "Source:       google people/7 (me@example.com)")

	assert.Error(t, ShowContactCommand(app.App, nil))
	assert.Error(t, ShowContactCommand(app.App, []string{"not-a-uuid"}))

	require.NoError(t, DeleteContactCommand(app.App, []string{id}))
	assert.Contains(t, app.output(), "✓ Contact deleted")
	assert.Error(t, ShowContactCommand(app.App, []string{id}))
	assert.Error(t, DeleteContactCommand(app.App, []string{id}))
}

func TestQueueCommands(t *testing.T) {
	app := reviewApp(t)
	approve := app.queueTwice(t, "one@club.org")
	reject := app.queueTwice(t, "two@club.org")
	modify := app.queueTwice(t, "three@club.org")

	require.NoError(t, QueueListCommand(app.App, nil))
	out := app.output()
	assert.Contains(t, out, "one@club.org")
	assert.Contains(t, out, "Total: 3 item(s)")

	require.NoError(t, QueueListCommand(app.App, []string{"--domain", "elsewhere.com"}))
	assert.Contains(t, app.output(), "No queue items found")

	require.NoError(t, ApproveCommand(app.App, []string{approve.ID.String(), approve.ContactID.String()}))
	out = app.output()
	assert.Contains(t, out, "✓ Approved: one@club.org")
	assert.Contains(t, out, "Status: verified")

	require.NoError(t, RejectCommand(app.App, []string{reject.ID.String()}))
	assert.Contains(t, app.output(), "✓ Rejected: two@club.org")

	require.NoError(t, ModifyCommand(app.App, []string{"--type", "teacher", "--tags", "math, science", modify.ID.String(), modify.ContactID.String()}))
	out = app.output()
	assert.Contains(t, out, "✓ Modified: three@club.org")
	assert.Contains(t, out, "Type:   teacher")
	assert.Contains(t, out, "math, science")

	err := ApproveCommand(app.App, []string{approve.ID.String(), approve.ContactID.String()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFLICT")

	assert.Error(t, ApproveCommand(app.App, []string{approve.ID.String()}))
	assert.Error(t, RejectCommand(app.App, nil))
	assert.Error(t, ModifyCommand(app.App, []string{"--type", "wizard", modify.ID.String(), modify.ContactID.String()}))

	require.NoError(t, QueueListCommand(app.App, []string{"--status", "all"}))
	assert.Contains(t, app.output(), "Total: 3 item(s)")
}

func TestApproveDomainCommand(t *testing.T) {
	app := reviewApp(t)
	app.queueTwice(t, "a@club.org")
	app.queueTwice(t, "b@club.org")
	app.queueTwice(t, "c@school.edu")

	require.NoError(t, ApproveDomainCommand(app.App, []string{"club.org"}))
	out := app.output()
	assert.Contains(t, out, "✓ a@club.org")
	assert.Contains(t, out, "✓ b@club.org")
	assert.Contains(t, out, "club.org: 2 approved, 0 failed")

	require.NoError(t, QueueListCommand(app.App, nil))
	out = app.output()
	assert.Contains(t, out, "c@school.edu")
	assert.NotContains(t, out, "a@club.org")

	assert.Error(t, ApproveDomainCommand(app.App, nil))
}

func TestSyncCommands(t *testing.T) {
	app := quickApp(t)

	require.NoError(t, SyncStatusCommand(app.App, nil))
	assert.Contains(t, app.output(), "No accounts synced yet")

	require.NoError(t, SyncRunCommand(app.App, []string{"--account", testAccount}))
	out := app.output()
	assert.Contains(t, out, "full sync, 1 page(s), 1 record(s)")
	assert.Contains(t, out, "✓ completed")

	require.NoError(t, SyncRunCommand(app.App, []string{"--account", testAccount}))
	out = app.output()
	assert.Contains(t, out, "incremental sync")
	assert.Contains(t, out, "unchanged 1")

	require.NoError(t, SyncStatusCommand(app.App, nil))
	out = app.output()
	assert.Contains(t, out, testAccount)
	assert.Contains(t, out, "completed")

	require.NoError(t, SyncHistoryCommand(app.App, []string{"--account", testAccount}))
	out = app.output()
	assert.Contains(t, out, "never_synced")
	assert.Contains(t, out, "syncing")

	assert.Error(t, SyncRunCommand(app.App, nil))
	assert.Error(t, SyncHistoryCommand(app.App, nil))
}

func TestSyncInitCommandRequiresCredentials(t *testing.T) {
	app := quickApp(t)

	err := SyncInitCommand(app.App, []string{"--account", testAccount})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GOOGLE_CLIENT_ID")

	assert.Error(t, SyncInitCommand(app.App, []string{}))
	assert.Error(t, SyncInitCommand(app.App, []string{"--account", "bogus"}))
}

func TestParseAccounts(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "single", input: "me@example.com", expected: []string{"me@example.com"}},
		{name: "several", input: "a@x.com,b@y.com", expected: []string{"a@x.com", "b@y.com"}},
		{name: "spaces and case", input: " A@X.com , b@y.com ", expected: []string{"a@x.com", "b@y.com"}},
		{name: "duplicates collapse", input: "a@x.com,A@x.com", expected: []string{"a@x.com"}},
		{name: "invalid dropped", input: "a@x.com,nope", expected: []string{"a@x.com"}},
		{name: "empty", input: "", expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseAccounts(tt.input))
		})
	}
}

func TestValidateInterval(t *testing.T) {
	tests := []struct {
		interval time.Duration
		valid    bool
	}{
		{5 * time.Minute, true},
		{time.Hour, true},
		{4 * time.Minute, false},
		{0, false},
	}
	for _, tt := range tests {
		err := validateInterval(tt.interval)
		if tt.valid {
			assert.NoError(t, err, tt.interval)
		} else {
			assert.Error(t, err, tt.interval)
		}
	}
}

func TestSyncDaemonCommandValidation(t *testing.T) {
	app := quickApp(t)
	assert.Error(t, SyncDaemonCommand(app.App, []string{"--interval", "1h"}))
	assert.Error(t, SyncDaemonCommand(app.App, []string{"--account", testAccount, "--interval", "1m"}))
}

func TestRunDaemonSyncsImmediatelyAndOnTicks(t *testing.T) {
	app := quickApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan time.Time)
	done := make(chan struct{})

	go func() {
		runDaemon(ctx, app.App, []string{testAccount}, ticks)
		close(done)
	}()

	require.Eventually(t, func() bool { return app.provider.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	ticks <- time.Now()
	require.Eventually(t, func() bool { return app.provider.calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop after cancel")
	}
}

func TestNewAppWiring(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(dir, "rolodex.db")
	cfg.TokenDir = filepath.Join(dir, "tokens")
	cfg.OpenAIAPIKey = "sk-test"

	app, err := NewApp(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, app.Service)
	assert.NotNil(t, app.Engine)
	assert.Equal(t, []string{directory.ContactsReadonlyScope}, app.OAuth.Scopes)
	app.Close()

	cfg.RedisURL = "not a url"
	_, err = NewApp(cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestMCPServerTools(t *testing.T) {
	app := quickApp(t)
	ctx := context.Background()

	server := NewMCPServer(app.App)
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer func() { _ = serverSession.Close() }()

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "v0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"observe_contact", "find_contacts", "get_contact", "delete_contact",
		"list_verification_queue", "approve_verification", "reject_verification",
		"modify_verification", "batch_approve_domain", "sync_directory", "get_sync_state",
	}, names)

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "observe_contact",
		Arguments: map[string]any{"email": "Coach@TeamSnap.com"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	contacts, err := app.Service.FindContacts(ctx, app.owner(), db.ContactFilter{})
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "coach@teamsnap.com", contacts[0].Email)

	prompts, err := session.ListPrompts(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, prompts.Prompts, 2)

	resources, err := session.ListResources(ctx, nil)
	require.NoError(t, err)
	var uris []string
	for _, r := range resources.Resources {
		uris = append(uris, r.URI)
	}
	assert.True(t, strings.Contains(strings.Join(uris, " "), "rolodex://queue"))
}

func TestTUICommandWithoutTerminalListsQueue(t *testing.T) {
	app := reviewApp(t)
	app.queueTwice(t, "coach@league.org")

	// go test pipes stdout, so the command prints the queue instead.
	require.NoError(t, TUICommand(app.App, nil))
	out := app.output()
	assert.Contains(t, out, "coach@league.org")
	assert.Contains(t, out, "Total: 1 item(s)")
}

func TestDashboardCommand(t *testing.T) {
	app := reviewApp(t)
	app.queueTwice(t, "coach@league.org")

	require.NoError(t, DashboardCommand(app.App, nil))
	out := app.output()
	assert.Contains(t, out, "ROLODEX DASHBOARD")
	assert.Contains(t, out, "📥 1 pending")
	assert.Contains(t, out, "league.org")
}
