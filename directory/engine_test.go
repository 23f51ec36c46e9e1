// ABOUTME: Tests for the directory sync engine against a scripted provider
// ABOUTME: Covers full and incremental runs, cursor invalidation, failures, leases and sweeps
package directory

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/rolodex/apperr"
	"github.com/harperreed/rolodex/db"
	"github.com/harperreed/rolodex/models"
)

const (
	owner   = "owner-1"
	account = "me@example.com"
)

// scriptedProvider serves pages keyed by the sync token it is asked for.
type scriptedProvider struct {
	mu       sync.Mutex
	pages    map[string][]Page
	expired  map[string]bool
	failWith error
	onList   func(call int)
	requests []ListRequest
}

func (p *scriptedProvider) List(ctx context.Context, req ListRequest) (*Page, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	call := len(p.requests)
	onList := p.onList
	p.mu.Unlock()

	if onList != nil {
		onList(call)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.expired[req.SyncToken] {
		return nil, ErrCursorExpired
	}
	if p.failWith != nil {
		return nil, p.failWith
	}

	pages := p.pages[req.SyncToken]
	idx := 0
	if req.PageToken != "" {
		idx, _ = strconv.Atoi(req.PageToken)
	}
	page := pages[idx]
	if idx+1 < len(pages) {
		page.NextPageToken = strconv.Itoa(idx + 1)
	}
	return &page, nil
}

func (p *scriptedProvider) lastRequest() ListRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.OpenDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func newEngine(t *testing.T, p Provider, opts Options) (*Engine, *sql.DB) {
	t.Helper()
	database := setupTestDB(t)
	connector := ConnectorFunc(func(context.Context, string, string) (Provider, error) { return p, nil })
	return NewEngine(database, connector, opts, zerolog.Nop()), database
}

func person(id, email, etag string) Record {
	return Record{
		ResourceName: "people/" + id,
		ExternalID:   id,
		Etag:         etag,
		Email:        email,
		DisplayName:  "Person " + id,
	}
}

func initialListing() map[string][]Page {
	return map[string][]Page{
		"": {
			{Records: []Record{person("1", "ann@example.com", "e1"), person("2", "bob@example.com", "e1")}},
			{Records: []Record{person("3", "cat@example.com", "e1"), {ResourceName: "people/4", Etag: "e1"}}, NextSyncToken: "tok-1"},
		},
	}
}

func assertLegalHistory(t *testing.T, e *Engine) {
	t.Helper()
	history, err := e.History(context.Background(), owner, account)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	for _, h := range history {
		assert.True(t, h.FromStatus.CanTransition(h.ToStatus), "illegal transition %s -> %s", h.FromStatus, h.ToStatus)
	}
}

func TestFullSyncImportsDirectory(t *testing.T) {
	p := &scriptedProvider{pages: initialListing()}
	e, database := newEngine(t, p, Options{})
	ctx := context.Background()

	res, err := e.Sync(ctx, owner, account)
	require.NoError(t, err)
	assert.Equal(t, models.SyncModeFull, res.Mode)
	assert.Equal(t, models.SyncCompleted, res.Status)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 4, res.Fetched)
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, 1, res.Skipped)
	assert.NotEmpty(t, res.RunID)

	state, err := e.GetSyncState(ctx, owner, account)
	require.NoError(t, err)
	assert.Equal(t, models.SyncCompleted, state.SyncStatus)
	require.NotNil(t, state.SyncToken)
	assert.Equal(t, "tok-1", *state.SyncToken)
	assert.NotNil(t, state.LastFullSyncAt)
	assert.Nil(t, state.LastIncrementalSyncAt)
	assert.Nil(t, state.LeaseHolder)

	c, err := db.GetContactByEmail(ctx, database, owner, "ann@example.com")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Person 1", c.DisplayName)
	assert.Equal(t, 0, c.EmailCount, "directory imports are not occurrences")
	assert.Equal(t, models.StatusUnverified, c.VerificationStatus)

	sources, err := db.ListSourcesForContact(ctx, database, c.ID)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "people/1", sources[0].ExternalResourceName)

	assertLegalHistory(t, e)
}

func TestIncrementalSyncAppliesChanges(t *testing.T) {
	p := &scriptedProvider{pages: initialListing()}
	e, database := newEngine(t, p, Options{})
	ctx := context.Background()

	_, err := e.Sync(ctx, owner, account)
	require.NoError(t, err)

	changed := person("1", "ann@example.com", "e2")
	changed.DisplayName = "Ann Lee"
	changed.Organization = "Acme"
	p.pages["tok-1"] = []Page{{
		Records: []Record{
			changed,
			person("2", "bob@example.com", "e1"),
			{ResourceName: "people/3", Deleted: true},
		},
		NextSyncToken: "tok-2",
	}}

	res, err := e.Sync(ctx, owner, account)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", p.lastRequest().SyncToken)
	assert.Equal(t, models.SyncModeIncremental, res.Mode)
	assert.Equal(t, models.SyncCompleted, res.Status)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Unchanged)
	assert.Equal(t, 1, res.Removed)

	state, err := e.GetSyncState(ctx, owner, account)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", *state.SyncToken)
	assert.NotNil(t, state.LastIncrementalSyncAt)

	ann, err := db.GetContactByEmail(ctx, database, owner, "ann@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Ann Lee", ann.DisplayName, "changed etag replaces the stored name")
	assert.Equal(t, "Acme", ann.Organization)

	// The contact behind a removed source stays.
	cat, err := db.GetContactByEmail(ctx, database, owner, "cat@example.com")
	require.NoError(t, err)
	require.NotNil(t, cat)
	sources, err := db.ListSourcesForContact(ctx, database, cat.ID)
	require.NoError(t, err)
	assert.Empty(t, sources)

	assertLegalHistory(t, e)
}

func TestExpiredCursorResetsToFullSync(t *testing.T) {
	p := &scriptedProvider{pages: initialListing()}
	e, _ := newEngine(t, p, Options{})
	ctx := context.Background()

	_, err := e.Sync(ctx, owner, account)
	require.NoError(t, err)

	p.expired = map[string]bool{"tok-1": true}
	res, err := e.Sync(ctx, owner, account)
	require.NoError(t, err)
	assert.Equal(t, models.SyncNeverSynced, res.Status)
	assert.Equal(t, apperr.CodeCursorInvalidated, res.Code)

	state, err := e.GetSyncState(ctx, owner, account)
	require.NoError(t, err)
	assert.Equal(t, models.SyncNeverSynced, state.SyncStatus)
	assert.Nil(t, state.SyncToken)
	require.NotNil(t, state.ErrorMessage)

	res, err = e.Sync(ctx, owner, account)
	require.NoError(t, err)
	assert.Equal(t, "", p.lastRequest().SyncToken)
	assert.Equal(t, models.SyncModeFull, res.Mode)
	assert.Equal(t, models.SyncCompleted, res.Status)

	state, err = e.GetSyncState(ctx, owner, account)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", *state.SyncToken)

	assertLegalHistory(t, e)
}

func TestProviderFailureKeepsCursor(t *testing.T) {
	p := &scriptedProvider{pages: initialListing()}
	e, _ := newEngine(t, p, Options{})
	ctx := context.Background()

	_, err := e.Sync(ctx, owner, account)
	require.NoError(t, err)

	p.failWith = apperr.External("google people", errors.New("503 backend error"))
	res, err := e.Sync(ctx, owner, account)
	require.NoError(t, err)
	assert.Equal(t, models.SyncFailed, res.Status)
	assert.Equal(t, apperr.CodeExternalError, res.Code)

	state, err := e.GetSyncState(ctx, owner, account)
	require.NoError(t, err)
	assert.Equal(t, models.SyncFailed, state.SyncStatus)
	assert.Equal(t, "tok-1", *state.SyncToken)
	require.NotNil(t, state.ErrorMessage)
	assert.Contains(t, *state.ErrorMessage, "google people")

	// A failed account can sync again and resumes from the kept cursor.
	p.failWith = nil
	p.pages["tok-1"] = []Page{{NextSyncToken: "tok-1b"}}
	res, err = e.Sync(ctx, owner, account)
	require.NoError(t, err)
	assert.Equal(t, models.SyncModeIncremental, res.Mode)
	assert.Equal(t, models.SyncCompleted, res.Status)

	assertLegalHistory(t, e)
}

func TestCancelledSyncIsRecordedAsFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &scriptedProvider{pages: initialListing()}
	p.onList = func(call int) {
		if call == 2 {
			cancel()
		}
	}
	e, _ := newEngine(t, p, Options{})

	res, err := e.Sync(ctx, owner, account)
	require.NoError(t, err)
	assert.Equal(t, models.SyncFailed, res.Status)

	state, err := e.GetSyncState(context.Background(), owner, account)
	require.NoError(t, err)
	assert.Equal(t, models.SyncFailed, state.SyncStatus)
	assert.Nil(t, state.SyncToken)
	assert.Nil(t, state.LeaseHolder)
}

func TestSyncRejectsConcurrentRun(t *testing.T) {
	p := &scriptedProvider{pages: initialListing()}
	e, database := newEngine(t, p, Options{})
	ctx := context.Background()

	key := db.SyncKey{OwnerID: owner, AccountEmail: account}
	require.NoError(t, db.WithTx(ctx, database, func(tx *sql.Tx) error {
		_, err := db.AcquireSyncLease(ctx, tx, key, "other-run", models.SyncModeFull, time.Hour, time.Now())
		return err
	}))

	_, err := e.Sync(ctx, owner, account)
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
	assert.Empty(t, p.requests)

	state, err := e.GetSyncState(ctx, owner, account)
	require.NoError(t, err)
	assert.Equal(t, models.SyncSyncing, state.SyncStatus)
	assert.Equal(t, "other-run", *state.LeaseHolder)
}

func TestSyncTakesOverExpiredLease(t *testing.T) {
	p := &scriptedProvider{pages: initialListing()}
	e, database := newEngine(t, p, Options{})
	ctx := context.Background()

	key := db.SyncKey{OwnerID: owner, AccountEmail: account}
	require.NoError(t, db.WithTx(ctx, database, func(tx *sql.Tx) error {
		_, err := db.AcquireSyncLease(ctx, tx, key, "crashed-run", models.SyncModeFull, time.Minute, time.Now().Add(-time.Hour))
		return err
	}))

	res, err := e.Sync(ctx, owner, account)
	require.NoError(t, err)
	assert.Equal(t, models.SyncCompleted, res.Status)
	assertLegalHistory(t, e)
}

func TestConcurrentSyncsHoldOneLease(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	p := &scriptedProvider{pages: initialListing()}
	p.onList = func(int) {
		once.Do(func() {
			close(started)
			<-release
		})
	}
	e, _ := newEngine(t, p, Options{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := e.Sync(ctx, owner, account)
		done <- err
	}()

	<-started
	_, err := e.Sync(ctx, owner, account)
	assert.True(t, apperr.IsConflict(err))

	close(release)
	require.NoError(t, <-done)
}

func TestFullSyncSweepsMissingSources(t *testing.T) {
	p := &scriptedProvider{pages: initialListing()}
	e, database := newEngine(t, p, Options{})
	ctx := context.Background()

	_, err := e.Sync(ctx, owner, account)
	require.NoError(t, err)

	// The cursor expires and the fresh full listing no longer has bob.
	p.expired = map[string]bool{"tok-1": true}
	_, err = e.Sync(ctx, owner, account)
	require.NoError(t, err)

	p.pages[""] = []Page{{
		Records:       []Record{person("1", "ann@example.com", "e1"), person("3", "cat@example.com", "e1")},
		NextSyncToken: "tok-3",
	}}
	res, err := e.Sync(ctx, owner, account)
	require.NoError(t, err)
	assert.Equal(t, models.SyncModeFull, res.Mode)
	assert.Equal(t, 1, res.Removed)

	names, err := db.ListSourceResourceNames(ctx, database, owner, account, models.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, []string{"people/1", "people/3"}, names)
}

func TestSyncSetupErrors(t *testing.T) {
	database := setupTestDB(t)
	failing := ConnectorFunc(func(context.Context, string, string) (Provider, error) {
		return nil, errors.New("no credentials")
	})
	e := NewEngine(database, failing, Options{}, zerolog.Nop())
	ctx := context.Background()

	_, err := e.Sync(ctx, owner, account)
	assert.Equal(t, apperr.CodeExternalError, apperr.Code(err))

	state, err := e.GetSyncState(ctx, owner, account)
	require.NoError(t, err)
	assert.Equal(t, models.SyncNeverSynced, state.SyncStatus)
	states, err := e.ListSyncStates(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, states)

	_, err = e.Sync(ctx, owner, "not-an-email")
	assert.True(t, apperr.IsValidation(err))
	_, err = e.Sync(ctx, "", account)
	assert.True(t, apperr.IsValidation(err))
}

func TestSyncHonoursRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	p := &scriptedProvider{pages: initialListing()}
	e, _ := newEngine(t, p, Options{Locker: NewRedisLocker(client, "")})
	ctx := context.Background()

	require.NoError(t, mr.Set("rolodex:lock:"+owner+":"+account, "another-host"))
	_, err := e.Sync(ctx, owner, account)
	assert.True(t, apperr.IsConflict(err))
	assert.Empty(t, p.requests)

	mr.Del("rolodex:lock:" + owner + ":" + account)
	res, err := e.Sync(ctx, owner, account)
	require.NoError(t, err)
	assert.Equal(t, models.SyncCompleted, res.Status)
	assert.False(t, mr.Exists("rolodex:lock:"+owner+":"+account), "lock released after the run")
}
