// ABOUTME: Tests for the contact merge/upsert engine and contact queries
// ABOUTME: Covers counting, coalescing, set unions, concurrency and cascading deletes
package db

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/rolodex/apperr"
	"github.com/harperreed/rolodex/models"
)

func upsert(t *testing.T, database *sql.DB, owner, email string, m ContactMerge) *models.Contact {
	t.Helper()
	var out *models.Contact
	err := WithTx(context.Background(), database, func(tx *sql.Tx) error {
		c, _, err := UpsertContact(context.Background(), tx, owner, email, m)
		out = c
		return err
	})
	require.NoError(t, err)
	return out
}

func conf(v float64) *float64 { return &v }

func TestUpsertCountsEachObservation(t *testing.T) {
	database := setupTestDB(t)

	var c *models.Contact
	for i := 0; i < 4; i++ {
		c = upsert(t, database, "owner-1", "Coach@TeamSnap.com", ContactMerge{CountOccurrence: true})
	}

	assert.Equal(t, 4, c.EmailCount)
	assert.Equal(t, "coach@teamsnap.com", c.Email)
	assert.Equal(t, "teamsnap.com", c.Domain)
	assert.Equal(t, models.StatusUnverified, c.VerificationStatus)
}

func TestUpsertConcurrentObserversCountExactly(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	const n = 12

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- WithTx(ctx, database, func(tx *sql.Tx) error {
				_, _, err := UpsertContact(ctx, tx, "owner-1", "race@example.com", ContactMerge{CountOccurrence: true})
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	c, err := GetContactByEmail(ctx, database, "owner-1", "race@example.com")
	require.NoError(t, err)
	assert.Equal(t, n, c.EmailCount)

	var rowsForEmail int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM contacts WHERE email = 'race@example.com'`).Scan(&rowsForEmail))
	assert.Equal(t, 1, rowsForEmail)
}

func TestUpsertCoalescesAndUnions(t *testing.T) {
	database := setupTestDB(t)

	upsert(t, database, "owner-1", "jane@school.edu", ContactMerge{
		DisplayName:     "Jane Smith",
		PhoneNumbers:    []string{"555-0100"},
		Tags:            []string{"Math"},
		CountOccurrence: true,
	})
	c := upsert(t, database, "owner-1", "jane@school.edu", ContactMerge{
		DisplayName:     "J. Smith",
		Organization:    "Lincoln Elementary",
		PhoneNumbers:    []string{"555-0100", "555-0199"},
		Addresses:       []string{"1 School Rd"},
		Tags:            []string{"science"},
		CountOccurrence: true,
	})

	assert.Equal(t, "J. Smith", c.DisplayName, "newer non-empty scalar wins")
	assert.Equal(t, "Lincoln Elementary", c.Organization, "empty scalar is filled")
	assert.Equal(t, []string{"555-0100", "555-0199"}, c.PhoneNumbers)
	assert.Equal(t, []string{"1 School Rd"}, c.Addresses)
	assert.Equal(t, []string{"math", "science"}, c.Tags)
	assert.Equal(t, 2, c.EmailCount)

	c = upsert(t, database, "owner-1", "jane@school.edu", ContactMerge{
		DisplayName:     "   ",
		Notes:           "met at open house",
		CountOccurrence: true,
	})
	assert.Equal(t, "J. Smith", c.DisplayName, "blank scalar keeps stored value")
	assert.Equal(t, "Lincoln Elementary", c.Organization)
	assert.Equal(t, "met at open house", c.Notes)

	stored, err := GetContactByEmail(context.Background(), database, "owner-1", "jane@school.edu")
	require.NoError(t, err)
	assert.Equal(t, "J. Smith", stored.DisplayName)
}

func TestUpsertKeepsStrongestClassification(t *testing.T) {
	database := setupTestDB(t)

	upsert(t, database, "owner-1", "x@example.com", ContactMerge{
		SourceType: models.SourceCoach, Confidence: conf(0.9), CountOccurrence: true,
		Metadata: map[string]any{"classifier": "quick"},
	})
	c := upsert(t, database, "owner-1", "x@example.com", ContactMerge{
		SourceType: models.SourceOther, Confidence: conf(0.5), CountOccurrence: true,
		Metadata: map[string]any{"classifier": "ai"},
	})

	assert.Equal(t, models.SourceCoach, c.SourceType)
	assert.Equal(t, 0.9, c.ConfidenceScore)
	assert.Equal(t, "quick", c.ExtractionMetadata["classifier"])

	c = upsert(t, database, "owner-1", "x@example.com", ContactMerge{
		SourceType: models.SourceTeam, Confidence: conf(1.4), CountOccurrence: true,
	})
	assert.Equal(t, models.SourceTeam, c.SourceType)
	assert.Equal(t, 1.0, c.ConfidenceScore, "confidence is clamped")
}

func TestUpsertDirectoryMergeDoesNotCount(t *testing.T) {
	database := setupTestDB(t)

	c := upsert(t, database, "owner-1", "dir@example.com", ContactMerge{DisplayName: "From Directory"})
	assert.Equal(t, 0, c.EmailCount)

	c = upsert(t, database, "owner-1", "dir@example.com", ContactMerge{CountOccurrence: true})
	assert.Equal(t, 1, c.EmailCount)
	assert.Equal(t, "From Directory", c.DisplayName)
}

func TestUpsertTracksSeenWindow(t *testing.T) {
	database := setupTestDB(t)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	upsert(t, database, "owner-1", "w@example.com", ContactMerge{ObservedAt: t0, CountOccurrence: true})
	upsert(t, database, "owner-1", "w@example.com", ContactMerge{ObservedAt: t0.Add(48 * time.Hour), CountOccurrence: true})
	c := upsert(t, database, "owner-1", "w@example.com", ContactMerge{ObservedAt: t0.Add(-24 * time.Hour), CountOccurrence: true})

	assert.True(t, c.FirstSeen.Equal(t0.Add(-24*time.Hour)))
	assert.True(t, c.LastSeen.Equal(t0.Add(48*time.Hour)))
	assert.False(t, c.LastSeen.Before(c.FirstSeen))
}

func TestUpsertRejectsBadInput(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	err := WithTx(ctx, database, func(tx *sql.Tx) error {
		_, _, err := UpsertContact(ctx, tx, "owner-1", "not-an-email", ContactMerge{})
		return err
	})
	assert.True(t, apperr.IsValidation(err))

	err = WithTx(ctx, database, func(tx *sql.Tx) error {
		_, _, err := UpsertContact(ctx, tx, "", "a@example.com", ContactMerge{})
		return err
	})
	assert.True(t, apperr.IsValidation(err))
}

func TestContactsAreScopedByOwner(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	a := upsert(t, database, "owner-a", "shared@example.com", ContactMerge{CountOccurrence: true})
	b := upsert(t, database, "owner-b", "shared@example.com", ContactMerge{CountOccurrence: true})
	assert.NotEqual(t, a.ID, b.ID)

	_, err := GetContact(ctx, database, "owner-a", b.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestFindContacts(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	upsert(t, database, "owner-1", "coach@teamsnap.com", ContactMerge{DisplayName: "Coach Mike", SourceType: models.SourceCoach, Confidence: conf(0.9), CountOccurrence: true})
	upsert(t, database, "owner-1", "office@district.org", ContactMerge{DisplayName: "Front Office", CountOccurrence: true})
	upsert(t, database, "owner-2", "coach2@teamsnap.com", ContactMerge{CountOccurrence: true})

	all, err := FindContacts(ctx, database, "owner-1", ContactFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byQuery, err := FindContacts(ctx, database, "owner-1", ContactFilter{Query: "mike"})
	require.NoError(t, err)
	require.Len(t, byQuery, 1)
	assert.Equal(t, "coach@teamsnap.com", byQuery[0].Email)

	byDomain, err := FindContacts(ctx, database, "owner-1", ContactFilter{Domain: "TeamSnap.com"})
	require.NoError(t, err)
	assert.Len(t, byDomain, 1)

	byType, err := FindContacts(ctx, database, "owner-1", ContactFilter{SourceType: models.SourceCoach})
	require.NoError(t, err)
	assert.Len(t, byType, 1)
}

func TestOccurrencesAreClaimedOnce(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	c := upsert(t, database, "owner-1", "o@example.com", ContactMerge{CountOccurrence: true})

	claimed, err := ClaimOccurrence(ctx, database, "owner-1", "msg-1", c.ID, "Practice", time.Now())
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = ClaimOccurrence(ctx, database, "owner-1", "msg-1", c.ID, "Practice", time.Now())
	require.NoError(t, err)
	assert.False(t, claimed)

	exists, err := OccurrenceExists(ctx, database, "owner-1", "msg-1", "O@Example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = OccurrenceExists(ctx, database, "owner-2", "msg-1", "o@example.com")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = OccurrenceExists(ctx, database, "owner-1", "msg-1", "other@example.com")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = ClaimOccurrence(ctx, database, "owner-1", "msg-2", c.ID, "", time.Now().Add(time.Minute))
	require.NoError(t, err)
	ids, err := RecentOccurrenceIDs(ctx, database, c.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"msg-2", "msg-1"}, ids)
}

func TestOccurrenceIsPerContact(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	a := upsert(t, database, "owner-1", "a@example.com", ContactMerge{CountOccurrence: true})
	b := upsert(t, database, "owner-1", "b@example.com", ContactMerge{CountOccurrence: true})

	claimed, err := ClaimOccurrence(ctx, database, "owner-1", "msg-1", a.ID, "Carpool", time.Now())
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = ClaimOccurrence(ctx, database, "owner-1", "msg-1", b.ID, "Carpool", time.Now())
	require.NoError(t, err)
	assert.True(t, claimed, "second sender in the same message is its own occurrence")

	exists, err := OccurrenceExists(ctx, database, "owner-1", "msg-1", "b@example.com")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestVerifyContactIsConditional(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	c := upsert(t, database, "owner-1", "v@example.com", ContactMerge{CountOccurrence: true})

	changed, err := VerifyContact(ctx, database, c.ID, models.MethodAutoMultipleEmails, models.VerifiedBySystem, models.StatusUnverified)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = VerifyContact(ctx, database, c.ID, models.MethodAutoMultipleEmails, models.VerifiedBySystem, models.StatusUnverified)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := GetContact(ctx, database, "owner-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, got.VerificationStatus)
	assert.Equal(t, models.MethodAutoMultipleEmails, got.VerificationMethod)
	assert.Equal(t, models.VerifiedBySystem, got.VerifiedBy)
	assert.NotNil(t, got.VerifiedAt)
}

func TestDeleteContactCascades(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	c := upsert(t, database, "owner-1", "gone@example.com", ContactMerge{CountOccurrence: true})

	_, err := ClaimOccurrence(ctx, database, "owner-1", "msg-9", c.ID, "", time.Now())
	require.NoError(t, err)
	_, err = EnqueueVerification(ctx, database, &models.VerificationQueueItem{ContactID: c.ID, OwnerID: "owner-1"})
	require.NoError(t, err)
	_, err = UpsertSource(ctx, database, &models.ContactSource{
		ContactID: c.ID, OwnerID: "owner-1", Provider: models.ProviderGoogle,
		ExternalID: "c1", ExternalResourceName: "people/c1", AccountEmail: "me@gmail.com",
	})
	require.NoError(t, err)

	require.NoError(t, DeleteContact(ctx, database, "owner-1", c.ID))

	for _, table := range []string{"contact_occurrences", "verification_queue", "contact_sources"} {
		var n int
		require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
		assert.Zero(t, n, table)
	}

	err = DeleteContact(ctx, database, "owner-1", c.ID)
	assert.True(t, apperr.IsNotFound(err))
}
