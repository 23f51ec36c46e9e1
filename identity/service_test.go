// ABOUTME: Tests for observing contacts and the verification queue workflow
// ABOUTME: Runs the full classify, merge, decide and apply path against a temp SQLite database
package identity

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/rolodex/apperr"
	"github.com/harperreed/rolodex/classify"
	"github.com/harperreed/rolodex/db"
	"github.com/harperreed/rolodex/models"
)

const owner = "owner-1"

type fixedClassifier struct {
	result classify.Result
}

func (f fixedClassifier) Classify(context.Context, classify.Input) classify.Result { return f.result }

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.OpenDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func newService(t *testing.T, c Classifier) (*Service, *sql.DB) {
	t.Helper()
	database := setupTestDB(t)
	return NewService(database, c, Options{BatchConcurrency: 3}, zerolog.Nop()), database
}

func quickPipeline() Classifier {
	return classify.NewPipeline(nil, nil, zerolog.Nop())
}

func aiResult(t models.SourceType, confidence float64) classify.Result {
	return classify.AIMatch{
		Classification: classify.Classification{
			SourceType: t,
			Tags:       []string{"soccer"},
			Confidence: confidence,
			Reasoning:  "signs as head coach",
		},
		Model: "test",
	}
}

func TestScenarioThirdObservationAutoVerifies(t *testing.T) {
	svc, _ := newService(t, quickPipeline())
	ctx := context.Background()

	var res *ObserveResult
	var err error
	for i := 1; i <= 3; i++ {
		res, err = svc.ObserveContact(ctx, owner, "coach@teamsnap.com", Occurrence{})
		require.NoError(t, err)
		if i < 3 {
			assert.Equal(t, ActionNone, res.Action.Kind, "call %d", i)
		}
	}

	assert.Equal(t, ActionVerify, res.Action.Kind)
	assert.Equal(t, models.MethodAutoMultipleEmails, res.Action.Method)
	assert.Equal(t, models.StatusVerified, res.Contact.VerificationStatus)
	assert.Equal(t, models.VerifiedBySystem, res.Contact.VerifiedBy)
	assert.Equal(t, 3, res.Contact.EmailCount)
	assert.Equal(t, models.SourceCoach, res.Contact.SourceType)
	assert.Equal(t, 0.7, res.Contact.ConfidenceScore)

	// Re-deciding a verified contact is a no-op.
	res, err = svc.ObserveContact(ctx, owner, "coach@teamsnap.com", Occurrence{})
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action.Kind)
	assert.Equal(t, 4, res.Contact.EmailCount)
}

func TestScenarioHighConfidenceEnqueuesThenApprove(t *testing.T) {
	svc, _ := newService(t, fixedClassifier{result: aiResult(models.SourceCoach, 0.9)})
	ctx := context.Background()

	res, err := svc.ObserveContact(ctx, owner, "mike@gmail.com", Occurrence{OccurrenceID: "m1", Subject: "Practice"})
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action.Kind)
	assert.True(t, res.Created)

	res, err = svc.ObserveContact(ctx, owner, "mike@gmail.com", Occurrence{OccurrenceID: "m2", Subject: "Game day"})
	require.NoError(t, err)
	require.Equal(t, ActionEnqueue, res.Action.Kind)
	assert.Equal(t, models.StatusPending, res.Contact.VerificationStatus)
	require.NotNil(t, res.Action.Suggestion)
	assert.Equal(t, models.SourceCoach, res.Action.Suggestion.SourceType)

	pending := models.QueuePending
	queue, err := svc.ListQueue(ctx, owner, &pending)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	item := queue[0]
	assert.Equal(t, "mike@gmail.com", item.Email)
	assert.ElementsMatch(t, []string{"m1", "m2"}, item.SampleEmailIDs)
	assert.Equal(t, "signs as head coach", item.Reasoning)

	// A third sighting while pending neither verifies nor enqueues again.
	res, err = svc.ObserveContact(ctx, owner, "mike@gmail.com", Occurrence{OccurrenceID: "m3"})
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action.Kind)
	queue, err = svc.ListQueue(ctx, owner, &pending)
	require.NoError(t, err)
	assert.Len(t, queue, 1)

	resolution, err := svc.Approve(ctx, owner, item.ID, item.ContactID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueApproved, resolution.Item.Status)
	assert.NotNil(t, resolution.Item.UserActionAt)
	assert.Equal(t, models.StatusVerified, resolution.Contact.VerificationStatus)
	assert.Equal(t, models.MethodManualApproval, resolution.Contact.VerificationMethod)
	assert.Equal(t, owner, resolution.Contact.VerifiedBy)

	_, err = svc.Approve(ctx, owner, item.ID, item.ContactID)
	assert.True(t, apperr.IsConflict(err))
}

func TestObserveConcurrentSameEmail(t *testing.T) {
	svc, database := newService(t, quickPipeline())
	ctx := context.Background()
	const n = 10

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.ObserveContact(ctx, owner, "busy@example.com", Occurrence{OccurrenceID: fmt.Sprintf("msg-%d", i)})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	c, err := db.GetContactByEmail(ctx, database, owner, "busy@example.com")
	require.NoError(t, err)
	assert.Equal(t, n, c.EmailCount)
	assert.Equal(t, models.StatusVerified, c.VerificationStatus)

	var verifications int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM contacts WHERE verification_method = ?`,
		models.MethodAutoMultipleEmails).Scan(&verifications))
	assert.Equal(t, 1, verifications)
}

func TestObserveSameOccurrenceCountsOnce(t *testing.T) {
	svc, _ := newService(t, quickPipeline())
	ctx := context.Background()

	first, err := svc.ObserveContact(ctx, owner, "once@example.com", Occurrence{OccurrenceID: "msg-1"})
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	again, err := svc.ObserveContact(ctx, owner, "once@example.com", Occurrence{OccurrenceID: "msg-1"})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, 1, again.Contact.EmailCount)
	assert.Equal(t, ActionNone, again.Action.Kind)
}

func TestObserveSharedMessageCountsEachSender(t *testing.T) {
	svc, _ := newService(t, quickPipeline())
	ctx := context.Background()

	a, err := svc.ObserveContact(ctx, owner, "a@example.com", Occurrence{OccurrenceID: "msg-1"})
	require.NoError(t, err)
	assert.False(t, a.Duplicate)
	assert.True(t, a.Created)

	b, err := svc.ObserveContact(ctx, owner, "b@example.com", Occurrence{OccurrenceID: "msg-1"})
	require.NoError(t, err)
	assert.False(t, b.Duplicate)
	assert.True(t, b.Created)
	assert.Equal(t, "b@example.com", b.Contact.Email)
	assert.Equal(t, 1, b.Contact.EmailCount)

	again, err := svc.ObserveContact(ctx, owner, "b@example.com", Occurrence{OccurrenceID: "msg-1"})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, 1, again.Contact.EmailCount)
}

func TestObserveLaterNameReplacesEarlier(t *testing.T) {
	svc, _ := newService(t, quickPipeline())
	ctx := context.Background()

	_, err := svc.ObserveContact(ctx, owner, "jane@example.com", Occurrence{
		OccurrenceID: "msg-1", DisplayName: "Jane", Organization: "Old Org",
	})
	require.NoError(t, err)

	res, err := svc.ObserveContact(ctx, owner, "jane@example.com", Occurrence{
		OccurrenceID: "msg-2", DisplayName: "Jane Smith", Organization: "New Org",
	})
	require.NoError(t, err)
	assert.Equal(t, "Jane Smith", res.Contact.DisplayName)
	assert.Equal(t, "New Org", res.Contact.Organization)

	res, err = svc.ObserveContact(ctx, owner, "jane@example.com", Occurrence{OccurrenceID: "msg-3"})
	require.NoError(t, err)
	assert.Equal(t, "Jane Smith", res.Contact.DisplayName, "an occurrence without a name keeps the stored one")
	assert.Equal(t, "New Org", res.Contact.Organization)
}

func TestObserveValidation(t *testing.T) {
	svc, _ := newService(t, quickPipeline())
	ctx := context.Background()

	_, err := svc.ObserveContact(ctx, owner, "nope", Occurrence{})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.ObserveContact(ctx, "", "a@example.com", Occurrence{})
	assert.True(t, apperr.IsValidation(err))
}

func TestObserveFallbackKeepsConfidenceBounded(t *testing.T) {
	svc, _ := newService(t, fixedClassifier{result: classify.Fallback{
		Classification: classify.Classification{SourceType: models.SourceOther, Confidence: 0.3, Reasoning: "fallback: timeout"},
	}})

	res, err := svc.ObserveContact(context.Background(), owner, "slow@example.com", Occurrence{})
	require.NoError(t, err)
	assert.Equal(t, 0.3, res.Contact.ConfidenceScore)
	assert.Equal(t, "fallback", res.Contact.ExtractionMetadata["classifier"])
}

// enqueue puts a contact in the queue by observing it twice with a strong classification.
func enqueue(t *testing.T, svc *Service, email string) models.QueueEntry {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := svc.ObserveContact(ctx, owner, email, Occurrence{})
		require.NoError(t, err)
	}
	pending := models.QueuePending
	queue, err := svc.ListQueue(ctx, owner, &pending)
	require.NoError(t, err)
	for _, e := range queue {
		if e.Email == email {
			return e
		}
	}
	t.Fatalf("no queue item for %s", email)
	return models.QueueEntry{}
}

func TestRejectMarksContactRejected(t *testing.T) {
	svc, _ := newService(t, fixedClassifier{result: aiResult(models.SourceCoach, 0.95)})
	ctx := context.Background()
	item := enqueue(t, svc, "spam@example.com")

	resolution, err := svc.Reject(ctx, owner, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueRejected, resolution.Item.Status)
	assert.Equal(t, models.StatusRejected, resolution.Contact.VerificationStatus)

	// Further sightings never re-queue or verify a rejected contact.
	for i := 0; i < 3; i++ {
		res, err := svc.ObserveContact(ctx, owner, "spam@example.com", Occurrence{})
		require.NoError(t, err)
		assert.Equal(t, ActionNone, res.Action.Kind)
	}
	pending := models.QueuePending
	queue, err := svc.ListQueue(ctx, owner, &pending)
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestModifyVerifiesWithCorrections(t *testing.T) {
	svc, _ := newService(t, fixedClassifier{result: aiResult(models.SourceCoach, 0.95)})
	ctx := context.Background()
	item := enqueue(t, svc, "ms.jones@gmail.com")

	teacher := models.SourceTeacher
	resolution, err := svc.Modify(ctx, owner, item.ID, item.ContactID, QueueUpdate{
		SuggestedType: &teacher,
		SuggestedTags: []string{"Math"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.QueueModified, resolution.Item.Status)
	assert.Equal(t, models.SourceTeacher, resolution.Item.SuggestedType)
	assert.Equal(t, "signs as head coach", resolution.Item.Reasoning, "unset fields are kept")
	assert.Equal(t, models.StatusVerified, resolution.Contact.VerificationStatus)
	assert.Equal(t, models.MethodManualModification, resolution.Contact.VerificationMethod)
	assert.Equal(t, models.SourceTeacher, resolution.Contact.SourceType)
	assert.Equal(t, []string{"math"}, resolution.Contact.Tags)
}

func TestModifyValidation(t *testing.T) {
	svc, _ := newService(t, fixedClassifier{result: aiResult(models.SourceCoach, 0.95)})
	ctx := context.Background()
	item := enqueue(t, svc, "v@example.com")

	bad := models.SourceType("wizard")
	_, err := svc.Modify(ctx, owner, item.ID, item.ContactID, QueueUpdate{SuggestedType: &bad})
	assert.True(t, apperr.IsValidation(err))

	over := 1.5
	_, err = svc.Modify(ctx, owner, item.ID, item.ContactID, QueueUpdate{Confidence: &over})
	assert.True(t, apperr.IsValidation(err))
}

func TestQueueActionErrors(t *testing.T) {
	svc, _ := newService(t, fixedClassifier{result: aiResult(models.SourceCoach, 0.95)})
	ctx := context.Background()
	item := enqueue(t, svc, "e@example.com")

	_, err := svc.Approve(ctx, owner, uuid.New(), item.ContactID)
	assert.True(t, apperr.IsNotFound(err))

	_, err = svc.Approve(ctx, owner, item.ID, uuid.New())
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.Approve(ctx, "someone-else", item.ID, item.ContactID)
	assert.True(t, apperr.IsNotFound(err))

	_, err = svc.Reject(ctx, owner, item.ID)
	require.NoError(t, err)
	_, err = svc.Reject(ctx, owner, item.ID)
	assert.True(t, apperr.IsConflict(err))

	bogus := models.QueueStatus("archived")
	_, err = svc.ListQueue(ctx, owner, &bogus)
	assert.True(t, apperr.IsValidation(err))
}

func TestBatchApproveByDomainIsolatesFailures(t *testing.T) {
	svc, database := newService(t, fixedClassifier{result: aiResult(models.SourceCoach, 0.95)})
	ctx := context.Background()

	a := enqueue(t, svc, "a@teamsnap.com")
	b := enqueue(t, svc, "b@teamsnap.com")
	c := enqueue(t, svc, "c@teamsnap.com")
	other := enqueue(t, svc, "x@district.org")

	// Make one approval fail inside the database.
	_, err := database.Exec(fmt.Sprintf(`
		CREATE TRIGGER fail_one BEFORE UPDATE OF status ON verification_queue
		WHEN NEW.id = '%s'
		BEGIN SELECT RAISE(ABORT, 'forced failure'); END;
	`, b.ID.String()))
	require.NoError(t, err)

	result, err := svc.BatchApproveByDomain(ctx, owner, "@TeamSnap.com")
	require.NoError(t, err)
	assert.Equal(t, "teamsnap.com", result.Domain)
	assert.Equal(t, 2, result.Approved)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Items, 3)

	byID := map[uuid.UUID]ItemResult{}
	for _, r := range result.Items {
		byID[r.QueueID] = r
	}
	assert.True(t, byID[a.ID].OK)
	assert.True(t, byID[c.ID].OK)
	assert.False(t, byID[b.ID].OK)
	assert.Equal(t, apperr.CodePersistenceError, byID[b.ID].Code)

	// The failed item rolled back completely and the other domain is untouched.
	pending := models.QueuePending
	queue, err := svc.ListQueue(ctx, owner, &pending)
	require.NoError(t, err)
	ids := []uuid.UUID{}
	for _, e := range queue {
		ids = append(ids, e.ID)
	}
	assert.ElementsMatch(t, []uuid.UUID{b.ID, other.ID}, ids)

	contactB, err := svc.GetContact(ctx, owner, b.ContactID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, contactB.VerificationStatus)
}

func TestBatchApproveByDomainValidation(t *testing.T) {
	svc, _ := newService(t, quickPipeline())
	_, err := svc.BatchApproveByDomain(context.Background(), owner, "  ")
	assert.True(t, apperr.IsValidation(err))

	result, err := svc.BatchApproveByDomain(context.Background(), owner, "empty.org")
	require.NoError(t, err)
	assert.Empty(t, result.Items)
}

func TestDeleteContact(t *testing.T) {
	svc, _ := newService(t, quickPipeline())
	ctx := context.Background()

	res, err := svc.ObserveContact(ctx, owner, "bye@example.com", Occurrence{})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteContact(ctx, owner, res.Contact.ID))

	_, err = svc.GetContact(ctx, owner, res.Contact.ID)
	assert.True(t, apperr.IsNotFound(err))

	found, err := svc.FindContacts(ctx, owner, db.ContactFilter{})
	require.NoError(t, err)
	assert.Empty(t, found)
}
