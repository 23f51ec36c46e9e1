// ABOUTME: Database operations for the verification queue
// ABOUTME: Enforces at most one pending item per contact and guarded status changes
package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/rolodex/apperr"
	"github.com/harperreed/rolodex/models"
)

const queueColumns = `q.id, q.contact_id, q.owner_id, q.suggested_type, q.suggested_tags, q.reasoning, q.confidence,
	q.sample_email_ids, q.status, q.user_action_at, q.created_at, q.updated_at`

func scanQueueItem(row rowScanner, extra ...any) (*models.VerificationQueueItem, error) {
	var item models.VerificationQueueItem
	var suggestedType, reasoning, tags, samples sql.NullString
	var confidence sql.NullFloat64
	var actionAt sql.NullTime

	dest := []any{&item.ID, &item.ContactID, &item.OwnerID, &suggestedType, &tags, &reasoning, &confidence,
		&samples, &item.Status, &actionAt, &item.CreatedAt, &item.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	item.SuggestedType = models.SourceType(suggestedType.String)
	item.Reasoning = reasoning.String
	if confidence.Valid {
		c := confidence.Float64
		item.Confidence = &c
	}
	item.UserActionAt = timePtr(actionAt)

	var err error
	if item.SuggestedTags, err = decodeSet(tags); err != nil {
		return nil, err
	}
	if item.SampleEmailIDs, err = decodeSet(samples); err != nil {
		return nil, err
	}
	return &item, nil
}

// EnqueueVerification inserts a pending item. It returns false without error
// when the contact already has a pending item.
func EnqueueVerification(ctx context.Context, tx DBTX, item *models.VerificationQueueItem) (bool, error) {
	now := time.Now().UTC()
	item.ID = uuid.New()
	item.Status = models.QueuePending
	item.CreatedAt = now
	item.UpdatedAt = now
	item.SuggestedTags = models.NormalizeTags(item.SuggestedTags)

	tags, err := encodeSet(item.SuggestedTags)
	if err != nil {
		return false, err
	}
	samples, err := encodeSet(item.SampleEmailIDs)
	if err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO verification_queue (id, contact_id, owner_id, suggested_type, suggested_tags, reasoning,
			confidence, sample_email_ids, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contact_id) WHERE status = 'pending' DO NOTHING
	`, item.ID.String(), item.ContactID.String(), item.OwnerID, nullString(string(item.SuggestedType)), tags,
		nullString(item.Reasoning), nullFloat(item.Confidence), samples, string(item.Status), now, now)
	if err != nil {
		return false, apperr.Persistence("enqueue verification", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence("enqueue verification", err)
	}
	return n > 0, nil
}

// GetQueueItem loads a queue item scoped to its owner.
func GetQueueItem(ctx context.Context, q DBTX, ownerID string, id uuid.UUID) (*models.VerificationQueueItem, error) {
	row := q.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM verification_queue q WHERE q.id = ? AND q.owner_id = ?`,
		id.String(), ownerID)
	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("verification queue item")
	}
	if err != nil {
		return nil, apperr.Persistence("get verification queue item", err)
	}
	return item, nil
}

// QueueFilter narrows ListQueue. Empty fields match everything.
type QueueFilter struct {
	Status models.QueueStatus
	Domain string
	Limit  int
}

// ListQueue returns queue entries joined with their contacts, oldest first.
func ListQueue(ctx context.Context, q DBTX, ownerID string, filter QueueFilter) ([]models.QueueEntry, error) {
	clauses := []string{"q.owner_id = ?"}
	args := []any{ownerID}
	if filter.Status != "" {
		clauses = append(clauses, "q.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Domain != "" {
		clauses = append(clauses, "c.domain = ?")
		args = append(args, strings.ToLower(strings.TrimSpace(filter.Domain)))
	}
	query := `SELECT ` + queueColumns + `, c.email, c.domain, c.display_name
		FROM verification_queue q
		JOIN contacts c ON c.id = q.contact_id
		WHERE ` + strings.Join(clauses, " AND ") + `
		ORDER BY q.created_at, q.id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Persistence("list verification queue", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []models.QueueEntry
	for rows.Next() {
		var entry models.QueueEntry
		var displayName sql.NullString
		item, err := scanQueueItem(rows, &entry.Email, &entry.Domain, &displayName)
		if err != nil {
			return nil, apperr.Persistence("scan verification queue item", err)
		}
		entry.VerificationQueueItem = *item
		entry.DisplayName = displayName.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("list verification queue", err)
	}
	return entries, nil
}

// ResolveQueueItem moves a pending item to status. It returns a Conflict when
// the item is no longer pending.
func ResolveQueueItem(ctx context.Context, tx DBTX, id uuid.UUID, status models.QueueStatus, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE verification_queue SET status = ?, user_action_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, string(status), at.UTC(), at.UTC(), id.String())
	if err != nil {
		return apperr.Persistence("resolve verification queue item", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Persistence("resolve verification queue item", err)
	}
	if n == 0 {
		return apperr.Conflict("verification queue item is not pending")
	}
	return nil
}

// QueueSuggestion holds the fields a reviewer may change. Nil leaves a field as is.
type QueueSuggestion struct {
	SuggestedType *models.SourceType
	SuggestedTags []string
	Reasoning     *string
	Confidence    *float64
}

// UpdateQueueSuggestion coalesces the reviewer's changes into the item.
func UpdateQueueSuggestion(ctx context.Context, tx DBTX, id uuid.UUID, s QueueSuggestion) error {
	var suggestedType sql.NullString
	if s.SuggestedType != nil {
		suggestedType = nullString(string(*s.SuggestedType))
	}
	var tags sql.NullString
	if s.SuggestedTags != nil {
		encoded, err := encodeSet(models.NormalizeTags(s.SuggestedTags))
		if err != nil {
			return err
		}
		tags = sql.NullString{String: encoded, Valid: true}
	}
	var confidence *float64
	if s.Confidence != nil {
		c := models.ClampConfidence(*s.Confidence)
		confidence = &c
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE verification_queue SET
			suggested_type = COALESCE(?, suggested_type),
			suggested_tags = COALESCE(?, suggested_tags),
			reasoning = COALESCE(?, reasoning),
			confidence = COALESCE(?, confidence),
			updated_at = ?
		WHERE id = ?
	`, suggestedType, tags, nullStringPtr(s.Reasoning), nullFloat(confidence), time.Now().UTC(), id.String())
	if err != nil {
		return apperr.Persistence("update verification suggestion", err)
	}
	return nil
}

// CountPending returns the number of pending items for a contact.
func CountPending(ctx context.Context, q DBTX, contactID uuid.UUID) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM verification_queue WHERE contact_id = ? AND status = 'pending'`,
		contactID.String()).Scan(&n)
	if err != nil {
		return 0, apperr.Persistence("count pending verification", err)
	}
	return n, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
