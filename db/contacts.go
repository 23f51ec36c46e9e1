// ABOUTME: Contact database operations and the merge/upsert engine
// ABOUTME: Coalesces observations into one contact per (owner, email) and tracks occurrences
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/rolodex/apperr"
	"github.com/harperreed/rolodex/models"
)

// ContactMerge is one observation of a contact to fold into the stored record.
type ContactMerge struct {
	DisplayName  string
	Organization string
	Notes        string
	PhoneNumbers []string
	Addresses    []string
	Tags         []string
	SourceType   models.SourceType
	// Confidence is nil when the observation carries no classification.
	Confidence *float64
	Metadata   map[string]any
	ObservedAt time.Time
	// CountOccurrence increments email_count. Directory imports leave it false.
	CountOccurrence bool
}

const contactColumns = `id, owner_id, email, display_name, organization, domain, phone_numbers, addresses, tags,
	source_type, verification_status, verification_method, verified_at, verified_by, confidence_score,
	email_count, first_seen, last_seen, linked_calendar_events, linked_family_members, extraction_metadata,
	notes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (*models.Contact, error) {
	var c models.Contact
	var displayName, organization, sourceType, method, verifiedBy, notes sql.NullString
	var phones, addresses, tags, events, family, metadata sql.NullString
	var verifiedAt sql.NullTime

	err := row.Scan(
		&c.ID, &c.OwnerID, &c.Email, &displayName, &organization, &c.Domain, &phones, &addresses, &tags,
		&sourceType, &c.VerificationStatus, &method, &verifiedAt, &verifiedBy, &c.ConfidenceScore,
		&c.EmailCount, &c.FirstSeen, &c.LastSeen, &events, &family, &metadata,
		&notes, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.DisplayName = displayName.String
	c.Organization = organization.String
	c.SourceType = models.SourceType(sourceType.String)
	c.VerificationMethod = method.String
	c.VerifiedAt = timePtr(verifiedAt)
	c.VerifiedBy = verifiedBy.String
	c.Notes = notes.String

	if c.PhoneNumbers, err = decodeSet(phones); err != nil {
		return nil, err
	}
	if c.Addresses, err = decodeSet(addresses); err != nil {
		return nil, err
	}
	if c.Tags, err = decodeSet(tags); err != nil {
		return nil, err
	}
	if c.LinkedCalendarEvents, err = decodeSet(events); err != nil {
		return nil, err
	}
	if c.LinkedFamilyMembers, err = decodeSet(family); err != nil {
		return nil, err
	}
	if c.ExtractionMetadata, err = decodeMap(metadata); err != nil {
		return nil, err
	}

	return &c, nil
}

// GetContact loads a contact by id, scoped to its owner.
func GetContact(ctx context.Context, q DBTX, ownerID string, id uuid.UUID) (*models.Contact, error) {
	row := q.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = ? AND owner_id = ?`,
		id.String(), ownerID)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("contact")
	}
	if err != nil {
		return nil, apperr.Persistence("get contact", err)
	}
	return c, nil
}

// GetContactByEmail returns nil, nil when the owner has no contact for email.
func GetContactByEmail(ctx context.Context, q DBTX, ownerID, email string) (*models.Contact, error) {
	row := q.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE owner_id = ? AND email = ?`,
		ownerID, models.NormalizeEmail(email))
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Persistence("get contact by email", err)
	}
	return c, nil
}

// ContactFilter narrows FindContacts.
type ContactFilter struct {
	Query      string
	Domain     string
	Status     models.VerificationStatus
	SourceType models.SourceType
	Limit      int
}

// FindContacts lists an owner's contacts matching filter, most recently seen first.
func FindContacts(ctx context.Context, q DBTX, ownerID string, filter ContactFilter) ([]models.Contact, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	clauses := []string{"owner_id = ?"}
	args := []any{ownerID}

	if filter.Query != "" {
		pattern := "%" + strings.ToLower(filter.Query) + "%"
		clauses = append(clauses, "(LOWER(email) LIKE ? OR LOWER(COALESCE(display_name, '')) LIKE ? OR LOWER(COALESCE(organization, '')) LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}
	if filter.Domain != "" {
		clauses = append(clauses, "domain = ?")
		args = append(args, strings.ToLower(filter.Domain))
	}
	if filter.Status != "" {
		clauses = append(clauses, "verification_status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.SourceType != models.SourceNone {
		clauses = append(clauses, "source_type = ?")
		args = append(args, string(filter.SourceType))
	}
	args = append(args, filter.Limit)

	rows, err := q.QueryContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE `+
		strings.Join(clauses, " AND ")+` ORDER BY last_seen DESC LIMIT ?`, args...)
	if err != nil {
		return nil, apperr.Persistence("find contacts", err)
	}
	defer func() { _ = rows.Close() }()

	var contacts []models.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, apperr.Persistence("scan contact", err)
		}
		contacts = append(contacts, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("find contacts", err)
	}
	return contacts, nil
}

// UpsertContact creates or merges the contact for (owner, email) and returns
// the post-merge row. It must run inside the caller's transaction.
func UpsertContact(ctx context.Context, tx DBTX, ownerID, email string, m ContactMerge) (*models.Contact, bool, error) {
	normalized, err := models.ValidateEmail(email)
	if err != nil {
		return nil, false, err
	}
	if ownerID == "" {
		return nil, false, apperr.Validation("owner_id", "required")
	}
	if m.Confidence != nil {
		c := models.ClampConfidence(*m.Confidence)
		m.Confidence = &c
	}
	if m.ObservedAt.IsZero() {
		m.ObservedAt = time.Now().UTC()
	}

	existing, err := GetContactByEmail(ctx, tx, ownerID, normalized)
	if err != nil {
		return nil, false, err
	}

	if existing == nil {
		created, err := insertContact(ctx, tx, ownerID, normalized, m)
		if err == nil {
			return created, true, nil
		}
		if !isUniqueViolation(err) {
			return nil, false, apperr.Persistence("insert contact", err)
		}
		// Lost the insert race; merge into the winner instead.
		existing, err = GetContactByEmail(ctx, tx, ownerID, normalized)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, apperr.Persistence("insert contact", fmt.Errorf("contact vanished after conflict"))
		}
	}

	if err := mergeContact(ctx, tx, existing, m); err != nil {
		return nil, false, err
	}

	merged, err := GetContact(ctx, tx, ownerID, existing.ID)
	if err != nil {
		return nil, false, err
	}
	return merged, false, nil
}

func insertContact(ctx context.Context, tx DBTX, ownerID, email string, m ContactMerge) (*models.Contact, error) {
	now := time.Now().UTC()
	observed := m.ObservedAt.UTC()

	c := &models.Contact{
		ID:                 uuid.New(),
		OwnerID:            ownerID,
		Email:              email,
		DisplayName:        strings.TrimSpace(m.DisplayName),
		Organization:       strings.TrimSpace(m.Organization),
		Domain:             models.DomainOf(email),
		PhoneNumbers:       models.MergeSet(m.PhoneNumbers, nil),
		Addresses:          models.MergeSet(m.Addresses, nil),
		Tags:               models.NormalizeTags(m.Tags),
		SourceType:         m.SourceType,
		VerificationStatus: models.StatusUnverified,
		FirstSeen:          observed,
		LastSeen:           observed,
		ExtractionMetadata: m.Metadata,
		Notes:              strings.TrimSpace(m.Notes),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if m.Confidence != nil {
		c.ConfidenceScore = *m.Confidence
	}
	if m.CountOccurrence {
		c.EmailCount = 1
	}

	phones, addresses, tags, metadata, err := encodeContactSets(c)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO contacts (id, owner_id, email, display_name, organization, domain, phone_numbers, addresses, tags,
			source_type, verification_status, confidence_score, email_count, first_seen, last_seen,
			extraction_metadata, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID.String(), c.OwnerID, c.Email, nullString(c.DisplayName), nullString(c.Organization), c.Domain,
		phones, addresses, tags, nullString(string(c.SourceType)), string(c.VerificationStatus),
		c.ConfidenceScore, c.EmailCount, c.FirstSeen, c.LastSeen, metadata, nullString(c.Notes),
		c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// mergeContact coalesces scalars, unions sets and increments email_count in place.
// A non-empty observed scalar replaces the stored one; blanks never erase.
func mergeContact(ctx context.Context, tx DBTX, c *models.Contact, m ContactMerge) error {
	c.DisplayName = coalesce(m.DisplayName, c.DisplayName)
	c.Organization = coalesce(m.Organization, c.Organization)
	c.Notes = coalesce(m.Notes, c.Notes)
	c.PhoneNumbers = models.MergeSet(c.PhoneNumbers, m.PhoneNumbers)
	c.Addresses = models.MergeSet(c.Addresses, m.Addresses)
	c.Tags = models.MergeSet(c.Tags, models.NormalizeTags(m.Tags))

	// The strongest classification decides the type and its metadata.
	if m.Confidence != nil && *m.Confidence >= c.ConfidenceScore {
		c.ConfidenceScore = *m.Confidence
		if m.SourceType != models.SourceNone {
			c.SourceType = m.SourceType
		}
		if len(m.Metadata) > 0 {
			if c.ExtractionMetadata == nil {
				c.ExtractionMetadata = make(map[string]any, len(m.Metadata))
			}
			for k, v := range m.Metadata {
				c.ExtractionMetadata[k] = v
			}
		}
	} else if c.SourceType == models.SourceNone {
		c.SourceType = m.SourceType
	}

	observed := m.ObservedAt.UTC()
	if observed.After(c.LastSeen) {
		c.LastSeen = observed
	}
	if observed.Before(c.FirstSeen) {
		c.FirstSeen = observed
	}

	increment := 0
	if m.CountOccurrence {
		increment = 1
	}

	phones, addresses, tags, metadata, err := encodeContactSets(c)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE contacts SET
			display_name = ?,
			organization = ?,
			phone_numbers = ?,
			addresses = ?,
			tags = ?,
			source_type = ?,
			confidence_score = ?,
			email_count = email_count + ?,
			first_seen = ?,
			last_seen = ?,
			extraction_metadata = ?,
			notes = ?,
			updated_at = ?
		WHERE id = ?
	`, nullString(c.DisplayName), nullString(c.Organization), phones, addresses, tags,
		nullString(string(c.SourceType)), c.ConfidenceScore, increment, c.FirstSeen, c.LastSeen,
		metadata, nullString(c.Notes), time.Now().UTC(), c.ID.String())
	if err != nil {
		return apperr.Persistence("merge contact", err)
	}
	return nil
}

func coalesce(observed, stored string) string {
	if v := strings.TrimSpace(observed); v != "" {
		return v
	}
	return stored
}

func encodeContactSets(c *models.Contact) (phones, addresses, tags string, metadata sql.NullString, err error) {
	if phones, err = encodeSet(c.PhoneNumbers); err != nil {
		return
	}
	if addresses, err = encodeSet(c.Addresses); err != nil {
		return
	}
	if tags, err = encodeSet(c.Tags); err != nil {
		return
	}
	metadata, err = encodeMap(c.ExtractionMetadata)
	return
}

// VerifyContact marks an unverified or pending contact verified. It reports
// whether a row changed.
func VerifyContact(ctx context.Context, tx DBTX, id uuid.UUID, method, verifiedBy string, from ...models.VerificationStatus) (bool, error) {
	if len(from) == 0 {
		from = []models.VerificationStatus{models.StatusUnverified, models.StatusPending}
	}
	placeholders := make([]string, len(from))
	now := time.Now().UTC()
	args := []any{string(models.StatusVerified), method, now, verifiedBy, now, id.String()}
	for i, s := range from {
		placeholders[i] = "?"
		args = append(args, string(s))
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE contacts SET verification_status = ?, verification_method = ?, verified_at = ?, verified_by = ?, updated_at = ?
		WHERE id = ? AND verification_status IN (`+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		return false, apperr.Persistence("verify contact", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence("verify contact", err)
	}
	return n > 0, nil
}

// SetContactStatus moves a contact to status when it is currently in one of from.
func SetContactStatus(ctx context.Context, tx DBTX, id uuid.UUID, status models.VerificationStatus, from ...models.VerificationStatus) (bool, error) {
	query := `UPDATE contacts SET verification_status = ?, updated_at = ? WHERE id = ?`
	args := []any{string(status), time.Now().UTC(), id.String()}
	if len(from) > 0 {
		placeholders := make([]string, len(from))
		for i, s := range from {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		query += ` AND verification_status IN (` + strings.Join(placeholders, ", ") + `)`
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, apperr.Persistence("set contact status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence("set contact status", err)
	}
	return n > 0, nil
}

// SetContactClassification overwrites the source type and tags after a human decision.
func SetContactClassification(ctx context.Context, tx DBTX, id uuid.UUID, sourceType models.SourceType, tags []string) error {
	encoded, err := encodeSet(models.NormalizeTags(tags))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE contacts SET source_type = COALESCE(?, source_type), tags = ?, updated_at = ? WHERE id = ?
	`, nullString(string(sourceType)), encoded, time.Now().UTC(), id.String())
	if err != nil {
		return apperr.Persistence("set contact classification", err)
	}
	return nil
}

// DeleteContact hard-deletes a contact with its sources, occurrences and queue items.
func DeleteContact(ctx context.Context, q DBTX, ownerID string, id uuid.UUID) error {
	res, err := q.ExecContext(ctx, `DELETE FROM contacts WHERE id = ? AND owner_id = ?`, id.String(), ownerID)
	if err != nil {
		return apperr.Persistence("delete contact", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Persistence("delete contact", err)
	}
	if n == 0 {
		return apperr.NotFound("contact")
	}
	return nil
}

// OccurrenceExists reports whether the sender at email was already counted
// for this occurrence id. Other senders in the same message are distinct.
func OccurrenceExists(ctx context.Context, q DBTX, ownerID, occurrenceID, email string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM contact_occurrences o
		JOIN contacts c ON c.id = o.contact_id
		WHERE o.owner_id = ? AND o.occurrence_id = ? AND c.email = ?
	`, ownerID, occurrenceID, models.NormalizeEmail(email)).Scan(&n)
	if err != nil {
		return false, apperr.Persistence("check occurrence", err)
	}
	return n > 0, nil
}

// ClaimOccurrence records a distinct (occurrence, contact) pair. It returns
// false when the pair was already recorded.
func ClaimOccurrence(ctx context.Context, tx DBTX, ownerID, occurrenceID string, contactID uuid.UUID, subject string, observedAt time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO contact_occurrences (id, owner_id, occurrence_id, contact_id, subject, observed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, occurrence_id, contact_id) DO NOTHING
	`, uuid.New().String(), ownerID, occurrenceID, contactID.String(), nullString(subject), observedAt.UTC())
	if err != nil {
		return false, apperr.Persistence("record occurrence", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence("record occurrence", err)
	}
	return n > 0, nil
}

// RecentOccurrenceIDs returns up to limit occurrence ids for a contact, newest first.
func RecentOccurrenceIDs(ctx context.Context, q DBTX, contactID uuid.UUID, limit int) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT occurrence_id FROM contact_occurrences WHERE contact_id = ? ORDER BY observed_at DESC LIMIT ?
	`, contactID.String(), limit)
	if err != nil {
		return nil, apperr.Persistence("list occurrences", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Persistence("scan occurrence", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
