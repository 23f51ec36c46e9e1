// ABOUTME: Database operations for contact_sources
// ABOUTME: Idempotent upsert of external directory links keyed by resource name, account and provider
package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/rolodex/apperr"
	"github.com/harperreed/rolodex/models"
)

// SourceChange describes what UpsertSource did.
type SourceChange int

const (
	SourceUnchanged SourceChange = iota
	SourceCreated
	SourceUpdated
)

const sourceColumns = `id, contact_id, owner_id, provider, external_id, external_resource_name, account_email,
	etag, sync_direction, metadata, last_synced_at, created_at, updated_at`

func scanSource(row rowScanner) (*models.ContactSource, error) {
	var s models.ContactSource
	var etag, metadata sql.NullString
	var lastSynced sql.NullTime

	err := row.Scan(&s.ID, &s.ContactID, &s.OwnerID, &s.Provider, &s.ExternalID, &s.ExternalResourceName,
		&s.AccountEmail, &etag, &s.SyncDirection, &metadata, &lastSynced, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Etag = etag.String
	s.LastSyncedAt = timePtr(lastSynced)
	if s.Metadata, err = decodeMap(metadata); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSourceByResource returns nil, nil when no source exists for the key.
func GetSourceByResource(ctx context.Context, q DBTX, provider models.Provider, accountEmail, resourceName string) (*models.ContactSource, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM contact_sources
		WHERE external_resource_name = ? AND account_email = ? AND provider = ?`,
		resourceName, models.NormalizeEmail(accountEmail), string(provider))
	s, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Persistence("get contact source", err)
	}
	return s, nil
}

// UpsertSource links src to its contact. Re-applying the same etag is a no-op
// apart from last_synced_at.
func UpsertSource(ctx context.Context, tx DBTX, src *models.ContactSource) (SourceChange, error) {
	src.AccountEmail = models.NormalizeEmail(src.AccountEmail)
	if src.SyncDirection == "" {
		src.SyncDirection = models.DirectionImport
	}
	now := time.Now().UTC()

	existing, err := GetSourceByResource(ctx, tx, src.Provider, src.AccountEmail, src.ExternalResourceName)
	if err != nil {
		return SourceUnchanged, err
	}

	metadata, err := encodeMap(src.Metadata)
	if err != nil {
		return SourceUnchanged, err
	}

	if existing == nil {
		src.ID = uuid.New()
		src.CreatedAt = now
		src.UpdatedAt = now
		src.LastSyncedAt = &now
		_, err := tx.ExecContext(ctx, `
			INSERT INTO contact_sources (id, contact_id, owner_id, provider, external_id, external_resource_name,
				account_email, etag, sync_direction, metadata, last_synced_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, src.ID.String(), src.ContactID.String(), src.OwnerID, string(src.Provider), src.ExternalID,
			src.ExternalResourceName, src.AccountEmail, nullString(src.Etag), string(src.SyncDirection),
			metadata, now, now, now)
		if err != nil {
			return SourceUnchanged, apperr.Persistence("insert contact source", err)
		}
		return SourceCreated, nil
	}

	src.ID = existing.ID
	src.CreatedAt = existing.CreatedAt
	src.LastSyncedAt = &now

	if existing.Etag == src.Etag && existing.ContactID == src.ContactID {
		_, err := tx.ExecContext(ctx, `UPDATE contact_sources SET last_synced_at = ? WHERE id = ?`,
			now, existing.ID.String())
		if err != nil {
			return SourceUnchanged, apperr.Persistence("touch contact source", err)
		}
		src.UpdatedAt = existing.UpdatedAt
		return SourceUnchanged, nil
	}

	src.UpdatedAt = now
	_, err = tx.ExecContext(ctx, `
		UPDATE contact_sources SET contact_id = ?, external_id = ?, etag = ?, metadata = ?, last_synced_at = ?, updated_at = ?
		WHERE id = ?
	`, src.ContactID.String(), src.ExternalID, nullString(src.Etag), metadata, now, now, existing.ID.String())
	if err != nil {
		return SourceUnchanged, apperr.Persistence("update contact source", err)
	}
	return SourceUpdated, nil
}

// DeleteSourceByResource removes one source. Missing rows are not an error.
func DeleteSourceByResource(ctx context.Context, q DBTX, provider models.Provider, accountEmail, resourceName string) (bool, error) {
	res, err := q.ExecContext(ctx, `
		DELETE FROM contact_sources WHERE external_resource_name = ? AND account_email = ? AND provider = ?
	`, resourceName, models.NormalizeEmail(accountEmail), string(provider))
	if err != nil {
		return false, apperr.Persistence("delete contact source", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence("delete contact source", err)
	}
	return n > 0, nil
}

// ListSourceResourceNames returns every resource name stored for an account.
func ListSourceResourceNames(ctx context.Context, q DBTX, ownerID, accountEmail string, provider models.Provider) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT external_resource_name FROM contact_sources
		WHERE owner_id = ? AND account_email = ? AND provider = ?
		ORDER BY external_resource_name
	`, ownerID, models.NormalizeEmail(accountEmail), string(provider))
	if err != nil {
		return nil, apperr.Persistence("list contact sources", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperr.Persistence("scan contact source", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ListSourcesForContact returns all directory links of a contact.
func ListSourcesForContact(ctx context.Context, q DBTX, contactID uuid.UUID) ([]models.ContactSource, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+sourceColumns+` FROM contact_sources WHERE contact_id = ? ORDER BY created_at`,
		contactID.String())
	if err != nil {
		return nil, apperr.Persistence("list contact sources", err)
	}
	defer func() { _ = rows.Close() }()

	var sources []models.ContactSource
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, apperr.Persistence("scan contact source", err)
		}
		sources = append(sources, *s)
	}
	return sources, rows.Err()
}
