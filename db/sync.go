// ABOUTME: Database operations for sync_state and sync_history tables
// ABOUTME: Implements the per-account sync lease and the sync status state machine
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/rolodex/apperr"
	"github.com/harperreed/rolodex/models"
)

// SyncKey identifies one sync state row.
type SyncKey struct {
	OwnerID      string
	AccountEmail string
	Provider     models.Provider
}

func (k SyncKey) normalized() SyncKey {
	k.AccountEmail = models.NormalizeEmail(k.AccountEmail)
	if k.Provider == "" {
		k.Provider = models.ProviderGoogle
	}
	return k
}

const syncStateColumns = `owner_id, account_email, provider, sync_token, last_full_sync_at, last_incremental_sync_at,
	sync_status, error_message, lease_holder, lease_expires_at, created_at, updated_at`

func scanSyncState(row rowScanner) (*models.SyncState, error) {
	var s models.SyncState
	var token, errMsg, holder sql.NullString
	var lastFull, lastIncr, leaseExp sql.NullTime

	err := row.Scan(&s.OwnerID, &s.AccountEmail, &s.Provider, &token, &lastFull, &lastIncr,
		&s.SyncStatus, &errMsg, &holder, &leaseExp, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.SyncToken = stringPtr(token)
	s.LastFullSyncAt = timePtr(lastFull)
	s.LastIncrementalSyncAt = timePtr(lastIncr)
	s.ErrorMessage = stringPtr(errMsg)
	s.LeaseHolder = stringPtr(holder)
	s.LeaseExpiresAt = timePtr(leaseExp)
	return &s, nil
}

// GetSyncState retrieves the sync state for an account. Returns nil, nil if
// the account has never been seen.
func GetSyncState(ctx context.Context, q DBTX, key SyncKey) (*models.SyncState, error) {
	key = key.normalized()
	row := q.QueryRowContext(ctx, `SELECT `+syncStateColumns+` FROM sync_state
		WHERE owner_id = ? AND account_email = ? AND provider = ?`,
		key.OwnerID, key.AccountEmail, string(key.Provider))
	s, err := scanSyncState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Persistence("get sync state", err)
	}
	return s, nil
}

// ListSyncStates returns every sync state row of an owner.
func ListSyncStates(ctx context.Context, q DBTX, ownerID string) ([]models.SyncState, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+syncStateColumns+` FROM sync_state
		WHERE owner_id = ? ORDER BY account_email, provider`, ownerID)
	if err != nil {
		return nil, apperr.Persistence("list sync states", err)
	}
	defer func() { _ = rows.Close() }()

	var states []models.SyncState
	for rows.Next() {
		s, err := scanSyncState(rows)
		if err != nil {
			return nil, apperr.Persistence("scan sync state", err)
		}
		states = append(states, *s)
	}
	return states, rows.Err()
}

// AcquireSyncLease moves the account to syncing under runID. It fails with a
// Conflict while another unexpired lease is held. An expired lease is first
// recorded as failed. The returned state is the one the run starts from.
func AcquireSyncLease(ctx context.Context, tx DBTX, key SyncKey, runID string, mode models.SyncMode, ttl time.Duration, now time.Time) (*models.SyncState, error) {
	key = key.normalized()
	now = now.UTC()

	state, err := GetSyncState(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	if state == nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sync_state (owner_id, account_email, provider, sync_status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, key.OwnerID, key.AccountEmail, string(key.Provider), string(models.SyncNeverSynced), now, now)
		if err != nil {
			return nil, apperr.Persistence("create sync state", err)
		}
		state = &models.SyncState{
			OwnerID:      key.OwnerID,
			AccountEmail: key.AccountEmail,
			Provider:     key.Provider,
			SyncStatus:   models.SyncNeverSynced,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	if state.SyncStatus == models.SyncSyncing {
		if state.LeaseExpiresAt != nil && now.Before(*state.LeaseExpiresAt) {
			return nil, apperr.Conflict("sync already in progress").
				WithDetail("account_email", key.AccountEmail)
		}

		holder := ""
		if state.LeaseHolder != nil {
			holder = *state.LeaseHolder
		}
		msg := "sync lease expired before the run finished"
		if _, err := tx.ExecContext(ctx, `
			UPDATE sync_state SET sync_status = ?, error_message = ?, lease_holder = NULL, lease_expires_at = NULL, updated_at = ?
			WHERE owner_id = ? AND account_email = ? AND provider = ?
		`, string(models.SyncFailed), msg, now, key.OwnerID, key.AccountEmail, string(key.Provider)); err != nil {
			return nil, apperr.Persistence("expire sync lease", err)
		}
		if err := recordTransition(ctx, tx, key, holder, models.SyncSyncing, models.SyncFailed, "", msg, now); err != nil {
			return nil, err
		}
		state.SyncStatus = models.SyncFailed
		state.ErrorMessage = &msg
	}

	expires := now.Add(ttl)
	_, err = tx.ExecContext(ctx, `
		UPDATE sync_state SET sync_status = ?, error_message = NULL, lease_holder = ?, lease_expires_at = ?, updated_at = ?
		WHERE owner_id = ? AND account_email = ? AND provider = ?
	`, string(models.SyncSyncing), runID, expires, now, key.OwnerID, key.AccountEmail, string(key.Provider))
	if err != nil {
		return nil, apperr.Persistence("acquire sync lease", err)
	}
	if err := recordTransition(ctx, tx, key, runID, state.SyncStatus, models.SyncSyncing, mode, "", now); err != nil {
		return nil, err
	}

	return state, nil
}

// RenewSyncLease pushes the lease expiry forward while runID still holds it.
func RenewSyncLease(ctx context.Context, q DBTX, key SyncKey, runID string, ttl time.Duration, now time.Time) error {
	key = key.normalized()
	res, err := q.ExecContext(ctx, `
		UPDATE sync_state SET lease_expires_at = ?, updated_at = ?
		WHERE owner_id = ? AND account_email = ? AND provider = ? AND lease_holder = ? AND sync_status = ?
	`, now.UTC().Add(ttl), now.UTC(), key.OwnerID, key.AccountEmail, string(key.Provider), runID, string(models.SyncSyncing))
	if err != nil {
		return apperr.Persistence("renew sync lease", err)
	}
	return requireLease(res)
}

// CompleteSync stores the new cursor and marks the run completed.
func CompleteSync(ctx context.Context, tx DBTX, key SyncKey, runID string, mode models.SyncMode, token *string, now time.Time) error {
	key = key.normalized()
	now = now.UTC()

	timestampColumn := "last_incremental_sync_at"
	if mode == models.SyncModeFull {
		timestampColumn = "last_full_sync_at"
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE sync_state SET sync_status = ?, sync_token = ?, `+timestampColumn+` = ?, error_message = NULL,
			lease_holder = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE owner_id = ? AND account_email = ? AND provider = ? AND lease_holder = ? AND sync_status = ?
	`, string(models.SyncCompleted), nullStringPtr(emptyToNil(token)), now, now,
		key.OwnerID, key.AccountEmail, string(key.Provider), runID, string(models.SyncSyncing))
	if err != nil {
		return apperr.Persistence("complete sync", err)
	}
	if err := requireLease(res); err != nil {
		return err
	}
	return recordTransition(ctx, tx, key, runID, models.SyncSyncing, models.SyncCompleted, mode, "", now)
}

// FailSync records a failed run. The stored cursor is kept.
func FailSync(ctx context.Context, tx DBTX, key SyncKey, runID string, mode models.SyncMode, message string, now time.Time) error {
	return finishWithStatus(ctx, tx, key, runID, mode, models.SyncFailed, message, false, now)
}

// InvalidateSyncCursor clears the cursor and returns the account to
// never_synced so the next run performs a full sync.
func InvalidateSyncCursor(ctx context.Context, tx DBTX, key SyncKey, runID string, mode models.SyncMode, message string, now time.Time) error {
	return finishWithStatus(ctx, tx, key, runID, mode, models.SyncNeverSynced, message, true, now)
}

func finishWithStatus(ctx context.Context, tx DBTX, key SyncKey, runID string, mode models.SyncMode, status models.SyncStatus, message string, clearToken bool, now time.Time) error {
	key = key.normalized()
	now = now.UTC()

	query := `UPDATE sync_state SET sync_status = ?, error_message = ?, lease_holder = NULL, lease_expires_at = NULL, updated_at = ?`
	if clearToken {
		query += `, sync_token = NULL`
	}
	query += ` WHERE owner_id = ? AND account_email = ? AND provider = ? AND lease_holder = ? AND sync_status = ?`

	res, err := tx.ExecContext(ctx, query, string(status), nullString(message), now,
		key.OwnerID, key.AccountEmail, string(key.Provider), runID, string(models.SyncSyncing))
	if err != nil {
		return apperr.Persistence(fmt.Sprintf("mark sync %s", status), err)
	}
	if err := requireLease(res); err != nil {
		return err
	}
	return recordTransition(ctx, tx, key, runID, models.SyncSyncing, status, mode, message, now)
}

func requireLease(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Persistence("update sync state", err)
	}
	if n == 0 {
		return apperr.Conflict("sync lease is no longer held by this run")
	}
	return nil
}

func recordTransition(ctx context.Context, tx DBTX, key SyncKey, runID string, from, to models.SyncStatus, mode models.SyncMode, message string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_history (id, owner_id, account_email, provider, run_id, from_status, to_status, mode, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), key.OwnerID, key.AccountEmail, string(key.Provider), runID,
		string(from), string(to), nullString(string(mode)), nullString(message), now)
	if err != nil {
		return apperr.Persistence("record sync transition", err)
	}
	return nil
}

// ListSyncHistory returns the transitions of an account in order.
func ListSyncHistory(ctx context.Context, q DBTX, key SyncKey) ([]models.SyncTransition, error) {
	key = key.normalized()
	rows, err := q.QueryContext(ctx, `
		SELECT id, owner_id, account_email, run_id, from_status, to_status, mode, error_message, created_at
		FROM sync_history
		WHERE owner_id = ? AND account_email = ? AND provider = ?
		ORDER BY created_at, rowid
	`, key.OwnerID, key.AccountEmail, string(key.Provider))
	if err != nil {
		return nil, apperr.Persistence("list sync history", err)
	}
	defer func() { _ = rows.Close() }()

	var history []models.SyncTransition
	for rows.Next() {
		var h models.SyncTransition
		var mode, msg sql.NullString
		if err := rows.Scan(&h.ID, &h.OwnerID, &h.AccountEmail, &h.RunID, &h.FromStatus, &h.ToStatus,
			&mode, &msg, &h.CreatedAt); err != nil {
			return nil, apperr.Persistence("scan sync history", err)
		}
		h.Mode = models.SyncMode(mode.String)
		h.ErrorMessage = msg.String
		history = append(history, h)
	}
	return history, rows.Err()
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
