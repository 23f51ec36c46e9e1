// ABOUTME: External directory sync engine
// ABOUTME: Leases an account, pages the provider, merges records and records the sync outcome
package directory

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/harperreed/rolodex/apperr"
	"github.com/harperreed/rolodex/db"
	"github.com/harperreed/rolodex/models"
)

const defaultLeaseTTL = 10 * time.Minute

type Options struct {
	// LeaseTTL bounds how long a crashed run blocks the account. It is
	// renewed after every page.
	LeaseTTL time.Duration
	// Locker is optional. When set, a run also holds a cross-process lock.
	Locker   Locker
	Provider models.Provider
}

type Engine struct {
	db        *sql.DB
	connector Connector
	locker    Locker
	leaseTTL  time.Duration
	provider  models.Provider
	log       zerolog.Logger
	now       func() time.Time
}

func NewEngine(database *sql.DB, connector Connector, opts Options, log zerolog.Logger) *Engine {
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = defaultLeaseTTL
	}
	if opts.Provider == "" {
		opts.Provider = models.ProviderGoogle
	}
	return &Engine{
		db:        database,
		connector: connector,
		locker:    opts.Locker,
		leaseTTL:  opts.LeaseTTL,
		provider:  opts.Provider,
		log:       log.With().Str("component", "directory-sync").Logger(),
		now:       time.Now,
	}
}

// SyncResult summarizes one run. A failed run still yields a result; its
// Status and Error describe what was recorded.
type SyncResult struct {
	RunID        string            `json:"run_id"`
	OwnerID      string            `json:"owner_id"`
	AccountEmail string            `json:"account_email"`
	Mode         models.SyncMode   `json:"mode"`
	Status       models.SyncStatus `json:"status"`
	Pages        int               `json:"pages"`
	Fetched      int               `json:"fetched"`
	Created      int               `json:"created"`
	Updated      int               `json:"updated"`
	Unchanged    int               `json:"unchanged"`
	Removed      int               `json:"removed"`
	Skipped      int               `json:"skipped"`
	Error        string            `json:"error,omitempty"`
	Code         string            `json:"code,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
}

func (e *Engine) key(ownerID, accountEmail string) db.SyncKey {
	return db.SyncKey{OwnerID: ownerID, AccountEmail: accountEmail, Provider: e.provider}
}

// Sync runs one full or incremental pass for the account. Setup errors
// (bad input, credentials, a held lease) are returned as errors and leave
// the stored state alone. Failures after the lease is taken are recorded in
// the sync state and reported through the result.
func (e *Engine) Sync(ctx context.Context, ownerID, accountEmail string) (*SyncResult, error) {
	account, err := models.ValidateEmail(accountEmail)
	if err != nil {
		return nil, err
	}
	if ownerID == "" {
		return nil, apperr.Validation("owner_id", "required")
	}

	provider, err := e.connector.Connect(ctx, ownerID, account)
	if err != nil {
		var appErr *apperr.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperr.External("directory", err)
	}

	res := &SyncResult{
		RunID:        ulid.Make().String(),
		OwnerID:      ownerID,
		AccountEmail: account,
		StartedAt:    e.now().UTC(),
	}
	key := e.key(ownerID, account)
	log := e.log.With().Str("owner", ownerID).Str("account", account).Str("run_id", res.RunID).Logger()

	var lock Lock
	if e.locker != nil {
		var ok bool
		lock, ok, err = e.locker.TryLock(ctx, ownerID+":"+account, res.RunID, e.leaseTTL)
		if err != nil {
			return nil, apperr.External("sync lock", err)
		}
		if !ok {
			return nil, apperr.Conflict("sync already in progress").WithDetail("account_email", account)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warn().Err(err).Msg("failed to release sync lock")
			}
		}()
	}

	var start *models.SyncState
	err = db.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		prior, err := db.GetSyncState(ctx, tx, key)
		if err != nil {
			return err
		}
		res.Mode = models.SyncModeFull
		if prior != nil && prior.SyncToken != nil && *prior.SyncToken != "" {
			res.Mode = models.SyncModeIncremental
		}
		start, err = db.AcquireSyncLease(ctx, tx, key, res.RunID, res.Mode, e.leaseTTL, e.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	token := ""
	if res.Mode == models.SyncModeIncremental {
		token = *start.SyncToken
	}
	log.Info().Str("mode", string(res.Mode)).Str("from", string(start.SyncStatus)).Msg("sync started")

	nextToken, runErr := e.run(ctx, provider, key, token, lock, res)
	finishErr := e.finish(context.WithoutCancel(ctx), key, res, nextToken, runErr)
	res.FinishedAt = e.now().UTC()

	event := log.Info()
	if runErr != nil {
		event = log.Warn().Err(runErr)
	}
	event.Str("status", string(res.Status)).
		Int("pages", res.Pages).
		Int("fetched", res.Fetched).
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("removed", res.Removed).
		Msg("sync finished")

	if finishErr != nil {
		return res, finishErr
	}
	return res, nil
}

// run pages the provider and applies each page in its own transaction.
// It returns the cursor for the next run.
func (e *Engine) run(ctx context.Context, provider Provider, key db.SyncKey, token string, lock Lock, res *SyncResult) (string, error) {
	seen := map[string]struct{}{}
	pageToken := ""

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		page, err := provider.List(ctx, ListRequest{SyncToken: token, PageToken: pageToken})
		if err != nil {
			return "", err
		}
		res.Pages++
		res.Fetched += len(page.Records)

		err = db.WithTx(ctx, e.db, func(tx *sql.Tx) error {
			for _, rec := range page.Records {
				if err := e.applyRecord(ctx, tx, key, rec, res, seen); err != nil {
					return err
				}
			}
			return db.RenewSyncLease(ctx, tx, key, res.RunID, e.leaseTTL, e.now())
		})
		if err != nil {
			return "", err
		}
		if lock != nil {
			if err := lock.Extend(ctx, e.leaseTTL); err != nil {
				return "", err
			}
		}

		if page.NextPageToken == "" {
			if res.Mode == models.SyncModeFull {
				if err := e.sweep(ctx, key, seen, res); err != nil {
					return "", err
				}
			}
			return page.NextSyncToken, nil
		}
		pageToken = page.NextPageToken
	}
}

func (e *Engine) applyRecord(ctx context.Context, tx *sql.Tx, key db.SyncKey, rec Record, res *SyncResult, seen map[string]struct{}) error {
	if rec.ResourceName == "" {
		res.Skipped++
		return nil
	}
	if rec.Deleted {
		removed, err := db.DeleteSourceByResource(ctx, tx, key.Provider, key.AccountEmail, rec.ResourceName)
		if err != nil {
			return err
		}
		if removed {
			res.Removed++
		}
		return nil
	}

	email, err := models.ValidateEmail(rec.Email)
	if err != nil {
		res.Skipped++
		return nil
	}
	seen[rec.ResourceName] = struct{}{}

	existing, err := db.GetSourceByResource(ctx, tx, key.Provider, key.AccountEmail, rec.ResourceName)
	if err != nil {
		return err
	}
	var contactID uuid.UUID
	if existing != nil && existing.Etag == rec.Etag && rec.Etag != "" {
		// Same version as last time; only the link is touched.
		contactID = existing.ContactID
	} else {
		contact, _, err := db.UpsertContact(ctx, tx, key.OwnerID, email, db.ContactMerge{
			DisplayName:  rec.DisplayName,
			Organization: rec.Organization,
			Notes:        rec.Notes,
			PhoneNumbers: rec.PhoneNumbers,
			Addresses:    rec.Addresses,
			ObservedAt:   e.now().UTC(),
		})
		if err != nil {
			return err
		}
		contactID = contact.ID
	}

	change, err := db.UpsertSource(ctx, tx, &models.ContactSource{
		ContactID:            contactID,
		OwnerID:              key.OwnerID,
		Provider:             key.Provider,
		ExternalID:           rec.ExternalID,
		ExternalResourceName: rec.ResourceName,
		AccountEmail:         key.AccountEmail,
		Etag:                 rec.Etag,
		SyncDirection:        models.DirectionImport,
		Metadata:             map[string]any{"run_id": res.RunID},
	})
	if err != nil {
		return err
	}
	switch change {
	case db.SourceCreated:
		res.Created++
	case db.SourceUpdated:
		res.Updated++
	default:
		res.Unchanged++
	}
	return nil
}

// sweep removes sources a full listing no longer returned.
func (e *Engine) sweep(ctx context.Context, key db.SyncKey, seen map[string]struct{}, res *SyncResult) error {
	return db.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		names, err := db.ListSourceResourceNames(ctx, tx, key.OwnerID, key.AccountEmail, key.Provider)
		if err != nil {
			return err
		}
		for _, name := range names {
			if _, ok := seen[name]; ok {
				continue
			}
			removed, err := db.DeleteSourceByResource(ctx, tx, key.Provider, key.AccountEmail, name)
			if err != nil {
				return err
			}
			if removed {
				res.Removed++
			}
		}
		return nil
	})
}

// finish records the outcome under the run's lease.
func (e *Engine) finish(ctx context.Context, key db.SyncKey, res *SyncResult, nextToken string, runErr error) error {
	now := e.now()
	return db.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		switch {
		case runErr == nil:
			res.Status = models.SyncCompleted
			return db.CompleteSync(ctx, tx, key, res.RunID, res.Mode, &nextToken, now)

		case errors.Is(runErr, ErrCursorExpired):
			res.Status = models.SyncNeverSynced
			res.Code = apperr.CodeCursorInvalidated
			res.Error = apperr.CursorInvalidated("directory", runErr).Error()
			return db.InvalidateSyncCursor(ctx, tx, key, res.RunID, res.Mode,
				"sync cursor expired, next sync will be a full sync", now)

		default:
			res.Status = models.SyncFailed
			res.Code = apperr.Code(runErr)
			res.Error = runErr.Error()
			return db.FailSync(ctx, tx, key, res.RunID, res.Mode, runErr.Error(), now)
		}
	})
}

// GetSyncState returns the stored state, or a never_synced placeholder.
func (e *Engine) GetSyncState(ctx context.Context, ownerID, accountEmail string) (*models.SyncState, error) {
	account, err := models.ValidateEmail(accountEmail)
	if err != nil {
		return nil, err
	}
	state, err := db.GetSyncState(ctx, e.db, e.key(ownerID, account))
	if err != nil {
		return nil, err
	}
	if state == nil {
		return &models.SyncState{
			OwnerID:      ownerID,
			AccountEmail: account,
			Provider:     e.provider,
			SyncStatus:   models.SyncNeverSynced,
		}, nil
	}
	return state, nil
}

func (e *Engine) ListSyncStates(ctx context.Context, ownerID string) ([]models.SyncState, error) {
	return db.ListSyncStates(ctx, e.db, ownerID)
}

func (e *Engine) History(ctx context.Context, ownerID, accountEmail string) ([]models.SyncTransition, error) {
	return db.ListSyncHistory(ctx, e.db, e.key(ownerID, accountEmail))
}
