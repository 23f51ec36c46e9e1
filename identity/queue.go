// ABOUTME: Verification queue workflow: approve, reject, modify and batch approve by domain
// ABOUTME: Each item resolves in its own transaction; domain batches report per-item outcomes
package identity

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/harperreed/rolodex/apperr"
	"github.com/harperreed/rolodex/db"
	"github.com/harperreed/rolodex/models"
)

// Resolution is the state of an item and its contact after a reviewer action.
type Resolution struct {
	Item    *models.VerificationQueueItem `json:"item"`
	Contact *models.Contact               `json:"contact"`
}

// QueueUpdate carries a reviewer's corrections. Nil fields are left unchanged.
type QueueUpdate struct {
	SuggestedType *models.SourceType
	SuggestedTags []string
	Reasoning     *string
	Confidence    *float64
}

// ListQueue returns queue entries for owner, optionally limited to one status.
func (s *Service) ListQueue(ctx context.Context, ownerID string, status *models.QueueStatus) ([]models.QueueEntry, error) {
	filter := db.QueueFilter{}
	if status != nil {
		if !status.Valid() {
			return nil, apperr.Validation("status", "unknown queue status "+string(*status))
		}
		filter.Status = *status
	}
	return db.ListQueue(ctx, s.db, ownerID, filter)
}

// Approve accepts the suggestion and verifies the contact.
func (s *Service) Approve(ctx context.Context, ownerID string, queueID, contactID uuid.UUID) (*Resolution, error) {
	return s.resolve(ctx, ownerID, queueID, &contactID, models.QueueApproved, func(tx *sql.Tx, item *models.VerificationQueueItem) error {
		_, err := db.VerifyContact(ctx, tx, item.ContactID, models.MethodManualApproval, ownerID)
		return err
	})
}

// Reject closes the item and marks the contact rejected so the same
// suggestion does not come back.
func (s *Service) Reject(ctx context.Context, ownerID string, queueID uuid.UUID) (*Resolution, error) {
	return s.resolve(ctx, ownerID, queueID, nil, models.QueueRejected, func(tx *sql.Tx, item *models.VerificationQueueItem) error {
		_, err := db.SetContactStatus(ctx, tx, item.ContactID, models.StatusRejected,
			models.StatusPending, models.StatusUnverified)
		return err
	})
}

// Modify applies the reviewer's corrections, marks the item modified and
// verifies the contact with the corrected classification.
func (s *Service) Modify(ctx context.Context, ownerID string, queueID, contactID uuid.UUID, update QueueUpdate) (*Resolution, error) {
	if update.SuggestedType != nil && !update.SuggestedType.Valid() {
		return nil, apperr.Validation("suggested_type", "unknown source type "+string(*update.SuggestedType))
	}
	if update.Confidence != nil && (*update.Confidence < 0 || *update.Confidence > 1) {
		return nil, apperr.Validation("confidence", "must be between 0 and 1")
	}

	return s.resolve(ctx, ownerID, queueID, &contactID, models.QueueModified, func(tx *sql.Tx, item *models.VerificationQueueItem) error {
		if err := db.UpdateQueueSuggestion(ctx, tx, item.ID, db.QueueSuggestion{
			SuggestedType: update.SuggestedType,
			SuggestedTags: update.SuggestedTags,
			Reasoning:     update.Reasoning,
			Confidence:    update.Confidence,
		}); err != nil {
			return err
		}

		updated, err := db.GetQueueItem(ctx, tx, ownerID, item.ID)
		if err != nil {
			return err
		}
		if err := db.SetContactClassification(ctx, tx, item.ContactID, updated.SuggestedType, updated.SuggestedTags); err != nil {
			return err
		}
		_, err = db.VerifyContact(ctx, tx, item.ContactID, models.MethodManualModification, ownerID)
		return err
	})
}

func (s *Service) resolve(ctx context.Context, ownerID string, queueID uuid.UUID, contactID *uuid.UUID, status models.QueueStatus, effect func(tx *sql.Tx, item *models.VerificationQueueItem) error) (*Resolution, error) {
	out := &Resolution{}
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		item, err := db.GetQueueItem(ctx, tx, ownerID, queueID)
		if err != nil {
			return err
		}
		if contactID != nil && item.ContactID != *contactID {
			return apperr.Validation("contact_id", "does not belong to the queue item")
		}
		if item.Status != models.QueuePending {
			return apperr.Conflict("verification queue item is already " + string(item.Status)).
				WithDetail("queue_id", queueID.String())
		}

		if err := effect(tx, item); err != nil {
			return err
		}
		if err := db.ResolveQueueItem(ctx, tx, item.ID, status, s.now()); err != nil {
			return err
		}

		if out.Item, err = db.GetQueueItem(ctx, tx, ownerID, item.ID); err != nil {
			return err
		}
		out.Contact, err = db.GetContact(ctx, tx, ownerID, item.ContactID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("owner", ownerID).
		Str("queue_id", queueID.String()).
		Str("status", string(status)).
		Str("contact_status", string(out.Contact.VerificationStatus)).
		Msg("resolved verification")
	return out, nil
}

// ItemResult is the outcome of one approval inside a batch.
type ItemResult struct {
	QueueID   uuid.UUID `json:"queue_id"`
	ContactID uuid.UUID `json:"contact_id"`
	Email     string    `json:"email"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	Code      string    `json:"code,omitempty"`
}

type BatchResult struct {
	Domain   string       `json:"domain"`
	Approved int          `json:"approved"`
	Failed   int          `json:"failed"`
	Items    []ItemResult `json:"items"`
}

// BatchApproveByDomain approves every pending item whose contact belongs to
// domain. Items are approved concurrently and independently; one failure
// never stops the others.
func (s *Service) BatchApproveByDomain(ctx context.Context, ownerID, domain string) (*BatchResult, error) {
	domain = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(domain), "@")))
	if domain == "" {
		return nil, apperr.Validation("domain", "required")
	}

	entries, err := db.ListQueue(ctx, s.db, ownerID, db.QueueFilter{Status: models.QueuePending, Domain: domain})
	if err != nil {
		return nil, err
	}

	results := make([]ItemResult, len(entries))
	var g errgroup.Group
	g.SetLimit(s.batchConcurrency)

	for i, entry := range entries {
		g.Go(func() error {
			res := ItemResult{QueueID: entry.ID, ContactID: entry.ContactID, Email: entry.Email}
			if _, err := s.Approve(ctx, ownerID, entry.ID, entry.ContactID); err != nil {
				res.Error = err.Error()
				res.Code = apperr.Code(err)
			} else {
				res.OK = true
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	out := &BatchResult{Domain: domain, Items: results}
	for _, r := range results {
		if r.OK {
			out.Approved++
		} else {
			out.Failed++
		}
	}

	s.log.Info().
		Str("owner", ownerID).
		Str("domain", domain).
		Int("approved", out.Approved).
		Int("failed", out.Failed).
		Msg("batch approved domain")
	return out, nil
}
