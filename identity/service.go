// ABOUTME: Identity service: observe contacts and apply verification decisions
// ABOUTME: Classifies outside the transaction, then upserts, decides and applies atomically
package identity

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harperreed/rolodex/apperr"
	"github.com/harperreed/rolodex/classify"
	"github.com/harperreed/rolodex/db"
	"github.com/harperreed/rolodex/models"
)

const sampleOccurrenceLimit = 5

// Classifier turns an occurrence into a classification. It must not fail.
type Classifier interface {
	Classify(ctx context.Context, in classify.Input) classify.Result
}

// Options tunes a Service.
type Options struct {
	// BatchConcurrency bounds the parallel approvals of a domain batch.
	BatchConcurrency int
}

// Service owns the contact identity lifecycle for every owner.
type Service struct {
	db               *sql.DB
	classifier       Classifier
	batchConcurrency int
	log              zerolog.Logger
	now              func() time.Time
}

// NewService builds a Service over database using classifier for new occurrences.
func NewService(database *sql.DB, classifier Classifier, opts Options, log zerolog.Logger) *Service {
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 4
	}
	return &Service{
		db:               database,
		classifier:       classifier,
		batchConcurrency: opts.BatchConcurrency,
		log:              log.With().Str("component", "identity").Logger(),
		now:              time.Now,
	}
}

// Occurrence is one sighting of a sender in an inbound message.
type Occurrence struct {
	// OccurrenceID is the message id. When set, repeated observations of the
	// same sender in the same message are counted once.
	OccurrenceID  string
	DisplayName   string
	Organization  string
	PhoneNumbers  []string
	Addresses     []string
	Subject       string
	SignatureText string
	ObservedAt    time.Time
}

type ObserveResult struct {
	Contact        *models.Contact
	Action         Action
	Classification classify.Result
	Created        bool
	// Duplicate is set when this sender was already counted for the occurrence id.
	Duplicate bool
}

// ObserveContact runs classify, merge, decide and apply for one occurrence.
func (s *Service) ObserveContact(ctx context.Context, ownerID, email string, occ Occurrence) (*ObserveResult, error) {
	normalized, err := models.ValidateEmail(email)
	if err != nil {
		return nil, err
	}
	if ownerID == "" {
		return nil, apperr.Validation("owner_id", "required")
	}
	if occ.ObservedAt.IsZero() {
		occ.ObservedAt = s.now().UTC()
	}

	if occ.OccurrenceID != "" {
		seen, err := db.OccurrenceExists(ctx, s.db, ownerID, occ.OccurrenceID, normalized)
		if err != nil {
			return nil, err
		}
		if seen {
			return s.duplicate(ctx, ownerID, normalized)
		}
	}

	// The model call may be slow; keep it out of the write transaction.
	result := s.classifier.Classify(ctx, classify.Input{
		SenderAddress: normalized,
		SenderName:    occ.DisplayName,
		Subject:       occ.Subject,
		SignatureText: occ.SignatureText,
	})
	class := result.Classified()
	confidence := models.ClampConfidence(class.Confidence)

	out := &ObserveResult{Classification: result, Action: noAction}
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if occ.OccurrenceID != "" {
			seen, err := db.OccurrenceExists(ctx, tx, ownerID, occ.OccurrenceID, normalized)
			if err != nil {
				return err
			}
			if seen {
				out.Duplicate = true
				return nil
			}
		}

		contact, created, err := db.UpsertContact(ctx, tx, ownerID, normalized, db.ContactMerge{
			DisplayName:     occ.DisplayName,
			Organization:    occ.Organization,
			PhoneNumbers:    occ.PhoneNumbers,
			Addresses:       occ.Addresses,
			Tags:            class.Tags,
			SourceType:      class.SourceType,
			Confidence:      &confidence,
			Metadata:        classify.Metadata(result),
			ObservedAt:      occ.ObservedAt,
			CountOccurrence: true,
		})
		if err != nil {
			return err
		}
		out.Created = created

		if occ.OccurrenceID != "" {
			if _, err := db.ClaimOccurrence(ctx, tx, ownerID, occ.OccurrenceID, contact.ID, occ.Subject, occ.ObservedAt); err != nil {
				return err
			}
		}

		action, err := s.apply(ctx, tx, contact, Decide(*contact))
		if err != nil {
			return err
		}
		out.Action = action

		if action.Kind != ActionNone {
			contact, err = db.GetContact(ctx, tx, ownerID, contact.ID)
			if err != nil {
				return err
			}
		}
		out.Contact = contact
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Duplicate {
		return s.duplicate(ctx, ownerID, normalized)
	}

	s.log.Info().
		Str("owner", ownerID).
		Str("contact_id", out.Contact.ID.String()).
		Str("classifier", result.Kind()).
		Float64("confidence", confidence).
		Int("email_count", out.Contact.EmailCount).
		Str("action", string(out.Action.Kind)).
		Msg("observed contact")

	return out, nil
}

func (s *Service) duplicate(ctx context.Context, ownerID, email string) (*ObserveResult, error) {
	contact, err := db.GetContactByEmail(ctx, s.db, ownerID, email)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, apperr.Conflict("contact removed while its occurrence was recorded")
	}
	return &ObserveResult{Contact: contact, Action: noAction, Duplicate: true}, nil
}

// apply persists a decision. A decision that loses its precondition, such as
// a pending item that already exists, degrades to None.
func (s *Service) apply(ctx context.Context, tx *sql.Tx, contact *models.Contact, action Action) (Action, error) {
	switch action.Kind {
	case ActionVerify:
		changed, err := db.VerifyContact(ctx, tx, contact.ID, action.Method, models.VerifiedBySystem, models.StatusUnverified)
		if err != nil {
			return noAction, err
		}
		if !changed {
			return noAction, nil
		}
		return action, nil

	case ActionEnqueue:
		samples, err := db.RecentOccurrenceIDs(ctx, tx, contact.ID, sampleOccurrenceLimit)
		if err != nil {
			return noAction, err
		}
		confidence := action.Suggestion.Confidence
		inserted, err := db.EnqueueVerification(ctx, tx, &models.VerificationQueueItem{
			ContactID:      contact.ID,
			OwnerID:        contact.OwnerID,
			SuggestedType:  action.Suggestion.SourceType,
			SuggestedTags:  action.Suggestion.Tags,
			Reasoning:      action.Suggestion.Reasoning,
			Confidence:     &confidence,
			SampleEmailIDs: samples,
		})
		if err != nil {
			return noAction, err
		}
		if !inserted {
			s.log.Debug().Str("contact_id", contact.ID.String()).Msg("pending verification already exists")
			return noAction, nil
		}
		if _, err := db.SetContactStatus(ctx, tx, contact.ID, models.StatusPending, models.StatusUnverified); err != nil {
			return noAction, err
		}
		return action, nil
	}
	return noAction, nil
}

func (s *Service) GetContact(ctx context.Context, ownerID string, id uuid.UUID) (*models.Contact, error) {
	return db.GetContact(ctx, s.db, ownerID, id)
}

// FindContacts searches an owner's contacts.
func (s *Service) FindContacts(ctx context.Context, ownerID string, filter db.ContactFilter) ([]models.Contact, error) {
	return db.FindContacts(ctx, s.db, ownerID, filter)
}

// ContactSources returns the directory links of one of the owner's contacts.
func (s *Service) ContactSources(ctx context.Context, ownerID string, id uuid.UUID) ([]models.ContactSource, error) {
	if _, err := db.GetContact(ctx, s.db, ownerID, id); err != nil {
		return nil, err
	}
	return db.ListSourcesForContact(ctx, s.db, id)
}

// DeleteContact is the only way a contact is removed.
func (s *Service) DeleteContact(ctx context.Context, ownerID string, id uuid.UUID) error {
	if err := db.DeleteContact(ctx, s.db, ownerID, id); err != nil {
		return err
	}
	s.log.Info().Str("owner", ownerID).Str("contact_id", id.String()).Msg("deleted contact")
	return nil
}
