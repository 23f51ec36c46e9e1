// ABOUTME: Data models for the contact identity book
// ABOUTME: Defines Contact, ContactSource, SyncState, VerificationQueueItem and their enums
package models

import (
	"time"

	"github.com/google/uuid"
)

// SourceType is the role a contact plays for the owner. The empty value means none.
type SourceType string

const (
	SourceNone        SourceType = ""
	SourceCoach       SourceType = "coach"
	SourceTeacher     SourceType = "teacher"
	SourceSchoolAdmin SourceType = "school_admin"
	SourceTeam        SourceType = "team"
	SourceClub        SourceType = "club"
	SourceTherapist   SourceType = "therapist"
	SourceMedical     SourceType = "medical"
	SourceVendor      SourceType = "vendor"
	SourceOther       SourceType = "other"
)

// SourceTypes lists every non-empty source type.
var SourceTypes = []SourceType{
	SourceCoach, SourceTeacher, SourceSchoolAdmin, SourceTeam, SourceClub,
	SourceTherapist, SourceMedical, SourceVendor, SourceOther,
}

func (s SourceType) Valid() bool {
	if s == SourceNone {
		return true
	}
	for _, t := range SourceTypes {
		if s == t {
			return true
		}
	}
	return false
}

type VerificationStatus string

const (
	StatusUnverified VerificationStatus = "unverified"
	StatusPending    VerificationStatus = "pending"
	StatusVerified   VerificationStatus = "verified"
	StatusRejected   VerificationStatus = "rejected"
)

func (s VerificationStatus) Valid() bool {
	switch s {
	case StatusUnverified, StatusPending, StatusVerified, StatusRejected:
		return true
	}
	return false
}

// Verification methods recorded on a contact when it becomes verified.
const (
	MethodAutoMultipleEmails = "auto_multiple_emails"
	MethodManualApproval     = "manual_approval"
	MethodManualModification = "manual_modification"
)

// VerifiedBySystem marks automatic verification.
const VerifiedBySystem = "system"

type Contact struct {
	ID                   uuid.UUID          `json:"id"`
	OwnerID              string             `json:"owner_id"`
	Email                string             `json:"email"`
	DisplayName          string             `json:"display_name,omitempty"`
	Organization         string             `json:"organization,omitempty"`
	Domain               string             `json:"domain"`
	PhoneNumbers         []string           `json:"phone_numbers,omitempty"`
	Addresses            []string           `json:"addresses,omitempty"`
	Tags                 []string           `json:"tags,omitempty"`
	SourceType           SourceType         `json:"source_type,omitempty"`
	VerificationStatus   VerificationStatus `json:"verification_status"`
	VerificationMethod   string             `json:"verification_method,omitempty"`
	VerifiedAt           *time.Time         `json:"verified_at,omitempty"`
	VerifiedBy           string             `json:"verified_by,omitempty"`
	ConfidenceScore      float64            `json:"confidence_score"`
	EmailCount           int                `json:"email_count"`
	FirstSeen            time.Time          `json:"first_seen"`
	LastSeen             time.Time          `json:"last_seen"`
	LinkedCalendarEvents []string           `json:"linked_calendar_events,omitempty"`
	LinkedFamilyMembers  []string           `json:"linked_family_members,omitempty"`
	ExtractionMetadata   map[string]any     `json:"extraction_metadata,omitempty"`
	Notes                string             `json:"notes,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

type Provider string

const ProviderGoogle Provider = "google"

type SyncDirection string

const (
	DirectionImport        SyncDirection = "import"
	DirectionExport        SyncDirection = "export"
	DirectionBidirectional SyncDirection = "bidirectional"
)

// ContactSource links a contact to a record in an external directory.
type ContactSource struct {
	ID                   uuid.UUID      `json:"id"`
	ContactID            uuid.UUID      `json:"contact_id"`
	OwnerID              string         `json:"owner_id"`
	Provider             Provider       `json:"provider"`
	ExternalID           string         `json:"external_id"`
	ExternalResourceName string         `json:"external_resource_name"`
	AccountEmail         string         `json:"account_email"`
	Etag                 string         `json:"etag,omitempty"`
	SyncDirection        SyncDirection  `json:"sync_direction"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	LastSyncedAt         *time.Time     `json:"last_synced_at,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

type SyncStatus string

const (
	SyncNeverSynced SyncStatus = "never_synced"
	SyncSyncing     SyncStatus = "syncing"
	SyncCompleted   SyncStatus = "completed"
	SyncFailed      SyncStatus = "failed"
)

// CanTransition reports whether the sync state machine allows from -> to.
func (from SyncStatus) CanTransition(to SyncStatus) bool {
	switch to {
	case SyncSyncing:
		return from == SyncNeverSynced || from == SyncCompleted || from == SyncFailed
	case SyncCompleted, SyncFailed:
		return from == SyncSyncing
	case SyncNeverSynced:
		return true
	}
	return false
}

type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)

// SyncState is the per (owner, account, provider) synchronization record.
type SyncState struct {
	OwnerID               string     `json:"owner_id"`
	AccountEmail          string     `json:"account_email"`
	Provider              Provider   `json:"provider"`
	SyncToken             *string    `json:"sync_token,omitempty"`
	LastFullSyncAt        *time.Time `json:"last_full_sync_at,omitempty"`
	LastIncrementalSyncAt *time.Time `json:"last_incremental_sync_at,omitempty"`
	SyncStatus            SyncStatus `json:"sync_status"`
	ErrorMessage          *string    `json:"error_message,omitempty"`
	LeaseHolder           *string    `json:"lease_holder,omitempty"`
	LeaseExpiresAt        *time.Time `json:"lease_expires_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// SyncTransition is one row of sync history.
type SyncTransition struct {
	ID           uuid.UUID  `json:"id"`
	OwnerID      string     `json:"owner_id"`
	AccountEmail string     `json:"account_email"`
	RunID        string     `json:"run_id"`
	FromStatus   SyncStatus `json:"from_status"`
	ToStatus     SyncStatus `json:"to_status"`
	Mode         SyncMode   `json:"mode,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type QueueStatus string

const (
	QueuePending  QueueStatus = "pending"
	QueueApproved QueueStatus = "approved"
	QueueRejected QueueStatus = "rejected"
	QueueModified QueueStatus = "modified"
)

func (s QueueStatus) Valid() bool {
	switch s {
	case QueuePending, QueueApproved, QueueRejected, QueueModified:
		return true
	}
	return false
}

type VerificationQueueItem struct {
	ID             uuid.UUID   `json:"id"`
	ContactID      uuid.UUID   `json:"contact_id"`
	OwnerID        string      `json:"owner_id"`
	SuggestedType  SourceType  `json:"suggested_type,omitempty"`
	SuggestedTags  []string    `json:"suggested_tags,omitempty"`
	Reasoning      string      `json:"reasoning,omitempty"`
	Confidence     *float64    `json:"confidence,omitempty"`
	SampleEmailIDs []string    `json:"sample_email_ids,omitempty"`
	Status         QueueStatus `json:"status"`
	UserActionAt   *time.Time  `json:"user_action_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// QueueEntry is a queue item joined with the contact it refers to.
type QueueEntry struct {
	VerificationQueueItem
	Email       string `json:"email"`
	Domain      string `json:"domain"`
	DisplayName string `json:"display_name,omitempty"`
}
