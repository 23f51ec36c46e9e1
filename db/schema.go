// ABOUTME: Database schema definitions
// ABOUTME: Creates contact, source, occurrence, sync and verification queue tables
package db

import (
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS contacts (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	email TEXT NOT NULL,
	display_name TEXT,
	organization TEXT,
	domain TEXT NOT NULL,
	phone_numbers TEXT NOT NULL DEFAULT '[]',
	addresses TEXT NOT NULL DEFAULT '[]',
	tags TEXT NOT NULL DEFAULT '[]',
	source_type TEXT CHECK(source_type IS NULL OR source_type IN ('coach', 'teacher', 'school_admin', 'team', 'club', 'therapist', 'medical', 'vendor', 'other')),
	verification_status TEXT NOT NULL DEFAULT 'unverified' CHECK(verification_status IN ('unverified', 'pending', 'verified', 'rejected')),
	verification_method TEXT,
	verified_at DATETIME,
	verified_by TEXT,
	confidence_score REAL NOT NULL DEFAULT 0 CHECK(confidence_score >= 0 AND confidence_score <= 1),
	email_count INTEGER NOT NULL DEFAULT 0 CHECK(email_count >= 0),
	first_seen DATETIME NOT NULL,
	last_seen DATETIME NOT NULL,
	linked_calendar_events TEXT NOT NULL DEFAULT '[]',
	linked_family_members TEXT NOT NULL DEFAULT '[]',
	extraction_metadata TEXT,
	notes TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(owner_id, email)
);

CREATE INDEX IF NOT EXISTS idx_contacts_owner_domain ON contacts(owner_id, domain);
CREATE INDEX IF NOT EXISTS idx_contacts_owner_status ON contacts(owner_id, verification_status);

CREATE TABLE IF NOT EXISTS contact_occurrences (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	occurrence_id TEXT NOT NULL,
	contact_id TEXT NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
	subject TEXT,
	observed_at DATETIME NOT NULL,
	UNIQUE(owner_id, occurrence_id, contact_id)
);

CREATE INDEX IF NOT EXISTS idx_occurrences_contact ON contact_occurrences(contact_id, observed_at);

CREATE TABLE IF NOT EXISTS contact_sources (
	id TEXT PRIMARY KEY,
	contact_id TEXT NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
	owner_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	external_id TEXT NOT NULL,
	external_resource_name TEXT NOT NULL,
	account_email TEXT NOT NULL,
	etag TEXT,
	sync_direction TEXT NOT NULL DEFAULT 'import' CHECK(sync_direction IN ('import', 'export', 'bidirectional')),
	metadata TEXT,
	last_synced_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(external_resource_name, account_email, provider)
);

CREATE INDEX IF NOT EXISTS idx_sources_contact ON contact_sources(contact_id);
CREATE INDEX IF NOT EXISTS idx_sources_account ON contact_sources(owner_id, account_email, provider);

CREATE TABLE IF NOT EXISTS sync_state (
	owner_id TEXT NOT NULL,
	account_email TEXT NOT NULL,
	provider TEXT NOT NULL,
	sync_token TEXT,
	last_full_sync_at DATETIME,
	last_incremental_sync_at DATETIME,
	sync_status TEXT NOT NULL DEFAULT 'never_synced' CHECK(sync_status IN ('never_synced', 'syncing', 'completed', 'failed')),
	error_message TEXT,
	lease_holder TEXT,
	lease_expires_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY(owner_id, account_email, provider)
);

CREATE TABLE IF NOT EXISTS sync_history (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	account_email TEXT NOT NULL,
	provider TEXT NOT NULL,
	run_id TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	mode TEXT,
	error_message TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_history_account ON sync_history(owner_id, account_email, provider, created_at);

CREATE TABLE IF NOT EXISTS verification_queue (
	id TEXT PRIMARY KEY,
	contact_id TEXT NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
	owner_id TEXT NOT NULL,
	suggested_type TEXT,
	suggested_tags TEXT NOT NULL DEFAULT '[]',
	reasoning TEXT,
	confidence REAL CHECK(confidence IS NULL OR (confidence >= 0 AND confidence <= 1)),
	sample_email_ids TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'approved', 'rejected', 'modified')),
	user_action_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_one_pending ON verification_queue(contact_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_queue_owner_status ON verification_queue(owner_id, status, created_at);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
