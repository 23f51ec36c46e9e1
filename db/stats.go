// ABOUTME: Aggregate counts over one owner's contacts and queue
// ABOUTME: Backs the terminal dashboard
package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/harperreed/rolodex/apperr"
	"github.com/harperreed/rolodex/models"
)

// Count is one bucket of a GROUP BY.
type Count struct {
	Key   string
	Count int
}

// CountContactsBy groups the owner's contacts by column. Only the columns
// listed here are accepted.
func CountContactsBy(ctx context.Context, q DBTX, ownerID, column string) ([]Count, error) {
	switch column {
	case "verification_status", "source_type", "domain":
	default:
		return nil, apperr.Validation("column", "cannot group contacts by "+column)
	}

	return collectCounts(q.QueryContext(ctx, `SELECT COALESCE(`+column+`, ''), COUNT(*) FROM contacts
		WHERE owner_id = ? GROUP BY 1 ORDER BY 2 DESC, 1`, ownerID))
}

// CountQueue counts the owner's queue items in status.
func CountQueue(ctx context.Context, q DBTX, ownerID string, status models.QueueStatus) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM verification_queue WHERE owner_id = ? AND status = ?`,
		ownerID, string(status)).Scan(&n)
	if err != nil {
		return 0, apperr.Persistence("count queue", err)
	}
	return n, nil
}

// CountPendingByDomain returns pending queue items per sender domain, largest first.
func CountPendingByDomain(ctx context.Context, q DBTX, ownerID string, limit int) ([]Count, error) {
	if limit <= 0 {
		limit = 10
	}
	return collectCounts(q.QueryContext(ctx, `SELECT c.domain, COUNT(*) FROM verification_queue q
		JOIN contacts c ON c.id = q.contact_id
		WHERE q.owner_id = ? AND q.status = 'pending'
		GROUP BY c.domain ORDER BY 2 DESC, 1 LIMIT ?`, ownerID, limit))
}

// CountVerifiedSince counts contacts verified at or after since, by method.
func CountVerifiedSince(ctx context.Context, q DBTX, ownerID string, since time.Time) ([]Count, error) {
	return collectCounts(q.QueryContext(ctx, `SELECT COALESCE(verification_method, ''), COUNT(*) FROM contacts
		WHERE owner_id = ? AND verification_status = 'verified' AND verified_at >= ?
		GROUP BY 1 ORDER BY 2 DESC, 1`, ownerID, since.UTC()))
}

func collectCounts(rows *sql.Rows, err error) ([]Count, error) {
	if err != nil {
		return nil, apperr.Persistence("count", err)
	}
	defer func() { _ = rows.Close() }()

	var counts []Count
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, apperr.Persistence("scan count", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("count", err)
	}
	return counts, nil
}
