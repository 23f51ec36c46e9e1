// ABOUTME: Terminal dashboard statistics and rendering
// ABOUTME: Summarizes contacts, the review queue and directory sync for one owner
package viz

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/harperreed/rolodex/db"
	"github.com/harperreed/rolodex/models"
)

// RecentWindow bounds the "recently verified" section.
const RecentWindow = 7 * 24 * time.Hour

type DashboardStats struct {
	TotalContacts int
	ByStatus      map[models.VerificationStatus]int
	ByType        []db.Count

	// Review queue
	PendingReview   int
	PendingByDomain []db.Count

	// Verified in the last RecentWindow, by method
	RecentlyVerified []db.Count

	Accounts []models.SyncState

	// Needs attention
	FailedAccounts []string
	StaleAccounts  []StaleAccount
}

type StaleAccount struct {
	Account   string
	DaysSince int
}

// staleAfter marks a synced account that has not completed a sync recently.
const staleAfter = 3 * 24 * time.Hour

func GenerateDashboardStats(ctx context.Context, database *sql.DB, ownerID string, now time.Time) (*DashboardStats, error) {
	stats := &DashboardStats{ByStatus: make(map[models.VerificationStatus]int)}

	byStatus, err := db.CountContactsBy(ctx, database, ownerID, "verification_status")
	if err != nil {
		return nil, fmt.Errorf("failed to count contacts: %w", err)
	}
	for _, c := range byStatus {
		stats.ByStatus[models.VerificationStatus(c.Key)] = c.Count
		stats.TotalContacts += c.Count
	}

	if stats.ByType, err = db.CountContactsBy(ctx, database, ownerID, "source_type"); err != nil {
		return nil, fmt.Errorf("failed to count source types: %w", err)
	}

	if stats.PendingByDomain, err = db.CountPendingByDomain(ctx, database, ownerID, 5); err != nil {
		return nil, fmt.Errorf("failed to count pending items: %w", err)
	}
	if stats.PendingReview, err = db.CountQueue(ctx, database, ownerID, models.QueuePending); err != nil {
		return nil, fmt.Errorf("failed to count queue: %w", err)
	}

	if stats.RecentlyVerified, err = db.CountVerifiedSince(ctx, database, ownerID, now.Add(-RecentWindow)); err != nil {
		return nil, fmt.Errorf("failed to count verifications: %w", err)
	}

	if stats.Accounts, err = db.ListSyncStates(ctx, database, ownerID); err != nil {
		return nil, fmt.Errorf("failed to list sync states: %w", err)
	}
	for _, s := range stats.Accounts {
		switch {
		case s.SyncStatus == models.SyncFailed:
			stats.FailedAccounts = append(stats.FailedAccounts, s.AccountEmail)
		case s.SyncStatus == models.SyncCompleted:
			last := lastSync(s)
			if last != nil && now.Sub(*last) > staleAfter {
				stats.StaleAccounts = append(stats.StaleAccounts, StaleAccount{
					Account:   s.AccountEmail,
					DaysSince: int(now.Sub(*last).Hours() / 24),
				})
			}
		}
	}

	return stats, nil
}

func lastSync(s models.SyncState) *time.Time {
	last := s.LastFullSyncAt
	if s.LastIncrementalSyncAt != nil && (last == nil || s.LastIncrementalSyncAt.After(*last)) {
		last = s.LastIncrementalSyncAt
	}
	return last
}

func RenderDashboard(stats *DashboardStats) string {
	var out strings.Builder

	// Header
	out.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	out.WriteString("  ROLODEX DASHBOARD\n")
	out.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	out.WriteString("CONTACTS\n")
	renderStatuses(&out, stats)
	out.WriteString("\n")

	if len(stats.ByType) > 0 {
		out.WriteString("SOURCE TYPES\n")
		for _, c := range stats.ByType {
			key := c.Key
			if key == "" {
				key = "unclassified"
			}
			out.WriteString(fmt.Sprintf("  %-13s %3d\n", key, c.Count))
		}
		out.WriteString("\n")
	}

	out.WriteString("REVIEW QUEUE\n")
	out.WriteString(fmt.Sprintf("  📥 %d pending\n", stats.PendingReview))
	for _, c := range stats.PendingByDomain {
		out.WriteString(fmt.Sprintf("     %-24s %3d\n", c.Key, c.Count))
	}
	for _, c := range stats.RecentlyVerified {
		out.WriteString(fmt.Sprintf("  ✓ %d verified this week (%s)\n", c.Count, c.Key))
	}
	out.WriteString("\n")

	out.WriteString("DIRECTORY SYNC\n")
	if len(stats.Accounts) == 0 {
		out.WriteString("  No accounts synced yet\n")
	}
	for _, s := range stats.Accounts {
		last := "never"
		if t := lastSync(s); t != nil {
			last = t.Local().Format("2006-01-02 15:04")
		}
		out.WriteString(fmt.Sprintf("  %-28s %-12s %s\n", s.AccountEmail, s.SyncStatus, last))
	}

	// Needs attention
	if len(stats.FailedAccounts) > 0 || len(stats.StaleAccounts) > 0 {
		out.WriteString("\nNEEDS ATTENTION\n")
		for _, account := range stats.FailedAccounts {
			out.WriteString(fmt.Sprintf("  ⚠️  %s - last sync failed\n", account))
		}
		for _, s := range stats.StaleAccounts {
			out.WriteString(fmt.Sprintf("  ⚠️  %s - not synced in %d days\n", s.Account, s.DaysSince))
		}
	}

	return out.String()
}

func renderStatuses(out *strings.Builder, stats *DashboardStats) {
	statuses := []models.VerificationStatus{
		models.StatusVerified,
		models.StatusPending,
		models.StatusUnverified,
		models.StatusRejected,
	}

	// Find max count for scaling
	maxCount := 0
	for _, n := range stats.ByStatus {
		if n > maxCount {
			maxCount = n
		}
	}
	if maxCount == 0 {
		maxCount = 1
	}

	for _, status := range statuses {
		n := stats.ByStatus[status]

		// Calculate bar length (0-10 blocks)
		barLength := (n * 10) / maxCount
		bar := strings.Repeat("█", barLength) + strings.Repeat("░", 10-barLength)

		out.WriteString(fmt.Sprintf("  %-13s %s  %3d\n", status, bar, n))
	}
	out.WriteString(fmt.Sprintf("  📇 %d contacts\n", stats.TotalContacts))
}
