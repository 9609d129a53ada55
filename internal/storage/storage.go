// internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"notification-engine/internal/models"
)

// ClaimLease is how long a claimed entry stays invisible to other pollers.
// A crashed scheduler instance releases its batch after the lease expires.
const ClaimLease = 5 * time.Minute

// Store is the durable persistence contract for preferences, scheduled
// notifications and delivery history. ClaimDue must be atomic: even when
// multiple scheduler processes share the same store, a due entry is handed
// to at most one of them.
type Store interface {
	// Preferences, keyed by user_id.
	UpsertPreferences(ctx context.Context, prefs *models.UserPreferences) error
	// GetPreferences returns nil, nil when no record exists.
	GetPreferences(ctx context.Context, userID string) (*models.UserPreferences, error)
	ListPreferences(ctx context.Context) ([]*models.UserPreferences, error)
	CountPreferences(ctx context.Context) (int, error)

	// Scheduled notifications, keyed by id, indexed by status+scheduled_at.
	CreateScheduled(ctx context.Context, n *models.ScheduledNotification) error
	// GetScheduled returns nil, nil when the id is unknown.
	GetScheduled(ctx context.Context, id string) (*models.ScheduledNotification, error)
	// ListScheduled returns entries ordered by scheduled_at ascending,
	// optionally restricted to one status.
	ListScheduled(ctx context.Context, status *models.Status) ([]*models.ScheduledNotification, error)
	// CancelScheduled flips a Pending entry to Cancelled. Returns false for
	// unknown ids and entries in any other status.
	CancelScheduled(ctx context.Context, id string) (bool, error)
	// ClaimDue atomically claims up to limit Pending entries with
	// scheduled_at <= now that are not already claimed.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledNotification, error)
	// MarkSent marks the entry Sent and, in the same atomic step, persists
	// the next recurrence when next is non-nil.
	MarkSent(ctx context.Context, id string, next *models.ScheduledNotification) error
	MarkFailed(ctx context.Context, id string) error
	// ReleaseForRetry keeps the entry Pending, records the attempt count and
	// pushes scheduled_at to nextAttempt, releasing the claim.
	ReleaseForRetry(ctx context.Context, id string, attempts int, nextAttempt time.Time) error
	CountScheduled(ctx context.Context) (total int, pending int, err error)

	// History, append-only, indexed by sent_at and type.
	AppendHistory(ctx context.Context, e *models.HistoryEntry) error
	// ListHistory returns entries with sent_at >= since, newest first,
	// optionally restricted to one type.
	ListHistory(ctx context.Context, since time.Time, typ *models.NotificationType) ([]*models.HistoryEntry, error)
	CountHistorySince(ctx context.Context, since time.Time) (int, error)
	// CountActiveRecipientsSince counts distinct recipients that appear in
	// history entries newer than since.
	CountActiveRecipientsSince(ctx context.Context, since time.Time) (int, error)

	// Cleanup. Terminal means Sent, Cancelled or Failed; Pending entries are
	// never purged regardless of age.
	PurgeHistoryBefore(ctx context.Context, cutoff time.Time) (int, error)
	PurgeTerminalScheduledBefore(ctx context.Context, cutoff time.Time) (int, error)
}
