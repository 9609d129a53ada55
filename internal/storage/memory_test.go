// internal/storage/memory_test.go
package storage

import (
	"context"
	"testing"
	"time"

	"notification-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func pendingNotification(id string, scheduledAt time.Time) *models.ScheduledNotification {
	return &models.ScheduledNotification{
		ID:           id,
		Type:         models.TypeReminder,
		Subject:      "Reminder",
		TemplateName: "reminder",
		ScheduledAt:  scheduledAt,
		Priority:     models.PriorityNormal,
		Status:       models.StatusPending,
		CreatedAt:    scheduledAt,
		UpdatedAt:    scheduledAt,
	}
}

// ==========================
// Preference Tests
// ==========================

func TestMemoryStore_Preferences(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	got, err := s.GetPreferences(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, got, "unknown user yields nil, nil")

	prefs := models.DefaultPreferences("user-1")
	prefs.Email = "user-1@example.com"
	require.NoError(t, s.UpsertPreferences(ctx, prefs))

	got, err = s.GetPreferences(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "user-1@example.com", got.Email)

	// Upsert replaces.
	prefs.PriorityThreshold = models.PriorityHigh
	require.NoError(t, s.UpsertPreferences(ctx, prefs))
	got, err = s.GetPreferences(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.PriorityHigh, got.PriorityThreshold)

	count, err := s.CountPreferences(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryStore_GetPreferencesReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.UpsertPreferences(ctx, models.DefaultPreferences("user-1")))

	got, err := s.GetPreferences(ctx, "user-1")
	require.NoError(t, err)
	got.Email = "mutated@example.com"

	again, err := s.GetPreferences(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, again.Email, "callers must not reach into stored state")
}

// ==========================
// Scheduled Notification Tests
// ==========================

func TestMemoryStore_ClaimDue(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateScheduled(ctx, pendingNotification("n-late", now.Add(time.Hour))))
	require.NoError(t, s.CreateScheduled(ctx, pendingNotification("n-2", now.Add(-time.Minute))))
	require.NoError(t, s.CreateScheduled(ctx, pendingNotification("n-1", now.Add(-time.Hour))))

	due, err := s.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "n-1", due[0].ID, "oldest first")
	assert.Equal(t, "n-2", due[1].ID)

	// A second poll inside the lease sees nothing.
	due, err = s.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	// After the lease expires the entries come back.
	due, err = s.ClaimDue(ctx, now.Add(ClaimLease+time.Second), 10)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestMemoryStore_ClaimDueHonorsLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		n := pendingNotification(string(rune('a'+i)), now.Add(-time.Duration(i)*time.Minute))
		require.NoError(t, s.CreateScheduled(ctx, n))
	}

	due, err := s.ClaimDue(ctx, now, 2)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestMemoryStore_CancelScheduled(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, s.CreateScheduled(ctx, pendingNotification("n-1", now.Add(time.Hour))))

	ok, err := s.CancelScheduled(ctx, "n-1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetScheduled(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)

	// Cancelling again reports false.
	ok, err = s.CancelScheduled(ctx, "n-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CancelScheduled(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_CancelRefusesClaimedEntry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, s.CreateScheduled(ctx, pendingNotification("n-1", now.Add(-time.Minute))))
	due, err := s.ClaimDue(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)

	ok, err := s.CancelScheduled(ctx, "n-1")
	require.NoError(t, err)
	assert.False(t, ok, "in-flight entries cannot be cancelled")
}

func TestMemoryStore_MarkSentWithRecurrence(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, s.CreateScheduled(ctx, pendingNotification("n-1", now)))
	next := pendingNotification("n-2", now.Add(24*time.Hour))

	require.NoError(t, s.MarkSent(ctx, "n-1", next))

	got, err := s.GetScheduled(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, got.Status)

	got, err = s.GetScheduled(ctx, "n-2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StatusPending, got.Status)

	total, pending, err := s.CountScheduled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, pending)
}

func TestMemoryStore_ReleaseForRetry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, s.CreateScheduled(ctx, pendingNotification("n-1", now.Add(-time.Minute))))
	_, err := s.ClaimDue(ctx, now, 1)
	require.NoError(t, err)

	retryAt := now.Add(time.Minute)
	require.NoError(t, s.ReleaseForRetry(ctx, "n-1", 1, retryAt))

	got, err := s.GetScheduled(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, retryAt, got.ScheduledAt)

	// The claim is released; the entry is due again at its new time.
	due, err := s.ClaimDue(ctx, retryAt, 1)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestMemoryStore_ListScheduledByStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, s.CreateScheduled(ctx, pendingNotification("n-1", now)))
	require.NoError(t, s.CreateScheduled(ctx, pendingNotification("n-2", now.Add(time.Minute))))
	require.NoError(t, s.MarkFailed(ctx, "n-2"))

	pending := models.StatusPending
	list, err := s.ListScheduled(ctx, &pending)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "n-1", list[0].ID)

	list, err = s.ListScheduled(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

// ==========================
// History & Cleanup Tests
// ==========================

func TestMemoryStore_History(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	digest := models.TypeDigest
	require.NoError(t, s.AppendHistory(ctx, &models.HistoryEntry{
		ID: "h-1", Type: models.TypeReminder, SentAt: base, Recipients: []string{"u1"}, Success: true,
	}))
	require.NoError(t, s.AppendHistory(ctx, &models.HistoryEntry{
		ID: "h-2", Type: digest, SentAt: base.Add(time.Hour), Recipients: []string{"u1", "u2"}, Success: true,
	}))

	list, err := s.ListHistory(ctx, base, nil)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "h-2", list[0].ID, "newest first")

	list, err = s.ListHistory(ctx, base, &digest)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "h-2", list[0].ID)

	count, err := s.CountHistorySince(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	active, err := s.CountActiveRecipientsSince(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 2, active)
}

func TestMemoryStore_CleanupKeepsPending(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	old := time.Now().UTC().Add(-60 * 24 * time.Hour)

	// An ancient pending entry and an ancient terminal one.
	stale := pendingNotification("n-old-pending", old)
	require.NoError(t, s.CreateScheduled(ctx, stale))
	done := pendingNotification("n-old-done", old)
	require.NoError(t, s.CreateScheduled(ctx, done))
	require.NoError(t, s.MarkFailed(ctx, "n-old-done"))

	// Force the failed entry's UpdatedAt into the past.
	s.mu.Lock()
	s.scheduled["n-old-done"].UpdatedAt = old
	s.mu.Unlock()

	require.NoError(t, s.AppendHistory(ctx, &models.HistoryEntry{ID: "h-old", SentAt: old}))
	require.NoError(t, s.AppendHistory(ctx, &models.HistoryEntry{ID: "h-new", SentAt: time.Now().UTC()}))

	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)

	removed, err := s.PurgeHistoryBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = s.PurgeTerminalScheduledBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// Pending survives regardless of age.
	got, err := s.GetScheduled(ctx, "n-old-pending")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StatusPending, got.Status)
}
