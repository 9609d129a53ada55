// internal/engine/pipeline_test.go
package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"notification-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Recipient Governance Tests
// ==========================

func TestDeliver_PreferencesGovernRecipients(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.addUser(t, "user-allowed", nil)
	te.addUser(t, "user-disabled", func(p *models.UserPreferences) {
		p.DisabledTypes = []models.NotificationType{models.TypeDigest}
	})
	te.addUser(t, "user-quiet", func(p *models.UserPreferences) {
		p.QuietHours = &models.QuietHours{Start: 9, End: 17} // clock is at 12:00
	})

	result, err := te.SendImmediateNotification(ctx, &Outbound{
		Type:     models.TypeDigest,
		Subject:  "Daily digest",
		Priority: models.PriorityNormal,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.SentCount)
	assert.Equal(t, 2, result.FilteredCount)
	assert.Equal(t, []string{"user-allowed"}, te.channel.recipients())

	// Sent plus filtered always accounts for every candidate.
	assert.Equal(t, 3, result.SentCount+result.FilteredCount)
}

func TestDeliver_CriticalReachesEveryone(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.addUser(t, "user-disabled", func(p *models.UserPreferences) {
		p.DisabledTypes = []models.NotificationType{models.TypeStorageCritical}
	})
	te.addUser(t, "user-quiet", func(p *models.UserPreferences) {
		p.QuietHours = &models.QuietHours{Start: 0, End: 23}
	})
	te.addUser(t, "user-throttled", func(p *models.UserPreferences) {
		p.ThrottleRules = map[models.NotificationType]models.ThrottleRule{
			models.TypeStorageCritical: models.Hourly(1),
		}
	})
	require.NoError(t, te.throttler.Record(ctx, "user-throttled", models.Hourly(1), te.clock))

	result, err := te.SendImmediateNotification(ctx, &Outbound{
		Type:     models.TypeStorageCritical,
		Subject:  "Disk almost full",
		Priority: models.PriorityCritical,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.SentCount)
	assert.Equal(t, 0, result.FilteredCount)
}

func TestDeliver_ThrottleSuppresses(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.addUser(t, "user-1", func(p *models.UserPreferences) {
		p.ThrottleRules = map[models.NotificationType]models.ThrottleRule{
			models.TypeDigest: models.Hourly(1),
		}
	})

	first, err := te.SendImmediateNotification(ctx, &Outbound{
		Type: models.TypeDigest, Subject: "one", Priority: models.PriorityNormal,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.SentCount)

	second, err := te.SendImmediateNotification(ctx, &Outbound{
		Type: models.TypeDigest, Subject: "two", Priority: models.PriorityNormal,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, second.SentCount)
	assert.Equal(t, 1, second.FilteredCount)

	// An hour later the window has rolled.
	te.clock = te.clock.Add(time.Hour + time.Second)
	third, err := te.SendImmediateNotification(ctx, &Outbound{
		Type: models.TypeDigest, Subject: "three", Priority: models.PriorityNormal,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, third.SentCount)
}

func TestDeliver_UserRuleWithoutMaxUsesConfiguredDefault(t *testing.T) {
	te := newTestEngine(t)
	te.throttleDefaults.HourlyMax = 2
	ctx := context.Background()

	te.addUser(t, "user-1", func(p *models.UserPreferences) {
		p.ThrottleRules = map[models.NotificationType]models.ThrottleRule{
			models.TypeDigest: {Kind: models.ThrottleHourly}, // no max set
		}
	})

	for i := 0; i < 2; i++ {
		result, err := te.SendImmediateNotification(ctx, &Outbound{
			Type: models.TypeDigest, Subject: "digest", Priority: models.PriorityNormal,
		})
		require.NoError(t, err)
		require.Equal(t, 1, result.SentCount)
	}

	result, err := te.SendImmediateNotification(ctx, &Outbound{
		Type: models.TypeDigest, Subject: "digest", Priority: models.PriorityNormal,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.SentCount)
}

// ==========================
// Filter Tests
// ==========================

func TestDeliver_FilterRejectionAbortsWholeSend(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.addUser(t, "user-1", nil)

	te.AddPreSendFilter(FilterFunc("veto", func(context.Context, *Outbound) (bool, error) {
		return false, nil
	}))

	result, err := te.SendImmediateNotification(ctx, &Outbound{
		Type: models.TypeDigest, Subject: "blocked", Priority: models.PriorityNormal,
	})
	require.NoError(t, err)
	assert.True(t, result.Rejected)
	assert.False(t, result.Success)
	assert.Equal(t, 0, result.SentCount)
	assert.Equal(t, 0, result.FilteredCount)
	assert.Contains(t, result.Message, "blocked by pre-send filter")
	assert.Contains(t, result.Message, "veto")
	assert.Empty(t, te.channel.recipients())

	// Aborted sends leave no history.
	list, err := te.GetNotificationHistory(ctx, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDeliver_FilterErrorFailsClosed(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.addUser(t, "user-1", nil)

	te.AddPreSendFilter(FilterFunc("broken", func(context.Context, *Outbound) (bool, error) {
		return true, errors.New("filter backend unavailable")
	}))

	result, err := te.SendImmediateNotification(ctx, &Outbound{
		Type: models.TypeDigest, Subject: "blocked", Priority: models.PriorityNormal,
	})
	require.NoError(t, err)
	assert.True(t, result.Rejected)
	assert.Empty(t, te.channel.recipients())
}

func TestDeliver_FilterPanicFailsClosed(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.addUser(t, "user-1", nil)

	te.AddPreSendFilter(FilterFunc("panicky", func(context.Context, *Outbound) (bool, error) {
		panic("boom")
	}))

	result, err := te.SendImmediateNotification(ctx, &Outbound{
		Type: models.TypeDigest, Subject: "blocked", Priority: models.PriorityNormal,
	})
	require.NoError(t, err)
	assert.True(t, result.Rejected)
	assert.Empty(t, te.channel.recipients())
}

func TestDeliver_FiltersRunInOrder(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.addUser(t, "user-1", nil)

	var order []string
	te.AddPreSendFilter(FilterFunc("first", func(context.Context, *Outbound) (bool, error) {
		order = append(order, "first")
		return true, nil
	}))
	te.AddPreSendFilter(FilterFunc("second", func(context.Context, *Outbound) (bool, error) {
		order = append(order, "second")
		return false, nil
	}))
	te.AddPreSendFilter(FilterFunc("third", func(context.Context, *Outbound) (bool, error) {
		order = append(order, "third")
		return true, nil
	}))

	result, err := te.SendImmediateNotification(ctx, &Outbound{
		Type: models.TypeDigest, Subject: "x", Priority: models.PriorityNormal,
	})
	require.NoError(t, err)
	assert.True(t, result.Rejected)
	assert.Equal(t, []string{"first", "second"}, order, "rejection short-circuits")
	assert.Contains(t, result.Message, "second")
}

func TestSubjectBlocklistFilter(t *testing.T) {
	f := &SubjectBlocklistFilter{Blocked: []string{"spam", "FREE MONEY"}}

	ok, err := f.Evaluate(context.Background(), &Outbound{Subject: "Weekly digest"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.Evaluate(context.Background(), &Outbound{Subject: "Totally not SPAM"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.Evaluate(context.Background(), &Outbound{Subject: "free money inside"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSchemaFilter(t *testing.T) {
	f, err := NewSchemaFilter(map[models.NotificationType]string{
		models.TypeReminder: `{
			"type": "object",
			"required": ["task"],
			"properties": {"task": {"type": "string"}}
		}`,
	}, "")
	require.NoError(t, err)

	ok, err := f.Evaluate(context.Background(), &Outbound{
		Type:    models.TypeReminder,
		Context: map[string]interface{}{"task": "water the plants"},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.Evaluate(context.Background(), &Outbound{
		Type:    models.TypeReminder,
		Context: map[string]interface{}{"unrelated": true},
	})
	require.NoError(t, err)
	assert.False(t, ok)

	// Types without a schema pass.
	ok, err = f.Evaluate(context.Background(), &Outbound{Type: models.TypeDigest})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = NewSchemaFilter(map[models.NotificationType]string{
		models.TypeDigest: `{"type": 42}`,
	}, "")
	assert.Error(t, err, "invalid schemas are rejected at construction")
}

// ==========================
// Channel Failure & Hook Tests
// ==========================

func TestDeliver_ChannelFailureIsIsolated(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	te.addUser(t, "user-1", nil)
	te.addUser(t, "user-2", nil)
	te.addUser(t, "user-3", nil)
	te.channel.failFor["user-2"] = errors.New("mailbox on fire")

	result, err := te.SendImmediateNotification(ctx, &Outbound{
		Type: models.TypeDigest, Subject: "digest", Priority: models.PriorityNormal,
	})
	require.NoError(t, err, "per-recipient failures are not pipeline errors")
	assert.False(t, result.Success)
	assert.Equal(t, 2, result.SentCount)
	assert.Equal(t, 1, result.FilteredCount)
	assert.Equal(t, 3, result.SentCount+result.FilteredCount,
		"every candidate is accounted for, failed dispatch included")
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "user-2")
	assert.Equal(t, []string{"user-1", "user-3"}, te.channel.recipients())

	// History records the attempt with only the successful recipients.
	list, err := te.GetNotificationHistory(ctx, 1, nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"user-1", "user-3"}, list[0].Recipients)
	assert.False(t, list[0].Success)
}

func TestDeliver_HookFailuresNeverPropagate(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.addUser(t, "user-1", nil)

	var gotRecipients []string
	te.AddPostSendHook(HookFunc("observer", func(_ context.Context, _ string, _ models.NotificationType, recipients []string) error {
		gotRecipients = recipients
		return nil
	}))
	te.AddPostSendHook(HookFunc("failing", func(context.Context, string, models.NotificationType, []string) error {
		return errors.New("audit sink down")
	}))
	te.AddPostSendHook(HookFunc("panicking", func(context.Context, string, models.NotificationType, []string) error {
		panic("boom")
	}))

	result, err := te.SendImmediateNotification(ctx, &Outbound{
		Type: models.TypeDigest, Subject: "digest", Priority: models.PriorityNormal,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.SentCount)
	assert.Equal(t, []string{"user-1"}, gotRecipients)
}

func TestDeliver_SlowHookIsBounded(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.addUser(t, "user-1", nil)

	te.AddPostSendHook(HookFunc("sleeper", func(hctx context.Context, _ string, _ models.NotificationType, _ []string) error {
		select {
		case <-hctx.Done():
			return hctx.Err()
		case <-time.After(10 * time.Second):
			return nil
		}
	}))

	start := time.Now()
	result, err := te.SendImmediateNotification(ctx, &Outbound{
		Type: models.TypeDigest, Subject: "digest", Priority: models.PriorityNormal,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Less(t, time.Since(start), 2*time.Second, "hook budget caps the wait")
}

func TestSendImmediateNotification_Validation(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	_, err := te.SendImmediateNotification(ctx, nil)
	assert.Error(t, err)

	_, err = te.SendImmediateNotification(ctx, &Outbound{Subject: "no type"})
	assert.Error(t, err)

	_, err = te.SendImmediateNotification(ctx, &Outbound{Type: models.TypeDigest})
	assert.Error(t, err)
}

func TestDeliver_NoCandidates(t *testing.T) {
	te := newTestEngine(t)

	result, err := te.SendImmediateNotification(context.Background(), &Outbound{
		Type: models.TypeDigest, Subject: "to nobody", Priority: models.PriorityNormal,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.SentCount)
	assert.Equal(t, 0, result.FilteredCount)
}
