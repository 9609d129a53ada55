// internal/engine/engine.go

// Package engine ties preferences, throttling, storage, channels and the
// scheduler together behind one facade.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"notification-engine/internal/channel"
	"notification-engine/internal/common/config"
	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/models"
	"notification-engine/internal/storage"
	"notification-engine/internal/throttle"

	"github.com/google/uuid"
)

// Engine is the notification scheduling and delivery governance facade.
// Safe for concurrent use.
type Engine struct {
	store            storage.Store
	throttler        throttle.Throttler
	channel          channel.Channel
	log              logger.Logger
	throttleDefaults config.ThrottleConfig
	hookTimeout      time.Duration

	mu      sync.RWMutex
	filters []PreSendFilter
	hooks   []PostSendHook

	sched *scheduler
	now   func() time.Time
}

// New wires an Engine from its collaborators. The scheduler is created but
// not started; call StartScheduler.
func New(
	cfg *config.Config,
	store storage.Store,
	throttler throttle.Throttler,
	ch channel.Channel,
	log logger.Logger,
) *Engine {
	e := &Engine{
		store:            store,
		throttler:        throttler,
		channel:          ch,
		log:              log,
		throttleDefaults: cfg.Throttle,
		hookTimeout:      cfg.Scheduler.HookTimeout,
		now:              time.Now,
	}
	e.sched = newScheduler(cfg.Scheduler, store, e.deliverScheduled, log, func() time.Time { return e.now() })
	return e
}

func (e *Engine) deliverScheduled(ctx context.Context, n *models.ScheduledNotification) (*models.DeliveryResult, error) {
	return e.deliver(ctx, n.ID, &Outbound{
		Type:         n.Type,
		Subject:      n.Subject,
		TemplateName: n.TemplateName,
		Context:      n.Context,
		Priority:     n.Priority,
	})
}

// ==========================
// Preferences
// ==========================

// AddUserPreferences validates and upserts a user's preference record.
func (e *Engine) AddUserPreferences(ctx context.Context, prefs *models.UserPreferences) error {
	if prefs == nil || prefs.UserID == "" {
		return errors.NewValidationError("user_id is required")
	}
	if q := prefs.QuietHours; q != nil {
		if q.Start < 0 || q.Start > 23 || q.End < 0 || q.End > 23 {
			return errors.NewValidationError(fmt.Sprintf("quiet hours must be 0-23, got %d..%d", q.Start, q.End))
		}
	}
	for typ, rule := range prefs.ThrottleRules {
		if !rule.Unlimited() && rule.Max < 0 {
			return errors.NewValidationError(fmt.Sprintf("throttle max for %s must be non-negative", typ))
		}
	}

	now := e.now()
	if prefs.CreatedAt.IsZero() {
		prefs.CreatedAt = now
	}
	prefs.UpdatedAt = now
	if err := e.store.UpsertPreferences(ctx, prefs); err != nil {
		return errors.NewPersistenceError("upsert preferences", err)
	}
	return nil
}

// GetUserPreferences returns the stored record, or the permissive default
// for users without one.
func (e *Engine) GetUserPreferences(ctx context.Context, userID string) (*models.UserPreferences, error) {
	if userID == "" {
		return nil, errors.NewValidationError("user_id is required")
	}
	prefs, err := e.store.GetPreferences(ctx, userID)
	if err != nil {
		return nil, errors.NewPersistenceError("get preferences", err)
	}
	if prefs == nil {
		return models.DefaultPreferences(userID), nil
	}
	return prefs, nil
}

// ShouldReceive evaluates the user's preferences against a hypothetical
// notification right now, without sending anything. Unknown users are
// evaluated against the permissive default.
func (e *Engine) ShouldReceive(ctx context.Context, userID string, typ models.NotificationType, priority models.Priority) (bool, error) {
	prefs, err := e.GetUserPreferences(ctx, userID)
	if err != nil {
		return false, err
	}
	return prefs.ShouldReceive(typ, priority, e.now()), nil
}

// ==========================
// Scheduling
// ==========================

// ScheduleRequest describes a notification to enqueue.
type ScheduleRequest struct {
	Type              models.NotificationType
	Subject           string
	TemplateName      string
	Context           map[string]interface{}
	ScheduledAt       time.Time
	Priority          models.Priority
	Recurring         bool
	RecurrencePattern string
}

// ScheduleNotification enqueues a notification and returns its id. Past
// scheduled_at values are accepted; the next poll picks them up.
func (e *Engine) ScheduleNotification(ctx context.Context, req ScheduleRequest) (string, error) {
	if req.Type == "" {
		return "", errors.NewValidationError("type is required")
	}
	if req.Subject == "" {
		return "", errors.NewValidationError("subject is required")
	}
	if req.ScheduledAt.IsZero() {
		return "", errors.NewValidationError("scheduled_at is required")
	}
	if req.Recurring {
		if err := ValidateRecurrence(req.RecurrencePattern); err != nil {
			return "", errors.NewValidationError(err.Error())
		}
	}

	now := e.now()
	n := &models.ScheduledNotification{
		ID:                uuid.New().String(),
		Type:              req.Type,
		Subject:           req.Subject,
		TemplateName:      req.TemplateName,
		Context:           req.Context,
		ScheduledAt:       req.ScheduledAt.UTC(),
		Priority:          req.Priority,
		Recurring:         req.Recurring,
		RecurrencePattern: req.RecurrencePattern,
		Status:            models.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.store.CreateScheduled(ctx, n); err != nil {
		return "", errors.NewPersistenceError("create scheduled", err)
	}
	e.log.Info("notification scheduled", map[string]interface{}{
		"notification_id": n.ID,
		"type":            n.Type.String(),
		"scheduled_at":    n.ScheduledAt,
		"recurring":       n.Recurring,
	})
	return n.ID, nil
}

// CancelScheduledNotification cancels a Pending entry. Returns false when
// the id is unknown or the entry already left Pending.
func (e *Engine) CancelScheduledNotification(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.NewValidationError("id is required")
	}
	ok, err := e.store.CancelScheduled(ctx, id)
	if err != nil {
		return false, errors.NewPersistenceError("cancel scheduled", err)
	}
	if ok {
		e.log.Info("scheduled notification cancelled", map[string]interface{}{"notification_id": id})
	}
	return ok, nil
}

// GetScheduledNotifications lists scheduled entries ordered by scheduled_at
// ascending, optionally restricted to one status.
func (e *Engine) GetScheduledNotifications(ctx context.Context, status *models.Status) ([]*models.ScheduledNotification, error) {
	list, err := e.store.ListScheduled(ctx, status)
	if err != nil {
		return nil, errors.NewPersistenceError("list scheduled", err)
	}
	return list, nil
}

// ==========================
// Delivery
// ==========================

// SendImmediateNotification runs the delivery pipeline right now, bypassing
// the scheduled queue. The returned id names the delivery for history and
// hooks.
func (e *Engine) SendImmediateNotification(ctx context.Context, o *Outbound) (*models.DeliveryResult, error) {
	if o == nil || o.Type == "" {
		return nil, errors.NewValidationError("type is required")
	}
	if o.Subject == "" {
		return nil, errors.NewValidationError("subject is required")
	}
	return e.deliver(ctx, uuid.New().String(), o)
}

// AddPreSendFilter appends a gate evaluated before every delivery, in
// registration order.
func (e *Engine) AddPreSendFilter(f PreSendFilter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filters = append(e.filters, f)
}

// AddPostSendHook appends an observer invoked after every delivery.
func (e *Engine) AddPostSendHook(h PostSendHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = append(e.hooks, h)
}

// ==========================
// History, cleanup, introspection
// ==========================

// GetNotificationHistory returns delivery history for the last N days,
// newest first, optionally restricted to one type.
func (e *Engine) GetNotificationHistory(ctx context.Context, days int, typ *models.NotificationType) ([]*models.HistoryEntry, error) {
	if days <= 0 {
		return nil, errors.NewValidationError("days must be positive")
	}
	since := e.now().AddDate(0, 0, -days)
	list, err := e.store.ListHistory(ctx, since, typ)
	if err != nil {
		return nil, errors.NewPersistenceError("list history", err)
	}
	return list, nil
}

// CleanupOldData purges history and terminal scheduled entries older than
// the cutoff. Pending entries survive regardless of age.
func (e *Engine) CleanupOldData(ctx context.Context, days int) (*models.CleanupCounts, error) {
	if days <= 0 {
		return nil, errors.NewValidationError("days must be positive")
	}
	cutoff := e.now().AddDate(0, 0, -days)

	historyRemoved, err := e.store.PurgeHistoryBefore(ctx, cutoff)
	if err != nil {
		return nil, errors.NewPersistenceError("purge history", err)
	}
	scheduledRemoved, err := e.store.PurgeTerminalScheduledBefore(ctx, cutoff)
	if err != nil {
		return nil, errors.NewPersistenceError("purge scheduled", err)
	}

	counts := &models.CleanupCounts{
		HistoryRemoved:   historyRemoved,
		ScheduledRemoved: scheduledRemoved,
	}
	e.log.Info("cleanup completed", map[string]interface{}{
		"cutoff":            cutoff,
		"history_removed":   counts.HistoryRemoved,
		"scheduled_removed": counts.ScheduledRemoved,
	})
	return counts, nil
}

// GetThrottleStatus reports the user's current window usage per rule kind.
func (e *Engine) GetThrottleStatus(ctx context.Context, userID string) (map[models.ThrottleKind]models.ThrottleStatus, error) {
	if userID == "" {
		return nil, errors.NewValidationError("user_id is required")
	}
	status, err := e.throttler.Status(ctx, userID, e.now())
	if err != nil {
		return nil, errors.NewThrottleStoreError(err)
	}
	return status, nil
}

// GetStatistics returns an aggregate snapshot: user counts, queue depth,
// recent history volume, per-user throttle usage, scheduler state.
func (e *Engine) GetStatistics(ctx context.Context) (*models.Statistics, error) {
	now := e.now()
	stats := &models.Statistics{SchedulerRunning: e.sched.Running()}

	var err error
	if stats.TotalUsers, err = e.store.CountPreferences(ctx); err != nil {
		return nil, errors.NewPersistenceError("count preferences", err)
	}
	weekAgo := now.AddDate(0, 0, -7)
	if stats.ActiveUsers, err = e.store.CountActiveRecipientsSince(ctx, weekAgo); err != nil {
		return nil, errors.NewPersistenceError("count active recipients", err)
	}
	if stats.TotalScheduled, stats.PendingScheduled, err = e.store.CountScheduled(ctx); err != nil {
		return nil, errors.NewPersistenceError("count scheduled", err)
	}
	if stats.RecentHistory, err = e.store.CountHistorySince(ctx, weekAgo); err != nil {
		return nil, errors.NewPersistenceError("count history", err)
	}

	users, err := e.store.ListPreferences(ctx)
	if err != nil {
		return nil, errors.NewPersistenceError("list preferences", err)
	}
	stats.Throttle = make(map[string]map[models.ThrottleKind]models.ThrottleStatus, len(users))
	for _, u := range users {
		status, err := e.throttler.Status(ctx, u.UserID, now)
		if err != nil {
			e.log.WithError(err).Warn("throttle status unavailable", map[string]interface{}{"user_id": u.UserID})
			continue
		}
		if len(status) > 0 {
			stats.Throttle[u.UserID] = status
		}
	}
	return stats, nil
}

// ==========================
// Scheduler control
// ==========================

func (e *Engine) StartScheduler() {
	e.sched.Start()
}

// StopScheduler stops the background worker, waiting a bounded time for
// any in-flight batch. Idempotent.
func (e *Engine) StopScheduler() error {
	return e.sched.Stop()
}

// SchedulerRunning reports whether the background worker is active.
func (e *Engine) SchedulerRunning() bool {
	return e.sched.Running()
}
