// internal/engine/scheduler.go
package engine

import (
	"context"
	"sync"
	"time"

	"notification-engine/internal/common/config"
	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/common/metrics"
	"notification-engine/internal/models"
	"notification-engine/internal/storage"

	"github.com/google/uuid"
)

// scheduler is the single background worker that claims due notifications
// and pushes them through the delivery pipeline. Claiming is atomic at the
// store level, so several processes can run a scheduler against the same
// database without double-sending.
type scheduler struct {
	cfg     config.SchedulerConfig
	store   storage.Store
	deliver func(ctx context.Context, n *models.ScheduledNotification) (*models.DeliveryResult, error)
	log     logger.Logger
	now     func() time.Time

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func newScheduler(
	cfg config.SchedulerConfig,
	store storage.Store,
	deliver func(ctx context.Context, n *models.ScheduledNotification) (*models.DeliveryResult, error),
	log logger.Logger,
	now func() time.Time,
) *scheduler {
	return &scheduler{
		cfg:     cfg,
		store:   store,
		deliver: deliver,
		log:     log,
		now:     now,
	}
}

// Start launches the poll loop. Idempotent: starting a running scheduler
// is a no-op.
func (s *scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
	s.log.Info("scheduler started", map[string]interface{}{
		"poll_interval": s.cfg.PollInterval.String(),
		"batch_size":    s.cfg.BatchSize,
	})
}

// Stop signals the loop and waits up to StopTimeout for the in-flight poll
// batch to finish. Idempotent. On timeout the loop is left to drain on its
// own; delivery is never force-killed mid-send.
func (s *scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		s.log.Info("scheduler stopped", nil)
		return nil
	case <-time.After(s.cfg.StopTimeout):
		s.log.Warn("scheduler stop timed out, batch still draining", map[string]interface{}{
			"waited": s.cfg.StopTimeout.String(),
		})
		return errors.NewSchedulerStopTimeoutError(s.cfg.StopTimeout)
	}
}

func (s *scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	// Immediate first poll so a freshly started scheduler does not sit idle
	// for a full interval with due work waiting.
	s.pollOnce()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.pollOnce()
		}
	}
}

// pollOnce claims one batch of due entries and processes them in order.
func (s *scheduler) pollOnce() {
	ctx := context.Background()
	now := s.now()
	metrics.SchedulerPolls.Inc()

	batch, err := s.store.ClaimDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		metrics.SchedulerPollErrors.Inc()
		s.log.WithError(err).Error("scheduler poll failed", nil)
		return
	}

	for _, n := range batch {
		s.process(ctx, n, now)
	}

	if _, pending, err := s.store.CountScheduled(ctx); err == nil {
		metrics.PendingNotifications.Set(float64(pending))
	}
}

// process runs one claimed entry through delivery and settles its status.
//
// Outcomes:
//   - infrastructure error, or every dispatch attempt failed: release for
//     retry with linear backoff, Failed after MaxAttempts
//   - rejected by a pre-send filter: Failed immediately, a deterministic
//     gate gives the same answer on every retry
//   - otherwise: Sent, with the next recurrence persisted atomically
func (s *scheduler) process(ctx context.Context, n *models.ScheduledNotification, now time.Time) {
	result, err := s.deliver(ctx, n)

	if err == nil && result.Rejected {
		s.log.Warn("scheduled notification rejected, marking failed", map[string]interface{}{
			"notification_id": n.ID,
			"reason":          result.Message,
		})
		if err := s.store.MarkFailed(ctx, n.ID); err != nil {
			s.log.WithError(err).Error("failed to mark notification failed", map[string]interface{}{"notification_id": n.ID})
		}
		return
	}

	retryable := err != nil ||
		(result.SentCount == 0 && len(result.Errors) > 0)
	if retryable {
		attempts := n.AttemptCount + 1
		if attempts >= s.cfg.MaxAttempts {
			s.log.WithError(err).Error("delivery exhausted retries", map[string]interface{}{
				"notification_id": n.ID,
				"attempts":        attempts,
			})
			if err := s.store.MarkFailed(ctx, n.ID); err != nil {
				s.log.WithError(err).Error("failed to mark notification failed", map[string]interface{}{"notification_id": n.ID})
			}
			return
		}
		backoff := time.Duration(attempts) * s.cfg.RetryBackoff
		s.log.Warn("delivery failed, scheduling retry", map[string]interface{}{
			"notification_id": n.ID,
			"attempt":         attempts,
			"next_attempt_in": backoff.String(),
		})
		if err := s.store.ReleaseForRetry(ctx, n.ID, attempts, now.Add(backoff)); err != nil {
			s.log.WithError(err).Error("failed to release notification for retry", map[string]interface{}{"notification_id": n.ID})
		}
		return
	}

	var next *models.ScheduledNotification
	if n.Recurring {
		next = s.nextRecurrence(n, now)
	}
	if err := s.store.MarkSent(ctx, n.ID, next); err != nil {
		s.log.WithError(err).Error("failed to mark notification sent", map[string]interface{}{"notification_id": n.ID})
		return
	}
	s.log.Info("scheduled notification delivered", map[string]interface{}{
		"notification_id": n.ID,
		"type":            n.Type.String(),
		"sent":            result.SentCount,
		"filtered":        result.FilteredCount,
	})
}

// nextRecurrence builds the follow-up entry. The next fire time advances
// from the original scheduled_at, rolled forward past now so a long outage
// does not produce a burst of immediate catch-up fires.
func (s *scheduler) nextRecurrence(n *models.ScheduledNotification, now time.Time) *models.ScheduledNotification {
	at := n.ScheduledAt
	for !at.After(now) {
		nextAt, err := nextOccurrence(n.RecurrencePattern, at)
		if err != nil {
			// Validated at schedule time, so this only fires for rows written
			// by an older build. Stop the series rather than loop forever.
			s.log.WithError(err).Error("invalid recurrence pattern on stored notification", map[string]interface{}{
				"notification_id": n.ID,
				"pattern":         n.RecurrencePattern,
			})
			return nil
		}
		at = nextAt
	}

	return &models.ScheduledNotification{
		ID:                uuid.New().String(),
		Type:              n.Type,
		Subject:           n.Subject,
		TemplateName:      n.TemplateName,
		Context:           n.Context,
		ScheduledAt:       at,
		Priority:          n.Priority,
		Recurring:         true,
		RecurrencePattern: n.RecurrencePattern,
		Status:            models.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}
