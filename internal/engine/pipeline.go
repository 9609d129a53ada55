// internal/engine/pipeline.go
package engine

import (
	"context"
	"fmt"
	"time"

	"notification-engine/internal/channel"
	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/metrics"
	"notification-engine/internal/models"

	"github.com/google/uuid"
)

// deliver runs the full delivery pipeline for one notification: pre-send
// filters, recipient resolution, per-recipient preference and throttle
// checks, channel dispatch, history, post-send hooks.
//
// The returned error is reserved for infrastructure failure (storage,
// throttle backend); governance outcomes — filter rejection, everyone
// filtered, individual channel failures — land in the result instead, so
// the scheduler can tell "retry me" apart from "this is the answer".
func (e *Engine) deliver(ctx context.Context, id string, o *Outbound) (*models.DeliveryResult, error) {
	now := e.now()
	start := now
	defer func() {
		metrics.DeliveryDuration.WithLabelValues(o.Type.String()).Observe(time.Since(start).Seconds())
	}()

	result := &models.DeliveryResult{}

	// Filters gate the entire send. Errors and panics abort too: a filter
	// that cannot answer must not be treated as a yes.
	if rejected, name := e.runFilters(ctx, o); rejected {
		rej := errors.NewFilterRejectedError(name)
		result.Rejected = true
		result.Message = fmt.Sprintf("%s (%s)", rej.Message, rej.Details)
		metrics.NotificationsFiltered.WithLabelValues(o.Type.String(), "filter").Inc()
		e.log.WithError(rej).Info("notification rejected by pre-send filter", map[string]interface{}{
			"notification_id": id,
			"type":            o.Type.String(),
		})
		return result, nil
	}

	candidates, err := e.store.ListPreferences(ctx)
	if err != nil {
		return nil, errors.NewPersistenceError("list preferences", err)
	}

	var sentTo []string
	for _, prefs := range candidates {
		if !prefs.ShouldReceive(o.Type, o.Priority, now) {
			result.FilteredCount++
			metrics.NotificationsFiltered.WithLabelValues(o.Type.String(), "preferences").Inc()
			continue
		}

		rule := e.effectiveRule(prefs, o.Type)
		allowed, err := e.throttler.CanSend(ctx, prefs.UserID, rule, o.Priority, now)
		if err != nil {
			// Backend down: skip this recipient rather than abort the batch.
			result.FilteredCount++
			result.Errors = append(result.Errors, errors.NewThrottleStoreError(err).Error())
			e.log.WithError(err).Error("throttle check failed", map[string]interface{}{"user_id": prefs.UserID})
			continue
		}
		if !allowed {
			result.FilteredCount++
			metrics.NotificationsFiltered.WithLabelValues(o.Type.String(), "throttled").Inc()
			continue
		}

		recipient := prefs.Email
		if recipient == "" {
			recipient = prefs.UserID
		}
		msg := channel.Message{
			Recipient:    recipient,
			Subject:      o.Subject,
			TemplateName: o.TemplateName,
			Context:      o.Context,
		}
		if err := e.channel.Send(ctx, msg); err != nil {
			// One recipient failing never aborts the rest. The failed
			// dispatch lands in filtered_count so sent + filtered still
			// accounts for every candidate.
			result.FilteredCount++
			result.Errors = append(result.Errors, errors.NewDeliveryError(recipient, err).Error())
			metrics.NotificationsFailed.WithLabelValues(o.Type.String()).Inc()
			e.log.WithError(err).Error("channel send failed", map[string]interface{}{
				"notification_id": id,
				"recipient":       recipient,
				"channel":         e.channel.Name(),
			})
			continue
		}

		result.SentCount++
		sentTo = append(sentTo, prefs.UserID)
		metrics.NotificationsSent.WithLabelValues(o.Type.String()).Inc()
		if err := e.throttler.Record(ctx, prefs.UserID, rule, now); err != nil {
			e.log.Warn("failed to record throttle entry", map[string]interface{}{
				"user_id": prefs.UserID,
				"error":   err.Error(),
			})
		}
	}

	// History covers actual dispatch activity; a run where everyone was
	// filtered out leaves no entry.
	if result.SentCount > 0 || len(result.Errors) > 0 {
		entry := &models.HistoryEntry{
			ID:         uuid.New().String(),
			Type:       o.Type,
			Subject:    o.Subject,
			Recipients: sentTo,
			SentAt:     now,
			Priority:   o.Priority,
			Success:    len(result.Errors) == 0,
		}
		if len(result.Errors) > 0 {
			entry.Error = result.Errors[0]
		}
		if err := e.store.AppendHistory(ctx, entry); err != nil {
			return nil, errors.NewPersistenceError("append history", err)
		}
	}

	result.Success = len(result.Errors) == 0
	result.Message = fmt.Sprintf("sent %d, filtered %d of %d candidates",
		result.SentCount, result.FilteredCount, len(candidates))

	e.runHooks(ctx, id, o.Type, sentTo)

	return result, nil
}

// runFilters evaluates registered filters in order. The first rejection,
// error or panic wins; its filter name is returned for the result message.
func (e *Engine) runFilters(ctx context.Context, o *Outbound) (rejected bool, name string) {
	e.mu.RLock()
	filters := make([]PreSendFilter, len(e.filters))
	copy(filters, e.filters)
	e.mu.RUnlock()

	for _, f := range filters {
		ok, err := e.evalFilter(ctx, f, o)
		if err != nil {
			e.log.WithError(err).Error("pre-send filter failed", map[string]interface{}{"filter": f.Name()})
			return true, f.Name()
		}
		if !ok {
			return true, f.Name()
		}
	}
	return false, ""
}

func (e *Engine) evalFilter(ctx context.Context, f PreSendFilter, o *Outbound) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = errors.NewFilterPanicError(f.Name(), r)
		}
	}()
	return f.Evaluate(ctx, o)
}

// runHooks fires post-send hooks fail-open: each gets a bounded time
// budget, and errors and panics are logged, never propagated.
func (e *Engine) runHooks(ctx context.Context, id string, typ models.NotificationType, recipients []string) {
	e.mu.RLock()
	hooks := make([]PostSendHook, len(e.hooks))
	copy(hooks, e.hooks)
	e.mu.RUnlock()

	for _, h := range hooks {
		hookCtx, cancel := context.WithTimeout(ctx, e.hookTimeout)
		done := make(chan error, 1)
		go func(h PostSendHook) {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("hook panicked: %v", r)
				}
			}()
			done <- h.Run(hookCtx, id, typ, recipients)
		}(h)

		select {
		case err := <-done:
			if err != nil {
				e.log.Warn("post-send hook failed", map[string]interface{}{
					"hook":  h.Name(),
					"error": err.Error(),
				})
			}
		case <-hookCtx.Done():
			e.log.Warn("post-send hook timed out", map[string]interface{}{
				"hook":    h.Name(),
				"timeout": e.hookTimeout.String(),
			})
		}
		cancel()
	}
}

// effectiveRule fills in the configured default cap when a user rule names
// a window kind without a max.
func (e *Engine) effectiveRule(prefs *models.UserPreferences, typ models.NotificationType) models.ThrottleRule {
	rule := prefs.ThrottleRuleFor(typ)
	if rule.Unlimited() || rule.Max > 0 {
		return rule
	}
	switch rule.Kind {
	case models.ThrottleHourly:
		rule.Max = e.throttleDefaults.HourlyMax
	case models.ThrottleDaily:
		rule.Max = e.throttleDefaults.DailyMax
	case models.ThrottleWeekly:
		rule.Max = e.throttleDefaults.WeeklyMax
	}
	return rule
}
