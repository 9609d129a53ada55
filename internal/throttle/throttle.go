// internal/throttle/throttle.go

// Package throttle implements sliding-window rate limiting for outbound
// notifications. Windows are scoped per (user, rule-kind): a user's hourly
// budget is shared across every notification type throttled hourly.
package throttle

import (
	"context"
	"time"

	"notification-engine/internal/models"
)

// Throttler answers "is this send currently allowed" against rolling
// per-user windows.
type Throttler interface {
	// CanSend reports whether a send is admitted. Critical priority and
	// NoThrottle rules always pass; stale window entries are purged lazily
	// before counting.
	CanSend(ctx context.Context, userID string, rule models.ThrottleRule, priority models.Priority, now time.Time) (bool, error)
	// Record appends a send timestamp to the (user, rule-kind) window.
	Record(ctx context.Context, userID string, rule models.ThrottleRule, at time.Time) error
	// Status reports window usage per rule kind the user has triggered.
	Status(ctx context.Context, userID string, now time.Time) (map[models.ThrottleKind]models.ThrottleStatus, error)
}

// bypass is the shared admission shortcut for both backends.
func bypass(rule models.ThrottleRule, priority models.Priority) bool {
	return priority == models.PriorityCritical || rule.Unlimited()
}

func windowFor(kind models.ThrottleKind) time.Duration {
	return models.ThrottleRule{Kind: kind}.Window()
}
