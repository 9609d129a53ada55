// internal/throttle/memory.go
package throttle

import (
	"context"
	"sync"
	"time"

	"notification-engine/internal/models"
)

// MemoryThrottler keeps windows in process memory. Locking is per user, so
// concurrent deliveries to different users do not serialize against each
// other.
type MemoryThrottler struct {
	mu    sync.RWMutex
	users map[string]*userWindows
}

type userWindows struct {
	mu      sync.Mutex
	windows map[models.ThrottleKind][]time.Time
	maxes   map[models.ThrottleKind]int
}

func NewMemoryThrottler() *MemoryThrottler {
	return &MemoryThrottler{users: make(map[string]*userWindows)}
}

func (t *MemoryThrottler) user(userID string) *userWindows {
	t.mu.RLock()
	u, ok := t.users[userID]
	t.mu.RUnlock()
	if ok {
		return u
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if u, ok = t.users[userID]; ok {
		return u
	}
	u = &userWindows{
		windows: make(map[models.ThrottleKind][]time.Time),
		maxes:   make(map[models.ThrottleKind]int),
	}
	t.users[userID] = u
	return u
}

func (t *MemoryThrottler) CanSend(_ context.Context, userID string, rule models.ThrottleRule, priority models.Priority, now time.Time) (bool, error) {
	if bypass(rule, priority) {
		return true, nil
	}

	u := t.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	u.maxes[rule.Kind] = rule.Max
	recent := purge(u.windows[rule.Kind], now.Add(-rule.Window()))
	u.windows[rule.Kind] = recent
	return len(recent) < rule.Max, nil
}

func (t *MemoryThrottler) Record(_ context.Context, userID string, rule models.ThrottleRule, at time.Time) error {
	if rule.Unlimited() {
		return nil
	}

	u := t.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	u.maxes[rule.Kind] = rule.Max
	u.windows[rule.Kind] = append(u.windows[rule.Kind], at)
	return nil
}

func (t *MemoryThrottler) Status(_ context.Context, userID string, now time.Time) (map[models.ThrottleKind]models.ThrottleStatus, error) {
	t.mu.RLock()
	u, ok := t.users[userID]
	t.mu.RUnlock()
	if !ok {
		return map[models.ThrottleKind]models.ThrottleStatus{}, nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	out := make(map[models.ThrottleKind]models.ThrottleStatus, len(u.windows))
	for kind, stamps := range u.windows {
		recent := purge(stamps, now.Add(-windowFor(kind)))
		u.windows[kind] = recent
		max := u.maxes[kind]
		remaining := max - len(recent)
		if remaining < 0 {
			remaining = 0
		}
		out[kind] = models.ThrottleStatus{
			RecentCount: len(recent),
			MaxCount:    max,
			Remaining:   remaining,
		}
	}
	return out, nil
}

// purge drops entries at or before the cutoff. Timestamps are appended in
// order, so a single scan from the front suffices.
func purge(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append([]time.Time(nil), stamps[i:]...)
}
