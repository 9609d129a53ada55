// internal/storage/memory.go
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"notification-engine/internal/models"
)

// MemoryStore is an in-process Store for embedding the engine without a
// database, and for tests. Safe for concurrent use.
type MemoryStore struct {
	mu           sync.RWMutex
	prefs        map[string]*models.UserPreferences
	scheduled    map[string]*models.ScheduledNotification
	claimedUntil map[string]time.Time
	history      []*models.HistoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prefs:        make(map[string]*models.UserPreferences),
		scheduled:    make(map[string]*models.ScheduledNotification),
		claimedUntil: make(map[string]time.Time),
	}
}

func (s *MemoryStore) UpsertPreferences(_ context.Context, prefs *models.UserPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *prefs
	s.prefs[prefs.UserID] = &cp
	return nil
}

func (s *MemoryStore) GetPreferences(_ context.Context, userID string) (*models.UserPreferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prefs[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPreferences(_ context.Context) ([]*models.UserPreferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.UserPreferences, 0, len(s.prefs))
	for _, p := range s.prefs {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) CountPreferences(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.prefs), nil
}

func (s *MemoryStore) CreateScheduled(_ context.Context, n *models.ScheduledNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.scheduled[n.ID] = &cp
	return nil
}

func (s *MemoryStore) GetScheduled(_ context.Context, id string) (*models.ScheduledNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.scheduled[id]
	if !ok {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

func (s *MemoryStore) ListScheduled(_ context.Context, status *models.Status) ([]*models.ScheduledNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ScheduledNotification, 0, len(s.scheduled))
	for _, n := range s.scheduled {
		if status != nil && n.Status != *status {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (s *MemoryStore) CancelScheduled(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.scheduled[id]
	if !ok || n.Status != models.StatusPending {
		return false, nil
	}
	// Entries already claimed by the poll loop are in flight and can no
	// longer be cancelled.
	if until, claimed := s.claimedUntil[id]; claimed && until.After(time.Now()) {
		return false, nil
	}
	n.Status = models.StatusCancelled
	n.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]*models.ScheduledNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*models.ScheduledNotification, 0)
	for _, n := range s.scheduled {
		if n.Status != models.StatusPending || n.ScheduledAt.After(now) {
			continue
		}
		if until, claimed := s.claimedUntil[n.ID]; claimed && until.After(now) {
			continue
		}
		due = append(due, n)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*models.ScheduledNotification, 0, len(due))
	for _, n := range due {
		s.claimedUntil[n.ID] = now.Add(ClaimLease)
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) MarkSent(_ context.Context, id string, next *models.ScheduledNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.scheduled[id]; ok {
		n.Status = models.StatusSent
		n.UpdatedAt = time.Now().UTC()
	}
	delete(s.claimedUntil, id)
	if next != nil {
		cp := *next
		s.scheduled[next.ID] = &cp
	}
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.scheduled[id]; ok {
		n.Status = models.StatusFailed
		n.UpdatedAt = time.Now().UTC()
	}
	delete(s.claimedUntil, id)
	return nil
}

func (s *MemoryStore) ReleaseForRetry(_ context.Context, id string, attempts int, nextAttempt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.scheduled[id]; ok {
		n.AttemptCount = attempts
		n.ScheduledAt = nextAttempt
		n.UpdatedAt = time.Now().UTC()
	}
	delete(s.claimedUntil, id)
	return nil
}

func (s *MemoryStore) CountScheduled(_ context.Context) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pending := 0
	for _, n := range s.scheduled {
		if n.Status == models.StatusPending {
			pending++
		}
	}
	return len(s.scheduled), pending, nil
}

func (s *MemoryStore) AppendHistory(_ context.Context, e *models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	cp.Recipients = append([]string(nil), e.Recipients...)
	s.history = append(s.history, &cp)
	return nil
}

func (s *MemoryStore) ListHistory(_ context.Context, since time.Time, typ *models.NotificationType) ([]*models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.HistoryEntry, 0)
	for _, e := range s.history {
		if e.SentAt.Before(since) {
			continue
		}
		if typ != nil && e.Type != *typ {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	return out, nil
}

func (s *MemoryStore) CountHistorySince(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, e := range s.history {
		if !e.SentAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CountActiveRecipientsSince(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, e := range s.history {
		if e.SentAt.Before(since) {
			continue
		}
		for _, r := range e.Recipients {
			seen[r] = struct{}{}
		}
	}
	return len(seen), nil
}

func (s *MemoryStore) PurgeHistoryBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.history[:0]
	removed := 0
	for _, e := range s.history {
		if e.SentAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.history = kept
	return removed, nil
}

func (s *MemoryStore) PurgeTerminalScheduledBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, n := range s.scheduled {
		if n.Status.IsTerminal() && n.UpdatedAt.Before(cutoff) {
			delete(s.scheduled, id)
			delete(s.claimedUntil, id)
			removed++
		}
	}
	return removed, nil
}
