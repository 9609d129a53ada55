// internal/models/preferences.go
package models

import "time"

// QuietHours suppresses non-critical notifications between Start and End
// (hours 0-23). A wrap-around window like 22..7 is supported.
type QuietHours struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether now falls inside the window. Start == End means
// the window is empty, not all-day.
func (q QuietHours) Contains(now time.Time) bool {
	h := now.Hour()
	if q.Start == q.End {
		return false
	}
	if q.Start < q.End {
		return h >= q.Start && h < q.End
	}
	return h >= q.Start || h < q.End
}

// UserPreferences holds per-user delivery governance settings.
// If a type appears in both the allow-set and the deny-set, deny wins.
type UserPreferences struct {
	UserID            string                            `json:"userId"`
	Email             string                            `json:"email"`
	EnabledTypes      []NotificationType                `json:"enabledTypes,omitempty"`
	DisabledTypes     []NotificationType                `json:"disabledTypes,omitempty"`
	PriorityThreshold Priority                          `json:"priorityThreshold"`
	ThrottleRules     map[NotificationType]ThrottleRule `json:"throttleRules,omitempty"`
	QuietHours        *QuietHours                       `json:"quietHours,omitempty"`
	CreatedAt         time.Time                         `json:"createdAt"`
	UpdatedAt         time.Time                         `json:"updatedAt"`
}

// DefaultPreferences is the record assumed for users without one: every
// type enabled, lowest threshold, no quiet hours. Unregistered users are
// never silently starved of alerts.
func DefaultPreferences(userID string) *UserPreferences {
	return &UserPreferences{
		UserID:            userID,
		PriorityThreshold: PriorityLow,
	}
}

// ThrottleRuleFor returns the rule configured for the type, or NoThrottle.
func (p *UserPreferences) ThrottleRuleFor(typ NotificationType) ThrottleRule {
	if rule, ok := p.ThrottleRules[typ]; ok {
		return rule
	}
	return NoThrottle
}

// ShouldReceive decides whether a notification of the given type and
// priority is admitted for this user at the given instant. Pure: identical
// inputs always yield identical output.
func (p *UserPreferences) ShouldReceive(typ NotificationType, priority Priority, now time.Time) bool {
	if priority == PriorityCritical {
		return true
	}
	if priority < p.PriorityThreshold {
		return false
	}
	for _, t := range p.DisabledTypes {
		if t == typ {
			return false
		}
	}
	if len(p.EnabledTypes) > 0 {
		enabled := false
		for _, t := range p.EnabledTypes {
			if t == typ {
				enabled = true
				break
			}
		}
		if !enabled {
			return false
		}
	}
	if p.QuietHours != nil && p.QuietHours.Contains(now) {
		return false
	}
	return true
}
