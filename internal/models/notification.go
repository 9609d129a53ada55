// internal/models/notification.go
package models

import (
	"strings"
	"time"
)

// NotificationType is an open tag set: a handful of well-known categories
// plus free-form custom types produced by CustomType.
type NotificationType string

const (
	TypeSystemHealth    NotificationType = "system_health"
	TypeStorageCritical NotificationType = "storage_critical"
	TypeSyncCompleted   NotificationType = "sync_completed"
	TypeDigest          NotificationType = "digest"
	TypeReminder        NotificationType = "reminder"
)

const customTypePrefix = "custom:"

// CustomType builds a notification type carrying an arbitrary label.
func CustomType(label string) NotificationType {
	return NotificationType(customTypePrefix + label)
}

// IsCustom reports whether t was built via CustomType.
func (t NotificationType) IsCustom() bool {
	return strings.HasPrefix(string(t), customTypePrefix)
}

func (t NotificationType) String() string {
	return string(t)
}

// Priority is ordinal: Low < Normal < High < Critical.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "unknown"
}

// ParsePriority maps a priority name to its ordinal, defaulting to normal.
func ParsePriority(s string) Priority {
	switch strings.ToLower(s) {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// Status tracks the lifecycle of a scheduled notification.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusCancelled || s == StatusFailed
}

// ScheduledNotification is a pending or completed timeline entry owned by
// the scheduler.
type ScheduledNotification struct {
	ID                string                 `json:"id"`
	Type              NotificationType       `json:"type"`
	Subject           string                 `json:"subject"`
	TemplateName      string                 `json:"templateName"`
	Context           map[string]interface{} `json:"context,omitempty"`
	ScheduledAt       time.Time              `json:"scheduledAt"` // UTC
	Priority          Priority               `json:"priority"`
	Recurring         bool                   `json:"recurring"`
	RecurrencePattern string                 `json:"recurrencePattern,omitempty"`
	Status            Status                 `json:"status"`
	AttemptCount      int                    `json:"attemptCount"`
	CreatedAt         time.Time              `json:"createdAt"`
	UpdatedAt         time.Time              `json:"updatedAt"`
}

// HistoryEntry records one completed delivery attempt. Append-only.
type HistoryEntry struct {
	ID         string           `json:"id"`
	Type       NotificationType `json:"type"`
	Subject    string           `json:"subject"`
	Recipients []string         `json:"recipients"`
	SentAt     time.Time        `json:"sentAt"`
	Priority   Priority         `json:"priority"`
	Success    bool             `json:"success"`
	Error      string           `json:"error,omitempty"`
}

// DeliveryResult summarizes one pass through the delivery pipeline.
// SentCount + FilteredCount equals the number of resolved candidates unless
// a pre-send filter aborted the send, in which case both are zero.
type DeliveryResult struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	SentCount     int      `json:"sentCount"`
	FilteredCount int      `json:"filteredCount"`
	Rejected      bool     `json:"rejected,omitempty"` // a pre-send filter blocked the whole send
	Errors        []string `json:"errors,omitempty"`
}

// ThrottleStatus reports window usage for one rule kind.
type ThrottleStatus struct {
	RecentCount int `json:"recentCount"`
	MaxCount    int `json:"maxCount"`
	Remaining   int `json:"remaining"`
}

// CleanupCounts reports what CleanupOldData removed.
type CleanupCounts struct {
	HistoryRemoved   int `json:"historyRemoved"`
	ScheduledRemoved int `json:"scheduledRemoved"`
}

// Statistics is the aggregate snapshot returned by GetStatistics.
type Statistics struct {
	TotalUsers       int                                        `json:"totalUsers"`
	ActiveUsers      int                                        `json:"activeUsers"`
	TotalScheduled   int                                        `json:"totalScheduled"`
	PendingScheduled int                                        `json:"pendingScheduled"`
	RecentHistory    int                                        `json:"recentHistory"`
	SchedulerRunning bool                                       `json:"schedulerRunning"`
	Throttle         map[string]map[ThrottleKind]ThrottleStatus `json:"throttle,omitempty"`
}
