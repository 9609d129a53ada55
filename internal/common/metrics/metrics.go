// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of notifications delivered per type",
		},
		[]string{"type"},
	)

	NotificationsFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_filtered_total",
			Help: "Total number of recipient deliveries suppressed by preferences or throttling",
		},
		[]string{"type", "reason"},
	)

	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Total number of channel send failures per type",
		},
		[]string{"type"},
	)

	SchedulerPolls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_polls_total",
			Help: "Total number of scheduler poll iterations",
		},
	)

	SchedulerPollErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_poll_errors_total",
			Help: "Total number of poll iterations that failed against storage",
		},
	)

	PendingNotifications = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifications_pending",
			Help: "Number of scheduled notifications currently pending",
		},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "notification_delivery_duration_seconds",
			Help: "Duration of one pipeline pass in seconds",
		},
		[]string{"type"},
	)
)
