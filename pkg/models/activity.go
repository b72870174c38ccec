package models

import "time"

// ActivityCategory classifies an activity log entry.
type ActivityCategory string

const (
	ActivityConnected    ActivityCategory = "connected"
	ActivityDisconnected ActivityCategory = "disconnected"
	ActivityNewDevice    ActivityCategory = "new_device"
	ActivityStatusChange ActivityCategory = "status_change"
	ActivityError        ActivityCategory = "error"
	ActivityReconnected  ActivityCategory = "reconnected"
	ActivityRefresh      ActivityCategory = "refresh"
	ActivityExport       ActivityCategory = "export"
)

// ActivityEntry is one immutable record in the operator-facing activity log.
// Entries are never edited after append.
type ActivityEntry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Category  ActivityCategory       `json:"category"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// NotificationSeverity grades a transient operator notification.
type NotificationSeverity string

const (
	SeverityInfo    NotificationSeverity = "info"
	SeverityWarning NotificationSeverity = "warning"
	SeverityError   NotificationSeverity = "error"
)

// Notification is a transient operator-facing message pushed to connected
// dashboard clients. Unlike activity entries, notifications are not retained.
type Notification struct {
	ID        string               `json:"id"`
	Timestamp time.Time            `json:"timestamp"`
	Severity  NotificationSeverity `json:"severity"`
	Message   string               `json:"message"`
}
