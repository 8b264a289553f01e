package model

import "time"

// AlertStatus is the incident lifecycle state of an alert.
type AlertStatus string

const (
	AlertStatusUnassigned AlertStatus = "unassigned"
	AlertStatusPending    AlertStatus = "pending"
	AlertStatusProcessing AlertStatus = "processing"
	AlertStatusResolved   AlertStatus = "resolved"
	AlertStatusClosed     AlertStatus = "closed"
)

// ActiveAlertStatuses is the set of statuses considered "active". The core
// guarantees at most one active alert per fingerprint.
var ActiveAlertStatuses = []AlertStatus{
	AlertStatusUnassigned,
	AlertStatusPending,
	AlertStatusProcessing,
}

// Alert is the durable entity representing an ongoing or closed incident.
type Alert struct {
	AlertID        string      `json:"alert_id"`
	Fingerprint    string      `json:"fingerprint"`
	Level          int         `json:"level"`
	Title          string      `json:"title"`
	Content        string      `json:"content"`
	Item           string      `json:"item"`
	ResourceID     string      `json:"resource_id"`
	ResourceName   string      `json:"resource_name"`
	ResourceType   string      `json:"resource_type"`
	SourceName     string      `json:"source_name"`
	Status         AlertStatus `json:"status"`
	FirstEventTime time.Time   `json:"first_event_time"`
	LastEventTime  time.Time   `json:"last_event_time"`
	RuleID         string      `json:"rule_id"`
	EventIDs       []string    `json:"event_ids,omitempty"`
}

// MergeLevel merges an existing level with a newly aggregated one. Severity
// is inverted (lower number = more severe), and merging only relaxes
// severity, so the numerically larger level wins.
func MergeLevel(existing, incoming int) int {
	if incoming > existing {
		return incoming
	}
	return existing
}
