package model

import "time"

// EventStatus is the ingestion lifecycle state of an event.
type EventStatus string

const (
	EventStatusReceived   EventStatus = "received"
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusResolved   EventStatus = "resolved"
	EventStatusClosed     EventStatus = "closed"
	EventStatusShield     EventStatus = "shield"
)

// Event is one observed occurrence from a monitored source. Severity levels
// are inverted integers: the lower the number, the more severe the event.
type Event struct {
	EventID      string            `json:"event_id"`
	ReceivedAt   time.Time         `json:"received_at"`
	Level        int               `json:"level"`
	ResourceID   string            `json:"resource_id"`
	ResourceType string            `json:"resource_type"`
	ResourceName string            `json:"resource_name"`
	Item         string            `json:"item"`
	SourceID     string            `json:"source_id"`
	SourceName   string            `json:"source_name"`
	Status       EventStatus       `json:"status"`
	Value        *float64          `json:"value,omitempty"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	RuleID       string            `json:"rule_id,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`

	// Fingerprint is derived at query time, not stored with the event.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// EventBatch is the candidate event set for one rule evaluation.
type EventBatch struct {
	Events []Event
}

// Empty reports whether the batch has no events. Callers treat an empty
// batch as "nothing to do", never as a failure.
func (b EventBatch) Empty() bool { return len(b.Events) == 0 }

func (b EventBatch) Len() int { return len(b.Events) }
